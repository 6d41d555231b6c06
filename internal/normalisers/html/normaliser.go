package html

import (
	"context"
	"html"
	"regexp"
	"strings"

	"github.com/custodia-labs/keep/internal/core/ports/driven"
	"github.com/custodia-labs/keep/internal/normalisers/plaintext"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// metaTags maps <meta name> values to the tag keys they fill.
var metaTags = map[string]string{
	"description": "description",
	"keywords":    "keywords",
	"author":      "author",
}

// Normaliser handles HTML documents.
type Normaliser struct{}

// New creates a new HTML normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// SupportedContentTypes returns the media types this normaliser handles.
func (n *Normaliser) SupportedContentTypes() []string {
	return []string{"text/html", "application/xhtml+xml"}
}

// Priority returns the selection priority.
func (n *Normaliser) Priority() int {
	return 50
}

// Normalise returns the readable text of a page with headings kept as
// Markdown, its title and its meta tags.
func (n *Normaliser) Normalise(ctx context.Context, raw []byte, uri string) (*driven.Normalised, error) {
	base, err := plaintext.New().Normalise(ctx, raw, uri)
	if err != nil {
		return nil, err
	}
	page := base.Content

	out := &driven.Normalised{
		Content: toText(page),
		Title:   title(page, uri),
		Tags:    meta(page),
	}
	if lang := langAttr.FindStringSubmatch(page); lang != nil {
		if out.Tags == nil {
			out.Tags = make(map[string]string, 1)
		}
		out.Tags["lang"] = strings.ToLower(lang[1])
	}
	return out, nil
}

var (
	titleTag   = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	langAttr   = regexp.MustCompile(`(?is)<html[^>]*\blang\s*=\s*["']?([a-zA-Z-]+)`)
	metaTag    = regexp.MustCompile(`(?is)<meta\s[^>]*>`)
	attr       = regexp.MustCompile(`(?is)\b(name|content)\s*=\s*("([^"]*)"|'([^']*)')`)
	comment    = regexp.MustCompile(`(?s)<!--.*?-->`)
	heading    = regexp.MustCompile(`(?is)<h([1-6])\b[^>]*>(.*?)</h[1-6]>`)
	listItem   = regexp.MustCompile(`(?i)<li\b[^>]*>`)
	blockBreak = regexp.MustCompile(`(?i)</?(p|div|br|hr|tr|ul|ol|li|blockquote|pre|table|section|article|header|footer|main|nav)\b[^>]*>`)
	anyTag     = regexp.MustCompile(`<[^>]+>`)
	spaces     = regexp.MustCompile(`[ \t\r\f\v]+`)

	// Elements removed with their content.
	dropped = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<head\b[^>]*>.*?</head>`),
		regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`),
		regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>`),
		regexp.MustCompile(`(?is)<noscript\b[^>]*>.*?</noscript>`),
		regexp.MustCompile(`(?is)<svg\b[^>]*>.*?</svg>`),
		regexp.MustCompile(`(?is)<template\b[^>]*>.*?</template>`),
	}
)

func title(page, uri string) string {
	if m := titleTag.FindStringSubmatch(page); m != nil {
		if t := clean(m[1]); t != "" {
			return t
		}
	}
	return plaintext.TitleFromURI(uri)
}

// meta collects the known <meta name=... content=...> pairs.
func meta(page string) map[string]string {
	var tags map[string]string
	for _, m := range metaTag.FindAllString(page, -1) {
		var name, content string
		for _, a := range attr.FindAllStringSubmatch(m, -1) {
			v := a[3] + a[4]
			switch strings.ToLower(a[1]) {
			case "name":
				name = strings.ToLower(strings.TrimSpace(v))
			case "content":
				content = clean(v)
			}
		}
		key, ok := metaTags[name]
		if !ok || content == "" {
			continue
		}
		if tags == nil {
			tags = make(map[string]string)
		}
		tags[key] = content
	}
	return tags
}

// toText reduces markup to one block per line. Headings become "# text"
// lines and list items "- text" lines.
func toText(page string) string {
	for _, re := range dropped {
		page = re.ReplaceAllString(page, "")
	}
	page = comment.ReplaceAllString(page, "")
	page = heading.ReplaceAllStringFunc(page, func(h string) string {
		m := heading.FindStringSubmatch(h)
		level := int(m[1][0] - '0')
		text := clean(anyTag.ReplaceAllString(m[2], ""))
		if text == "" {
			return "\n"
		}
		return "\n" + strings.Repeat("#", level) + " " + text + "\n"
	})
	page = listItem.ReplaceAllString(page, "\n- ")
	page = blockBreak.ReplaceAllString(page, "\n")
	page = anyTag.ReplaceAllString(page, "")
	page = html.UnescapeString(page)

	lines := strings.Split(page, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(spaces.ReplaceAllString(line, " "))
		if line == "" || line == "-" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func clean(s string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(html.UnescapeString(s), " "))
}
