package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/keep/internal/core/domain"
)

const defaultFindLimit = 10

// PutInput is the input schema for the put tool.
type PutInput struct {
	ID         string            `json:"id,omitempty" jsonschema:"document id; derived from the content when omitted"`
	Content    string            `json:"content,omitempty" jsonschema:"text to remember"`
	URI        string            `json:"uri,omitempty" jsonschema:"file path or URL to fetch instead of content"`
	Summary    string            `json:"summary,omitempty" jsonschema:"summary to store verbatim"`
	Tags       map[string]string `json:"tags,omitempty" jsonschema:"tags to set; an empty value removes the tag"`
	Collection string            `json:"collection,omitempty" jsonschema:"collection to write into"`
}

// PutOutput is the output schema for the put tool.
type PutOutput struct {
	Document       DocumentOutput `json:"document"`
	Changed        bool           `json:"changed"`
	ContentChanged bool           `json:"content_changed"`
	Archived       int            `json:"archived_version,omitempty"`
	SummaryPending bool           `json:"summary_pending"`
}

// GetInput is the input schema for the get tool.
type GetInput struct {
	ID         string `json:"id" jsonschema:"document id"`
	Version    int    `json:"version,omitempty" jsonschema:"history offset; 0 is current, 1 the previous version"`
	Collection string `json:"collection,omitempty" jsonschema:"collection to read from"`
}

// GetOutput is the output schema for the get tool.
type GetOutput struct {
	Found    bool            `json:"found"`
	Document *DocumentOutput `json:"document,omitempty"`
	Prev     *int            `json:"prev,omitempty"`
	Next     *int            `json:"next,omitempty"`
}

// FindInput is the input schema for the find tool.
type FindInput struct {
	Query           string            `json:"query,omitempty" jsonschema:"what to look for; lists recent documents when empty"`
	Tags            map[string]string `json:"tags,omitempty" jsonschema:"only return documents carrying every tag"`
	Since           string            `json:"since,omitempty" jsonschema:"RFC 3339 time or duration such as 72h"`
	Limit           int               `json:"limit,omitempty" jsonschema:"maximum number of results (default 10)"`
	IncludeVersions bool              `json:"include_versions,omitempty" jsonschema:"also match archived versions"`
	IncludeParts    bool              `json:"include_parts,omitempty" jsonschema:"also match document parts"`
	Collection      string            `json:"collection,omitempty" jsonschema:"collection to search"`
}

// FindOutput is the output schema for the find tool.
type FindOutput struct {
	Mode    string            `json:"mode"`
	Results []FindResultEntry `json:"results"`
	Count   int               `json:"count"`
}

// FindResultEntry is a single ranked result.
type FindResultEntry struct {
	Key     string            `json:"key"`
	ID      string            `json:"id"`
	Kind    string            `json:"kind"`
	Score   float64           `json:"score"`
	Summary string            `json:"summary"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// TagInput is the input schema for the tag tool.
type TagInput struct {
	ID         string            `json:"id" jsonschema:"document id"`
	Tags       map[string]string `json:"tags" jsonschema:"tags to merge; an empty value removes the tag"`
	Collection string            `json:"collection,omitempty" jsonschema:"collection of the document"`
}

// DocumentOutput is a document as returned to clients.
type DocumentOutput struct {
	ID        string            `json:"id"`
	Summary   string            `json:"summary"`
	Tags      map[string]string `json:"tags,omitempty"`
	Version   int               `json:"version,omitempty"`
	UpdatedAt string            `json:"updated_at,omitempty"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "put",
		Description: "Remember text or the content of a file or URL, with optional tags",
	}, s.handlePut)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get",
		Description: "Read a remembered document, or one of its earlier versions",
	}, s.handleGet)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "find",
		Description: "Search memory by meaning, filtered by tags and time",
	}, s.handleFind)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "tag",
		Description: "Add, change or remove tags on a document without creating a new version",
	}, s.handleTag)
}

func (s *Server) collection(name string) string {
	if name != "" {
		return name
	}
	return s.ports.Collection
}

// handlePut handles the put tool invocation.
func (s *Server) handlePut(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input PutInput,
) (*mcp.CallToolResult, PutOutput, error) {
	res, err := s.ports.Keeper.Put(ctx, domain.PutRequest{
		Collection: s.collection(input.Collection),
		ID:         input.ID,
		Content:    input.Content,
		URI:        input.URI,
		Summary:    input.Summary,
		Tags:       input.Tags,
	})
	if err != nil {
		return nil, PutOutput{}, err
	}

	return nil, PutOutput{
		Document:       documentOutput(res.Document),
		Changed:        res.Changed,
		ContentChanged: res.ContentChanged,
		Archived:       res.ArchivedVersion,
		SummaryPending: res.SummaryPending,
	}, nil
}

// handleGet handles the get tool invocation.
func (s *Server) handleGet(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetInput,
) (*mcp.CallToolResult, GetOutput, error) {
	collection := s.collection(input.Collection)

	if input.Version == 0 {
		doc, err := s.ports.Keeper.Get(ctx, collection, input.ID)
		if err != nil || doc == nil {
			return nil, GetOutput{}, err
		}
		out := documentOutput(doc)
		return nil, GetOutput{Found: true, Document: &out}, nil
	}

	v, err := s.ports.Keeper.GetVersion(ctx, collection, input.ID, input.Version)
	if err != nil || v == nil {
		return nil, GetOutput{}, err
	}
	nav, err := s.ports.Keeper.VersionNav(ctx, collection, input.ID, input.Version)
	if err != nil {
		return nil, GetOutput{}, err
	}

	out := DocumentOutput{
		ID:        v.ID,
		Summary:   v.Summary,
		Tags:      v.Tags,
		Version:   v.Version,
		UpdatedAt: formatTime(v.CreatedAt),
	}
	return nil, GetOutput{Found: true, Document: &out, Prev: nav.Prev, Next: nav.Next}, nil
}

// handleFind handles the find tool invocation.
func (s *Server) handleFind(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input FindInput,
) (*mcp.CallToolResult, FindOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultFindLimit
	}

	since, err := parseSince(input.Since, time.Now())
	if err != nil {
		return nil, FindOutput{}, err
	}

	res, err := s.ports.Keeper.Find(ctx, domain.FindRequest{
		Collection:      s.collection(input.Collection),
		Query:           input.Query,
		Tags:            input.Tags,
		Since:           since,
		Limit:           limit,
		IncludeVersions: input.IncludeVersions,
		IncludeParts:    input.IncludeParts,
	})
	if err != nil {
		return nil, FindOutput{}, err
	}

	output := FindOutput{
		Mode:    string(res.Mode),
		Results: make([]FindResultEntry, len(res.Hits)),
		Count:   len(res.Hits),
	}
	for i, h := range res.Hits {
		output.Results[i] = FindResultEntry{
			Key:     h.Key,
			ID:      h.ID,
			Kind:    h.Kind.String(),
			Score:   h.Score,
			Summary: h.Summary,
			Tags:    domain.UserTags(h.Tags),
		}
	}

	return nil, output, nil
}

// handleTag handles the tag tool invocation.
func (s *Server) handleTag(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input TagInput,
) (*mcp.CallToolResult, DocumentOutput, error) {
	doc, err := s.ports.Keeper.Tag(ctx, s.collection(input.Collection), input.ID, input.Tags)
	if err != nil {
		return nil, DocumentOutput{}, err
	}
	if doc == nil {
		return nil, DocumentOutput{}, fmt.Errorf("document %q not found", input.ID)
	}
	return nil, documentOutput(doc), nil
}

func documentOutput(doc *domain.Document) DocumentOutput {
	if doc == nil {
		return DocumentOutput{}
	}
	return DocumentOutput{
		ID:        doc.ID,
		Summary:   doc.Summary,
		Tags:      doc.Tags,
		UpdatedAt: formatTime(doc.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// parseSince accepts an RFC 3339 timestamp, a date, or a duration back
// from now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: since %q is not a time or duration", domain.ErrInvalidInput, s)
}
