package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/keep/internal/core/domain"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	idStyle      = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func render(cmd *cobra.Command, style lipgloss.Style, s string) string {
	if !isTerminal(cmd.OutOrStdout()) {
		return s
	}
	return style.Render(s)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// formatTags renders user tags as sorted key=value pairs.
func formatTags(tags map[string]string) string {
	user := domain.UserTags(tags)
	keys := make([]string, 0, len(user))
	for k := range user {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + user[k]
	}
	return strings.Join(pairs, " ")
}

func printDocument(cmd *cobra.Command, doc *domain.Document) {
	cmd.Println(render(cmd, idStyle, doc.ID))
	if tags := formatTags(doc.Tags); tags != "" {
		cmd.Printf("  Tags:    %s\n", tags)
	}
	if uri := doc.Tags[domain.TagSourceURI]; uri != "" {
		cmd.Printf("  Source:  %s\n", uri)
	}
	cmd.Printf("  Updated: %s\n", formatTime(doc.UpdatedAt))
	cmd.Println()
	cmd.Println(doc.Summary)
}

// documentJSON is the JSON shape of a document.
type documentJSON struct {
	ID         string            `json:"id"`
	Collection string            `json:"collection"`
	Summary    string            `json:"summary"`
	Tags       map[string]string `json:"tags,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func toDocumentJSON(doc *domain.Document) documentJSON {
	return documentJSON{
		ID:         doc.ID,
		Collection: doc.Collection,
		Summary:    doc.Summary,
		Tags:       doc.Tags,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}
