package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/keep/internal/core/domain"
)

var (
	findLimit    int
	findTags     []string
	findSince    string
	findVersions bool
	findParts    bool
)

var findCmd = &cobra.Command{
	Use:   "find [query]",
	Short: "Find documents by meaning",
	Long: `Ranks documents by similarity to the query, weighted towards recently
updated ones. Without an embedding provider the query is matched as text.
Without a query the most recently updated documents are listed.

--since accepts a date (2026-01-31), an RFC 3339 time or a duration (72h).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFind,
}

func init() {
	findCmd.Flags().IntVarP(&findLimit, "limit", "n", 10, "maximum number of results")
	findCmd.Flags().StringArrayVarP(&findTags, "tag", "t", nil, "only documents with tag key=value (repeatable)")
	findCmd.Flags().StringVar(&findSince, "since", "", "only documents updated after this time")
	findCmd.Flags().BoolVar(&findVersions, "versions", false, "also match archived versions")
	findCmd.Flags().BoolVar(&findParts, "parts", false, "also match document parts")
	rootCmd.AddCommand(findCmd)
}

func runFind(cmd *cobra.Command, args []string) error {
	keeper, err := requireKeeper()
	if err != nil {
		return err
	}

	tags, err := parseTags(findTags)
	if err != nil {
		return err
	}
	since, err := parseSince(findSince, time.Now())
	if err != nil {
		return err
	}

	req := domain.FindRequest{
		Collection:      collectionFlag,
		Tags:            tags,
		Since:           since,
		Limit:           findLimit,
		IncludeVersions: findVersions,
		IncludeParts:    findParts,
	}
	if len(args) == 1 {
		req.Query = args[0]
	}

	res, err := keeper.Find(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("find failed: %w", err)
	}

	if jsonFlag {
		return outputFindJSON(cmd, res)
	}
	return outputFindList(cmd, res)
}

type findHitJSON struct {
	Key     string            `json:"key"`
	ID      string            `json:"id"`
	Kind    string            `json:"kind"`
	Score   float64           `json:"score"`
	Summary string            `json:"summary"`
	Tags    map[string]string `json:"tags,omitempty"`
}

func outputFindJSON(cmd *cobra.Command, res *domain.FindResult) error {
	hits := make([]findHitJSON, len(res.Hits))
	for i, h := range res.Hits {
		hits[i] = findHitJSON{
			Key:     h.Key,
			ID:      h.ID,
			Kind:    h.Kind.String(),
			Score:   h.Score,
			Summary: h.Summary,
			Tags:    h.Tags,
		}
	}
	return printJSON(cmd, struct {
		Mode string        `json:"mode"`
		Hits []findHitJSON `json:"hits"`
	}{string(res.Mode), hits})
}

func outputFindList(cmd *cobra.Command, res *domain.FindResult) error {
	if len(res.Hits) == 0 {
		cmd.Println("No results found.")
		return nil
	}

	if res.Mode == domain.FindFulltext {
		cmd.Println(render(cmd, dimStyle, "(text match; no embedding provider for this collection)"))
	}
	for i, h := range res.Hits {
		// Format: [N] key (score)
		if res.Mode == domain.FindTags {
			cmd.Printf("  [%d] %s\n", i+1, render(cmd, idStyle, h.Key))
		} else {
			cmd.Printf("  [%d] %s (%.2f)\n", i+1, render(cmd, idStyle, h.Key), h.Score)
		}
		if tags := formatTags(h.Tags); tags != "" {
			cmd.Printf("      %s\n", render(cmd, dimStyle, tags))
		}
		cmd.Printf("      %s\n", firstLine(h.Summary, 100))
	}
	return nil
}

// firstLine returns the first line of s cut to limit runes.
func firstLine(s string, limit int) string {
	for i, r := range s {
		if r == '\n' {
			s = s[:i]
			break
		}
	}
	runes := []rune(s)
	if len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return s
}

// parseSince accepts a date, an RFC 3339 time or a duration back from now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --since %q: expected a date, time or duration", s)
}
