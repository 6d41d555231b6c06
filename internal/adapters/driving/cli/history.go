package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/keep/internal/core/domain"
)

var (
	versionsLimit int

	moveTags    []string
	moveCurrent bool

	analyzeForce   bool
	analyzeContent string
)

var versionsCmd = &cobra.Command{
	Use:   "versions <id>",
	Short: "List earlier versions of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runVersions,
}

var revertCmd = &cobra.Command{
	Use:   "revert <id>",
	Short: "Restore the previous version of a document",
	Long: `Makes the most recent archived version current again and discards the
current state. A document without history is deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: runRevert,
}

var moveCmd = &cobra.Command{
	Use:   "move <source> <target>",
	Short: "Move versions of one document into another",
	Long: `Moves the history of source into target, oldest first. An existing target
keeps its own history and the moved states are appended after it.

--tag selects only versions carrying the tags. --current moves only the
current state and leaves the source's history behind.`,
	Args: cobra.ExactArgs(2),
	RunE: runMove,
}

var partsCmd = &cobra.Command{
	Use:   "parts <id>",
	Short: "List the parts of an analyzed document",
	Args:  cobra.ExactArgs(1),
	RunE:  runParts,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <id>",
	Short: "Split a document into parts in the background",
	Long: `Queues analysis of a document into parts, each with its own summary and
tags and each searchable with 'keep find --parts'. Documents already
analyzed in their current state are skipped unless --force is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	versionsCmd.Flags().IntVarP(&versionsLimit, "limit", "n", 0, "maximum number of versions (0 = all)")

	moveCmd.Flags().StringArrayVarP(&moveTags, "tag", "t", nil, "only move versions with tag key=value (repeatable)")
	moveCmd.Flags().BoolVar(&moveCurrent, "current", false, "only move the current state")

	analyzeCmd.Flags().BoolVarP(&analyzeForce, "force", "f", false, "analyze again even if unchanged")
	analyzeCmd.Flags().StringVar(&analyzeContent, "content", "", "text to analyze instead of the stored content")

	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(revertCmd)
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(partsCmd)
	rootCmd.AddCommand(analyzeCmd)
}

func runVersions(cmd *cobra.Command, args []string) error {
	keeper, err := requireKeeper()
	if err != nil {
		return err
	}

	versions, err := keeper.ListVersions(cmd.Context(), collectionFlag, args[0], versionsLimit)
	if err != nil {
		return fmt.Errorf("listing versions failed: %w", err)
	}
	if jsonFlag {
		return printJSON(cmd, versions)
	}
	if len(versions) == 0 {
		cmd.Printf("%s has no earlier versions.\n", args[0])
		return nil
	}

	for i := range versions {
		v := &versions[i]
		cmd.Printf("  -V %-3d v%-3d %s  %s\n", i+1, v.Version, formatTime(v.CreatedAt), firstLine(v.Summary, 60))
	}
	return nil
}

func runRevert(cmd *cobra.Command, args []string) error {
	keeper, err := requireKeeper()
	if err != nil {
		return err
	}

	exists, err := keeper.Exists(cmd.Context(), collectionFlag, args[0])
	if err != nil {
		return fmt.Errorf("revert failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("%s not found", args[0])
	}

	doc, err := keeper.Revert(cmd.Context(), collectionFlag, args[0])
	if err != nil {
		return fmt.Errorf("revert failed: %w", err)
	}
	if doc == nil {
		cmd.Printf("%s had no earlier version and was deleted\n", args[0])
		return nil
	}
	cmd.Printf("%s reverted\n", doc.ID)
	return nil
}

func runMove(cmd *cobra.Command, args []string) error {
	keeper, err := requireKeeper()
	if err != nil {
		return err
	}

	tags, err := parseTags(moveTags)
	if err != nil {
		return err
	}

	res, err := keeper.Move(cmd.Context(), domain.MoveRequest{
		Collection:  collectionFlag,
		Source:      args[0],
		Target:      args[1],
		Tags:        tags,
		OnlyCurrent: moveCurrent,
	})
	if err != nil {
		return fmt.Errorf("move failed: %w", err)
	}

	if jsonFlag {
		out := struct {
			Target      documentJSON  `json:"target"`
			Source      *documentJSON `json:"source,omitempty"`
			Extracted   int           `json:"extracted"`
			BaseVersion int           `json:"base_version"`
		}{Target: toDocumentJSON(res.Target), Extracted: res.Extracted, BaseVersion: res.BaseVersion}
		if res.Source != nil {
			src := toDocumentJSON(res.Source)
			out.Source = &src
		}
		return printJSON(cmd, out)
	}

	cmd.Printf("Moved %d state(s) from %s to %s\n", res.Extracted, args[0], res.Target.ID)
	if res.Source == nil {
		cmd.Printf("%s is now empty and was removed\n", args[0])
	}
	return nil
}

func runParts(cmd *cobra.Command, args []string) error {
	keeper, err := requireKeeper()
	if err != nil {
		return err
	}

	parts, err := keeper.ListParts(cmd.Context(), collectionFlag, args[0])
	if err != nil {
		return fmt.Errorf("listing parts failed: %w", err)
	}
	if jsonFlag {
		return printJSON(cmd, parts)
	}
	if len(parts) == 0 {
		cmd.Printf("%s has no parts; run 'keep analyze %s'.\n", args[0], args[0])
		return nil
	}

	for i := range parts {
		p := &parts[i]
		cmd.Printf("  %s  %s\n", render(cmd, idStyle, domain.PartKey(p.ID, p.PartNum)), firstLine(p.Summary, 80))
	}
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	keeper, err := requireKeeper()
	if err != nil {
		return err
	}

	queued, err := keeper.Analyze(cmd.Context(), domain.AnalyzeRequest{
		Collection: collectionFlag,
		ID:         args[0],
		Content:    analyzeContent,
		Force:      analyzeForce,
	})
	if err != nil {
		return fmt.Errorf("analyze failed: %w", err)
	}
	if !queued {
		cmd.Printf("%s not queued (missing, or already analyzed; use --force)\n", args[0])
		return nil
	}

	startProcessor()
	cmd.Printf("%s queued for analysis\n", args[0])
	return nil
}
