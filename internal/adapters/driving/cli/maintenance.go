package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/keep/internal/core/domain"
)

var (
	reconcileFix bool

	pendingID    string
	pendingClear bool

	processLimit  int
	processDaemon bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Check the search index against stored documents",
	Long: `Compares stored documents with the search index. With --fix, missing
entries are embedded again and entries without a document are removed.
Running it twice in a row is safe; the second run finds nothing to do.`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Show queued background work",
	Args:  cobra.NoArgs,
	RunE:  runPending,
}

var processPendingCmd = &cobra.Command{
	Use:   "process-pending",
	Short: "Run the background processor",
	Long: `Processes queued summaries, analyses and reindexing. Only one processor
runs per store; a second one exits immediately.

With --daemon the processor keeps running and wakes up when new work is
queued, until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runProcessPending,
}

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "List collections",
	Args:  cobra.NoArgs,
	RunE:  runCollections,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store status for a collection",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileFix, "fix", false, "repair the differences found")

	pendingCmd.Flags().StringVar(&pendingID, "id", "", "show queued work for one document")
	pendingCmd.Flags().BoolVar(&pendingClear, "clear", false, "discard all queued work")

	processPendingCmd.Flags().IntVarP(&processLimit, "limit", "n", 0, "process at most this many items (0 = until empty)")
	processPendingCmd.Flags().BoolVarP(&processDaemon, "daemon", "d", false, "keep running and wait for new work")

	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(processPendingCmd)
	rootCmd.AddCommand(collectionsCmd)
	rootCmd.AddCommand(statusCmd)
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	keeper, err := requireKeeper()
	if err != nil {
		return err
	}

	res, err := keeper.Reconcile(cmd.Context(), collectionFlag, reconcileFix)
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}
	if jsonFlag {
		return printJSON(cmd, res)
	}

	cmd.Println(render(cmd, headingStyle, "Collection "+res.Collection))
	cmd.Printf("  Documents: %d\n", res.Documents)
	cmd.Printf("  Indexed:   %d\n", res.Indexed)
	cmd.Printf("  Missing:   %d\n", len(res.Missing))
	cmd.Printf("  Orphans:   %d\n", len(res.Orphans))

	switch {
	case res.Skipped && reconcileFix:
		cmd.Println("No embedding provider available; nothing was repaired.")
	case reconcileFix:
		cmd.Printf("Repaired %d, removed %d orphan(s), %d failed\n", res.Repaired, res.OrphansRemoved, res.Failed)
	case res.Consistent():
		cmd.Println("Index is consistent.")
	default:
		cmd.Println("Run 'keep reconcile --fix' to repair.")
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d document(s) could not be repaired", res.Failed)
	}
	return nil
}

func runPending(cmd *cobra.Command, _ []string) error {
	keeper, err := requireKeeper()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if pendingClear {
		n, err := keeper.ClearPending(ctx)
		if err != nil {
			return fmt.Errorf("clearing queue failed: %w", err)
		}
		cmd.Printf("Discarded %d queued item(s)\n", n)
		return nil
	}

	if pendingID != "" {
		items, err := keeper.PendingStatus(ctx, pendingID)
		if err != nil {
			return fmt.Errorf("reading queue failed: %w", err)
		}
		if jsonFlag {
			return printJSON(cmd, items)
		}
		if len(items) == 0 {
			cmd.Printf("Nothing queued for %s\n", pendingID)
			return nil
		}
		for i := range items {
			it := &items[i]
			cmd.Printf("  %-10s %-10s attempts=%d queued=%s\n",
				it.TaskType, it.Collection, it.Attempts, formatTime(it.QueuedAt))
			if it.LastError != "" {
				cmd.Printf("             last error: %s\n", it.LastError)
			}
		}
		return nil
	}

	stats, err := keeper.PendingStats(ctx)
	if err != nil {
		return fmt.Errorf("reading queue failed: %w", err)
	}
	if jsonFlag {
		return printJSON(cmd, stats)
	}
	printPendingStats(cmd, stats)
	return nil
}

func printPendingStats(cmd *cobra.Command, stats *domain.PendingStats) {
	if stats.Total == 0 {
		cmd.Println("  Queue is empty.")
		return
	}
	cmd.Printf("  Queued:  %d item(s) in %d collection(s)\n", stats.Total, stats.Collections)

	types := make([]string, 0, len(stats.ByTaskType))
	for t := range stats.ByTaskType {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		cmd.Printf("    %-10s %d\n", t, stats.ByTaskType[domain.TaskType(t)])
	}
	cmd.Printf("  Oldest:  %s\n", formatTime(stats.Oldest))
	if stats.MaxAttempts > 0 {
		cmd.Printf("  Most attempts: %d\n", stats.MaxAttempts)
	}
}

func runProcessPending(cmd *cobra.Command, _ []string) error {
	if processorService == nil {
		return errors.New("processor not configured")
	}
	ctx := cmd.Context()

	if processDaemon {
		err := processorService.Run(ctx)
		if errors.Is(err, domain.ErrProcessorRunning) {
			cmd.Println("A background processor is already running.")
			return nil
		}
		return err
	}

	var (
		stats domain.ProcessStats
		err   error
	)
	if processLimit > 0 {
		stats, err = processorService.RunOnce(ctx, processLimit)
	} else {
		stats, err = processorService.Drain(ctx)
	}
	if errors.Is(err, domain.ErrProcessorRunning) {
		cmd.Println("A background processor is already running.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	if jsonFlag {
		return printJSON(cmd, stats)
	}
	cmd.Printf("Processed %d, failed %d, abandoned %d, stale %d\n",
		stats.Processed, stats.Failed, stats.Abandoned, stats.Stale)
	return nil
}

func runCollections(cmd *cobra.Command, _ []string) error {
	keeper, err := requireKeeper()
	if err != nil {
		return err
	}

	names, err := keeper.Collections(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing collections failed: %w", err)
	}
	if jsonFlag {
		if names == nil {
			names = []string{}
		}
		return printJSON(cmd, names)
	}
	if len(names) == 0 {
		cmd.Println("No collections yet.")
		return nil
	}
	for _, n := range names {
		cmd.Println(n)
	}
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	keeper, err := requireKeeper()
	if err != nil {
		return err
	}

	st, err := keeper.Status(cmd.Context(), collectionFlag)
	if err != nil {
		return fmt.Errorf("status failed: %w", err)
	}
	if jsonFlag {
		return printJSON(cmd, st)
	}

	cmd.Println(render(cmd, headingStyle, "Collection "+st.Collection))
	cmd.Printf("  Documents: %d\n", st.Documents)
	cmd.Printf("  Versions:  %d\n", st.Versions)
	cmd.Printf("  Parts:     %d\n", st.Parts)
	cmd.Println()

	cmd.Println(render(cmd, headingStyle, "Search index"))
	if st.Binding == nil {
		cmd.Println("  (none; no embedding provider has been used yet)")
	} else {
		cmd.Printf("  Index:     %s\n", st.Binding.IndexName)
		cmd.Printf("  Model:     %s\n", st.Binding.Identity)
		cmd.Printf("  Entries:   %d\n", st.Indexed)
	}
	cmd.Println()

	cmd.Println(render(cmd, headingStyle, "Background work"))
	printPendingStats(cmd, &st.Pending)
	return nil
}
