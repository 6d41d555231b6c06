package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driving"
	"github.com/custodia-labs/keep/internal/logger"
)

var (
	putID      string
	putURI     string
	putTags    []string
	putSummary string
	putType    string

	getVersion int
	getPart    int

	tagRemove []string
)

var putCmd = &cobra.Command{
	Use:   "put [content]",
	Short: "Store text or the content of a file",
	Long: `Stores content as a new document or a new version of an existing one.

Content comes from the argument, from --uri, or from stdin when the
argument is "-" or omitted. Writing identical content and tags is a no-op.
Long content gets a placeholder summary until the background processor
has summarized it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPut,
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a document",
	Long: `Shows the current state of a document.

Use --version N to show the state N versions back, or --part N to show one
part of an analyzed document.`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

var tagCmd = &cobra.Command{
	Use:   "tag <id> key=value...",
	Short: "Change tags without creating a version",
	Long: `Merges tags into the current state of a document. A pair with an
empty value ("key=") removes the tag.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTag,
}

var delCmd = &cobra.Command{
	Use:     "del <id>",
	Aliases: []string{"delete", "rm"},
	Short:   "Delete a document and its history",
	Args:    cobra.ExactArgs(1),
	RunE:    runDel,
}

var summaryCmd = &cobra.Command{
	Use:   "summary <id> <text>",
	Short: "Replace a document's summary",
	Args:  cobra.ExactArgs(2),
	RunE:  runSummary,
}

func init() {
	putCmd.Flags().StringVar(&putID, "id", "", "document id (default: derived from content or URI)")
	putCmd.Flags().StringVarP(&putURI, "uri", "u", "", "file path or URL to read content from")
	putCmd.Flags().StringArrayVarP(&putTags, "tag", "t", nil, "tag as key=value (repeatable)")
	putCmd.Flags().StringVarP(&putSummary, "summary", "s", "", "summary to store instead of generating one")
	putCmd.Flags().StringVar(&putType, "type", "", "content type of the content")

	getCmd.Flags().IntVarP(&getVersion, "version", "V", 0, "versions back from current (0 = current)")
	getCmd.Flags().IntVar(&getPart, "part", 0, "part number to show")

	tagCmd.Flags().StringArrayVarP(&tagRemove, "remove", "r", nil, "tag key to remove (repeatable)")

	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(delCmd)
	rootCmd.AddCommand(summaryCmd)
}

func runPut(cmd *cobra.Command, args []string) error {
	keeper, err := requireKeeper()
	if err != nil {
		return err
	}

	tags, err := parseTags(putTags)
	if err != nil {
		return err
	}

	req := domain.PutRequest{
		Collection:  collectionFlag,
		ID:          putID,
		URI:         putURI,
		ContentType: putType,
		Summary:     putSummary,
		Tags:        tags,
	}

	if putURI == "" {
		content, err := contentArg(cmd, args)
		if err != nil {
			return err
		}
		req.Content = content
	} else if len(args) > 0 {
		return errors.New("give either content or --uri, not both")
	}

	res, err := keeper.Put(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("put failed: %w", err)
	}

	if res.SummaryPending {
		startProcessor()
	}

	if jsonFlag {
		return printJSON(cmd, struct {
			documentJSON
			Changed         bool `json:"changed"`
			ArchivedVersion int  `json:"archived_version,omitempty"`
			SummaryPending  bool `json:"summary_pending"`
		}{toDocumentJSON(res.Document), res.Changed, res.ArchivedVersion, res.SummaryPending})
	}

	switch {
	case !res.Changed:
		cmd.Printf("%s unchanged\n", res.Document.ID)
	case res.ArchivedVersion > 0:
		cmd.Printf("%s updated (previous state archived as version %d)\n", res.Document.ID, res.ArchivedVersion)
	default:
		cmd.Printf("%s stored\n", res.Document.ID)
	}
	if !res.Indexed {
		cmd.Println("Warning: not indexed for search; run 'keep reconcile --fix' later.")
	}
	if res.SummaryPending {
		cmd.Println(render(cmd, dimStyle, "Summary will be generated in the background."))
	}
	return nil
}

// contentArg returns the content argument, reading stdin for "-" or no argument.
func contentArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", errors.New("no content given")
	}
	return string(data), nil
}

// startProcessor spawns a background processor. Failures are logged only:
// queued work stays in the queue for the next processor.
func startProcessor() {
	if spawnProcessor == nil {
		return
	}
	if err := spawnProcessor(); err != nil {
		logger.Warn("starting background processor: %v", err)
	}
}

func runGet(cmd *cobra.Command, args []string) error {
	keeper, err := requireKeeper()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	id := args[0]

	if getPart > 0 {
		part, err := keeper.GetPart(ctx, collectionFlag, id, getPart)
		if err != nil {
			return fmt.Errorf("get failed: %w", err)
		}
		if part == nil {
			return fmt.Errorf("%s has no part %d", id, getPart)
		}
		if jsonFlag {
			return printJSON(cmd, part)
		}
		cmd.Println(render(cmd, idStyle, domain.PartKey(id, part.PartNum)))
		if tags := formatTags(part.Tags); tags != "" {
			cmd.Printf("  Tags:    %s\n", tags)
		}
		cmd.Printf("  Summary: %s\n\n", part.Summary)
		cmd.Println(part.Content)
		return nil
	}

	if getVersion > 0 {
		return showVersion(cmd, keeper, id, getVersion)
	}

	doc, err := keeper.Get(ctx, collectionFlag, id)
	if err != nil {
		return fmt.Errorf("get failed: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("%s not found", id)
	}
	if jsonFlag {
		return printJSON(cmd, toDocumentJSON(doc))
	}
	printDocument(cmd, doc)
	return nil
}

func showVersion(cmd *cobra.Command, keeper driving.Keeper, id string, offset int) error {
	ctx := cmd.Context()
	v, err := keeper.GetVersion(ctx, collectionFlag, id, offset)
	if err != nil {
		return fmt.Errorf("get failed: %w", err)
	}
	if v == nil {
		return fmt.Errorf("%s has no version %d back", id, offset)
	}
	nav, err := keeper.VersionNav(ctx, collectionFlag, id, offset)
	if err != nil {
		return fmt.Errorf("get failed: %w", err)
	}

	if jsonFlag {
		return printJSON(cmd, struct {
			*domain.Version
			Prev *int `json:"prev,omitempty"`
			Next *int `json:"next,omitempty"`
		}{v, nav.Prev, nav.Next})
	}

	cmd.Println(render(cmd, idStyle, fmt.Sprintf("%s (version %d, %d back)", id, v.Version, offset)))
	if tags := formatTags(v.Tags); tags != "" {
		cmd.Printf("  Tags:     %s\n", tags)
	}
	cmd.Printf("  Archived: %s\n", formatTime(v.CreatedAt))
	var links []string
	if nav.Prev != nil {
		links = append(links, fmt.Sprintf("older: -V %d", *nav.Prev))
	}
	if nav.Next != nil {
		links = append(links, fmt.Sprintf("newer: -V %d", *nav.Next))
	}
	if len(links) > 0 {
		cmd.Println(render(cmd, dimStyle, "  "+strings.Join(links, ", ")))
	}
	cmd.Println()
	cmd.Println(v.Summary)
	return nil
}

func runTag(cmd *cobra.Command, args []string) error {
	keeper, err := requireKeeper()
	if err != nil {
		return err
	}

	tags, err := parseTags(args[1:])
	if err != nil {
		return err
	}
	if tags == nil {
		tags = make(map[string]string, len(tagRemove))
	}
	for _, k := range tagRemove {
		tags[k] = ""
	}
	if len(tags) == 0 {
		return errors.New("no tags given")
	}

	doc, err := keeper.Tag(cmd.Context(), collectionFlag, args[0], tags)
	if err != nil {
		return fmt.Errorf("tag failed: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("%s not found", args[0])
	}
	if jsonFlag {
		return printJSON(cmd, toDocumentJSON(doc))
	}
	cmd.Printf("%s tagged: %s\n", doc.ID, formatTags(doc.Tags))
	return nil
}

func runDel(cmd *cobra.Command, args []string) error {
	keeper, err := requireKeeper()
	if err != nil {
		return err
	}

	deleted, err := keeper.Delete(cmd.Context(), collectionFlag, args[0])
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	if !deleted {
		return fmt.Errorf("%s not found", args[0])
	}
	cmd.Printf("%s deleted\n", args[0])
	return nil
}

func runSummary(cmd *cobra.Command, args []string) error {
	keeper, err := requireKeeper()
	if err != nil {
		return err
	}

	doc, err := keeper.SetSummary(cmd.Context(), collectionFlag, args[0], args[1])
	if err != nil {
		return fmt.Errorf("setting summary failed: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("%s not found", args[0])
	}
	cmd.Printf("%s summary updated\n", doc.ID)
	return nil
}
