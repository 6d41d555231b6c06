// Package cli provides the command-line driving adapter for the keeper.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/keep/internal/core/ports/driving"
	"github.com/custodia-labs/keep/internal/logger"
)

// version is set at build time.
var version = "dev"

// Services wired by the binary.
var (
	keeperService    driving.Keeper
	processorService driving.Processor
	settingsService  driving.SettingsService

	// spawnProcessor starts a detached background processor. Nil disables
	// spawning after writes.
	spawnProcessor func() error

	// keeperErr explains why keeperService is nil.
	keeperErr error
)

// Global flags.
var (
	collectionFlag string
	verboseFlag    bool
	jsonFlag       bool
)

var rootCmd = &cobra.Command{
	Use:   "keep",
	Short: "A reflective memory for notes, documents and their history",
	Long: `keep stores text with tags and summaries, keeps every earlier version,
and finds things again by meaning.

Summaries of long documents and analysis into parts are produced by a
background processor that starts on demand.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verboseFlag)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&collectionFlag, "collection", "c", "", "collection to use (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output as JSON")
}

// Services groups the ports the CLI drives.
type Services struct {
	Keeper         driving.Keeper
	Processor      driving.Processor
	Settings       driving.SettingsService
	SpawnProcessor func() error

	// Unavailable is reported by commands that need a keeper when Keeper
	// is nil, typically because a store failed to open.
	Unavailable error
}

// SetServices installs the services used by every command.
func SetServices(s Services) {
	keeperService = s.Keeper
	processorService = s.Processor
	settingsService = s.Settings
	spawnProcessor = s.SpawnProcessor
	keeperErr = s.Unavailable
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func requireKeeper() (driving.Keeper, error) {
	if keeperService == nil {
		if keeperErr != nil {
			return nil, fmt.Errorf("keeper unavailable: %w", keeperErr)
		}
		return nil, errors.New("keeper not configured")
	}
	return keeperService, nil
}

// parseTags reads key=value pairs. An empty value removes the key.
func parseTags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid tag %q: expected key=value", p)
		}
		tags[k] = v
	}
	return tags, nil
}
