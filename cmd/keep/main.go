// Command keep is a reflective memory for notes, documents and their
// history.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/custodia-labs/keep/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/keep/internal/adapters/driving/cli"
	"github.com/custodia-labs/keep/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = ""

const (
	envStore      = "KEEP_STORE"
	envBackground = "KEEP_BACKGROUND"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if os.Getenv(envBackground) != "" {
		logger.SetTimestamps(true)
	}

	dir, err := storeDir()
	if err != nil {
		logger.Error("Locating store: %v", err)
		return err
	}

	a, err := open(ctx, dir)
	if err != nil {
		logger.Error("Opening store: %v", err)
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("Closing store: %v", cerr)
		}
	}()

	cli.SetVersion(version)
	cli.SetServices(a.services())
	return cli.Execute(ctx)
}

func storeDir() (string, error) {
	if dir := os.Getenv(envStore); dir != "" {
		return dir, nil
	}
	dir, err := sqlite.DefaultDir()
	if err != nil {
		return "", fmt.Errorf("%w (set %s)", err, envStore)
	}
	return dir, nil
}
