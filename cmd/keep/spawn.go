package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ProcessorLog receives the output of spawned processors.
const ProcessorLog = "processor.log"

// spawnProcessor starts "keep process-pending" detached from this
// process. The child drains the queue and exits; if another processor
// already holds the lock it exits immediately.
func spawnProcessor(dir string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}

	logFile, err := os.OpenFile(filepath.Join(dir, ProcessorLog), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("opening processor log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(exe, "process-pending", "--verbose") //nolint:gosec // G204: our own executable.
	cmd.Env = append(os.Environ(), envStore+"="+dir, envBackground+"=1")
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Dir = dir

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting processor: %w", err)
	}
	return cmd.Process.Release()
}
