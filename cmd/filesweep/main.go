package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"filesweep/internal/sweep"
)

// Exit codes.
const (
	exitOK             = 0
	exitFatal          = 1
	exitPartialFailure = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	err := cmd.ExecuteContext(ctx)
	if shouldReport(err) {
		fmt.Fprintln(os.Stderr, "filesweep:", err)
	}
	stop()
	os.Exit(exitCode(err))
}

// shouldReport is false for plain cancellation. An interrupted sweep is still
// reported because its message carries the resume hint.
func shouldReport(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, sweep.ErrInterrupted):
		return true
	default:
		return !errors.Is(err, context.Canceled)
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, sweep.ErrPartialFailure):
		return exitPartialFailure
	default:
		return exitFatal
	}
}
