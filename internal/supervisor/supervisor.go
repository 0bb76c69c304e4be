// Package supervisor wraps long-running tasks with restart-on-error and
// exponential backoff, generalizing the reconnect-loop shape the teacher's
// WebSocket feed used for a single task into a reusable wrapper for every
// supervised background task (spec.md §4.16).
package supervisor

import (
	"context"
	"log/slog"
	"time"
)

// Overridable in tests to avoid real sleeps.
var (
	minBackoff        = 1 * time.Second
	maxBackoff        = 60 * time.Second
	resetBackoffAfter = 60 * time.Second
)

// Task is a supervised unit of work: it runs until ctx is cancelled or it
// fails, returning nil on a clean exit.
type Task func(ctx context.Context) error

// Run restarts task on every non-nil, non-context error, doubling the
// backoff from 1s up to 60s and resetting to 1s whenever a run lasted at
// least 60s. A clean exit (nil error) or a context-cancellation error
// propagates immediately without a restart. Every restart is logged with
// ran_for, backoff, and total_restarts (spec.md §4.16).
func Run(ctx context.Context, name string, task Task, logger *slog.Logger) error {
	backoff := minBackoff
	var totalRestarts int

	for {
		started := time.Now()
		err := task(ctx)
		ranFor := time.Since(started)

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}

		if ranFor >= resetBackoffAfter {
			backoff = minBackoff
		}

		totalRestarts++
		if logger != nil {
			logger.Error("supervised task failed, restarting",
				"task", name, "error", err, "ran_for", ranFor, "backoff", backoff, "total_restarts", totalRestarts)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
