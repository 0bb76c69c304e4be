package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func supervisorTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunPropagatesCleanExit(t *testing.T) {
	t.Parallel()
	var calls int32
	task := func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}
	if err := Run(context.Background(), "t", task, supervisorTestLogger()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRunRestartsOnErrorThenCleanExit(t *testing.T) {
	t.Parallel()
	minBackoffSave := minBackoff
	defer func() { minBackoff = minBackoffSave }()
	minBackoff = time.Millisecond

	var calls int32
	task := func(ctx context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return errors.New("boom")
		}
		return nil
	}
	if err := Run(context.Background(), "t", task, supervisorTestLogger()); err != nil {
		t.Fatalf("expected nil error after recovery, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	task := func(ctx context.Context) error {
		cancel()
		return errors.New("boom")
	}
	err := Run(ctx, "t", task, supervisorTestLogger())
	if err == nil {
		t.Fatal("expected an error once context is cancelled")
	}
}
