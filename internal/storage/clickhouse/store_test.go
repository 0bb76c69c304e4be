package clickhouse

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"craftstrat-engine/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriterFlushesOnRowThreshold(t *testing.T) {
	var inserts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inserts.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	writer := New(srv.URL, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := make(chan types.Tick, flushMaxRows+1)
	for i := 0; i < flushMaxRows; i++ {
		ticks <- types.Tick{MarketSlug: "btc-updown-1"}
	}

	done := make(chan error, 1)
	go func() { done <- writer.Run(ctx, ticks) }()

	deadline := time.After(2 * time.Second)
	for inserts.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for row-threshold flush")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestWriterFlushesOnContextCancel(t *testing.T) {
	var inserts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inserts.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	writer := New(srv.URL, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	ticks := make(chan types.Tick, 1)
	ticks <- types.Tick{MarketSlug: "btc-updown-1"}

	done := make(chan error, 1)
	go func() { done <- writer.Run(ctx, ticks) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if inserts.Load() == 0 {
		t.Fatal("expected final flush on context cancellation")
	}
}
