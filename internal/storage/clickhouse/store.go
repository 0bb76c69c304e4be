// Package clickhouse implements the analytics store: a batched tick
// archival writer over ClickHouse's HTTP interface (spec.md's domain-stack
// expansion). No maintained ClickHouse driver was found in the retrieved
// example pack, so inserts go through raw HTTP using go-resty, the same
// client library the rest of the engine uses for every other HTTP
// integration — grounded on the batching/flush behavior of
// original_source/engine/src/storage/clickhouse.rs's inserter (100 rows or
// 10s, whichever comes first).
package clickhouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"craftstrat-engine/pkg/types"
)

const (
	flushMaxRows  = 100
	flushInterval = 10 * time.Second
	insertTable   = "slot_snapshots"
)

// Writer batches ticks and flushes them to ClickHouse via the HTTP
// JSONEachRow insert format, either when flushMaxRows accumulate or every
// flushInterval, whichever comes first.
type Writer struct {
	client *resty.Client
	logger *slog.Logger

	mu      sync.Mutex
	pending []types.Tick
}

// New builds a writer pointed at a ClickHouse HTTP endpoint (e.g.
// http://host:8123).
func New(baseURL string, logger *slog.Logger) *Writer {
	return &Writer{
		client: resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second),
		logger: logger.With("component", "clickhouse"),
	}
}

// Run subscribes to ticks and batches them until ctx is cancelled, flushing
// any remaining buffered rows before returning (supervisor-compatible
// factory signature per spec.md §4.16).
func (w *Writer) Run(ctx context.Context, ticks <-chan types.Tick) error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background())
			return ctx.Err()
		case tick, ok := <-ticks:
			if !ok {
				w.flush(context.Background())
				return nil
			}
			if w.add(tick) {
				w.flush(ctx)
			}
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// add appends tick to the pending batch and reports whether it just
// reached the row threshold.
func (w *Writer) add(tick types.Tick) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, tick)
	return len(w.pending) >= flushMaxRows
}

// flush sends any buffered rows as a single JSONEachRow insert and clears
// the batch. Failures are logged and the batch is dropped rather than
// retried indefinitely, matching spec.md §9's "analytics store writes are
// best-effort" posture.
func (w *Writer) flush(ctx context.Context) {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, tick := range batch {
		if err := enc.Encode(tick); err != nil {
			w.logger.Error("encode tick for clickhouse insert failed", "error", err)
			return
		}
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetQueryParam("query", fmt.Sprintf("INSERT INTO %s FORMAT JSONEachRow", insertTable)).
		SetBody(buf.Bytes()).
		Post("/")
	if err != nil || resp.IsError() {
		w.logger.Warn("clickhouse flush failed", "rows", len(batch), "error", err)
		return
	}
	w.logger.Debug("clickhouse flushed", "rows", len(batch))
}
