package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"craftstrat-engine/pkg/types"
)

const (
	keepaliveInterval = 10 * time.Second // spec.md §4.1: keepalive every 10s
	staleTimeout       = 60 * time.Second // no inbound message within 60s => stale
	minBackoff         = 1 * time.Second
	maxBackoff         = 30 * time.Second
	resetBackoffAfter  = 60 * time.Second // a session lasting longer than this resets backoff
	wsWriteTimeout     = 5 * time.Second  // keepalive send timeout forces reconnect
)

// errKind classifies a feed error for observability (spec.md §4.1).
type errKind string

const (
	errConnReset errKind = "connection_reset"
	errTimeout   errKind = "timeout"
	errOther     errKind = "other"
)

func classifyErr(err error) errKind {
	if err == nil {
		return errOther
	}
	if websocket.IsCloseError(err, websocket.CloseAbnormalClosure, websocket.CloseGoingAway) {
		return errConnReset
	}
	if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
		return errTimeout
	}
	return errOther
}

// WSFeed maintains a single multiplexed WebSocket connection to the
// order-book venue, dispatching snapshot/delta events into a BookCache and
// re-establishing the current subscription set across reconnects.
type WSFeed struct {
	url    string
	books  *BookCache
	logger *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	subMu sync.Mutex
	subs  map[string]bool // currently subscribed token IDs

	lastMsgMu sync.Mutex
	lastMsg   time.Time
}

// NewWSFeed builds a feed that writes snapshot/delta events into books.
func NewWSFeed(url string, books *BookCache, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:    url,
		books:  books,
		subs:   make(map[string]bool),
		logger: logger.With("component", "wsfeed"),
	}
}

// Subscribe adds token IDs to the live subscription set and, if connected,
// sends an incremental subscribe command.
func (f *WSFeed) Subscribe(ids []string) {
	if len(ids) == 0 {
		return
	}
	f.subMu.Lock()
	for _, id := range ids {
		f.subs[id] = true
	}
	f.subMu.Unlock()
	_ = f.writeJSON(types.WSUpdateMsg{AssetIDs: ids})
}

// Unsubscribe removes token IDs from the live set and sends an
// unsubscribe command.
func (f *WSFeed) Unsubscribe(ids []string) {
	if len(ids) == 0 {
		return
	}
	f.subMu.Lock()
	for _, id := range ids {
		delete(f.subs, id)
	}
	f.subMu.Unlock()
	_ = f.writeJSON(types.WSUpdateMsg{AssetIDs: ids, Operation: "unsubscribe"})
}

// Run connects and maintains the feed, reconnecting with exponential
// backoff on any disconnect/error, until ctx is cancelled. This is the
// factory passed to the supervisor (spec.md §4.16).
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		started := time.Now()
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ran := time.Since(started)
		kind := classifyErr(err)
		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "kind", kind, "ran_for", ran, "backoff", backoff)

		if ran > resetBackoffAfter {
			backoff = minBackoff
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

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	// Reconnect semantics (spec.md §4.1): clear the book cache and re-send
	// the current subscription set before any deltas are processed.
	f.books.Clear()
	f.subMu.Lock()
	ids := make([]string, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	f.subMu.Unlock()
	if err := f.writeJSON(types.WSSubscribeMsg{AssetIDs: ids, Type: "market", CustomFeatureEnabled: true}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.touchLastMsg()
	f.logger.Info("websocket connected", "subscribed", len(ids))

	keepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.keepaliveLoop(keepCtx)
	go f.staleWatchdog(keepCtx, cancel)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.touchLastMsg()
		f.dispatch(msg)
	}
}

func (f *WSFeed) touchLastMsg() {
	f.lastMsgMu.Lock()
	f.lastMsg = time.Now()
	f.lastMsgMu.Unlock()
}

// staleWatchdog forces a reconnect (by cancelling the read loop's context,
// which only breaks the keepalive/watchdog goroutines — the blocking
// ReadMessage is unblocked by closing the connection) if no inbound
// message arrives for staleTimeout while a subscription is active.
func (f *WSFeed) staleWatchdog(ctx context.Context, triggerReconnect context.CancelFunc) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.subMu.Lock()
			active := len(f.subs) > 0
			f.subMu.Unlock()
			if !active {
				continue
			}
			f.lastMsgMu.Lock()
			last := f.lastMsg
			f.lastMsgMu.Unlock()
			if time.Since(last) > staleTimeout {
				f.logger.Warn("websocket stale, forcing reconnect", "since_last_msg", time.Since(last))
				f.connMu.Lock()
				if f.conn != nil {
					f.conn.Close()
				}
				f.connMu.Unlock()
				triggerReconnect()
				return
			}
		}
	}
}

func (f *WSFeed) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeText("PING"); err != nil {
				f.logger.Warn("keepalive send failed", "error", err)
				return
			}
		}
	}
}

func (f *WSFeed) dispatch(data []byte) {
	if string(data) == "PONG" || string(data) == "PING" {
		return
	}

	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.EventType {
	case "book":
		var evt types.WSBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal book event", "error", err)
			return
		}
		f.books.ApplySnapshot(evt.AssetID, evt.Buys, evt.Sells)

	case "price_change":
		var evt types.WSPriceChangeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal price_change event", "error", err)
			return
		}
		for _, pc := range evt.PriceChanges {
			side := types.SideBid
			if pc.Side == string(types.SELL) {
				side = types.SideAsk
			}
			price := parseFloat(pc.Price)
			size := parseFloat(pc.Size)
			f.books.ApplyDelta(pc.AssetID, side, price, size)
		}

	default:
		f.logger.Debug("unhandled ws event type", "type", envelope.EventType)
	}
}

func (f *WSFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return f.conn.WriteJSON(v)
}

func (f *WSFeed) writeText(s string) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return f.conn.WriteMessage(websocket.TextMessage, []byte(s))
}
