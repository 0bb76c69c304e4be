package strategy

import (
	"log/slog"
	"sync"

	"craftstrat-engine/pkg/types"
)

// StateGuard wraps a StrategyState behind an exclusive mutex. Mutex
// poisoning has no Go equivalent (a panicking goroutine does not taint a
// sync.Mutex the way it taints a Rust Mutex), but the lock/unlock
// discipline mirrors spec.md's "exclusive mutex; poisoned mutexes are
// recovered" model: callers always go through Lock/Unlock and a panic
// during the critical section is recovered by WithLock so the assignment
// keeps evaluating on the next tick rather than wedging forever.
type StateGuard struct {
	mu    sync.Mutex
	state *types.StrategyState
}

// NewStateGuard wraps the given state (or a fresh one if nil).
func NewStateGuard(initial *types.StrategyState) *StateGuard {
	if initial == nil {
		initial = types.NewStrategyState(200)
	}
	return &StateGuard{state: initial}
}

// WithLock runs fn with the state exclusively locked. A panic inside fn is
// recovered and logged; the state is left as whatever fn mutated before
// panicking, matching the "recovered, state treated as authoritative"
// semantics of spec.md §5.
func (g *StateGuard) WithLock(logger *slog.Logger, fn func(s *types.StrategyState)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Error("recovered panic in assignment state critical section", "panic", r)
			}
		}
	}()
	fn(g.state)
}

// Snapshot returns a deep copy of the current state for persistence.
func (g *StateGuard) Snapshot() *types.StrategyState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Clone()
}
