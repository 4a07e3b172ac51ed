package guard

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type WatchState string

const (
	StateWatching WatchState = "watching"
	StateViolated WatchState = "violated"
)

type Transition int

const (
	TransitionNone Transition = iota
	TransitionEntered
	TransitionCleared
)

// WatchSet tracks the violation state per proposal so alerts fire on
// transitions instead of on every failing check.
type WatchSet struct {
	mu     sync.Mutex
	states map[common.Hash]WatchState
	paused map[common.Hash]bool
}

func NewWatchSet() *WatchSet {
	return &WatchSet{
		states: make(map[common.Hash]WatchState),
		paused: make(map[common.Hash]bool),
	}
}

func (w *WatchSet) Apply(proposal common.Hash, inBand bool) Transition {
	w.mu.Lock()
	defer w.mu.Unlock()
	current, seen := w.states[proposal]
	if !seen {
		current = StateWatching
	}
	next := nextState(current, inBand)
	w.states[proposal] = next
	switch {
	case current == StateWatching && next == StateViolated:
		return TransitionEntered
	case current == StateViolated && next == StateWatching:
		return TransitionCleared
	default:
		return TransitionNone
	}
}

func nextState(current WatchState, inBand bool) WatchState {
	switch current {
	case StateWatching:
		if !inBand {
			return StateViolated
		}
	case StateViolated:
		if inBand {
			return StateWatching
		}
	}
	return current
}

func (w *WatchSet) State(proposal common.Hash) WatchState {
	w.mu.Lock()
	defer w.mu.Unlock()
	state, ok := w.states[proposal]
	if !ok {
		return StateWatching
	}
	return state
}

func (w *WatchSet) SetPaused(proposal common.Hash, paused bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if paused {
		w.paused[proposal] = true
		return
	}
	delete(w.paused, proposal)
}

func (w *WatchSet) Paused(proposal common.Hash) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused[proposal]
}

// Forget drops all state for a proposal that left the watch set.
func (w *WatchSet) Forget(proposal common.Hash) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.states, proposal)
	delete(w.paused, proposal)
}

func (w *WatchSet) Snapshot() map[common.Hash]WatchState {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[common.Hash]WatchState, len(w.states))
	for id, state := range w.states {
		out[id] = state
	}
	return out
}
