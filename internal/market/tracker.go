package market

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Fetcher produces a fresh snapshot of one proposal's markets.
type Fetcher interface {
	ProposalMarkets(ctx context.Context, proposal common.Hash) (Snapshot, error)
}

// Tracker keeps the latest verified snapshot per proposal. It is a cache of
// observations for staleness accounting and diagnostics only; band checks
// always go through Refresh so they see current reserves.
type Tracker struct {
	fetcher Fetcher
	log     *zap.Logger

	mu    sync.RWMutex
	snaps map[common.Hash]Snapshot
}

func NewTracker(fetcher Fetcher, log *zap.Logger) *Tracker {
	return &Tracker{
		fetcher: fetcher,
		log:     log,
		snaps:   make(map[common.Hash]Snapshot),
	}
}

// Refresh fetches a fresh snapshot, verifies its market family, records it
// and returns it. Snapshots that fail the family check are discarded.
func (t *Tracker) Refresh(ctx context.Context, proposal common.Hash) (Snapshot, error) {
	snap, err := t.fetcher.ProposalMarkets(ctx, proposal)
	if err != nil {
		return Snapshot{}, err
	}
	if err := snap.VerifyFamily(); err != nil {
		return Snapshot{}, err
	}
	if snap.ObservedAt.IsZero() {
		snap.ObservedAt = time.Now().UTC()
	}
	t.mu.Lock()
	prev, had := t.snaps[snap.Proposal]
	if had && snap.Seq < prev.Seq {
		// Out-of-order observation, keep the newer one.
		t.mu.Unlock()
		if t.log != nil {
			t.log.Debug("stale snapshot discarded",
				zap.String("proposal", snap.Proposal.Hex()),
				zap.Uint64("seq", snap.Seq),
				zap.Uint64("have", prev.Seq),
			)
		}
		return prev, nil
	}
	t.snaps[snap.Proposal] = snap
	t.mu.Unlock()
	return snap, nil
}

func (t *Tracker) Latest(proposal common.Hash) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap, ok := t.snaps[proposal]
	return snap, ok
}

// Age reports how long ago the proposal was last observed.
func (t *Tracker) Age(proposal common.Hash, now time.Time) (time.Duration, bool) {
	t.mu.RLock()
	snap, ok := t.snaps[proposal]
	t.mu.RUnlock()
	if !ok || snap.ObservedAt.IsZero() {
		return 0, false
	}
	return now.Sub(snap.ObservedAt), true
}

func (t *Tracker) Proposals() []common.Hash {
	t.mu.RLock()
	out := make([]common.Hash, 0, len(t.snaps))
	for id := range t.snaps {
		out = append(out, id)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Hex() < out[j].Hex()
	})
	return out
}
