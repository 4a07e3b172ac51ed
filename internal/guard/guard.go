package guard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"futarchy-guard/internal/alerts"
	"futarchy-guard/internal/band"
	"futarchy-guard/internal/config"
	"futarchy-guard/internal/indexer/rest"
	"futarchy-guard/internal/indexer/ws"
	"futarchy-guard/internal/market"
	"futarchy-guard/internal/metrics"
	"futarchy-guard/internal/state"
	"futarchy-guard/internal/state/sqlite"
	"futarchy-guard/internal/timescale"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Indexer is the read surface the guard needs from the indexer REST API.
type Indexer interface {
	market.Fetcher
	ActiveProposals(ctx context.Context) ([]common.Hash, error)
}

type App struct {
	cfg     *config.Config
	log     *zap.Logger
	store   state.Store
	indexer Indexer
	ws      *ws.Client
	tracker *market.Tracker
	watches *WatchSet
	metrics *metrics.Metrics
	alerts  *alerts.Telegram
	tsdb    *timescale.Writer

	opsMu          sync.RWMutex
	paused         bool
	operatorWarned bool
	watched        map[common.Hash]struct{}

	// pinned disables discovery when the watch set comes from config.
	pinned bool

	pollInterval time.Duration
	intervalCh   chan time.Duration
	events       chan ws.Event
}

const eventQueueSize = 64

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	restClient := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, log)
	wsClient := ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
	tsdb, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	proposals, err := cfg.Guard.ProposalIDs()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	watched := make(map[common.Hash]struct{}, len(proposals))
	for _, id := range proposals {
		watched[id] = struct{}{}
	}
	return &App{
		cfg:     cfg,
		log:     log,
		store:   store,
		indexer: restClient,
		ws:      wsClient,
		tracker: market.NewTracker(restClient, log),
		watches: NewWatchSet(),
		metrics: metrics.NewNoop(),
		alerts:  alerts.NewTelegram(cfg.Telegram, log),
		tsdb:    tsdb,
		watched:      watched,
		pinned:       len(proposals) > 0,
		pollInterval: cfg.Guard.PollInterval,
		intervalCh:   make(chan time.Duration, 1),
		events:       make(chan ws.Event, eventQueueSize),
	}, nil
}

// UseMetrics swaps in a real metrics backend before Run.
func (a *App) UseMetrics(m *metrics.Metrics) {
	if m != nil {
		a.metrics = m
	}
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.tsdb.Close()
	a.tsdb.Start(ctx)

	if !a.pinned {
		a.discover(ctx)
	}
	if len(a.watchedProposals()) == 0 {
		a.log.Warn("no proposals to watch yet")
	}

	if err := a.ws.Connect(ctx); err != nil {
		a.log.Warn("ws connect failed, will retry", zap.Error(err))
	}
	for _, id := range a.watchedProposals() {
		if err := a.ws.SubscribePools(ctx, id); err != nil {
			a.log.Warn("pool subscription failed", zap.String("proposal", id.Hex()), zap.Error(err))
		}
	}
	go func() {
		if err := a.ws.Run(ctx, a.enqueueEvent); err != nil && ctx.Err() == nil {
			a.log.Warn("ws stream ended", zap.Error(err))
		}
	}()

	a.startOperator(ctx)
	a.checkAll(ctx)

	poll := time.NewTicker(a.currentPollInterval())
	defer poll.Stop()
	discovery := time.NewTicker(a.cfg.Guard.DiscoveryInterval)
	defer discovery.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
			a.checkAll(ctx)
		case interval := <-a.intervalCh:
			poll.Reset(interval)
			a.log.Info("poll interval updated", zap.Duration("interval", interval))
		case <-discovery.C:
			if !a.pinned {
				a.discover(ctx)
			}
		case event := <-a.events:
			if a.isWatched(event.Proposal) {
				a.checkProposal(ctx, event.Proposal)
			}
		}
	}
}

func (a *App) enqueueEvent(event ws.Event) {
	select {
	case a.events <- event:
	default:
		a.log.Warn("event queue full, dropping", zap.String("proposal", event.Proposal.Hex()))
	}
}

func (a *App) checkAll(ctx context.Context) {
	proposals := a.watchedProposals()
	a.metrics.WatchedProposals.Set(float64(len(proposals)))
	for _, id := range proposals {
		a.checkProposal(ctx, id)
	}
}

// checkProposal fetches the proposal's markets, recomputes the band and
// records the verdict. Alerts fire only on transitions into or out of
// violation.
func (a *App) checkProposal(ctx context.Context, proposal common.Hash) {
	snap, err := a.tracker.Refresh(ctx, proposal)
	if err != nil {
		a.metrics.SnapshotErrors.Inc()
		a.log.Warn("snapshot refresh failed", zap.String("proposal", proposal.Hex()), zap.Error(err))
		return
	}
	if age := time.Since(snap.ObservedAt); age > a.cfg.Guard.MaxSnapshotAge {
		a.log.Warn("snapshot is stale",
			zap.String("proposal", proposal.Hex()),
			zap.Duration("age", age),
			zap.Duration("max_age", a.cfg.Guard.MaxSnapshotAge),
		)
	}
	check, err := band.CheckInBand(snap.Spot, snap.Markets())
	if err != nil {
		if errors.Is(err, band.ErrNoMarkets) {
			a.log.Warn("proposal has no conditional markets", zap.String("proposal", proposal.Hex()))
			return
		}
		a.log.Warn("band check failed", zap.String("proposal", proposal.Hex()), zap.Error(err))
		return
	}

	a.metrics.ChecksTotal.Inc()
	a.metrics.Band.Observe(proposal.Hex(), check)
	if !check.InBand {
		a.metrics.ViolationsTotal.Inc()
		a.log.Warn("spot price outside band",
			zap.String("proposal", proposal.Hex()),
			zap.String("price", check.Price.Dec()),
			zap.String("floor", check.Floor.Dec()),
			zap.String("ceiling", check.Ceiling.Dec()),
		)
	}

	a.tsdb.EnqueueCheck(timescale.BandCheck{
		Time:      snap.ObservedAt,
		Proposal:  proposal.Hex(),
		Seq:       snap.Seq,
		InBand:    check.InBand,
		SpotPrice: check.Price.Dec(),
		Floor:     check.Floor.Dec(),
		Ceiling:   check.Ceiling.Dec(),
		Outcomes:  len(snap.Conditionals),
	})
	if err := state.SaveCheckpoint(ctx, a.store, state.Checkpoint{
		Proposal:    proposal.Hex(),
		Seq:         snap.Seq,
		InBand:      check.InBand,
		Price:       check.Price.Dec(),
		Floor:       check.Floor.Dec(),
		Ceiling:     check.Ceiling.Dec(),
		CheckedAtMS: time.Now().UTC().UnixMilli(),
	}); err != nil {
		a.log.Warn("checkpoint save failed", zap.String("proposal", proposal.Hex()), zap.Error(err))
	}

	switch a.watches.Apply(proposal, check.InBand) {
	case TransitionEntered:
		a.tsdb.EnqueueViolation(timescale.ViolationEvent{
			Time:      snap.ObservedAt,
			Proposal:  proposal.Hex(),
			Seq:       snap.Seq,
			Entered:   true,
			SpotPrice: check.Price.Dec(),
			Floor:     check.Floor.Dec(),
			Ceiling:   check.Ceiling.Dec(),
		})
		a.notify(ctx, proposal, fmt.Sprintf("band violation on %s\nprice: %s\nfloor: %s\nceiling: %s",
			proposal.Hex(), check.Price.Dec(), check.Floor.Dec(), check.Ceiling.Dec()))
	case TransitionCleared:
		a.tsdb.EnqueueViolation(timescale.ViolationEvent{
			Time:      snap.ObservedAt,
			Proposal:  proposal.Hex(),
			Seq:       snap.Seq,
			Entered:   false,
			SpotPrice: check.Price.Dec(),
			Floor:     check.Floor.Dec(),
			Ceiling:   check.Ceiling.Dec(),
		})
		a.notify(ctx, proposal, fmt.Sprintf("band violation cleared on %s\nprice: %s", proposal.Hex(), check.Price.Dec()))
	}
}

func (a *App) notify(ctx context.Context, proposal common.Hash, message string) {
	if a.isPaused() || a.watches.Paused(proposal) {
		return
	}
	if err := a.alerts.Send(ctx, message); err != nil {
		a.log.Warn("alert send failed", zap.Error(err))
		return
	}
	if a.cfg.Telegram.Enabled {
		a.metrics.AlertsSent.Inc()
	}
}

// discover syncs the watch set with the indexer's active proposal list.
func (a *App) discover(ctx context.Context) {
	active, err := a.indexer.ActiveProposals(ctx)
	if err != nil {
		a.log.Warn("proposal discovery failed", zap.Error(err))
		return
	}
	activeSet := make(map[common.Hash]struct{}, len(active))
	for _, id := range active {
		activeSet[id] = struct{}{}
	}
	a.opsMu.Lock()
	var added, removed []common.Hash
	for id := range activeSet {
		if _, ok := a.watched[id]; !ok {
			a.watched[id] = struct{}{}
			added = append(added, id)
		}
	}
	for id := range a.watched {
		if _, ok := activeSet[id]; !ok {
			delete(a.watched, id)
			removed = append(removed, id)
		}
	}
	a.opsMu.Unlock()
	for _, id := range added {
		a.log.Info("watching proposal", zap.String("proposal", id.Hex()))
		if err := a.ws.SubscribePools(ctx, id); err != nil {
			a.log.Warn("pool subscription failed", zap.String("proposal", id.Hex()), zap.Error(err))
		}
	}
	for _, id := range removed {
		a.log.Info("proposal no longer active", zap.String("proposal", id.Hex()))
		a.watches.Forget(id)
	}
}

func (a *App) watchedProposals() []common.Hash {
	a.opsMu.RLock()
	out := make([]common.Hash, 0, len(a.watched))
	for id := range a.watched {
		out = append(out, id)
	}
	a.opsMu.RUnlock()
	return out
}

func (a *App) isWatched(proposal common.Hash) bool {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	_, ok := a.watched[proposal]
	return ok
}

func (a *App) addWatched(proposal common.Hash) bool {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	if _, ok := a.watched[proposal]; ok {
		return false
	}
	a.watched[proposal] = struct{}{}
	return true
}

func (a *App) removeWatched(proposal common.Hash) bool {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	if _, ok := a.watched[proposal]; !ok {
		return false
	}
	delete(a.watched, proposal)
	return true
}

func (a *App) currentPollInterval() time.Duration {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.pollInterval
}

// setPollInterval takes effect on the running ticker via intervalCh. The send
// never blocks so the operator stays responsive when Run is not live.
func (a *App) setPollInterval(interval time.Duration) {
	a.opsMu.Lock()
	a.pollInterval = interval
	a.opsMu.Unlock()
	select {
	case a.intervalCh <- interval:
	default:
	}
}

func (a *App) isPaused() bool {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.paused
}

func (a *App) setPaused(paused bool) bool {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	a.paused = paused
	return a.paused
}
