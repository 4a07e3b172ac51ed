package metrics

import "futarchy-guard/internal/band"

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(v float64)
}

// BandObserver records the outcome of one band check for a proposal.
type BandObserver interface {
	Observe(proposal string, check band.Check)
}

type Metrics struct {
	ChecksTotal      Counter
	ViolationsTotal  Counter
	SnapshotErrors   Counter
	AlertsSent       Counter
	WatchedProposals Gauge
	Band             BandObserver
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

type noopBand struct{}

func (noopBand) Observe(string, band.Check) {}

func NewNoop() *Metrics {
	return &Metrics{
		ChecksTotal:      noopCounter{},
		ViolationsTotal:  noopCounter{},
		SnapshotErrors:   noopCounter{},
		AlertsSent:       noopCounter{},
		WatchedProposals: noopGauge{},
		Band:             noopBand{},
	}
}
