package metrics

import (
	"math/big"
	"net/http"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"futarchy-guard/internal/band"
)

const promNamespace = "futarchy_guard"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type promBand struct {
	inBand  *prometheus.GaugeVec
	price   *prometheus.GaugeVec
	floor   *prometheus.GaugeVec
	ceiling *prometheus.GaugeVec
}

func (p promBand) Observe(proposal string, check band.Check) {
	inBand := 0.0
	if check.InBand {
		inBand = 1.0
	}
	p.inBand.WithLabelValues(proposal).Set(inBand)
	p.price.WithLabelValues(proposal).Set(priceToFloat(check.Price))
	p.floor.WithLabelValues(proposal).Set(priceToFloat(check.Floor))
	p.ceiling.WithLabelValues(proposal).Set(priceToFloat(check.Ceiling))
}

// priceToFloat rescales a fixed-point price for dashboards. Lossy by nature;
// the exact values live in the timescale history, never here.
func priceToFloat(x *uint256.Int) float64 {
	if x == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(x.ToBig()).Float64()
	return f / band.PriceScale
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	checksTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "band_checks_total",
		Help:      "Total number of band checks performed.",
	})
	violationsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "band_violations_total",
		Help:      "Total number of band checks that found the spot price outside the band.",
	})
	snapshotErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "snapshot_errors_total",
		Help:      "Total number of snapshot fetch or verification failures.",
	})
	alertsSent := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "alerts_sent_total",
		Help:      "Total number of alert messages sent.",
	})
	watchedProposals := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "watched_proposals",
		Help:      "Number of proposals currently being watched.",
	})
	labels := []string{"proposal"}
	inBand := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "in_band",
		Help:      "Whether the latest check found the spot price inside the band (1) or not (0).",
	}, labels)
	price := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "spot_price",
		Help:      "Latest observed spot price, descaled.",
	}, labels)
	floor := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "band_floor",
		Help:      "Latest computed band floor, descaled.",
	}, labels)
	ceiling := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "band_ceiling",
		Help:      "Latest computed band ceiling, descaled.",
	}, labels)

	registry.MustRegister(checksTotal, violationsTotal, snapshotErrors, alertsSent, watchedProposals, inBand, price, floor, ceiling)

	m := &Metrics{
		ChecksTotal:      promCounter{checksTotal},
		ViolationsTotal:  promCounter{violationsTotal},
		SnapshotErrors:   promCounter{snapshotErrors},
		AlertsSent:       promCounter{alertsSent},
		WatchedProposals: promGauge{watchedProposals},
		Band:             promBand{inBand: inBand, price: price, floor: floor, ceiling: ceiling},
	}

	return &Prometheus{
		Metrics:  m,
		registry: registry,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
