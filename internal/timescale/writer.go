package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"futarchy-guard/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// BandCheck is one enforcement pass over a proposal's markets. Prices are
// decimal strings of scaled integers so 128-bit values reach NUMERIC columns
// without loss.
type BandCheck struct {
	Time      time.Time
	Proposal  string
	Seq       uint64
	InBand    bool
	SpotPrice string
	Floor     string
	Ceiling   string
	Outcomes  int
}

// ViolationEvent marks a transition into or out of violation.
type ViolationEvent struct {
	Time      time.Time
	Proposal  string
	Seq       uint64
	Entered   bool
	SpotPrice string
	Floor     string
	Ceiling   string
}

type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	checks     chan BandCheck
	violations chan ViolationEvent
	started    atomic.Bool
	dropCheck  atomic.Uint64
	dropViol   atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:         db,
		log:        log,
		schema:     schema,
		checks:     make(chan BandCheck, queueSize),
		violations: make(chan ViolationEvent, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueCheck(check BandCheck) {
	if w == nil {
		return
	}
	select {
	case w.checks <- check:
		return
	default:
		if w.dropCheck.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale check queue full")
		}
	}
}

func (w *Writer) EnqueueViolation(event ViolationEvent) {
	if w == nil {
		return
	}
	select {
	case w.violations <- event:
		return
	default:
		if w.dropViol.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale violation queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case check := <-w.checks:
			w.writeCheck(ctx, check)
		case event := <-w.violations:
			w.writeViolation(ctx, event)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		proposal TEXT NOT NULL,
		seq BIGINT NOT NULL,
		in_band BOOLEAN NOT NULL,
		spot_price NUMERIC(40,0) NOT NULL,
		floor NUMERIC(40,0) NOT NULL,
		ceiling NUMERIC(40,0) NOT NULL,
		outcomes INTEGER NOT NULL
	)`, w.table("band_checks"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		proposal TEXT NOT NULL,
		seq BIGINT NOT NULL,
		entered BOOLEAN NOT NULL,
		spot_price NUMERIC(40,0) NOT NULL,
		floor NUMERIC(40,0) NOT NULL,
		ceiling NUMERIC(40,0) NOT NULL
	)`, w.table("band_violations"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("band_checks"))); err != nil && w.log != nil {
		w.log.Warn("timescale band_checks hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("band_violations"))); err != nil && w.log != nil {
		w.log.Warn("timescale band_violations hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeCheck(ctx context.Context, check BandCheck) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, proposal, seq, in_band, spot_price, floor, ceiling, outcomes
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8
	)`, w.table("band_checks"))
	if _, err := w.db.ExecContext(ctx, query,
		check.Time,
		check.Proposal,
		check.Seq,
		check.InBand,
		check.SpotPrice,
		check.Floor,
		check.Ceiling,
		check.Outcomes,
	); err != nil && w.log != nil {
		w.log.Warn("timescale check insert failed", zap.Error(err))
	}
}

func (w *Writer) writeViolation(ctx context.Context, event ViolationEvent) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, proposal, seq, entered, spot_price, floor, ceiling
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7
	)`, w.table("band_violations"))
	if _, err := w.db.ExecContext(ctx, query,
		event.Time,
		event.Proposal,
		event.Seq,
		event.Entered,
		event.SpotPrice,
		event.Floor,
		event.Ceiling,
	); err != nil && w.log != nil {
		w.log.Warn("timescale violation insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
