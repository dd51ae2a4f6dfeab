// Package syncer moves data between the relay's local stores and the remote
// store whenever the relay has internet: queued reports go up, orders come
// down.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucaslui/resilientroute/internal/model"
	"github.com/lucaslui/resilientroute/internal/remote"
	"github.com/lucaslui/resilientroute/internal/retry"
)

const (
	DefaultInterval      = 5 * time.Second
	DefaultDrainAttempts = 5
	DefaultDrainBackoff  = 2 * time.Second
	DefaultPullLimit     = 100
	DefaultCallTimeout   = 15 * time.Second
)

// reportNamespace scopes the name-based ids of synced reports, so a report
// delivered twice overwrites its earlier copy.
var reportNamespace = uuid.MustParse("5b0f1c2e-8a4d-4f7e-9c1a-2d6e3f4a5b6c")

type Queue interface {
	DrainSnapshot() ([]model.Report, error)
	ConfirmDrained(n int) error
}

type MailCache interface {
	Replace(orders []model.Order) error
}

// Publisher receives every batch after it is confirmed in the remote store.
type Publisher interface {
	Publish(ctx context.Context, reports []model.Report)
}

type Options struct {
	Interval         time.Duration
	DrainAttempts    int
	DrainBackoff     time.Duration
	PullLimit        int
	CallTimeout      time.Duration
	ReportCollection string
	OrderCollection  string
}

func (o *Options) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.DrainAttempts <= 0 {
		o.DrainAttempts = DefaultDrainAttempts
	}
	if o.DrainBackoff < 0 {
		o.DrainBackoff = DefaultDrainBackoff
	}
	if o.PullLimit <= 0 {
		o.PullLimit = DefaultPullLimit
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.ReportCollection == "" {
		o.ReportCollection = "disaster_reports"
	}
	if o.OrderCollection == "" {
		o.OrderCollection = "courier_bag"
	}
}

// CycleReport summarizes one pass of the engine.
type CycleReport struct {
	Reachable   bool
	Created     bool // report collection was created this cycle
	Drained     int
	Dropped     int // queued records that fail the report schema, discarded
	Healed      bool
	Pulled      int
	PullSkipped bool // order collection does not exist yet
	Err         error
}

type Engine struct {
	store  remote.Store
	queue  Queue
	cache  MailCache
	prober Prober
	mirror Publisher
	opts   Options
	logger *zap.Logger

	guard       remote.SchemaGuard
	schemaReady bool
}

func New(store remote.Store, q Queue, cache MailCache, prober Prober, opts Options, logger *zap.Logger) *Engine {
	opts.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, queue: q, cache: cache, prober: prober, opts: opts, logger: logger}
}

// WithMirror sets the publisher that drained batches are fanned out to.
func (e *Engine) WithMirror(p Publisher) *Engine {
	e.mirror = p
	return e
}

// Run cycles until ctx is done. The first cycle starts immediately.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("[sync] engine started",
		zap.Duration("interval", e.opts.Interval),
		zap.String("reports", e.opts.ReportCollection),
		zap.String("orders", e.opts.OrderCollection))
	for {
		rep := e.RunCycle(ctx)
		e.logCycle(rep)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(e.opts.Interval):
		}
	}
}

// RunCycle performs PROBE, ENSURE_SCHEMA, DRAIN and PULL once. A failing
// step ends the cycle; its error is in the returned report.
func (e *Engine) RunCycle(ctx context.Context) CycleReport {
	var rep CycleReport

	if err := e.prober.Probe(ctx); err != nil {
		return rep
	}
	rep.Reachable = true

	if !e.schemaReady {
		created, err := e.ensureReports(ctx)
		if err != nil {
			rep.Err = fmt.Errorf("ensure schema: %w", err)
			return rep
		}
		rep.Created = created
		e.schemaReady = true
	}

	drained, dropped, healed, err := e.drain(ctx)
	rep.Drained, rep.Dropped, rep.Healed = drained, dropped, healed
	if err != nil {
		rep.Err = fmt.Errorf("drain: %w", err)
		return rep
	}

	pulled, skipped, err := e.pull(ctx)
	rep.Pulled, rep.PullSkipped = pulled, skipped
	if err != nil {
		rep.Err = fmt.Errorf("pull: %w", err)
	}
	return rep
}

func (e *Engine) ensureReports(ctx context.Context) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	return remote.EnsureCollection(cctx, e.store, e.opts.ReportCollection, []byte(model.ReportSchema))
}

// drain uploads the queued snapshot. Records that fail the report schema
// locally are dropped, never uploaded, and still removed from the queue; only
// a rejection of locally valid records counts as remote schema drift.
func (e *Engine) drain(ctx context.Context) (n, dropped int, healed bool, err error) {
	snapshot, err := e.queue.DrainSnapshot()
	if err != nil {
		return 0, 0, false, err
	}
	if len(snapshot) == 0 {
		return 0, 0, false, nil
	}
	batch, records := e.validRecords(snapshot)
	dropped = len(snapshot) - len(batch)
	if len(records) == 0 {
		if err := e.queue.ConfirmDrained(len(snapshot)); err != nil {
			return 0, dropped, false, fmt.Errorf("confirm %d records: %w", len(snapshot), err)
		}
		return 0, dropped, false, nil
	}

	err = retry.Do(ctx, e.opts.DrainAttempts, e.opts.DrainBackoff, func(ctx context.Context, attempt int) error {
		err := e.upsert(ctx, records)
		if err == nil {
			return nil
		}
		if needsHealing(err) {
			return retry.Permanent(err)
		}
		e.logger.Warn("[sync] upload failed", zap.Int("attempt", attempt), zap.Int("records", len(records)), zap.Error(err))
		return err
	})
	if err != nil && needsHealing(err) {
		e.logger.Warn("[sync] schema mismatch, recreating collection",
			zap.String("collection", e.opts.ReportCollection), zap.Error(err))
		healed = true
		err = e.heal(ctx, records)
	}
	if err != nil {
		if needsHealing(err) {
			e.schemaReady = false
		}
		return 0, dropped, healed, err
	}

	if err := e.queue.ConfirmDrained(len(snapshot)); err != nil {
		// The batch is in the remote store; it will be sent again and
		// overwrite itself there.
		return 0, dropped, healed, fmt.Errorf("confirm %d records: %w", len(snapshot), err)
	}
	if e.mirror != nil {
		e.mirror.Publish(ctx, batch)
	}
	return len(batch), dropped, healed, nil
}

func (e *Engine) heal(ctx context.Context, records []remote.Record) error {
	cctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	if err := remote.Recreate(cctx, e.store, e.opts.ReportCollection, []byte(model.ReportSchema)); err != nil {
		return err
	}
	return e.upsert(ctx, records)
}

func (e *Engine) upsert(ctx context.Context, records []remote.Record) error {
	cctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	return e.store.Upsert(cctx, e.opts.ReportCollection, records)
}

func (e *Engine) pull(ctx context.Context) (n int, skipped bool, err error) {
	cctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	exists, err := e.store.CollectionExists(cctx, e.opts.OrderCollection)
	if err != nil {
		return 0, false, err
	}
	if !exists {
		return 0, true, nil
	}
	records, err := e.store.Scroll(cctx, e.opts.OrderCollection, e.opts.PullLimit)
	if err != nil {
		return 0, false, err
	}

	orders := make([]model.Order, 0, len(records))
	for _, r := range records {
		var o model.Order
		if err := json.Unmarshal(r.Payload, &o); err != nil {
			e.logger.Warn("[sync] skipping undecodable order", zap.String("id", r.ID), zap.Error(err))
			continue
		}
		orders = append(orders, o)
	}
	if len(records) >= e.opts.PullLimit {
		e.logger.Warn("[sync] pull hit the limit, older orders may be missing from the cache",
			zap.Int("limit", e.opts.PullLimit))
	}
	if err := e.cache.Replace(orders); err != nil {
		return 0, false, err
	}
	return len(orders), false, nil
}

func (e *Engine) logCycle(rep CycleReport) {
	switch {
	case !rep.Reachable:
		e.logger.Debug("[sync] offline, skipping cycle")
	case rep.Err != nil:
		e.logger.Error("[sync] cycle failed", zap.Error(rep.Err), zap.Bool("healed", rep.Healed))
	case rep.Drained > 0 || rep.Dropped > 0 || rep.Healed || rep.Created:
		e.logger.Info("[sync] cycle done",
			zap.Int("drained", rep.Drained),
			zap.Int("dropped", rep.Dropped),
			zap.Int("pulled", rep.Pulled),
			zap.Bool("healed", rep.Healed),
			zap.Bool("created", rep.Created))
	default:
		e.logger.Debug("[sync] cycle done", zap.Int("pulled", rep.Pulled), zap.Bool("pullSkipped", rep.PullSkipped))
	}
}

func needsHealing(err error) bool {
	return errors.Is(err, remote.ErrSchemaMismatch) || errors.Is(err, remote.ErrCollectionNotFound)
}

// validRecords encodes the snapshot and keeps the reports that pass the
// report schema, in queue order.
func (e *Engine) validRecords(snapshot []model.Report) ([]model.Report, []remote.Record) {
	schema := []byte(model.ReportSchema)
	batch := make([]model.Report, 0, len(snapshot))
	records := make([]remote.Record, 0, len(snapshot))
	for i, r := range snapshot {
		if r.Kind == "" {
			r.Kind = model.KindSOS
		}
		payload, err := json.Marshal(r)
		if err == nil {
			rec := remote.Record{ID: uuid.NewSHA1(reportNamespace, payload).String(), Payload: payload}
			if err = e.guard.Check(schema, []remote.Record{rec}); err == nil {
				batch = append(batch, r)
				records = append(records, rec)
				continue
			}
		}
		e.logger.Warn("[sync] dropping invalid queued report",
			zap.Int("position", i), zap.String("id", r.SubjectID), zap.Error(err))
	}
	return batch, records
}
