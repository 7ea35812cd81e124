// Package pipeline orchestrates retrieve and process units across sources and
// hands the resulting observations to the store and publisher.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
	"github.com/couchcryptid/humanitarian-data-etl/internal/observability"
	"github.com/couchcryptid/humanitarian-data-etl/internal/rawstore"
	"github.com/couchcryptid/humanitarian-data-etl/internal/source"
)

const (
	baseBackoff   = 200 * time.Millisecond
	maxBackoff    = 5 * time.Second
	maxRetryAfter = time.Minute
)

// ObservationStore persists observations with create-or-update semantics keyed
// by (source_record_id, variable_code).
type ObservationStore interface {
	Upsert(ctx context.Context, obs []domain.Observation) (int, error)
	// LatestEndDate returns the newest end date stored for (source, variable),
	// or false when nothing is stored yet.
	LatestEndDate(ctx context.Context, source, variable string) (time.Time, bool, error)
}

// Publisher forwards stored observations downstream.
type Publisher interface {
	Publish(ctx context.Context, obs []domain.Observation) error
}

// RawLoader returns the newest raw artifact for (source, variable).
type RawLoader interface {
	Latest(source, variable string) (domain.RawBatch, error)
}

// Mode selects which half of a unit runs.
type Mode int

const (
	// ModeFull retrieves then processes.
	ModeFull Mode = iota
	// ModeRetrieve only fetches and stores raw artifacts.
	ModeRetrieve
	// ModeProcess re-processes the newest stored artifact without any network call.
	ModeProcess
)

func (m Mode) String() string {
	switch m {
	case ModeRetrieve:
		return "retrieve"
	case ModeProcess:
		return "process"
	default:
		return "full"
	}
}

// Config wires an Orchestrator. Store, Publisher, and Raw are optional.
type Config struct {
	Adapters    []source.Adapter
	Store       ObservationStore
	Publisher   Publisher
	Raw         RawLoader
	Clock       clockwork.Clock
	Logger      *slog.Logger
	Metrics     *observability.Metrics
	Concurrency int
	MaxAttempts int
	Force       bool

	// Backoff overrides the first retry delay.
	Backoff time.Duration
}

// Orchestrator runs (source, variable) units. Sources run concurrently and
// each source's variables run in order.
type Orchestrator struct {
	adapters    []source.Adapter
	store       ObservationStore
	publisher   Publisher
	raw         RawLoader
	clock       clockwork.Clock
	logger      *slog.Logger
	metrics     *observability.Metrics
	concurrency int
	maxAttempts int
	force       bool
	backoff     time.Duration
	ready       atomic.Bool
	runMu       sync.Mutex
	last        atomic.Pointer[RunReport]
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		adapters:    cfg.Adapters,
		store:       cfg.Store,
		publisher:   cfg.Publisher,
		raw:         cfg.Raw,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		concurrency: cfg.Concurrency,
		maxAttempts: cfg.MaxAttempts,
		force:       cfg.Force,
		backoff:     cfg.Backoff,
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = observability.NewMetricsForTesting()
	}
	if o.concurrency <= 0 {
		o.concurrency = 1
	}
	if o.maxAttempts <= 0 {
		o.maxAttempts = 1
	}
	if o.backoff <= 0 {
		o.backoff = baseBackoff
	}
	return o
}

// CheckReadiness returns nil once a run has completed.
func (o *Orchestrator) CheckReadiness(_ context.Context) error {
	if !o.ready.Load() {
		return errors.New("no pipeline run has completed yet")
	}
	return nil
}

// LastReport returns the most recent completed run, if any.
func (o *Orchestrator) LastReport() (RunReport, bool) {
	r := o.last.Load()
	if r == nil {
		return RunReport{}, false
	}
	return *r, true
}

// Run retrieves and processes every unit.
func (o *Orchestrator) Run(ctx context.Context) (RunReport, error) {
	return o.run(ctx, ModeFull)
}

// RetrieveOnly fetches raw artifacts for every unit without processing them.
func (o *Orchestrator) RetrieveOnly(ctx context.Context) (RunReport, error) {
	return o.run(ctx, ModeRetrieve)
}

// ProcessLatest processes the newest stored raw artifact of every unit.
func (o *Orchestrator) ProcessLatest(ctx context.Context) (RunReport, error) {
	if o.raw == nil {
		return RunReport{}, errors.New("process mode needs a raw data store")
	}
	return o.run(ctx, ModeProcess)
}

// Serve runs immediately and then every interval until ctx is cancelled.
func (o *Orchestrator) Serve(ctx context.Context, interval time.Duration) error {
	o.logger.Info("scheduler started", "interval", interval.String())
	ticker := o.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := o.Run(ctx); err != nil && ctx.Err() == nil {
			o.logger.Error("pipeline run failed", "error", err)
		}
		select {
		case <-ctx.Done():
			o.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

func (o *Orchestrator) run(ctx context.Context, mode Mode) (RunReport, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	report := RunReport{ID: uuid.NewString(), Mode: mode.String(), Started: o.clock.Now().UTC()}
	log := o.logger.With("run_id", report.ID, "mode", report.Mode)
	log.Info("pipeline run started", "sources", len(o.adapters))

	o.metrics.PipelineRunning.Set(1)
	defer o.metrics.PipelineRunning.Set(0)

	perSource := make([][]UnitReport, len(o.adapters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, a := range o.adapters {
		g.Go(func() error {
			for _, v := range a.Variables() {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				perSource[i] = append(perSource[i], o.runUnit(gctx, log, mode, a, v))
			}
			return nil
		})
	}
	err := g.Wait()

	for _, units := range perSource {
		report.Units = append(report.Units, units...)
	}
	report.Finished = o.clock.Now().UTC()
	o.metrics.RunDuration.Observe(report.Finished.Sub(report.Started).Seconds())

	if err != nil {
		log.Warn("pipeline run interrupted", "error", err, "units", len(report.Units))
		return report, fmt.Errorf("pipeline run %s: %w", report.ID, err)
	}

	o.last.Store(&report)
	o.ready.Store(true)
	log.Info("pipeline run finished",
		"units", len(report.Units),
		"failed", report.Count(StatusFailed),
		"skipped", report.Count(StatusSkipped),
		"observations", report.Observations(),
		"duration", report.Finished.Sub(report.Started).String(),
	)
	return report, nil
}

// runUnit executes one (source, variable) unit. Failures are recorded in the
// report and never abort sibling units.
func (o *Orchestrator) runUnit(ctx context.Context, runLog *slog.Logger, mode Mode, a source.Adapter, v domain.Variable) (rep UnitReport) {
	start := o.clock.Now()
	rep = UnitReport{Source: a.Name(), Variable: v.Code}
	log := runLog.With("source", a.Name(), "variable", v.Code)

	defer func() {
		rep.Duration = o.clock.Since(start)
		o.metrics.UnitsTotal.WithLabelValues(rep.Source, string(rep.Status)).Inc()
	}()

	batch, err := o.obtain(ctx, log, mode, a, v, &rep)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUpToDate), errors.Is(err, rawstore.ErrNotFound):
			log.Info("unit skipped", "reason", err.Error())
			rep.skip(err)
		default:
			log.Error("retrieve failed", "error", err, "attempts", rep.Attempts)
			rep.fail(err)
		}
		return rep
	}
	if mode == ModeRetrieve {
		log.Info("raw data stored", "path", batch.Path, "bytes", len(batch.Body))
		rep.Status = StatusOK
		return rep
	}

	res, err := a.Process(ctx, v, batch)
	if err != nil {
		log.Error("process failed", "error", err, "path", batch.Path)
		rep.fail(err)
		return rep
	}
	obs := o.validate(log, &res)

	rep.Processed = len(obs)
	rep.Skipped = res.Skipped
	rep.Errors = len(res.Errors)
	o.metrics.RecordsProcessed.WithLabelValues(rep.Source, rep.Variable).Add(float64(rep.Processed))
	o.metrics.RecordsSkipped.WithLabelValues(rep.Source, rep.Variable).Add(float64(rep.Skipped))
	o.metrics.RecordErrors.WithLabelValues(rep.Source, rep.Variable).Add(float64(rep.Errors))
	for _, e := range res.Errors {
		log.Debug("record error", "error", e)
	}

	if err := o.persist(ctx, obs, &rep); err != nil {
		log.Error("store observations failed", "error", err, "observations", len(obs))
		rep.fail(err)
		return rep
	}

	rep.Status = StatusOK
	log.Info("unit finished",
		"processed", rep.Processed,
		"skipped", rep.Skipped,
		"errors", rep.Errors,
		"saved", rep.Saved,
	)
	return rep
}

// obtain returns the raw batch for a unit: from the raw store in process mode,
// otherwise from the provider with retries.
func (o *Orchestrator) obtain(ctx context.Context, log *slog.Logger, mode Mode, a source.Adapter, v domain.Variable, rep *UnitReport) (domain.RawBatch, error) {
	if mode == ModeProcess {
		return o.raw.Latest(a.Name(), v.Code)
	}

	opts := source.RetrieveOptions{Force: o.force}
	if o.store != nil && !o.force {
		latest, ok, err := o.store.LatestEndDate(ctx, a.Name(), v.Code)
		if err != nil {
			return domain.RawBatch{}, fmt.Errorf("latest stored date: %w", err)
		}
		if ok {
			opts.Since = latest.AddDate(0, 0, 1)
			log.Debug("incremental retrieve", "since", opts.Since.Format(domain.DateLayout))
		}
	}
	return o.retrieve(ctx, log, a, v, opts, rep)
}

// retrieve calls the adapter, retrying rate-limited failures with exponential
// backoff. Other errors return immediately.
func (o *Orchestrator) retrieve(ctx context.Context, log *slog.Logger, a source.Adapter, v domain.Variable, opts source.RetrieveOptions, rep *UnitReport) (domain.RawBatch, error) {
	backoff := o.backoff
	for {
		rep.Attempts++
		batch, err := a.Retrieve(ctx, v, opts)
		if err == nil {
			return batch, nil
		}
		if !domain.IsRetryable(err) || rep.Attempts >= o.maxAttempts || ctx.Err() != nil {
			return domain.RawBatch{}, err
		}

		wait := retryWait(err, backoff)
		log.Warn("retrieve rate limited, backing off", "attempt", rep.Attempts, "wait", wait.String())
		if !o.sleep(ctx, wait) {
			return domain.RawBatch{}, ctx.Err()
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
}

func (o *Orchestrator) persist(ctx context.Context, obs []domain.Observation, rep *UnitReport) error {
	if len(obs) == 0 {
		return nil
	}
	if o.store != nil {
		n, err := o.store.Upsert(ctx, obs)
		if err != nil {
			return err
		}
		rep.Saved = n
		o.metrics.ObservationsSaved.WithLabelValues(rep.Source).Add(float64(n))
	}
	if o.publisher != nil {
		if err := o.publisher.Publish(ctx, obs); err != nil {
			return fmt.Errorf("publish observations: %w", err)
		}
	}
	return nil
}

// retryWait honours a provider Retry-After when it exceeds the current backoff.
func retryWait(err error, backoff time.Duration) time.Duration {
	var retErr *domain.RetrievalError
	if errors.As(err, &retErr) && retErr.RetryAfter > backoff {
		return min(retErr.RetryAfter, maxRetryAfter)
	}
	return backoff
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// sleep waits d on the orchestrator clock. It returns false if ctx ends first.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := o.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
