// Package runner sequences a sync run: three dependency-ordered stages, each
// finishing before the next begins.
//
// Stage independent loads star alone, then country, city, zone, and receiver
// on a bounded worker pool. Stage address extracts orders once and derives
// pickup and dropoff addresses from the same batches. Stage order replays the
// order extraction for orders, confirmations, and COD payments, then syncs
// trackers.
//
// Within a stage a failed kind does not stop its siblings; the stage is
// reported failed once every kind has finished, and no later stage starts.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bjaus/docsync"
	"github.com/bjaus/docsync/internal/checkpoint"
	"github.com/bjaus/docsync/internal/load"
	"github.com/bjaus/docsync/internal/notify"
	"github.com/bjaus/docsync/internal/resolve"
	"github.com/bjaus/docsync/internal/schema"
	"github.com/bjaus/docsync/internal/source"
	"github.com/bjaus/docsync/internal/transform"
)

// DefaultWorkers bounds the concurrent kinds of the independent stage.
const DefaultWorkers = 3

const notifyTimeout = 30 * time.Second

// Options tunes a run. Zero values take package defaults.
type Options struct {
	BatchSize        int
	Workers          int
	ResolveThreshold int
	LoadChunkSize    int
	ReportInterval   int
	// DrainTimeout bounds how long an in-flight batch may finish after
	// cancellation. Negative disables draining.
	DrainTimeout time.Duration
	// LogRef is passed to the notifier so an operator can find the logs.
	LogRef string
}

// Deps are the collaborators of a run.
type Deps struct {
	Finder   source.Finder
	Lookup   resolve.Lookup
	Upserter load.Upserter
	Store    checkpoint.Store
	Notifier notify.Notifier
	Log      zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Runner executes sync runs. Each Run builds its own resolver cache and
// checkpoint view, so runs share nothing but the store handles.
type Runner struct {
	deps Deps
	opts Options
}

// New validates deps and returns a runner.
func New(deps Deps, opts Options) (*Runner, error) {
	var errs []error
	if deps.Finder == nil {
		errs = append(errs, errors.New("source finder is required"))
	}
	if deps.Lookup == nil {
		errs = append(errs, errors.New("target lookup is required"))
	}
	if deps.Upserter == nil {
		errs = append(errs, errors.New("target upserter is required"))
	}
	if deps.Store == nil {
		errs = append(errs, errors.New("checkpoint store is required"))
	}
	if err := schema.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("runner: %w", errors.Join(errs...))
	}

	if deps.Notifier == nil {
		deps.Notifier = notify.Nop
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	switch {
	case opts.DrainTimeout == 0:
		opts.DrainTimeout = docsync.DefaultDrainTimeout
	case opts.DrainTimeout < 0:
		opts.DrainTimeout = 0
	}
	return &Runner{deps: deps, opts: opts}, nil
}

// runContext holds everything scoped to one run.
type runContext struct {
	id          uuid.UUID
	opts        Options
	log         zerolog.Logger
	tracker     *checkpoint.Tracker
	extractor   *source.Extractor
	transformer *transform.Transformer
	loader      *load.Loader
	report      *Report
}

// Run performs one sync. The returned report is never nil. On failure the
// error is a *RunError and the notifier has been called.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	started := r.deps.Now().UTC()
	id := uuid.New()
	log := r.deps.Log.With().Str("run_id", id.String()).Logger()
	report := &Report{RunID: id, Started: started}

	log.Info().Time("started", started).Msg("sync run starting")

	tracker, err := checkpoint.Open(ctx, r.deps.Store, log)
	if err != nil {
		return r.finish(ctx, report, log, &RunError{Stage: StageStartup, Err: err})
	}

	rc := &runContext{
		id:          id,
		opts:        r.opts,
		log:         log,
		tracker:     tracker,
		extractor:   source.NewExtractor(r.deps.Finder, tracker, r.opts.BatchSize, log),
		transformer: transform.New(resolve.New(r.deps.Lookup, r.opts.ResolveThreshold, log), log),
		loader:      load.New(r.deps.Upserter, r.opts.LoadChunkSize, log),
		report:      report,
	}

	stages := []struct {
		name Stage
		run  func(context.Context, *runContext, *StageReport) error
	}{
		{StageIndependent, r.independent},
		{StageAddress, r.address},
		{StageOrder, r.order},
	}
	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return r.finish(ctx, report, log, &RunError{Stage: st.name, Err: context.Cause(ctx)})
		}

		rep := report.stage(st.name)
		stageLog := log.With().Str("stage", string(st.name)).Logger()
		stageLog.Info().Msg("stage starting")
		if err := st.run(ctx, rc, rep); err != nil {
			rep.fail(err)
			return r.finish(ctx, report, log, err)
		}
		stageLog.Info().Object("totals", rep.Totals()).Msg("stage complete")
	}

	if err := ctx.Err(); err != nil {
		return r.finish(ctx, report, log, &RunError{Stage: StageFinalize, Err: context.Cause(ctx)})
	}
	if err := tracker.AdvanceCutoff(ctx, started); err != nil {
		return r.finish(ctx, report, log, &RunError{Stage: StageFinalize, Err: err})
	}
	return r.finish(ctx, report, log, nil)
}

func (r *Runner) finish(ctx context.Context, report *Report, log zerolog.Logger, err error) (*Report, error) {
	report.Finished = r.deps.Now().UTC()
	for _, s := range report.Stages() {
		for _, k := range s.Kinds() {
			log.Info().EmbedObject(k).Msg("kind summary")
		}
	}
	if err == nil {
		log.Info().Dur("duration", report.Finished.Sub(report.Started)).Msg("sync run complete")
		return report, nil
	}

	var rerr *RunError
	if !errors.As(err, &rerr) {
		rerr = &RunError{Err: err}
	}
	failure := notify.Failure{
		RunID:  report.RunID,
		Stage:  string(rerr.Stage),
		Kind:   rerr.Kind,
		Time:   report.Finished,
		LogRef: r.opts.LogRef,
		Err:    rerr.Err,
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if nerr := r.deps.Notifier.Notify(nctx, failure); nerr != nil {
		log.Error().Err(nerr).Msg("failure notification not delivered")
	}
	return report, rerr
}

// independent loads star first, then the remaining root kinds concurrently.
// A failed star fails the stage but does not keep the others from running.
func (r *Runner) independent(ctx context.Context, rc *runContext, rep *StageReport) error {
	rc.stream(StageIndependent, schema.KindStar, rc.direct(schema.KindStar)).run(ctx, rep)

	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	for _, kind := range []schema.Kind{schema.KindCountry, schema.KindCity, schema.KindZone, schema.KindReceiver} {
		g.Go(func() error {
			rc.stream(StageIndependent, kind, rc.direct(kind)).run(ctx, rep)
			return nil
		})
	}
	_ = g.Wait()

	return stageError(StageIndependent, rep)
}

// address derives both address kinds from one order extraction.
func (r *Runner) address(ctx context.Context, rc *runContext, rep *StageReport) error {
	kinds := []schema.Kind{schema.KindAddressPickup, schema.KindAddressDropoff}
	batches, err := rc.materializeOrders(ctx, kinds...)
	if err != nil {
		return &RunError{Stage: StageAddress, Kind: schema.KindOrder, Err: err}
	}
	for _, kind := range kinds {
		rc.stream(StageAddress, kind, replay(batches)).run(ctx, rep)
	}
	return stageError(StageAddress, rep)
}

// order loads orders, then the rows embedded in them, then trackers.
func (r *Runner) order(ctx context.Context, rc *runContext, rep *StageReport) error {
	batches, err := rc.materializeOrders(ctx, schema.KindOrder, schema.KindConfirmation, schema.KindCODPayment)
	if err != nil {
		return &RunError{Stage: StageOrder, Kind: schema.KindOrder, Err: err}
	}

	if k := rc.stream(StageOrder, schema.KindOrder, replay(batches)).run(ctx, rep); !k.OK() {
		return &RunError{Stage: StageOrder, Kind: k.Kind, Err: k.Err}
	}

	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	for _, kind := range []schema.Kind{schema.KindConfirmation, schema.KindCODPayment} {
		g.Go(func() error {
			rc.stream(StageOrder, kind, replay(batches)).run(ctx, rep)
			return nil
		})
	}
	_ = g.Wait()

	rc.stream(StageOrder, schema.KindTracker, rc.direct(schema.KindTracker)).run(ctx, rep)
	return stageError(StageOrder, rep)
}

// materializeOrders extracts orders once for several kinds, starting after
// the smallest of their cursors. Each kind filters what it already has.
func (rc *runContext) materializeOrders(ctx context.Context, kinds ...schema.Kind) ([]source.Batch, error) {
	after := rc.minCursor(kinds...)
	batches, err := source.Materialize(rc.extractor.ExtractAfter(ctx, schema.KindOrder, after))
	if err != nil {
		return nil, err
	}
	var records int
	for _, b := range batches {
		records += b.Len()
	}
	rc.log.Info().
		Str("after", after).
		Int("batches", len(batches)).
		Int("records", records).
		Msg("orders materialized")
	return batches, nil
}

// minCursor returns the smallest committed cursor of kinds, or "" when any
// of them has none.
func (rc *runContext) minCursor(kinds ...schema.Kind) string {
	var lowest string
	for i, k := range kinds {
		id, ok := rc.tracker.Last(k)
		if !ok {
			return ""
		}
		if i == 0 || id < lowest {
			lowest = id
		}
	}
	return lowest
}

func stageError(stage Stage, rep *StageReport) error {
	if k := rep.firstFailure(); k != nil {
		return &RunError{Stage: stage, Kind: k.Kind, Err: k.Err}
	}
	return nil
}
