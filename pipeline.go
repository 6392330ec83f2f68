package docsync

import (
	"cmp"
	"context"
	"fmt"
	"time"
)

// Pipeline drives one Job through checkpointed epochs.
type Pipeline[S, T any, C cmp.Ordered] struct {
	job Job[S, T, C]

	// Optional capabilities, detected from the job.
	filter     Filter[S]
	errHandler ErrorHandler
	progress   ProgressReporter
	checkpoint Checkpointer[S, C]
	starter    Starter
	stopper    Stopper
	batcher    Batcher[T]

	reportEvery setting[int]
	drain       setting[time.Duration]
}

// New creates a Pipeline for job, detecting its optional interfaces.
//
// Without a Checkpointer the job is still run batch by batch, but every run
// starts from the beginning of the source.
func New[S, T any, C cmp.Ordered](job Job[S, T, C]) *Pipeline[S, T, C] {
	p := &Pipeline[S, T, C]{
		job:         job,
		reportEvery: setting[int]{def: DefaultReportInterval},
		drain:       setting[time.Duration]{def: DefaultDrainTimeout},
	}

	p.filter, _ = any(job).(Filter[S])
	p.errHandler, _ = any(job).(ErrorHandler)
	p.progress, _ = any(job).(ProgressReporter)
	p.checkpoint, _ = any(job).(Checkpointer[S, C])
	p.starter, _ = any(job).(Starter)
	p.stopper, _ = any(job).(Stopper)
	p.batcher, _ = any(job).(Batcher[T])

	if j, ok := any(job).(ReportInterval); ok {
		p.reportEvery.job = positive(j.ReportInterval)
	}
	if j, ok := any(job).(DrainTimeout); ok {
		p.drain.job = func() (time.Duration, bool) { return j.DrainTimeout(), true }
	}
	return p
}

// WithDrainTimeout overrides the graceful shutdown timeout. Zero disables
// draining; negative values are ignored.
func (p *Pipeline[S, T, C]) WithDrainTimeout(d time.Duration) *Pipeline[S, T, C] {
	if d >= 0 {
		p.drain.pin(d)
	}
	return p
}

// Run executes the pipeline until Extract is exhausted, an error stops it, or
// the parent context is cancelled. The returned Stats are never nil.
func (p *Pipeline[S, T, C]) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if p.starter != nil {
		ctx = p.starter.Start(ctx)
	}

	var cursor *C
	if p.checkpoint != nil {
		c, err := p.checkpoint.LoadCheckpoint(ctx)
		if err != nil {
			return stats, fmt.Errorf("failed to load checkpoint: %w", err)
		}
		cursor = c
	}

	drainCtx, stop := p.drainContext(ctx)
	defer stop()

	drained, err := p.runEpochs(ctx, drainCtx, cursor, stats)

	if p.stopper != nil {
		p.stopper.Stop(drainCtx, stats, err)
	}

	switch {
	case err != nil:
		return stats, err
	case ctx.Err() != nil && (!drained || p.drain.get() <= 0):
		return stats, ctx.Err()
	}
	// Graceful shutdown is not an error: the last epoch was saved.
	return stats, nil
}

// drainContext returns a context for in-flight work that survives
// cancellation of ctx by at most the drain timeout. stop releases it once
// the run is over.
func (p *Pipeline[S, T, C]) drainContext(ctx context.Context) (context.Context, func()) {
	timeout := p.drain.get()
	drainCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	done := make(chan struct{})

	go func() {
		select {
		case <-done:
			cancel(nil)
			return
		case <-ctx.Done():
		}

		if timeout <= 0 {
			cancel(ctx.Err())
			return
		}
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel(fmt.Errorf("drain timeout expired after %v", timeout))
		case <-done:
			cancel(nil)
		}
	}()

	return drainCtx, func() { close(done) }
}

// skip asks the ErrorHandler whether err may be skipped.
func (p *Pipeline[S, T, C]) skip(ctx context.Context, stage Stage, err error) bool {
	return p.errHandler != nil && p.errHandler.OnError(ctx, stage, err) == ActionSkip
}

// load passes the batches of one epoch to Load in order. Batches loaded
// before a failure stay loaded.
func (p *Pipeline[S, T, C]) load(ctx context.Context, batches [][]T, stats *Stats) error {
	every := int64(p.reportEvery.get())

	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := p.job.Load(ctx, batch); err != nil {
			stats.incErrors(1)
			if p.skip(ctx, StageLoad, err) {
				continue
			}
			return fmt.Errorf("load: %w", err)
		}

		n := int64(len(batch))
		total := stats.incLoaded(n)
		if p.progress != nil && total/every > (total-n)/every {
			p.progress.OnProgress(ctx, stats)
		}
	}
	return nil
}

func (p *Pipeline[S, T, C]) batches(rows []T) [][]T {
	if p.batcher != nil {
		return p.batcher.Batch(rows)
	}
	return SizeBatcher[T](DefaultLoadBatchSize).Batch(rows)
}
