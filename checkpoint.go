package docsync

import (
	"cmp"
	"context"
	"fmt"
)

// Checkpointer makes a stream resumable across runs.
//
// After every batch is fully loaded the pipeline saves the cursor of the last
// record in that batch. On the next run LoadCheckpoint returns that cursor and
// Extract resumes strictly after it. A crash between load and save re-processes
// at most the one unacknowledged batch, never loses it.
//
// Cursor values must increase monotonically with source ordering; the pipeline
// returns ErrCursorRegression instead of saving a smaller cursor.
//
// Example:
//
//	func (j *MyJob) Cursor(rec Record) string { return rec.ID }
//
//	func (j *MyJob) LoadCheckpoint(ctx context.Context) (*string, error) {
//	    id, ok := j.tracker.Last(j.kind)
//	    if !ok {
//	        return nil, nil
//	    }
//	    return &id, nil
//	}
//
//	func (j *MyJob) SaveCheckpoint(ctx context.Context, cursor string, stats *docsync.Stats) error {
//	    return j.tracker.Advance(ctx, j.kind, cursor)
//	}
//
//nolint:dupword // code example with multiple nil returns
type Checkpointer[S any, C cmp.Ordered] interface {
	// Cursor extracts a checkpoint cursor from a source record.
	Cursor(src S) C

	// LoadCheckpoint retrieves the last saved cursor.
	// Return (nil, nil) if no checkpoint exists (fresh start).
	LoadCheckpoint(ctx context.Context) (*C, error)

	// SaveCheckpoint persists cursor after the batch ending at cursor has been
	// loaded.
	SaveCheckpoint(ctx context.Context, cursor C, stats *Stats) error
}

// runEpochs drives the extract -> transform -> load -> save loop, one batch
// per epoch. ctx stops extraction; drainCtx carries in-flight work.
// Returns (drainedSuccessfully, error); drainedSuccessfully is true when the
// parent was cancelled and the current epoch still completed and was saved.
func (p *Pipeline[S, T, C]) runEpochs(ctx, drainCtx context.Context, cursor *C, stats *Stats) (bool, error) {
	for batch, err := range p.job.Extract(ctx, cursor) {
		if ctx.Err() != nil {
			// Shutdown requested between pages - nothing in flight.
			return true, nil
		}

		if err != nil {
			stats.incErrors(1)
			if p.skip(ctx, StageExtract, err) {
				continue
			}
			return false, fmt.Errorf("extract: %w", err)
		}

		if len(batch) == 0 {
			break
		}

		last, err := p.processEpoch(drainCtx, batch, stats)
		if err != nil {
			return false, err
		}

		if err := p.save(drainCtx, cursor, last, stats); err != nil {
			return false, err
		}
		cursor = &last

		if ctx.Err() != nil {
			// Shutdown requested during the epoch; it finished and was saved.
			return true, nil
		}
	}

	return ctx.Err() != nil, nil
}

// processEpoch filters, transforms and loads one batch. It returns the cursor
// of the last extracted record so filtered-out tails still advance the stream.
func (p *Pipeline[S, T, C]) processEpoch(ctx context.Context, batch []S, stats *Stats) (C, error) {
	var last C
	stats.incExtracted(int64(len(batch)))

	kept := batch
	if p.filter != nil {
		kept = make([]S, 0, len(batch))
		for _, rec := range batch {
			if p.filter.Include(rec) {
				kept = append(kept, rec)
			} else {
				stats.incFiltered(1)
			}
		}
	}

	if p.checkpoint != nil {
		last = p.checkpoint.Cursor(batch[len(batch)-1])
	}
	stats.incBatches(1)

	if len(kept) == 0 {
		return last, nil
	}

	rows, err := p.job.Transform(ctx, kept)
	if err != nil {
		stats.incErrors(1)
		if p.skip(ctx, StageTransform, err) {
			return last, nil
		}
		return last, fmt.Errorf("transform: %w", err)
	}
	stats.incTransformed(int64(len(kept)))

	if len(rows) == 0 {
		return last, nil
	}

	return last, p.load(ctx, p.batches(rows), stats)
}

// save persists the cursor for a completed epoch. A cursor that does not move
// forward is rejected rather than written.
func (p *Pipeline[S, T, C]) save(ctx context.Context, prev *C, next C, stats *Stats) error {
	if p.checkpoint == nil {
		return nil
	}
	if prev != nil && cmp.Compare(next, *prev) <= 0 {
		return fmt.Errorf("%w: %v after %v", ErrCursorRegression, next, *prev)
	}
	if err := p.checkpoint.SaveCheckpoint(ctx, next, stats); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}
