package docsync

import "context"

// Filter excludes records before transformation.
//
// Filter runs on every extracted record before Transform sees the batch.
// Filtered records still advance the cursor, so a resumed stream does not
// extract them again. Streams that share one materialized extraction use this
// to skip records they already committed in an earlier run.
//
// Example:
//
//	func (j *MyJob) Include(rec Record) bool {
//	    return j.after == nil || rec.ID > *j.after
//	}
type Filter[S any] interface {
	// Include returns true if the record should be processed.
	Include(src S) bool
}

// ErrorHandler customizes error handling per pipeline stage. Without an
// ErrorHandler, the pipeline stops on the first error in any stage.
//
// Returning ActionSkip drops the whole batch and advances the cursor past it;
// only do that when losing the batch is acceptable. Skipped errors still
// increment Stats.Errors.
//
//	func (j *MyJob) OnError(ctx context.Context, stage docsync.Stage, err error) docsync.Action {
//	    zerolog.Ctx(ctx).Error().Err(err).Str("stage", string(stage)).Msg("batch failed")
//	    return docsync.ActionFail
//	}
type ErrorHandler interface {
	// OnError is called when an error occurs during any stage.
	OnError(ctx context.Context, stage Stage, err error) Action
}

// Starter is called once before the checkpoint is read and extraction begins.
// The returned context is used for the entire run, which makes it the place to
// attach a request-scoped logger.
type Starter interface {
	Start(ctx context.Context) context.Context
}

// Stopper is called exactly once after the run finishes, whether it succeeded,
// failed, or stopped early because the parent context was cancelled.
//
// The ctx passed to Stop is the drain context, which stays valid after the
// parent is cancelled. err is the same value Run returns.
type Stopper interface {
	Stop(ctx context.Context, stats *Stats, err error)
}
