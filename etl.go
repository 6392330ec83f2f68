package docsync

import (
	"cmp"
	"context"
	"errors"
	"iter"
)

// Stage identifies where in the pipeline an event occurred.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageTransform Stage = "transform"
	StageLoad      Stage = "load"
)

// Action tells the pipeline what to do after an error.
type Action string

const (
	ActionFail Action = "fail" // Stop pipeline and return error
	ActionSkip Action = "skip" // Skip this batch and continue
)

// ErrCursorRegression is returned when a batch would move the saved cursor
// backwards. Extract must yield batches in strictly ascending cursor order.
var ErrCursorRegression = errors.New("docsync: cursor moved backwards")

// Job defines the core operations of one synchronized stream. This is the only
// required interface to implement.
//
// The type parameters are:
//   - S: source record type (extracted from the document store)
//   - T: target row type (written to the relational store)
//   - C: cursor type; must order the same way the source sorts its records
//
// Each batch yielded by Extract is one epoch: it is transformed as a whole,
// loaded, and only then is the cursor of its last record checkpointed.
type Job[S, T any, C cmp.Ordered] interface {
	// Extract yields batches from the source in ascending cursor order.
	// cursor is nil on a fresh start, or the last saved cursor on resume.
	// The sequence must end; an empty page terminates it.
	Extract(ctx context.Context, cursor *C) iter.Seq2[[]S, error]

	// Transform reshapes one batch into target rows. A batch may produce more
	// or fewer rows than records (splitting, filtering).
	Transform(ctx context.Context, batch []S) ([]T, error)

	// Load writes rows to the destination.
	// Must be idempotent (UPSERT) because a batch is re-processed after a crash
	// that happened before its checkpoint was saved.
	Load(ctx context.Context, rows []T) error
}
