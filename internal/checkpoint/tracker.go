package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bjaus/docsync/internal/schema"
)

// Tracker is the run-scoped view of the checkpoint. Concurrent streams
// advance their own cursors through it; every change is written to the
// store before it becomes visible.
type Tracker struct {
	mu    sync.Mutex
	store Store
	cp    Checkpoint
	log   zerolog.Logger
}

// Open reads the current checkpoint from store.
func Open(ctx context.Context, store Store, log zerolog.Logger) (*Tracker, error) {
	cp, err := store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	log.Debug().
		Time("cutoff", cp.Cutoff).
		Interface("last_ids", cp.LastIDs).
		Msg("checkpoint loaded")
	return &Tracker{store: store, cp: cp.Clone(), log: log}, nil
}

// Cutoff returns the global "changed since" timestamp.
func (t *Tracker) Cutoff() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cp.Cutoff
}

// Last returns the last committed source identifier for kind.
func (t *Tracker) Last(kind schema.Kind) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.cp.LastIDs[kind]
	return id, ok
}

// Snapshot returns a copy of the current checkpoint.
func (t *Tracker) Snapshot() Checkpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cp.Clone()
}

// Advance records id as the last committed identifier for kind and persists
// the checkpoint. Re-recording the current id is a no-op; a smaller id is
// refused with ErrRegression.
func (t *Tracker) Advance(ctx context.Context, kind schema.Kind, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.cp.LastIDs[kind]; ok {
		switch {
		case id == prev:
			return nil
		case id < prev:
			return fmt.Errorf("%w: %s %s after %s", ErrRegression, kind, id, prev)
		}
	}

	next := t.cp.Clone()
	next.LastIDs[kind] = id
	if err := t.store.Write(ctx, next); err != nil {
		return fmt.Errorf("write checkpoint for %s: %w", kind, err)
	}
	t.cp = next
	t.log.Debug().Str("kind", string(kind)).Str("last_id", id).Msg("checkpoint advanced")
	return nil
}

// AdvanceCutoff moves the global cutoff forward to at and persists it. An
// earlier or equal time is ignored.
func (t *Tracker) AdvanceCutoff(ctx context.Context, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !at.After(t.cp.Cutoff) {
		return nil
	}
	next := t.cp.Clone()
	next.Cutoff = at
	if err := t.store.Write(ctx, next); err != nil {
		return fmt.Errorf("write checkpoint cutoff: %w", err)
	}
	t.cp = next
	t.log.Info().Time("cutoff", at).Msg("checkpoint cutoff advanced")
	return nil
}

// Reset forgets the cursors of kinds, or of every kind when none are given,
// so the next run re-reads everything updated after the cutoff.
func (t *Tracker) Reset(ctx context.Context, kinds ...schema.Kind) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.cp.Clone()
	if len(kinds) == 0 {
		clear(next.LastIDs)
	}
	for _, k := range kinds {
		delete(next.LastIDs, k)
	}
	if err := t.store.Write(ctx, next); err != nil {
		return fmt.Errorf("write checkpoint reset: %w", err)
	}
	t.cp = next
	t.log.Warn().Interface("kinds", kinds).Msg("checkpoint cursors reset")
	return nil
}
