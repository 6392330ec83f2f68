package runner

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bjaus/docsync"
	"github.com/bjaus/docsync/internal/schema"
)

// Stage names one dependency-ordered phase of a run.
type Stage string

const (
	StageStartup     Stage = "startup"
	StageIndependent Stage = "independent"
	StageAddress     Stage = "address"
	StageOrder       Stage = "order"
	StageFinalize    Stage = "finalize"
)

// RunError is returned when a run stops. Kind is empty when the failure was
// not tied to one kind.
type RunError struct {
	Stage Stage
	Kind  schema.Kind
	Err   error
}

func (e *RunError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// KindReport is the outcome of one kind within a run.
type KindReport struct {
	Kind       schema.Kind
	Stage      Stage
	Batches    int64
	Extracted  int64
	Filtered   int64
	Loaded     int64
	Unresolved int64
	Duration   time.Duration
	Err        error
}

// OK reports whether the kind finished without error.
func (k *KindReport) OK() bool { return k.Err == nil }

func (k *KindReport) MarshalZerologObject(e *zerolog.Event) {
	e.Str("kind", string(k.Kind)).
		Str("stage", string(k.Stage)).
		Int64("batches", k.Batches).
		Int64("extracted", k.Extracted).
		Int64("filtered", k.Filtered).
		Int64("loaded", k.Loaded).
		Int64("unresolved", k.Unresolved).
		Dur("duration", k.Duration)
	if k.Err != nil {
		e.AnErr("error", k.Err)
	}
}

// StageReport collects the kinds of one stage. Kinds running concurrently
// add themselves, so access goes through its methods.
type StageReport struct {
	Stage Stage

	mu    sync.Mutex
	kinds []*KindReport
	err   error
	total docsync.Stats
}

func (s *StageReport) add(k *KindReport, stats *docsync.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = append(s.kinds, k)
	s.total.Add(stats)
}

// Totals returns the engine counters summed over the kinds of the stage.
func (s *StageReport) Totals() *docsync.Stats {
	return &s.total
}

func (s *StageReport) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Kinds returns the kind reports in completion order.
func (s *StageReport) Kinds() []*KindReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.kinds)
}

// Err returns the first failure of the stage.
func (s *StageReport) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// firstFailure returns the first failed kind in dependency order.
func (s *StageReport) firstFailure() *KindReport {
	var failed []*KindReport
	for _, k := range s.Kinds() {
		if !k.OK() {
			failed = append(failed, k)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	order := schema.Kinds()
	slices.SortFunc(failed, func(a, b *KindReport) int {
		return slices.Index(order, a.Kind) - slices.Index(order, b.Kind)
	})
	return failed[0]
}

// Report describes a whole run.
type Report struct {
	RunID    uuid.UUID
	Started  time.Time
	Finished time.Time

	mu     sync.Mutex
	stages []*StageReport
}

func (r *Report) stage(name Stage) *StageReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &StageReport{Stage: name}
	r.stages = append(r.stages, s)
	return s
}

// Stages returns the stages that ran, in order.
func (r *Report) Stages() []*StageReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.stages)
}

// Kind returns the report of kind, if it ran.
func (r *Report) Kind(kind schema.Kind) (*KindReport, bool) {
	for _, s := range r.Stages() {
		for _, k := range s.Kinds() {
			if k.Kind == kind {
				return k, true
			}
		}
	}
	return nil, false
}

// Failed reports whether any stage failed.
func (r *Report) Failed() bool {
	for _, s := range r.Stages() {
		if s.Err() != nil {
			return true
		}
	}
	return false
}
