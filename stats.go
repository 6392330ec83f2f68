package docsync

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Stats counts what a pipeline run did. It is safe to read while the run is
// in progress, and to sum across runs with Add.
type Stats struct {
	batches     atomic.Int64
	extracted   atomic.Int64
	filtered    atomic.Int64
	transformed atomic.Int64
	loaded      atomic.Int64
	errors      atomic.Int64
}

// Batches returns the number of extracted batches (epochs).
func (s *Stats) Batches() int64 { return s.batches.Load() }

// Extracted returns the number of records extracted.
func (s *Stats) Extracted() int64 { return s.extracted.Load() }

// Filtered returns the number of records filtered out before transformation.
func (s *Stats) Filtered() int64 { return s.filtered.Load() }

// Transformed returns the number of records transformed.
func (s *Stats) Transformed() int64 { return s.transformed.Load() }

// Loaded returns the number of rows loaded.
func (s *Stats) Loaded() int64 { return s.loaded.Load() }

// Errors returns the number of errors encountered.
func (s *Stats) Errors() int64 { return s.errors.Load() }

// Add accumulates other into s. Used to total several streams of one stage.
func (s *Stats) Add(other *Stats) {
	if other == nil {
		return
	}
	s.batches.Add(other.Batches())
	s.extracted.Add(other.Extracted())
	s.filtered.Add(other.Filtered())
	s.transformed.Add(other.Transformed())
	s.loaded.Add(other.Loaded())
	s.errors.Add(other.Errors())
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (s *Stats) MarshalZerologObject(e *zerolog.Event) {
	e.Int64("batches", s.Batches()).
		Int64("extracted", s.Extracted()).
		Int64("filtered", s.Filtered()).
		Int64("transformed", s.Transformed()).
		Int64("loaded", s.Loaded()).
		Int64("errors", s.Errors())
}

// The increments return the new total so a crossed report boundary can be
// detected from the same atomic operation.
func (s *Stats) incBatches(n int64) int64     { return s.batches.Add(n) }
func (s *Stats) incExtracted(n int64) int64   { return s.extracted.Add(n) }
func (s *Stats) incFiltered(n int64) int64    { return s.filtered.Add(n) }
func (s *Stats) incTransformed(n int64) int64 { return s.transformed.Add(n) }
func (s *Stats) incLoaded(n int64) int64      { return s.loaded.Add(n) }
func (s *Stats) incErrors(n int64) int64      { return s.errors.Add(n) }
