package docsync

// NewStats returns Stats preset to the given counts.
func NewStats(batches, extracted, filtered, transformed, loaded, errors int64) *Stats {
	s := &Stats{}
	s.batches.Store(batches)
	s.extracted.Store(extracted)
	s.filtered.Store(filtered)
	s.transformed.Store(transformed)
	s.loaded.Store(loaded)
	s.errors.Store(errors)
	return s
}
