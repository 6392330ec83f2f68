package docsync

import "time"

// Default configuration values. Jobs without a Batcher load
// DefaultLoadBatchSize rows per Load call.
const (
	DefaultLoadBatchSize  = 1000
	DefaultReportInterval = 10000
	DefaultDrainTimeout   = 5 * time.Minute
)

// DrainTimeout bounds graceful shutdown. Once the parent context is
// cancelled (SIGTERM, a failed sibling), the pipeline stops extracting and
// lets the in-flight epoch load and save its checkpoint for at most this
// long. When that finishes in time Run returns nil; otherwise the in-flight
// work is aborted and Run returns its error.
//
// Zero disables draining: cancellation aborts immediately. WithDrainTimeout
// overrides the job's value.
//
// Example:
//
//	func (j *MyJob) DrainTimeout() time.Duration { return 30 * time.Second }
type DrainTimeout interface {
	DrainTimeout() time.Duration
}

// setting is one tunable of a pipeline. The builder value wins over the
// job's value, which wins over the default.
type setting[V any] struct {
	def    V
	job    func() (V, bool)
	pinned bool
	value  V
}

func (s *setting[V]) pin(v V) {
	s.value, s.pinned = v, true
}

func (s *setting[V]) get() V {
	if s.pinned {
		return s.value
	}
	if s.job != nil {
		if v, ok := s.job(); ok {
			return v
		}
	}
	return s.def
}

// positive accepts job-supplied counts of at least one.
func positive(fn func() int) func() (int, bool) {
	return func() (int, bool) {
		n := fn()
		return n, n >= 1
	}
}
