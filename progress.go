package docsync

import "context"

// ReportInterval sets how many loaded rows separate two progress reports.
// Values below 1 fall back to DefaultReportInterval.
type ReportInterval interface {
	ReportInterval() int
}

// ProgressReporter is called each time the cumulative loaded count crosses
// a ReportInterval boundary. It runs between two Load calls of the same
// epoch, so it should return quickly.
//
// Example:
//
//	func (j *MyJob) ReportInterval() int { return 10000 }
//
//	func (j *MyJob) OnProgress(ctx context.Context, stats *docsync.Stats) {
//	    zerolog.Ctx(ctx).Info().Object("stats", stats).Msg("progress")
//	}
type ProgressReporter interface {
	ReportInterval

	OnProgress(ctx context.Context, stats *Stats)
}
