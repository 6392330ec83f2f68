package runner

import (
	"context"
	"iter"
	"time"

	"github.com/rs/zerolog"

	"github.com/bjaus/docsync"
	"github.com/bjaus/docsync/internal/schema"
	"github.com/bjaus/docsync/internal/source"
)

type extractFunc func(ctx context.Context, after string) iter.Seq2[source.Batch, error]

// stream syncs one kind through the engine: extract after the kind's
// cursor, transform, load, then advance the cursor.
type stream struct {
	kind    schema.Kind
	stage   Stage
	rc      *runContext
	extract extractFunc
	log     zerolog.Logger

	// floor is the committed cursor at start. Records at or below it were
	// loaded by an earlier run and are filtered out.
	floor string
}

var (
	_ docsync.Job[source.Record, schema.Row, string]    = (*stream)(nil)
	_ docsync.Checkpointer[source.Record, string]        = (*stream)(nil)
	_ docsync.Filter[source.Record]                      = (*stream)(nil)
	_ docsync.Batcher[schema.Row]                        = (*stream)(nil)
	_ docsync.Starter                                    = (*stream)(nil)
	_ docsync.Stopper                                    = (*stream)(nil)
	_ docsync.ProgressReporter                           = (*stream)(nil)
	_ docsync.ErrorHandler                               = (*stream)(nil)
)

func (rc *runContext) stream(stage Stage, kind schema.Kind, extract extractFunc) *stream {
	return &stream{
		kind:    kind,
		stage:   stage,
		rc:      rc,
		extract: extract,
		log:     rc.log.With().Str("stage", string(stage)).Str("kind", string(kind)).Logger(),
	}
}

// direct reads the kind's own collection.
func (rc *runContext) direct(kind schema.Kind) extractFunc {
	return func(ctx context.Context, after string) iter.Seq2[source.Batch, error] {
		return rc.extractor.ExtractAfter(ctx, kind, after)
	}
}

// replay serves batches extracted once for several kinds. Batches wholly at
// or below the cursor are skipped.
func replay(batches []source.Batch) extractFunc {
	return func(_ context.Context, after string) iter.Seq2[source.Batch, error] {
		return func(yield func(source.Batch, error) bool) {
			for _, b := range batches {
				if after != "" && b.LastID() <= after {
					continue
				}
				if !yield(b, nil) {
					return
				}
			}
		}
	}
}

func (s *stream) Extract(ctx context.Context, cursor *string) iter.Seq2[[]source.Record, error] {
	var after string
	if cursor != nil {
		after = *cursor
	}
	return func(yield func([]source.Record, error) bool) {
		for batch, err := range s.extract(ctx, after) {
			if !yield(batch.Records, err) {
				return
			}
		}
	}
}

func (s *stream) Transform(ctx context.Context, records []source.Record) ([]schema.Row, error) {
	return s.rc.transformer.Transform(ctx, s.kind, records)
}

func (s *stream) Load(ctx context.Context, rows []schema.Row) error {
	_, err := s.rc.loader.Load(ctx, s.kind, rows)
	return err
}

// Batch hands the whole epoch to the loader, which chunks by itself.
func (s *stream) Batch(rows []schema.Row) [][]schema.Row {
	return docsync.NoBatcher[schema.Row]().Batch(rows)
}

func (s *stream) Include(rec source.Record) bool {
	return s.floor == "" || rec.ID > s.floor
}

func (s *stream) Cursor(rec source.Record) string { return rec.ID }

func (s *stream) LoadCheckpoint(context.Context) (*string, error) {
	id, ok := s.rc.tracker.Last(s.kind)
	if !ok {
		return nil, nil //nolint:nilnil // no cursor yet
	}
	s.floor = id
	return &id, nil
}

func (s *stream) SaveCheckpoint(ctx context.Context, cursor string, stats *docsync.Stats) error {
	if err := s.rc.tracker.Advance(ctx, s.kind, cursor); err != nil {
		return err
	}
	s.log.Debug().Str("cursor", cursor).Int64("loaded", stats.Loaded()).Msg("checkpoint saved")
	return nil
}

func (s *stream) Start(ctx context.Context) context.Context {
	s.log.Info().Str("after", s.floor).Msg("stream starting")
	return s.log.WithContext(ctx)
}

func (s *stream) Stop(_ context.Context, stats *docsync.Stats, err error) {
	ev := s.log.Info()
	if err != nil {
		ev = s.log.Error().Err(err)
	}
	ev.EmbedObject(stats).Int64("unresolved", s.rc.transformer.Unresolved(s.kind)).Msg("stream finished")
}

func (s *stream) OnProgress(_ context.Context, stats *docsync.Stats) {
	s.log.Info().EmbedObject(stats).Msg("progress")
}

// OnError logs which engine step failed. The batch is never skipped: its
// cursor must not advance past rows that were not loaded.
func (s *stream) OnError(_ context.Context, step docsync.Stage, err error) docsync.Action {
	s.log.Error().Err(err).Str("step", string(step)).Msg("stream step failed")
	return docsync.ActionFail
}

func (s *stream) ReportInterval() int { return s.rc.opts.ReportInterval }

func (s *stream) DrainTimeout() time.Duration { return s.rc.opts.DrainTimeout }

// run drives the stream to completion and records the outcome on rep.
func (s *stream) run(ctx context.Context, rep *StageReport) *KindReport {
	start := time.Now()
	stats, err := docsync.New[source.Record, schema.Row, string](s).Run(ctx)

	k := &KindReport{
		Kind:       s.kind,
		Stage:      s.stage,
		Batches:    stats.Batches(),
		Extracted:  stats.Extracted(),
		Filtered:   stats.Filtered(),
		Loaded:     stats.Loaded(),
		Unresolved: s.rc.transformer.Unresolved(s.kind),
		Duration:   time.Since(start),
		Err:        err,
	}
	rep.add(k, stats)
	return k
}
