package source

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/rs/zerolog"

	"github.com/bjaus/docsync/internal/schema"
)

// DefaultBatchSize caps a page when none is configured.
const DefaultBatchSize = 1000

// Query selects one page: documents updated after Cutoff with an ID above
// AfterID, ascending by ID. An empty AfterID drops the ID predicate.
type Query struct {
	Collection string
	Cutoff     time.Time
	AfterID    string
	Limit      int
}

// Finder runs one page query against the source store.
type Finder interface {
	Find(ctx context.Context, q Query) ([]map[string]any, error)
}

// Positions supplies the cutoff and the committed cursor of each kind.
// *checkpoint.Tracker satisfies it.
type Positions interface {
	Cutoff() time.Time
	Last(kind schema.Kind) (string, bool)
}

// Extractor pages through the source collection of a kind.
type Extractor struct {
	finder    Finder
	positions Positions
	batchSize int
	log       zerolog.Logger
}

// NewExtractor returns an extractor reading pages of batchSize records.
// Values below 1 use DefaultBatchSize.
func NewExtractor(finder Finder, positions Positions, batchSize int, log zerolog.Logger) *Extractor {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Extractor{finder: finder, positions: positions, batchSize: batchSize, log: log}
}

// BatchSize returns the page size.
func (e *Extractor) BatchSize() int { return e.batchSize }

// Extract yields the batches of kind after its checkpointed cursor. The
// cursor is read when Extract is called, so every call starts fresh.
//
// Paging stops at the first empty page or at a page shorter than the batch
// size, which saves the trailing query that would come back empty. Only a
// collection whose remaining records fill the last page exactly pays for
// that one empty query.
func (e *Extractor) Extract(ctx context.Context, kind schema.Kind) iter.Seq2[Batch, error] {
	last, _ := e.positions.Last(kind)
	return e.ExtractAfter(ctx, kind, last)
}

// ExtractAfter yields the batches of kind with IDs above after. Paging ends
// as described on Extract, or after yielding one error.
func (e *Extractor) ExtractAfter(ctx context.Context, kind schema.Kind, after string) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		entity, err := schema.Get(kind)
		if err != nil {
			yield(Batch{}, err)
			return
		}
		log := e.log.With().Str("kind", string(kind)).Str("collection", entity.Collection).Logger()
		cutoff := e.positions.Cutoff()

		for {
			if err := ctx.Err(); err != nil {
				yield(Batch{}, err)
				return
			}

			docs, err := e.finder.Find(ctx, Query{
				Collection: entity.Collection,
				Cutoff:     cutoff,
				AfterID:    after,
				Limit:      e.batchSize,
			})
			if err != nil {
				yield(Batch{}, e.wrap(kind, entity.Collection, err))
				return
			}
			if len(docs) == 0 {
				log.Debug().Str("after", after).Msg("no more records")
				return
			}

			batch := Batch{Kind: kind, Records: make([]Record, 0, len(docs))}
			for _, doc := range docs {
				rec, err := newRecord(kind, doc)
				if err != nil {
					yield(Batch{}, &Error{Code: CodeDecode, Kind: kind, Collection: entity.Collection, Err: err})
					return
				}
				batch.Records = append(batch.Records, rec)
			}

			log.Debug().Int("records", batch.Len()).Str("last_id", batch.LastID()).Msg("batch extracted")
			if !yield(batch, nil) {
				return
			}
			after = batch.LastID()
			if len(docs) < e.batchSize {
				return
			}
		}
	}
}

func (e *Extractor) wrap(kind schema.Kind, collection string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var serr *Error
	if errors.As(err, &serr) {
		if serr.Kind == "" {
			serr.Kind, serr.Collection = kind, collection
		}
		return serr
	}
	return &Error{Code: CodeUnreachable, Kind: kind, Collection: collection, Err: err}
}

// Materialize drains seq into memory, stopping at the first error.
func Materialize(seq iter.Seq2[Batch, error]) ([]Batch, error) {
	var out []Batch
	for batch, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, batch)
	}
	return out, nil
}

// Records flattens batches into one slice.
func Records(batches []Batch) []Record {
	var n int
	for _, b := range batches {
		n += b.Len()
	}
	out := make([]Record, 0, n)
	for _, b := range batches {
		out = append(out, b.Records...)
	}
	return out
}
