// Package load upserts target rows of any kind, keyed by the kind's natural
// unique key, in bounded chunks.
package load

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bjaus/docsync"
	"github.com/bjaus/docsync/internal/schema"
)

const (
	// DefaultChunkSize bounds the rows of one upsert statement.
	DefaultChunkSize = 1000
	// maxParams is the bind parameter limit of one Postgres statement.
	maxParams = 65535
)

// Upserter writes one chunk. columns lists, in entity order, the columns
// every row of the chunk carries.
type Upserter interface {
	Upsert(ctx context.Context, entity schema.Entity, columns []string, rows []schema.Row) error
}

// Error reports a failed chunk. Chunks before it stay committed.
type Error struct {
	Kind      schema.Kind
	Chunk     int
	Committed int
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("load %s: chunk %d failed after %d rows committed: %v",
		e.Kind, e.Chunk, e.Committed, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Loader is the single loader for every kind; the entity record supplies the
// table, key, and column allow-list.
type Loader struct {
	up        Upserter
	chunkSize int
	log       zerolog.Logger
}

// New returns a loader writing chunks of up to chunkSize rows. Values below
// 1 use DefaultChunkSize.
func New(up Upserter, chunkSize int, log zerolog.Logger) *Loader {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	return &Loader{up: up, chunkSize: chunkSize, log: log}
}

// Load upserts rows of kind and returns how many were written. Columns the
// entity does not declare are dropped with a warning. Rows repeating a
// natural key collapse to the last one.
func (l *Loader) Load(ctx context.Context, kind schema.Kind, rows []schema.Row) (int, error) {
	entity, err := schema.Get(kind)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	kept, err := l.prepare(entity, rows)
	if err != nil {
		return 0, &Error{Kind: kind, Err: err}
	}

	var committed int
	for i, chunk := range l.batcher().Batch(kept) {
		if err := ctx.Err(); err != nil {
			return committed, &Error{Kind: kind, Chunk: i, Committed: committed, Err: err}
		}
		if err := l.up.Upsert(ctx, entity, columnsOf(entity, chunk[0]), chunk); err != nil {
			return committed, &Error{Kind: kind, Chunk: i, Committed: committed, Err: err}
		}
		committed += len(chunk)
	}

	l.log.Debug().
		Str("kind", string(kind)).
		Str("table", entity.Table).
		Int("rows", committed).
		Msg("rows upserted")
	return committed, nil
}

func (l *Loader) batcher() docsync.Batcher[schema.Row] {
	return docsync.CombineBatchers(
		docsync.GroupByFieldWithSizeLimit(signature, l.chunkSize),
		docsync.WeightedBatcher(func(r schema.Row) int { return len(r) }, maxParams),
	)
}

// prepare filters rows to the allow-list and drops earlier duplicates of a
// natural key.
func (l *Loader) prepare(entity schema.Entity, rows []schema.Row) ([]schema.Row, error) {
	dropped := make(map[string]struct{})
	index := make(map[string]int, len(rows))
	out := make([]schema.Row, 0, len(rows))

	for n, row := range rows {
		clean := make(schema.Row, len(row))
		for col, v := range row {
			if entity.Allows(col) {
				clean[col] = v
				continue
			}
			dropped[col] = struct{}{}
		}

		key, err := naturalKey(entity, clean)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", n, err)
		}
		if i, ok := index[key]; ok {
			out[i] = clean
			continue
		}
		index[key] = len(out)
		out = append(out, clean)
	}

	if len(dropped) > 0 {
		l.log.Warn().
			Str("kind", string(entity.Kind)).
			Strs("columns", slices.Sorted(maps.Keys(dropped))).
			Msg("schema mismatch, dropping columns")
	}
	return out, nil
}

func naturalKey(entity schema.Entity, row schema.Row) (string, error) {
	parts := make([]string, len(entity.ConflictColumns))
	for i, c := range entity.ConflictColumns {
		v, ok := row[c]
		if !ok || v == nil {
			return "", fmt.Errorf("missing key column %q", c)
		}
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "\x00"), nil
}

// signature identifies the column set of a row so a chunk shares one
// column list.
func signature(row schema.Row) string {
	return strings.Join(slices.Sorted(maps.Keys(row)), ",")
}

// columnsOf returns the columns of row in entity order.
func columnsOf(entity schema.Entity, row schema.Row) []string {
	cols := make([]string, 0, len(row))
	for _, c := range entity.Columns {
		if _, ok := row[c]; ok {
			cols = append(cols, c)
		}
	}
	return cols
}
