// Package transform reshapes extracted documents into target rows, rewriting
// references through the resolver.
package transform

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/bjaus/docsync/internal/resolve"
	"github.com/bjaus/docsync/internal/schema"
	"github.com/bjaus/docsync/internal/source"
)

// Resolver is the part of *resolve.Resolver the transformer calls.
type Resolver interface {
	Resolve(ctx context.Context, kind schema.Kind, ids []string) (resolve.Mapping, error)
	ResolveTyped(ctx context.Context, kind schema.Kind, ids []string, discriminator string) (resolve.TypedMapping, error)
	ResolveKey(ctx context.Context, kind schema.Kind, column string, keys []string) (resolve.Mapping, error)
}

type transformFunc func(ctx context.Context, records []source.Record) ([]schema.Row, error)

// Transformer converts batches of one kind at a time. It is safe for
// concurrent use by streams of different kinds.
type Transformer struct {
	res        Resolver
	log        zerolog.Logger
	funcs      map[schema.Kind]transformFunc
	unresolved map[schema.Kind]*atomic.Int64
}

// New returns a transformer resolving references with res.
func New(res Resolver, log zerolog.Logger) *Transformer {
	t := &Transformer{res: res, log: log, unresolved: make(map[schema.Kind]*atomic.Int64)}
	t.funcs = map[schema.Kind]transformFunc{
		schema.KindStar:           t.flat,
		schema.KindCountry:        t.flat,
		schema.KindCity:           t.flat,
		schema.KindZone:           t.flat,
		schema.KindReceiver:       t.flat,
		schema.KindAddressPickup:  t.addresses(schema.KindAddressPickup, "pickupAddress", schema.AddressPickup),
		schema.KindAddressDropoff: t.addresses(schema.KindAddressDropoff, "dropOffAddress", schema.AddressDropoff),
		schema.KindOrder:          t.orders,
		schema.KindConfirmation:   t.confirmations,
		schema.KindCODPayment:     t.codPayments,
		schema.KindTracker:        t.trackers,
	}
	for _, k := range schema.Kinds() {
		t.unresolved[k] = new(atomic.Int64)
	}
	return t
}

// Transform converts records of kind into target rows, one row per record.
// Rows with unresolved references are kept with the foreign key set to nil.
func (t *Transformer) Transform(ctx context.Context, kind schema.Kind, records []source.Record) ([]schema.Row, error) {
	fn, ok := t.funcs[kind]
	if !ok {
		return nil, fmt.Errorf("transform: %w: %q", schema.ErrUnknownKind, kind)
	}
	if len(records) == 0 {
		return nil, nil
	}
	rows, err := fn(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("transform %s: %w", kind, err)
	}
	return rows, nil
}

// Unresolved returns how many foreign keys of kind were written as nil.
func (t *Transformer) Unresolved(kind schema.Kind) int64 {
	if c, ok := t.unresolved[kind]; ok {
		return c.Load()
	}
	return 0
}

// flat handles kinds whose documents map column-for-field: nested objects
// are flattened with "_" and names converted to snake_case.
func (t *Transformer) flat(_ context.Context, records []source.Record) ([]schema.Row, error) {
	rows := make([]schema.Row, 0, len(records))
	for _, rec := range records {
		row := make(schema.Row, len(rec.Fields))
		flatten(row, "", rec.Fields)
		rows = append(rows, row)
	}
	return rows, nil
}

func flatten(row schema.Row, prefix string, fields map[string]any) {
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		name := column(k)
		if prefix != "" {
			name = prefix + "_" + name
		}
		if nested, ok := fields[k].(map[string]any); ok {
			flatten(row, name, nested)
			continue
		}
		row[name] = scalar(fields[k])
	}
}

// references resolves one reference column across a batch and reports the
// misses.
type references struct {
	t       *Transformer
	kind    schema.Kind
	column  string
	mapping resolve.Mapping
	misses  int
}

func (t *Transformer) references(ctx context.Context, kind, target schema.Kind, column string, ids []string) (*references, error) {
	m, err := t.res.Resolve(ctx, target, ids)
	if err != nil {
		return nil, err
	}
	return &references{t: t, kind: kind, column: column, mapping: m}, nil
}

func (t *Transformer) businessKeys(ctx context.Context, kind, target schema.Kind, key, column string, keys []string) (*references, error) {
	m, err := t.res.ResolveKey(ctx, target, key, keys)
	if err != nil {
		return nil, err
	}
	return &references{t: t, kind: kind, column: column, mapping: m}, nil
}

// id returns the surrogate id for source id, or nil. An empty source id is
// not a miss.
func (r *references) id(sourceID string) any {
	if sourceID == "" {
		return nil
	}
	if v, ok := r.mapping.Lookup(sourceID); ok {
		return v
	}
	r.misses++
	return nil
}

func (r *references) report() {
	if r.misses == 0 {
		return
	}
	r.t.unresolved[r.kind].Add(int64(r.misses))
	r.t.log.Warn().
		Str("kind", string(r.kind)).
		Str("column", r.column).
		Int("unresolved", r.misses).
		Msg("references not found in target, writing null")
}

func (t *Transformer) typedMiss(kind schema.Kind, column string, n int) {
	if n == 0 {
		return
	}
	t.unresolved[kind].Add(int64(n))
	t.log.Warn().
		Str("kind", string(kind)).
		Str("column", column).
		Int("unresolved", n).
		Msg("references not found in target, writing null")
}

func collect(records []source.Record, fn func(source.Record) string) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		if v := fn(rec); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func recordID(rec source.Record) string { return rec.ID }

func field(path ...string) func(source.Record) string {
	return func(rec source.Record) string {
		v, _ := rec.Get(path...)
		return ref(v)
	}
}
