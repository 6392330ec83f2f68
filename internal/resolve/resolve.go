// Package resolve maps source identifiers to target surrogate identifiers.
//
// A Resolver lives for one run. It splits large requests into sub-batches,
// merges the partial results, and remembers positive hits so later batches
// of the same run do not ask again. Identifiers the target does not know are
// absent from the result; callers decide what a miss means.
package resolve

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bjaus/docsync"
	"github.com/bjaus/docsync/internal/schema"
)

// DefaultThreshold bounds the number of keys in one lookup predicate.
const DefaultThreshold = 1000

// Key pairs a source identifier with a discriminator value, for targets that
// hold several rows per source document.
type Key struct {
	ID   string
	Type string
}

// Lookup queries the target store. Keys the store does not hold are left
// out of the returned maps.
type Lookup interface {
	IDs(ctx context.Context, table, column string, keys []string) (map[string]int64, error)
	TypedIDs(ctx context.Context, table, column, discriminator string, keys []string) (map[Key]int64, error)
}

// Mapping maps source identifiers to surrogate identifiers.
type Mapping map[string]int64

// Lookup returns the surrogate id of id.
func (m Mapping) Lookup(id string) (int64, bool) {
	v, ok := m[id]
	return v, ok
}

// TypedMapping maps (source identifier, discriminator) to surrogate ids.
type TypedMapping map[Key]int64

// Lookup returns the surrogate id of id with discriminator typ.
func (m TypedMapping) Lookup(id, typ string) (int64, bool) {
	v, ok := m[Key{ID: id, Type: typ}]
	return v, ok
}

type cacheKey struct {
	table  string
	column string
	key    string
}

// Resolver resolves references against the target store.
type Resolver struct {
	lookup    Lookup
	threshold int
	log       zerolog.Logger

	mu    sync.Mutex
	cache map[cacheKey]int64
}

// New returns a run-scoped resolver. A threshold below 1 uses
// DefaultThreshold.
func New(lookup Lookup, threshold int, log zerolog.Logger) *Resolver {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Resolver{
		lookup:    lookup,
		threshold: threshold,
		log:       log,
		cache:     make(map[cacheKey]int64),
	}
}

// Resolve maps source ids of kind to the surrogate ids of its table.
func (r *Resolver) Resolve(ctx context.Context, kind schema.Kind, ids []string) (Mapping, error) {
	entity, err := schema.Get(kind)
	if err != nil {
		return nil, err
	}
	return r.resolve(ctx, entity.Table, entity.SourceKey, ids)
}

// ResolveKey maps values of a business-key column of kind's table to
// surrogate ids, e.g. order numbers to orders.id.
func (r *Resolver) ResolveKey(ctx context.Context, kind schema.Kind, column string, keys []string) (Mapping, error) {
	entity, err := schema.Get(kind)
	if err != nil {
		return nil, err
	}
	if !entity.Allows(column) {
		return nil, fmt.Errorf("resolve %s: %q is not a column of %s", kind, column, entity.Table)
	}
	return r.resolve(ctx, entity.Table, column, keys)
}

// ResolveTyped maps source ids of kind to surrogate ids per value of the
// discriminator column. Typed results are not cached.
func (r *Resolver) ResolveTyped(ctx context.Context, kind schema.Kind, ids []string, discriminator string) (TypedMapping, error) {
	entity, err := schema.Get(kind)
	if err != nil {
		return nil, err
	}
	if !entity.Allows(discriminator) {
		return nil, fmt.Errorf("resolve %s: %q is not a column of %s", kind, discriminator, entity.Table)
	}

	out := make(TypedMapping)
	for _, part := range r.split(unique(ids)) {
		found, err := r.lookup.TypedIDs(ctx, entity.Table, entity.SourceKey, discriminator, part)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", kind, err)
		}
		for k, v := range found {
			out[k] = v
		}
	}
	r.log.Debug().
		Str("table", entity.Table).
		Int("requested", len(ids)).
		Int("resolved", len(out)).
		Msg("typed references resolved")
	return out, nil
}

func (r *Resolver) resolve(ctx context.Context, table, column string, ids []string) (Mapping, error) {
	keys := unique(ids)
	out := make(Mapping, len(keys))

	var missing []string
	r.mu.Lock()
	for _, k := range keys {
		if v, ok := r.cache[cacheKey{table, column, k}]; ok {
			out[k] = v
			continue
		}
		missing = append(missing, k)
	}
	r.mu.Unlock()

	for _, part := range r.split(missing) {
		found, err := r.lookup.IDs(ctx, table, column, part)
		if err != nil {
			return nil, fmt.Errorf("resolve %s.%s: %w", table, column, err)
		}
		r.mu.Lock()
		for k, v := range found {
			out[k] = v
			r.cache[cacheKey{table, column, k}] = v
		}
		r.mu.Unlock()
	}

	r.log.Debug().
		Str("table", table).
		Str("column", column).
		Int("requested", len(keys)).
		Int("cached", len(keys)-len(missing)).
		Int("resolved", len(out)).
		Msg("references resolved")
	return out, nil
}

func (r *Resolver) split(keys []string) [][]string {
	return docsync.SizeBatcher[string](r.threshold).Batch(keys)
}

// unique drops empty and repeated ids and sorts the rest.
func unique(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
