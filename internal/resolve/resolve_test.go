package resolve_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/docsync/internal/resolve"
	"github.com/bjaus/docsync/internal/schema"
)

// memLookup serves lookups from rows held in memory.
type memLookup struct {
	mu    sync.Mutex
	rows  map[string]map[string]int64 // "table.column" -> key -> id
	typed map[string]map[resolve.Key]int64
	calls [][]string
	err   error
}

func (m *memLookup) IDs(_ context.Context, table, column string, keys []string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, keys)
	if m.err != nil {
		return nil, m.err
	}
	out := map[string]int64{}
	for _, k := range keys {
		if id, ok := m.rows[table+"."+column][k]; ok {
			out[k] = id
		}
	}
	return out, nil
}

func (m *memLookup) TypedIDs(_ context.Context, table, _, _ string, keys []string) (map[resolve.Key]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, keys)
	if m.err != nil {
		return nil, m.err
	}
	out := map[resolve.Key]int64{}
	for _, k := range keys {
		for key, id := range m.typed[table] {
			if key.ID == k {
				out[key] = id
			}
		}
	}
	return out, nil
}

func ids(prefix string, n int) []string {
	out := make([]string, n)
	for i := range n {
		out[i] = fmt.Sprintf("%s-%04d", prefix, i)
	}
	return out
}

// =============================================================================
// Resolve
// =============================================================================

func TestResolve_ExactlyKnownIDs(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		known int
	}{
		{"none known", 5, 0},
		{"some known", 10, 4},
		{"all known", 6, 6},
		{"empty request", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			all := ids("receiver", tt.n)
			rows := map[string]int64{}
			for i, id := range all[:tt.known] {
				rows[id] = int64(i + 1)
			}
			lookup := &memLookup{rows: map[string]map[string]int64{"receivers.mongo_id": rows}}
			r := resolve.New(lookup, 3, zerolog.Nop())

			got, err := r.Resolve(context.Background(), schema.KindReceiver, all)
			require.NoError(t, err)
			require.Len(t, got, tt.known)
			for _, id := range all[tt.known:] {
				_, ok := got.Lookup(id)
				require.False(t, ok, id)
			}
		})
	}
}

func TestResolve_DeduplicatesAndDropsEmpty(t *testing.T) {
	lookup := &memLookup{rows: map[string]map[string]int64{"stars.mongo_id": {"a": 1, "b": 2}}}
	r := resolve.New(lookup, 10, zerolog.Nop())

	got, err := r.Resolve(context.Background(), schema.KindStar, []string{"b", "a", "", "b", "a"})
	require.NoError(t, err)
	require.Equal(t, resolve.Mapping{"a": 1, "b": 2}, got)
	require.Equal(t, [][]string{{"a", "b"}}, lookup.calls)
}

func TestResolve_SplitsAtThreshold(t *testing.T) {
	all := ids("zone", 7)
	rows := map[string]int64{}
	for i, id := range all {
		rows[id] = int64(i + 100)
	}
	lookup := &memLookup{rows: map[string]map[string]int64{"zones.mongo_id": rows}}
	r := resolve.New(lookup, 3, zerolog.Nop())

	got, err := r.Resolve(context.Background(), schema.KindZone, all)
	require.NoError(t, err)
	require.Len(t, got, 7)

	var sizes []int
	for _, c := range lookup.calls {
		sizes = append(sizes, len(c))
	}
	require.Equal(t, []int{3, 3, 1}, sizes)
}

func TestResolve_CachesHitsNotMisses(t *testing.T) {
	lookup := &memLookup{rows: map[string]map[string]int64{"cities.mongo_id": {"c1": 11}}}
	r := resolve.New(lookup, 10, zerolog.Nop())
	ctx := context.Background()

	_, err := r.Resolve(ctx, schema.KindCity, []string{"c1", "c2"})
	require.NoError(t, err)

	// c2 arrives in the target between batches.
	lookup.rows["cities.mongo_id"]["c2"] = 12

	got, err := r.Resolve(ctx, schema.KindCity, []string{"c1", "c2"})
	require.NoError(t, err)
	require.Equal(t, resolve.Mapping{"c1": 11, "c2": 12}, got)
	require.Equal(t, [][]string{{"c1", "c2"}, {"c2"}}, lookup.calls)
}

func TestResolve_CacheIsPerResolver(t *testing.T) {
	lookup := &memLookup{rows: map[string]map[string]int64{"stars.mongo_id": {"s": 1}}}
	ctx := context.Background()

	_, err := resolve.New(lookup, 10, zerolog.Nop()).Resolve(ctx, schema.KindStar, []string{"s"})
	require.NoError(t, err)
	_, err = resolve.New(lookup, 10, zerolog.Nop()).Resolve(ctx, schema.KindStar, []string{"s"})
	require.NoError(t, err)
	require.Len(t, lookup.calls, 2)
}

func TestResolve_Errors(t *testing.T) {
	cause := errors.New("connection reset")
	r := resolve.New(&memLookup{err: cause}, 10, zerolog.Nop())

	_, err := r.Resolve(context.Background(), schema.KindStar, []string{"a"})
	require.ErrorIs(t, err, cause)

	_, err = r.Resolve(context.Background(), "parcel", []string{"a"})
	require.ErrorIs(t, err, schema.ErrUnknownKind)
}

// =============================================================================
// ResolveKey and ResolveTyped
// =============================================================================

func TestResolveKey(t *testing.T) {
	lookup := &memLookup{rows: map[string]map[string]int64{
		"orders.order_number": {"ORD-1": 7},
	}}
	r := resolve.New(lookup, 10, zerolog.Nop())

	got, err := r.ResolveKey(context.Background(), schema.KindOrder, "order_number", []string{"ORD-1", "ORD-2"})
	require.NoError(t, err)
	require.Equal(t, resolve.Mapping{"ORD-1": 7}, got)

	_, err = r.ResolveKey(context.Background(), schema.KindOrder, "password", []string{"x"})
	require.ErrorContains(t, err, "not a column")
}

func TestResolveTyped(t *testing.T) {
	lookup := &memLookup{typed: map[string]map[resolve.Key]int64{
		"addresses": {
			{ID: "o1", Type: schema.AddressPickup}:  1,
			{ID: "o1", Type: schema.AddressDropoff}: 2,
			{ID: "o2", Type: schema.AddressPickup}:  3,
		},
	}}
	r := resolve.New(lookup, 1, zerolog.Nop())

	got, err := r.ResolveTyped(context.Background(), schema.KindAddressPickup, []string{"o1", "o2", "o3", "o1"}, "type")
	require.NoError(t, err)
	require.Len(t, got, 3)

	id, ok := got.Lookup("o1", schema.AddressDropoff)
	require.True(t, ok)
	require.Equal(t, int64(2), id)

	_, ok = got.Lookup("o2", schema.AddressDropoff)
	require.False(t, ok)
	require.Len(t, lookup.calls, 3, "threshold of one issues one lookup per id")
}

// =============================================================================
// SQL
// =============================================================================

func TestQueries(t *testing.T) {
	require.Equal(t,
		`SELECT "mongo_id"::text, id FROM "stars" WHERE "mongo_id" = ANY($1)`,
		resolve.IDsQuery("stars", "mongo_id"))
	require.Equal(t,
		`SELECT "order_mongo_id"::text, "type"::text, id FROM "addresses" WHERE "order_mongo_id" = ANY($1)`,
		resolve.TypedIDsQuery("addresses", "order_mongo_id", "type"))
}
