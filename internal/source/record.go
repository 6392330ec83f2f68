// Package source reads documents from the source store as ordered, bounded
// batches filtered by the checkpoint.
package source

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/bjaus/docsync/internal/schema"
)

// Record is one extracted document. Fields holds the whole document with
// BSON containers normalized to maps and slices; ObjectIDs stay typed.
type Record struct {
	ID        string
	Kind      schema.Kind
	Fields    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Get walks a dotted path ("pickupAddress.zone") through nested maps.
func (r Record) Get(path ...string) (any, bool) {
	var cur any = r.Fields
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// Batch is an ordered run of records of one kind, ascending by ID.
type Batch struct {
	Kind    schema.Kind
	Records []Record
}

// Len returns the number of records.
func (b Batch) Len() int { return len(b.Records) }

// LastID returns the ID of the final record, or "" for an empty batch.
func (b Batch) LastID() string {
	if len(b.Records) == 0 {
		return ""
	}
	return b.Records[len(b.Records)-1].ID
}

// IDString renders a document identifier in its canonical string form.
func IDString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	case fmt.Stringer:
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}

// newRecord builds a Record from a normalized document.
func newRecord(kind schema.Kind, doc map[string]any) (Record, error) {
	id := IDString(doc["_id"])
	if id == "" {
		return Record{}, fmt.Errorf("%s document without _id", kind)
	}
	r := Record{ID: id, Kind: kind, Fields: doc}
	r.CreatedAt, _ = doc["createdAt"].(time.Time)
	r.UpdatedAt, _ = doc["updatedAt"].(time.Time)
	return r, nil
}

// Normalize converts driver container and scalar types to plain Go values.
func Normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		return normalizeMap(t)
	case map[string]any:
		return normalizeMap(t)
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = Normalize(e.Value)
		}
		return m
	case bson.A:
		return normalizeSlice(t)
	case []any:
		return normalizeSlice(t)
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(t.T), 0).UTC()
	case primitive.Decimal128:
		return t.String()
	case int32:
		return int64(t)
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Normalize(v)
	}
	return out
}

func normalizeSlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = Normalize(v)
	}
	return out
}
