// Package checkpoint persists synchronization progress: the last committed
// source identifier per kind and the global "changed since" cutoff.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/bjaus/docsync/internal/schema"
)

// offsetLayout always writes a numeric UTC offset ("+00:00", never "Z").
const offsetLayout = "2006-01-02T15:04:05.999999-07:00"

// DefaultCutoff applies when a checkpoint has never recorded one.
var DefaultCutoff = time.Date(2023, 10, 1, 12, 0, 0, 0, time.UTC)

// Checkpoint is the persisted progress document.
type Checkpoint struct {
	// Cutoff only admits documents updated strictly after it.
	Cutoff time.Time
	// LastIDs holds the last committed source identifier per kind.
	LastIDs map[schema.Kind]string
	// BatchSize is carried through untouched for older readers of the document.
	BatchSize int
}

// New returns an empty checkpoint at DefaultCutoff.
func New() Checkpoint {
	return Checkpoint{Cutoff: DefaultCutoff, LastIDs: map[schema.Kind]string{}}
}

// Clone returns a deep copy.
func (c Checkpoint) Clone() Checkpoint {
	c.LastIDs = maps.Clone(c.LastIDs)
	if c.LastIDs == nil {
		c.LastIDs = map[schema.Kind]string{}
	}
	return c
}

type document struct {
	LastUpdated      string            `json:"last_updated,omitempty"`
	LastProcessedIDs map[string]string `json:"last_processed_ids"`
	BatchSize        int               `json:"ETL_BATCH_SIZE,omitempty"`
}

// MarshalJSON writes the document layout shared with the file and object
// stores.
func (c Checkpoint) MarshalJSON() ([]byte, error) {
	doc := document{
		LastProcessedIDs: make(map[string]string, len(c.LastIDs)),
		BatchSize:        c.BatchSize,
	}
	if !c.Cutoff.IsZero() {
		doc.LastUpdated = c.Cutoff.Format(offsetLayout)
	}
	for k, v := range c.LastIDs {
		doc.LastProcessedIDs[string(k)] = v
	}
	return json.Marshal(doc)
}

// UnmarshalJSON accepts RFC 3339 timestamps with either "Z" or a numeric
// offset. A missing last_updated falls back to DefaultCutoff.
func (c *Checkpoint) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	cutoff := DefaultCutoff
	if doc.LastUpdated != "" {
		t, err := time.Parse(time.RFC3339Nano, doc.LastUpdated)
		if err != nil {
			return fmt.Errorf("last_updated: %w", err)
		}
		cutoff = t
	}

	c.Cutoff = cutoff
	c.BatchSize = doc.BatchSize
	c.LastIDs = make(map[schema.Kind]string, len(doc.LastProcessedIDs))
	for k, v := range doc.LastProcessedIDs {
		if v != "" {
			c.LastIDs[schema.Kind(k)] = v
		}
	}
	return nil
}
