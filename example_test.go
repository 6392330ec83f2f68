package docsync_test

import (
	"context"
	"fmt"
	"iter"

	"github.com/bjaus/docsync"
)

// Source is a source document type for examples.
type Source struct {
	ID   string
	Name string
}

// Target is a target row type for examples.
type Target struct {
	MongoID string
	Name    string
}

// =============================================================================
// Example: Basic Pipeline
// =============================================================================

type basicJob struct {
	pages [][]Source
	saved *string
}

func (j *basicJob) Extract(_ context.Context, _ *string) iter.Seq2[[]Source, error] {
	return func(yield func([]Source, error) bool) {
		for _, page := range j.pages {
			if !yield(page, nil) {
				return
			}
		}
	}
}

func (j *basicJob) Transform(_ context.Context, batch []Source) ([]Target, error) {
	rows := make([]Target, 0, len(batch))
	for _, src := range batch {
		rows = append(rows, Target{MongoID: src.ID, Name: src.Name})
	}
	return rows, nil
}

func (j *basicJob) Load(_ context.Context, rows []Target) error {
	for _, r := range rows {
		fmt.Printf("upsert: %s %s\n", r.MongoID, r.Name) //nolint:forbidigo // example output for godoc
	}
	return nil
}

func ExampleNew() {
	job := &basicJob{
		pages: [][]Source{
			{{ID: "a1", Name: "Cairo"}, {ID: "a2", Name: "Giza"}},
			{{ID: "a3", Name: "Alexandria"}},
		},
	}

	stats, err := docsync.New[Source, Target, string](job).Run(context.Background())
	if err != nil {
		fmt.Println("error:", err)
	}
	fmt.Println("batches:", stats.Batches())

	// Output:
	// upsert: a1 Cairo
	// upsert: a2 Giza
	// upsert: a3 Alexandria
	// batches: 2
}

// =============================================================================
// Example: Checkpointed Pipeline
// =============================================================================

type checkpointedJob struct {
	basicJob
}

func (j *checkpointedJob) Cursor(src Source) string { return src.ID }

func (j *checkpointedJob) LoadCheckpoint(_ context.Context) (*string, error) {
	return j.saved, nil
}

func (j *checkpointedJob) SaveCheckpoint(_ context.Context, cursor string, _ *docsync.Stats) error {
	fmt.Println("checkpoint:", cursor) //nolint:forbidigo // example output for godoc
	j.saved = &cursor
	return nil
}

func ExamplePipeline_Run() {
	job := &checkpointedJob{basicJob{
		pages: [][]Source{
			{{ID: "a1", Name: "Cairo"}, {ID: "a2", Name: "Giza"}},
			{{ID: "a3", Name: "Alexandria"}},
		},
	}}

	_, err := docsync.New[Source, Target, string](job).Run(context.Background())
	if err != nil {
		fmt.Println("error:", err)
	}

	// Output:
	// upsert: a1 Cairo
	// upsert: a2 Giza
	// checkpoint: a2
	// upsert: a3 Alexandria
	// checkpoint: a3
}

// =============================================================================
// Example: Batchers
// =============================================================================

func ExampleSizeBatcher() {
	batcher := docsync.SizeBatcher[string](2)
	fmt.Println(batcher.Batch([]string{"a", "b", "c", "d", "e"}))

	// Output:
	// [[a b] [c d] [e]]
}

func ExampleNoBatcher() {
	batcher := docsync.NoBatcher[string]()
	fmt.Println(batcher.Batch([]string{"a", "b", "c"}))

	// Output:
	// [[a b c]]
}

func ExampleGroupByFieldWithSizeLimit() {
	batcher := docsync.GroupByFieldWithSizeLimit(func(s string) byte { return s[0] }, 2)
	fmt.Println(batcher.Batch([]string{"pickup", "dropoff", "pending", "done", "parked"}))

	// Output:
	// [[pickup pending] [parked] [dropoff done]]
}

func ExampleWeightedBatcher() {
	// Three bind parameters per row, at most seven per statement.
	batcher := docsync.WeightedBatcher(func(string) int { return 3 }, 7)
	fmt.Println(batcher.Batch([]string{"a", "b", "c", "d", "e"}))

	// Output:
	// [[a b] [c d] [e]]
}

func ExampleCombineBatchers() {
	batcher := docsync.CombineBatchers(
		docsync.GroupByFieldWithSizeLimit(func(s string) byte { return s[0] }, 10),
		docsync.SizeBatcher[string](1),
	)
	fmt.Println(batcher.Batch([]string{"pickup", "dropoff", "pending"}))

	// Output:
	// [[pickup] [pending] [dropoff]]
}
