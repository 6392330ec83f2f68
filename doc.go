// Package docsync provides the checkpointed batch engine behind the docsync
// document-to-relational synchronizer.
//
// A stream implements Job: it extracts pages of documents in ascending cursor
// order, transforms each page into target rows, and upserts them. The pipeline
// auto-detects optional interfaces on the job and configures itself
// accordingly. Runtime configuration overrides are available via method
// chaining.
//
// # Quick Start
//
//	type OrderJob struct {
//	    coll *mongo.Collection
//	    pool *pgxpool.Pool
//	}
//
//	func (j *OrderJob) Extract(ctx context.Context, cursor *string) iter.Seq2[[]Order, error] {
//	    return func(yield func([]Order, error) bool) {
//	        after := ""
//	        if cursor != nil {
//	            after = *cursor
//	        }
//	        for {
//	            page, err := j.page(ctx, after)
//	            if err != nil || len(page) == 0 {
//	                if err != nil {
//	                    yield(nil, err)
//	                }
//	                return
//	            }
//	            if !yield(page, nil) {
//	                return
//	            }
//	            after = page[len(page)-1].ID
//	        }
//	    }
//	}
//
//	func (j *OrderJob) Transform(ctx context.Context, batch []Order) ([]Row, error) {
//	    ...
//	}
//
//	func (j *OrderJob) Load(ctx context.Context, rows []Row) error {
//	    // INSERT ... ON CONFLICT DO UPDATE
//	}
//
//	stats, err := docsync.New[Order, Row, string](&OrderJob{}).Run(ctx)
//
// # Epochs and Checkpoints
//
// Every batch yielded by Extract is one epoch. When the job implements
// Checkpointer[S, C], the pipeline:
//   - Filters the batch (Filter[S]) and transforms it as a whole
//   - Splits the rows with the Batcher and loads the batches in order
//   - Saves the cursor of the last extracted record once every load succeeded
//   - Refuses to save a cursor that does not move forward (ErrCursorRegression)
//   - On restart, resumes strictly after the last saved cursor
//
// # Configuration
//
// ReportInterval and DrainTimeout may be supplied by the job through a
// method of the same name. The drain timeout may also be pinned on the
// pipeline, which wins over the job's value:
//
//	stats, err := docsync.New[Order, Row, string](job).
//	    WithDrainTimeout(time.Minute).
//	    Run(ctx)
//
// # Error Handling
//
// Without ErrorHandler, the pipeline stops on the first error and the cursor
// stays at the last fully loaded epoch. With ErrorHandler, ActionSkip drops the
// failing batch and moves on.
//
// # Graceful Shutdown
//
// Cancelling the parent context stops extraction. The in-flight epoch gets up
// to DrainTimeout to finish loading and save its checkpoint; Run then returns
// nil so a restart continues from exactly that point.
//
//	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//	stats, err := docsync.New[Order, Row, string](job).Run(ctx)
package docsync
