// Package notify delivers run failure alerts to operators.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bjaus/docsync/internal/schema"
)

// Failure describes a fatal run failure.
type Failure struct {
	RunID  uuid.UUID
	Stage  string
	Kind   schema.Kind
	Time   time.Time
	LogRef string
	Err    error
}

type failureJSON struct {
	RunID  string    `json:"run_id"`
	Stage  string    `json:"stage"`
	Kind   string    `json:"kind,omitempty"`
	Time   time.Time `json:"time"`
	LogRef string    `json:"log_ref,omitempty"`
	Error  string    `json:"error"`
}

func (f Failure) MarshalJSON() ([]byte, error) {
	out := failureJSON{
		RunID:  f.RunID.String(),
		Stage:  f.Stage,
		Kind:   string(f.Kind),
		Time:   f.Time.UTC(),
		LogRef: f.LogRef,
	}
	if f.Err != nil {
		out.Error = f.Err.Error()
	}
	return json.Marshal(out)
}

func (f Failure) MarshalZerologObject(e *zerolog.Event) {
	e.Str("run_id", f.RunID.String()).
		Str("stage", f.Stage).
		Time("failed_at", f.Time)
	if f.Kind != "" {
		e.Str("kind", string(f.Kind))
	}
	if f.LogRef != "" {
		e.Str("log_ref", f.LogRef)
	}
	if f.Err != nil {
		e.AnErr("cause", f.Err)
	}
}

// Notifier is called once per failed run.
type Notifier interface {
	Notify(ctx context.Context, f Failure) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, f Failure) error

func (fn NotifierFunc) Notify(ctx context.Context, f Failure) error { return fn(ctx, f) }

// Nop discards failures.
var Nop Notifier = NotifierFunc(func(context.Context, Failure) error { return nil })

// LogNotifier writes failures to a logger.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier returns a notifier logging at error level.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, f Failure) error {
	n.log.Error().EmbedObject(f).Msg("sync run failed")
	return nil
}

// Multi fans a failure out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, f Failure) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
