package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"stagehand/internal/logging"
)

// Event identifies a lifecycle transition.
type Event string

const (
	EventStageStarted   Event = "stage_started"
	EventStageFailed    Event = "stage_failed"
	EventStageCompleted Event = "stage_completed"
)

// Detail keys populated by the runner.
const (
	DetailStage  = "stage"
	DetailError  = "error"
	DetailInputs = "inputs"
	DetailOutput = "outputs"
)

// Details is the free-form payload attached to an event. Only DetailStage is
// guaranteed by the runner.
type Details map[string]any

// Subject is the view of a stage that listeners may rely on.
type Subject interface {
	Name() string
	Succeeded() bool
}

// Notifier receives lifecycle events.
type Notifier interface {
	Signal(ctx context.Context, event Event, description string, details Details) error
}

// StageFrom extracts the originating stage from details.
func StageFrom(details Details) (Subject, bool) {
	if details == nil {
		return nil, false
	}
	subject, ok := details[DetailStage].(Subject)
	if !ok || isNil(subject) {
		return nil, false
	}
	return subject, true
}

// isNil also catches typed nil pointers stored behind the interface.
func isNil(subject Subject) bool {
	if subject == nil {
		return true
	}
	v := reflect.ValueOf(subject)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// StageName returns the originating stage name or "".
func StageName(details Details) string {
	if subject, ok := StageFrom(details); ok {
		return subject.Name()
	}
	return ""
}

// Nop discards every event.
type Nop struct{}

func (Nop) Signal(context.Context, Event, string, Details) error { return nil }

// LogNotifier writes each event as a structured log line.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier logging to logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.NewComponentLogger(logger, "events")}
}

func (n *LogNotifier) Signal(ctx context.Context, event Event, description string, details Details) error {
	attrs := []logging.Attr{logging.String(logging.FieldEventType, string(event))}
	if name := StageName(details); name != "" {
		attrs = append(attrs, logging.String(logging.FieldStage, name))
	} else {
		attrs = append(attrs, logging.Alert("missing_stage_detail"))
	}
	if err, ok := details[DetailError].(error); ok && err != nil {
		attrs = append(attrs, logging.Error(err))
	}
	logging.WithContext(ctx, n.logger).Debug(description, logging.Args(attrs...)...)
	return nil
}

// Fanout delivers every event to each listener in order. Listener errors are
// logged and otherwise ignored.
type Fanout struct {
	listeners []Notifier
	logger    *slog.Logger
}

// NewFanout builds a fanout over the non-nil listeners.
func NewFanout(logger *slog.Logger, listeners ...Notifier) *Fanout {
	filtered := make([]Notifier, 0, len(listeners))
	for _, l := range listeners {
		if l != nil {
			filtered = append(filtered, l)
		}
	}
	return &Fanout{listeners: filtered, logger: logging.NewComponentLogger(logger, "events")}
}

func (f *Fanout) Signal(ctx context.Context, event Event, description string, details Details) error {
	for _, listener := range f.listeners {
		if err := safeSignal(ctx, listener, event, description, details); err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, f.logger), "event listener failed", "listener_failure",
				logging.String("event", string(event)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "listener missed an event; stage unaffected"),
			)
		}
	}
	return nil
}

func safeSignal(ctx context.Context, listener Notifier, event Event, description string, details Details) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &listenerPanic{value: r}
		}
	}()
	return listener.Signal(ctx, event, description, details)
}

type listenerPanic struct{ value any }

func (p *listenerPanic) Error() string { return fmt.Sprintf("listener panicked: %v", p.value) }

// Recorded is one captured event.
type Recorded struct {
	Event       Event
	Description string
	Stage       string
	Details     Details
}

// Recorder captures events in arrival order. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

func (r *Recorder) Signal(_ context.Context, event Event, description string, details Details) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Event: event, Description: description, Stage: StageName(details), Details: details})
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Event {
	events := r.Events()
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = e.Event
	}
	return out
}
