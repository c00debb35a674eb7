// Package trigger turns domain action changes into progression events and
// growth mutations.
//
// Every handler appends its event under a trigger key before touching growth
// state. The journal keeps one receipt per key, so a redelivered change gets
// back the event written the first time and the interpreter call is repeated
// with that same event id, which the interpreter deduplicates.
package trigger

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/louisbranch/rockettree/internal/platform/id"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/action"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/growth"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/progression"
)

const tracerName = "github.com/louisbranch/rockettree/trigger"

// EventJournal appends progression events keyed by the trigger that caused
// them. When triggerKey was seen before, the stored event is returned with
// created=false and nothing is written.
type EventJournal interface {
	AppendTriggeredEvent(ctx context.Context, triggerKey string, evt progression.Event) (stored progression.Event, created bool, err error)
}

// Interpreter applies growth mutations.
type Interpreter interface {
	ApplyTaskCompletion(ctx context.Context, in growth.TaskCompletion) (growth.Outcome, error)
	ApplyReflection(ctx context.Context, in growth.Reflection) (growth.Outcome, error)
}

// AccountStore creates account records.
type AccountStore interface {
	// BootstrapAccount creates profile and state in one transaction unless the
	// user already has a growth state. It reports whether anything was created.
	BootstrapAccount(ctx context.Context, profile action.UserProfile, state growth.State) (bool, error)
}

// Result describes what a handler did with one change.
type Result struct {
	// Fired is false when the change did not qualify.
	Fired bool
	// EventID is the id of the appended (or previously appended) event.
	EventID string
	// Replayed is true when the trigger key already had an event.
	Replayed bool
	Outcome  growth.Outcome
}

// Deps are shared by every handler.
type Deps struct {
	Journal     EventJournal
	Interpreter Interpreter
	Logger      *zap.Logger
	Clock       func() time.Time
	NewID       func() (string, error)
}

func (d Deps) normalized() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.NewID == nil {
		d.NewID = id.NewID
	}
	return d
}

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
