package progression

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/louisbranch/rockettree/internal/platform/logging"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/progression"
)

// Consumer reacts to one progression event. Consumers must tolerate event
// types they do not care about.
type Consumer interface {
	OnEvent(ctx context.Context, evt progression.Event)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(ctx context.Context, evt progression.Event)

// OnEvent calls fn.
func (fn ConsumerFunc) OnEvent(ctx context.Context, evt progression.Event) {
	fn(ctx, evt)
}

// Routes lists the consumers for each event type.
type Routes struct {
	TaskCompleted      []Consumer
	ReflectionLogged   []Consumer
	ReturnAfterAbsence []Consumer
	SessionInterpreted []Consumer
	TimeTick           []Consumer
}

// Dispatcher routes events to consumers by type.
type Dispatcher struct {
	routes Routes
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(routes Routes, logger *zap.Logger) *Dispatcher {
	logger = logging.OrNop(logger)
	return &Dispatcher{routes: routes, logger: logger}
}

// Dispatch hands evt to every consumer routed for its type, in order. A
// panicking consumer is logged and skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, evt progression.Event) {
	if d == nil {
		return
	}
	var consumers []Consumer
	switch evt.Type {
	case progression.TypeTaskCompleted:
		consumers = d.routes.TaskCompleted
	case progression.TypeReflectionLogged:
		consumers = d.routes.ReflectionLogged
	case progression.TypeReturnAfterAbsence:
		consumers = d.routes.ReturnAfterAbsence
	case progression.TypeSessionInterpreted:
		consumers = d.routes.SessionInterpreted
	case progression.TypeTimeTick:
		consumers = d.routes.TimeTick
	default:
		d.logger.Warn("unknown progression event type",
			zap.String("event_id", evt.EventID),
			zap.String("type", string(evt.Type)),
		)
		return
	}
	for _, consumer := range consumers {
		if consumer == nil {
			continue
		}
		d.deliver(ctx, consumer, evt)
	}
}

// DispatchAll dispatches events in slice order.
func (d *Dispatcher) DispatchAll(ctx context.Context, events []progression.Event) {
	for _, evt := range events {
		d.Dispatch(ctx, evt)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, consumer Consumer, evt progression.Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error("progression consumer panicked",
				zap.String("event_id", evt.EventID),
				zap.String("type", string(evt.Type)),
				zap.String("consumer", fmt.Sprintf("%T", consumer)),
				zap.Any("panic", recovered),
			)
		}
	}()
	consumer.OnEvent(ctx, evt)
}
