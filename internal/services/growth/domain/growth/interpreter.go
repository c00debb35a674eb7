package growth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/louisbranch/rockettree/internal/platform/errors"
)

const (
	tracerName        = "github.com/louisbranch/rockettree/growth"
	defaultMaxRetries = 8
)

// StateStore reads and conditionally replaces growth state.
//
// SwapGrowthState must, in one transaction, record eventID as applied and
// replace the state only when the stored version equals expectedVersion. It
// returns ErrAlreadyApplied when eventID was recorded before and ErrStaleState
// when the version moved. GetGrowthState returns ErrStateNotFound for unknown
// users.
type StateStore interface {
	GetGrowthState(ctx context.Context, userID string) (State, error)
	SwapGrowthState(ctx context.Context, expectedVersion uint64, next State, eventID string) error
}

// Outcome reports what an interpreter call did.
type Outcome string

const (
	OutcomeApplied             Outcome = "applied"
	OutcomeSkippedMissingState Outcome = "skipped_missing_state"
	OutcomeAlreadyApplied      Outcome = "already_applied"
)

// TaskCompletion is the input for a task completion mutation.
type TaskCompletion struct {
	UserID     string
	Depth      Depth
	OccurredAt time.Time
	EventID    string
}

// Reflection is the input for a reflection mutation.
type Reflection struct {
	UserID     string
	OccurredAt time.Time
	EventID    string
}

// Interpreter applies bounded growth deltas to one user's state at a time.
type Interpreter struct {
	store      StateStore
	limits     Limits
	maxRetries int
	logger     *zap.Logger
	tracer     trace.Tracer
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithLimits overrides DefaultLimits.
func WithLimits(limits Limits) Option {
	return func(i *Interpreter) { i.limits = limits }
}

// WithMaxRetries bounds how often a stale snapshot is re-read.
func WithMaxRetries(n int) Option {
	return func(i *Interpreter) {
		if n > 0 {
			i.maxRetries = n
		}
	}
}

// WithLogger sets the interpreter logger.
func WithLogger(logger *zap.Logger) Option {
	return func(i *Interpreter) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewInterpreter builds an interpreter over store.
func NewInterpreter(store StateStore, opts ...Option) *Interpreter {
	i := &Interpreter{
		store:      store,
		limits:     DefaultLimits,
		maxRetries: defaultMaxRetries,
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Limits returns the bounds the interpreter enforces.
func (i *Interpreter) Limits() Limits {
	return i.limits
}

// ApplyTaskCompletion grows mass and structure by the depth's deltas and
// restores a little vitality. A missing state is skipped without error.
func (i *Interpreter) ApplyTaskCompletion(ctx context.Context, in TaskCompletion) (Outcome, error) {
	depth := in.Depth
	if !depth.Valid() {
		depth = DepthSmall
	}
	return i.apply(ctx, "growth.ApplyTaskCompletion", in.UserID, in.EventID, func(current State) State {
		return NextForTask(i.limits, current, depth, in.OccurredAt)
	}, attribute.String("task.depth", string(depth)))
}

// ApplyReflection restores vitality. A missing state is skipped without
// error.
func (i *Interpreter) ApplyReflection(ctx context.Context, in Reflection) (Outcome, error) {
	return i.apply(ctx, "growth.ApplyReflection", in.UserID, in.EventID, func(current State) State {
		return NextForReflection(i.limits, current, in.OccurredAt)
	})
}

func (i *Interpreter) apply(
	ctx context.Context,
	spanName string,
	userID string,
	eventID string,
	next func(State) State,
	attrs ...attribute.KeyValue,
) (Outcome, error) {
	if i == nil || i.store == nil {
		return "", fmt.Errorf("growth state store is not configured")
	}
	userID = strings.TrimSpace(userID)
	eventID = strings.TrimSpace(eventID)
	if userID == "" {
		return "", apperrors.New(apperrors.CodeUserIDRequired, "user id is required")
	}
	if eventID == "" {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "event id is required")
	}

	ctx, span := i.tracer.Start(ctx, spanName, trace.WithAttributes(append(attrs,
		attribute.String("user.id", userID),
		attribute.String("event.id", eventID),
	)...))
	defer span.End()

	logger := i.logger.With(zap.String("user_id", userID), zap.String("event_id", eventID))

	for attempt := 0; attempt <= i.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		current, err := i.store.GetGrowthState(ctx, userID)
		if errors.Is(err, ErrStateNotFound) {
			logger.Info("growth state missing, mutation skipped")
			span.SetAttributes(attribute.String("growth.outcome", string(OutcomeSkippedMissingState)))
			return OutcomeSkippedMissingState, nil
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "read growth state")
			return "", fmt.Errorf("read growth state: %w", err)
		}

		updated := next(current)
		err = i.store.SwapGrowthState(ctx, current.Version, updated, eventID)
		switch {
		case err == nil:
			logger.Debug("growth state updated",
				zap.Uint64("version", updated.Version),
				zap.Float64("mass", updated.Mass),
				zap.Float64("structure", updated.Structure),
				zap.Float64("vitality", updated.Vitality),
			)
			span.SetAttributes(attribute.String("growth.outcome", string(OutcomeApplied)))
			return OutcomeApplied, nil
		case errors.Is(err, ErrAlreadyApplied):
			logger.Debug("event already applied")
			span.SetAttributes(attribute.String("growth.outcome", string(OutcomeAlreadyApplied)))
			return OutcomeAlreadyApplied, nil
		case errors.Is(err, ErrStaleState):
			logger.Debug("stale growth state, retrying", zap.Int("attempt", attempt+1))
			continue
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, "swap growth state")
			return "", fmt.Errorf("write growth state: %w", err)
		}
	}

	err := apperrors.WithMetadata(
		apperrors.CodeGrowthStateContention,
		"growth state kept changing during update",
		map[string]string{"user_id": userID, "event_id": eventID},
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, "contention")
	return "", err
}
