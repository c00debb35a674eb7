package trigger

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/louisbranch/rockettree/internal/services/growth/domain/action"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/growth"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/progression"
)

// ReflectionCreatedHandler fires once per stored reflection.
type ReflectionCreatedHandler struct {
	deps Deps
}

// NewReflectionCreatedHandler creates a reflection handler.
func NewReflectionCreatedHandler(deps Deps) *ReflectionCreatedHandler {
	return &ReflectionCreatedHandler{deps: deps.normalized()}
}

// ReflectionTriggerKey is the journal key for one reflection.
func ReflectionTriggerKey(reflectionID string) string {
	return "reflection:" + reflectionID
}

// Handle logs a reflection event and restores vitality.
func (h *ReflectionCreatedHandler) Handle(ctx context.Context, created action.ReflectionCreated) (Result, error) {
	if h == nil || h.deps.Journal == nil || h.deps.Interpreter == nil {
		return Result{}, Permanent(fmt.Errorf("reflection created handler is not configured"))
	}
	reflection := created.Reflection
	reflectionID := strings.TrimSpace(reflection.ReflectionID)
	if reflectionID == "" {
		return Result{}, Permanent(fmt.Errorf("reflection id is required"))
	}
	userID := strings.TrimSpace(reflection.UserID)
	if userID == "" {
		return Result{}, Permanent(fmt.Errorf("reflection %s has no user id", reflectionID))
	}

	ctx, span := tracer().Start(ctx, "trigger.ReflectionCreated")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.String("reflection.id", reflectionID),
	)

	occurredAt := h.deps.Clock().UTC()
	if !reflection.CreatedAt.IsZero() {
		occurredAt = reflection.CreatedAt.UTC()
	}

	eventID, err := h.deps.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("generate event id: %w", err)
	}
	stored, isNew, err := h.deps.Journal.AppendTriggeredEvent(ctx, ReflectionTriggerKey(reflectionID), progression.Event{
		EventID:    eventID,
		UserID:     userID,
		Type:       progression.TypeReflectionLogged,
		Subtype:    progression.SubtypeUserReflection,
		OccurredAt: occurredAt,
		Metadata: map[string]string{
			progression.MetaReflectionID:   reflectionID,
			progression.MetaRelatedTaskIDs: progression.JoinList(reflection.RelatedTaskIDs),
			progression.MetaTags:           progression.JoinList(reflection.Tags),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append event")
		return Result{}, fmt.Errorf("append reflection event: %w", err)
	}

	outcome, err := h.deps.Interpreter.ApplyReflection(ctx, growth.Reflection{
		UserID:     userID,
		OccurredAt: stored.OccurredAt,
		EventID:    stored.EventID,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply growth")
		return Result{Fired: true, EventID: stored.EventID, Replayed: !isNew}, fmt.Errorf("apply reflection: %w", err)
	}

	h.deps.Logger.Info("reflection processed",
		zap.String("user_id", userID),
		zap.String("reflection_id", reflectionID),
		zap.String("event_id", stored.EventID),
		zap.Bool("replayed", !isNew),
		zap.String("outcome", string(outcome)),
	)
	return Result{Fired: true, EventID: stored.EventID, Replayed: !isNew, Outcome: outcome}, nil
}
