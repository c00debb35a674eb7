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

// TaskCompletedHandler fires once per open-to-completed task transition.
type TaskCompletedHandler struct {
	deps Deps
}

// NewTaskCompletedHandler creates a task completion handler.
func NewTaskCompletedHandler(deps Deps) *TaskCompletedHandler {
	return &TaskCompletedHandler{deps: deps.normalized()}
}

// TaskTriggerKey is the journal key for one task change.
func TaskTriggerKey(changeID string) string {
	return "task-change:" + changeID
}

// Handle inspects the before and after snapshots of a task write. Only a
// write that moves a task into completed fires.
func (h *TaskCompletedHandler) Handle(ctx context.Context, change action.TaskChange) (Result, error) {
	if h == nil || h.deps.Journal == nil || h.deps.Interpreter == nil {
		return Result{}, Permanent(fmt.Errorf("task completed handler is not configured"))
	}
	if change.Before == nil || change.After == nil {
		return Result{}, nil
	}
	if change.Before.Completed() || !change.After.Completed() {
		return Result{}, nil
	}

	changeID := strings.TrimSpace(change.ChangeID)
	if changeID == "" {
		return Result{}, Permanent(fmt.Errorf("task change id is required"))
	}
	after := change.After
	userID := strings.TrimSpace(after.UserID)
	if userID == "" {
		return Result{}, Permanent(fmt.Errorf("task %s has no user id", change.TaskID))
	}

	ctx, span := tracer().Start(ctx, "trigger.TaskCompleted")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.String("task.id", after.TaskID),
		attribute.String("change.id", changeID),
	)

	occurredAt := h.deps.Clock().UTC()
	if after.CompletedAt != nil && !after.CompletedAt.IsZero() {
		occurredAt = after.CompletedAt.UTC()
	}
	depth := growth.ParseDepth(string(after.EstimatedDepth))

	eventID, err := h.deps.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("generate event id: %w", err)
	}
	stored, created, err := h.deps.Journal.AppendTriggeredEvent(ctx, TaskTriggerKey(changeID), progression.Event{
		EventID:    eventID,
		UserID:     userID,
		Type:       progression.TypeTaskCompleted,
		Subtype:    progression.TaskSubtype(string(depth)),
		OccurredAt: occurredAt,
		Metadata: map[string]string{
			progression.MetaTaskID:    after.TaskID,
			progression.MetaProjectID: after.ProjectID,
			progression.MetaTaskDepth: string(depth),
		},
		Summary: after.Title,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append event")
		return Result{}, fmt.Errorf("append task completed event: %w", err)
	}

	outcome, err := h.deps.Interpreter.ApplyTaskCompletion(ctx, growth.TaskCompletion{
		UserID:     userID,
		Depth:      depth,
		OccurredAt: stored.OccurredAt,
		EventID:    stored.EventID,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply growth")
		return Result{Fired: true, EventID: stored.EventID, Replayed: !created}, fmt.Errorf("apply task completion: %w", err)
	}

	h.deps.Logger.Info("task completion processed",
		zap.String("user_id", userID),
		zap.String("task_id", after.TaskID),
		zap.String("event_id", stored.EventID),
		zap.Bool("replayed", !created),
		zap.String("outcome", string(outcome)),
	)
	return Result{Fired: true, EventID: stored.EventID, Replayed: !created, Outcome: outcome}, nil
}
