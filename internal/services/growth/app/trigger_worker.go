package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/louisbranch/rockettree/internal/services/growth/domain/action"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/trigger"
	"github.com/louisbranch/rockettree/internal/services/growth/storage"
)

const (
	defaultWorkerPollInterval = time.Second
	defaultWorkerBatchSize    = 32
)

// ChangeHandler processes one claimed outbox change.
type ChangeHandler interface {
	HandleChange(ctx context.Context, change storage.Change) error
}

// ChangeHandlerFunc adapts a function to ChangeHandler.
type ChangeHandlerFunc func(ctx context.Context, change storage.Change) error

// HandleChange calls fn.
func (fn ChangeHandlerFunc) HandleChange(ctx context.Context, change storage.Change) error {
	return fn(ctx, change)
}

// WorkerConfig controls trigger worker polling.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

func (c WorkerConfig) normalized() WorkerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultWorkerPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultWorkerBatchSize
	}
	return c
}

// TriggerWorker drains the change outbox into trigger handlers.
type TriggerWorker struct {
	outbox   storage.ChangeOutbox
	handlers map[string]ChangeHandler
	cfg      WorkerConfig
	logger   *zap.Logger
	clock    func() time.Time
}

// NewTriggerWorker creates a worker dispatching changes by kind.
func NewTriggerWorker(outbox storage.ChangeOutbox, handlers map[string]ChangeHandler, cfg WorkerConfig, logger *zap.Logger) *TriggerWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TriggerWorker{
		outbox:   outbox,
		handlers: handlers,
		cfg:      cfg.normalized(),
		logger:   logger,
		clock:    time.Now,
	}
}

// Run polls until ctx ends.
func (w *TriggerWorker) Run(ctx context.Context) error {
	if w == nil || w.outbox == nil {
		return fmt.Errorf("trigger worker is not configured")
	}
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Warn("trigger worker pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch and processes it sequentially. It returns the
// number of changes handled. Cancellation stops the pass without error and
// leaves unfinished changes to be reclaimed after their lease.
func (w *TriggerWorker) RunOnce(ctx context.Context) (int, error) {
	if ctx.Err() != nil {
		return 0, nil
	}
	now := w.clock().UTC()
	changes, err := w.outbox.ClaimChanges(ctx, now, w.cfg.BatchSize)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil
		}
		return 0, fmt.Errorf("claim changes: %w", err)
	}

	processed := 0
	for _, change := range changes {
		handleErr := w.handle(ctx, change)
		if ctx.Err() != nil {
			return processed, nil
		}
		if handleErr == nil {
			if err := w.outbox.CompleteChange(ctx, change.ChangeID); err != nil {
				return processed, err
			}
			processed++
			continue
		}

		permanent := trigger.IsPermanent(handleErr)
		w.logger.Warn("change handling failed",
			zap.String("change_id", change.ChangeID),
			zap.String("kind", change.Kind),
			zap.Int("attempt", change.AttemptCount+1),
			zap.Bool("permanent", permanent),
			zap.Error(handleErr),
		)
		if err := w.outbox.FailChange(ctx, change, w.clock().UTC(), handleErr.Error(), permanent); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

func (w *TriggerWorker) handle(ctx context.Context, change storage.Change) error {
	handler, ok := w.handlers[change.Kind]
	if !ok || handler == nil {
		return trigger.Permanent(fmt.Errorf("no handler for change kind %q", change.Kind))
	}
	return handler.HandleChange(ctx, change)
}

// ChangeHandlers wires the trigger handlers to their change kinds.
func ChangeHandlers(tasks *trigger.TaskCompletedHandler, reflections *trigger.ReflectionCreatedHandler, accounts *trigger.AccountBootstrapHandler) map[string]ChangeHandler {
	return map[string]ChangeHandler{
		action.KindTaskUpdated: ChangeHandlerFunc(func(ctx context.Context, change storage.Change) error {
			var payload action.TaskChange
			if err := decodeChange(change, &payload); err != nil {
				return err
			}
			_, err := tasks.Handle(ctx, payload)
			return err
		}),
		action.KindReflectionCreated: ChangeHandlerFunc(func(ctx context.Context, change storage.Change) error {
			var payload action.ReflectionCreated
			if err := decodeChange(change, &payload); err != nil {
				return err
			}
			_, err := reflections.Handle(ctx, payload)
			return err
		}),
		action.KindAccountCreated: ChangeHandlerFunc(func(ctx context.Context, change storage.Change) error {
			var payload action.AccountCreated
			if err := decodeChange(change, &payload); err != nil {
				return err
			}
			_, err := accounts.Handle(ctx, payload)
			return err
		}),
	}
}

func decodeChange(change storage.Change, dst any) error {
	if err := json.Unmarshal(change.Payload, dst); err != nil {
		return trigger.Permanent(fmt.Errorf("decode %s change %s: %w", change.Kind, change.ChangeID, err))
	}
	return nil
}
