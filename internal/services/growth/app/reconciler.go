package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/louisbranch/rockettree/internal/services/growth/domain/growth"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/progression"
	"github.com/louisbranch/rockettree/internal/services/growth/storage"
)

const (
	defaultReconcileInterval = 30 * time.Second
	defaultReconcileGrace    = time.Minute
	defaultReconcileMaxAge   = 24 * time.Hour
	defaultReconcileBatch    = 64
	maxReconcilePages        = 16
)

// UnappliedEventSource lists growth-bearing events without an application
// checkpoint.
type UnappliedEventSource interface {
	ListUnappliedEvents(ctx context.Context, query storage.UnappliedQuery) ([]progression.Event, error)
}

// GrowthApplier applies growth mutations by event id.
type GrowthApplier interface {
	ApplyTaskCompletion(ctx context.Context, in growth.TaskCompletion) (growth.Outcome, error)
	ApplyReflection(ctx context.Context, in growth.Reflection) (growth.Outcome, error)
}

// ReconcilerConfig controls the reconciliation sweep.
type ReconcilerConfig struct {
	Interval time.Duration
	// Grace skips events younger than this so in-flight triggers finish first.
	Grace time.Duration
	// MaxAge stops retrying events whose state never appeared.
	MaxAge    time.Duration
	BatchSize int
}

func (c ReconcilerConfig) normalized() ReconcilerConfig {
	if c.Interval <= 0 {
		c.Interval = defaultReconcileInterval
	}
	if c.Grace <= 0 {
		c.Grace = defaultReconcileGrace
	}
	if c.MaxAge <= 0 {
		c.MaxAge = defaultReconcileMaxAge
	}
	if c.MaxAge < c.Grace {
		c.MaxAge = c.Grace
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultReconcileBatch
	}
	return c
}

// ReconcileReport summarizes one sweep.
type ReconcileReport struct {
	Scanned        int
	Applied        int
	Skipped        int
	AlreadyApplied int
	Failed         int
}

// Reconciler re-applies logged events whose growth mutation never committed.
type Reconciler struct {
	events  UnappliedEventSource
	applier GrowthApplier
	cfg     ReconcilerConfig
	logger  *zap.Logger
	clock   func() time.Time
}

// NewReconciler creates a reconciler.
func NewReconciler(events UnappliedEventSource, applier GrowthApplier, cfg ReconcilerConfig, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		events:  events,
		applier: applier,
		cfg:     cfg.normalized(),
		logger:  logger,
		clock:   time.Now,
	}
}

// Run sweeps every interval until ctx ends.
func (r *Reconciler) Run(ctx context.Context) error {
	if r == nil || r.events == nil || r.applier == nil {
		return fmt.Errorf("reconciler is not configured")
	}
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		report, err := r.RunOnce(ctx)
		if err != nil {
			r.logger.Warn("reconcile pass failed", zap.Error(err))
			continue
		}
		if report.Applied > 0 || report.Failed > 0 {
			r.logger.Info("reconcile pass finished",
				zap.Int("scanned", report.Scanned),
				zap.Int("applied", report.Applied),
				zap.Int("skipped", report.Skipped),
				zap.Int("failed", report.Failed),
			)
		}
	}
}

// RunOnce sweeps events recorded between MaxAge and Grace ago.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileReport, error) {
	report := ReconcileReport{}
	now := r.clock().UTC()
	query := storage.UnappliedQuery{
		RecordedAfter:  now.Add(-r.cfg.MaxAge),
		RecordedBefore: now.Add(-r.cfg.Grace),
		Limit:          r.cfg.BatchSize,
	}
	seen := make(map[string]struct{})

	for page := 0; page < maxReconcilePages; page++ {
		if ctx.Err() != nil {
			return report, nil
		}
		events, err := r.events.ListUnappliedEvents(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return report, nil
			}
			return report, fmt.Errorf("list unapplied events: %w", err)
		}

		fresh := 0
		for _, evt := range events {
			if _, ok := seen[evt.EventID]; ok {
				continue
			}
			seen[evt.EventID] = struct{}{}
			fresh++
			report.Scanned++
			outcome, err := r.apply(ctx, evt)
			if err != nil {
				if ctx.Err() != nil {
					return report, nil
				}
				report.Failed++
				r.logger.Warn("reconcile event failed", zap.String("event_id", evt.EventID), zap.Error(err))
				continue
			}
			switch outcome {
			case growth.OutcomeApplied:
				report.Applied++
			case growth.OutcomeSkippedMissingState:
				report.Skipped++
			case growth.OutcomeAlreadyApplied:
				report.AlreadyApplied++
			}
		}

		if len(events) < query.Limit || fresh == 0 {
			break
		}
		query.RecordedAfter = events[len(events)-1].RecordedAt
	}
	return report, nil
}

func (r *Reconciler) apply(ctx context.Context, evt progression.Event) (growth.Outcome, error) {
	switch evt.Type {
	case progression.TypeTaskCompleted:
		depth := growth.ParseDepth(progression.MetadataValue(evt, progression.MetaTaskDepth, ""))
		return r.applier.ApplyTaskCompletion(ctx, growth.TaskCompletion{
			UserID:     evt.UserID,
			Depth:      depth,
			OccurredAt: evt.OccurredAt,
			EventID:    evt.EventID,
		})
	case progression.TypeReflectionLogged:
		return r.applier.ApplyReflection(ctx, growth.Reflection{
			UserID:     evt.UserID,
			OccurredAt: evt.OccurredAt,
			EventID:    evt.EventID,
		})
	default:
		return "", fmt.Errorf("event %s of type %s does not carry growth", evt.EventID, evt.Type)
	}
}
