// Package storage defines the persistence contracts of the growth service.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/rockettree/internal/services/growth/domain/action"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/growth"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/progression"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// Growth state errors shared with the interpreter contract.
var (
	ErrStaleState     = growth.ErrStaleState
	ErrAlreadyApplied = growth.ErrAlreadyApplied
	// ErrGrowthStateNotFound matches both ErrNotFound and
	// growth.ErrStateNotFound.
	ErrGrowthStateNotFound = fmt.Errorf("%w: %w", ErrNotFound, growth.ErrStateNotFound)
)

// GrowthStore persists growth state and account bootstrap records.
type GrowthStore interface {
	growth.StateStore
	BootstrapAccount(ctx context.Context, profile action.UserProfile, state growth.State) (bool, error)
	GetProfile(ctx context.Context, userID string) (action.UserProfile, error)
}

// EventQuery selects one user's progression events.
type EventQuery struct {
	UserID string
	// Since is an inclusive lower bound on OccurredAt. Nil means from the start.
	Since *time.Time
	Limit int
}

// UnappliedQuery selects growth-bearing events without an application
// checkpoint, recorded inside [RecordedAfter, RecordedBefore].
type UnappliedQuery struct {
	RecordedAfter  time.Time
	RecordedBefore time.Time
	Limit          int
}

// EventStore is the append-only progression event log.
type EventStore interface {
	AppendTriggeredEvent(ctx context.Context, triggerKey string, evt progression.Event) (progression.Event, bool, error)
	GetEvent(ctx context.Context, eventID string) (progression.Event, error)
	ListEvents(ctx context.Context, query EventQuery) ([]progression.Event, error)
	ListUnappliedEvents(ctx context.Context, query UnappliedQuery) ([]progression.Event, error)
}

// ActionStore persists user actions. Every mutating call that can trigger
// growth records a change in the outbox inside the same transaction.
type ActionStore interface {
	CreateAccount(ctx context.Context, userID string, now time.Time) error
	CreateTask(ctx context.Context, task action.Task) error
	GetTask(ctx context.Context, userID, taskID string) (action.Task, error)
	UpdateTask(ctx context.Context, userID, taskID string, mutate func(action.Task) (action.Task, error)) (action.TaskChange, error)
	CreateReflection(ctx context.Context, reflection action.Reflection) (action.ReflectionCreated, error)
}

// Change statuses.
const (
	ChangePending    = "pending"
	ChangeProcessing = "processing"
	ChangeFailed     = "failed"
	ChangeDead       = "dead"
)

// Change is one claimed change outbox row.
type Change struct {
	ChangeID     string
	Kind         string
	UserID       string
	Payload      []byte
	Status       string
	AttemptCount int
	CreatedAt    time.Time
}

// OutboxSummary reports change outbox depth by status.
type OutboxSummary struct {
	PendingCount    int
	ProcessingCount int
	FailedCount     int
	DeadCount       int
}

// ChangeOutbox hands out changes to trigger workers.
type ChangeOutbox interface {
	ClaimChanges(ctx context.Context, now time.Time, limit int) ([]Change, error)
	CompleteChange(ctx context.Context, changeID string) error
	FailChange(ctx context.Context, change Change, now time.Time, cause string, permanent bool) error
	OutboxSummary(ctx context.Context) (OutboxSummary, error)
}
