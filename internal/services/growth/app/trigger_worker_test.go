package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/rockettree/internal/services/growth/domain/action"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/growth"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/trigger"
	"github.com/louisbranch/rockettree/internal/services/growth/storage"
	growthsqlite "github.com/louisbranch/rockettree/internal/services/growth/storage/sqlite"
)

type fakeOutbox struct {
	mu        sync.Mutex
	pending   []storage.Change
	completed []string
	failed    map[string]bool
	claimErr  error
}

func (o *fakeOutbox) ClaimChanges(_ context.Context, _ time.Time, limit int) ([]storage.Change, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.claimErr != nil {
		return nil, o.claimErr
	}
	if limit > len(o.pending) {
		limit = len(o.pending)
	}
	claimed := o.pending[:limit]
	o.pending = o.pending[limit:]
	return claimed, nil
}

func (o *fakeOutbox) CompleteChange(_ context.Context, changeID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed = append(o.completed, changeID)
	return nil
}

func (o *fakeOutbox) FailChange(_ context.Context, change storage.Change, _ time.Time, _ string, permanent bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failed == nil {
		o.failed = make(map[string]bool)
	}
	o.failed[change.ChangeID] = permanent
	return nil
}

func (o *fakeOutbox) OutboxSummary(context.Context) (storage.OutboxSummary, error) {
	return storage.OutboxSummary{}, nil
}

func TestTriggerWorkerRoutesByKind(t *testing.T) {
	outbox := &fakeOutbox{pending: []storage.Change{
		{ChangeID: "c1", Kind: "ok"},
		{ChangeID: "c2", Kind: "retry"},
		{ChangeID: "c3", Kind: "broken"},
		{ChangeID: "c4", Kind: "unknown"},
	}}
	handlers := map[string]ChangeHandler{
		"ok": ChangeHandlerFunc(func(context.Context, storage.Change) error { return nil }),
		"retry": ChangeHandlerFunc(func(context.Context, storage.Change) error {
			return errors.New("database is busy")
		}),
		"broken": ChangeHandlerFunc(func(context.Context, storage.Change) error {
			return trigger.Permanent(errors.New("bad payload"))
		}),
	}
	worker := NewTriggerWorker(outbox, handlers, WorkerConfig{}, nil)

	processed, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if processed != 4 {
		t.Fatalf("expected 4 processed, got %d", processed)
	}
	if len(outbox.completed) != 1 || outbox.completed[0] != "c1" {
		t.Fatalf("unexpected completed: %v", outbox.completed)
	}
	want := map[string]bool{"c2": false, "c3": true, "c4": true}
	for id, permanent := range want {
		got, ok := outbox.failed[id]
		if !ok || got != permanent {
			t.Fatalf("change %s: expected failed permanent=%v, got %v (present %v)", id, permanent, got, ok)
		}
	}
}

func TestTriggerWorkerCancelledPassIsEmpty(t *testing.T) {
	outbox := &fakeOutbox{pending: []storage.Change{{ChangeID: "c1", Kind: "ok"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	worker := NewTriggerWorker(outbox, nil, WorkerConfig{}, nil)
	processed, err := worker.RunOnce(ctx)
	if err != nil || processed != 0 {
		t.Fatalf("expected empty pass, got %d %v", processed, err)
	}
	if len(outbox.pending) != 1 {
		t.Fatal("cancelled pass must not claim changes")
	}
}

func TestTriggerWorkerLeavesChangeClaimedWhenCancelledMidHandle(t *testing.T) {
	outbox := &fakeOutbox{pending: []storage.Change{{ChangeID: "c1", Kind: "slow"}}}
	ctx, cancel := context.WithCancel(context.Background())
	handlers := map[string]ChangeHandler{
		"slow": ChangeHandlerFunc(func(ctx context.Context, _ storage.Change) error {
			cancel()
			return ctx.Err()
		}),
	}
	worker := NewTriggerWorker(outbox, handlers, WorkerConfig{}, nil)
	processed, err := worker.RunOnce(ctx)
	if err != nil || processed != 0 {
		t.Fatalf("expected empty pass, got %d %v", processed, err)
	}
	if len(outbox.completed) != 0 || len(outbox.failed) != 0 {
		t.Fatalf("expected change left for lease expiry, got completed=%v failed=%v", outbox.completed, outbox.failed)
	}
}

func TestTriggerWorkerReportsClaimError(t *testing.T) {
	worker := NewTriggerWorker(&fakeOutbox{claimErr: errors.New("disk gone")}, nil, WorkerConfig{}, nil)
	if _, err := worker.RunOnce(context.Background()); err == nil {
		t.Fatal("expected claim error")
	}
}

func TestTriggerWorkerRunStopsOnCancel(t *testing.T) {
	worker := NewTriggerWorker(&fakeOutbox{}, nil, WorkerConfig{PollInterval: 5 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestChangeHandlersRejectMalformedPayload(t *testing.T) {
	handlers := ChangeHandlers(nil, nil, nil)
	for _, kind := range []string{action.KindTaskUpdated, action.KindReflectionCreated, action.KindAccountCreated} {
		err := handlers[kind].HandleChange(context.Background(), storage.Change{ChangeID: "c", Kind: kind, Payload: []byte("{")})
		if !trigger.IsPermanent(err) {
			t.Fatalf("%s: expected permanent decode error, got %v", kind, err)
		}
	}
}

// pipeline wires the real store, interpreter and handlers the way the runtime
// does.
type pipeline struct {
	store       *growthsqlite.Store
	worker      *TriggerWorker
	interpreter *growth.Interpreter
}

func newPipeline(t *testing.T, now time.Time) pipeline {
	t.Helper()
	seq := 0
	var mu sync.Mutex
	ids := func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("id-%03d", seq), nil
	}
	clock := func() time.Time { return now }
	store, err := growthsqlite.Open(context.Background(), filepath.Join(t.TempDir(), "growth.db"),
		growthsqlite.WithClock(clock), growthsqlite.WithIDGenerator(ids))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	interpreter := growth.NewInterpreter(store)
	deps := trigger.Deps{Journal: store, Interpreter: interpreter, Clock: clock, NewID: ids}
	worker := NewTriggerWorker(store, ChangeHandlers(
		trigger.NewTaskCompletedHandler(deps),
		trigger.NewReflectionCreatedHandler(deps),
		trigger.NewAccountBootstrapHandler(store, nil, clock),
	), WorkerConfig{}, nil)
	worker.clock = clock
	return pipeline{store: store, worker: worker, interpreter: interpreter}
}

func TestPipelineTaskCompletionGrowsTree(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	p := newPipeline(t, now)
	ctx := context.Background()

	if err := p.store.CreateAccount(ctx, "user-1", now); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := p.worker.RunOnce(ctx); err != nil {
		t.Fatalf("bootstrap pass: %v", err)
	}

	task, err := action.NewTask("task-1", action.NewTaskInput{UserID: "user-1", Title: "Ship", EstimatedDepth: "deep"}, now)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if err := p.store.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	completed := string(action.TaskCompleted)
	if _, err := p.store.UpdateTask(ctx, "user-1", "task-1", func(current action.Task) (action.Task, error) {
		return action.ApplyUpdate(current, action.TaskUpdate{Status: &completed}, now)
	}); err != nil {
		t.Fatalf("complete task: %v", err)
	}
	// A second write on an already completed task must not fire again.
	notes := "done"
	if _, err := p.store.UpdateTask(ctx, "user-1", "task-1", func(current action.Task) (action.Task, error) {
		return action.ApplyUpdate(current, action.TaskUpdate{Notes: &notes}, now)
	}); err != nil {
		t.Fatalf("edit task: %v", err)
	}
	if processed, err := p.worker.RunOnce(ctx); err != nil || processed != 2 {
		t.Fatalf("task pass: processed=%d err=%v", processed, err)
	}

	state, err := p.store.GetGrowthState(ctx, "user-1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if !approx(state.Mass, 1.05) || !approx(state.Structure, 0.58) || !approx(state.Vitality, 0.81) {
		t.Fatalf("unexpected state: %+v", state)
	}
	events, err := p.store.ListEvents(ctx, storage.EventQuery{UserID: "user-1"})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Subtype != "DEEP_TASK" {
		t.Fatalf("expected one deep task event, got %+v", events)
	}
	summary, err := p.store.OutboxSummary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary != (storage.OutboxSummary{}) {
		t.Fatalf("expected drained outbox, got %+v", summary)
	}
}

func approx(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
