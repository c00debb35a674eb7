package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/rockettree/internal/services/growth/domain/growth"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/progression"
	viewerprogression "github.com/louisbranch/rockettree/internal/services/viewer/progression"
)

var base = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

type feed struct {
	mu     sync.Mutex
	events []progression.Event
	calls  int
}

func (f *feed) add(events ...progression.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events...)
}

func (f *feed) ListEvents(_ context.Context, since *time.Time) ([]progression.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make([]progression.Event, 0, len(f.events))
	for _, evt := range f.events {
		if since == nil || !evt.OccurredAt.Before(*since) {
			out = append(out, evt)
		}
	}
	return out, nil
}

type recorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recorder) OnEvent(_ context.Context, evt progression.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, evt.EventID)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

type stateSource struct {
	state growth.State
	err   error
}

func (s stateSource) GetGrowthState(context.Context) (growth.State, error) {
	return s.state, s.err
}

type stateSink struct {
	mu     sync.Mutex
	states []growth.State
}

func (s *stateSink) SetAuthoritativeState(_ context.Context, state growth.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
}

func taskEvent(id string, offset time.Duration) progression.Event {
	return progression.Event{EventID: id, UserID: "user-1", Type: progression.TypeTaskCompleted, OccurredAt: base.Add(offset)}
}

type fixture struct {
	feed     *feed
	consumer *recorder
	sink     *stateSink
	manager  *Manager
}

func newFixture(t *testing.T, states StateSource, interval time.Duration) fixture {
	t.Helper()
	f := &feed{}
	consumer := &recorder{}
	sink := &stateSink{}
	fetcher := viewerprogression.NewFetcher(f, viewerprogression.FetcherConfig{}, nil)
	dispatcher := viewerprogression.NewDispatcher(viewerprogression.Routes{
		TaskCompleted:    []viewerprogression.Consumer{consumer},
		ReflectionLogged: []viewerprogression.Consumer{consumer},
	}, nil)
	manager, err := NewManager(Config{
		Fetcher:      fetcher,
		Dispatcher:   dispatcher,
		States:       states,
		Sinks:        []StateSink{sink},
		PollInterval: interval,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(manager.Stop)
	return fixture{feed: f, consumer: consumer, sink: sink, manager: manager}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func equalIDs(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestNewManagerRequiresCollaborators(t *testing.T) {
	if _, err := NewManager(Config{}); err == nil {
		t.Fatal("expected missing fetcher error")
	}
	fetcher := viewerprogression.NewFetcher(&feed{}, viewerprogression.FetcherConfig{}, nil)
	if _, err := NewManager(Config{Fetcher: fetcher}); err == nil {
		t.Fatal("expected missing dispatcher error")
	}
}

func TestStartRendersStateAndPollsImmediately(t *testing.T) {
	seed := growth.SeedState("user-1", base)
	fx := newFixture(t, stateSource{state: seed}, time.Hour)
	fx.feed.add(taskEvent("b", time.Minute), taskEvent("a", 0))

	if err := fx.manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !fx.manager.Running() {
		t.Fatal("expected running loop")
	}
	if err := fx.manager.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if len(fx.sink.states) != 1 || fx.sink.states[0] != seed {
		t.Fatalf("expected seed state rendered, got %+v", fx.sink.states)
	}
	if got := fx.consumer.snapshot(); !equalIDs(got, "a", "b") {
		t.Fatalf("expected a,b dispatched, got %v", got)
	}
}

func TestStartToleratesMissingState(t *testing.T) {
	fx := newFixture(t, stateSource{err: errors.New("growth state not found")}, time.Hour)
	fx.feed.add(taskEvent("a", 0))
	if err := fx.manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(fx.sink.states) != 0 {
		t.Fatalf("expected no state rendered, got %+v", fx.sink.states)
	}
	if got := fx.consumer.snapshot(); !equalIDs(got, "a") {
		t.Fatalf("expected a dispatched, got %v", got)
	}
}

func TestLoopPollsOnInterval(t *testing.T) {
	fx := newFixture(t, nil, 10*time.Millisecond)
	if err := fx.manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	fx.feed.add(taskEvent("late", time.Hour))
	waitFor(t, func() bool { return equalIDs(fx.consumer.snapshot(), "late") })

	fx.manager.Stop()
	if fx.manager.Running() {
		t.Fatal("expected stopped loop")
	}
	fx.feed.add(taskEvent("after-stop", 2*time.Hour))
	time.Sleep(30 * time.Millisecond)
	if got := fx.consumer.snapshot(); !equalIDs(got, "late") {
		t.Fatalf("expected no polling after stop, got %v", got)
	}
}

func TestResumePollsWithoutDuplicates(t *testing.T) {
	fx := newFixture(t, nil, time.Hour)
	fx.feed.add(taskEvent("a", 0))
	if got := fx.manager.Resume(context.Background()); got != 1 {
		t.Fatalf("expected one event, got %d", got)
	}
	if got := fx.manager.Resume(context.Background()); got != 0 {
		t.Fatalf("expected refetch to dispatch nothing, got %d", got)
	}
}

func TestResetReplaysHistory(t *testing.T) {
	fx := newFixture(t, nil, time.Hour)
	fx.feed.add(taskEvent("a", 0), taskEvent("b", time.Minute))
	if err := fx.manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	fx.manager.Reset()
	if fx.manager.Running() {
		t.Fatal("expected reset to stop the loop")
	}
	if err := fx.manager.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := fx.consumer.snapshot(); !equalIDs(got, "a", "b", "a", "b") {
		t.Fatalf("expected full replay after reset, got %v", got)
	}
}

func TestParentCancellationStopsLoop(t *testing.T) {
	fx := newFixture(t, nil, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	if err := fx.manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()
	waitFor(t, func() bool { return !fx.manager.Running() })
	if err := fx.manager.Start(context.Background()); err != nil {
		t.Fatalf("expected restart after parent cancellation, got %v", err)
	}
}

func TestPollOnceCancelledDispatchesNothing(t *testing.T) {
	fx := newFixture(t, nil, time.Hour)
	fx.feed.add(taskEvent("a", 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := fx.manager.PollOnce(ctx); got != 0 {
		t.Fatalf("expected no dispatch, got %d", got)
	}
	if got := fx.manager.PollOnce(context.Background()); got != 1 {
		t.Fatalf("expected event still pending, got %d", got)
	}
}
