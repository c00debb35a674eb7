// Package session runs the viewer's polling loop for one signed-in user.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/louisbranch/rockettree/internal/services/growth/domain/growth"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/progression"
)

const defaultPollInterval = 3 * time.Second

// ErrAlreadyRunning is returned by Start when the loop is active.
var ErrAlreadyRunning = errors.New("session already running")

// EventFetcher yields new events once each.
type EventFetcher interface {
	FetchNewEvents(ctx context.Context) []progression.Event
	Reset()
}

// EventDispatcher fans events out to consumers.
type EventDispatcher interface {
	DispatchAll(ctx context.Context, events []progression.Event)
}

// StateSource reads the authoritative growth state.
type StateSource interface {
	GetGrowthState(ctx context.Context) (growth.State, error)
}

// StateSink receives the authoritative state when a session starts.
type StateSink interface {
	SetAuthoritativeState(ctx context.Context, state growth.State)
}

// Config configures a Manager.
type Config struct {
	Fetcher      EventFetcher
	Dispatcher   EventDispatcher
	States       StateSource
	Sinks        []StateSink
	PollInterval time.Duration
	Logger       *zap.Logger
}

// Manager owns the fetch and dispatch loop.
type Manager struct {
	fetcher    EventFetcher
	dispatcher EventDispatcher
	states     StateSource
	sinks      []StateSink
	interval   time.Duration
	logger     *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager validates cfg and returns an idle manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("event fetcher is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("event dispatcher is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Manager{
		fetcher:    cfg.Fetcher,
		dispatcher: cfg.Dispatcher,
		states:     cfg.States,
		sinks:      cfg.Sinks,
		interval:   cfg.PollInterval,
		logger:     cfg.Logger,
	}, nil
}

// Start renders the authoritative state, polls once, then keeps polling in
// the background until Stop, Reset or ctx ends.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.activeLocked() {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	if m.cancel != nil {
		m.cancel()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	m.renderState(loopCtx)
	m.PollOnce(loopCtx)

	go func() {
		defer close(done)
		m.loop(loopCtx)
	}()
	return nil
}

// Resume polls immediately, as when the viewer returns to the foreground.
func (m *Manager) Resume(ctx context.Context) int {
	return m.PollOnce(ctx)
}

// Running reports whether the background loop is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

// activeLocked reports whether a started loop has not exited yet. Callers
// hold m.mu.
func (m *Manager) activeLocked() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// Stop cancels the background loop and waits for it to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Reset stops the loop and forgets every processed event so the next Start
// replays the full history.
func (m *Manager) Reset() {
	m.Stop()
	m.fetcher.Reset()
}

// PollOnce fetches new events and dispatches them in order. It returns the
// number of events dispatched.
func (m *Manager) PollOnce(ctx context.Context) int {
	events := m.fetcher.FetchNewEvents(ctx)
	if len(events) == 0 || ctx.Err() != nil {
		return 0
	}
	m.dispatcher.DispatchAll(ctx, events)
	m.logger.Debug("dispatched progression events", zap.Int("count", len(events)))
	return len(events)
}

func (m *Manager) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.PollOnce(ctx)
		}
	}
}

func (m *Manager) renderState(ctx context.Context) {
	if m.states == nil || len(m.sinks) == 0 {
		return
	}
	state, err := m.states.GetGrowthState(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("load authoritative growth state", zap.Error(fmt.Errorf("start session: %w", err)))
		}
		return
	}
	for _, sink := range m.sinks {
		if sink != nil {
			sink.SetAuthoritativeState(ctx, state)
		}
	}
}
