// Package progression turns the growth service's possibly duplicated, possibly
// reordered event feed into a once-only chronological sequence and routes
// each event to the consumers interested in its type.
package progression

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/louisbranch/rockettree/internal/platform/logging"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/progression"
)

// EventSource lists a user's events with occurredAt at or after since. A nil
// since lists from the start.
type EventSource interface {
	ListEvents(ctx context.Context, since *time.Time) ([]progression.Event, error)
}

// FetcherConfig tunes the fetcher window.
type FetcherConfig struct {
	// Lookback re-requests this much time before the high-water mark to catch
	// events recorded late with an earlier occurredAt.
	Lookback time.Duration
	// DedupWindow bounds how long processed ids are remembered. Zero keeps
	// every id for the life of the fetcher.
	DedupWindow time.Duration
}

// Fetcher polls an EventSource and returns each event at most once.
type Fetcher struct {
	source EventSource
	cfg    FetcherConfig
	logger *zap.Logger

	inFlight atomic.Bool

	mu            sync.Mutex
	generation    uint64
	lastFetchedAt time.Time
	hasMark       bool
	processed     map[string]time.Time
}

// NewFetcher creates a fetcher over source.
func NewFetcher(source EventSource, cfg FetcherConfig, logger *zap.Logger) *Fetcher {
	logger = logging.OrNop(logger)
	if cfg.Lookback < 0 {
		cfg.Lookback = 0
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	return &Fetcher{
		source:    source,
		cfg:       cfg,
		logger:    logger,
		processed: make(map[string]time.Time),
	}
}

// FetchNewEvents makes one source call and returns the events not seen
// before, oldest first. Source failures, cancellation and overlapping calls
// all yield an empty result.
func (f *Fetcher) FetchNewEvents(ctx context.Context) []progression.Event {
	if f == nil || f.source == nil {
		return nil
	}
	if !f.inFlight.CompareAndSwap(false, true) {
		f.logger.Debug("fetch already in flight")
		return nil
	}
	defer f.inFlight.Store(false)

	if ctx.Err() != nil {
		return nil
	}

	f.mu.Lock()
	generation := f.generation
	var since *time.Time
	if f.hasMark {
		from := f.lastFetchedAt.Add(-f.cfg.Lookback)
		since = &from
	}
	f.mu.Unlock()

	events, err := f.source.ListEvents(ctx, since)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		f.logger.Warn("fetch progression events failed", zap.Error(err))
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if generation != f.generation {
		// Reset ran while the call was in flight; the next fetch replays.
		return nil
	}

	fresh := make([]progression.Event, 0, len(events))
	for _, evt := range events {
		eventID := strings.TrimSpace(evt.EventID)
		if eventID == "" {
			continue
		}
		if !f.hasMark || evt.OccurredAt.After(f.lastFetchedAt) {
			f.lastFetchedAt = evt.OccurredAt
			f.hasMark = true
		}
		if _, seen := f.processed[eventID]; seen {
			continue
		}
		f.processed[eventID] = evt.OccurredAt
		fresh = append(fresh, evt)
	}
	f.prune()
	return progression.OrderChronologically(fresh)
}

// prune forgets ids older than the re-request horizon. Callers hold f.mu.
func (f *Fetcher) prune() {
	if f.cfg.DedupWindow <= 0 || !f.hasMark {
		return
	}
	horizon := max(f.cfg.DedupWindow, f.cfg.Lookback)
	cutoff := f.lastFetchedAt.Add(-horizon)
	for eventID, occurredAt := range f.processed {
		if occurredAt.Before(cutoff) {
			delete(f.processed, eventID)
		}
	}
}

// Reset forgets every processed id and the high-water mark so the next fetch
// replays the full history.
func (f *Fetcher) Reset() {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generation++
	f.lastFetchedAt = time.Time{}
	f.hasMark = false
	f.processed = make(map[string]time.Time)
}

// HighWaterMark returns the latest occurredAt seen and whether any event has
// been seen since construction or the last Reset.
func (f *Fetcher) HighWaterMark() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastFetchedAt, f.hasMark
}

// ProcessedCount returns how many event ids are remembered.
func (f *Fetcher) ProcessedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.processed)
}
