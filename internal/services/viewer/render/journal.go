package render

import (
	"context"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/louisbranch/rockettree/internal/platform/logging"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/progression"
)

// Journal keeps received events grouped by UTC day.
type Journal struct {
	logger *zap.Logger

	mu     sync.Mutex
	events []progression.Event
}

// NewJournal creates an empty journal.
func NewJournal(logger *zap.Logger) *Journal {
	logger = logging.OrNop(logger)
	return &Journal{logger: logger}
}

// OnEvent records evt.
func (j *Journal) OnEvent(_ context.Context, evt progression.Event) {
	j.mu.Lock()
	j.events = append(j.events, evt)
	count := len(j.events)
	j.mu.Unlock()
	j.logger.Debug("journal entry",
		zap.String("event_id", evt.EventID),
		zap.String("type", string(evt.Type)),
		zap.String("summary", evt.Summary),
		zap.Int("entries", count),
	)
}

// Day is one journal page.
type Day struct {
	Date   string
	Events []progression.Event
}

// Days returns the journal pages, oldest first, each in chronological order.
func (j *Journal) Days() []Day {
	j.mu.Lock()
	grouped := progression.GroupByUTCDay(j.events)
	j.mu.Unlock()

	days := make([]Day, 0, len(grouped))
	for date, events := range grouped {
		days = append(days, Day{Date: date, Events: progression.OrderChronologically(events)})
	}
	slices.SortFunc(days, func(a, b Day) int { return strings.Compare(a.Date, b.Date) })
	return days
}
