package progression

import (
	"slices"
	"strings"
	"time"
)

// IsTaskCompleted reports whether e records a task completion.
func IsTaskCompleted(e Event) bool { return e.Type == TypeTaskCompleted }

// IsReflection reports whether e records a reflection.
func IsReflection(e Event) bool { return e.Type == TypeReflectionLogged }

// IsReturnAfterAbsence reports whether e records a return after absence.
func IsReturnAfterAbsence(e Event) bool { return e.Type == TypeReturnAfterAbsence }

// IsSessionInterpreted reports whether e records an interpreted session.
func IsSessionInterpreted(e Event) bool { return e.Type == TypeSessionInterpreted }

// IsTimeTick reports whether e is a time tick.
func IsTimeTick(e Event) bool { return e.Type == TypeTimeTick }

// Compare orders events by occurredAt, then by event id.
func Compare(a, b Event) int {
	if c := a.OccurredAt.Compare(b.OccurredAt); c != 0 {
		return c
	}
	return strings.Compare(a.EventID, b.EventID)
}

// OrderChronologically returns a sorted copy of events.
func OrderChronologically(events []Event) []Event {
	out := slices.Clone(events)
	slices.SortStableFunc(out, Compare)
	return out
}

// FilterByType keeps the events of type t, preserving order.
func FilterByType(events []Event, t Type) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// GroupByUTCDay buckets events by the UTC calendar day of occurredAt, keyed
// as YYYY-MM-DD. Each bucket keeps input order.
func GroupByUTCDay(events []Event) map[string][]Event {
	out := make(map[string][]Event)
	for _, e := range events {
		key := e.OccurredAt.UTC().Format(time.DateOnly)
		out[key] = append(out[key], e)
	}
	return out
}

// MetadataValue returns the metadata value for key, or fallback when absent
// or blank.
func MetadataValue(e Event, key, fallback string) string {
	if e.Metadata == nil {
		return fallback
	}
	value, ok := e.Metadata[key]
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
