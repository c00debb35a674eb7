// Package progression defines the immutable progression event record and the
// helpers consumers use to slice event streams.
package progression

import (
	"strings"
	"time"
)

// Type is the closed set of progression event types.
type Type string

const (
	TypeTaskCompleted      Type = "TASK_COMPLETED"
	TypeReflectionLogged   Type = "REFLECTION_LOGGED"
	TypeReturnAfterAbsence Type = "RETURN_AFTER_ABSENCE"
	TypeSessionInterpreted Type = "SESSION_INTERPRETED"
	TypeTimeTick           Type = "TIME_TICK"
)

// Types lists every known event type.
var Types = []Type{
	TypeTaskCompleted,
	TypeReflectionLogged,
	TypeReturnAfterAbsence,
	TypeSessionInterpreted,
	TypeTimeTick,
}

// Known reports whether t is part of the closed type set.
func (t Type) Known() bool {
	switch t {
	case TypeTaskCompleted, TypeReflectionLogged, TypeReturnAfterAbsence, TypeSessionInterpreted, TypeTimeTick:
		return true
	default:
		return false
	}
}

// GrowthBearing reports whether events of this type mutate growth state.
func (t Type) GrowthBearing() bool {
	return t == TypeTaskCompleted || t == TypeReflectionLogged
}

// Subtype refines an event type.
type Subtype string

const (
	SubtypeSmallTask           Subtype = "SMALL_TASK"
	SubtypeMediumTask          Subtype = "MEDIUM_TASK"
	SubtypeDeepTask            Subtype = "DEEP_TASK"
	SubtypeUserReflection      Subtype = "USER_REFLECTION"
	SubtypeReflectionWithTasks Subtype = "REFLECTION_WITH_TASKS"
	SubtypeReflectionOnly      Subtype = "REFLECTION_ONLY"
	SubtypeGentleReturn        Subtype = "GENTLE_RETURN"
	SubtypeLongAbsenceReturn   Subtype = "LONG_ABSENCE_RETURN"
	SubtypeCalmSession         Subtype = "CALM_SESSION"
	SubtypeFocusedSession      Subtype = "FOCUSED_SESSION"
	SubtypeHeavySession        Subtype = "HEAVY_SESSION"
)

// TaskSubtype maps a task depth name to its subtype. Unknown depths map to
// SubtypeSmallTask.
func TaskSubtype(depth string) Subtype {
	switch strings.ToLower(strings.TrimSpace(depth)) {
	case "medium":
		return SubtypeMediumTask
	case "deep":
		return SubtypeDeepTask
	default:
		return SubtypeSmallTask
	}
}

// Metadata keys written by the trigger handlers.
const (
	MetaTaskID         = "taskId"
	MetaProjectID      = "projectId"
	MetaTaskDepth      = "taskDepth"
	MetaReflectionID   = "reflectionId"
	MetaRelatedTaskIDs = "relatedTaskIds"
	MetaTags           = "tags"
)

// Event is one immutable progression record.
type Event struct {
	EventID    string            `json:"eventId"`
	UserID     string            `json:"userId"`
	Type       Type              `json:"type"`
	Subtype    Subtype           `json:"subtype,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
	RecordedAt time.Time         `json:"recordedAt"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Summary    string            `json:"summary,omitempty"`
}

// JoinList encodes a list metadata value.
func JoinList(values []string) string {
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		cleaned = append(cleaned, strings.ReplaceAll(v, ",", " "))
	}
	return strings.Join(cleaned, ",")
}

// SplitList decodes a list metadata value.
func SplitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
