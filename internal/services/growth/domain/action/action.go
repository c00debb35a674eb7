// Package action models the user-owned records whose changes trigger growth:
// tasks, reflections and accounts.
package action

import (
	"strings"
	"time"

	apperrors "github.com/louisbranch/rockettree/internal/platform/errors"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/growth"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskOpen      TaskStatus = "open"
	TaskCompleted TaskStatus = "completed"
	TaskAbandoned TaskStatus = "abandoned"
)

// ParseTaskStatus validates a raw status value.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	switch status := TaskStatus(strings.ToLower(strings.TrimSpace(raw))); status {
	case TaskOpen, TaskCompleted, TaskAbandoned:
		return status, nil
	default:
		return "", apperrors.WithMetadata(apperrors.CodeTaskInvalidStatus, "task status is invalid", map[string]string{"status": raw})
	}
}

// Task is a unit of user work.
type Task struct {
	TaskID         string       `json:"taskId"`
	UserID         string       `json:"userId"`
	ProjectID      string       `json:"projectId,omitempty"`
	Title          string       `json:"title"`
	Notes          string       `json:"notes,omitempty"`
	EstimatedDepth growth.Depth `json:"estimatedDepth"`
	Status         TaskStatus   `json:"status"`
	CreatedAt      time.Time    `json:"createdAt"`
	CompletedAt    *time.Time   `json:"completedAt,omitempty"`
}

// Completed reports whether the task is in the completed state.
func (t *Task) Completed() bool {
	return t != nil && t.Status == TaskCompleted
}

// NewTaskInput carries the fields a user supplies when creating a task.
type NewTaskInput struct {
	UserID         string
	ProjectID      string
	Title          string
	Notes          string
	EstimatedDepth string
}

// NewTask validates input and builds an open task.
func NewTask(taskID string, in NewTaskInput, now time.Time) (Task, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return Task{}, apperrors.New(apperrors.CodeUserIDRequired, "user id is required")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Task{}, apperrors.New(apperrors.CodeTaskTitleEmpty, "task title is required")
	}
	depth := growth.DepthSmall
	if raw := strings.TrimSpace(in.EstimatedDepth); raw != "" {
		depth = growth.Depth(strings.ToLower(raw))
		if !depth.Valid() {
			return Task{}, apperrors.WithMetadata(apperrors.CodeTaskInvalidDepth, "task depth is invalid", map[string]string{"depth": raw})
		}
	}
	return Task{
		TaskID:         taskID,
		UserID:         userID,
		ProjectID:      strings.TrimSpace(in.ProjectID),
		Title:          title,
		Notes:          strings.TrimSpace(in.Notes),
		EstimatedDepth: depth,
		Status:         TaskOpen,
		CreatedAt:      now.UTC(),
	}, nil
}

// TaskUpdate is a partial task update; nil fields are left untouched.
type TaskUpdate struct {
	Title          *string
	Notes          *string
	EstimatedDepth *string
	Status         *string
}

// ApplyUpdate returns the task after update. Moving into completed stamps
// CompletedAt; moving out clears it.
func ApplyUpdate(current Task, update TaskUpdate, now time.Time) (Task, error) {
	next := current
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return Task{}, apperrors.New(apperrors.CodeTaskTitleEmpty, "task title is required")
		}
		next.Title = title
	}
	if update.Notes != nil {
		next.Notes = strings.TrimSpace(*update.Notes)
	}
	if update.EstimatedDepth != nil {
		depth := growth.Depth(strings.ToLower(strings.TrimSpace(*update.EstimatedDepth)))
		if !depth.Valid() {
			return Task{}, apperrors.WithMetadata(apperrors.CodeTaskInvalidDepth, "task depth is invalid", map[string]string{"depth": *update.EstimatedDepth})
		}
		next.EstimatedDepth = depth
	}
	if update.Status != nil {
		status, err := ParseTaskStatus(*update.Status)
		if err != nil {
			return Task{}, err
		}
		if current.Status == TaskAbandoned && status == TaskCompleted {
			return Task{}, apperrors.New(apperrors.CodeTaskStatusTransition, "abandoned tasks must be reopened before completion")
		}
		next.Status = status
		switch {
		case status == TaskCompleted && current.Status != TaskCompleted:
			completedAt := now.UTC()
			next.CompletedAt = &completedAt
		case status != TaskCompleted:
			next.CompletedAt = nil
		}
	}
	return next, nil
}

// Reflection is a free-text user reflection.
type Reflection struct {
	ReflectionID   string    `json:"reflectionId"`
	UserID         string    `json:"userId"`
	Text           string    `json:"text"`
	RelatedTaskIDs []string  `json:"relatedTaskIds,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// NewReflectionInput carries user supplied reflection fields.
type NewReflectionInput struct {
	UserID         string
	Text           string
	RelatedTaskIDs []string
	Tags           []string
}

// NewReflection validates input and builds a reflection.
func NewReflection(reflectionID string, in NewReflectionInput, now time.Time) (Reflection, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return Reflection{}, apperrors.New(apperrors.CodeUserIDRequired, "user id is required")
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return Reflection{}, apperrors.New(apperrors.CodeReflectionTextEmpty, "reflection text is required")
	}
	return Reflection{
		ReflectionID:   reflectionID,
		UserID:         userID,
		Text:           text,
		RelatedTaskIDs: compact(in.RelatedTaskIDs),
		Tags:           compact(in.Tags),
		CreatedAt:      now.UTC(),
	}, nil
}

func compact(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// UserProfile holds account-level settings created at bootstrap.
type UserProfile struct {
	UserID                 string    `json:"userId"`
	CreatedAt              time.Time `json:"createdAt"`
	LastActiveAt           time.Time `json:"lastActiveAt"`
	Timezone               string    `json:"timezone"`
	Locale                 string    `json:"locale"`
	AccountState           string    `json:"accountState"`
	SubscriptionTier       string    `json:"subscriptionTier"`
	HasCompletedOnboarding bool      `json:"hasCompletedOnboarding"`
}

// DefaultProfile returns the bootstrap profile for userID.
func DefaultProfile(userID string, now time.Time) UserProfile {
	now = now.UTC()
	return UserProfile{
		UserID:           strings.TrimSpace(userID),
		CreatedAt:        now,
		LastActiveAt:     now,
		Timezone:         "UTC",
		Locale:           "en-US",
		AccountState:     "active",
		SubscriptionTier: "free",
	}
}
