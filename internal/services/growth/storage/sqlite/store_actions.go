package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/rockettree/internal/platform/errors"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/action"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/growth"
	"github.com/louisbranch/rockettree/internal/services/growth/storage"
)

// CreateAccount registers userID and queues its bootstrap.
func (s *Store) CreateAccount(ctx context.Context, userID string, now time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperrors.New(apperrors.CodeUserIDRequired, "user id is required")
	}
	changeID, err := s.newID()
	if err != nil {
		return fmt.Errorf("generate change id: %w", err)
	}

	return s.inTx(ctx, "create account", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO accounts (user_id, created_at) VALUES (?, ?)`,
			userID, toMillis(now),
		); err != nil {
			if isConstraintError(err) {
				return apperrors.Wrap(apperrors.CodeAccountAlreadyExists, "account already exists", err)
			}
			return fmt.Errorf("insert account %s: %w", userID, err)
		}
		return s.enqueueChange(ctx, tx, changeID, action.KindAccountCreated, userID, action.AccountCreated{
			ChangeID: changeID,
			UserID:   userID,
		})
	})
}

// CreateTask stores a new task. New tasks never trigger growth, so nothing is
// queued.
func (s *Store) CreateTask(ctx context.Context, task action.Task) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(task.TaskID) == "" {
		return fmt.Errorf("task id is required")
	}
	if strings.TrimSpace(task.UserID) == "" {
		return apperrors.New(apperrors.CodeUserIDRequired, "user id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO tasks (task_id, user_id, project_id, title, notes, estimated_depth, status, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskID,
		task.UserID,
		task.ProjectID,
		task.Title,
		task.Notes,
		string(task.EstimatedDepth),
		string(task.Status),
		toMillis(task.CreatedAt),
		toNullMillis(task.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", task.TaskID, err)
	}
	return nil
}

const taskColumns = `task_id, user_id, project_id, title, notes, estimated_depth, status, created_at, completed_at`

// GetTask returns a task owned by userID.
func (s *Store) GetTask(ctx context.Context, userID, taskID string) (action.Task, error) {
	if err := s.ready(ctx); err != nil {
		return action.Task{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? AND task_id = ?`,
		strings.TrimSpace(userID), strings.TrimSpace(taskID),
	)
	task, err := scanTask(row)
	if err != nil {
		return action.Task{}, taskLookupError(taskID, err)
	}
	return task, nil
}

// UpdateTask reads the task, applies mutate, writes the result and queues the
// before and after snapshots in one transaction.
func (s *Store) UpdateTask(ctx context.Context, userID, taskID string, mutate func(action.Task) (action.Task, error)) (action.TaskChange, error) {
	if err := s.ready(ctx); err != nil {
		return action.TaskChange{}, err
	}
	if mutate == nil {
		return action.TaskChange{}, fmt.Errorf("task mutation is required")
	}
	userID = strings.TrimSpace(userID)
	taskID = strings.TrimSpace(taskID)
	changeID, err := s.newID()
	if err != nil {
		return action.TaskChange{}, fmt.Errorf("generate change id: %w", err)
	}

	var change action.TaskChange
	err = s.inTx(ctx, "update task", func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? AND task_id = ?`,
			userID, taskID,
		)
		before, err := scanTask(row)
		if err != nil {
			return taskLookupError(taskID, err)
		}
		after, err := mutate(before)
		if err != nil {
			return err
		}
		after.TaskID = before.TaskID
		after.UserID = before.UserID
		after.CreatedAt = before.CreatedAt

		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks
			 SET project_id = ?, title = ?, notes = ?, estimated_depth = ?, status = ?, completed_at = ?
			 WHERE user_id = ? AND task_id = ?`,
			after.ProjectID,
			after.Title,
			after.Notes,
			string(after.EstimatedDepth),
			string(after.Status),
			toNullMillis(after.CompletedAt),
			userID,
			taskID,
		); err != nil {
			return fmt.Errorf("update task %s: %w", taskID, err)
		}

		// Snapshots round-trip through millisecond storage precision.
		after.CompletedAt = fromNullMillis(toNullMillis(after.CompletedAt))
		change = action.TaskChange{
			ChangeID: changeID,
			TaskID:   taskID,
			Before:   &before,
			After:    &after,
		}
		return s.enqueueChange(ctx, tx, changeID, action.KindTaskUpdated, userID, change)
	})
	if err != nil {
		return action.TaskChange{}, err
	}
	return change, nil
}

// CreateReflection stores a reflection and queues its creation.
func (s *Store) CreateReflection(ctx context.Context, reflection action.Reflection) (action.ReflectionCreated, error) {
	if err := s.ready(ctx); err != nil {
		return action.ReflectionCreated{}, err
	}
	if strings.TrimSpace(reflection.ReflectionID) == "" {
		return action.ReflectionCreated{}, fmt.Errorf("reflection id is required")
	}
	if strings.TrimSpace(reflection.UserID) == "" {
		return action.ReflectionCreated{}, apperrors.New(apperrors.CodeUserIDRequired, "user id is required")
	}
	related, err := json.Marshal(nonNil(reflection.RelatedTaskIDs))
	if err != nil {
		return action.ReflectionCreated{}, fmt.Errorf("encode related task ids: %w", err)
	}
	tags, err := json.Marshal(nonNil(reflection.Tags))
	if err != nil {
		return action.ReflectionCreated{}, fmt.Errorf("encode tags: %w", err)
	}
	changeID, err := s.newID()
	if err != nil {
		return action.ReflectionCreated{}, fmt.Errorf("generate change id: %w", err)
	}
	reflection.CreatedAt = fromMillis(toMillis(reflection.CreatedAt))
	created := action.ReflectionCreated{ChangeID: changeID, Reflection: reflection}

	err = s.inTx(ctx, "create reflection", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO reflections (reflection_id, user_id, text, related_task_ids_json, tags_json, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			reflection.ReflectionID,
			reflection.UserID,
			reflection.Text,
			string(related),
			string(tags),
			toMillis(reflection.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert reflection %s: %w", reflection.ReflectionID, err)
		}
		return s.enqueueChange(ctx, tx, changeID, action.KindReflectionCreated, reflection.UserID, created)
	})
	if err != nil {
		return action.ReflectionCreated{}, err
	}
	return created, nil
}

func scanTask(row rowScanner) (action.Task, error) {
	var (
		task        action.Task
		depth       string
		status      string
		createdAt   int64
		completedAt sql.NullInt64
	)
	if err := row.Scan(
		&task.TaskID,
		&task.UserID,
		&task.ProjectID,
		&task.Title,
		&task.Notes,
		&depth,
		&status,
		&createdAt,
		&completedAt,
	); err != nil {
		return action.Task{}, err
	}
	task.EstimatedDepth = growth.Depth(depth)
	task.Status = action.TaskStatus(status)
	task.CreatedAt = fromMillis(createdAt)
	task.CompletedAt = fromNullMillis(completedAt)
	return task, nil
}

func taskLookupError(taskID string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.Wrap(apperrors.CodeTaskNotFound, "task not found", fmt.Errorf("task %s: %w", taskID, storage.ErrNotFound))
	}
	return fmt.Errorf("get task %s: %w", taskID, err)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
