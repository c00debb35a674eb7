package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/rockettree/internal/services/growth/storage"
)

const (
	outboxDeadLetterThreshold = 8
	outboxProcessingLease     = 2 * time.Minute
	outboxMaxBackoff          = 5 * time.Minute
)

func (s *Store) enqueueChange(ctx context.Context, tx *sql.Tx, changeID, kind, userID string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s change: %w", kind, err)
	}
	enqueuedAt := toMillis(s.now())
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO change_outbox (
			change_id, kind, user_id, payload_json, status, attempt_count, next_attempt_at, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, 'pending', 0, ?, '', ?, ?)`,
		changeID, kind, userID, string(encoded), enqueuedAt, enqueuedAt, enqueuedAt,
	); err != nil {
		return fmt.Errorf("enqueue %s change: %w", kind, err)
	}
	return nil
}

// outboxRetryBackoff doubles from one second and caps at five minutes.
func outboxRetryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 10 {
		return outboxMaxBackoff
	}
	delay := time.Second << (attempt - 1)
	if delay > outboxMaxBackoff {
		return outboxMaxBackoff
	}
	return delay
}

// ClaimChanges marks up to limit due changes as processing. Changes left in
// processing longer than the lease are reclaimed.
func (s *Store) ClaimChanges(ctx context.Context, now time.Time, limit int) ([]storage.Change, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []storage.Change{}, nil
	}
	if now.IsZero() {
		now = s.now()
	}
	staleBefore := now.Add(-outboxProcessingLease)

	var claimed []storage.Change
	err := s.inTx(ctx, "claim changes", func(tx *sql.Tx) error {
		claimed = claimed[:0]
		rows, err := tx.QueryContext(ctx,
			`SELECT change_id, kind, user_id, payload_json, status, attempt_count, created_at
			 FROM change_outbox
			 WHERE (
				 status IN ('pending', 'failed') AND next_attempt_at <= ?
			 ) OR (
				 status = 'processing' AND updated_at <= ?
			 )
			 ORDER BY next_attempt_at, created_at, change_id
			 LIMIT ?`,
			toMillis(now), toMillis(staleBefore), limit,
		)
		if err != nil {
			return fmt.Errorf("list due changes: %w", err)
		}
		candidates := make([]storage.Change, 0, limit)
		for rows.Next() {
			var (
				change    storage.Change
				payload   string
				createdAt int64
			)
			if err := rows.Scan(&change.ChangeID, &change.Kind, &change.UserID, &payload, &change.Status, &change.AttemptCount, &createdAt); err != nil {
				rows.Close()
				return fmt.Errorf("scan due change: %w", err)
			}
			change.Payload = []byte(payload)
			change.CreatedAt = fromMillis(createdAt)
			candidates = append(candidates, change)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate due changes: %w", err)
		}
		rows.Close()

		for _, candidate := range candidates {
			result, err := tx.ExecContext(ctx,
				`UPDATE change_outbox
				 SET status = 'processing', updated_at = ?
				 WHERE change_id = ?
				   AND (
				   	(status IN ('pending', 'failed') AND next_attempt_at <= ?)
				   	OR (status = 'processing' AND updated_at <= ?)
				   )`,
				toMillis(now), candidate.ChangeID, toMillis(now), toMillis(staleBefore),
			)
			if err != nil {
				return fmt.Errorf("claim change %s: %w", candidate.ChangeID, err)
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("claim change rows affected %s: %w", candidate.ChangeID, err)
			}
			if affected == 1 {
				candidate.Status = storage.ChangeProcessing
				claimed = append(claimed, candidate)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// CompleteChange removes a processed change.
func (s *Store) CompleteChange(ctx context.Context, changeID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM change_outbox WHERE change_id = ? AND status = 'processing'`,
		changeID,
	)
	if err != nil {
		return fmt.Errorf("complete change %s: %w", changeID, err)
	}
	return ensureSingleChangeRow(result, changeID, "complete change", "deleted")
}

// FailChange schedules a retry with exponential backoff. Permanent failures
// and changes past the attempt threshold become dead.
func (s *Store) FailChange(ctx context.Context, change storage.Change, now time.Time, cause string, permanent bool) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if now.IsZero() {
		now = s.now()
	}
	attempt := change.AttemptCount + 1
	status := storage.ChangeFailed
	if permanent || attempt >= outboxDeadLetterThreshold {
		status = storage.ChangeDead
	}
	nextAttempt := now.Add(outboxRetryBackoff(attempt))
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE change_outbox
		 SET status = ?,
		     attempt_count = ?,
		     next_attempt_at = ?,
		     last_error = ?,
		     updated_at = ?
		 WHERE change_id = ? AND status = 'processing'`,
		status,
		attempt,
		toMillis(nextAttempt),
		cause,
		toMillis(now),
		change.ChangeID,
	)
	if err != nil {
		return fmt.Errorf("mark change retry %s: %w", change.ChangeID, err)
	}
	return ensureSingleChangeRow(result, change.ChangeID, "mark change retry", "updated")
}

// OutboxSummary reports change outbox depth by status.
func (s *Store) OutboxSummary(ctx context.Context) (storage.OutboxSummary, error) {
	if err := s.ready(ctx); err != nil {
		return storage.OutboxSummary{}, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM change_outbox GROUP BY status`,
	)
	if err != nil {
		return storage.OutboxSummary{}, fmt.Errorf("query outbox summary counts: %w", err)
	}
	defer rows.Close()

	summary := storage.OutboxSummary{}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return storage.OutboxSummary{}, fmt.Errorf("scan outbox summary count: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(status)) {
		case storage.ChangePending:
			summary.PendingCount = count
		case storage.ChangeProcessing:
			summary.ProcessingCount = count
		case storage.ChangeFailed:
			summary.FailedCount = count
		case storage.ChangeDead:
			summary.DeadCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return storage.OutboxSummary{}, fmt.Errorf("iterate outbox summary counts: %w", err)
	}
	return summary, nil
}

func ensureSingleChangeRow(result sql.Result, changeID, operation, verb string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected %s: %w", operation, changeID, err)
	}
	if affected != 1 {
		return fmt.Errorf("%s %s: expected 1 row %s, got %d", operation, changeID, verb, affected)
	}
	return nil
}
