package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/rockettree/internal/services/growth/domain/progression"
	"github.com/louisbranch/rockettree/internal/services/growth/storage"
)

const (
	defaultEventPageSize = 500
	maxEventPageSize     = 1000
	defaultUnappliedSize = 64
)

const eventColumns = `e.event_id, e.user_id, e.type, e.subtype, e.occurred_at, e.recorded_at, e.metadata_json, e.summary`

// AppendTriggeredEvent appends evt under triggerKey. A repeated key returns
// the event stored the first time with created=false.
func (s *Store) AppendTriggeredEvent(ctx context.Context, triggerKey string, evt progression.Event) (progression.Event, bool, error) {
	if err := s.ready(ctx); err != nil {
		return progression.Event{}, false, err
	}
	triggerKey = strings.TrimSpace(triggerKey)
	if triggerKey == "" {
		return progression.Event{}, false, fmt.Errorf("trigger key is required")
	}
	evt.EventID = strings.TrimSpace(evt.EventID)
	evt.UserID = strings.TrimSpace(evt.UserID)
	if evt.EventID == "" {
		return progression.Event{}, false, fmt.Errorf("event id is required")
	}
	if evt.UserID == "" {
		return progression.Event{}, false, fmt.Errorf("user id is required")
	}
	if !evt.Type.Known() {
		return progression.Event{}, false, fmt.Errorf("event type %q is not supported", evt.Type)
	}

	var (
		stored  progression.Event
		created bool
	)
	err := s.inTx(ctx, "append triggered event", func(tx *sql.Tx) error {
		created = false
		existing, err := eventForTrigger(ctx, tx, triggerKey)
		if err == nil {
			stored = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lookup trigger receipt %s: %w", triggerKey, err)
		}

		recordedAt := fromMillis(toMillis(s.now()))
		record := evt
		record.OccurredAt = fromMillis(toMillis(evt.OccurredAt))
		record.RecordedAt = recordedAt
		metadata, err := encodeMetadata(record.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO progression_events (event_id, user_id, type, subtype, occurred_at, recorded_at, metadata_json, summary)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			record.EventID,
			record.UserID,
			string(record.Type),
			string(record.Subtype),
			toMillis(record.OccurredAt),
			toMillis(record.RecordedAt),
			metadata,
			record.Summary,
		); err != nil {
			if isConstraintError(err) {
				return fmt.Errorf("event %s already exists: %w", record.EventID, err)
			}
			return fmt.Errorf("insert progression event %s: %w", record.EventID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trigger_receipts (trigger_key, event_id, created_at) VALUES (?, ?, ?)`,
			triggerKey, record.EventID, toMillis(recordedAt),
		); err != nil {
			return fmt.Errorf("insert trigger receipt %s: %w", triggerKey, err)
		}
		stored = record
		created = true
		return nil
	})
	if err != nil {
		return progression.Event{}, false, err
	}
	return stored, created, nil
}

func eventForTrigger(ctx context.Context, tx *sql.Tx, triggerKey string) (progression.Event, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+eventColumns+`
		 FROM trigger_receipts r
		 JOIN progression_events e ON e.event_id = r.event_id
		 WHERE r.trigger_key = ?`,
		triggerKey,
	)
	return scanEvent(row)
}

// GetEvent returns one progression event by id.
func (s *Store) GetEvent(ctx context.Context, eventID string) (progression.Event, error) {
	if err := s.ready(ctx); err != nil {
		return progression.Event{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM progression_events e WHERE e.event_id = ?`,
		strings.TrimSpace(eventID),
	)
	evt, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return progression.Event{}, fmt.Errorf("get event %s: %w", eventID, storage.ErrNotFound)
	}
	if err != nil {
		return progression.Event{}, fmt.Errorf("get event %s: %w", eventID, err)
	}
	return evt, nil
}

// ListEvents returns one user's events in chronological order, ties broken by
// event id.
func (s *Store) ListEvents(ctx context.Context, query storage.EventQuery) ([]progression.Event, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	userID := strings.TrimSpace(query.UserID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	limit := clampLimit(query.Limit, defaultEventPageSize, maxEventPageSize)

	args := []any{userID}
	where := "e.user_id = ?"
	if query.Since != nil {
		where += " AND e.occurred_at >= ?"
		args = append(args, toMillis(*query.Since))
	}
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+eventColumns+`
		 FROM progression_events e
		 WHERE `+where+`
		 ORDER BY e.occurred_at ASC, e.event_id ASC
		 LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list events %s: %w", userID, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListUnappliedEvents returns growth-bearing events recorded inside the query
// window that have no application checkpoint, oldest first.
func (s *Store) ListUnappliedEvents(ctx context.Context, query storage.UnappliedQuery) ([]progression.Event, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if query.RecordedBefore.IsZero() {
		return nil, fmt.Errorf("recorded before is required")
	}
	limit := clampLimit(query.Limit, defaultUnappliedSize, maxEventPageSize)

	var types []string
	for _, t := range progression.Types {
		if t.GrowthBearing() {
			types = append(types, string(t))
		}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(types)), ",")
	args := []any{toMillis(query.RecordedAfter), toMillis(query.RecordedBefore)}
	for _, t := range types {
		args = append(args, t)
	}
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+eventColumns+`
		 FROM progression_events e
		 LEFT JOIN growth_applications a ON a.event_id = e.event_id
		 WHERE a.event_id IS NULL
		   AND e.recorded_at >= ? AND e.recorded_at <= ?
		   AND e.type IN (`+placeholders+`)
		 ORDER BY e.recorded_at ASC, e.event_id ASC
		 LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list unapplied events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]progression.Event, error) {
	events := make([]progression.Event, 0)
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func scanEvent(row rowScanner) (progression.Event, error) {
	var (
		evt        progression.Event
		eventType  string
		subtype    string
		occurredAt int64
		recordedAt int64
		metadata   string
	)
	if err := row.Scan(&evt.EventID, &evt.UserID, &eventType, &subtype, &occurredAt, &recordedAt, &metadata, &evt.Summary); err != nil {
		return progression.Event{}, err
	}
	evt.Type = progression.Type(eventType)
	evt.Subtype = progression.Subtype(subtype)
	evt.OccurredAt = fromMillis(occurredAt)
	evt.RecordedAt = fromMillis(recordedAt)
	decoded, err := decodeMetadata(metadata)
	if err != nil {
		return progression.Event{}, fmt.Errorf("decode metadata for %s: %w", evt.EventID, err)
	}
	evt.Metadata = decoded
	return evt, nil
}

func encodeMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(payload), nil
}

func decodeMetadata(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" || raw == "{}" {
		return nil, nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

func clampLimit(limit, fallback, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

