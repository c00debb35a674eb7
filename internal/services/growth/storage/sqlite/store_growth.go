package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/rockettree/internal/services/growth/domain/action"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/growth"
	"github.com/louisbranch/rockettree/internal/services/growth/storage"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// GetGrowthState returns the stored state for userID.
func (s *Store) GetGrowthState(ctx context.Context, userID string) (growth.State, error) {
	if err := s.ready(ctx); err != nil {
		return growth.State{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return growth.State{}, fmt.Errorf("user id is required")
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT user_id, mass, structure, vitality, last_updated_at, version
		 FROM growth_states WHERE user_id = ?`,
		userID,
	)
	state, err := scanGrowthState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return growth.State{}, fmt.Errorf("get growth state %s: %w", userID, storage.ErrGrowthStateNotFound)
	}
	if err != nil {
		return growth.State{}, fmt.Errorf("get growth state %s: %w", userID, err)
	}
	return state, nil
}

func scanGrowthState(row rowScanner) (growth.State, error) {
	var (
		state     growth.State
		updatedAt int64
		version   int64
	)
	if err := row.Scan(&state.UserID, &state.Mass, &state.Structure, &state.Vitality, &updatedAt, &version); err != nil {
		return growth.State{}, err
	}
	state.LastUpdatedAt = fromMillis(updatedAt)
	state.Version = uint64(version)
	return state, nil
}

// SwapGrowthState records eventID as applied and replaces the state when the
// stored version still equals expectedVersion. Both happen in one
// transaction or not at all.
func (s *Store) SwapGrowthState(ctx context.Context, expectedVersion uint64, next growth.State, eventID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("event id is required")
	}
	if strings.TrimSpace(next.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if next.Version != expectedVersion+1 {
		return fmt.Errorf("next version %d must follow expected version %d", next.Version, expectedVersion)
	}

	return s.inTx(ctx, "swap growth state", func(tx *sql.Tx) error {
		checkpoint, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO growth_applications (event_id, user_id, applied_at) VALUES (?, ?, ?)`,
			eventID, next.UserID, toMillis(s.now()),
		)
		if err != nil {
			return fmt.Errorf("reserve growth application %s: %w", eventID, err)
		}
		reserved, err := checkpoint.RowsAffected()
		if err != nil {
			return fmt.Errorf("inspect growth application %s: %w", eventID, err)
		}
		if reserved == 0 {
			return storage.ErrAlreadyApplied
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE growth_states
			 SET mass = ?, structure = ?, vitality = ?, last_updated_at = ?, version = ?
			 WHERE user_id = ? AND version = ?`,
			next.Mass, next.Structure, next.Vitality, toMillis(next.LastUpdatedAt), int64(next.Version),
			next.UserID, int64(expectedVersion),
		)
		if err != nil {
			return fmt.Errorf("update growth state %s: %w", next.UserID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("update growth state rows affected %s: %w", next.UserID, err)
		}
		if affected == 1 {
			return nil
		}

		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM growth_states WHERE user_id = ?`, next.UserID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("swap growth state %s: %w", next.UserID, storage.ErrGrowthStateNotFound)
		}
		if err != nil {
			return fmt.Errorf("check growth state %s: %w", next.UserID, err)
		}
		return storage.ErrStaleState
	})
}

// BootstrapAccount creates profile and seed state unless growth state
// already exists for the user.
func (s *Store) BootstrapAccount(ctx context.Context, profile action.UserProfile, state growth.State) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	userID := strings.TrimSpace(state.UserID)
	if userID == "" || userID != strings.TrimSpace(profile.UserID) {
		return false, fmt.Errorf("profile and state must share a user id")
	}

	created := false
	err := s.inTx(ctx, "bootstrap account", func(tx *sql.Tx) error {
		created = false
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM growth_states WHERE user_id = ?`, userID).Scan(&exists)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check growth state %s: %w", userID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO user_profiles (
				user_id, created_at, last_active_at, timezone, locale, account_state, subscription_tier, has_completed_onboarding
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			userID,
			toMillis(profile.CreatedAt),
			toMillis(profile.LastActiveAt),
			profile.Timezone,
			profile.Locale,
			profile.AccountState,
			profile.SubscriptionTier,
			boolToInt(profile.HasCompletedOnboarding),
		); err != nil {
			return fmt.Errorf("insert user profile %s: %w", userID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO growth_states (user_id, mass, structure, vitality, last_updated_at, version)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			userID, state.Mass, state.Structure, state.Vitality, toMillis(state.LastUpdatedAt), int64(state.Version),
		); err != nil {
			return fmt.Errorf("insert growth state %s: %w", userID, err)
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// GetProfile returns the stored profile for userID.
func (s *Store) GetProfile(ctx context.Context, userID string) (action.UserProfile, error) {
	if err := s.ready(ctx); err != nil {
		return action.UserProfile{}, err
	}
	var (
		profile      action.UserProfile
		createdAt    int64
		lastActiveAt int64
		onboarded    int
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT user_id, created_at, last_active_at, timezone, locale, account_state, subscription_tier, has_completed_onboarding
		 FROM user_profiles WHERE user_id = ?`,
		strings.TrimSpace(userID),
	).Scan(
		&profile.UserID,
		&createdAt,
		&lastActiveAt,
		&profile.Timezone,
		&profile.Locale,
		&profile.AccountState,
		&profile.SubscriptionTier,
		&onboarded,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return action.UserProfile{}, fmt.Errorf("get profile %s: %w", userID, storage.ErrNotFound)
	}
	if err != nil {
		return action.UserProfile{}, fmt.Errorf("get profile %s: %w", userID, err)
	}
	profile.CreatedAt = fromMillis(createdAt)
	profile.LastActiveAt = fromMillis(lastActiveAt)
	profile.HasCompletedOnboarding = onboarded != 0
	return profile, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
