// Package seed loads development fixtures straight into a growth store.
package seed

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/louisbranch/rockettree/internal/services/growth/domain/action"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/growth"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/progression"
	"github.com/louisbranch/rockettree/internal/services/growth/storage"
)

// ErrNotDevelopment is returned when seeding is attempted outside development.
var ErrNotDevelopment = errors.New("seeding is only allowed in development")

// Store is the growth storage the seeder writes to.
type Store interface {
	BootstrapAccount(ctx context.Context, profile action.UserProfile, state growth.State) (bool, error)
	GetTask(ctx context.Context, userID, taskID string) (action.Task, error)
	CreateTask(ctx context.Context, task action.Task) error
	AppendTriggeredEvent(ctx context.Context, triggerKey string, evt progression.Event) (progression.Event, bool, error)
}

// Config holds seed runner configuration.
type Config struct {
	// Development must be set; seeding writes directly to the store.
	Development bool
	FixturesDir string
	// Scenario limits the run to one fixture name. Empty runs all.
	Scenario string
	Now      func() time.Time
	Logger   *zap.Logger
}

// DefaultConfig returns configuration with common defaults.
func DefaultConfig() Config {
	return Config{FixturesDir: "fixtures/seed"}
}

// Report counts what a run wrote.
type Report struct {
	Fixtures int
	Users    int
	Tasks    int
	Events   int
	Skipped  int
}

// Writes returns the number of rows written.
func (r Report) Writes() int {
	return r.Users + r.Tasks + r.Events
}

// Run loads fixtures and writes them to store. Rows that already exist are
// skipped, so running twice is harmless.
func Run(ctx context.Context, store Store, cfg Config) (Report, error) {
	if !cfg.Development {
		return Report{}, ErrNotDevelopment
	}
	if store == nil {
		return Report{}, errors.New("seed store is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	pattern := filepath.Join(cfg.FixturesDir, "*.yaml")
	if scenario := strings.TrimSpace(cfg.Scenario); scenario != "" {
		pattern = filepath.Join(cfg.FixturesDir, scenario+".yaml")
	}
	fixtures, err := LoadFixtures(pattern)
	if err != nil {
		return Report{}, fmt.Errorf("load fixtures: %w", err)
	}

	var report Report
	for _, fixture := range fixtures {
		if err := applyFixture(ctx, store, fixture, cfg.Now().UTC(), &report); err != nil {
			return report, fmt.Errorf("scenario %q: %w", fixture.Name, err)
		}
		report.Fixtures++
		cfg.Logger.Info("seeded scenario", zap.String("scenario", fixture.Name))
	}
	return report, nil
}

func applyFixture(ctx context.Context, store Store, fixture Fixture, now time.Time, report *Report) error {
	for _, user := range fixture.Users {
		profile, state, err := user.build(now)
		if err != nil {
			return err
		}
		created, err := store.BootstrapAccount(ctx, profile, state)
		if err != nil {
			return fmt.Errorf("bootstrap user %s: %w", profile.UserID, err)
		}
		countWrite(report, &report.Users, created)
	}

	for _, fixture := range fixture.Tasks {
		task, err := fixture.build(now)
		if err != nil {
			return err
		}
		_, err = store.GetTask(ctx, task.UserID, task.TaskID)
		switch {
		case err == nil:
			report.Skipped++
			continue
		case !errors.Is(err, storage.ErrNotFound):
			return fmt.Errorf("check task %s: %w", task.TaskID, err)
		}
		if err := store.CreateTask(ctx, task); err != nil {
			return fmt.Errorf("create task %s: %w", task.TaskID, err)
		}
		report.Tasks++
	}

	for _, fixture := range fixture.Events {
		evt, err := fixture.build()
		if err != nil {
			return err
		}
		_, created, err := store.AppendTriggeredEvent(ctx, "seed:"+evt.EventID, evt)
		if err != nil {
			return fmt.Errorf("append event %s: %w", evt.EventID, err)
		}
		countWrite(report, &report.Events, created)
	}
	return nil
}

func countWrite(report *Report, counter *int, created bool) {
	if created {
		*counter++
		return
	}
	report.Skipped++
}

func (u UserFixture) build(now time.Time) (action.UserProfile, growth.State, error) {
	userID := strings.TrimSpace(u.UserID)
	if userID == "" {
		return action.UserProfile{}, growth.State{}, errors.New("user id is required")
	}
	createdAt := now
	if !u.CreatedAt.IsZero() {
		createdAt = u.CreatedAt.UTC()
	}
	profile := action.DefaultProfile(userID, createdAt)
	if tz := strings.TrimSpace(u.Timezone); tz != "" {
		profile.Timezone = tz
	}
	if locale := strings.TrimSpace(u.Locale); locale != "" {
		profile.Locale = locale
	}

	state := growth.SeedState(userID, createdAt)
	bounds := growth.DefaultLimits.Vitality
	if u.Mass != nil {
		state.Mass = *u.Mass
	}
	if u.Structure != nil {
		state.Structure = *u.Structure
	}
	if u.Vitality != nil {
		if !bounds.Contains(*u.Vitality) {
			return action.UserProfile{}, growth.State{}, fmt.Errorf("user %s: vitality %.2f is outside [%.2f, %.2f]", userID, *u.Vitality, bounds.Min, bounds.Max)
		}
		state.Vitality = *u.Vitality
	}
	return profile, state, nil
}

func (t TaskFixture) build(now time.Time) (action.Task, error) {
	taskID := strings.TrimSpace(t.TaskID)
	if taskID == "" {
		return action.Task{}, errors.New("task id is required")
	}
	createdAt := now
	if !t.CreatedAt.IsZero() {
		createdAt = t.CreatedAt
	}
	task, err := action.NewTask(taskID, action.NewTaskInput{
		UserID:         t.UserID,
		ProjectID:      t.ProjectID,
		Title:          t.Title,
		Notes:          t.Notes,
		EstimatedDepth: t.EstimatedDepth,
	}, createdAt)
	if err != nil {
		return action.Task{}, fmt.Errorf("task %s: %w", taskID, err)
	}
	if raw := strings.TrimSpace(t.Status); raw != "" {
		status, err := action.ParseTaskStatus(raw)
		if err != nil {
			return action.Task{}, fmt.Errorf("task %s: %w", taskID, err)
		}
		task.Status = status
	}
	if task.Status == action.TaskCompleted {
		completedAt := createdAt.UTC()
		if t.CompletedAt != nil {
			completedAt = t.CompletedAt.UTC()
		}
		task.CompletedAt = &completedAt
	}
	return task, nil
}

func (e EventFixture) build() (progression.Event, error) {
	eventID := strings.TrimSpace(e.EventID)
	if eventID == "" {
		return progression.Event{}, errors.New("event id is required")
	}
	if e.OccurredAt.IsZero() {
		return progression.Event{}, fmt.Errorf("event %s: occurredAt is required", eventID)
	}
	evtType := progression.Type(strings.TrimSpace(e.Type))
	if !evtType.Known() {
		return progression.Event{}, fmt.Errorf("event %s: unknown type %q", eventID, e.Type)
	}
	return progression.Event{
		EventID:    eventID,
		UserID:     strings.TrimSpace(e.UserID),
		Type:       evtType,
		Subtype:    progression.Subtype(strings.TrimSpace(e.Subtype)),
		OccurredAt: e.OccurredAt.UTC(),
		Metadata:   e.Metadata,
		Summary:    e.Summary,
	}, nil
}
