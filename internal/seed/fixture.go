package seed

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Fixture is one seed file. Users are bootstrapped first, then tasks, then
// events.
type Fixture struct {
	Name   string         `yaml:"name"`
	Users  []UserFixture  `yaml:"users"`
	Tasks  []TaskFixture  `yaml:"tasks"`
	Events []EventFixture `yaml:"events"`
}

// UserFixture seeds a profile and its starting growth state. Omitted growth
// values fall back to the bootstrap seed.
type UserFixture struct {
	UserID    string    `yaml:"userId"`
	Timezone  string    `yaml:"timezone"`
	Locale    string    `yaml:"locale"`
	CreatedAt time.Time `yaml:"createdAt"`
	Mass      *float64  `yaml:"mass"`
	Structure *float64  `yaml:"structure"`
	Vitality  *float64  `yaml:"vitality"`
}

// TaskFixture seeds a task row.
type TaskFixture struct {
	TaskID         string     `yaml:"taskId"`
	UserID         string     `yaml:"userId"`
	ProjectID      string     `yaml:"projectId"`
	Title          string     `yaml:"title"`
	Notes          string     `yaml:"notes"`
	EstimatedDepth string     `yaml:"estimatedDepth"`
	Status         string     `yaml:"status"`
	CreatedAt      time.Time  `yaml:"createdAt"`
	CompletedAt    *time.Time `yaml:"completedAt"`
}

// EventFixture seeds a progression event. Growth-bearing events are folded
// into state later by the reconciler, so user fixtures should hold the state
// before these events.
type EventFixture struct {
	EventID    string            `yaml:"eventId"`
	UserID     string            `yaml:"userId"`
	Type       string            `yaml:"type"`
	Subtype    string            `yaml:"subtype"`
	OccurredAt time.Time         `yaml:"occurredAt"`
	Metadata   map[string]string `yaml:"metadata"`
	Summary    string            `yaml:"summary"`
}

// LoadFixtures reads every fixture matching pattern, sorted by path.
func LoadFixtures(pattern string) ([]Fixture, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob fixtures: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no fixtures match %s", pattern)
	}
	slices.Sort(paths)
	fixtures := make([]Fixture, 0, len(paths))
	for _, path := range paths {
		fixture, err := LoadFixture(path)
		if err != nil {
			return nil, err
		}
		fixtures = append(fixtures, fixture)
	}
	return fixtures, nil
}

// LoadFixture reads one fixture file. The name defaults to the file name.
func LoadFixture(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var fixture Fixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return Fixture{}, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if strings.TrimSpace(fixture.Name) == "" {
		fixture.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return fixture, nil
}

// ListScenarios returns the fixture names under dir.
func ListScenarios(dir string) ([]string, error) {
	fixtures, err := LoadFixtures(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(fixtures))
	for _, fixture := range fixtures {
		names = append(names, fixture.Name)
	}
	return names, nil
}
