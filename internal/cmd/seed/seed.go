// Package seed parses seed command flags and loads development fixtures.
package seed

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	entrypoint "github.com/louisbranch/rockettree/internal/platform/cmd"
	"github.com/louisbranch/rockettree/internal/platform/logging"
	"github.com/louisbranch/rockettree/internal/seed"
	growthsqlite "github.com/louisbranch/rockettree/internal/services/growth/storage/sqlite"
)

// Config holds seed command configuration.
type Config struct {
	DBPath      string `env:"ROCKETTREE_GROWTH_DB_PATH" envDefault:"data/growth.db"`
	FixturesDir string `env:"ROCKETTREE_SEED_FIXTURES_DIR" envDefault:"fixtures/seed"`
	Development bool   `env:"ROCKETTREE_DEV" envDefault:"false"`
	Scenario    string
	List        bool
	Log         logging.Config
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The growth SQLite database path")
	fs.StringVar(&cfg.FixturesDir, "fixtures", cfg.FixturesDir, "Directory holding *.yaml seed fixtures")
	fs.BoolVar(&cfg.Development, "dev", cfg.Development, "Confirm this is a development database")
	fs.StringVar(&cfg.Scenario, "scenario", "", "run specific scenario (default: all)")
	fs.BoolVar(&cfg.List, "list", false, "list available scenarios")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the seed command.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if cfg.List {
		scenarios, err := seed.ListScenarios(cfg.FixturesDir)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "Available scenarios:")
		for _, name := range scenarios {
			fmt.Fprintf(out, "  %s\n", name)
		}
		return nil
	}
	if !cfg.Development {
		return seed.ErrNotDevelopment
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create growth storage dir: %w", err)
		}
	}
	store, err := growthsqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open growth sqlite store: %w", err)
	}
	defer func() { _ = store.Close() }()

	report, err := seed.Run(ctx, store, seed.Config{
		Development: cfg.Development,
		FixturesDir: cfg.FixturesDir,
		Scenario:    cfg.Scenario,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d rows from %d scenario(s), skipped %d existing.\n", report.Writes(), report.Fixtures, report.Skipped)
	return nil
}
