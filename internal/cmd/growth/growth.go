// Package growth parses growth command flags and launches the growth runtime.
package growth

import (
	"context"
	"flag"
	"time"

	"github.com/louisbranch/rockettree/internal/platform/logging"
	entrypoint "github.com/louisbranch/rockettree/internal/platform/cmd"
	growthapp "github.com/louisbranch/rockettree/internal/services/growth/app"
)

// Config holds growth command configuration.
type Config struct {
	HTTPAddr          string        `env:"ROCKETTREE_GROWTH_HTTP_ADDR" envDefault:":8090"`
	HealthAddr        string        `env:"ROCKETTREE_GROWTH_HEALTH_ADDR" envDefault:":8091"`
	DBPath            string        `env:"ROCKETTREE_GROWTH_DB_PATH" envDefault:"data/growth.db"`
	TokenSecret       string        `env:"ROCKETTREE_TOKEN_SECRET"`
	TokenIssuer       string        `env:"ROCKETTREE_TOKEN_ISSUER" envDefault:"rockettree"`
	TokenTTL          time.Duration `env:"ROCKETTREE_TOKEN_TTL" envDefault:"24h"`
	MaxApplyRetries   int           `env:"ROCKETTREE_GROWTH_MAX_APPLY_RETRIES" envDefault:"5"`
	PollInterval      time.Duration `env:"ROCKETTREE_GROWTH_POLL_INTERVAL" envDefault:"1s"`
	BatchSize         int           `env:"ROCKETTREE_GROWTH_BATCH_SIZE" envDefault:"32"`
	ReconcileInterval time.Duration `env:"ROCKETTREE_GROWTH_RECONCILE_INTERVAL" envDefault:"30s"`
	ReconcileGrace    time.Duration `env:"ROCKETTREE_GROWTH_RECONCILE_GRACE" envDefault:"1m"`
	ReconcileMaxAge   time.Duration `env:"ROCKETTREE_GROWTH_RECONCILE_MAX_AGE" envDefault:"24h"`
	ReconcileBatch    int           `env:"ROCKETTREE_GROWTH_RECONCILE_BATCH" envDefault:"64"`
	Log               logging.Config
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The growth HTTP API address")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "The growth gRPC health address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The growth SQLite database path")
	fs.StringVar(&cfg.TokenIssuer, "token-issuer", cfg.TokenIssuer, "Bearer token issuer")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "Bearer token lifetime")
	fs.IntVar(&cfg.MaxApplyRetries, "max-apply-retries", cfg.MaxApplyRetries, "Growth state compare-and-swap attempts")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Change outbox poll interval")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Changes claimed per poll")
	fs.DurationVar(&cfg.ReconcileInterval, "reconcile-interval", cfg.ReconcileInterval, "Reconciler interval")
	fs.DurationVar(&cfg.ReconcileGrace, "reconcile-grace", cfg.ReconcileGrace, "Minimum event age before reconciling")
	fs.DurationVar(&cfg.ReconcileMaxAge, "reconcile-max-age", cfg.ReconcileMaxAge, "Maximum event age the reconciler retries")
	fs.IntVar(&cfg.ReconcileBatch, "reconcile-batch", cfg.ReconcileBatch, "Events scanned per reconciler page")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level (debug, info, warn, error)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the growth runtime.
func Run(ctx context.Context, cfg Config) error {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceGrowth, entrypoint.RunOptions{Logger: logger}, func(ctx context.Context) error {
		return growthapp.Run(ctx, growthapp.RuntimeConfig{
			HTTPAddr:        cfg.HTTPAddr,
			HealthAddr:      cfg.HealthAddr,
			DBPath:          cfg.DBPath,
			TokenSecret:     cfg.TokenSecret,
			TokenIssuer:     cfg.TokenIssuer,
			TokenTTL:        cfg.TokenTTL,
			MaxApplyRetries: cfg.MaxApplyRetries,
			Worker: growthapp.WorkerConfig{
				PollInterval: cfg.PollInterval,
				BatchSize:    cfg.BatchSize,
			},
			Reconciler: growthapp.ReconcilerConfig{
				Interval:  cfg.ReconcileInterval,
				Grace:     cfg.ReconcileGrace,
				MaxAge:    cfg.ReconcileMaxAge,
				BatchSize: cfg.ReconcileBatch,
			},
			Logger: logger,
		})
	})
}
