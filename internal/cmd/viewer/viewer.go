// Package viewer parses viewer command flags and runs the polling session.
package viewer

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/louisbranch/rockettree/internal/platform/authtoken"
	entrypoint "github.com/louisbranch/rockettree/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/rockettree/internal/platform/grpc"
	"github.com/louisbranch/rockettree/internal/platform/logging"
	growthapp "github.com/louisbranch/rockettree/internal/services/growth/app"
	"github.com/louisbranch/rockettree/internal/services/viewer/client"
	"github.com/louisbranch/rockettree/internal/services/viewer/progression"
	"github.com/louisbranch/rockettree/internal/services/viewer/render"
	"github.com/louisbranch/rockettree/internal/services/viewer/session"
)

// Config holds viewer command configuration.
type Config struct {
	GrowthURL   string        `env:"ROCKETTREE_VIEWER_GROWTH_URL" envDefault:"http://localhost:8090"`
	HealthAddr  string        `env:"ROCKETTREE_VIEWER_HEALTH_ADDR" envDefault:"localhost:8091"`
	DialTimeout time.Duration `env:"ROCKETTREE_VIEWER_DIAL_TIMEOUT" envDefault:"5s"`
	// Token is used as is when set. Otherwise a token for UserID is minted
	// with TokenSecret, which only makes sense against a local growth service.
	Token        string        `env:"ROCKETTREE_VIEWER_TOKEN"`
	UserID       string        `env:"ROCKETTREE_VIEWER_USER_ID"`
	TokenSecret  string        `env:"ROCKETTREE_TOKEN_SECRET"`
	TokenIssuer  string        `env:"ROCKETTREE_TOKEN_ISSUER" envDefault:"rockettree"`
	PollInterval time.Duration `env:"ROCKETTREE_VIEWER_POLL_INTERVAL" envDefault:"3s"`
	Lookback     time.Duration `env:"ROCKETTREE_VIEWER_LOOKBACK" envDefault:"0s"`
	DedupWindow  time.Duration `env:"ROCKETTREE_VIEWER_DEDUP_WINDOW" envDefault:"0s"`
	Log          logging.Config
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.GrowthURL, "growth-url", cfg.GrowthURL, "The growth HTTP API base URL")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "The growth gRPC health address")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Growth health wait timeout")
	fs.StringVar(&cfg.UserID, "user-id", cfg.UserID, "User to mint a development token for")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Event poll interval")
	fs.DurationVar(&cfg.Lookback, "lookback", cfg.Lookback, "Re-request window before the newest seen event")
	fs.DurationVar(&cfg.DedupWindow, "dedup-window", cfg.DedupWindow, "How long processed event ids are remembered (0 = session)")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level (debug, info, warn, error)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// bearerToken returns the configured token or mints one for UserID.
func bearerToken(cfg Config) (string, error) {
	if token := strings.TrimSpace(cfg.Token); token != "" {
		return token, nil
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		return "", errors.New("viewer token or user id is required")
	}
	authority, err := authtoken.New(authtoken.Config{
		Secret: []byte(cfg.TokenSecret),
		Issuer: cfg.TokenIssuer,
	})
	if err != nil {
		return "", fmt.Errorf("configure token authority: %w", err)
	}
	return authority.Issue(cfg.UserID)
}

// Run waits for the growth service, then polls and renders until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceViewer, entrypoint.RunOptions{Logger: logger}, func(ctx context.Context) error {
		return runSession(ctx, cfg, logger)
	})
}

func runSession(ctx context.Context, cfg Config, logger *zap.Logger) error {
	token, err := bearerToken(cfg)
	if err != nil {
		return err
	}

	conn, err := platformgrpc.DialWithHealth(ctx, cfg.HealthAddr, platformgrpc.DialConfig{
		Timeout: cfg.DialTimeout,
		Service: growthapp.HealthService,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("wait for growth service: %w", err)
	}
	defer func() { _ = conn.Close() }()

	api, err := client.New(client.Config{BaseURL: cfg.GrowthURL, Token: token, Logger: logger.Named("client")})
	if err != nil {
		return err
	}
	if err := api.CreateAccount(ctx); err != nil {
		return err
	}

	tree := render.NewTreeRenderer(logger.Named("tree"))
	weather := render.NewWeatherSystem(logger.Named("weather"))
	journal := render.NewJournal(logger.Named("journal"))
	all := []progression.Consumer{tree, weather, journal}
	dispatcher := progression.NewDispatcher(progression.Routes{
		TaskCompleted:      all,
		ReflectionLogged:   all,
		ReturnAfterAbsence: []progression.Consumer{weather, journal},
		SessionInterpreted: []progression.Consumer{journal},
		TimeTick:           []progression.Consumer{journal},
	}, logger.Named("dispatcher"))
	fetcher := progression.NewFetcher(api, progression.FetcherConfig{
		Lookback:    cfg.Lookback,
		DedupWindow: cfg.DedupWindow,
	}, logger.Named("fetcher"))

	manager, err := session.NewManager(session.Config{
		Fetcher:      fetcher,
		Dispatcher:   dispatcher,
		States:       api,
		Sinks:        []session.StateSink{tree, weather},
		PollInterval: cfg.PollInterval,
		Logger:       logger.Named("session"),
	})
	if err != nil {
		return err
	}
	if err := manager.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	manager.Stop()
	return nil
}
