// Package app wires the growth service process: the HTTP API, the gRPC health
// endpoint, the trigger worker and the reconciler.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/louisbranch/rockettree/internal/platform/authtoken"
	platformgrpc "github.com/louisbranch/rockettree/internal/platform/grpc"
	"github.com/louisbranch/rockettree/internal/platform/timeouts"
	httpapi "github.com/louisbranch/rockettree/internal/services/growth/api/http"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/growth"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/trigger"
	growthsqlite "github.com/louisbranch/rockettree/internal/services/growth/storage/sqlite"
)

// HealthService is the gRPC health service name reported by the runtime.
const HealthService = "growth.runtime"

const (
	defaultHTTPAddr   = ":8090"
	defaultHealthAddr = ":8091"
	defaultGrowthDB   = "data/growth.db"
)

// RuntimeConfig controls growth service startup.
type RuntimeConfig struct {
	HTTPAddr        string
	HealthAddr      string
	DBPath          string
	TokenSecret     string
	TokenIssuer     string
	TokenTTL        time.Duration
	MaxApplyRetries int
	Worker          WorkerConfig
	Reconciler      ReconcilerConfig
	Logger          *zap.Logger
}

// Server is a started growth runtime bound to its listeners.
type Server struct {
	store          *growthsqlite.Store
	httpServer     *http.Server
	httpListener   net.Listener
	grpcServer     *grpc.Server
	healthListener net.Listener
	health         *platformgrpc.Health
	worker         *TriggerWorker
	reconciler     *Reconciler
	logger         *zap.Logger
}

// Run starts the growth runtime and blocks until ctx ends.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	server, err := NewServer(ctx, cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// NewServer opens storage, builds every component and binds the listeners.
func NewServer(ctx context.Context, cfg RuntimeConfig) (*Server, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	if strings.TrimSpace(cfg.HealthAddr) == "" {
		cfg.HealthAddr = defaultHealthAddr
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultGrowthDB
	}

	authority, err := authtoken.New(authtoken.Config{
		Secret: []byte(cfg.TokenSecret),
		Issuer: cfg.TokenIssuer,
		TTL:    cfg.TokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("configure token authority: %w", err)
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create growth storage dir: %w", err)
		}
	}
	store, err := growthsqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open growth sqlite store: %w", err)
	}

	interpreterOpts := []growth.Option{growth.WithLogger(logger.Named("interpreter"))}
	if cfg.MaxApplyRetries > 0 {
		interpreterOpts = append(interpreterOpts, growth.WithMaxRetries(cfg.MaxApplyRetries))
	}
	interpreter := growth.NewInterpreter(store, interpreterOpts...)
	triggerDeps := trigger.Deps{
		Journal:     store,
		Interpreter: interpreter,
		Logger:      logger.Named("trigger"),
	}
	handlers := ChangeHandlers(
		trigger.NewTaskCompletedHandler(triggerDeps),
		trigger.NewReflectionCreatedHandler(triggerDeps),
		trigger.NewAccountBootstrapHandler(store, logger.Named("trigger"), nil),
	)

	api, err := httpapi.NewHandler(httpapi.Deps{
		Actions:  store,
		States:   store,
		Events:   store,
		Verifier: authority,
		Logger:   logger.Named("http"),
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build http api: %w", err)
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen on http address %s: %w", cfg.HTTPAddr, err)
	}
	healthListener, err := net.Listen("tcp", cfg.HealthAddr)
	if err != nil {
		_ = httpListener.Close()
		_ = store.Close()
		return nil, fmt.Errorf("listen on health address %s: %w", cfg.HealthAddr, err)
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	health := platformgrpc.NewHealth(HealthService)
	health.Register(grpcServer)

	return &Server{
		store: store,
		httpServer: &http.Server{
			Handler:           api,
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		httpListener:   httpListener,
		grpcServer:     grpcServer,
		healthListener: healthListener,
		health:         health,
		worker:         NewTriggerWorker(store, handlers, cfg.Worker, logger.Named("worker")),
		reconciler:     NewReconciler(store, interpreter, cfg.Reconciler, logger.Named("reconciler")),
		logger:         logger,
	}, nil
}

// HTTPAddr returns the bound HTTP listener address.
func (s *Server) HTTPAddr() string {
	return s.httpListener.Addr().String()
}

// HealthAddr returns the bound gRPC health listener address.
func (s *Server) HealthAddr() string {
	return s.healthListener.Addr().String()
}

// Serve runs every component until ctx ends or one of them fails, then shuts
// everything down and closes storage.
func (s *Server) Serve(ctx context.Context) error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("close growth sqlite store", zap.Error(err))
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := s.httpServer.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		if err := s.grpcServer.Serve(s.healthListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve health: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return s.worker.Run(groupCtx)
	})
	group.Go(func() error {
		return s.reconciler.Run(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		s.health.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("shutdown http server", zap.Error(err))
		}
		s.grpcServer.GracefulStop()
		return nil
	})

	s.health.SetServing()
	s.logger.Info("growth runtime listening",
		zap.String("http_addr", s.HTTPAddr()),
		zap.String("health_addr", s.HealthAddr()),
	)
	return group.Wait()
}
