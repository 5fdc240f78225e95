// Package main provides the llmgate proxy server implementation.
package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/agentflow/llmgate/api/handlers"
	"github.com/agentflow/llmgate/breaker"
	"github.com/agentflow/llmgate/classify"
	"github.com/agentflow/llmgate/config"
	"github.com/agentflow/llmgate/forward"
	"github.com/agentflow/llmgate/internal/metrics"
	"github.com/agentflow/llmgate/internal/server"
	"github.com/agentflow/llmgate/persistence"
	"github.com/agentflow/llmgate/ratelimit"
	"github.com/agentflow/llmgate/routing"
	"github.com/agentflow/llmgate/transport"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Server is the proxy's top-level process: HTTP listener, metrics
// listener, the forwarding engine, and the config hot-reload manager.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	db         *gorm.DB

	httpManager    *server.Manager
	metricsManager *server.Manager

	proxyHandler  *handlers.ProxyHandler
	healthHandler *handlers.HealthHandler
	metrics       *metrics.Collector

	hotReloadManager *config.HotReloadManager

	wg sync.WaitGroup
}

// NewServer builds a Server from loaded config. db may be nil (message
// persistence is then a no-op).
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, db *gorm.DB) *Server {
	return &Server{cfg: cfg, configPath: configPath, logger: logger, db: db}
}

// Start wires the forwarding engine and brings up the HTTP and metrics
// listeners.
func (s *Server) Start() error {
	if err := s.initHandlers(); err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}
	if err := s.initHotReloadManager(); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)
	return nil
}

// initHandlers builds the full forwarding stack — breaker guard,
// rate-limit guard, resolver, transport pool, classifier, persistence
// writer — and the HTTP handlers on top of it.
func (s *Server) initHandlers() error {
	rdb := redis.NewClient(&redis.Options{
		Addr:         s.cfg.Redis.Addr,
		Password:     s.cfg.Redis.Password,
		DB:           s.cfg.Redis.DB,
		PoolSize:     s.cfg.Redis.PoolSize,
		MinIdleConns: s.cfg.Redis.MinIdleConns,
	})
	rateGuard := ratelimit.NewGuard(ratelimit.NewRedisStore(rdb))

	breakerGuard := breaker.NewGuard(
		breaker.DefaultConfig(),
		breaker.DefaultEndpointConfig(),
		breaker.DefaultVendorConfig(),
	)
	resolver := routing.NewResolver(breakerGuard)
	pool := transport.NewPool()
	classifier := classify.New(classify.NewRuleRegistry())

	var persist persistence.Writer
	if s.db != nil {
		gw := persistence.NewGormWriter(s.db, s.logger)
		if err := gw.Migrate(context.Background()); err != nil {
			s.logger.Warn("persistence migration failed", zap.Error(err))
		}
		persist = gw
	}

	engine := forward.New(
		s.cfg.Forwarder,
		s.cfg.Providers,
		s.cfg.Endpoints,
		resolver,
		breakerGuard,
		rateGuard,
		pool,
		classifier,
		persist,
		s.logger,
	)

	s.proxyHandler = handlers.NewProxyHandler(engine, s.cfg.Keys, s.cfg.Users, s.logger)
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewRedisHealthCheck("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}))
	if s.db != nil {
		s.healthHandler.RegisterCheck(handlers.NewDatabaseHealthCheck("database", func(ctx context.Context) error {
			sqlDB, err := s.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}))
	}

	s.metrics = metrics.NewCollector("llmgate", s.logger)

	s.logger.Info("handlers initialized")
	return nil
}

func (s *Server) initHotReloadManager() error {
	opts := []config.HotReloadOption{config.WithHotReloadLogger(s.logger)}
	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}
	s.hotReloadManager = config.NewHotReloadManager(s.cfg, opts...)
	s.hotReloadManager.OnReload(func(oldConfig, newConfig *config.Config) {
		s.logger.Info("configuration reloaded")
		s.cfg = newConfig
	})
	return s.hotReloadManager.Start(context.Background())
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// Standard dialect paths plus the passthrough catch-all (the MCP
	// case) all funnel through the same forwarding handler.
	mux.Handle("/", s.proxyHandler)

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.metrics),
		RequestLogger(s.logger),
		CORS(nil),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     120 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}
	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}
	s.logger.Info("metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// WaitForShutdown blocks on the HTTP manager's signal handling, then
// runs cleanup.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown gracefully stops every subsystem.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")
	ctx := context.Background()

	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Error("hot reload manager shutdown error", zap.Error(err))
		}
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}

	s.wg.Wait()
	s.logger.Info("graceful shutdown completed")
}
