package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/airelay/internal/api"
	"github.com/vitaliisemenov/airelay/internal/authresolve"
	"github.com/vitaliisemenov/airelay/internal/cache"
	"github.com/vitaliisemenov/airelay/internal/config"
	"github.com/vitaliisemenov/airelay/internal/dispatcher"
	"github.com/vitaliisemenov/airelay/internal/loadbalancer"
	"github.com/vitaliisemenov/airelay/internal/logging"
	"github.com/vitaliisemenov/airelay/internal/state"
)

var serveFlags struct {
	configPath         string
	service            string
	port               int
	codexAuthPath      string
	claudeSettingsPath string
	auditLogPath       string

	logLevel  string
	logFormat string

	redisAddr     string
	redisPassword string
	redisDB       int

	rateLimitPerMinute int
	rateLimitBurst     int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy and its control API on one local port",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.configPath, "config", "", "path to the service config file (required)")
	f.StringVar(&serveFlags.service, "service", "codex", "upstream family to front: codex or claude")
	f.IntVar(&serveFlags.port, "port", 8089, "local port to listen on")
	f.StringVar(&serveFlags.codexAuthPath, "codex-auth-path", "", "path to Codex's auth.json credential file")
	f.StringVar(&serveFlags.claudeSettingsPath, "claude-settings-path", "", "path to Claude's settings.json credential file")
	f.StringVar(&serveFlags.auditLogPath, "audit-log", "", "path to an append-only JSONL audit log (empty disables it)")

	f.StringVar(&serveFlags.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	f.StringVar(&serveFlags.logFormat, "log-format", "json", "log format: json or text")

	f.StringVar(&serveFlags.redisAddr, "redis-addr", "", "optional Redis address for override persistence (empty disables it)")
	f.StringVar(&serveFlags.redisPassword, "redis-password", "", "Redis password")
	f.IntVar(&serveFlags.redisDB, "redis-db", 0, "Redis database index")

	f.IntVar(&serveFlags.rateLimitPerMinute, "control-rate-limit-per-minute", 600, "control API per-client rate limit")
	f.IntVar(&serveFlags.rateLimitBurst, "control-rate-limit-burst", 50, "control API per-client burst size")

	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Config{Level: serveFlags.logLevel, Format: serveFlags.logFormat})

	service := config.ServiceKind(serveFlags.service)
	if service != config.ServiceCodex && service != config.ServiceClaude {
		return fmt.Errorf("invalid --service %q: must be codex or claude", serveFlags.service)
	}

	proxyCfg, err := config.LoadFromFile(serveFlags.configPath, service)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := proxyCfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	runtimeCfg := config.NewRuntimeConfig(proxyCfg)

	store := state.New()
	auditLog, err := state.NewAuditLog(serveFlags.auditLogPath, logger)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}

	if serveFlags.auditLogPath != "" {
		go func() {
			if err := state.ReplayAuditLog(serveFlags.auditLogPath, store); err != nil {
				logger.Warn("audit log replay failed", "error", err)
			}
		}()
	}

	lbRegistry := loadbalancer.NewRegistry()
	authResolver := authresolve.NewResolver(serveFlags.codexAuthPath, serveFlags.claudeSettingsPath)

	var persister *cache.OverridesPersister
	if serveFlags.redisAddr != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = serveFlags.redisAddr
		cacheCfg.Password = serveFlags.redisPassword
		cacheCfg.DB = serveFlags.redisDB
		redisCache, err := cache.NewRedisCache(cacheCfg, logger)
		if err != nil {
			return fmt.Errorf("connecting to override cache: %w", err)
		}
		defer redisCache.Close()
		persister = cache.NewOverridesPersister(redisCache, logger)

		restoreCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		persister.Restore(restoreCtx, store.Overrides())
		cancel()
	} else {
		persister = cache.NewOverridesPersister(nil, logger)
	}

	dispatch := dispatcher.New(runtimeCfg, store, lbRegistry, authResolver, auditLog, logger)

	routerCfg := api.DefaultRouterConfig(store, runtimeCfg, logger)
	routerCfg.Persister = persister
	routerCfg.RateLimitPerMinute = serveFlags.rateLimitPerMinute
	routerCfg.RateLimitBurst = serveFlags.rateLimitBurst

	router := api.NewRouter(routerCfg)
	router.NotFoundHandler = dispatch

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", serveFlags.port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("airelay listening", "port", serveFlags.port, "service", string(service))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	auditLog.Close()
	logger.Info("airelay exited")
	return nil
}
