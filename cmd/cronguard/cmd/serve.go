package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cronnarc/cronguard/internal/analytics"
	"github.com/cronnarc/cronguard/internal/api"
	"github.com/cronnarc/cronguard/internal/cache"
	"github.com/cronnarc/cronguard/internal/config"
	"github.com/cronnarc/cronguard/internal/docker"
	"github.com/cronnarc/cronguard/internal/events"
	"github.com/cronnarc/cronguard/internal/monitor"
	"github.com/cronnarc/cronguard/internal/notify"
	"github.com/cronnarc/cronguard/internal/obs"
	"github.com/cronnarc/cronguard/internal/store"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the monitor engine",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := obs.NewLogger(obs.LogConfig{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		App:    "cronguard",
		Env:    cfg.Env,
		Ver:    Version,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		logger.Error("open store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
		return err
	}
	defer st.Close()

	if sq, ok := st.(*store.SQLiteStore); ok {
		if n, err := sq.MigrateFromJSON(ctx, legacyJSONPath(cfg.Store.Path)); err != nil {
			logger.Warn("migrate legacy json store", zap.Error(err))
		} else if n > 0 {
			logger.Info("migrated legacy json store", zap.Int("monitors", n))
		}
	}

	uptimeCache := openCache(ctx, cfg.Redis, logger)
	defer uptimeCache.Close()

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		logger.Info("publishing events to kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	defer publisher.Close()

	// nil interfaces, not typed nil pointers, mark docker as unavailable
	var (
		remediator monitor.Remediator
		containers api.ContainerLister
	)
	if cfg.Docker.Enabled {
		dockerClient, err := docker.NewClient(ctx)
		if err != nil {
			logger.Warn("docker unavailable, remediation disabled", zap.Error(err))
		} else {
			defer dockerClient.Close()
			remediator = dockerClient
			containers = dockerClient
		}
	}

	engine := monitor.NewEngine(monitor.EngineDeps{
		Logger:        logger,
		Store:         st,
		Notifier:      notify.NewDispatcher(cfg.Notifications, st),
		Publisher:     publisher,
		Cache:         uptimeCache,
		Docker:        remediator,
		TickInterval:  cfg.TickInterval,
		RetentionDays: cfg.HistoryRetentionDays,
	})
	engine.Start()
	defer engine.Stop()

	svc := analytics.NewService(st, analytics.Options{
		Cache:    uptimeCache,
		CacheTTL: cfg.CacheTTL,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(api.Deps{
			Logger:    logger,
			Store:     st,
			Engine:    engine,
			Analytics: svc,
			Docker:    containers,
			Config:    cfg,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("listen", zap.Error(err))
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openCache falls back to an in-process cache when Redis is not configured
// or unreachable.
func openCache(ctx context.Context, cfg config.Redis, logger *zap.Logger) cache.Cache {
	if cfg.Addr == "" {
		return cache.NewMemoryCache()
	}
	rc, err := cache.NewRedisCache(ctx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		logger.Warn("redis unavailable, using in-memory uptime cache", zap.String("addr", cfg.Addr), zap.Error(err))
		return cache.NewMemoryCache()
	}
	logger.Info("uptime cache on redis", zap.String("addr", cfg.Addr))
	return rc
}
