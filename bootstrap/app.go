package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"argus/api"
	"argus/config"
	"argus/core"
	"argus/detect"
	"argus/match"

	"go.uber.org/zap"
)

// App wires the correlation pipeline together with its collaborators
// and owns their lifecycle.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Redis     *core.RedisCache
	Pipeline  *detect.Pipeline
	APIServer *api.API
}

// NewApp creates the application and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{}

	logger, sugar, err := InitLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("Argus correlation engine starting...")

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	app.Redis = initRedis(ctx, cfg, sugar)

	services := detect.Services{
		Store:     match.NewFileRuleStore(cfg.Rules.Path, sugar),
		Evaluator: match.NewEvaluator(),
		Incidents: match.NewMemoryIncidentManager(sugar),
		Redis:     app.Redis,
	}

	pipeline, err := detect.NewPipeline(cfg, services, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	app.Pipeline = pipeline

	app.APIServer = api.NewAPI(cfg, pipeline, sugar)
	return app, nil
}

// initRedis connects the optional L2 cache tier. A failed connection is
// logged and the pipeline runs on L1 only.
func initRedis(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) *core.RedisCache {
	if !cfg.Redis.Enabled {
		return nil
	}

	cache := core.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, sugar)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		sugar.Warnw("Redis unreachable, continuing without L2 cache",
			"addr", cfg.Redis.Addr,
			"error", err)
		_ = cache.Close()
		return nil
	}

	sugar.Infow("Redis L2 cache connected", "addr", cfg.Redis.Addr)
	return cache
}

// Start launches the pipeline and the API server.
func (a *App) Start(ctx context.Context) error {
	if err := a.Pipeline.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	a.APIServer.Start()
	return nil
}

// WaitForShutdown blocks until SIGINT/SIGTERM, then shuts down.
func (a *App) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	a.Sugar.Infow("Shutdown signal received", "signal", sig.String())
	a.Shutdown()
}

// Shutdown stops components in reverse dependency order.
func (a *App) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.APIServer.Shutdown(ctx); err != nil {
		a.Sugar.Errorw("API server shutdown failed", "error", err)
	}

	a.Pipeline.Shutdown()

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Sugar.Errorw("Redis close failed", "error", err)
		}
	}

	a.Sugar.Info("Argus stopped")
	_ = a.Logger.Sync()
}
