package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bford21/vitalikrun/internal/api"
	"github.com/bford21/vitalikrun/internal/core/config"
	"github.com/bford21/vitalikrun/internal/infra/chain/evm"
	redisclient "github.com/bford21/vitalikrun/internal/infra/redis"
	"github.com/bford21/vitalikrun/internal/infra/storage"
	"github.com/bford21/vitalikrun/internal/infra/storage/memory"
	"github.com/bford21/vitalikrun/internal/infra/storage/postgres"
	"github.com/bford21/vitalikrun/internal/leaderboard"
	"github.com/bford21/vitalikrun/internal/stream"
	"github.com/bford21/vitalikrun/internal/watch"
)

// migrationsDir is resolved relative to the working directory at startup.
const migrationsDir = "migrations"

// App owns every long-lived component: the per-chain watchers, the event
// broadcaster, storage, the optional Redis cache and the HTTP server.
type App struct {
	cfg         config.AppConfig
	db          *postgres.DB
	redisClient *redisclient.Client
	broadcaster *stream.Broadcaster
	watchers    []*watch.Watcher
	enrichers   []*evm.EnrichmentClient
	server      *api.Server
	log         *slog.Logger

	cancel  context.CancelFunc
	running sync.WaitGroup
}

// NewApp wires all components from configuration. Postgres is used when a
// database URL is configured, with the in-memory store as the fallback;
// Redis is optional and only ever accelerates leaderboard reads.
func NewApp(ctx context.Context, cfg config.AppConfig) (*App, error) {
	app := &App{cfg: cfg, log: slog.Default()}

	var repo storage.LeaderboardRepository
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
		if err := db.Migrate(migrationsDir); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		app.db = db
		repo = postgres.NewLeaderboardRepo(db)
		app.log.Info("Using PostgreSQL storage")
	} else {
		repo = memory.NewLeaderboardRepo()
		app.log.Info("Using in-memory storage, scores are not durable")
	}

	var cache leaderboard.PageCache
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			app.log.Warn("Redis unavailable, leaderboard cache disabled", "error", err)
		} else {
			app.redisClient = client
			cache = client
		}
	}

	app.broadcaster = stream.NewBroadcaster()

	for _, chainCfg := range cfg.Chains {
		enricher, err := evm.DialEnrichment(ctx, chainCfg.HTTPURL)
		if err != nil {
			app.closeClients()
			return nil, fmt.Errorf("dial %s rpc endpoint: %w", chainCfg.Name, err)
		}
		app.enrichers = append(app.enrichers, enricher)

		watcher := watch.New(
			watch.Config{Chain: chainCfg.Name, ReconnectDelay: chainCfg.ReconnectDelay},
			evm.NewSubscriber(chainCfg.Name, chainCfg.WSURL),
			enricher,
			app.broadcaster,
		)
		app.watchers = append(app.watchers, watcher)
		app.log.Info("Chain watcher configured", "chain", chainCfg.Name)
	}

	app.server = api.NewServer(
		cfg.Server.Port,
		cfg.Server.FrontendOrigin,
		leaderboard.NewService(repo),
		leaderboard.NewQuery(repo, cache),
		app.broadcaster,
		app.watchers,
	)
	return app, nil
}

// Start launches one goroutine per watcher plus the HTTP server and returns
// immediately.
func (a *App) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	for _, watcher := range a.watchers {
		a.running.Add(1)
		go func(w *watch.Watcher) {
			defer a.running.Done()
			a.log.Info("Starting chain watcher", "chain", w.Chain())
			w.Run(runCtx)
		}(watcher)
	}

	a.running.Add(1)
	go func() {
		defer a.running.Done()
		if err := a.server.Run(); err != nil {
			a.log.Error("HTTP server failed", "error", err)
		}
	}()
}

// Stop shuts everything down: watchers first so no new events are produced,
// then the HTTP server, then the clients. Returns when everything exited or
// ctx expired.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping application")
	if a.cancel != nil {
		a.cancel()
	}

	if err := a.server.Shutdown(ctx); err != nil {
		a.log.Warn("HTTP server shutdown incomplete", "error", err)
	}

	done := make(chan struct{})
	go func() {
		a.running.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.closeClients()
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}

	a.closeClients()
	a.log.Info("Application stopped")
	return nil
}

func (a *App) closeClients() {
	for _, enricher := range a.enrichers {
		enricher.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis client", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
