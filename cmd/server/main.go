// Package main is the entrypoint for the scenarist API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/scenarist/internal/ai"
	"github.com/kiranshivaraju/scenarist/internal/api"
	"github.com/kiranshivaraju/scenarist/internal/api/handler"
	mw "github.com/kiranshivaraju/scenarist/internal/api/middleware"
	"github.com/kiranshivaraju/scenarist/internal/api/response"
	"github.com/kiranshivaraju/scenarist/internal/cache"
	"github.com/kiranshivaraju/scenarist/internal/config"
	"github.com/kiranshivaraju/scenarist/internal/jobs"
	"github.com/kiranshivaraju/scenarist/internal/store"
	"github.com/kiranshivaraju/scenarist/pkg/models"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	slog.SetDefault(newLogger(slog.LevelInfo))

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	provider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	aiModels := ai.ModelsFor(cfg.AI)
	slog.Info("AI provider initialized", "provider", provider.Name(), "scenario_model", aiModels.Scenario)

	processor := jobs.NewProcessor(b.store, b.cache, jobs.NewTaskExecutor(provider, aiModels), cfg.Jobs)
	if cfg.Jobs.ResumeOnStart {
		if _, err := processor.ResumePending(ctx, cfg.Jobs.ResumeOlderThan); err != nil {
			return fmt.Errorf("resume pending jobs: %w", err)
		}
	}

	auth := mw.NewAuth(cfg.Server.APIKeyHash)
	if !auth.Enabled() {
		slog.Warn("API_KEY_HASH not set, API is open to any caller")
	}

	router := api.NewRouter(api.Dependencies{
		Auth:      auth,
		RateLimit: mw.NewRateLimit(b.cache, cfg.Server.RateLimitPerMinute),

		HealthHandler: healthHandler(b.store, b.cache),

		SubmitJobHandler: handler.NewSubmitJobHandler(b.store, processor, cfg.Jobs.MaxRetries),
		GetJobHandler:    handler.NewGetJobHandler(b.store, b.cache),
		ListJobsHandler:  handler.NewListJobsHandler(b.store),

		Styles:    collection(handler.NewItemsHandler(b.store, b.cache, models.TabStyle)),
		Sources:   collection(handler.NewItemsHandler(b.store, b.cache, models.TabSources)),
		Scenarios: collection(handler.NewItemsHandler(b.store, b.cache, models.TabScenario)),

		ChatHandler:       handler.NewChatHandler(provider, aiModels.Chat),
		ListChatMessages:  handler.NewListChatMessagesHandler(b.store),
		CreateChatMessage: handler.NewCreateChatMessageHandler(b.store),
		ClearChatMessages: handler.NewClearChatMessagesHandler(b.store),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: chat replies stream for as long as the model talks.
		IdleTimeout: 90 * time.Second,
	}
	return serve(ctx, srv, processor)
}

// backends are the stateful dependencies opened before serving.
type backends struct {
	pool  *pgxpool.Pool
	store *store.PostgresStore
	cache *cache.RedisCache
}

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	rc, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := rc.Ping(ctx); err != nil {
		rc.Close()
		pool.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	return &backends{pool: pool, store: store.NewPostgresStore(pool), cache: rc}, nil
}

func (b *backends) close() {
	if err := b.cache.Close(); err != nil {
		slog.Warn("close redis", "error", err)
	}
	b.pool.Close()
}

// serve runs srv until ctx is cancelled, then drains HTTP traffic and the job
// processor within shutdownTimeout. Runs still in flight when the budget ends
// are requeued as PENDING by the processor.
func serve(ctx context.Context, srv *http.Server, processor *jobs.Processor) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down, draining connections")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		if err := processor.Shutdown(shutdownCtx); err != nil {
			slog.Warn("job processor did not drain in time", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped gracefully")
	return nil
}

func collection(h *handler.ItemsHandler) api.CollectionHandlers {
	return api.CollectionHandlers{
		List:   h.List,
		Create: h.Create,
		Update: h.Update,
		Delete: h.Delete,
	}
}

const healthCheckTimeout = 3 * time.Second

// healthHandler pings the database and the cache concurrently.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		var dbErr, cacheErr error
		var g errgroup.Group
		g.Go(func() error { dbErr = s.Ping(ctx); return nil })
		g.Go(func() error { cacheErr = c.Ping(ctx); return nil })
		_ = g.Wait()

		checks := map[string]string{"database": status(dbErr), "cache": status(cacheErr)}
		if dbErr != nil || cacheErr != nil {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}
		response.JSON(w, map[string]any{"status": "ok", "services": checks})
	}
}

func status(err error) string {
	if err != nil {
		return "degraded"
	}
	return "ok"
}
