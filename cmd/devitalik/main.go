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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/devitalik/devitalik/internal/adapter/discord"
	_ "github.com/devitalik/devitalik/internal/adapter/github" // registers the "github" provider
	dvhttp "github.com/devitalik/devitalik/internal/adapter/http"
	"github.com/devitalik/devitalik/internal/adapter/llm"
	dvnats "github.com/devitalik/devitalik/internal/adapter/nats"
	"github.com/devitalik/devitalik/internal/adapter/otel"
	"github.com/devitalik/devitalik/internal/adapter/postgres"
	"github.com/devitalik/devitalik/internal/adapter/ristretto"
	"github.com/devitalik/devitalik/internal/adapter/ws"
	"github.com/devitalik/devitalik/internal/config"
	"github.com/devitalik/devitalik/internal/logger"
	"github.com/devitalik/devitalik/internal/middleware"
	"github.com/devitalik/devitalik/internal/port/gitprovider"
	"github.com/devitalik/devitalik/internal/port/notifier"
	"github.com/devitalik/devitalik/internal/resilience"
	"github.com/devitalik/devitalik/internal/secrets"
	"github.com/devitalik/devitalik/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"poll_interval", cfg.Watcher.PollInterval,
	)

	vault, err := secrets.NewVault(secrets.EnvLoader(secrets.DefaultKeys()...))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	if v := vault.Get(secrets.KeyGitHubToken); v != "" {
		cfg.GitHub.AccessToken = v
	}
	if v := vault.Get(secrets.KeyWebhookSecret); v != "" {
		cfg.GitHub.WebhookSecret = v
	}
	if v := vault.Get(secrets.KeyDiscordToken); v != "" {
		cfg.Discord.BotToken = v
	}
	if v := vault.Get(secrets.KeyLLMAPIKey); v != "" {
		cfg.LLM.APIKey = v
	}
	for _, key := range vault.Keys() {
		slog.Debug("secret loaded", "key", key, "value", vault.Redacted(key))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer := otel.InitTracer(cfg.Logging.Service)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := dvnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() {
		if err := queue.Drain(); err != nil {
			slog.Warn("queue drain failed", "error", err)
		}
	}()
	slog.Info("nats connected", "url", cfg.NATS.URL)

	cache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()

	store := postgres.NewStore(pool)
	hub := ws.NewHub()

	provider, err := gitprovider.New("github", map[string]string{
		"access_token": cfg.GitHub.AccessToken,
		"api_base_url": cfg.GitHub.APIBaseURL,
	})
	if err != nil {
		return fmt.Errorf("git provider: %w", err)
	}
	githubBreaker := resilienceBreaker(cfg)
	if gp, ok := provider.(interface{ SetBreaker(*resilience.Breaker) }); ok {
		gp.SetBreaker(githubBreaker)
	}

	// --- Notifiers ---

	var notifiers []notifier.Notifier
	if cfg.Discord.WebhookURL != "" {
		n, err := notifier.New("discord", map[string]string{"webhook_url": cfg.Discord.WebhookURL})
		if err != nil {
			return fmt.Errorf("discord notifier: %w", err)
		}
		notifiers = append(notifiers, n)
	}
	notifySvc := service.NewNotificationService(notifiers, nil)
	slog.Info("notifiers registered", "count", notifySvc.NotifierCount(), "available", notifier.Available())

	// --- Services ---

	watcherSvc := service.NewWatcherService(store, queue, cache, provider, notifySvc, hub, cfg.Watcher)
	watcherSvc.SetMetrics(metrics)
	webhookSvc := service.NewWebhookService(watcherSvc)
	repoSvc := service.NewRepositoryService(store, provider)

	indexerSvc := service.NewIndexerService(store, queue, provider, hub, cfg.Indexer)
	indexerSvc.SetMetrics(metrics)
	stopIndexer, err := indexerSvc.Start(ctx)
	if err != nil {
		return fmt.Errorf("indexer: %w", err)
	}
	defer stopIndexer()

	var (
		llmClient  *llm.Client
		llmBreaker *resilience.Breaker
	)
	if cfg.LLM.URL != "" {
		llmClient = llm.NewClient(cfg.LLM.URL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens)
		llmBreaker = resilienceBreaker(cfg)
		llmClient.SetBreaker(llmBreaker)
		slog.Info("llm synthesis enabled", "model", cfg.LLM.Model)
	} else {
		slog.Info("llm not configured, answers are extractive")
	}
	querySvc := service.NewQueryService(store, cache, llmClient, hub, cfg.Query)
	querySvc.SetMetrics(metrics)

	statusSvc := service.NewStatusService(store, queue, watcherSvc)
	statusSvc.RegisterBreaker("github", githubBreaker)
	if llmBreaker != nil {
		statusSvc.RegisterBreaker("llm", llmBreaker)
	}

	// --- HTTP ---

	handlers := &dvhttp.Handlers{
		Repositories: repoSvc,
		Webhook:      webhookSvc,
		Watcher:      watcherSvc,
		Indexer:      indexerSvc,
		Query:        querySvc,
		Status:       statusSvc,
		Hub:          hub,
	}

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	limiter.ExemptPrefix("/api/v1/webhooks/")
	stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(dvhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(dvhttp.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(dvhttp.Logger)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(limiter.Handler)

	dvhttp.MountRoutes(r, handlers, cfg.GitHub)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// --- Background loops ---

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := watcherSvc.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if cfg.Discord.BotToken != "" && cfg.Discord.CommandChannel != "" {
		client := discord.NewClient(cfg.Discord.APIBaseURL, cfg.Discord.BotToken)
		discordBreaker := resilienceBreaker(cfg)
		client.SetBreaker(discordBreaker)
		statusSvc.RegisterBreaker("discord", discordBreaker)
		bot := service.NewBotService(client, querySvc, statusSvc, cfg.Discord)
		g.Go(func() error {
			err := bot.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		slog.Info("discord bot not configured, command loop disabled")
	}

	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// resilienceBreaker builds a circuit breaker for one outbound client.
func resilienceBreaker(cfg *config.Config) *resilience.Breaker {
	return resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
}
