package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/plf1996/simFocus/internal/cache"
	"github.com/plf1996/simFocus/internal/config"
	"github.com/plf1996/simFocus/internal/engine"
	"github.com/plf1996/simFocus/internal/handlers"
	"github.com/plf1996/simFocus/internal/llm"
	"github.com/plf1996/simFocus/internal/reports"
	"github.com/plf1996/simFocus/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment")
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := connectStore(ctx, cfg, log)
	c := cache.Connect(&cfg.Redis, log)

	registry := llm.NewRegistry()
	registerProviders(registry, &cfg.LLM, log)
	if registry.Len() == 0 {
		log.Fatal("No generation providers configured, set OPENAI_API_KEY or ANTHROPIC_API_KEY")
	}

	orchestrator := engine.NewOrchestrator(st, c, registry, &cfg.Engine, log)
	generator := reports.NewGenerator(st, registry, log)
	orchestrator.OnCompleted = generator.GenerateAsync

	router := handlers.NewRouter(orchestrator, generator, st, registry, log)
	srv := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Shutdown failed")
	}
}

// connectStore prefers Postgres and falls back to the in-memory store so the
// service stays usable in local development without a database.
func connectStore(ctx context.Context, cfg *config.Config, log *logrus.Logger) store.Store {
	pg, err := store.NewPostgresStore(ctx, &cfg.Database, log)
	if err != nil {
		log.WithError(err).Warn("Postgres unavailable, using in-memory store")
		return store.NewMemoryStore()
	}
	if err := pg.CreateTables(ctx); err != nil {
		log.WithError(err).Fatal("Failed to create tables")
	}
	log.Info("Connected to Postgres")
	return pg
}

func registerProviders(registry *llm.Registry, cfg *config.LLMConfig, log *logrus.Logger) {
	register := func(name string, p llm.Provider) {
		if err := registry.Register(name, p); err != nil {
			log.WithError(err).WithField("provider", name).Warn("Provider registration failed")
			return
		}
		log.WithField("provider", name).Info("Provider registered")
	}

	// Registration order matters when LLM_DEFAULT_PROVIDER is unset: the
	// first registered provider is the default.
	if cfg.DefaultProvider == "anthropic" {
		if cfg.AnthropicAPIKey != "" {
			register("anthropic", llm.NewAnthropicProvider("anthropic", cfg.AnthropicAPIKey, cfg.AnthropicModel))
		}
		if cfg.OpenAIAPIKey != "" {
			register("openai", llm.NewOpenAIProvider("openai", cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel))
		}
		return
	}
	if cfg.OpenAIAPIKey != "" {
		register("openai", llm.NewOpenAIProvider("openai", cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel))
	}
	if cfg.AnthropicAPIKey != "" {
		register("anthropic", llm.NewAnthropicProvider("anthropic", cfg.AnthropicAPIKey, cfg.AnthropicModel))
	}
}
