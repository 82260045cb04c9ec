package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"

	"agentbuilder/api/pkg/config"
	"agentbuilder/api/pkg/db"
	"agentbuilder/api/pkg/telemetry"
	"agentbuilder/api/services/agent"
	"agentbuilder/api/services/chat"
	"agentbuilder/api/services/llm"
	"agentbuilder/api/services/tools"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	level, _ := cfg.SlogLevel()
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(logHandler))

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.Connect(ctx, db.Config{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns})
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
	}

	agentRepo, err := openAgentRepo(ctx, pool)
	if err != nil {
		slog.Error("Failed to initialize agent store", "error", err)
		return
	}
	conversations, closeStore, err := openConversationStore(ctx, pool, cfg.ConversationDB)
	if err != nil {
		slog.Error("Failed to initialize conversation store", "error", err)
		return
	}
	defer closeStore()

	tel, err := telemetry.Setup(telemetry.Options{
		Exporter:       cfg.Telemetry.Exporter,
		MetricInterval: cfg.Telemetry.MetricInterval,
	})
	if err != nil {
		slog.Error("Failed to initialize telemetry", "error", err)
		return
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			slog.Error("Failed to flush telemetry", "error", err)
		}
	}()

	recorder := telemetry.NewRecorder()
	spans := telemetry.NewSpanManager()

	providers := llm.NewRegistry(llm.NewOpenAIClient(cfg.Model.ProviderID, cfg.Model.BaseURL, cfg.Model.APIKey, cfg.Model.Timeout))
	catalog := tools.Builtins()
	prompts := llm.PromptMap(cfg.Prompts)

	engine := agent.NewEngine(agent.NewRegistry(agent.Deps{
		Providers: providers,
		Catalog:   catalog,
		Prompts:   prompts,
		Recorder:  recorder,
	}), cfg.MaxAgentSteps).WithTelemetry(recorder, spans)

	// setup router
	mainRouter := mux.NewRouter()

	apiRouter := mainRouter.PathPrefix("/api/v1").Subrouter()

	agent.NewService(agentRepo, engine).WithTelemetry(recorder, spans).LoadRoutes(apiRouter)
	chat.NewService(providers, catalog, prompts, conversations).WithTelemetry(recorder, spans).LoadRoutes(apiRouter)

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)(mainRouter)

	// no WriteTimeout: execution streams stay open for the whole run
	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: corsHandler,
	}

	serverErrors := make(chan error, 1)

	go func() {
		slog.Info("Starting server", "addr", cfg.Addr, "providers", providers.IDs(), "tools", catalog.Names())
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
		}

	case sig := <-shutdown:
		slog.Info("Shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Could not stop server gracefully", "error", err)
			srv.Close()
		}
	}
}

// openAgentRepo uses PostgreSQL when a pool is available and the seeded
// in-memory repository otherwise.
func openAgentRepo(ctx context.Context, pool *pgxpool.Pool) (agent.AgentRepo, error) {
	if pool == nil {
		slog.Warn("DATABASE_URL is not set, agents are kept in memory")
		return agent.NewSeededMemoryRepository()
	}
	// Initialize database schema and seed data
	if err := agent.InitDB(ctx, pool); err != nil {
		return nil, err
	}
	return agent.NewRepository(pool), nil
}

// openConversationStore uses PostgreSQL when a pool is available and
// SQLite at path otherwise.
func openConversationStore(ctx context.Context, pool *pgxpool.Pool, path string) (chat.Store, func(), error) {
	if pool != nil {
		store := chat.NewPgStore(pool)
		if err := store.InitSchema(ctx); err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
	store, err := chat.NewSQLiteStore(path)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			slog.Error("Failed to close conversation store", "error", err)
		}
	}, nil
}
