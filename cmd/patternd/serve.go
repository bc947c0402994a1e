package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsdesk/patternd/internal/config"
	"github.com/opsdesk/patternd/internal/database"
	"github.com/opsdesk/patternd/internal/embedding"
	"github.com/opsdesk/patternd/internal/handlers"
	"github.com/opsdesk/patternd/internal/jobs"
	"github.com/opsdesk/patternd/internal/middleware"
	"github.com/opsdesk/patternd/internal/notifier"
	"github.com/opsdesk/patternd/internal/services"
)

const embeddingCacheEntries = 10000

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the analysis workers and the cluster sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer database.Close()
			return serve(cmd.Context(), cfg)
		},
	}
}

// buildProvider picks the embedding provider: OpenAI when a key is set,
// otherwise the local hashing embedder
func buildProvider(cfg *config.Config) embedding.Provider {
	opts := embedding.Options{
		CacheTTL:        time.Duration(cfg.EmbeddingCacheTTLMinute) * time.Minute,
		CacheMaxEntries: embeddingCacheEntries,
	}

	if cfg.OpenAIAPIKey == "" {
		log.Printf("Embedding provider: hashing (%d dimensions, OPENAI_API_KEY not set)", embedding.DefaultHashingDimensions)
		return embedding.Build(embedding.NewHashingProvider(0), opts)
	}

	opts.RatePerSecond = cfg.EmbeddingRatePerSecond
	opts.Burst = max(1, int(cfg.EmbeddingRatePerSecond))
	log.Printf("Embedding provider: %s at %s", cfg.EmbeddingModel, cfg.OpenAIBaseURL)
	return embedding.Build(embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.EmbeddingModel,
	}), opts)
}

// buildPolicy loads the detector policy file, or the defaults
func buildPolicy(ctx context.Context, cfg *config.Config) (*config.PolicySource, error) {
	if cfg.PolicyFile == "" {
		return config.NewPolicySource(config.DefaultPolicy()), nil
	}

	p, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	source := config.NewPolicySource(p)
	if err := source.Watch(ctx, cfg.PolicyFile); err != nil {
		log.Printf("Warning: Policy hot reload disabled: %v", err)
	}
	log.Printf("Detector policy loaded from %s", cfg.PolicyFile)
	return source, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Starting patternd %s...", version)

	if cfg.AdminPassword == "" {
		return errors.New("ADMIN_PASSWORD is not set")
	}
	passwordHash, err := middleware.HashPassword(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	if err := database.AutoMigrate(); err != nil {
		return err
	}

	db := database.GetDB()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	store := database.NewPatternStore(db)

	policy, err := buildPolicy(ctx, cfg)
	if err != nil {
		return err
	}
	provider := buildProvider(cfg)
	if closer, ok := provider.(interface{ Close() }); ok {
		defer closer.Close()
	}

	// Notifications: the dashboard stream always, Slack when configured
	stream := handlers.NewAlertStreamHandler()
	defer stream.Close()
	sinks := notifier.Multi{stream}
	if cfg.SlackBotToken != "" && cfg.SlackAlertsChannel != "" {
		sinks = append(sinks, notifier.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackAlertsChannel))
		log.Printf("Slack notifications enabled for channel %s", cfg.SlackAlertsChannel)
	} else {
		log.Printf("Slack notifications disabled (SLACK_BOT_TOKEN or SLACK_ALERTS_CHANNEL not set)")
	}
	notify := notifier.BestEffort{Next: sinks}

	embedder := services.NewTicketEmbedder(provider, store)
	alerts := services.NewAlertPolicy(store, policy, notify)
	spam := services.NewSpamDetector(store, embedder, policy)
	detector := services.NewPatternDetector(store, embedder, policy, alerts, spam)
	patterns := services.NewPatternService(store)
	escalator := services.NewIncidentEscalator(store, policy, notify)

	dispatcher := services.NewAnalysisDispatcher(detector, cfg.AnalysisConcurrency,
		time.Duration(cfg.AnalysisTimeoutSeconds)*time.Second)

	var classifier services.DepartmentClassifier
	if cfg.AnthropicAPIKey != "" {
		classifier = services.NewAnthropicClassifier(cfg.AnthropicAPIKey, cfg.ClassifierModel)
		log.Printf("Department classifier enabled (%s)", cfg.ClassifierModel)
	} else {
		log.Printf("Department classifier disabled (ANTHROPIC_API_KEY not set), tickets must carry a department")
	}

	jwtAuth := middleware.NewJWTAuthMiddleware(&middleware.JWTAuthConfig{
		AdminUsername:     cfg.AdminUsername,
		AdminPasswordHash: passwordHash,
		JWTSecret:         cfg.JWTSecret,
		JWTExpiryHours:    cfg.JWTExpiryHours,
		SkipPaths: []string{
			"/health",
			"/metrics",
			"/auth/login",
			"/api/tickets",
		},
		QueryTokenPaths: []string{"/ws/*"},
	})
	apiKeyAuth := middleware.NewAPIKeyAuth(cfg.IngestAPIKeys)

	mux := http.NewServeMux()
	handlers.NewHTTPHandler(sqlDB).SetupRoutes(mux)
	handlers.NewAuthHandler(jwtAuth).SetupRoutes(mux)
	handlers.NewTicketHandler(store, classifier, dispatcher).SetupRoutes(mux, apiKeyAuth.WrapFunc)
	handlers.NewPatternHandler(patterns, escalator).SetupRoutes(mux)
	stream.SetupRoutes(mux)

	cors := middleware.NewCORSMiddleware(cfg.CORSAllowedOrigins...)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           cors.Wrap(middleware.RequestIDMiddleware(middleware.AccessLog(jwtAuth.Wrap(mux)))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweepStop := make(chan struct{})
	defer close(sweepStop)
	sweeper := jobs.NewClusterSweeper(store, cfg.ClusterIdleDays)
	if err := sweeper.Start(cfg.ClusterSweepSchedule, sweepStop); err != nil {
		log.Printf("Warning: Cluster sweeper disabled: %v", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on port %d", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	log.Printf("Ticket ingest endpoint: http://localhost:%d/api/tickets", cfg.HTTPPort)
	log.Printf("Dashboard API base URL: http://localhost:%d/api/patterns", cfg.HTTPPort)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
	case <-ctx.Done():
		log.Println("Received shutdown signal, cleaning up...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log.Println("Shutting down HTTP server...")
	stream.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	log.Println("Waiting for in-flight ticket analyses...")
	dispatcher.Wait()

	log.Println("Shutdown complete")
	return nil
}
