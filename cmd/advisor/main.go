package main

import (
	"github.com/naturia/advisor/internal/advisor"
	"github.com/naturia/advisor/internal/catalog"
	advisorconfig "github.com/naturia/advisor/internal/config"
	"github.com/naturia/advisor/internal/history"
	"github.com/naturia/advisor/internal/textgen"
	"github.com/naturia/advisor/internal/workflow"
	"github.com/naturia/advisor/pkg/config"
	"github.com/naturia/advisor/pkg/database"
	"github.com/naturia/advisor/pkg/logging"
	"github.com/naturia/advisor/pkg/monitoring"
	"github.com/naturia/advisor/pkg/server"
	"github.com/naturia/advisor/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("advisor")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Advisor (product advisor orchestration API)")

	cfg := advisorconfig.LoadConfig()

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = cfg.DatabaseURL
	db := database.MustConnect(dbConfig, logger)
	defer func() { _ = db.Close() }()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("advisor", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("advisor", version.Version, version.GitCommit)

	// Add health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":       cfg.DatabaseURL,
		"ANSWER_WEBHOOK_URL": cfg.AnswerWebhookURL,
		"SEARCH_WEBHOOK_URL": cfg.SearchWebhookURL,
	}))

	// Utility model client for extraction, classification, routing, and summaries
	provider := textgen.NewOpenAIProvider(textgen.LoadConfig())

	answerClient := workflow.NewAnswerClient(workflow.AnswerClientConfig{
		URL:     cfg.AnswerWebhookURL,
		Timeout: cfg.AnswerTimeout,
	})
	searchClient := workflow.NewSearchClient(workflow.SearchClientConfig{
		URL:     cfg.SearchWebhookURL,
		Timeout: cfg.SearchTimeout,
	})

	catalogStore := catalog.NewStore(db)
	summarizer := advisor.NewSummarizer(provider, logger)
	defer summarizer.Wait()

	handler := &advisor.ChatHandler{
		Sessions:           advisor.NewSessionStore(),
		Coordinator:        advisor.NewCoordinator(answerClient, searchClient, logger),
		Router:             advisor.NewIntentRouter(provider, logger),
		Answers:            answerClient,
		Resolver:           advisor.NewResolver(provider, catalogStore, logger),
		Classifier:         advisor.NewProblemClassifier(provider),
		Pairings:           advisor.NewPairingEngine(db),
		Catalog:            catalogStore,
		Summarizer:         summarizer,
		Logger:             logger,
		ChatbotID:          cfg.ChatbotID,
		MaxHistoryMessages: cfg.MaxHistoryMessages,
	}
	if cfg.HistoryEnabled {
		handler.History = history.NewStore(db)
	} else {
		logger.Warn("ADVISOR_HISTORY_ENABLED=false - chat history persistence disabled")
	}

	// Setup router with unified monitoring (health/metrics only)
	router := server.SetupServiceRouter(logger, "advisor", healthChecker, metricsCollector)
	apiGroup := router.Group("/api/advisor")
	advisor.RegisterRoutes(apiGroup, handler)

	// Start HTTP server with graceful shutdown
	serverConfig := server.DefaultConfig("advisor", cfg.Port)
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
}
