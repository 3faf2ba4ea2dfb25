package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"market-research/backend/internal/api"
	"market-research/backend/internal/auth"
	"market-research/backend/internal/config"
	"market-research/backend/internal/events"
	"market-research/backend/internal/logging"
	"market-research/backend/internal/mcp"
	"market-research/backend/internal/repository"
	"market-research/backend/internal/services"
)

func main() {
	ctx := context.Background()

	// Parse command line flags
	envFile := flag.String("env", "", "Path to .env file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		log.Fatalf("Configuration loading failed: %v", err)
	}

	logger := logging.NewLoggerWithLevel(cfg.Log.Level, os.Stdout)
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"okta_domain", cfg.Auth.OktaDomain,
		"llm_model", cfg.LLM.Model,
		"db_driver", cfg.DB.Driver,
		"locales", cfg.Workflow.Locales,
		"config_file", viper.ConfigFileUsed(),
	)

	if cfg.Auth.SwaggerClientID != "" && cfg.Auth.SwaggerClientID == cfg.Auth.ClientID {
		logger.Warn("Swagger client ID matches the backend client ID; PKCE login from the docs page will fail if the backend app requires a secret")
	}

	logger.Info("Starting content workflow service")

	// Initialize repository layer
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize store", "error", err)
		log.Fatalf("Store initialization failed: %v", err)
	}
	defer closeStore()

	// Phase catalog and completion gateway
	catalog, err := services.LoadPhaseCatalog(cfg.Workflow.PhaseCatalogFile)
	if err != nil {
		logger.Error("Failed to load phase catalog", "error", err)
		log.Fatalf("Phase catalog loading failed: %v", err)
	}
	if cfg.LLM.APIKey == "" {
		logger.Warn("llm.api_key is empty; completion calls will be rejected by the provider")
	}
	client := services.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, &http.Client{})

	publisher := newPublisher(cfg, logger)
	defer publisher.Close()

	// Initialize service layer
	workflowService := services.NewWorkflowService(store, client, catalog, services.WorkflowConfig{
		DefaultLanguage: cfg.Workflow.DefaultLanguage,
		Locales:         cfg.Workflow.Locales,
		Timeout:         cfg.LLM.Timeout,
		Pricing: services.Pricing{
			InputPer1K:  cfg.LLM.Pricing.InputPer1K,
			OutputPer1K: cfg.LLM.Pricing.OutputPer1K,
		},
		SpawnDelay:          cfg.Workflow.SpawnDelay,
		MaxParallelChildren: cfg.Workflow.MaxParallelChildren,
	},
		services.WithLogger(logger.With("component", "workflow")),
		services.WithPublisher(publisher),
	)
	categoryService := services.NewCategoryService(store)

	logger.Info("Service layer initialized", "phases", catalog.Len())

	// Create Echo server
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ProblemErrorHandler

	// Middleware
	e.Use(otelecho.Middleware("content-workflow"))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Initialize authentication
	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize auth", "error", err)
		log.Fatalf("auth initialization failed: %v", err)
	}

	// Register auth handlers
	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	// Mount REST API handlers
	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	apiHandler := api.NewServer(workflowService, categoryService, store, logger)
	api.RegisterHandlers(apiGroup, apiHandler)

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(workflowService)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp", echo.WrapHandler(authz.RequireAuth(mcpHandlers)))
	e.Any("/mcp/*", echo.WrapHandler(authz.RequireAuth(mcpHandlers)))

	logger.Info("MCP protocol handlers mounted")

	// expose OpenAPI spec (with runtime substitution) and Swagger UI
	e.GET("/openapi.yaml", echo.WrapHandler(api.SpecHandler(cfg.Auth.OktaDomain)))
	e.GET("/docs", echo.WrapHandler(api.SwaggerHandler(cfg.Auth.OktaDomain, cfg.Auth.SwaggerClientID)))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(api.OAuth2RedirectHandler()))

	// Create HTTP server. WriteTimeout stays off so SSE streams survive.
	server := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     e,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.Server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		// Let in-flight phases finish so no job is left PROCESSING.
		done := make(chan struct{})
		go func() {
			workflowService.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			logger.Warn("Background generation still running at shutdown")
		}

		logger.Info("Server stopped gracefully")
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Repository, func(), error) {
	if cfg.DB.Driver == "memory" {
		logger.Warn("Using in-memory store; all data is lost on restart")
		return repository.NewMemoryStore(), func() {}, nil
	}

	if cfg.DB.AutoMigrate {
		if err := repository.Migrate(cfg.MigrationURL()); err != nil {
			return nil, nil, err
		}
		logger.Info("Database migrations applied")
	}

	pool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Database connected")
	return repository.NewPostgresStore(pool), pool.Close, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

func newPublisher(cfg *config.Config, logger *logging.Logger) events.Publisher {
	if cfg.NATS.URL == "" {
		return events.NopPublisher{}
	}
	p, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
	if err != nil {
		logger.Warn("Event publishing disabled", "error", err)
		return events.NopPublisher{}
	}
	logger.Info("Publishing workflow events", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	return p
}
