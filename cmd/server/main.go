package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"draftsync/internal/config"
	"draftsync/internal/handler"
	"draftsync/internal/hub"
	"draftsync/internal/middleware"
	"draftsync/internal/repository/postgres"
	"draftsync/internal/service"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
	)

	if cfg.AgentToken == "" {
		logger.Warn("AGENT_TOKEN not set, draft completion endpoints disabled")
	}

	// Create pgx connection pool
	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()

	logger.Info("database connected")

	// Create repositories
	tables := postgres.NewTableNames(cfg.TablePrefix)
	docRepo := postgres.NewDocumentRepository(&postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	})

	// Connection hub - one instance owns the live-connection registry
	connHub := hub.New(cfg.HubHeartbeat, logger)
	connHub.Start()
	defer connHub.Stop()

	// Services
	docService := service.NewDocumentService(docRepo, connHub, cfg.MaxContentBytes, logger)

	// Handlers
	docHandler := handler.NewDocumentHandler(docService, cfg.AgentToken, logger)
	wsHandler := handler.NewWSHandler(docService, connHub, logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", docHandler.HealthCheck)

	// Document routes
	mux.HandleFunc("POST /api/docs", docHandler.CreateDraft)
	mux.HandleFunc("GET /api/docs", docHandler.ListDocuments)
	mux.HandleFunc("GET /api/docs/{id}", docHandler.GetDocument)
	mux.HandleFunc("PUT /api/docs/{id}", docHandler.SaveDocument)

	// Agent delivery routes
	mux.HandleFunc("POST /api/docs/{id}/complete", docHandler.CompleteDraft)
	mux.HandleFunc("POST /api/docs/{id}/fail", docHandler.FailDraft)

	// Live connection route
	mux.HandleFunc("GET /api/ws/{id}", wsHandler.Subscribe)

	// Build middleware chain
	var root http.Handler = mux

	// Apply middleware in reverse order (they wrap each other)
	// Order: CORS → Recovery → Identity → Routes
	root = middleware.Identity()(root)
	root = middleware.Recovery(logger)(root)

	// CORS - must be outermost to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "X-User-ID", "X-Client-ID"},
		AllowCredentials: true,
	})
	root = corsHandler.Handler(root)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived WebSocket connections
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	logger.Info("server listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}
