package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/finflow-io/be-spend-approvals/internal/client"
	"github.com/finflow-io/be-spend-approvals/internal/config"
	"github.com/finflow-io/be-spend-approvals/internal/database"
	"github.com/finflow-io/be-spend-approvals/internal/handler"
	"github.com/finflow-io/be-spend-approvals/internal/logger"
	"github.com/finflow-io/be-spend-approvals/internal/middleware"
	"github.com/finflow-io/be-spend-approvals/internal/repository"
	"github.com/finflow-io/be-spend-approvals/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Spend Approvals Service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize repositories
	requestRepo := repository.NewRequestRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Initialize NATS publisher (optional; notifications degrade to DB-only)
	var publisher *client.NotificationPublisher
	if cfg.NATS.Enabled {
		natsClient, err := client.NewNATSClient(cfg.NATS.URL)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable; events will not be published")
		} else {
			defer natsClient.Close()
			publisher = client.NewNotificationPublisher(natsClient, log.Logger)
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS publisher initialized")
		}
	}
	if publisher == nil {
		publisher = client.NewNotificationPublisher(nil, log.Logger)
	}

	// Initialize directory client
	directory := client.NewDirectoryClient(cfg.Directory.BaseURL, cfg.Directory.Timeout)
	log.Info().Str("directory_url", cfg.Directory.BaseURL).Msg("Directory client initialized")

	// Initialize services
	dispatcher := service.NewDispatcher(notificationRepo, publisher, directory, cfg.SLA.RenotifyInterval, log)
	approvalService := service.NewApprovalService(db, requestRepo, approvalRepo, settingsRepo, auditRepo, directory, dispatcher, log)
	slaMonitor := service.NewSLAMonitor(approvalRepo, settingsRepo, dispatcher, cfg.SLA.ScanInterval, log)

	// Start SLA monitor
	go slaMonitor.Run(ctx)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(approvalService, notificationRepo, settingsRepo, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Request routes
	mux.HandleFunc("/api/v1/requests", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListRequests(w, r)
		case http.MethodPost:
			httpHandler.CreateRequest(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/requests/get", httpHandler.GetRequest)
	mux.HandleFunc("/api/v1/requests/submit", httpHandler.SubmitRequest)
	mux.HandleFunc("/api/v1/requests/decide", httpHandler.DecideRequest)
	mux.HandleFunc("/api/v1/requests/complete", httpHandler.CompleteRequest)
	mux.HandleFunc("/api/v1/requests/delete", httpHandler.DeleteRequest)
	mux.HandleFunc("/api/v1/requests/audit", httpHandler.AuditTrail)

	// Approver inbox
	mux.HandleFunc("/api/v1/approvals/pending", httpHandler.PendingApprovals)

	// Notifications
	mux.HandleFunc("/api/v1/notifications", httpHandler.ListNotifications)
	mux.HandleFunc("/api/v1/notifications/read", httpHandler.MarkNotificationRead)

	// Settings
	mux.HandleFunc("/api/v1/settings", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.GetSettings(w, r)
		case http.MethodPut:
			httpHandler.UpdateSettings(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(cfg.Server.WriteTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel() // stops the SLA monitor

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
