package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Amund211/chatrelay/internal/adapters/completionprovider"
	"github.com/Amund211/chatrelay/internal/adapters/database"
	"github.com/Amund211/chatrelay/internal/adapters/sessionrepository"
	"github.com/Amund211/chatrelay/internal/adapters/userrepository"
	"github.com/Amund211/chatrelay/internal/app"
	"github.com/Amund211/chatrelay/internal/batching"
	"github.com/Amund211/chatrelay/internal/config"
	"github.com/Amund211/chatrelay/internal/logging"
	"github.com/Amund211/chatrelay/internal/ports"
	"github.com/Amund211/chatrelay/internal/reporting"
	"github.com/Amund211/chatrelay/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	// Root certificates for images without a system trust store
	_ "golang.org/x/crypto/x509roots/fallback"
)

const cacheCleanupInterval = 1 * time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instanceID := uuid.New().String()
	baseLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("instanceID", instanceID)

	fail := func(msg string, args ...any) {
		baseLogger.Error(msg, args...)
		os.Exit(1)
	}

	config, err := config.ConfigFromEnv()
	if err != nil {
		fail("Failed to load config", "error", err.Error())
	}

	logger := slog.New(logging.NewGoogleCloudLogHandler(
		slog.NewJSONHandler(os.Stdout, nil),
		config.GoogleCloudProject(),
	)).With("instanceID", instanceID)
	logger.Info("Loaded config", "config", config.NonSensitiveString())

	shutdownTelemetry, err := telemetry.SetupOTelSDK(ctx, "chatrelay")
	if err != nil {
		fail("Failed to initialize telemetry", "error", err.Error())
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("Failed to shut down telemetry", "error", err.Error())
		}
	}()
	logger.Info("Initialized telemetry")

	sentryMiddleware, flush, err := reporting.NewSentryMiddlewareOrMock(config)
	if err != nil {
		fail("Failed to initialize Sentry", "error", err.Error())
	}
	defer flush()
	logger.Info("Initialized Sentry middleware")

	logger.Info("Initializing database connection")
	db, err := database.NewCloudsqlPostgresDatabase(config)
	if err != nil {
		fail("Failed to initialize database", "error", err.Error())
	}
	defer db.Close()
	logger.Info("Initialized database connection")

	repositorySchemaName := database.GetSchemaName(!config.IsProduction())

	err = database.NewDatabaseMigrator(db, logger.With("component", "migrator")).Migrate(ctx, repositorySchemaName)
	if err != nil {
		fail("Failed to migrate database", "error", err.Error())
	}

	userRepo := userrepository.NewPostgres(db, repositorySchemaName, time.Now)
	sessionRepo := sessionrepository.NewPostgres(db, repositorySchemaName)
	logger.Info("Initialized repositories")

	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	completions, err := completionprovider.NewOpenRouterOrMock(config, httpClient, time.Now)
	if err != nil {
		fail("Failed to initialize completion provider", "error", err.Error())
	}
	logger.Info("Initialized completion provider")

	service := app.NewAccessService(userRepo, sessionRepo, completions, time.Now, batching.RealAfterFunc)
	go service.RunCleanup(logging.AddToContext(ctx, logger.With("component", "cache-cleanup")), cacheCleanupInterval)

	allowedOrigins, err := ports.NewDomainSuffixes(config.AllowedOrigins()...)
	if err != nil {
		fail("Failed to initialize allowed origins", "error", err.Error())
	}
	if config.IsDevelopment() {
		allowedOrigins = allowedOrigins.WithLocalhost()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("OPTIONS /v1/sessions", ports.BuildCORSHandler(allowedOrigins, http.MethodGet, http.MethodPost))
	mux.HandleFunc("GET /v1/sessions", ports.MakeListSessionsHandler(service, allowedOrigins, logger.With("port", "sessions"), sentryMiddleware))
	mux.HandleFunc("POST /v1/sessions", ports.MakeCreateSessionHandler(service, allowedOrigins, logger.With("port", "createsession"), sentryMiddleware))

	mux.HandleFunc("OPTIONS /v1/sessions/{id}", ports.BuildCORSHandler(allowedOrigins, http.MethodPatch, http.MethodDelete))
	mux.HandleFunc("PATCH /v1/sessions/{id}", ports.MakeRenameSessionHandler(service, allowedOrigins, logger.With("port", "renamesession"), sentryMiddleware))
	mux.HandleFunc("DELETE /v1/sessions/{id}", ports.MakeDeleteSessionHandler(service, allowedOrigins, logger.With("port", "deletesession"), sentryMiddleware))

	mux.HandleFunc("OPTIONS /v1/sessions/{id}/messages", ports.BuildCORSHandler(allowedOrigins, http.MethodGet, http.MethodPut))
	mux.HandleFunc("GET /v1/sessions/{id}/messages", ports.MakeListMessagesHandler(service, allowedOrigins, logger.With("port", "messages"), sentryMiddleware))
	mux.HandleFunc("PUT /v1/sessions/{id}/messages", ports.MakeSaveMessagesHandler(service, allowedOrigins, logger.With("port", "savemessages"), sentryMiddleware))

	mux.HandleFunc("OPTIONS /v1/preferences/active-session", ports.BuildCORSHandler(allowedOrigins, http.MethodGet, http.MethodPut))
	mux.HandleFunc("GET /v1/preferences/active-session", ports.MakeGetActiveSessionHandler(service, allowedOrigins, logger.With("port", "activesession"), sentryMiddleware))
	mux.HandleFunc("PUT /v1/preferences/active-session", ports.MakeSetActiveSessionHandler(service, allowedOrigins, logger.With("port", "setactivesession"), sentryMiddleware))

	mux.HandleFunc("OPTIONS /v1/completions", ports.BuildCORSHandler(allowedOrigins, http.MethodPost))
	mux.HandleFunc("POST /v1/completions", ports.MakeCompletionsHandler(service, allowedOrigins, logger.With("port", "completions"), sentryMiddleware))

	mux.HandleFunc("OPTIONS /v1/cache/stats", ports.BuildCORSHandler(allowedOrigins, http.MethodGet))
	mux.HandleFunc("GET /v1/cache/stats", ports.MakeCacheStatsHandler(service, allowedOrigins, logger.With("port", "cachestats"), sentryMiddleware))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", config.Port()),
		Handler:           otelhttp.NewHandler(mux, "chatrelay"),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			// Requests outlive the shutdown signal until the server is drained
			return context.WithoutCancel(ctx)
		},
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()
	logger.Info("Init complete", "port", config.Port())

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			fail("Server error", "error", err.Error())
		}
	case <-ctx.Done():
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down server", "error", err.Error())
		}
	}

	// Write everything still waiting in a batch window
	service.Shutdown()
	logger.Info("Server shutdown")
}
