package main

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"
	"github.com/joho/godotenv"

	"drivesync/database"
	"drivesync/infrastructure/config"
	"drivesync/infrastructure/factories"
	"drivesync/interfaces/web/handlers"
	"drivesync/interfaces/web/presenters"
	"drivesync/logging"
)

func main() {
	// Create app-wide context for graceful shutdown
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	loadEnvironment()
	cfg := config.LoadAppConfigFromEnv()

	logger := initializeLogging(cfg)

	db := initializeDatabase(cfg, logger)
	defer db.Close()

	deps := buildDependencies(appCtx, cfg, db, logger)

	recoverJobs(appCtx, deps, cfg)
	go func() {
		if err := deps.Engine.Scheduler.Run(appCtx); err != nil && err != context.Canceled {
			logger.Error("Scheduler stopped unexpectedly", "error", err)
		}
	}()

	router := setupRoutes(deps, cfg)
	startServer(router, cfg.HTTPAddr, logger, deps, appCancel)
}

// PresentationLayer groups all presentation components
type PresentationLayer struct {
	JobPresenter   *presenters.JobPresenter
	DrivePresenter *presenters.DrivePresenter

	WebhookHandlers *handlers.WebhookHandlers
	TenantHandlers  *handlers.TenantHandlers
	JobHandlers     *handlers.JobHandlers
	SSEManager      *handlers.SSEManager
}

// Dependencies holds all application dependencies organized by layer
type Dependencies struct {
	DB     *database.Database
	Logger *logging.Logger

	Remote *factories.Remote
	Engine *factories.Engine

	Presentation *PresentationLayer
}

func loadEnvironment() {
	if err := godotenv.Load(); err != nil {
		println("No .env file found, using environment variables")
	} else {
		println("Loaded configuration from .env file")
	}
}

func initializeLogging(cfg *config.AppConfig) *logging.Logger {
	logger := logging.NewLogger(cfg.Logging)
	logging.SetDefault(logger)

	logger.Info("Application starting",
		"version", "1.0.0",
		"log_level", cfg.Logging.Level,
		"log_format", cfg.Logging.Format,
		"db_path", cfg.Database.Path,
		"cursor_store", redactDSN(cfg.CursorStoreDSN),
	)

	return logger
}

// redactDSN hides the password of a postgres cursor store DSN.
func redactDSN(dsn string) string {
	if dsn == "" {
		return "sqlite"
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "invalid"
	}
	return parsed.Redacted()
}

func initializeDatabase(cfg *config.AppConfig, logger *logging.Logger) *database.Database {
	db, err := database.New(*cfg.Database, logger)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	return db
}

// buildPresentationLayer creates all presenters and handlers
func buildPresentationLayer(appCtx context.Context, engine *factories.Engine) *PresentationLayer {
	jobPresenter := presenters.NewJobPresenter()
	drivePresenter := presenters.NewDrivePresenter()

	sseManager := handlers.NewSSEManager(appCtx, jobPresenter)
	sseManager.Subscribe(engine.EventBus)

	return &PresentationLayer{
		JobPresenter:    jobPresenter,
		DrivePresenter:  drivePresenter,
		WebhookHandlers: handlers.NewWebhookHandlers(engine.Notifications),
		TenantHandlers:  handlers.NewTenantHandlers(engine.TenantService, engine.Coordinator, drivePresenter, jobPresenter),
		JobHandlers:     handlers.NewJobHandlers(engine.Coordinator, jobPresenter),
		SSEManager:      sseManager,
	}
}

// buildDependencies connects remote systems and wires the engine and the HTTP layer.
func buildDependencies(appCtx context.Context, cfg *config.AppConfig, db *database.Database, logger *logging.Logger) *Dependencies {
	remote, err := factories.BuildRemote(appCtx, cfg, logger)
	if err != nil {
		logger.Error("Failed to connect remote services", "error", err)
		os.Exit(1)
	}

	engine, err := factories.NewEngine(cfg, db, remote)
	if err != nil {
		remote.Close()
		logger.Error("Failed to build sync engine", "error", err)
		os.Exit(1)
	}

	return &Dependencies{
		DB:           db,
		Logger:       logger,
		Remote:       remote,
		Engine:       engine,
		Presentation: buildPresentationLayer(appCtx, engine),
	}
}

// recoverJobs fails jobs a previous process left running. The scheduler's first round
// resumes their drives from the checkpoints.
func recoverJobs(ctx context.Context, deps *Dependencies, cfg *config.AppConfig) {
	if !cfg.Scheduler.ResumeOnStartup {
		return
	}
	recovered, err := deps.Engine.Coordinator.RecoverInterruptedJobs(ctx)
	if err != nil {
		deps.Logger.Error("Failed to recover interrupted jobs", "error", err)
		return
	}
	if recovered > 0 {
		deps.Logger.Info("Recovered interrupted jobs", "count", recovered)
	}
}

func setupRoutes(deps *Dependencies, cfg *config.AppConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(handlers.RequestID)
	setupHTTPLogging(r, deps, cfg)
	r.Use(middleware.Recoverer)

	setupSystemRoutes(r, deps)
	setupWebhookRoutes(r, deps)
	setupAdminRoutes(r, deps)

	return r
}

func setupHTTPLogging(r *chi.Mux, deps *Dependencies, cfg *config.AppConfig) {
	if cfg.HTTPLogPath == "" {
		return
	}

	logFile, err := os.OpenFile(cfg.HTTPLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		deps.Logger.Error("Failed to open HTTP log file", "error", err, "path", cfg.HTTPLogPath)
		return
	}
	// Note: logFile is not closed here as it needs to stay open for the server lifetime

	httpLogger := httplog.NewLogger("drivesync", httplog.Options{
		Writer:  logFile,
		JSON:    true,
		Concise: true,
	})
	r.Use(httplog.RequestLogger(httpLogger))

	deps.Logger.Info("HTTP request logging enabled", "path", cfg.HTTPLogPath)
}

func setupSystemRoutes(r *chi.Mux, deps *Dependencies) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.DB.Health(r.Context())
		if err != nil {
			handlers.RenderError(w, http.StatusInternalServerError, err.Error())
			return
		}
		handlers.RenderJSON(w, http.StatusOK, map[string]any{
			"status":       "ok",
			"database":     stats,
			"running_jobs": len(deps.Engine.Coordinator.RunningJobs()),
		})
	})

	r.Get("/events", deps.Presentation.SSEManager.HandleSSEConnection)
}

func setupWebhookRoutes(r *chi.Mux, deps *Dependencies) {
	// Change and lifecycle notifications share the handler; the payload says which is which.
	r.Post("/webhooks/graph", deps.Presentation.WebhookHandlers.Receive)
	r.Post("/webhooks/graph/lifecycle", deps.Presentation.WebhookHandlers.Receive)
}

func setupAdminRoutes(r *chi.Mux, deps *Dependencies) {
	tenants := deps.Presentation.TenantHandlers
	r.Get("/tenants", tenants.ListTenants)
	r.Get("/tenants/{tenantID}/drives", tenants.ListDrives)
	r.Post("/tenants/{tenantID}/drives", tenants.RegisterDrive)
	r.Post("/tenants/{tenantID}/sites/{siteID}", tenants.RegisterSite)
	r.Post("/tenants/{tenantID}/sites/{siteID}/drives/{driveID}/sync", tenants.SyncDrive)
	r.Post("/tenants/{tenantID}/uninstall", tenants.Uninstall)

	jobs := deps.Presentation.JobHandlers
	r.Get("/jobs", jobs.ListJobs)
	r.Get("/jobs/{jobID}", jobs.GetJobStatus)
	r.Post("/jobs/{jobID}/cancel", jobs.CancelJob)
}

func startServer(router *chi.Mux, addr string, logger *logging.Logger, deps *Dependencies, appCancel context.CancelFunc) {
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverCtx, serverStopCtx := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sig
		logger.Info("Shutdown signal received")

		// Cancel app-wide context first to stop the scheduler and keep-alives
		appCancel()
		deps.Presentation.SSEManager.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(serverCtx, 30*time.Second)
		defer cancel()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				logger.Error("Graceful shutdown timed out, forcing exit")
				os.Exit(1)
			}
		}()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}

		// Running passes stop at their next step boundary; checkpoints stay where they were.
		if err := deps.Engine.Shutdown(shutdownCtx); err != nil {
			logger.Error("Engine shutdown error", "error", err)
		}
		serverStopCtx()
	}()

	logger.Info("Server starting", "address", addr)
	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}

	<-serverCtx.Done()
	logger.Info("Server stopped")
}
