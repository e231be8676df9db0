package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/martacalvinho/buddy-billing/internal"
	"github.com/martacalvinho/buddy-billing/internal/auth"
	"github.com/martacalvinho/buddy-billing/internal/billing"
	"github.com/martacalvinho/buddy-billing/internal/email"
	"github.com/martacalvinho/buddy-billing/internal/handler/api"
	"github.com/martacalvinho/buddy-billing/internal/handler/webhook"
	"github.com/martacalvinho/buddy-billing/internal/middleware"
	"github.com/martacalvinho/buddy-billing/internal/postgres"
	"github.com/martacalvinho/buddy-billing/internal/router"
	"github.com/martacalvinho/buddy-billing/internal/routes"
	"github.com/martacalvinho/buddy-billing/internal/service"
	"github.com/martacalvinho/buddy-billing/internal/telemetry"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize Sentry error tracking
	sentryFlush, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:              cfg.Sentry.DSN,
		Enabled:          cfg.Sentry.Enabled,
		Environment:      cfg.Sentry.Environment,
		Release:          cfg.Sentry.Release,
		SampleRate:       cfg.Sentry.SampleRate,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		Debug:            cfg.Sentry.Debug,
	}, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer sentryFlush()

	// Register business metrics
	telemetry.InitBusinessMetrics("buddy")

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	// Verify database connection
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection established")

	// Run migrations
	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	// Initialize subscription store
	store := postgres.NewSubscriptionStore(pool)

	// Initialize Stripe billing provider
	logger.Info("Initializing Stripe billing provider...")
	stripeConfig := billing.StripeConfig{
		APIKey:        cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
	}
	billingProvider, err := billing.NewStripeProvider(stripeConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize Stripe provider: %w", err)
	}
	logger.Info("Stripe billing provider initialized", "test_mode", stripeConfig.IsTestMode())

	// Initialize Supabase auth client
	authProvider, err := auth.NewSupabaseClient(cfg.Supabase.URL, cfg.Supabase.AnonKey, cfg.Supabase.ServiceKey, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize auth client: %w", err)
	}

	// Initialize email delivery
	var notifier email.Notifier
	if cfg.Email.Enabled {
		sender := email.NewSMTPSender(&email.SMTPConfig{
			Host:     cfg.Email.Host,
			Port:     int(cfg.Email.Port),
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			FromName: cfg.Email.FromName,
		})
		notifier = email.NewNotifier(sender, email.NotifierConfig{
			AppName:    cfg.Email.FromName,
			From:       cfg.Email.From,
			BillingURL: cfg.AppURL + "/settings/billing",
		}, logger)
		logger.Info("Email notifications enabled", "host", cfg.Email.Host)
	} else {
		notifier = &email.NoopNotifier{}
		logger.Info("Email notifications disabled")
	}

	// Initialize services
	billingService := service.NewBillingService(store, billingProvider, service.CheckoutConfig{
		ProPriceID:      cfg.Stripe.ProPriceID,
		TrialDays:       cfg.Stripe.TrialDays,
		// The billing provider appends the session_id placeholder itself.
		SuccessURL:      cfg.AppURL + "/billing/success",
		CancelURL:       cfg.AppURL + "/pricing",
		PortalReturnURL: cfg.AppURL + "/settings/billing",
	}, logger)
	reconciler := service.NewReconciler(store, billingProvider, notifier, logger)
	accountService := service.NewAccountService(store, billingProvider, authProvider, notifier, logger)

	// Webhook dependencies
	stripeWebhookHandler := webhook.NewStripeHandler(billingProvider, reconciler, webhook.StripeWebhookConfig{
		WebhookSecret: cfg.Stripe.WebhookSecret,
	}, logger)

	// ==========================================================================
	// Initialize middleware and routes
	// ==========================================================================

	// Initialize Prometheus metrics
	metrics := middleware.NewMetrics("buddy")

	r := router.New(
		middleware.RequestID,
		metrics.Middleware,
		middleware.MaxBodySize(middleware.SmallMaxBodySize),
		middleware.Timeout(middleware.DefaultTimeout),
		middleware.WithRequestLogger(logger),
		telemetry.SentryMiddleware(),
		router.CORS([]string{cfg.AppURL}),
		router.Logger(logger),
	)

	routes.RegisterWebhookRoutes(r, routes.WebhookDeps{
		StripeHandler: stripeWebhookHandler.HandleWebhook,
	})

	routes.RegisterAPIRoutes(r, routes.APIDeps{
		BillingHandler: api.NewBillingHandler(billingService, logger),
		AccountHandler: api.NewAccountHandler(accountService, logger),
		AuthProvider:   authProvider,
	})

	routes.RegisterSystemRoutes(r, routes.SystemDeps{
		HealthHandler:  healthHandler(pool),
		MetricsHandler: metrics.Handler(),
	})

	// ==========================================================================
	// Start server
	// ==========================================================================

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("Starting server", "address", addr, "env", cfg.Env)

	if err := http.ListenAndServe(addr, r); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// healthHandler reports readiness. A failed database ping means the
// process is up but cannot serve, so the orchestrator should hold traffic.
func healthHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
