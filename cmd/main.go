package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"billing-service/internal/config"
	"billing-service/internal/gateway"
	"billing-service/internal/handlers"
	"billing-service/internal/metrics"
	"billing-service/internal/middleware"
	"billing-service/internal/models"
	"billing-service/internal/repository"
	"billing-service/internal/services"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()
	configureLogging(cfg)

	// Connect to database
	db, err := connectDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto-migrate models
	if err := autoMigrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Seed gateway configs (idempotent - safe to run multiple times)
	if err := repository.SeedGatewayConfigs(db); err != nil {
		log.Printf("Warning: Failed to seed gateway configs: %v", err)
	}

	// Initialize repository
	billingRepo := repository.NewBillingRepository(db)

	// Initialize Redis client (optional - webhook dedupe falls back to the
	// retry ledger when Redis is unavailable)
	redisClient := connectRedis(cfg.RedisURL)

	// Build gateway adapters from the seeded configs
	configs, err := billingRepo.ListGatewayConfigs(context.Background())
	if err != nil {
		log.Fatalf("Failed to load gateway configs: %v", err)
	}
	registry := gateway.BuildRegistry(cfg, configs)
	log.Printf("✓ Gateway registry initialized (%d adapters)", len(registry.List()))

	// Initialize services
	apiKeyService := services.NewApiKeyService(billingRepo, cfg)
	if err := apiKeyService.Bootstrap(context.Background()); err != nil {
		log.Printf("Warning: API key bootstrap failed: %v", err)
	}
	invoiceService := services.NewInvoiceService(billingRepo, registry, cfg)
	paymentService := services.NewPaymentService(billingRepo)
	webhookService := services.NewWebhookService(registry, paymentService, billingRepo, redisClient, cfg)
	reportService := services.NewReportService(billingRepo)
	expirationWorker := services.NewExpirationWorker(billingRepo, cfg.ExpirationSweepInterval)

	// Initialize handlers
	invoiceHandler := handlers.NewInvoiceHandler(invoiceService)
	webhookHandler := handlers.NewWebhookHandler(webhookService)
	gatewayHandler := handlers.NewGatewayHandler(billingRepo, db)
	reportHandler := handlers.NewReportHandler(reportService)

	// Setup router
	router := setupRouter(cfg, billingRepo, apiKeyService, invoiceHandler, webhookHandler, gatewayHandler, reportHandler)

	// Start background worker
	expirationWorker.Start()
	log.Println("✓ Expiration worker started")

	srv := &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: router,
	}

	// Run the server until SIGINT/SIGTERM, then drain
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("Billing service starting on %s (env: %s)", srv.Addr, cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down billing-service...")

		expirationWorker.Stop()
		log.Println("✓ Expiration worker stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Billing service stopped")
}

// configureLogging sets the global logrus formatter and level.
func configureLogging(cfg *config.Config) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// connectDatabase establishes a pooled connection to the database
func connectDatabase(cfg *config.Config) (*gorm.DB, error) {
	logLevel := logger.Warn
	if cfg.Environment == "development" {
		logLevel = logger.Info
	}

	// TranslateError surfaces unique violations as gorm.ErrDuplicatedKey,
	// which the repositories map to conflicts.
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.DBPoolMin)
	sqlDB.SetMaxOpenConns(cfg.DBPoolMax)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✓ Connected to database")
	return db, nil
}

// autoMigrate keeps the schema in sync with the model structs
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Invoice{},
		&models.LineItem{},
		&models.InstallmentSchedule{},
		&models.PaymentTransaction{},
		&models.PaymentGatewayConfig{},
		&models.ApiKey{},
		&models.ApiKeyAuditLog{},
		&models.WebhookRetryLog{},
	)
}

// connectRedis dials the optional webhook dedupe cache. Any failure degrades
// to database-only dedupe rather than blocking startup.
func connectRedis(redisURL string) *redis.Client {
	if redisURL == "" {
		return nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("Warning: Failed to parse Redis URL: %v", err)
		log.Println("Continuing without the webhook dedupe cache...")
		return nil
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("Warning: Redis unreachable: %v", err)
		log.Println("Continuing without the webhook dedupe cache...")
		return nil
	}
	log.Println("✓ Redis connected")
	return client
}

// setupRouter configures the HTTP router
func setupRouter(
	cfg *config.Config,
	repo repository.BillingRepositoryInterface,
	apiKeys *services.ApiKeyService,
	invoiceHandler *handlers.InvoiceHandler,
	webhookHandler *handlers.WebhookHandler,
	gatewayHandler *handlers.GatewayHandler,
	reportHandler *handlers.ReportHandler,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	// Request ID + completion logging
	router.Use(middleware.RequestContext())

	// Security headers middleware
	router.Use(middleware.SecurityHeaders())

	// CORS middleware with secure configuration
	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowedOrigins = cfg.AllowedOrigins
	} else {
		// Default for development - in production, set ALLOWED_ORIGINS
		corsConfig.AllowedOrigins = []string{
			"http://localhost:3000",
			"http://localhost:3001",
		}
	}
	router.Use(middleware.CORS(corsConfig))

	// Request validation middleware
	router.Use(middleware.ValidateRequest())

	// Prometheus request metrics
	router.Use(middleware.RequestMetrics())

	limiter := middleware.NewRateLimiter()

	// Health check (no auth, no rate limiting)
	router.GET("/health", gatewayHandler.Health)

	// Prometheus exposition
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Gateway callbacks authenticate by signature, not API key
	webhooks := router.Group("/webhooks")
	webhooks.Use(middleware.IPRateLimit(limiter, webhookIPRateLimit(cfg)))
	{
		webhooks.POST("/:gateway", webhookHandler.HandleGatewayWebhook)
	}

	// Authenticated API
	api := router.Group("/api/v1")
	api.Use(middleware.APIKeyAuth(apiKeys, repo))
	api.Use(middleware.KeyRateLimit(limiter, repo))
	api.Use(middleware.AuditTrail(repo))
	{
		invoices := api.Group("/invoices")
		{
			invoices.POST("", invoiceHandler.CreateInvoice)
			invoices.GET("", invoiceHandler.ListInvoices)
			invoices.GET("/:id", invoiceHandler.GetInvoice)
			invoices.POST("/:id/initiate-payment", invoiceHandler.InitiatePayment)
			invoices.GET("/:id/installments", invoiceHandler.GetInstallments)
			invoices.PATCH("/:id/installments", invoiceHandler.AdjustInstallments)
			invoices.GET("/:id/transactions", invoiceHandler.ListTransactions)
			invoices.GET("/:id/payment-stats", invoiceHandler.GetPaymentStats)
		}

		api.GET("/gateways", gatewayHandler.ListGateways)
		api.GET("/reports/financial", reportHandler.FinancialReport)
	}

	return router
}

// webhookIPRateLimit sizes the per-IP bucket for gateway callbacks. Gateways
// burst on retry storms, so the bucket is a multiple of the per-key default.
func webhookIPRateLimit(cfg *config.Config) int {
	limit := cfg.DefaultRateLimit * 10
	if limit <= 0 {
		limit = 600
	}
	return limit
}
