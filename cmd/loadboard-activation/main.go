package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"loadboard-activation-go/internal/config"
	"loadboard-activation-go/internal/handlers"
	"loadboard-activation-go/internal/mailbox"
	"loadboard-activation-go/internal/metrics"
	"loadboard-activation-go/internal/models"
	"loadboard-activation-go/internal/poller"
	"loadboard-activation-go/internal/service"
	"loadboard-activation-go/internal/store"
	"loadboard-activation-go/internal/vault"
)

func main() {
	// Configure logging
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Loadboard Activation Service")

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}

	db, err := initDatabase(cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize the two authenticated-encryption services
	credKey, err := cfg.Vault.CredentialMasterKey()
	if err != nil {
		logrus.Fatalf("Failed to decode credential vault key: %v", err)
	}
	credVault, err := vault.NewCredentialVault(credKey)
	if err != nil {
		logrus.Fatalf("Failed to create credential vault: %v", err)
	}
	generalKey, err := cfg.Vault.GeneralMasterKey()
	if err != nil {
		logrus.Fatalf("Failed to decode general vault key: %v", err)
	}
	generalVault, err := vault.NewGeneralVault(generalKey)
	if err != nil {
		logrus.Fatalf("Failed to create general vault: %v", err)
	}

	// Initialize metrics
	m := metrics.NewMetrics()

	// Initialize reply fetcher
	var fetcher mailbox.ReplyFetcher
	if cfg.Mailbox.UseIMAP {
		fetcher, err = mailbox.NewIMAPFetcher(&cfg.Mailbox)
		if err != nil {
			logrus.Fatalf("Failed to create IMAP fetcher: %v", err)
		}
		logrus.Info("Using IMAP for reply fetching")
	} else {
		fetcher, err = mailbox.NewGmailFetcher(&cfg.Mailbox)
		if err != nil {
			logrus.Fatalf("Failed to create Gmail fetcher: %v", err)
		}
		logrus.Info("Using Gmail API for reply fetching")
	}

	// Wire the activation pipeline
	svc := service.NewActivationService(db, credVault, generalVault)
	ledger := store.NewLedgerStore(db)
	failures := store.NewFailureStore(db)
	outbox := store.NewOutboxStore(db)

	p := poller.NewPoller(&cfg.Scheduler, fetcher, svc, ledger, failures, m)

	h := handlers.NewHandlers(db, svc, outbox, p)

	router := setupRouter(h)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := p.Start(); err != nil {
		logrus.Fatalf("Failed to start poller: %v", err)
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.Stop(); err != nil {
		logrus.Errorf("Failed to stop poller: %v", err)
	}
	p.Wait()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	if err := fetcher.Close(); err != nil {
		logrus.Errorf("Failed to close fetcher: %v", err)
	}

	logrus.Info("Server stopped gracefully")
}

// initDatabase initializes the database connection and runs migrations
func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormLogger := logger.New(
		logrus.StandardLogger(),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(mysql.Open(cfg.GetDSN()), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logrus.Info("Database initialized successfully")
	return db, nil
}

// runMigrations runs database migrations and seeds the vendor catalog
func runMigrations(db *gorm.DB) error {
	logrus.Info("Running database migrations...")

	if err := db.AutoMigrate(
		&models.Company{},
		&models.Vendor{},
		&models.Integration{},
		&models.GlobalCredential{},
		&models.ProcessedMessage{},
		&models.OutboxEmail{},
		&models.MessageFailure{},
	); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}

	if err := store.NewCatalogStore(db).Seed(); err != nil {
		return fmt.Errorf("failed to seed vendor catalog: %w", err)
	}

	logrus.Info("Database migrations completed")
	return nil
}

// setupRouter sets up the HTTP router with middleware
func setupRouter(h *handlers.Handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware())

	h.SetupRoutes(router)
	return router
}

// loggerMiddleware adds logging middleware
func loggerMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	})
}
