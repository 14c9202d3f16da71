/**
 * @description
 * This is the main entry point for the ledger-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the account-service client, the RabbitMQ producer, repositories,
 * the core application services, the background job scheduler, and the HTTP
 * server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log/slog, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/jobs, internal/store: Internal packages for the service.
 * - pkg/accountclient: Client for the account-service internal API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corebank/ledger-service/internal/api"
	"github.com/corebank/ledger-service/internal/app"
	"github.com/corebank/ledger-service/internal/config"
	"github.com/corebank/ledger-service/internal/jobs"
	"github.com/corebank/ledger-service/internal/store"
	"github.com/corebank/ledger-service/pkg/accountclient"
	"github.com/corebank/ledger-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.AccountServiceURL) == "" {
		logger.Error("account service url must be configured", "env", "ACCOUNT_SERVICE_URL")
		os.Exit(1)
	}

	logger.Info("starting ledger-service", "port", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("database url parse failed", "error", err)
		os.Exit(1)
	}

	// Configure connection pool for high-traffic scenarios.
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Initialize the RabbitMQ producer. The outbox sweep cannot run without it,
	// and losing events silently is worse than refusing to boot.
	rabbitProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		logger.Error("rabbitmq producer init failed", "error", err)
		os.Exit(1)
	}
	defer rabbitProducer.Close()
	logger.Info("rabbitmq producer connected")

	// Initialize the client for the account-service internal API.
	accountClient := accountclient.NewClient(
		cfg.AccountServiceURL,
		cfg.AccountServiceAPIKey,
		time.Duration(cfg.AccountCallTimeoutSecs)*time.Second,
	)

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application services with their dependencies.
	ledgerService := app.NewService(repository, accountClient, logger, cfg.DefaultCurrency)
	orchestrator := app.NewSagaOrchestrator(repository, accountClient, logger, ledgerService)
	outboxPublisher := app.NewOutboxPublisher(repository, rabbitProducer, logger, cfg.EventExchange, cfg.OutboxBatchSize)

	// Start the background job scheduler (outbox sweep, stuck saga report).
	scheduler := jobs.NewScheduler(outboxPublisher, repository, logger, cfg)
	scheduler.Start()

	// Initialize the API handlers and router.
	handlers := api.NewLedgerHandlers(ledgerService, orchestrator, logger, cfg.DefaultPageSize, cfg.MaxPageSize)
	router := api.LedgerRoutes(handlers)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", "addr", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	// Let in-flight cron jobs finish before closing connections.
	<-scheduler.Stop().Done()

	logger.Info("shutdown complete")
}
