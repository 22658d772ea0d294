package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/lammesen/netops-be/internal/aggregator"
	"github.com/lammesen/netops-be/internal/api/handler"
	"github.com/lammesen/netops-be/internal/api/router"
	"github.com/lammesen/netops-be/internal/channel"
	"github.com/lammesen/netops-be/internal/config"
	"github.com/lammesen/netops-be/internal/device"
	"github.com/lammesen/netops-be/internal/dispatcher"
	"github.com/lammesen/netops-be/internal/executor"
	"github.com/lammesen/netops-be/internal/store"
	"github.com/lammesen/netops-be/shared/logger"
	"github.com/lammesen/netops-be/shared/postgresql"
	"github.com/lammesen/netops-be/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("JOBS_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	appLogger.Info("Starting jobs service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	// Load device inventory
	inventory, err := device.LoadStaticInventory(cfg.Inventory.Path)
	if err != nil {
		return fmt.Errorf("failed to load inventory: %w", err)
	}

	// Wire the engine: store -> live channel -> aggregator -> executor pool
	// -> dispatcher. Everything shares one hub so API subscribers see the
	// executors' events directly.
	jobStore := store.NewPostgres(dbClient, appLogger)
	hub := channel.NewHub(cfg.Channel.Buffer, cfg.Channel.ReclaimAfter, appLogger)
	agg := aggregator.New(appLogger, jobStore, hub)
	pool := executor.NewPool(&executor.Config{
		Logger:            appLogger,
		Hub:               hub,
		Aggregator:        agg,
		Automation:        &device.SimulatedAutomation{},
		GlobalConcurrency: cfg.Executor.GlobalConcurrency,
		PerJobConcurrency: cfg.Executor.PerJobConcurrency,
		HostTimeout:       cfg.Executor.HostTimeout,
	})
	disp := dispatcher.New(&dispatcher.Config{
		Logger:      appLogger,
		Store:       jobStore,
		Queue:       rabbitClient,
		Inventory:   inventory,
		Aggregator:  agg,
		Pool:        pool,
		Hub:         hub,
		RetryWindow: cfg.Dispatcher.RetryWindow,
	})
	defer disp.Stop()

	// Re-arm scheduled jobs and re-publish queued ones left over from a
	// previous run.
	recoverCtx, cancelRecover := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	err = disp.Recover(recoverCtx)
	cancelRecover()
	if err != nil {
		return fmt.Errorf("failed to recover pending jobs: %w", err)
	}

	// Start the dispatch consumer
	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	defer cancelConsumer()

	consumer := dispatcher.NewConsumer(appLogger, rabbitClient, disp, cfg.App.Name, cfg.RabbitMQ.Consumer.PrefetchCount)
	go func() {
		if err := consumer.Run(consumerCtx); err != nil {
			appLogger.Error("Dispatch consumer exited",
				slog.Any("error", err),
			)
		}
	}()

	// Initialize router
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := router.SetupRouter(&handler.Dependencies{
		Logger:  appLogger,
		Store:   jobStore,
		Control: disp,
		Hub:     hub,
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("Jobs service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")

	// Stop taking API and queue work, then let in-flight host executors
	// drain before the hub and connections go away.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	cancelConsumer()
	disp.Stop()
	pool.Wait()
	hub.Close()

	appLogger.Info("Shutdown complete")
	return nil
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
