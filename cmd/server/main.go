package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/shipmate/carrier-webhook-svc/internal/attemptlog"
	"github.com/shipmate/carrier-webhook-svc/internal/config"
	"github.com/shipmate/carrier-webhook-svc/internal/database"
	"github.com/shipmate/carrier-webhook-svc/internal/handlers"
	"github.com/shipmate/carrier-webhook-svc/internal/logger"
	"github.com/shipmate/carrier-webhook-svc/internal/notify"
	"github.com/shipmate/carrier-webhook-svc/internal/orders"
	"github.com/shipmate/carrier-webhook-svc/internal/processor"
	"github.com/shipmate/carrier-webhook-svc/internal/rabbitmq"
	"github.com/shipmate/carrier-webhook-svc/internal/retryqueue"
	"github.com/shipmate/carrier-webhook-svc/internal/routes"
	"github.com/shipmate/carrier-webhook-svc/internal/scheduler"
	"github.com/shipmate/carrier-webhook-svc/internal/secrets"
	"github.com/shipmate/carrier-webhook-svc/internal/verifier"
)

func main() {
	log, err := logger.Init(os.Getenv("LOG_LEVEL"))
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync(log)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	// Connect to PostgreSQL
	db, err := database.Connect(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, log); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	if err := database.RunMigrations(&cfg.Database, log); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Optional status-change notifier
	var rabbitConn *rabbitmq.Connection
	var notifier notify.Notifier = notify.Nop{}
	if cfg.RabbitMQ.Enabled() {
		rabbitConn = rabbitmq.NewConnection(cfg.RabbitMQ.URL, log)
		if err := rabbitConn.Connect(); err != nil {
			log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer rabbitConn.Close()
		notifier = notify.NewAMQP(rabbitConn, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey, log)
	} else {
		log.Info("RabbitMQ not configured, status-change notifications disabled")
	}

	// Pipeline components
	orderStore := orders.NewGormStore(db)
	secretStore := secrets.NewStatic(cfg.Webhook.Secret)
	attempts := attemptlog.New(db, log)
	queue := retryqueue.New(db, log, cfg.Retry.MaxRetries, cfg.Retry.BaseDelay)
	proc := processor.New(orderStore, notifier, log)
	verify := verifier.New(log)

	sched := scheduler.New(queue, proc, attempts, cfg.Retry, log)
	if err := sched.Start(); err != nil {
		log.Fatal("Failed to start retry scheduler", zap.Error(err))
	}
	defer sched.Stop()

	webhookHandler := handlers.NewWebhookHandler(
		verify, attempts, proc, queue, orderStore, secretStore,
		cfg.Webhook.SignatureHeader, log,
	)
	adminHandler := handlers.NewAdminHandler(queue, attempts, sched, cfg.Retry, log)
	healthHandler := handlers.NewHealthHandler(db, rabbitConn)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Carrier Webhook Service",
		ServerHeader: "Fiber",
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	routes.SetupRoutes(app, webhookHandler, adminHandler, healthHandler)

	// Start server in a goroutine
	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		log.Info("Server starting",
			zap.String("address", addr),
		)
		if err := app.Listen(addr); err != nil {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		log.Error("Error during server shutdown", zap.Error(err))
	}

	sched.Stop()

	log.Info("Server stopped")
}
