package api

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"campus-eats/internal/catalog"
	"campus-eats/internal/config"
	"campus-eats/internal/handler"
	"campus-eats/internal/hub"
	"campus-eats/internal/notify"
	"campus-eats/internal/order"
	"campus-eats/internal/payment"
	"campus-eats/internal/sla"
	"campus-eats/internal/store"
	"campus-eats/pkg/db"
	"campus-eats/pkg/logger"
	"campus-eats/pkg/rabbitmq"
)

const shutdownTimeout = 10 * time.Second

func Main() {
	log := logger.NewLogger("api")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Error("startup", "config_load_failed", "Failed to load configuration", err)
		os.Exit(1)
	}

	dbPool, err := db.ConnectDB(&cfg.Database, log)
	if err != nil {
		log.Error("startup", "db_connection_failed", "Failed to connect to PostgreSQL", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// The broker is a convenience sink; the API runs degraded without it.
	var notifier order.Notifier = notify.Noop{}
	rmq, err := rabbitmq.ConnectRabbitMQ(&cfg.RabbitMQ, log)
	if err != nil {
		log.Error("startup", "rabbitmq_connection_failed", "RabbitMQ unavailable, notifications disabled", err)
	} else {
		defer rmq.Close()
		notifier = notify.NewRabbitNotifier(rmq, log)
	}

	orderStore := store.NewPostgres(dbPool, log)
	readers := catalog.NewPostgresReader(dbPool)
	broadcastHub := hub.New(log)
	supervisor := sla.New(cfg.AckWindow, cfg.NudgeCooldown, log)
	defer supervisor.Stop()
	gateway := payment.NewHostedCheckout(os.Getenv("PAYMENT_GATEWAY_URL"))

	svc := order.NewService(orderStore, readers, readers, supervisor, broadcastHub, notifier, gateway,
		order.Config{
			DeliveryFee: cfg.DeliveryFee,
			ServiceFee:  cfg.ServiceFee,
			CourierETA:  cfg.CourierETA,
		}, log)

	h := handler.NewOrderHandler(svc, hub.NewWSHandler(broadcastHub, log), log)
	server := handler.SetupRoutes(h, []byte(cfg.JWTSecret))

	go func() {
		log.Info("startup", "server_started", "API listening on port "+cfg.HTTPPort)
		if err := server.Run(cfg.HTTPPort); err != nil {
			log.Error("startup", "server_stopped", "HTTP server stopped", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutdown", "graceful_shutdown", "Received shutdown signal")
	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown", "shutdown_failed", "Failed to shut down cleanly", err)
	}
}
