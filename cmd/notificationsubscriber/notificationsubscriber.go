package notificationsubscriber

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"campus-eats/internal/config"
	"campus-eats/internal/notificationsubscriber"
	"campus-eats/pkg/logger"
)

func Main() {
	serviceLogger := logger.NewLogger("notification-subscriber")
	serviceLogger.Info("startup", "service_started", "Notification Subscriber starting")

	cfg, err := config.LoadConfig()
	if err != nil {
		serviceLogger.Error("startup", "config_load_failed", "Failed to load configuration", err)
		log.Fatal(err)
	}

	notifSubscriber := notificationsubscriber.NewNotificationSubscriber(cfg, serviceLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := notifSubscriber.Start(ctx); err != nil {
			serviceLogger.Error("startup", "subscribe_start_failed", "Failed to start subscriber", err)
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	serviceLogger.Info("shutdown", "graceful_shutdown", "Shutting down subscriber...")
	cancel()
	notifSubscriber.Stop()

	serviceLogger.Info("shutdown", "service_stopped", "Subscriber exiting")
}
