// Package notificationsubscriber consumes the notifications fanout and
// renders receipts, nudges and status updates. It is the delivery side of
// the fire-and-forget sink; losing a message here never affects order state.
package notificationsubscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"campus-eats/internal/config"
	"campus-eats/pkg/logger"
	"campus-eats/pkg/models"
	"campus-eats/pkg/rabbitmq"
)

type NotificationSubscriber struct {
	config   *config.Config
	logger   *logger.Logger
	rabbitMQ *rabbitmq.RabbitMQ
}

func NewNotificationSubscriber(cfg *config.Config, logger *logger.Logger) *NotificationSubscriber {
	return &NotificationSubscriber{
		config: cfg,
		logger: logger,
	}
}

func (s *NotificationSubscriber) Start(ctx context.Context) error {
	rmq, err := rabbitmq.ConnectRabbitMQ(&s.config.RabbitMQ, s.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	s.rabbitMQ = rmq

	// Each subscriber gets its own server-named exclusive queue on the
	// fanout, so multiple consoles can listen at once.
	q, err := rmq.Channel.QueueDeclare(
		"",    // name (let server generate)
		false, // durable
		false, // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = rmq.Channel.QueueBind(
		q.Name,                         // queue name
		"",                             // routing key
		rabbitmq.NotificationsExchange, // exchange
		false,                          // no-wait
		nil,                            // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	messages, err := rmq.Channel.Consume(
		q.Name, // queue
		"",     // consumer
		true,   // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	s.logger.Info("startup", "subscriber_started", "Notification subscriber started successfully")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			if err := s.processMessage(msg.Body); err != nil {
				s.logger.Error("message_processing", "process_failed", "Failed to process message", err)
			}
		}
	}
}

func (s *NotificationSubscriber) processMessage(messageBytes []byte) error {
	var notification models.Notification
	if err := json.Unmarshal(messageBytes, &notification); err != nil {
		return err
	}

	display(&notification)

	s.logger.Debug("message_processing", "notification_displayed",
		fmt.Sprintf("Displayed %s notification for order %d", notification.Kind, notification.OrderID))
	return nil
}

func display(n *models.Notification) {
	when := n.Timestamp.Format(time.RFC3339)
	switch n.Kind {
	case "receipt":
		fmt.Printf("Receipt for order %d: total %.2f at %s\n", n.OrderID, n.Total, when)
	case "status_update":
		msg := fmt.Sprintf("Order %d is now '%s' at %s", n.OrderID, n.Status, when)
		if n.Reason != "" {
			msg += fmt.Sprintf(" (%s)", n.Reason)
		}
		fmt.Println(msg)
	case "nudge":
		fmt.Printf("Customer of order %d is asking the restaurant to respond (%s)\n", n.OrderID, when)
	default:
		fmt.Printf("Notification for order %d: %s at %s\n", n.OrderID, n.Kind, when)
	}
}

func (s *NotificationSubscriber) Stop() {
	if s.rabbitMQ != nil {
		s.rabbitMQ.Close()
	}
}
