// Package notify is the fire-and-forget notification sink. Receipts, status
// updates and nudges are published to the notifications fanout; a publish
// failure never blocks or fails the operation that triggered it.
package notify

import (
	"encoding/json"
	"fmt"

	"campus-eats/pkg/logger"
	"campus-eats/pkg/models"
	"campus-eats/pkg/rabbitmq"
)

type Notifier interface {
	Send(notification models.Notification) error
}

type RabbitNotifier struct {
	rabbitMQ *rabbitmq.RabbitMQ
	logger   *logger.Logger
}

func NewRabbitNotifier(rabbitMQ *rabbitmq.RabbitMQ, logger *logger.Logger) *RabbitNotifier {
	return &RabbitNotifier{
		rabbitMQ: rabbitMQ,
		logger:   logger,
	}
}

func (n *RabbitNotifier) Send(notification models.Notification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	if err := n.rabbitMQ.PublishMessage(rabbitmq.NotificationsExchange, "", body); err != nil {
		return err
	}
	n.logger.Debug("", "notification_published",
		fmt.Sprintf("Published %s notification for order %d", notification.Kind, notification.OrderID))
	return nil
}

// Noop drops notifications, for setups running without a broker.
type Noop struct{}

func (Noop) Send(models.Notification) error { return nil }
