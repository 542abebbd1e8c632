// Package store is the durable home of orders and order items. It is the
// only writer of order status; every status change goes through
// ApplyTransition, which checks the state machine and applies the update
// atomically against the currently stored status.
package store

import (
	"context"
	"time"

	"campus-eats/internal/state"
	"campus-eats/pkg/models"
)

type Store interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	ListOrdersForUser(ctx context.Context, userID int64) ([]models.Order, error)
	ListOrdersForRestaurant(ctx context.Context, restaurantID int64, statusFilter state.Status) ([]models.Order, error)

	// ApplyTransition moves the order to next if the state machine allows
	// it for actor, using a compare-and-set against the current status so
	// two concurrent requests can never both win from the same state.
	ApplyTransition(ctx context.Context, orderID int64, next state.Status, actor state.Actor, reason string) (*models.Order, error)

	UpdatePaymentStatus(ctx context.Context, orderID int64, status models.PaymentStatus, reference *string) (*models.Order, error)
	SetEstimatedDelivery(ctx context.Context, orderID int64, eta time.Time) error
	History(ctx context.Context, orderID int64) ([]models.StatusLogEntry, error)
}
