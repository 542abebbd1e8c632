// Package order orchestrates the order lifecycle: creation with snapshot
// pricing, status transitions through the state machine, the SLA watch, and
// fan-out of accepted changes to the realtime hub and notification sink.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campus-eats/internal/apperr"
	"campus-eats/internal/catalog"
	"campus-eats/internal/hub"
	"campus-eats/internal/sla"
	"campus-eats/internal/state"
	"campus-eats/internal/store"
	"campus-eats/pkg/logger"
	"campus-eats/pkg/models"

	"github.com/shopspring/decimal"
)

const maxItemsPerOrder = 20

type Notifier interface {
	Send(notification models.Notification) error
}

type Gateway interface {
	Initiate(ctx context.Context, order *models.Order) (redirectURL string, providerRef string, err error)
}

type Service struct {
	store      store.Store
	menu       catalog.MenuReader
	addresses  catalog.AddressReader
	supervisor *sla.Supervisor
	hub        *hub.Hub
	notifier   Notifier
	gateway    Gateway
	logger     *logger.Logger

	deliveryFee decimal.Decimal
	serviceFee  decimal.Decimal
	courierETA  time.Duration
}

type Config struct {
	DeliveryFee float64
	ServiceFee  float64
	CourierETA  time.Duration
}

func NewService(st store.Store, menu catalog.MenuReader, addresses catalog.AddressReader,
	supervisor *sla.Supervisor, h *hub.Hub, notifier Notifier, gateway Gateway,
	cfg Config, log *logger.Logger) *Service {
	s := &Service{
		store:       st,
		menu:        menu,
		addresses:   addresses,
		supervisor:  supervisor,
		hub:         h,
		notifier:    notifier,
		gateway:     gateway,
		logger:      log,
		deliveryFee: decimal.NewFromFloat(cfg.DeliveryFee),
		serviceFee:  decimal.NewFromFloat(cfg.ServiceFee),
		courierETA:  cfg.CourierETA,
	}
	supervisor.Bind(s)
	return s
}

func (s *Service) CreateOrder(ctx context.Context, userID int64, req *models.CreateOrderRequest, requestID string) (*models.CreateOrderResponse, error) {
	if len(req.Items) == 0 {
		return nil, apperr.Validationf("order must contain at least one item")
	}
	if len(req.Items) > maxItemsPerOrder {
		return nil, apperr.Validationf("order must contain at most %d items", maxItemsPerOrder)
	}
	switch req.PaymentMethod {
	case models.PaymentCardOnDelivery, models.PaymentOnlineCard, models.PaymentCash:
	default:
		return nil, apperr.Validationf("unknown payment method %q", req.PaymentMethod)
	}
	if req.Tip < 0 {
		return nil, apperr.Validationf("tip must not be negative")
	}

	addr, err := s.addresses.Address(ctx, req.AddressID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Validationf("address %d does not exist", req.AddressID)
		}
		return nil, err
	}
	if addr.UserID != userID {
		return nil, apperr.Validationf("address %d does not belong to the caller", req.AddressID)
	}

	// Snapshot every line item against the catalog. Prices are frozen
	// here; later menu edits never touch the order.
	subtotal := decimal.Zero
	items := make([]models.OrderItem, 0, len(req.Items))
	for _, line := range req.Items {
		if line.Quantity < 1 {
			return nil, apperr.Validationf("item quantity must be at least 1")
		}
		menuItem, err := s.menu.MenuItem(ctx, line.MenuItemID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return nil, apperr.Validationf("menu item %d does not exist", line.MenuItemID)
			}
			return nil, err
		}
		if menuItem.RestaurantID != req.RestaurantID {
			return nil, apperr.Validationf("menu item %d belongs to another restaurant", line.MenuItemID)
		}
		if !menuItem.Available {
			return nil, apperr.Validationf("menu item %d is not available", line.MenuItemID)
		}

		price := decimal.NewFromFloat(menuItem.Price)
		subtotal = subtotal.Add(price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		items = append(items, models.OrderItem{
			MenuItemID:     menuItem.ID,
			Name:           menuItem.Name,
			Quantity:       line.Quantity,
			UnitPrice:      menuItem.Price,
			Customizations: line.Customizations,
			Notes:          line.Notes,
		})
	}

	tip := decimal.NewFromFloat(req.Tip)
	discount := decimal.Zero
	total := subtotal.Add(s.deliveryFee).Add(s.serviceFee).Add(tip).Sub(discount)

	paymentStatus := models.PaymentStatusPending
	if req.PaymentMethod == models.PaymentCash {
		paymentStatus = models.PaymentStatusCashDue
	}

	order := &models.Order{
		UserID:              userID,
		RestaurantID:        req.RestaurantID,
		AddressID:           req.AddressID,
		Status:              state.StatusPending,
		Subtotal:            subtotal.InexactFloat64(),
		DeliveryFee:         s.deliveryFee.InexactFloat64(),
		ServiceFee:          s.serviceFee.InexactFloat64(),
		Tip:                 tip.InexactFloat64(),
		Discount:            discount.InexactFloat64(),
		Total:               total.InexactFloat64(),
		PaymentMethod:       req.PaymentMethod,
		PaymentStatus:       paymentStatus,
		SpecialInstructions: req.SpecialInstructions,
		Items:               items,
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	s.logger.Debug(requestID, "order_created", fmt.Sprintf("Order %d created, total %.2f", order.ID, order.Total))

	s.supervisor.Watch(order.ID)

	resp := &models.CreateOrderResponse{Order: order}
	if req.PaymentMethod == models.PaymentOnlineCard {
		redirectURL, providerRef, err := s.gateway.Initiate(ctx, order)
		if err != nil {
			// The order stands; the student can retry payment from
			// the order screen.
			s.logger.Error(requestID, "payment_initiation_failed",
				fmt.Sprintf("Payment gateway unavailable for order %d", order.ID), err)
		} else {
			resp.RedirectURL = &redirectURL
			if updated, err := s.store.UpdatePaymentStatus(ctx, order.ID, models.PaymentStatusPending, &providerRef); err != nil {
				s.logger.Error(requestID, "payment_reference_update_failed",
					fmt.Sprintf("Failed to record payment reference for order %d", order.ID), err)
			} else {
				resp.Order = updated
			}
		}
	}

	s.sendAsync(models.Notification{
		Kind:      "receipt",
		OrderID:   order.ID,
		UserID:    order.UserID,
		Total:     order.Total,
		Timestamp: time.Now().UTC(),
	}, requestID)

	return resp, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.store.GetOrder(ctx, orderID)
}

func (s *Service) ListOrdersForUser(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.store.ListOrdersForUser(ctx, userID)
}

func (s *Service) ListOrdersForRestaurant(ctx context.Context, restaurantID int64, statusFilter state.Status) ([]models.Order, error) {
	if statusFilter != "" && !state.Valid(statusFilter) {
		return nil, apperr.Validationf("unknown status %q", statusFilter)
	}
	return s.store.ListOrdersForRestaurant(ctx, restaurantID, statusFilter)
}

func (s *Service) History(ctx context.Context, orderID int64) ([]models.StatusLogEntry, error) {
	if _, err := s.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, orderID)
}

// AckDeadline exposes the server-side auto-cancel deadline for display.
func (s *Service) AckDeadline(orderID int64) (time.Time, bool) {
	return s.supervisor.Deadline(orderID)
}

// Transition applies a human-requested status change and fans the result
// out. The store rejects anything the state machine forbids.
func (s *Service) Transition(ctx context.Context, orderID int64, next state.Status, actor state.Actor, requestID string) (*models.Order, error) {
	if !state.Valid(next) {
		return nil, apperr.Validationf("unknown status %q", next)
	}

	reason := ""
	if next == state.StatusCanceled {
		switch actor {
		case state.ActorStudent:
			reason = models.CancelReasonCustomerRequest
		case state.ActorRestaurant:
			reason = models.CancelReasonRestaurantDecline
		}
	}

	order, err := s.store.ApplyTransition(ctx, orderID, next, actor, reason)
	if err != nil {
		return nil, err
	}

	// The order is out of pending now whatever the target status was;
	// Cancel is a no-op for orders the supervisor no longer tracks.
	s.supervisor.Cancel(orderID)

	if next == state.StatusOutForDelivery {
		eta := time.Now().Add(s.courierETA)
		if err := s.store.SetEstimatedDelivery(ctx, orderID, eta); err != nil {
			s.logger.Error(requestID, "eta_update_failed",
				fmt.Sprintf("Failed to set estimated delivery for order %d", orderID), err)
		} else {
			order.EstimatedDeliveryTime = &eta
		}
	}

	s.publishStatus(order, reason)
	s.sendAsync(models.Notification{
		Kind:      "status_update",
		OrderID:   order.ID,
		UserID:    order.UserID,
		Status:    order.Status,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}, requestID)

	s.logger.Info(requestID, "order_transitioned",
		fmt.Sprintf("Order %d moved to %s by %s", orderID, next, actor))
	return order, nil
}

// ForceCancel is the SLA supervisor's resolver. Losing the race against a
// human transition is the expected benign outcome, not an error.
func (s *Service) ForceCancel(ctx context.Context, orderID int64) error {
	order, err := s.store.ApplyTransition(ctx, orderID, state.StatusCanceled, state.ActorSystem, models.CancelReasonSLAExpired)
	if err != nil {
		if errors.Is(err, state.ErrIllegalTransition) {
			s.logger.Debug("", "auto_cancel_resolved",
				fmt.Sprintf("Order %d was already resolved before the deadline fired", orderID))
			return nil
		}
		return err
	}

	if order.PaymentMethod == models.PaymentOnlineCard {
		if updated, err := s.store.UpdatePaymentStatus(ctx, orderID, models.PaymentStatusRefundPending, nil); err != nil {
			s.logger.Error("", "refund_marking_failed",
				fmt.Sprintf("Failed to mark refund pending for order %d", orderID), err)
		} else {
			order = updated
		}
	}

	s.publishStatus(order, models.CancelReasonSLAExpired)
	s.sendAsync(models.Notification{
		Kind:      "status_update",
		OrderID:   order.ID,
		UserID:    order.UserID,
		Status:    order.Status,
		Reason:    models.CancelReasonSLAExpired,
		Timestamp: time.Now().UTC(),
	}, "")
	return nil
}

func (s *Service) UpdatePayment(ctx context.Context, orderID int64, req *models.UpdatePaymentRequest) (*models.Order, error) {
	switch req.PaymentStatus {
	case models.PaymentStatusPending, models.PaymentStatusCashDue,
		models.PaymentStatusCompleted, models.PaymentStatusRefundPending:
	default:
		return nil, apperr.Validationf("unknown payment status %q", req.PaymentStatus)
	}
	return s.store.UpdatePaymentStatus(ctx, orderID, req.PaymentStatus, req.PaymentID)
}

// Nudge pings the restaurant on the waiting student's behalf, at most once
// per cooldown window. Purely a notification, never a transition.
func (s *Service) Nudge(ctx context.Context, orderID, userID int64, requestID string) error {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.UserID != userID {
		return fmt.Errorf("order %d: %w", orderID, apperr.ErrNotFound)
	}
	if err := s.supervisor.AllowNudge(orderID); err != nil {
		return err
	}
	s.sendAsync(models.Notification{
		Kind:      "nudge",
		OrderID:   orderID,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}, requestID)
	return nil
}

func (s *Service) publishStatus(order *models.Order, reason string) {
	s.hub.Publish(order.ID, models.Event{
		Type:      models.EventStatusChanged,
		OrderID:   order.ID,
		Status:    order.Status,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Service) sendAsync(notification models.Notification, requestID string) {
	go func() {
		if err := s.notifier.Send(notification); err != nil {
			s.logger.Error(requestID, "notification_failed",
				fmt.Sprintf("Failed to send %s notification for order %d", notification.Kind, notification.OrderID), err)
		}
	}()
}
