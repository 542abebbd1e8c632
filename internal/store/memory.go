package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"campus-eats/internal/apperr"
	"campus-eats/internal/state"
	"campus-eats/pkg/models"
)

// Memory is an in-process Store with the same compare-and-set transition
// semantics as the Postgres implementation. Unit tests run against it.
type Memory struct {
	mu        sync.Mutex
	orders    map[int64]*models.Order
	history   map[int64][]models.StatusLogEntry
	nextID    int64
	nextLogID int64
}

func NewMemory() *Memory {
	return &Memory{
		orders:  make(map[int64]*models.Order),
		history: make(map[int64][]models.StatusLogEntry),
	}
}

func (s *Memory) CreateOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	order.ID = s.nextID
	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now
	for i := range order.Items {
		order.Items[i].ID = int64(i + 1)
		order.Items[i].OrderID = order.ID
	}

	clone := cloneOrder(order)
	s.orders[order.ID] = clone
	s.appendLog(order.ID, order.Status, string(state.ActorStudent), nil)
	return nil
}

func (s *Memory) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, apperr.ErrNotFound)
	}
	return cloneOrder(order), nil
}

func (s *Memory) ListOrdersForUser(ctx context.Context, userID int64) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orders []models.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			orders = append(orders, *cloneOrder(o))
		}
	}
	sortOrders(orders)
	return orders, nil
}

func (s *Memory) ListOrdersForRestaurant(ctx context.Context, restaurantID int64, statusFilter state.Status) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orders []models.Order
	for _, o := range s.orders {
		if o.RestaurantID != restaurantID {
			continue
		}
		if statusFilter != "" && o.Status != statusFilter {
			continue
		}
		orders = append(orders, *cloneOrder(o))
	}
	sortOrders(orders)
	return orders, nil
}

func (s *Memory) ApplyTransition(ctx context.Context, orderID int64, next state.Status, actor state.Actor, reason string) (*models.Order, error) {
	// Mirror the Postgres sequence: read the current status, validate,
	// then compare-and-set against the status that was validated. A
	// concurrent writer in between makes the CAS fail.
	s.mu.Lock()
	order, ok := s.orders[orderID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("order %d: %w", orderID, apperr.ErrNotFound)
	}
	current := order.Status
	s.mu.Unlock()

	if err := state.Next(current, next, actor); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if order.Status != current {
		return nil, fmt.Errorf("%w: order %d already left %s", state.ErrIllegalTransition, orderID, current)
	}

	order.Status = next
	order.UpdatedAt = time.Now()
	var logReason *string
	if reason != "" {
		r := reason
		logReason = &r
		if next == state.StatusCanceled {
			order.CancelReason = &r
		}
	}
	s.appendLog(orderID, next, string(actor), logReason)
	return cloneOrder(order), nil
}

func (s *Memory) UpdatePaymentStatus(ctx context.Context, orderID int64, status models.PaymentStatus, reference *string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, apperr.ErrNotFound)
	}
	order.PaymentStatus = status
	if reference != nil {
		ref := *reference
		order.PaymentReference = &ref
	}
	order.UpdatedAt = time.Now()
	return cloneOrder(order), nil
}

func (s *Memory) SetEstimatedDelivery(ctx context.Context, orderID int64, eta time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d: %w", orderID, apperr.ErrNotFound)
	}
	order.EstimatedDeliveryTime = &eta
	order.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) History(ctx context.Context, orderID int64) ([]models.StatusLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]models.StatusLogEntry, len(s.history[orderID]))
	copy(entries, s.history[orderID])
	return entries, nil
}

func (s *Memory) appendLog(orderID int64, status state.Status, changedBy string, reason *string) {
	s.nextLogID++
	s.history[orderID] = append(s.history[orderID], models.StatusLogEntry{
		ID:        s.nextLogID,
		OrderID:   orderID,
		Status:    status,
		ChangedBy: changedBy,
		Reason:    reason,
		ChangedAt: time.Now(),
	})
}

func cloneOrder(o *models.Order) *models.Order {
	clone := *o
	clone.Items = make([]models.OrderItem, len(o.Items))
	copy(clone.Items, o.Items)
	return &clone
}

func sortOrders(orders []models.Order) {
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].ID > orders[j].ID
	})
}
