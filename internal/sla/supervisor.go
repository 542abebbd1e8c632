// Package sla enforces the bounded wait for restaurant acknowledgement. One
// timer entry exists per in-flight pending order; entries are explicit and
// process-local, created on order creation and discarded when the order
// leaves pending or the timer fires.
package sla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"campus-eats/internal/apperr"
	"campus-eats/pkg/logger"
)

// Resolver performs the forced cancellation when a deadline elapses. An
// order that was already resolved by a human transition must not surface as
// an error.
type Resolver interface {
	ForceCancel(ctx context.Context, orderID int64) error
}

type entry struct {
	timer     *time.Timer
	deadline  time.Time
	fired     bool
	lastNudge time.Time
}

type Supervisor struct {
	mu            sync.Mutex
	entries       map[int64]*entry
	ackWindow     time.Duration
	nudgeCooldown time.Duration
	resolver      Resolver
	logger        *logger.Logger
}

func New(ackWindow, nudgeCooldown time.Duration, logger *logger.Logger) *Supervisor {
	return &Supervisor{
		entries:       make(map[int64]*entry),
		ackWindow:     ackWindow,
		nudgeCooldown: nudgeCooldown,
		logger:        logger,
	}
}

// Bind wires the resolver after construction; the order service both owns
// the supervisor and acts as its resolver.
func (s *Supervisor) Bind(r Resolver) {
	s.resolver = r
}

// Watch schedules the auto-cancel deadline for a freshly created order.
func (s *Supervisor) Watch(orderID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[orderID]; ok {
		return
	}
	e := &entry{deadline: time.Now().Add(s.ackWindow)}
	e.timer = time.AfterFunc(s.ackWindow, func() { s.fire(orderID) })
	s.entries[orderID] = e

	s.logger.Debug("", "sla_watch_started",
		fmt.Sprintf("Order %d must be acknowledged before %s", orderID, e.deadline.UTC().Format(time.RFC3339)))
}

// Cancel discards the timer entry after the order left pending. Safe to
// call for unknown orders and after the timer fired.
func (s *Supervisor) Cancel(orderID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[orderID]
	if !ok {
		return
	}
	e.fired = true
	e.timer.Stop()
	delete(s.entries, orderID)
}

// Deadline reports the authoritative server-side deadline for a pending
// order. The client countdown is cosmetic-only.
func (s *Supervisor) Deadline(orderID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[orderID]
	if !ok {
		return time.Time{}, false
	}
	return e.deadline, true
}

// AllowNudge gates the "ping the restaurant" action to once per cooldown
// window. It never touches the deadline.
func (s *Supervisor) AllowNudge(orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[orderID]
	if !ok {
		return apperr.Validationf("order %d is not awaiting acknowledgement", orderID)
	}
	if !e.lastNudge.IsZero() && time.Since(e.lastNudge) < s.nudgeCooldown {
		return apperr.ErrNudgeCooldown
	}
	e.lastNudge = time.Now()
	return nil
}

// Stop discards every entry, for shutdown.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for orderID, e := range s.entries {
		e.fired = true
		e.timer.Stop()
		delete(s.entries, orderID)
	}
}

func (s *Supervisor) fire(orderID int64) {
	s.mu.Lock()
	e, ok := s.entries[orderID]
	if !ok || e.fired {
		s.mu.Unlock()
		return
	}
	e.fired = true
	delete(s.entries, orderID)
	s.mu.Unlock()

	s.logger.Info("", "sla_expired",
		fmt.Sprintf("Ack window elapsed for order %d, forcing cancellation", orderID))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// A failed forced cancel is logged, never allowed to take the
	// process down.
	if err := s.resolver.ForceCancel(ctx, orderID); err != nil {
		s.logger.Error("", "auto_cancel_failed",
			fmt.Sprintf("Failed to auto-cancel order %d", orderID), err)
	}
}
