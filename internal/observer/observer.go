// Package observer keeps one client's view of an order consistent over the
// at-most-once realtime channel. The authoritative baseline always comes
// from a direct fetch; pushed events only move the view forward along the
// transition graph, and a fallback poll covers a silent channel.
package observer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"campus-eats/internal/state"
	"campus-eats/pkg/logger"
	"campus-eats/pkg/models"
)

type Fetcher interface {
	FetchOrder(ctx context.Context, orderID int64) (*models.Order, error)
}

type Subscription interface {
	Events() <-chan models.Event
	Close() error
}

type Subscriber interface {
	Subscribe(ctx context.Context, orderID int64) (Subscription, error)
}

type Observer struct {
	orderID      int64
	fetcher      Fetcher
	subscriber   Subscriber
	pollInterval time.Duration
	logger       *logger.Logger

	mu     sync.Mutex
	status state.Status

	// OnChange, when set, is invoked for every accepted status change.
	OnChange func(status state.Status)
}

func New(orderID int64, fetcher Fetcher, subscriber Subscriber, pollInterval time.Duration, log *logger.Logger) *Observer {
	return &Observer{
		orderID:      orderID,
		fetcher:      fetcher,
		subscriber:   subscriber,
		pollInterval: pollInterval,
		logger:       log,
	}
}

func (o *Observer) Status() state.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Run blocks until the order reaches a terminal status or ctx is canceled.
// The realtime subscription and the poll ticker are independent; either may
// fail without stopping the other.
func (o *Observer) Run(ctx context.Context) error {
	baseline, err := o.fetcher.FetchOrder(ctx, o.orderID)
	if err != nil {
		return err
	}
	o.setStatus(baseline.Status)
	if state.Terminal(baseline.Status) {
		return nil
	}

	var events <-chan models.Event
	sub, err := o.subscriber.Subscribe(ctx, o.orderID)
	if err != nil {
		// Degraded mode: polling alone keeps the view eventually
		// consistent.
		o.logger.Warn("", "realtime_unavailable",
			fmt.Sprintf("Falling back to polling for order %d", o.orderID))
	} else {
		events = sub.Events()
		defer sub.Close()
	}

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Type != models.EventStatusChanged || event.OrderID != o.orderID {
				continue
			}
			if o.apply(event.Status) && state.Terminal(event.Status) {
				return nil
			}

		case <-ticker.C:
			order, err := o.fetcher.FetchOrder(ctx, o.orderID)
			if err != nil {
				o.logger.Debug("", "poll_failed",
					fmt.Sprintf("Poll for order %d failed, will retry", o.orderID))
				continue
			}
			if o.apply(order.Status) && state.Terminal(order.Status) {
				return nil
			}
		}
	}
}

// apply advances the local status only if the incoming one is reachable
// from it, which drops stale and out-of-order deliveries.
func (o *Observer) apply(incoming state.Status) bool {
	o.mu.Lock()
	if !state.Reachable(o.status, incoming) {
		o.mu.Unlock()
		return false
	}
	o.status = incoming
	o.mu.Unlock()

	if o.OnChange != nil {
		o.OnChange(incoming)
	}
	return true
}

func (o *Observer) setStatus(s state.Status) {
	o.mu.Lock()
	o.status = s
	o.mu.Unlock()
	if o.OnChange != nil {
		o.OnChange(s)
	}
}
