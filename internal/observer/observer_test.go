package observer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"campus-eats/internal/state"
	"campus-eats/pkg/logger"
	"campus-eats/pkg/models"
)

type fakeFetcher struct {
	mu     sync.Mutex
	status state.Status
	fail   bool
}

func (f *fakeFetcher) FetchOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("network down")
	}
	return &models.Order{ID: orderID, Status: f.status}, nil
}

func (f *fakeFetcher) set(s state.Status) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

type fakeSubscription struct {
	ch chan models.Event
}

func (s *fakeSubscription) Events() <-chan models.Event { return s.ch }
func (s *fakeSubscription) Close() error                { return nil }

type fakeSubscriber struct {
	sub  *fakeSubscription
	fail bool
}

func (s *fakeSubscriber) Subscribe(ctx context.Context, orderID int64) (Subscription, error) {
	if s.fail {
		return nil, errors.New("socket refused")
	}
	return s.sub, nil
}

func push(sub *fakeSubscription, orderID int64, status state.Status) {
	sub.ch <- models.Event{
		Type:      models.EventStatusChanged,
		OrderID:   orderID,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

func TestFollowsPushedEventsToTerminal(t *testing.T) {
	fetcher := &fakeFetcher{status: state.StatusPending}
	sub := &fakeSubscription{ch: make(chan models.Event, 8)}
	o := New(1, fetcher, &fakeSubscriber{sub: sub}, time.Hour, logger.NewLogger("test"))

	var seen []state.Status
	var mu sync.Mutex
	o.OnChange = func(s state.Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	push(sub, 1, state.StatusPreparing)
	push(sub, 1, state.StatusReady)
	push(sub, 1, state.StatusOutForDelivery)
	push(sub, 1, state.StatusDelivered)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("observer did not stop at terminal status")
	}

	if o.Status() != state.StatusDelivered {
		t.Errorf("final status = %s, want delivered", o.Status())
	}
	mu.Lock()
	defer mu.Unlock()
	want := []state.Status{state.StatusPending, state.StatusPreparing, state.StatusReady, state.StatusOutForDelivery, state.StatusDelivered}
	if len(seen) != len(want) {
		t.Fatalf("status trace = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("status trace = %v, want %v", seen, want)
		}
	}
}

func TestRejectsOutOfOrderEvents(t *testing.T) {
	fetcher := &fakeFetcher{status: state.StatusPending}
	sub := &fakeSubscription{ch: make(chan models.Event, 8)}
	o := New(1, fetcher, &fakeSubscriber{sub: sub}, time.Hour, logger.NewLogger("test"))

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	// ready arrives before the delayed preparing push.
	push(sub, 1, state.StatusReady)
	push(sub, 1, state.StatusPreparing)

	time.Sleep(50 * time.Millisecond)
	if o.Status() != state.StatusReady {
		t.Errorf("status = %s, want ready (stale preparing push must be dropped)", o.Status())
	}

	push(sub, 1, state.StatusCanceled)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("observer did not stop after cancellation")
	}
}

func TestIgnoresEventsForOtherOrders(t *testing.T) {
	fetcher := &fakeFetcher{status: state.StatusPending}
	sub := &fakeSubscription{ch: make(chan models.Event, 8)}
	o := New(1, fetcher, &fakeSubscriber{sub: sub}, time.Hour, logger.NewLogger("test"))

	go o.Run(context.Background())

	push(sub, 2, state.StatusDelivered)
	time.Sleep(50 * time.Millisecond)
	if o.Status() != state.StatusPending {
		t.Errorf("status = %s, events for other orders must be ignored", o.Status())
	}
}

func TestPollingFallbackWhenChannelUnavailable(t *testing.T) {
	fetcher := &fakeFetcher{status: state.StatusPending}
	o := New(1, fetcher, &fakeSubscriber{fail: true}, 10*time.Millisecond, logger.NewLogger("test"))

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	fetcher.set(state.StatusCanceled)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("observer did not pick up terminal status via polling")
	}
	if o.Status() != state.StatusCanceled {
		t.Errorf("final status = %s, want canceled", o.Status())
	}
}

func TestTerminalBaselineStopsImmediately(t *testing.T) {
	fetcher := &fakeFetcher{status: state.StatusDelivered}
	o := New(1, fetcher, &fakeSubscriber{fail: true}, time.Hour, logger.NewLogger("test"))

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("observer kept running for an already-terminal order")
	}
}

func TestContextCancellationStopsObserver(t *testing.T) {
	fetcher := &fakeFetcher{status: state.StatusPending}
	sub := &fakeSubscription{ch: make(chan models.Event)}
	o := New(1, fetcher, &fakeSubscriber{sub: sub}, time.Hour, logger.NewLogger("test"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("observer did not honor context cancellation")
	}
}
