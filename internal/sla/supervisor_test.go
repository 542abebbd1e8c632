package sla

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"campus-eats/internal/apperr"
	"campus-eats/pkg/logger"
)

type recordingResolver struct {
	mu       sync.Mutex
	canceled []int64
	calls    int32
}

func (r *recordingResolver) ForceCancel(ctx context.Context, orderID int64) error {
	atomic.AddInt32(&r.calls, 1)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.canceled = append(r.canceled, orderID)
	return nil
}

func (r *recordingResolver) canceledOrders() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, len(r.canceled))
	copy(out, r.canceled)
	return out
}

func newTestSupervisor(ackWindow time.Duration) (*Supervisor, *recordingResolver) {
	s := New(ackWindow, 20*time.Millisecond, logger.NewLogger("test"))
	r := &recordingResolver{}
	s.Bind(r)
	return s, r
}

func TestFiresAfterDeadline(t *testing.T) {
	s, r := newTestSupervisor(10 * time.Millisecond)
	defer s.Stop()

	s.Watch(1)
	time.Sleep(50 * time.Millisecond)

	if got := r.canceledOrders(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("canceled orders = %v, want [1]", got)
	}
	if _, ok := s.Deadline(1); ok {
		t.Fatal("entry still present after firing")
	}
}

func TestCancelBeforeDeadlineNeverFires(t *testing.T) {
	s, r := newTestSupervisor(20 * time.Millisecond)
	defer s.Stop()

	s.Watch(2)
	s.Cancel(2)
	time.Sleep(60 * time.Millisecond)

	if got := r.canceledOrders(); len(got) != 0 {
		t.Fatalf("timer fired after Cancel: %v", got)
	}
}

func TestFireIsIdempotent(t *testing.T) {
	s, r := newTestSupervisor(time.Hour)
	defer s.Stop()

	s.Watch(3)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.fire(3)
		}()
	}
	wg.Wait()

	if calls := atomic.LoadInt32(&r.calls); calls != 1 {
		t.Fatalf("resolver called %d times, want exactly 1", calls)
	}
}

func TestCancelRacingFireResolvesOnce(t *testing.T) {
	s, r := newTestSupervisor(time.Hour)
	defer s.Stop()

	for orderID := int64(1); orderID <= 20; orderID++ {
		s.Watch(orderID)
		var wg sync.WaitGroup
		wg.Add(2)
		go func(id int64) {
			defer wg.Done()
			s.Cancel(id)
		}(orderID)
		go func(id int64) {
			defer wg.Done()
			s.fire(id)
		}(orderID)
		wg.Wait()
	}

	// Each order was resolved by at most one side; the resolver may have
	// seen some orders but never the same one twice.
	seen := map[int64]bool{}
	for _, id := range r.canceledOrders() {
		if seen[id] {
			t.Fatalf("order %d force-canceled twice", id)
		}
		seen[id] = true
	}
}

func TestDeadlineIsVisibleWhilePending(t *testing.T) {
	s, _ := newTestSupervisor(time.Hour)
	defer s.Stop()

	before := time.Now()
	s.Watch(4)
	deadline, ok := s.Deadline(4)
	if !ok {
		t.Fatal("no deadline for watched order")
	}
	if deadline.Before(before.Add(59 * time.Minute)) {
		t.Fatalf("deadline %v is not about an ack window away", deadline)
	}
}

func TestNudgeCooldown(t *testing.T) {
	s, _ := newTestSupervisor(time.Hour)
	defer s.Stop()

	s.Watch(5)
	if err := s.AllowNudge(5); err != nil {
		t.Fatalf("first nudge rejected: %v", err)
	}
	if err := s.AllowNudge(5); !errors.Is(err, apperr.ErrNudgeCooldown) {
		t.Fatalf("second nudge within cooldown = %v, want ErrNudgeCooldown", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := s.AllowNudge(5); err != nil {
		t.Fatalf("nudge after cooldown rejected: %v", err)
	}
}

func TestNudgeRequiresPendingOrder(t *testing.T) {
	s, _ := newTestSupervisor(time.Hour)
	defer s.Stop()

	if err := s.AllowNudge(99); !apperr.IsValidation(err) {
		t.Fatalf("nudge for unwatched order = %v, want validation error", err)
	}
}

func TestResolverFailureDoesNotPanic(t *testing.T) {
	s := New(5*time.Millisecond, time.Second, logger.NewLogger("test"))
	s.Bind(failingResolver{})
	defer s.Stop()

	s.Watch(6)
	time.Sleep(30 * time.Millisecond)
	// Reaching here without a panic is the assertion.
}

type failingResolver struct{}

func (failingResolver) ForceCancel(ctx context.Context, orderID int64) error {
	return errors.New("store unavailable")
}
