package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"campus-eats/internal/apperr"
	"campus-eats/internal/hub"
	"campus-eats/internal/sla"
	"campus-eats/internal/state"
	"campus-eats/internal/store"
	"campus-eats/pkg/logger"
	"campus-eats/pkg/models"
)

type fakeMenu struct {
	mu    sync.Mutex
	items map[int64]models.MenuItem
}

func (m *fakeMenu) MenuItem(ctx context.Context, id int64) (*models.MenuItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("menu item %d: %w", id, apperr.ErrNotFound)
	}
	return &item, nil
}

func (m *fakeMenu) setPrice(id int64, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.items[id]
	item.Price = price
	m.items[id] = item
}

type fakeAddresses struct {
	addrs map[int64]models.Address
}

func (a *fakeAddresses) Address(ctx context.Context, id int64) (*models.Address, error) {
	addr, ok := a.addrs[id]
	if !ok {
		return nil, fmt.Errorf("address %d: %w", id, apperr.ErrNotFound)
	}
	return &addr, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (n *fakeNotifier) Send(notification models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

func (n *fakeNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.sent {
		out = append(out, s.Kind)
	}
	return out
}

type fakeGateway struct {
	fail bool
}

func (g *fakeGateway) Initiate(ctx context.Context, order *models.Order) (string, string, error) {
	if g.fail {
		return "", "", fmt.Errorf("gateway timeout: %w", apperr.ErrDependencyUnavailable)
	}
	return "https://pay.example/checkout/abc", "ref-abc", nil
}

type chanConn struct {
	events chan models.Event
}

func newChanConn() *chanConn {
	return &chanConn{events: make(chan models.Event, 16)}
}

func (c *chanConn) WriteJSON(v any) error {
	c.events <- v.(models.Event)
	return nil
}

func (c *chanConn) Close() error { return nil }

type fixture struct {
	svc        *Service
	store      *store.Memory
	menu       *fakeMenu
	hub        *hub.Hub
	notifier   *fakeNotifier
	gateway    *fakeGateway
	supervisor *sla.Supervisor
}

func newFixture(t *testing.T, ackWindow time.Duration) *fixture {
	t.Helper()
	log := logger.NewLogger("test")
	mem := store.NewMemory()
	menu := &fakeMenu{items: map[int64]models.MenuItem{
		101: {ID: 101, RestaurantID: 1, Name: "Shawarma", Price: 50.00, Available: true},
		102: {ID: 102, RestaurantID: 1, Name: "Lemonade", Price: 30.00, Available: true},
		201: {ID: 201, RestaurantID: 2, Name: "Ramen", Price: 60.00, Available: true},
		103: {ID: 103, RestaurantID: 1, Name: "Yesterday's Special", Price: 10.00, Available: false},
	}}
	addrs := &fakeAddresses{addrs: map[int64]models.Address{
		11: {ID: 11, UserID: 42, Label: "dorm", Line1: "Campus West 4", City: "Astana"},
		12: {ID: 12, UserID: 99, Label: "other", Line1: "Far away 1", City: "Almaty"},
	}}
	supervisor := sla.New(ackWindow, 20*time.Millisecond, log)
	t.Cleanup(supervisor.Stop)
	h := hub.New(log)
	notifier := &fakeNotifier{}
	gateway := &fakeGateway{}
	svc := NewService(mem, menu, addrs, supervisor, h, notifier, gateway,
		Config{DeliveryFee: 5.00, ServiceFee: 2.00, CourierETA: 30 * time.Minute}, log)
	return &fixture{svc: svc, store: mem, menu: menu, hub: h, notifier: notifier, gateway: gateway, supervisor: supervisor}
}

func createOrder(t *testing.T, f *fixture, method models.PaymentMethod) *models.Order {
	t.Helper()
	resp, err := f.svc.CreateOrder(context.Background(), 42, &models.CreateOrderRequest{
		RestaurantID:  1,
		AddressID:     11,
		PaymentMethod: method,
		Items: []models.OrderItemRequest{
			{MenuItemID: 101, Quantity: 1},
			{MenuItemID: 102, Quantity: 1},
		},
	}, "test-req")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return resp.Order
}

func TestCreateOrderTotals(t *testing.T) {
	f := newFixture(t, time.Hour)
	order := createOrder(t, f, models.PaymentCash)

	if order.Status != state.StatusPending {
		t.Errorf("status = %s, want pending", order.Status)
	}
	if order.Subtotal != 80.00 {
		t.Errorf("subtotal = %.2f, want 80.00", order.Subtotal)
	}
	if math.Abs(order.Total-87.00) > 1e-9 {
		t.Errorf("total = %.2f, want 87.00", order.Total)
	}
	if order.PaymentStatus != models.PaymentStatusCashDue {
		t.Errorf("payment status = %s, want cash_due for cash orders", order.PaymentStatus)
	}
	if _, ok := f.svc.AckDeadline(order.ID); !ok {
		t.Error("no SLA deadline scheduled for new order")
	}
}

func TestCreateOrderRejectsEmptyCart(t *testing.T) {
	f := newFixture(t, time.Hour)
	_, err := f.svc.CreateOrder(context.Background(), 42, &models.CreateOrderRequest{
		RestaurantID:  1,
		AddressID:     11,
		PaymentMethod: models.PaymentCash,
	}, "test-req")
	if !apperr.IsValidation(err) {
		t.Fatalf("empty cart error = %v, want validation error", err)
	}
}

func TestCreateOrderRejectsCrossRestaurantItems(t *testing.T) {
	f := newFixture(t, time.Hour)
	_, err := f.svc.CreateOrder(context.Background(), 42, &models.CreateOrderRequest{
		RestaurantID:  1,
		AddressID:     11,
		PaymentMethod: models.PaymentCash,
		Items: []models.OrderItemRequest{
			{MenuItemID: 101, Quantity: 1},
			{MenuItemID: 201, Quantity: 1}, // restaurant 2
		},
	}, "test-req")
	if !apperr.IsValidation(err) {
		t.Fatalf("cross-restaurant error = %v, want validation error", err)
	}
}

func TestCreateOrderRejectsForeignAddress(t *testing.T) {
	f := newFixture(t, time.Hour)
	_, err := f.svc.CreateOrder(context.Background(), 42, &models.CreateOrderRequest{
		RestaurantID:  1,
		AddressID:     12, // belongs to user 99
		PaymentMethod: models.PaymentCash,
		Items:         []models.OrderItemRequest{{MenuItemID: 101, Quantity: 1}},
	}, "test-req")
	if !apperr.IsValidation(err) {
		t.Fatalf("foreign address error = %v, want validation error", err)
	}
}

func TestCreateOrderRejectsUnavailableItem(t *testing.T) {
	f := newFixture(t, time.Hour)
	_, err := f.svc.CreateOrder(context.Background(), 42, &models.CreateOrderRequest{
		RestaurantID:  1,
		AddressID:     11,
		PaymentMethod: models.PaymentCash,
		Items:         []models.OrderItemRequest{{MenuItemID: 103, Quantity: 1}},
	}, "test-req")
	if !apperr.IsValidation(err) {
		t.Fatalf("unavailable item error = %v, want validation error", err)
	}
}

func TestFinancialImmutability(t *testing.T) {
	f := newFixture(t, time.Hour)
	order := createOrder(t, f, models.PaymentCash)

	f.menu.setPrice(101, 75.00)

	got, err := f.svc.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Items[0].UnitPrice != 50.00 {
		t.Errorf("snapshot unit price = %.2f, want 50.00 after menu price change", got.Items[0].UnitPrice)
	}
	if math.Abs(got.Total-87.00) > 1e-9 {
		t.Errorf("total = %.2f, want unchanged 87.00", got.Total)
	}
}

func TestAcceptDiscardsSLATimer(t *testing.T) {
	f := newFixture(t, time.Hour)
	order := createOrder(t, f, models.PaymentCash)

	got, err := f.svc.Transition(context.Background(), order.ID, state.StatusPreparing, state.ActorRestaurant, "test-req")
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if got.Status != state.StatusPreparing {
		t.Errorf("status = %s, want preparing", got.Status)
	}
	if _, ok := f.svc.AckDeadline(order.ID); ok {
		t.Error("SLA entry still present after acceptance")
	}
}

func TestCustomerCannotCancelAfterAcceptance(t *testing.T) {
	f := newFixture(t, time.Hour)
	order := createOrder(t, f, models.PaymentCash)
	if _, err := f.svc.Transition(context.Background(), order.ID, state.StatusPreparing, state.ActorRestaurant, "test-req"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	_, err := f.svc.Transition(context.Background(), order.ID, state.StatusCanceled, state.ActorStudent, "test-req")
	if !errors.Is(err, state.ErrIllegalTransition) {
		t.Fatalf("customer cancel from preparing = %v, want ErrIllegalTransition", err)
	}
	got, _ := f.svc.GetOrder(context.Background(), order.ID)
	if got.Status != state.StatusPreparing {
		t.Errorf("status = %s after rejected cancel, want preparing", got.Status)
	}
}

func TestCourierDeliveryFlowAndTerminalState(t *testing.T) {
	f := newFixture(t, time.Hour)
	order := createOrder(t, f, models.PaymentCash)
	ctx := context.Background()

	steps := []state.Status{state.StatusPreparing, state.StatusReady}
	for _, next := range steps {
		if _, err := f.svc.Transition(ctx, order.ID, next, state.ActorRestaurant, "test-req"); err != nil {
			t.Fatalf("restaurant transition to %s: %v", next, err)
		}
	}
	got, err := f.svc.Transition(ctx, order.ID, state.StatusOutForDelivery, state.ActorCourier, "test-req")
	if err != nil {
		t.Fatalf("out_for_delivery: %v", err)
	}
	if got.EstimatedDeliveryTime == nil {
		t.Error("estimated delivery time not set when order went out for delivery")
	}
	if _, err := f.svc.Transition(ctx, order.ID, state.StatusDelivered, state.ActorCourier, "test-req"); err != nil {
		t.Fatalf("delivered: %v", err)
	}

	_, err = f.svc.Transition(ctx, order.ID, state.StatusPreparing, state.ActorRestaurant, "test-req")
	if !errors.Is(err, state.ErrIllegalTransition) {
		t.Fatalf("transition out of delivered = %v, want ErrIllegalTransition", err)
	}
}

func TestConcurrentTransitionsExactlyOneWins(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		order := createOrder(t, f, models.PaymentCash)

		results := make(chan error, 2)
		go func() {
			_, err := f.svc.Transition(ctx, order.ID, state.StatusPreparing, state.ActorRestaurant, "tab-1")
			results <- err
		}()
		go func() {
			_, err := f.svc.Transition(ctx, order.ID, state.StatusCanceled, state.ActorRestaurant, "tab-2")
			results <- err
		}()

		var failures int
		for j := 0; j < 2; j++ {
			if err := <-results; err != nil {
				if !errors.Is(err, state.ErrIllegalTransition) {
					t.Fatalf("unexpected error: %v", err)
				}
				failures++
			}
		}

		got, _ := f.svc.GetOrder(ctx, order.ID)
		if got.Status == state.StatusPending {
			t.Fatal("order left pending after both requests finished")
		}
		if got.Status != state.StatusPreparing && got.Status != state.StatusCanceled {
			t.Fatalf("final status = %s, want preparing or canceled", got.Status)
		}
		// Either one request lost (rejected with IllegalTransitionError)
		// or both landed in sequence, which can only end canceled via
		// the legal preparing -> canceled edge.
		if failures == 0 && got.Status != state.StatusCanceled {
			t.Fatalf("both requests succeeded but final status = %s", got.Status)
		}
		if failures > 1 {
			t.Fatalf("got %d failures, at most one request may lose", failures)
		}
	}
}

// Deterministic version of the deadline-vs-human race: the supervisor's
// forced cancel arriving after acceptance must be swallowed as "already
// resolved" and leave the order untouched.
func TestForceCancelAfterAcceptanceIsBenign(t *testing.T) {
	f := newFixture(t, time.Hour)
	order := createOrder(t, f, models.PaymentOnlineCard)
	ctx := context.Background()

	if _, err := f.svc.Transition(ctx, order.ID, state.StatusPreparing, state.ActorRestaurant, "test-req"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := f.svc.ForceCancel(ctx, order.ID); err != nil {
		t.Fatalf("ForceCancel on resolved order = %v, want nil", err)
	}

	got, _ := f.svc.GetOrder(ctx, order.ID)
	if got.Status != state.StatusPreparing {
		t.Errorf("status = %s, want preparing", got.Status)
	}
	if got.PaymentStatus == models.PaymentStatusRefundPending {
		t.Error("refund marked although the forced cancel lost the race")
	}
}

func TestSLAExpiryCancelsAndMarksRefund(t *testing.T) {
	f := newFixture(t, 15*time.Millisecond)
	order := createOrder(t, f, models.PaymentOnlineCard)

	subscriber := newChanConn()
	f.hub.Subscribe(order.ID, state.ActorStudent, subscriber)

	deadline := time.After(2 * time.Second)
	var event models.Event
	select {
	case event = <-subscriber.events:
	case <-deadline:
		t.Fatal("no status_changed event after SLA expiry")
	}
	if event.Type != models.EventStatusChanged || event.Status != state.StatusCanceled {
		t.Fatalf("event = %+v, want canceled status_changed", event)
	}
	if event.Reason != models.CancelReasonSLAExpired {
		t.Errorf("event reason = %q, want sla_expired", event.Reason)
	}

	got, err := f.svc.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != state.StatusCanceled {
		t.Errorf("status = %s, want canceled", got.Status)
	}
	if got.PaymentStatus != models.PaymentStatusRefundPending {
		t.Errorf("payment status = %s, want refund_pending for online_card", got.PaymentStatus)
	}
	if got.CancelReason == nil || *got.CancelReason != models.CancelReasonSLAExpired {
		t.Errorf("cancel reason = %v, want sla_expired", got.CancelReason)
	}
}

func TestAcceptedOrderIsNeverLateCanceled(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	order := createOrder(t, f, models.PaymentCash)

	if _, err := f.svc.Transition(context.Background(), order.ID, state.StatusPreparing, state.ActorRestaurant, "test-req"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	got, _ := f.svc.GetOrder(context.Background(), order.ID)
	if got.Status != state.StatusPreparing {
		t.Fatalf("status = %s after deadline passed, accepted order must stay preparing", got.Status)
	}
}

func TestNudge(t *testing.T) {
	f := newFixture(t, time.Hour)
	order := createOrder(t, f, models.PaymentCash)
	ctx := context.Background()

	if err := f.svc.Nudge(ctx, order.ID, 42, "test-req"); err != nil {
		t.Fatalf("first nudge: %v", err)
	}
	if err := f.svc.Nudge(ctx, order.ID, 42, "test-req"); !errors.Is(err, apperr.ErrNudgeCooldown) {
		t.Fatalf("second nudge = %v, want ErrNudgeCooldown", err)
	}
	if err := f.svc.Nudge(ctx, order.ID, 7, "test-req"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("nudge by non-owner = %v, want ErrNotFound", err)
	}
}

func TestPaymentUpdateIndependentOfStatus(t *testing.T) {
	f := newFixture(t, time.Hour)
	order := createOrder(t, f, models.PaymentOnlineCard)

	ref := "prov-123"
	got, err := f.svc.UpdatePayment(context.Background(), order.ID, &models.UpdatePaymentRequest{
		PaymentStatus: models.PaymentStatusCompleted,
		PaymentID:     &ref,
	})
	if err != nil {
		t.Fatalf("UpdatePayment: %v", err)
	}
	if got.PaymentStatus != models.PaymentStatusCompleted {
		t.Errorf("payment status = %s, want completed", got.PaymentStatus)
	}
	if got.Status != state.StatusPending {
		t.Errorf("order status = %s, payment update must not change it", got.Status)
	}
}

func TestGatewayFailureDoesNotFailOrderCreation(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.gateway.fail = true

	resp, err := f.svc.CreateOrder(context.Background(), 42, &models.CreateOrderRequest{
		RestaurantID:  1,
		AddressID:     11,
		PaymentMethod: models.PaymentOnlineCard,
		Items:         []models.OrderItemRequest{{MenuItemID: 101, Quantity: 1}},
	}, "test-req")
	if err != nil {
		t.Fatalf("order creation failed with gateway down: %v", err)
	}
	if resp.RedirectURL != nil {
		t.Error("redirect URL present although gateway failed")
	}
	if resp.Order.Status != state.StatusPending {
		t.Errorf("status = %s, want pending", resp.Order.Status)
	}
}

func TestHistoryRecordsTrace(t *testing.T) {
	f := newFixture(t, time.Hour)
	order := createOrder(t, f, models.PaymentCash)
	ctx := context.Background()

	f.svc.Transition(ctx, order.ID, state.StatusPreparing, state.ActorRestaurant, "test-req")
	f.svc.Transition(ctx, order.ID, state.StatusReady, state.ActorRestaurant, "test-req")

	history, err := f.svc.History(ctx, order.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	want := []state.Status{state.StatusPending, state.StatusPreparing, state.StatusReady}
	if len(history) != len(want) {
		t.Fatalf("history length = %d, want %d", len(history), len(want))
	}
	for i, entry := range history {
		if entry.Status != want[i] {
			t.Errorf("history[%d] = %s, want %s", i, entry.Status, want[i])
		}
	}
}

func TestReceiptNotificationSent(t *testing.T) {
	f := newFixture(t, time.Hour)
	createOrder(t, f, models.PaymentCash)

	// The receipt is sent from a goroutine after commit.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, kind := range f.notifier.kinds() {
			if kind == "receipt" {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no receipt notification sent after order creation")
}
