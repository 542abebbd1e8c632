package models

import (
	"time"

	"campus-eats/internal/state"
)

type PaymentMethod string

const (
	PaymentCardOnDelivery PaymentMethod = "card_on_delivery"
	PaymentOnlineCard     PaymentMethod = "online_card"
	PaymentCash           PaymentMethod = "cash"
)

type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "pending"
	PaymentStatusCashDue       PaymentStatus = "cash_due"
	PaymentStatusCompleted     PaymentStatus = "completed"
	PaymentStatusRefundPending PaymentStatus = "refund_pending"
)

// Cancellation reasons recorded on the order so an SLA auto-cancel is
// distinguishable from a human one.
const (
	CancelReasonSLAExpired        = "sla_expired"
	CancelReasonCustomerRequest   = "customer_request"
	CancelReasonRestaurantDecline = "restaurant_decline"
)

type Order struct {
	ID           int64        `json:"id"`
	UserID       int64        `json:"user_id"`
	RestaurantID int64        `json:"restaurant_id"`
	AddressID    int64        `json:"address_id"`
	Status       state.Status `json:"status"`

	Subtotal    float64 `json:"subtotal"`
	DeliveryFee float64 `json:"delivery_fee"`
	ServiceFee  float64 `json:"service_fee"`
	Tip         float64 `json:"tip"`
	Discount    float64 `json:"discount"`
	Total       float64 `json:"total"`

	PaymentMethod    PaymentMethod `json:"payment_method"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	PaymentReference *string       `json:"payment_reference,omitempty"`

	SpecialInstructions *string `json:"special_instructions,omitempty"`
	CancelReason        *string `json:"cancel_reason,omitempty"`

	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	EstimatedDeliveryTime *time.Time `json:"estimated_delivery_time,omitempty"`

	Items []OrderItem `json:"items,omitempty"`
}

// OrderItem is a snapshot taken at order-creation time; later menu price
// changes never touch it.
type OrderItem struct {
	ID             int64    `json:"id"`
	OrderID        int64    `json:"order_id"`
	MenuItemID     int64    `json:"menu_item_id"`
	Name           string   `json:"name"`
	Quantity       int      `json:"quantity"`
	UnitPrice      float64  `json:"unit_price"`
	Customizations []string `json:"customizations,omitempty"`
	Notes          *string  `json:"notes,omitempty"`
}

type StatusLogEntry struct {
	ID        int64        `json:"id"`
	OrderID   int64        `json:"order_id"`
	Status    state.Status `json:"status"`
	ChangedBy string       `json:"changed_by"`
	Reason    *string      `json:"reason,omitempty"`
	ChangedAt time.Time    `json:"changed_at"`
}

type MenuItem struct {
	ID           int64   `json:"id"`
	RestaurantID int64   `json:"restaurant_id"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	Available    bool    `json:"available"`
}

type Address struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"user_id"`
	Label  string `json:"label"`
	Line1  string `json:"line1"`
	City   string `json:"city"`
}

type CreateOrderRequest struct {
	RestaurantID        int64              `json:"restaurant_id"`
	AddressID           int64              `json:"address_id"`
	PaymentMethod       PaymentMethod      `json:"payment_method"`
	Items               []OrderItemRequest `json:"items"`
	Tip                 float64            `json:"tip,omitempty"`
	SpecialInstructions *string            `json:"special_instructions,omitempty"`
}

type OrderItemRequest struct {
	MenuItemID     int64    `json:"menu_item_id"`
	Quantity       int      `json:"quantity"`
	Customizations []string `json:"customizations,omitempty"`
	Notes          *string  `json:"notes,omitempty"`
}

type CreateOrderResponse struct {
	Order       *Order     `json:"order"`
	RedirectURL *string    `json:"redirect_url,omitempty"`
	AckDeadline *time.Time `json:"ack_deadline,omitempty"`
}

type UpdateStatusRequest struct {
	Status state.Status `json:"status"`
}

type UpdatePaymentRequest struct {
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentID     *string       `json:"payment_id,omitempty"`
}

// Event kinds carried over the realtime channel.
const (
	EventSubscribed    = "subscribed"
	EventStatusChanged = "status_changed"
	EventLocation      = "location"
)

// Event is a realtime hub message. Status fields are set for
// status_changed, Lat/Lng for location.
type Event struct {
	Type      string       `json:"type"`
	OrderID   int64        `json:"order_id"`
	Status    state.Status `json:"status,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Lat       float64      `json:"lat,omitempty"`
	Lng       float64      `json:"lng,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// ClientMessage is what a websocket client may send: a room subscription or
// a courier location sample.
type ClientMessage struct {
	Type    string  `json:"type"`
	OrderID int64   `json:"order_id"`
	Role    string  `json:"role,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lng     float64 `json:"lng,omitempty"`
}

// Notification is the fire-and-forget message published to the
// notifications fanout (receipts, nudges, status updates).
type Notification struct {
	Kind      string       `json:"kind"` // receipt | status_update | nudge
	OrderID   int64        `json:"order_id"`
	UserID    int64        `json:"user_id,omitempty"`
	Status    state.Status `json:"status,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Total     float64      `json:"total,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
