package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campus-eats/internal/apperr"
	"campus-eats/internal/state"
	"campus-eats/pkg/logger"
	"campus-eats/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Postgres struct {
	dbPool *pgxpool.Pool
	logger *logger.Logger
}

func NewPostgres(dbPool *pgxpool.Pool, logger *logger.Logger) *Postgres {
	return &Postgres{
		dbPool: dbPool,
		logger: logger,
	}
}

const orderColumns = `
	id, user_id, restaurant_id, address_id, status,
	subtotal, delivery_fee, service_fee, tip, discount, total,
	payment_method, payment_status, payment_reference,
	special_instructions, cancel_reason,
	created_at, updated_at, estimated_delivery_time
`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID, &o.UserID, &o.RestaurantID, &o.AddressID, &o.Status,
		&o.Subtotal, &o.DeliveryFee, &o.ServiceFee, &o.Tip, &o.Discount, &o.Total,
		&o.PaymentMethod, &o.PaymentStatus, &o.PaymentReference,
		&o.SpecialInstructions, &o.CancelReason,
		&o.CreatedAt, &o.UpdatedAt, &o.EstimatedDeliveryTime,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Postgres) CreateOrder(ctx context.Context, order *models.Order) error {
	tx, err := s.dbPool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
        INSERT INTO orders (user_id, restaurant_id, address_id, status,
                            subtotal, delivery_fee, service_fee, tip, discount, total,
                            payment_method, payment_status, special_instructions)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        RETURNING id, created_at, updated_at
    `, order.UserID, order.RestaurantID, order.AddressID, order.Status,
		order.Subtotal, order.DeliveryFee, order.ServiceFee, order.Tip, order.Discount, order.Total,
		order.PaymentMethod, order.PaymentStatus, order.SpecialInstructions,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		batch.Queue(`
            INSERT INTO order_items (order_id, menu_item_id, name, quantity, unit_price, customizations, notes)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
        `, item.OrderID, item.MenuItemID, item.Name, item.Quantity, item.UnitPrice, item.Customizations, item.Notes)
	}
	br := tx.SendBatch(ctx, batch)
	for range order.Items {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO order_status_log (order_id, status, changed_by)
        VALUES ($1, $2, $3)
    `, order.ID, order.Status, string(state.ActorStudent))
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *Postgres) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := scanOrder(s.dbPool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %d: %w", orderID, apperr.ErrNotFound)
		}
		return nil, err
	}

	items, err := s.orderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

func (s *Postgres) orderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	rows, err := s.dbPool.Query(ctx, `
        SELECT id, order_id, menu_item_id, name, quantity, unit_price, customizations, notes
        FROM order_items
        WHERE order_id = $1
        ORDER BY id
    `, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.MenuItemID, &item.Name,
			&item.Quantity, &item.UnitPrice, &item.Customizations, &item.Notes); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Postgres) ListOrdersForUser(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (s *Postgres) ListOrdersForRestaurant(ctx context.Context, restaurantID int64, statusFilter state.Status) ([]models.Order, error) {
	if statusFilter != "" {
		return s.listOrders(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE restaurant_id = $1 AND status = $2 ORDER BY created_at DESC`,
			restaurantID, statusFilter)
	}
	return s.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE restaurant_id = $1 ORDER BY created_at DESC`, restaurantID)
}

func (s *Postgres) listOrders(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	rows, err := s.dbPool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func (s *Postgres) ApplyTransition(ctx context.Context, orderID int64, next state.Status, actor state.Actor, reason string) (*models.Order, error) {
	var current state.Status
	err := s.dbPool.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %d: %w", orderID, apperr.ErrNotFound)
		}
		return nil, err
	}

	if err := state.Next(current, next, actor); err != nil {
		return nil, err
	}

	var cancelReason *string
	if next == state.StatusCanceled && reason != "" {
		cancelReason = &reason
	}

	// Compare-and-set against the status we just validated; a concurrent
	// writer makes RowsAffected zero and the caller loses the race.
	tag, err := s.dbPool.Exec(ctx, `
        UPDATE orders
        SET status = $1, cancel_reason = COALESCE($2, cancel_reason), updated_at = now()
        WHERE id = $3 AND status = $4
    `, next, cancelReason, orderID, current)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: order %d already left %s", state.ErrIllegalTransition, orderID, current)
	}

	var logReason *string
	if reason != "" {
		logReason = &reason
	}
	if _, err := s.dbPool.Exec(ctx, `
        INSERT INTO order_status_log (order_id, status, changed_by, reason)
        VALUES ($1, $2, $3, $4)
    `, orderID, next, string(actor), logReason); err != nil {
		s.logger.Error("", "status_log_failed", fmt.Sprintf("Failed to log status change for order %d", orderID), err)
	}

	return s.GetOrder(ctx, orderID)
}

func (s *Postgres) UpdatePaymentStatus(ctx context.Context, orderID int64, status models.PaymentStatus, reference *string) (*models.Order, error) {
	tag, err := s.dbPool.Exec(ctx, `
        UPDATE orders
        SET payment_status = $1, payment_reference = COALESCE($2, payment_reference), updated_at = now()
        WHERE id = $3
    `, status, reference, orderID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("order %d: %w", orderID, apperr.ErrNotFound)
	}
	return s.GetOrder(ctx, orderID)
}

func (s *Postgres) SetEstimatedDelivery(ctx context.Context, orderID int64, eta time.Time) error {
	_, err := s.dbPool.Exec(ctx, `
        UPDATE orders SET estimated_delivery_time = $1, updated_at = now() WHERE id = $2
    `, eta, orderID)
	return err
}

func (s *Postgres) History(ctx context.Context, orderID int64) ([]models.StatusLogEntry, error) {
	rows, err := s.dbPool.Query(ctx, `
        SELECT id, order_id, status, changed_by, reason, changed_at
        FROM order_status_log
        WHERE order_id = $1
        ORDER BY changed_at, id
    `, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.StatusLogEntry
	for rows.Next() {
		var e models.StatusLogEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Status, &e.ChangedBy, &e.Reason, &e.ChangedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
