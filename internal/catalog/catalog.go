// Package catalog exposes the narrow read interfaces the order service
// needs from the menu and address book. Both are owned elsewhere; orders
// only snapshot from them at creation time.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"campus-eats/internal/apperr"
	"campus-eats/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MenuReader interface {
	MenuItem(ctx context.Context, menuItemID int64) (*models.MenuItem, error)
}

type AddressReader interface {
	Address(ctx context.Context, addressID int64) (*models.Address, error)
}

type PostgresReader struct {
	dbPool *pgxpool.Pool
}

func NewPostgresReader(dbPool *pgxpool.Pool) *PostgresReader {
	return &PostgresReader{dbPool: dbPool}
}

func (r *PostgresReader) MenuItem(ctx context.Context, menuItemID int64) (*models.MenuItem, error) {
	var item models.MenuItem
	err := r.dbPool.QueryRow(ctx, `
        SELECT id, restaurant_id, name, price, available
        FROM menu_items
        WHERE id = $1
    `, menuItemID).Scan(&item.ID, &item.RestaurantID, &item.Name, &item.Price, &item.Available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("menu item %d: %w", menuItemID, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &item, nil
}

func (r *PostgresReader) Address(ctx context.Context, addressID int64) (*models.Address, error) {
	var addr models.Address
	err := r.dbPool.QueryRow(ctx, `
        SELECT id, user_id, label, line1, city
        FROM addresses
        WHERE id = $1
    `, addressID).Scan(&addr.ID, &addr.UserID, &addr.Label, &addr.Line1, &addr.City)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("address %d: %w", addressID, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &addr, nil
}
