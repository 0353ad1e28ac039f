package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

// Ensure FulfillmentStore implements the interface.
var _ driven.FulfillmentStore = (*FulfillmentStore)(nil)

// terminalFulfillmentStatuses are excluded from ListOpen.
var terminalFulfillmentStatuses = []string{
	string(domain.FulfillmentDelivered),
	string(domain.FulfillmentCancelled),
	string(domain.FulfillmentFailed),
}

// FulfillmentStore implements driven.FulfillmentStore using PostgreSQL.
type FulfillmentStore struct {
	db *sql.DB
}

// NewFulfillmentStore creates a new PostgreSQL-backed fulfillment store.
func NewFulfillmentStore(db *sql.DB) *FulfillmentStore {
	return &FulfillmentStore{db: db}
}

const fulfillmentColumns = `
	seller_id, order_id, provider, sandbox, fulfillment_id, status,
	items, address, shipping_method, tracking, error, created_at, updated_at`

// Save creates or updates an order keyed by (seller, order ID).
func (s *FulfillmentStore) Save(ctx context.Context, order *domain.FulfillmentOrder) error {
	query := `
		INSERT INTO fulfillment_orders (` + fulfillmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (seller_id, order_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			sandbox = EXCLUDED.sandbox,
			fulfillment_id = EXCLUDED.fulfillment_id,
			status = EXCLUDED.status,
			items = EXCLUDED.items,
			address = EXCLUDED.address,
			shipping_method = EXCLUDED.shipping_method,
			tracking = EXCLUDED.tracking,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at
	`

	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	address, err := json.Marshal(order.Address)
	if err != nil {
		return fmt.Errorf("marshal address: %w", err)
	}
	var tracking []byte
	if order.Tracking != nil {
		if tracking, err = json.Marshal(order.Tracking); err != nil {
			return fmt.Errorf("marshal tracking: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, query,
		order.SellerID,
		order.OrderID,
		order.Provider,
		order.Sandbox,
		order.FulfillmentID,
		order.Status,
		items,
		address,
		order.ShippingMethod,
		tracking,
		order.Error,
		dbTime(order.CreatedAt),
		dbTime(order.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save fulfillment order: %w", err)
	}
	return nil
}

// Get retrieves an order.
func (s *FulfillmentStore) Get(ctx context.Context, sellerID, orderID string) (*domain.FulfillmentOrder, error) {
	query := `SELECT ` + fulfillmentColumns + `
		FROM fulfillment_orders
		WHERE seller_id = $1 AND order_id = $2
	`

	order, err := scanFulfillment(s.db.QueryRowContext(ctx, query, sellerID, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get fulfillment order: %w", err)
	}
	return order, nil
}

// ListOpen returns up to limit non-terminal orders, least recently updated first.
func (s *FulfillmentStore) ListOpen(ctx context.Context, limit int) ([]*domain.FulfillmentOrder, error) {
	query := `SELECT ` + fulfillmentColumns + `
		FROM fulfillment_orders
		WHERE status <> ALL($1)
		ORDER BY updated_at ASC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(terminalFulfillmentStatuses), limit)
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.FulfillmentOrder
	for rows.Next() {
		order, err := scanFulfillment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fulfillment order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fulfillment orders: %w", err)
	}
	return orders, nil
}

func scanFulfillment(row rowScanner) (*domain.FulfillmentOrder, error) {
	var o domain.FulfillmentOrder
	var items, address, tracking []byte

	if err := row.Scan(
		&o.SellerID,
		&o.OrderID,
		&o.Provider,
		&o.Sandbox,
		&o.FulfillmentID,
		&o.Status,
		&items,
		&address,
		&o.ShippingMethod,
		&tracking,
		&o.Error,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	if err := json.Unmarshal(address, &o.Address); err != nil {
		return nil, fmt.Errorf("unmarshal address: %w", err)
	}
	if len(tracking) > 0 {
		o.Tracking = &domain.Tracking{}
		if err := json.Unmarshal(tracking, o.Tracking); err != nil {
			return nil, fmt.Errorf("unmarshal tracking: %w", err)
		}
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}
