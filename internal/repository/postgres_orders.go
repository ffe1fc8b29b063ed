package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

const orderColumns = `id, checkout_id, user_id, name, email, phone, address, product_id, product_name,
	quantity, total_price, status, notes, tracking_number, created_at, updated_at`

func scanOrder(row rowScanner, extra ...any) (*domain.Order, error) {
	var o domain.Order
	dest := []any{
		&o.ID,
		&o.CheckoutID,
		&o.UserID,
		&o.Shipping.Name,
		&o.Shipping.Email,
		&o.Shipping.Phone,
		&o.Shipping.Address,
		&o.ProductID,
		&o.ProductName,
		&o.Quantity,
		&o.TotalPrice,
		&o.Status,
		&o.Notes,
		&o.TrackingNumber,
		&o.CreatedAt,
		&o.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *pgTx) CreateCheckout(ctx context.Context, c *domain.Checkout) error {
	query := `INSERT INTO checkouts (id, user_id, payment_method, payment_id, subtotal, tax, total, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	          RETURNING created_at`

	err := t.tx.QueryRowContext(ctx, query,
		c.ID,
		c.UserID,
		c.PaymentMethod,
		c.PaymentID,
		c.Subtotal,
		c.Tax,
		c.Total,
	).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert checkout: %w", translate(err))
	}
	return nil
}

func (t *pgTx) CreateOrder(ctx context.Context, o *domain.Order) error {
	query := `INSERT INTO orders (checkout_id, user_id, name, email, phone, address, product_id, product_name,
	              quantity, total_price, status, notes, tracking_number, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
	          RETURNING id, created_at, updated_at`

	err := t.tx.QueryRowContext(ctx, query,
		o.CheckoutID,
		o.UserID,
		o.Shipping.Name,
		o.Shipping.Email,
		o.Shipping.Phone,
		o.Shipping.Address,
		o.ProductID,
		o.ProductName,
		o.Quantity,
		o.TotalPrice,
		o.Status,
		o.Notes,
		o.TrackingNumber,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", translate(err))
	}
	return nil
}

func (t *pgTx) CreateTransaction(ctx context.Context, tr *domain.Transaction) error {
	query := `INSERT INTO transactions (user_id, product_id, order_id, admin_id, payment_id, amount, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, NOW())
	          RETURNING id, created_at`

	err := t.tx.QueryRowContext(ctx, query,
		tr.UserID,
		tr.ProductID,
		tr.OrderID,
		tr.AdminID,
		tr.PaymentID,
		tr.Amount,
	).Scan(&tr.ID, &tr.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", translate(err))
	}
	return nil
}

func (t *pgTx) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	return t.queryOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (t *pgTx) LockOrder(ctx context.Context, id int64) (*domain.Order, error) {
	return t.queryOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) queryOrder(ctx context.Context, query string, id int64) (*domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order %d: %w", id, translate(err))
	}
	return o, nil
}

func (t *pgTx) ListOrders(ctx context.Context, filter OrderFilter) ([]*domain.Order, int, error) {
	query := `SELECT ` + orderColumns + `, COUNT(*) OVER()
	          FROM orders
	          WHERE ($1::bigint = 0 OR user_id = $1) AND ($2 = '' OR status = $2)
	          ORDER BY created_at DESC, id DESC
	          LIMIT NULLIF($3::int, 0) OFFSET $4`

	rows, err := t.tx.QueryContext(ctx, query, filter.UserID, string(filter.Status), filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query orders: %w", translate(err))
	}
	defer rows.Close()

	var (
		orders []*domain.Order
		total  int
	)
	for rows.Next() {
		o, err := scanOrder(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("row iteration error: %w", err)
	}
	return orders, total, nil
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update status of order %d: %w", id, translate(err))
	}
	return expectOne(res)
}

func (t *pgTx) InsertEvent(ctx context.Context, e *OutboxEvent) error {
	query := `INSERT INTO outbox_events (aggregate_id, event_type, payload, created_at)
	          VALUES ($1, $2, $3, NOW())
	          RETURNING id, created_at`

	err := t.tx.QueryRowContext(ctx, query, e.AggregateID, e.EventType, e.Payload).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", translate(err))
	}
	return nil
}
