package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

// pgTx implements Tx on top of one database/sql transaction.
type pgTx struct {
	tx *sql.Tx
}

const productColumns = `id, name, subtitle, description, type, price, stock, sold, image_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner, extra ...any) (*domain.Product, error) {
	var p domain.Product
	dest := []any{
		&p.ID,
		&p.Name,
		&p.Subtitle,
		&p.Description,
		&p.Type,
		&p.Price,
		&p.Stock,
		&p.Sold,
		&p.ImageID,
		&p.CreatedAt,
		&p.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return t.queryProduct(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
}

func (t *pgTx) LockProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return t.queryProduct(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) queryProduct(ctx context.Context, query string, id int64) (*domain.Product, error) {
	p, err := scanProduct(t.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product %d: %w", id, translate(err))
	}
	return p, nil
}

func (t *pgTx) ListProducts(ctx context.Context, filter ProductFilter) ([]*domain.Product, int, error) {
	query := `SELECT ` + productColumns + `, COUNT(*) OVER()
	          FROM products
	          WHERE ($1 = '' OR type = $1)
	          ORDER BY id
	          LIMIT NULLIF($2::int, 0) OFFSET $3`

	rows, err := t.tx.QueryContext(ctx, query, filter.Type, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query products: %w", translate(err))
	}
	defer rows.Close()

	var (
		products []*domain.Product
		total    int
	)
	for rows.Next() {
		p, err := scanProduct(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("row iteration error: %w", err)
	}
	return products, total, nil
}

func (t *pgTx) CreateProduct(ctx context.Context, p *domain.Product) error {
	query := `INSERT INTO products (name, subtitle, description, type, price, stock, sold, image_id, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	          RETURNING id, created_at, updated_at`

	err := t.tx.QueryRowContext(ctx, query,
		p.Name,
		p.Subtitle,
		p.Description,
		p.Type,
		p.Price,
		p.Stock,
		p.Sold,
		p.ImageID,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert product: %w", translate(err))
	}
	return nil
}

func (t *pgTx) UpdateProduct(ctx context.Context, p *domain.Product) error {
	query := `UPDATE products
	          SET name = $2, subtitle = $3, description = $4, type = $5, price = $6, stock = $7, image_id = $8, updated_at = NOW()
	          WHERE id = $1
	          RETURNING updated_at`

	err := t.tx.QueryRowContext(ctx, query,
		p.ID,
		p.Name,
		p.Subtitle,
		p.Description,
		p.Type,
		p.Price,
		p.Stock,
		p.ImageID,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update product %d: %w", p.ID, translate(err))
	}
	return nil
}

func (t *pgTx) DeleteProduct(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product %d: %w", id, translate(err))
	}
	return expectOne(res)
}

func (t *pgTx) DecrementStock(ctx context.Context, id int64, qty int) error {
	return t.adjust(ctx, "stock", id, -qty)
}

func (t *pgTx) IncrementStock(ctx context.Context, id int64, qty int) error {
	return t.adjust(ctx, "stock", id, qty)
}

func (t *pgTx) IncrementSold(ctx context.Context, id int64, qty int) error {
	return t.adjust(ctx, "sold", id, qty)
}

// adjust adds delta to a counter column, refusing to take it below zero.
func (t *pgTx) adjust(ctx context.Context, column string, id int64, delta int) error {
	query := fmt.Sprintf(`UPDATE products SET %[1]s = %[1]s + $2, updated_at = NOW()
	                      WHERE id = $1 AND %[1]s + $2 >= 0`, column)

	res, err := t.tx.ExecContext(ctx, query, id, delta)
	if err != nil {
		return fmt.Errorf("adjust %s of product %d: %w", column, id, translate(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := t.tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check product %d: %w", id, translate(err))
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInsufficientStock
}
