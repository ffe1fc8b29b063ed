package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

const cartColumns = `id, user_id, product_id, quantity, price, added_at`

func scanCartLine(row rowScanner) (*domain.CartLine, error) {
	var l domain.CartLine
	if err := row.Scan(&l.ID, &l.UserID, &l.ProductID, &l.Quantity, &l.Price, &l.AddedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func (t *pgTx) ListCartLines(ctx context.Context, userID int64) ([]domain.CartLine, error) {
	query := `SELECT ` + cartColumns + ` FROM cart_items WHERE user_id = $1 ORDER BY added_at, id`

	rows, err := t.tx.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query cart of user %d: %w", userID, translate(err))
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		l, err := scanCartLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return lines, nil
}

func (t *pgTx) GetCartLine(ctx context.Context, userID, lineID int64) (*domain.CartLine, error) {
	query := `SELECT ` + cartColumns + ` FROM cart_items WHERE id = $1 AND user_id = $2`
	return t.queryCartLine(ctx, query, lineID, userID)
}

func (t *pgTx) FindCartLine(ctx context.Context, userID, productID int64) (*domain.CartLine, error) {
	query := `SELECT ` + cartColumns + ` FROM cart_items WHERE user_id = $1 AND product_id = $2`
	return t.queryCartLine(ctx, query, userID, productID)
}

func (t *pgTx) queryCartLine(ctx context.Context, query string, args ...any) (*domain.CartLine, error) {
	l, err := scanCartLine(t.tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cart line: %w", translate(err))
	}
	return l, nil
}

func (t *pgTx) InsertCartLine(ctx context.Context, line *domain.CartLine) error {
	query := `INSERT INTO cart_items (user_id, product_id, quantity, price, added_at)
	          VALUES ($1, $2, $3, $4, NOW())
	          RETURNING id, added_at`

	err := t.tx.QueryRowContext(ctx, query, line.UserID, line.ProductID, line.Quantity, line.Price).
		Scan(&line.ID, &line.AddedAt)
	if err != nil {
		return fmt.Errorf("insert cart line: %w", translate(err))
	}
	return nil
}

func (t *pgTx) UpdateCartLine(ctx context.Context, userID, lineID int64, qty int, price decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE cart_items SET quantity = $3, price = $4 WHERE id = $1 AND user_id = $2`,
		lineID, userID, qty, price)
	if err != nil {
		return fmt.Errorf("update cart line %d: %w", lineID, translate(err))
	}
	return expectOne(res)
}

func (t *pgTx) DeleteCartLine(ctx context.Context, userID, lineID int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1 AND user_id = $2`, lineID, userID)
	if err != nil {
		return fmt.Errorf("delete cart line %d: %w", lineID, translate(err))
	}
	return expectOne(res)
}

func (t *pgTx) ClearCart(ctx context.Context, userID int64) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("clear cart of user %d: %w", userID, translate(err))
	}
	return res.RowsAffected()
}
