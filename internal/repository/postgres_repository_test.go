package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*Repository, func()) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "./migrations",
		LockTimeout:       300 * time.Millisecond,
	}

	repo, err := NewRepository(creds)
	require.NoError(t, err)

	err = repo.RunMigrations(creds)
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return repo, cleanup
}

func newTestProduct(stock int) *domain.Product {
	return &domain.Product{
		Name:     "Gravel Pro",
		Subtitle: "Carbon gravel bike",
		Type:     "gravel",
		Price:    decimal.NewFromInt(50000),
		Stock:    stock,
	}
}

func TestSeededProducts(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	err := repo.InTx(ctx, func(tx Tx) error {
		products, total, err := tx.ListProducts(ctx, ProductFilter{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Len(t, products, 2)
		return nil
	})
	require.NoError(t, err)
}

func TestProductStockAdjustments(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	p := newTestProduct(5)
	require.NoError(t, repo.InTx(ctx, func(tx Tx) error { return tx.CreateProduct(ctx, p) }))

	err := repo.InTx(ctx, func(tx Tx) error {
		if err := tx.DecrementStock(ctx, p.ID, 3); err != nil {
			return err
		}
		return tx.IncrementSold(ctx, p.ID, 3)
	})
	require.NoError(t, err)

	err = repo.InTx(ctx, func(tx Tx) error { return tx.DecrementStock(ctx, p.ID, 3) })
	assert.ErrorIs(t, err, ErrInsufficientStock)

	err = repo.InTx(ctx, func(tx Tx) error { return tx.DecrementStock(ctx, 424242, 1) })
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.InTx(ctx, func(tx Tx) error {
		got, err := tx.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Stock)
		assert.Equal(t, 3, got.Sold)
		return nil
	}))
}

func TestInTx_RollsBackEverything(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	p := newTestProduct(5)
	require.NoError(t, repo.InTx(ctx, func(tx Tx) error { return tx.CreateProduct(ctx, p) }))

	err := repo.InTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.InsertCartLine(ctx, &domain.CartLine{UserID: 1, ProductID: p.ID, Quantity: 2, Price: p.Price}))
		require.NoError(t, tx.DecrementStock(ctx, p.ID, 2))
		return tx.DecrementStock(ctx, p.ID, 10)
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)

	require.NoError(t, repo.InTx(ctx, func(tx Tx) error {
		got, err := tx.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.Stock)

		lines, err := tx.ListCartLines(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, lines)
		return nil
	}))
}

func TestCartLines(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	p := newTestProduct(5)
	require.NoError(t, repo.InTx(ctx, func(tx Tx) error { return tx.CreateProduct(ctx, p) }))

	line := &domain.CartLine{UserID: 1, ProductID: p.ID, Quantity: 2, Price: p.Price}
	require.NoError(t, repo.InTx(ctx, func(tx Tx) error { return tx.InsertCartLine(ctx, line) }))
	assert.NotZero(t, line.ID)

	err := repo.InTx(ctx, func(tx Tx) error {
		return tx.InsertCartLine(ctx, &domain.CartLine{UserID: 1, ProductID: p.ID, Quantity: 1, Price: p.Price})
	})
	assert.ErrorIs(t, err, ErrDuplicate)

	require.NoError(t, repo.InTx(ctx, func(tx Tx) error {
		return tx.UpdateCartLine(ctx, 1, line.ID, 4, decimal.NewFromInt(60000))
	}))

	err = repo.InTx(ctx, func(tx Tx) error { return tx.DeleteCartLine(ctx, 2, line.ID) })
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.InTx(ctx, func(tx Tx) error {
		got, err := tx.FindCartLine(ctx, 1, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, got.Quantity)
		assert.True(t, decimal.NewFromInt(60000).Equal(got.Price))

		n, err := tx.ClearCart(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return nil
	}))
}

func TestOrdersAndOutbox(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	checkout := &domain.Checkout{
		ID:            uuid.New(),
		UserID:        3,
		PaymentMethod: domain.PaymentCOD,
		PaymentID:     "TX2026100123456789",
		Subtotal:      decimal.NewFromInt(100),
		Tax:           decimal.NewFromInt(10),
		Total:         decimal.NewFromInt(110),
	}
	order := &domain.Order{
		CheckoutID:  checkout.ID,
		UserID:      3,
		Shipping:    domain.Shipping{Name: "Rider", Email: "rider@example.com", Phone: "081234567890", Address: "Jl. Sepeda 1"},
		ProductID:   1,
		ProductName: "Trailblazer 29",
		Quantity:    1,
		TotalPrice:  decimal.NewFromInt(100),
		Status:      domain.OrderStatusPending,
	}

	require.NoError(t, repo.InTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.CreateCheckout(ctx, checkout))
		require.NoError(t, tx.CreateOrder(ctx, order))
		require.NoError(t, tx.CreateTransaction(ctx, &domain.Transaction{
			UserID: 3, ProductID: 1, OrderID: order.ID, PaymentID: checkout.PaymentID, Amount: order.TotalPrice,
		}))
		return tx.InsertEvent(ctx, &OutboxEvent{AggregateID: checkout.ID.String(), EventType: "checkout.completed", Payload: []byte(`{"ok":true}`)})
	}))

	require.NoError(t, repo.InTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusShipped))
		got, err := tx.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusShipped, got.Status)
		assert.Equal(t, checkout.ID, got.CheckoutID)
		assert.Equal(t, "Rider", got.Shipping.Name)

		orders, total, err := tx.ListOrders(ctx, OrderFilter{UserID: 3})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Len(t, orders, 1)

		_, err = tx.GetOrder(ctx, 999999)
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	}))

	events, err := repo.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "checkout.completed", events[0].EventType)
	require.NoError(t, repo.MarkProcessed(ctx, events[0].ID))

	events, err = repo.FetchPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

// addToCart is the add-to-cart sequence the cart service runs: lock the product,
// then merge into the existing line or insert a new one.
func addToCart(ctx context.Context, tx Tx, userID, productID int64, qty int) error {
	p, err := tx.LockProduct(ctx, productID)
	if err != nil {
		return err
	}
	line, err := tx.FindCartLine(ctx, userID, productID)
	if errors.Is(err, ErrNotFound) {
		return tx.InsertCartLine(ctx, &domain.CartLine{UserID: userID, ProductID: productID, Quantity: qty, Price: p.Price})
	}
	if err != nil {
		return err
	}
	return tx.UpdateCartLine(ctx, userID, line.ID, line.Quantity+qty, p.Price)
}

func TestCartLines_ConcurrentAddsMerge(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	p := newTestProduct(50)
	require.NoError(t, repo.InTx(ctx, func(tx Tx) error { return tx.CreateProduct(ctx, p) }))

	const adders = 4
	start := make(chan struct{})
	errs := make(chan error, adders)
	var wg sync.WaitGroup
	for i := 0; i < adders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- repo.InTx(ctx, func(tx Tx) error { return addToCart(ctx, tx, 1, p.ID, 1) })
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	require.NoError(t, repo.InTx(ctx, func(tx Tx) error {
		lines, err := tx.ListCartLines(ctx, 1)
		require.NoError(t, err)
		require.Len(t, lines, 1)
		assert.Equal(t, adders, lines[0].Quantity)
		return nil
	}))
}

func TestLockProduct_TimesOut(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	p := newTestProduct(5)
	require.NoError(t, repo.InTx(ctx, func(tx Tx) error { return tx.CreateProduct(ctx, p) }))

	locked := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = repo.InTx(ctx, func(tx Tx) error {
			if _, err := tx.LockProduct(ctx, p.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	err := repo.InTx(ctx, func(tx Tx) error {
		_, err := tx.LockProduct(ctx, p.ID)
		return err
	})
	assert.ErrorIs(t, err, ErrLockTimeout)

	close(release)
	wg.Wait()
}

func TestContextCancellation(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Nanosecond)
	defer cancel()

	time.Sleep(10 * time.Millisecond) // Ensure context is cancelled

	err := repo.InTx(ctx, func(tx Tx) error {
		_, err := tx.GetProduct(ctx, 1)
		return err
	})
	assert.Error(t, err)
}
