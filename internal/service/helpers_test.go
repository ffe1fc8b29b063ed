package service

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/payment"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	mu       sync.Mutex
	declined bool
	reason   payment.Reason
	onCharge func()
	charges  int
	refunds  []string
}

func (f *fakeProcessor) Charge(_ context.Context, _ payment.Charge) (*payment.Result, error) {
	f.mu.Lock()
	f.charges++
	hook := f.onCharge
	declined, reason := f.declined, f.reason
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	now := time.Now()
	return &payment.Result{
		Approved:      !declined,
		Reason:        reason,
		TransactionID: payment.NewTransactionID(now),
		ProcessedAt:   now,
	}, nil
}

func (f *fakeProcessor) Refund(_ context.Context, txID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, txID)
	return nil
}

func (f *fakeProcessor) refunded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.refunds...)
}

// countingCache is an in-process CartCache that records how it was used.
// It keeps a generation per user the way the Redis cache does.
type countingCache struct {
	mu      sync.Mutex
	carts   map[int64]*domain.Cart
	gens    map[int64]int64
	sets    int
	stale   int
	deletes int

	// beforeSet, when set, runs before the generation check.
	beforeSet func()
}

func newCountingCache() *countingCache {
	return &countingCache{carts: make(map[int64]*domain.Cart), gens: make(map[int64]int64)}
}

func (c *countingCache) Get(_ context.Context, userID int64) (*domain.Cart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cart, ok := c.carts[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return cart, nil
}

func (c *countingCache) Version(_ context.Context, userID int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[userID], nil
}

func (c *countingCache) Set(_ context.Context, userID int64, version int64, cart *domain.Cart) error {
	if c.beforeSet != nil {
		c.beforeSet()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[userID] != version {
		c.stale++
		return cache.ErrStale
	}
	c.sets++
	c.carts[userID] = cart
	return nil
}

func (c *countingCache) Delete(_ context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	c.gens[userID]++
	delete(c.carts, userID)
	return nil
}

type testEnv struct {
	store    *repository.MemoryStore
	cache    *countingCache
	payments *fakeProcessor
	images   *fakeImages
	carts    *CartService
	checkout *CheckoutService
	orders   *OrderService
	products *ProductService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.Discard()
	store := repository.NewMemoryStore(500 * time.Millisecond)
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		store:    store,
		cache:    newCountingCache(),
		payments: &fakeProcessor{},
		images:   newFakeImages(),
	}
	env.carts = NewCartService(store, env.cache, nil, log)
	env.checkout = NewCheckoutService(store, env.carts, env.payments, nil, log)
	env.orders = NewOrderService(store, nil, log)
	env.products = NewProductService(store, env.images, log)
	return env
}

func (e *testEnv) addProduct(t *testing.T, name string, price int64, stock int) *domain.Product {
	t.Helper()
	p, err := e.products.Create(context.Background(), ProductInput{
		Name:  name,
		Type:  "road",
		Price: decimal.NewFromInt(price),
		Stock: stock,
	})
	require.NoError(t, err)
	return p
}

func (e *testEnv) product(t *testing.T, id int64) *domain.Product {
	t.Helper()
	p, err := e.products.Get(context.Background(), id)
	require.NoError(t, err)
	return p
}

// setPrice changes only the price, keeping the current stock.
func (e *testEnv) setPrice(t *testing.T, id int64, price int64) {
	t.Helper()
	p := e.product(t, id)
	_, err := e.products.Update(context.Background(), id, ProductInput{
		Name:  p.Name,
		Type:  p.Type,
		Price: decimal.NewFromInt(price),
		Stock: p.Stock,
	})
	require.NoError(t, err)
}

func (e *testEnv) setStock(t *testing.T, id int64, stock int) {
	t.Helper()
	p := e.product(t, id)
	_, err := e.products.Update(context.Background(), id, ProductInput{
		Name:  p.Name,
		Type:  p.Type,
		Price: p.Price,
		Stock: stock,
	})
	require.NoError(t, err)
}

func (e *testEnv) allOrders(t *testing.T) []*domain.Order {
	t.Helper()
	list, err := e.orders.ListAll(context.Background(), "", Page{})
	require.NoError(t, err)
	return list.Orders
}

func (e *testEnv) cartLines(t *testing.T, userID int64) []domain.CartLineView {
	t.Helper()
	cart, err := e.carts.GetCart(context.Background(), userID)
	require.NoError(t, err)
	return cart.Lines
}

// placeOrder buys qty of the product for the user and returns the single order created.
func (e *testEnv) placeOrder(t *testing.T, userID, productID int64, qty int) *domain.Order {
	t.Helper()
	ctx := context.Background()
	_, err := e.carts.AddItem(ctx, userID, productID, qty)
	require.NoError(t, err)
	res, err := e.checkout.Process(ctx, userID, codRequest())
	require.NoError(t, err)
	require.Len(t, res.Orders, 1)
	return res.Orders[0]
}

func codRequest() CheckoutRequest {
	return CheckoutRequest{
		Name:          "Rani Putri",
		Email:         "rani@example.com",
		Phone:         "+62 812-3456-7890",
		Address:       "Jl. Sudirman 45, Jakarta",
		PaymentMethod: domain.PaymentCOD,
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
