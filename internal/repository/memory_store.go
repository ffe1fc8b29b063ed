package repository

import (
	"context"
	"maps"
	"sort"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

// MemoryStore implements Store in memory. A transaction works on a private copy of
// the data and swaps it in on commit, so a failed callback leaves nothing behind.
// Transactions are serialized by one lock; waiting for it is bounded by the lock timeout.
type MemoryStore struct {
	lock        chan struct{}
	lockTimeout time.Duration
	state       *memState
}

type memState struct {
	products     map[int64]domain.Product
	cart         map[int64]domain.CartLine
	checkouts    map[string]domain.Checkout
	orders       map[int64]domain.Order
	transactions map[int64]domain.Transaction
	events       map[int64]OutboxEvent
	seq          int64
}

func (s *memState) clone() *memState {
	return &memState{
		products:     maps.Clone(s.products),
		cart:         maps.Clone(s.cart),
		checkouts:    maps.Clone(s.checkouts),
		orders:       maps.Clone(s.orders),
		transactions: maps.Clone(s.transactions),
		events:       maps.Clone(s.events),
		seq:          s.seq,
	}
}

func (s *memState) nextID() int64 {
	s.seq++
	return s.seq
}

func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &MemoryStore{
		lock:        make(chan struct{}, 1),
		lockTimeout: lockTimeout,
		state: &memState{
			products:     make(map[int64]domain.Product),
			cart:         make(map[int64]domain.CartLine),
			checkouts:    make(map[string]domain.Checkout),
			orders:       make(map[int64]domain.Order),
			transactions: make(map[int64]domain.Transaction),
			events:       make(map[int64]OutboxEvent),
		},
	}
}

func (m *MemoryStore) acquire(ctx context.Context) error {
	timer := time.NewTimer(m.lockTimeout)
	defer timer.Stop()
	select {
	case m.lock <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemoryStore) release() {
	<-m.lock
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	work := m.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *MemoryStore) FetchPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	var out []*OutboxEvent
	for _, e := range m.state.events {
		if e.ProcessedAt == nil {
			ev := e
			out = append(out, &ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkProcessed(ctx context.Context, id int64) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	e, ok := m.state.events[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	e.ProcessedAt = &now
	m.state.events[id] = e
	return nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

type memTx struct {
	st *memState
}

func (t *memTx) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// LockProduct is GetProduct: the whole transaction already holds the store lock.
func (t *memTx) LockProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return t.GetProduct(ctx, id)
}

func (t *memTx) ListProducts(_ context.Context, filter ProductFilter) ([]*domain.Product, int, error) {
	var all []*domain.Product
	for _, p := range t.st.products {
		if filter.Type != "" && p.Type != filter.Type {
			continue
		}
		prod := p
		all = append(all, &prod)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return page(all, filter.Limit, filter.Offset), len(all), nil
}

func (t *memTx) CreateProduct(_ context.Context, p *domain.Product) error {
	now := time.Now()
	p.ID = t.st.nextID()
	p.CreatedAt, p.UpdatedAt = now, now
	t.st.products[p.ID] = *p
	return nil
}

func (t *memTx) UpdateProduct(_ context.Context, p *domain.Product) error {
	cur, ok := t.st.products[p.ID]
	if !ok {
		return ErrNotFound
	}
	if p.Stock < 0 {
		return ErrInsufficientStock
	}
	p.Sold = cur.Sold
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = time.Now()
	t.st.products[p.ID] = *p
	return nil
}

func (t *memTx) DeleteProduct(_ context.Context, id int64) error {
	if _, ok := t.st.products[id]; !ok {
		return ErrNotFound
	}
	delete(t.st.products, id)
	return nil
}

func (t *memTx) DecrementStock(_ context.Context, id int64, qty int) error {
	return t.adjust(id, -qty, 0)
}

func (t *memTx) IncrementStock(_ context.Context, id int64, qty int) error {
	return t.adjust(id, qty, 0)
}

func (t *memTx) IncrementSold(_ context.Context, id int64, qty int) error {
	return t.adjust(id, 0, qty)
}

func (t *memTx) adjust(id int64, stockDelta, soldDelta int) error {
	p, ok := t.st.products[id]
	if !ok {
		return ErrNotFound
	}
	if p.Stock+stockDelta < 0 || p.Sold+soldDelta < 0 {
		return ErrInsufficientStock
	}
	p.Stock += stockDelta
	p.Sold += soldDelta
	p.UpdatedAt = time.Now()
	t.st.products[id] = p
	return nil
}

func (t *memTx) ListCartLines(_ context.Context, userID int64) ([]domain.CartLine, error) {
	var lines []domain.CartLine
	for _, l := range t.st.cart {
		if l.UserID == userID {
			lines = append(lines, l)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines, nil
}

func (t *memTx) GetCartLine(_ context.Context, userID, lineID int64) (*domain.CartLine, error) {
	l, ok := t.st.cart[lineID]
	if !ok || l.UserID != userID {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (t *memTx) FindCartLine(_ context.Context, userID, productID int64) (*domain.CartLine, error) {
	for _, l := range t.st.cart {
		if l.UserID == userID && l.ProductID == productID {
			line := l
			return &line, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) InsertCartLine(ctx context.Context, line *domain.CartLine) error {
	if _, err := t.FindCartLine(ctx, line.UserID, line.ProductID); err == nil {
		return ErrDuplicate
	}
	line.ID = t.st.nextID()
	line.AddedAt = time.Now()
	t.st.cart[line.ID] = *line
	return nil
}

func (t *memTx) UpdateCartLine(_ context.Context, userID, lineID int64, qty int, price decimal.Decimal) error {
	l, ok := t.st.cart[lineID]
	if !ok || l.UserID != userID {
		return ErrNotFound
	}
	l.Quantity = qty
	l.Price = price
	t.st.cart[lineID] = l
	return nil
}

func (t *memTx) DeleteCartLine(_ context.Context, userID, lineID int64) error {
	l, ok := t.st.cart[lineID]
	if !ok || l.UserID != userID {
		return ErrNotFound
	}
	delete(t.st.cart, lineID)
	return nil
}

func (t *memTx) ClearCart(_ context.Context, userID int64) (int64, error) {
	var n int64
	for id, l := range t.st.cart {
		if l.UserID == userID {
			delete(t.st.cart, id)
			n++
		}
	}
	return n, nil
}

func (t *memTx) CreateCheckout(_ context.Context, c *domain.Checkout) error {
	if _, ok := t.st.checkouts[c.ID.String()]; ok {
		return ErrDuplicate
	}
	c.CreatedAt = time.Now()
	t.st.checkouts[c.ID.String()] = *c
	return nil
}

func (t *memTx) CreateOrder(_ context.Context, o *domain.Order) error {
	if _, ok := t.st.checkouts[o.CheckoutID.String()]; !ok {
		return ErrNotFound
	}
	now := time.Now()
	o.ID = t.st.nextID()
	o.CreatedAt, o.UpdatedAt = now, now
	t.st.orders[o.ID] = *o
	return nil
}

func (t *memTx) CreateTransaction(_ context.Context, tr *domain.Transaction) error {
	if _, ok := t.st.orders[tr.OrderID]; !ok {
		return ErrNotFound
	}
	tr.ID = t.st.nextID()
	tr.CreatedAt = time.Now()
	t.st.transactions[tr.ID] = *tr
	return nil
}

func (t *memTx) GetOrder(_ context.Context, id int64) (*domain.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (t *memTx) LockOrder(ctx context.Context, id int64) (*domain.Order, error) {
	return t.GetOrder(ctx, id)
}

func (t *memTx) ListOrders(_ context.Context, filter OrderFilter) ([]*domain.Order, int, error) {
	var all []*domain.Order
	for _, o := range t.st.orders {
		if filter.UserID != 0 && o.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		ord := o
		all = append(all, &ord)
	}
	// newest first; ids are monotonic so they break creation-time ties
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return page(all, filter.Limit, filter.Offset), len(all), nil
}

func (t *memTx) UpdateOrderStatus(_ context.Context, id int64, status domain.OrderStatus) error {
	o, ok := t.st.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	t.st.orders[id] = o
	return nil
}

func (t *memTx) InsertEvent(_ context.Context, e *OutboxEvent) error {
	e.ID = t.st.nextID()
	e.CreatedAt = time.Now()
	t.st.events[e.ID] = *e
	return nil
}

// Transactions returns a copy of the transaction ledger, for tests and diagnostics.
func (m *MemoryStore) Transactions() []domain.Transaction {
	m.lock <- struct{}{}
	defer m.release()
	out := make([]domain.Transaction, 0, len(m.state.transactions))
	for _, tr := range m.state.transactions {
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
