package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicate         = errors.New("record already exists")
	ErrLockTimeout       = errors.New("timed out waiting for row lock")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
	LockTimeout       time.Duration
}

type ProductFilter struct {
	Type   string
	Limit  int
	Offset int
}

type OrderFilter struct {
	UserID int64
	Status domain.OrderStatus
	Limit  int
	Offset int
}

type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// ProductRepository is the catalog side of a transaction. LockProduct holds an
// exclusive lock on the row until the enclosing transaction ends. The stock and sold
// adjustments never let either counter go below zero; quantities may be negative to reverse.
type ProductRepository interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	LockProduct(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]*domain.Product, int, error)
	CreateProduct(ctx context.Context, p *domain.Product) error
	UpdateProduct(ctx context.Context, p *domain.Product) error
	DeleteProduct(ctx context.Context, id int64) error
	DecrementStock(ctx context.Context, id int64, qty int) error
	IncrementStock(ctx context.Context, id int64, qty int) error
	IncrementSold(ctx context.Context, id int64, qty int) error
}

type CartRepository interface {
	ListCartLines(ctx context.Context, userID int64) ([]domain.CartLine, error)
	GetCartLine(ctx context.Context, userID, lineID int64) (*domain.CartLine, error)
	FindCartLine(ctx context.Context, userID, productID int64) (*domain.CartLine, error)
	InsertCartLine(ctx context.Context, line *domain.CartLine) error
	UpdateCartLine(ctx context.Context, userID, lineID int64, qty int, price decimal.Decimal) error
	DeleteCartLine(ctx context.Context, userID, lineID int64) error
	ClearCart(ctx context.Context, userID int64) (int64, error)
}

type OrderRepository interface {
	CreateCheckout(ctx context.Context, c *domain.Checkout) error
	CreateOrder(ctx context.Context, o *domain.Order) error
	CreateTransaction(ctx context.Context, t *domain.Transaction) error
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	LockOrder(ctx context.Context, id int64) (*domain.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]*domain.Order, int, error)
	UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus) error
}

type OutboxRepository interface {
	InsertEvent(ctx context.Context, e *OutboxEvent) error
}

// Tx is one unit of work. It is only valid inside the callback passed to Store.InTx.
type Tx interface {
	ProductRepository
	CartRepository
	OrderRepository
	OutboxRepository
}

// Store hands out transactions. InTx commits when fn returns nil and rolls back on
// every other exit path, including panics.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	FetchPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
	Close() error
}
