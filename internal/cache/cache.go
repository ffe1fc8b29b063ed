package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

// CartCache holds rendered cart views. Every cart write bumps the user's generation
// through Delete; a fill must present the generation it read before loading the cart,
// so a reader that loaded before a write can never store its older view.
type CartCache interface {
	Get(ctx context.Context, userID int64) (*domain.Cart, error)
	// Version returns the current generation, zero when none was recorded.
	Version(ctx context.Context, userID int64) (int64, error)
	// Set stores cart only if the generation still equals version, else ErrStale.
	Set(ctx context.Context, userID int64, version int64, cart *domain.Cart) error
	Delete(ctx context.Context, userID int64) error
}

var (
	ErrCacheMiss = errors.New("cache miss")
	ErrStale     = errors.New("cart changed since it was loaded")
)

// NopCache always misses. Used when no Redis address is configured.
type NopCache struct{}

func (NopCache) Get(context.Context, int64) (*domain.Cart, error) { return nil, ErrCacheMiss }

func (NopCache) Version(context.Context, int64) (int64, error) { return 0, nil }

func (NopCache) Set(context.Context, int64, int64, *domain.Cart) error { return nil }

func (NopCache) Delete(context.Context, int64) error { return nil }
