package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	maxJitter     = 5 * time.Minute
	minGeneration = 24 * time.Hour
)

// RedisCache keeps each cart under cart:<user> next to a generation counter under
// cart:<user>:gen. The counter outlives the cart entry so an old fill cannot match a
// counter that expired and restarted at zero.
type RedisCache struct {
	client        *redis.Client
	baseTTL       time.Duration
	generationTTL time.Duration
}

func NewRedisCache(client *redis.Client, baseTTL time.Duration) *RedisCache {
	if baseTTL <= 0 {
		baseTTL = 15 * time.Minute
	}
	genTTL := 2 * (baseTTL + maxJitter)
	if genTTL < minGeneration {
		genTTL = minGeneration
	}
	return &RedisCache{client: client, baseTTL: baseTTL, generationTTL: genTTL}
}

func (r *RedisCache) Get(ctx context.Context, userID int64) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cartKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return &cart, nil
}

func (r *RedisCache) Version(ctx context.Context, userID int64) (int64, error) {
	v, err := generation(ctx, r.client, userID)
	if err != nil {
		return 0, fmt.Errorf("redis get generation failed: %w", err)
	}
	return v, nil
}

// Set writes the cart under WATCH on the generation key: a Delete that lands between
// the check and EXEC aborts the transaction.
func (r *RedisCache) Set(ctx context.Context, userID int64, version int64, cart *domain.Cart) error {
	payload, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	// jitter spreads expiry so carts cached together do not all miss together
	ttl := r.baseTTL + time.Duration(rand.Int63n(int64(maxJitter)))

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := generation(ctx, tx, userID)
		if err != nil {
			return err
		}
		if current != version {
			return ErrStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cartKey(userID), payload, ttl)
			return nil
		})
		return err
	}, generationKey(userID))

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStale), errors.Is(err, redis.TxFailedErr):
		return ErrStale
	default:
		return fmt.Errorf("redis set failed: %w", err)
	}
}

// Delete drops the cart and moves the generation forward in one MULTI block.
func (r *RedisCache) Delete(ctx context.Context, userID int64) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(userID))
		pipe.Expire(ctx, generationKey(userID), r.generationTTL)
		pipe.Del(ctx, cartKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func generation(ctx context.Context, c redis.Cmdable, userID int64) (int64, error) {
	v, err := c.Get(ctx, generationKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func cartKey(userID int64) string {
	return fmt.Sprintf("cart:%d", userID)
}

func generationKey(userID int64) string {
	return fmt.Sprintf("cart:%d:gen", userID)
}
