package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

type CartService struct {
	store   repository.Store
	cache   cache.CartCache
	metrics *metrics.Metrics
	log     *slog.Logger
	sfg     singleflight.Group // Prevents cache stampede
}

func NewCartService(store repository.Store, c cache.CartCache, m *metrics.Metrics, log *slog.Logger) *CartService {
	if c == nil {
		c = cache.NopCache{}
	}
	return &CartService{
		store:   store,
		cache:   c,
		metrics: m,
		log:     log,
	}
}

// CheckoutPreview is a cart that passed validation, priced from the live catalog.
type CheckoutPreview struct {
	Items   []domain.CartLineView `json:"items"`
	Summary domain.CartSummary    `json:"summary"`
}

func (s *CartService) GetCart(ctx context.Context, userID int64) (*domain.Cart, error) {
	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			s.metrics.CartCache(true)
			return cart, nil
		}
		s.metrics.CartCache(false)
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WarnContext(ctx, "cart cache get failed", "user_id", userID, "error", err)
		}

		// read the generation before loading so a write committed meanwhile refuses our fill
		version, errVersion := s.cache.Version(ctx, userID)
		if errVersion != nil {
			s.log.WarnContext(ctx, "cart cache version failed", "user_id", userID, "error", errVersion)
		}

		err = s.store.InTx(ctx, func(tx repository.Tx) error {
			var errLoad error
			cart, errLoad = loadCart(ctx, tx, userID)
			return errLoad
		})
		if err != nil {
			return nil, err
		}

		if errVersion != nil {
			return cart, nil
		}
		switch errSet := s.cache.Set(ctx, userID, version, cart); {
		case errSet == nil:
		case errors.Is(errSet, cache.ErrStale):
			s.log.DebugContext(ctx, "cart changed during load, not cached", "user_id", userID)
		default:
			s.log.WarnContext(ctx, "cart cache set failed", "user_id", userID, "error", errSet)
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.Cart), nil
}

// loadCart joins each line with the live product. The summary is priced from the
// stored cart price; lines whose product is gone are kept so the user can remove them.
func loadCart(ctx context.Context, tx repository.Tx, userID int64) (*domain.Cart, error) {
	lines, err := tx.ListCartLines(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]domain.CartLineView, 0, len(lines))
	for _, line := range lines {
		view := domain.CartLineView{
			CartLine: line,
			Subtotal: line.Price.Mul(decimal.NewFromInt(int64(line.Quantity))),
		}
		p, err := tx.GetProduct(ctx, line.ProductID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return nil, err
		default:
			view.Name = p.Name
			view.Subtitle = p.Subtitle
			view.Live = p.Price
			view.Stock = p.Stock
			view.ImageURL = p.ImageURL()
		}
		views = append(views, view)
	}

	return &domain.Cart{
		UserID:  userID,
		Lines:   views,
		Summary: domain.Summarize(views, viewQuantity, storedPrice),
	}, nil
}

func viewQuantity(v domain.CartLineView) int { return v.Quantity }

func storedPrice(v domain.CartLineView) decimal.Decimal { return v.Price }

func livePrice(v domain.CartLineView) decimal.Decimal { return v.Live }

// AddItem creates the line or adds qty to the existing one. Stock is checked against the
// combined quantity but not reserved. The product row lock serializes adds of the same
// product, so a second add sees the first one's line instead of inserting a duplicate.
func (s *CartService) AddItem(ctx context.Context, userID, productID int64, qty int) (*domain.CartLine, error) {
	if qty <= 0 {
		return nil, fieldError("quantity", "must be greater than zero")
	}
	if productID <= 0 {
		return nil, fieldError("productId", "is required")
	}

	var result *domain.CartLine
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		p, err := tx.LockProduct(ctx, productID)
		if err != nil {
			return fmt.Errorf("product %d: %w", productID, err)
		}

		line, err := tx.FindCartLine(ctx, userID, productID)
		if errors.Is(err, repository.ErrNotFound) {
			if p.Stock < qty {
				return stockError(p, qty)
			}
			line = &domain.CartLine{UserID: userID, ProductID: productID, Quantity: qty, Price: p.Price}
			if err := tx.InsertCartLine(ctx, line); err != nil {
				return err
			}
			result = line
			return nil
		}
		if err != nil {
			return err
		}

		total := line.Quantity + qty
		if p.Stock < total {
			return stockError(p, total)
		}
		if err := tx.UpdateCartLine(ctx, userID, line.ID, total, p.Price); err != nil {
			return err
		}
		line.Quantity = total
		line.Price = p.Price
		result = line
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(userID)
	return result, nil
}

// UpdateItem sets the line quantity. Zero removes the line.
func (s *CartService) UpdateItem(ctx context.Context, userID, lineID int64, qty int) (*domain.CartLine, error) {
	if qty < 0 {
		return nil, fieldError("quantity", "must not be negative")
	}
	if qty == 0 {
		return nil, s.RemoveItem(ctx, userID, lineID)
	}

	var result *domain.CartLine
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		line, err := tx.GetCartLine(ctx, userID, lineID)
		if err != nil {
			return fmt.Errorf("cart item %d: %w", lineID, err)
		}
		p, err := tx.GetProduct(ctx, line.ProductID)
		if err != nil {
			return fmt.Errorf("product %d: %w", line.ProductID, err)
		}
		if p.Stock < qty {
			return stockError(p, qty)
		}
		if err := tx.UpdateCartLine(ctx, userID, lineID, qty, p.Price); err != nil {
			return err
		}
		line.Quantity = qty
		line.Price = p.Price
		result = line
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(userID)
	return result, nil
}

func (s *CartService) RemoveItem(ctx context.Context, userID, lineID int64) error {
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.DeleteCartLine(ctx, userID, lineID); err != nil {
			return fmt.Errorf("cart item %d: %w", lineID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidate(userID)
	return nil
}

func (s *CartService) Clear(ctx context.Context, userID int64) error {
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		_, err := tx.ClearCart(ctx, userID)
		return err
	})
	if err != nil {
		return err
	}

	s.invalidate(userID)
	return nil
}

// ValidateForCheckout runs the checkout validation in its own transaction.
func (s *CartService) ValidateForCheckout(ctx context.Context, userID int64) (*CheckoutPreview, error) {
	var preview *CheckoutPreview
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		preview, err = validateForCheckout(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return preview, nil
}

// validateForCheckout locks every product in the cart and reports all line issues at once.
func validateForCheckout(ctx context.Context, tx repository.Tx, userID int64) (*CheckoutPreview, error) {
	lines, err := tx.ListCartLines(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	products, err := lockProducts(ctx, tx, lines)
	if err != nil {
		return nil, err
	}

	var issues []domain.LineIssue
	views := make([]domain.CartLineView, 0, len(lines))
	for _, line := range lines {
		p, ok := products[line.ProductID]
		if !ok {
			issues = append(issues, domain.LineIssue{
				LineID:    line.ID,
				ProductID: line.ProductID,
				Kind:      domain.IssueNoLongerAvailable,
				Requested: line.Quantity,
			})
			continue
		}

		if p.Stock < line.Quantity {
			issues = append(issues, domain.LineIssue{
				LineID:      line.ID,
				ProductID:   p.ID,
				ProductName: p.Name,
				Kind:        domain.IssueInsufficientStock,
				Requested:   line.Quantity,
				Available:   p.Stock,
			})
		}
		if !line.Price.Equal(p.Price) {
			oldPrice, newPrice := line.Price, p.Price
			issues = append(issues, domain.LineIssue{
				LineID:      line.ID,
				ProductID:   p.ID,
				ProductName: p.Name,
				Kind:        domain.IssuePriceChanged,
				OldPrice:    &oldPrice,
				NewPrice:    &newPrice,
			})
		}

		views = append(views, domain.CartLineView{
			CartLine: line,
			Name:     p.Name,
			Subtitle: p.Subtitle,
			Live:     p.Price,
			Stock:    p.Stock,
			ImageURL: p.ImageURL(),
			Subtotal: p.Price.Mul(decimal.NewFromInt(int64(line.Quantity))),
		})
	}

	if len(issues) > 0 {
		return nil, &ValidationError{Message: "some cart items are no longer valid", Lines: issues}
	}

	return &CheckoutPreview{
		Items:   views,
		Summary: domain.Summarize(views, viewQuantity, livePrice),
	}, nil
}

// lockProducts takes the row locks in ascending product id order so two checkouts
// sharing products cannot deadlock. Missing products are absent from the result.
func lockProducts(ctx context.Context, tx repository.Tx, lines []domain.CartLine) (map[int64]*domain.Product, error) {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	products := make(map[int64]*domain.Product, len(ids))
	for _, id := range ids {
		if _, seen := products[id]; seen {
			continue
		}
		p, err := tx.LockProduct(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		products[id] = p
	}
	return products, nil
}

func stockError(p *domain.Product, requested int) error {
	return fmt.Errorf("%w: %s has %d in stock, %d requested", ErrInsufficientStock, p.Name, p.Stock, requested)
}

func (s *CartService) invalidate(userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.Warn("cart cache invalidate failed", "user_id", userID, "error", err)
	}
}
