package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/media"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type ProductInput struct {
	Name        string          `json:"name" validate:"required,max=200"`
	Subtitle    string          `json:"subtitle" validate:"max=200"`
	Description string          `json:"description" validate:"max=5000"`
	Type        string          `json:"type" validate:"max=50"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock" validate:"gte=0"`
}

type ProductList struct {
	Products []*domain.Product `json:"products"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// ProductService is the admin catalog. Stock set here is absolute; checkout and
// cancellation adjust it relatively under row locks.
type ProductService struct {
	store    repository.Store
	images   media.ImageStore
	validate *validator.Validate
	log      *slog.Logger
}

func NewProductService(store repository.Store, images media.ImageStore, log *slog.Logger) *ProductService {
	if images == nil {
		images = media.Disabled{}
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	return &ProductService{store: store, images: images, validate: v, log: log}
}

func (s *ProductService) List(ctx context.Context, productType string, page Page) (*ProductList, error) {
	if page.Limit < 0 || page.Offset < 0 {
		return nil, fieldError("limit", "must not be negative")
	}
	out := &ProductList{Limit: page.Limit, Offset: page.Offset}
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		out.Products, out.Total, err = tx.ListProducts(ctx, repository.ProductFilter{
			Type:   productType,
			Limit:  page.Limit,
			Offset: page.Offset,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if out.Products == nil {
		out.Products = []*domain.Product{}
	}
	return out, nil
}

func (s *ProductService) Get(ctx context.Context, id int64) (*domain.Product, error) {
	var p *domain.Product
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		p, err = tx.GetProduct(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("product %d: %w", id, err)
	}
	return p, nil
}

func (s *ProductService) Create(ctx context.Context, in ProductInput) (*domain.Product, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	p := &domain.Product{
		Name:        in.Name,
		Subtitle:    in.Subtitle,
		Description: in.Description,
		Type:        in.Type,
		Price:       in.Price,
		Stock:       in.Stock,
	}
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		return tx.CreateProduct(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Update replaces the editable fields. The row is locked so an admin edit cannot
// interleave with a checkout decrementing the same stock.
func (s *ProductService) Update(ctx context.Context, id int64, in ProductInput) (*domain.Product, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	var p *domain.Product
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		p, err = tx.LockProduct(ctx, id)
		if err != nil {
			return err
		}
		p.Name = in.Name
		p.Subtitle = in.Subtitle
		p.Description = in.Description
		p.Type = in.Type
		p.Price = in.Price
		p.Stock = in.Stock
		return tx.UpdateProduct(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("product %d: %w", id, err)
	}
	return p, nil
}

// Delete removes the product. Cart lines pointing at it stay and are reported as
// no longer available; orders keep their snapshot.
func (s *ProductService) Delete(ctx context.Context, id int64) error {
	var imageID string
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		p, err := tx.LockProduct(ctx, id)
		if err != nil {
			return err
		}
		imageID = p.ImageID
		return tx.DeleteProduct(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("product %d: %w", id, err)
	}
	if imageID != "" {
		s.dropImage(ctx, imageID)
	}
	return nil
}

func (s *ProductService) SetImage(ctx context.Context, id int64, contentType string, r io.Reader) (*domain.Product, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fieldError("image", "must be an image")
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	imageID, err := s.images.Put(ctx, id, contentType, r)
	if err != nil {
		return nil, err
	}

	var (
		p   *domain.Product
		old string
	)
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		p, err = tx.LockProduct(ctx, id)
		if err != nil {
			return err
		}
		old = p.ImageID
		p.ImageID = imageID
		return tx.UpdateProduct(ctx, p)
	})
	if err != nil {
		s.dropImage(ctx, imageID)
		return nil, fmt.Errorf("product %d: %w", id, err)
	}
	if old != "" {
		s.dropImage(ctx, old)
	}
	return p, nil
}

func (s *ProductService) OpenImage(ctx context.Context, id int64) (io.ReadCloser, string, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !p.HasImage() {
		return nil, "", fmt.Errorf("image of product %d: %w", id, ErrNotFound)
	}
	rc, contentType, err := s.images.Open(ctx, p.ImageID)
	if errors.Is(err, media.ErrImageNotFound) {
		return nil, "", fmt.Errorf("image of product %d: %w", id, ErrNotFound)
	}
	return rc, contentType, err
}

func (s *ProductService) check(in ProductInput) error {
	verr := &ValidationError{Message: "invalid product"}
	if err := s.validate.Struct(in); err != nil {
		var errs validator.ValidationErrors
		if !errors.As(err, &errs) {
			return fmt.Errorf("validate product: %w", err)
		}
		for _, fe := range errs {
			verr.Fields = append(verr.Fields, FieldError{Field: fieldName(fe), Message: tagMessage(fe)})
		}
	}
	if in.Price.IsNegative() {
		verr.Fields = append(verr.Fields, FieldError{Field: "price", Message: "must not be negative"})
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func (s *ProductService) dropImage(ctx context.Context, imageID string) {
	if err := s.images.Delete(ctx, imageID); err != nil && !errors.Is(err, media.ErrImageNotFound) {
		s.log.WarnContext(ctx, "failed to delete product image", "image_id", imageID, "error", err)
	}
}
