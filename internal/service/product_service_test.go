package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/media"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storedImage struct {
	contentType string
	data        []byte
}

type fakeImages struct {
	mu     sync.Mutex
	seq    int
	images map[string]storedImage
}

func newFakeImages() *fakeImages {
	return &fakeImages{images: make(map[string]storedImage)}
}

func (f *fakeImages) Put(_ context.Context, productID int64, contentType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("img-%d-%d", productID, f.seq)
	f.images[id] = storedImage{contentType: contentType, data: data}
	return id, nil
}

func (f *fakeImages) Open(_ context.Context, id string) (io.ReadCloser, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[id]
	if !ok {
		return nil, "", media.ErrImageNotFound
	}
	return io.NopCloser(bytes.NewReader(img.data)), img.contentType, nil
}

func (f *fakeImages) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.images[id]; !ok {
		return media.ErrImageNotFound
	}
	delete(f.images, id)
	return nil
}

func (f *fakeImages) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.images)
}

func TestProductCreate_Validation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.products.Create(context.Background(), ProductInput{
		Name:  "",
		Price: decimal.NewFromInt(-1),
		Stock: -3,
	})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	fields := map[string]string{}
	for _, f := range verr.Fields {
		fields[f.Field] = f.Message
	}
	assert.Equal(t, "is required", fields["name"])
	assert.Equal(t, "must be at least 0", fields["stock"])
	assert.Equal(t, "must not be negative", fields["price"])
}

func TestProductUpdate_KeepsSold(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.addProduct(t, "A", 100, 10)
	env.placeOrder(t, 1, p.ID, 2)

	got, err := env.products.Update(ctx, p.ID, ProductInput{Name: "A v2", Price: decimal.NewFromInt(150), Stock: 30})
	require.NoError(t, err)
	assert.Equal(t, "A v2", got.Name)
	assert.Equal(t, 30, got.Stock)
	assert.Equal(t, 2, env.product(t, p.ID).Sold)

	_, err = env.products.Update(ctx, 9999, ProductInput{Name: "x", Price: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProductList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addProduct(t, "A", 100, 1)
	env.addProduct(t, "B", 100, 1)
	_, err := env.products.Create(ctx, ProductInput{Name: "Helmet", Type: "helmet", Price: decimal.NewFromInt(10)})
	require.NoError(t, err)

	all, err := env.products.List(ctx, "", Page{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	assert.Len(t, all.Products, 2)

	helmets, err := env.products.List(ctx, "helmet", Page{})
	require.NoError(t, err)
	require.Len(t, helmets.Products, 1)
	assert.Equal(t, "Helmet", helmets.Products[0].Name)
}

func TestProductImage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.addProduct(t, "A", 100, 1)

	_, _, err := env.products.OpenImage(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.products.SetImage(ctx, p.ID, "text/plain", strings.NewReader("nope"))
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))

	got, err := env.products.SetImage(ctx, p.ID, "image/png", strings.NewReader("first"))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("/api/products/%d/image", p.ID), got.ImageURL())

	_, err = env.products.SetImage(ctx, p.ID, "image/jpeg", strings.NewReader("second"))
	require.NoError(t, err)
	assert.Equal(t, 1, env.images.count(), "replaced image is deleted")

	rc, contentType, err := env.products.OpenImage(ctx, p.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	assert.Equal(t, "image/jpeg", contentType)

	require.NoError(t, env.products.Delete(ctx, p.ID))
	assert.Zero(t, env.images.count())

	_, err = env.products.SetImage(ctx, 9999, "image/png", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProductImage_StorageDisabled(t *testing.T) {
	env := newTestEnv(t)
	products := NewProductService(env.store, nil, logger.Discard())
	p := env.addProduct(t, "A", 100, 1)

	_, err := products.SetImage(context.Background(), p.ID, "image/png", strings.NewReader("x"))
	assert.ErrorIs(t, err, media.ErrNotConfigured)
}
