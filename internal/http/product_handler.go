package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/service"
)

type ProductsAPI interface {
	List(ctx context.Context, productType string, page service.Page) (*service.ProductList, error)
	Get(ctx context.Context, id int64) (*domain.Product, error)
	Create(ctx context.Context, in service.ProductInput) (*domain.Product, error)
	Update(ctx context.Context, id int64, in service.ProductInput) (*domain.Product, error)
	Delete(ctx context.Context, id int64) error
	SetImage(ctx context.Context, id int64, contentType string, r io.Reader) (*domain.Product, error)
	OpenImage(ctx context.Context, id int64) (io.ReadCloser, string, error)
}

var _ ProductsAPI = (*service.ProductService)(nil)

type ProductHandler struct {
	products     ProductsAPI
	maxImageSize int64
	log          *slog.Logger
}

func NewProductHandler(products ProductsAPI, maxImageSize int64, log *slog.Logger) *ProductHandler {
	return &ProductHandler{products: products, maxImageSize: maxImageSize, log: log}
}

// ProductDTO adds the public image path to the product.
type ProductDTO struct {
	*domain.Product
	ImageURL string `json:"image_url,omitempty"`
}

func toDTO(p *domain.Product) ProductDTO {
	return ProductDTO{Product: p, ImageURL: p.ImageURL()}
}

// GET /api/products
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	list, err := h.products.List(r.Context(), r.URL.Query().Get("type"), page)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	items := make([]ProductDTO, 0, len(list.Products))
	for _, p := range list.Products {
		items = append(items, toDTO(p))
	}
	respondOK(w, http.StatusOK, map[string]any{
		"products": items,
		"total":    list.Total,
		"limit":    list.Limit,
		"offset":   list.Offset,
	}, "")
}

// GET /api/products/{id}
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.products.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, toDTO(p), "")
}

// POST /api/products (admin)
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.ProductInput
	if !decodeJSON(w, r, &in) {
		return
	}
	p, err := h.products.Create(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusCreated, toDTO(p), "Product created")
}

// PUT /api/products/{id} (admin)
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in service.ProductInput
	if !decodeJSON(w, r, &in) {
		return
	}
	p, err := h.products.Update(r.Context(), id, in)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, toDTO(p), "Product updated")
}

// DELETE /api/products/{id} (admin)
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.products.Delete(r.Context(), id); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, nil, "Product deleted")
}

// PUT /api/products/{id}/image (admin). Accepts a multipart form with an "image" file
// or the raw image bytes as the request body.
func (h *ProductHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageSize)

	body, contentType, err := imagePart(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "image_too_large", "image exceeds the size limit")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	defer body.Close()

	p, err := h.products.SetImage(r.Context(), id, contentType, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "image_too_large", "image exceeds the size limit")
			return
		}
		handleServiceError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, toDTO(p), "Image uploaded")
}

func imagePart(r *http.Request) (io.ReadCloser, string, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, "", errors.New("missing or invalid Content-Type")
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return r.Body, mediaType, nil
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, "", err
	}
	ct := header.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	return file, ct, nil
}

// GET /api/products/{id}/image
func (h *ProductHandler) Image(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rc, contentType, err := h.products.OpenImage(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if _, err := io.Copy(w, rc); err != nil {
		h.log.WarnContext(r.Context(), "failed to stream product image", "product_id", id, "error", err)
	}
}
