package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// placeOrder checks out one line for the user and returns the created order.
func placeOrder(t *testing.T, env *apiEnv, userID int64, productID int64, qty int) *domain.Order {
	t.Helper()
	user := token(t, userID, "user")
	rec, _ := env.do(t, http.MethodPost, "/api/cart", user, map[string]any{"productId": productID, "quantity": qty})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, resp := env.do(t, http.MethodPost, "/api/checkout/process", user, codCheckout())
	require.Equal(t, http.StatusCreated, rec.Code)
	result := decodeData[service.CheckoutResult](t, resp)
	require.Len(t, result.Orders, 1)
	return result.Orders[0]
}

func TestOrders_Ownership(t *testing.T) {
	env := newAPIEnv(t)
	bike := env.addProduct(t, "Gravel Bike", 1500, 10)
	order := placeOrder(t, env, 1, bike.ID, 1)
	path := fmt.Sprintf("/api/orders/user/%d", order.ID)

	rec, resp := env.do(t, http.MethodGet, path, token(t, 1, "user"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, order.ID, decodeData[domain.Order](t, resp).ID)

	rec, resp = env.do(t, http.MethodGet, path, token(t, 2, "user"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", resp.Code)

	rec, _ = env.do(t, http.MethodGet, path, token(t, 99, "admin"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/orders/user/424242", token(t, 1, "user"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrders_StatusUpdate(t *testing.T) {
	env := newAPIEnv(t)
	bike := env.addProduct(t, "Gravel Bike", 1500, 10)
	order := placeOrder(t, env, 1, bike.ID, 1)
	admin := token(t, 99, "admin")
	path := fmt.Sprintf("/api/orders/%d/status", order.ID)

	rec, resp := env.do(t, http.MethodPut, path, admin, map[string]any{"status": "shipped"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OrderStatusShipped, decodeData[domain.Order](t, resp).Status)

	rec, resp = env.do(t, http.MethodPut, path, admin, map[string]any{"status": "pending"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_transition", resp.Code)

	rec, resp = env.do(t, http.MethodPut, path, admin, map[string]any{"status": "lost"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", resp.Code)
}

func TestOrders_OwnerCancelRestocks(t *testing.T) {
	env := newAPIEnv(t)
	bike := env.addProduct(t, "Gravel Bike", 1500, 10)
	order := placeOrder(t, env, 1, bike.ID, 3)

	rec, _ := env.do(t, http.MethodPut, fmt.Sprintf("/api/orders/user/%d/cancel", order.ID), token(t, 2, "user"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, resp := env.do(t, http.MethodPut, fmt.Sprintf("/api/orders/user/%d/cancel", order.ID), token(t, 1, "user"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OrderStatusCancelled, decodeData[domain.Order](t, resp).Status)

	_, resp = env.do(t, http.MethodGet, fmt.Sprintf("/api/products/%d", bike.ID), "", nil)
	p := decodeData[ProductDTO](t, resp)
	assert.Equal(t, 10, p.Stock)
	assert.Equal(t, 0, p.Sold)
}

func TestOrders_AdminListAndBulk(t *testing.T) {
	env := newAPIEnv(t)
	bike := env.addProduct(t, "Gravel Bike", 1500, 10)
	first := placeOrder(t, env, 1, bike.ID, 1)
	second := placeOrder(t, env, 2, bike.ID, 1)
	admin := token(t, 99, "admin")

	rec, resp := env.do(t, http.MethodGet, "/api/orders?status=pending&limit=10", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeData[service.OrderList](t, resp).Total)

	rec, _ = env.do(t, http.MethodGet, "/api/orders?limit=500", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPut, fmt.Sprintf("/api/orders/%d/status", second.ID), admin, map[string]any{"status": "delivered"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp = env.do(t, http.MethodPut, "/api/orders/bulk", admin, map[string]any{
		"orderIds": []int64{first.ID, second.ID},
		"action":   "cancel",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var issues []service.OrderIssue
	require.NoError(t, json.Unmarshal(resp.Errors, &issues))
	require.Len(t, issues, 1)
	assert.Equal(t, second.ID, issues[0].OrderID)

	rec, resp = env.do(t, http.MethodPut, "/api/orders/bulk", admin, map[string]any{
		"orderIds": []int64{first.ID},
		"action":   "ship",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeData[service.BulkResult](t, resp)
	assert.Equal(t, domain.OrderStatusShipped, result.Status)
	require.Len(t, result.Updated, 1)
}
