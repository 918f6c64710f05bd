package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/storefront/pkg/audit"
	"github.com/orneryd/storefront/pkg/auth"
	"github.com/orneryd/storefront/pkg/catalog"
)

func TestAccountManagement(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "owner@shop.test")
	tok := withToken(admin.AccessToken)

	rec := env.do(t, http.MethodPost, "/admin/accounts", map[string]any{
		"name": "Packer", "email": "packer@shop.test", "password": "long-enough-pw",
	}, tok)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeData[auth.Account](t, rec)
	assert.Equal(t, auth.RoleViewer, created.Role)
	assert.True(t, created.IsActive)

	rec = env.do(t, http.MethodPost, "/admin/accounts", map[string]any{
		"name": "Again", "email": "PACKER@shop.test", "password": "long-enough-pw",
	}, tok)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/admin/accounts", map[string]any{
		"name": "Short", "email": "short@shop.test", "password": "abc",
	}, tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/admin/accounts", map[string]any{
		"name": "Boss", "email": "boss@shop.test", "password": "long-enough-pw", "role": "superuser",
	}, tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPatch, "/admin/accounts/"+created.ID, map[string]any{"role": "editor", "isActive": false}, tok)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeData[auth.Account](t, rec)
	assert.Equal(t, auth.RoleEditor, updated.Role)
	assert.False(t, updated.IsActive)

	rec = env.do(t, http.MethodGet, "/admin/accounts/"+created.ID, nil, tok)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/admin/accounts/missing", nil, tok)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Account not found", decode(t, rec).Message)

	rec = env.do(t, http.MethodPatch, "/admin/accounts/"+env.ids["owner@shop.test"], map[string]any{"isActive": false}, tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/admin/accounts", nil, tok)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeData[struct {
		Accounts []auth.Account `json:"accounts"`
		Count    int            `json:"count"`
	}](t, rec)
	assert.Equal(t, 4, list.Count)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	viewer := env.login(t, "viewer@shop.test")
	tok := withToken(viewer.AccessToken)

	rec := env.do(t, http.MethodPut, "/admin/me/password", map[string]string{
		"currentPassword": "not-it", "newPassword": "brand-new-secret",
	}, tok)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Current password is incorrect", decode(t, rec).Message)

	rec = env.do(t, http.MethodPut, "/admin/me/password", map[string]string{"currentPassword": testPassword}, tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/admin/me/password", map[string]string{
		"currentPassword": testPassword, "newPassword": "brand-new-secret",
	}, tok)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/auth/login", loginRequest{Email: "viewer@shop.test", Password: "brand-new-secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuditQuery(t *testing.T) {
	env := newTestEnv(t)
	ip := withIP("198.51.100.9")

	rec := env.do(t, http.MethodPost, "/auth/login", loginRequest{Email: "viewer@shop.test", Password: "wrong-password"}, ip)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	env.login(t, "viewer@shop.test", ip)
	admin := env.login(t, "owner@shop.test", withIP("198.51.100.200"))
	tok := withToken(admin.AccessToken)

	type page struct {
		Records []audit.Record `json:"records"`
		Count   int            `json:"count"`
	}

	rec = env.do(t, http.MethodGet, "/admin/audit?email=Viewer@shop.test", nil, tok)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	byEmail := decodeData[page](t, rec)
	require.Len(t, byEmail.Records, 3)
	assert.Equal(t, audit.ActionLoginSuccess, byEmail.Records[0].Action)
	assert.Equal(t, audit.ActionLoginFailed, byEmail.Records[1].Action)
	assert.Equal(t, audit.ActionAccountCreated, byEmail.Records[2].Action)
	for i := 1; i < len(byEmail.Records); i++ {
		assert.False(t, byEmail.Records[i].Timestamp.After(byEmail.Records[i-1].Timestamp))
	}

	rec = env.do(t, http.MethodGet, "/admin/audit?ip=198.51.100.9", nil, tok)
	byIP := decodeData[page](t, rec)
	assert.Equal(t, 2, byIP.Count)

	rec = env.do(t, http.MethodGet, "/admin/audit?ip=198.51.100.9&status=failed", nil, tok)
	assert.Equal(t, 1, decodeData[page](t, rec).Count)

	rec = env.do(t, http.MethodGet, "/admin/audit?limit=1", nil, tok)
	assert.Equal(t, 1, decodeData[page](t, rec).Count)

	rec = env.do(t, http.MethodGet, "/admin/audit?action=rm_rf", nil, tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/admin/audit?since=yesterday", nil, tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatalogEndpoints(t *testing.T) {
	env := newTestEnv(t)
	editor := withToken(env.login(t, "editor@shop.test").AccessToken)
	admin := withToken(env.login(t, "owner@shop.test").AccessToken)
	viewer := withToken(env.login(t, "viewer@shop.test").AccessToken)

	rec := env.do(t, http.MethodPost, "/admin/categories", map[string]string{"name": "Bags & Totes"}, editor)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bags := decodeData[catalog.Category](t, rec)
	assert.Equal(t, "bags-totes", bags.Slug)

	rec = env.do(t, http.MethodPost, "/admin/products", map[string]any{
		"name": "Canvas Tote", "price": 2500, "categoryId": bags.ID, "stock": 3,
	}, editor)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tote := decodeData[catalog.Product](t, rec)

	rec = env.do(t, http.MethodPost, "/admin/products", map[string]any{
		"name": "Leather Satchel", "price": 12000, "categoryId": bags.ID, "stock": 0, "isActive": false,
	}, editor)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/admin/products", map[string]any{
		"name": "Ghost", "price": 1, "categoryId": "missing",
	}, editor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	t.Run("public_reads_active_only", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/products", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		page := decodeData[catalog.ProductPage](t, rec)
		assert.Equal(t, 1, page.Total)

		rec = env.do(t, http.MethodGet, "/products/canvas-tote", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = env.do(t, http.MethodGet, "/products/leather-satchel", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Product not found", decode(t, rec).Message)

		rec = env.do(t, http.MethodGet, "/categories", nil)
		assert.Len(t, decodeData[[]catalog.Category](t, rec), 1)
	})

	t.Run("admin_filters", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/admin/products?category=bags-totes&minPrice=5000", nil, viewer)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, decodeData[catalog.ProductPage](t, rec).Total)

		rec = env.do(t, http.MethodGet, "/admin/products?q=canvas", nil, viewer)
		assert.Equal(t, 1, decodeData[catalog.ProductPage](t, rec).Total)

		rec = env.do(t, http.MethodGet, "/admin/products?minPrice=cheap", nil, viewer)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = env.do(t, http.MethodGet, "/admin/products?active=maybe", nil, viewer)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("analytics", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/admin/analytics", nil, viewer)
		require.Equal(t, http.StatusOK, rec.Code)
		stats := decodeData[catalog.Stats](t, rec)
		assert.Equal(t, 2, stats.TotalProducts)
		assert.Equal(t, 1, stats.ActiveProducts)
		assert.Equal(t, int64(7500), stats.InventoryValue)
	})

	t.Run("update_and_delete", func(t *testing.T) {
		rec := env.do(t, http.MethodPatch, "/admin/products/"+tote.ID, map[string]any{"stock": 10}, editor)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, 10, decodeData[catalog.Product](t, rec).Stock)

		rec = env.do(t, http.MethodPatch, "/admin/products/missing", map[string]any{"stock": 1}, editor)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		// category still has products
		rec = env.do(t, http.MethodDelete, "/admin/categories/"+bags.ID, nil, admin)
		assert.Equal(t, http.StatusConflict, rec.Code)

		rec = env.do(t, http.MethodDelete, "/admin/products/"+tote.ID, nil, admin)
		assert.Equal(t, http.StatusOK, rec.Code)
		rec = env.do(t, http.MethodGet, "/admin/products/"+tote.ID, nil, viewer)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Product not found", decode(t, rec).Message)
	})
}
