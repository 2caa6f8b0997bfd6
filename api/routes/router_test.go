package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/stockloghq/stocklog-backend/internal/audit"
	"github.com/stockloghq/stocklog-backend/internal/backup"
	"github.com/stockloghq/stocklog-backend/internal/catalog"
	"github.com/stockloghq/stocklog-backend/internal/ledger"
	"github.com/stockloghq/stocklog-backend/internal/restore"
	"github.com/stockloghq/stocklog-backend/internal/stocktake"
	pkgauth "github.com/stockloghq/stocklog-backend/pkg/auth"
	"github.com/stockloghq/stocklog-backend/pkg/config"
	"github.com/stockloghq/stocklog-backend/pkg/db"
	"github.com/stockloghq/stocklog-backend/pkg/db/models"
	"github.com/stockloghq/stocklog-backend/pkg/enums"
	"github.com/stockloghq/stocklog-backend/pkg/storage"
)

type routerFixture struct {
	cfg     *config.Config
	handler http.Handler
}

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	dsn := "file:router_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&models.Warehouse{},
		&models.Item{},
		&models.Stock{},
		&models.StockTx{},
		&models.Stocktake{},
		&models.StocktakeLine{},
		&models.AuditLog{},
		&models.RestoreJob{},
	))

	cfg := &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "stocklog"},
	}

	catalogSvc, err := catalog.NewService(catalog.NewRepository(conn))
	require.NoError(t, err)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn), db.FromConn(conn), catalogSvc, nil, nil)
	require.NoError(t, err)
	stocktakeSvc, err := stocktake.NewService(stocktake.NewRepository(conn), ledgerSvc, nil, 0)
	require.NoError(t, err)
	auditSvc, err := audit.NewService(conn, nil)
	require.NoError(t, err)
	backupSvc, err := backup.NewService(conn)
	require.NoError(t, err)
	restoreSvc, err := restore.NewService(restore.NewRepository(conn), db.FromConn(conn), storage.NewMemoryStore(), config.RestoreConfig{}, nil, nil)
	require.NoError(t, err)

	handler := NewRouter(Deps{
		Cfg:       cfg,
		DB:        stubPinger{},
		Catalog:   catalogSvc,
		Ledger:    ledgerSvc,
		Stocktake: stocktakeSvc,
		Audit:     auditSvc,
		Backup:    backupSvc,
		Restore:   restoreSvc,
	})

	return &routerFixture{cfg: cfg, handler: handler}
}

func (f *routerFixture) token(t *testing.T, role enums.Role) string {
	t.Helper()
	token, err := pkgauth.MintAccessToken(f.cfg.JWT, time.Now(), pkgauth.Identity{
		UserID:   1,
		Username: string(role) + "-user",
		Role:     role,
	}, time.Hour)
	require.NoError(t, err)
	return token
}

func (f *routerFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	f.handler.ServeHTTP(resp, req)
	return resp
}

func TestHealthEndpointsAreOpen(t *testing.T) {
	f := newRouterFixture(t)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health/live", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health/ready", "", nil).Code)
}

func TestAPIRequiresToken(t *testing.T) {
	f := newRouterFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/v1/items", "", nil).Code)
}

func TestRoleGates(t *testing.T) {
	f := newRouterFixture(t)
	viewer := f.token(t, enums.RoleViewer)
	operator := f.token(t, enums.RoleOperator)
	admin := f.token(t, enums.RoleAdmin)

	// viewers read but never write
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/items", viewer, nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/v1/items", viewer, map[string]any{"sku": "A-1", "name": "a"}).Code)

	// operators write the catalog but not warehouses
	assert.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/items", operator, map[string]any{"sku": "A-1", "name": "a"}).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/v1/warehouses", operator, map[string]any{"name": "main"}).Code)

	// admin surfaces stay closed below admin
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodDelete, "/api/v1/tx", operator, nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/v1/items/import", operator, map[string]any{"items": []map[string]any{{"sku": "B-1", "name": "b"}}}).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/items/import", admin, map[string]any{"items": []map[string]any{{"sku": "B-1", "name": "b"}}}).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/v1/audit", operator, nil).Code)
	assert.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/warehouses", admin, map[string]any{"name": "main"}).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/audit", admin, nil).Code)
}

func TestPostingFlowOverHTTP(t *testing.T) {
	f := newRouterFixture(t)
	operator := f.token(t, enums.RoleOperator)
	admin := f.token(t, enums.RoleAdmin)

	resp := f.do(t, http.MethodPost, "/api/v1/warehouses", admin, map[string]any{"name": "main"})
	require.Equal(t, http.StatusCreated, resp.Code)
	var warehouseEnv struct {
		Data models.Warehouse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &warehouseEnv))

	resp = f.do(t, http.MethodPost, "/api/v1/items", operator, map[string]any{"sku": "SKU-1", "name": "widget"})
	require.Equal(t, http.StatusCreated, resp.Code)
	var itemEnv struct {
		Data models.Item `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &itemEnv))

	in := map[string]any{
		"item_id":      itemEnv.Data.ID,
		"warehouse_id": warehouseEnv.Data.ID,
		"qty":          10,
	}
	resp = f.do(t, http.MethodPost, "/api/v1/stock/in", operator, in)
	require.Equal(t, http.StatusOK, resp.Code)

	out := map[string]any{
		"item_id":      itemEnv.Data.ID,
		"warehouse_id": warehouseEnv.Data.ID,
		"qty":          999,
	}
	resp = f.do(t, http.MethodPost, "/api/v1/stock/out", operator, out)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Contains(t, resp.Body.String(), "INSUFFICIENT_STOCK")

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/stock?warehouse_id=%d", warehouseEnv.Data.ID), operator, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"qty":10`)
}

func TestValidationErrorsAreTyped(t *testing.T) {
	f := newRouterFixture(t)
	operator := f.token(t, enums.RoleOperator)

	resp := f.do(t, http.MethodPost, "/api/v1/stock/in", operator, map[string]any{"item_id": 1})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "VALIDATION_ERROR")
}
