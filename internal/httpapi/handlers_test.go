package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cajapos/terminal/internal/backend/memory"
	"cajapos/terminal/internal/engine"
	"cajapos/terminal/internal/fault"
)

func newTestHandler(t *testing.T) (*memory.Store, http.Handler) {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin-secret-1")
	t.Setenv("SEED_CASHIER_PASSWORD", "cashier-secret-1")

	store := memory.NewSeeded()
	auth := NewAuthManager(testSecret, time.Hour, store)
	registry := engine.NewRegistry(store, nil, time.Second)
	api := New(registry, auth, "*")
	return store, api.Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "",
		`{"username":"`+username+`","password":"`+password+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func faultCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Code
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	_, handler := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products", "garbage-token", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for a bad token", rec.Code)
	}
}

func TestCashierCannotUseAdminRoutes(t *testing.T) {
	_, handler := newTestHandler(t)
	token := login(t, handler, "cashier", "cashier-secret-1")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/users/cashiers", token, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost,
		"/api/v1/terminals/t1/stock/prod-soda-01/entries", token, `{"quantity":"5","reason":"delivery"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("stock entry status = %d, want 403", rec.Code)
	}
}

func TestSaleFlowOverHTTP(t *testing.T) {
	_, handler := newTestHandler(t)
	token := login(t, handler, "admin", "admin-secret-1")

	// Add an item before any session is open.
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/terminals/t1/cart/items", token,
		`{"product_id":"prod-soda-01","quantity":"1","tier":"cash"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("add item status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Commit must fail with the session precondition.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/terminals/t1/sales", token, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("commit status = %d, want 422, body %s", rec.Code, rec.Body.String())
	}
	if code := faultCode(t, rec); code != fault.CodeCashSessionClosed {
		t.Fatalf("code = %s, want %s", code, fault.CodeCashSessionClosed)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/terminals/t1/session/open", token,
		`{"opening_amount":"1000.00","notes":"morning shift"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open session status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/terminals/t1/payment/tendered", token,
		`{"amount":"800.00"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set tendered status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/terminals/t1/sales", token, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("commit status = %d, body %s", rec.Code, rec.Body.String())
	}
	var committed struct {
		Sale struct {
			ID     string `json:"id"`
			Total  string `json:"total"`
			Change string `json:"change"`
		} `json:"sale"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &committed); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if committed.Sale.ID == "" {
		t.Fatalf("committed sale has no id: %s", rec.Body.String())
	}
	if committed.Sale.Total != "790" && committed.Sale.Total != "790.00" {
		t.Fatalf("total = %s, want 790.00", committed.Sale.Total)
	}

	// The sale is retrievable and cancellable.
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/terminals/t1/sales/"+committed.Sale.ID, token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get sale status = %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/terminals/t1/sales/"+committed.Sale.ID+"/cancel", token,
		`{"reason":"rung up twice"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Expected cash is back to the opening amount.
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/terminals/t1/session", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("session status = %d", rec.Code)
	}
	var status struct {
		ExpectedCash string `json:"expected_cash"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode session status: %v", err)
	}
	if status.ExpectedCash != "1000" && status.ExpectedCash != "1000.00" {
		t.Fatalf("expected cash = %s, want 1000.00", status.ExpectedCash)
	}
}

func TestStockAdjustmentOverHTTP(t *testing.T) {
	_, handler := newTestHandler(t)
	token := login(t, handler, "admin", "admin-secret-1")

	rec := doJSON(t, handler, http.MethodPost,
		"/api/v1/terminals/t1/stock/prod-soda-01/adjustments", token,
		`{"new_stock":"97","reason":"stocktake"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("adjustment status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products/prod-soda-01/stock", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stock level status = %d", rec.Code)
	}
	var level struct {
		Stock string `json:"stock"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &level); err != nil {
		t.Fatalf("decode stock: %v", err)
	}
	if level.Stock != "97" {
		t.Fatalf("stock = %s, want 97", level.Stock)
	}
}

func TestUnknownJSONFieldsRejected(t *testing.T) {
	_, handler := newTestHandler(t)
	token := login(t, handler, "admin", "admin-secret-1")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/terminals/t1/cart/items", token,
		`{"product_id":"prod-soda-01","quantity":"1","tier":"cash","bogus":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown fields", rec.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	_, handler := newTestHandler(t)

	var last *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		last = doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "",
			`{"username":"admin","password":"wrong"}`)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 after repeated attempts", last.Code)
	}
}
