// Package httpapi exposes the terminal engine over HTTP/JSON for the POS
// front end. Routes are scoped per terminal id; every failure is written as
// {"error": ..., "code": ...} with the status derived from the fault kind.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"cajapos/terminal/internal/domain"
	"cajapos/terminal/internal/engine"
	"cajapos/terminal/internal/fault"
)

type API struct {
	registry *engine.Registry
	// catalog serves the terminal-agnostic reads; any engine can answer them.
	catalog       *engine.Engine
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(registry *engine.Registry, auth *AuthManager, allowedOrigin string) *API {
	return &API{
		registry:      registry,
		catalog:       registry.Get("catalog"),
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", a.handleHealth)
	r.Post("/api/v1/auth/login", a.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth("cashier", "admin"))

		r.Get("/api/v1/products", a.handleListProducts)
		r.Get("/api/v1/products/{productID}/stock", a.handleStockLevel)
		r.Get("/api/v1/stock-movements", a.handleListStockMovements)

		r.Route("/api/v1/terminals/{terminalID}", func(r chi.Router) {
			r.Get("/cart", a.handleCartView)
			r.Delete("/cart", a.handleCartClear)
			r.Post("/cart/items", a.handleAddItem)
			r.Put("/cart/items", a.handleUpdateItem)
			r.Delete("/cart/items", a.handleRemoveItem)
			r.Post("/cart/discount", a.handleApplyDiscount)
			r.Post("/cart/tax", a.handleSetTaxRate)
			r.Post("/cart/customer", a.handleSetCustomer)

			r.Get("/payment", a.handlePaymentState)
			r.Post("/payment/method", a.handleSetPaymentMethod)
			r.Post("/payment/tendered", a.handleSetTendered)
			r.Post("/payment/multiple", a.handleToggleMultiple)
			r.Post("/payment/allocations", a.handleAddAllocation)
			r.Put("/payment/allocations/{index}", a.handleUpdateAllocation)
			r.Delete("/payment/allocations/{index}", a.handleRemoveAllocation)

			r.Post("/sales", a.handleCommitSale)
			r.Get("/sales/{saleID}", a.handleGetSale)
			r.Post("/sales/{saleID}/cancel", a.handleCancelSale)

			r.Get("/session", a.handleSessionStatus)
			r.Post("/session/open", a.handleSessionOpen)
			r.Post("/session/close", a.handleSessionClose)
			r.Post("/session/movements", a.handleCashMovement)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth("admin"))

		r.Post("/api/v1/terminals/{terminalID}/stock/{productID}/entries", a.handleStockEntry)
		r.Post("/api/v1/terminals/{terminalID}/stock/{productID}/exits", a.handleStockExit)
		r.Post("/api/v1/terminals/{terminalID}/stock/{productID}/adjustments", a.handleStockAdjustment)

		r.Get("/api/v1/users/cashiers", a.handleListCashiers)
		r.Post("/api/v1/users/cashiers", a.handleCreateCashier)
	})

	return a.withMiddleware(r)
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}

			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(engine.WithActor(r.Context(), actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) terminal(r *http.Request) *engine.Engine {
	return a.registry.Get(chi.URLParam(r, "terminalID"))
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---- catalog ----

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.catalog.Products(r.Context())
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleStockLevel(w http.ResponseWriter, r *http.Request) {
	level, err := a.catalog.StockLevel(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock": level})
}

func (a *API) handleListStockMovements(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	movements, err := a.catalog.StockMovements(r.Context(), r.URL.Query().Get("product_id"), limit)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

// ---- cart ----

type itemRequest struct {
	ProductID string           `json:"product_id"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Tier      domain.PriceTier `json:"tier"`
}

func (a *API) handleCartView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.terminal(r).CartView(r.Context()))
}

func (a *API) handleCartClear(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.terminal(r).ClearCart(r.Context()))
}

func (a *API) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.terminal(r).AddItem(r.Context(), req.ProductID, req.Quantity, req.Tier)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.terminal(r).UpdateItemQuantity(r.Context(), req.ProductID, req.Tier, req.Quantity)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("product_id")
	tier := domain.PriceTier(r.URL.Query().Get("tier"))
	writeJSON(w, http.StatusOK, a.terminal(r).RemoveItem(r.Context(), productID, tier))
}

func (a *API) handleApplyDiscount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value decimal.Decimal     `json:"value"`
		Kind  domain.DiscountKind `json:"kind"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.terminal(r).ApplyDiscount(r.Context(), req.Value, req.Kind)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleSetTaxRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Percent decimal.Decimal `json:"percent"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.terminal(r).SetTaxRate(r.Context(), req.Percent)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleSetCustomer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerID string `json:"customer_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.terminal(r).SetCustomer(r.Context(), req.CustomerID); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer_id": a.terminal(r).Customer(r.Context())})
}

// ---- payment ----

func (a *API) handlePaymentState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.terminal(r).PaymentState(r.Context()))
}

func (a *API) handleSetPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var alloc domain.PaymentAllocation
	if err := decodeJSON(r, &alloc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.terminal(r).SetPaymentMethod(r.Context(), alloc)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleSetTendered(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.terminal(r).SetTendered(r.Context(), req.Amount)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleToggleMultiple(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, a.terminal(r).ToggleMultiplePayment(r.Context(), req.Enabled))
}

func (a *API) handleAddAllocation(w http.ResponseWriter, r *http.Request) {
	var alloc domain.PaymentAllocation
	if err := decodeJSON(r, &alloc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.terminal(r).AddAllocation(r.Context(), alloc)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleUpdateAllocation(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid allocation index"))
		return
	}
	var alloc domain.PaymentAllocation
	if err := decodeJSON(r, &alloc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, uerr := a.terminal(r).UpdateAllocation(r.Context(), index, alloc)
	if uerr != nil {
		writeFault(w, uerr)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleRemoveAllocation(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid allocation index"))
		return
	}
	result, rerr := a.terminal(r).RemoveAllocation(r.Context(), index)
	if rerr != nil {
		writeFault(w, rerr)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ---- sales ----

func (a *API) handleCommitSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.terminal(r).CommitSale(r.Context())
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.terminal(r).Sale(r.Context(), chi.URLParam(r, "saleID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleCancelSale(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sale, err := a.terminal(r).CancelSale(r.Context(), chi.URLParam(r, "saleID"), req.Reason)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

// ---- cash session ----

func (a *API) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.terminal(r).SessionStatus(r.Context())
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleSessionOpen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OpeningAmount decimal.Decimal `json:"opening_amount"`
		Notes         string          `json:"notes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	session, err := a.terminal(r).OpenSession(r.Context(), req.OpeningAmount, req.Notes)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": session})
}

func (a *API) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Notes         string           `json:"notes"`
		PhysicalCount *decimal.Decimal `json:"physical_count"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	session, err := a.terminal(r).CloseSession(r.Context(), req.Notes, req.PhysicalCount)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (a *API) handleCashMovement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type        domain.CashMovementType `json:"type"`
		Amount      decimal.Decimal         `json:"amount"`
		Description string                  `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	movement, err := a.terminal(r).RecordMovement(r.Context(), req.Type, req.Amount, req.Description)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"movement": movement})
}

// ---- stock movements ----

type stockMovementRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
	Reason   string          `json:"reason"`
}

func (a *API) handleStockEntry(w http.ResponseWriter, r *http.Request) {
	var req stockMovementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	movement, err := a.terminal(r).RecordStockEntry(r.Context(), chi.URLParam(r, "productID"), req.Quantity, req.Reason)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"movement": movement})
}

func (a *API) handleStockExit(w http.ResponseWriter, r *http.Request) {
	var req stockMovementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	movement, err := a.terminal(r).RecordStockExit(r.Context(), chi.URLParam(r, "productID"), req.Quantity, req.Reason)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"movement": movement})
}

func (a *API) handleStockAdjustment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewStock decimal.Decimal `json:"new_stock"`
		Reason   string          `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	movement, err := a.terminal(r).RecordStockAdjustment(r.Context(), chi.URLParam(r, "productID"), req.NewStock, req.Reason)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"movement": movement})
}

// ---- users ----

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers()})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req CashierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cashier, err := a.auth.CreateCashier(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}

// ---- plumbing ----

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// writeFault maps the fault kind to an HTTP status and keeps the machine
// code on the wire.
func writeFault(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fault.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, fault.ErrPrecondition):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, fault.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, fault.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, fault.ErrBackendUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
		writeJSON(w, status, map[string]any{"error": "internal server error"})
		return
	}
	writeJSON(w, status, map[string]any{
		"error": fault.MessageOf(err),
		"code":  fault.CodeOf(err),
	})
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
