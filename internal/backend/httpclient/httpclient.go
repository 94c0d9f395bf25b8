// Package httpclient implements the backend contract against a remote
// HTTP/JSON service. Transport failures and timeouts surface as
// fault.ErrBackendUnavailable; structured rejections keep their machine code
// across the wire.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cajapos/terminal/internal/domain"
	"cajapos/terminal/internal/fault"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL string, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *Client) do(ctx context.Context, method string, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fault.Unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fault.Unavailable(fmt.Errorf("backend returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		var eb errorBody
		if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil || eb.Code == "" {
			return fault.Unavailable(fmt.Errorf("backend returned %d", resp.StatusCode))
		}
		return fault.FromCode(eb.Code, eb.Error)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fault.Unavailable(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

type saleEnvelope struct {
	Sale      domain.SaleRecord `json:"sale"`
	Duplicate bool              `json:"duplicate"`
}

func (c *Client) CreateSale(ctx context.Context, sale domain.SaleRecord) (*domain.SaleRecord, bool, error) {
	var env saleEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/v1/sales", sale, &env); err != nil {
		return nil, false, err
	}
	return &env.Sale, env.Duplicate, nil
}

func (c *Client) CancelSale(ctx context.Context, saleID string, reason string, userID string) (*domain.SaleRecord, error) {
	body := map[string]string{"reason": reason, "user_id": userID}
	var sale domain.SaleRecord
	if err := c.do(ctx, http.MethodPost, "/api/v1/sales/"+url.PathEscape(saleID)+"/cancel", body, &sale); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (c *Client) GetSale(ctx context.Context, saleID string) (*domain.SaleRecord, error) {
	var sale domain.SaleRecord
	if err := c.do(ctx, http.MethodGet, "/api/v1/sales/"+url.PathEscape(saleID), nil, &sale); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (c *Client) GetCashSession(ctx context.Context) (*domain.CashSession, error) {
	var session domain.CashSession
	if err := c.do(ctx, http.MethodGet, "/api/v1/cash-sessions/current", nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) OpenCashSession(ctx context.Context, openingAmount decimal.Decimal, notes string, userID string) (*domain.CashSession, error) {
	body := map[string]any{
		"opening_amount": openingAmount,
		"notes":          notes,
		"user_id":        userID,
	}
	var session domain.CashSession
	if err := c.do(ctx, http.MethodPost, "/api/v1/cash-sessions/open", body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) CloseCashSession(ctx context.Context, notes string, physicalCount *decimal.Decimal, userID string) (*domain.CashSession, error) {
	body := map[string]any{
		"notes":   notes,
		"user_id": userID,
	}
	if physicalCount != nil {
		body["physical_count"] = *physicalCount
	}
	var session domain.CashSession
	if err := c.do(ctx, http.MethodPost, "/api/v1/cash-sessions/close", body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) RecordCashMovement(ctx context.Context, movementType domain.CashMovementType, amount decimal.Decimal, description string, userID string) (*domain.CashMovement, error) {
	body := map[string]any{
		"type":        movementType,
		"amount":      amount,
		"description": description,
		"user_id":     userID,
	}
	var movement domain.CashMovement
	if err := c.do(ctx, http.MethodPost, "/api/v1/cash-movements", body, &movement); err != nil {
		return nil, err
	}
	return &movement, nil
}

func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	if err := c.do(ctx, http.MethodGet, "/api/v1/products", nil, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (c *Client) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var product domain.Product
	if err := c.do(ctx, http.MethodGet, "/api/v1/products/"+url.PathEscape(productID), nil, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

type stockEnvelope struct {
	Stock decimal.Decimal `json:"stock"`
}

func (c *Client) GetProductStock(ctx context.Context, productID string) (decimal.Decimal, error) {
	var env stockEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/v1/products/"+url.PathEscape(productID)+"/stock", nil, &env); err != nil {
		return decimal.Decimal{}, err
	}
	return env.Stock, nil
}

type stockMapEnvelope struct {
	Levels map[string]decimal.Decimal `json:"levels"`
}

func (c *Client) GetStockMap(ctx context.Context, productIDs []string) (map[string]decimal.Decimal, error) {
	body := map[string]any{"product_ids": productIDs}
	var env stockMapEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/v1/stock/levels", body, &env); err != nil {
		return nil, err
	}
	return env.Levels, nil
}

func (c *Client) CreateStockMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	var created domain.StockMovement
	if err := c.do(ctx, http.MethodPost, "/api/v1/stock-movements", movement, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	q := url.Values{}
	if productID != "" {
		q.Set("product_id", productID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/stock-movements"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var movements []domain.StockMovement
	if err := c.do(ctx, http.MethodGet, path, nil, &movements); err != nil {
		return nil, err
	}
	return movements, nil
}

func (c *Client) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	var customer domain.Customer
	if err := c.do(ctx, http.MethodGet, "/api/v1/customers/"+url.PathEscape(customerID), nil, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

func (c *Client) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	return c.do(ctx, http.MethodPost, "/api/v1/audit-logs", entry, nil)
}
