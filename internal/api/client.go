// Package api is the HTTP client for the scanner backend: on-demand scans,
// stock list management and health.
//
// Every call goes through a circuit breaker and a token-bucket limiter.
// Transport failures, 5xx answers and an open breaker all wrap
// ErrBackendUnavailable; a 4xx answer is returned as *StatusError and does
// not count against the breaker.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/time/rate"

	"github.com/Atique-Syed1/Trading-bot/internal/breaker"
	"github.com/Atique-Syed1/Trading-bot/internal/model"
)

// ErrBackendUnavailable marks failures that mean the backend could not be
// reached or did not answer usefully.
var ErrBackendUnavailable = errors.New("backend may be unreachable")

// StatusError is a non-2xx answer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

// Config configures a Client.
type Config struct {
	BaseURL        string        // default http://localhost:8000
	Timeout        time.Duration // default 15s
	RatePerSecond  float64       // default 2
	Burst          int           // default 2
	MaxFailures    int           // breaker, default 3
	ResetTimeout   time.Duration // breaker, default 30s
	TOTPSecret     string        // optional, sent as X-Client-OTP
	RequestHeaders http.Header
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8000"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 2
	}
	if c.Burst <= 0 {
		c.Burst = 2
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
}

const (
	routeScan       = "/api/scan"
	routeHealth     = "/api/health"
	routeStockList  = "/api/stocks/list"
	routeStockSet   = "/api/stocks/custom"
	routeStockReset = "/api/stocks/reset"
	routeUpload     = "/api/stocks/upload"
)

// Client talks to the backend. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	cb         *breaker.Breaker
	totpSecret string
	headers    http.Header
	log        *slog.Logger

	now func() time.Time
}

// New creates a Client.
func New(cfg Config) *Client {
	cfg.defaults()
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		cb: breaker.New(breaker.Settings{
			Name:         "backend",
			MaxFailures:  cfg.MaxFailures,
			ResetTimeout: cfg.ResetTimeout,
			IsFailure:    isBackendFailure,
		}),
		totpSecret: cfg.TOTPSecret,
		headers:    cfg.RequestHeaders,
		log:        slog.Default().With("component", "api"),
		now:        time.Now,
	}
}

// Breaker exposes the client's breaker for metrics.
func (c *Client) Breaker() *breaker.Breaker { return c.cb }

// StockList describes the backend's active universe.
type StockList struct {
	Name    string   `json:"name"`
	Count   int      `json:"count"`
	Source  string   `json:"source"`
	Symbols []string `json:"symbols"`
}

// StockListResult is the answer to a list change.
type StockListResult struct {
	Success bool   `json:"success"`
	Name    string `json:"name,omitempty"`
	Count   int    `json:"count,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Health is the backend health summary.
type Health struct {
	Status          string `json:"status"`
	Connections     int    `json:"connections"`
	TelegramEnabled bool   `json:"telegram_enabled"`
	ActiveStocks    int    `json:"active_stocks"`
	StockListName   string `json:"stock_list_name"`
}

// Scan runs a full backend scan. Entries without a symbol are dropped.
func (c *Client) Scan(ctx context.Context) ([]model.Instrument, error) {
	var raw []json.RawMessage
	if err := c.do(ctx, http.MethodGet, routeScan, nil, "", &raw); err != nil {
		return nil, err
	}
	out := make([]model.Instrument, 0, len(raw))
	for _, r := range raw {
		var inst model.Instrument
		if err := json.Unmarshal(r, &inst); err != nil || inst.Symbol == "" {
			c.log.Warn("dropping malformed scan entry", "error", err)
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

// Health fetches the backend health summary.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, routeHealth, nil, "", &h)
	return h, err
}

// CheckStatus fetches the backend health summary and logs it. It fails
// when the backend is unreachable or reports a status other than ok.
func (c *Client) CheckStatus(ctx context.Context) error {
	h, err := c.Health(ctx)
	if err != nil {
		return err
	}
	if h.Status != "" && !strings.EqualFold(h.Status, "ok") && !strings.EqualFold(h.Status, "healthy") {
		return fmt.Errorf("backend status %q", h.Status)
	}
	c.log.Info("backend status", "status", h.Status, "stock_list", h.StockListName,
		"active_stocks", h.ActiveStocks, "connections", h.Connections)
	return nil
}

// StockList fetches the active list.
func (c *Client) StockList(ctx context.Context) (StockList, error) {
	var l StockList
	err := c.do(ctx, http.MethodGet, routeStockList, nil, "", &l)
	return l, err
}

// SetStockList replaces the active list with symbols under name.
func (c *Client) SetStockList(ctx context.Context, name string, symbols []string) (StockListResult, error) {
	body, err := json.Marshal(struct {
		Name    string   `json:"name"`
		Symbols []string `json:"symbols"`
	}{name, symbols})
	if err != nil {
		return StockListResult{}, err
	}
	return c.listChange(ctx, routeStockSet, body, "application/json")
}

// ResetStockList restores the backend's default list.
func (c *Client) ResetStockList(ctx context.Context) (StockListResult, error) {
	return c.listChange(ctx, routeStockReset, nil, "")
}

// UploadStockCSV uploads a CSV with a symbol column as the active list.
func (c *Client) UploadStockCSV(ctx context.Context, filename string, r io.Reader) (StockListResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return StockListResult{}, err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return StockListResult{}, fmt.Errorf("read csv: %w", err)
	}
	if err := mw.Close(); err != nil {
		return StockListResult{}, err
	}
	return c.listChange(ctx, routeUpload, buf.Bytes(), mw.FormDataContentType())
}

func (c *Client) listChange(ctx context.Context, route string, body []byte, contentType string) (StockListResult, error) {
	var res StockListResult
	if err := c.do(ctx, http.MethodPost, route, body, contentType, &res); err != nil {
		return res, err
	}
	if !res.Success {
		return res, fmt.Errorf("%s: %s", route, res.Error)
	}
	return res, nil
}

func (c *Client) requestHeaders() http.Header {
	h := c.headers.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Accept", "application/json")
	if c.totpSecret != "" {
		code, err := totp.GenerateCode(c.totpSecret, c.now())
		if err != nil {
			c.log.Warn("totp generation failed", "error", err)
		} else {
			h.Set("X-Client-OTP", code)
		}
	}
	return h
}

func (c *Client) do(ctx context.Context, method, route string, body []byte, contentType string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var raw []byte
	err := c.cb.Execute(func() error {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+route, rd)
		if err != nil {
			return err
		}
		req.Header = c.requestHeaders()
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		raw, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		}
		return nil
	})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code < 500 {
			return fmt.Errorf("%s %s: %w", method, route, err)
		}
		c.log.Warn("backend request failed", "method", method, "route", route, "error", err)
		return fmt.Errorf("%s %s: %w: %w", method, route, ErrBackendUnavailable, err)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w: %w", method, route, ErrBackendUnavailable, err)
	}
	return nil
}

// isBackendFailure counts everything except client errors and caller
// cancellation against the breaker.
func isBackendFailure(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return !errors.Is(err, context.Canceled)
}
