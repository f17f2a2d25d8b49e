// Package httpapi is the control surface of the scanner: a gin JSON API for
// the UI operations and a WebSocket endpoint that re-serves store updates.
package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Atique-Syed1/Trading-bot/internal/api"
	"github.com/Atique-Syed1/Trading-bot/internal/metrics"
	"github.com/Atique-Syed1/Trading-bot/internal/offline"
	"github.com/Atique-Syed1/Trading-bot/internal/prefs"
	"github.com/Atique-Syed1/Trading-bot/internal/scanner"
)

// Scanner is the controller surface the API drives.
type Scanner interface {
	State(ctx context.Context) (scanner.State, error)
	SetMode(ctx context.Context, m scanner.Mode) error
	ManualScan(ctx context.Context) error
	Select(ctx context.Context, symbol string) error
}

// StockLists manages the backend's active universe.
type StockLists interface {
	StockList(ctx context.Context) (api.StockList, error)
	SetStockList(ctx context.Context, name string, symbols []string) (api.StockListResult, error)
	ResetStockList(ctx context.Context) (api.StockListResult, error)
	UploadStockCSV(ctx context.Context, filename string, r io.Reader) (api.StockListResult, error)
}

// Deps are the collaborators of a Server. Scanner is required; nil Prefs,
// Stocks, Health or Hub disable their routes' backing and answer 503.
type Deps struct {
	Scanner Scanner
	Prefs   *prefs.Store
	Stocks  StockLists
	Health  *metrics.HealthStatus
	Hub     *Hub

	// OnModeChange persists the chosen mode.
	OnModeChange func(scanner.Mode)
}

// Config configures the HTTP server.
type Config struct {
	Addr           string
	Debug          bool
	AllowedOrigins []string // exact origins, or "*"
	MaxUploadBytes int64    // default 1 MiB
}

// Server serves the control API.
type Server struct {
	cfg    Config
	deps   Deps
	engine *gin.Engine
	srv    *http.Server
	log    *slog.Logger

	upgrader websocket.Upgrader
}

// New builds the gin engine and routes.
func New(cfg Config, deps Deps) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 1 << 20
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		engine: gin.New(),
		log:    slog.Default().With("component", "httpapi"),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.originAllowed}

	s.engine.Use(gin.Recovery(), s.requestLog(), s.cors())
	s.setupRoutes()

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the engine, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) setupRoutes() {
	r := s.engine.Group("/api")
	r.GET("/state", s.getState)
	r.POST("/mode", s.postMode)
	r.POST("/scan", s.postScan)
	r.POST("/select", s.postSelect)
	r.GET("/prefs/:key", s.getPref)
	r.PUT("/prefs/:key", s.putPref)
	r.DELETE("/prefs/:key", s.deletePref)
	r.GET("/health", s.getHealth)

	st := r.Group("/stocks")
	st.GET("/list", s.getStockList)
	st.POST("/custom", s.postCustomStocks)
	st.POST("/reset", s.postResetStocks)
	st.POST("/upload", s.postUploadStocks)

	s.engine.GET("/ws", s.handleWS)
}

// Start serves in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("control API listening", "addr", s.cfg.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("control API stopped", "error", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// ────────────────────────────────────────────────────────────
// Middleware
// ────────────────────────────────────────────────────────────

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/ws" {
			return
		}
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"took", time.Since(start).String())
	}
}

func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && s.originAllowed(c.Request) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Authorization, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// originAllowed accepts same-host requests, requests without an Origin, and
// configured origins.
func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return strings.EqualFold(strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://"), r.Host)
}

// ────────────────────────────────────────────────────────────
// Handlers
// ────────────────────────────────────────────────────────────

func (s *Server) getState(c *gin.Context) {
	st, err := s.deps.Scanner.State(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type modeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func (s *Server) postMode(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m, err := scanner.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deps.Scanner.SetMode(c.Request.Context(), m); err != nil {
		s.fail(c, err)
		return
	}
	if s.deps.OnModeChange != nil {
		s.deps.OnModeChange(m)
	}
	c.JSON(http.StatusOK, gin.H{"mode": m})
}

func (s *Server) postScan(c *gin.Context) {
	if err := s.deps.Scanner.ManualScan(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "scanning"})
}

type selectRequest struct {
	Symbol string `json:"symbol"`
}

func (s *Server) postSelect(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	symbol := offline.CleanSymbol(req.Symbol)
	if err := s.deps.Scanner.Select(c.Request.Context(), symbol); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"selected": symbol})
}

func (s *Server) getPref(c *gin.Context) {
	if s.deps.Prefs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "preferences disabled"})
		return
	}
	raw, ok := s.deps.Prefs.Raw(c.Request.Context(), c.Param("key"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such preference"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

func (s *Server) putPref(c *gin.Context) {
	if s.deps.Prefs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "preferences disabled"})
		return
	}
	var v any
	if err := c.ShouldBindJSON(&v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deps.Prefs.Set(c.Request.Context(), c.Param("key"), v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deletePref(c *gin.Context) {
	if s.deps.Prefs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "preferences disabled"})
		return
	}
	s.deps.Prefs.Delete(c.Request.Context(), c.Param("key"))
	c.Status(http.StatusNoContent)
}

func (s *Server) getHealth(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	rep := s.deps.Health.Report()
	clients := 0
	if s.deps.Hub != nil {
		clients = s.deps.Hub.Clients()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      rep.Status,
		"connections": clients,
		"report":      rep,
	})
}

func (s *Server) getStockList(c *gin.Context) {
	if s.noStocks(c) {
		return
	}
	l, err := s.deps.Stocks.StockList(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

type customStocksRequest struct {
	Name    string   `json:"name" binding:"required"`
	Symbols []string `json:"symbols" binding:"required,min=1"`
}

func (s *Server) postCustomStocks(c *gin.Context) {
	if s.noStocks(c) {
		return
	}
	var req customStocksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.deps.Stocks.SetStockList(c.Request.Context(), req.Name, req.Symbols)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) postResetStocks(c *gin.Context) {
	if s.noStocks(c) {
		return
	}
	res, err := s.deps.Stocks.ResetStockList(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) postUploadStocks(c *gin.Context) {
	if s.noStocks(c) {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Reject files the backend would refuse before spending a round trip.
	entries, err := offline.ParseCSV(bytes.NewReader(data))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(entries) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no valid symbols found in csv"})
		return
	}

	res, err := s.deps.Stocks.UploadStockCSV(c.Request.Context(), fh.Filename, bytes.NewReader(data))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleWS(c *gin.Context) {
	if s.deps.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream disabled"})
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", "error", err)
		return
	}
	lastSeq, _ := strconv.ParseInt(c.Query("last_seq"), 10, 64)
	s.deps.Hub.Serve(conn, lastSeq)
}

func (s *Server) noStocks(c *gin.Context) bool {
	if s.deps.Stocks != nil {
		return false
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backend not configured"})
	return true
}

// fail maps domain errors onto HTTP statuses.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var se *api.StatusError
	switch {
	case errors.Is(err, scanner.ErrScanInProgress):
		status = http.StatusConflict
	case errors.Is(err, scanner.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, scanner.ErrUnknownMode):
		status = http.StatusBadRequest
	case errors.Is(err, scanner.ErrNoBackend), errors.Is(err, scanner.ErrLoopStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, api.ErrBackendUnavailable):
		status = http.StatusBadGateway
	case errors.As(err, &se):
		status = se.Code
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= 500 {
		s.log.Warn("request failed", "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
