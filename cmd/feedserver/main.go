// cmd/feedserver: demo push-channel server.
// Serves the scanner's live-mode feed without a real backend: an "initial"
// frame with the offline universe on connect, then periodic "price_update"
// frames from a small random walk.
//
// Config (env vars):
//
//	FEED_SERVER_ADDR  listen address (default: ":8000")
//	FEED_INTERVAL_MS  update interval milliseconds (default: "1000")
//	FEED_MOVERS       instruments moved per update (default: "5")
//	FEED_CATALOG      optional YAML catalog path
package main

import (
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/Atique-Syed1/Trading-bot/internal/feed"
	"github.com/Atique-Syed1/Trading-bot/internal/model"
	"github.com/Atique-Syed1/Trading-bot/internal/offline"
)

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu       sync.RWMutex
	clients  map[*websocket.Conn]chan []byte
	universe []model.Instrument
}

func newHub(universe []model.Instrument) *hub {
	return &hub{
		clients:  make(map[*websocket.Conn]chan []byte),
		universe: universe,
	}
}

// register queues the current universe as the client's first frame.
func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	if b, err := feed.SnapshotFrame(h.universe).Marshal(); err == nil {
		ch <- b
	}
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcastLocked(msg []byte) {
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client: drop update
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[feedserver] upgrade error: %v", err)
			return
		}
		log.Printf("[feedserver] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[feedserver] client disconnected: %s", r.RemoteAddr)
		}()

		// Drain reads so close frames are noticed.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.unregister(conn)
					return
				}
			}
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Update generator ─────────────────────────────────────────────────────────

// walk moves price by up to ±0.5% and returns the delta, with price and
// change rounded to paise and the percentage to two places.
func walk(rng *rand.Rand, sym string, price float64) model.PriceDelta {
	old := decimal.NewFromFloat(price)
	pct := decimal.NewFromFloat((rng.Float64()*2 - 1) * 0.005)
	next := old.Add(old.Mul(pct)).Round(2)
	if next.LessThan(decimal.NewFromFloat(0.01)) {
		next = decimal.NewFromFloat(0.01)
	}
	change := next.Sub(old).Round(2)
	changePct := decimal.Zero
	if !old.IsZero() {
		changePct = change.Div(old).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return model.PriceDelta{
		Symbol:        sym,
		Price:         next.InexactFloat64(),
		Change:        change.InexactFloat64(),
		ChangePercent: changePct.InexactFloat64(),
		OldPrice:      price,
	}
}

// step builds one price_update frame and folds it into the universe.
func (h *hub) step(rng *rand.Rand, movers int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.universe) == 0 {
		return
	}
	if movers > len(h.universe) {
		movers = len(h.universe)
	}
	deltas := make([]model.PriceDelta, 0, movers)
	for _, i := range rng.Perm(len(h.universe))[:movers] {
		inst := &h.universe[i]
		d := walk(rng, inst.Symbol, inst.Price)
		inst.Price = d.Price
		if len(inst.PriceHistory) > 0 {
			inst.PriceHistory = append(inst.PriceHistory[1:], d.Price)
		}
		deltas = append(deltas, d)
	}

	b, err := feed.DeltaFrame(time.Now(), deltas).Marshal()
	if err != nil {
		log.Printf("[feedserver] encode error: %v", err)
		return
	}
	h.broadcastLocked(b)
}

func runGenerator(h *hub, interval time.Duration, movers int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for range ticker.C {
		h.step(rng, movers)
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[feedserver] starting demo feed server...")

	addr := envOrDefault("FEED_SERVER_ADDR", ":8000")
	intervalMs := envIntOrDefault("FEED_INTERVAL_MS", 1000)
	movers := envIntOrDefault("FEED_MOVERS", 5)

	catalog := offline.DefaultCatalog()
	if path := os.Getenv("FEED_CATALOG"); path != "" {
		c, err := offline.LoadCatalog(path)
		if err != nil {
			log.Fatalf("[feedserver] %v", err)
		}
		catalog = c
	}
	universe := offline.NewGenerator(time.Now().UnixNano()).Generate(catalog)
	log.Printf("[feedserver] universe: %d instruments", len(universe))
	log.Printf("[feedserver] update interval: %dms, %d movers", intervalMs, movers)

	h := newHub(universe)
	go runGenerator(h, time.Duration(intervalMs)*time.Millisecond, movers)

	http.HandleFunc("/ws/prices", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"feedserver"}`)
	})

	log.Printf("[feedserver] listening on %s  (WebSocket: ws://localhost%s/ws/prices)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[feedserver] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
