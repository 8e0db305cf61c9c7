package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jeongseonghan/gam-linksim/internal/config"
	"github.com/jeongseonghan/gam-linksim/internal/link"
	"github.com/jeongseonghan/gam-linksim/internal/metrics"
)

// maxRecent bounds the result history kept for /api/results.
const maxRecent = 256

// Handlers holds the HTTP API handlers. It implements link.Observer so it
// can sit directly in the driver's observer list.
type Handlers struct {
	cfg     *config.Config
	driver  *link.Driver
	metrics *metrics.Metrics
	hub     *WSHub
	runID   string

	mu     sync.Mutex
	recent []link.Result
}

// NewHandlers creates new API handlers.
func NewHandlers(cfg *config.Config, driver *link.Driver, m *metrics.Metrics, runID string) *Handlers {
	return &Handlers{
		cfg:     cfg,
		driver:  driver,
		metrics: m,
		hub:     NewWSHub(),
		runID:   runID,
	}
}

// Hub returns the websocket hub.
func (h *Handlers) Hub() *WSHub {
	return h.hub
}

// Observe records the result and forwards it to websocket clients.
func (h *Handlers) Observe(r link.Result) {
	h.mu.Lock()
	if len(h.recent) == maxRecent {
		copy(h.recent, h.recent[1:])
		h.recent = h.recent[:maxRecent-1]
	}
	h.recent = append(h.recent, r)
	h.mu.Unlock()

	h.hub.Observe(r)
}

// HandleWebSocket handles WebSocket upgrade requests.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WARN] WebSocket upgrade error: %v", err)
		return
	}

	h.hub.AddClient(conn)

	// Drain reads so close frames are processed.
	go func() {
		defer h.hub.RemoveClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

type statsResponse struct {
	RunID   string       `json:"run_id"`
	State   string       `json:"state"`
	SNRdB   float64      `json:"snr_db"`
	Summary link.Summary `json:"summary"`
}

// HandleStats returns the live aggregate.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, statsResponse{
		RunID:   h.runID,
		State:   h.driver.State().String(),
		SNRdB:   h.cfg.Channel.SNRdB,
		Summary: h.driver.Stats().Summary(),
	})
}

// HandleConfig returns the active configuration as YAML.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := yaml.Marshal(h.cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(data)
}

// HandleResults returns the most recent results, newest last.
// ?limit=N trims the list.
func (h *Handlers) HandleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := maxRecent
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	h.mu.Lock()
	from := 0
	if len(h.recent) > limit {
		from = len(h.recent) - limit
	}
	out := append([]link.Result{}, h.recent[from:]...)
	h.mu.Unlock()

	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[ERROR] encode response: %v", err)
	}
}
