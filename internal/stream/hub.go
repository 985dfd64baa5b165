// Package stream pushes reflection pass reports to websocket watchers.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ashureev/reflection-judge/internal/reflection"
	"github.com/coder/websocket"
)

const (
	defaultBufferSize = 100
	writeTimeout      = 5 * time.Second
)

// Hub fans reflection reports out to connected websocket clients.
type Hub struct {
	mu        sync.RWMutex
	clients   map[int64]*websocket.Conn
	nextID    int64
	broadcast chan reflection.PassReport
	done      chan struct{}
	closeOnce sync.Once
	origins   []string
	logger    *slog.Logger
}

var _ reflection.Observer = (*Hub)(nil)

// NewHub creates a hub and starts its broadcast loop. Cross-origin watchers are
// accepted only from allowedOrigins; with none, only same-origin upgrades pass.
func NewHub(bufferSize int, allowedOrigins []string, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:   make(map[int64]*websocket.Conn),
		broadcast: make(chan reflection.PassReport, bufferSize),
		done:      make(chan struct{}),
		origins:   originHosts(allowedOrigins),
		logger:    logger,
	}
	go h.broadcastLoop()
	return h
}

// Observe queues a report for broadcast. Reports are dropped when the buffer is full.
func (h *Hub) Observe(report reflection.PassReport) {
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.broadcast <- report:
	default:
		h.logger.Warn("[STREAM] Broadcast buffer full, dropping report", "session_id", report.SessionID, "outcome", report.Outcome)
	}
}

// Register adds a connection and returns its id.
func (h *Hub) Register(conn *websocket.Conn) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.clients[h.nextID] = conn
	h.logger.Info("[STREAM] Watcher registered", "conn_id", h.nextID)
	return h.nextID
}

// Unregister removes a connection.
func (h *Hub) Unregister(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[id]; ok {
		delete(h.clients, id)
		h.logger.Info("[STREAM] Watcher unregistered", "conn_id", id)
	}
}

// Count returns the number of connected watchers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops the broadcast loop and closes every watcher.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		defer h.mu.Unlock()
		for id, conn := range h.clients {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			delete(h.clients, id)
		}
	})
}

func (h *Hub) broadcastLoop() {
	for {
		select {
		case <-h.done:
			return
		case report := <-h.broadcast:
			data, err := json.Marshal(report)
			if err != nil {
				h.logger.Error("[STREAM] Failed to marshal report", "error", err)
				continue
			}

			// Snapshot connections to avoid holding RLock during writes
			h.mu.RLock()
			conns := make(map[int64]*websocket.Conn, len(h.clients))
			for id, c := range h.clients {
				conns[id] = c
			}
			h.mu.RUnlock()

			for id, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					h.logger.Debug("[STREAM] Write failed, dropping watcher", "conn_id", id, "error", err)
					h.Unregister(id)
				}
			}
		}
	}
}

// ServeHTTP upgrades the request and streams reports until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Warn("[STREAM] Rejected WebSocket upgrade", "origin", r.Header.Get("Origin"), "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	id := h.Register(ws)
	defer h.Unregister(id)

	// Watchers only receive; CloseRead handles control frames and reports disconnects.
	ctx := ws.CloseRead(r.Context())
	select {
	case <-ctx.Done():
	case <-h.done:
	}
}

// originHosts reduces configured origins to the host patterns websocket.Accept
// matches against.
func originHosts(origins []string) []string {
	var hosts []string
	for _, origin := range origins {
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
			continue
		}
		hosts = append(hosts, origin)
	}
	return hosts
}
