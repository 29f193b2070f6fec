package ws

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Yangjianxun1998/convert/internal/ffmpeg"
	"github.com/Yangjianxun1998/convert/internal/metrics"
	"github.com/Yangjianxun1998/convert/internal/service"
	"github.com/Yangjianxun1998/convert/internal/storage"
)

// Converter runs media conversions and reports whether the tooling is usable.
type Converter interface {
	Available() (available bool, message string)
	Convert(ctx context.Context, req ffmpeg.Request, sink ffmpeg.Sink) error
}

// Config holds the hub's runtime settings.
type Config struct {
	// UploadDir is where client uploads land.
	UploadDir string
	// OutputDir anchors relative conversion output paths.
	OutputDir string
	// MaxConcurrent caps conversions running at once across all connections.
	MaxConcurrent int
	// Archive configures optional copying of finished outputs to object
	// storage; an empty bucket disables it.
	Archive storage.UploadOptions
	Logger  *logrus.Logger
}

// Hub owns all live websocket connections and the shared conversion slots.
type Hub struct {
	cfg      Config
	runner   Converter
	history  service.TaskService // nil disables persistence
	store    storage.Service     // nil disables archival
	logger   *logrus.Logger
	upgrader websocket.Upgrader

	sem chan struct{}
	wg  sync.WaitGroup

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

func NewHub(cfg Config, runner Converter, history service.TaskService, store storage.Service) *Hub {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Hub{
		cfg:     cfg,
		runner:  runner,
		history: history,
		store:   store,
		logger:  cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sem:   make(chan struct{}, cfg.MaxConcurrent),
		conns: make(map[*Conn]struct{}),
	}
}

// HandleWS upgrades the request to a websocket connection and serves it until
// the peer disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("websocket upgrade failed: %v", err)
		return
	}
	conn := h.newConn(sock, r.RemoteAddr)
	h.register(conn)
	conn.serve()
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	metrics.ConnectionsActive.Inc()
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	if ok {
		delete(h.conns, c)
	}
	h.mu.Unlock()
	if ok {
		metrics.ConnectionsActive.Dec()
	}
}

func (h *Hub) snapshot() []*Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	return conns
}

// Broadcast sends a message to every live connection. Connections whose
// socket rejects the write are torn down and dropped from the set.
func (h *Hub) Broadcast(v any) {
	for _, c := range h.snapshot() {
		if err := c.send(v); err != nil {
			h.logger.WithField("conn_id", c.id).Debugf("pruning dead connection: %v", err)
			c.teardown()
		}
	}
}

// BroadcastNotice sends a typed informational message to every connection.
func (h *Hub) BroadcastNotice(noticeType, message string) {
	h.Broadcast(noticeResponse{Type: noticeType, Message: message})
}

// Shutdown tears down every connection, cancelling their tasks, and waits for
// in-flight conversion goroutines to drain or the context to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	for _, c := range h.snapshot() {
		c.teardown()
	}
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
