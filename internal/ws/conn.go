package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/lithammer/shortuuid/v4"
	"github.com/sirupsen/logrus"
)

// socket is the subset of *websocket.Conn the connection handler needs.
type socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// Conn is one client session. All state it owns (tasks, uploads, counters)
// dies with it.
type Conn struct {
	id     string
	hub    *Hub
	sock   socket
	logger *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu        sync.Mutex
	taskSeq   int
	uploadSeq int
	tasks     map[string]*taskHandle
	uploads   map[string]*uploadSession

	teardownOnce sync.Once
}

func (h *Hub) newConn(sock socket, remote string) *Conn {
	id := shortuuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		id:      id,
		hub:     h,
		sock:    sock,
		logger:  h.logger.WithFields(logrus.Fields{"conn_id": id, "remote": remote}),
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(map[string]*taskHandle),
		uploads: make(map[string]*uploadSession),
	}
}

func (c *Conn) serve() {
	c.logger.Info("connection established")
	defer c.teardown()
	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warnf("connection read failed: %v", err)
			} else {
				c.logger.Info("connection closed")
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Conn) handleMessage(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("panic while handling message: %v", r)
			c.sendError(fmt.Sprintf("Internal server error: %v", r))
		}
	}()

	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("Invalid JSON format")
		return
	}

	switch req.Action {
	case actionConvert:
		c.handleConvert(req)
	case actionCancel:
		c.handleCancel(req)
	case actionCheckFFmpeg:
		c.handleCheckFFmpeg()
	case actionUpload:
		c.handleUploadInit(req)
	case actionUploadChunk:
		c.handleUploadChunk(req)
	case actionUploadComplete:
		c.handleUploadComplete(req)
	default:
		c.sendError(fmt.Sprintf("Unknown action: %s", req.Action))
	}
}

func (c *Conn) handleCheckFFmpeg() {
	available, msg := c.hub.runner.Available()
	_ = c.send(ffmpegCheckResponse{Type: "ffmpeg_check", Available: available, Message: msg})
}

// send serializes the message onto the socket. Writes are serialized because
// conversion goroutines emit progress concurrently with the read loop's
// direct replies.
func (c *Conn) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.sock.WriteJSON(v)
}

func (c *Conn) sendError(message string) {
	_ = c.send(errorResponse{Type: "error", Message: message})
}

// teardown releases everything the connection owns: running tasks are
// cancelled and incomplete uploads are closed and deleted. Safe to call from
// the read loop, the hub, or both.
func (c *Conn) teardown() {
	c.teardownOnce.Do(func() {
		c.hub.unregister(c)
		c.cancel()

		c.mu.Lock()
		handles := make([]*taskHandle, 0, len(c.tasks))
		for _, h := range c.tasks {
			handles = append(handles, h)
		}
		c.tasks = make(map[string]*taskHandle)
		sessions := make([]*uploadSession, 0, len(c.uploads))
		for _, s := range c.uploads {
			sessions = append(sessions, s)
		}
		c.uploads = make(map[string]*uploadSession)
		c.mu.Unlock()

		for _, h := range handles {
			h.cancelled.Store(true)
			h.cancel()
		}
		for _, s := range sessions {
			_ = s.file.Close()
			// partial uploads are not resumable
			if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
				c.logger.Warnf("remove partial upload %s: %v", s.path, err)
			}
		}

		_ = c.sock.Close()
		c.logger.Info("connection torn down")
	})
}
