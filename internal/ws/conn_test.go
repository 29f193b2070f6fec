package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yangjianxun1998/convert/internal/domain"
	"github.com/Yangjianxun1998/convert/internal/ffmpeg"
)

// fakeSocket records everything written to it and feeds reads from a channel.
type fakeSocket struct {
	mu         sync.Mutex
	sent       []map[string]any
	failWrites bool
	closed     bool
	readCh     chan []byte
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{readCh: make(chan []byte)}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	data, ok := <-s.readCh
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return websocket.TextMessage, data, nil
}

func (s *fakeSocket) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errors.New("write on closed connection")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	s.sent = append(s.sent, m)
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) messages() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *fakeSocket) lastMessage() map[string]any {
	msgs := s.messages()
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (s *fakeSocket) firstOfType(msgType string) map[string]any {
	for _, m := range s.messages() {
		if m["type"] == msgType {
			return m
		}
	}
	return nil
}

// fakeConverter is a Converter whose behavior is supplied per test.
type fakeConverter struct {
	available bool
	message   string

	convertFunc func(ctx context.Context, req ffmpeg.Request, sink ffmpeg.Sink) error

	mu       sync.Mutex
	requests []ffmpeg.Request
}

func (f *fakeConverter) Available() (bool, string) {
	return f.available, f.message
}

func (f *fakeConverter) Convert(ctx context.Context, req ffmpeg.Request, sink ffmpeg.Sink) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.convertFunc != nil {
		return f.convertFunc(ctx, req, sink)
	}
	sink.Emit(domain.ProgressEvent{Status: domain.EventProgress, Progress: 50, Time: 1, Duration: 2})
	sink.Emit(domain.ProgressEvent{Status: domain.EventCompleted, Output: req.Output, Message: "Conversion completed successfully"})
	return nil
}

func (f *fakeConverter) lastRequest() ffmpeg.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return ffmpeg.Request{}
	}
	return f.requests[len(f.requests)-1]
}

func newTestConn(t *testing.T, conv Converter, cfg Config) (*Hub, *Conn, *fakeSocket) {
	t.Helper()
	if cfg.Logger == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		cfg.Logger = logger
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = t.TempDir()
	}
	h := NewHub(cfg, conv, nil, nil)
	sock := newFakeSocket()
	c := h.newConn(sock, "test")
	h.register(c)
	t.Cleanup(c.teardown)
	return h, c, sock
}

func (c *Conn) activeTasks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond, what)
}

func TestHandleMessageErrors(t *testing.T) {
	t.Run("invalid json", func(t *testing.T) {
		_, c, sock := newTestConn(t, &fakeConverter{}, Config{})
		c.handleMessage([]byte("{not json"))
		assert.Equal(t, map[string]any{"type": "error", "message": "Invalid JSON format"}, sock.lastMessage())
	})

	t.Run("unknown action", func(t *testing.T) {
		_, c, sock := newTestConn(t, &fakeConverter{}, Config{})
		c.handleMessage([]byte(`{"action": "frobnicate"}`))
		assert.Equal(t, "Unknown action: frobnicate", sock.lastMessage()["message"])
	})
}

func TestCheckFFmpeg(t *testing.T) {
	t.Run("available", func(t *testing.T) {
		conv := &fakeConverter{available: true, message: "FFmpeg is available"}
		_, c, sock := newTestConn(t, conv, Config{})
		c.handleMessage([]byte(`{"action": "check_ffmpeg"}`))

		msg := sock.lastMessage()
		assert.Equal(t, "ffmpeg_check", msg["type"])
		assert.Equal(t, true, msg["available"])
		assert.Equal(t, "FFmpeg is available", msg["message"])
	})

	t.Run("missing", func(t *testing.T) {
		conv := &fakeConverter{available: false, message: "FFmpeg is not installed or not in PATH"}
		_, c, sock := newTestConn(t, conv, Config{})
		c.handleMessage([]byte(`{"action": "check_ffmpeg"}`))

		msg := sock.lastMessage()
		assert.Equal(t, false, msg["available"])
		assert.Equal(t, "FFmpeg is not installed or not in PATH", msg["message"])
	})
}

func TestConvert(t *testing.T) {
	t.Run("missing fields", func(t *testing.T) {
		_, c, sock := newTestConn(t, &fakeConverter{}, Config{})
		c.handleMessage([]byte(`{"action": "convert", "input_file": "in.avi"}`))
		assert.Equal(t, "Missing input_file or output_file", sock.lastMessage()["message"])
	})

	t.Run("full flow", func(t *testing.T) {
		conv := &fakeConverter{available: true}
		outDir := t.TempDir()
		_, c, sock := newTestConn(t, conv, Config{OutputDir: outDir})

		c.handleMessage([]byte(`{"action": "convert", "input_file": "/tmp/in.avi", "output_file": "out.mp4"}`))
		waitFor(t, func() bool { return c.activeTasks() == 0 }, "task should finish")

		msgs := sock.messages()
		require.GreaterOrEqual(t, len(msgs), 3)

		started := msgs[0]
		assert.Equal(t, "task_started", started["type"])
		assert.Equal(t, "Conversion task started", started["message"])
		taskID, _ := started["task_id"].(string)
		assert.NotEmpty(t, taskID)

		progress := msgs[1]
		assert.Equal(t, "progress", progress["type"])
		assert.Equal(t, taskID, progress["task_id"])
		assert.Equal(t, "progress", progress["status"])
		assert.Equal(t, float64(50), progress["progress"])

		completed := msgs[2]
		assert.Equal(t, "completed", completed["status"])
		assert.Equal(t, taskID, completed["task_id"])

		// relative outputs land under the configured output dir
		assert.Equal(t, filepath.Join(outDir, "out.mp4"), conv.lastRequest().Output)
		assert.Equal(t, "/tmp/in.avi", conv.lastRequest().Input)
	})

	t.Run("absolute output path is kept", func(t *testing.T) {
		conv := &fakeConverter{available: true}
		_, c, _ := newTestConn(t, conv, Config{OutputDir: t.TempDir()})

		c.handleMessage([]byte(`{"action": "convert", "input_file": "/tmp/in.avi", "output_file": "/abs/out.mp4"}`))
		waitFor(t, func() bool { return c.activeTasks() == 0 }, "task should finish")

		assert.Equal(t, "/abs/out.mp4", conv.lastRequest().Output)
	})

	t.Run("task ids are sequential per connection", func(t *testing.T) {
		conv := &fakeConverter{available: true}
		_, c, sock := newTestConn(t, conv, Config{})

		c.handleMessage([]byte(`{"action": "convert", "input_file": "a", "output_file": "b"}`))
		c.handleMessage([]byte(`{"action": "convert", "input_file": "a", "output_file": "b"}`))
		waitFor(t, func() bool { return c.activeTasks() == 0 }, "tasks should finish")

		var ids []string
		for _, m := range sock.messages() {
			if m["type"] == "task_started" {
				ids = append(ids, m["task_id"].(string))
			}
		}
		require.Len(t, ids, 2)
		assert.Equal(t, fmt.Sprintf("%s_0", c.id), ids[0])
		assert.Equal(t, fmt.Sprintf("%s_1", c.id), ids[1])
	})

	t.Run("failure forwards the error event", func(t *testing.T) {
		conv := &fakeConverter{
			available: true,
			convertFunc: func(ctx context.Context, req ffmpeg.Request, sink ffmpeg.Sink) error {
				sink.Emit(domain.ProgressEvent{Status: domain.EventError, Message: "Input file not found: /tmp/in.avi"})
				return fmt.Errorf("%w: Input file not found: /tmp/in.avi", domain.ErrInvalidInput)
			},
		}
		_, c, sock := newTestConn(t, conv, Config{})

		c.handleMessage([]byte(`{"action": "convert", "input_file": "/tmp/in.avi", "output_file": "out.mp4"}`))
		waitFor(t, func() bool { return sock.firstOfType("progress") != nil }, "error event should arrive")

		errEvent := sock.firstOfType("progress")
		assert.Equal(t, "error", errEvent["status"])
		assert.Contains(t, errEvent["message"], "not found")
	})
}

func TestCancel(t *testing.T) {
	t.Run("missing task id", func(t *testing.T) {
		_, c, sock := newTestConn(t, &fakeConverter{}, Config{})
		c.handleMessage([]byte(`{"action": "cancel"}`))
		assert.Equal(t, "Missing task_id", sock.lastMessage()["message"])
	})

	t.Run("unknown task", func(t *testing.T) {
		_, c, sock := newTestConn(t, &fakeConverter{}, Config{})
		c.handleMessage([]byte(`{"action": "cancel", "task_id": "ghost_7"}`))
		assert.Equal(t, "Task ghost_7 not found", sock.lastMessage()["message"])
	})

	t.Run("active task is cancelled and never completes", func(t *testing.T) {
		started := make(chan struct{})
		conv := &fakeConverter{
			available: true,
			convertFunc: func(ctx context.Context, req ffmpeg.Request, sink ffmpeg.Sink) error {
				close(started)
				<-ctx.Done()
				// a racing completion must never reach the client
				sink.Emit(domain.ProgressEvent{Status: domain.EventCompleted, Output: req.Output})
				return fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
			},
		}
		_, c, sock := newTestConn(t, conv, Config{})

		c.handleMessage([]byte(`{"action": "convert", "input_file": "a", "output_file": "b"}`))
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("conversion never started")
		}

		taskID := sock.firstOfType("task_started")["task_id"].(string)
		c.handleMessage([]byte(fmt.Sprintf(`{"action": "cancel", "task_id": %q}`, taskID)))

		cancelled := sock.firstOfType("task_cancelled")
		require.NotNil(t, cancelled)
		assert.Equal(t, taskID, cancelled["task_id"])
		assert.Equal(t, "Conversion task cancelled", cancelled["message"])

		waitFor(t, func() bool { return c.activeTasks() == 0 }, "task goroutine should exit")
		for _, m := range sock.messages() {
			assert.NotEqual(t, "completed", m["status"], "no completion may follow a cancel")
		}

		// a second cancel for the same id no longer finds it
		c.handleMessage([]byte(fmt.Sprintf(`{"action": "cancel", "task_id": %q}`, taskID)))
		assert.Equal(t, fmt.Sprintf("Task %s not found", taskID), sock.lastMessage()["message"])
	})
}

func chunkMessage(uploadID string, offset int, data string) []byte {
	return []byte(fmt.Sprintf(`{"action": "upload_chunk", "upload_id": %q, "offset": %d, "chunk": %q}`,
		uploadID, offset, base64.StdEncoding.EncodeToString([]byte(data))))
}

func TestUpload(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		dir := t.TempDir()
		_, c, sock := newTestConn(t, &fakeConverter{}, Config{UploadDir: dir})

		c.handleMessage([]byte(`{"action": "upload", "file_name": "clip.avi", "file_size": 11}`))
		init := sock.lastMessage()
		require.Equal(t, "upload_init", init["type"])
		uploadID := init["upload_id"].(string)
		require.NotEmpty(t, uploadID)

		c.handleMessage(chunkMessage(uploadID, 0, "hello"))
		progress := sock.lastMessage()
		assert.Equal(t, "upload_progress", progress["type"])
		assert.Equal(t, float64(45), progress["progress"])
		assert.Equal(t, float64(5), progress["uploaded"])
		assert.Equal(t, float64(11), progress["total"])

		c.handleMessage(chunkMessage(uploadID, 5, " world"))
		assert.Equal(t, float64(100), sock.lastMessage()["progress"])

		c.handleMessage([]byte(fmt.Sprintf(`{"action": "upload_complete", "upload_id": %q}`, uploadID)))
		done := sock.lastMessage()
		require.Equal(t, "upload_complete", done["type"])
		assert.Equal(t, "clip.avi", done["file_name"])
		assert.Equal(t, filepath.Join(dir, "clip.avi"), done["file_path"])
		assert.Equal(t, "File uploaded successfully", done["message"])

		content, err := os.ReadFile(filepath.Join(dir, "clip.avi"))
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(content))
	})

	t.Run("path traversal is rejected", func(t *testing.T) {
		dir := t.TempDir()
		_, c, sock := newTestConn(t, &fakeConverter{}, Config{UploadDir: dir})

		for _, name := range []string{"../evil.avi", "a/b.avi", "..", "/etc/passwd"} {
			c.handleMessage([]byte(fmt.Sprintf(`{"action": "upload", "file_name": %q}`, name)))
			assert.Contains(t, sock.lastMessage()["message"], "Invalid file name", "name %q", name)
		}
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("missing file name", func(t *testing.T) {
		_, c, sock := newTestConn(t, &fakeConverter{}, Config{})
		c.handleMessage([]byte(`{"action": "upload"}`))
		assert.Equal(t, "Missing file_name", sock.lastMessage()["message"])
	})

	t.Run("unknown upload id", func(t *testing.T) {
		_, c, sock := newTestConn(t, &fakeConverter{}, Config{})

		c.handleMessage(chunkMessage("ghost_0", 0, "data"))
		assert.Equal(t, "Upload ghost_0 not found", sock.lastMessage()["message"])

		c.handleMessage([]byte(`{"action": "upload_complete", "upload_id": "ghost_0"}`))
		assert.Equal(t, "Upload ghost_0 not found", sock.lastMessage()["message"])
	})

	t.Run("bad chunk encoding", func(t *testing.T) {
		_, c, sock := newTestConn(t, &fakeConverter{}, Config{})
		c.handleMessage([]byte(`{"action": "upload", "file_name": "clip.avi", "file_size": 4}`))
		uploadID := sock.lastMessage()["upload_id"].(string)

		c.handleMessage([]byte(fmt.Sprintf(`{"action": "upload_chunk", "upload_id": %q, "offset": 0, "chunk": "not base64!!!"}`, uploadID)))
		assert.Equal(t, "Failed to decode chunk data", sock.lastMessage()["message"])
	})

	t.Run("offset mismatch leaves the file untouched", func(t *testing.T) {
		dir := t.TempDir()
		_, c, sock := newTestConn(t, &fakeConverter{}, Config{UploadDir: dir})

		c.handleMessage([]byte(`{"action": "upload", "file_name": "clip.avi", "file_size": 10}`))
		uploadID := sock.lastMessage()["upload_id"].(string)

		c.handleMessage(chunkMessage(uploadID, 0, "hello"))
		c.handleMessage(chunkMessage(uploadID, 3, "xxx"))
		assert.Contains(t, sock.lastMessage()["message"], "offset 3 does not match 5")

		// the stream resumes at the correct offset
		c.handleMessage(chunkMessage(uploadID, 5, "world"))
		c.handleMessage([]byte(fmt.Sprintf(`{"action": "upload_complete", "upload_id": %q}`, uploadID)))

		content, err := os.ReadFile(filepath.Join(dir, "clip.avi"))
		require.NoError(t, err)
		assert.Equal(t, "helloworld", string(content))
	})

	t.Run("complete on empty upload", func(t *testing.T) {
		_, c, sock := newTestConn(t, &fakeConverter{}, Config{})
		c.handleMessage([]byte(`{"action": "upload", "file_name": "clip.avi", "file_size": 4}`))
		uploadID := sock.lastMessage()["upload_id"].(string)

		c.handleMessage([]byte(fmt.Sprintf(`{"action": "upload_complete", "upload_id": %q}`, uploadID)))
		assert.Equal(t, "Uploaded file is empty or does not exist", sock.lastMessage()["message"])
	})
}

func TestTeardown(t *testing.T) {
	t.Run("cancels tasks and removes partial uploads", func(t *testing.T) {
		dir := t.TempDir()
		converterDone := make(chan struct{})
		started := make(chan struct{})
		conv := &fakeConverter{
			available: true,
			convertFunc: func(ctx context.Context, req ffmpeg.Request, sink ffmpeg.Sink) error {
				close(started)
				<-ctx.Done()
				close(converterDone)
				return fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
			},
		}
		h, c, sock := newTestConn(t, conv, Config{UploadDir: dir})

		c.handleMessage([]byte(`{"action": "convert", "input_file": "a", "output_file": "b"}`))
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("conversion never started")
		}

		c.handleMessage([]byte(`{"action": "upload", "file_name": "partial.avi", "file_size": 100}`))
		uploadID := sock.lastMessage()["upload_id"].(string)
		c.handleMessage(chunkMessage(uploadID, 0, "some bytes"))
		require.FileExists(t, filepath.Join(dir, "partial.avi"))

		c.teardown()

		select {
		case <-converterDone:
		case <-time.After(2 * time.Second):
			t.Fatal("running task was not cancelled on teardown")
		}
		assert.NoFileExists(t, filepath.Join(dir, "partial.avi"))

		h.mu.Lock()
		remaining := len(h.conns)
		h.mu.Unlock()
		assert.Zero(t, remaining)
	})

	t.Run("is idempotent", func(t *testing.T) {
		_, c, _ := newTestConn(t, &fakeConverter{}, Config{})
		c.teardown()
		c.teardown()
	})
}

func TestHubBroadcast(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	h := NewHub(Config{UploadDir: t.TempDir(), Logger: logger}, &fakeConverter{}, nil, nil)

	good := newFakeSocket()
	goodConn := h.newConn(good, "good")
	h.register(goodConn)

	dead := newFakeSocket()
	dead.failWrites = true
	deadConn := h.newConn(dead, "dead")
	h.register(deadConn)

	h.BroadcastNotice("server_shutdown", "Server is shutting down")

	msg := good.lastMessage()
	require.NotNil(t, msg)
	assert.Equal(t, "server_shutdown", msg["type"])
	assert.Equal(t, "Server is shutting down", msg["message"])

	h.mu.Lock()
	_, goodAlive := h.conns[goodConn]
	_, deadAlive := h.conns[deadConn]
	h.mu.Unlock()
	assert.True(t, goodAlive)
	assert.False(t, deadAlive)

	goodConn.teardown()
}

func TestHubShutdownWaitsForTasks(t *testing.T) {
	conv := &fakeConverter{
		available: true,
		convertFunc: func(ctx context.Context, req ffmpeg.Request, sink ffmpeg.Sink) error {
			<-ctx.Done()
			return fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
		},
	}
	h, c, _ := newTestConn(t, conv, Config{})

	c.handleMessage([]byte(`{"action": "convert", "input_file": "a", "output_file": "b"}`))
	waitFor(t, func() bool { return c.activeTasks() == 1 }, "task should be registered")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))
	assert.Zero(t, c.activeTasks())
}
