package ws

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Yangjianxun1998/convert/internal/metrics"
)

// uploadSession is one in-flight chunked upload. Chunks are written
// sequentially; written doubles as the expected offset of the next chunk.
type uploadSession struct {
	id           string
	fileName     string
	path         string
	declaredSize int64
	written      int64
	file         *os.File
}

func (c *Conn) handleUploadInit(req request) {
	if req.FileName == "" {
		c.sendError("Missing file_name")
		return
	}

	base := filepath.Base(filepath.Clean(req.FileName))
	if base != req.FileName || base == "." || base == ".." {
		c.sendError(fmt.Sprintf("Invalid file name: %s", req.FileName))
		return
	}

	if err := os.MkdirAll(c.hub.cfg.UploadDir, 0o755); err != nil {
		c.sendError(fmt.Sprintf("Failed to initialize upload: %v", err))
		return
	}
	path := filepath.Join(c.hub.cfg.UploadDir, base)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		c.sendError(fmt.Sprintf("Failed to initialize upload: %v", err))
		return
	}

	c.mu.Lock()
	uploadID := fmt.Sprintf("%s_%d", c.id, c.uploadSeq)
	c.uploadSeq++
	c.uploads[uploadID] = &uploadSession{
		id:           uploadID,
		fileName:     base,
		path:         path,
		declaredSize: req.FileSize,
		file:         f,
	}
	c.mu.Unlock()

	metrics.UploadsStarted.Inc()
	c.logger.WithField("upload_id", uploadID).Infof("upload started: %s (%d bytes declared)", base, req.FileSize)
	_ = c.send(uploadInitResponse{Type: "upload_init", UploadID: uploadID, Message: "Upload initialized successfully"})
}

func (c *Conn) handleUploadChunk(req request) {
	if req.UploadID == "" || req.Chunk == "" {
		c.sendError("Missing upload_id or chunk")
		return
	}

	c.mu.Lock()
	sess, ok := c.uploads[req.UploadID]
	c.mu.Unlock()
	if !ok {
		c.sendError(fmt.Sprintf("Upload %s not found", req.UploadID))
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Chunk)
	if err != nil {
		c.sendError("Failed to decode chunk data")
		return
	}
	if req.Offset != sess.written {
		c.sendError(fmt.Sprintf("Chunk offset %d does not match %d bytes received", req.Offset, sess.written))
		return
	}
	if _, err := sess.file.Write(data); err != nil {
		c.sendError(fmt.Sprintf("Failed to write chunk: %v", err))
		return
	}
	sess.written += int64(len(data))
	metrics.UploadBytes.Add(float64(len(data)))

	progress := 0
	if sess.declaredSize > 0 {
		progress = int(sess.written * 100 / sess.declaredSize)
		if progress > 100 {
			progress = 100
		}
	}
	_ = c.send(uploadProgressResponse{
		Type:     "upload_progress",
		UploadID: sess.id,
		Progress: progress,
		Uploaded: sess.written,
		Total:    sess.declaredSize,
	})
}

func (c *Conn) handleUploadComplete(req request) {
	if req.UploadID == "" {
		c.sendError("Missing upload_id")
		return
	}

	c.mu.Lock()
	sess, ok := c.uploads[req.UploadID]
	if ok {
		delete(c.uploads, req.UploadID)
	}
	c.mu.Unlock()
	if !ok {
		c.sendError(fmt.Sprintf("Upload %s not found", req.UploadID))
		return
	}

	if err := sess.file.Close(); err != nil {
		c.logger.Warnf("close upload file %s: %v", sess.path, err)
	}
	info, err := os.Stat(sess.path)
	if err != nil || info.Size() == 0 {
		c.sendError("Uploaded file is empty or does not exist")
		return
	}

	c.logger.WithField("upload_id", sess.id).Infof("upload completed: %s (%d bytes)", sess.path, info.Size())
	_ = c.send(uploadCompleteResponse{
		Type:     "upload_complete",
		UploadID: sess.id,
		FilePath: sess.path,
		FileName: sess.fileName,
		Message:  "File uploaded successfully",
	})
}
