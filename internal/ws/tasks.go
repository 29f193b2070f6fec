package ws

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/Yangjianxun1998/convert/internal/domain"
	"github.com/Yangjianxun1998/convert/internal/ffmpeg"
	"github.com/Yangjianxun1998/convert/internal/metrics"
)

// taskHandle tracks one running conversion so a later cancel message (or
// connection teardown) can reach it.
type taskHandle struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
	recordID  string

	lastPersist time.Time
}

func (c *Conn) handleConvert(req request) {
	if req.InputFile == "" || req.OutputFile == "" {
		c.sendError("Missing input_file or output_file")
		return
	}

	output := req.OutputFile
	if !filepath.IsAbs(output) && c.hub.cfg.OutputDir != "" {
		output = filepath.Join(c.hub.cfg.OutputDir, output)
	}

	taskCtx, cancel := context.WithCancel(c.ctx)
	handle := &taskHandle{cancel: cancel}

	c.mu.Lock()
	taskID := fmt.Sprintf("%s_%d", c.id, c.taskSeq)
	c.taskSeq++
	c.tasks[taskID] = handle
	c.mu.Unlock()

	if c.hub.history != nil {
		record := &domain.Task{
			TaskID:     taskID,
			ConnID:     c.id,
			InputPath:  req.InputFile,
			OutputPath: output,
			Options:    req.Options.WithDefaults(),
			Status:     domain.TaskStatusRunning,
		}
		if err := c.hub.history.Record(context.Background(), record); err != nil {
			c.logger.Warnf("record task %s: %v", taskID, err)
		} else {
			handle.recordID = record.ID
		}
	}

	c.logger.WithField("task_id", taskID).Infof("conversion requested: %s -> %s", req.InputFile, output)
	_ = c.send(taskStartedResponse{Type: "task_started", TaskID: taskID, Message: "Conversion task started"})
	metrics.TasksStarted.Inc()

	convReq := ffmpeg.Request{Input: req.InputFile, Output: output, Options: req.Options}
	c.hub.wg.Add(1)
	go c.runTask(taskCtx, taskID, handle, convReq)
}

func (c *Conn) runTask(ctx context.Context, taskID string, handle *taskHandle, req ffmpeg.Request) {
	defer c.hub.wg.Done()
	defer handle.cancel()
	defer c.removeTask(taskID)

	// wait for a conversion slot; a cancel can land while queued
	select {
	case <-ctx.Done():
		c.finishTask(handle, domain.TaskStatusCancelled, "", "")
		return
	case c.hub.sem <- struct{}{}:
	}
	defer func() { <-c.hub.sem }()

	sink := ffmpeg.SinkFunc(func(ev domain.ProgressEvent) {
		if handle.cancelled.Load() {
			return
		}
		_ = c.send(progressResponse{Type: "progress", TaskID: taskID, ProgressEvent: ev})
		if ev.Status == domain.EventProgress {
			c.persistProgress(handle, ev.Progress)
		}
	})

	err := c.hub.runner.Convert(ctx, req, sink)
	switch {
	case err == nil:
		c.logger.WithField("task_id", taskID).Info("conversion completed")
		c.finishTask(handle, domain.TaskStatusCompleted, req.Output, "")
		c.archiveOutput(handle, req.Output)
	case errors.Is(err, domain.ErrCancelled) || ctx.Err() != nil:
		c.logger.WithField("task_id", taskID).Info("conversion cancelled")
		c.finishTask(handle, domain.TaskStatusCancelled, "", "")
	default:
		c.logger.WithField("task_id", taskID).Warnf("conversion failed: %v", err)
		c.finishTask(handle, domain.TaskStatusFailed, "", err.Error())
	}
}

func (c *Conn) handleCancel(req request) {
	if req.TaskID == "" {
		c.sendError("Missing task_id")
		return
	}

	c.mu.Lock()
	handle, ok := c.tasks[req.TaskID]
	if ok {
		delete(c.tasks, req.TaskID)
	}
	c.mu.Unlock()

	if !ok {
		c.sendError(fmt.Sprintf("Task %s not found", req.TaskID))
		return
	}

	// flag first so no completed event slips out after the cancel ack
	handle.cancelled.Store(true)
	handle.cancel()
	c.logger.WithField("task_id", req.TaskID).Info("task cancelled by client")
	_ = c.send(taskCancelledResponse{Type: "task_cancelled", TaskID: req.TaskID, Message: "Conversion task cancelled"})
}

func (c *Conn) removeTask(taskID string) {
	c.mu.Lock()
	delete(c.tasks, taskID)
	c.mu.Unlock()
}

func (c *Conn) finishTask(handle *taskHandle, status domain.TaskStatus, output, errMsg string) {
	metrics.TasksFinished.WithLabelValues(string(status)).Inc()
	if c.hub.history == nil || handle.recordID == "" {
		return
	}
	// persistence outlives the connection context on purpose: terminal
	// states recorded during teardown must still land
	ctx := context.Background()
	var err error
	switch status {
	case domain.TaskStatusCompleted:
		err = c.hub.history.MarkCompleted(ctx, handle.recordID, output)
	case domain.TaskStatusCancelled:
		err = c.hub.history.MarkCancelled(ctx, handle.recordID)
	case domain.TaskStatusFailed:
		err = c.hub.history.MarkFailed(ctx, handle.recordID, errMsg)
	}
	if err != nil {
		c.logger.Warnf("persist task status %s: %v", status, err)
	}
}

func (c *Conn) persistProgress(handle *taskHandle, progress int) {
	if c.hub.history == nil || handle.recordID == "" {
		return
	}
	now := time.Now()
	if now.Sub(handle.lastPersist) < time.Second {
		return
	}
	handle.lastPersist = now
	if err := c.hub.history.UpdateProgress(context.Background(), handle.recordID, progress); err != nil {
		c.logger.Warnf("persist task progress: %v", err)
	}
}

func (c *Conn) archiveOutput(handle *taskHandle, output string) {
	if c.hub.store == nil || c.hub.cfg.Archive.Bucket == "" {
		return
	}
	location, err := c.hub.store.UploadFile(context.Background(), output, c.hub.cfg.Archive)
	if err != nil {
		c.logger.Warnf("archive output %s: %v", output, err)
		return
	}
	c.logger.Infof("output archived to %s", location)
	if c.hub.history != nil && handle.recordID != "" {
		if err := c.hub.history.MarkArchived(context.Background(), handle.recordID, location); err != nil {
			c.logger.Warnf("persist archive location: %v", err)
		}
	}
}
