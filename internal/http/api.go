package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Yangjianxun1998/convert/internal/domain"
	"github.com/Yangjianxun1998/convert/internal/service"
	"github.com/Yangjianxun1998/convert/internal/storage"
	"github.com/Yangjianxun1998/convert/internal/ws"
)

// Handler wires HTTP routes to the websocket hub and domain services.
type Handler struct {
	hub     *ws.Hub
	tasks   service.TaskService
	storage storage.Service
	bucket  string
}

func NewHandler(hub *ws.Hub, tasks service.TaskService, store storage.Service, bucket string) *Handler {
	return &Handler{
		hub:     hub,
		tasks:   tasks,
		storage: store,
		bucket:  bucket,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	router.GET("/ws", func(c *gin.Context) {
		h.hub.HandleWS(c.Writer, c.Request)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/tasks", h.listTasks)
		api.GET("/tasks/:id", h.getTask)
		api.GET("/storage/objects", h.listObjects)
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (h *Handler) listTasks(c *gin.Context) {
	if h.tasks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "task history not configured"})
		return
	}

	tasks, err := h.tasks.ListTasks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]TaskResponse, len(tasks))
	for i := range tasks {
		resp[i] = taskToResponse(tasks[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getTask(c *gin.Context) {
	if h.tasks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "task history not configured"})
		return
	}

	task, err := h.tasks.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, taskToResponse(*task))
}

func (h *Handler) listObjects(c *gin.Context) {
	if h.storage == nil || h.bucket == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage service not configured"})
		return
	}

	prefix := c.Query("prefix")
	objects, err := h.storage.ListObjects(c.Request.Context(), h.bucket, prefix)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]StorageObjectResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

type TaskResponse struct {
	ID           string            `json:"id"`
	TaskID       string            `json:"task_id"`
	ConnID       string            `json:"conn_id"`
	InputPath    string            `json:"input_path"`
	OutputPath   string            `json:"output_path"`
	Codec        string            `json:"codec"`
	Preset       string            `json:"preset"`
	Resolution   string            `json:"resolution,omitempty"`
	Status       domain.TaskStatus `json:"status"`
	Progress     int               `json:"progress"`
	ErrorMessage string            `json:"error_message,omitempty"`
	S3Location   string            `json:"s3_location,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

func taskToResponse(task domain.Task) TaskResponse {
	return TaskResponse{
		ID:           task.ID,
		TaskID:       task.TaskID,
		ConnID:       task.ConnID,
		InputPath:    task.InputPath,
		OutputPath:   task.OutputPath,
		Codec:        task.Options.Codec,
		Preset:       task.Options.Preset,
		Resolution:   task.Options.Resolution,
		Status:       task.Status,
		Progress:     task.Progress,
		ErrorMessage: task.ErrorMessage,
		S3Location:   task.S3Location,
		CreatedAt:    task.CreatedAt,
		UpdatedAt:    task.UpdatedAt,
		CompletedAt:  task.CompletedAt,
	}
}

type StorageObjectResponse struct {
	Key          string     `json:"key"`
	Size         int64      `json:"size"`
	LastModified *time.Time `json:"last_modified,omitempty"`
}

func objectToResponse(obj storage.ObjectInfo) StorageObjectResponse {
	return StorageObjectResponse{
		Key:          obj.Key,
		Size:         obj.Size,
		LastModified: obj.LastModified,
	}
}
