package repository

import (
	"context"
	"time"

	"github.com/Yangjianxun1998/convert/internal/domain"
)

// TaskRepository exposes persistence operations for conversion task records.
type TaskRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, task *domain.Task) error
	UpdateStatus(ctx context.Context, id string, status domain.TaskStatus, errorMessage *string) error
	UpdateProgress(ctx context.Context, id string, progress int) error
	MarkCompleted(ctx context.Context, id string, outputPath string, completedAt time.Time) error
	MarkArchived(ctx context.Context, id string, s3Location string) error
	Get(ctx context.Context, id string) (*domain.Task, error)
	List(ctx context.Context) ([]domain.Task, error)
}
