package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Yangjianxun1998/convert/internal/domain"
	"github.com/Yangjianxun1998/convert/internal/repository"
)

// TaskService records conversion task lifecycle transitions. Persistence is
// best-effort from the caller's point of view; the connection layer logs
// failures and carries on.
type TaskService interface {
	Record(ctx context.Context, task *domain.Task) error
	UpdateProgress(ctx context.Context, id string, progress int) error
	MarkCompleted(ctx context.Context, id string, outputPath string) error
	MarkFailed(ctx context.Context, id string, message string) error
	MarkCancelled(ctx context.Context, id string) error
	MarkArchived(ctx context.Context, id string, location string) error
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	ListTasks(ctx context.Context) ([]domain.Task, error)
}

type taskService struct {
	tasks repository.TaskRepository
}

func NewTaskService(tasks repository.TaskRepository) TaskService {
	return &taskService{tasks: tasks}
}

func (s *taskService) Record(ctx context.Context, task *domain.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = domain.TaskStatusPending
	}
	return s.tasks.Create(ctx, task)
}

func (s *taskService) UpdateProgress(ctx context.Context, id string, progress int) error {
	return s.tasks.UpdateProgress(ctx, id, progress)
}

func (s *taskService) MarkCompleted(ctx context.Context, id string, outputPath string) error {
	return s.tasks.MarkCompleted(ctx, id, outputPath, time.Now())
}

func (s *taskService) MarkFailed(ctx context.Context, id string, message string) error {
	return s.tasks.UpdateStatus(ctx, id, domain.TaskStatusFailed, &message)
}

func (s *taskService) MarkCancelled(ctx context.Context, id string) error {
	return s.tasks.UpdateStatus(ctx, id, domain.TaskStatusCancelled, nil)
}

func (s *taskService) MarkArchived(ctx context.Context, id string, location string) error {
	return s.tasks.MarkArchived(ctx, id, location)
}

func (s *taskService) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	return s.tasks.Get(ctx, id)
}

func (s *taskService) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return s.tasks.List(ctx)
}
