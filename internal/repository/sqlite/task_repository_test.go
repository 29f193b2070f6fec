package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yangjianxun1998/convert/internal/domain"
	"github.com/Yangjianxun1998/convert/internal/repository"
)

func newTestRepo(t *testing.T) repository.TaskRepository {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "convert.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewTaskRepository(db)
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func sampleTask(id, taskID string) *domain.Task {
	return &domain.Task{
		ID:         id,
		TaskID:     taskID,
		ConnID:     "conn1",
		InputPath:  "/tmp/in.avi",
		OutputPath: "/tmp/out.mp4",
		Options:    domain.ConvertOptions{}.WithDefaults(),
		Status:     domain.TaskStatusRunning,
	}
}

func TestTaskRepositoryRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	task := sampleTask("rec-1", "conn1_0")
	require.NoError(t, repo.Create(ctx, task))
	assert.False(t, task.CreatedAt.IsZero())

	got, err := repo.Get(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "conn1_0", got.TaskID)
	assert.Equal(t, "conn1", got.ConnID)
	assert.Equal(t, "libx264", got.Options.Codec)
	assert.Equal(t, 23, got.Options.CRF)
	assert.Equal(t, domain.TaskStatusRunning, got.Status)
	assert.Nil(t, got.CompletedAt)
}

func TestTaskRepositoryGetMissing(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestTaskRepositoryUpdates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleTask("rec-1", "conn1_0")))

	require.NoError(t, repo.UpdateProgress(ctx, "rec-1", 42))
	got, err := repo.Get(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, 42, got.Progress)

	msg := "encoder exploded"
	require.NoError(t, repo.UpdateStatus(ctx, "rec-1", domain.TaskStatusFailed, &msg))
	got, err = repo.Get(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, msg, got.ErrorMessage)
}

func TestTaskRepositoryMarkCompleted(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleTask("rec-1", "conn1_0")))

	done := time.Now()
	require.NoError(t, repo.MarkCompleted(ctx, "rec-1", "/tmp/final.mp4", done))
	require.NoError(t, repo.MarkArchived(ctx, "rec-1", "s3://bucket/final.mp4"))

	got, err := repo.Get(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "/tmp/final.mp4", got.OutputPath)
	assert.Equal(t, "s3://bucket/final.mp4", got.S3Location)
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, done, *got.CompletedAt, time.Second)
}

func TestTaskRepositoryListOrdering(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleTask("rec-1", "conn1_0")))
	time.Sleep(10 * time.Millisecond) // created_at must differ for the ordering to hold
	require.NoError(t, repo.Create(ctx, sampleTask("rec-2", "conn1_1")))

	tasks, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "rec-2", tasks[0].ID)
	assert.Equal(t, "rec-1", tasks[1].ID)
}
