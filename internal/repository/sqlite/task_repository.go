package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Yangjianxun1998/convert/internal/domain"
	"github.com/Yangjianxun1998/convert/internal/repository"
)

const createTasksTable = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	conn_id TEXT NOT NULL,
	input_path TEXT NOT NULL,
	output_path TEXT NOT NULL,
	codec TEXT NOT NULL DEFAULT '',
	preset TEXT NOT NULL DEFAULT '',
	crf INTEGER NOT NULL DEFAULT 0,
	audio_codec TEXT NOT NULL DEFAULT '',
	audio_bitrate TEXT NOT NULL DEFAULT '',
	resolution TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	s3_location TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	completed_at DATETIME NULL
);
`

type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) repository.TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createTasksTable); err != nil {
		return fmt.Errorf("create tasks table: %w", err)
	}
	return nil
}

func (r *TaskRepository) Create(ctx context.Context, task *domain.Task) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
INSERT INTO tasks (id, task_id, conn_id, input_path, output_path, codec, preset, crf, audio_codec, audio_bitrate, resolution, status, progress, error_message, s3_location, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.TaskID,
		task.ConnID,
		task.InputPath,
		task.OutputPath,
		task.Options.Codec,
		task.Options.Preset,
		task.Options.CRF,
		task.Options.AudioCodec,
		task.Options.AudioBitrate,
		task.Options.Resolution,
		string(task.Status),
		task.Progress,
		task.ErrorMessage,
		task.S3Location,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (r *TaskRepository) UpdateStatus(ctx context.Context, id string, status domain.TaskStatus, errorMessage *string) error {
	msg := ""
	if errorMessage != nil {
		msg = *errorMessage
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE tasks
SET status=?, error_message=?, updated_at=?
WHERE id=?`,
		string(status),
		msg,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

func (r *TaskRepository) UpdateProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE tasks
SET progress=?, updated_at=?
WHERE id=?`,
		progress,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update task progress: %w", err)
	}
	return nil
}

func (r *TaskRepository) MarkCompleted(ctx context.Context, id string, outputPath string, completedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE tasks
SET status=?, progress=100, output_path=?, completed_at=?, updated_at=?
WHERE id=?`,
		string(domain.TaskStatusCompleted),
		outputPath,
		completedAt.UTC(),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

func (r *TaskRepository) MarkArchived(ctx context.Context, id string, s3Location string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE tasks
SET s3_location=?, updated_at=?
WHERE id=?`,
		s3Location,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark archived: %w", err)
	}
	return nil
}

func (r *TaskRepository) Get(ctx context.Context, id string) (*domain.Task, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, task_id, conn_id, input_path, output_path, codec, preset, crf, audio_codec, audio_bitrate, resolution, status, progress, error_message, s3_location, created_at, updated_at, completed_at
FROM tasks
WHERE id=?`,
		id,
	)
	return scanTask(row)
}

func (r *TaskRepository) List(ctx context.Context) ([]domain.Task, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, task_id, conn_id, input_path, output_path, codec, preset, crf, audio_codec, audio_bitrate, resolution, status, progress, error_message, s3_location, created_at, updated_at, completed_at
FROM tasks
ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}

	return tasks, rows.Err()
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*domain.Task, error) {
	var (
		task        domain.Task
		status      string
		createdAt   time.Time
		updatedAt   time.Time
		completedAt sql.NullTime
	)

	if err := scanner.Scan(
		&task.ID,
		&task.TaskID,
		&task.ConnID,
		&task.InputPath,
		&task.OutputPath,
		&task.Options.Codec,
		&task.Options.Preset,
		&task.Options.CRF,
		&task.Options.AudioCodec,
		&task.Options.AudioBitrate,
		&task.Options.Resolution,
		&status,
		&task.Progress,
		&task.ErrorMessage,
		&task.S3Location,
		&createdAt,
		&updatedAt,
		&completedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: task", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}

	task.Status = domain.TaskStatus(status)
	task.CreatedAt = createdAt.Local()
	task.UpdatedAt = updatedAt.Local()
	if completedAt.Valid {
		t := completedAt.Time.Local()
		task.CompletedAt = &t
	}

	return &task, nil
}
