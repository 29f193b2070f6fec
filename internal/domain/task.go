package domain

import "time"

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is a terminal lifecycle state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// ConvertOptions carries the encoding parameters of a conversion request.
type ConvertOptions struct {
	Codec        string `json:"codec"`
	Preset       string `json:"preset"`
	CRF          int    `json:"crf"`
	AudioCodec   string `json:"audio_codec"`
	AudioBitrate string `json:"audio_bitrate"`
	Resolution   string `json:"resolution"`
}

// WithDefaults fills unset fields with the standard MP4 encoding parameters.
func (o ConvertOptions) WithDefaults() ConvertOptions {
	if o.Codec == "" {
		o.Codec = "libx264"
	}
	if o.Preset == "" {
		o.Preset = "medium"
	}
	if o.CRF == 0 {
		o.CRF = 23
	}
	if o.AudioCodec == "" {
		o.AudioCodec = "aac"
	}
	if o.AudioBitrate == "" {
		o.AudioBitrate = "128k"
	}
	return o
}

// Task is the persisted record of a conversion task tracked by the system.
type Task struct {
	ID           string
	TaskID       string // per-connection identifier, e.g. "abc123_0"
	ConnID       string
	InputPath    string
	OutputPath   string
	Options      ConvertOptions
	Status       TaskStatus
	Progress     int
	ErrorMessage string
	S3Location   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}
