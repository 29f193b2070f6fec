package domain

type EventStatus string

const (
	EventProgress  EventStatus = "progress"
	EventCompleted EventStatus = "completed"
	EventError     EventStatus = "error"
)

// ProgressEvent is a normalized record produced by the conversion runner and
// forwarded, tagged with a task identifier, to the owning connection.
type ProgressEvent struct {
	Status   EventStatus `json:"status"`
	Progress int         `json:"progress,omitempty"`
	Time     float64     `json:"time,omitempty"`
	Duration float64     `json:"duration,omitempty"`
	Output   string      `json:"output,omitempty"`
	Message  string      `json:"message,omitempty"`
}
