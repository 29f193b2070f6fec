package domain

import "errors"

// Failure classes recognized at component boundaries. All of them are
// recovered where they are detected and turned into structured error
// responses; none propagate as a process-level fault.
var (
	// ErrToolingUnavailable indicates the ffmpeg binary is missing or unreachable.
	ErrToolingUnavailable = errors.New("conversion tooling unavailable")
	// ErrInvalidInput covers missing or unusable input paths and request fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrIOFailure covers filesystem failures preparing or writing data.
	ErrIOFailure = errors.New("io failure")
	// ErrProcessFailure indicates ffmpeg exited non-zero.
	ErrProcessFailure = errors.New("conversion process failed")
	// ErrNotFound indicates an unknown task or upload identifier.
	ErrNotFound = errors.New("not found")
	// ErrCancelled marks a task terminated by explicit request.
	ErrCancelled = errors.New("cancelled")
)
