// Package task defines the persistent download_task row and its lifecycle.
package task

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Task, per the data model's state
// machine: downloading -> {paused, stopped, complete, error}; paused or
// error -> downloading (via unpause); any existing row -> stopped (via stop).
type Status string

const (
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusComplete    Status = "complete"
	StatusStopped     Status = "stopped"
	StatusError       Status = "error"
)

// IsTerminal reports whether this status ends a download run (complete,
// stopped or error), so the row gets an end_time. An errored task can still
// be resumed with Unpause.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusStopped, StatusError:
		return true
	default:
		return false
	}
}

// Options is the per-task overlay of global config keys, stored as the
// download_task.options JSON column.
type Options map[string]any

// Task is the download_task persistent row.
type Task struct {
	ID           string
	URI          string
	FileSize     int64 // -1 when unknown
	Path         string
	SupportRange bool
	Options      Options
	StartTime    time.Time
	EndTime      *time.Time
	Status       Status
	Speed        float64
}

// New builds a fresh Task in the downloading state with a generated ID.
func New(uri, path string, fileSize int64, supportRange bool, opts Options) *Task {
	if opts == nil {
		opts = Options{}
	}
	return &Task{
		ID:           uuid.New().String(),
		URI:          uri,
		FileSize:     fileSize,
		Path:         path,
		SupportRange: supportRange,
		Options:      opts,
		StartTime:    time.Now(),
		Status:       StatusDownloading,
	}
}

// SizeKnown reports whether the server reported a definite content length.
func (t *Task) SizeKnown() bool {
	return t.FileSize >= 0
}
