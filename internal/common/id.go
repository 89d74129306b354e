package common

import (
	"time"

	"github.com/google/uuid"
)

// NewSessionID returns the wall-clock session tag used to key log and
// report directories. Format: YYYYMMDD_HHMMSS.
func NewSessionID() string {
	return time.Now().Format("20060102_150405")
}

// NewTaskID generates a unique task ID with the "task_" prefix.
// Format: task_<uuid>
func NewTaskID() string {
	return "task_" + uuid.New().String()
}
