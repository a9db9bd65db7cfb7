package common

import (
	"github.com/google/uuid"
)

// NewTaskID generates a unique scheduler task ID.
// Format: task_<uuid>
func NewTaskID() string {
	return "task_" + uuid.New().String()
}

// NewUsageID generates a unique cost-usage record ID.
// Format: usage_<uuid>
func NewUsageID() string {
	return "usage_" + uuid.New().String()
}

// NewSearchID generates a unique search result ID.
// Format: search_<uuid>
func NewSearchID() string {
	return "search_" + uuid.New().String()
}
