package types

import "time"

// ProgressMessage represents a WebSocket progress update message
type ProgressMessage struct {
	ItemID    string    `json:"id"`
	Type      string    `json:"type"`     // "progress", "status", "complete", "error"
	Progress  float64   `json:"progress"` // 0-100 percentage
	Status    JobState  `json:"status"`
	Title     string    `json:"title"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
