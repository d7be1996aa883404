package types

import "time"

// JobState represents the lifecycle state of a running download job
type JobState string

const (
	JobStateQueued      JobState = "queued"
	JobStateDownloading JobState = "downloading"
	JobStateCompleted   JobState = "completed"
	JobStateFailed      JobState = "failed"
)

// JobProgress is the live, unpersisted view of one admitted job
type JobProgress struct {
	ItemID     string    `json:"id"`
	PlaylistID string    `json:"playlistId"`
	Title      string    `json:"title"`
	Percent    float64   `json:"progress"` // 0-100
	State      JobState  `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
}

// PendingEntry is a queued item waiting for admission
type PendingEntry struct {
	ItemID     string `json:"id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	PlaylistID string `json:"playlistId"`
}

// QueueStatus is the snapshot served by the status endpoints
type QueueStatus struct {
	Active      []JobProgress `json:"active"`
	QueueLength int           `json:"queueLength"`
}
