package types

import "time"

// SyncSummary reports a bulk synchronization of enabled playlists
type SyncSummary struct {
	Playlists int               `json:"playlists"`
	Enqueued  int               `json:"enqueued"`
	Failures  map[string]string `json:"failures,omitempty"` // playlist id -> error
}

// SweepResult reports one sponsor-segment revisitation sweep
type SweepResult struct {
	Checked  int      `json:"checked"`
	Requeued []string `json:"requeued"`
}

// CycleReport summarizes one scheduled cycle
type CycleReport struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Sync      SyncSummary   `json:"sync"`
	Sweep     SweepResult   `json:"sweep"`
	Skipped   bool          `json:"skipped,omitempty"`
}
