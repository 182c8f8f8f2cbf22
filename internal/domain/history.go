package domain

import "time"

// Run status constants
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// RunRecord is one entry in the download history.
type RunRecord struct {
	ID            string
	Identifier    string
	OriginalInput string
	OutputDir     string
	SessionPath   string
	Status        string

	TotalFiles      int
	CompletedFiles  int
	FailedFiles     int
	SkippedFiles    int
	TotalBytes      int64
	DownloadedBytes int64

	ErrorMessage string
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// Finish fills the record from a finished run.
func (r *RunRecord) Finish(result *RunResult, runErr error) {
	s := result.Summary
	r.TotalFiles = s.TotalFiles
	r.CompletedFiles = s.CompletedFiles
	r.FailedFiles = s.FailedFiles + s.PendingFiles + s.InProgressFiles
	r.SkippedFiles = s.SkippedFiles
	r.TotalBytes = s.TotalBytes
	r.DownloadedBytes = s.DownloadedBytes
	if result.SessionPath != "" {
		r.SessionPath = result.SessionPath
	}

	switch {
	case runErr != nil:
		r.Status = RunStatusFailed
		r.ErrorMessage = runErr.Error()
	case result.Cancelled:
		r.Status = RunStatusCancelled
	case result.Success():
		r.Status = RunStatusCompleted
	default:
		r.Status = RunStatusPartial
	}

	finished := result.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	r.CompletedAt = &finished
}

// HistoryStats aggregates the download history.
type HistoryStats struct {
	TotalRuns       int
	CompletedRuns   int
	FailedRuns      int
	DownloadedBytes int64
}
