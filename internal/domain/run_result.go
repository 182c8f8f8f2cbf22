package domain

import "time"

// FileOutcome is the final state of one file after a run.
type FileOutcome struct {
	Name       string
	Status     FileStatus
	LocalPath  string
	Bytes      int64
	RetryCount int
	ServerUsed string
	Error      string

	// Extracted lists files produced by decompression, if any ran.
	Extracted []string
}

// RunResult is what a scheduler run reports back to its caller.
type RunResult struct {
	RunID       string
	Identifier  string
	SessionPath string
	StartedAt   time.Time
	FinishedAt  time.Time

	Outcomes []FileOutcome
	Summary  ProgressSummary

	// Cancelled is set when the run stopped because its context was cancelled.
	Cancelled bool

	// PeakInProgress is the highest number of files downloading at once.
	PeakInProgress int
}

// Failed returns the outcomes that did not end completed or skipped.
func (r *RunResult) Failed() []FileOutcome {
	var failed []FileOutcome
	for _, o := range r.Outcomes {
		if !o.Status.IsTerminal() {
			failed = append(failed, o)
		}
	}
	return failed
}

// Success reports whether every requested file ended completed or skipped.
func (r *RunResult) Success() bool {
	return !r.Cancelled && len(r.Failed()) == 0
}

// Duration returns the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
