package port

import "github.com/vertextoedge/archive-fetch/internal/domain"

// ProgressSink receives download progress. Implementations must be safe for
// concurrent use; calls arrive from every download goroutine.
type ProgressSink interface {
	// FileProgress reports bytes streamed so far; total is 0 when unknown
	FileProgress(name string, downloaded, total int64)

	// FileStatus reports a status transition
	FileStatus(name string, status domain.FileStatus, err error)
}

// RunSink is an optional ProgressSink extension. A run calls RunStarted
// once its session is open, before any file is processed, with totals that
// include files carried over from a resumed session.
type RunSink interface {
	RunStarted(summary domain.ProgressSummary)
}

// NopProgressSink discards all progress
type NopProgressSink struct{}

func (NopProgressSink) FileProgress(string, int64, int64)            {}
func (NopProgressSink) FileStatus(string, domain.FileStatus, error) {}
