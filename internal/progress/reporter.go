// Package progress reports download progress to the terminal and the log.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gookit/color"

	"github.com/vertextoedge/archive-fetch/internal/domain"
	"github.com/vertextoedge/archive-fetch/internal/port"
)

// Options configures the progress reporter.
type Options struct {
	// Identifier is the archive item being downloaded (for display).
	Identifier string

	// TotalFiles is the number of files in the run.
	TotalFiles int

	// TotalSize is the declared size of all files; 0 when unknown.
	TotalSize int64

	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration

	// Colours enables ANSI colours.
	Colours bool
}

// Reporter prints a live progress line. It implements port.ProgressSink.
type Reporter struct {
	opts Options

	mu         sync.Mutex
	perFile    map[string]int64
	lastStatus map[string]domain.FileStatus
	downloaded int64
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64
	stopCh     chan struct{}
	doneCh     chan struct{}
	stopped    bool

	completed  atomic.Int32
	failed     atomic.Int32
	skipped    atomic.Int32
	inProgress atomic.Int32
}

// Ensure Reporter implements port.ProgressSink and port.RunSink
var (
	_ port.ProgressSink = (*Reporter)(nil)
	_ port.RunSink      = (*Reporter)(nil)
)

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:       opts,
		perFile:    make(map[string]int64),
		lastStatus: make(map[string]domain.FileStatus),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start prints the header and begins periodic updates.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	files, size := r.opts.TotalFiles, r.opts.TotalSize
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "%s Downloading %s: %d files, %s\n",
		r.tag(), r.opts.Identifier, files, sizeLabel(size))

	go r.updateLoop()
}

// RunStarted resizes the display to the session the run opened. A resumed
// session can track more files than this invocation selected, and its
// finished files count towards the totals from the start.
func (r *Reporter) RunStarted(summary domain.ProgressSummary) {
	r.mu.Lock()
	changed := summary.TotalFiles != r.opts.TotalFiles || summary.TotalBytes != r.opts.TotalSize
	r.opts.TotalFiles = summary.TotalFiles
	r.opts.TotalSize = summary.TotalBytes
	r.downloaded += summary.DownloadedBytes
	r.lastBytes = r.downloaded
	r.mu.Unlock()

	r.completed.Add(int32(summary.CompletedFiles))
	r.skipped.Add(int32(summary.SkippedFiles))

	if changed || summary.CompletedFiles+summary.SkippedFiles > 0 {
		fmt.Fprintf(r.opts.Output, "%s Session tracks %d files, %s (%d already done)\n",
			r.tag(), summary.TotalFiles, sizeLabel(summary.TotalBytes),
			summary.CompletedFiles+summary.SkippedFiles)
	}
}

// Stop prints the final line and stops updates. Safe to call more than once.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// FileProgress records the bytes streamed so far for one file.
func (r *Reporter) FileProgress(name string, downloaded, _ int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downloaded += downloaded - r.perFile[name]
	r.perFile[name] = downloaded
}

// FileStatus updates the per-status counters. A file leaves the active or
// failed count only if that was its last reported status; failures before
// a transfer starts never entered the active count.
func (r *Reporter) FileStatus(name string, status domain.FileStatus, _ error) {
	r.mu.Lock()
	prev := r.lastStatus[name]
	r.lastStatus[name] = status
	r.mu.Unlock()

	switch prev {
	case domain.StatusInProgress:
		r.inProgress.Add(-1)
	case domain.StatusFailed:
		r.failed.Add(-1)
	}

	switch status {
	case domain.StatusInProgress:
		r.inProgress.Add(1)
	case domain.StatusCompleted:
		r.completed.Add(1)
	case domain.StatusFailed:
		r.failed.Add(1)
	case domain.StatusPending:
		// Retried: the bytes restart
		r.mu.Lock()
		r.downloaded -= r.perFile[name]
		delete(r.perFile, name)
		r.mu.Unlock()
	case domain.StatusSkipped:
		r.skipped.Add(1)
	}
}

func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

func (r *Reporter) printProgress() {
	r.mu.Lock()
	now := time.Now()
	downloaded := r.downloaded
	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(downloaded-r.lastBytes) / elapsed
	if speed < 0 {
		speed = 0
	}
	r.lastUpdate = now
	r.lastBytes = downloaded
	total := r.opts.TotalSize
	r.mu.Unlock()

	percent := "?"
	if total > 0 {
		percent = fmt.Sprintf("%.1f%%", float64(downloaded)/float64(total)*100)
	}

	fmt.Fprintf(r.opts.Output, "\r%s %s | %s | %s/s | files: %d done, %d active, %d failed, %d skipped    ",
		r.tag(),
		percent,
		humanize.IBytes(uint64(max(downloaded, 0))),
		humanize.IBytes(uint64(speed)),
		r.completed.Load(),
		r.inProgress.Load(),
		r.failed.Load(),
		r.skipped.Load(),
	)
}

func (r *Reporter) printFinalStatus() {
	r.mu.Lock()
	downloaded := r.downloaded
	duration := time.Since(r.startTime)
	r.mu.Unlock()

	avg := 0.0
	if secs := duration.Seconds(); secs > 0 {
		avg = float64(downloaded) / secs
	}

	status := fmt.Sprintf("%d done, %d failed, %d skipped", r.completed.Load(), r.failed.Load(), r.skipped.Load())
	if r.opts.Colours {
		if r.failed.Load() > 0 {
			status = color.FgRed.Render(status)
		} else {
			status = color.FgGreen.Render(status)
		}
	}

	fmt.Fprintf(r.opts.Output, "\r%s %s in %s (%s/s) | %s    \n",
		r.tag(),
		humanize.IBytes(uint64(max(downloaded, 0))),
		duration.Round(time.Millisecond),
		humanize.IBytes(uint64(avg)),
		status,
	)
}

func sizeLabel(n int64) string {
	if n <= 0 {
		return "unknown size"
	}
	return humanize.IBytes(uint64(n))
}

func (r *Reporter) tag() string {
	if r.opts.Colours {
		return color.FgCyan.Render("[archive-fetch]")
	}
	return "[archive-fetch]"
}
