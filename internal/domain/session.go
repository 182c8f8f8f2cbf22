package domain

import (
	"fmt"
	"time"
)

// FileStatus is the lifecycle state of one file within a session.
type FileStatus string

const (
	StatusPending    FileStatus = "pending"
	StatusInProgress FileStatus = "in_progress"
	StatusCompleted  FileStatus = "completed"
	StatusFailed     FileStatus = "failed"
	StatusSkipped    FileStatus = "skipped"
)

// allowedTransitions lists every legal status change.
// failed -> pending is the only backward edge and happens through an explicit retry.
var allowedTransitions = map[FileStatus][]FileStatus{
	StatusPending:    {StatusInProgress, StatusSkipped, StatusFailed},
	StatusInProgress: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusPending},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s FileStatus) CanTransitionTo(next FileStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s FileStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusSkipped
}

// timestamp returns the current time in the form persisted to session files.
// Millisecond UTC survives a JSON round trip unchanged.
func timestamp() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// SessionConfig is the resolved configuration a session was created with.
type SessionConfig struct {
	OutputDir         string   `json:"output_dir"`
	Concurrency       int      `json:"concurrency"`
	IncludeExtensions []string `json:"include_extensions,omitempty"`
	ExcludeExtensions []string `json:"exclude_extensions,omitempty"`
	Formats           []string `json:"formats,omitempty"`
	Sources           []Source `json:"sources,omitempty"`
	MinFileSize       int64    `json:"min_file_size,omitempty"`
	MaxFileSize       int64    `json:"max_file_size,omitempty"`
	VerifyChecksums   bool     `json:"verify_checksums"`
	AutoDecompress    bool     `json:"auto_decompress"`
	DecompressFormats []string `json:"decompress_formats,omitempty"`
	PreserveMtime     bool     `json:"preserve_mtime"`
}

// Filter returns the file filter encoded in the configuration.
func (c SessionConfig) Filter() FileFilter {
	return FileFilter{
		IncludeExtensions: c.IncludeExtensions,
		ExcludeExtensions: c.ExcludeExtensions,
		Formats:           c.Formats,
		Sources:           c.Sources,
		MinSize:           c.MinFileSize,
		MaxSize:           c.MaxFileSize,
	}
}

// FileProgress tracks the download state of one file.
type FileProgress struct {
	File            FileDescriptor `json:"file"`
	Status          FileStatus     `json:"status"`
	BytesDownloaded int64          `json:"bytes_downloaded"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	LastError       string         `json:"error_message,omitempty"`
	RetryCount      int            `json:"retry_count"`
	ServerUsed      string         `json:"server_used,omitempty"`
	LocalPath       string         `json:"local_path"`
}

// DownloadSession is the persistent record of one download run.
type DownloadSession struct {
	OriginalRequest string                   `json:"original_request"`
	Identifier      string                   `json:"identifier"`
	Manifest        Manifest                 `json:"manifest"`
	Config          SessionConfig            `json:"config"`
	RequestedFiles  []string                 `json:"requested_files"`
	Files           map[string]*FileProgress `json:"file_status"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       time.Time                `json:"updated_at"`
}

// NewDownloadSession creates a session tracking the requested files.
// Requested names that are not in the manifest are dropped. localPath maps
// each descriptor to its destination on disk.
func NewDownloadSession(
	originalRequest string,
	manifest *Manifest,
	cfg SessionConfig,
	requested []FileDescriptor,
	localPath func(FileDescriptor) string,
) *DownloadSession {
	now := timestamp()
	s := &DownloadSession{
		OriginalRequest: originalRequest,
		Identifier:      manifest.Identifier,
		Manifest:        *manifest,
		Config:          cfg,
		Files:           make(map[string]*FileProgress, len(requested)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.AddRequested(requested, localPath)
	return s
}

// AddRequested starts tracking files not already in the session and returns
// how many were added. Files absent from the manifest are ignored.
func (s *DownloadSession) AddRequested(files []FileDescriptor, localPath func(FileDescriptor) string) int {
	added := 0
	for _, f := range files {
		if _, ok := s.Files[f.Name]; ok {
			continue
		}
		if _, ok := s.Manifest.File(f.Name); !ok {
			continue
		}
		s.RequestedFiles = append(s.RequestedFiles, f.Name)
		s.Files[f.Name] = &FileProgress{
			File:      f,
			Status:    StatusPending,
			LocalPath: localPath(f),
		}
		added++
	}
	if added > 0 {
		s.touch()
	}
	return added
}

// Relocate points the session at outputDir. Files that still need work get
// a fresh local path; finished files keep theirs. Returns the number of
// files whose path changed.
func (s *DownloadSession) Relocate(outputDir string, localPath func(FileDescriptor) string) int {
	moved := 0
	for _, p := range s.Files {
		if p.Status.IsTerminal() {
			continue
		}
		if dest := localPath(p.File); dest != p.LocalPath {
			p.LocalPath = dest
			moved++
		}
	}
	if s.Config.OutputDir != outputDir {
		s.Config.OutputDir = outputDir
		s.touch()
	} else if moved > 0 {
		s.touch()
	}
	return moved
}

// Progress returns the tracked state for name.
func (s *DownloadSession) Progress(name string) (*FileProgress, bool) {
	p, ok := s.Files[name]
	return p, ok
}

func (s *DownloadSession) touch() {
	s.UpdatedAt = timestamp()
}

func (s *DownloadSession) transition(name string, next FileStatus) (*FileProgress, error) {
	p, ok := s.Files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotTracked, name)
	}
	if !p.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s %s -> %s", ErrInvalidStateTransition, name, p.Status, next)
	}
	p.Status = next
	s.touch()
	return p, nil
}

// MarkInProgress starts a new attempt for name against server.
func (s *DownloadSession) MarkInProgress(name, server string) error {
	p, err := s.transition(name, StatusInProgress)
	if err != nil {
		return err
	}
	now := timestamp()
	p.StartedAt = &now
	p.CompletedAt = nil
	p.BytesDownloaded = 0
	p.ServerUsed = server
	return nil
}

// UpdateBytes records streamed bytes, clamped to the declared size.
func (s *DownloadSession) UpdateBytes(name string, n int64) error {
	p, ok := s.Files[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotTracked, name)
	}
	if p.Status != StatusInProgress {
		return fmt.Errorf("%w: %s is %s", ErrInvalidStateTransition, name, p.Status)
	}
	p.BytesDownloaded = clampBytes(n, p.File)
	s.touch()
	return nil
}

// MarkCompleted finishes a successful attempt.
func (s *DownloadSession) MarkCompleted(name string, written int64) error {
	p, err := s.transition(name, StatusCompleted)
	if err != nil {
		return err
	}
	now := timestamp()
	p.CompletedAt = &now
	p.BytesDownloaded = clampBytes(written, p.File)
	p.LastError = ""
	return nil
}

// MarkFailed records a failed attempt. Whether the file is retried is the caller's decision.
func (s *DownloadSession) MarkFailed(name string, cause error) error {
	p, err := s.transition(name, StatusFailed)
	if err != nil {
		return err
	}
	if cause != nil {
		p.LastError = cause.Error()
	}
	return nil
}

// MarkSkipped records that the destination already holds a valid copy.
func (s *DownloadSession) MarkSkipped(name string, size int64) error {
	p, err := s.transition(name, StatusSkipped)
	if err != nil {
		return err
	}
	now := timestamp()
	p.CompletedAt = &now
	p.BytesDownloaded = clampBytes(size, p.File)
	return nil
}

// ResetForRetry moves a failed file back to pending and counts the retry.
func (s *DownloadSession) ResetForRetry(name string) error {
	p, err := s.transition(name, StatusPending)
	if err != nil {
		return err
	}
	p.RetryCount++
	p.BytesDownloaded = 0
	return nil
}

// RequeueFailed moves every failed file back to pending with a fresh retry budget.
// A new run calls this once so retry counting starts over.
func (s *DownloadSession) RequeueFailed() int {
	n := 0
	for _, name := range s.RequestedFiles {
		p := s.Files[name]
		if p == nil || p.Status != StatusFailed {
			continue
		}
		p.Status = StatusPending
		p.RetryCount = 0
		p.BytesDownloaded = 0
		n++
	}
	if n > 0 {
		s.touch()
	}
	return n
}

// ReleaseStale returns files left in progress by an interrupted process to pending.
func (s *DownloadSession) ReleaseStale() int {
	n := 0
	for _, p := range s.Files {
		if p.Status != StatusInProgress {
			continue
		}
		p.Status = StatusPending
		p.BytesDownloaded = 0
		n++
	}
	if n > 0 {
		s.touch()
	}
	return n
}

// PendingFiles returns, in request order, the files that still need work:
// pending ones and failed ones awaiting a retry.
func (s *DownloadSession) PendingFiles() []string {
	var names []string
	for _, name := range s.RequestedFiles {
		p := s.Files[name]
		if p == nil {
			continue
		}
		if p.Status == StatusPending || p.Status == StatusFailed {
			names = append(names, name)
		}
	}
	return names
}

// Summary computes aggregate progress.
func (s *DownloadSession) Summary() ProgressSummary {
	var sum ProgressSummary
	for _, name := range s.RequestedFiles {
		p := s.Files[name]
		if p == nil {
			continue
		}
		sum.TotalFiles++
		sum.TotalBytes += p.File.Size
		sum.DownloadedBytes += p.BytesDownloaded
		switch p.Status {
		case StatusPending:
			sum.PendingFiles++
		case StatusInProgress:
			sum.InProgressFiles++
		case StatusCompleted:
			sum.CompletedFiles++
		case StatusFailed:
			sum.FailedFiles++
		case StatusSkipped:
			sum.SkippedFiles++
		}
	}
	return sum
}

func clampBytes(n int64, f FileDescriptor) int64 {
	if n < 0 {
		return 0
	}
	if f.SizeKnown() && n > f.Size {
		return f.Size
	}
	return n
}

// ProgressSummary is a point-in-time aggregate of a session.
type ProgressSummary struct {
	TotalFiles      int   `json:"total_files"`
	CompletedFiles  int   `json:"completed_files"`
	FailedFiles     int   `json:"failed_files"`
	SkippedFiles    int   `json:"skipped_files"`
	InProgressFiles int   `json:"in_progress_files"`
	PendingFiles    int   `json:"pending_files"`
	TotalBytes      int64 `json:"total_bytes"`
	DownloadedBytes int64 `json:"downloaded_bytes"`
}

// Percent returns downloaded bytes as a share of total bytes.
func (p ProgressSummary) Percent() float64 {
	if p.TotalBytes <= 0 {
		return 0
	}
	return float64(p.DownloadedBytes) / float64(p.TotalBytes) * 100
}
