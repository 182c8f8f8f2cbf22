package port

import (
	"context"
	"io"
	"time"
)

// DiskUsage represents disk usage statistics
type DiskUsage struct {
	Total   uint64  // Total disk space in bytes
	Used    uint64  // Used disk space in bytes
	Free    uint64  // Free disk space in bytes
	UsedPct float64 // Used percentage (0-100)
}

// WriteOptions controls a streamed write
type WriteOptions struct {
	// ChunkSize is the read/write buffer size; 0 uses the manager default
	ChunkSize int

	// OnChunk is called after each chunk with the total bytes written so far
	OnChunk func(written int64)
}

// FileSystem defines the interface for local filesystem operations
type FileSystem interface {
	// RootDir returns the output root directory
	RootDir() string

	// DestinationPath maps an archive file name to a path under RootDir
	// Returns an error for names that would escape RootDir
	DestinationPath(name string) (string, error)

	// WriteTemp streams reader into the temp file for dest, checking ctx
	// between chunks. The temp file is removed on failure.
	// Returns: temp path, bytes written, error
	WriteTemp(ctx context.Context, dest string, reader io.Reader, opts WriteOptions) (string, int64, error)

	// Commit renames a finished temp file onto dest
	Commit(tempPath, dest string) error

	// FileExists checks if a file exists
	FileExists(path string) bool

	// GetFileSize returns the size of a file
	GetFileSize(path string) (int64, error)

	// SetModTime sets the modification time of a file
	SetModTime(path string, mtime time.Time) error

	// DeleteTempFile removes a temporary file
	DeleteTempFile(tempPath string) error

	// GetDiskUsage returns disk usage statistics for RootDir
	GetDiskUsage() (*DiskUsage, error)

	// CleanOldTempFiles removes temp files older than the specified duration
	// Returns the number of files deleted
	CleanOldTempFiles(olderThan time.Duration) (int, error)
}
