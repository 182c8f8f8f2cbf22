package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/disk"

	"github.com/vertextoedge/archive-fetch/internal/domain"
	"github.com/vertextoedge/archive-fetch/internal/port"
)

// TempSuffix marks partially written downloads
const TempSuffix = ".downloading"

const defaultBufferSize = 64 * 1024

// Manager handles local filesystem operations under one output directory
type Manager struct {
	rootDir    string
	bufferSize int
}

// Ensure Manager implements port.FileSystem
var _ port.FileSystem = (*Manager)(nil)

// NewManager creates a new filesystem manager
func NewManager(rootDir string) (*Manager, error) {
	return NewManagerWithBufferSize(rootDir, defaultBufferSize)
}

// NewManagerWithBufferSize creates a new filesystem manager with custom buffer size
func NewManagerWithBufferSize(rootDir string, bufferSize int) (*Manager, error) {
	// Ensure root directory exists
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, domain.NewFileSystemError("create output dir", err)
	}

	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	return &Manager{
		rootDir:    rootDir,
		bufferSize: bufferSize,
	}, nil
}

// RootDir returns the output root directory
func (m *Manager) RootDir() string {
	return m.rootDir
}

// DestinationPath returns the local path for an archive file name. Each path
// segment is sanitized; names containing ".." are rejected.
func (m *Manager) DestinationPath(name string) (string, error) {
	var parts []string
	for _, seg := range strings.Split(filepath.ToSlash(name), "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			return "", domain.NewInvalidInputError("destination for "+name, errors.New("path escapes output directory"))
		}
		parts = append(parts, SanitizeFilename(seg))
	}
	if len(parts) == 0 {
		return "", domain.NewInvalidInputError("destination for "+name, errors.New("empty file name"))
	}
	return filepath.Join(append([]string{m.rootDir}, parts...)...), nil
}

// TempPath returns the temp file used while downloading dest
func TempPath(dest string) string {
	return dest + TempSuffix
}

// EnsureDir ensures the directory for a file path exists
func (m *Manager) EnsureDir(filePath string) error {
	dir := filepath.Dir(filePath)
	return os.MkdirAll(dir, 0755)
}

// WriteTemp streams reader into dest's temp file. Cancellation is checked
// between chunks; a cancelled or failed write leaves no temp file behind.
func (m *Manager) WriteTemp(ctx context.Context, dest string, reader io.Reader, opts port.WriteOptions) (string, int64, error) {
	tempPath := TempPath(dest)

	// Ensure parent directory exists
	if err := m.EnsureDir(dest); err != nil {
		return "", 0, domain.NewFileSystemError("create parent dir", err)
	}

	f, err := os.Create(tempPath)
	if err != nil {
		return "", 0, domain.NewFileSystemError("create temp file", err)
	}

	written, err := copyChunks(ctx, f, reader, opts.ChunkSize, m.bufferSize, opts.OnChunk)
	if err != nil {
		f.Close()
		os.Remove(tempPath)
		return "", written, err
	}

	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return "", written, domain.NewFileSystemError("close temp file", err)
	}

	return tempPath, written, nil
}

func copyChunks(ctx context.Context, w io.Writer, r io.Reader, chunkSize, fallback int, onChunk func(int64)) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = fallback
	}
	buf := make([]byte, chunkSize)

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			nw, writeErr := w.Write(buf[:n])
			written += int64(nw)
			if writeErr != nil {
				return written, domain.NewFileSystemError("write temp file", writeErr)
			}
			if nw != n {
				return written, domain.NewFileSystemError("write temp file", io.ErrShortWrite)
			}
			if onChunk != nil {
				onChunk(written)
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// Commit renames a finished temp file onto dest
func (m *Manager) Commit(tempPath, dest string) error {
	if err := os.Rename(tempPath, dest); err != nil {
		return domain.NewFileSystemError("rename temp file", err)
	}
	return nil
}

// FileExists checks if a file exists
func (m *Manager) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// GetFileSize returns the size of a file
func (m *Manager) GetFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// SetModTime sets both access and modification time of path
func (m *Manager) SetModTime(path string, mtime time.Time) error {
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		return domain.NewFileSystemError("set mtime", err)
	}
	return nil
}

// DeleteTempFile removes a temporary file
func (m *Manager) DeleteTempFile(tempPath string) error {
	if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete temp file: %w", err)
	}
	return nil
}

// GetDiskUsage returns disk usage for the output directory
func (m *Manager) GetDiskUsage() (*port.DiskUsage, error) {
	stat, err := disk.Usage(m.rootDir)
	if err != nil {
		return nil, domain.NewFileSystemError("disk usage", err)
	}
	return &port.DiskUsage{
		Total:   stat.Total,
		Used:    stat.Used,
		Free:    stat.Free,
		UsedPct: stat.UsedPercent,
	}, nil
}

// CleanOldTempFiles removes temp files older than the specified duration
func (m *Manager) CleanOldTempFiles(olderThan time.Duration) (int, error) {
	count := 0
	threshold := time.Now().Add(-olderThan)

	err := filepath.Walk(m.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, TempSuffix) && info.ModTime().Before(threshold) {
			if removeErr := os.Remove(path); removeErr == nil {
				count++
			}
		}
		return nil
	})
	return count, err
}
