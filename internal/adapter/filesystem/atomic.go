package filesystem

import (
	"os"
	"path/filepath"

	"github.com/vertextoedge/archive-fetch/internal/domain"
)

// WriteFileAtomic replaces path with data so readers see either the old or
// the new content, never a partial write. The temp file lives in the same
// directory so the final rename stays on one filesystem.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return domain.NewFileSystemError("create dir", err)
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return domain.NewFileSystemError("create temp file", err)
	}
	tmp := f.Name()

	fail := func(op string, err error) error {
		f.Close()
		os.Remove(tmp)
		return domain.NewFileSystemError(op, err)
	}

	if _, err := f.Write(data); err != nil {
		return fail("write temp file", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync temp file", err)
	}
	if err := f.Chmod(perm); err != nil {
		return fail("chmod temp file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return domain.NewFileSystemError("close temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return domain.NewFileSystemError("rename temp file", err)
	}
	return nil
}
