// Package checksum computes and compares file digests.
package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"strings"

	"github.com/vertextoedge/archive-fetch/internal/domain"
)

const readBufferSize = 256 * 1024

func newHash(algorithm string) (hash.Hash, error) {
	switch strings.ToLower(algorithm) {
	case domain.AlgorithmMD5:
		return md5.New(), nil
	case domain.AlgorithmSHA1:
		return sha1.New(), nil
	case domain.AlgorithmCRC32:
		return crc32.NewIEEE(), nil
	default:
		return nil, domain.NewInvalidInputError("checksum", fmt.Errorf("unsupported algorithm %q", algorithm))
	}
}

// Compute returns the lowercase hex digest of the file at path.
func Compute(path, algorithm string) (string, error) {
	h, err := newHash(algorithm)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", domain.NewFileSystemError("open "+path, err)
	}
	defer f.Close()

	if _, err := io.CopyBuffer(h, f, make([]byte, readBufferSize)); err != nil {
		return "", domain.NewFileSystemError("read "+path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether the file's digest equals expected, compared
// case-insensitively.
func Verify(path, expected, algorithm string) (bool, error) {
	actual, err := Compute(path, algorithm)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(actual, strings.TrimSpace(expected)), nil
}

// VerifyFile checks path against the strongest digest declared for f.
// It returns a checksum mismatch error when the digests differ, and
// ok=false when f declares no digest at all.
func VerifyFile(path string, f domain.FileDescriptor) (ok bool, err error) {
	algorithm, expected, has := f.Checksum()
	if !has {
		return false, nil
	}
	actual, err := Compute(path, algorithm)
	if err != nil {
		return false, err
	}
	if !strings.EqualFold(actual, strings.TrimSpace(expected)) {
		return false, domain.NewChecksumMismatchError(f.Name, algorithm, expected, actual)
	}
	return true, nil
}
