package checksum

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertextoedge/archive-fetch/internal/domain"
)

// Digests of "hello world"
const (
	helloMD5   = "5eb63bbbe01eeed093cb22bb8f5acdc3"
	helloSHA1  = "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed"
	helloCRC32 = "0d4a1185"
)

func writeHello(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))
	return path
}

func TestVerify(t *testing.T) {
	path := writeHello(t)

	tests := []struct {
		name      string
		algorithm string
		expected  string
		want      bool
	}{
		{"md5 match", "md5", helloMD5, true},
		{"md5 uppercase", "MD5", "5EB63BBBE01EEED093CB22BB8F5ACDC3", true},
		{"sha1 match", "sha1", helloSHA1, true},
		{"crc32 match", "crc32", helloCRC32, true},
		{"md5 mismatch", "md5", "00000000000000000000000000000000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Verify(path, tt.expected, tt.algorithm)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerify_Errors(t *testing.T) {
	_, err := Verify(filepath.Join(t.TempDir(), "missing"), helloMD5, "md5")
	assert.True(t, domain.IsKind(err, domain.KindFileSystem))

	_, err = Verify(writeHello(t), "x", "sha512")
	assert.True(t, domain.IsKind(err, domain.KindInvalidInput))
}

func TestVerifyFile(t *testing.T) {
	path := writeHello(t)

	ok, err := VerifyFile(path, domain.FileDescriptor{Name: "hello.txt", MD5: helloMD5})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyFile(path, domain.FileDescriptor{Name: "hello.txt"})
	require.NoError(t, err)
	assert.False(t, ok, "no declared digest")

	_, err = VerifyFile(path, domain.FileDescriptor{Name: "hello.txt", SHA1: "deadbeef"})
	assert.True(t, domain.IsKind(err, domain.KindChecksumMismatch))
}
