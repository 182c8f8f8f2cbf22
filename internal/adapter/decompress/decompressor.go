// Package decompress expands completed downloads in the common archive and
// stream-compression formats.
package decompress

import (
	"archive/tar"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/samber/lo"
	"github.com/ulikunitz/xz"
	"go.uber.org/zap"

	"github.com/vertextoedge/archive-fetch/internal/domain"
	"github.com/vertextoedge/archive-fetch/internal/port"
)

// Format names
const (
	FormatGzip   = "gzip"
	FormatBzip2  = "bzip2"
	FormatXz     = "xz"
	FormatZstd   = "zstd"
	FormatZip    = "zip"
	FormatTar    = "tar"
	FormatTarGz  = "tar.gz"
	FormatTarBz2 = "tar.bz2"
	FormatTarXz  = "tar.xz"
	FormatTarZst = "tar.zst"
)

// AllFormats lists every supported format
var AllFormats = []string{
	FormatGzip, FormatBzip2, FormatXz, FormatZstd, FormatZip,
	FormatTar, FormatTarGz, FormatTarBz2, FormatTarXz, FormatTarZst,
}

// suffixes maps file suffixes to formats, longest first
var suffixes = []struct {
	suffix string
	format string
}{
	{".tar.gz", FormatTarGz},
	{".tar.bz2", FormatTarBz2},
	{".tar.xz", FormatTarXz},
	{".tar.zst", FormatTarZst},
	{".tgz", FormatTarGz},
	{".tbz2", FormatTarBz2},
	{".txz", FormatTarXz},
	{".gz", FormatGzip},
	{".bz2", FormatBzip2},
	{".xz", FormatXz},
	{".zst", FormatZstd},
	{".zip", FormatZip},
	{".tar", FormatTar},
}

// sniffed maps detected MIME types to formats for files without a known suffix
var sniffed = map[string]string{
	"application/gzip":    FormatGzip,
	"application/x-bzip2": FormatBzip2,
	"application/x-xz":    FormatXz,
	"application/zstd":    FormatZstd,
	"application/zip":     FormatZip,
	"application/x-tar":   FormatTar,
}

var aliases = map[string]string{
	"gz":   FormatGzip,
	"bz2":  FormatBzip2,
	"zst":  FormatZstd,
	"tgz":  FormatTarGz,
	"tbz2": FormatTarBz2,
	"txz":  FormatTarXz,
}

// Decompressor implements port.Decompressor
type Decompressor struct {
	enabled map[string]bool
	logger  *zap.Logger
}

// Ensure Decompressor implements port.Decompressor
var _ port.Decompressor = (*Decompressor)(nil)

// New creates a Decompressor for the given formats. An empty list enables all.
// Unknown format names are returned as an InvalidInput error.
func New(formats []string, logger *zap.Logger) (*Decompressor, error) {
	if len(formats) == 0 {
		formats = AllFormats
	}

	enabled := make(map[string]bool, len(formats))
	for _, f := range formats {
		name := NormalizeFormat(f)
		if !lo.Contains(AllFormats, name) {
			return nil, domain.NewInvalidInputError("decompress formats", fmt.Errorf("unsupported format %q", f))
		}
		enabled[name] = true
	}

	return &Decompressor{enabled: enabled, logger: logger}, nil
}

// NormalizeFormat lowercases a format name and resolves short aliases
func NormalizeFormat(f string) string {
	f = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f), "."))
	if a, ok := aliases[f]; ok {
		return a
	}
	return f
}

// DetectFormat returns the format of path from its suffix, falling back to
// content sniffing. It returns "" for anything unsupported.
func DetectFormat(path string) string {
	lower := strings.ToLower(path)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return s.format
		}
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return ""
	}
	for m := mt; m != nil; m = m.Parent() {
		if f, ok := sniffed[m.String()]; ok {
			return f
		}
	}
	return ""
}

// CanDecompress reports whether path is in an enabled format
func (d *Decompressor) CanDecompress(path string) bool {
	f := DetectFormat(path)
	return f != "" && d.enabled[f]
}

// Decompress extracts path into outDir and returns the files it wrote
func (d *Decompressor) Decompress(path, outDir string) ([]string, error) {
	format := DetectFormat(path)
	if format == "" || !d.enabled[format] {
		return nil, domain.NewInvalidInputError("decompress "+filepath.Base(path), errors.New("unsupported format"))
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, domain.NewFileSystemError("create extract dir", err)
	}

	var files []string
	var err error
	switch format {
	case FormatZip:
		files, err = extractZip(path, outDir)
	case FormatTar, FormatTarGz, FormatTarBz2, FormatTarXz, FormatTarZst:
		files, err = d.extractTarFile(path, outDir, strings.TrimPrefix(strings.TrimPrefix(format, FormatTar), "."))
	default:
		var out string
		out, err = d.extractStream(path, outDir, format)
		if out != "" {
			files = []string{out}
		}
	}
	if err != nil {
		return files, err
	}

	if d.logger != nil {
		d.logger.Debug("decompressed file",
			zap.String("path", path),
			zap.String("format", format),
			zap.Int("files", len(files)))
	}
	return files, nil
}

// openStream wraps r in the decoder for a single-stream format. An empty
// format returns r unchanged.
func openStream(r io.Reader, format string) (io.ReadCloser, error) {
	switch format {
	case "":
		return io.NopCloser(r), nil
	case FormatGzip, "gz":
		return gzip.NewReader(r)
	case FormatBzip2, "bz2":
		return io.NopCloser(bzip2.NewReader(r)), nil
	case FormatXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	case FormatZstd, "zst":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported stream format %q", format)
	}
}

func (d *Decompressor) extractStream(path, outDir, format string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", domain.NewFileSystemError("open "+path, err)
	}
	defer in.Close()

	rc, err := openStream(in, format)
	if err != nil {
		return "", domain.NewParseError("decompress "+filepath.Base(path), err)
	}
	defer rc.Close()

	out := filepath.Join(outDir, streamOutputName(path))
	if err := writeFile(out, rc, 0644); err != nil {
		return "", err
	}
	return out, nil
}

// streamOutputName drops the compression suffix, or appends ".out" when
// the format was sniffed from content.
func streamOutputName(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	switch strings.ToLower(ext) {
	case ".gz", ".bz2", ".xz", ".zst":
		return strings.TrimSuffix(base, ext)
	}
	return base + ".out"
}

func (d *Decompressor) extractTarFile(path, outDir, compression string) ([]string, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, domain.NewFileSystemError("open "+path, err)
	}
	defer in.Close()

	rc, err := openStream(in, compression)
	if err != nil {
		return nil, domain.NewParseError("decompress "+filepath.Base(path), err)
	}
	defer rc.Close()

	return extractTar(rc, outDir)
}

func extractTar(r io.Reader, outDir string) ([]string, error) {
	tr := tar.NewReader(r)
	var files []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return files, nil
		}
		if err != nil {
			return files, domain.NewParseError("read tar", err)
		}

		target, err := safeJoin(outDir, hdr.Name)
		if err != nil {
			return files, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return files, domain.NewFileSystemError("create "+target, err)
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()|0600); err != nil {
				return files, err
			}
			files = append(files, target)
		default:
			// Links and devices are not extracted
		}
	}
}

func extractZip(path, outDir string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, domain.NewParseError("open zip "+filepath.Base(path), err)
	}
	defer zr.Close()

	var files []string
	for _, f := range zr.File {
		target, err := safeJoin(outDir, f.Name)
		if err != nil {
			return files, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return files, domain.NewFileSystemError("create "+target, err)
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return files, domain.NewParseError("open zip entry "+f.Name, err)
		}
		err = writeFile(target, rc, f.Mode().Perm()|0600)
		rc.Close()
		if err != nil {
			return files, err
		}
		files = append(files, target)
	}
	return files, nil
}

// safeJoin joins an archive entry name onto dir, rejecting names that
// would land outside it.
func safeJoin(dir, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", domain.NewInvalidInputError("extract", fmt.Errorf("entry %q escapes the output directory", name))
	}
	return filepath.Join(dir, cleaned), nil
}

func writeFile(path string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return domain.NewFileSystemError("create "+filepath.Dir(path), err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return domain.NewFileSystemError("create "+path, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return domain.NewParseError("decompress into "+filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return domain.NewFileSystemError("close "+path, err)
	}
	return nil
}
