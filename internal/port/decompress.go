package port

// Decompressor expands completed downloads
type Decompressor interface {
	// CanDecompress reports whether path is in a supported format
	CanDecompress(path string) bool

	// Decompress extracts path into outDir and returns the files it wrote
	Decompress(path, outDir string) ([]string, error)
}
