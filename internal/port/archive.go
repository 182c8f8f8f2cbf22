package port

import (
	"context"
	"io"

	"github.com/vertextoedge/archive-fetch/internal/domain"
)

// ArchiveClient defines the remote archive operations the downloader needs
type ArchiveClient interface {
	// FetchManifest returns the file manifest for an item identifier
	FetchManifest(ctx context.Context, identifier string) (*domain.Manifest, error)

	// FileURL returns the URL of name on the given mirror server
	// An empty server selects the archive's default download endpoint
	FileURL(m *domain.Manifest, server, name string) string

	// OpenFile starts downloading a file of the expected size (0 if unknown)
	// Returns: body, content length (-1 if unknown), error
	OpenFile(ctx context.Context, fileURL string, size int64) (io.ReadCloser, int64, error)

	// IsRateHealthy reports whether the request rate is within politeness limits
	IsRateHealthy() bool
}
