package port

import (
	"time"

	"github.com/vertextoedge/archive-fetch/internal/domain"
)

// SessionStore persists download sessions
type SessionStore interface {
	// Load reads a session file; a missing file returns (nil, nil)
	Load(path string) (*domain.DownloadSession, error)

	// Save atomically replaces the session file at path
	Save(session *domain.DownloadSession, path string) error

	// NewPath returns a fresh session file path for identifier
	NewPath(identifier string, now time.Time) string

	// FindLatest returns the newest session file for identifier, or "" if none
	FindLatest(identifier string) (string, error)
}
