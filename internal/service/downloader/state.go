package downloader

import (
	"sync"

	"go.uber.org/zap"

	"github.com/vertextoedge/archive-fetch/internal/domain"
	"github.com/vertextoedge/archive-fetch/internal/port"
)

// sessionState serialises every session mutation with the save that follows
// it, so concurrent downloads never persist an interleaved snapshot.
type sessionState struct {
	mu      sync.Mutex
	session *domain.DownloadSession
	path    string
	store   port.SessionStore
	logger  *zap.Logger
}

func newSessionState(session *domain.DownloadSession, path string, store port.SessionStore, logger *zap.Logger) *sessionState {
	return &sessionState{
		session: session,
		path:    path,
		store:   store,
		logger:  logger,
	}
}

// apply runs fn under the lock and persists the session when fn succeeds.
// A failed save is logged; the in-memory state stays authoritative.
func (s *sessionState) apply(fn func(*domain.DownloadSession) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(s.session); err != nil {
		return err
	}
	s.saveLocked()
	return nil
}

func (s *sessionState) save() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveLocked()
}

func (s *sessionState) saveLocked() {
	if err := s.store.Save(s.session, s.path); err != nil {
		s.logger.Warn("failed to save session",
			zap.String("path", s.path),
			zap.Error(err))
	}
}

// file returns a copy of the tracked state for name
func (s *sessionState) file(name string) (domain.FileProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.session.Progress(name)
	if !ok {
		return domain.FileProgress{}, false
	}
	return *p, true
}

func (s *sessionState) markInProgress(name, server string) error {
	return s.apply(func(ds *domain.DownloadSession) error { return ds.MarkInProgress(name, server) })
}

func (s *sessionState) updateBytes(name string, n int64) error {
	return s.apply(func(ds *domain.DownloadSession) error { return ds.UpdateBytes(name, n) })
}

func (s *sessionState) markCompleted(name string, written int64) error {
	return s.apply(func(ds *domain.DownloadSession) error { return ds.MarkCompleted(name, written) })
}

func (s *sessionState) markFailed(name string, cause error) error {
	return s.apply(func(ds *domain.DownloadSession) error { return ds.MarkFailed(name, cause) })
}

func (s *sessionState) markSkipped(name string, size int64) error {
	return s.apply(func(ds *domain.DownloadSession) error { return ds.MarkSkipped(name, size) })
}

func (s *sessionState) resetForRetry(name string) error {
	return s.apply(func(ds *domain.DownloadSession) error { return ds.ResetForRetry(name) })
}

func (s *sessionState) pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.PendingFiles()
}

func (s *sessionState) summary() domain.ProgressSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Summary()
}

// outcomes reports every requested file in request order
func (s *sessionState) outcomes(extracted map[string][]string) []domain.FileOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.FileOutcome, 0, len(s.session.RequestedFiles))
	for _, name := range s.session.RequestedFiles {
		p, ok := s.session.Progress(name)
		if !ok {
			continue
		}
		out = append(out, domain.FileOutcome{
			Name:       name,
			Status:     p.Status,
			LocalPath:  p.LocalPath,
			Bytes:      p.BytesDownloaded,
			RetryCount: p.RetryCount,
			ServerUsed: p.ServerUsed,
			Error:      p.LastError,
			Extracted:  extracted[name],
		})
	}
	return out
}
