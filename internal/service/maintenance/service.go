package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/archive-fetch/internal/port"
)

// Config contains maintenance service configuration
type Config struct {
	// Interval is how often Start runs a cleanup pass
	Interval time.Duration

	// TempFileMaxAge is the maximum age of temp files before cleanup
	TempFileMaxAge time.Duration

	// SessionMaxAge is the maximum age of session files before cleanup
	SessionMaxAge time.Duration

	// HistoryMaxAge is the maximum age of finished history rows before cleanup
	HistoryMaxAge time.Duration
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		Interval:       time.Hour,
		TempFileMaxAge: 24 * time.Hour,
		SessionMaxAge:  30 * 24 * time.Hour,
		HistoryMaxAge:  90 * 24 * time.Hour,
	}
}

// SessionPruner deletes old session files
type SessionPruner interface {
	PruneOlderThan(age time.Duration) (int, error)
}

// Report counts what one pass removed
type Report struct {
	TempFiles   int
	Sessions    int
	HistoryRuns int
}

// Service handles periodic maintenance tasks
type Service struct {
	config   *Config
	fs       port.FileSystem
	sessions SessionPruner
	history  port.HistoryRepository
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service. sessions and history may be nil.
func New(cfg *Config, fs port.FileSystem, sessions SessionPruner, history port.HistoryRepository, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	def := DefaultConfig()
	if cfg.Interval == 0 {
		cfg.Interval = def.Interval
	}
	if cfg.TempFileMaxAge == 0 {
		cfg.TempFileMaxAge = def.TempFileMaxAge
	}
	if cfg.SessionMaxAge == 0 {
		cfg.SessionMaxAge = def.SessionMaxAge
	}
	if cfg.HistoryMaxAge == 0 {
		cfg.HistoryMaxAge = def.HistoryMaxAge
	}

	return &Service{
		config:   cfg,
		fs:       fs,
		sessions: sessions,
		history:  history,
		logger:   logger,
	}
}

// Start runs a cleanup pass immediately and then every Interval until ctx
// is done or Stop is called
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("interval", s.config.Interval))

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

// maintenanceLoop handles periodic maintenance tasks
func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one cleanup pass. Failures of one step are logged and do
// not stop the others.
func (s *Service) RunOnce(ctx context.Context) Report {
	return Report{
		TempFiles:   s.cleanupTempFiles(),
		Sessions:    s.cleanupSessions(),
		HistoryRuns: s.cleanupHistory(ctx),
	}
}

// cleanupTempFiles removes old temporary files from the output directory
func (s *Service) cleanupTempFiles() int {
	fileCount, err := s.fs.CleanOldTempFiles(s.config.TempFileMaxAge)
	if err != nil {
		s.logger.Error("failed to cleanup old temp files", zap.Error(err))
		return 0
	}
	if fileCount > 0 {
		s.logger.Info("cleaned up old temp files", zap.Int("count", fileCount))
	}
	return fileCount
}

// cleanupSessions removes session files nobody resumed in time
func (s *Service) cleanupSessions() int {
	if s.sessions == nil {
		return 0
	}
	removed, err := s.sessions.PruneOlderThan(s.config.SessionMaxAge)
	if err != nil {
		s.logger.Error("failed to cleanup old sessions", zap.Error(err))
		return 0
	}
	if removed > 0 {
		s.logger.Info("cleaned up old session files", zap.Int("count", removed))
	}
	return removed
}

// cleanupHistory removes old finished runs from the download history
func (s *Service) cleanupHistory(ctx context.Context) int {
	if s.history == nil {
		return 0
	}
	removed, err := s.history.PruneOlderThan(ctx, s.config.HistoryMaxAge)
	if err != nil {
		s.logger.Error("failed to cleanup download history", zap.Error(err))
		return 0
	}
	if removed > 0 {
		s.logger.Info("cleaned up old download history", zap.Int("count", removed))
	}
	return removed
}
