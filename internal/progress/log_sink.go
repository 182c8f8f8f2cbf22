package progress

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/archive-fetch/internal/domain"
	"github.com/vertextoedge/archive-fetch/internal/port"
)

// LogSink writes status transitions to the logger and byte progress at
// most once per interval per file.
type LogSink struct {
	logger   *zap.Logger
	interval time.Duration

	mu      sync.Mutex
	lastLog map[string]time.Time
}

// Ensure LogSink implements port.ProgressSink
var _ port.ProgressSink = (*LogSink)(nil)

// NewLogSink creates a LogSink
func NewLogSink(logger *zap.Logger, interval time.Duration) *LogSink {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &LogSink{
		logger:   logger,
		interval: interval,
		lastLog:  make(map[string]time.Time),
	}
}

func (s *LogSink) FileProgress(name string, downloaded, total int64) {
	s.mu.Lock()
	now := time.Now()
	if now.Sub(s.lastLog[name]) < s.interval {
		s.mu.Unlock()
		return
	}
	s.lastLog[name] = now
	s.mu.Unlock()

	s.logger.Debug("download progress",
		zap.String("file", name),
		zap.Int64("downloaded", downloaded),
		zap.Int64("total", total))
}

func (s *LogSink) FileStatus(name string, status domain.FileStatus, err error) {
	switch status {
	case domain.StatusFailed:
		s.logger.Warn("file failed", zap.String("file", name), zap.Error(err))
	case domain.StatusCompleted, domain.StatusSkipped:
		s.mu.Lock()
		delete(s.lastLog, name)
		s.mu.Unlock()
		s.logger.Info("file "+string(status), zap.String("file", name))
	default:
		s.logger.Debug("file status", zap.String("file", name), zap.String("status", string(status)))
	}
}

// Multi fans progress out to several sinks
type Multi []port.ProgressSink

func (m Multi) FileProgress(name string, downloaded, total int64) {
	for _, s := range m {
		s.FileProgress(name, downloaded, total)
	}
}

func (m Multi) FileStatus(name string, status domain.FileStatus, err error) {
	for _, s := range m {
		s.FileStatus(name, status, err)
	}
}

// RunStarted forwards to every sink that implements port.RunSink
func (m Multi) RunStarted(summary domain.ProgressSummary) {
	for _, s := range m {
		if rs, ok := s.(port.RunSink); ok {
			rs.RunStarted(summary)
		}
	}
}
