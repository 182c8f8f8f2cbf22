package maintenance

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/archive-fetch/internal/domain"
	"github.com/vertextoedge/archive-fetch/internal/port"
)

// mockFileSystem implements port.FileSystem for testing
type mockFileSystem struct {
	mu                   sync.Mutex
	cleanTempFilesCount  int
	cleanTempFilesErr    error
	cleanTempFilesCalled int
	lastMaxAge           time.Duration
}

func (m *mockFileSystem) RootDir() string { return "/tmp" }
func (m *mockFileSystem) DestinationPath(name string) (string, error) {
	return "/tmp/" + name, nil
}
func (m *mockFileSystem) WriteTemp(ctx context.Context, dest string, reader io.Reader, opts port.WriteOptions) (string, int64, error) {
	return "", 0, nil
}
func (m *mockFileSystem) Commit(tempPath, dest string) error            { return nil }
func (m *mockFileSystem) FileExists(path string) bool                   { return false }
func (m *mockFileSystem) GetFileSize(path string) (int64, error)        { return 0, nil }
func (m *mockFileSystem) SetModTime(path string, mtime time.Time) error { return nil }
func (m *mockFileSystem) DeleteTempFile(tempPath string) error          { return nil }
func (m *mockFileSystem) GetDiskUsage() (*port.DiskUsage, error)        { return nil, nil }
func (m *mockFileSystem) CleanOldTempFiles(olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanTempFilesCalled++
	m.lastMaxAge = olderThan
	return m.cleanTempFilesCount, m.cleanTempFilesErr
}

func (m *mockFileSystem) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanTempFilesCalled
}

// mockSessionPruner implements SessionPruner for testing
type mockSessionPruner struct {
	mu      sync.Mutex
	count   int
	err     error
	called  int
	lastAge time.Duration
}

func (m *mockSessionPruner) PruneOlderThan(age time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called++
	m.lastAge = age
	return m.count, m.err
}

// mockHistoryRepository implements port.HistoryRepository for testing
type mockHistoryRepository struct {
	mu      sync.Mutex
	count   int
	err     error
	called  int
	lastAge time.Duration
}

func (m *mockHistoryRepository) CreateRun(ctx context.Context, run *domain.RunRecord) error {
	return nil
}
func (m *mockHistoryRepository) FinishRun(ctx context.Context, run *domain.RunRecord) error {
	return nil
}
func (m *mockHistoryRepository) GetRun(ctx context.Context, id string) (*domain.RunRecord, error) {
	return nil, nil
}
func (m *mockHistoryRepository) ListRecent(ctx context.Context, identifier string, limit int) ([]*domain.RunRecord, error) {
	return nil, nil
}
func (m *mockHistoryRepository) GetStats(ctx context.Context) (*domain.HistoryStats, error) {
	return nil, nil
}
func (m *mockHistoryRepository) PruneOlderThan(ctx context.Context, age time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called++
	m.lastAge = age
	return m.count, m.err
}

func TestService_New(t *testing.T) {
	logger := zap.NewNop()
	fs := &mockFileSystem{}

	// Test with nil config (should use defaults)
	s := New(nil, fs, nil, nil, logger)
	if s == nil {
		t.Fatal("New returned nil")
	}
	if s.config.Interval != time.Hour {
		t.Errorf("Interval = %v, want %v", s.config.Interval, time.Hour)
	}

	// Test with custom config; zero fields fall back to defaults
	cfg := &Config{
		Interval:       5 * time.Minute,
		TempFileMaxAge: 12 * time.Hour,
	}
	s = New(cfg, fs, nil, nil, logger)
	if s.config.Interval != 5*time.Minute {
		t.Errorf("Interval = %v, want %v", s.config.Interval, 5*time.Minute)
	}
	if s.config.TempFileMaxAge != 12*time.Hour {
		t.Errorf("TempFileMaxAge = %v, want %v", s.config.TempFileMaxAge, 12*time.Hour)
	}
	if s.config.SessionMaxAge != DefaultConfig().SessionMaxAge {
		t.Errorf("SessionMaxAge = %v, want default", s.config.SessionMaxAge)
	}
}

func TestService_RunOnce(t *testing.T) {
	fs := &mockFileSystem{cleanTempFilesCount: 2}
	sessions := &mockSessionPruner{count: 3}
	history := &mockHistoryRepository{count: 4}

	cfg := &Config{
		Interval:       time.Hour,
		TempFileMaxAge: time.Hour,
		SessionMaxAge:  2 * time.Hour,
		HistoryMaxAge:  3 * time.Hour,
	}
	s := New(cfg, fs, sessions, history, zap.NewNop())

	report := s.RunOnce(context.Background())

	want := Report{TempFiles: 2, Sessions: 3, HistoryRuns: 4}
	if report != want {
		t.Errorf("RunOnce() = %+v, want %+v", report, want)
	}
	if fs.lastMaxAge != time.Hour {
		t.Errorf("temp max age = %v, want 1h", fs.lastMaxAge)
	}
	if sessions.lastAge != 2*time.Hour {
		t.Errorf("session max age = %v, want 2h", sessions.lastAge)
	}
	if history.lastAge != 3*time.Hour {
		t.Errorf("history max age = %v, want 3h", history.lastAge)
	}
}

func TestService_RunOnceContinuesAfterErrors(t *testing.T) {
	fs := &mockFileSystem{cleanTempFilesErr: errors.New("walk failed")}
	sessions := &mockSessionPruner{err: errors.New("read dir failed")}
	history := &mockHistoryRepository{count: 1}

	s := New(nil, fs, sessions, history, zap.NewNop())
	report := s.RunOnce(context.Background())

	if report.TempFiles != 0 || report.Sessions != 0 {
		t.Errorf("failed steps reported removals: %+v", report)
	}
	if report.HistoryRuns != 1 {
		t.Errorf("HistoryRuns = %d, want 1", report.HistoryRuns)
	}
	if history.called != 1 {
		t.Errorf("history prune called %d times, want 1", history.called)
	}
}

func TestService_RunOnceWithoutOptionalStores(t *testing.T) {
	fs := &mockFileSystem{cleanTempFilesCount: 1}
	s := New(nil, fs, nil, nil, zap.NewNop())

	report := s.RunOnce(context.Background())
	if report != (Report{TempFiles: 1}) {
		t.Errorf("RunOnce() = %+v, want only temp files", report)
	}
}

func TestService_StartStop(t *testing.T) {
	logger := zap.NewNop()
	fs := &mockFileSystem{}

	cfg := &Config{Interval: 10 * time.Millisecond}
	s := New(cfg, fs, nil, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Start(ctx)
	}()

	// Let the loop tick a few times
	time.Sleep(50 * time.Millisecond)

	s.Stop()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Start returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}

	if fs.calls() < 2 {
		t.Errorf("CleanOldTempFiles called %d times, want at least 2", fs.calls())
	}
}

func TestService_DoubleStart(t *testing.T) {
	logger := zap.NewNop()
	fs := &mockFileSystem{}

	cfg := &Config{Interval: time.Hour}
	s := New(cfg, fs, nil, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		s.Start(ctx)
	}()

	// Wait for the first Start to mark the service running
	deadline := time.Now().Add(time.Second)
	for fs.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := s.Start(ctx); err == nil {
		t.Error("second Start should fail while running")
	}

	cancel()
	s.Stop()
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Interval != time.Hour {
		t.Errorf("Interval = %v, want %v", cfg.Interval, time.Hour)
	}
	if cfg.TempFileMaxAge != 24*time.Hour {
		t.Errorf("TempFileMaxAge = %v, want %v", cfg.TempFileMaxAge, 24*time.Hour)
	}
	if cfg.SessionMaxAge != 30*24*time.Hour {
		t.Errorf("SessionMaxAge = %v, want %v", cfg.SessionMaxAge, 30*24*time.Hour)
	}
	if cfg.HistoryMaxAge != 90*24*time.Hour {
		t.Errorf("HistoryMaxAge = %v, want %v", cfg.HistoryMaxAge, 90*24*time.Hour)
	}
}
