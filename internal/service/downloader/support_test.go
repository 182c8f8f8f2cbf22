package downloader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/archive-fetch/internal/domain"
	"github.com/vertextoedge/archive-fetch/internal/port"
)

// fakeHistory implements port.HistoryRepository for testing
type fakeHistory struct {
	mu       sync.Mutex
	created  []domain.RunRecord
	finished []domain.RunRecord
}

func (h *fakeHistory) CreateRun(_ context.Context, run *domain.RunRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.created = append(h.created, *run)
	return nil
}

func (h *fakeHistory) FinishRun(_ context.Context, run *domain.RunRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = append(h.finished, *run)
	return nil
}

func (h *fakeHistory) GetRun(context.Context, string) (*domain.RunRecord, error) { return nil, nil }
func (h *fakeHistory) ListRecent(context.Context, string, int) ([]*domain.RunRecord, error) {
	return nil, nil
}
func (h *fakeHistory) GetStats(context.Context) (*domain.HistoryStats, error) {
	return &domain.HistoryStats{}, nil
}
func (h *fakeHistory) PruneOlderThan(context.Context, time.Duration) (int, error) { return 0, nil }

var _ port.HistoryRepository = (*fakeHistory)(nil)

// mockFileSystem implements port.FileSystem for testing
type mockFileSystem struct {
	diskUsage *port.DiskUsage
	err       error
}

func (m *mockFileSystem) GetDiskUsage() (*port.DiskUsage, error) {
	return m.diskUsage, m.err
}

// Stub implementations for other FileSystem methods
func (m *mockFileSystem) RootDir() string                             { return "" }
func (m *mockFileSystem) DestinationPath(name string) (string, error) { return name, nil }
func (m *mockFileSystem) WriteTemp(context.Context, string, io.Reader, port.WriteOptions) (string, int64, error) {
	return "", 0, nil
}
func (m *mockFileSystem) Commit(tempPath, dest string) error                     { return nil }
func (m *mockFileSystem) FileExists(path string) bool                            { return false }
func (m *mockFileSystem) GetFileSize(path string) (int64, error)                 { return 0, nil }
func (m *mockFileSystem) SetModTime(path string, mtime time.Time) error          { return nil }
func (m *mockFileSystem) DeleteTempFile(path string) error                       { return nil }
func (m *mockFileSystem) CleanOldTempFiles(olderThan time.Duration) (int, error) { return 0, nil }

func TestSpaceGuard_Check(t *testing.T) {
	const gib = 1024 * 1024 * 1024

	tests := []struct {
		name       string
		reserve    uint64
		diskUsage  *port.DiskUsage
		usageErr   error
		fileSize   int64
		wantErr    bool
		wantENOSPC bool
	}{
		{
			name:      "has space - well under limits",
			reserve:   1 * gib,
			diskUsage: &port.DiskUsage{Total: 1000 * gib, Used: 400 * gib, Free: 600 * gib, UsedPct: 40},
			fileSize:  1 * gib,
		},
		{
			name:       "file does not fit",
			reserve:    1 * gib,
			diskUsage:  &port.DiskUsage{Total: 100 * gib, Used: 98 * gib, Free: 2 * gib, UsedPct: 98},
			fileSize:   2 * gib,
			wantErr:    true,
			wantENOSPC: true,
		},
		{
			name:       "reserve already used up - unknown size",
			reserve:    5 * gib,
			diskUsage:  &port.DiskUsage{Total: 100 * gib, Used: 96 * gib, Free: 4 * gib, UsedPct: 96},
			fileSize:   0,
			wantErr:    true,
			wantENOSPC: true,
		},
		{
			name:      "exact fit",
			reserve:   1 * gib,
			diskUsage: &port.DiskUsage{Total: 100 * gib, Used: 97 * gib, Free: 3 * gib, UsedPct: 97},
			fileSize:  2 * gib,
		},
		{
			name:     "usage unavailable",
			usageErr: errors.New("statfs failed"),
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard := NewSpaceGuard(&mockFileSystem{diskUsage: tt.diskUsage, err: tt.usageErr}, tt.reserve)
			err := guard.Check(tt.fileSize)

			if (err != nil) != tt.wantErr {
				t.Fatalf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := errors.Is(err, syscall.ENOSPC); got != tt.wantENOSPC {
				t.Errorf("errors.Is(err, ENOSPC) = %v, want %v", got, tt.wantENOSPC)
			}
			if tt.wantENOSPC && !domain.IsTransient(err) {
				t.Errorf("disk pressure should be transient, got %v", err)
			}
		})
	}
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Options)
		wantErr bool
	}{
		{"defaults", func(*Options) {}, false},
		{"concurrency too high", func(o *Options) { o.Concurrency = 11 }, true},
		{"no attempts", func(o *Options) { o.MaxAttempts = 0 }, true},
		{"zero backoff", func(o *Options) { o.InitialBackoff = 0 }, true},
		{"max backoff below initial", func(o *Options) { o.MaxBackoff = o.InitialBackoff / 2 }, true},
		{"negative bandwidth", func(o *Options) { o.MaxBytesPerSecond = -1 }, true},
		{"negative size bound", func(o *Options) { o.Filter.MinSize = -1 }, true},
		{"open upper size bound", func(o *Options) { o.Filter.MinSize = 100 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.modify(&opts)
			err := opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !domain.IsKind(err, domain.KindInvalidInput) {
				t.Errorf("Validate() error kind = %v, want InvalidInput", err)
			}
		})
	}
}

// memoryStore implements port.SessionStore in memory and counts saves
type memoryStore struct {
	mu    sync.Mutex
	saves int
	last  []byte
}

func (m *memoryStore) Load(string) (*domain.DownloadSession, error) { return nil, nil }
func (m *memoryStore) NewPath(string, time.Time) string             { return "mem" }
func (m *memoryStore) FindLatest(string) (string, error)            { return "", nil }
func (m *memoryStore) Save(s *domain.DownloadSession, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.last = []byte(s.UpdatedAt.String())
	return nil
}

func TestSessionState_ConcurrentTransitionsPersistEachChange(t *testing.T) {
	manifest := &domain.Manifest{Identifier: "item"}
	var files []domain.FileDescriptor
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		f := domain.FileDescriptor{Name: name, Size: 10}
		manifest.Files = append(manifest.Files, f)
		files = append(files, f)
	}
	session := domain.NewDownloadSession("item", manifest, domain.SessionConfig{}, files, func(f domain.FileDescriptor) string { return f.Name })

	store := &memoryStore{}
	state := newSessionState(session, "mem", store, zap.NewNop())

	var wg sync.WaitGroup
	for _, f := range files {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			state.markInProgress(name, "")
			state.updateBytes(name, 5)
			state.markCompleted(name, 10)
		}(f.Name)
	}
	wg.Wait()

	if got := state.summary().CompletedFiles; got != len(files) {
		t.Errorf("CompletedFiles = %d, want %d", got, len(files))
	}
	if store.saves != 3*len(files) {
		t.Errorf("saves = %d, want %d", store.saves, 3*len(files))
	}
	if err := state.markCompleted("a", 10); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Errorf("completing twice: err = %v, want ErrInvalidStateTransition", err)
	}
	if err := state.markInProgress("zzz", ""); !errors.Is(err, domain.ErrNotTracked) {
		t.Errorf("unknown file: err = %v, want ErrNotTracked", err)
	}
}

func TestThrottledReader_PassesDataThrough(t *testing.T) {
	data := bytes.Repeat([]byte("z"), 64*1024)
	r := &throttledReader{
		ctx:     context.Background(),
		reader:  bytes.NewReader(data),
		limiter: newBandwidthLimiter(100 * 1024 * 1024),
	}

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("read %d bytes, want %d", len(got), len(data))
	}
}

func TestThrottledReader_StopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &throttledReader{
		ctx:     ctx,
		reader:  bytes.NewReader([]byte("abc")),
		limiter: newBandwidthLimiter(1),
	}
	if _, err := r.Read(make([]byte, 3)); err == nil {
		t.Error("Read() should fail once the context is cancelled")
	}
}

func TestNewBandwidthLimiter_Disabled(t *testing.T) {
	if newBandwidthLimiter(0) != nil {
		t.Error("zero rate should disable the limiter")
	}
}

func TestPickServer(t *testing.T) {
	servers := []string{"ia1", "ia2", "ia3"}
	want := []string{"ia1", "ia2", "ia3", "ia1"}
	for i, w := range want {
		if got := pickServer(servers, i+1); got != w {
			t.Errorf("pickServer(attempt %d) = %q, want %q", i+1, got, w)
		}
	}
	if got := pickServer(nil, 1); got != "" {
		t.Errorf("pickServer(nil) = %q, want empty", got)
	}
}
