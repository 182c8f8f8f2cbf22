// Package downloader schedules, retries and tracks the per-file downloads of
// one archive item.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/vertextoedge/archive-fetch/internal/domain"
	"github.com/vertextoedge/archive-fetch/internal/domain/service"
	"github.com/vertextoedge/archive-fetch/internal/port"
	"github.com/vertextoedge/archive-fetch/internal/util/buffer"
)

// Config contains scheduler configuration
type Config struct {
	// HealthBackoff is the pause taken before an attempt while the client's
	// request rate is above its healthy threshold
	HealthBackoff time.Duration

	// MinFreeBytes is the disk space kept free; 0 disables the check
	MinFreeBytes uint64
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() *Config {
	return &Config{
		HealthBackoff: 5 * time.Second,
		MinFreeBytes:  100 * 1024 * 1024,
	}
}

// Request describes one run
type Request struct {
	// OriginalInput is what the user asked for (identifier or URL)
	OriginalInput string

	Manifest *domain.Manifest

	// Files names the files to download; empty selects every file passing the filter
	Files []string

	Options Options

	// Progress receives per-file progress; nil discards it
	Progress port.ProgressSink
}

// Scheduler runs downloads for a manifest with bounded concurrency
type Scheduler struct {
	config       *Config
	client       port.ArchiveClient
	fs           port.FileSystem
	sessions     port.SessionStore
	buffers      *buffer.Manager
	space        *SpaceGuard
	history      port.HistoryRepository
	decompressor port.Decompressor
	logger       *zap.Logger
}

// New creates a new Scheduler
func New(
	cfg *Config,
	client port.ArchiveClient,
	fs port.FileSystem,
	sessions port.SessionStore,
	buffers *buffer.Manager,
	logger *zap.Logger,
) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if buffers == nil {
		buffers = buffer.New(buffer.DefaultConfig())
	}

	s := &Scheduler{
		config:   cfg,
		client:   client,
		fs:       fs,
		sessions: sessions,
		buffers:  buffers,
		logger:   logger,
	}
	if cfg.MinFreeBytes > 0 {
		s.space = NewSpaceGuard(fs, cfg.MinFreeBytes)
	}
	return s
}

// SetHistory records runs into repo
func (s *Scheduler) SetHistory(repo port.HistoryRepository) {
	s.history = repo
}

// SetDecompressor enables post-download decompression through d
func (s *Scheduler) SetDecompressor(d port.Decompressor) {
	s.decompressor = d
}

// run carries the state shared by the downloads of one Run call
type run struct {
	id       string
	opts     Options
	manifest *domain.Manifest
	servers  []string
	state    *sessionState
	retry    *service.RetryPolicy
	sink     port.ProgressSink
	limiter  *rate.Limiter

	active atomic.Int32
	peak   atomic.Int32

	mu        sync.Mutex
	extracted map[string][]string
}

func (r *run) enter() {
	n := r.active.Add(1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (r *run) leave() {
	r.active.Add(-1)
}

// Run downloads the requested files of req.Manifest. Per-file failures are
// reported in the result, never as an error; the error return is reserved
// for invalid requests and session setup failures, which abort before any
// file is touched.
func (s *Scheduler) Run(ctx context.Context, req Request) (*domain.RunResult, error) {
	if err := req.Options.Validate(); err != nil {
		return nil, err
	}
	if req.Manifest == nil {
		return nil, domain.NewInvalidInputError("run", domain.ErrNilManifest)
	}
	if len(req.Manifest.Files) == 0 {
		return nil, domain.NewInvalidInputError("run "+req.Manifest.Identifier, domain.ErrEmptyManifest)
	}

	selected := domain.SelectFiles(req.Manifest, req.Files, req.Options.Filter)
	if len(selected) == 0 {
		return nil, domain.NewInvalidInputError("run "+req.Manifest.Identifier, errors.New("no files match the request"))
	}

	startedAt := time.Now()
	session, path, err := s.openSession(req, selected)
	if err != nil {
		return nil, err
	}

	requeued := session.RequeueFailed()
	released := session.ReleaseStale()
	if requeued > 0 || released > 0 {
		s.logger.Info("requeued files from previous run",
			zap.Int("failed", requeued),
			zap.Int("stale", released))
	}

	r := &run{
		id:        uuid.NewString(),
		opts:      req.Options,
		manifest:  req.Manifest,
		servers:   req.Manifest.Servers(),
		state:     newSessionState(session, path, s.sessions, s.logger),
		retry:     service.NewRetryPolicy(req.Options.MaxAttempts, req.Options.InitialBackoff, req.Options.MaxBackoff),
		sink:      req.Progress,
		limiter:   newBandwidthLimiter(req.Options.MaxBytesPerSecond),
		extracted: make(map[string][]string),
	}
	if r.sink == nil {
		r.sink = port.NopProgressSink{}
	}
	r.state.save()
	if rs, ok := r.sink.(port.RunSink); ok {
		rs.RunStarted(r.state.summary())
	}

	record := &domain.RunRecord{
		ID:            r.id,
		Identifier:    req.Manifest.Identifier,
		OriginalInput: req.OriginalInput,
		OutputDir:     s.fs.RootDir(),
		SessionPath:   path,
		StartedAt:     startedAt,
	}
	s.recordStart(ctx, record)

	pending := r.state.pending()
	s.logger.Info("download run started",
		zap.String("run_id", r.id),
		zap.String("identifier", req.Manifest.Identifier),
		zap.Int("requested", len(session.RequestedFiles)),
		zap.Int("pending", len(pending)),
		zap.Int("concurrency", req.Options.Concurrency),
		zap.String("session", path))

	sem := semaphore.NewWeighted(int64(req.Options.Concurrency))
	var wg sync.WaitGroup

	for _, name := range pending {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			defer sem.Release(1)
			s.processFile(ctx, r, name)
		}(name)
	}
	wg.Wait()

	r.mu.Lock()
	extracted := r.extracted
	r.mu.Unlock()

	result := &domain.RunResult{
		RunID:          r.id,
		Identifier:     req.Manifest.Identifier,
		SessionPath:    path,
		StartedAt:      startedAt,
		FinishedAt:     time.Now(),
		Outcomes:       r.state.outcomes(extracted),
		Summary:        r.state.summary(),
		Cancelled:      ctx.Err() != nil,
		PeakInProgress: int(r.peak.Load()),
	}

	record.Finish(result, nil)
	s.recordFinish(record)

	s.logger.Info("download run finished",
		zap.String("run_id", r.id),
		zap.String("status", record.Status),
		zap.Int("completed", result.Summary.CompletedFiles),
		zap.Int("skipped", result.Summary.SkippedFiles),
		zap.Int("failed", len(result.Failed())),
		zap.Int64("bytes", result.Summary.DownloadedBytes),
		zap.Duration("duration", result.Duration()))

	return result, nil
}

// openSession resumes the latest session of the identifier when resume is on,
// otherwise creates a new one. Newly requested files are merged into a
// resumed session.
func (s *Scheduler) openSession(req Request, selected []domain.FileDescriptor) (*domain.DownloadSession, string, error) {
	identifier := req.Manifest.Identifier

	if req.Options.Resume {
		session, path, err := s.loadLatest(identifier)
		if err != nil {
			s.logger.Warn("failed to load previous session, starting fresh",
				zap.String("identifier", identifier),
				zap.Error(err))
		} else if session != nil {
			session.Manifest = *req.Manifest
			if prev := session.Config.OutputDir; prev != s.fs.RootDir() {
				moved := session.Relocate(s.fs.RootDir(), s.localPath)
				s.logger.Warn("output directory changed since the session was created",
					zap.String("previous", prev),
					zap.String("current", s.fs.RootDir()),
					zap.Int("relocated_files", moved))
			}
			added := session.AddRequested(selected, s.localPath)
			s.logger.Info("resuming session",
				zap.String("path", path),
				zap.Int("new_files", added))
			return session, path, nil
		}
	}

	cfg := req.Options.sessionConfig(s.fs.RootDir())
	session := domain.NewDownloadSession(req.OriginalInput, req.Manifest, cfg, selected, s.localPath)
	return session, s.sessions.NewPath(identifier, time.Now()), nil
}

func (s *Scheduler) loadLatest(identifier string) (*domain.DownloadSession, string, error) {
	path, err := s.sessions.FindLatest(identifier)
	if err != nil || path == "" {
		return nil, "", err
	}
	session, err := s.sessions.Load(path)
	if err != nil || session == nil {
		return nil, "", err
	}
	if session.Identifier != identifier {
		return nil, "", fmt.Errorf("%s: %w", path, domain.ErrSessionMismatch)
	}
	return session, path, nil
}

// localPath maps a file to its destination; names that cannot be placed
// under the output directory get an empty path and fail when processed.
func (s *Scheduler) localPath(f domain.FileDescriptor) string {
	dest, err := s.fs.DestinationPath(f.Name)
	if err != nil {
		return ""
	}
	return dest
}

func (s *Scheduler) recordStart(ctx context.Context, record *domain.RunRecord) {
	if s.history == nil {
		return
	}
	if err := s.history.CreateRun(ctx, record); err != nil {
		s.logger.Warn("failed to record run start",
			zap.String("run_id", record.ID),
			zap.Error(err))
	}
}

// recordFinish uses a fresh context so cancelled runs are still recorded
func (s *Scheduler) recordFinish(record *domain.RunRecord) {
	if s.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.history.FinishRun(ctx, record); err != nil {
		s.logger.Warn("failed to record run finish",
			zap.String("run_id", record.ID),
			zap.Error(err))
	}
}
