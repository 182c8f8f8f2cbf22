package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/archive-fetch/internal/domain"
	"github.com/vertextoedge/archive-fetch/internal/port"
	"github.com/vertextoedge/archive-fetch/internal/util/checksum"
)

// processFile drives one file to a terminal state for this run: skipped,
// completed, or failed once retries are exhausted or the run is cancelled.
func (s *Scheduler) processFile(ctx context.Context, r *run, name string) {
	fp, ok := r.state.file(name)
	if !ok {
		return
	}
	f := fp.File
	dest := fp.LocalPath

	if dest == "" {
		err := domain.NewInvalidInputError("place "+name, errors.New("file name escapes the output directory"))
		s.fail(r, name, err)
		return
	}

	if s.fs.FileExists(dest) {
		if size, valid := s.existingValid(r, f, dest); valid {
			if err := r.state.markSkipped(name, size); err == nil {
				r.sink.FileStatus(name, domain.StatusSkipped, nil)
				s.logger.Info("file already present, skipping",
					zap.String("file", name),
					zap.String("path", dest))
			}
			return
		}
		s.logger.Info("existing file is invalid, downloading again",
			zap.String("file", name),
			zap.String("path", dest))
	}

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return
		}

		err := s.attempt(ctx, r, f, dest, attempt)
		if err == nil {
			return
		}

		cancelled := ctx.Err() != nil || errors.Is(err, context.Canceled)
		if cancelled {
			// Never started: stays pending for the next run
			if cur, ok := r.state.file(name); ok && cur.Status == domain.StatusPending {
				return
			}
			err = domain.ErrCancelled
		}
		s.fail(r, name, err)

		if cancelled || !r.retry.ShouldRetry(err, attempt) {
			if !cancelled {
				s.logger.Error("download failed",
					zap.String("file", name),
					zap.Int("attempts", attempt),
					zap.String("class", r.retry.Classify(err).String()),
					zap.Error(err))
			}
			return
		}

		delay := r.retry.DelayFor(err, attempt)
		s.logger.Warn("download attempt failed, retrying",
			zap.String("file", name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		if r.retry.Wait(ctx, delay) != nil {
			return
		}
		if err := r.state.resetForRetry(name); err != nil {
			s.logger.Error("failed to requeue file", zap.String("file", name), zap.Error(err))
			return
		}
		r.sink.FileStatus(name, domain.StatusPending, nil)
	}
}

func (s *Scheduler) fail(r *run, name string, err error) {
	if serr := r.state.markFailed(name, err); serr != nil {
		s.logger.Warn("failed to mark file failed",
			zap.String("file", name),
			zap.Error(serr))
		return
	}
	r.sink.FileStatus(name, domain.StatusFailed, err)
}

// existingValid reports whether dest already holds f. Sizes must match when
// declared; hashes are checked when verification is on.
func (s *Scheduler) existingValid(r *run, f domain.FileDescriptor, dest string) (int64, bool) {
	size, err := s.fs.GetFileSize(dest)
	if err != nil {
		return 0, false
	}
	if f.SizeKnown() && size != f.Size {
		return size, false
	}
	if r.opts.VerifyChecksums && f.Source != domain.SourceMetadata {
		if _, err := checksum.VerifyFile(dest, f); err != nil {
			return size, false
		}
	}
	return size, true
}

// attempt performs one download of f into dest
func (s *Scheduler) attempt(ctx context.Context, r *run, f domain.FileDescriptor, dest string, attempt int) error {
	if !s.client.IsRateHealthy() && s.config.HealthBackoff > 0 {
		s.logger.Warn("request rate above healthy threshold, backing off",
			zap.Duration("backoff", s.config.HealthBackoff))
		if err := r.retry.Wait(ctx, s.config.HealthBackoff); err != nil {
			return err
		}
	}

	if s.space != nil {
		if err := s.space.Check(f.Size); err != nil {
			if errors.Is(err, syscall.ENOSPC) {
				return err
			}
			s.logger.Warn("failed to check disk space", zap.Error(err))
		}
	}

	server := pickServer(r.servers, attempt)
	fileURL := s.client.FileURL(r.manifest, server, f.Name)

	if err := r.state.markInProgress(f.Name, serverLabel(server, fileURL)); err != nil {
		return err
	}
	r.enter()
	defer r.leave()
	r.sink.FileStatus(f.Name, domain.StatusInProgress, nil)

	s.logger.Debug("downloading file",
		zap.String("file", f.Name),
		zap.Int("attempt", attempt),
		zap.String("url", fileURL),
		zap.Int64("size", f.Size))

	body, length, err := s.client.OpenFile(ctx, fileURL, f.Size)
	if err != nil {
		return err
	}
	defer body.Close()

	total := f.Size
	if total <= 0 && length > 0 {
		total = length
	}

	var reader io.Reader = body
	if r.limiter != nil {
		reader = &throttledReader{ctx: ctx, reader: reader, limiter: r.limiter}
	}
	reader = &progressReader{
		reader:     reader,
		name:       f.Name,
		state:      r.state,
		logger:     s.logger,
		interval:   r.opts.ProgressInterval,
		lastUpdate: time.Now(),
	}

	start := time.Now()
	tempPath, written, err := s.fs.WriteTemp(ctx, dest, reader, port.WriteOptions{
		ChunkSize: s.buffers.RecommendForFileSize(f.Size),
		OnChunk: func(n int64) {
			r.sink.FileProgress(f.Name, n, total)
		},
	})
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if total > 0 && written != total {
		s.fs.DeleteTempFile(tempPath)
		return domain.NewNetworkError("download "+f.Name, 0,
			fmt.Errorf("incomplete body: got %d of %d bytes", written, total))
	}

	if r.opts.VerifyChecksums && f.Source != domain.SourceMetadata {
		verified, err := checksum.VerifyFile(tempPath, f)
		if err != nil {
			s.fs.DeleteTempFile(tempPath)
			return err
		}
		if !verified {
			s.logger.Debug("no checksum declared, skipping verification", zap.String("file", f.Name))
		}
	}

	if err := s.fs.Commit(tempPath, dest); err != nil {
		s.fs.DeleteTempFile(tempPath)
		return err
	}

	if elapsed > 0 && written > 0 {
		s.buffers.Record(float64(written) / elapsed.Seconds())
	}

	if r.opts.PreserveMtime && f.MTime > 0 {
		if err := s.fs.SetModTime(dest, f.ModTime()); err != nil {
			s.logger.Warn("failed to set modification time",
				zap.String("file", f.Name),
				zap.Error(err))
		}
	}

	if err := r.state.markCompleted(f.Name, written); err != nil {
		return err
	}
	r.sink.FileStatus(f.Name, domain.StatusCompleted, nil)

	s.logger.Info("file downloaded",
		zap.String("file", f.Name),
		zap.Int64("size", written),
		zap.Duration("duration", elapsed),
		zap.Int("attempt", attempt))

	s.decompress(r, f.Name, dest)
	return nil
}

// decompress expands a completed file. Failures are logged and leave the
// file's status untouched.
func (s *Scheduler) decompress(r *run, name, dest string) {
	if !r.opts.AutoDecompress || s.decompressor == nil || !s.decompressor.CanDecompress(dest) {
		return
	}

	files, err := s.decompressor.Decompress(dest, filepath.Dir(dest))
	if err != nil {
		s.logger.Warn("failed to decompress file",
			zap.String("file", name),
			zap.Error(err))
		return
	}

	r.mu.Lock()
	r.extracted[name] = files
	r.mu.Unlock()

	s.logger.Info("file decompressed",
		zap.String("file", name),
		zap.Int("extracted", len(files)))
}

// pickServer rotates through the mirrors by attempt number. An empty result
// selects the archive's default download endpoint.
func pickServer(servers []string, attempt int) string {
	if len(servers) == 0 {
		return ""
	}
	return servers[(attempt-1)%len(servers)]
}

func serverLabel(server, fileURL string) string {
	if server != "" {
		return server
	}
	if u, err := url.Parse(fileURL); err == nil {
		return u.Host
	}
	return ""
}
