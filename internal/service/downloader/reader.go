package downloader

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// throttleBurst bounds a single read so WaitN never exceeds the limiter burst
const throttleBurst = 1024 * 1024

// progressReader wraps a reader to persist download progress
type progressReader struct {
	reader     io.Reader
	name       string
	state      *sessionState
	logger     *zap.Logger
	bytesRead  int64
	interval   time.Duration
	lastUpdate time.Time
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.bytesRead += int64(n)

	// Periodically update progress
	if time.Since(r.lastUpdate) >= r.interval {
		if uerr := r.state.updateBytes(r.name, r.bytesRead); uerr != nil {
			r.logger.Debug("failed to update progress",
				zap.String("file", r.name),
				zap.Error(uerr))
		}
		r.lastUpdate = time.Now()
	}

	return n, err
}

// throttledReader paces reads through a shared bandwidth limiter
type throttledReader struct {
	ctx     context.Context
	reader  io.Reader
	limiter *rate.Limiter
}

func newBandwidthLimiter(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), throttleBurst)
}

func (r *throttledReader) Read(p []byte) (int, error) {
	if len(p) > throttleBurst {
		p = p[:throttleBurst]
	}
	n, err := r.reader.Read(p)
	if n > 0 {
		if werr := r.limiter.WaitN(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
