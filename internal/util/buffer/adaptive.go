package buffer

import "sync"

// Default sizing bounds
const (
	DefaultInitialSize = 64 * 1024
	DefaultMinSize     = 8 * 1024
	DefaultMaxSize     = 1024 * 1024
	DefaultHistorySize = 10

	smallFileThreshold = 1024 * 1024
	largeFileThreshold = 100 * 1024 * 1024

	// bestPerformerMargin is how much better a historical size must have
	// performed than the recent average before it is adopted again.
	bestPerformerMargin = 1.1
)

// Sample is one observation of throughput at a buffer size.
type Sample struct {
	Size       int
	Throughput float64 // bytes per second
}

// Config holds the sizing bounds.
type Config struct {
	InitialSize int
	MinSize     int
	MaxSize     int
	HistorySize int
}

// DefaultConfig returns the default sizing bounds.
func DefaultConfig() Config {
	return Config{
		InitialSize: DefaultInitialSize,
		MinSize:     DefaultMinSize,
		MaxSize:     DefaultMaxSize,
		HistorySize: DefaultHistorySize,
	}
}

// Manager picks the I/O chunk size for downloads from observed throughput.
// It is shared by all concurrent downloads.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	current int
	history []Sample
}

// New creates a Manager. Zero fields in cfg fall back to defaults and
// the initial size is clamped into [MinSize, MaxSize].
func New(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.MinSize <= 0 {
		cfg.MinSize = def.MinSize
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.MaxSize < cfg.MinSize {
		cfg.MaxSize = cfg.MinSize
	}
	if cfg.InitialSize <= 0 {
		cfg.InitialSize = def.InitialSize
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}

	return &Manager{
		cfg:     cfg,
		current: clamp(cfg.InitialSize, cfg.MinSize, cfg.MaxSize),
	}
}

// CurrentSize returns the current recommendation.
func (m *Manager) CurrentSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History returns a copy of the recorded samples, oldest first.
func (m *Manager) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.history))
	copy(out, m.history)
	return out
}

// Record stores a throughput observation for the current size and adjusts
// the recommendation.
func (m *Manager) Record(throughput float64) {
	if throughput <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, Sample{Size: m.current, Throughput: throughput})
	if len(m.history) > m.cfg.HistorySize {
		m.history = m.history[len(m.history)-m.cfg.HistorySize:]
	}
	m.adjust()
}

// adjust applies the sizing policy. Callers hold m.mu.
func (m *Manager) adjust() {
	if len(m.history) < 3 {
		return
	}

	recent := m.history[len(m.history)-3:]
	increasing := recent[0].Throughput < recent[1].Throughput && recent[1].Throughput < recent[2].Throughput
	decreasing := recent[0].Throughput > recent[1].Throughput && recent[1].Throughput > recent[2].Throughput

	switch {
	case increasing && m.current < m.cfg.MaxSize:
		m.current = min(m.current*2, m.cfg.MaxSize)
	case decreasing && m.current > m.cfg.MinSize:
		m.current = max(m.current/2, m.cfg.MinSize)
	case len(m.history) >= 5:
		best := m.history[0]
		for _, s := range m.history[1:] {
			if s.Throughput > best.Throughput {
				best = s
			}
		}
		avg := (recent[0].Throughput + recent[1].Throughput + recent[2].Throughput) / 3
		if best.Throughput > avg*bestPerformerMargin {
			m.current = clamp(best.Size, m.cfg.MinSize, m.cfg.MaxSize)
		}
	}
}

// RecommendForFileSize returns the chunk size to use for a file.
// Small files get half the current size, very large files get the maximum.
// A size of 0 means unknown and yields the current size.
func (m *Manager) RecommendForFileSize(size int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case size <= 0:
		return m.current
	case size < smallFileThreshold:
		return max(m.current/2, m.cfg.MinSize)
	case size > largeFileThreshold:
		return m.cfg.MaxSize
	default:
		return m.current
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
