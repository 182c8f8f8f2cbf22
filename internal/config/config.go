package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/vertextoedge/archive-fetch/internal/domain"
)

// EnvPrefix prefixes environment overrides, e.g. ARCHIVE_FETCH_DOWNLOAD_CONCURRENCY
const EnvPrefix = "ARCHIVE_FETCH"

// Config represents the entire application configuration
type Config struct {
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Download    DownloadConfig    `mapstructure:"download"`
	Buffer      BufferConfig      `mapstructure:"buffer"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ArchiveConfig contains archive API politeness settings
type ArchiveConfig struct {
	BaseURL              string  `mapstructure:"base_url"`
	UserAgent            string  `mapstructure:"user_agent"`
	MinRequestDelay      string  `mapstructure:"min_request_delay"`
	DefaultRetryAfter    string  `mapstructure:"default_retry_after"`
	MaxRequestsPerMinute float64 `mapstructure:"max_requests_per_minute"`
	HealthBackoff        string  `mapstructure:"health_backoff"`
	MetadataMaxAttempts  int     `mapstructure:"metadata_max_attempts"`
}

// DownloadConfig contains per-run download settings
type DownloadConfig struct {
	OutputDir         string   `mapstructure:"output_dir"`
	SessionDir        string   `mapstructure:"session_dir"`
	Concurrency       int      `mapstructure:"concurrency"`
	IncludeExt        []string `mapstructure:"include_ext"`
	ExcludeExt        []string `mapstructure:"exclude_ext"`
	Formats           []string `mapstructure:"formats"`
	Sources           []string `mapstructure:"sources"`
	MinFileSize       string   `mapstructure:"min_file_size"`
	MaxFileSize       string   `mapstructure:"max_file_size"`
	MinFreeSpace      string   `mapstructure:"min_free_space"`
	VerifyChecksums   bool     `mapstructure:"verify_checksums"`
	AutoDecompress    bool     `mapstructure:"auto_decompress"`
	DecompressFormats []string `mapstructure:"decompress_formats"`
	PreserveMtime     bool     `mapstructure:"preserve_mtime"`
	Resume            bool     `mapstructure:"resume"`
	MaxAttempts       int      `mapstructure:"max_attempts"`
	InitialBackoff    string   `mapstructure:"initial_backoff"`
	MaxBackoff        string   `mapstructure:"max_backoff"`
	ProgressInterval  string   `mapstructure:"progress_interval"`
	MaxBytesPerSecond string   `mapstructure:"max_bytes_per_second"`
}

// BufferConfig contains adaptive chunk size bounds
type BufferConfig struct {
	InitialSize string `mapstructure:"initial_size"`
	MinSize     string `mapstructure:"min_size"`
	MaxSize     string `mapstructure:"max_size"`
}

// HTTPConfig contains HTTP client settings
type HTTPConfig struct {
	BaseTimeout         string `mapstructure:"base_timeout"`
	MaxTimeout          string `mapstructure:"max_timeout"`
	MaxIdleConnsPerHost int    `mapstructure:"max_idle_conns_per_host"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig contains download history settings. An empty path disables history.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// MaintenanceConfig contains cleanup settings
type MaintenanceConfig struct {
	TempFileMaxAge string `mapstructure:"temp_file_max_age"`
	SessionMaxAge  string `mapstructure:"session_max_age"`
	HistoryMaxAge  string `mapstructure:"history_max_age"`
}

// Load loads configuration from the specified file path. An empty path uses
// defaults and environment overrides only. A .env file in the working
// directory is loaded first when present.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("archive.base_url", "https://archive.org")
	v.SetDefault("archive.user_agent", "")
	v.SetDefault("archive.min_request_delay", "250ms")
	v.SetDefault("archive.default_retry_after", "60s")
	v.SetDefault("archive.max_requests_per_minute", 30)
	v.SetDefault("archive.health_backoff", "5s")
	v.SetDefault("archive.metadata_max_attempts", 5)
	v.SetDefault("download.output_dir", "downloads")
	v.SetDefault("download.session_dir", "")
	v.SetDefault("download.concurrency", 3)
	v.SetDefault("download.include_ext", []string{})
	v.SetDefault("download.exclude_ext", []string{})
	v.SetDefault("download.formats", []string{})
	v.SetDefault("download.sources", []string{})
	v.SetDefault("download.min_file_size", "")
	v.SetDefault("download.max_file_size", "")
	v.SetDefault("download.min_free_space", "100MiB")
	v.SetDefault("download.verify_checksums", true)
	v.SetDefault("download.auto_decompress", false)
	v.SetDefault("download.decompress_formats", []string{})
	v.SetDefault("download.preserve_mtime", false)
	v.SetDefault("download.resume", true)
	v.SetDefault("download.max_attempts", 3)
	v.SetDefault("download.initial_backoff", "30s")
	v.SetDefault("download.max_backoff", "600s")
	v.SetDefault("download.progress_interval", "10s")
	v.SetDefault("download.max_bytes_per_second", "")
	v.SetDefault("buffer.initial_size", "64KiB")
	v.SetDefault("buffer.min_size", "8KiB")
	v.SetDefault("buffer.max_size", "1MiB")
	v.SetDefault("http.base_timeout", "60s")
	v.SetDefault("http.max_timeout", "600s")
	v.SetDefault("http.max_idle_conns_per_host", 10)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("database.path", "")
	v.SetDefault("maintenance.temp_file_max_age", "24h")
	v.SetDefault("maintenance.session_max_age", "720h")
	v.SetDefault("maintenance.history_max_age", "2160h")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate archive config
	if c.Archive.BaseURL == "" {
		return errors.New("archive.base_url is required")
	}
	if c.Archive.MaxRequestsPerMinute <= 0 {
		return errors.New("archive.max_requests_per_minute must be positive")
	}
	if c.Archive.MetadataMaxAttempts < 1 {
		return errors.New("archive.metadata_max_attempts must be at least 1")
	}

	// Validate download config
	if c.Download.OutputDir == "" {
		return errors.New("download.output_dir is required")
	}
	if c.Download.Concurrency < 1 || c.Download.Concurrency > 10 {
		return errors.New("download.concurrency must be between 1 and 10")
	}
	if c.Download.MaxAttempts < 1 || c.Download.MaxAttempts > 20 {
		return errors.New("download.max_attempts must be between 1 and 20")
	}
	for _, s := range c.Download.Sources {
		switch domain.Source(strings.ToLower(s)) {
		case domain.SourceOriginal, domain.SourceDerivative, domain.SourceMetadata:
		default:
			return fmt.Errorf("invalid download.sources entry: %s", s)
		}
	}

	// Validate durations
	durations := map[string]string{
		"archive.min_request_delay":     c.Archive.MinRequestDelay,
		"archive.default_retry_after":   c.Archive.DefaultRetryAfter,
		"archive.health_backoff":        c.Archive.HealthBackoff,
		"download.initial_backoff":      c.Download.InitialBackoff,
		"download.max_backoff":          c.Download.MaxBackoff,
		"download.progress_interval":    c.Download.ProgressInterval,
		"http.base_timeout":             c.HTTP.BaseTimeout,
		"http.max_timeout":              c.HTTP.MaxTimeout,
		"maintenance.temp_file_max_age": c.Maintenance.TempFileMaxAge,
		"maintenance.session_max_age":   c.Maintenance.SessionMaxAge,
		"maintenance.history_max_age":   c.Maintenance.HistoryMaxAge,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	if c.Download.GetMaxBackoff() < c.Download.GetInitialBackoff() {
		return errors.New("download.max_backoff must not be less than download.initial_backoff")
	}

	// Validate sizes
	sizes := map[string]string{
		"download.min_file_size":        c.Download.MinFileSize,
		"download.max_file_size":        c.Download.MaxFileSize,
		"download.min_free_space":       c.Download.MinFreeSpace,
		"download.max_bytes_per_second": c.Download.MaxBytesPerSecond,
		"buffer.initial_size":           c.Buffer.InitialSize,
		"buffer.min_size":               c.Buffer.MinSize,
		"buffer.max_size":               c.Buffer.MaxSize,
	}
	for key, value := range sizes {
		if _, err := domain.ParseByteSize(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	if maxSize := c.Download.GetMaxFileSize(); maxSize > 0 && c.Download.GetMinFileSize() > maxSize {
		return errors.New("download.min_file_size exceeds download.max_file_size")
	}
	if c.Buffer.GetMinSize() > c.Buffer.GetMaxSize() {
		return errors.New("buffer.min_size exceeds buffer.max_size")
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func sizeOr(s string, fallback int64) int64 {
	n, err := domain.ParseByteSize(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n.Bytes()
}

// GetMinRequestDelay returns the minimum spacing between requests. Zero is allowed.
func (c *ArchiveConfig) GetMinRequestDelay() time.Duration {
	d, err := time.ParseDuration(c.MinRequestDelay)
	if err != nil || d < 0 {
		return 250 * time.Millisecond
	}
	return d
}

// GetDefaultRetryAfter returns the wait used when a 429 carries no Retry-After
func (c *ArchiveConfig) GetDefaultRetryAfter() time.Duration {
	return durationOr(c.DefaultRetryAfter, 60*time.Second)
}

// GetHealthBackoff returns the pause taken while the request rate is unhealthy
func (c *ArchiveConfig) GetHealthBackoff() time.Duration {
	return durationOr(c.HealthBackoff, 5*time.Second)
}

// GetInitialBackoff returns the first retry delay
func (c *DownloadConfig) GetInitialBackoff() time.Duration {
	return durationOr(c.InitialBackoff, 30*time.Second)
}

// GetMaxBackoff returns the retry delay ceiling
func (c *DownloadConfig) GetMaxBackoff() time.Duration {
	return durationOr(c.MaxBackoff, 600*time.Second)
}

// GetProgressInterval returns how often mid-stream progress is persisted
func (c *DownloadConfig) GetProgressInterval() time.Duration {
	return durationOr(c.ProgressInterval, 10*time.Second)
}

// GetMinFileSize returns the lower size bound in bytes, 0 when unset
func (c *DownloadConfig) GetMinFileSize() int64 {
	return sizeOr(c.MinFileSize, 0)
}

// GetMaxFileSize returns the upper size bound in bytes, 0 when unset
func (c *DownloadConfig) GetMaxFileSize() int64 {
	return sizeOr(c.MaxFileSize, 0)
}

// GetMinFreeSpace returns the free space kept in reserve on the output disk
func (c *DownloadConfig) GetMinFreeSpace() int64 {
	return sizeOr(c.MinFreeSpace, 0)
}

// GetMaxBytesPerSecond returns the bandwidth cap, 0 when unlimited
func (c *DownloadConfig) GetMaxBytesPerSecond() int64 {
	return sizeOr(c.MaxBytesPerSecond, 0)
}

// GetSources returns the configured source categories
func (c *DownloadConfig) GetSources() []domain.Source {
	sources := make([]domain.Source, 0, len(c.Sources))
	for _, s := range c.Sources {
		sources = append(sources, domain.Source(strings.ToLower(s)))
	}
	return sources
}

// GetSessionDir returns the session directory, defaulting to the output directory
func (c *DownloadConfig) GetSessionDir() string {
	if c.SessionDir == "" {
		return c.OutputDir
	}
	return c.SessionDir
}

// GetInitialSize returns the starting chunk size in bytes
func (c *BufferConfig) GetInitialSize() int {
	return int(sizeOr(c.InitialSize, 64*1024))
}

// GetMinSize returns the smallest chunk size in bytes
func (c *BufferConfig) GetMinSize() int {
	return int(sizeOr(c.MinSize, 8*1024))
}

// GetMaxSize returns the largest chunk size in bytes
func (c *BufferConfig) GetMaxSize() int {
	return int(sizeOr(c.MaxSize, 1024*1024))
}

// GetBaseTimeout returns the request timeout floor
func (c *HTTPConfig) GetBaseTimeout() time.Duration {
	return durationOr(c.BaseTimeout, 60*time.Second)
}

// GetMaxTimeout returns the request timeout ceiling
func (c *HTTPConfig) GetMaxTimeout() time.Duration {
	return durationOr(c.MaxTimeout, 600*time.Second)
}

// GetTempFileMaxAge returns the age after which temp files are removed
func (c *MaintenanceConfig) GetTempFileMaxAge() time.Duration {
	return durationOr(c.TempFileMaxAge, 24*time.Hour)
}

// GetSessionMaxAge returns the age after which session files are removed
func (c *MaintenanceConfig) GetSessionMaxAge() time.Duration {
	return durationOr(c.SessionMaxAge, 30*24*time.Hour)
}

// GetHistoryMaxAge returns the age after which history rows are removed
func (c *MaintenanceConfig) GetHistoryMaxAge() time.Duration {
	return durationOr(c.HistoryMaxAge, 90*24*time.Hour)
}
