package downloader

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vertextoedge/archive-fetch/internal/domain"
	"github.com/vertextoedge/archive-fetch/internal/domain/service"
)

// Options controls one scheduler run
type Options struct {
	Concurrency int `validate:"min=1,max=10"`
	Filter      domain.FileFilter

	VerifyChecksums   bool
	AutoDecompress    bool
	DecompressFormats []string
	PreserveMtime     bool
	Resume            bool

	MaxAttempts    int           `validate:"min=1,max=20"`
	InitialBackoff time.Duration `validate:"gt=0"`
	MaxBackoff     time.Duration `validate:"gtefield=InitialBackoff"`

	// ProgressInterval is how often bytes_downloaded is persisted mid-stream
	ProgressInterval time.Duration `validate:"gt=0"`

	// MaxBytesPerSecond caps aggregate download bandwidth; 0 disables the cap
	MaxBytesPerSecond int64 `validate:"gte=0"`
}

// DefaultOptions returns the default run options
func DefaultOptions() Options {
	return Options{
		Concurrency:      3,
		VerifyChecksums:  true,
		Resume:           true,
		MaxAttempts:      service.DefaultMaxAttempts,
		InitialBackoff:   service.DefaultInitialBackoff,
		MaxBackoff:       service.DefaultMaxBackoff,
		ProgressInterval: 10 * time.Second,
	}
}

var validate = validator.New()

// Validate checks the options, returning an InvalidInput error
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return domain.NewInvalidInputError("validate options", err)
	}
	if o.Filter.MinSize < 0 || o.Filter.MaxSize < 0 {
		return domain.NewInvalidInputError("validate options", fmt.Errorf("file size bounds must not be negative"))
	}
	if o.Filter.MaxSize > 0 && o.Filter.MinSize > o.Filter.MaxSize {
		return domain.NewInvalidInputError("validate options",
			fmt.Errorf("min file size %d exceeds max file size %d", o.Filter.MinSize, o.Filter.MaxSize))
	}
	return nil
}

// sessionConfig records the options in the form persisted with the session
func (o Options) sessionConfig(outputDir string) domain.SessionConfig {
	return domain.SessionConfig{
		OutputDir:         outputDir,
		Concurrency:       o.Concurrency,
		IncludeExtensions: o.Filter.IncludeExtensions,
		ExcludeExtensions: o.Filter.ExcludeExtensions,
		Formats:           o.Filter.Formats,
		Sources:           o.Filter.Sources,
		MinFileSize:       o.Filter.MinSize,
		MaxFileSize:       o.Filter.MaxSize,
		VerifyChecksums:   o.VerifyChecksums,
		AutoDecompress:    o.AutoDecompress,
		DecompressFormats: o.DecompressFormats,
		PreserveMtime:     o.PreserveMtime,
	}
}
