package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/archive-fetch/internal/adapter/archive"
	"github.com/vertextoedge/archive-fetch/internal/adapter/decompress"
	"github.com/vertextoedge/archive-fetch/internal/adapter/filesystem"
	"github.com/vertextoedge/archive-fetch/internal/adapter/sessionfile"
	"github.com/vertextoedge/archive-fetch/internal/adapter/sqlite"
	"github.com/vertextoedge/archive-fetch/internal/config"
	"github.com/vertextoedge/archive-fetch/internal/domain"
	"github.com/vertextoedge/archive-fetch/internal/domain/service"
	"github.com/vertextoedge/archive-fetch/internal/logger"
	"github.com/vertextoedge/archive-fetch/internal/port"
	"github.com/vertextoedge/archive-fetch/internal/progress"
	"github.com/vertextoedge/archive-fetch/internal/service/downloader"
	"github.com/vertextoedge/archive-fetch/internal/service/maintenance"
	"github.com/vertextoedge/archive-fetch/internal/util/buffer"
)

const version = "0.1.0"

// Exit codes
const (
	exitOK        = 0
	exitFailed    = 1
	exitUsage     = 2
	exitCancelled = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	files := flag.String("files", "", "Comma separated file names to download (default: all matching files)")
	outputDir := flag.String("output", "", "Output directory (overrides download.output_dir)")
	concurrency := flag.Int("concurrency", 0, "Concurrent downloads, 1-10 (overrides download.concurrency)")
	include := flag.String("include", "", "Comma separated extensions to include")
	exclude := flag.String("exclude", "", "Comma separated extensions to exclude")
	noColour := flag.Bool("no-color", false, "Disable coloured output")
	history := flag.Int("history", 0, "Show the N most recent runs and exit")
	cleanup := flag.Bool("cleanup", false, "Remove stale temp files, sessions and history, then exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <identifier or URL>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println("archive-fetch", version)
		return exitOK
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitUsage
	}
	if *outputDir != "" {
		cfg.Download.OutputDir = *outputDir
	}

	// Initialize logger
	zapLogger, err := logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return exitUsage
	}
	defer logger.Sync()

	colours := !*noColour

	// Open download history
	var store *sqlite.Store
	if cfg.Database.Path != "" {
		store, err = sqlite.Open(cfg.Database.Path)
		if err != nil {
			zapLogger.Error("failed to open database", zap.Error(err), zap.String("path", cfg.Database.Path))
			return exitFailed
		}
		defer store.Close()
	}

	// Create context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *history > 0 {
		return showHistory(ctx, store, flag.Arg(0), *history, colours)
	}

	// Initialize filesystem manager
	fsManager, err := filesystem.NewManagerWithBufferSize(cfg.Download.OutputDir, cfg.Buffer.GetInitialSize())
	if err != nil {
		zapLogger.Error("failed to create filesystem manager", zap.Error(err))
		return exitFailed
	}

	sessions, err := sessionfile.NewStore(cfg.Download.GetSessionDir())
	if err != nil {
		zapLogger.Error("failed to open session directory", zap.Error(err))
		return exitFailed
	}

	// Create maintenance service
	maintenanceCfg := &maintenance.Config{
		TempFileMaxAge: cfg.Maintenance.GetTempFileMaxAge(),
		SessionMaxAge:  cfg.Maintenance.GetSessionMaxAge(),
		HistoryMaxAge:  cfg.Maintenance.GetHistoryMaxAge(),
	}
	// A nil *sqlite.Store must not reach the interface as a typed nil
	var historyRepo port.HistoryRepository
	if store != nil {
		historyRepo = store
	}
	maintenanceService := maintenance.New(maintenanceCfg, fsManager, sessions, historyRepo, zapLogger)

	if *cleanup {
		report := maintenanceService.RunOnce(ctx)
		fmt.Printf("removed %d temp files, %d sessions, %d history runs\n",
			report.TempFiles, report.Sessions, report.HistoryRuns)
		return exitOK
	}

	if flag.NArg() != 1 {
		flag.Usage()
		return exitUsage
	}
	input := flag.Arg(0)

	identifier, err := archive.ParseIdentifier(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitUsage
	}

	zapLogger.Info("starting archive-fetch",
		zap.String("version", version),
		zap.String("identifier", identifier),
		zap.String("output", cfg.Download.OutputDir),
	)

	// Create archive client
	client := archive.NewClient(&archive.Config{
		BaseURL:              cfg.Archive.BaseURL,
		UserAgent:            cfg.Archive.UserAgent,
		MinRequestDelay:      cfg.Archive.GetMinRequestDelay(),
		DefaultRetryAfter:    cfg.Archive.GetDefaultRetryAfter(),
		MaxRequestsPerMinute: cfg.Archive.MaxRequestsPerMinute,
		BaseTimeout:          cfg.HTTP.GetBaseTimeout(),
		MaxTimeout:           cfg.HTTP.GetMaxTimeout(),
		MaxIdleConnsPerHost:  cfg.HTTP.MaxIdleConnsPerHost,
		MetadataRetry: service.NewRetryPolicy(
			cfg.Archive.MetadataMaxAttempts,
			cfg.Download.GetInitialBackoff(),
			cfg.Download.GetMaxBackoff(),
		),
	}, zapLogger)

	manifest, err := client.FetchManifest(ctx, identifier)
	if err != nil {
		if ctx.Err() != nil {
			return exitCancelled
		}
		zapLogger.Error("failed to fetch manifest", zap.String("identifier", identifier), zap.Error(err))
		return exitFailed
	}

	opts := buildOptions(cfg, *concurrency, *include, *exclude)
	var requested []string
	if *files != "" {
		requested = splitList(*files)
	}
	selected := domain.SelectFiles(manifest, requested, opts.Filter)

	buffers := buffer.New(buffer.Config{
		InitialSize: cfg.Buffer.GetInitialSize(),
		MinSize:     cfg.Buffer.GetMinSize(),
		MaxSize:     cfg.Buffer.GetMaxSize(),
		HistorySize: buffer.DefaultHistorySize,
	})

	scheduler := downloader.New(&downloader.Config{
		HealthBackoff: cfg.Archive.GetHealthBackoff(),
		MinFreeBytes:  uint64(cfg.Download.GetMinFreeSpace()),
	}, client, fsManager, sessions, buffers, zapLogger)
	if store != nil {
		scheduler.SetHistory(store)
	}
	if opts.AutoDecompress {
		d, err := decompress.New(opts.DecompressFormats, zapLogger)
		if err != nil {
			zapLogger.Error("invalid decompression formats", zap.Error(err))
			return exitUsage
		}
		scheduler.SetDecompressor(d)
	}

	reporter := progress.NewReporter(progress.Options{
		Identifier:     identifier,
		TotalFiles:     len(selected),
		TotalSize:      totalSize(selected),
		Output:         os.Stdout,
		UpdateInterval: time.Second,
		Colours:        colours,
	})
	reporter.Start()

	result, err := scheduler.Run(ctx, downloader.Request{
		OriginalInput: input,
		Manifest:      manifest,
		Files:         requested,
		Options:       opts,
		Progress:      progress.Multi{reporter, progress.NewLogSink(zapLogger, opts.ProgressInterval)},
	})
	reporter.Stop()
	if err != nil {
		zapLogger.Error("download run rejected", zap.Error(err))
		return exitUsage
	}

	fmt.Println()
	progress.WriteSummary(os.Stdout, result, colours)

	// Opportunistic cleanup after the run; failures only log
	maintenanceService.RunOnce(context.Background())

	switch {
	case result.Cancelled:
		zapLogger.Info("download cancelled, resume by running the same command again",
			zap.String("session", result.SessionPath))
		return exitCancelled
	case !result.Success():
		zapLogger.Warn("some files failed",
			zap.Int("failed", len(result.Failed())),
			zap.String("session", result.SessionPath))
		return exitFailed
	}
	return exitOK
}

// buildOptions maps configuration and flag overrides onto scheduler options
func buildOptions(cfg *config.Config, concurrency int, include, exclude string) downloader.Options {
	opts := downloader.DefaultOptions()
	d := cfg.Download

	opts.Concurrency = d.Concurrency
	if concurrency > 0 {
		opts.Concurrency = concurrency
	}
	opts.Filter = domain.FileFilter{
		IncludeExtensions: d.IncludeExt,
		ExcludeExtensions: d.ExcludeExt,
		Formats:           d.Formats,
		Sources:           d.GetSources(),
		MinSize:           d.GetMinFileSize(),
		MaxSize:           d.GetMaxFileSize(),
	}
	if include != "" {
		opts.Filter.IncludeExtensions = domain.ParseExtensionList(include)
	}
	if exclude != "" {
		opts.Filter.ExcludeExtensions = domain.ParseExtensionList(exclude)
	}
	opts.VerifyChecksums = d.VerifyChecksums
	opts.AutoDecompress = d.AutoDecompress
	opts.DecompressFormats = d.DecompressFormats
	opts.PreserveMtime = d.PreserveMtime
	opts.Resume = d.Resume
	opts.MaxAttempts = d.MaxAttempts
	opts.InitialBackoff = d.GetInitialBackoff()
	opts.MaxBackoff = d.GetMaxBackoff()
	opts.ProgressInterval = d.GetProgressInterval()
	opts.MaxBytesPerSecond = d.GetMaxBytesPerSecond()
	return opts
}

func showHistory(ctx context.Context, store *sqlite.Store, input string, limit int, colours bool) int {
	if store == nil {
		fmt.Fprintln(os.Stderr, "download history is disabled; set database.path")
		return exitUsage
	}

	identifier := ""
	if input != "" {
		id, err := archive.ParseIdentifier(input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return exitUsage
		}
		identifier = id
	}

	runs, err := store.ListRecent(ctx, identifier, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list runs: %v\n", err)
		return exitFailed
	}
	stats, err := store.GetStats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load history stats: %v\n", err)
		return exitFailed
	}

	progress.WriteHistory(os.Stdout, runs, stats, colours)
	return exitOK
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func totalSize(files []domain.FileDescriptor) int64 {
	var total int64
	for _, f := range files {
		if f.SizeKnown() {
			total += f.Size
		}
	}
	return total
}
