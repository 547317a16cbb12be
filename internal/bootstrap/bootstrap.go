// Package bootstrap wires the vidmerge components from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/vidmerge/internal/config"
	"github.com/maauso/vidmerge/internal/export"
	"github.com/maauso/vidmerge/internal/history"
	"github.com/maauso/vidmerge/internal/inspect"
	"github.com/maauso/vidmerge/internal/media"
	"github.com/maauso/vidmerge/internal/merge"
	"github.com/maauso/vidmerge/internal/metadata"
	"github.com/maauso/vidmerge/internal/storage"
	"github.com/maauso/vidmerge/internal/thumbnail"
)

// staleTempAge is how old a leftover temp file must be before startup removes it.
const staleTempAge = time.Hour

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Merges     *merge.Service
	Metadata   *metadata.Extractor
	Thumbnails *thumbnail.Generator

	closers []func(context.Context) error
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, uploader, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}
	if n, err := store.SweepTemp(context.Background(), staleTempAge); err != nil {
		logger.Warn("temp sweep failed", slog.String("error", err.Error()))
	} else if n > 0 {
		logger.Info("removed stale temp files", slog.Int("count", n))
	}

	ff := media.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath)
	inspector := inspect.NewFallbackInspector(logger,
		inspect.NewBoxInspector(nil),
		inspect.NewProbeInspector(ff, nil),
	)

	backend, err := newBackend(cfg, ff, store, logger)
	if err != nil {
		return nil, err
	}

	repo, closeRepo, err := initHistory(cfg, logger)
	if err != nil {
		return nil, err
	}

	orch := merge.NewOrchestrator(backend, inspector, cfg.OutputDir, logger)
	svc := merge.NewService(orch, repo, uploader, logger)

	deps := &Dependencies{
		Merges:   svc,
		Metadata: metadata.NewExtractor(inspector, metadata.WithWorkers(cfg.MetadataWorkers), metadata.WithLogger(logger)),
		Thumbnails: thumbnail.NewGenerator(ff, nil, thumbnail.Config{
			CacheDir: cfg.ThumbnailDir,
			Quality:  cfg.ThumbnailQuality,
			MaxWidth: cfg.ThumbnailMaxWidth,
		}, logger),
	}
	deps.closers = append(deps.closers, svc.Close)
	if closeRepo != nil {
		deps.closers = append(deps.closers, func(context.Context) error { return closeRepo() })
	}

	logger.Info("merge pipeline configured",
		slog.String("backend", backend.Name()),
		slog.String("output_dir", cfg.OutputDir),
	)
	return deps, nil
}

// Close stops running merges and releases the history store.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	for _, c := range d.closers {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newBackend(cfg *config.Config, ff *media.FFmpeg, temp export.TempStore, logger *slog.Logger) (export.Backend, error) {
	poller := export.NewPoller(cfg.ProgressInterval)

	switch cfg.MergeBackend {
	case export.BackendComposition, "":
		return export.NewCompositionBackend(export.NewFFmpegSession(ff, nil, logger), poller, logger), nil
	case export.BackendMux:
		return export.NewMuxBackend(nil, logger), nil
	case export.BackendProcess:
		return export.NewProcessBackend(ff, temp, poller, logger), nil
	default:
		return nil, fmt.Errorf("unknown merge backend %q", cfg.MergeBackend)
	}
}

// initHistory opens the SQLite history when HISTORY_DB is set and keeps it
// in memory otherwise. The returned close func is nil for memory.
func initHistory(cfg *config.Config, logger *slog.Logger) (history.Repository, func() error, error) {
	if cfg.HistoryDB == "" {
		logger.Info("merge history kept in memory")
		return history.NewMemoryRepository(), nil, nil
	}
	repo, err := history.OpenSQLite(cfg.HistoryDB, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open merge history: %w", err)
	}
	logger.Info("merge history configured", slog.String("path", cfg.HistoryDB))
	return repo, repo.Close, nil
}

// initStorage creates the temp store and, when S3 is configured, the uploader.
func initStorage(cfg *config.Config, logger *slog.Logger) (*storage.LocalStorage, merge.Uploader, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Prefix:          "merges",
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store.LocalStorage, s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil, nil
}
