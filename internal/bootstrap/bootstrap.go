// Package bootstrap wires the highlight reel dependencies from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maauso/highlight-reel/internal/clip"
	"github.com/maauso/highlight-reel/internal/config"
	"github.com/maauso/highlight-reel/internal/decode"
	"github.com/maauso/highlight-reel/internal/delivery"
	"github.com/maauso/highlight-reel/internal/encode"
	"github.com/maauso/highlight-reel/internal/job"
	"github.com/maauso/highlight-reel/internal/render"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	RenderService *job.RenderService
	Catalog       *clip.Catalog
}

// Close releases resources held by the dependencies.
func (d *Dependencies) Close() error {
	if d.Catalog == nil {
		return nil
	}
	return d.Catalog.Close()
}

// NewDependencies creates and initializes all dependencies for the server.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	renderer, err := NewRenderer(cfg, logger)
	if err != nil {
		return nil, err
	}

	saver, err := NewSaver(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	catalog, err := clip.OpenCatalog(cfg.CatalogPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open clip catalog: %w", err)
	}
	logger.Info("clip catalog opened", slog.String("path", cfg.CatalogPath))

	svc := job.NewRenderService(
		job.NewMemoryRepository(),
		catalog,
		renderer,
		saver,
		logger,
		job.WithMaxConcurrentRenders(cfg.MaxConcurrentRenders),
		job.WithProgressInterval(cfg.ProgressInterval()),
	)

	return &Dependencies{
		RenderService: svc,
		Catalog:       catalog,
	}, nil
}

// NewRenderer builds the compositor on ffprobe, Vidio and ffmpeg.
func NewRenderer(cfg *config.Config, logger *slog.Logger) (*render.Renderer, error) {
	mode, err := cfg.ParsedAudioMode()
	if err != nil {
		return nil, err
	}

	encoders := encode.NewFFmpegFactory(
		encode.WithFFmpegPath(cfg.FFmpegPath),
		encode.WithTempDir(cfg.TempDir),
		encode.WithLogger(logger),
	)

	return render.New(
		decode.NewFFprobeProber(cfg.FFprobePath),
		decode.NewVidioOpener(),
		encoders,
		render.WithFPS(cfg.OutputFPS),
		render.WithOutputSize(cfg.OutputWidth, cfg.OutputHeight),
		render.WithPrefetchMargin(cfg.PrefetchMargin()),
		render.WithAudioMode(mode),
		render.WithProgressInterval(cfg.ProgressInterval()),
		render.WithLogger(logger),
	), nil
}

// NewSaver picks S3 delivery when a bucket is configured and the local
// output directory otherwise.
func NewSaver(ctx context.Context, cfg *config.Config, logger *slog.Logger) (delivery.Saver, error) {
	if cfg.S3Enabled() {
		s3Saver, err := delivery.NewS3Saver(ctx, delivery.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Prefix:          cfg.S3Prefix,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 saver: %w", err)
		}
		logger.Info("S3 delivery configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Saver, nil
	}

	local, err := delivery.NewLocalSaver(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("create local saver: %w", err)
	}
	logger.Info("local delivery configured", slog.String("output_dir", local.Dir()))
	return local, nil
}
