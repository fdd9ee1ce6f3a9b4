// Command reel renders one highlight reel from a YAML recipe without running
// the API server.
//
// Usage:
//
//	reel -recipe reel.yaml [-out DIR] [-fps 30] [-size 1280x720] [-audio crossfade]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maauso/highlight-reel/internal/bootstrap"
	"github.com/maauso/highlight-reel/internal/config"
	"github.com/maauso/highlight-reel/internal/progress"
	"github.com/maauso/highlight-reel/internal/recipe"
	"github.com/maauso/highlight-reel/internal/render"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	recipePath := flag.String("recipe", "", "path to the reel recipe (YAML)")
	outDir := flag.String("out", "", "output directory (overrides OUTPUT_DIR)")
	fps := flag.Float64("fps", 0, "output frame rate (overrides recipe and OUTPUT_FPS)")
	size := flag.String("size", "", "output size WxH (overrides recipe and OUTPUT_WIDTH/HEIGHT)")
	audio := flag.String("audio", "", "audio mode: midpoint or crossfade")
	quiet := flag.Bool("quiet", false, "do not print progress")
	flag.Parse()

	if *recipePath == "" {
		flag.Usage()
		return fmt.Errorf("-recipe is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLogger()

	rec, err := recipe.Load(*recipePath)
	if err != nil {
		return err
	}
	seams, err := rec.Seams()
	if err != nil {
		return err
	}

	applyRecipe(cfg, rec)
	if err := applyFlags(cfg, *outDir, *fps, *size, *audio); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	renderer, err := bootstrap.NewRenderer(cfg, logger)
	if err != nil {
		return err
	}
	saver, err := bootstrap.NewSaver(ctx, cfg, logger)
	if err != nil {
		return err
	}

	req := render.Request{
		PlayerID: rec.PlayerID,
		Clips:    rec.Descriptors(),
		Seams:    seams,
	}
	if !*quiet {
		req.Observer = printProgress
	}

	logger.Info("rendering reel",
		slog.String("recipe", *recipePath),
		slog.String("player_id", rec.PlayerID),
		slog.Int("clips", len(req.Clips)),
	)

	out, err := renderer.Render(ctx, req)
	if err != nil {
		if at := render.TimestampOf(err); at >= 0 {
			return fmt.Errorf("%s at %.2fs: %w", render.KindOf(err), at, err)
		}
		return fmt.Errorf("%s: %w", render.KindOf(err), err)
	}

	location, err := saver.Save(ctx, out.FileName, out.Reader())
	if err != nil {
		return fmt.Errorf("save output: %w", err)
	}

	logger.Info("reel saved",
		slog.String("location", location),
		slog.Int("size", out.Size()),
		slog.Float64("duration", out.Duration),
		slog.Int("frames", out.Frames),
	)
	fmt.Println(location)
	return nil
}

func applyRecipe(cfg *config.Config, rec *recipe.Recipe) {
	if rec.FPS > 0 {
		cfg.OutputFPS = rec.FPS
	}
	if rec.Width > 0 || rec.Height > 0 {
		cfg.OutputWidth, cfg.OutputHeight = rec.Width, rec.Height
	}
	if rec.AudioMode != "" {
		cfg.AudioMode = rec.AudioMode
	}
}

func applyFlags(cfg *config.Config, outDir string, fps float64, size, audio string) error {
	if outDir != "" {
		cfg.OutputDir = outDir
		// An explicit directory always means local delivery.
		cfg.S3Bucket = ""
	}
	if fps > 0 {
		cfg.OutputFPS = fps
	}
	if size != "" {
		var w, h int
		if _, err := fmt.Sscanf(size, "%dx%d", &w, &h); err != nil || w <= 0 || h <= 0 {
			return fmt.Errorf("invalid -size %q: want WxH", size)
		}
		cfg.OutputWidth, cfg.OutputHeight = w, h
	}
	if audio != "" {
		cfg.AudioMode = audio
	}
	return nil
}

func printProgress(p progress.Progress) {
	fmt.Fprintf(os.Stderr, "\r%-12s %3d%% %s\033[K", p.Stage, p.Percent, p.Message)
	if p.Stage == progress.Finalizing && p.Percent == 100 {
		fmt.Fprintln(os.Stderr)
	}
}
