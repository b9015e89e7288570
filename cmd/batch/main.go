// Command batch applies the sepiatone resize and sepia pipelines to every
// JPEG in a directory.
//
// Usage:
//
//	batch -in ./photos -out ./rendered
//	batch -in ./photos -out ./rendered -percentages 60,30 -sigma 1.5 -resampler lanczos
//
// Defaults come from the SEPIATONE_* environment variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dunamismax/sepiatone/internal/batch"
	"github.com/dunamismax/sepiatone/internal/config"
	"github.com/dunamismax/sepiatone/internal/pipeline"
	"github.com/dunamismax/sepiatone/internal/raster"
	"github.com/dunamismax/sepiatone/internal/telemetry"
)

func main() {
	os.Exit(run())
}

// run returns the exit code so deferred shutdowns still flush.
func run() int {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[batch] ", log.LstdFlags|log.Lmsgprefix)

	var (
		inputDir    = flag.String("in", cfg.Batch.InputDir, "Directory containing .jpg/.jpeg images")
		outputDir   = flag.String("out", cfg.Batch.OutputDir, "Directory for rendered images (created if missing)")
		percentages = flag.String("percentages", formatPercentages(cfg.Imaging.Percentages), "Comma-separated resize percentages")
		sigma       = flag.Float64("sigma", cfg.Imaging.BlurSigma, "Gaussian blur sigma applied to the luminance plane before toning")
		quality     = flag.Int("quality", cfg.Imaging.JPEGQuality, "JPEG quality 1-100")
		resampler   = flag.String("resampler", cfg.Imaging.Resampler, "Resize filter ("+strings.Join(raster.Names(), ",")+")")
		concurrency = flag.Int("concurrency", cfg.Batch.Concurrency, "Images processed in parallel")
	)
	flag.Parse()

	pcts, err := config.ParseFloats(*percentages)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid -percentages %q: %v\n\n", *percentages, err)
		flag.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pipeline.Startup(); err != nil {
		logger.Printf("image runtime startup failed: %v", err)
		return 1
	}
	defer pipeline.Shutdown()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "sepiatone-batch", cfg.Tracing, logger)
	if err != nil {
		logger.Printf("tracing setup failed: %v", err)
		return 1
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	opts := pipeline.DefaultOptions()
	opts.Resampler = *resampler
	opts.Quality = *quality
	opts.Sepia.BlurSigma = *sigma

	driver, err := batch.New(batch.Config{
		InputDir:    *inputDir,
		OutputDir:   *outputDir,
		Percentages: pcts,
		Quality:     *quality,
		Concurrency: *concurrency,
		Options:     opts,
	}, logger)
	if err != nil {
		logger.Printf("batch setup failed: %v", err)
		return 1
	}
	logger.Printf("starting batch codec=%s resampler=%s sigma=%g concurrency=%d", pipeline.CodecName, opts.Resampler, opts.Sepia.BlurSigma, *concurrency)

	summary, err := driver.Run(ctx)
	if err != nil {
		logger.Printf("batch aborted: %v", err)
		return 1
	}
	if summary.Failed > 0 {
		return 1
	}
	return 0
}

func formatPercentages(pcts []float64) string {
	parts := make([]string, len(pcts))
	for i, p := range pcts {
		parts[i] = fmt.Sprintf("%g", p)
	}
	return strings.Join(parts, ",")
}
