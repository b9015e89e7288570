// Package batch runs the default sepiatone pipeline over every JPEG in a
// directory: one resize per percentage and one sepia output per image, saved
// as <base>_<percent>.jpg and <base>_sepia.jpg.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dunamismax/sepiatone/internal/domain"
	"github.com/dunamismax/sepiatone/internal/pipeline"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	InputDir    string
	OutputDir   string
	Percentages []float64
	Quality     int
	Concurrency int
	Options     pipeline.Options
}

// Summary counts images, not outputs. An image is processed only when all of
// its outputs were written. Skipped images share a base name with an earlier
// image and would overwrite its outputs.
type Summary struct {
	InputDir  string
	OutputDir string
	Processed int
	Failed    int
	Skipped   int
	Outputs   int
	Elapsed   time.Duration
}

type Driver struct {
	cfg       Config
	logger    *log.Logger
	steps     []domain.PipelineStep
	processor *pipeline.Processor
	tracer    trace.Tracer
}

func New(cfg Config, logger *log.Logger) (*Driver, error) {
	if strings.TrimSpace(cfg.InputDir) == "" {
		return nil, errors.New("input directory is required")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return nil, errors.New("output directory is required")
	}
	if cfg.Percentages == nil {
		cfg.Percentages = pipeline.DefaultPercentages
	}
	cfg.Concurrency = max(1, cfg.Concurrency)

	steps := domain.DefaultPipeline(cfg.Percentages, cfg.Quality)
	if err := domain.ValidatePipeline(steps); err != nil {
		return nil, fmt.Errorf("batch pipeline: %w", err)
	}

	transformer, err := pipeline.NewTransformer(cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("build transformer: %w", err)
	}

	return &Driver{
		cfg:       cfg,
		logger:    logger,
		steps:     steps,
		processor: pipeline.NewProcessor(pipeline.LocalFileFetcher{}, transformer, pipeline.SuffixFileEmitter{OutputDir: cfg.OutputDir}),
		tracer:    otel.Tracer("sepiatone/batch"),
	}, nil
}

// Run processes every image and keeps going past per-image failures. The
// returned error covers only the directories themselves and cancellation.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	startedAt := time.Now()
	summary := Summary{InputDir: d.cfg.InputDir, OutputDir: d.cfg.OutputDir}

	images, err := ListImages(d.cfg.InputDir)
	if err != nil {
		return summary, err
	}
	if err := os.MkdirAll(d.cfg.OutputDir, 0o755); err != nil {
		return summary, fmt.Errorf("create output dir: %w", err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(d.cfg.Concurrency)

	owners := make(map[string]string, len(images))
	for _, path := range images {
		if ctx.Err() != nil {
			break
		}
		base := baseName(path)
		if owner, ok := owners[base]; ok {
			summary.Skipped++
			d.logger.Printf("skipping image path=%s duplicate_of=%s", path, owner)
			continue
		}
		owners[base] = path
		g.Go(func() error {
			outputs, err := d.processImage(ctx, path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				d.logger.Printf("failed image path=%s err=%v", path, err)
				return nil
			}
			summary.Processed++
			summary.Outputs += outputs
			return nil
		})
	}
	_ = g.Wait()

	summary.Elapsed = time.Since(startedAt)
	d.logger.Printf(
		"batch done input=%s output=%s processed=%d failed=%d skipped=%d outputs=%d elapsed=%s",
		summary.InputDir,
		summary.OutputDir,
		summary.Processed,
		summary.Failed,
		summary.Skipped,
		summary.Outputs,
		summary.Elapsed.Round(time.Millisecond),
	)
	return summary, ctx.Err()
}

func (d *Driver) processImage(ctx context.Context, path string) (int, error) {
	ctx, span := d.tracer.Start(ctx, "batch.process_image")
	span.SetAttributes(attribute.String("image.path", path))
	defer span.End()

	d.logger.Printf("processing image path=%s", path)

	result, err := d.processor.Process(ctx, pipeline.Request{
		JobID:      baseName(path),
		SourceType: pipeline.SourceTypeLocalFile,
		ObjectKey:  path,
		Pipeline:   d.steps,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "image failed")
		return 0, err
	}
	span.SetAttributes(attribute.Int("image.outputs", len(result.Outputs)))
	return len(result.Outputs), nil
}

func baseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ListImages returns the .jpg and .jpeg files directly inside dir, matched
// case-insensitively and sorted by name.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}

	var images []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg":
			images = append(images, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(images)
	return images, nil
}
