package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/dunamismax/sepiatone/internal/domain"
	"github.com/dunamismax/sepiatone/internal/imagebuf"
	"github.com/dunamismax/sepiatone/internal/raster"
)

const DefaultJPEGQuality = 90

// Transformer decodes a source once and renders each pipeline step from it.
type Transformer interface {
	Decode(ctx context.Context, input []byte) (Source, error)
	Transform(ctx context.Context, src Source, step domain.PipelineStep) (data []byte, format string, width, height int, err error)
}

// Source is a decoded input. Buffers are immutable, so steps share it.
type Source struct {
	Image  *imagebuf.Buffer
	Format string
}

// Codec turns encoded bytes into buffers and back.
type Codec interface {
	Decode(data []byte) (buf *imagebuf.Buffer, format string, err error)
	Encode(buf *imagebuf.Buffer, format string, quality int) ([]byte, error)
}

// Options configure a Transformer. A zero Sepia means DefaultSepiaOptions.
type Options struct {
	Resampler string
	Sepia     SepiaOptions
	Quality   int
}

func DefaultOptions() Options {
	return Options{
		Resampler: raster.DefaultResampler,
		Sepia:     DefaultSepiaOptions(),
		Quality:   DefaultJPEGQuality,
	}
}

type imageTransformer struct {
	codec   Codec
	sepia   *Sepia
	resizer *Resizer
	quality int
}

func NewTransformer(opts Options) (Transformer, error) {
	engine, err := raster.New(opts.Resampler)
	if err != nil {
		return nil, err
	}
	codec, err := newCodec()
	if err != nil {
		return nil, fmt.Errorf("build codec: %w", err)
	}
	return newImageTransformer(codec, engine, opts), nil
}

func newImageTransformer(codec Codec, r Raster, opts Options) *imageTransformer {
	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	if opts.Sepia == (SepiaOptions{}) {
		opts.Sepia = DefaultSepiaOptions()
	}
	return &imageTransformer{
		codec:   codec,
		sepia:   NewSepia(r, opts.Sepia),
		resizer: NewResizer(r),
		quality: quality,
	}
}

func (t *imageTransformer) Decode(ctx context.Context, input []byte) (Source, error) {
	if err := ctx.Err(); err != nil {
		return Source{}, err
	}
	buf, format, err := t.codec.Decode(input)
	if err != nil {
		return Source{}, err
	}
	return Source{Image: buf, Format: format}, nil
}

func (t *imageTransformer) Transform(ctx context.Context, src Source, step domain.PipelineStep) ([]byte, string, int, int, error) {
	select {
	case <-ctx.Done():
		return nil, "", 0, 0, ctx.Err()
	default:
	}
	if src.Image == nil {
		return nil, "", 0, 0, ErrEmptyImage
	}

	var (
		out *imagebuf.Buffer
		err error
	)
	switch strings.ToLower(strings.TrimSpace(step.Action)) {
	case domain.ActionResize:
		out, err = t.resizer.ResizeByPercent(src.Image, step.Percent)
	case domain.ActionSepia:
		out, err = t.sepia.Apply(src.Image)
	default:
		return nil, "", 0, 0, fmt.Errorf("%w: %q", ErrInvalidStepAction, step.Action)
	}
	if err != nil {
		return nil, "", 0, 0, err
	}

	format := normalizeOutputFormat(strings.ToLower(strings.TrimSpace(step.Format)))
	if strings.TrimSpace(step.Format) == "" {
		format = normalizeOutputFormat(strings.ToLower(src.Format))
	}

	quality := step.Quality
	if quality <= 0 {
		quality = t.quality
	}
	data, err := t.codec.Encode(out, format, quality)
	if err != nil {
		return nil, "", 0, 0, err
	}
	return data, format, out.Width(), out.Height(), nil
}

func normalizeOutputFormat(format string) string {
	switch format {
	case "jpg":
		return "jpeg"
	case "jpeg", "png", "webp":
		return format
	default:
		return "jpeg"
	}
}

func extensionForFormat(format string) string {
	if f := normalizeOutputFormat(format); f != "jpeg" {
		return f
	}
	return "jpg"
}

func contentTypeForFormat(format string) string {
	switch normalizeOutputFormat(strings.ToLower(strings.TrimSpace(format))) {
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
