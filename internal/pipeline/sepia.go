package pipeline

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/dunamismax/sepiatone/internal/blend"
	"github.com/dunamismax/sepiatone/internal/imagebuf"
)

// TintColor is the sepia overlay color #e2592a in RGB order.
var TintColor = [3]uint8{226, 89, 42}

const DefaultBlurSigma = 1.0

// minParallelPixels keeps small images on the calling goroutine.
const minParallelPixels = 64 * 1024

// Raster is the image abstraction the pipelines are built on.
type Raster interface {
	Luminance(src *imagebuf.Buffer) *imagebuf.Buffer
	GaussianBlur(plane *imagebuf.Buffer, sigma float64) *imagebuf.Buffer
	Resample(src *imagebuf.Buffer, width, height int) *imagebuf.Buffer
}

type SepiaOptions struct {
	Tint      [3]uint8
	BlurSigma float64
}

func DefaultSepiaOptions() SepiaOptions {
	return SepiaOptions{
		Tint:      TintColor,
		BlurSigma: DefaultBlurSigma,
	}
}

type Sepia struct {
	raster Raster
	opts   SepiaOptions
}

func NewSepia(r Raster, opts SepiaOptions) *Sepia {
	return &Sepia{raster: r, opts: opts}
}

// Apply returns a sepia toned RGB copy of input: luminance, a gaussian blur
// of that plane, then soft light with the tint on top. input is not modified.
func (s *Sepia) Apply(input *imagebuf.Buffer) (*imagebuf.Buffer, error) {
	if err := checkSepiaInput(input); err != nil {
		return nil, err
	}

	table, err := softLightTable(s.opts.Tint)
	if err != nil {
		return nil, err
	}

	plane := s.raster.GaussianBlur(s.raster.Luminance(input), s.opts.BlurSigma)
	if plane.Width() != input.Width() || plane.Height() != input.Height() || plane.Channels() != 1 {
		return nil, fmt.Errorf("sepia: raster returned %v for %v input", plane, input)
	}

	w, h := input.Width(), input.Height()
	lum := plane.Samples()
	out := make([]uint8, w*h*3)
	forEachRowBand(w, h, func(y0, y1 int) {
		for i := y0 * w; i < y1*w; i++ {
			v := lum[i]
			out[i*3] = table[0][v]
			out[i*3+1] = table[1][v]
			out[i*3+2] = table[2][v]
		}
	})

	return imagebuf.New(w, h, 3, out)
}

func checkSepiaInput(input *imagebuf.Buffer) error {
	if input.Empty() {
		return fmt.Errorf("%w: %dx%d", ErrEmptyImage, input.Width(), input.Height())
	}
	switch input.Channels() {
	case 1, 3, 4:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedChannelCount, input.Channels())
	}
}

// softLightTable precomputes the blend of each tint channel over every 8-bit
// base intensity.
func softLightTable(tint [3]uint8) ([3][256]uint8, error) {
	var table [3][256]uint8
	for c := 0; c < 3; c++ {
		top := blend.Normalize(tint[c])
		for v := 0; v < 256; v++ {
			blended, err := blend.SoftLight(top, blend.Normalize(uint8(v)))
			if err != nil {
				return table, fmt.Errorf("sepia channel %d: %w", c, err)
			}
			table[c][v] = blend.Denormalize(blended)
		}
	}
	return table, nil
}

func forEachRowBand(width, height int, fn func(y0, y1 int)) {
	workers := runtime.GOMAXPROCS(0)
	if width*height < minParallelPixels || workers <= 1 {
		fn(0, height)
		return
	}

	chunk := (height + workers - 1) / workers
	var wg sync.WaitGroup
	for y0 := 0; y0 < height; y0 += chunk {
		y1 := min(y0+chunk, height)
		wg.Add(1)
		go func(y0, y1 int) {
			defer wg.Done()
			fn(y0, y1)
		}(y0, y1)
	}
	wg.Wait()
}
