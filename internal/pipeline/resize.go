package pipeline

import (
	"fmt"
	"math"

	"github.com/dunamismax/sepiatone/internal/imagebuf"
)

var DefaultPercentages = []float64{75, 50, 25}

// TargetSize scales width and height by percent, rounding half away from
// zero. Both axes use the same factor, so the aspect ratio is kept.
func TargetSize(width, height int, percent float64) (int, int, error) {
	if math.IsNaN(percent) || math.IsInf(percent, 0) || percent <= 0 {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidPercentage, percent)
	}
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("%w: %dx%d", ErrEmptyImage, width, height)
	}

	tw := math.Round(float64(width) * percent / 100)
	th := math.Round(float64(height) * percent / 100)
	if tw < 1 || th < 1 {
		return 0, 0, fmt.Errorf("%w: %dx%d at %v%% gives %vx%v", ErrDegenerateTarget, width, height, percent, tw, th)
	}
	if tw > math.MaxInt32 || th > math.MaxInt32 {
		return 0, 0, fmt.Errorf("%w: %v%% of %dx%d is too large", ErrInvalidPercentage, percent, width, height)
	}
	return int(tw), int(th), nil
}

type Resizer struct {
	raster Raster
}

func NewResizer(r Raster) *Resizer {
	return &Resizer{raster: r}
}

func (r *Resizer) ResizeByPercent(input *imagebuf.Buffer, percent float64) (*imagebuf.Buffer, error) {
	tw, th, err := TargetSize(input.Width(), input.Height(), percent)
	if err != nil {
		return nil, err
	}
	return r.raster.Resample(input, tw, th), nil
}
