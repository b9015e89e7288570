// Package raster adapts third-party imaging libraries to the operations the
// sepia and resize pipelines need from an image: luminance, blur and
// resampling.
package raster

import (
	"errors"
	"fmt"
	"image"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/sepiatone/internal/imagebuf"
	xdraw "golang.org/x/image/draw"
)

const DefaultResampler = "box"

var ErrUnknownResampler = errors.New("unknown resampler")

var imagingFilters = map[string]imaging.ResampleFilter{
	"box":        imaging.Box,
	"lanczos":    imaging.Lanczos,
	"catmullrom": imaging.CatmullRom,
	"linear":     imaging.Linear,
}

var drawKernels = map[string]xdraw.Interpolator{
	"draw-catmullrom":     xdraw.CatmullRom,
	"draw-bilinear":       xdraw.BiLinear,
	"draw-approxbilinear": xdraw.ApproxBiLinear,
}

// Engine is safe for concurrent use; it holds no mutable state.
type Engine struct {
	name   string
	filter imaging.ResampleFilter
	interp xdraw.Interpolator
}

func New(name string) (*Engine, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultResampler
	}
	if filter, ok := imagingFilters[name]; ok {
		return &Engine{name: name, filter: filter}, nil
	}
	if interp, ok := drawKernels[name]; ok {
		return &Engine{name: name, interp: interp}, nil
	}
	return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownResampler, name, strings.Join(Names(), ", "))
}

// Default resamples with an area-averaging box filter.
func Default() *Engine {
	return &Engine{name: DefaultResampler, filter: imaging.Box}
}

func Names() []string {
	names := make([]string, 0, len(imagingFilters)+len(drawKernels))
	for name := range imagingFilters {
		names = append(names, name)
	}
	for name := range drawKernels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) Name() string {
	return e.name
}

// Luminance returns a single-channel Rec. 601 luma plane. Alpha is dropped.
func (e *Engine) Luminance(src *imagebuf.Buffer) *imagebuf.Buffer {
	if src.Channels() == 1 {
		return src
	}
	gray := imaging.Grayscale(src.RGB().Image())
	return fromNRGBA(gray, 1)
}

// GaussianBlur blurs a single-channel plane. Multi-channel input is reduced
// to luminance first so the blur never mixes channels.
func (e *Engine) GaussianBlur(plane *imagebuf.Buffer, sigma float64) *imagebuf.Buffer {
	if plane.Channels() != 1 {
		plane = e.Luminance(plane)
	}
	if sigma <= 0 || plane.Empty() {
		return plane
	}
	return fromNRGBA(imaging.Blur(plane.Image(), sigma), 1)
}

// Resample scales src to width x height, keeping its channel count.
func (e *Engine) Resample(src *imagebuf.Buffer, width, height int) *imagebuf.Buffer {
	if width == src.Width() && height == src.Height() {
		return src
	}

	var dst *image.NRGBA
	if e.interp != nil {
		dst = image.NewNRGBA(image.Rect(0, 0, width, height))
		img := src.Image()
		e.interp.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	} else {
		dst = imaging.Resize(src.Image(), width, height, e.filter)
	}
	return fromNRGBA(dst, src.Channels())
}

// fromNRGBA picks channels out of an NRGBA image: 1 takes red, 2 takes red
// and alpha, 3 takes RGB, 4 takes everything.
func fromNRGBA(img *image.NRGBA, channels int) *imagebuf.Buffer {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	pix := make([]uint8, w*h*channels)
	for y := 0; y < h; y++ {
		row := img.Pix[img.PixOffset(bounds.Min.X, bounds.Min.Y+y):]
		for x := 0; x < w; x++ {
			s := row[x*4 : x*4+4 : x*4+4]
			d := pix[(y*w+x)*channels : (y*w+x+1)*channels]
			switch channels {
			case 1:
				d[0] = s[0]
			case 2:
				d[0], d[1] = s[0], s[3]
			default:
				copy(d, s[:channels])
			}
		}
	}
	// Geometry is correct by construction.
	buf, _ := imagebuf.New(w, h, channels, pix)
	return buf
}
