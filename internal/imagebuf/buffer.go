// Package imagebuf holds an immutable grid of 8-bit channel samples in RGB(A)
// order, the exchange type between codecs, raster operations and pipelines.
package imagebuf

import (
	"bytes"
	"errors"
	"fmt"
)

const MaxChannels = 4

var ErrInvalidGeometry = errors.New("invalid buffer geometry")

// Buffer is row-major and interleaved: sample (x, y, c) lives at
// (y*width+x)*channels + c. A Buffer is never modified after construction.
type Buffer struct {
	width    int
	height   int
	channels int
	pix      []uint8
}

// New copies pix into a new Buffer.
func New(width, height, channels int, pix []uint8) (*Buffer, error) {
	if err := checkGeometry(width, height, channels, len(pix)); err != nil {
		return nil, err
	}
	return &Buffer{
		width:    width,
		height:   height,
		channels: channels,
		pix:      bytes.Clone(pix),
	}, nil
}

// Uniform returns a solid 3-channel RGB buffer.
func Uniform(width, height int, rgb [3]uint8) *Buffer {
	width, height = max(0, width), max(0, height)
	pix := make([]uint8, width*height*3)
	for i := 0; i < len(pix); i += 3 {
		pix[i], pix[i+1], pix[i+2] = rgb[0], rgb[1], rgb[2]
	}
	return wrap(width, height, 3, pix)
}

// wrap takes ownership of pix. Callers inside the module use it for buffers
// they have just allocated and will not touch again.
func wrap(width, height, channels int, pix []uint8) *Buffer {
	return &Buffer{width: width, height: height, channels: channels, pix: pix}
}

func checkGeometry(width, height, channels, n int) error {
	if width < 0 || height < 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidGeometry, width, height)
	}
	if channels < 1 || channels > MaxChannels {
		return fmt.Errorf("%w: %d channels", ErrInvalidGeometry, channels)
	}
	if want := width * height * channels; n != want {
		return fmt.Errorf("%w: have %d samples, want %d", ErrInvalidGeometry, n, want)
	}
	return nil
}

func (b *Buffer) Width() int    { return b.width }
func (b *Buffer) Height() int   { return b.height }
func (b *Buffer) Channels() int { return b.channels }

func (b *Buffer) Empty() bool {
	return b.width == 0 || b.height == 0
}

func (b *Buffer) offset(x, y int) int {
	return (y*b.width + x) * b.channels
}

// Sample panics when x, y or c is out of range, like slice indexing.
func (b *Buffer) Sample(x, y, c int) uint8 {
	if x < 0 || x >= b.width || y < 0 || y >= b.height || c < 0 || c >= b.channels {
		panic(fmt.Sprintf("imagebuf: sample (%d,%d,%d) out of range for %dx%dx%d", x, y, c, b.width, b.height, b.channels))
	}
	return b.pix[b.offset(x, y)+c]
}

// Samples returns a copy of the interleaved sample data.
func (b *Buffer) Samples() []uint8 {
	return bytes.Clone(b.pix)
}

func (b *Buffer) Equal(other *Buffer) bool {
	if b == nil || other == nil {
		return b == other
	}
	return b.width == other.width &&
		b.height == other.height &&
		b.channels == other.channels &&
		bytes.Equal(b.pix, other.pix)
}

// WithSamples returns a new buffer of the same geometry whose samples are
// fn applied to each sample of b.
func (b *Buffer) WithSamples(fn func(x, y, c int, v uint8) uint8) *Buffer {
	out := make([]uint8, len(b.pix))
	i := 0
	for y := 0; y < b.height; y++ {
		for x := 0; x < b.width; x++ {
			for c := 0; c < b.channels; c++ {
				out[i] = fn(x, y, c, b.pix[i])
				i++
			}
		}
	}
	return wrap(b.width, b.height, b.channels, out)
}

func (b *Buffer) String() string {
	return fmt.Sprintf("imagebuf.Buffer(%dx%dx%d)", b.width, b.height, b.channels)
}
