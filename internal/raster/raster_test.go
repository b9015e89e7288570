package raster

import (
	"errors"
	"testing"

	"github.com/dunamismax/sepiatone/internal/imagebuf"
)

func TestNewResolvesNames(t *testing.T) {
	for _, name := range Names() {
		e, err := New(name)
		if err != nil {
			t.Fatalf("New(%q) returned error: %v", name, err)
		}
		if e.Name() != name {
			t.Fatalf("expected name %q, got %q", name, e.Name())
		}
	}

	e, err := New("  ")
	if err != nil {
		t.Fatalf("expected blank name to select the default, got %v", err)
	}
	if e.Name() != DefaultResampler {
		t.Fatalf("expected %q, got %q", DefaultResampler, e.Name())
	}

	if _, err := New("nearest-ish"); !errors.Is(err, ErrUnknownResampler) {
		t.Fatalf("expected ErrUnknownResampler, got %v", err)
	}
}

func TestLuminanceDropsColorAndAlpha(t *testing.T) {
	src, err := imagebuf.New(2, 1, 4, []uint8{
		255, 0, 0, 10,
		128, 128, 128, 255,
	})
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}

	lum := Default().Luminance(src)
	if lum.Channels() != 1 {
		t.Fatalf("expected 1 channel, got %d", lum.Channels())
	}
	if got := lum.Sample(0, 0, 0); got != 76 {
		t.Fatalf("expected luma 76 for pure red, got %d", got)
	}
	if got := lum.Sample(1, 0, 0); got != 128 {
		t.Fatalf("expected luma 128 for mid gray, got %d", got)
	}
}

func TestGaussianBlurKeepsUniformPlane(t *testing.T) {
	plane := Default().Luminance(imagebuf.Uniform(16, 9, [3]uint8{128, 128, 128}))
	blurred := Default().GaussianBlur(plane, 1)

	for y := 0; y < blurred.Height(); y++ {
		for x := 0; x < blurred.Width(); x++ {
			if got := blurred.Sample(x, y, 0); got != 128 {
				t.Fatalf("expected uniform 128 after blur, got %d at (%d,%d)", got, x, y)
			}
		}
	}
}

func TestGaussianBlurSpreadsImpulse(t *testing.T) {
	pix := make([]uint8, 7*7)
	pix[3*7+3] = 255
	plane, err := imagebuf.New(7, 7, 1, pix)
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}

	blurred := Default().GaussianBlur(plane, 1)
	center := blurred.Sample(3, 3, 0)
	neighbor := blurred.Sample(4, 3, 0)
	if center >= 255 || center == 0 {
		t.Fatalf("expected the impulse to spread, center=%d", center)
	}
	if neighbor == 0 || neighbor >= center {
		t.Fatalf("expected a smaller non-zero neighbor, center=%d neighbor=%d", center, neighbor)
	}
	if plane.Sample(3, 3, 0) != 255 {
		t.Fatal("expected input plane to stay untouched")
	}
}

func TestGaussianBlurZeroSigmaIsIdentity(t *testing.T) {
	plane, err := imagebuf.New(2, 1, 1, []uint8{0, 255})
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	if got := Default().GaussianBlur(plane, 0); !got.Equal(plane) {
		t.Fatal("expected sigma 0 to leave the plane unchanged")
	}
}

func TestResampleUniformStaysUniform(t *testing.T) {
	src := imagebuf.Uniform(40, 30, [3]uint8{128, 128, 128})

	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			e, err := New(name)
			if err != nil {
				t.Fatalf("new engine: %v", err)
			}
			out := e.Resample(src, 10, 8)
			if out.Width() != 10 || out.Height() != 8 || out.Channels() != 3 {
				t.Fatalf("unexpected geometry %v", out)
			}
			want := imagebuf.Uniform(10, 8, [3]uint8{128, 128, 128})
			if !out.Equal(want) {
				t.Fatalf("expected uniform mid gray, got sample %d", out.Sample(5, 4, 0))
			}
		})
	}
}

func TestResampleBoxAveragesArea(t *testing.T) {
	src, err := imagebuf.New(2, 2, 1, []uint8{0, 100, 100, 200})
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	out := Default().Resample(src, 1, 1)
	if out.Channels() != 1 {
		t.Fatalf("expected 1 channel, got %d", out.Channels())
	}
	if got := out.Sample(0, 0, 0); got != 100 {
		t.Fatalf("expected area average 100, got %d", got)
	}
}

func TestResampleSameSizeReturnsInput(t *testing.T) {
	src := imagebuf.Uniform(5, 5, [3]uint8{1, 2, 3})
	if out := Default().Resample(src, 5, 5); !out.Equal(src) {
		t.Fatal("expected same-size resample to be lossless")
	}
}
