package pipeline

import (
	"errors"
	"math"
	"testing"

	"github.com/dunamismax/sepiatone/internal/imagebuf"
	"github.com/dunamismax/sepiatone/internal/raster"
)

func TestTargetSize(t *testing.T) {
	cases := []struct {
		name    string
		w, h    int
		percent float64
		wantW   int
		wantH   int
	}{
		{name: "identity", w: 123, h: 77, percent: 100, wantW: 123, wantH: 77},
		{name: "half", w: 200, h: 100, percent: 50, wantW: 100, wantH: 50},
		{name: "three quarters", w: 400, h: 300, percent: 75, wantW: 300, wantH: 225},
		{name: "quarter", w: 400, h: 300, percent: 25, wantW: 100, wantH: 75},
		{name: "rounds half up", w: 3, h: 5, percent: 50, wantW: 2, wantH: 3},
		{name: "upscale", w: 10, h: 4, percent: 250, wantW: 25, wantH: 10},
		{name: "fractional percent", w: 1000, h: 800, percent: 12.5, wantW: 125, wantH: 100},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, h, err := TargetSize(tc.w, tc.h, tc.percent)
			if err != nil {
				t.Fatalf("target size: %v", err)
			}
			if w != tc.wantW || h != tc.wantH {
				t.Fatalf("expected %dx%d, got %dx%d", tc.wantW, tc.wantH, w, h)
			}
		})
	}
}

func TestTargetSizeErrors(t *testing.T) {
	cases := []struct {
		name    string
		w, h    int
		percent float64
		want    error
	}{
		{name: "zero percent", w: 10, h: 10, percent: 0, want: ErrInvalidPercentage},
		{name: "negative percent", w: 10, h: 10, percent: -5, want: ErrInvalidPercentage},
		{name: "nan", w: 10, h: 10, percent: math.NaN(), want: ErrInvalidPercentage},
		{name: "infinite", w: 10, h: 10, percent: math.Inf(1), want: ErrInvalidPercentage},
		{name: "too large", w: 1 << 20, h: 1 << 20, percent: 1e9, want: ErrInvalidPercentage},
		{name: "zero width", w: 0, h: 10, percent: 50, want: ErrEmptyImage},
		{name: "collapses", w: 1, h: 1, percent: 10, want: ErrDegenerateTarget},
		{name: "one axis collapses", w: 100, h: 1, percent: 25, want: ErrDegenerateTarget},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := TargetSize(tc.w, tc.h, tc.percent); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestResizeByPercentDefaultsOnMidGray(t *testing.T) {
	gray := [3]uint8{128, 128, 128}
	input := imagebuf.Uniform(400, 300, gray)
	resizer := NewResizer(raster.Default())

	want := map[float64][2]int{75: {300, 225}, 50: {200, 150}, 25: {100, 75}}
	for _, pct := range DefaultPercentages {
		out, err := resizer.ResizeByPercent(input, pct)
		if err != nil {
			t.Fatalf("resize %v%%: %v", pct, err)
		}
		size := want[pct]
		if !out.Equal(imagebuf.Uniform(size[0], size[1], gray)) {
			t.Fatalf("expected solid gray %dx%d at %v%%, got %v", size[0], size[1], pct, out)
		}
	}
	if !input.Equal(imagebuf.Uniform(400, 300, gray)) {
		t.Fatal("resize mutated its input")
	}
}

func TestResizeByPercentIdentityKeepsSamples(t *testing.T) {
	pix := make([]uint8, 7*5*4)
	for i := range pix {
		pix[i] = uint8(i * 13)
	}
	input, err := imagebuf.New(7, 5, 4, pix)
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}

	out, err := NewResizer(raster.Default()).ResizeByPercent(input, 100)
	if err != nil {
		t.Fatalf("resize: %v", err)
	}
	if !out.Equal(input) {
		t.Fatal("expected 100% resize to be an identity")
	}
}

func TestResizeByPercentRejectsEmptyInput(t *testing.T) {
	empty, err := imagebuf.New(0, 0, 3, nil)
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	_, err = NewResizer(raster.Default()).ResizeByPercent(empty, 50)
	if !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("expected ErrEmptyImage, got %v", err)
	}
}
