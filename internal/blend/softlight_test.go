package blend

import (
	"errors"
	"math"
	"testing"
)

func TestSoftLightMidGrayTopIsIdentity(t *testing.T) {
	for i := 0; i <= 255; i++ {
		b := Normalize(uint8(i))
		got, err := SoftLight(0.5, b)
		if err != nil {
			t.Fatalf("SoftLight(0.5, %v) returned error: %v", b, err)
		}
		if got != b {
			t.Fatalf("expected SoftLight(0.5, %v) == %v, got %v", b, b, got)
		}

		above, err := SoftLight(math.Nextafter(0.5, 1), b)
		if err != nil {
			t.Fatalf("SoftLight above 0.5 returned error: %v", err)
		}
		if math.Abs(above-b) > 1e-12 {
			t.Fatalf("expected branches to agree at t=0.5 for b=%v, got %v", b, above)
		}
	}
}

func TestSoftLightBounded(t *testing.T) {
	const steps = 200
	for i := 0; i <= steps; i++ {
		for j := 0; j <= steps; j++ {
			top := float64(i) / steps
			bottom := float64(j) / steps
			got, err := SoftLight(top, bottom)
			if err != nil {
				t.Fatalf("SoftLight(%v, %v) returned error: %v", top, bottom, err)
			}
			if got < 0 || got > 1 {
				t.Fatalf("SoftLight(%v, %v) = %v, outside [0,1]", top, bottom, got)
			}
		}
	}
}

func TestSoftLightFixedPoints(t *testing.T) {
	for i := 0; i <= 100; i++ {
		top := float64(i) / 100
		black, err := SoftLight(top, 0)
		if err != nil {
			t.Fatalf("SoftLight(%v, 0) returned error: %v", top, err)
		}
		if black != 0 {
			t.Fatalf("expected SoftLight(%v, 0) == 0, got %v", top, black)
		}
		white, err := SoftLight(top, 1)
		if err != nil {
			t.Fatalf("SoftLight(%v, 1) returned error: %v", top, err)
		}
		if white != 1 {
			t.Fatalf("expected SoftLight(%v, 1) == 1, got %v", top, white)
		}
	}
}

func TestSoftLightKnownValues(t *testing.T) {
	tests := []struct {
		name        string
		top, bottom float64
		want        float64
	}{
		{"black top darkens", 0, 0.5, 0.25},
		{"white top over low branch", 1, 0.25, 0.5},
		{"white top over sqrt branch", 1, 0.64, 0.8},
		{"dark top", 0.25, 0.5, 0.375},
		{"light top over sqrt branch", 0.75, 0.36, 0.48},
		{"light top over polynomial branch", 0.75, 0.125, 0.234375},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SoftLight(tt.top, tt.bottom)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-12 {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSoftLightNotSymmetric(t *testing.T) {
	a, _ := SoftLight(0.9, 0.2)
	b, _ := SoftLight(0.2, 0.9)
	if a == b {
		t.Fatalf("expected operand order to matter, both gave %v", a)
	}
}

func TestSoftLightMonotonicInTop(t *testing.T) {
	for j := 0; j <= 50; j++ {
		bottom := float64(j) / 50
		prev := -1.0
		for i := 0; i <= 50; i++ {
			got, _ := SoftLight(float64(i)/50, bottom)
			if got < prev {
				t.Fatalf("expected SoftLight to be non-decreasing in top for bottom=%v", bottom)
			}
			prev = got
		}
	}
}

func TestSoftLightInvalidRange(t *testing.T) {
	tests := []struct {
		name        string
		top, bottom float64
	}{
		{"negative top", -0.01, 0.5},
		{"top above one", 1.01, 0.5},
		{"negative bottom", 0.5, -1},
		{"bottom above one", 0.5, 2},
		{"nan top", math.NaN(), 0.5},
		{"nan bottom", 0.5, math.NaN()},
		{"inf bottom", 0.5, math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SoftLight(tt.top, tt.bottom)
			if !errors.Is(err, ErrInvalidRange) {
				t.Fatalf("expected ErrInvalidRange, got %v", err)
			}
		})
	}
}

func TestDenormalize(t *testing.T) {
	tests := []struct {
		in   float64
		want uint8
	}{
		{0, 0},
		{1, 255},
		{-0.2, 0},
		{1.0000001, 255},
		{0.5, 128},
		{127.4 / 255, 127},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		if got := Denormalize(tt.in); got != tt.want {
			t.Fatalf("Denormalize(%v): expected %d, got %d", tt.in, tt.want, got)
		}
	}

	for i := 0; i <= 255; i++ {
		if got := Denormalize(Normalize(uint8(i))); got != uint8(i) {
			t.Fatalf("expected %d to survive normalize/denormalize, got %d", i, got)
		}
	}
}
