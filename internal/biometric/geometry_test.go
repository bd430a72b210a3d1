package biometric

import (
	"image"
	"math"
	"testing"
)

func TestBoxArea(t *testing.T) {
	tests := []struct {
		name string
		box  [4]float64
		want float64
	}{
		{"regular", [4]float64{10, 10, 20, 30}, 200},
		{"degenerate", [4]float64{10, 10, 10, 30}, 0},
		{"inverted", [4]float64{20, 20, 10, 10}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BoxArea(tt.box); math.Abs(got-tt.want) > 0.0001 {
				t.Errorf("BoxArea() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFaceSizeRatio(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 100)

	tests := []struct {
		name string
		box  [4]float64
		want float64
	}{
		{"quarter", [4]float64{0, 0, 50, 50}, 0.25},
		{"clamped to image", [4]float64{-50, -50, 50, 50}, 0.25},
		{"outside image", [4]float64{200, 200, 300, 300}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FaceSizeRatio(tt.box, bounds); math.Abs(got-tt.want) > 0.0001 {
				t.Errorf("FaceSizeRatio() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClampBox(t *testing.T) {
	r := ClampBox([4]float64{-5.5, 10.2, 120, 50.7}, image.Rect(0, 0, 100, 100))
	want := image.Rect(0, 10, 100, 51)
	if r != want {
		t.Errorf("ClampBox() = %v, want %v", r, want)
	}
}
