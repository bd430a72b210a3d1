package biometric

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"testing"

	"github.com/kozaktomas/face-enroll/internal/database"
)

// noiseImage returns a sharp, evenly lit grayscale image with values in [lo, hi].
func noiseImage(size int, seed uint64, lo, hi int) *image.Gray {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	img := image.NewGray(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = uint8(lo + rng.IntN(hi-lo+1))
	}
	return img
}

func flatImage(size int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

// gradientImage is smooth, so its Laplacian is zero almost everywhere.
func gradientImage(size int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 255 / size)})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	return buf.Bytes()
}

// unitVector builds a unit vector in dim dimensions pointing mostly along
// axis with a small component along axis+1.
func unitVector(dim, axis int, tilt float32) []float32 {
	v := make([]float32, dim)
	v[axis%dim] = 1
	v[(axis+1)%dim] = tilt
	return database.Normalize(v)
}
