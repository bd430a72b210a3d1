package biometric

import (
	"image"
	"math"
)

// BoxArea returns the area of an [x1, y1, x2, y2] box, 0 for degenerate boxes.
func BoxArea(box [4]float64) float64 {
	w := box[2] - box[0]
	h := box[3] - box[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// ClampBox converts a pixel box to an integer rectangle inside bounds.
func ClampBox(box [4]float64, bounds image.Rectangle) image.Rectangle {
	r := image.Rect(
		int(math.Floor(box[0])), int(math.Floor(box[1])),
		int(math.Ceil(box[2])), int(math.Ceil(box[3])),
	)
	return r.Intersect(bounds)
}

// FaceSizeRatio is the share of the image area covered by the face box
// after clamping to the image.
func FaceSizeRatio(box [4]float64, bounds image.Rectangle) float64 {
	imgArea := float64(bounds.Dx() * bounds.Dy())
	if imgArea <= 0 {
		return 0
	}
	clamped := [4]float64{
		max(box[0], float64(bounds.Min.X)),
		max(box[1], float64(bounds.Min.Y)),
		min(box[2], float64(bounds.Max.X)),
		min(box[3], float64(bounds.Max.Y)),
	}
	return BoxArea(clamped) / imgArea
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
