package biometric

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/kozaktomas/face-enroll/internal/detector"
)

const livenessAnalysisSide = 128

// LivenessScorer gives an advisory score in [0, 1] for how likely a face is
// live. The score is reported only and never changes a decision.
type LivenessScorer interface {
	Score(img image.Image, face detector.Face, metrics QualityMetrics) float64
}

// TextureLiveness scores the micro-texture of the face crop with a local
// binary pattern histogram, combined with sharpness and detector confidence.
// Printed photos and screens flatten skin texture, which collapses the LBP
// histogram onto a few codes.
type TextureLiveness struct{}

func (TextureLiveness) Score(img image.Image, face detector.Face, m QualityMetrics) float64 {
	var texture float64
	if img != nil {
		if rect := ClampBox(face.BBox, img.Bounds()); !rect.Empty() {
			crop := imaging.Crop(img, rect)
			crop = imaging.Fit(crop, livenessAnalysisSide, livenessAnalysisSide, imaging.Box)
			texture = lbpEntropy(imaging.Grayscale(crop))
		}
	}
	return clamp01(0.5*texture + 0.3*m.Sharpness + 0.2*clamp01(face.Confidence))
}

// lbpEntropy is the entropy of the 8-neighbour local binary pattern codes of
// a grayscale image, normalized to [0, 1].
func lbpEntropy(gray *image.NRGBA) float64 {
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}
	at := func(x, y int) uint8 {
		return gray.Pix[y*gray.Stride+x*4]
	}
	offsets := [8][2]int{{-1, -1}, {0, -1}, {1, -1}, {1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}}

	var hist [256]int
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := at(x, y)
			var code uint8
			for i, o := range offsets {
				if at(x+o[0], y+o[1]) > c {
					code |= 1 << i
				}
			}
			hist[code]++
			n++
		}
	}

	var entropy float64
	for _, cnt := range hist {
		if cnt == 0 {
			continue
		}
		p := float64(cnt) / float64(n)
		entropy -= p * math.Log2(p)
	}
	return clamp01(entropy / 8)
}
