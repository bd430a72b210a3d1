package biometric

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/kozaktomas/face-enroll/internal/config"
)

// QualityMetrics describes how usable a detected face is as a reference sample.
type QualityMetrics struct {
	OverallScore        float64 `json:"overall_score"`
	Sharpness           float64 `json:"sharpness"`
	LightingUniformity  float64 `json:"lighting_uniformity"`
	FaceSizeRatio       float64 `json:"face_size_ratio"`
	DetectionConfidence float64 `json:"detection_confidence"`
	Brightness          float64 `json:"brightness"`
	RejectionReason     string  `json:"rejection_reason,omitempty"`
}

// QualityFeedback is returned with a quality rejection so that the user
// knows what to change.
type QualityFeedback struct {
	Rating      string   `json:"rating"` // good, acceptable or poor
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// QualityAnalyzer scores face crops.
type QualityAnalyzer struct {
	policy config.QualityPolicy
}

func NewQualityAnalyzer(policy config.QualityPolicy) *QualityAnalyzer {
	return &QualityAnalyzer{policy: policy}
}

// Analyze computes quality metrics for the face inside box.
func (q *QualityAnalyzer) Analyze(img image.Image, box [4]float64, detectionConfidence float64) QualityMetrics {
	m := QualityMetrics{
		FaceSizeRatio:       FaceSizeRatio(box, img.Bounds()),
		DetectionConfidence: clamp01(detectionConfidence),
	}

	rect := ClampBox(box, img.Bounds())
	if !rect.Empty() {
		gray := q.prepareCrop(img, rect)
		m.Sharpness = q.sharpness(gray)
		m.LightingUniformity, m.Brightness = q.lighting(gray)
	}

	m.OverallScore = q.overall(m)
	return m
}

// prepareCrop crops, downsizes and converts the face region to grayscale.
func (q *QualityAnalyzer) prepareCrop(img image.Image, rect image.Rectangle) *image.NRGBA {
	crop := imaging.Crop(img, rect)
	maxSide := q.policy.AnalysisMaxSide
	if b := crop.Bounds(); maxSide > 0 && (b.Dx() > maxSide || b.Dy() > maxSide) {
		crop = imaging.Fit(crop, maxSide, maxSide, imaging.Box)
	}
	return imaging.Grayscale(crop)
}

// sharpness maps the variance of the Laplacian onto [0, 1].
func (q *QualityAnalyzer) sharpness(gray *image.NRGBA) float64 {
	variance := laplacianVariance(gray)
	low, high := q.policy.SharpnessLow, q.policy.SharpnessHigh
	return clamp01((variance - low) / (high - low))
}

// lighting returns the normalized histogram entropy, halved for very dark or
// very bright faces, and the mean brightness.
func (q *QualityAnalyzer) lighting(gray *image.NRGBA) (float64, float64) {
	var hist [256]int
	var sum float64
	b := gray.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0, 0
	}
	for y := 0; y < b.Dy(); y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < b.Dx(); x++ {
			v := row[x*4]
			hist[v]++
			sum += float64(v)
		}
	}

	var entropy float64
	for _, c := range hist {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(n)
		entropy -= p * math.Log2(p)
	}

	mean := sum / float64(n)
	uniformity := clamp01(entropy / 8)
	if mean < q.policy.DarkBrightness || mean > q.policy.BrightBrightness {
		uniformity *= 0.5
	}
	return uniformity, mean
}

func (q *QualityAnalyzer) overall(m QualityMetrics) float64 {
	w := q.policy.Weights
	sizeScore := math.Min(m.FaceSizeRatio/q.policy.SizeSaturation, 1)
	return clamp01(w.Sharpness*m.Sharpness +
		w.Lighting*m.LightingUniformity +
		w.Size*sizeScore +
		w.Detection*m.DetectionConfidence)
}

// laplacianVariance is the variance of the 4-neighbour Laplacian over the
// interior pixels of a grayscale image.
func laplacianVariance(gray *image.NRGBA) float64 {
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}
	at := func(x, y int) float64 {
		return float64(gray.Pix[y*gray.Stride+x*4])
	}

	var sum, sumSq float64
	count := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			lap := 4*at(x, y) - at(x-1, y) - at(x+1, y) - at(x, y-1) - at(x, y+1)
			sum += lap
			sumSq += lap * lap
			count++
		}
	}
	mean := sum / float64(count)
	return sumSq/float64(count) - mean*mean
}

// IsAcceptable applies the policy minima in a fixed order and returns the
// first failing reason.
func (q *QualityAnalyzer) IsAcceptable(m QualityMetrics, faceCount int) (bool, string) {
	p := q.policy
	switch {
	case faceCount == 0:
		return false, "No face detected. Please make sure your face is clearly visible"
	case faceCount > 1:
		return false, fmt.Sprintf("Multiple faces detected (%d). Please make sure only one face is visible", faceCount)
	case m.DetectionConfidence < p.MinDetectionConfidence:
		return false, fmt.Sprintf("Face detection confidence too low (%.2f < %.2f). Please face the camera directly",
			m.DetectionConfidence, p.MinDetectionConfidence)
	case m.FaceSizeRatio < p.MinFaceSizeRatio:
		return false, fmt.Sprintf("Face too small in frame (%.1f%% < %.1f%%). Please move closer to the camera",
			m.FaceSizeRatio*100, p.MinFaceSizeRatio*100)
	case m.OverallScore < p.MinOverallScore:
		return false, fmt.Sprintf("Image quality too low (%.2f < %.2f). %s",
			m.OverallScore, p.MinOverallScore, q.weakestHint(m))
	}
	return true, ""
}

// weakestHint names the weakest sub-score.
func (q *QualityAnalyzer) weakestHint(m QualityMetrics) string {
	if m.Sharpness <= m.LightingUniformity {
		return "The image is blurry, hold the camera steady"
	}
	return "Lighting is poor, face a light source evenly"
}

// Feedback lists concrete issues and suggestions for a sample.
func (q *QualityAnalyzer) Feedback(m QualityMetrics) QualityFeedback {
	fb := QualityFeedback{Rating: "good"}
	switch {
	case m.OverallScore < q.policy.MinOverallScore:
		fb.Rating = "poor"
	case m.OverallScore < 0.75:
		fb.Rating = "acceptable"
	}

	if m.Sharpness < 0.5 {
		fb.Issues = append(fb.Issues, "image is blurry")
		fb.Suggestions = append(fb.Suggestions, "hold the camera steady and make sure it is focused")
	}
	if m.LightingUniformity < 0.5 {
		fb.Issues = append(fb.Issues, "lighting is uneven")
		fb.Suggestions = append(fb.Suggestions, "face a window or lamp so light falls evenly on your face")
	}
	if m.Brightness > 0 && m.Brightness < q.policy.DarkBrightness {
		fb.Issues = append(fb.Issues, "image is too dark")
		fb.Suggestions = append(fb.Suggestions, "move to a brighter place")
	} else if m.Brightness > q.policy.BrightBrightness {
		fb.Issues = append(fb.Issues, "image is overexposed")
		fb.Suggestions = append(fb.Suggestions, "avoid direct light behind or on the camera")
	}
	if m.FaceSizeRatio < 0.05 {
		fb.Issues = append(fb.Issues, "face is small in the frame")
		fb.Suggestions = append(fb.Suggestions, "move closer to the camera")
	}
	if m.DetectionConfidence < 0.8 {
		fb.Issues = append(fb.Issues, "face is not clearly visible")
		fb.Suggestions = append(fb.Suggestions, "look at the camera and remove anything covering your face")
	}
	return fb
}
