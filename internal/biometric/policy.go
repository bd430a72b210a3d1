package biometric

import (
	"fmt"
	"math"

	"github.com/kozaktomas/face-enroll/internal/config"
)

// Candidate is one identity's best distance to a query.
type Candidate struct {
	IdentityID string
	Distance   float64
	Source     MatchSource
}

// Decision is the outcome of the matching rule for a ranked candidate list.
type Decision struct {
	Matched    bool
	Ambiguous  bool
	Confidence float64
	Threshold  float64
	Gap        float64 // runner-up minus best, +Inf without a runner-up
	Reason     string
}

// AdaptiveThreshold picks the distance threshold for an identity from its
// own stored quality scores.
func AdaptiveThreshold(p config.MatchingPolicy, qualityScores []float64) float64 {
	count := len(qualityScores)
	if count < p.DefaultMinEmbeddings {
		return p.ThresholdNew
	}
	if count >= p.WellEnrolledMinEmbeddings {
		high := 0
		for _, q := range qualityScores {
			if q >= p.HighQualityScore {
				high++
			}
		}
		if high >= p.WellEnrolledMinHighQuality {
			return p.ThresholdWellEnrolled
		}
	}
	return p.ThresholdDefault
}

// Decide applies threshold then ambiguity to the best and runner-up
// candidates. runnerUp may be nil.
func Decide(p config.MatchingPolicy, best Candidate, runnerUp *Candidate, threshold float64) Decision {
	d := Decision{Threshold: threshold, Gap: math.Inf(1)}
	if runnerUp != nil {
		d.Gap = runnerUp.Distance - best.Distance
	}

	if best.Distance > threshold {
		d.Reason = fmt.Sprintf("No match: closest identity is at distance %.3f, above threshold %.3f", best.Distance, threshold)
		return d
	}
	if d.Gap < p.AmbiguityMargin {
		d.Ambiguous = true
		d.Reason = fmt.Sprintf("Ambiguous match: %s and %s differ by %.3f, below margin %.3f",
			best.IdentityID, runnerUp.IdentityID, d.Gap, p.AmbiguityMargin)
		return d
	}

	d.Matched = true
	d.Confidence = clamp01(1 - best.Distance/threshold)
	d.Reason = fmt.Sprintf("Matched %s with confidence %.2f (%s distance %.3f)", best.IdentityID, d.Confidence, best.Source, best.Distance)
	return d
}
