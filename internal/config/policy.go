package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var policyYAML []byte

// Policy holds every numeric constant that influences an enrollment or
// recognition decision. It is loaded from YAML and validated before use.
type Policy struct {
	Version    int              `yaml:"version" validate:"gte=1"`
	Quality    QualityPolicy    `yaml:"quality"`
	Pose       PosePolicy       `yaml:"pose"`
	Enrollment EnrollmentPolicy `yaml:"enrollment"`
	Matching   MatchingPolicy   `yaml:"matching"`
	Adaptive   AdaptivePolicy   `yaml:"adaptive"`
}

type QualityWeights struct {
	Sharpness float64 `yaml:"sharpness" validate:"gte=0,lte=1"`
	Lighting  float64 `yaml:"lighting" validate:"gte=0,lte=1"`
	Size      float64 `yaml:"size" validate:"gte=0,lte=1"`
	Detection float64 `yaml:"detection" validate:"gte=0,lte=1"`
}

type QualityPolicy struct {
	Weights                QualityWeights `yaml:"weights"`
	SizeSaturation         float64        `yaml:"size_saturation" validate:"gt=0,lte=1"`
	SharpnessLow           float64        `yaml:"sharpness_low" validate:"gte=0"`
	SharpnessHigh          float64        `yaml:"sharpness_high" validate:"gtfield=SharpnessLow"`
	DarkBrightness         float64        `yaml:"dark_brightness" validate:"gte=0,lte=255"`
	BrightBrightness       float64        `yaml:"bright_brightness" validate:"gtfield=DarkBrightness,lte=255"`
	MinDetectionConfidence float64        `yaml:"min_detection_confidence" validate:"gte=0,lte=1"`
	MinFaceSizeRatio       float64        `yaml:"min_face_size_ratio" validate:"gte=0,lte=1"`
	MinOverallScore        float64        `yaml:"min_overall_score" validate:"gte=0,lte=1"`
	AnalysisMaxSide        int            `yaml:"analysis_max_side" validate:"gte=16"`
}

// PosePolicy bounds are in degrees. Yaw is negative when the subject turns to
// their left, pitch is positive when looking up.
type PosePolicy struct {
	FrontMaxYaw      float64 `yaml:"front_max_yaw" validate:"gt=0"`
	SideMinYaw       float64 `yaml:"side_min_yaw" validate:"gt=0"`
	SideMaxYaw       float64 `yaml:"side_max_yaw" validate:"gtfield=SideMinYaw"`
	UpMinPitch       float64 `yaml:"up_min_pitch"`
	UpMaxPitch       float64 `yaml:"up_max_pitch" validate:"gtfield=UpMinPitch"`
	DownMinPitch     float64 `yaml:"down_min_pitch"`
	DownMaxPitch     float64 `yaml:"down_max_pitch" validate:"gtfield=DownMinPitch"`
	MinDistinctPoses int     `yaml:"min_distinct_poses" validate:"gte=1,lte=5"`
}

type EnrollmentPolicy struct {
	MaxPerIdentity        int     `yaml:"max_per_identity" validate:"gte=1"`
	DuplicateDistance     float64 `yaml:"duplicate_distance" validate:"gte=0,lt=2"`
	ReenrollMinEmbeddings int     `yaml:"reenroll_min_embeddings" validate:"gte=0"`
	ReenrollMinAvgQuality float64 `yaml:"reenroll_min_avg_quality" validate:"gte=0,lte=1"`
}

type MatchingPolicy struct {
	AmbiguityMargin            float64 `yaml:"ambiguity_margin" validate:"gte=0"`
	ThresholdNew               float64 `yaml:"threshold_new" validate:"gt=0,lte=2"`
	ThresholdDefault           float64 `yaml:"threshold_default" validate:"gt=0,lte=2"`
	ThresholdWellEnrolled      float64 `yaml:"threshold_well_enrolled" validate:"gt=0,lte=2"`
	DefaultMinEmbeddings       int     `yaml:"default_min_embeddings" validate:"gte=1"`
	WellEnrolledMinEmbeddings  int     `yaml:"well_enrolled_min_embeddings" validate:"gtefield=DefaultMinEmbeddings"`
	WellEnrolledMinHighQuality int     `yaml:"well_enrolled_min_high_quality" validate:"gte=1"`
	HighQualityScore           float64 `yaml:"high_quality_score" validate:"gte=0,lte=1"`
}

type AdaptivePolicy struct {
	Enabled        bool    `yaml:"enabled"`
	MinConfidence  float64 `yaml:"min_confidence" validate:"gte=0,lte=1"`
	RequiredStreak int     `yaml:"required_streak" validate:"gte=1"`
}

// DefaultPolicy returns the embedded policy.
func DefaultPolicy() Policy {
	p, err := ParsePolicy(policyYAML)
	if err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to parse embedded policy.yaml: " + err.Error())
	}
	return *p
}

// ParsePolicy decodes YAML on top of the embedded defaults and validates the result.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(policyYAML, &p); err != nil {
		return nil, fmt.Errorf("parsing embedded policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPolicy reads a policy file. An empty path returns the embedded default.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		p := DefaultPolicy()
		return &p, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	return ParsePolicy(data)
}

var policyValidator = validator.New()

// Validate checks field ranges and the cross-field ordering of thresholds.
func (p *Policy) Validate() error {
	if err := policyValidator.Struct(p); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	w := p.Quality.Weights
	if sum := w.Sharpness + w.Lighting + w.Size + w.Detection; math.Abs(sum-1) > 0.001 {
		return fmt.Errorf("invalid policy: quality weights sum to %.3f, want 1", sum)
	}
	m := p.Matching
	if !(m.ThresholdWellEnrolled <= m.ThresholdDefault && m.ThresholdDefault <= m.ThresholdNew) {
		return errors.New("invalid policy: thresholds must satisfy well_enrolled <= default <= new")
	}
	return nil
}
