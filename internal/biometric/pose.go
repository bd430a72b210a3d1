package biometric

import (
	"math"

	"github.com/kozaktomas/face-enroll/internal/config"
	"github.com/kozaktomas/face-enroll/internal/detector"
)

// Pose is a discretized head orientation bucket.
type Pose string

const (
	PoseFront   Pose = "front"
	PoseLeft30  Pose = "left_30"
	PoseRight30 Pose = "right_30"
	PoseUp15    Pose = "up_15"
	PoseDown15  Pose = "down_15"
	PoseUnknown Pose = ""
)

// RecommendedPoses is the full capture set, RequiredPoses the minimum.
var (
	RecommendedPoses = []Pose{PoseFront, PoseLeft30, PoseRight30, PoseUp15, PoseDown15}
	RequiredPoses    = []Pose{PoseFront, PoseLeft30, PoseRight30}
)

// neutralNoseDrop is the vertical nose-to-eye-midpoint offset of a level
// face, in inter-eye distances.
const neutralNoseDrop = 0.6

// PoseInfo is the estimated orientation of one face.
type PoseInfo struct {
	Yaw       float64 `json:"yaw"`
	Pitch     float64 `json:"pitch"`
	Roll      float64 `json:"roll"`
	Category  Pose    `json:"category"`
	Estimated bool    `json:"estimated"` // true when derived from landmarks
}

// PoseClassifier maps head angles to pose buckets.
type PoseClassifier struct {
	policy config.PosePolicy
}

func NewPoseClassifier(policy config.PosePolicy) *PoseClassifier {
	return &PoseClassifier{policy: policy}
}

// ClassifyFromAngles buckets yaw/pitch in degrees. Vertical bands win over
// horizontal ones; angles outside every band fall back to front.
func (c *PoseClassifier) ClassifyFromAngles(yaw, pitch, roll float64) PoseInfo {
	p := c.policy
	info := PoseInfo{Yaw: yaw, Pitch: pitch, Roll: roll, Category: PoseFront}

	absYaw := math.Abs(yaw)
	switch {
	case pitch >= p.UpMinPitch && pitch <= p.UpMaxPitch:
		info.Category = PoseUp15
	case pitch >= p.DownMinPitch && pitch <= p.DownMaxPitch:
		info.Category = PoseDown15
	case absYaw < p.FrontMaxYaw:
		info.Category = PoseFront
	case absYaw >= p.SideMinYaw && absYaw <= p.SideMaxYaw && yaw < 0:
		info.Category = PoseLeft30
	case absYaw >= p.SideMinYaw && absYaw <= p.SideMaxYaw:
		info.Category = PoseRight30
	}
	return info
}

// Classify uses the detector's pose when present, the landmark estimate
// otherwise, and defaults to a level front pose when neither is available.
func (c *PoseClassifier) Classify(face detector.Face) PoseInfo {
	if face.Pose != nil {
		return c.ClassifyFromAngles(face.Pose.Yaw, face.Pose.Pitch, face.Pose.Roll)
	}
	if yaw, pitch, roll, ok := EstimateAnglesFromLandmarks(face.Landmarks); ok {
		info := c.ClassifyFromAngles(yaw, pitch, roll)
		info.Estimated = true
		return info
	}
	return PoseInfo{Category: PoseFront}
}

// EstimateAnglesFromLandmarks derives yaw, pitch and roll from the five-point
// layout using the nose offset from the eye midpoint, scaled by the
// inter-eye distance.
func EstimateAnglesFromLandmarks(lm []detector.Point) (yaw, pitch, roll float64, ok bool) {
	if len(lm) < 3 {
		return 0, 0, 0, false
	}
	leftEye, rightEye, nose := lm[0], lm[1], lm[2]

	dx := rightEye.X - leftEye.X
	dy := rightEye.Y - leftEye.Y
	eyeDist := math.Hypot(dx, dy)
	if eyeDist < 1e-6 {
		return 0, 0, 0, false
	}

	midX := (leftEye.X + rightEye.X) / 2
	midY := (leftEye.Y + rightEye.Y) / 2
	horizontal := (nose.X - midX) / eyeDist
	vertical := (nose.Y - midY) / eyeDist

	// The nose moves towards image right when the subject turns to their left.
	yaw = -degrees(math.Asin(clampUnit(2 * horizontal)))
	pitch = degrees(math.Asin(clampUnit(2 * (neutralNoseDrop - vertical))))
	roll = degrees(math.Atan2(dy, dx))
	return yaw, pitch, roll, true
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// PoseCoverage summarizes which buckets an identity has captured.
type PoseCoverage struct {
	Covered         []Pose  `json:"covered"`
	Missing         []Pose  `json:"missing"`
	RequiredMissing []Pose  `json:"required_missing"`
	Score           float64 `json:"score"`
	Complete        bool    `json:"complete"`
}

// Coverage computes the pose summary for a list of captured categories.
func (c *PoseClassifier) Coverage(captured []Pose) PoseCoverage {
	seen := make(map[Pose]bool, len(captured))
	for _, p := range captured {
		if p != PoseUnknown {
			seen[p] = true
		}
	}

	cov := PoseCoverage{
		Covered:         []Pose{},
		Missing:         missingFrom(RecommendedPoses, seen),
		RequiredMissing: missingFrom(RequiredPoses, seen),
	}
	for _, p := range RecommendedPoses {
		if seen[p] {
			cov.Covered = append(cov.Covered, p)
		}
	}
	cov.Score = float64(len(cov.Covered)) / float64(len(RecommendedPoses))
	cov.Complete = len(cov.Covered) >= c.policy.MinDistinctPoses
	return cov
}

func missingFrom(set []Pose, seen map[Pose]bool) []Pose {
	out := []Pose{}
	for _, p := range set {
		if !seen[p] {
			out = append(out, p)
		}
	}
	return out
}
