package biometric

import (
	"math"
	"testing"

	"github.com/kozaktomas/face-enroll/internal/config"
	"github.com/kozaktomas/face-enroll/internal/detector"
)

func newTestPoseClassifier() *PoseClassifier {
	return NewPoseClassifier(config.DefaultPolicy().Pose)
}

func TestPoseClassifier_ClassifyFromAngles(t *testing.T) {
	c := newTestPoseClassifier()

	tests := []struct {
		name       string
		yaw, pitch float64
		want       Pose
	}{
		{"level front", 0, 0, PoseFront},
		{"slight turn front", 14.9, 0, PoseFront},
		{"yaw exactly at cutoff is right", 15, 0, PoseRight30},
		{"negative yaw at cutoff is left", -15, 0, PoseLeft30},
		{"left 30", -30, 0, PoseLeft30},
		{"right 30", 30, 5, PoseRight30},
		{"side band upper edge", 45, 0, PoseRight30},
		{"beyond side band defaults to front", 60, 0, PoseFront},
		{"up", 0, 15, PoseUp15},
		{"up edge inclusive", 0, 10, PoseUp15},
		{"down", 0, -20, PoseDown15},
		{"vertical wins over side", 30, 20, PoseUp15},
		{"pitch beyond band", 0, 50, PoseFront},
		{"between front pitch and up band", 0, 9.9, PoseFront},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.ClassifyFromAngles(tt.yaw, tt.pitch, 0)
			if got.Category != tt.want {
				t.Errorf("ClassifyFromAngles(%v, %v) = %q, want %q", tt.yaw, tt.pitch, got.Category, tt.want)
			}
		})
	}
}

func TestEstimateAnglesFromLandmarks(t *testing.T) {
	level := []detector.Point{{X: 40, Y: 50}, {X: 80, Y: 50}, {X: 60, Y: 74}}
	yaw, pitch, roll, ok := EstimateAnglesFromLandmarks(level)
	if !ok {
		t.Fatal("expected estimate for a level face")
	}
	if math.Abs(yaw) > 0.001 || math.Abs(pitch) > 0.001 || math.Abs(roll) > 0.001 {
		t.Errorf("level face angles = (%v, %v, %v), want zeros", yaw, pitch, roll)
	}

	// Nose shifted a quarter of the inter-eye distance to image right.
	turned := []detector.Point{{X: 40, Y: 50}, {X: 80, Y: 50}, {X: 70, Y: 74}}
	yaw, _, _, _ = EstimateAnglesFromLandmarks(turned)
	if math.Abs(yaw+30) > 0.001 {
		t.Errorf("turned face yaw = %v, want -30", yaw)
	}

	if _, _, _, ok := EstimateAnglesFromLandmarks([]detector.Point{{X: 1, Y: 1}}); ok {
		t.Error("expected failure with too few landmarks")
	}
	if _, _, _, ok := EstimateAnglesFromLandmarks([]detector.Point{{X: 5, Y: 5}, {X: 5, Y: 5}, {X: 5, Y: 9}}); ok {
		t.Error("expected failure for coincident eyes")
	}
}

func TestPoseClassifier_Classify(t *testing.T) {
	c := newTestPoseClassifier()

	tests := []struct {
		name          string
		face          detector.Face
		want          Pose
		wantEstimated bool
	}{
		{"detector pose", detector.Face{Pose: &detector.HeadPose{Yaw: -25}}, PoseLeft30, false},
		{"landmark fallback", detector.Face{Landmarks: []detector.Point{{X: 40, Y: 50}, {X: 80, Y: 50}, {X: 70, Y: 74}}}, PoseLeft30, true},
		{"nothing available", detector.Face{}, PoseFront, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.face)
			if got.Category != tt.want || got.Estimated != tt.wantEstimated {
				t.Errorf("Classify() = %+v, want %q estimated=%v", got, tt.want, tt.wantEstimated)
			}
		})
	}
}

func TestPoseClassifier_Coverage(t *testing.T) {
	c := newTestPoseClassifier()

	cov := c.Coverage([]Pose{PoseFront, PoseFront, PoseLeft30, PoseUnknown})
	if len(cov.Covered) != 2 {
		t.Errorf("Covered = %v, want 2 categories", cov.Covered)
	}
	if math.Abs(cov.Score-0.4) > 0.0001 {
		t.Errorf("Score = %v, want 0.4", cov.Score)
	}
	if cov.Complete {
		t.Error("two categories must not be complete")
	}
	if len(cov.RequiredMissing) != 1 || cov.RequiredMissing[0] != PoseRight30 {
		t.Errorf("RequiredMissing = %v, want [right_30]", cov.RequiredMissing)
	}
	if len(cov.Missing) != 3 {
		t.Errorf("Missing = %v, want 3 categories", cov.Missing)
	}

	cov = c.Coverage([]Pose{PoseFront, PoseUp15, PoseDown15})
	if !cov.Complete {
		t.Error("three distinct categories must be complete")
	}
	if len(cov.RequiredMissing) != 2 {
		t.Errorf("RequiredMissing = %v, want left and right", cov.RequiredMissing)
	}
}
