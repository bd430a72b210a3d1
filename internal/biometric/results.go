package biometric

// EnrollResult reports a single enrollment attempt.
type EnrollResult struct {
	Success        bool             `json:"success"`
	IdentityID     string           `json:"identity_id"`
	EmbeddingID    string           `json:"embedding_id,omitempty"`
	EncodingsCount int              `json:"encodings_count"`
	QualityScore   float64          `json:"quality_score"`
	PoseCategory   Pose             `json:"pose_category,omitempty"`
	Message        string           `json:"message"`
	Quality        *QualityMetrics  `json:"quality,omitempty"`
	Feedback       *QualityFeedback `json:"feedback,omitempty"`
	LivenessScore  *float64         `json:"liveness_score,omitempty"`
}

// BatchEnrollResult reports a batch; partial success is still success.
type BatchEnrollResult struct {
	Success        bool           `json:"success"`
	IdentityID     string         `json:"identity_id"`
	EncodingsCount int            `json:"encodings_count"`
	Enrolled       int            `json:"enrolled"`
	Attempted      int            `json:"attempted"`
	Message        string         `json:"message"`
	Results        []EnrollResult `json:"results"`
}

// RecognitionResult is the outcome of a recognition. A miss or an ambiguous
// match is reported here, not as an error.
type RecognitionResult struct {
	Matched          bool        `json:"matched"`
	IdentityID       string      `json:"identity_id,omitempty"`
	Confidence       float64     `json:"confidence"`
	Distance         float64     `json:"distance"`
	Source           MatchSource `json:"source,omitempty"`
	Threshold        float64     `json:"threshold,omitempty"`
	Gap              *float64    `json:"gap,omitempty"`
	RunnerUpID       string      `json:"runner_up_id,omitempty"`
	Ambiguous        bool        `json:"ambiguous,omitempty"`
	Message          string      `json:"message"`
	LivenessScore    *float64    `json:"liveness_score,omitempty"`
	AdaptiveEnrolled bool        `json:"adaptive_enrolled,omitempty"`
}

// EnrollmentMetrics summarizes an identity's enrollment state.
type EnrollmentMetrics struct {
	IdentityID         string  `json:"identity_id"`
	Count              int     `json:"count"`
	AdaptiveCount      int     `json:"adaptive_count"`
	AvgQuality         float64 `json:"avg_quality"`
	PoseCoverage       []Pose  `json:"pose_coverage"`
	MissingPoses       []Pose  `json:"missing_poses"`
	RequiredMissing    []Pose  `json:"required_missing"`
	PoseCoverageScore  float64 `json:"pose_coverage_score"`
	EnrollmentComplete bool    `json:"enrollment_complete"`
	NeedsReEnrollment  bool    `json:"needs_re_enrollment"`
	Reason             string  `json:"reason,omitempty"`
}

// IdentityMatch is one SearchIdentities hit.
type IdentityMatch struct {
	IdentityID string  `json:"identity_id"`
	Distance   float64 `json:"distance"`
}
