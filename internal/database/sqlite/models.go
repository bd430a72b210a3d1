package sqlite

import (
	"encoding/binary"
	"math"
	"strings"
	"time"

	"github.com/kozaktomas/face-enroll/internal/database"
)

// embeddingRow is the face_embeddings table. Vectors are stored as
// little-endian float32 blobs.
type embeddingRow struct {
	ID            string    `gorm:"primaryKey;size:36"`
	IdentityID    string    `gorm:"not null;size:255;index:idx_face_embeddings_identity,priority:1"`
	Adapter       string    `gorm:"not null;size:255;index:idx_face_embeddings_identity,priority:2;index:idx_face_embeddings_adapter"`
	EmbeddingData []byte    `gorm:"not null"`
	QualityScore  float64   `gorm:"not null"`
	PoseCategory  string    `gorm:"size:32;not null;default:''"`
	IsAdaptive    bool      `gorm:"not null;default:false"`
	SourceLabel   string    `gorm:"size:64;not null;default:''"`
	CreatedAt     time.Time `gorm:"not null;index:idx_face_embeddings_identity,priority:3"`
}

func (embeddingRow) TableName() string {
	return "face_embeddings"
}

type centroidRow struct {
	IdentityID      string `gorm:"primaryKey;size:255"`
	CentroidData    []byte `gorm:"not null"`
	EmbeddingCount  int    `gorm:"not null"`
	AvgQualityScore float64
	PoseCoverage    string `gorm:"not null;default:''"` // comma separated
	Adapter         string `gorm:"not null;size:255;index"`
	UpdatedAt       time.Time
}

func (centroidRow) TableName() string {
	return "identity_centroids"
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func toEmbeddingRow(e *database.FaceEmbedding) embeddingRow {
	return embeddingRow{
		ID:            e.ID,
		IdentityID:    e.IdentityID,
		Adapter:       e.Adapter,
		EmbeddingData: encodeVector(e.Vector),
		QualityScore:  e.QualityScore,
		PoseCategory:  e.PoseCategory,
		IsAdaptive:    e.IsAdaptive,
		SourceLabel:   e.SourceLabel,
		CreatedAt:     e.CreatedAt,
	}
}

func (r embeddingRow) toEmbedding() database.FaceEmbedding {
	return database.FaceEmbedding{
		ID:           r.ID,
		IdentityID:   r.IdentityID,
		Vector:       decodeVector(r.EmbeddingData),
		QualityScore: r.QualityScore,
		PoseCategory: r.PoseCategory,
		IsAdaptive:   r.IsAdaptive,
		SourceLabel:  r.SourceLabel,
		Adapter:      r.Adapter,
		CreatedAt:    r.CreatedAt,
	}
}

func toCentroidRow(c *database.IdentityCentroid) centroidRow {
	return centroidRow{
		IdentityID:      c.IdentityID,
		CentroidData:    encodeVector(c.Vector),
		EmbeddingCount:  c.EmbeddingCount,
		AvgQualityScore: c.AvgQualityScore,
		PoseCoverage:    strings.Join(c.PoseCoverage, ","),
		Adapter:         c.Adapter,
		UpdatedAt:       c.UpdatedAt,
	}
}

func (r centroidRow) toCentroid() database.IdentityCentroid {
	c := database.IdentityCentroid{
		IdentityID:      r.IdentityID,
		Vector:          decodeVector(r.CentroidData),
		EmbeddingCount:  r.EmbeddingCount,
		AvgQualityScore: r.AvgQualityScore,
		Adapter:         r.Adapter,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.PoseCoverage != "" {
		c.PoseCoverage = strings.Split(r.PoseCoverage, ",")
	}
	return c
}
