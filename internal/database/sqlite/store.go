// Package sqlite is a single-file database.Store built on GORM, used when no
// PostgreSQL URL is configured.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kozaktomas/face-enroll/internal/database"
	"github.com/kozaktomas/face-enroll/internal/logging"
)

// Store implements database.Store on a SQLite file.
type Store struct {
	db *gorm.DB
}

var _ database.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and migrates the schema.
func Open(path string, log *logrus.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log == nil {
		log = logging.Discard()
	}

	gormLogger := logger.New(log, logger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})

	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
	}
	// SQLite allows a single writer; one connection keeps transactions from
	// failing with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&embeddingRow{}, &centroidRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}

	log.WithField("path", path).Info("sqlite store ready")
	return &Store{db: db}, nil
}

// Close closes the database file.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) GetEmbeddings(ctx context.Context, identityID, adapter string) ([]database.FaceEmbedding, error) {
	return findEmbeddings(s.db.WithContext(ctx).Where("identity_id = ? AND adapter = ?", identityID, adapter))
}

func (s *Store) CountEmbeddings(ctx context.Context, identityID, adapter string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&embeddingRow{}).
		Where("identity_id = ? AND adapter = ?", identityID, adapter).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count embeddings for %s: %w", identityID, err)
	}
	return int(n), nil
}

func (s *Store) GetEmbeddingsGrouped(ctx context.Context, adapter string) (map[string][]database.FaceEmbedding, error) {
	embs, err := findEmbeddings(s.db.WithContext(ctx).Where("adapter = ?", adapter))
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]database.FaceEmbedding)
	for _, e := range embs {
		grouped[e.IdentityID] = append(grouped[e.IdentityID], e)
	}
	return grouped, nil
}

func (s *Store) GetCentroid(ctx context.Context, identityID, adapter string) (*database.IdentityCentroid, error) {
	var row centroidRow
	err := s.db.WithContext(ctx).Where("identity_id = ? AND adapter = ?", identityID, adapter).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get centroid for %s: %w", identityID, err)
	}
	c := row.toCentroid()
	return &c, nil
}

func (s *Store) ListCentroids(ctx context.Context, adapter string) ([]database.IdentityCentroid, error) {
	var rows []centroidRow
	err := s.db.WithContext(ctx).Where("adapter = ?", adapter).Order("identity_id ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list centroids: %w", err)
	}
	centroids := make([]database.IdentityCentroid, 0, len(rows))
	for _, r := range rows {
		centroids = append(centroids, r.toCentroid())
	}
	return centroids, nil
}

// WithIdentityTx runs fn inside a GORM transaction. SQLite serializes
// writers, which is what keeps concurrent enrollments under the cap.
func (s *Store) WithIdentityTx(ctx context.Context, identityID string, fn func(tx database.IdentityTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&identityTx{db: tx, identityID: identityID})
	})
}

type identityTx struct {
	db         *gorm.DB
	identityID string
}

func (t *identityTx) Embeddings(ctx context.Context, adapter string) ([]database.FaceEmbedding, error) {
	return findEmbeddings(t.db.WithContext(ctx).Where("identity_id = ? AND adapter = ?", t.identityID, adapter))
}

func (t *identityTx) SaveEmbedding(ctx context.Context, emb *database.FaceEmbedding) error {
	if emb.IdentityID != t.identityID {
		return fmt.Errorf("embedding belongs to %s, transaction is scoped to %s", emb.IdentityID, t.identityID)
	}
	row := toEmbeddingRow(emb)
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save embedding %s: %w", emb.ID, err)
	}
	emb.CreatedAt = row.CreatedAt
	return nil
}

func (t *identityTx) DeleteEmbedding(ctx context.Context, embeddingID string) error {
	res := t.db.WithContext(ctx).
		Where("id = ? AND identity_id = ?", embeddingID, t.identityID).
		Delete(&embeddingRow{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete embedding %s: %w", embeddingID, res.Error)
	}
	if res.RowsAffected == 0 {
		return database.ErrNotFound
	}
	return nil
}

func (t *identityTx) DeleteAllEmbeddings(ctx context.Context) (int, error) {
	res := t.db.WithContext(ctx).Where("identity_id = ?", t.identityID).Delete(&embeddingRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete embeddings of %s: %w", t.identityID, res.Error)
	}
	return int(res.RowsAffected), nil
}

func (t *identityTx) UpsertCentroid(ctx context.Context, c *database.IdentityCentroid) error {
	row := toCentroidRow(c)
	row.IdentityID = t.identityID
	if err := t.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("failed to upsert centroid of %s: %w", t.identityID, err)
	}
	return nil
}

func (t *identityTx) DeleteCentroid(ctx context.Context) error {
	err := t.db.WithContext(ctx).Where("identity_id = ?", t.identityID).Delete(&centroidRow{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete centroid of %s: %w", t.identityID, err)
	}
	return nil
}

func findEmbeddings(q *gorm.DB) ([]database.FaceEmbedding, error) {
	var rows []embeddingRow
	if err := q.Order("created_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	embs := make([]database.FaceEmbedding, 0, len(rows))
	for _, r := range rows {
		embs = append(embs, r.toEmbedding())
	}
	return embs, nil
}
