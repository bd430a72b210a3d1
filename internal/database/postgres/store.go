package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-enroll/internal/database"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var embeddingColumns = []string{
	"id", "identity_id", "embedding", "quality_score", "pose_category",
	"is_adaptive", "source_label", "adapter", "created_at",
}

var centroidColumns = []string{
	"identity_id", "centroid", "embedding_count", "avg_quality_score",
	"pose_coverage", "adapter", "updated_at",
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store is the PostgreSQL implementation of database.Store. Vectors are
// stored as pgvector columns; identity writes are serialized with a
// transaction scoped advisory lock.
type Store struct {
	pool *Pool
}

var _ database.Store = (*Store)(nil)

// NewStore creates a store on top of an already migrated pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// GetEmbeddings returns the identity's embeddings ordered by creation time.
func (s *Store) GetEmbeddings(ctx context.Context, identityID, adapter string) ([]database.FaceEmbedding, error) {
	return selectEmbeddings(ctx, s.pool.db, sq.Eq{"identity_id": identityID, "adapter": adapter})
}

// CountEmbeddings returns the number of embeddings stored for an identity.
func (s *Store) CountEmbeddings(ctx context.Context, identityID, adapter string) (int, error) {
	query, args, err := psql.Select("COUNT(*)").
		From("face_embeddings").
		Where(sq.Eq{"identity_id": identityID, "adapter": adapter}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}

	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

// GetEmbeddingsGrouped returns all embeddings for the adapter keyed by identity.
func (s *Store) GetEmbeddingsGrouped(ctx context.Context, adapter string) (map[string][]database.FaceEmbedding, error) {
	embs, err := selectEmbeddings(ctx, s.pool.db, sq.Eq{"adapter": adapter})
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]database.FaceEmbedding)
	for _, emb := range embs {
		grouped[emb.IdentityID] = append(grouped[emb.IdentityID], emb)
	}
	return grouped, nil
}

// GetCentroid returns the identity's centroid, nil if none exists.
func (s *Store) GetCentroid(ctx context.Context, identityID, adapter string) (*database.IdentityCentroid, error) {
	centroids, err := selectCentroids(ctx, s.pool.db, sq.Eq{"identity_id": identityID, "adapter": adapter})
	if err != nil {
		return nil, err
	}
	if len(centroids) == 0 {
		return nil, nil
	}
	return &centroids[0], nil
}

// ListCentroids returns every centroid for the adapter ordered by identity.
func (s *Store) ListCentroids(ctx context.Context, adapter string) ([]database.IdentityCentroid, error) {
	return selectCentroids(ctx, s.pool.db, sq.Eq{"adapter": adapter})
}

// WithIdentityTx runs fn in a transaction holding an advisory lock on the
// identity, so concurrent writers from other processes are serialized too.
func (s *Store) WithIdentityTx(ctx context.Context, identityID string, fn func(tx database.IdentityTx) error) error {
	return s.pool.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", identityID); err != nil {
			return fmt.Errorf("lock identity %s: %w", identityID, err)
		}
		return fn(&identityTx{tx: tx, identityID: identityID})
	})
}

type identityTx struct {
	tx         *sql.Tx
	identityID string
}

func (t *identityTx) Embeddings(ctx context.Context, adapter string) ([]database.FaceEmbedding, error) {
	return selectEmbeddings(ctx, t.tx, sq.Eq{"identity_id": t.identityID, "adapter": adapter})
}

func (t *identityTx) SaveEmbedding(ctx context.Context, emb *database.FaceEmbedding) error {
	if emb.IdentityID != t.identityID {
		return fmt.Errorf("embedding belongs to %s, transaction is scoped to %s", emb.IdentityID, t.identityID)
	}
	createdAt := emb.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query, args, err := psql.Insert("face_embeddings").
		Columns(embeddingColumns...).
		Values(emb.ID, emb.IdentityID, pgvector.NewVector(emb.Vector), emb.QualityScore, emb.PoseCategory,
			emb.IsAdaptive, emb.SourceLabel, emb.Adapter, createdAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save embedding %s: %w", emb.ID, err)
	}
	return nil
}

func (t *identityTx) DeleteEmbedding(ctx context.Context, embeddingID string) error {
	query, args, err := psql.Delete("face_embeddings").
		Where(sq.Eq{"id": embeddingID, "identity_id": t.identityID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		// A malformed UUID cannot match any row.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "22P02" {
			return database.ErrNotFound
		}
		return fmt.Errorf("delete embedding %s: %w", embeddingID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return database.ErrNotFound
	}
	return nil
}

func (t *identityTx) DeleteAllEmbeddings(ctx context.Context) (int, error) {
	query, args, err := psql.Delete("face_embeddings").
		Where(sq.Eq{"identity_id": t.identityID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete embeddings of %s: %w", t.identityID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func (t *identityTx) UpsertCentroid(ctx context.Context, c *database.IdentityCentroid) error {
	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	coverage := c.PoseCoverage
	if coverage == nil {
		coverage = []string{}
	}

	query, args, err := psql.Insert("identity_centroids").
		Columns(centroidColumns...).
		Values(t.identityID, pgvector.NewVector(c.Vector), c.EmbeddingCount, c.AvgQualityScore,
			pq.Array(coverage), c.Adapter, updatedAt).
		Suffix(`ON CONFLICT (identity_id) DO UPDATE SET
			centroid = EXCLUDED.centroid,
			embedding_count = EXCLUDED.embedding_count,
			avg_quality_score = EXCLUDED.avg_quality_score,
			pose_coverage = EXCLUDED.pose_coverage,
			adapter = EXCLUDED.adapter,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert centroid of %s: %w", t.identityID, err)
	}
	return nil
}

func (t *identityTx) DeleteCentroid(ctx context.Context) error {
	query, args, err := psql.Delete("identity_centroids").
		Where(sq.Eq{"identity_id": t.identityID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete centroid of %s: %w", t.identityID, err)
	}
	return nil
}

func selectEmbeddings(ctx context.Context, q querier, where sq.Eq) ([]database.FaceEmbedding, error) {
	query, args, err := psql.Select(embeddingColumns...).
		From("face_embeddings").
		Where(where).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	embeddings := []database.FaceEmbedding{}
	for rows.Next() {
		var emb database.FaceEmbedding
		var vec pgvector.Vector
		if err := rows.Scan(
			&emb.ID,
			&emb.IdentityID,
			&vec,
			&emb.QualityScore,
			&emb.PoseCategory,
			&emb.IsAdaptive,
			&emb.SourceLabel,
			&emb.Adapter,
			&emb.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		emb.Vector = vec.Slice()
		embeddings = append(embeddings, emb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return embeddings, nil
}

func selectCentroids(ctx context.Context, q querier, where sq.Eq) ([]database.IdentityCentroid, error) {
	query, args, err := psql.Select(centroidColumns...).
		From("identity_centroids").
		Where(where).
		OrderBy("identity_id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query centroids: %w", err)
	}
	defer rows.Close()

	var centroids []database.IdentityCentroid
	for rows.Next() {
		var c database.IdentityCentroid
		var vec pgvector.Vector
		if err := rows.Scan(
			&c.IdentityID,
			&vec,
			&c.EmbeddingCount,
			&c.AvgQualityScore,
			pq.Array(&c.PoseCoverage),
			&c.Adapter,
			&c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan centroid: %w", err)
		}
		c.Vector = vec.Slice()
		centroids = append(centroids, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate centroids: %w", err)
	}
	return centroids, nil
}
