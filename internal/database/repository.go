package database

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an embedding or centroid does not exist.
var ErrNotFound = errors.New("not found")

// EnrollmentReader provides read-only access to enrolled embeddings and centroids.
// Every read is scoped to an adapter so that vectors from different embedders
// are never compared.
type EnrollmentReader interface {
	// GetEmbeddings returns the identity's embeddings ordered by creation time
	GetEmbeddings(ctx context.Context, identityID, adapter string) ([]FaceEmbedding, error)
	// CountEmbeddings returns the number of embeddings stored for an identity
	CountEmbeddings(ctx context.Context, identityID, adapter string) (int, error)
	// GetEmbeddingsGrouped returns all embeddings for the adapter keyed by identity
	GetEmbeddingsGrouped(ctx context.Context, adapter string) (map[string][]FaceEmbedding, error)
	// GetCentroid returns the identity's centroid, nil if none exists
	GetCentroid(ctx context.Context, identityID, adapter string) (*IdentityCentroid, error)
	// ListCentroids returns every centroid for the adapter
	ListCentroids(ctx context.Context, adapter string) ([]IdentityCentroid, error)
}

// IdentityTx is a unit of work scoped to a single identity. Everything done
// through it is committed together or not at all.
type IdentityTx interface {
	// Embeddings returns the identity's embeddings as seen inside the transaction
	Embeddings(ctx context.Context, adapter string) ([]FaceEmbedding, error)
	SaveEmbedding(ctx context.Context, emb *FaceEmbedding) error
	// DeleteEmbedding removes one embedding, ErrNotFound if it is not owned by the identity
	DeleteEmbedding(ctx context.Context, embeddingID string) error
	// DeleteAllEmbeddings removes every embedding of the identity and returns how many were removed
	DeleteAllEmbeddings(ctx context.Context) (int, error)
	UpsertCentroid(ctx context.Context, c *IdentityCentroid) error
	DeleteCentroid(ctx context.Context) error
}

// EnrollmentWriter groups identity-scoped writes into transactions.
type EnrollmentWriter interface {
	// WithIdentityTx runs fn inside a transaction that holds the identity's
	// write lock. If fn returns an error nothing is persisted.
	WithIdentityTx(ctx context.Context, identityID string, fn func(tx IdentityTx) error) error
}

// Store is the full persistence surface used by the enrollment engine.
type Store interface {
	EnrollmentReader
	EnrollmentWriter
	Close() error
}
