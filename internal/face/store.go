package face

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/gatepass/internal/models"
)

// Store is the read side of the biometric database plus the entry point for
// enrollment transactions. Lookups return (nil, nil) when nothing matches.
type Store interface {
	GetFaceByUser(ctx context.Context, userID string) (*models.FaceRecord, error)
	GetVector(ctx context.Context, vectorID string) (*models.EmbeddingVector, error)
	SearchSimilar(ctx context.Context, embedding []float32, limit int) ([]models.SimilarityMatch, error)
	Begin(ctx context.Context) (Tx, error)
}

// Tx groups the writes of one enrollment. Nothing is visible to other
// readers until Commit; Rollback after Commit is a no-op.
type Tx interface {
	// LockEnrollment serializes enrollments so the duplicate check and the
	// insert it guards cannot interleave with another registration.
	LockEnrollment(ctx context.Context) error
	GetFaceByUser(ctx context.Context, userID string) (*models.FaceRecord, error)
	SearchSimilar(ctx context.Context, embedding []float32, limit int) ([]models.SimilarityMatch, error)

	DeleteVector(ctx context.Context, vectorID string) error
	DeleteFace(ctx context.Context, faceID uuid.UUID) error
	InsertVector(ctx context.Context, v *models.EmbeddingVector) error
	InsertFace(ctx context.Context, f *models.FaceRecord) error
	// UpdateProfileFace points the user's profile at faceID (nil clears it)
	// and reports whether a profile row was found.
	UpdateProfileFace(ctx context.Context, userType models.UserType, userID string, faceID *uuid.UUID, at time.Time) (bool, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// EvidenceStore keeps copies of captures that were rejected as ambiguous.
type EvidenceStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	ListObjects(ctx context.Context, prefix string) ([]string, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// EventPublisher broadcasts biometric lifecycle events.
type EventPublisher interface {
	PublishBiometric(ctx context.Context, ev models.BiometricEvent) error
}
