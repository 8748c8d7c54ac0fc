package face

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/gatepass/internal/models"
	"github.com/your-org/gatepass/internal/observability"
)

type similaritySearcher interface {
	SearchSimilar(ctx context.Context, embedding []float32, limit int) ([]models.SimilarityMatch, error)
}

// checkDuplicate rejects embeddings that already belong to someone other than
// userID. An empty userID treats every stored face as foreign.
func (s *Service) checkDuplicate(ctx context.Context, idx similaritySearcher, embedding []float32, userID string) error {
	start := time.Now()
	matches, err := idx.SearchSimilar(ctx, embedding, s.topK)
	observability.InferenceDuration.WithLabelValues("search").Observe(time.Since(start).Seconds())
	if err != nil {
		return storageFailure("similarity search", err)
	}

	for _, m := range matches {
		if m.UserID == userID {
			continue
		}
		if m.Score >= s.th.DuplicateHigh {
			slog.Warn("duplicate face rejected",
				"user_id", userID, "owner_id", m.UserID, "score", m.Score)
			return &DuplicateFaceError{OwnerID: m.UserID, Score: m.Score}
		}
	}
	return nil
}

// VerifyThenReplace enrolls payload as the user's only face. A user who
// already has a face is re-enrolled only after the capture verifies against
// it; users without a face are enrolled directly. The previous face and
// vector are removed and the profile is repointed in one transaction, so
// readers see either the old enrollment or the new one.
func (s *Service) VerifyThenReplace(ctx context.Context, userID string, userType models.UserType, payload string) (*models.FaceRecord, error) {
	if err := validateSubject(userID, userType); err != nil {
		return nil, err
	}

	img, err := DecodeImage(payload)
	if err != nil {
		return nil, err
	}
	sample, err := s.extractor.Extract(ctx, img.Pixels)
	if err != nil {
		return nil, err
	}

	var verified *uuid.UUID
	rec, vec, err := s.loadEnrollment(ctx, userID)
	switch {
	case errors.Is(err, ErrNotRegistered):
		slog.Info("no face on record, enrolling", "user_id", userID)
	case err != nil:
		return nil, err
	default:
		res, err := s.decide(ctx, rec, vec, img, sample)
		if err != nil {
			return nil, err
		}
		if !res.Verified {
			slog.Warn("re-enrollment refused", "user_id", userID, "score", res.Score)
			return nil, fmt.Errorf("%w (score %.3f)", ErrIdentityMismatch, res.Score)
		}
		verified = &rec.ID
	}

	return s.replaceSample(ctx, userID, userType, img, sample, verified)
}

// replaceSample commits sample as the user's face. verified is the face the
// sample was checked against, nil for a first enrollment.
func (s *Service) replaceSample(ctx context.Context, userID string, userType models.UserType, img *Image, sample *Sample, verified *uuid.UUID) (*models.FaceRecord, error) {
	if err := s.checkDuplicate(ctx, s.store, sample.Embedding, userID); err != nil {
		if errors.Is(err, ErrDuplicateFace) {
			s.rejectDuplicate(ctx, "pre_check", userID, userType, err)
		}
		return nil, err
	}

	rec := &models.FaceRecord{
		ID:        uuid.New(),
		UserID:    userID,
		UserType:  userType,
		ImageData: img.Raw,
		VectorRef: models.VectorIDFor(userID),
		CreatedAt: s.now().UTC(),
	}

	start := time.Now()
	old, err := s.commitReplace(ctx, rec, sample.Embedding, verified)
	result := "ok"
	if err != nil {
		result = "error"
	}
	observability.TransactionDuration.WithLabelValues("replace", result).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, ErrDuplicateFace) {
			s.rejectDuplicate(ctx, "in_tx", userID, userType, err)
		} else {
			observability.Enrollments.WithLabelValues("failed").Inc()
		}
		slog.Error("face replace failed", "user_id", userID, "error", err)
		return nil, err
	}

	ev := models.BiometricEvent{
		Type:     models.EventFaceRegistered,
		UserID:   userID,
		UserType: userType,
		FaceID:   &rec.ID,
		VectorID: rec.VectorRef,
	}
	if old != nil {
		ev.Type = models.EventFaceReplaced
		observability.Enrollments.WithLabelValues("replaced").Inc()
		slog.Info("face replaced", "user_id", userID, "face_id", rec.ID, "previous_face_id", old.ID)
	} else {
		observability.Enrollments.WithLabelValues("registered").Inc()
		slog.Info("face registered", "user_id", userID, "face_id", rec.ID)
	}
	s.publish(ctx, ev)

	return rec, nil
}

// commitReplace runs the five writes of a replacement in one transaction and
// returns the face it displaced, if any. The face on record must still be
// the verified one.
func (s *Service) commitReplace(ctx context.Context, rec *models.FaceRecord, embedding []float32, verified *uuid.UUID) (*models.FaceRecord, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, storageFailure("begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.LockEnrollment(ctx); err != nil {
		return nil, storageFailure("lock enrollment", err)
	}
	// A concurrent enrollment may have committed since the pre-check.
	if err := s.checkDuplicate(ctx, tx, embedding, rec.UserID); err != nil {
		return nil, err
	}

	old, err := tx.GetFaceByUser(ctx, rec.UserID)
	if err != nil {
		return nil, storageFailure("load face", err)
	}
	if !sameFace(old, verified) {
		return nil, fmt.Errorf("%w: enrollment of %s changed during verification", ErrIdentityMismatch, rec.UserID)
	}
	if old != nil {
		if err := tx.DeleteVector(ctx, old.VectorRef); err != nil {
			return nil, storageFailure("delete vector", err)
		}
		if err := tx.DeleteFace(ctx, old.ID); err != nil {
			return nil, storageFailure("delete face", err)
		}
	}

	vec := &models.EmbeddingVector{ID: rec.VectorRef, UserID: rec.UserID, Embedding: embedding}
	if err := tx.InsertVector(ctx, vec); err != nil {
		return nil, storageFailure("insert vector", err)
	}
	if err := tx.InsertFace(ctx, rec); err != nil {
		return nil, storageFailure("insert face", err)
	}

	found, err := tx.UpdateProfileFace(ctx, rec.UserType, rec.UserID, &rec.ID, rec.CreatedAt)
	if err != nil {
		return nil, storageFailure("update profile", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s %s", ErrProfileNotFound, rec.UserType, rec.UserID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageFailure("commit", err)
	}
	return old, nil
}

func sameFace(old *models.FaceRecord, verified *uuid.UUID) bool {
	if old == nil || verified == nil {
		return old == nil && verified == nil
	}
	return old.ID == *verified
}

func (s *Service) rejectDuplicate(ctx context.Context, stage, userID string, userType models.UserType, err error) {
	observability.Enrollments.WithLabelValues("duplicate").Inc()
	observability.DuplicateRejections.WithLabelValues(stage).Inc()

	var dup *DuplicateFaceError
	if !errors.As(err, &dup) {
		return
	}
	s.publish(ctx, models.BiometricEvent{
		Type:       models.EventFaceDuplicate,
		UserID:     userID,
		UserType:   userType,
		Score:      dup.Score,
		ConflictID: dup.OwnerID,
	})
}

func validateSubject(userID string, userType models.UserType) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	if !userType.Valid() {
		return fmt.Errorf("%w: unknown user_type %q", ErrInvalidRequest, userType)
	}
	return nil
}
