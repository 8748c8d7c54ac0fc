package face

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/your-org/gatepass/internal/config"
	"github.com/your-org/gatepass/internal/models"
	"github.com/your-org/gatepass/internal/observability"
)

// Deps are the collaborators of a Service. Evidence and Events are optional.
type Deps struct {
	Store     Store
	Extractor *Extractor
	Evidence  EvidenceStore
	Events    EventPublisher
}

// Service is the face identity engine: 1:1 verification, duplicate
// screening, staged enrollment and atomic face replacement.
type Service struct {
	store     Store
	extractor *Extractor
	evidence  EvidenceStore
	events    EventPublisher
	staging   *StagingCache
	th        config.ThresholdConfig
	topK      int
	now       func() time.Time
}

func NewService(deps Deps, cfg config.FaceConfig) *Service {
	topK := cfg.DuplicateTopK
	if topK <= 0 {
		topK = 5
	}
	return &Service{
		store:     deps.Store,
		extractor: deps.Extractor,
		evidence:  deps.Evidence,
		events:    deps.Events,
		staging:   NewStagingCache(cfg.StagingTTL, cfg.StagingCapacity),
		th:        cfg.Thresholds,
		topK:      topK,
		now:       time.Now,
	}
}

// Thresholds returns the similarity bands the service decides with.
func (s *Service) Thresholds() config.ThresholdConfig {
	return s.th
}

// Verify checks a live capture against the face registered for userID.
// A mismatch is a normal outcome (Verified=false, nil error); an
// ambiguous capture that fails the landmark check returns
// ErrAmbiguousIdentity.
func (s *Service) Verify(ctx context.Context, userID, payload string) (*Verification, error) {
	rec, vec, err := s.loadEnrollment(ctx, userID)
	if err != nil {
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

	return s.decide(ctx, rec, vec, img, sample)
}

func (s *Service) loadEnrollment(ctx context.Context, userID string) (*models.FaceRecord, *models.EmbeddingVector, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, nil, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}

	rec, err := s.store.GetFaceByUser(ctx, userID)
	if err != nil {
		return nil, nil, storageFailure("load face", err)
	}
	if rec == nil {
		return nil, nil, ErrNotRegistered
	}

	vec, err := s.store.GetVector(ctx, rec.VectorRef)
	if err != nil {
		return nil, nil, storageFailure("load vector", err)
	}
	if vec == nil {
		return nil, nil, storageFailure("load vector", fmt.Errorf("vector %s referenced by face %s is missing", rec.VectorRef, rec.ID))
	}
	return rec, vec, nil
}

func (s *Service) decide(ctx context.Context, rec *models.FaceRecord, vec *models.EmbeddingVector, img *Image, sample *Sample) (*Verification, error) {
	if len(vec.Embedding) != len(sample.Embedding) {
		return nil, storageFailure("compare embeddings",
			fmt.Errorf("stored dimension %d, live dimension %d", len(vec.Embedding), len(sample.Embedding)))
	}

	score := CosineSimilarity(vec.Embedding, sample.Embedding)
	band := Classify(score, s.th)
	res := &Verification{UserID: rec.UserID, Score: score, Band: band.String()}

	switch band {
	case BandMismatch:
		res.NearMiss = score >= s.th.AmbiguousLow
		outcome := "mismatch"
		if res.NearMiss {
			outcome = "near_miss"
			slog.Warn("near-miss verification", "user_id", rec.UserID, "score", score)
		}
		observability.VerifyDecisions.WithLabelValues(outcome).Inc()
		s.publish(ctx, models.BiometricEvent{
			Type:     models.EventFaceMismatch,
			UserID:   rec.UserID,
			UserType: rec.UserType,
			Score:    score,
		})
		return res, nil

	case BandAmbiguous:
		stored, err := DecodeBytes(rec.ImageData)
		if err != nil {
			return nil, storageFailure("decode stored face", err)
		}
		ref, err := s.extractor.Extract(ctx, stored.Pixels)
		if err != nil {
			return nil, storageFailure("re-extract stored face", err)
		}

		dist := LandmarkDistance(sample.Landmarks, ref.Landmarks)
		res.LandmarkDistance = &dist

		if dist > s.th.LandmarkTwin {
			observability.VerifyDecisions.WithLabelValues("ambiguous").Inc()
			key := s.captureEvidence(ctx, rec.UserID, img)
			slog.Warn("ambiguous identity rejected",
				"user_id", rec.UserID, "score", score, "landmark_distance", dist, "evidence", key)
			s.publish(ctx, models.BiometricEvent{
				Type:        models.EventFaceAmbiguous,
				UserID:      rec.UserID,
				UserType:    rec.UserType,
				Score:       score,
				EvidenceKey: key,
			})
			return res, ErrAmbiguousIdentity
		}
	}

	res.Verified = true
	observability.VerifyDecisions.WithLabelValues("verified_" + res.Band).Inc()
	s.publish(ctx, models.BiometricEvent{
		Type:     models.EventFaceVerified,
		UserID:   rec.UserID,
		UserType: rec.UserType,
		FaceID:   &rec.ID,
		VectorID: rec.VectorRef,
		Score:    score,
	})
	return res, nil
}

// Stage validates a capture for enrollment without binding it to a user and
// returns a single-use token for RegisterStaged.
func (s *Service) Stage(ctx context.Context, payload string) (string, error) {
	s.staging.Sweep()

	img, err := DecodeImage(payload)
	if err != nil {
		return "", err
	}
	sample, err := s.extractor.Extract(ctx, img.Pixels)
	if err != nil {
		return "", err
	}
	if err := s.checkDuplicate(ctx, s.store, sample.Embedding, ""); err != nil {
		if errors.Is(err, ErrDuplicateFace) {
			observability.DuplicateRejections.WithLabelValues("stage").Inc()
		}
		return "", err
	}

	return s.staging.Put(payload)
}

// RegisterStaged enrolls the capture held under token for the given user.
// A user who already has a face must be verified by the capture, as in
// VerifyThenReplace. The token is consumed even if enrollment fails.
func (s *Service) RegisterStaged(ctx context.Context, userID string, userType models.UserType, token string) (*models.FaceRecord, error) {
	payload, ok := s.staging.Take(token)
	if !ok {
		return nil, ErrStagingTokenNotFound
	}
	return s.VerifyThenReplace(ctx, userID, userType, payload)
}

// Lookup returns the face registered for userID.
func (s *Service) Lookup(ctx context.Context, userID string) (*models.FaceRecord, error) {
	rec, err := s.store.GetFaceByUser(ctx, userID)
	if err != nil {
		return nil, storageFailure("load face", err)
	}
	if rec == nil {
		return nil, ErrNotRegistered
	}
	return rec, nil
}

// Remove deletes the user's face and vector and clears the profile link in
// one transaction. It reports false when nothing was registered.
func (s *Service) Remove(ctx context.Context, userID string, userType models.UserType) (bool, error) {
	if !userType.Valid() {
		return false, fmt.Errorf("%w: unknown user_type %q", ErrInvalidRequest, userType)
	}

	start := time.Now()
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return false, storageFailure("begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	old, err := tx.GetFaceByUser(ctx, userID)
	if err != nil {
		return false, storageFailure("load face", err)
	}
	if old == nil {
		return false, nil
	}

	if err := tx.DeleteVector(ctx, old.VectorRef); err != nil {
		return false, storageFailure("delete vector", err)
	}
	if err := tx.DeleteFace(ctx, old.ID); err != nil {
		return false, storageFailure("delete face", err)
	}
	// The profile may already be gone when removal is part of account deletion.
	if _, err := tx.UpdateProfileFace(ctx, userType, userID, nil, s.now().UTC()); err != nil {
		return false, storageFailure("clear profile", err)
	}
	if err := tx.Commit(ctx); err != nil {
		observability.TransactionDuration.WithLabelValues("remove", "error").Observe(time.Since(start).Seconds())
		return false, storageFailure("commit", err)
	}
	observability.TransactionDuration.WithLabelValues("remove", "ok").Observe(time.Since(start).Seconds())

	slog.Info("face removed", "user_id", userID, "face_id", old.ID)
	if s.evidence != nil {
		if err := s.evidence.DeletePrefix(ctx, evidencePrefix(userID)); err != nil {
			slog.Warn("purge evidence", "error", err, "user_id", userID)
		}
	}
	s.publish(ctx, models.BiometricEvent{
		Type:     models.EventFaceRemoved,
		UserID:   userID,
		UserType: userType,
		FaceID:   &old.ID,
		VectorID: old.VectorRef,
	})
	return true, nil
}

func (s *Service) captureEvidence(ctx context.Context, userID string, img *Image) string {
	if s.evidence == nil {
		return ""
	}
	ext := img.Format
	if ext == "jpeg" {
		ext = "jpg"
	}
	key := evidencePrefix(userID) + s.now().UTC().Format("20060102T150405.000000000") + "." + ext
	if err := s.evidence.PutObject(ctx, key, img.Raw, img.ContentType()); err != nil {
		slog.Warn("store evidence", "error", err, "user_id", userID)
		return ""
	}
	return key
}

// Evidence lists the stored evidence keys of a user.
func (s *Service) Evidence(ctx context.Context, userID string) ([]string, error) {
	if s.evidence == nil {
		return nil, nil
	}
	keys, err := s.evidence.ListObjects(ctx, evidencePrefix(userID))
	if err != nil {
		return nil, storageFailure("list evidence", err)
	}
	return keys, nil
}

// EvidenceObject returns one evidence capture of userID.
func (s *Service) EvidenceObject(ctx context.Context, userID, name string) ([]byte, error) {
	if s.evidence == nil || name == "" || strings.ContainsAny(name, "/\\") {
		return nil, fmt.Errorf("%w: unknown evidence %q", ErrInvalidRequest, name)
	}
	data, err := s.evidence.GetObject(ctx, evidencePrefix(userID)+name)
	if err != nil {
		return nil, storageFailure("get evidence", err)
	}
	return data, nil
}

// evidencePrefix escapes userID so that one user's prefix never covers
// another's ("a" vs "a/b").
func evidencePrefix(userID string) string {
	return "evidence/" + url.PathEscape(userID) + "/"
}

func (s *Service) publish(ctx context.Context, ev models.BiometricEvent) {
	if s.events == nil {
		return
	}
	ev.At = s.now().UTC()
	if err := s.events.PublishBiometric(ctx, ev); err != nil {
		slog.Warn("publish biometric event", "error", err, "type", ev.Type, "user_id", ev.UserID)
	}
}
