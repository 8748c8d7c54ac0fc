package face

import (
	"context"
	"fmt"
	"image"
	"slices"
	"time"

	"github.com/your-org/gatepass/internal/models"
	"github.com/your-org/gatepass/internal/observability"
)

// Detector finds faces in an image, returning at most maxFaces of them
// ordered by confidence. Each face carries both its embedding and its
// 68-point 3-D landmarks.
type Detector interface {
	Detect(ctx context.Context, img image.Image, maxFaces int) ([]models.DetectedFace, error)
}

// Sample is the embedding and landmark set of exactly one face, taken from
// a single detection pass.
type Sample struct {
	Embedding []float32
	Landmarks []models.Point3D
	Score     float32
}

// Extractor enforces the single-face rule on top of a Detector.
type Extractor struct {
	detector      Detector
	maxCandidates int
}

// NewExtractor returns an Extractor asking the detector for up to
// maxCandidates faces. At least two are requested so that a second person
// in frame is observable.
func NewExtractor(d Detector, maxCandidates int) *Extractor {
	if maxCandidates < 2 {
		maxCandidates = 2
	}
	return &Extractor{detector: d, maxCandidates: maxCandidates}
}

func (e *Extractor) Extract(ctx context.Context, img image.Image) (*Sample, error) {
	start := time.Now()
	faces, err := e.detector.Detect(ctx, img, e.maxCandidates)
	observability.InferenceDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	switch {
	case len(faces) == 0:
		return nil, ErrNoFaceDetected
	case len(faces) > 1:
		return nil, ErrMultipleFacesDetected
	}

	f := faces[0]
	if len(f.Embedding) == 0 {
		return nil, fmt.Errorf("detect faces: face without embedding")
	}
	if len(f.Landmarks) != models.LandmarkCount {
		return nil, fmt.Errorf("detect faces: face with %d landmarks, want %d", len(f.Landmarks), models.LandmarkCount)
	}

	return &Sample{
		Embedding: slices.Clone(f.Embedding),
		Landmarks: slices.Clone(f.Landmarks),
		Score:     f.Confidence,
	}, nil
}
