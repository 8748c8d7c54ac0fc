package vision

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/your-org/gatepass/internal/config"
	"github.com/your-org/gatepass/internal/models"
	"github.com/your-org/gatepass/internal/observability"
)

// Analyzer runs detection, embedding and landmarking as one pass. The ONNX
// sessions share preallocated tensors, so calls are serialized.
type Analyzer struct {
	mu         sync.Mutex
	detector   *Detector
	embedder   *Embedder
	landmarker *Landmarker
}

// NewAnalyzer loads the three models from cfg.ModelsDir. The ONNX Runtime
// environment must already be initialised.
func NewAnalyzer(cfg config.VisionConfig) (*Analyzer, error) {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")
	lmkPath := filepath.Join(cfg.ModelsDir, "1k3d68.onnx")

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), nil)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath, nil)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	slog.Info("loading landmark model", "path", lmkPath)
	lmk, err := NewLandmarker(lmkPath, nil)
	if err != nil {
		det.Close()
		emb.Close()
		return nil, fmt.Errorf("load landmarker: %w", err)
	}

	slog.Info("face analyzer ready")
	return &Analyzer{detector: det, embedder: emb, landmarker: lmk}, nil
}

// Detect finds up to maxFaces faces and, for each, computes the embedding and
// landmarks from the same detection.
func (a *Analyzer) Detect(ctx context.Context, img image.Image, maxFaces int) ([]models.DetectedFace, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	dets, err := a.detector.Detect(img, maxFaces)
	if err != nil {
		return nil, err
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	faces := make([]models.DetectedFace, 0, len(dets))
	for _, d := range dets {
		region := paddedBox(d.BBox, 0.1, img.Bounds())
		if region.Empty() {
			continue
		}

		start = time.Now()
		embedding, err := a.embedder.Embed(crop(img, region))
		if err != nil {
			return nil, err
		}
		observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

		start = time.Now()
		landmarks, err := a.landmarker.Landmarks(img, d.BBox)
		if err != nil {
			return nil, err
		}
		observability.InferenceDuration.WithLabelValues("landmarks").Observe(time.Since(start).Seconds())

		faces = append(faces, models.DetectedFace{
			BBox:       d.BBox,
			Confidence: d.Confidence,
			Embedding:  embedding,
			Landmarks:  landmarks,
		})
	}
	return faces, nil
}

// Close releases all ONNX sessions.
func (a *Analyzer) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detector.Close()
	a.embedder.Close()
	a.landmarker.Close()
}
