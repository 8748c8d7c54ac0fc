package vision

import (
	"fmt"
	"image"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/gatepass/internal/models"
)

// LandmarkCount is the number of 3-D points produced per face.
const LandmarkCount = models.LandmarkCount

const (
	landmarkInputSize = 192
	// 1k3d68 emits 1103 (x,y,z) triples; the 68-point set is the tail.
	landmarkOutputLen = 3309
	landmarkCropScale = 1.5
)

// Landmarker predicts 68 3-D facial landmarks with the 1k3d68 model.
type Landmarker struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func NewLandmarker(modelPath string, opts *ort.SessionOptions) (*Landmarker, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, landmarkInputSize, landmarkInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, landmarkOutputLen))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"data"},
		[]string{"fc1"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create landmark session: %w", err)
	}

	return &Landmarker{session: session, inputTensor: inputTensor, outputTensor: outputTensor}, nil
}

// Landmarks returns the 68 points of the face inside bbox, in source image
// pixel coordinates (z shares the x/y scale).
func (l *Landmarker) Landmarks(img image.Image, bbox [4]float32) ([]models.Point3D, error) {
	region := squareAround(bbox, landmarkCropScale)
	copy(l.inputTensor.GetData(), landmarkInput(crop(img, region), landmarkInputSize, landmarkInputSize))

	if err := l.session.Run(); err != nil {
		return nil, fmt.Errorf("run landmarks: %w", err)
	}
	return decodeLandmarks(l.outputTensor.GetData(), region), nil
}

// decodeLandmarks maps the model's [-1,1] outputs for the last 68 points back
// onto region.
func decodeLandmarks(raw []float32, region image.Rectangle) []models.Point3D {
	half := float32(landmarkInputSize) / 2
	scale := float32(region.Dx()) / landmarkInputSize
	tail := raw[len(raw)-LandmarkCount*3:]

	pts := make([]models.Point3D, LandmarkCount)
	for i := range pts {
		x := (tail[i*3] + 1) * half
		y := (tail[i*3+1] + 1) * half
		z := tail[i*3+2] * half
		pts[i] = models.Point3D{
			X: x*scale + float32(region.Min.X),
			Y: y*scale + float32(region.Min.Y),
			Z: z * scale,
		}
	}
	return pts
}

func (l *Landmarker) Close() {
	if l.session != nil {
		l.session.Destroy()
	}
	if l.inputTensor != nil {
		l.inputTensor.Destroy()
	}
	if l.outputTensor != nil {
		l.outputTensor.Destroy()
	}
}
