package vision

import (
	"fmt"
	"image"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one face box in source-image pixel coordinates.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
}

// Detector runs RetinaFace (det_10g) face detection.
type Detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	nmsIoU        float32
	inputW        int
	inputH        int
}

var strides = []int{8, 16, 32}

const anchorsPerStride = 2

// NewDetector loads the RetinaFace ONNX model. opts may be nil.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	inputW, inputH := 640, 640

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Scores, boxes and keypoints per stride. There is no batch dimension:
	// N = (640/stride)^2 * anchorsPerStride.
	outputs := []struct {
		name  string
		shape ort.Shape
	}{
		{"448", ort.NewShape(12800, 1)},
		{"471", ort.NewShape(3200, 1)},
		{"494", ort.NewShape(800, 1)},
		{"451", ort.NewShape(12800, 4)},
		{"474", ort.NewShape(3200, 4)},
		{"497", ort.NewShape(800, 4)},
		{"454", ort.NewShape(12800, 10)},
		{"477", ort.NewShape(3200, 10)},
		{"500", ort.NewShape(800, 10)},
	}

	outputNames := make([]string, len(outputs))
	outputTensors := make([]*ort.Tensor[float32], 0, len(outputs))
	outputValues := make([]ort.Value, len(outputs))
	destroy := func() {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
	}

	for i, spec := range outputs {
		outputNames[i] = spec.name
		t, err := ort.NewEmptyTensor[float32](spec.shape)
		if err != nil {
			destroy()
			return nil, fmt.Errorf("create output tensor %s: %w", spec.name, err)
		}
		outputTensors = append(outputTensors, t)
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		opts,
	)
	if err != nil {
		destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		nmsIoU:        0.4,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// Detect returns up to maxFaces faces, most confident first.
func (d *Detector) Detect(img image.Image, maxFaces int) ([]Detection, error) {
	b := img.Bounds()
	copy(d.inputTensor.GetData(), detectionInput(img, d.inputW, d.inputH))

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	dets := nms(d.decode(b.Dx(), b.Dy()), d.nmsIoU)
	if maxFaces > 0 && len(dets) > maxFaces {
		dets = dets[:maxFaces]
	}
	for i := range dets {
		dets[i].BBox[0] += float32(b.Min.X)
		dets[i].BBox[1] += float32(b.Min.Y)
		dets[i].BBox[2] += float32(b.Min.X)
		dets[i].BBox[3] += float32(b.Min.Y)
	}
	return dets, nil
}

// decode turns anchor-relative outputs at every stride into boxes scaled to
// an origW x origH image.
func (d *Detector) decode(origW, origH int) []Detection {
	var out []Detection

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range strides {
		scores := d.outputTensors[si].GetData()
		boxes := d.outputTensors[si+3].GetData()
		st := float32(stride)

		fmW, fmH := d.inputW/stride, d.inputH/stride
		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					if score := scores[idx]; score >= d.threshold {
						ax, ay := float32(cx)*st, float32(cy)*st
						out = append(out, Detection{
							BBox: [4]float32{
								clampF((ax-boxes[idx*4+0]*st)*scaleW, 0, float32(origW)),
								clampF((ay-boxes[idx*4+1]*st)*scaleH, 0, float32(origH)),
								clampF((ax+boxes[idx*4+2]*st)*scaleW, 0, float32(origW)),
								clampF((ay+boxes[idx*4+3]*st)*scaleH, 0, float32(origH)),
							},
							Confidence: score,
						})
					}
					idx++
				}
			}
		}
	}
	return out
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		t.Destroy()
	}
}

// nms sorts by confidence and drops boxes overlapping a better one by more
// than iouThreshold.
func nms(dets []Detection, iouThreshold float32) []Detection {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	var kept []Detection
	for _, d := range dets {
		suppressed := false
		for _, k := range kept {
			if iou(k.BBox, d.BBox) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	inter := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
