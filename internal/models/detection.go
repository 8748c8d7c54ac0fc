package models

// LandmarkCount is the number of 3-D points in a landmark set.
const LandmarkCount = 68

// Point3D is one facial keypoint in the landmark model's coordinate space.
type Point3D struct {
	X, Y, Z float32
}

// DetectedFace is what the detection/embedding capability returns per face.
// Embedding and Landmarks always come from the same model invocation.
type DetectedFace struct {
	BBox       [4]float32
	Confidence float32
	Embedding  []float32
	Landmarks  []Point3D
}
