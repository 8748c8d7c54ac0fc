package face

import (
	"fmt"
	"math"

	"github.com/your-org/gatepass/internal/models"
)

// CosineSimilarity returns dot(a,b) / (|a|*|b|). Vectors of different
// length or with zero norm score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// LandmarkDistance is the Euclidean distance between two flattened landmark
// sets. Both sets must come from the same landmark model; a length mismatch
// is a programming error and panics.
func LandmarkDistance(a, b []models.Point3D) float64 {
	if len(a) != len(b) {
		panic(fmt.Sprintf("face: landmark sets differ in length (%d != %d)", len(a), len(b)))
	}
	var sum float64
	for i := range a {
		dx := float64(a[i].X) - float64(b[i].X)
		dy := float64(a[i].Y) - float64(b[i].Y)
		dz := float64(a[i].Z) - float64(b[i].Z)
		sum += dx*dx + dy*dy + dz*dz
	}
	return math.Sqrt(sum)
}
