package face

import "github.com/your-org/gatepass/internal/config"

// Band is the similarity region a score falls in.
type Band int

const (
	BandMismatch Band = iota
	BandAmbiguous
	BandConfident
)

func (b Band) String() string {
	switch b {
	case BandMismatch:
		return "mismatch"
	case BandAmbiguous:
		return "ambiguous"
	case BandConfident:
		return "confident"
	}
	return "unknown"
}

// Classify places score into a band. Lower bounds are inclusive.
func Classify(score float64, th config.ThresholdConfig) Band {
	switch {
	case score < th.Verify:
		return BandMismatch
	case score < th.DuplicateHigh:
		return BandAmbiguous
	default:
		return BandConfident
	}
}

// Verification is the outcome of a 1:1 check against a stored identity.
type Verification struct {
	UserID   string  `json:"user_id"`
	Verified bool    `json:"verified"`
	Score    float64 `json:"score"`
	Band     string  `json:"band"`
	// NearMiss is set for rejections scoring at or above the ambiguous_low
	// threshold.
	NearMiss bool `json:"near_miss,omitempty"`
	// LandmarkDistance is only computed for the ambiguous band.
	LandmarkDistance *float64 `json:"landmark_distance,omitempty"`
}
