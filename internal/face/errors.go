package face

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest        = errors.New("invalid request")
	ErrInvalidImage          = errors.New("invalid or corrupted image")
	ErrNoFaceDetected        = errors.New("no face detected, ensure your face is visible")
	ErrMultipleFacesDetected = errors.New("multiple faces detected, only one person allowed")
	ErrNotRegistered         = errors.New("face not registered")
	ErrIdentityMismatch      = errors.New("face does not match the registered identity")
	ErrAmbiguousIdentity     = errors.New("identity ambiguous (twin or spoof detected)")
	ErrDuplicateFace         = errors.New("face already registered to another user")
	ErrProfileNotFound       = errors.New("profile not found")
	ErrStagingTokenNotFound  = errors.New("face token unknown or expired")
	ErrStorageFailure        = errors.New("failed to save biometric data")
)

// DuplicateFaceError names the user that already owns a matching face.
type DuplicateFaceError struct {
	OwnerID string
	Score   float64
}

func (e *DuplicateFaceError) Error() string {
	return fmt.Sprintf("face already registered to user %s", e.OwnerID)
}

func (e *DuplicateFaceError) Is(target error) bool {
	return target == ErrDuplicateFace
}

func storageFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageFailure, op, err)
}
