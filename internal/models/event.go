package models

import (
	"time"

	"github.com/google/uuid"
)

type BiometricEventType string

const (
	EventFaceRegistered BiometricEventType = "face_registered"
	EventFaceReplaced   BiometricEventType = "face_replaced"
	EventFaceRemoved    BiometricEventType = "face_removed"
	EventFaceVerified   BiometricEventType = "face_verified"
	EventFaceMismatch   BiometricEventType = "face_mismatch"
	EventFaceAmbiguous  BiometricEventType = "face_ambiguous"
	EventFaceDuplicate  BiometricEventType = "face_duplicate"
)

// BiometricEvent is published to NATS after a decision or a committed write.
type BiometricEvent struct {
	Type        BiometricEventType `json:"type"`
	UserID      string             `json:"user_id"`
	UserType    UserType           `json:"user_type,omitempty"`
	FaceID      *uuid.UUID         `json:"face_id,omitempty"`
	VectorID    string             `json:"vector_id,omitempty"`
	Score       float64            `json:"score,omitempty"`
	ConflictID  string             `json:"conflict_user_id,omitempty"`
	EvidenceKey string             `json:"evidence_key,omitempty"`
	At          time.Time          `json:"at"`
}
