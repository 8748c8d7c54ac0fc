package dto

import "github.com/google/uuid"

// Envelope wraps every JSON response.
type Envelope struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Data       any    `json:"data,omitempty"`
}

type ValidateFaceRequest struct {
	Image string `json:"image" binding:"required"`
}

type ValidateFaceResponse struct {
	FaceToken        string `json:"face_token"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

// RegisterFaceRequest carries either an image or a token from
// /v1/face/validate.
type RegisterFaceRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	UserType  string `json:"user_type" binding:"required"`
	Image     string `json:"image"`
	FaceToken string `json:"face_token"`
}

type VerifyFaceRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Image  string `json:"image" binding:"required"`
}

type VerifyReplaceRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	UserType string `json:"user_type" binding:"required"`
	Image    string `json:"image" binding:"required"`
}

type VerifyFaceResponse struct {
	UserID           string   `json:"user_id"`
	Verified         bool     `json:"verified"`
	Score            float64  `json:"score"`
	Band             string   `json:"band"`
	NearMiss         bool     `json:"near_miss,omitempty"`
	LandmarkDistance *float64 `json:"landmark_distance,omitempty"`
}

type FaceResponse struct {
	ID        uuid.UUID `json:"face_id"`
	UserID    string    `json:"user_id"`
	UserType  string    `json:"user_type"`
	VectorID  string    `json:"vector_id"`
	CreatedAt string    `json:"created_at"`
}

type RemoveFaceResponse struct {
	UserID  string `json:"user_id"`
	Removed bool   `json:"removed"`
}

type EvidenceListResponse struct {
	UserID string   `json:"user_id"`
	Keys   []string `json:"keys"`
}

// WSEvent is a WebSocket message for real-time biometric events.
type WSEvent struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Data   any    `json:"data,omitempty"`
}
