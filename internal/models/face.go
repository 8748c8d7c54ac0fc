package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type UserType string

const (
	UserTypeStudent    UserType = "STUDENT"
	UserTypeAdmin      UserType = "ADMIN"
	UserTypeHOD        UserType = "HOD"
	UserTypeSuperAdmin UserType = "SUPER_ADMIN"
	UserTypeGuard      UserType = "GUARD"
	UserTypeFaculty    UserType = "FACULTY"
)

var userTypes = map[UserType]bool{
	UserTypeStudent:    true,
	UserTypeAdmin:      true,
	UserTypeHOD:        true,
	UserTypeSuperAdmin: true,
	UserTypeGuard:      true,
	UserTypeFaculty:    true,
}

// ParseUserType normalises a role tag. It reports false for unknown roles.
func ParseUserType(s string) (UserType, bool) {
	ut := UserType(strings.ToUpper(strings.TrimSpace(s)))
	return ut, userTypes[ut]
}

func (u UserType) Valid() bool {
	return userTypes[u]
}

// FaceRecord is the single live biometric attachment of a user.
type FaceRecord struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	UserType  UserType  `json:"user_type" db:"user_type"`
	ImageData []byte    `json:"-" db:"image_data"`
	VectorRef string    `json:"vector_ref" db:"vector_ref"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EmbeddingVector struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Embedding []float32 `json:"-" db:"embedding"`
}

// VectorIDFor derives the stable embedding id of a user. Re-enrollment
// reuses it, so references held elsewhere never go stale.
func VectorIDFor(userID string) string {
	return "vec_" + userID
}

// SimilarityMatch is one nearest-neighbour hit from the similarity index.
type SimilarityMatch struct {
	VectorID string  `json:"vector_id"`
	UserID   string  `json:"user_id"`
	Score    float64 `json:"score"`
}
