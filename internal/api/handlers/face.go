package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/gatepass/internal/face"
	"github.com/your-org/gatepass/internal/models"
	"github.com/your-org/gatepass/pkg/dto"
)

// FaceService is the subset of face.Service the HTTP layer drives.
type FaceService interface {
	Stage(ctx context.Context, payload string) (string, error)
	RegisterStaged(ctx context.Context, userID string, userType models.UserType, token string) (*models.FaceRecord, error)
	Verify(ctx context.Context, userID, payload string) (*face.Verification, error)
	VerifyThenReplace(ctx context.Context, userID string, userType models.UserType, payload string) (*models.FaceRecord, error)
	Lookup(ctx context.Context, userID string) (*models.FaceRecord, error)
	Remove(ctx context.Context, userID string, userType models.UserType) (bool, error)
	Evidence(ctx context.Context, userID string) ([]string, error)
	EvidenceObject(ctx context.Context, userID, name string) ([]byte, error)
}

type FaceHandler struct {
	faces      FaceService
	stagingTTL time.Duration
}

func NewFaceHandler(faces FaceService, stagingTTL time.Duration) *FaceHandler {
	return &FaceHandler{faces: faces, stagingTTL: stagingTTL}
}

func (h *FaceHandler) Validate(c *gin.Context) {
	var req dto.ValidateFaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	token, err := h.faces.Stage(c.Request.Context(), req.Image)
	if err != nil {
		writeFaceError(c, err)
		return
	}

	respond(c, http.StatusOK, "Face validated", dto.ValidateFaceResponse{
		FaceToken:        token,
		ExpiresInSeconds: int(h.stagingTTL.Seconds()),
	})
}

// Register enrolls a first face or re-enrolls a verified one. Both the image
// and the staged-token paths verify against a face already on record.
func (h *FaceHandler) Register(c *gin.Context) {
	var req dto.RegisterFaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	userType, ok := models.ParseUserType(req.UserType)
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid user_type")
		return
	}

	var (
		rec *models.FaceRecord
		err error
	)
	switch {
	case req.FaceToken != "" && req.Image != "":
		respondError(c, http.StatusBadRequest, "provide either image or face_token, not both")
		return
	case req.FaceToken != "":
		rec, err = h.faces.RegisterStaged(c.Request.Context(), req.UserID, userType, req.FaceToken)
	case req.Image != "":
		rec, err = h.faces.VerifyThenReplace(c.Request.Context(), req.UserID, userType, req.Image)
	default:
		respondError(c, http.StatusBadRequest, "image or face_token is required")
		return
	}
	if err != nil {
		writeFaceError(c, err)
		return
	}

	respond(c, http.StatusCreated, "Face registered", toFaceResponse(rec))
}

func (h *FaceHandler) Verify(c *gin.Context) {
	var req dto.VerifyFaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.faces.Verify(c.Request.Context(), req.UserID, req.Image)
	if err != nil {
		writeFaceError(c, err)
		return
	}

	msg := "Face verified"
	if !res.Verified {
		msg = "Face does not match"
	}
	respond(c, http.StatusOK, msg, dto.VerifyFaceResponse{
		UserID:           res.UserID,
		Verified:         res.Verified,
		Score:            res.Score,
		Band:             res.Band,
		NearMiss:         res.NearMiss,
		LandmarkDistance: res.LandmarkDistance,
	})
}

func (h *FaceHandler) VerifyReplace(c *gin.Context) {
	var req dto.VerifyReplaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	userType, ok := models.ParseUserType(req.UserType)
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid user_type")
		return
	}

	rec, err := h.faces.VerifyThenReplace(c.Request.Context(), req.UserID, userType, req.Image)
	if err != nil {
		writeFaceError(c, err)
		return
	}

	respond(c, http.StatusOK, "Face updated", toFaceResponse(rec))
}

func (h *FaceHandler) Get(c *gin.Context) {
	rec, err := h.faces.Lookup(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		writeFaceError(c, err)
		return
	}
	respond(c, http.StatusOK, "Face found", toFaceResponse(rec))
}

// Image serves the stored enrollment capture.
func (h *FaceHandler) Image(c *gin.Context) {
	rec, err := h.faces.Lookup(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		writeFaceError(c, err)
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(rec.ImageData), rec.ImageData)
}

func (h *FaceHandler) Delete(c *gin.Context) {
	userType, ok := models.ParseUserType(c.Query("user_type"))
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid user_type")
		return
	}
	userID := c.Param("user_id")

	removed, err := h.faces.Remove(c.Request.Context(), userID, userType)
	if err != nil {
		writeFaceError(c, err)
		return
	}

	msg := "Face removed"
	if !removed {
		msg = "No face registered"
	}
	respond(c, http.StatusOK, msg, dto.RemoveFaceResponse{UserID: userID, Removed: removed})
}

func (h *FaceHandler) ListEvidence(c *gin.Context) {
	userID := c.Param("user_id")
	keys, err := h.faces.Evidence(c.Request.Context(), userID)
	if err != nil {
		writeFaceError(c, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	respond(c, http.StatusOK, "Evidence listed", dto.EvidenceListResponse{UserID: userID, Keys: keys})
}

func (h *FaceHandler) GetEvidence(c *gin.Context) {
	data, err := h.faces.EvidenceObject(c.Request.Context(), c.Param("user_id"), c.Param("name"))
	if err != nil {
		writeFaceError(c, err)
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

func toFaceResponse(rec *models.FaceRecord) dto.FaceResponse {
	return dto.FaceResponse{
		ID:        rec.ID,
		UserID:    rec.UserID,
		UserType:  string(rec.UserType),
		VectorID:  rec.VectorRef,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
	}
}

// faceErrorStatus maps engine errors onto HTTP status codes.
func faceErrorStatus(err error) int {
	switch {
	case errors.Is(err, face.ErrInvalidRequest),
		errors.Is(err, face.ErrInvalidImage),
		errors.Is(err, face.ErrNoFaceDetected),
		errors.Is(err, face.ErrMultipleFacesDetected):
		return http.StatusBadRequest
	case errors.Is(err, face.ErrNotRegistered),
		errors.Is(err, face.ErrProfileNotFound),
		errors.Is(err, face.ErrStagingTokenNotFound):
		return http.StatusNotFound
	case errors.Is(err, face.ErrIdentityMismatch),
		errors.Is(err, face.ErrAmbiguousIdentity):
		return http.StatusForbidden
	case errors.Is(err, face.ErrDuplicateFace):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeFaceError(c *gin.Context, err error) {
	status := faceErrorStatus(err)

	var dup *face.DuplicateFaceError
	msg := err.Error()
	switch {
	case errors.As(err, &dup):
		msg = dup.Error()
	case errors.Is(err, face.ErrIdentityMismatch):
		msg = face.ErrIdentityMismatch.Error()
	case status == http.StatusInternalServerError:
		slog.Error("face request failed", "path", c.FullPath(), "error", err)
		msg = face.ErrStorageFailure.Error()
		if !errors.Is(err, face.ErrStorageFailure) {
			msg = "internal error"
		}
	}
	respondError(c, status, capitalize(msg))
}

func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, dto.Envelope{
		Success:    true,
		StatusCode: status,
		Message:    message,
		Data:       data,
	})
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, dto.Envelope{
		Success:    false,
		StatusCode: status,
		Message:    message,
	})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
