package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/your-org/gatepass/internal/api/handlers"
	"github.com/your-org/gatepass/internal/face"
	"github.com/your-org/gatepass/internal/models"
)

// stubFaces returns err from every call when set, otherwise canned results.
type stubFaces struct {
	err      error
	verify   *face.Verification
	removed  bool
	lastType models.UserType
	lastUser string
	token    string
	called   string
}

var stubRecord = &models.FaceRecord{
	ID:        uuid.MustParse("6f1b2c3d-0000-4000-8000-000000000001"),
	UserID:    "S1",
	UserType:  models.UserTypeStudent,
	ImageData: []byte("\xff\xd8\xff\xe0jpeg"),
	VectorRef: "vec_S1",
	CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
}

func (s *stubFaces) Stage(context.Context, string) (string, error) {
	return "tmp_01J0000000000000000000000", s.err
}

func (s *stubFaces) RegisterStaged(_ context.Context, userID string, ut models.UserType, token string) (*models.FaceRecord, error) {
	s.lastUser, s.lastType, s.token = userID, ut, token
	s.called = "RegisterStaged"
	return stubRecord, s.err
}

func (s *stubFaces) Verify(context.Context, string, string) (*face.Verification, error) {
	return s.verify, s.err
}

func (s *stubFaces) VerifyThenReplace(_ context.Context, userID string, ut models.UserType, _ string) (*models.FaceRecord, error) {
	s.lastUser, s.lastType = userID, ut
	s.called = "VerifyThenReplace"
	return stubRecord, s.err
}

func (s *stubFaces) Lookup(context.Context, string) (*models.FaceRecord, error) {
	return stubRecord, s.err
}

func (s *stubFaces) Remove(_ context.Context, userID string, ut models.UserType) (bool, error) {
	s.lastUser, s.lastType = userID, ut
	return s.removed, s.err
}

func (s *stubFaces) Evidence(context.Context, string) ([]string, error) {
	return nil, s.err
}

func (s *stubFaces) EvidenceObject(context.Context, string, string) ([]byte, error) {
	return []byte("\x89PNG\r\n\x1a\n"), s.err
}

type envelope struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

func do(t *testing.T, svc handlers.FaceService, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	router := NewRouter(RouterConfig{Faces: svc, StagingTTL: 5 * time.Minute})

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err     error
		want    int
		message string
	}{
		{face.ErrInvalidImage, http.StatusBadRequest, "Invalid or corrupted image"},
		{face.ErrNoFaceDetected, http.StatusBadRequest, ""},
		{face.ErrMultipleFacesDetected, http.StatusBadRequest, ""},
		{face.ErrNotRegistered, http.StatusNotFound, "Face not registered"},
		{face.ErrStagingTokenNotFound, http.StatusNotFound, ""},
		{face.ErrAmbiguousIdentity, http.StatusForbidden, "Identity ambiguous (twin or spoof detected)"},
		{&face.DuplicateFaceError{OwnerID: "S1", Score: 0.8}, http.StatusConflict, "Face already registered to user S1"},
		{fmt.Errorf("%w: commit: %w", face.ErrStorageFailure, errors.New("connection reset")), http.StatusInternalServerError, "Failed to save biometric data"},
		{errors.New("boom"), http.StatusInternalServerError, "Internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w, env := do(t, &stubFaces{err: tt.err}, http.MethodPost, "/v1/face/verify",
				map[string]string{"user_id": "S1", "image": "data"})

			require.Equal(t, tt.want, w.Code)
			require.False(t, env.Success)
			require.Equal(t, tt.want, env.StatusCode)
			if tt.message != "" {
				require.Equal(t, tt.message, env.Message)
			}
		})
	}
}

func TestVerifyEndpoint(t *testing.T) {
	dist := 4.0
	svc := &stubFaces{verify: &face.Verification{UserID: "S1", Verified: true, Score: 0.6, Band: "ambiguous", LandmarkDistance: &dist}}

	w, env := do(t, svc, http.MethodPost, "/v1/face/verify", map[string]string{"user_id": "S1", "image": "data"})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, env.Success)

	var data struct {
		Verified         bool    `json:"verified"`
		Band             string  `json:"band"`
		LandmarkDistance float64 `json:"landmark_distance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.True(t, data.Verified)
	require.Equal(t, "ambiguous", data.Band)
	require.Equal(t, 4.0, data.LandmarkDistance)

	t.Run("mismatch is still a 200", func(t *testing.T) {
		svc := &stubFaces{verify: &face.Verification{UserID: "S1", Score: 0.2, Band: "mismatch"}}
		w, env := do(t, svc, http.MethodPost, "/v1/face/verify", map[string]string{"user_id": "S1", "image": "data"})
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "Face does not match", env.Message)
	})

	t.Run("missing image", func(t *testing.T) {
		w, _ := do(t, svc, http.MethodPost, "/v1/face/verify", map[string]string{"user_id": "S1"})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRegisterEndpoint(t *testing.T) {
	t.Run("with image", func(t *testing.T) {
		svc := &stubFaces{}
		w, env := do(t, svc, http.MethodPost, "/v1/face/register",
			map[string]string{"user_id": "S1", "user_type": "student", "image": "data"})
		require.Equal(t, http.StatusCreated, w.Code)
		require.Equal(t, models.UserTypeStudent, svc.lastType)
		require.Equal(t, "VerifyThenReplace", svc.called)

		var data struct {
			VectorID string `json:"vector_id"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		require.Equal(t, "vec_S1", data.VectorID)
		require.NotContains(t, string(env.Data), "image_data")
	})

	t.Run("with token", func(t *testing.T) {
		svc := &stubFaces{}
		w, _ := do(t, svc, http.MethodPost, "/v1/face/register",
			map[string]string{"user_id": "S1", "user_type": "HOD", "face_token": "tmp_x"})
		require.Equal(t, http.StatusCreated, w.Code)
		require.Equal(t, "tmp_x", svc.token)
		require.Equal(t, "RegisterStaged", svc.called)
		require.Equal(t, models.UserTypeHOD, svc.lastType)
	})

	t.Run("both image and token", func(t *testing.T) {
		w, _ := do(t, &stubFaces{}, http.MethodPost, "/v1/face/register",
			map[string]string{"user_id": "S1", "user_type": "HOD", "face_token": "tmp_x", "image": "data"})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown role", func(t *testing.T) {
		w, _ := do(t, &stubFaces{}, http.MethodPost, "/v1/face/register",
			map[string]string{"user_id": "S1", "user_type": "janitor", "image": "data"})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("stranger over an enrolled user", func(t *testing.T) {
		svc := &stubFaces{err: fmt.Errorf("%w (score 0.000)", face.ErrIdentityMismatch)}
		w, env := do(t, svc, http.MethodPost, "/v1/face/register",
			map[string]string{"user_id": "S1", "user_type": "student", "image": "data"})
		require.Equal(t, http.StatusForbidden, w.Code)
		require.Equal(t, "Face does not match the registered identity", env.Message)
	})

	t.Run("profile missing", func(t *testing.T) {
		w, _ := do(t, &stubFaces{err: face.ErrProfileNotFound}, http.MethodPost, "/v1/face/register",
			map[string]string{"user_id": "S1", "user_type": "ADMIN", "image": "data"})
		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestValidateEndpoint(t *testing.T) {
	w, env := do(t, &stubFaces{}, http.MethodPost, "/v1/face/validate", map[string]string{"image": "data"})
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		FaceToken string `json:"face_token"`
		ExpiresIn int    `json:"expires_in_seconds"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Equal(t, 300, data.ExpiresIn)
	require.NotEmpty(t, data.FaceToken)
}

func TestVerifyReplaceMismatchIsForbidden(t *testing.T) {
	w, _ := do(t, &stubFaces{err: fmt.Errorf("%w (score 0.100)", face.ErrIdentityMismatch)}, http.MethodPost,
		"/v1/face/verify-replace", map[string]string{"user_id": "S1", "user_type": "STUDENT", "image": "data"})
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestDeleteEndpoint(t *testing.T) {
	svc := &stubFaces{removed: true}
	w, env := do(t, svc, http.MethodDelete, "/v1/face/S1?user_type=guard", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Face removed", env.Message)
	require.Equal(t, "S1", svc.lastUser)
	require.Equal(t, models.UserTypeGuard, svc.lastType)

	w, _ = do(t, svc, http.MethodDelete, "/v1/face/S1", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImageEndpoints(t *testing.T) {
	w, _ := do(t, &stubFaces{}, http.MethodGet, "/v1/face/S1/image", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))

	w, _ = do(t, &stubFaces{}, http.MethodGet, "/v1/face/S1/evidence/20260301T120000.000000000.png", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "image/png", w.Header().Get("Content-Type"))
}

func TestHealthz(t *testing.T) {
	w, _ := do(t, &stubFaces{}, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestReadyzReportsFailingCheck(t *testing.T) {
	router := NewRouter(RouterConfig{
		Faces: &stubFaces{},
		Checks: map[string]handlers.Check{
			"postgres": func(context.Context) error { return nil },
			"nats":     func(context.Context) error { return errors.New("nats not connected") },
		},
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), "nats not connected")
}
