package face

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/your-org/gatepass/internal/config"
	"github.com/your-org/gatepass/internal/models"
)

// memState mirrors the three biometric tables.
type memState struct {
	faces    map[string]models.FaceRecord
	vectors  map[string]models.EmbeddingVector
	profiles map[models.UserType]map[string]*uuid.UUID
}

func (s memState) clone() memState {
	out := memState{
		faces:    make(map[string]models.FaceRecord, len(s.faces)),
		vectors:  make(map[string]models.EmbeddingVector, len(s.vectors)),
		profiles: make(map[models.UserType]map[string]*uuid.UUID, len(s.profiles)),
	}
	for k, v := range s.faces {
		out.faces[k] = v
	}
	for k, v := range s.vectors {
		v.Embedding = slices.Clone(v.Embedding)
		out.vectors[k] = v
	}
	for ut, m := range s.profiles {
		cp := make(map[string]*uuid.UUID, len(m))
		for id, ref := range m {
			if ref != nil {
				r := *ref
				ref = &r
			}
			cp[id] = ref
		}
		out.profiles[ut] = cp
	}
	return out
}

func (s memState) search(embedding []float32, limit int) []models.SimilarityMatch {
	matches := make([]models.SimilarityMatch, 0, len(s.vectors))
	for _, v := range s.vectors {
		matches = append(matches, models.SimilarityMatch{
			VectorID: v.ID,
			UserID:   v.UserID,
			Score:    CosineSimilarity(embedding, v.Embedding),
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// integrity reports a violated reference between the tables.
func (s memState) integrity() error {
	faceIDs := make(map[uuid.UUID]bool)
	for user, f := range s.faces {
		v, ok := s.vectors[f.VectorRef]
		if !ok {
			return fmt.Errorf("face of %s references missing vector %s", user, f.VectorRef)
		}
		if v.UserID != user {
			return fmt.Errorf("vector %s belongs to %s, face to %s", v.ID, v.UserID, user)
		}
		faceIDs[f.ID] = true
	}
	for ut, m := range s.profiles {
		for user, ref := range m {
			if ref != nil && !faceIDs[*ref] {
				return fmt.Errorf("%s profile %s references missing face %s", ut, user, ref)
			}
		}
	}
	return nil
}

var errInjected = errors.New("injected failure")

type memStore struct {
	mu    sync.Mutex
	state memState
	// enroll is held by a transaction between LockEnrollment and its end.
	enroll sync.Mutex
	// failOn names a store or transaction operation that should fail.
	failOn string
	// onBegin runs before each transaction starts.
	onBegin func()
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		faces:    map[string]models.FaceRecord{},
		vectors:  map[string]models.EmbeddingVector{},
		profiles: map[models.UserType]map[string]*uuid.UUID{},
	}}
}

func (m *memStore) addProfile(ut models.UserType, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.profiles[ut] == nil {
		m.state.profiles[ut] = map[string]*uuid.UUID{}
	}
	m.state.profiles[ut][userID] = nil
}

func (m *memStore) snapshot() memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memStore) profileFace(ut models.UserType, userID string) *uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.profiles[ut][userID]
}

func (m *memStore) GetFaceByUser(_ context.Context, userID string) (*models.FaceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.state.faces[userID]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (m *memStore) GetVector(_ context.Context, vectorID string) (*models.EmbeddingVector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.state.vectors[vectorID]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *memStore) SearchSimilar(_ context.Context, embedding []float32, limit int) ([]models.SimilarityMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "search" {
		return nil, fmt.Errorf("search: %w", errInjected)
	}
	return m.state.search(embedding, limit), nil
}

func (m *memStore) Begin(context.Context) (Tx, error) {
	if m.onBegin != nil {
		m.onBegin()
	}
	return &memTx{store: m, state: m.snapshot()}, nil
}

// swapFace gives userID's face record a new id, as a concurrent
// re-enrollment would.
func (m *memStore) swapFace(ut models.UserType, userID string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.state.faces[userID]
	f.ID = uuid.New()
	m.state.faces[userID] = f
	id := f.ID
	m.state.profiles[ut][userID] = &id
	return id
}

type memTx struct {
	store  *memStore
	state  memState
	locked bool
	done   bool
}

func (t *memTx) fail(op string) error {
	if t.store.failOn == op {
		return fmt.Errorf("%s: %w", op, errInjected)
	}
	return nil
}

func (t *memTx) LockEnrollment(context.Context) error {
	t.store.enroll.Lock()
	t.locked = true
	// Statements after the lock see everything committed before it.
	t.state = t.store.snapshot()
	return nil
}

func (t *memTx) GetFaceByUser(_ context.Context, userID string) (*models.FaceRecord, error) {
	f, ok := t.state.faces[userID]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (t *memTx) SearchSimilar(_ context.Context, embedding []float32, limit int) ([]models.SimilarityMatch, error) {
	if err := t.fail("search"); err != nil {
		return nil, err
	}
	return t.state.search(embedding, limit), nil
}

func (t *memTx) DeleteVector(_ context.Context, vectorID string) error {
	if err := t.fail("delete_vector"); err != nil {
		return err
	}
	delete(t.state.vectors, vectorID)
	return nil
}

func (t *memTx) DeleteFace(_ context.Context, faceID uuid.UUID) error {
	if err := t.fail("delete_face"); err != nil {
		return err
	}
	for user, f := range t.state.faces {
		if f.ID == faceID {
			delete(t.state.faces, user)
		}
	}
	return nil
}

func (t *memTx) InsertVector(_ context.Context, v *models.EmbeddingVector) error {
	if err := t.fail("insert_vector"); err != nil {
		return err
	}
	if _, ok := t.state.vectors[v.ID]; ok {
		return fmt.Errorf("vector %s already exists", v.ID)
	}
	cp := *v
	cp.Embedding = slices.Clone(v.Embedding)
	t.state.vectors[v.ID] = cp
	return nil
}

func (t *memTx) InsertFace(_ context.Context, f *models.FaceRecord) error {
	if err := t.fail("insert_face"); err != nil {
		return err
	}
	if _, ok := t.state.faces[f.UserID]; ok {
		return fmt.Errorf("face for %s already exists", f.UserID)
	}
	t.state.faces[f.UserID] = *f
	return nil
}

func (t *memTx) UpdateProfileFace(_ context.Context, ut models.UserType, userID string, faceID *uuid.UUID, _ time.Time) (bool, error) {
	if err := t.fail("update_profile"); err != nil {
		return false, err
	}
	m := t.state.profiles[ut]
	if _, ok := m[userID]; !ok {
		return false, nil
	}
	m[userID] = faceID
	return true, nil
}

func (t *memTx) Commit(context.Context) error {
	if err := t.fail("commit"); err != nil {
		return err
	}
	if err := t.state.integrity(); err != nil {
		return err
	}
	t.store.mu.Lock()
	t.store.state = t.state
	t.store.mu.Unlock()
	t.finish()
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	t.finish()
	return nil
}

func (t *memTx) finish() {
	if t.done {
		return
	}
	t.done = true
	if t.locked {
		t.store.enroll.Unlock()
	}
}

// fakeDetector identifies a capture by the colour of its top-left pixel.
type fakeDetector struct {
	mu    sync.Mutex
	faces map[color.RGBA][]models.DetectedFace
	calls int
}

func newFakeDetector() *fakeDetector {
	return &fakeDetector{faces: map[color.RGBA][]models.DetectedFace{}}
}

func (d *fakeDetector) set(c color.RGBA, faces ...models.DetectedFace) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faces[c] = faces
}

func (d *fakeDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDetector) Detect(_ context.Context, img image.Image, maxFaces int) ([]models.DetectedFace, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	b := img.Bounds()
	c := color.RGBAModel.Convert(img.At(b.Min.X, b.Min.Y)).(color.RGBA)
	faces := d.faces[c]
	if len(faces) > maxFaces {
		faces = faces[:maxFaces]
	}
	return faces, nil
}

type memEvidence struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (e *memEvidence) PutObject(_ context.Context, key string, data []byte, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.objects == nil {
		e.objects = map[string][]byte{}
	}
	e.objects[key] = data
	return nil
}

func (e *memEvidence) ListObjects(_ context.Context, prefix string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var keys []string
	for k := range e.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (e *memEvidence) GetObject(_ context.Context, key string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, ok := e.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (e *memEvidence) DeletePrefix(_ context.Context, prefix string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k := range e.objects {
		if strings.HasPrefix(k, prefix) {
			delete(e.objects, k)
		}
	}
	return nil
}

type memEvents struct {
	mu     sync.Mutex
	events []models.BiometricEvent
}

func (p *memEvents) PublishBiometric(_ context.Context, ev models.BiometricEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *memEvents) types() []models.BiometricEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.BiometricEventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// Embeddings with exact cosine similarity to vecA (integer components whose
// norms are whole numbers).
var (
	vecA   = []float32{20, 0, 0, 0, 0}
	vec052 = []float32{13, 20, 6, 4, 2}
	vec055 = []float32{11, 13, 10, 3, 1}
	vec060 = []float32{12, 16, 0, 0, 0}
	vec065 = []float32{13, 15, 2, 1, 1}
	vec070 = []float32{14, 14, 2, 2, 0}
	vec080 = []float32{16, 12, 0, 0, 0}
	vecOrt = []float32{0, 20, 0, 0, 0}
)

var (
	red    = color.RGBA{R: 255, A: 255}
	green  = color.RGBA{G: 255, A: 255}
	blue   = color.RGBA{B: 255, A: 255}
	yellow = color.RGBA{R: 255, G: 255, A: 255}
	purple = color.RGBA{R: 128, B: 128, A: 255}
	cyan   = color.RGBA{G: 255, B: 255, A: 255}
	gray   = color.RGBA{R: 90, G: 90, B: 90, A: 255}
	black  = color.RGBA{A: 255}
	white  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// landmarks returns 68 points, all at the origin except the first which is
// moved shift units along X.
func landmarks(shift float32) []models.Point3D {
	pts := make([]models.Point3D, 68)
	pts[0].X = shift
	return pts
}

func face(embedding []float32, shift float32) models.DetectedFace {
	return models.DetectedFace{
		BBox:       [4]float32{0, 0, 8, 8},
		Confidence: 0.9,
		Embedding:  embedding,
		Landmarks:  landmarks(shift),
	}
}

func pngBytes(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func payload(t *testing.T, c color.RGBA) string {
	t.Helper()
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, c))
}

type harness struct {
	svc      *Service
	store    *memStore
	det      *fakeDetector
	evidence *memEvidence
	events   *memEvents
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    newMemStore(),
		det:      newFakeDetector(),
		evidence: &memEvidence{},
		events:   &memEvents{},
	}
	h.svc = NewService(Deps{
		Store:     h.store,
		Extractor: NewExtractor(h.det, 2),
		Evidence:  h.evidence,
		Events:    h.events,
	}, config.FaceConfig{
		Thresholds:      config.DefaultThresholds(),
		DuplicateTopK:   5,
		StagingTTL:      5 * time.Minute,
		StagingCapacity: 16,
	})
	return h
}
