package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"AutoFM/config"
	"AutoFM/core/mixer"
	"AutoFM/core/provider"
	"AutoFM/core/selector"
	"AutoFM/model"
	"AutoFM/repository"

	"github.com/gorilla/mux"
)

// memMixRepo is just enough repository to drive the handlers.
type memMixRepo struct {
	mu    sync.Mutex
	mixes map[string]*model.Mix
}

func newMemMixRepo() *memMixRepo {
	return &memMixRepo{mixes: make(map[string]*model.Mix)}
}

func (r *memMixRepo) CreateMix(ctx context.Context, mix *model.Mix) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *mix
	r.mixes[mix.ID] = &cp
	return nil
}

func (r *memMixRepo) GetMixByID(ctx context.Context, id string) (*model.Mix, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mix, ok := r.mixes[id]
	if !ok {
		return nil, nil
	}
	cp := *mix
	return &cp, nil
}

func (r *memMixRepo) GetAllMixes(ctx context.Context, genre string) ([]*model.Mix, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Mix
	for _, mix := range r.mixes {
		if genre != "" && mix.Genre != genre {
			continue
		}
		cp := *mix
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memMixRepo) TransitionStatus(ctx context.Context, id string, from, to model.MixStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mix, ok := r.mixes[id]
	if !ok || mix.Status != from {
		return false, nil
	}
	mix.Status = to
	return true, nil
}

func (r *memMixRepo) MarkCompleted(ctx context.Context, id string, duration float64, artifactPath string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mix, ok := r.mixes[id]
	if !ok || mix.Status != model.MixProcessing {
		return false, nil
	}
	now := time.Now()
	mix.Status = model.MixCompleted
	mix.Duration = duration
	mix.ArtifactPath = artifactPath
	mix.CompletedAt = &now
	return true, nil
}

func (r *memMixRepo) MarkFailed(ctx context.Context, id string, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mix, ok := r.mixes[id]
	if !ok || mix.Status.Terminal() {
		return false, nil
	}
	now := time.Now()
	mix.Status = model.MixFailed
	mix.FailReason = reason
	mix.CompletedAt = &now
	return true, nil
}

func (r *memMixRepo) DeleteMix(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mixes, id)
	return nil
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) PutArtifact(ctx context.Context, mixID string, r io.Reader, size int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[mixID] = data
	return fmt.Sprintf("mixes/%s.mp3", mixID), nil
}

func (s *memStore) GetArtifact(ctx context.Context, mixID string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[mixID]
	if !ok {
		return nil, fmt.Errorf("artifact for mix %s not found", mixID)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStore) RemoveArtifact(ctx context.Context, mixID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, mixID)
	return nil
}

// emptyProvider finds nothing; pipelines started by handler tests fail
// fast and leave the record in failed.
type emptyProvider struct{}

func (emptyProvider) Search(ctx context.Context, genre string) (provider.Cursor, error) {
	return provider.NewSliceCursor(nil), nil
}

func (emptyProvider) Fetch(ctx context.Context, desc model.TrackDescriptor, destDir string) (string, error) {
	return "", fmt.Errorf("nothing to fetch")
}

type memTrackRepo struct{}

func (memTrackRepo) SaveTrack(ctx context.Context, track *model.Track) error { return nil }
func (memTrackRepo) GetTrackByID(ctx context.Context, id string) (*model.Track, error) {
	return nil, nil
}
func (memTrackRepo) GetTracksByGenre(ctx context.Context, genre string) ([]*model.Track, error) {
	return []*model.Track{}, nil
}
func (memTrackRepo) SaveAnalyzedTrack(ctx context.Context, desc model.TrackDescriptor, analysis *model.TrackAnalysis) error {
	return nil
}

func testServer(t *testing.T) (*mux.Router, *memMixRepo, *memStore, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		WorkDir:           dir,
		Genres:            []string{"Techno", "House"},
		AnalyzeWorkers:    1,
		CandidateCap:      5,
		IntroSkipSec:      2,
		OutroReserveSec:   2,
		MinUsableSec:      10,
		DurationTolerance: 0.10,
		RenderSampleRate:  1000,
		RenderChannels:    2,
		AudioBitrate:      "192k",
		WeightsPath:       filepath.Join(dir, "weights.json"),
	}
	repo := newMemMixRepo()
	store := newMemStore()
	weights := selector.NewWeightsStore(cfg.WeightsPath)
	var tracks repository.TrackRepository = memTrackRepo{}

	orch := mixer.NewOrchestrator(cfg, repo, tracks, store, emptyProvider{}, weights,
		nil, nil, nil, mixer.NewHub())

	mixHandler := NewMixHandler(orch)
	trackHandler := NewTrackHandler(cfg, tracks)

	router := mux.NewRouter()
	router.HandleFunc("/api/genres", trackHandler.GetGenresHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks", trackHandler.GetTracksHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/mixes", mixHandler.CreateMixHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/mixes", mixHandler.ListMixesHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/mixes/{id}", mixHandler.GetMixHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/mixes/{id}", mixHandler.DeleteMixHandler).Methods(http.MethodDelete)
	router.HandleFunc("/api/mixes/{id}/stream", mixHandler.StreamMixHandler).Methods(http.MethodGet)
	return router, repo, store, cfg
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateMixEndpoint(t *testing.T) {
	router, _, _, _ := testServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/mixes", map[string]interface{}{
		"genre":            "Techno",
		"title":            "Late Night",
		"duration_minutes": 30,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var mix model.Mix
	if err := json.Unmarshal(rec.Body.Bytes(), &mix); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if mix.Status != model.MixPending {
		t.Errorf("created mix status = %s, want pending", mix.Status)
	}
	if mix.ID == "" || mix.Title != "Late Night" {
		t.Errorf("created mix = %+v", mix)
	}
}

func TestCreateMixEndpointRejectsBadRequests(t *testing.T) {
	router, _, _, _ := testServer(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"unknown genre", map[string]interface{}{"genre": "Polka", "duration_minutes": 30}},
		{"zero duration", map[string]interface{}{"genre": "Techno", "duration_minutes": 0}},
		{"missing genre", map[string]interface{}{"duration_minutes": 30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/api/mixes", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			var payload map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil || payload["error"] == "" {
				t.Errorf("error payload = %s", rec.Body.String())
			}
		})
	}
}

func TestCreateMixEndpointRejectsMalformedBody(t *testing.T) {
	router, _, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/mixes", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetMixEndpointNotFound(t *testing.T) {
	router, _, _, _ := testServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/mixes/no-such-id", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListMixesEndpoint(t *testing.T) {
	router, repo, _, _ := testServer(t)

	for i := 0; i < 3; i++ {
		repo.CreateMix(context.Background(), &model.Mix{
			ID: fmt.Sprintf("m-%d", i), Genre: "Techno",
			Status: model.MixPending, CreatedAt: time.Now(),
		})
	}

	rec := doJSON(t, router, http.MethodGet, "/api/mixes", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var summaries []model.MixSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(summaries) != 3 {
		t.Errorf("listed %d mixes, want 3", len(summaries))
	}
}

func TestStreamMixEndpointGuards(t *testing.T) {
	router, repo, store, _ := testServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/mixes/no-such-id/stream", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want 404", rec.Code)
	}

	// 未完成的任务返回 409，轮询方应继续等
	repo.CreateMix(context.Background(), &model.Mix{
		ID: "m-pending", Genre: "Techno", Status: model.MixProcessing, CreatedAt: time.Now(),
	})
	rec = doJSON(t, router, http.MethodGet, "/api/mixes/m-pending/stream", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("processing mix: status = %d, want 409", rec.Code)
	}

	repo.CreateMix(context.Background(), &model.Mix{
		ID: "m-done", Genre: "Techno", Status: model.MixCompleted,
		ArtifactPath: "mixes/m-done.mp3", CreatedAt: time.Now(),
	})
	store.objects["m-done"] = []byte("mp3-bytes")
	rec = doJSON(t, router, http.MethodGet, "/api/mixes/m-done/stream", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("completed mix: status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Content-Type = %q, want audio/mpeg", ct)
	}
	if rec.Body.String() != "mp3-bytes" {
		t.Errorf("streamed body = %q", rec.Body.String())
	}
}

func TestDeleteMixEndpoint(t *testing.T) {
	router, repo, _, _ := testServer(t)

	repo.CreateMix(context.Background(), &model.Mix{
		ID: "m-del", Genre: "Techno", Status: model.MixPending, CreatedAt: time.Now(),
	})

	rec := doJSON(t, router, http.MethodDelete, "/api/mixes/m-del", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/api/mixes/m-del", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("after delete: status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, router, http.MethodDelete, "/api/mixes/no-such-id", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete unknown: status = %d, want 404", rec.Code)
	}
}

func TestGenresEndpoint(t *testing.T) {
	router, _, _, cfg := testServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/genres", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		Genres []string `json:"genres"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode genres: %v", err)
	}
	if len(payload.Genres) != len(cfg.Genres) {
		t.Errorf("got %d genres, want %d", len(payload.Genres), len(cfg.Genres))
	}
}
