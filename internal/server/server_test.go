package server_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/gijzelaerr/poing/internal/audio"
	"github.com/gijzelaerr/poing/internal/musicgen"
	"github.com/gijzelaerr/poing/internal/server"
)

// stubGenerator implements server.Generator for tests.
type stubGenerator struct {
	samples []float32
	err     error

	mu     sync.Mutex
	prompt string
	params musicgen.Params
	calls  int
}

func (s *stubGenerator) Generate(_ context.Context, prompt string, params musicgen.Params, progress func(float32)) ([]float32, error) {
	s.mu.Lock()
	s.prompt, s.params = prompt, params
	s.calls++
	s.mu.Unlock()

	if progress != nil {
		progress(1)
	}
	return s.samples, s.err
}

func (s *stubGenerator) SampleRate() int { return audio.SampleRate }

func (s *stubGenerator) last() (string, musicgen.Params, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt, s.params, s.calls
}

// stubModelLister implements server.ModelLister for tests.
type stubModelLister struct {
	models []server.ModelInfo
}

func (m *stubModelLister) ListModels() []server.ModelInfo {
	return m.models
}

func newTestHandler(gen server.Generator, models server.ModelLister, opts ...server.Option) http.Handler {
	return server.NewHandler(gen, models, opts...)
}

func postGenerate(h http.Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// GET /health
// ---------------------------------------------------------------------------

func TestHealth_Returns200WithStatusOK(t *testing.T) {
	h := newTestHandler(&stubGenerator{}, &stubModelLister{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if body["status"] != "ok" {
		t.Errorf("want status=ok, got %q", body["status"])
	}

	if _, ok := body["version"]; !ok {
		t.Error("want version field in response")
	}
}

// ---------------------------------------------------------------------------
// GET /models
// ---------------------------------------------------------------------------

func TestModels_ReturnsJSONArray(t *testing.T) {
	models := []server.ModelInfo{
		{Dir: "models/musicgen-small", Valid: true},
		{Dir: "models/missing", Valid: false, Error: "invalid model directory"},
	}
	h := newTestHandler(&stubGenerator{}, &stubModelLister{models: models})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var got []server.ModelInfo
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if len(got) != 2 || !got[0].Valid || got[1].Valid || got[1].Error == "" {
		t.Errorf("unexpected models: %+v", got)
	}
}

func TestModels_ReturnsEmptyArrayWhenNoModels(t *testing.T) {
	h := newTestHandler(&stubGenerator{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	h.ServeHTTP(rec, req)

	if got := bytes.TrimSpace(rec.Body.Bytes()); string(got) != "[]" {
		t.Errorf("want [], got %s", got)
	}
}

func TestDirLister_ValidatesEachDir(t *testing.T) {
	lister := server.DirLister{Dirs: []string{t.TempDir()}}

	got := lister.ListModels()
	if len(got) != 1 || got[0].Valid || got[0].Error == "" {
		t.Fatalf("empty dir listed as %+v", got)
	}
}

// ---------------------------------------------------------------------------
// POST /generate
// ---------------------------------------------------------------------------

func TestGenerate_ReturnsMissingBodyAs400(t *testing.T) {
	h := newTestHandler(&stubGenerator{}, &stubModelLister{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}

	if body["error"] == "" {
		t.Error("want non-empty error field")
	}
}

func TestGenerate_RejectsGet(t *testing.T) {
	h := newTestHandler(&stubGenerator{}, &stubModelLister{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/generate", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("want 405, got %d", rec.Code)
	}
}

func TestGenerate_EmptyPromptIs400AndSkipsGenerator(t *testing.T) {
	gen := &stubGenerator{}
	h := newTestHandler(gen, &stubModelLister{})

	for _, body := range []string{`{"prompt":""}`, `{"prompt":"   "}`, `{}`} {
		if rec := postGenerate(h, body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: want 400, got %d", body, rec.Code)
		}
	}

	if _, _, calls := gen.last(); calls != 0 {
		t.Fatalf("generator called %d times", calls)
	}
}

func TestGenerate_InvalidParamsAre400(t *testing.T) {
	h := newTestHandler(&stubGenerator{}, &stubModelLister{})

	for _, body := range []string{
		`{"prompt":"jazz","guidance_scale":0}`,
		`{"prompt":"jazz","top_k":-1}`,
		`{"prompt":"jazz","duration":-2}`,
	} {
		if rec := postGenerate(h, body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: want 400, got %d", body, rec.Code)
		}
	}
}

func TestGenerate_ReturnsWAVOnSuccess(t *testing.T) {
	gen := &stubGenerator{samples: []float32{0, 0.25, -0.25, 0.5}}
	h := newTestHandler(gen, &stubModelLister{})

	rec := postGenerate(h, `{"prompt":"upbeat synthwave","seed":7}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("want Content-Type audio/wav, got %q", ct)
	}

	samples, err := audio.DecodeWAV(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("response is not a 32 kHz WAV: %v", err)
	}
	if len(samples) != 4 {
		t.Errorf("want 4 samples, got %d", len(samples))
	}

	_, params, _ := gen.last()
	if params.Seed != 7 || params.GuidanceScale != 3 || params.TopK != 50 {
		t.Errorf("params = %+v, want seed 7 with defaults", params)
	}
}

func TestGenerate_AppliesTempoAndBars(t *testing.T) {
	gen := &stubGenerator{samples: []float32{0}}
	h := newTestHandler(gen, &stubModelLister{})

	rec := postGenerate(h, `{"prompt":"house groove","bpm":120,"bars":8,"top_k":10}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	prompt, params, _ := gen.last()
	if prompt != "120 bpm. house groove" {
		t.Errorf("prompt = %q", prompt)
	}
	if params.Duration != 16 || params.TopK != 10 {
		t.Errorf("params = %+v, want duration 16 and top_k 10", params)
	}
}

func TestGenerate_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "tokenization", err: musicgen.ErrTokenization, want: http.StatusBadRequest},
		{name: "cancelled", err: musicgen.ErrCancelled, want: http.StatusGatewayTimeout},
		{name: "deadline", err: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
		{name: "generation", err: errors.Join(musicgen.ErrGeneration, musicgen.ErrModelInvocation), want: http.StatusInternalServerError},
		{name: "other", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&stubGenerator{err: tt.err}, &stubModelLister{})

			rec := postGenerate(h, `{"prompt":"jazz"}`)
			if rec.Code != tt.want {
				t.Fatalf("want %d, got %d", tt.want, rec.Code)
			}

			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body["error"] == "" {
				t.Error("want non-empty error field")
			}
		})
	}
}
