package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/gijzelaerr/poing/internal/audio"
	"github.com/gijzelaerr/poing/internal/config"
	"github.com/gijzelaerr/poing/internal/musicgen"
)

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Generator produces samples for a prompt. *musicgen.Pipeline implements it.
type Generator interface {
	musicgen.Generator
	SampleRate() int
}

// ModelInfo describes one configured model directory.
type ModelInfo struct {
	Dir   string `json:"dir"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ModelLister returns the model directories the server knows about.
type ModelLister interface {
	ListModels() []ModelInfo
}

// DirLister checks a fixed set of directories on every call.
type DirLister struct {
	Dirs          []string
	TokenizerFile string
}

func (d DirLister) ListModels() []ModelInfo {
	out := make([]ModelInfo, 0, len(d.Dirs))
	for _, dir := range d.Dirs {
		info := ModelInfo{Dir: dir, Valid: true}
		if err := musicgen.ValidateModelDir(dir, d.TokenizerFile); err != nil {
			info.Valid = false
			info.Error = err.Error()
		}
		out = append(out, info)
	}

	return out
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxPromptBytes int
	workers        int
	requestTimeout time.Duration
	defaults       musicgen.Params
	tempo          musicgen.Tempo
	logger         *slog.Logger
}

func defaultOptions() options {
	params, tempo := musicgen.ParamsFromConfig(config.DefaultConfig().Generation)

	return options{
		maxPromptBytes: 1024,
		workers:        1,
		requestTimeout: 600 * time.Second,
		defaults:       params,
		tempo:          tempo,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxPromptBytes sets the maximum allowed prompt length in bytes for POST /generate.
func WithMaxPromptBytes(n int) Option {
	return func(o *options) { o.maxPromptBytes = n }
}

// WithWorkers sets the maximum number of concurrent generation calls.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request generation deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithDefaults sets the parameters used for fields a request leaves out.
func WithDefaults(params musicgen.Params, tempo musicgen.Tempo) Option {
	return func(o *options) {
		o.defaults = params
		o.tempo = tempo
	}
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

// handler holds the dependencies needed to serve HTTP requests.
type handler struct {
	gen    Generator
	worker *musicgen.Worker
	models ModelLister
	opts   options
	sem    chan struct{} // semaphore for worker slots
	log    *slog.Logger
}

// NewHandler returns an http.Handler that serves /health, /models, and POST /generate.
func NewHandler(gen Generator, models ModelLister, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		gen:    gen,
		worker: musicgen.NewWorker(gen),
		models: models,
		opts:   opts,
		log:    opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/models", h.handleModels)
	mux.HandleFunc("/generate", h.handleGenerate)

	return withRequestID(mux)
}

// withRequestID propagates a valid incoming X-Request-ID or assigns a new one.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}

		r.Header.Set(RequestIDHeader, id)
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

func (h *handler) handleModels(w http.ResponseWriter, _ *http.Request) {
	var models []ModelInfo
	if h.models != nil {
		models = h.models.ListModels()
	}
	if models == nil {
		models = []ModelInfo{}
	}
	writeJSON(w, http.StatusOK, models)
}

type generateRequest struct {
	Prompt        string   `json:"prompt"`
	GuidanceScale *float32 `json:"guidance_scale"`
	TopK          *int     `json:"top_k"`
	Duration      *float64 `json:"duration"`
	BPM           *float64 `json:"bpm"`
	Bars          *float64 `json:"bars"`
	BeatsPerBar   *float64 `json:"beats_per_bar"`
	Seed          *uint64  `json:"seed"`
}

// resolve fills unset fields from the handler defaults.
func (req generateRequest) resolve(params musicgen.Params, tempo musicgen.Tempo) (musicgen.Params, musicgen.Tempo) {
	if req.GuidanceScale != nil {
		params.GuidanceScale = *req.GuidanceScale
	}
	if req.TopK != nil {
		params.TopK = *req.TopK
	}
	if req.Duration != nil {
		params.Duration = *req.Duration
	}
	if req.Seed != nil {
		params.Seed = *req.Seed
	}
	if req.BPM != nil {
		tempo.BPM = *req.BPM
	}
	if req.Bars != nil {
		tempo.Bars = *req.Bars
	}
	if req.BeatsPerBar != nil {
		tempo.BeatsPerBar = *req.BeatsPerBar
	}

	return params, tempo
}

func (h *handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(slog.String("request_id", r.Header.Get(RequestIDHeader)))

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return
	}

	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if len(body.Prompt) > h.opts.maxPromptBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("prompt exceeds maximum size of %d bytes", h.opts.maxPromptBytes))
		return
	}

	params, tempo := body.resolve(h.opts.defaults, h.opts.tempo)
	req, err := musicgen.NewRequest(body.Prompt, params, tempo)
	if err != nil {
		writeError(w, http.StatusBadRequest, "prompt field is required")
		return
	}

	if err := req.Params.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Acquire a worker slot; honour context cancellation while waiting.
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
			return
		}
		defer func() { <-h.sem }()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	samples, err := h.run(ctx, req)
	durationMS := time.Since(start).Milliseconds()

	attrs := []any{
		slog.Int("prompt_len", len(req.Prompt)),
		slog.Float64("duration", req.Params.Duration),
		slog.Int64("duration_ms", durationMS),
	}

	if err != nil {
		status, msg := classify(err)
		attrs = append(attrs, slog.String("error", err.Error()), slog.Int("status", status))
		if status == http.StatusGatewayTimeout {
			log.WarnContext(r.Context(), "generation timed out", attrs...)
		} else {
			log.ErrorContext(r.Context(), "generation failed", attrs...)
		}
		writeError(w, status, msg)
		return
	}

	wav, err := audio.EncodeWAV(samples, h.gen.SampleRate())
	if err != nil {
		log.ErrorContext(r.Context(), "wav encoding failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.InfoContext(r.Context(), "generation complete", append(attrs,
		slog.Int("samples", len(samples)),
		slog.Int("wav_bytes", len(wav)),
	)...)

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

// run submits req to the worker and waits for its terminal event.
func (h *handler) run(ctx context.Context, req musicgen.Request) ([]float32, error) {
	for ev := range h.worker.Submit(ctx, req) {
		if ev.Done {
			return ev.Samples, ev.Err
		}
	}

	return nil, fmt.Errorf("%w: worker closed without a result", musicgen.ErrGeneration)
}

// classify maps a generation error onto an HTTP status and client message.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, musicgen.ErrCancelled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "generation timed out"
	case errors.Is(err, musicgen.ErrEmptyPrompt),
		errors.Is(err, musicgen.ErrInvalidParams),
		errors.Is(err, musicgen.ErrTokenization):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server: wires handler into net/http.Server with graceful shutdown
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	gen             Generator
	shutdownTimeout time.Duration
}

func New(cfg config.Config, gen Generator) *Server {
	timeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Server{
		cfg:             cfg,
		gen:             gen,
		shutdownTimeout: timeout,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// Handler builds the request handler from the server's configuration.
func (s *Server) Handler() http.Handler {
	params, tempo := musicgen.ParamsFromConfig(s.cfg.Generation)

	return NewHandler(s.gen, DirLister{
		Dirs:          s.cfg.KnownModelDirs(),
		TokenizerFile: s.cfg.Paths.TokenizerFile,
	},
		WithWorkers(s.cfg.Server.Workers),
		WithMaxPromptBytes(s.cfg.Server.MaxPromptBytes),
		WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout)*time.Second),
		WithDefaults(params, tempo),
	)
}

func (s *Server) Start(ctx context.Context) error {
	if s.gen == nil {
		return errors.New("server: generator is nil")
	}

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	slog.Info("listening", "addr", s.cfg.Server.ListenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

// ProbeHTTP checks that a server is answering /health at addr.
func ProbeHTTP(ctx context.Context, addr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
