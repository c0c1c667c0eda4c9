// Package http exposes the session controller and the share store over HTTP.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alexhamidi/anyheart/internal/logging"
	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/alexhamidi/anyheart/pkg/push"
	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// DefaultMaxBodyBytes bounds request bodies. Page markup and screenshots travel inline.
const DefaultMaxBodyBytes = 16 << 20

// Sessions is the controller as served over HTTP.
type Sessions interface {
	Start(ctx context.Context, req domain.StartRequest) (*domain.RoundResult, error)
	SubmitRound(ctx context.Context, sessionID, instruction, screenshot string) (*domain.RoundResult, error)
	Status(ctx context.Context, sessionID string) (*domain.Summary, error)
	AttachObservation(ctx context.Context, sessionID string, obs *domain.Observation) error
	Complete(ctx context.Context, sessionID string) (*domain.Summary, error)
	Abandon(ctx context.Context, sessionID string) error
}

// Shares is the share store as served over HTTP.
type Shares interface {
	Create(ctx context.Context, req domain.ShareRequest) (*domain.ShareResult, error)
	Fetch(ctx context.Context, id string) (*domain.ShareRecord, error)
}

// Server holds the handlers of the API.
type Server struct {
	Sessions Sessions
	Shares   Shares
	Hub      *push.Hub

	logger   *slog.Logger
	metrics  http.Handler
	maxBytes int64
	version  string
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithVersion sets the version reported by /info.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// NewHandler creates the HTTP handler of the API.
func NewHandler(sessions Sessions, shares Shares, hub *push.Hub, opts ...Option) http.Handler {
	s := &Server{
		Sessions: sessions,
		Shares:   shares,
		Hub:      hub,
		logger:   logging.NewNop(),
		maxBytes: DefaultMaxBodyBytes,
		version:  "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(enableCORS)

	r.Get("/openapi.yaml", s.OpenAPI)
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(swaggerHTML))
	})
	r.Get("/health", s.Health)
	r.Get("/info", s.Info)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Post("/agent/start", s.StartSession)
	r.Route("/agent/{id}", func(r chi.Router) {
		r.Post("/request", s.SubmitRound)
		r.Get("/status", s.GetStatus)
		r.Post("/observation", s.AttachObservation)
		r.Post("/ack", s.Ack)
		r.Post("/complete", s.CompleteSession)
		r.Delete("/", s.AbandonSession)
		r.Get("/events", s.SubscribeEvents)
		r.Get("/ws", s.SubscribeWebSocket)
	})

	r.Post("/api/share", s.CreateShare)
	r.Get("/api/share/{id}", s.FetchShare)

	return r
}

// StartSession handles POST /agent/start.
func (s *Server) StartSession(w http.ResponseWriter, r *http.Request) {
	var body domain.StartRequest
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.Sessions.Start(r.Context(), body)
	s.writeRound(w, "StartSession", res, err)
}

type roundRequest struct {
	Query      string `json:"query"`
	Screenshot string `json:"screenshot,omitempty"`
}

// SubmitRound handles POST /agent/{id}/request.
func (s *Server) SubmitRound(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var body roundRequest
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.Sessions.SubmitRound(r.Context(), id, body.Query, body.Screenshot)
	s.writeRound(w, "SubmitRound", res, err)
}

// GetStatus handles GET /agent/{id}/status.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	sum, err := s.Sessions.Status(r.Context(), id)
	if err != nil {
		s.writeError(w, "GetStatus", err)
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

// AttachObservation handles POST /agent/{id}/observation.
func (s *Server) AttachObservation(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var obs domain.Observation
	if !s.decode(w, r, &obs) {
		return
	}
	if err := s.Sessions.AttachObservation(r.Context(), id, &obs); err != nil {
		s.writeError(w, "AttachObservation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ackRequest struct {
	Iteration int `json:"iteration"`
}

// Ack handles POST /agent/{id}/ack. Acknowledging an event that is no longer
// the latest one is not an error.
func (s *Server) Ack(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var body ackRequest
	if !s.decode(w, r, &body) {
		return
	}
	if s.Hub != nil {
		s.Hub.Ack(id, body.Iteration)
	}
	w.WriteHeader(http.StatusNoContent)
}

// CompleteSession handles POST /agent/{id}/complete.
func (s *Server) CompleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	sum, err := s.Sessions.Complete(r.Context(), id)
	if err != nil {
		s.writeError(w, "CompleteSession", err)
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

// AbandonSession handles DELETE /agent/{id}.
func (s *Server) AbandonSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.Sessions.Abandon(r.Context(), id); err != nil {
		s.writeError(w, "AbandonSession", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateShare handles POST /api/share.
func (s *Server) CreateShare(w http.ResponseWriter, r *http.Request) {
	var body domain.ShareRequest
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.Shares.Create(r.Context(), body)
	if err != nil {
		s.writeError(w, "CreateShare", err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// FetchShare handles GET /api/share/{id}.
func (s *Server) FetchShare(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	rec, err := s.Shares.Fetch(r.Context(), id)
	if err != nil {
		s.writeError(w, "FetchShare", err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Info handles GET /info.
func (s *Server) Info(w http.ResponseWriter, r *http.Request) {
	info := map[string]string{
		"app":     "anyheart",
		"version": s.version,
	}
	if spec, err := GetSwagger(); err == nil {
		info["api_version"] = spec.Info.Version
	}
	s.writeJSON(w, http.StatusOK, info)
}

// -- Helpers --

// pathID binds the {id} path parameter.
func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil || id == "" {
		s.writeJSON(w, http.StatusBadRequest, domain.ErrorBody{
			Error:   domain.Kind(domain.ErrInvalidInput),
			Message: "invalid path parameter id",
		})
		return "", false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, "decode", domain.ErrContentTooLarge)
			return false
		}
		s.logger.Warn("Invalid request body", "path", r.URL.Path, "error", err)
		s.writeJSON(w, http.StatusBadRequest, domain.ErrorBody{
			Error:   domain.Kind(domain.ErrInvalidInput),
			Message: "invalid request body",
		})
		return false
	}
	return true
}

// roundFailure carries the errored round alongside the error, so the client
// keeps the session id.
type roundFailure struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	*domain.RoundResult
}

func (s *Server) writeRound(w http.ResponseWriter, op string, res *domain.RoundResult, err error) {
	if err == nil {
		s.writeJSON(w, http.StatusOK, res)
		return
	}
	if res == nil {
		s.writeError(w, op, err)
		return
	}
	s.logFailure(op, err)
	s.writeJSON(w, statusFor(err), roundFailure{
		Error:       domain.Kind(err),
		Message:     domain.StatusMessage(err),
		RoundResult: res,
	})
}

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	s.logFailure(op, err)
	s.writeJSON(w, statusFor(err), domain.ErrorBody{
		Error:   domain.Kind(err),
		Message: domain.StatusMessage(err),
	})
}

func (s *Server) logFailure(op string, err error) {
	if statusFor(err) >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "error", err)
		return
	}
	s.logger.Debug(op+" rejected", "error", err)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "error", err)
	}
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrRecordNotFound),
		errors.Is(err, domain.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionNotActive),
		errors.Is(err, domain.ErrRoundInFlight),
		errors.Is(err, domain.ErrPageMismatch):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRecordExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrContentTooLarge), errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrUpstreamError), errors.Is(err, domain.ErrHostUnresponsive):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// enableCORS lets pages on any origin reach the API.
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
