// Package server is the HTTP gateway: authentication, request decoding,
// error classification and the progress websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/franckalain/glowscan/internal/auth"
	"github.com/franckalain/glowscan/internal/metrics"
	"github.com/franckalain/glowscan/internal/models"
	"github.com/franckalain/glowscan/internal/routine"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 15 * time.Second
)

type Authenticator interface {
	Authenticate(token, bodyUserID string) (auth.Identity, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, req models.ScanRequest) (*models.AnalysisResult, error)
}

type RoutineGenerator interface {
	Generate(ctx context.Context, userID string, profile *models.SkinProfile) (routine.Result, error)
}

// Deps are the collaborators of a Server. Routines and Progress may be nil.
type Deps struct {
	Auth     Authenticator
	Analyzer Analyzer
	Routines RoutineGenerator
	Progress *Hub
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

type Server struct {
	Deps
	corsOrigin string
	log        *zap.Logger
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Remaining *int64 `json:"remaining,omitempty"`
}

type analyzeRequest struct {
	ImageURL string `json:"image_url"`
	ScanID   string `json:"scan_id"`
	UserID   string `json:"user_id"`
}

type routineRequest struct {
	UserID       string   `json:"user_id"`
	SkinType     string   `json:"skin_type"`
	SkinConcerns []string `json:"skin_concerns"`
	SkinGoals    []string `json:"skin_goals"`
}

func New(deps Deps, corsOrigin string, log *zap.Logger) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	return &Server{Deps: deps, corsOrigin: corsOrigin, log: log.Named("server")}
}

// Handler returns the gateway's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/analyze", s.post("analyze", s.handleAnalyze))
	mux.Handle("/routine", s.post("routine", s.handleRoutine))
	mux.HandleFunc("/health", s.handleHealth)
	if s.Progress != nil {
		mux.HandleFunc("/ws", s.Progress.ServeHTTP)
	}
	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics.Handler())
	}
	return mux
}

// Start serves on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting server", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if s.Progress != nil {
		s.Progress.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// post wraps a POST-only handler with CORS preflight handling and request
// metrics.
func (s *Server) post(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() { s.Metrics.Request(route, strconv.Itoa(rec.status)) }()

		rec.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		switch r.Method {
		case http.MethodOptions:
			rec.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			rec.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			rec.WriteHeader(http.StatusNoContent)
		case http.MethodPost:
			h(rec, r)
		default:
			rec.Header().Set("Allow", "POST, OPTIONS")
			s.writeJSON(rec, http.StatusMethodNotAllowed, ErrorResponse{
				Error:   "MethodNotAllowed",
				Message: r.Method + " is not supported",
			})
		}
	})
}

// decode reads the JSON body into v. An empty body leaves v unchanged.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid JSON body: %w", models.ErrBadRequest, err)
	}
	return nil
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body analyzeRequest
	decodeErr := decode(w, r, &body)

	// Authentication is decided before the body is validated.
	id, err := s.Auth.Authenticate(auth.BearerToken(r), body.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if decodeErr != nil {
		s.writeError(w, r, decodeErr)
		return
	}
	if body.ImageURL == "" {
		s.writeError(w, r, fmt.Errorf("%w: image_url is required", models.ErrBadRequest))
		return
	}
	if body.ScanID == "" {
		s.writeError(w, r, fmt.Errorf("%w: scan_id is required", models.ErrBadRequest))
		return
	}

	req := models.ScanRequest{
		RequesterID: id.UserID,
		ImageRef:    body.ImageURL,
		ScanID:      body.ScanID,
		TraceID:     uuid.NewString(),
		TraceStart:  s.Now(),
	}
	s.log.Debug("analyze request",
		zap.String("scan_id", req.ScanID),
		zap.String("user_id", req.RequesterID),
		zap.String("strategy", string(id.Strategy)),
		zap.String("trace_id", req.TraceID))

	result, err := s.Analyzer.Analyze(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRoutine(w http.ResponseWriter, r *http.Request) {
	var body routineRequest
	decodeErr := decode(w, r, &body)

	id, err := s.Auth.Authenticate(auth.BearerToken(r), body.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if decodeErr != nil {
		s.writeError(w, r, decodeErr)
		return
	}
	if s.Routines == nil {
		s.writeError(w, r, fmt.Errorf("%w: record database is not configured", models.ErrMisconfigured))
		return
	}

	var profile *models.SkinProfile
	if body.SkinType != "" || len(body.SkinConcerns) > 0 || len(body.SkinGoals) > 0 {
		profile = &models.SkinProfile{
			SkinType:     body.SkinType,
			SkinConcerns: body.SkinConcerns,
			SkinGoals:    body.SkinGoals,
		}
	}

	result, err := s.Routines.Generate(r.Context(), id.UserID, profile)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// classify maps an error to its status code and envelope.
func classify(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		return http.StatusUnauthorized, ErrorResponse{Error: "Unauthenticated", Message: "a valid bearer token is required"}
	case errors.Is(err, models.ErrBadRequest):
		return http.StatusBadRequest, ErrorResponse{Error: "BadRequest", Message: err.Error()}
	case errors.Is(err, models.ErrQuotaExceeded):
		var zero int64
		return http.StatusTooManyRequests, ErrorResponse{Error: "QuotaExceeded", Message: "daily scan limit reached", Remaining: &zero}
	case errors.Is(err, models.ErrUpstreamFetch):
		return http.StatusInternalServerError, ErrorResponse{Error: "UpstreamFetchFailed", Message: "the image could not be fetched"}
	case errors.Is(err, models.ErrMisconfigured):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "Misconfigured", Message: "the service is not configured"}
	case errors.Is(err, routine.ErrNoProducts):
		return http.StatusInternalServerError, ErrorResponse{Error: "NoProducts", Message: "No products available"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "InternalError", Message: "internal error"}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	log := s.log.With(zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	if status >= http.StatusInternalServerError {
		log.Error("request failed")
	} else {
		log.Info("request rejected")
	}
	s.writeJSON(w, status, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to write response", zap.Error(err))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
