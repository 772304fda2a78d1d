package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/franckalain/glowscan/internal/auth"
	"github.com/franckalain/glowscan/internal/metrics"
	"github.com/franckalain/glowscan/internal/models"
	"github.com/franckalain/glowscan/internal/routine"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	workerSecret = "worker-secret"
	jwtSecret    = "jwt-secret"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func signToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return tok
}

type fakeAnalyzer struct {
	mu   sync.Mutex
	reqs []models.ScanRequest
	err  error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req models.ScanRequest) (*models.AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &models.AnalysisResult{ScanID: req.ScanID, GlowScore: 77, Narrative: "ok"}, nil
}

func (f *fakeAnalyzer) last() models.ScanRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type fakeRoutines struct {
	user    string
	profile *models.SkinProfile
	err     error
}

func (f *fakeRoutines) Generate(_ context.Context, user string, profile *models.SkinProfile) (routine.Result, error) {
	f.user, f.profile = user, profile
	if f.err != nil {
		return routine.Result{}, f.err
	}
	id := "r-1"
	return routine.Result{Success: true, Routines: models.RoutineIDs{MorningID: &id}, Message: "done"}, nil
}

func newTestServer(a Authenticator, analyzer Analyzer, routines RoutineGenerator) *Server {
	return New(Deps{
		Auth:     a,
		Analyzer: analyzer,
		Routines: routines,
		Metrics:  metrics.New(),
		Now:      func() time.Time { return testNow },
	}, "*", zap.NewNop())
}

func defaultAuth() *auth.Authenticator {
	return auth.New(workerSecret, jwtSecret, func() time.Time { return testNow })
}

func do(t *testing.T, h http.Handler, method, path, token, body string) (*httptest.ResponseRecorder, ErrorResponse) {
	t.Helper()
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var env ErrorResponse
	if w.Code >= 400 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func TestAnalyzeStatusMapping(t *testing.T) {
	valid := signToken(t, "user-jwt", testNow.Add(time.Hour))
	expired := signToken(t, "user-jwt", testNow.Add(-time.Minute))

	tests := []struct {
		name       string
		auth       *auth.Authenticator
		method     string
		token      string
		body       string
		analyzeErr error
		wantCode   int
		wantError  string
	}{
		{name: "get not allowed", method: http.MethodGet, wantCode: 405, wantError: "MethodNotAllowed"},
		{name: "missing token", method: http.MethodPost, body: `{"image_url":"u"}`, wantCode: 401, wantError: "Unauthenticated"},
		{name: "expired jwt", method: http.MethodPost, token: expired, body: `{"image_url":"u","user_id":"x"}`, wantCode: 401, wantError: "Unauthenticated"},
		{name: "wrong secret", method: http.MethodPost, token: "nope", body: `{"image_url":"u","user_id":"x"}`, wantCode: 401, wantError: "Unauthenticated"},
		{name: "worker secret without user", method: http.MethodPost, token: workerSecret, body: `{"image_url":"u"}`, wantCode: 401, wantError: "Unauthenticated"},
		{name: "no strategy configured", auth: auth.New("", "", nil), method: http.MethodPost, token: valid, body: `{"image_url":"u","scan_id":"s"}`, wantCode: 503, wantError: "Misconfigured"},
		{name: "malformed json", method: http.MethodPost, token: valid, body: `{"image_url":`, wantCode: 400, wantError: "BadRequest"},
		{name: "missing image", method: http.MethodPost, token: valid, body: `{"scan_id":"s"}`, wantCode: 400, wantError: "BadRequest"},
		{name: "missing scan id", method: http.MethodPost, token: workerSecret, body: `{"image_url":"http://x/img.jpg","user_id":"u1"}`, wantCode: 400, wantError: "BadRequest"},
		{name: "quota exceeded", method: http.MethodPost, token: valid, body: `{"image_url":"u","scan_id":"s"}`,
			analyzeErr: fmt.Errorf("%w: daily limit reached", models.ErrQuotaExceeded), wantCode: 429, wantError: "QuotaExceeded"},
		{name: "fetch failed", method: http.MethodPost, token: valid, body: `{"image_url":"u","scan_id":"s"}`,
			analyzeErr: fmt.Errorf("%w: 404", models.ErrUpstreamFetch), wantCode: 500, wantError: "UpstreamFetchFailed"},
		{name: "unexpected", method: http.MethodPost, token: valid, body: `{"image_url":"u","scan_id":"s"}`,
			analyzeErr: errors.New("disk on fire"), wantCode: 500, wantError: "InternalError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.auth
			if a == nil {
				a = defaultAuth()
			}
			srv := newTestServer(a, &fakeAnalyzer{err: tt.analyzeErr}, nil)
			w, env := do(t, srv.Handler(), tt.method, "/analyze", tt.token, tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantError, env.Error)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestQuotaExceededReportsZeroRemaining(t *testing.T) {
	srv := newTestServer(defaultAuth(), &fakeAnalyzer{err: models.ErrQuotaExceeded}, nil)
	w, _ := do(t, srv.Handler(), http.MethodPost, "/analyze", workerSecret, `{"image_url":"u","scan_id":"s","user_id":"u1"}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"QuotaExceeded","message":"daily scan limit reached","remaining":0}`, w.Body.String())
}

func TestAnalyzeWorkerSecretUsesBodyUser(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	srv := newTestServer(defaultAuth(), analyzer, nil)

	w, _ := do(t, srv.Handler(), http.MethodPost, "/analyze", workerSecret,
		`{"image_url":"https://img/x.jpg","scan_id":"scan-1","user_id":"u-worker"}`)
	require.Equal(t, http.StatusOK, w.Code)

	req := analyzer.last()
	assert.Equal(t, "u-worker", req.RequesterID)
	assert.Equal(t, "https://img/x.jpg", req.ImageRef)
	assert.Equal(t, "scan-1", req.ScanID)
	assert.NotEmpty(t, req.TraceID)
	assert.Equal(t, testNow, req.TraceStart)

	var res models.AnalysisResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 77, res.GlowScore)
	assert.Equal(t, "scan-1", res.ScanID)
}

func TestAnalyzeJWTIgnoresBodyUser(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	srv := newTestServer(defaultAuth(), analyzer, nil)
	token := signToken(t, "u-jwt", testNow.Add(time.Hour))

	w, _ := do(t, srv.Handler(), http.MethodPost, "/analyze", token, `{"image_url":"u","scan_id":"s","user_id":"someone-else"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-jwt", analyzer.last().RequesterID)
}

func TestPreflight(t *testing.T) {
	srv := newTestServer(defaultAuth(), &fakeAnalyzer{}, nil)
	w, _ := do(t, srv.Handler(), http.MethodOptions, "/analyze", "", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestRoutine(t *testing.T) {
	token := signToken(t, "u-jwt", testNow.Add(time.Hour))

	t.Run("body profile", func(t *testing.T) {
		routines := &fakeRoutines{}
		srv := newTestServer(defaultAuth(), &fakeAnalyzer{}, routines)
		w, _ := do(t, srv.Handler(), http.MethodPost, "/routine", token, `{"skin_type":"oily","skin_concerns":["acne"]}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"success":true,"routines":{"morning_id":"r-1","evening_id":null},"message":"done"}`, w.Body.String())
		assert.Equal(t, "u-jwt", routines.user)
		require.NotNil(t, routines.profile)
		assert.Equal(t, "oily", routines.profile.SkinType)
	})

	t.Run("empty body uses stored profile", func(t *testing.T) {
		routines := &fakeRoutines{}
		srv := newTestServer(defaultAuth(), &fakeAnalyzer{}, routines)
		w, _ := do(t, srv.Handler(), http.MethodPost, "/routine", token, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Nil(t, routines.profile)
	})

	t.Run("no profile anywhere", func(t *testing.T) {
		srv := newTestServer(defaultAuth(), &fakeAnalyzer{}, &fakeRoutines{err: fmt.Errorf("%w: no skin profile", models.ErrBadRequest)})
		w, env := do(t, srv.Handler(), http.MethodPost, "/routine", token, `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "BadRequest", env.Error)
	})

	t.Run("no products", func(t *testing.T) {
		srv := newTestServer(defaultAuth(), &fakeAnalyzer{}, &fakeRoutines{err: routine.ErrNoProducts})
		w, env := do(t, srv.Handler(), http.MethodPost, "/routine", token, `{"skin_type":"dry"}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "No products available", env.Message)
	})

	t.Run("records not configured", func(t *testing.T) {
		srv := newTestServer(defaultAuth(), &fakeAnalyzer{}, nil)
		w, env := do(t, srv.Handler(), http.MethodPost, "/routine", token, `{"skin_type":"dry"}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "Misconfigured", env.Error)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(defaultAuth(), &fakeAnalyzer{}, nil)
	h := srv.Handler()

	w, _ := do(t, h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	do(t, h, http.MethodPost, "/analyze", "", `{}`)

	w, _ = do(t, h, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `glowscan_http_requests_total{code="401",route="analyze"} 1`)
}

func TestStartShutsDownOnCancel(t *testing.T) {
	srv := newTestServer(defaultAuth(), &fakeAnalyzer{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx, "0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
