package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"creditflow/api"
	"creditflow/config"
	"creditflow/internal/signal"
	"creditflow/logger"
	"creditflow/models"
	"creditflow/session"
	"creditflow/state"
)

type stubStatus struct {
	status models.Status
}

func (s *stubStatus) Status() models.Status { return s.status }

type stubRefresher struct {
	calls int
	err   error
}

func (s *stubRefresher) RefreshAll(ctx context.Context) error {
	s.calls++
	return s.err
}

type stubScorer struct {
	result    api.ScoreResult
	pdf       []byte
	err       error
	lastToken string
}

func (s *stubScorer) Predict(ctx context.Context, token string, app api.CreditApplication) (api.ScoreResult, error) {
	s.lastToken = token
	if s.err != nil {
		return api.ScoreResult{}, s.err
	}
	return s.result, nil
}

func (s *stubScorer) GeneratePDF(ctx context.Context, result api.ScoreResult) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.pdf, nil
}

type stubTokenRefresher struct{}

func (stubTokenRefresher) RefreshToken(ctx context.Context) (string, error) {
	return "", fmt.Errorf("refresh unavailable")
}

func signToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "operator", "exp": expiresAt.Unix()}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

type fixture struct {
	server    *Server
	router    http.Handler
	store     *state.Store
	sessions  *session.Store
	refresher *stubRefresher
	scorer    *stubScorer
	status    *stubStatus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sessions := session.NewStore("")
	token := signToken(t, time.Now().Add(time.Hour))
	cred, err := session.ParseCredential(token)
	if err != nil {
		t.Fatalf("failed to parse credential: %v", err)
	}
	sessions.Set(cred)

	guard := session.NewGuard(config.SessionConfig{}, sessions, stubTokenRefresher{})
	store := state.NewStore()
	refresher := &stubRefresher{}
	scorer := &stubScorer{
		result: api.ScoreResult{Client: "Acme SARL", CreditScore: 702, RiskLevel: "Low", Decision: "Approved"},
		pdf:    []byte("%PDF-1.4 test"),
	}
	status := &stubStatus{status: models.Status{State: models.StateConnected}}
	notifier := signal.NewNotifier("", 0)

	server, err := NewServer(config.DashboardConfig{Enabled: true, Address: "127.0.0.1:0"},
		logger.GetLogger(), store, status, refresher, scorer, guard, notifier)
	if err != nil {
		t.Fatalf("failed to create dashboard server: %v", err)
	}
	router, err := server.buildRouter("creditflow-test")
	if err != nil {
		t.Fatalf("failed to build router: %v", err)
	}

	return &fixture{
		server:    server,
		router:    router,
		store:     store,
		sessions:  sessions,
		refresher: refresher,
		scorer:    scorer,
		status:    status,
	}
}

func TestServerDisabledReturnsNil(t *testing.T) {
	server, err := NewServer(config.DashboardConfig{Enabled: false}, logger.GetLogger(), nil, nil, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if server != nil {
		t.Fatal("expected nil server when dashboard is disabled")
	}
	if err := server.Run(context.Background(), "app"); err != nil {
		t.Errorf("nil server Run should be a no-op, got %v", err)
	}
}

func TestIndexPage(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "creditflow-test") {
		t.Error("expected app name on the index page")
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.store.ReplaceStats(func() models.AggregateSnapshot {
		s := models.NewAggregateSnapshot()
		s.TotalClients = 42
		s.AverageScore = 655
		return s
	}())

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var stats models.AggregateSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.TotalClients != 42 || stats.AverageScore != 655 {
		t.Errorf("unexpected stats payload: %+v", stats)
	}
}

func TestRecentEndpointEmpty(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/recent", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload struct {
		Recent []models.RecentAnalysis `json:"recent"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode recent: %v", err)
	}
	if payload.Recent == nil {
		t.Error("expected empty array, not null")
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)
	f.status.status = models.Status{
		State:             models.StateDisconnected,
		ReconnectAttempts: 3,
		NextDelayMs:       8000,
		LastError:         "connection reset",
	}
	f.store.MarkUpdated(time.Now())

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if payload["state"] != string(models.StateDisconnected) {
		t.Errorf("expected disconnected state, got %v", payload["state"])
	}
	if payload["reconnect_attempts"].(float64) != 3 {
		t.Errorf("expected 3 reconnect attempts, got %v", payload["reconnect_attempts"])
	}
	if payload["last_error"] != "connection reset" {
		t.Errorf("expected last_error, got %v", payload["last_error"])
	}
}

func TestRefreshEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if f.refresher.calls != 1 {
		t.Errorf("expected one refresh call, got %d", f.refresher.calls)
	}
}

func TestPredictEndpoint(t *testing.T) {
	f := newFixture(t)

	body, _ := json.Marshal(api.CreditApplication{ClientName: "Acme SARL", Age: 41, Income: 52000})
	req := httptest.NewRequest(http.MethodPost, "/api/predict", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result api.ScoreResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if result.CreditScore != 702 {
		t.Errorf("expected score 702, got %d", result.CreditScore)
	}
	if f.scorer.lastToken == "" {
		t.Error("expected predict to carry a credential token")
	}
}

func TestPredictRequiresCredential(t *testing.T) {
	f := newFixture(t)
	f.sessions.Clear("test")

	body, _ := json.Marshal(api.CreditApplication{ClientName: "Acme SARL"})
	req := httptest.NewRequest(http.MethodPost, "/api/predict", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestPredictRejectsBadPayload(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/predict", bytes.NewReader([]byte("{bad")))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestReportEndpoint(t *testing.T) {
	f := newFixture(t)

	body, _ := json.Marshal(api.ScoreResult{Client: "Acme SARL", CreditScore: 702})
	req := httptest.NewRequest(http.MethodPost, "/api/report", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("expected application/pdf, got %s", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Error("expected PDF payload")
	}
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                     "127.0.0.1:8080",
		":9090":                "127.0.0.1:9090",
		"0.0.0.0:9090":         "0.0.0.0:9090",
		"localhost":            "localhost:8080",
		"http://0.0.0.0:7070":  "0.0.0.0:7070",
		"192.168.1.10":         "192.168.1.10:8080",
	}
	for in, want := range cases {
		if got := normalizeAddress(in); got != want {
			t.Errorf("normalizeAddress(%q) = %q, want %q", in, got, want)
		}
	}
}
