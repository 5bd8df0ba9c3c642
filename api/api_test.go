package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	appconfig "creditflow/config"
	"creditflow/session"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(appconfig.BackendConfig{
		BaseURL:   srv.URL,
		RateLimit: appconfig.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestDashboardStatsDefaults(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/dashboard-stats" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("missing bearer header: %q", got)
		}
		w.Write([]byte(`{}`))
	}))

	snap, err := client.DashboardStats(context.Background(), "tok")
	if err != nil {
		t.Fatalf("DashboardStats failed: %v", err)
	}
	if snap.PortfolioRisk != "Low" {
		t.Errorf("portfolio risk not defaulted: %q", snap.PortfolioRisk)
	}
	if len(snap.ScoreDistribution) != 3 || len(snap.DecisionDistribution) != 3 {
		t.Errorf("histograms not defaulted: %v %v", snap.ScoreDistribution, snap.DecisionDistribution)
	}
	if snap.TotalClients != 0 {
		t.Errorf("unexpected total clients: %d", snap.TotalClients)
	}
}

func TestDashboardStatsUnavailable(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	if _, err := client.DashboardStats(context.Background(), "tok"); !errors.Is(err, ErrSnapshotUnavailable) {
		t.Fatalf("expected ErrSnapshotUnavailable, got %v", err)
	}
}

func TestDashboardStatsUnauthorized(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	if _, err := client.DashboardStats(context.Background(), "tok"); !errors.Is(err, session.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestRecentAnalysesDefaults(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": 7}, {"id": 8, "client_name": "Acme", "credit_score": 640, "risk_level": "low", "decision": "approved"}]`))
	}))

	recs, err := client.RecentAnalyses(context.Background(), "tok")
	if err != nil {
		t.Fatalf("RecentAnalyses failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].ClientName != "Unknown Client" || recs[0].RiskLevel != "medium" || recs[0].Decision != "pending" {
		t.Errorf("placeholder defaults not applied: %+v", recs[0])
	}
	if recs[0].Timestamp.IsZero() {
		t.Errorf("timestamp placeholder not applied")
	}
	if recs[1].ClientName != "Acme" || recs[1].Score != 640 {
		t.Errorf("populated record mangled: %+v", recs[1])
	}
}

func TestLoginAndRefreshShareCookies(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			if err := r.ParseForm(); err != nil {
				t.Fatalf("parse form: %v", err)
			}
			if r.PostForm.Get("username") != "analyst" || r.PostForm.Get("password") != "secret" {
				t.Errorf("unexpected form values: %v", r.PostForm)
			}
			http.SetCookie(w, &http.Cookie{Name: "refresh", Value: "cookie-1"})
			w.Write([]byte(`{"access_token": "tok-1", "token_type": "bearer"}`))
		case "/refresh-token":
			cookie, err := r.Cookie("refresh")
			if err != nil || cookie.Value != "cookie-1" {
				t.Errorf("refresh cookie not round-tripped: %v", err)
			}
			w.Write([]byte(`{"access_token": "tok-2", "token_type": "bearer"}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))

	tok, err := client.Login(context.Background(), "analyst", "secret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if tok != "tok-1" {
		t.Errorf("unexpected token: %s", tok)
	}

	tok, err = client.RefreshToken(context.Background())
	if err != nil {
		t.Fatalf("RefreshToken failed: %v", err)
	}
	if tok != "tok-2" {
		t.Errorf("unexpected refreshed token: %s", tok)
	}
}

func TestPredict(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"client": "Acme", "creditScore": 702, "riskLevel": "low", "approvalProbability": "91.5%", "decision": "approved"}`))
	}))

	result, err := client.Predict(context.Background(), "tok", CreditApplication{ClientName: "Acme"})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if result.CreditScore != 702 || result.Decision != "approved" {
		t.Errorf("unexpected result: %+v", result)
	}
}
