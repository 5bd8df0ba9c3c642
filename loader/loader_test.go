package loader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"creditflow/api"
	appconfig "creditflow/config"
	"creditflow/session"
	"creditflow/state"
)

func newFixture(t *testing.T, handler http.Handler) (*Loader, *session.Store, *state.Store) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := api.NewClient(appconfig.BackendConfig{
		BaseURL:   srv.URL,
		RateLimit: appconfig.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	sessions := session.NewStore("")
	sessions.Set(session.Credential{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)})
	guard := session.NewGuard(appconfig.SessionConfig{}, sessions, client)

	store := state.NewStore()
	return NewLoader(client, guard, sessions, store), sessions, store
}

func TestRefreshAllSuccess(t *testing.T) {
	ldr, _, store := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/dashboard-stats":
			w.Write([]byte(`{"total_clients": 12, "average_score": 615, "portfolio_risk": "Medium"}`))
		case "/recent-analyses":
			w.Write([]byte(`[{"id": 1, "client_name": "Acme", "credit_score": 640, "risk_level": "low", "decision": "approved"}]`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))

	if err := ldr.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll failed: %v", err)
	}

	snap := store.Snapshot()
	if snap.Stats.TotalClients != 12 || snap.Stats.PortfolioRisk != "Medium" {
		t.Errorf("stats not installed: %+v", snap.Stats)
	}
	if len(snap.Recent) != 1 || snap.Recent[0].ClientName != "Acme" {
		t.Errorf("recent list not installed: %+v", snap.Recent)
	}
	if store.LastUpdate().IsZero() {
		t.Errorf("last update not stamped")
	}
	if store.Err() != nil {
		t.Errorf("unexpected retryable error: %v", store.Err())
	}
}

func TestRefreshAllKeepsPriorStateOnFailure(t *testing.T) {
	var failing bool
	var mu sync.Mutex

	ldr, _, store := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fail := failing
		mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		switch r.URL.Path {
		case "/dashboard-stats":
			w.Write([]byte(`{"total_clients": 5}`))
		case "/recent-analyses":
			w.Write([]byte(`[]`))
		}
	}))

	if err := ldr.RefreshAll(context.Background()); err != nil {
		t.Fatalf("initial refresh failed: %v", err)
	}

	mu.Lock()
	failing = true
	mu.Unlock()

	err := ldr.RefreshAll(context.Background())
	if !errors.Is(err, api.ErrSnapshotUnavailable) {
		t.Fatalf("expected ErrSnapshotUnavailable, got %v", err)
	}
	if store.Snapshot().Stats.TotalClients != 5 {
		t.Errorf("prior state was overwritten on failure")
	}
	if store.Err() == nil {
		t.Errorf("retryable error not surfaced")
	}
}

func TestRefreshAllUnauthenticatedClearsSession(t *testing.T) {
	ldr, sessions, _ := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	var reason string
	sessions.OnClear(func(r string) { reason = r })

	if err := ldr.RefreshAll(context.Background()); !errors.Is(err, session.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, ok := sessions.Get(); ok {
		t.Errorf("session not cleared after 401")
	}
	if reason != "rejected" {
		t.Errorf("unexpected clear reason: %q", reason)
	}
}

func TestRefreshAllCoalescesOverlappingCalls(t *testing.T) {
	release := make(chan struct{})
	ldr, _, store := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		switch r.URL.Path {
		case "/dashboard-stats":
			w.Write([]byte(`{"total_clients": 9}`))
		case "/recent-analyses":
			w.Write([]byte(`[]`))
		}
	}))

	done := make(chan error, 1)
	go func() { done <- ldr.RefreshAll(context.Background()) }()

	// Give the first refresh time to take the in-flight slot, then queue
	// a second trigger. It must return immediately without a second load.
	time.Sleep(50 * time.Millisecond)
	if err := ldr.RefreshAll(context.Background()); err != nil {
		t.Fatalf("coalesced call should not fail: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for store.Snapshot().Stats.TotalClients != 9 {
		select {
		case <-deadline:
			t.Fatalf("state never settled: %+v", store.Snapshot().Stats)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
