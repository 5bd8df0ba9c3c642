package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	appconfig "creditflow/config"
	"creditflow/logger"
)

// ErrUnauthenticated signals that no usable credential exists and the caller
// must re-authenticate. Every facet treats it as the shared failure exit.
var ErrUnauthenticated = errors.New("unauthenticated")

// Refresher exchanges the backend refresh cookie for a new access token.
type Refresher interface {
	RefreshToken(ctx context.Context) (string, error)
}

// Guard guarantees that every outbound call carries a non-expired credential.
// It refreshes proactively before expiry and clears the store when refresh is
// impossible.
type Guard struct {
	store            *Store
	refresher        Refresher
	checkInterval    time.Duration
	refreshThreshold time.Duration
	ctx              context.Context
	wg               *sync.WaitGroup
	mu               sync.RWMutex
	running          bool
	log              *logger.Log
	now              func() time.Time
}

// NewGuard creates a guard over the given store and refresh collaborator.
func NewGuard(cfg appconfig.SessionConfig, store *Store, refresher Refresher) *Guard {
	checkInterval := cfg.CheckInterval
	if checkInterval <= 0 {
		checkInterval = 60 * time.Second
	}
	refreshThreshold := cfg.RefreshThreshold
	if refreshThreshold <= 0 {
		refreshThreshold = 5 * time.Minute
	}
	return &Guard{
		store:            store,
		refresher:        refresher,
		checkInterval:    checkInterval,
		refreshThreshold: refreshThreshold,
		wg:               &sync.WaitGroup{},
		log:              logger.GetLogger(),
		now:              time.Now,
	}
}

// EnsureFresh returns a credential that will stay valid for at least the
// refresh threshold, refreshing it when needed. On any failure the store is
// cleared and ErrUnauthenticated is returned.
func (g *Guard) EnsureFresh(ctx context.Context) (Credential, error) {
	log := g.log.WithComponent("session_guard")

	cred, ok := g.store.Get()
	if !ok {
		g.store.Clear("missing")
		return Credential{}, ErrUnauthenticated
	}

	now := g.now()
	remaining := cred.TimeToExpiry(now)
	if remaining >= g.refreshThreshold {
		return cred, nil
	}

	log.WithFields(logger.Fields{"remaining": remaining.String()}).Info("refreshing credential before expiry")

	token, err := g.refresher.RefreshToken(ctx)
	if err != nil {
		log.WithError(err).Warn("credential refresh failed")
		g.store.Clear("refresh_failed")
		return Credential{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	fresh, err := ParseCredential(token)
	if err != nil {
		log.WithError(err).Warn("refreshed credential is unreadable")
		g.store.Clear("refresh_failed")
		return Credential{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	g.store.Set(fresh)
	return fresh, nil
}

// Start launches the recurring credential check. The check runs on a fixed
// interval independent of any in-flight request.
func (g *Guard) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return fmt.Errorf("session guard already running")
	}
	g.running = true
	g.ctx = ctx
	g.mu.Unlock()

	log := g.log.WithComponent("session_guard").WithFields(logger.Fields{"operation": "Start"})
	log.WithFields(logger.Fields{"check_interval": g.checkInterval.String()}).Info("starting session guard")

	g.wg.Add(1)
	go g.checkWorker()

	log.Info("session guard started successfully")
	return nil
}

// Stop terminates the recurring check.
func (g *Guard) Stop() {
	g.mu.Lock()
	g.running = false
	g.mu.Unlock()

	g.log.WithComponent("session_guard").Info("stopping session guard")
	g.wg.Wait()
	g.log.WithComponent("session_guard").Info("session guard stopped")
}

func (g *Guard) checkWorker() {
	defer g.wg.Done()

	log := g.log.WithComponent("session_guard").WithFields(logger.Fields{"worker": "credential_check"})
	ticker := time.NewTicker(g.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case <-ticker.C:
			// The periodic check only acts when a credential is held;
			// an absent credential means the user never logged in or
			// the shared exit already fired.
			if _, ok := g.store.Get(); !ok {
				continue
			}
			if _, err := g.EnsureFresh(g.ctx); err != nil {
				log.WithError(err).Warn("periodic credential check failed")
			}
		}
	}
}
