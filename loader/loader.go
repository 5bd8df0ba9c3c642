package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"creditflow/api"
	"creditflow/logger"
	"creditflow/session"
	"creditflow/state"
)

// Loader fetches the authoritative snapshot pair and installs it in the
// shared state store. It is the reconciliation path for any drift the live
// aggregator accumulates between reloads.
type Loader struct {
	client  *api.Client
	guard   *session.Guard
	session *session.Store
	store   *state.Store
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.Mutex
	run     sync.RWMutex
	running bool

	refreshing bool
	pending    bool

	log *logger.Log
}

// NewLoader creates a snapshot loader over the given collaborators.
func NewLoader(client *api.Client, guard *session.Guard, sessionStore *session.Store, store *state.Store) *Loader {
	return &Loader{
		client:  client,
		guard:   guard,
		session: sessionStore,
		store:   store,
		wg:      &sync.WaitGroup{},
		log:     logger.GetLogger(),
	}
}

// RefreshAll gates on a fresh credential, then runs both snapshot loads
// concurrently. Overlapping calls coalesce: a trigger arriving while a
// refresh is in flight queues exactly one follow-up refresh, so the last
// completed write wins and partial snapshots never interleave.
func (l *Loader) RefreshAll(ctx context.Context) error {
	l.mu.Lock()
	if l.refreshing {
		l.pending = true
		l.mu.Unlock()
		return nil
	}
	l.refreshing = true
	l.mu.Unlock()

	err := l.refreshOnce(ctx)

	l.mu.Lock()
	l.refreshing = false
	rerun := l.pending
	l.pending = false
	l.mu.Unlock()

	if rerun && ctx.Err() == nil {
		return l.RefreshAll(ctx)
	}
	return err
}

func (l *Loader) refreshOnce(ctx context.Context) error {
	log := l.log.WithComponent("snapshot_loader").WithFields(logger.Fields{"operation": "refresh_all"})

	cred, err := l.guard.EnsureFresh(ctx)
	if err != nil {
		// The guard already cleared the store and fired the shared exit.
		return err
	}

	// Both loads run concurrently; they write disjoint state slices and
	// are joined before any dependent read.
	errs := make(chan error, 2)
	start := time.Now()

	go func() {
		snap, err := l.client.DashboardStats(ctx, cred.Token)
		if err == nil {
			l.store.ReplaceStats(snap)
		}
		errs <- err
	}()
	go func() {
		recs, err := l.client.RecentAnalyses(ctx, cred.Token)
		if err == nil {
			l.store.ReplaceRecent(recs)
		}
		errs <- err
	}()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		if errors.Is(firstErr, session.ErrUnauthenticated) {
			// The backend rejected a token the guard considered fresh;
			// the shared failure exit applies all the same.
			log.WithError(firstErr).Warn("snapshot load rejected, ending session")
			l.session.Clear("rejected")
			return firstErr
		}
		log.WithError(firstErr).Warn("snapshot refresh failed, keeping prior state")
		l.store.SetError(firstErr)
		return fmt.Errorf("snapshot refresh failed: %w", firstErr)
	}

	l.store.MarkUpdated(time.Now())
	logger.IncrementSnapshotRefresh()
	log.WithFields(logger.Fields{"duration_ms": time.Since(start).Milliseconds()}).Info("snapshot refreshed")
	return nil
}

// Start subscribes the loader to refresh triggers and performs the initial
// load. The trigger channel typically fans out from the prediction signal.
func (l *Loader) Start(ctx context.Context, triggers <-chan time.Time) error {
	l.run.Lock()
	if l.running {
		l.run.Unlock()
		return fmt.Errorf("snapshot loader already running")
	}
	l.running = true
	l.ctx = ctx
	l.run.Unlock()

	log := l.log.WithComponent("snapshot_loader").WithFields(logger.Fields{"operation": "Start"})
	log.Info("starting snapshot loader")

	l.wg.Add(1)
	go l.triggerWorker(triggers)

	if err := l.RefreshAll(ctx); err != nil {
		log.WithError(err).Warn("initial snapshot load failed")
	}

	log.Info("snapshot loader started successfully")
	return nil
}

// Stop waits for the trigger worker to exit.
func (l *Loader) Stop() {
	l.run.Lock()
	l.running = false
	l.run.Unlock()

	l.log.WithComponent("snapshot_loader").Info("stopping snapshot loader")
	l.wg.Wait()
	l.log.WithComponent("snapshot_loader").Info("snapshot loader stopped")
}

func (l *Loader) triggerWorker(triggers <-chan time.Time) {
	defer l.wg.Done()

	log := l.log.WithComponent("snapshot_loader").WithFields(logger.Fields{"worker": "refresh_trigger"})

	for {
		select {
		case <-l.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case at, ok := <-triggers:
			if !ok {
				log.Info("trigger channel closed, worker stopping")
				return
			}
			log.WithFields(logger.Fields{"signalled_at": at.Format(time.RFC3339)}).Debug("refresh trigger received")
			if err := l.RefreshAll(l.ctx); err != nil && !errors.Is(err, session.ErrUnauthenticated) {
				log.WithError(err).Warn("triggered refresh failed")
			}
		}
	}
}
