package state

import (
	"sync"
	"time"

	"creditflow/models"
)

// Store holds the current dashboard state. Snapshot reloads and the live
// aggregator both write through it; reads always get an isolated copy.
type Store struct {
	mu         sync.RWMutex
	state      models.DashboardState
	lastUpdate time.Time
	lastErr    error
}

// NewStore returns a store primed with empty canonical state.
func NewStore() *Store {
	return &Store{state: models.NewDashboardState()}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() models.DashboardState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// LastUpdate returns when the state last changed through a reload or event.
func (s *Store) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// ReplaceStats swaps in authoritative aggregate statistics. The recent list
// is left untouched; the two snapshot fetches write disjoint slices.
func (s *Store) ReplaceStats(stats models.AggregateSnapshot) {
	s.mu.Lock()
	s.state.Stats = stats.Clone()
	s.mu.Unlock()
}

// ReplaceRecent swaps in the authoritative recent-history list.
func (s *Store) ReplaceRecent(recent []models.RecentAnalysis) {
	s.mu.Lock()
	s.state.Recent = append([]models.RecentAnalysis(nil), recent...)
	s.mu.Unlock()
}

// Apply runs a pure transition function against the current state and
// installs the result, stamping the update time.
func (s *Store) Apply(fn func(models.DashboardState) models.DashboardState) {
	s.mu.Lock()
	s.state = fn(s.state.Clone())
	s.lastUpdate = time.Now()
	s.mu.Unlock()
}

// MarkUpdated records a successful refresh and clears any retryable error.
func (s *Store) MarkUpdated(t time.Time) {
	s.mu.Lock()
	s.lastUpdate = t
	s.lastErr = nil
	s.mu.Unlock()
}

// SetError records a retryable failure without touching the state.
func (s *Store) SetError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// Err returns the last retryable failure, or nil after a clean refresh.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}
