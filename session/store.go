package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"creditflow/logger"
)

// Credential is a bearer token together with its decoded expiry instant.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the credential is unusable at the given instant.
func (c Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// TimeToExpiry returns how long the credential remains usable. Negative when
// already expired.
func (c Credential) TimeToExpiry(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}

// ParseCredential decodes the expiry claim from a bearer token. The signature
// is not verified; the client holds no key material and the backend rejects
// forged tokens anyway.
func ParseCredential(token string) (Credential, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return Credential{}, fmt.Errorf("failed to decode token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return Credential{}, fmt.Errorf("token has no usable expiry claim")
	}
	return Credential{Token: token, ExpiresAt: exp.Time}, nil
}

// Store holds the single current credential shared by every facet. It is the
// only writer-side owner of session state; consumers read the current value
// before each network operation and never cache it.
type Store struct {
	mu       sync.RWMutex
	cred     *Credential
	changed  chan struct{}
	onClear  []func(reason string)
	filePath string
	log      *logger.Log
}

// NewStore creates an empty session store. When filePath is non-empty the
// token is persisted there on Set and removed on Clear, and any previously
// persisted token is loaded immediately.
func NewStore(filePath string) *Store {
	s := &Store{
		changed:  make(chan struct{}),
		filePath: filePath,
		log:      logger.GetLogger(),
	}
	if filePath != "" {
		s.loadFromFile()
	}
	return s
}

// Get returns the current credential and whether one is held.
func (s *Store) Get() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return Credential{}, false
	}
	return *s.cred, true
}

// Set replaces the current credential and wakes any watcher blocked on
// Changed.
func (s *Store) Set(cred Credential) {
	s.mu.Lock()
	s.cred = &cred
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	if s.filePath != "" {
		s.saveToFile(cred.Token)
	}
}

// Clear drops the current credential and notifies every OnClear subscriber.
// This is the single shared failure exit used by all facets.
func (s *Store) Clear(reason string) {
	s.mu.Lock()
	s.cred = nil
	close(s.changed)
	s.changed = make(chan struct{})
	subs := append([]func(string){}, s.onClear...)
	s.mu.Unlock()

	if s.filePath != "" {
		if err := os.Remove(s.filePath); err != nil && !os.IsNotExist(err) {
			s.log.WithComponent("session").WithError(err).Warn("failed to remove persisted token")
		}
	}

	for _, fn := range subs {
		fn(reason)
	}
}

// OnClear registers a callback fired whenever the credential is cleared. The
// reason describes why the session ended ("logout", "refresh_failed", ...).
func (s *Store) OnClear(fn func(reason string)) {
	s.mu.Lock()
	s.onClear = append(s.onClear, fn)
	s.mu.Unlock()
}

// Changed returns a channel closed on the next Set or Clear. Watchers select
// on it to react to credential changes without polling.
func (s *Store) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

func (s *Store) loadFromFile() {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.WithComponent("session").WithError(err).Warn("failed to read persisted token")
		}
		return
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return
	}
	cred, err := ParseCredential(token)
	if err != nil {
		s.log.WithComponent("session").WithError(err).Warn("discarding unreadable persisted token")
		return
	}
	s.mu.Lock()
	s.cred = &cred
	s.mu.Unlock()
}

func (s *Store) saveToFile(token string) {
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o700); err != nil {
		s.log.WithComponent("session").WithError(err).Warn("failed to create token directory")
		return
	}
	if err := os.WriteFile(s.filePath, []byte(token), 0o600); err != nil {
		s.log.WithComponent("session").WithError(err).Warn("failed to persist token")
	}
}
