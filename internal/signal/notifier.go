// Package signal fans out refresh triggers to interested components. A
// trigger can come from inside the process (a prediction submitted through
// the local dashboard) or from a sibling process touching the shared state
// file.
package signal

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"creditflow/logger"
)

const defaultPollInterval = 2 * time.Second

// Notifier broadcasts refresh timestamps to subscribers. Subscriber
// channels hold one pending trigger; overlapping triggers coalesce.
type Notifier struct {
	mu        sync.Mutex
	subs      []chan time.Time
	stateFile string
	poll      time.Duration
	log       *logger.Log
}

// NewNotifier creates a notifier. stateFile may be empty to disable
// cross-process signaling.
func NewNotifier(stateFile string, poll time.Duration) *Notifier {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Notifier{
		stateFile: stateFile,
		poll:      poll,
		log:       logger.GetLogger(),
	}
}

// Subscribe returns a channel receiving refresh triggers. Subscribe before
// starting Watch.
func (n *Notifier) Subscribe() <-chan time.Time {
	ch := make(chan time.Time, 1)
	n.mu.Lock()
	n.subs = append(n.subs, ch)
	n.mu.Unlock()
	return ch
}

// Publish fans a trigger out to every subscriber and stamps the state file
// so sibling processes pick it up too.
func (n *Notifier) Publish(t time.Time) {
	n.fanout(t)

	if n.stateFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(n.stateFile), 0o755); err != nil {
		n.log.WithComponent("signal").WithError(err).Warn("failed to create state file directory")
		return
	}
	if err := os.WriteFile(n.stateFile, []byte(t.UTC().Format(time.RFC3339Nano)), 0o644); err != nil {
		n.log.WithComponent("signal").WithError(err).Warn("failed to stamp state file")
	}
}

func (n *Notifier) fanout(t time.Time) {
	n.mu.Lock()
	subs := append([]chan time.Time(nil), n.subs...)
	n.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- t:
		default:
			// Subscriber already has a pending trigger.
		}
	}
}

// Watch polls the state file modification time and fans out a trigger when
// another process stamps it. Blocks until the context ends.
func (n *Notifier) Watch(ctx context.Context) {
	if n.stateFile == "" {
		<-ctx.Done()
		return
	}

	log := n.log.WithComponent("signal").WithFields(logger.Fields{"state_file": n.stateFile})
	log.Info("watching state file for refresh signals")

	var lastMod time.Time
	if info, err := os.Stat(n.stateFile); err == nil {
		lastMod = info.ModTime()
	}

	ticker := time.NewTicker(n.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("state file watcher stopped")
			return
		case <-ticker.C:
			info, err := os.Stat(n.stateFile)
			if err != nil {
				continue
			}
			if info.ModTime().After(lastMod) {
				lastMod = info.ModTime()
				log.Debug("state file changed, fanning out refresh")
				n.fanout(lastMod)
			}
		}
	}
}
