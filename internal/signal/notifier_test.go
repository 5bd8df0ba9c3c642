package signal

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestNotifierPublishReachesSubscribers(t *testing.T) {
	n := NewNotifier("", 0)
	a := n.Subscribe()
	b := n.Subscribe()

	now := time.Now()
	n.Publish(now)

	for i, ch := range []<-chan time.Time{a, b} {
		select {
		case got := <-ch:
			if !got.Equal(now) {
				t.Errorf("subscriber %d: expected %v, got %v", i, now, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive trigger", i)
		}
	}
}

func TestNotifierCoalescesPendingTriggers(t *testing.T) {
	n := NewNotifier("", 0)
	ch := n.Subscribe()

	n.Publish(time.Now())
	n.Publish(time.Now())
	n.Publish(time.Now())

	<-ch
	select {
	case <-ch:
		// One coalesced follow-up at most would be a bug here since
		// nothing drained between publishes.
		t.Error("expected pending triggers to coalesce into one")
	default:
	}
}

func TestNotifierWatchDetectsStateFileChange(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "refresh.state")

	// Writer and watcher as two notifiers, standing in for two processes.
	publisher := NewNotifier(stateFile, 10*time.Millisecond)
	watcher := NewNotifier(stateFile, 10*time.Millisecond)
	ch := watcher.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.Watch(ctx)

	// Let the watcher record its baseline before stamping.
	time.Sleep(30 * time.Millisecond)
	publisher.Publish(time.Now())

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not detect state file change")
	}
}
