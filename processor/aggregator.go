package processor

import (
	"context"
	"fmt"
	"sync"

	appconfig "creditflow/config"
	"creditflow/logger"
	"creditflow/models"
	"creditflow/state"
)

// Aggregator consumes prediction events from the live channel and applies
// them to the shared dashboard state in delivery order. Applied events are
// forwarded to the optional archive channel.
type Aggregator struct {
	config  *appconfig.Config
	events  <-chan models.PredictionEvent
	archive chan<- models.PredictionEvent
	store   *state.Store
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

// NewAggregator creates an aggregator. The archive channel may be nil when
// the event archive is disabled.
func NewAggregator(cfg *appconfig.Config, events <-chan models.PredictionEvent, archive chan<- models.PredictionEvent, store *state.Store) *Aggregator {
	return &Aggregator{
		config:  cfg,
		events:  events,
		archive: archive,
		store:   store,
		wg:      &sync.WaitGroup{},
		log:     logger.GetLogger(),
	}
}

// Start begins consuming the event channel. A single worker preserves the
// channel-delivery ordering required by the reducer.
func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("aggregator already running")
	}
	a.running = true
	a.ctx = ctx
	a.mu.Unlock()

	log := a.log.WithComponent("stream_aggregator").WithFields(logger.Fields{"operation": "Start"})
	log.Info("starting aggregator")

	a.wg.Add(1)
	go a.worker()

	log.Info("aggregator started successfully")
	return nil
}

// Stop waits for the worker to drain.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	a.log.WithComponent("stream_aggregator").Info("stopping aggregator")
	a.wg.Wait()
	a.log.WithComponent("stream_aggregator").Info("aggregator stopped")
}

func (a *Aggregator) worker() {
	defer a.wg.Done()

	log := a.log.WithComponent("stream_aggregator").WithFields(logger.Fields{"worker": "event_apply"})

	for {
		select {
		case <-a.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case event, ok := <-a.events:
			if !ok {
				log.Info("event channel closed, worker stopping")
				return
			}
			a.apply(event, log)
		}
	}
}

func (a *Aggregator) apply(event models.PredictionEvent, log *logger.Entry) {
	a.store.Apply(func(prev models.DashboardState) models.DashboardState {
		return Reduce(prev, event)
	})

	logger.IncrementEventApplied(1)
	log.WithFields(logger.Fields{
		"client":       event.ClientName,
		"credit_score": event.Score,
		"decision":     event.Decision,
	}).Debug("applied prediction event")

	if a.archive == nil {
		return
	}
	select {
	case a.archive <- event:
	default:
		log.Warn("archive channel is full, dropping event")
	}
}
