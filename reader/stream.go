package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	appconfig "creditflow/config"
	"creditflow/logger"
	"creditflow/models"
	"creditflow/session"
)

const (
	defaultHeartbeat = 25 * time.Second
	defaultBaseDelay = time.Second
	defaultMaxDelay  = 30 * time.Second
	writeWait        = time.Second
)

// StreamReader owns the long-lived connection to the prediction event
// channel. Incoming events are forwarded in delivery order; connection loss
// feeds an unbounded capped-backoff reconnect loop. Retrying forever is
// acceptable for a dashboard feed; a server-to-server link would want a
// circuit breaker instead.
type StreamReader struct {
	config   appconfig.StreamConfig
	wsURL    string
	sessions *session.Store
	events   chan<- models.PredictionEvent

	ctx     context.Context
	stop    chan struct{}
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	state    models.ConnectionState
	attempts int
	lastErr  string
	conn     *websocket.Conn
	onState  []func(models.ConnectionState)
}

// NewStreamReader creates a reader that will connect to wsURL with the
// current credential appended as a query token.
func NewStreamReader(cfg appconfig.StreamConfig, wsURL string, sessions *session.Store, events chan<- models.PredictionEvent) *StreamReader {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = defaultBaseDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = defaultMaxDelay
	}
	return &StreamReader{
		config:   cfg,
		wsURL:    wsURL,
		sessions: sessions,
		events:   events,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		state:    models.StateDisconnected,
	}
}

// OnStateChange registers a callback fired on every connection state
// transition. Register before Start.
func (r *StreamReader) OnStateChange(fn func(models.ConnectionState)) {
	r.mu.Lock()
	r.onState = append(r.onState, fn)
	r.mu.Unlock()
}

// Status reports the current connection condition.
func (r *StreamReader) Status() models.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return models.Status{
		State:             r.state,
		ReconnectAttempts: r.attempts,
		NextDelayMs:       BackoffDelay(r.attempts, r.config.ReconnectBaseDelay, r.config.ReconnectMaxDelay).Milliseconds(),
		LastError:         r.lastErr,
	}
}

// Start launches the connection loop.
func (r *StreamReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("stream reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.stop = make(chan struct{})
	r.mu.Unlock()

	log := r.log.WithComponent("stream_reader").WithFields(logger.Fields{"operation": "Start"})
	log.WithFields(logger.Fields{
		"url":       r.wsURL,
		"heartbeat": r.config.HeartbeatInterval.String(),
	}).Info("starting stream reader")

	r.wg.Add(1)
	go r.run()

	log.Info("stream reader started successfully")
	return nil
}

// Stop force-closes any open connection and waits for the loop to exit. A
// reconnect that was already scheduled becomes a no-op. Stop works on its
// own; it does not require the start context to be cancelled first.
func (r *StreamReader) Stop() {
	r.mu.Lock()
	if r.running {
		r.running = false
		close(r.stop)
	}
	if r.conn != nil {
		r.conn.Close()
	}
	r.mu.Unlock()

	r.log.WithComponent("stream_reader").Info("stopping stream reader")
	r.wg.Wait()
	r.log.WithComponent("stream_reader").Info("stream reader stopped")
}

func (r *StreamReader) run() {
	defer r.wg.Done()

	log := r.log.WithComponent("stream_reader").WithFields(logger.Fields{"worker": "event_stream"})

	for {
		if r.ctx.Err() != nil || r.stopping() {
			r.setState(models.StateDisconnected)
			return
		}

		cred, ok := r.sessions.Get()
		if !ok || cred.Expired(time.Now()) {
			// Never retry against a missing or expired credential; wait
			// for the session to change instead.
			log.Warn("no valid credential for stream connection, waiting")
			select {
			case <-r.ctx.Done():
				return
			case <-r.stop:
				return
			case <-r.sessions.Changed():
				continue
			}
		}

		r.setState(models.StateConnecting)
		conn, _, err := websocket.DefaultDialer.DialContext(r.ctx, r.endpoint(cred.Token), nil)
		if err != nil {
			if r.ctx.Err() != nil || r.stopping() {
				r.setState(models.StateDisconnected)
				return
			}
			log.WithError(err).Warn("failed to connect to event stream")
			r.setError(err)
			if r.waitReconnect() {
				return
			}
			continue
		}

		r.serveConn(conn, log)

		if r.ctx.Err() != nil || r.stopping() {
			return
		}
		if r.waitReconnect() {
			return
		}
	}
}

func (r *StreamReader) stopping() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// serveConn handles one established connection until it closes.
func (r *StreamReader) serveConn(conn *websocket.Conn, log *logger.Entry) {
	r.mu.Lock()
	r.conn = conn
	r.attempts = 0
	r.lastErr = ""
	r.mu.Unlock()
	r.setState(models.StateConnected)
	log.Info("connected to event stream")

	// Close the socket as soon as teardown begins so the read loop
	// unblocks.
	connDone := make(chan struct{})
	go func() {
		select {
		case <-r.ctx.Done():
			conn.Close()
		case <-r.stop:
			conn.Close()
		case <-connDone:
		}
	}()

	// Initial liveness probe, then one every heartbeat interval.
	if err := r.sendPing(conn); err != nil {
		log.WithError(err).Warn("failed to send initial ping")
	}
	heartbeatCancel := r.startHeartbeat(conn, log)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if r.ctx.Err() == nil && !r.stopping() {
				log.WithError(err).Warn("event stream read loop ended")
				r.setError(err)
			}
			break
		}
		r.dispatch(msg, log)
	}

	heartbeatCancel()
	close(connDone)
	conn.Close()

	r.mu.Lock()
	r.conn = nil
	r.mu.Unlock()
	r.setState(models.StateDisconnected)
}

// dispatch routes one raw message by its discriminant. Malformed payloads
// are logged and dropped; the connection stays open.
func (r *StreamReader) dispatch(msg []byte, log *logger.Entry) {
	var env models.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		logger.IncrementMalformedMessage()
		log.WithError(err).Warn("malformed stream message, dropping")
		return
	}

	switch env.Type {
	case models.MessagePong:
		log.Debug("received pong from server")
	case models.MessageNewPrediction:
		var event models.PredictionEvent
		if err := json.Unmarshal(env.Data, &event); err != nil {
			logger.IncrementMalformedMessage()
			log.WithError(err).Warn("malformed prediction payload, dropping")
			return
		}
		select {
		case r.events <- event:
			logger.LogDataFlowEntry(log, "event_stream", "event_channel", 1, "prediction")
		case <-r.ctx.Done():
		case <-r.stop:
		}
	default:
		log.WithFields(logger.Fields{"type": env.Type}).Debug("ignoring unrecognized message")
	}
}

func (r *StreamReader) sendPing(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(models.Envelope{Type: models.MessagePing})
}

func (r *StreamReader) startHeartbeat(conn *websocket.Conn, log *logger.Entry) context.CancelFunc {
	hbCtx, cancel := context.WithCancel(r.ctx)
	ticker := time.NewTicker(r.config.HeartbeatInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := r.sendPing(conn); err != nil {
					log.WithError(err).Warn("failed to send heartbeat ping")
					cancel()
					return
				}
			}
		}
	}()
	return cancel
}

// waitReconnect sleeps for the capped exponential backoff delay and then
// increments the attempt counter. It returns true when the context ended
// during the wait.
func (r *StreamReader) waitReconnect() bool {
	r.mu.RLock()
	attempt := r.attempts
	r.mu.RUnlock()

	delay := BackoffDelay(attempt, r.config.ReconnectBaseDelay, r.config.ReconnectMaxDelay)
	r.log.WithComponent("stream_reader").WithFields(logger.Fields{
		"attempt":  attempt,
		"delay_ms": delay.Milliseconds(),
	}).Info("scheduling stream reconnect")

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-r.ctx.Done():
		return true
	case <-r.stop:
		return true
	case <-timer.C:
	}

	r.mu.Lock()
	r.attempts++
	r.mu.Unlock()
	logger.IncrementStreamReconnect()
	return false
}

func (r *StreamReader) endpoint(token string) string {
	return r.wsURL + "?token=" + url.QueryEscape(token)
}

func (r *StreamReader) setState(s models.ConnectionState) {
	r.mu.Lock()
	if r.state == s {
		r.mu.Unlock()
		return
	}
	r.state = s
	subs := append([]func(models.ConnectionState){}, r.onState...)
	r.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}

// setError records a transport failure and moves through the error state.
// Every error path also takes the close path, so the state settles back to
// disconnected before the reconnect wait.
func (r *StreamReader) setError(err error) {
	r.mu.Lock()
	r.lastErr = err.Error()
	r.mu.Unlock()
	r.setState(models.StateError)
	r.setState(models.StateDisconnected)
}

// BackoffDelay computes the reconnect delay for the given attempt:
// min(base * 2^attempt, max).
func BackoffDelay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = defaultBaseDelay
	}
	if max <= 0 {
		max = defaultMaxDelay
	}
	if attempt > 30 {
		return max
	}
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}
