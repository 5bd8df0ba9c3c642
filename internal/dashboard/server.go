// Package dashboard exposes the aggregated scoring state over a local HTTP
// API for operators and sibling tools.
package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"creditflow/api"
	"creditflow/config"
	"creditflow/internal/signal"
	"creditflow/logger"
	"creditflow/models"
	"creditflow/session"
	"creditflow/state"
)

// StatusSource reports live channel connection health.
type StatusSource interface {
	Status() models.Status
}

// Refresher re-fetches the dashboard snapshot on demand.
type Refresher interface {
	RefreshAll(ctx context.Context) error
}

// Scorer submits applications and renders score reports.
type Scorer interface {
	Predict(ctx context.Context, token string, app api.CreditApplication) (api.ScoreResult, error)
	GeneratePDF(ctx context.Context, result api.ScoreResult) ([]byte, error)
}

// Server hosts the Gin-powered operations API.
type Server struct {
	cfg        config.DashboardConfig
	log        *logger.Log
	logStore   *logStore
	store      *state.Store
	status     StatusSource
	refresher  Refresher
	scorer     Scorer
	guard      *session.Guard
	notifier   *signal.Notifier
	httpServer *http.Server
}

// NewServer constructs a dashboard server when the feature is enabled. When
// disabled the returned server is nil and every method is a no-op.
func NewServer(cfg config.DashboardConfig, log *logger.Log, store *state.Store, status StatusSource, refresher Refresher, scorer Scorer, guard *session.Guard, notifier *signal.Notifier) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:       cfg,
		log:       log,
		logStore:  logStore,
		store:     store,
		status:    status,
		refresher: refresher,
		scorer:    scorer,
		guard:     guard,
		notifier:  notifier,
	}, nil
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the server exits with an error.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) cleanup() {
	if s.logStore != nil {
		s.logStore.close()
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/", func(c *gin.Context) {
		snapshot := s.store.Snapshot()
		status := s.status.Status()
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK,
			"<!doctype html><title>%s</title><h1>%s</h1>"+
				"<p>stream: %s | clients: %d | avg score: %d | portfolio risk: %s</p>"+
				"<p>See /api/stats, /api/recent, /api/status, /api/logs</p>",
			appName, appName,
			status.State, snapshot.Stats.TotalClients, snapshot.Stats.AverageScore, snapshot.Stats.PortfolioRisk)
	})

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"app":    appName,
			"status": "ok",
		})
	})

	router.GET("/api/stats", func(c *gin.Context) {
		snapshot := s.store.Snapshot()
		c.JSON(http.StatusOK, snapshot.Stats)
	})

	router.GET("/api/recent", func(c *gin.Context) {
		snapshot := s.store.Snapshot()
		recent := snapshot.Recent
		if recent == nil {
			recent = []models.RecentAnalysis{}
		}
		c.JSON(http.StatusOK, gin.H{"recent": recent})
	})

	router.GET("/api/status", func(c *gin.Context) {
		status := s.status.Status()
		status.LastUpdate = s.store.LastUpdate()
		payload := gin.H{
			"state":              status.State,
			"reconnect_attempts": status.ReconnectAttempts,
			"next_delay_ms":      status.NextDelayMs,
			"last_update":        status.LastUpdate.Format(time.RFC3339Nano),
		}
		if status.LastError != "" {
			payload["last_error"] = status.LastError
		}
		if err := s.store.Err(); err != nil {
			payload["snapshot_error"] = err.Error()
		}
		c.JSON(http.StatusOK, payload)
	})

	router.GET("/api/logs", func(c *gin.Context) {
		logsSnapshot := s.logStore.snapshot()
		payload := make([]gin.H, 0, len(logsSnapshot))
		for _, l := range logsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": l.Timestamp.Format(time.RFC3339Nano),
				"level":     l.Level,
				"component": l.Component,
				"message":   l.Message,
				"fields":    l.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"logs": payload})
	})

	router.POST("/api/refresh", func(c *gin.Context) {
		if err := s.refresher.RefreshAll(c.Request.Context()); err != nil {
			s.respondError(c, err, "refresh failed")
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "refreshing"})
	})

	router.POST("/api/predict", s.handlePredict)
	router.POST("/api/report", s.handleReport)

	return router, nil
}

func (s *Server) handlePredict(c *gin.Context) {
	var app api.CreditApplication
	if err := c.ShouldBindJSON(&app); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid application payload"})
		return
	}

	cred, err := s.guard.EnsureFresh(c.Request.Context())
	if err != nil {
		s.respondError(c, err, "prediction rejected")
		return
	}

	result, err := s.scorer.Predict(c.Request.Context(), cred.Token, app)
	if err != nil {
		s.respondError(c, err, "prediction failed")
		return
	}

	// Nudge the snapshot loaders, local and sibling, to pick up the new
	// client.
	if s.notifier != nil {
		s.notifier.Publish(time.Now())
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleReport(c *gin.Context) {
	var result api.ScoreResult
	if err := c.ShouldBindJSON(&result); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid score result payload"})
		return
	}

	pdf, err := s.scorer.GeneratePDF(c.Request.Context(), result)
	if err != nil {
		s.respondError(c, err, "report generation failed")
		return
	}

	c.Header("Content-Disposition", "attachment; filename=credit-report.pdf")
	c.Data(http.StatusOK, "application/pdf", pdf)
}

func (s *Server) respondError(c *gin.Context, err error, msg string) {
	s.log.WithComponent("dashboard").WithError(err).Warn(msg)
	switch {
	case errors.Is(err, session.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
	case errors.Is(err, api.ErrSnapshotUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "127.0.0.1:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "127.0.0.1" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "127.0.0.1"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
