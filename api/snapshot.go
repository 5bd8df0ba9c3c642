package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"creditflow/logger"
	"creditflow/models"
)

// DashboardStats fetches the authoritative aggregate statistics. Transport
// failures and non-success responses map to ErrSnapshotUnavailable so the
// caller can keep its prior state; fields the backend omits are defaulted
// rather than treated as errors.
func (c *Client) DashboardStats(ctx context.Context, token string) (models.AggregateSnapshot, error) {
	log := c.log.WithComponent("snapshot_api").WithFields(logger.Fields{"operation": "dashboard_stats"})

	res, err := c.do(ctx, http.MethodGet, "/dashboard-stats", token, "", nil)
	if err != nil {
		return models.AggregateSnapshot{}, fmt.Errorf("%w: %v", ErrSnapshotUnavailable, err)
	}
	defer res.Body.Close()

	if err := checkStatus(res, "dashboard-stats"); err != nil {
		log.WithError(err).Warn("failed to fetch dashboard stats")
		return models.AggregateSnapshot{}, err
	}

	var snap models.AggregateSnapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		return models.AggregateSnapshot{}, fmt.Errorf("%w: decode failed: %v", ErrSnapshotUnavailable, err)
	}
	snap.Normalize()

	log.WithFields(logger.Fields{"total_clients": snap.TotalClients}).Debug("fetched dashboard stats")
	return snap, nil
}

// rawAnalysis mirrors one backend record before per-field defaulting.
type rawAnalysis struct {
	ID         int64      `json:"id"`
	ClientName string     `json:"client_name"`
	Score      int        `json:"credit_score"`
	RiskLevel  string     `json:"risk_level"`
	Decision   string     `json:"decision"`
	Timestamp  *time.Time `json:"timestamp"`
}

// RecentAnalyses fetches the bounded recent-history list, newest first.
// Records with missing fields are filled with placeholder values instead of
// failing the whole call.
func (c *Client) RecentAnalyses(ctx context.Context, token string) ([]models.RecentAnalysis, error) {
	log := c.log.WithComponent("snapshot_api").WithFields(logger.Fields{"operation": "recent_analyses"})

	res, err := c.do(ctx, http.MethodGet, "/recent-analyses", token, "", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotUnavailable, err)
	}
	defer res.Body.Close()

	if err := checkStatus(res, "recent-analyses"); err != nil {
		log.WithError(err).Warn("failed to fetch recent analyses")
		return nil, err
	}

	var raw []rawAnalysis
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode failed: %v", ErrSnapshotUnavailable, err)
	}

	fetchedAt := time.Now()
	out := make([]models.RecentAnalysis, 0, len(raw))
	for _, item := range raw {
		rec := models.RecentAnalysis{
			ID:         item.ID,
			ClientName: item.ClientName,
			Score:      item.Score,
			RiskLevel:  item.RiskLevel,
			Decision:   item.Decision,
			Timestamp:  fetchedAt,
		}
		if rec.ClientName == "" {
			rec.ClientName = "Unknown Client"
		}
		if rec.RiskLevel == "" {
			rec.RiskLevel = "medium"
		}
		if rec.Decision == "" {
			rec.Decision = "pending"
		}
		if item.Timestamp != nil && !item.Timestamp.IsZero() {
			rec.Timestamp = *item.Timestamp
		}
		out = append(out, rec)
	}

	log.WithFields(logger.Fields{"records": len(out)}).Debug("fetched recent analyses")
	return out, nil
}
