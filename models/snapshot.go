package models

import "time"

// ConnectionState describes the lifecycle of the live event channel.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// DistributionBucket is one named bucket of a dashboard histogram.
type DistributionBucket struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Score distribution bucket indices. The "High" bucket covers the low
// numeric score range because a low score means high risk.
const (
	ScoreBucketHighRisk = iota
	ScoreBucketMediumRisk
	ScoreBucketLowRisk
)

// Decision distribution bucket indices.
const (
	DecisionBucketApproved = iota
	DecisionBucketConditional
	DecisionBucketDeclined
)

// DefaultScoreDistribution returns the canonical empty score histogram.
func DefaultScoreDistribution() []DistributionBucket {
	return []DistributionBucket{
		{Name: "High (300-579)"},
		{Name: "Medium (580-667)"},
		{Name: "Low (668-850)"},
	}
}

// DefaultDecisionDistribution returns the canonical empty decision histogram.
func DefaultDecisionDistribution() []DistributionBucket {
	return []DistributionBucket{
		{Name: "Approved"},
		{Name: "Approved with Conditions"},
		{Name: "Declined"},
	}
}

// AggregateSnapshot is the authoritative statistics bundle served by the
// backend and maintained incrementally between reloads.
type AggregateSnapshot struct {
	ApprovalRate         float64              `json:"approval_rate"`
	DefaultRate          float64              `json:"default_rate"`
	ModelAccuracy        float64              `json:"model_accuracy"`
	ApprovalChange       float64              `json:"approval_change"`
	DefaultChange        float64              `json:"default_change"`
	AccuracyChange       float64              `json:"accuracy_change"`
	TotalClients         int                  `json:"total_clients"`
	AverageScore         int                  `json:"average_score"`
	HighRiskClients      int                  `json:"high_risk_clients"`
	PortfolioRisk        string               `json:"portfolio_risk"`
	ScoreDistribution    []DistributionBucket `json:"score_distribution"`
	DecisionDistribution []DistributionBucket `json:"decision_distribution"`
}

// NewAggregateSnapshot returns an empty snapshot with canonical histograms
// and the lowest portfolio risk level.
func NewAggregateSnapshot() AggregateSnapshot {
	return AggregateSnapshot{
		PortfolioRisk:        "Low",
		ScoreDistribution:    DefaultScoreDistribution(),
		DecisionDistribution: DefaultDecisionDistribution(),
	}
}

// Normalize fills in any fields the backend omitted so downstream consumers
// never see nil histograms or an empty risk level.
func (s *AggregateSnapshot) Normalize() {
	if s.PortfolioRisk == "" {
		s.PortfolioRisk = "Low"
	}
	if len(s.ScoreDistribution) != 3 {
		s.ScoreDistribution = DefaultScoreDistribution()
	}
	if len(s.DecisionDistribution) != 3 {
		s.DecisionDistribution = DefaultDecisionDistribution()
	}
}

// Clone returns a deep copy. The histogram slices are the only reference
// fields, so copying them is enough to make the result independent.
func (s AggregateSnapshot) Clone() AggregateSnapshot {
	out := s
	out.ScoreDistribution = append([]DistributionBucket(nil), s.ScoreDistribution...)
	out.DecisionDistribution = append([]DistributionBucket(nil), s.DecisionDistribution...)
	return out
}

// DashboardState bundles the aggregate statistics with the bounded recent
// history list. It is the unit the event reducer operates on.
type DashboardState struct {
	Stats  AggregateSnapshot
	Recent []RecentAnalysis
}

// NewDashboardState returns an empty state with canonical histograms.
func NewDashboardState() DashboardState {
	return DashboardState{Stats: NewAggregateSnapshot()}
}

// Clone returns a deep copy of the state.
func (d DashboardState) Clone() DashboardState {
	return DashboardState{
		Stats:  d.Stats.Clone(),
		Recent: append([]RecentAnalysis(nil), d.Recent...),
	}
}

// Status reports the live channel condition for the connectivity indicator.
type Status struct {
	State             ConnectionState `json:"state"`
	ReconnectAttempts int             `json:"reconnect_attempts"`
	NextDelayMs       int64           `json:"next_delay_ms"`
	LastError         string          `json:"last_error,omitempty"`
	LastUpdate        time.Time       `json:"last_update"`
}
