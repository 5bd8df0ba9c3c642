package models

import (
	"encoding/json"
	"time"
)

// RecentAnalysis is one scored client as shown in the recent history list.
type RecentAnalysis struct {
	ID         int64     `json:"id"`
	ClientName string    `json:"client_name"`
	Score      int       `json:"credit_score"`
	RiskLevel  string    `json:"risk_level"`
	Decision   string    `json:"decision"`
	Timestamp  time.Time `json:"timestamp"`
}

// PredictionEvent announces a newly completed scoring operation on the live
// channel. TotalClients is optional; when the backend omits it the reducer
// falls back to incrementing the previous total.
type PredictionEvent struct {
	ID           int64     `json:"id"`
	ClientName   string    `json:"client_name"`
	Score        int       `json:"credit_score"`
	RiskLevel    string    `json:"risk_level"`
	Decision     string    `json:"decision"`
	Timestamp    time.Time `json:"timestamp"`
	TotalClients int       `json:"total_clients,omitempty"`
}

// Analysis converts the event into its recent-history representation.
func (e PredictionEvent) Analysis() RecentAnalysis {
	return RecentAnalysis{
		ID:         e.ID,
		ClientName: e.ClientName,
		Score:      e.Score,
		RiskLevel:  e.RiskLevel,
		Decision:   e.Decision,
		Timestamp:  e.Timestamp,
	}
}

// Live channel message discriminants.
const (
	MessagePing          = "ping"
	MessagePong          = "pong"
	MessageNewPrediction = "new_prediction"
)

// Envelope is the wire format of live channel messages.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}
