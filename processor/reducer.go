package processor

import (
	"math"
	"strings"

	"creditflow/models"
)

// recentLimit caps the recent-history list; the oldest entry is evicted when
// a new one is prepended past the cap.
const recentLimit = 10

// Reduce applies one prediction event to the dashboard state and returns the
// result. It is a pure function of (previous state, event); the input is
// never mutated.
func Reduce(prev models.DashboardState, event models.PredictionEvent) models.DashboardState {
	next := prev.Clone()

	// Prepend to the recent list, newest first.
	recent := append([]models.RecentAnalysis{event.Analysis()}, next.Recent...)
	if len(recent) > recentLimit {
		recent = recent[:recentLimit]
	}
	next.Recent = recent

	stats := &next.Stats

	// The event's total is authoritative when present; otherwise count the
	// event itself. Reloading the snapshot is the only path that corrects
	// drift between the two.
	newTotal := stats.TotalClients + 1
	if event.TotalClients > 0 {
		newTotal = event.TotalClients
	}

	stats.AverageScore = int(math.Round(
		(float64(stats.AverageScore)*float64(stats.TotalClients) + float64(event.Score)) / float64(newTotal)))
	stats.TotalClients = newTotal

	stats.ScoreDistribution[scoreBucket(event.Score)].Count++
	stats.DecisionDistribution[decisionBucket(event.Decision)].Count++

	if strings.Contains(strings.ToLower(event.RiskLevel), "high") {
		stats.HighRiskClients++
	}

	stats.PortfolioRisk = classifyPortfolioRisk(stats.HighRiskClients, newTotal)

	approved := stats.DecisionDistribution[models.DecisionBucketApproved].Count
	conditional := stats.DecisionDistribution[models.DecisionBucketConditional].Count
	stats.ApprovalRate = round1((float64(approved) + 0.5*float64(conditional)) / float64(newTotal) * 100)
	stats.DefaultRate = round1(float64(stats.HighRiskClients) / float64(newTotal) * 100)

	return next
}

// scoreBucket maps a credit score to its distribution bucket using half-open
// thresholds: <=579, 580-667, >667.
func scoreBucket(score int) int {
	switch {
	case score <= 579:
		return models.ScoreBucketHighRisk
	case score <= 667:
		return models.ScoreBucketMediumRisk
	default:
		return models.ScoreBucketLowRisk
	}
}

// decisionBucket classifies a decision string case-insensitively. Anything
// that is neither an approval nor a conditional approval counts as declined.
func decisionBucket(decision string) int {
	d := strings.ToLower(decision)
	switch {
	case d == "approved":
		return models.DecisionBucketApproved
	case strings.Contains(d, "approved with conditions"):
		return models.DecisionBucketConditional
	default:
		return models.DecisionBucketDeclined
	}
}

// classifyPortfolioRisk derives the coarse risk level from the high-risk
// share of the book.
func classifyPortfolioRisk(highRisk, total int) string {
	ratio := float64(highRisk) / float64(total)
	switch {
	case ratio > 0.30:
		return "High"
	case ratio > 0.20:
		return "Medium"
	default:
		return "Low"
	}
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
