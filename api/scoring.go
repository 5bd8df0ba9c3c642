package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"creditflow/logger"
	"creditflow/session"
)

// CreditApplication carries the applicant attributes submitted for scoring.
// Field names follow the backend contract.
type CreditApplication struct {
	ClientName             string  `json:"client_name"`
	Age                    int     `json:"age"`
	Income                 float64 `json:"income"`
	Employment             string  `json:"employment"`
	LoanAmount             float64 `json:"loanAmount"`
	LoanPurpose            string  `json:"loanPurpose"`
	Location               string  `json:"location"`
	PhoneUsage             string  `json:"phoneUsage"`
	UtilityPayments        string  `json:"utilityPayments"`
	InterestRate           float64 `json:"interestRate"`
	Turnover               float64 `json:"turnover"`
	CustomerTenure         int     `json:"customerTenure"`
	AvgDaysLateCurrent     int     `json:"avgDaysLateCurrent"`
	NumLatePaymentsCurrent int     `json:"numLatePaymentsCurrent"`
	UnpaidAmount           float64 `json:"unpaidAmount"`
	IndustrySector         string  `json:"industrySector"`
	CreditType             string  `json:"creditType"`
	HasGuarantee           string  `json:"hasGuarantee"`
	GuaranteeType          string  `json:"guaranteeType"`
	RepaymentFrequency     string  `json:"repaymentFrequency"`
}

// ScoreResult is the backend's answer to a scoring request.
type ScoreResult struct {
	Client              string `json:"client"`
	CreditScore         int    `json:"creditScore"`
	RiskLevel           string `json:"riskLevel"`
	ApprovalProbability string `json:"approvalProbability"`
	Decision            string `json:"decision"`
	ModelVersion        string `json:"modelVersion"`
	Timestamp           string `json:"timestamp"`
}

// Predict submits an application for scoring. Completing a prediction is the
// external trigger for snapshot reloads in other running instances.
func (c *Client) Predict(ctx context.Context, token string, app CreditApplication) (ScoreResult, error) {
	log := c.log.WithComponent("api").WithFields(logger.Fields{
		"operation": "predict",
		"client":    app.ClientName,
	})

	payload, err := json.Marshal(app)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("failed to marshal application: %w", err)
	}

	res, err := c.do(ctx, http.MethodPost, "/predict", token, "application/json", bytes.NewReader(payload))
	if err != nil {
		return ScoreResult{}, fmt.Errorf("predict request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized {
		return ScoreResult{}, fmt.Errorf("%w: predict returned 401", session.ErrUnauthenticated)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return ScoreResult{}, fmt.Errorf("predict rejected with status %d", res.StatusCode)
	}

	var result ScoreResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return ScoreResult{}, fmt.Errorf("failed to decode predict response: %w", err)
	}

	log.WithFields(logger.Fields{
		"credit_score": result.CreditScore,
		"risk_level":   result.RiskLevel,
		"decision":     result.Decision,
	}).Info("prediction completed")
	return result, nil
}

// GeneratePDF asks the backend to render the scoring result as a PDF report
// and returns the raw document bytes.
func (c *Client) GeneratePDF(ctx context.Context, result ScoreResult) ([]byte, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scoring result: %w", err)
	}

	res, err := c.do(ctx, http.MethodPost, "/generate-pdf", "", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("pdf request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("pdf generation rejected with status %d", res.StatusCode)
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf body: %w", err)
	}
	return data, nil
}
