// Package models defines the portfolio and risk value types exchanged on the
// message bus, stored in the cache, and served by the HTTP API. Validation is
// strict at the edges: every payload decoded from the ingress topic or
// accepted by the API must pass Validate before it reaches the calculator.
package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// RiskTolerance encodes the client's behavioral risk preference.
type RiskTolerance string

const (
	ToleranceConservative RiskTolerance = "Conservative"
	ToleranceModerate     RiskTolerance = "Moderate"
	ToleranceAggressive   RiskTolerance = "Aggressive"
)

// Valid reports whether the tolerance is one of the closed set.
func (rt RiskTolerance) Valid() bool {
	switch rt {
	case ToleranceConservative, ToleranceModerate, ToleranceAggressive:
		return true
	}
	return false
}

// AccountType enumerates supported account kinds.
type AccountType string

const (
	AccountIndividual AccountType = "Individual"
	AccountJoint      AccountType = "Joint"
	AccountIRA        AccountType = "IRA"
	AccountRothIRA    AccountType = "Roth IRA"
	Account401K       AccountType = "401k"
	AccountTrust      AccountType = "Trust"
)

// Valid reports whether the account type is one of the closed set.
func (at AccountType) Valid() bool {
	switch at {
	case AccountIndividual, AccountJoint, AccountIRA, AccountRothIRA, Account401K, AccountTrust:
		return true
	}
	return false
}

// Sector classifies a position for correlation modeling.
type Sector string

const (
	SectorTechnology    Sector = "Technology"
	SectorHealthcare    Sector = "Healthcare"
	SectorFinance       Sector = "Finance"
	SectorConsumer      Sector = "Consumer"
	SectorEnergy        Sector = "Energy"
	SectorRealEstate    Sector = "Real Estate"
	SectorRetail        Sector = "Retail"
	SectorTelecom       Sector = "Telecom"
	SectorEntertainment Sector = "Entertainment"
	SectorAutomotive    Sector = "Automotive"
	SectorOther         Sector = "Other"
)

// Valid reports whether the sector is one of the closed set.
func (s Sector) Valid() bool {
	switch s {
	case SectorTechnology, SectorHealthcare, SectorFinance, SectorConsumer,
		SectorEnergy, SectorRealEstate, SectorRetail, SectorTelecom,
		SectorEntertainment, SectorAutomotive, SectorOther:
		return true
	}
	return false
}

// Tolerances used by the value invariants. Monetary checks allow a cent of
// rounding slack; weights must sum to 100 within a tenth of a percent.
const (
	MarketValueTolerance = 0.01
	TotalValueTolerance  = 0.01
	WeightSumTolerance   = 0.1
)

// Position is a single security holding inside a portfolio snapshot.
type Position struct {
	Symbol      string  `json:"symbol"`
	Quantity    float64 `json:"quantity"`
	Price       float64 `json:"price"`
	MarketValue float64 `json:"market_value"`
	Weight      float64 `json:"weight"`
	Sector      Sector  `json:"sector"`
}

// Validate checks the position invariants.
func (p *Position) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("position symbol is empty")
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("position %s: quantity must be positive, got %g", p.Symbol, p.Quantity)
	}
	if p.Price <= 0 {
		return fmt.Errorf("position %s: price must be positive, got %g", p.Symbol, p.Price)
	}
	if p.MarketValue <= 0 {
		return fmt.Errorf("position %s: market_value must be positive, got %g", p.Symbol, p.MarketValue)
	}
	if expected := p.Quantity * p.Price; math.Abs(p.MarketValue-expected) > MarketValueTolerance {
		return fmt.Errorf("position %s: market_value %g does not match quantity*price %g", p.Symbol, p.MarketValue, expected)
	}
	if p.Weight < 0 || p.Weight > 100 {
		return fmt.Errorf("position %s: weight must be in [0,100], got %g", p.Symbol, p.Weight)
	}
	if p.Sector == "" {
		p.Sector = SectorOther
	}
	if !p.Sector.Valid() {
		return fmt.Errorf("position %s: unknown sector %q", p.Symbol, p.Sector)
	}
	return nil
}

// Portfolio is an immutable client snapshot, the atomic unit of ingestion.
// Timestamp is seconds since epoch as supplied on ingress and never mutated.
type Portfolio struct {
	ID            string        `json:"id"`
	AdvisorID     string        `json:"advisor_id"`
	ClientID      string        `json:"client_id"`
	Positions     []Position    `json:"positions"`
	TotalValue    float64       `json:"total_value"`
	Timestamp     float64       `json:"timestamp"`
	RiskTolerance RiskTolerance `json:"risk_tolerance"`
	AccountType   AccountType   `json:"account_type"`
}

// Validate checks the portfolio invariants, including the cross-field
// consistency of total value and position weights.
func (p *Portfolio) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("portfolio id is empty")
	}
	if p.AdvisorID == "" {
		return fmt.Errorf("portfolio %s: advisor_id is empty", p.ID)
	}
	if p.ClientID == "" {
		return fmt.Errorf("portfolio %s: client_id is empty", p.ID)
	}
	if len(p.Positions) == 0 {
		return fmt.Errorf("portfolio %s: must hold at least one position", p.ID)
	}
	if p.TotalValue <= 0 {
		return fmt.Errorf("portfolio %s: total_value must be positive, got %g", p.ID, p.TotalValue)
	}
	if p.RiskTolerance == "" {
		p.RiskTolerance = ToleranceModerate
	}
	if !p.RiskTolerance.Valid() {
		return fmt.Errorf("portfolio %s: unknown risk_tolerance %q", p.ID, p.RiskTolerance)
	}
	if p.AccountType == "" {
		p.AccountType = AccountIndividual
	}
	if !p.AccountType.Valid() {
		return fmt.Errorf("portfolio %s: unknown account_type %q", p.ID, p.AccountType)
	}

	var sumValue, sumWeight float64
	for i := range p.Positions {
		if err := p.Positions[i].Validate(); err != nil {
			return fmt.Errorf("portfolio %s: %w", p.ID, err)
		}
		sumValue += p.Positions[i].MarketValue
		sumWeight += p.Positions[i].Weight
	}
	if math.Abs(p.TotalValue-sumValue) > TotalValueTolerance {
		return fmt.Errorf("portfolio %s: total_value %g does not match position sum %g", p.ID, p.TotalValue, sumValue)
	}
	if math.Abs(sumWeight-100.0) > WeightSumTolerance {
		return fmt.Errorf("portfolio %s: position weights sum to %g, expected ~100", p.ID, sumWeight)
	}
	return nil
}

// DecodePortfolio unmarshals and validates an ingress payload.
func DecodePortfolio(data []byte) (*Portfolio, error) {
	var p Portfolio
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode portfolio: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validate portfolio: %w", err)
	}
	return &p, nil
}

// RiskResult carries the computed risk metrics for one portfolio snapshot.
// It is the egress payload and, flattened, the cached record.
type RiskResult struct {
	PortfolioID        string  `json:"portfolio_id"`
	AdvisorID          string  `json:"advisor_id"`
	RiskNumber         int     `json:"risk_number"`
	VaR95              float64 `json:"var_95"`
	ExpectedReturn     float64 `json:"expected_return"`
	Volatility         float64 `json:"volatility"`
	SharpeRatio        float64 `json:"sharpe_ratio"`
	DownsidePercentage float64 `json:"downside_percentage"`
	PortfolioBeta      float64 `json:"portfolio_beta"`
	DownsideCapture    float64 `json:"downside_capture"`
	CalculationTimeMS  float64 `json:"calculation_time_ms"`
	Timestamp          float64 `json:"timestamp"`
}

// PortfolioUpdate is the API request envelope for submitting a snapshot.
type PortfolioUpdate struct {
	Portfolio              Portfolio `json:"portfolio"`
	RecalculateImmediately bool      `json:"recalculate_immediately"`
}

// PortfolioStats summarizes one cached portfolio for advisor listings.
type PortfolioStats struct {
	PortfolioID       string    `json:"portfolio_id"`
	LastUpdate        time.Time `json:"last_update"`
	TotalCalculations int       `json:"total_calculations"`
	CurrentRiskNumber int       `json:"current_risk_number"`
}

// SystemStatus is the /health response body.
type SystemStatus struct {
	Status               string  `json:"status"`
	UptimeSeconds        float64 `json:"uptime_seconds"`
	TotalCalculations    int     `json:"total_calculations"`
	AvgCalculationTimeMS float64 `json:"avg_calculation_time_ms"`
	RedisConnected       bool    `json:"redis_connected"`
	KafkaConnected       bool    `json:"kafka_connected"`
	ActivePortfolios     int     `json:"active_portfolios"`
}

// MetricsSummary aggregates risk across all cached portfolios.
// Bucket boundaries are fixed: low < 30, moderate in [30,70), high >= 70.
type MetricsSummary struct {
	TotalPortfolios  int            `json:"total_portfolios"`
	AvgRiskNumber    float64        `json:"avg_risk_number"`
	TotalValueAtRisk float64        `json:"total_value_at_risk"`
	HighRiskCount    int            `json:"high_risk_count"`
	RiskDistribution map[string]int `json:"risk_distribution"`
}

// ErrorResponse is the structured error envelope returned by the API.
type ErrorResponse struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	Timestamp string `json:"timestamp"`
}

// NewErrorResponse stamps an envelope with the current time.
func NewErrorResponse(msg, detail string) ErrorResponse {
	return ErrorResponse{
		Error:     msg,
		Detail:    detail,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}
