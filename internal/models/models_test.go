package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPortfolio() Portfolio {
	return Portfolio{
		ID:        "pf-1",
		AdvisorID: "adv-1",
		ClientID:  "cl-1",
		Positions: []Position{
			{Symbol: "AAPL", Quantity: 100, Price: 185.50, MarketValue: 18550.00, Weight: 40.0, Sector: SectorTechnology},
			{Symbol: "MSFT", Quantity: 50, Price: 420.25, MarketValue: 21012.50, Weight: 45.0, Sector: SectorTechnology},
			{Symbol: "JNJ", Quantity: 75, Price: 155.75, MarketValue: 11681.25, Weight: 15.0, Sector: SectorHealthcare},
		},
		TotalValue:    51243.75,
		Timestamp:     1724500000.5,
		RiskTolerance: ToleranceModerate,
		AccountType:   AccountIndividual,
	}
}

func TestPortfolioValidateOK(t *testing.T) {
	p := validPortfolio()
	require.NoError(t, p.Validate())
}

func TestPortfolioValidateDefaults(t *testing.T) {
	p := validPortfolio()
	p.RiskTolerance = ""
	p.AccountType = ""
	p.Positions[0].Sector = ""

	require.NoError(t, p.Validate())
	assert.Equal(t, ToleranceModerate, p.RiskTolerance)
	assert.Equal(t, AccountIndividual, p.AccountType)
	assert.Equal(t, SectorOther, p.Positions[0].Sector)
}

func TestPortfolioValidateFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Portfolio)
		want   string
	}{
		{"empty id", func(p *Portfolio) { p.ID = "" }, "portfolio id is empty"},
		{"empty advisor", func(p *Portfolio) { p.AdvisorID = "" }, "advisor_id is empty"},
		{"empty client", func(p *Portfolio) { p.ClientID = "" }, "client_id is empty"},
		{"no positions", func(p *Portfolio) { p.Positions = nil }, "at least one position"},
		{"zero total value", func(p *Portfolio) { p.TotalValue = 0 }, "total_value must be positive"},
		{"unknown tolerance", func(p *Portfolio) { p.RiskTolerance = "Reckless" }, "unknown risk_tolerance"},
		{"unknown account type", func(p *Portfolio) { p.AccountType = "Margin" }, "unknown account_type"},
		{"unknown sector", func(p *Portfolio) { p.Positions[0].Sector = "Crypto" }, "unknown sector"},
		{"negative quantity", func(p *Portfolio) { p.Positions[0].Quantity = -1 }, "quantity must be positive"},
		{"zero price", func(p *Portfolio) { p.Positions[0].Price = 0 }, "price must be positive"},
		{"market value mismatch", func(p *Portfolio) { p.Positions[0].MarketValue = 99999 }, "does not match quantity*price"},
		{"weight out of range", func(p *Portfolio) {
			p.Positions[0].Weight = 140
			p.Positions[1].Weight = -40
		}, "weight must be in [0,100]"},
		{"total value mismatch", func(p *Portfolio) { p.TotalValue = 99999.99 }, "does not match position sum"},
		{"weights do not sum to 100", func(p *Portfolio) { p.Positions[0].Weight = 50 }, "weights sum to"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPortfolio()
			tt.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPortfolioValidateTolerances(t *testing.T) {
	// A cent of market value slack and a tenth of a percent of weight slack
	// must pass; anything past that must fail.
	p := validPortfolio()
	p.Positions[0].MarketValue += 0.009
	p.TotalValue += 0.009
	require.NoError(t, p.Validate())

	p = validPortfolio()
	p.Positions[0].Weight += 0.09
	require.NoError(t, p.Validate())

	p = validPortfolio()
	p.Positions[0].Weight += 0.2
	require.Error(t, p.Validate())
}

func TestDecodePortfolio(t *testing.T) {
	payload, err := json.Marshal(validPortfolio())
	require.NoError(t, err)

	p, err := DecodePortfolio(payload)
	require.NoError(t, err)
	assert.Equal(t, "pf-1", p.ID)
	assert.Len(t, p.Positions, 3)

	_, err = DecodePortfolio([]byte(`{not json`))
	require.Error(t, err)

	_, err = DecodePortfolio([]byte(`{"id":""}`))
	require.Error(t, err)
}

func TestRiskResultJSONFieldNames(t *testing.T) {
	res := RiskResult{
		PortfolioID: "pf-1",
		AdvisorID:   "adv-1",
		RiskNumber:  72,
		VaR95:       1234.5,
	}
	payload, err := json.Marshal(res)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &m))
	for _, field := range []string{
		"portfolio_id", "advisor_id", "risk_number", "var_95",
		"expected_return", "volatility", "sharpe_ratio",
		"downside_percentage", "portfolio_beta", "downside_capture",
		"calculation_time_ms", "timestamp",
	} {
		assert.Contains(t, m, field)
	}
}

func TestEnumValidity(t *testing.T) {
	assert.True(t, ToleranceConservative.Valid())
	assert.False(t, RiskTolerance("reckless").Valid())
	assert.True(t, Account401K.Valid())
	assert.False(t, AccountType("Margin").Valid())
	assert.True(t, SectorRealEstate.Valid())
	assert.False(t, Sector("Crypto").Valid())
}
