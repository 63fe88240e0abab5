// Package risk implements the behavioral portfolio risk model: a pure
// function from a validated portfolio snapshot to a RiskResult. Given the
// same snapshot and the same security table, every numeric field except the
// wall-clock ones is bit-identical across runs.
package risk

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/prospector/internal/models"
	"github.com/sawpanic/prospector/internal/securities"
)

// Model constants. ZScore is the 95% one-tailed quantile used for downside
// risk; the risk number is bounded to [MinRiskNumber, MaxRiskNumber].
const (
	ZScore       = 1.64
	RiskFreeRate = 0.03

	MinRiskNumber = 20
	MaxRiskNumber = 100

	sameSectorCorrelation      = 0.7
	differentSectorCorrelation = 0.3
	betaCorrelationAdjustment  = 0.1
	minCorrelation             = 0.1
	maxCorrelation             = 0.95

	conservativeAdjustment = 1.1
	aggressiveAdjustment   = 0.9
)

// Compute calculates the full risk metric set for one portfolio snapshot.
// It returns an error only on arithmetic domain failures (NaN/Inf emerging
// from malformed input); the pipeline drops such snapshots.
func Compute(p *models.Portfolio) (*models.RiskResult, error) {
	start := time.Now()

	n := len(p.Positions)
	weights := mat.NewVecDense(n, nil)
	vols := make([]float64, n)
	rets := make([]float64, n)
	betas := make([]float64, n)

	for i, pos := range p.Positions {
		weights.SetVec(i, pos.Weight/100.0)
		c := securities.Lookup(pos.Symbol)
		vols[i] = c.Volatility
		rets[i] = c.ExpectedReturn
		betas[i] = c.Beta
	}

	var portfolioReturn, portfolioBeta float64
	for i := 0; i < n; i++ {
		portfolioReturn += weights.AtVec(i) * rets[i]
		portfolioBeta += weights.AtVec(i) * betas[i]
	}

	correlation := CorrelationMatrix(p.Positions, betas)

	// Covariance: sigma_i * sigma_j * corr_ij.
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, vols[i]*vols[j]*correlation.At(i, j))
		}
	}

	variance := mat.Inner(weights, cov, weights)
	volatility := math.Sqrt(variance)

	downsidePct := -ZScore * volatility * 100
	valueAtRisk := math.Abs(downsidePct/100) * p.TotalValue

	sharpe := 0.0
	if volatility > 0 {
		sharpe = (portfolioReturn - RiskFreeRate) / volatility
	}

	for name, v := range map[string]float64{
		"volatility":      volatility,
		"expected_return": portfolioReturn,
		"sharpe_ratio":    sharpe,
		"var_95":          valueAtRisk,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("portfolio %s: %s is not finite", p.ID, name)
		}
	}

	riskNumber := RiskNumberFromDownside(downsidePct)
	riskNumber = adjustForTolerance(riskNumber, p.RiskTolerance)

	return &models.RiskResult{
		PortfolioID:        p.ID,
		AdvisorID:          p.AdvisorID,
		RiskNumber:         riskNumber,
		VaR95:              valueAtRisk,
		ExpectedReturn:     portfolioReturn,
		Volatility:         volatility,
		SharpeRatio:        sharpe,
		DownsidePercentage: downsidePct,
		PortfolioBeta:      portfolioBeta,
		DownsideCapture:    portfolioBeta * 100, // simplified, reported as-is
		CalculationTimeMS:  float64(time.Since(start)) / float64(time.Millisecond),
		Timestamp:          float64(time.Now().UnixNano()) / 1e9,
	}, nil
}

// CorrelationMatrix builds the pairwise correlation matrix from sector
// membership and beta similarity. Diagonal is 1; off-diagonals start from
// the sector base (0.7 same, 0.3 different), shrink by up to 0.1 for beta
// divergence, and are clamped into [0.1, 0.95].
func CorrelationMatrix(positions []models.Position, betas []float64) *mat.SymDense {
	n := len(positions)
	corr := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		corr.SetSym(i, i, 1.0)
		for j := i + 1; j < n; j++ {
			base := differentSectorCorrelation
			if positions[i].Sector == positions[j].Sector {
				base = sameSectorCorrelation
			}
			adj := -betaCorrelationAdjustment * math.Min(math.Abs(betas[i]-betas[j]), 1.0)
			corr.SetSym(i, j, clamp(base+adj, minCorrelation, maxCorrelation))
		}
	}
	return corr
}

// RiskNumberFromDownside maps a downside percentage onto the 20-100 scale.
// The mapping is piecewise: linear 20-25 down to -2%, quadratic 25-85 down
// to -18%, then linear 85-100 capped at -30%. Non-linear scaling matches how
// investors perceive accelerating losses.
func RiskNumberFromDownside(downsidePct float64) int {
	if downsidePct >= 0 {
		return MinRiskNumber
	}
	d := math.Abs(downsidePct)

	var score float64
	switch {
	case d <= 2:
		score = MinRiskNumber + (d/2)*5
	case d <= 18:
		normalized := (d - 2) / 16
		score = 25 + normalized*normalized*60
	default:
		normalized := math.Min((d-18)/12, 1)
		score = 85 + normalized*15
	}
	return int(clamp(score, MinRiskNumber, MaxRiskNumber))
}

// adjustForTolerance applies the behavioral perception shift: conservative
// clients perceive 10% more risk, aggressive clients 10% less.
func adjustForTolerance(riskNumber int, tolerance models.RiskTolerance) int {
	switch tolerance {
	case models.ToleranceConservative:
		return min(MaxRiskNumber, int(float64(riskNumber)*conservativeAdjustment))
	case models.ToleranceAggressive:
		return max(MinRiskNumber, int(float64(riskNumber)*aggressiveAdjustment))
	default:
		return riskNumber
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
