package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/prospector/internal/models"
)

func sampleResult() *models.RiskResult {
	return &models.RiskResult{
		PortfolioID:        "pf-1",
		AdvisorID:          "adv-1",
		RiskNumber:         72,
		VaR95:              14311.5,
		ExpectedReturn:     0.1305,
		Volatility:         0.1703,
		SharpeRatio:        0.59,
		DownsidePercentage: -27.93,
		PortfolioBeta:      1.035,
		DownsideCapture:    103.5,
		CalculationTimeMS:  1.25,
		Timestamp:          1724500000.5,
	}
}

func TestWriteResult(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewWithClient(rdb)
	res := sampleResult()

	mock.ExpectTxPipeline()
	mock.ExpectHSet("portfolio:pf-1",
		"portfolio_id", "pf-1",
		"advisor_id", "adv-1",
		"risk_number", "72",
		"var_95", "14311.5",
		"expected_return", "0.1305",
		"volatility", "0.1703",
		"sharpe_ratio", "0.59",
		"downside_percentage", "-27.93",
		"portfolio_beta", "1.035",
		"downside_capture", "103.5",
		"calculation_time_ms", "1.25",
		"timestamp", "1.7245000005e+09",
		"methodology", "advanced_behavioral",
	).SetVal(13)
	mock.ExpectExpire("portfolio:pf-1", DefaultTTL).SetVal(true)
	mock.ExpectHIncrBy(MetricsKey, "total_calculations", 1).SetVal(1)
	mock.ExpectHIncrByFloat(MetricsKey, "total_processing_time_ms", 1.25).SetVal(1.25)
	mock.ExpectHSet(MetricsKey, "last_calculation", "1.7245000005e+09").SetVal(1)
	mock.ExpectTxPipelineExec()

	require.NoError(t, c.WriteResult(context.Background(), res))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteResultError(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewWithClient(rdb)

	mock.ExpectTxPipeline()
	mock.ExpectHSet("portfolio:pf-1",
		"portfolio_id", "pf-1",
		"advisor_id", "adv-1",
		"risk_number", "72",
		"var_95", "14311.5",
		"expected_return", "0.1305",
		"volatility", "0.1703",
		"sharpe_ratio", "0.59",
		"downside_percentage", "-27.93",
		"portfolio_beta", "1.035",
		"downside_capture", "103.5",
		"calculation_time_ms", "1.25",
		"timestamp", "1.7245000005e+09",
		"methodology", "advanced_behavioral",
	).SetErr(fmt.Errorf("connection refused"))

	err := c.WriteResult(context.Background(), sampleResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache write for pf-1")
}

func cachedRecord() map[string]string {
	return map[string]string{
		"portfolio_id":        "pf-1",
		"advisor_id":          "adv-1",
		"risk_number":         "72",
		"var_95":              "14311.5",
		"expected_return":     "0.1305",
		"volatility":          "0.1703",
		"sharpe_ratio":        "0.59",
		"downside_percentage": "-27.93",
		"portfolio_beta":      "1.035",
		"downside_capture":    "103.5",
		"calculation_time_ms": "1.25",
		"timestamp":           "1.7245000005e+09",
		"methodology":         Methodology,
	}
}

func TestReadResult(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewWithClient(rdb)

	mock.ExpectHGetAll("portfolio:pf-1").SetVal(cachedRecord())

	rec, err := c.ReadResult(context.Background(), "pf-1")
	require.NoError(t, err)
	assert.Equal(t, "pf-1", rec.PortfolioID)
	assert.Equal(t, "adv-1", rec.AdvisorID)
	assert.Equal(t, 72, rec.RiskNumber)
	assert.Equal(t, 14311.5, rec.VaR95)
	assert.Equal(t, -27.93, rec.DownsidePercentage)
	assert.Equal(t, 1.7245000005e+09, rec.Timestamp)
	assert.Equal(t, Methodology, rec.Methodology)
}

func TestReadResultNotFound(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewWithClient(rdb)

	mock.ExpectHGetAll("portfolio:missing").SetVal(map[string]string{})

	_, err := c.ReadResult(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReadResultError(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewWithClient(rdb)

	mock.ExpectHGetAll("portfolio:pf-1").SetErr(errors.New("connection refused"))

	_, err := c.ReadResult(context.Background(), "pf-1")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestReadResultMalformed(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewWithClient(rdb)

	rec := cachedRecord()
	rec["risk_number"] = "not-a-number"
	mock.ExpectHGetAll("portfolio:pf-1").SetVal(rec)

	_, err := c.ReadResult(context.Background(), "pf-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad risk_number")
}

func TestScanResults(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewWithClient(rdb)

	first := cachedRecord()
	second := cachedRecord()
	second["portfolio_id"] = "pf-2"
	second["risk_number"] = "31"

	mock.ExpectScan(0, KeyPrefix+"*", 100).SetVal([]string{"portfolio:pf-1", "portfolio:pf-2", "portfolio:gone"}, 0)
	mock.ExpectHGetAll("portfolio:pf-1").SetVal(first)
	mock.ExpectHGetAll("portfolio:pf-2").SetVal(second)
	// Expired under the cursor: skipped, not an error.
	mock.ExpectHGetAll("portfolio:gone").SetVal(map[string]string{})

	records, err := c.ScanResults(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "pf-1", records[0].PortfolioID)
	assert.Equal(t, "pf-2", records[1].PortfolioID)
	assert.Equal(t, 31, records[1].RiskNumber)
}

func TestScanResultsError(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewWithClient(rdb)

	mock.ExpectScan(0, KeyPrefix+"*", 100).SetErr(errors.New("connection refused"))

	_, err := c.ScanResults(context.Background())
	require.Error(t, err)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "portfolio:pf-1", Key("pf-1"))
}
