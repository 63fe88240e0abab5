// Package cache implements the Redis projection of risk results: an atomic
// per-portfolio write with TTL, aggregate counters, and the cursor scans the
// HTTP API reads from. Writes for one portfolio always come from a single
// pipeline worker, so per-key writes are serialized without extra locking.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/prospector/internal/models"
)

const (
	// KeyPrefix namespaces per-portfolio records.
	KeyPrefix = "portfolio:"
	// MetricsKey holds the aggregate counters.
	MetricsKey = "global:metrics"
	// Methodology tags every cached record.
	Methodology = "advanced_behavioral"
	// DefaultTTL bounds staleness of a cached record.
	DefaultTTL = 300 * time.Second

	scanCount = 100
)

// ErrNotFound is returned when no record exists for a portfolio.
var ErrNotFound = errors.New("cache: portfolio not found")

// Config holds cache client settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Client wraps the Redis connection pool. Reads serving the HTTP API go
// through a circuit breaker so a dead Redis fails fast to 503 instead of
// stacking timeouts.
type Client struct {
	rdb     redis.Cmdable
	closer  func() error
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker
}

// New connects a cache client.
func New(cfg Config) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	c := newWith(rdb, cfg.TTL)
	c.closer = rdb.Close
	return c
}

// NewWithClient wraps an existing Redis client; used by tests with redismock.
func NewWithClient(rdb redis.Cmdable) *Client {
	return newWith(rdb, DefaultTTL)
}

func newWith(rdb redis.Cmdable, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Client{
		rdb: rdb,
		ttl: ttl,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "redis-read",
			Timeout: 5 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Key returns the cache key for a portfolio id.
func Key(portfolioID string) string { return KeyPrefix + portfolioID }

// WriteResult stores one risk result under portfolio:{id} and bumps the
// aggregate counters, all in a single transactional pipeline so readers
// never observe a partially populated key or a key without its TTL.
// Overwrites are idempotent; every write resets the TTL.
func (c *Client) WriteResult(ctx context.Context, res *models.RiskResult) error {
	key := Key(res.PortfolioID)

	// Field order is fixed so writes are reproducible byte-for-byte.
	fields := []interface{}{
		"portfolio_id", res.PortfolioID,
		"advisor_id", res.AdvisorID,
		"risk_number", strconv.Itoa(res.RiskNumber),
		"var_95", formatFloat(res.VaR95),
		"expected_return", formatFloat(res.ExpectedReturn),
		"volatility", formatFloat(res.Volatility),
		"sharpe_ratio", formatFloat(res.SharpeRatio),
		"downside_percentage", formatFloat(res.DownsidePercentage),
		"portfolio_beta", formatFloat(res.PortfolioBeta),
		"downside_capture", formatFloat(res.DownsideCapture),
		"calculation_time_ms", formatFloat(res.CalculationTimeMS),
		"timestamp", formatFloat(res.Timestamp),
		"methodology", Methodology,
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields...)
	pipe.Expire(ctx, key, c.ttl)
	pipe.HIncrBy(ctx, MetricsKey, "total_calculations", 1)
	pipe.HIncrByFloat(ctx, MetricsKey, "total_processing_time_ms", res.CalculationTimeMS)
	pipe.HSet(ctx, MetricsKey, "last_calculation", formatFloat(res.Timestamp))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache write for %s: %w", res.PortfolioID, err)
	}
	return nil
}

// MarkStart records the pipeline start time once per deployment.
func (c *Client) MarkStart(ctx context.Context) error {
	ts := formatFloat(float64(time.Now().UnixNano()) / 1e9)
	if err := c.rdb.HSetNX(ctx, MetricsKey, "start_time", ts).Err(); err != nil {
		return fmt.Errorf("cache mark start: %w", err)
	}
	return nil
}

// CachedResult is a flat cached record with typed fields.
type CachedResult struct {
	models.RiskResult
	Methodology string `json:"methodology"`
}

// ReadResult fetches the cached record for one portfolio. Returns
// ErrNotFound when the key is absent or expired.
func (c *Client) ReadResult(ctx context.Context, portfolioID string) (*CachedResult, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		data, err := c.rdb.HGetAll(ctx, Key(portfolioID)).Result()
		if err != nil {
			return nil, fmt.Errorf("cache read for %s: %w", portfolioID, err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	data := out.(map[string]string)
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return parseRecord(data)
}

// ScanResults iterates the portfolio keyspace with a non-blocking cursor and
// returns every record that is still present. Keys that expire between the
// SCAN and the HGETALL are skipped silently.
func (c *Client) ScanResults(ctx context.Context) ([]CachedResult, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		var results []CachedResult
		var cursor uint64
		for {
			keys, next, err := c.rdb.Scan(ctx, cursor, KeyPrefix+"*", scanCount).Result()
			if err != nil {
				return nil, fmt.Errorf("cache scan: %w", err)
			}
			for _, key := range keys {
				data, err := c.rdb.HGetAll(ctx, key).Result()
				if err != nil {
					return nil, fmt.Errorf("cache scan read %s: %w", key, err)
				}
				if len(data) == 0 {
					continue // expired under the cursor
				}
				rec, err := parseRecord(data)
				if err != nil {
					continue // malformed record, not this reader's problem
				}
				results = append(results, *rec)
			}
			cursor = next
			if cursor == 0 {
				return results, nil
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out.([]CachedResult), nil
}

// Ping reports cache reachability.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if c.closer != nil {
		return c.closer()
	}
	return nil
}

func parseRecord(data map[string]string) (*CachedResult, error) {
	rec := &CachedResult{Methodology: data["methodology"]}
	rec.PortfolioID = data["portfolio_id"]
	rec.AdvisorID = data["advisor_id"]
	if rec.PortfolioID == "" {
		return nil, fmt.Errorf("cache record missing portfolio_id")
	}

	var err error
	if rec.RiskNumber, err = strconv.Atoi(data["risk_number"]); err != nil {
		return nil, fmt.Errorf("cache record %s: bad risk_number: %w", rec.PortfolioID, err)
	}
	floats := []struct {
		field string
		dst   *float64
	}{
		{"var_95", &rec.VaR95},
		{"expected_return", &rec.ExpectedReturn},
		{"volatility", &rec.Volatility},
		{"sharpe_ratio", &rec.SharpeRatio},
		{"downside_percentage", &rec.DownsidePercentage},
		{"portfolio_beta", &rec.PortfolioBeta},
		{"downside_capture", &rec.DownsideCapture},
		{"calculation_time_ms", &rec.CalculationTimeMS},
		{"timestamp", &rec.Timestamp},
	}
	for _, f := range floats {
		if *f.dst, err = strconv.ParseFloat(data[f.field], 64); err != nil {
			return nil, fmt.Errorf("cache record %s: bad %s: %w", rec.PortfolioID, f.field, err)
		}
	}
	return rec, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
