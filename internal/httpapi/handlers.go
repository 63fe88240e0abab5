package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/sawpanic/prospector/internal/cache"
	"github.com/sawpanic/prospector/internal/models"
)

// RiskMetricsResponse is the /risk/{portfolio_id} body: the cached record
// plus a human-readable last update time.
type RiskMetricsResponse struct {
	models.RiskResult
	Methodology string    `json:"methodology"`
	LastUpdate  time.Time `json:"last_update"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": "Prospector Risk Calculator API v1.0",
		"health":  "/health",
		"metrics": "/metrics/summary",
		"stream":  "/stream/risk-updates",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	redisUp := s.cache.Ping(ctx) == nil
	kafkaUp := s.producer.Ping(ctx) == nil && s.producer.Healthy()

	status := models.SystemStatus{
		Status:         "degraded",
		UptimeSeconds:  s.tracker.Uptime().Seconds(),
		RedisConnected: redisUp,
		KafkaConnected: kafkaUp,
	}
	if redisUp && kafkaUp {
		status.Status = "healthy"
	}

	if redisUp {
		if records, err := s.cache.ScanResults(ctx); err == nil {
			status.TotalCalculations = len(records)
			status.ActivePortfolios = len(records)

			// Sample up to 100 records for the average calculation time.
			sample := records
			if len(sample) > 100 {
				sample = sample[:100]
			}
			var sum float64
			for _, rec := range sample {
				sum += rec.CalculationTimeMS
			}
			if len(sample) > 0 {
				status.AvgCalculationTimeMS = sum / float64(len(sample))
			}
		}
	}

	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	portfolioID := mux.Vars(r)["portfolio_id"]

	rec, err := s.cache.ReadResult(r.Context(), portfolioID)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "no risk data found", portfolioID)
			return
		}
		s.writeError(w, http.StatusServiceUnavailable, "cache service unavailable", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, RiskMetricsResponse{
		RiskResult:  rec.RiskResult,
		Methodology: rec.Methodology,
		LastUpdate:  time.Unix(0, int64(rec.Timestamp*1e9)),
	})
}

func (s *Server) handleAtRisk(w http.ResponseWriter, r *http.Request) {
	threshold := 70
	if raw := r.URL.Query().Get("risk_threshold"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 99 {
			s.writeError(w, http.StatusBadRequest, "risk_threshold must be an integer in [1,99]", raw)
			return
		}
		threshold = v
	}

	records, err := s.cache.ScanResults(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "cache service unavailable", err.Error())
		return
	}

	ids := []string{}
	for _, rec := range records {
		if rec.RiskNumber >= threshold {
			ids = append(ids, rec.PortfolioID)
		}
	}
	s.writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleAdvisorPortfolios(w http.ResponseWriter, r *http.Request) {
	advisorID := mux.Vars(r)["advisor_id"]

	records, err := s.cache.ScanResults(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "cache service unavailable", err.Error())
		return
	}

	stats := []models.PortfolioStats{}
	for _, rec := range records {
		if rec.AdvisorID != advisorID {
			continue
		}
		stats = append(stats, models.PortfolioStats{
			PortfolioID:       rec.PortfolioID,
			LastUpdate:        time.Unix(0, int64(rec.Timestamp*1e9)),
			TotalCalculations: 1,
			CurrentRiskNumber: rec.RiskNumber,
		})
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	records, err := s.cache.ScanResults(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "cache service unavailable", err.Error())
		return
	}

	summary := models.MetricsSummary{
		RiskDistribution: map[string]int{"low": 0, "moderate": 0, "high": 0},
	}
	var riskSum int
	for _, rec := range records {
		riskSum += rec.RiskNumber
		summary.TotalValueAtRisk += rec.VaR95
		switch {
		case rec.RiskNumber >= 70:
			summary.HighRiskCount++
			summary.RiskDistribution["high"]++
		case rec.RiskNumber >= 30:
			summary.RiskDistribution["moderate"]++
		default:
			summary.RiskDistribution["low"]++
		}
	}
	summary.TotalPortfolios = len(records)
	if len(records) > 0 {
		summary.AvgRiskNumber = float64(riskSum) / float64(len(records))
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handlePortfolioUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "")
		return
	}

	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	// Accept either the {portfolio: ...} envelope or a bare portfolio.
	var update models.PortfolioUpdate
	portfolio := &update.Portfolio
	if err := json.Unmarshal(body, &update); err != nil || update.Portfolio.ID == "" {
		portfolio = &models.Portfolio{}
		if err := json.Unmarshal(body, portfolio); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid portfolio payload", err.Error())
			return
		}
	}

	if err := portfolio.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, "portfolio validation failed", err.Error())
		return
	}

	if err := s.publishPortfolio(r, portfolio); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "message broker unavailable", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":       "success",
		"portfolio_id": portfolio.ID,
	})
}

// handleSimulate generates the canonical three-position sample portfolio and
// submits it through the normal ingress path. Development aid.
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	portfolioID := q.Get("portfolio_id")
	if portfolioID == "" {
		s.writeError(w, http.StatusBadRequest, "portfolio_id is required", "")
		return
	}
	advisorID := q.Get("advisor_id")
	if advisorID == "" {
		advisorID = "advisor-1"
	}
	tolerance := models.RiskTolerance(q.Get("risk_tolerance"))
	if tolerance == "" {
		tolerance = models.ToleranceModerate
	}
	if !tolerance.Valid() {
		s.writeError(w, http.StatusBadRequest, "unknown risk_tolerance", string(tolerance))
		return
	}

	portfolio := samplePortfolio(portfolioID, advisorID, tolerance)
	if err := s.publishPortfolio(r, &portfolio); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "message broker unavailable", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":       "success",
		"portfolio_id": portfolio.ID,
	})
}

func (s *Server) publishPortfolio(r *http.Request, p *models.Portfolio) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	// Keyed by portfolio id, partition chosen by key hash. The producer
	// write is synchronous, so the message is flushed before we respond.
	return s.producer.Produce(r.Context(), s.cfg.IngressTopic, p.ID, payload, -1)
}

func samplePortfolio(id, advisorID string, tolerance models.RiskTolerance) models.Portfolio {
	positions := []models.Position{
		{Symbol: "AAPL", Quantity: 100, Price: 185.50, MarketValue: 18550.00, Weight: 40.0, Sector: models.SectorTechnology},
		{Symbol: "MSFT", Quantity: 50, Price: 420.25, MarketValue: 21012.50, Weight: 45.0, Sector: models.SectorTechnology},
		{Symbol: "JNJ", Quantity: 75, Price: 155.75, MarketValue: 11681.25, Weight: 15.0, Sector: models.SectorHealthcare},
	}
	var total float64
	for _, p := range positions {
		total += p.MarketValue
	}
	return models.Portfolio{
		ID:            id,
		AdvisorID:     advisorID,
		ClientID:      "client-" + id,
		Positions:     positions,
		TotalValue:    total,
		Timestamp:     float64(time.Now().UnixNano()) / 1e9,
		RiskTolerance: tolerance,
		AccountType:   models.AccountIndividual,
	}
}
