// Package pipeline runs the partition-affine risk workers: each worker owns
// a subset of ingress partitions, processes records sequentially, and shares
// nothing with its siblings except the thread-safe producer, cache client,
// and telemetry.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/sawpanic/prospector/internal/models"
	"github.com/sawpanic/prospector/internal/risk"
	"github.com/sawpanic/prospector/internal/telemetry"
)

// RecordSource is the per-worker ingress consumer. *kafka.Reader satisfies
// it; tests substitute stubs.
type RecordSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ResultProducer publishes derived messages. partition >= 0 pins the egress
// partition to the ingress one.
type ResultProducer interface {
	Produce(ctx context.Context, topic, key string, value []byte, partition int) error
}

// ResultCache persists computed results.
type ResultCache interface {
	WriteResult(ctx context.Context, res *models.RiskResult) error
	MarkStart(ctx context.Context) error
}

// Config holds pipeline tuning.
type Config struct {
	Workers     int
	EgressTopic string
	LogInterval int64 // tracker log cadence in messages
}

// Pipeline supervises the worker set.
type Pipeline struct {
	cfg       Config
	newSource func() RecordSource
	producer  ResultProducer
	cache     ResultCache
	tracker   *telemetry.Tracker
	metrics   *telemetry.Metrics
	log       zerolog.Logger
}

// New assembles a pipeline. newSource is called once per worker so each
// worker owns its reader.
func New(cfg Config, newSource func() RecordSource, producer ResultProducer, cache ResultCache,
	tracker *telemetry.Tracker, metrics *telemetry.Metrics, log zerolog.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = 1000
	}
	return &Pipeline{
		cfg:       cfg,
		newSource: newSource,
		producer:  producer,
		cache:     cache,
		tracker:   tracker,
		metrics:   metrics,
		log:       log,
	}
}

// Run starts the workers and blocks until the context is canceled and every
// worker has drained its in-flight record.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.cache.MarkStart(ctx); err != nil {
		p.log.Warn().Err(err).Msg("could not mark pipeline start time")
	}

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

// worker is the sequential per-partition loop: fetch, process, commit. The
// offset only advances after the egress produce is acknowledged and the
// cache write has been attempted, so replay after a crash re-derives any
// uncommitted record (at-least-once).
func (p *Pipeline) worker(ctx context.Context, id int) {
	src := p.newSource()
	defer src.Close()

	log := p.log.With().Int("worker", id).Logger()
	log.Info().Msg("pipeline worker started")

	for {
		msg, err := src.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				log.Info().Msg("pipeline worker stopping")
				return
			}
			// The client retries transient broker errors internally; an
			// error surfacing here is persistent and halts the worker.
			log.Error().Err(err).Msg("ingress fetch failed, halting worker")
			return
		}

		commit, err := p.process(ctx, msg, log)
		if err != nil {
			log.Error().Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("egress produce failed, halting worker")
			return
		}
		if commit {
			if err := src.CommitMessages(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Msg("offset commit failed, halting worker")
				return
			}
		}
	}
}

// process handles one ingress record. The bool result says whether the
// offset may advance; a non-nil error means the produce failed and the
// record must be replayed.
func (p *Pipeline) process(ctx context.Context, msg kafka.Message, log zerolog.Logger) (bool, error) {
	portfolio, err := models.DecodePortfolio(msg.Value)
	if err != nil {
		p.metrics.DecodeFailures.Inc()
		log.Warn().Err(err).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("dropping undecodable record")
		return true, nil
	}

	result, err := risk.Compute(portfolio)
	if err != nil {
		p.metrics.ComputeFailures.Inc()
		log.Warn().Err(err).
			Str("portfolio_id", portfolio.ID).
			Msg("dropping snapshot on compute failure")
		return true, nil
	}

	payload, err := json.Marshal(result)
	if err != nil {
		p.metrics.ComputeFailures.Inc()
		log.Warn().Err(err).Str("portfolio_id", portfolio.ID).Msg("dropping unserializable result")
		return true, nil
	}

	// Egress keyed by portfolio id, pinned to the ingress partition so
	// per-portfolio FIFO holds across topics. Blocks on full queues.
	if err := p.producer.Produce(ctx, p.cfg.EgressTopic, result.PortfolioID, payload, msg.Partition); err != nil {
		return false, err
	}
	p.metrics.EgressProduced.Inc()

	// Cache failures never fail the pipeline; the record is already on the
	// egress topic and the next snapshot overwrites the key anyway.
	if err := p.cache.WriteResult(ctx, result); err != nil {
		p.metrics.CacheErrors.Inc()
		log.Error().Err(err).Str("portfolio_id", result.PortfolioID).Msg("cache write failed")
	}

	p.metrics.MessagesProcessed.Inc()
	p.metrics.ProcessingLatency.Observe(result.CalculationTimeMS)
	p.tracker.Record(result.CalculationTimeMS)
	p.tracker.LogEvery(p.cfg.LogInterval)

	log.Debug().
		Str("portfolio_id", result.PortfolioID).
		Int("risk_number", result.RiskNumber).
		Float64("var_95", result.VaR95).
		Float64("latency_ms", result.CalculationTimeMS).
		Msg("risk calculated")

	return true, nil
}

// DrainTimeout is the default bound on shutdown draining.
const DrainTimeout = 10 * time.Second
