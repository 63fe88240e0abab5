package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/prospector/internal/models"
	"github.com/sawpanic/prospector/internal/telemetry"
)

// stubSource feeds a fixed message sequence, then cancels the run context so
// the pipeline drains deterministically.
type stubSource struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	idx       int
	committed []kafka.Message
	cancel    context.CancelFunc
}

func (s *stubSource) FetchMessage(ctx context.Context) (kafka.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.msgs) {
		if s.cancel != nil {
			s.cancel()
		}
		return kafka.Message{}, context.Canceled
	}
	msg := s.msgs[s.idx]
	s.idx++
	return msg, nil
}

func (s *stubSource) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = append(s.committed, msgs...)
	return nil
}

func (s *stubSource) Close() error { return nil }

type producedMsg struct {
	topic     string
	key       string
	value     []byte
	partition int
}

type stubProducer struct {
	mu       sync.Mutex
	produced []producedMsg
	err      error
}

func (p *stubProducer) Produce(ctx context.Context, topic, key string, value []byte, partition int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.produced = append(p.produced, producedMsg{topic, key, value, partition})
	return nil
}

type stubCache struct {
	mu      sync.Mutex
	written []*models.RiskResult
	err     error
	started bool
}

func (c *stubCache) WriteResult(ctx context.Context, res *models.RiskResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.written = append(c.written, res)
	return nil
}

func (c *stubCache) MarkStart(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	return nil
}

func portfolioPayload(t *testing.T, id string) []byte {
	t.Helper()
	p := models.Portfolio{
		ID:        id,
		AdvisorID: "adv-1",
		ClientID:  "cl-1",
		Positions: []models.Position{
			{Symbol: "AAPL", Quantity: 100, Price: 185.50, MarketValue: 18550.00, Weight: 40.0, Sector: models.SectorTechnology},
			{Symbol: "MSFT", Quantity: 50, Price: 420.25, MarketValue: 21012.50, Weight: 45.0, Sector: models.SectorTechnology},
			{Symbol: "JNJ", Quantity: 75, Price: 155.75, MarketValue: 11681.25, Weight: 15.0, Sector: models.SectorHealthcare},
		},
		TotalValue:    51243.75,
		Timestamp:     float64(time.Now().UnixNano()) / 1e9,
		RiskTolerance: models.ToleranceModerate,
		AccountType:   models.AccountIndividual,
	}
	payload, err := json.Marshal(p)
	require.NoError(t, err)
	return payload
}

func runPipeline(t *testing.T, src *stubSource, producer *stubProducer, cache *stubCache) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	src.cancel = cancel

	pipe := New(
		Config{Workers: 1, EgressTopic: "risk-updates"},
		func() RecordSource { return src },
		producer,
		cache,
		telemetry.NewTracker(16),
		telemetry.NewMetrics(),
		zerolog.Nop(),
	)
	return pipe.Run(ctx)
}

func TestPipelineProcessesSnapshot(t *testing.T) {
	src := &stubSource{msgs: []kafka.Message{
		{Partition: 7, Offset: 42, Key: []byte("pf-1"), Value: portfolioPayload(t, "pf-1")},
	}}
	producer := &stubProducer{}
	cache := &stubCache{}

	err := runPipeline(t, src, producer, cache)
	require.ErrorIs(t, err, context.Canceled)

	assert.True(t, cache.started)
	require.Len(t, producer.produced, 1)
	out := producer.produced[0]
	assert.Equal(t, "risk-updates", out.topic)
	assert.Equal(t, "pf-1", out.key)
	// Egress stays on the ingress partition so per-portfolio order holds.
	assert.Equal(t, 7, out.partition)

	var res models.RiskResult
	require.NoError(t, json.Unmarshal(out.value, &res))
	assert.Equal(t, "pf-1", res.PortfolioID)
	assert.Equal(t, 97, res.RiskNumber)

	require.Len(t, cache.written, 1)
	assert.Equal(t, "pf-1", cache.written[0].PortfolioID)

	require.Len(t, src.committed, 1)
	assert.Equal(t, int64(42), src.committed[0].Offset)
}

func TestPipelineDropsUndecodableRecord(t *testing.T) {
	src := &stubSource{msgs: []kafka.Message{
		{Partition: 0, Offset: 1, Value: []byte(`{not json`)},
		{Partition: 0, Offset: 2, Value: portfolioPayload(t, "pf-2")},
	}}
	producer := &stubProducer{}
	cache := &stubCache{}

	err := runPipeline(t, src, producer, cache)
	require.ErrorIs(t, err, context.Canceled)

	// The bad record is committed and skipped; the good one flows through.
	require.Len(t, producer.produced, 1)
	assert.Equal(t, "pf-2", producer.produced[0].key)
	require.Len(t, src.committed, 2)
}

func TestPipelineDropsInvalidPortfolio(t *testing.T) {
	src := &stubSource{msgs: []kafka.Message{
		{Partition: 0, Offset: 1, Value: []byte(`{"id":"pf-bad","advisor_id":"","positions":[]}`)},
	}}
	producer := &stubProducer{}
	cache := &stubCache{}

	err := runPipeline(t, src, producer, cache)
	require.ErrorIs(t, err, context.Canceled)

	assert.Empty(t, producer.produced)
	assert.Empty(t, cache.written)
	// Dropped records still advance the offset.
	require.Len(t, src.committed, 1)
}

func TestPipelineCacheFailureIsNonFatal(t *testing.T) {
	src := &stubSource{msgs: []kafka.Message{
		{Partition: 3, Offset: 1, Value: portfolioPayload(t, "pf-1")},
		{Partition: 3, Offset: 2, Value: portfolioPayload(t, "pf-1")},
	}}
	producer := &stubProducer{}
	cache := &stubCache{err: errors.New("redis down")}

	err := runPipeline(t, src, producer, cache)
	require.ErrorIs(t, err, context.Canceled)

	// Both records reach egress and commit despite the cache being down.
	assert.Len(t, producer.produced, 2)
	assert.Len(t, src.committed, 2)
}

func TestPipelineProduceFailureHaltsWithoutCommit(t *testing.T) {
	src := &stubSource{msgs: []kafka.Message{
		{Partition: 0, Offset: 5, Value: portfolioPayload(t, "pf-1")},
	}}
	producer := &stubProducer{err: errors.New("broker unreachable")}
	cache := &stubCache{}

	err := runPipeline(t, src, producer, cache)
	// The worker halts before the source is drained; Run returns once the
	// worker is gone, with no context error.
	require.NoError(t, err)

	// The offset never advances, so the record replays after restart.
	assert.Empty(t, src.committed)
	assert.Empty(t, cache.written)
}

func TestPipelinePreservesOrderPerPartition(t *testing.T) {
	var msgs []kafka.Message
	for i := 0; i < 5; i++ {
		msgs = append(msgs, kafka.Message{Partition: 2, Offset: int64(i), Value: portfolioPayload(t, "pf-1")})
	}
	src := &stubSource{msgs: msgs}
	producer := &stubProducer{}
	cache := &stubCache{}

	err := runPipeline(t, src, producer, cache)
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, src.committed, 5)
	for i, msg := range src.committed {
		assert.Equal(t, int64(i), msg.Offset, "offsets must commit in order")
	}
}
