package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/prospector/internal/bus"
	"github.com/sawpanic/prospector/internal/cache"
	"github.com/sawpanic/prospector/internal/config"
	"github.com/sawpanic/prospector/internal/httpapi"
	"github.com/sawpanic/prospector/internal/pipeline"
	"github.com/sawpanic/prospector/internal/telemetry"
)

const (
	appName = "prospector"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	// Optional .env for local development; absence is fine.
	_ = godotenv.Load()

	var configPath string
	var workers int
	var httpAddr string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Real-time portfolio risk analytics service",
		Version: version,
		Long: `Prospector consumes portfolio snapshots from Kafka, computes behavioral
risk metrics, caches the latest result per portfolio in Redis, republishes
results downstream, and serves a query/streaming HTTP API over the cache.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to YAML config file")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "Override pipeline worker count")
	rootCmd.PersistentFlags().StringVar(&httpAddr, "http-addr", "", "Override HTTP listen address")

	loadConfig := func() (config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return cfg, err
		}
		if workers > 0 {
			cfg.Pipeline.Workers = workers
		}
		if httpAddr != "" {
			cfg.HTTP.Addr = httpAddr
		}
		return cfg, nil
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the risk pipeline and the HTTP API in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return run(cfg, true, true)
		},
	}

	pipelineCmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run only the streaming risk pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return run(cfg, true, false)
		},
	}

	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "Run only the HTTP query/streaming API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return run(cfg, false, true)
		},
	}

	rootCmd.AddCommand(serveCmd, pipelineCmd, apiCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("fatal")
		os.Exit(1)
	}
}

// run wires the shared clients and supervises the selected halves until a
// termination signal, then drains within the configured bound.
func run(cfg config.Config, withPipeline, withAPI bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracker := telemetry.NewTracker(telemetry.DefaultWindowSize)
	metrics := telemetry.NewMetrics()

	cacheClient := cache.New(cache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.TTL(),
	})
	defer cacheClient.Close()

	busCfg := bus.Config{
		Brokers:      cfg.Kafka.Brokers,
		IngressTopic: cfg.Kafka.IngressTopic,
		EgressTopic:  cfg.Kafka.EgressTopic,
		GroupID:      cfg.Kafka.GroupID,
		BatchSize:    cfg.Kafka.BatchSize,
		Linger:       cfg.Kafka.Linger(),
		PollTimeout:  cfg.Kafka.PollTimeout(),
	}
	producer := bus.NewProducer(busCfg)
	defer producer.Close()

	pipelineDone := make(chan struct{})
	if withPipeline {
		pipe := pipeline.New(
			pipeline.Config{
				Workers:     cfg.Pipeline.Workers,
				EgressTopic: cfg.Kafka.EgressTopic,
				LogInterval: cfg.Pipeline.LogInterval,
			},
			func() pipeline.RecordSource { return bus.NewGroupReader(busCfg) },
			producer,
			cacheClient,
			tracker,
			metrics,
			log.Logger,
		)
		go func() {
			defer close(pipelineDone)
			if err := pipe.Run(ctx); err != nil && err != context.Canceled {
				log.Error().Err(err).Msg("pipeline stopped")
			}
		}()
		log.Info().
			Int("workers", cfg.Pipeline.Workers).
			Str("ingress", cfg.Kafka.IngressTopic).
			Str("egress", cfg.Kafka.EgressTopic).
			Msg("risk pipeline started")
	} else {
		close(pipelineDone)
	}

	var server *httpapi.Server
	if withAPI {
		server = httpapi.NewServer(
			httpapi.Config{
				Addr:         cfg.HTTP.Addr,
				ReadTimeout:  cfg.HTTP.ReadTimeout(),
				WriteTimeout: cfg.HTTP.WriteTimeout(),
				IdleTimeout:  cfg.HTTP.IdleTimeout(),
				IngressTopic: cfg.Kafka.IngressTopic,
				UpdateRPS:    cfg.HTTP.UpdateRPS,
				UpdateBurst:  cfg.HTTP.UpdateBurst,
			},
			cacheClient,
			producer,
			func() httpapi.TailReader { return bus.NewTailReader(busCfg) },
			tracker,
			metrics.Registry(),
			log.Logger,
		)
		go func() {
			if err := server.Start(); err != nil {
				log.Error().Err(err).Msg("http server stopped")
				stop()
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")

	drainTimeout := cfg.Pipeline.DrainTimeout()
	if drainTimeout <= 0 {
		drainTimeout = pipeline.DrainTimeout
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(drainCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown incomplete")
		}
	}

	// Wait for workers to drain in-flight computes; drop the rest and rely
	// on at-least-once replay after restart.
	select {
	case <-pipelineDone:
		log.Info().Msg("pipeline drained")
	case <-drainCtx.Done():
		log.Warn().Msg("drain timeout exceeded, abandoning in-flight work")
	}

	return nil
}
