// Package config loads and validates service configuration from YAML with
// environment overrides. Every field has a default so the service runs with
// no config file at all.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// HTTPConfig holds the API server settings.
type HTTPConfig struct {
	Addr             string  `yaml:"addr"`
	ReadTimeoutSecs  int     `yaml:"read_timeout_secs"`
	WriteTimeoutSecs int     `yaml:"write_timeout_secs"`
	IdleTimeoutSecs  int     `yaml:"idle_timeout_secs"`
	UpdateRPS        float64 `yaml:"update_rps"`   // rate limit on POST /portfolio/update
	UpdateBurst      int     `yaml:"update_burst"` // burst capacity for the same
}

// ReadTimeout returns the read timeout as a duration.
func (c HTTPConfig) ReadTimeout() time.Duration { return time.Duration(c.ReadTimeoutSecs) * time.Second }

// WriteTimeout returns the write timeout as a duration.
func (c HTTPConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSecs) * time.Second
}

// IdleTimeout returns the idle timeout as a duration.
func (c HTTPConfig) IdleTimeout() time.Duration { return time.Duration(c.IdleTimeoutSecs) * time.Second }

// KafkaConfig holds bus connection and tuning settings.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	IngressTopic  string   `yaml:"ingress_topic"`
	EgressTopic   string   `yaml:"egress_topic"`
	GroupID       string   `yaml:"group_id"`
	BatchSize     int      `yaml:"batch_size"`
	LingerMS      int      `yaml:"linger_ms"`
	PollTimeoutMS int      `yaml:"poll_timeout_ms"`
}

// Linger returns the producer linger as a duration.
func (c KafkaConfig) Linger() time.Duration { return time.Duration(c.LingerMS) * time.Millisecond }

// PollTimeout returns the consumer poll timeout as a duration.
func (c KafkaConfig) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutMS) * time.Millisecond
}

// RedisConfig holds cache settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTLSecs  int    `yaml:"ttl_secs"`
}

// TTL returns the cache TTL as a duration.
func (c RedisConfig) TTL() time.Duration { return time.Duration(c.TTLSecs) * time.Second }

// PipelineConfig holds worker settings.
type PipelineConfig struct {
	Workers          int   `yaml:"workers"`
	LogInterval      int64 `yaml:"log_interval"`
	DrainTimeoutSecs int   `yaml:"drain_timeout_secs"`
}

// DrainTimeout returns the shutdown drain bound as a duration.
func (c PipelineConfig) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutSecs) * time.Second
}

// Default returns the configuration used when no file or overrides exist.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:             "0.0.0.0:8000",
			ReadTimeoutSecs:  10,
			WriteTimeoutSecs: 30,
			IdleTimeoutSecs:  60,
			UpdateRPS:        100,
			UpdateBurst:      200,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			IngressTopic:  "portfolio-updates-v2",
			EgressTopic:   "risk-updates",
			GroupID:       "prospector-risk-calculator",
			BatchSize:     1000,
			LingerMS:      10,
			PollTimeoutMS: 100,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			TTLSecs: 300,
		},
		Pipeline: PipelineConfig{
			Workers:          12,
			LogInterval:      1000,
			DrainTimeoutSecs: 10,
		},
	}
}

// Load reads the config file when path is non-empty, applies environment
// overrides, validates, and returns the result. A missing file at the
// default path is fine; an unreadable or unparseable file is fatal.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PROSPECTOR_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("PROSPECTOR_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PROSPECTOR_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers must not be empty")
	}
	if c.Kafka.IngressTopic == "" || c.Kafka.EgressTopic == "" {
		return fmt.Errorf("kafka topics must not be empty")
	}
	if c.Kafka.IngressTopic == c.Kafka.EgressTopic {
		return fmt.Errorf("ingress and egress topics must differ")
	}
	if c.Kafka.GroupID == "" {
		return fmt.Errorf("kafka group_id must not be empty")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline workers must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Redis.TTLSecs <= 0 {
		return fmt.Errorf("redis ttl_secs must be positive, got %d", c.Redis.TTLSecs)
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http addr must not be empty")
	}
	return nil
}
