package kafka

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Default timeout values for the Kafka clients.
const (
	DefaultSessionTimeout       = 240 * time.Second
	DefaultMaxPollInterval      = 3400 * time.Second
	DefaultFlushTimeout         = 15 * time.Second
	DefaultGoroutineWaitTimeout = 30 * time.Second
	DefaultPollInterval         = 100 * time.Millisecond
)

// ConsumerConfig holds the configuration of the readings consumer.
type ConsumerConfig struct {
	DLQTopic             string         `env:"KAFKA_DLQ_TOPIC"              envDefault:"pond-readings-dlq"`  // Dead letter queue topic for failed messages
	Topic                string         `env:"KAFKA_TOPIC"                  envDefault:"pond-readings"`      // Topic to consume readings from
	BootstrapServers     string         `env:"KAFKA_BOOTSTRAP_SERVERS"      envDefault:"localhost:9092"`     // Kafka broker addresses
	GroupID              string         `env:"KAFKA_GROUP_ID"               envDefault:"pondwatch-ingester"` // Consumer group ID for offset management
	AutoOffsetReset      string         `env:"KAFKA_AUTO_OFFSET_RESET"      envDefault:"earliest"`           // Offset reset strategy: "earliest" or "latest"
	Concurrency          int64          `env:"KAFKA_CONCURRENCY"            envDefault:"10"`                 // Maximum concurrent message processors
	CommitInterval       time.Duration  `env:"KAFKA_OFFSET_COMMIT_INTERVAL" envDefault:"5s"`                 // Interval for committing offsets
	SessionTimeout       *time.Duration `env:"KAFKA_SESSION_TIMEOUT"`                                        // Session timeout for the consumer group
	MaxPollInterval      *time.Duration `env:"KAFKA_MAX_POLL_INTERVAL"`                                      // Max time between polls before the consumer leaves the group
	FlushTimeout         *time.Duration `env:"KAFKA_FLUSH_TIMEOUT"`                                          // DLQ producer flush timeout on close
	GoroutineWaitTimeout *time.Duration `env:"KAFKA_GOROUTINE_WAIT_TIMEOUT"`                                 // Wait for in-flight processors on close
	PollInterval         *time.Duration `env:"KAFKA_POLL_INTERVAL"`                                          // Poll timeout per loop iteration
	EnableLogs           bool           `env:"KAFKA_ENABLE_LOGS"            envDefault:"false"`              // Enable librdkafka client logs
	IsDLQConsumer        bool           `env:"KAFKA_IS_DLQ_CONSUMER"        envDefault:"false"`              // If true, failed messages are not re-sent to DLQ
}

// LoadConsumerConfig loads the consumer configuration from environment variables.
func LoadConsumerConfig() (ConsumerConfig, error) {
	var cfg ConsumerConfig
	if err := env.Parse(&cfg); err != nil {
		return ConsumerConfig{}, fmt.Errorf("failed to parse consumer config: %w", err)
	}
	return cfg.WithDefaults(), nil
}

// WithDefaults returns a copy of the config with default values filled in for any nil pointer fields.
// This method does not mutate the original config.
func (c ConsumerConfig) WithDefaults() ConsumerConfig {
	fill := func(p **time.Duration, d time.Duration) {
		if *p == nil {
			v := d
			*p = &v
		}
	}
	fill(&c.SessionTimeout, DefaultSessionTimeout)
	fill(&c.MaxPollInterval, DefaultMaxPollInterval)
	fill(&c.FlushTimeout, DefaultFlushTimeout)
	fill(&c.GoroutineWaitTimeout, DefaultGoroutineWaitTimeout)
	fill(&c.PollInterval, DefaultPollInterval)
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.CommitInterval <= 0 {
		c.CommitInterval = OffsetManagerCommitInterval
	}
	return c
}

// Validate checks the fields without defaults.
func (c ConsumerConfig) Validate() error {
	if c.Topic == "" {
		return fmt.Errorf("invalid consumer config: topic is required")
	}
	if c.BootstrapServers == "" {
		return fmt.Errorf("invalid consumer config: bootstrap servers are required")
	}
	if c.GroupID == "" {
		return fmt.Errorf("invalid consumer config: group id is required")
	}
	if !c.IsDLQConsumer && c.DLQTopic == "" {
		return fmt.Errorf("invalid consumer config: dlq topic is required")
	}
	if c.DLQTopic != "" && c.DLQTopic == c.Topic && !c.IsDLQConsumer {
		return fmt.Errorf("invalid consumer config: dlq topic must differ from topic %q", c.Topic)
	}
	return nil
}

// ConfigMap builds the librdkafka consumer configuration. Auto commit is off,
// offsets are committed by the OffsetManager once processed.
func (c ConsumerConfig) ConfigMap() *kafka.ConfigMap {
	c = c.WithDefaults()
	return &kafka.ConfigMap{
		"bootstrap.servers":             c.BootstrapServers,
		"group.id":                      c.GroupID,
		"auto.offset.reset":             c.AutoOffsetReset,
		"enable.auto.commit":            false,
		"session.timeout.ms":            int(c.SessionTimeout.Milliseconds()),
		"max.poll.interval.ms":          int(c.MaxPollInterval.Milliseconds()),
		"partition.assignment.strategy": "roundrobin",
		"go.logs.channel.enable":        c.EnableLogs,
	}
}

// ProducerConfig holds the configuration of the readings producer.
type ProducerConfig struct {
	BootstrapServers string `env:"KAFKA_BOOTSTRAP_SERVERS" envDefault:"localhost:9092"`
	Topic            string `env:"KAFKA_TOPIC"             envDefault:"pond-readings"`
	Acks             string `env:"KAFKA_ACKS"              envDefault:"all"`
	LingerMs         int    `env:"KAFKA_LINGER_MS"         envDefault:"5"`
	Compression      string `env:"KAFKA_COMPRESSION"       envDefault:"lz4"`
	EnableLogs       bool   `env:"KAFKA_ENABLE_LOGS"       envDefault:"false"`
}

// LoadProducerConfig loads the producer configuration from environment variables.
func LoadProducerConfig() (ProducerConfig, error) {
	var cfg ProducerConfig
	if err := env.Parse(&cfg); err != nil {
		return ProducerConfig{}, fmt.Errorf("failed to parse producer config: %w", err)
	}
	return cfg, nil
}

// ConfigMap builds an idempotent librdkafka producer configuration.
func (c ProducerConfig) ConfigMap() *kafka.ConfigMap {
	return &kafka.ConfigMap{
		"bootstrap.servers":      c.BootstrapServers,
		"acks":                   c.Acks,
		"linger.ms":              c.LingerMs,
		"batch.size":             16384,
		"compression.type":       c.Compression,
		"enable.idempotence":     true,
		"go.logs.channel.enable": c.EnableLogs,
	}
}
