package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/aquaponics/pondwatch/pkg/clickhouse"
	pgreadings "github.com/aquaponics/pondwatch/pkg/data/postgres/readings"
	"github.com/aquaponics/pondwatch/pkg/kafka"
)

// Import targets.
const (
	targetClickHouse = "clickhouse"
	targetPostgres   = "postgres"
)

// Config holds all configuration for the ingester run command
type Config struct {
	// Application settings
	Verbose bool

	// Kafka consumer settings
	Consumer                    kafka.ConsumerConfig
	KafkaTopicNumPartitions     int
	KafkaTopicReplicationFactor int

	// ClickHouse settings
	ClickHouse        clickhouse.Config
	ReadingsTableName string

	// Metrics settings
	MetricsHost   string
	MetricsPort   int
	Site          string
	Environment   string
	Region        string
	CloudProvider string
}

// MetricsAddr returns the formatted metrics address
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort)
}

// ImportConfig holds the configuration of the import command
type ImportConfig struct {
	Verbose           bool
	DataDir           string
	Target            string
	BatchSize         int
	ClickHouse        clickhouse.Config
	ReadingsTableName string
	Postgres          pgreadings.Config
}

// buildConfig builds a Config from CLI context flags
func buildConfig(c *cli.Context) (*Config, error) {
	sessionTimeout := c.Duration("session-timeout")
	maxPollInterval := c.Duration("max-poll-interval")
	flushTimeout := c.Duration("flush-timeout")
	goroutineWaitTimeout := c.Duration("goroutine-wait-timeout")
	pollInterval := c.Duration("poll-interval")

	consumer := kafka.ConsumerConfig{
		DLQTopic:             c.String("dlq-topic"),
		Topic:                c.String("topic"),
		BootstrapServers:     c.String("bootstrap-servers"),
		GroupID:              c.String("group-id"),
		AutoOffsetReset:      c.String("auto-offset-reset"),
		Concurrency:          c.Int64("concurrency"),
		CommitInterval:       c.Duration("offset-commit-interval"),
		SessionTimeout:       &sessionTimeout,
		MaxPollInterval:      &maxPollInterval,
		FlushTimeout:         &flushTimeout,
		GoroutineWaitTimeout: &goroutineWaitTimeout,
		PollInterval:         &pollInterval,
		EnableLogs:           c.Bool("enable-kafka-logs"),
		IsDLQConsumer:        c.Bool("dlq-consumer"),
	}
	if err := consumer.Validate(); err != nil {
		return nil, err
	}
	switch consumer.AutoOffsetReset {
	case "earliest", "latest":
	default:
		return nil, fmt.Errorf("invalid auto-offset-reset %q: must be earliest or latest", consumer.AutoOffsetReset)
	}

	return &Config{
		Verbose:                     c.Bool("verbose"),
		Consumer:                    consumer,
		KafkaTopicNumPartitions:     c.Int("kafka-topic-num-partitions"),
		KafkaTopicReplicationFactor: c.Int("kafka-topic-replication-factor"),
		ClickHouse:                  buildClickHouseConfig(c),
		ReadingsTableName:           c.String("readings-table-name"),
		MetricsHost:                 c.String("metrics-host"),
		MetricsPort:                 c.Int("metrics-port"),
		Site:                        c.String("site"),
		Environment:                 c.String("environment"),
		Region:                      c.String("region"),
		CloudProvider:               c.String("cloud-provider"),
	}, nil
}

// buildImportConfig builds an ImportConfig from CLI context flags
func buildImportConfig(c *cli.Context) (*ImportConfig, error) {
	target := c.String("target")
	switch target {
	case targetClickHouse, targetPostgres:
	default:
		return nil, fmt.Errorf("unknown target %q: must be clickhouse or postgres", target)
	}
	if c.Int("batch-size") <= 0 {
		return nil, fmt.Errorf("batch-size must be greater than 0, got %d", c.Int("batch-size"))
	}
	return &ImportConfig{
		Verbose:           c.Bool("verbose"),
		DataDir:           c.String("data-dir"),
		Target:            target,
		BatchSize:         c.Int("batch-size"),
		ClickHouse:        buildClickHouseConfig(c),
		ReadingsTableName: c.String("readings-table-name"),
		Postgres: pgreadings.Config{
			DSN:      c.String("postgres-dsn"),
			Schema:   c.String("postgres-schema"),
			MaxConns: int32(c.Int("postgres-max-conns")), //nolint:gosec // small pool size
		},
	}, nil
}

// buildClickHouseConfig builds a clickhouse.Config from CLI context flags
func buildClickHouseConfig(c *cli.Context) clickhouse.Config {
	return clickhouse.Config{
		Hosts:                splitList(c.StringSlice("clickhouse-hosts")),
		Database:             c.String("clickhouse-database"),
		Username:             c.String("clickhouse-username"),
		Password:             c.String("clickhouse-password"),
		Debug:                c.Bool("clickhouse-debug"),
		UseTLS:               c.Bool("clickhouse-use-tls"),
		InsecureSkipVerify:   c.Bool("clickhouse-insecure-skip-verify"),
		MaxExecutionTime:     c.Int("clickhouse-max-execution-time"),
		DialTimeout:          c.Int("clickhouse-dial-timeout"),
		MaxOpenConns:         c.Int("clickhouse-max-open-conns"),
		MaxIdleConns:         c.Int("clickhouse-max-idle-conns"),
		ConnMaxLifetime:      c.Int("clickhouse-conn-max-lifetime"),
		BlockBufferSize:      10,
		MaxBlockSize:         1000,
		MaxCompressionBuffer: 10240,
		ClientName:           "pondwatch-ingester",
		ClientVersion:        "1.0",
	}
}

// splitList flattens comma-separated entries of a string slice flag.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
