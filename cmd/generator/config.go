package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/aquaponics/pondwatch/pkg/kafka"
	"github.com/aquaponics/pondwatch/pkg/loader"
	"github.com/aquaponics/pondwatch/pkg/mqtt"
)

// Sink names accepted by --sinks.
const (
	sinkKafka = "kafka"
	sinkMQTT  = "mqtt"
	sinkCSV   = "csv"
)

// Config holds all configuration for the generator application
type Config struct {
	// Application settings
	Verbose bool

	// Generator settings
	Ponds                []string
	Frequency            time.Duration
	Start                time.Time
	Seed                 uint64
	Limit                int
	MaxConsecutiveErrors int

	// Sink settings
	Sinks  []string
	CSVDir string

	// Kafka settings
	Producer                    kafka.ProducerConfig
	DLQTopic                    string
	KafkaTopicNumPartitions     int
	KafkaTopicReplicationFactor int
	FlushTimeout                time.Duration

	MQTT mqtt.Config

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

func (c *Config) hasSink(name string) bool {
	for _, s := range c.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

// buildConfig builds a Config from CLI context flags
func buildConfig(c *cli.Context) (*Config, error) {
	ponds := splitList(c.StringSlice("ponds"))
	if len(ponds) == 0 {
		return nil, errors.New("at least one pond is required")
	}
	seen := make(map[string]bool, len(ponds))
	for _, p := range ponds {
		if seen[p] {
			return nil, fmt.Errorf("pond %q is listed twice", p)
		}
		seen[p] = true
	}

	sinks := splitList(c.StringSlice("sinks"))
	if len(sinks) == 0 {
		return nil, errors.New("at least one sink is required")
	}
	for _, s := range sinks {
		switch s {
		case sinkKafka, sinkMQTT, sinkCSV:
		default:
			return nil, fmt.Errorf("unknown sink %q: must be kafka, mqtt or csv", s)
		}
	}

	var start time.Time
	if s := c.String("start"); s != "" {
		t, err := loader.ParseTime(s)
		if err != nil {
			return nil, fmt.Errorf("invalid start: %w", err)
		}
		start = t
	}

	qos := c.Uint("mqtt-qos")
	if qos > 1 {
		return nil, fmt.Errorf("invalid mqtt-qos %d: must be 0 or 1", qos)
	}

	cfg := &Config{
		Verbose:              c.Bool("verbose"),
		Ponds:                ponds,
		Frequency:            c.Duration("frequency"),
		Start:                start,
		Seed:                 c.Uint64("seed"),
		Limit:                c.Int("limit"),
		MaxConsecutiveErrors: c.Int("max-consecutive-errors"),
		Sinks:                sinks,
		CSVDir:               c.String("csv-dir"),
		Producer: kafka.ProducerConfig{
			BootstrapServers: c.String("bootstrap-servers"),
			Topic:            c.String("topic"),
			Acks:             c.String("kafka-acks"),
			LingerMs:         c.Int("kafka-linger-ms"),
			Compression:      c.String("kafka-compression"),
			EnableLogs:       c.Bool("enable-kafka-logs"),
		},
		DLQTopic:                    c.String("dlq-topic"),
		KafkaTopicNumPartitions:     c.Int("kafka-topic-num-partitions"),
		KafkaTopicReplicationFactor: c.Int("kafka-topic-replication-factor"),
		FlushTimeout:                c.Duration("flush-timeout"),
		MQTT: mqtt.Config{
			Broker:         c.String("mqtt-broker"),
			ClientID:       c.String("mqtt-client-id"),
			TopicPrefix:    c.String("mqtt-topic-prefix"),
			Username:       c.String("mqtt-username"),
			Password:       c.String("mqtt-password"),
			QoS:            byte(qos),
			KeepAlive:      c.Duration("mqtt-keepalive"),
			ConnectTimeout: c.Duration("mqtt-connect-timeout"),
		},
		MetricsHost:   c.String("metrics-host"),
		MetricsPort:   c.Int("metrics-port"),
		Site:          c.String("site"),
		Environment:   c.String("environment"),
		Region:        c.String("region"),
		CloudProvider: c.String("cloud-provider"),
	}

	if cfg.Frequency <= 0 {
		return nil, fmt.Errorf("invalid frequency %s: must be greater than 0", cfg.Frequency)
	}
	if cfg.hasSink(sinkCSV) && cfg.CSVDir == "" && len(cfg.Ponds) > 1 {
		return nil, errors.New("csv-dir is required to write more than one pond as csv")
	}
	if cfg.hasSink(sinkMQTT) {
		if err := cfg.MQTT.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
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
