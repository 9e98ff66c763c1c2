package main

import (
	"time"

	"github.com/urfave/cli/v2"
)

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
			EnvVars: []string{"VERBOSE"},
		},
		&cli.StringSliceFlag{
			Name:     "ponds",
			Aliases:  []string{"p"},
			Usage:    "Ponds to generate readings for (comma-separated)",
			EnvVars:  []string{"PONDS"},
			Required: true,
		},
		&cli.DurationFlag{
			Name:    "frequency",
			Aliases: []string{"f"},
			Usage:   "Interval between readings of a pond",
			EnvVars: []string{"FREQUENCY"},
			Value:   5 * time.Second,
		},
		&cli.StringFlag{
			Name:    "start",
			Usage:   "Timestamp of the first reading (RFC 3339 or day-first sensor format); defaults to now",
			EnvVars: []string{"START"},
		},
		&cli.Uint64Flag{
			Name:    "seed",
			Usage:   "Random seed; pond i uses seed+i",
			EnvVars: []string{"SEED"},
			Value:   1,
		},
		&cli.IntFlag{
			Name:    "limit",
			Aliases: []string{"n"},
			Usage:   "Readings per pond before stopping (0 streams until interrupted)",
			EnvVars: []string{"LIMIT"},
		},
		&cli.IntFlag{
			Name:    "max-consecutive-errors",
			Usage:   "Stop after this many failed publishes in a row (0 never stops)",
			EnvVars: []string{"MAX_CONSECUTIVE_ERRORS"},
			Value:   10,
		},
		&cli.StringSliceFlag{
			Name:    "sinks",
			Usage:   "Where readings are published: kafka, mqtt, csv (comma-separated)",
			EnvVars: []string{"SINKS"},
			Value:   cli.NewStringSlice("kafka"),
		},
		&cli.StringFlag{
			Name:    "csv-dir",
			Usage:   "Directory receiving one <pond>.csv per pond; empty writes a single pond to stdout",
			EnvVars: []string{"CSV_DIR"},
		},
		&cli.StringFlag{
			Name:    "bootstrap-servers",
			Aliases: []string{"b"},
			Usage:   "Kafka bootstrap servers (comma-separated)",
			EnvVars: []string{"KAFKA_BOOTSTRAP_SERVERS"},
			Value:   "localhost:9092",
		},
		&cli.StringFlag{
			Name:    "topic",
			Aliases: []string{"t"},
			Usage:   "Kafka topic receiving the readings",
			EnvVars: []string{"KAFKA_TOPIC"},
			Value:   "pond-readings",
		},
		&cli.StringFlag{
			Name:    "dlq-topic",
			Usage:   "Dead letter topic created next to the readings topic (empty to skip)",
			EnvVars: []string{"KAFKA_DLQ_TOPIC"},
			Value:   "pond-readings-dlq",
		},
		&cli.StringFlag{
			Name:    "kafka-acks",
			Usage:   "Producer acks",
			EnvVars: []string{"KAFKA_ACKS"},
			Value:   "all",
		},
		&cli.IntFlag{
			Name:    "kafka-linger-ms",
			Usage:   "Producer linger in milliseconds",
			EnvVars: []string{"KAFKA_LINGER_MS"},
			Value:   5,
		},
		&cli.StringFlag{
			Name:    "kafka-compression",
			Usage:   "Producer compression codec",
			EnvVars: []string{"KAFKA_COMPRESSION"},
			Value:   "lz4",
		},
		&cli.BoolFlag{
			Name:    "enable-kafka-logs",
			Usage:   "Enable librdkafka client logs",
			EnvVars: []string{"KAFKA_ENABLE_LOGS"},
		},
		&cli.IntFlag{
			Name:    "kafka-topic-num-partitions",
			Usage:   "Number of partitions of the readings topic",
			EnvVars: []string{"KAFKA_TOPIC_NUM_PARTITIONS"},
			Value:   3,
		},
		&cli.IntFlag{
			Name:    "kafka-topic-replication-factor",
			Usage:   "Replication factor of the readings topic",
			EnvVars: []string{"KAFKA_TOPIC_REPLICATION_FACTOR"},
			Value:   1,
		},
		&cli.DurationFlag{
			Name:    "flush-timeout",
			Usage:   "How long pending records are flushed on shutdown",
			EnvVars: []string{"KAFKA_FLUSH_TIMEOUT"},
			Value:   15 * time.Second,
		},
		&cli.StringFlag{
			Name:    "mqtt-broker",
			Usage:   "MQTT broker address",
			EnvVars: []string{"MQTT_BROKER"},
			Value:   "localhost:1883",
		},
		&cli.StringFlag{
			Name:    "mqtt-client-id",
			Usage:   "MQTT client identifier",
			EnvVars: []string{"MQTT_CLIENT_ID"},
			Value:   "pondwatch-generator",
		},
		&cli.StringFlag{
			Name:    "mqtt-topic-prefix",
			Usage:   "Readings are published to <prefix>/<pond>/readings",
			EnvVars: []string{"MQTT_TOPIC_PREFIX"},
			Value:   "pondwatch",
		},
		&cli.StringFlag{
			Name:    "mqtt-username",
			Usage:   "MQTT username",
			EnvVars: []string{"MQTT_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "mqtt-password",
			Usage:   "MQTT password",
			EnvVars: []string{"MQTT_PASSWORD"},
		},
		&cli.UintFlag{
			Name:    "mqtt-qos",
			Usage:   "MQTT QoS: 0 or 1",
			EnvVars: []string{"MQTT_QOS"},
			Value:   1,
		},
		&cli.DurationFlag{
			Name:    "mqtt-keepalive",
			Usage:   "MQTT keep alive",
			EnvVars: []string{"MQTT_KEEPALIVE"},
			Value:   30 * time.Second,
		},
		&cli.DurationFlag{
			Name:    "mqtt-connect-timeout",
			Usage:   "MQTT connect timeout",
			EnvVars: []string{"MQTT_CONNECT_TIMEOUT"},
			Value:   10 * time.Second,
		},
		&cli.StringFlag{
			Name:    "metrics-host",
			Usage:   "Host for Prometheus metrics server (empty for all interfaces)",
			EnvVars: []string{"METRICS_HOST"},
			Value:   "",
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Aliases: []string{"m"},
			Usage:   "Port for Prometheus metrics server",
			EnvVars: []string{"METRICS_PORT"},
			Value:   9091,
		},
		&cli.StringFlag{
			Name:    "site",
			Usage:   "Farm site for metrics labels",
			EnvVars: []string{"SITE"},
		},
		&cli.StringFlag{
			Name:    "environment",
			Aliases: []string{"E"},
			Usage:   "Deployment environment for metrics labels (e.g., 'production', 'staging')",
			EnvVars: []string{"ENVIRONMENT"},
		},
		&cli.StringFlag{
			Name:    "region",
			Aliases: []string{"R"},
			Usage:   "Cloud region for metrics labels",
			EnvVars: []string{"REGION"},
		},
		&cli.StringFlag{
			Name:    "cloud-provider",
			Aliases: []string{"C"},
			Usage:   "Cloud provider for metrics labels (e.g., 'aws', 'gcp')",
			EnvVars: []string{"CLOUD_PROVIDER"},
		},
	}
}
