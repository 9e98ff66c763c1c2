package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/aquaponics/pondwatch/pkg/generator"
	"github.com/aquaponics/pondwatch/pkg/kafka"
	"github.com/aquaponics/pondwatch/pkg/metrics"
	"github.com/aquaponics/pondwatch/pkg/mqtt"
	"github.com/aquaponics/pondwatch/pkg/utils"

	confluentKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// sourceHeader identifies this binary on produced records.
const sourceHeader = "generator"

func run(c *cli.Context) error {
	// Build configuration from CLI flags
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"verbose", cfg.Verbose,
		"ponds", cfg.Ponds,
		"frequency", cfg.Frequency,
		"start", cfg.Start,
		"seed", cfg.Seed,
		"limit", cfg.Limit,
		"maxConsecutiveErrors", cfg.MaxConsecutiveErrors,
		"sinks", cfg.Sinks,
		"csvDir", cfg.CSVDir,
		"bootstrapServers", cfg.Producer.BootstrapServers,
		"topic", cfg.Producer.Topic,
		"dlqTopic", cfg.DLQTopic,
		"kafkaTopicNumPartitions", cfg.KafkaTopicNumPartitions,
		"kafkaTopicReplicationFactor", cfg.KafkaTopicReplicationFactor,
		"mqttBroker", cfg.MQTT.Broker,
		"mqttClientID", cfg.MQTT.ClientID,
		"mqttTopicPrefix", cfg.MQTT.TopicPrefix,
		"mqttQoS", cfg.MQTT.QoS,
		"metricsHost", cfg.MetricsHost,
		"metricsPort", cfg.MetricsPort,
		"site", cfg.Site,
		"environment", cfg.Environment,
		"region", cfg.Region,
		"cloudProvider", cfg.CloudProvider,
	)

	// Initialize Prometheus metrics with labels for multi-instance filtering
	registry := prometheus.NewRegistry()
	m, err := metrics.NewWithLabels(registry, metrics.Labels{
		Site:          cfg.Site,
		Environment:   cfg.Environment,
		Region:        cfg.Region,
		CloudProvider: cfg.CloudProvider,
	})
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	// Start metrics server
	metricsServer := metrics.NewServer(cfg.MetricsAddr(), registry)
	metricsErrCh := metricsServer.Start()
	if cfg.MetricsHost == "" {
		sugar.Infof("metrics server listening on http://0.0.0.0:%d/metrics", cfg.MetricsPort)
	} else {
		sugar.Infof("metrics server listening on http://%s/metrics", cfg.MetricsAddr())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Sinks shared by every pond
	var shared generator.Multi
	var producerErrCh <-chan error

	if cfg.hasSink(sinkKafka) {
		adminClient, err := confluentKafka.NewAdminClient(&confluentKafka.ConfigMap{
			"bootstrap.servers": cfg.Producer.BootstrapServers,
		})
		if err != nil {
			return fmt.Errorf("failed to create kafka admin client: %w", err)
		}
		err = kafka.EnsureReadingTopics(ctx, adminClient, kafka.TopicConfig{
			Name:              cfg.Producer.Topic,
			NumPartitions:     cfg.KafkaTopicNumPartitions,
			ReplicationFactor: cfg.KafkaTopicReplicationFactor,
		}, cfg.DLQTopic, sugar)
		adminClient.Close()
		if err != nil {
			return fmt.Errorf("failed to ensure kafka topics exist: %w", err)
		}

		producer, err := kafka.NewProducer(ctx, cfg.Producer.ConfigMap(), sugar.Named("producer"))
		if err != nil {
			return fmt.Errorf("failed to create kafka producer: %w", err)
		}
		defer producer.Close(cfg.FlushTimeout)
		producerErrCh = producer.Errors()
		shared = append(shared, kafka.NewReadingSink(producer, cfg.Producer.Topic, sourceHeader))
		sugar.Infow("kafka sink ready", "topic", cfg.Producer.Topic)
	}

	if cfg.hasSink(sinkMQTT) {
		publisher, err := mqtt.NewPublisher(cfg.MQTT, sugar.Named("mqtt"))
		if err != nil {
			return fmt.Errorf("failed to create mqtt publisher: %w", err)
		}
		if err := publisher.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to mqtt broker: %w", err)
		}
		defer publisher.Close() //nolint:errcheck // shutting down
		shared = append(shared, publisher)
		sugar.Infow("mqtt sink ready", "broker", cfg.MQTT.Broker)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	streams, sctx := errgroup.WithContext(gctx)
	for i, pond := range cfg.Ponds {
		sinks := append(generator.Multi{}, shared...)
		if cfg.hasSink(sinkCSV) {
			w, closeFn, err := openCSV(cfg.CSVDir, pond)
			if err != nil {
				return err
			}
			defer closeFn() //nolint:errcheck // shutting down
			sinks = append(sinks, w)
		}

		gen, err := generator.New(generator.Config{
			Pond:                 pond,
			Frequency:            cfg.Frequency,
			Start:                cfg.Start,
			Seed:                 cfg.Seed + uint64(i), //nolint:gosec // index is non-negative
			Limit:                cfg.Limit,
			MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		}, sugar.Named("generator"), m)
		if err != nil {
			return fmt.Errorf("failed to create generator for pond %s: %w", pond, err)
		}

		var sink generator.Sink = sinks
		if len(sinks) == 1 {
			sink = sinks[0]
		}
		streams.Go(func() error {
			return gen.Stream(sctx, sink)
		})
	}

	// All streams done (limit reached or failure) ends the run
	g.Go(func() error {
		defer cancel()
		return streams.Wait()
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-metricsErrCh:
			if err != nil {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		}
	})

	if producerErrCh != nil {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case err, ok := <-producerErrCh:
				if ok && err != nil {
					return fmt.Errorf("kafka producer error: %w", err)
				}
				return nil
			}
		})
	}

	err = g.Wait()

	// Gracefully shutdown metrics server
	sugar.Info("shutting down metrics server")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
		sugar.Warnw("metrics server shutdown error", "error", shutdownErr)
	}

	sugar.Info("shutdown complete")
	return err
}

// openCSV returns the CSV sink of pond: <dir>/<pond>.csv, appended to, or
// stdout when dir is empty. A header is written to new or empty files.
func openCSV(dir, pond string) (*generator.CSVSink, func() error, error) {
	if dir == "" {
		return generator.NewCSVSink(os.Stdout, true), func() error { return nil }, nil
	}
	if filepath.Base(pond) != pond {
		return nil, nil, fmt.Errorf("pond %q cannot be used as a file name", pond)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, pond+".csv"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open csv of pond %s: %w", pond, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("failed to stat csv of pond %s: %w", pond, err)
	}
	return generator.NewCSVSink(f, info.Size() == 0), f.Close, nil
}
