package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/aquaponics/pondwatch/pkg/clickhouse"
	chreadings "github.com/aquaponics/pondwatch/pkg/data/clickhouse/readings"
	"github.com/aquaponics/pondwatch/pkg/kafka"
	"github.com/aquaponics/pondwatch/pkg/kafka/processor"
	"github.com/aquaponics/pondwatch/pkg/metrics"
	"github.com/aquaponics/pondwatch/pkg/utils"

	confluentKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

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
		"bootstrapServers", cfg.Consumer.BootstrapServers,
		"groupID", cfg.Consumer.GroupID,
		"topic", cfg.Consumer.Topic,
		"dlqTopic", cfg.Consumer.DLQTopic,
		"isDLQConsumer", cfg.Consumer.IsDLQConsumer,
		"autoOffsetReset", cfg.Consumer.AutoOffsetReset,
		"maxConcurrency", cfg.Consumer.Concurrency,
		"offsetCommitInterval", cfg.Consumer.CommitInterval,
		"enableKafkaLogs", cfg.Consumer.EnableLogs,
		"sessionTimeout", *cfg.Consumer.SessionTimeout,
		"maxPollInterval", *cfg.Consumer.MaxPollInterval,
		"flushTimeout", *cfg.Consumer.FlushTimeout,
		"goroutineWaitTimeout", *cfg.Consumer.GoroutineWaitTimeout,
		"pollInterval", *cfg.Consumer.PollInterval,
		"kafkaTopicNumPartitions", cfg.KafkaTopicNumPartitions,
		"kafkaTopicReplicationFactor", cfg.KafkaTopicReplicationFactor,
		"clickhouseHosts", cfg.ClickHouse.Hosts,
		"clickhouseDatabase", cfg.ClickHouse.Database,
		"clickhouseUsername", cfg.ClickHouse.Username,
		"clickhouseDebug", cfg.ClickHouse.Debug,
		"readingsTableName", cfg.ReadingsTableName,
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize ClickHouse client
	chClient, err := clickhouse.New(cfg.ClickHouse, sugar)
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse client: %w", err)
	}
	defer chClient.Close()
	metricsServer.AddReadyCheck("clickhouse", chClient.Ping)

	sugar.Info("ClickHouse client created successfully")

	// Initialize repository (table is created automatically)
	readingsRepo, err := chreadings.NewRepository(ctx, chClient, cfg.ClickHouse.Database, cfg.ReadingsTableName)
	if err != nil {
		return fmt.Errorf("failed to create readings repository: %w", err)
	}
	sugar.Infow("Readings table ready", "tableName", cfg.ReadingsTableName)

	proc := processor.NewReadings(sugar.Named("processor"), readingsRepo, m)

	if !cfg.Consumer.IsDLQConsumer {
		adminClient, err := confluentKafka.NewAdminClient(&confluentKafka.ConfigMap{
			"bootstrap.servers": cfg.Consumer.BootstrapServers,
		})
		if err != nil {
			return fmt.Errorf("failed to create kafka admin client: %w", err)
		}
		err = kafka.EnsureReadingTopics(ctx, adminClient, kafka.TopicConfig{
			Name:              cfg.Consumer.Topic,
			NumPartitions:     cfg.KafkaTopicNumPartitions,
			ReplicationFactor: cfg.KafkaTopicReplicationFactor,
		}, cfg.Consumer.DLQTopic, sugar)
		adminClient.Close()
		if err != nil {
			return fmt.Errorf("failed to ensure kafka topics exist: %w", err)
		}
	}

	// Create consumer
	consumer, err := kafka.NewConsumer(ctx, sugar.Named("consumer"), cfg.Consumer, proc, m)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	sugar.Infow("consumer created, starting consumption",
		"topic", cfg.Consumer.Topic,
		"groupID", cfg.Consumer.GroupID,
		"concurrency", cfg.Consumer.Concurrency,
	)

	metricsErrCh := metricsServer.Start()
	if cfg.MetricsHost == "" {
		sugar.Infof("metrics server listening on http://0.0.0.0:%d/metrics", cfg.MetricsPort)
	} else {
		sugar.Infof("metrics server listening on http://%s/metrics", cfg.MetricsAddr())
	}

	// Run consumer and metrics server error handling concurrently using errgroup
	g, gctx := errgroup.WithContext(ctx)

	// Consumer goroutine - blocks until shutdown or error
	g.Go(func() error {
		if err := consumer.Start(gctx); err != nil {
			return fmt.Errorf("consumer error: %w", err)
		}
		return nil
	})

	// Metrics server error monitoring goroutine
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

	// Wait for first error or completion from any goroutine
	err = g.Wait()

	// Gracefully shutdown metrics server
	sugar.Info("shutting down metrics server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
		sugar.Warnw("metrics server shutdown error", "error", shutdownErr)
	}

	sugar.Info("shutdown complete")
	return err
}
