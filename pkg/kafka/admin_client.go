package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

const metadataTimeout = 10 * time.Second

// TopicAdmin is the part of *kafka.AdminClient used to manage topics.
type TopicAdmin interface {
	GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error)
	CreateTopics(ctx context.Context, topics []kafka.TopicSpecification, options ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error)
	CreatePartitions(ctx context.Context, partitions []kafka.PartitionsSpecification, options ...kafka.CreatePartitionsAdminOption) ([]kafka.TopicResult, error)
}

// TopicConfig describes a topic to create or reconcile.
type TopicConfig struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
}

func (tc TopicConfig) Validate() error {
	if tc.Name == "" {
		return errors.New("topic name cannot be empty")
	}
	if tc.NumPartitions <= 0 {
		return fmt.Errorf("number of partitions must be > 0, got %d", tc.NumPartitions)
	}
	if tc.ReplicationFactor <= 0 {
		return fmt.Errorf("replication factor must be > 0, got %d", tc.ReplicationFactor)
	}
	return nil
}

// TopicExists returns the topic's metadata, or nil without error when the
// topic does not exist.
func TopicExists(admin TopicAdmin, topicName string) (*kafka.TopicMetadata, error) {
	metadata, err := admin.GetMetadata(&topicName, false, int(metadataTimeout.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata for topic %q: %w", topicName, err)
	}

	topicMetadata, exists := metadata.Topics[topicName]
	if !exists || topicMetadata.Error.Code() == kafka.ErrUnknownTopicOrPart {
		return nil, nil
	}
	if topicMetadata.Error.Code() != kafka.ErrNoError {
		return nil, fmt.Errorf("topic %q has error: %w", topicName, topicMetadata.Error)
	}
	return &topicMetadata, nil
}

// CreateTopic creates a topic. An already existing topic is not an error.
func CreateTopic(ctx context.Context, admin TopicAdmin, config TopicConfig, log *zap.SugaredLogger) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid topic config: %w", err)
	}

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             config.Name,
		NumPartitions:     config.NumPartitions,
		ReplicationFactor: config.ReplicationFactor,
	}})
	if err != nil {
		return fmt.Errorf("failed to create topic %q: %w", config.Name, err)
	}

	for _, result := range results {
		switch result.Error.Code() {
		case kafka.ErrNoError:
			log.Infow("created topic",
				"topic", result.Topic,
				"partitions", config.NumPartitions,
				"replicationFactor", config.ReplicationFactor,
			)
		case kafka.ErrTopicAlreadyExists:
			log.Infow("topic already exists", "topic", result.Topic)
		default:
			return fmt.Errorf("failed to create topic %q: %w", result.Topic, result.Error)
		}
	}
	return nil
}

// EnsureTopic creates the topic when missing and grows its partition count
// when below config. Kafka cannot shrink partitions or change the replication
// factor through the admin API, so those differences are only logged.
func EnsureTopic(ctx context.Context, admin TopicAdmin, config TopicConfig, log *zap.SugaredLogger) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid topic config: %w", err)
	}

	topicMetadata, err := TopicExists(admin, config.Name)
	if err != nil {
		return fmt.Errorf("failed to check topic existence: %w", err)
	}
	if topicMetadata == nil {
		return CreateTopic(ctx, admin, config, log)
	}

	currentPartitions := len(topicMetadata.Partitions)
	currentRF := replicationFactor(topicMetadata)
	log.Infow("topic exists",
		"topic", config.Name,
		"partitions", currentPartitions,
		"replicationFactor", currentRF,
	)

	if currentRF != config.ReplicationFactor {
		log.Warnw("topic replication factor differs from config",
			"topic", config.Name,
			"current", currentRF,
			"desired", config.ReplicationFactor,
		)
	}

	switch {
	case currentPartitions < config.NumPartitions:
		return increasePartitions(ctx, admin, config.Name, config.NumPartitions, log)
	case currentPartitions > config.NumPartitions:
		log.Warnw("topic has more partitions than configured, keeping current count",
			"topic", config.Name,
			"current", currentPartitions,
			"desired", config.NumPartitions,
		)
	}
	return nil
}

// EnsureReadingTopics ensures the readings topic and its dead letter queue.
// The DLQ gets a single partition; ordering across ponds does not matter there.
func EnsureReadingTopics(ctx context.Context, admin TopicAdmin, readings TopicConfig, dlqTopic string, log *zap.SugaredLogger) error {
	if err := EnsureTopic(ctx, admin, readings, log); err != nil {
		return err
	}
	if dlqTopic == "" {
		return nil
	}
	return EnsureTopic(ctx, admin, TopicConfig{
		Name:              dlqTopic,
		NumPartitions:     1,
		ReplicationFactor: readings.ReplicationFactor,
	}, log)
}

func increasePartitions(ctx context.Context, admin TopicAdmin, topicName string, count int, log *zap.SugaredLogger) error {
	results, err := admin.CreatePartitions(ctx, []kafka.PartitionsSpecification{{
		Topic:      topicName,
		IncreaseTo: count,
	}})
	if err != nil {
		return fmt.Errorf("failed to increase partitions for topic %q: %w", topicName, err)
	}

	for _, result := range results {
		if result.Error.Code() != kafka.ErrNoError {
			return fmt.Errorf("failed to increase partitions for topic %q: %w", result.Topic, result.Error)
		}
		log.Infow("increased partitions", "topic", result.Topic, "partitions", count)
	}
	return nil
}

// replicationFactor reads the replica count of the first partition.
func replicationFactor(metadata *kafka.TopicMetadata) int {
	if len(metadata.Partitions) == 0 {
		return 0
	}
	return len(metadata.Partitions[0].Replicas)
}
