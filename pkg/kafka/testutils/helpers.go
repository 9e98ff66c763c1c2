package testutils

import (
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/aquaponics/pondwatch/pkg/kafka/messages"
	"github.com/aquaponics/pondwatch/pkg/sensor"
)

// NewTestLogger creates a test logger that writes to testing.T
func NewTestLogger(t *testing.T) *zap.SugaredLogger {
	return zaptest.NewLogger(t).Sugar()
}

// NewTestMessage creates a test Kafka message with the given topic, partition, and offset
func NewTestMessage(topic string, partition int32, offset int64, key, value []byte) *kafka.Message {
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: partition,
			Offset:    kafka.Offset(offset),
		},
		Key:   key,
		Value: value,
	}
}

// NewReadingMessage wraps r in an encoded ReadingMessage keyed by pond.
func NewReadingMessage(t *testing.T, topic string, partition int32, offset int64, pond string, r sensor.Reading) *kafka.Message {
	t.Helper()
	m := messages.ReadingMessage{Pond: pond, Reading: r}
	value, err := m.Marshal()
	require.NoError(t, err)
	return NewTestMessage(topic, partition, offset, []byte(pond), value)
}
