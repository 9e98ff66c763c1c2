// Package processor turns consumed Kafka messages into stored readings.
package processor

import (
	"context"

	cKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Processor handles one message. A returned error sends the message to the
// dead letter queue.
type Processor interface {
	Process(ctx context.Context, msg *cKafka.Message) error
}
