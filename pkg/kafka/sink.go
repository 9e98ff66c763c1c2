package kafka

import (
	"context"
	"fmt"

	"github.com/aquaponics/pondwatch/pkg/kafka/messages"
	"github.com/aquaponics/pondwatch/pkg/sensor"
)

// HeaderSource names the producer of a record.
const HeaderSource = "source"

// MsgProducer produces a single record synchronously. *Producer implements it.
type MsgProducer interface {
	Produce(ctx context.Context, msg Msg) error
}

// ReadingSink publishes generated readings to a topic, keyed by pond so each
// pond's readings stay ordered within one partition.
type ReadingSink struct {
	producer MsgProducer
	topic    string
	source   string
}

// NewReadingSink returns a sink producing to topic. source is attached as a
// record header when not empty.
func NewReadingSink(p MsgProducer, topic, source string) *ReadingSink {
	return &ReadingSink{producer: p, topic: topic, source: source}
}

func (s *ReadingSink) Name() string { return "kafka" }

// Publish encodes the reading as a ReadingMessage and waits for delivery.
func (s *ReadingSink) Publish(ctx context.Context, pond string, r sensor.Reading) error {
	m := messages.ReadingMessage{Pond: pond, Reading: r}
	if err := m.Validate(); err != nil {
		return err
	}
	value, err := m.Marshal()
	if err != nil {
		return err
	}

	msg := Msg{Topic: s.topic, Key: []byte(pond), Value: value}
	if s.source != "" {
		msg.Headers = map[string]string{HeaderSource: s.source}
	}
	if err := s.producer.Produce(ctx, msg); err != nil {
		return fmt.Errorf("failed to produce reading %d of pond %s: %w", r.EntryID, pond, err)
	}
	return nil
}
