package processor

import (
	"context"
	"errors"
	"fmt"

	cKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/aquaponics/pondwatch/pkg/kafka/messages"
	"github.com/aquaponics/pondwatch/pkg/sensor"
)

var ErrEmptyMessage = errors.New("received nil message or empty value")

// ReadingWriter stores readings of a pond. The ClickHouse readings repository
// implements it.
type ReadingWriter interface {
	InsertBatch(ctx context.Context, pond string, readings []sensor.Reading) error
}

// IngestRecorder counts stored readings. *metrics.Metrics implements it.
type IngestRecorder interface {
	AddReadingsIngested(pond string, count int)
}

// Readings decodes ReadingMessages and writes them to a ReadingWriter.
// Safe for concurrent use.
type Readings struct {
	log    *zap.SugaredLogger
	writer ReadingWriter
	rec    IngestRecorder
}

// NewReadings returns a Readings processor. rec may be nil.
func NewReadings(log *zap.SugaredLogger, writer ReadingWriter, rec IngestRecorder) *Readings {
	return &Readings{log: log, writer: writer, rec: rec}
}

// Process stores the reading carried by msg. Malformed messages return an
// error wrapping messages.ErrInvalidMessage so the consumer dead-letters them.
func (p *Readings) Process(ctx context.Context, msg *cKafka.Message) error {
	if msg == nil || len(msg.Value) == 0 {
		return ErrEmptyMessage
	}

	var m messages.ReadingMessage
	if err := m.Unmarshal(msg.Value); err != nil {
		return err
	}

	if key := string(msg.Key); key != "" && key != m.Pond {
		p.log.Warnw("message key does not match pond",
			"key", key,
			"pond", m.Pond,
			"entryID", m.Reading.EntryID,
		)
	}

	if err := p.writer.InsertBatch(ctx, m.Pond, []sensor.Reading{m.Reading}); err != nil {
		return fmt.Errorf("failed to store reading %d of pond %s: %w", m.Reading.EntryID, m.Pond, err)
	}
	if p.rec != nil {
		p.rec.AddReadingsIngested(m.Pond, 1)
	}

	p.log.Debugw("stored reading",
		"pond", m.Pond,
		"entryID", m.Reading.EntryID,
		"createdAt", m.Reading.CreatedAt,
	)
	return nil
}
