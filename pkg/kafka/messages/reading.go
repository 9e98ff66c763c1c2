// Package messages defines the Kafka message payloads of the ingest pipeline.
package messages

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aquaponics/pondwatch/pkg/sensor"
)

var ErrInvalidMessage = errors.New("invalid reading message")

// ReadingMessage carries one sensor reading of a pond. Missing values are
// encoded as null.
type ReadingMessage struct {
	Pond    string         `json:"pond"`
	Reading sensor.Reading `json:"reading"`
}

// Validate checks the fields required to store the reading.
func (m *ReadingMessage) Validate() error {
	if m.Pond == "" {
		return fmt.Errorf("%w: pond is required", ErrInvalidMessage)
	}
	if m.Reading.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at is required", ErrInvalidMessage)
	}
	if m.Reading.EntryID < 0 {
		return fmt.Errorf("%w: negative entry_id %d", ErrInvalidMessage, m.Reading.EntryID)
	}
	return nil
}

func (m *ReadingMessage) Marshal() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reading message: %w", err)
	}
	return data, nil
}

// Unmarshal decodes and validates data into m.
func (m *ReadingMessage) Unmarshal(data []byte) error {
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("failed to unmarshal reading message: %w", err)
	}
	return m.Validate()
}
