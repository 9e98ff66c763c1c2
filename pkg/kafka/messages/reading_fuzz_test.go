package messages

import (
	"testing"
)

// FuzzReadingMessageUnmarshal feeds random payloads to the decoder used on
// every consumed Kafka message.
// Run with: go test -fuzz=FuzzReadingMessageUnmarshal -fuzztime=30s ./pkg/kafka/messages/
func FuzzReadingMessageUnmarshal(f *testing.F) {
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"pond":"IoTPond1","reading":{"created_at":"2024-01-02T03:04:05Z","entry_id":1}}`))
	f.Add([]byte(`{"pond":"p","reading":{"created_at":"2024-01-02T03:04:05Z","temperature":null,"ph":7.1}}`))

	// Edge cases
	f.Add([]byte(`null`))
	f.Add([]byte(`[]`))
	f.Add([]byte(`{"reading":{"created_at":"not a time"}}`))
	f.Add([]byte(`{"reading":{"temperature":"hot"}}`))
	f.Add([]byte(`{"reading":{"entry_id":99999999999999999999}}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var m ReadingMessage
		if err := m.Unmarshal(data); err != nil {
			return
		}
		// a decoded message must encode again
		if _, err := m.Marshal(); err != nil {
			t.Fatalf("marshal after successful unmarshal: %v", err)
		}
	})
}
