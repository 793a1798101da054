package source

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/feedstream/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

const eventTypeDeadLetter = "stream.record.dead_lettered"

// DeadLetter is the body written to the dead-letter topic for a record that could not be
// turned into an event. Record holds the original message value untouched.
type DeadLetter struct {
	Aggregate string          `json:"aggregate"`
	Topic     string          `json:"topic"`
	Partition int             `json:"partition"`
	Offset    int64           `json:"offset"`
	EventID   string          `json:"eventId,omitempty"`
	Keys      string          `json:"keys,omitempty"`
	Error     string          `json:"error"`
	Attempts  int             `json:"attempts"`
	FailedAt  time.Time       `json:"failedAt"`
	Record    json.RawMessage `json:"record,omitempty"`
}

func (d DeadLetter) message(topic, id string) (kafka.Message, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return kafka.Message{}, err
	}
	key := d.Keys
	if key == "" {
		key = d.EventID
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   body,
		Headers: kafkax.MetaHeaders(kafkax.EventMeta{EventID: id, EventType: eventTypeDeadLetter}),
	}, nil
}

// rawRecord keeps valid JSON as-is and quotes anything else so the dead letter stays decodable.
func rawRecord(value []byte) json.RawMessage {
	if json.Valid(value) {
		return json.RawMessage(value)
	}
	quoted, _ := json.Marshal(string(value))
	return quoted
}
