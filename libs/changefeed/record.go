// Package changefeed models the rows of a table's change feed: one ChangeRecord per mutation,
// with typed before/after images.
package changefeed

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
)

type Operation string

const (
	OpInsert Operation = "INSERT"
	OpModify Operation = "MODIFY"
	OpRemove Operation = "REMOVE"
)

// ChangeRecord describes a single row mutation. Operation is kept verbatim, so unknown
// operation names survive decoding and can be classified downstream.
type ChangeRecord struct {
	EventID              string
	Operation            Operation
	Keys                 Attributes
	NewImage             Attributes
	OldImage             Attributes
	ApproximateCreatedAt time.Time
	SequenceNumber       string
}

// Image returns the snapshot that describes the row for this operation:
// the old image for REMOVE, the new image otherwise.
func (r ChangeRecord) Image() Attributes {
	if r.Operation == OpRemove {
		return r.OldImage
	}
	return r.NewImage
}

// KeyString renders the key attributes as "name=value" pairs in name order, for logs and DLQ records.
func (r ChangeRecord) KeyString() string {
	names := make([]string, 0, len(r.Keys))
	for name := range r.Keys {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		v, _ := r.Keys.String(name)
		parts = append(parts, name+"="+v)
	}
	return strings.Join(parts, ",")
}

// Identifier is the value reported back to push-style callers for failed items.
func (r ChangeRecord) Identifier() string {
	if r.EventID != "" {
		return r.EventID
	}
	if r.SequenceNumber != "" {
		return r.SequenceNumber
	}
	return r.KeyString()
}

// flatRecord is the compact layout accepted from replay tooling and tests.
type flatRecord struct {
	EventID   string     `json:"eventId,omitempty"`
	Operation string     `json:"operation"`
	Keys      Attributes `json:"keys,omitempty"`
	NewImage  Attributes `json:"newImage,omitempty"`
	OldImage  Attributes `json:"oldImage,omitempty"`
}

// MarshalJSON writes the stream layout.
func (r ChangeRecord) MarshalJSON() ([]byte, error) {
	created := r.ApproximateCreatedAt
	if created.IsZero() {
		// The stream layout has no way to omit the timestamp; epoch 0 decodes back to zero.
		created = time.Unix(0, 0)
	}
	return json.Marshal(lambdaevents.DynamoDBEventRecord{
		EventID:   r.EventID,
		EventName: string(r.Operation),
		Change: lambdaevents.DynamoDBStreamRecord{
			ApproximateCreationDateTime: lambdaevents.SecondsEpochTime{Time: created},
			Keys:                        r.Keys,
			NewImage:                    r.NewImage,
			OldImage:                    r.OldImage,
			SequenceNumber:              r.SequenceNumber,
		},
	})
}

// UnmarshalJSON accepts the stream layout (a "dynamodb" object) or the flat layout.
func (r *ChangeRecord) UnmarshalJSON(data []byte) error {
	var layout struct {
		Change json.RawMessage `json:"dynamodb"`
	}
	if err := json.Unmarshal(data, &layout); err != nil {
		return err
	}

	if len(layout.Change) > 0 && string(layout.Change) != "null" {
		var sr lambdaevents.DynamoDBEventRecord
		if err := json.Unmarshal(data, &sr); err != nil {
			return err
		}
		*r = ChangeRecord{
			EventID:        sr.EventID,
			Operation:      Operation(strings.ToUpper(strings.TrimSpace(sr.EventName))),
			Keys:           sr.Change.Keys,
			NewImage:       sr.Change.NewImage,
			OldImage:       sr.Change.OldImage,
			SequenceNumber: sr.Change.SequenceNumber,
		}
		if ts := sr.Change.ApproximateCreationDateTime.Time; !ts.IsZero() && ts.Unix() > 0 {
			r.ApproximateCreatedAt = ts.UTC()
		}
		return nil
	}

	var fr flatRecord
	if err := json.Unmarshal(data, &fr); err != nil {
		return err
	}
	*r = ChangeRecord{
		EventID:   fr.EventID,
		Operation: Operation(strings.ToUpper(strings.TrimSpace(fr.Operation))),
		Keys:      fr.Keys,
		NewImage:  fr.NewImage,
		OldImage:  fr.OldImage,
	}
	return nil
}
