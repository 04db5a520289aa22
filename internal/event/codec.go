package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Row is the wire/storage form of an envelope: the payload is kept as raw
// JSON so the event log can be written and replayed without knowing every
// payload type up front.
type Row struct {
	Sequence  int64           `json:"sequence"`
	EventID   uuid.UUID       `json:"event_id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Encode marshals an envelope into its storage form.
func Encode(env Envelope) (Row, error) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return Row{}, fmt.Errorf("event: marshal %s payload: %w", env.Type, err)
	}
	return Row{
		Sequence:  env.Sequence,
		EventID:   env.EventID,
		Type:      env.Type.String(),
		Timestamp: env.Timestamp,
		Payload:   payload,
	}, nil
}

// Decode parses a stored row back into a typed envelope.
func Decode(row Row) (Envelope, error) {
	var payload Payload
	switch row.Type {
	case TypeAssetRegistered.String():
		payload = &AssetRegistered{}
	case TypePriceSourceUpdated.String():
		payload = &PriceSourceUpdated{}
	case TypeInterestAccrued.String():
		payload = &InterestAccrued{}
	case TypeDeposited.String():
		payload = &Deposited{}
	case TypeWithdrawn.String():
		payload = &Withdrawn{}
	case TypeBorrowed.String():
		payload = &Borrowed{}
	case TypeRepaid.String():
		payload = &Repaid{}
	case TypeLiquidated.String():
		payload = &Liquidated{}
	default:
		return Envelope{}, fmt.Errorf("event: unknown type %q at sequence %d", row.Type, row.Sequence)
	}

	if err := json.Unmarshal(row.Payload, payload); err != nil {
		return Envelope{}, fmt.Errorf("event: unmarshal %s at sequence %d: %w", row.Type, row.Sequence, err)
	}

	return Envelope{
		Sequence:  row.Sequence,
		EventID:   row.EventID,
		Type:      payload.EventType(),
		Timestamp: row.Timestamp,
		Payload:   payload,
	}, nil
}
