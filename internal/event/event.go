// Package event defines the ledger's observable event stream. Every state
// delta the orchestrator commits is described by exactly one event carrying
// enough fields to reconstruct the delta, so the persisted log replays to an
// identical ledger.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminates event payloads.
type Type int32

const (
	TypeUnknown Type = iota
	TypeAssetRegistered
	TypePriceSourceUpdated
	TypeInterestAccrued
	TypeDeposited
	TypeWithdrawn
	TypeBorrowed
	TypeRepaid
	TypeLiquidated
)

func (t Type) String() string {
	switch t {
	case TypeAssetRegistered:
		return "AssetRegistered"
	case TypePriceSourceUpdated:
		return "PriceSourceUpdated"
	case TypeInterestAccrued:
		return "InterestAccrued"
	case TypeDeposited:
		return "Deposited"
	case TypeWithdrawn:
		return "Withdrawn"
	case TypeBorrowed:
		return "Borrowed"
	case TypeRepaid:
		return "Repaid"
	case TypeLiquidated:
		return "Liquidated"
	default:
		return "Unknown"
	}
}

// Payload is implemented by every event body.
type Payload interface {
	EventType() Type
}

// Envelope wraps a committed event in the log. Sequence is the global
// monotonic commit order assigned by the orchestrator.
type Envelope struct {
	Sequence  int64     `json:"sequence"`
	EventID   uuid.UUID `json:"event_id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Payload   `json:"payload"`
}
