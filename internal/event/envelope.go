package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the payload carried by an envelope.
type Kind string

const (
	KindBlockApplied  Kind = "block_applied"
	KindOperation     Kind = "operation"
	KindFill          Kind = "fill"
	KindBidExecuted   Kind = "bid_executed"
	KindMaintenance   Kind = "maintenance"
)

// Envelope wraps every event published downstream. Height and BlockTime
// come from the block that produced the event; EmittedAt is the only
// wall-clock field and must never feed back into consensus state.
type Envelope struct {
	EventID   uuid.UUID       `json:"event_id"`
	Kind      Kind            `json:"kind"`
	Height    uint64          `json:"height"`
	BlockTime int64           `json:"block_time"`
	PrevHash  string          `json:"prev_hash"`
	StateHash string          `json:"state_hash"`
	EmittedAt time.Time       `json:"emitted_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Subject returns the NATS subject this envelope publishes on.
func (e *Envelope) Subject() string {
	switch e.Kind {
	case KindBlockApplied:
		return "chain.blocks"
	case KindFill:
		return "chain.fills"
	case KindBidExecuted:
		return "chain.bids"
	case KindMaintenance:
		return "chain.maintenance"
	default:
		return "chain.operations"
	}
}
