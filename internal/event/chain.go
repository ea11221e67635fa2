package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"ChainCore/internal/protocol"
)

// BlockApplied is the per-block summary payload.
type BlockApplied struct {
	Height    uint64               `json:"height"`
	Timestamp int64                `json:"timestamp"`
	Producer  protocol.ValidatorID `json:"producer"`
	TxCount   int                  `json:"tx_count"`
	TxIDs     []string             `json:"tx_ids"`
}

// FromBlock expands one applied block into the envelopes to publish: a
// block summary first, then one envelope per virtual operation in the
// order the engine generated them.
func FromBlock(blk protocol.Block, virtuals []protocol.Operation, prevHash, stateHash string) ([]Envelope, error) {
	now := time.Now().UTC()
	base := Envelope{
		Height:    blk.Height,
		BlockTime: blk.Timestamp,
		PrevHash:  prevHash,
		StateHash: stateHash,
		EmittedAt: now,
	}

	txIDs := make([]string, len(blk.Transactions))
	for i := range blk.Transactions {
		txIDs[i] = blk.Transactions[i].ID
	}
	summary, err := json.Marshal(BlockApplied{
		Height:    blk.Height,
		Timestamp: blk.Timestamp,
		Producer:  blk.Producer,
		TxCount:   len(blk.Transactions),
		TxIDs:     txIDs,
	})
	if err != nil {
		return nil, err
	}

	out := make([]Envelope, 0, 1+len(virtuals))
	head := base
	head.EventID = uuid.New()
	head.Kind = KindBlockApplied
	head.Payload = summary
	out = append(out, head)

	for _, op := range virtuals {
		payload, err := protocol.MarshalOperation(op)
		if err != nil {
			return nil, err
		}
		env := base
		env.EventID = uuid.New()
		env.Kind = kindForOp(op.Type())
		env.Payload = payload
		out = append(out, env)
	}
	return out, nil
}

func kindForOp(t protocol.OpType) Kind {
	switch t {
	case protocol.OpFillOrder:
		return KindFill
	case protocol.OpExecuteBid:
		return KindBidExecuted
	default:
		return KindOperation
	}
}
