package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"

	"ChainCore/internal/protocol"
)

// ParseRaw converts a raw NATS message into a block or a loose
// transaction, keyed by subject. The shell validates everything here so
// the engine only ever sees structurally sound input.
func ParseRaw(raw RawMessage) (*protocol.Block, *protocol.Transaction, error) {
	switch {
	case strings.HasPrefix(raw.Subject, "chain.blocks."):
		blk, err := ParseBlock(raw.Data)
		return blk, nil, err
	case strings.HasPrefix(raw.Subject, "chain.txs."):
		tx, err := ParseTransaction(raw.Data)
		return nil, tx, err
	default:
		return nil, nil, fmt.Errorf("unknown subject: %s", raw.Subject)
	}
}

// ParseBlock decodes and validates one block.
func ParseBlock(data []byte) (*protocol.Block, error) {
	var blk protocol.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return nil, fmt.Errorf("parse block: %w", err)
	}
	if blk.Height == 0 {
		return nil, fmt.Errorf("block height must be positive")
	}
	if blk.Timestamp <= 0 {
		return nil, fmt.Errorf("block %d has no timestamp", blk.Height)
	}

	seen := make(map[string]struct{}, len(blk.Transactions))
	for i := range blk.Transactions {
		tx := &blk.Transactions[i]
		if err := validateTx(tx); err != nil {
			return nil, fmt.Errorf("block %d: %w", blk.Height, err)
		}
		if _, dup := seen[tx.ID]; dup {
			return nil, fmt.Errorf("block %d repeats transaction %s", blk.Height, tx.ID)
		}
		seen[tx.ID] = struct{}{}
	}
	return &blk, nil
}

// ParseTransaction decodes and validates one loose transaction for
// mempool admission.
func ParseTransaction(data []byte) (*protocol.Transaction, error) {
	var tx protocol.Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("parse transaction: %w", err)
	}
	if err := validateTx(&tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func validateTx(tx *protocol.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("transaction without id")
	}
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	return nil
}
