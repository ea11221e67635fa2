package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"ChainCore/internal/protocol"
)

// HistoryStore reads applied blocks and operations back out of the
// Postgres block log.
type HistoryStore struct {
	db *sql.DB
}

func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// GetBlock returns the raw stored block at the given height.
func (hs *HistoryStore) GetBlock(ctx context.Context, height uint64) (json.RawMessage, error) {
	var raw []byte
	err := hs.db.QueryRowContext(ctx, `
		SELECT raw FROM chain.blocks WHERE height = $1
	`, height).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("block %d not found", height)
	}
	if err != nil {
		return nil, fmt.Errorf("load block %d: %w", height, err)
	}
	return raw, nil
}

// GetTransaction returns the height and position of an applied
// transaction.
func (hs *HistoryStore) GetTransaction(ctx context.Context, txID string) (height uint64, orderInBlock int, err error) {
	err = hs.db.QueryRowContext(ctx, `
		SELECT height, order_in_block FROM chain.transactions WHERE tx_id = $1
	`, txID).Scan(&height, &orderInBlock)
	if err == sql.ErrNoRows {
		return 0, 0, fmt.Errorf("transaction %s not found", txID)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("load transaction %s: %w", txID, err)
	}
	return height, orderInBlock, nil
}

// AccountHistory pages backward through an account's operations,
// newest first. beforeHeight of zero starts at the tip.
func (hs *HistoryStore) AccountHistory(ctx context.Context, account protocol.AccountID, limit int, beforeHeight uint64) ([]OperationRecord, error) {
	q := `
		SELECT o.height, o.order_in_block, o.tx_id, o.op_type, o.virtual, o.payload
		FROM chain.account_history h
		JOIN chain.operations o
		  ON o.height = h.height AND o.order_in_block = h.order_in_block
		WHERE h.account = $1
	`
	args := []interface{}{uint64(account)}
	if beforeHeight > 0 {
		q += " AND h.height < $2"
		args = append(args, beforeHeight)
	}
	q += fmt.Sprintf(" ORDER BY h.height DESC, h.order_in_block DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := hs.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("account history: %w", err)
	}
	defer rows.Close()

	var ops []OperationRecord
	for rows.Next() {
		var rec OperationRecord
		var payload []byte
		if err := rows.Scan(&rec.Height, &rec.OrderInBlock, &rec.TxID, &rec.OpType, &rec.Virtual, &payload); err != nil {
			return nil, err
		}
		rec.Payload = payload
		ops = append(ops, rec)
	}
	return ops, rows.Err()
}
