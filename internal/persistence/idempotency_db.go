package persistence

import (
	"context"
	"database/sql"
	"time"
)

// PostgresTxChecker is the cold tier of transaction deduplication. The
// engine consults it only on an LRU miss.
type PostgresTxChecker struct {
	db *sql.DB
}

func NewPostgresTxChecker(db *sql.DB) *PostgresTxChecker {
	return &PostgresTxChecker{db: db}
}

// HasTransaction reports whether the transaction id was already applied
// in a persisted block.
func (c *PostgresTxChecker) HasTransaction(txID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var exists int
	err := c.db.QueryRowContext(ctx,
		`SELECT 1 FROM chain.transactions WHERE tx_id = $1 LIMIT 1`, txID,
	).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentTxIDs returns the most recently applied transaction ids, used
// to warm the engine's duplicate LRU on startup.
func (c *PostgresTxChecker) RecentTxIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT tx_id FROM chain.transactions ORDER BY height DESC, order_in_block DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
