package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// BlockLogWriter writes blocks, their transactions and the virtual
// operations they generated to Postgres using multi-row INSERT.
// Switch to pgx CopyFrom if block sizes ever make this the bottleneck.
type BlockLogWriter struct {
	db           *sql.DB
	batchSize    int
	flushTimeout time.Duration
}

// BlockRow is a row in chain.blocks.
type BlockRow struct {
	Height    uint64
	Timestamp int64
	Producer  uint64
	PrevHash  string
	StateHash string
	TxCount   int
	Raw       []byte // JSON-encoded block
}

// TxRow is a row in chain.transactions.
type TxRow struct {
	TxID       string
	Height     uint64
	OrderInBlk int
	Expiration int64
	OpCount    int
}

// OperationRow is a row in chain.operations, covering both the
// operations carried by transactions and the virtual ones the matching
// engine generated. Virtual rows have an empty tx id.
type OperationRow struct {
	Height     uint64
	TxID       string
	OrderInBlk int
	OpType     string
	Account    uint64
	Payload    []byte // operation envelope JSON
	Virtual    bool
}

// HistoryRow is a row in chain.account_history: one entry per account
// an operation touched, pointing back to the operation row.
type HistoryRow struct {
	Account    uint64
	Height     uint64
	OrderInBlk int
}

func NewBlockLogWriter(db *sql.DB, batchSize int, flushTimeout time.Duration) *BlockLogWriter {
	return &BlockLogWriter{
		db:           db,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
	}
}

// execer lets the same statements run against the pool or inside a
// surrounding transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// WriteBlock writes one block row. Conflicting heights are ignored so
// replays after a crash stay idempotent.
func (w *BlockLogWriter) WriteBlock(ctx context.Context, b BlockRow) error {
	return w.WriteBlockTx(ctx, w.db, b)
}

func (w *BlockLogWriter) WriteBlockTx(ctx context.Context, ex execer, b BlockRow) error {
	_, err := ex.ExecContext(ctx, `INSERT INTO chain.blocks
		(height, timestamp, producer, prev_hash, state_hash, tx_count, raw)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (height) DO NOTHING`,
		b.Height, b.Timestamp, b.Producer, b.PrevHash, b.StateHash, b.TxCount, b.Raw,
	)
	return err
}

// WriteTxBatch writes the transaction rows of one block.
func (w *BlockLogWriter) WriteTxBatch(ctx context.Context, txs []TxRow) error {
	return w.WriteTxBatchTx(ctx, w.db, txs)
}

func (w *BlockLogWriter) WriteTxBatchTx(ctx context.Context, ex execer, txs []TxRow) error {
	if len(txs) == 0 {
		return nil
	}

	query := `INSERT INTO chain.transactions
		(tx_id, height, order_in_block, expiration, op_count)
		VALUES `

	values := make([]string, 0, len(txs))
	args := make([]interface{}, 0, len(txs)*5)
	for i, tx := range txs {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, tx.TxID, tx.Height, tx.OrderInBlk, tx.Expiration, tx.OpCount)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (tx_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteOperationBatch writes operation rows, real and virtual.
func (w *BlockLogWriter) WriteOperationBatch(ctx context.Context, ops []OperationRow) error {
	return w.WriteOperationBatchTx(ctx, w.db, ops)
}

func (w *BlockLogWriter) WriteOperationBatchTx(ctx context.Context, ex execer, ops []OperationRow) error {
	if len(ops) == 0 {
		return nil
	}

	query := `INSERT INTO chain.operations
		(height, tx_id, order_in_block, op_type, account, payload, virtual)
		VALUES `

	values := make([]string, 0, len(ops))
	args := make([]interface{}, 0, len(ops)*7)
	for i, op := range ops {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args, op.Height, op.TxID, op.OrderInBlk, op.OpType, op.Account, op.Payload, op.Virtual)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (height, order_in_block) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteHistoryBatch writes account-history index rows.
func (w *BlockLogWriter) WriteHistoryBatch(ctx context.Context, rows []HistoryRow) error {
	return w.WriteHistoryBatchTx(ctx, w.db, rows)
}

func (w *BlockLogWriter) WriteHistoryBatchTx(ctx context.Context, ex execer, rows []HistoryRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO chain.account_history
		(account, height, order_in_block)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*3)
	for i, r := range rows {
		base := i * 3
		values = append(values, fmt.Sprintf("($%d, $%d, $%d)", base+1, base+2, base+3))
		args = append(args, r.Account, r.Height, r.OrderInBlk)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (account, height, order_in_block) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}
