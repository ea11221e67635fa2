package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"ChainCore/internal/protocol"
)

// BlockInput mirrors the data the trade projection needs from one
// applied block. The orchestrator bridges between core.Output and this.
type BlockInput struct {
	Height     uint64
	BlockTime  int64
	VirtualOps []protocol.Operation
}

// Worker maintains the trade-history projection. It hangs off the
// notify channel, which drops under pressure, so the projection is
// eventually consistent; Rebuild reconstructs it from the block log.
type Worker struct {
	db        *sql.DB
	inputChan <-chan BlockInput
	lastHgt   uint64
}

func NewWorker(db *sql.DB, inputChan <-chan BlockInput) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection loop. Blocks until ctx is cancelled or the
// input channel closes.
func (pw *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case in, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processBlock(ctx, in); err != nil {
				log.Printf("WARN: trade projection failed at height=%d: %v", in.Height, err)
				// The projection can be rebuilt from the block log, so keep going.
			}

			pw.lastHgt = in.Height
		}
	}
}

func (pw *Worker) processBlock(ctx context.Context, in BlockInput) error {
	trades := PairFills(in.Height, in.BlockTime, in.VirtualOps)
	if len(trades) == 0 {
		return nil
	}

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, t := range trades {
		if err := insertTrade(ctx, tx, t); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
	}
	return tx.Commit()
}

func insertTrade(ctx context.Context, tx *sql.Tx, t Trade) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chain.fills
			(height, trade_in_block, block_time, maker, taker,
			 maker_order, taker_order, base_asset, quote_asset,
			 base_amount, quote_amount, maker_fee, taker_fee)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (height, trade_in_block) DO NOTHING
	`, t.Height, t.TradeInBlock, t.BlockTime, uint64(t.Maker), uint64(t.Taker),
		t.MakerOrder, t.TakerOrder, uint64(t.BaseAsset), uint64(t.QuoteAsset),
		t.BaseAmount, t.QuoteAmount, t.MakerFee, t.TakerFee)
	return err
}

// Rebuild reconstructs the trade projection from the block log.
// Dropped notifications only ever leave gaps, so the rebuild truncates
// chain.fills and replays the stored virtual fills block by block.
func Rebuild(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `TRUNCATE chain.fills`); err != nil {
		return fmt.Errorf("truncate fills: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT o.height, b.timestamp, o.payload
		FROM chain.operations o
		JOIN chain.blocks b ON b.height = o.height
		WHERE o.virtual AND o.op_type = $1
		ORDER BY o.height, o.order_in_block
	`, string(protocol.OpFillOrder))
	if err != nil {
		return fmt.Errorf("load fills: %w", err)
	}
	defer rows.Close()

	w := &Worker{db: db}
	var (
		cur       BlockInput
		rebuilt   int
		flushCur  = func() error {
			if cur.Height == 0 {
				return nil
			}
			if err := w.processBlock(ctx, cur); err != nil {
				return fmt.Errorf("replay height %d: %w", cur.Height, err)
			}
			rebuilt++
			return nil
		}
	)
	for rows.Next() {
		var height uint64
		var blockTime int64
		var payload []byte
		if err := rows.Scan(&height, &blockTime, &payload); err != nil {
			return err
		}
		op, err := protocol.UnmarshalStoredOperation(payload)
		if err != nil {
			return fmt.Errorf("decode fill at height %d: %w", height, err)
		}
		if height != cur.Height {
			if err := flushCur(); err != nil {
				return err
			}
			cur = BlockInput{Height: height, BlockTime: blockTime}
		}
		cur.VirtualOps = append(cur.VirtualOps, op)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if err := flushCur(); err != nil {
		return err
	}

	log.Printf("INFO: trade projection rebuild complete (%d blocks)", rebuilt)
	return nil
}
