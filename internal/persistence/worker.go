package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"ChainCore/internal/history"
	"ChainCore/internal/observability"
	"ChainCore/internal/protocol"
)

// BlockOutput carries everything one applied block writes to Postgres.
// The orchestrator (cmd/main.go) bridges between core.Output and this,
// keeping the packages free of an import cycle.
type BlockOutput struct {
	Block BlockRow
	Txs   []TxRow
	Ops   []OperationRow
	Hist  []HistoryRow
}

// RowsFromBlock flattens an applied block into its persistence rows.
// Operation rows are numbered in block order with the virtual ops after
// every transaction-carried op, matching the order the engine ran them.
func RowsFromBlock(blk protocol.Block, virtuals []protocol.Operation, prevHash, stateHash string) (BlockOutput, error) {
	raw, err := json.Marshal(blk)
	if err != nil {
		return BlockOutput{}, fmt.Errorf("marshal block %d: %w", blk.Height, err)
	}
	out := BlockOutput{
		Block: BlockRow{
			Height:    blk.Height,
			Timestamp: blk.Timestamp,
			Producer:  uint64(blk.Producer),
			PrevHash:  prevHash,
			StateHash: stateHash,
			TxCount:   len(blk.Transactions),
			Raw:       raw,
		},
	}

	order := 0
	for i := range blk.Transactions {
		tx := &blk.Transactions[i]
		out.Txs = append(out.Txs, TxRow{
			TxID:       tx.ID,
			Height:     blk.Height,
			OrderInBlk: i,
			Expiration: tx.Expiration,
			OpCount:    len(tx.Operations),
		})
		for _, op := range tx.Operations {
			payload, err := protocol.MarshalOperation(op)
			if err != nil {
				return BlockOutput{}, err
			}
			out.Ops = append(out.Ops, OperationRow{
				Height:     blk.Height,
				TxID:       tx.ID,
				OrderInBlk: order,
				OpType:     string(op.Type()),
				Account:    uint64(op.FeePayer()),
				Payload:    payload,
			})
			out.appendHistory(blk.Height, order, op)
			order++
		}
	}
	for _, op := range virtuals {
		payload, err := protocol.MarshalOperation(op)
		if err != nil {
			return BlockOutput{}, err
		}
		out.Ops = append(out.Ops, OperationRow{
			Height:     blk.Height,
			OrderInBlk: order,
			OpType:     string(op.Type()),
			Account:    uint64(op.FeePayer()),
			Payload:    payload,
			Virtual:    true,
		})
		out.appendHistory(blk.Height, order, op)
		order++
	}
	return out, nil
}

// appendHistory adds one account-history index row per account the
// operation touched, not just the fee payer.
func (out *BlockOutput) appendHistory(height uint64, order int, op protocol.Operation) {
	for _, id := range history.ImpactedAccounts(op) {
		out.Hist = append(out.Hist, HistoryRow{
			Account:    uint64(id),
			Height:     height,
			OrderInBlk: order,
		})
	}
}

// Worker drains the persist channel and batch-writes to Postgres. The
// persist channel uses BLOCKING sends from the engine, so if this
// worker falls behind the engine stalls, guaranteeing no block is lost.
type Worker struct {
	writer       *BlockLogWriter
	inputChan    <-chan BlockOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan BlockOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewBlockLogWriter(db, batchSize, flushTimeout),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Run starts the worker loop. It batches incoming blocks and flushes
// either when the batch is full or the flush timeout expires. Blocks
// until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]BlockOutput, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			batch = append(batch, out)
			if len(batch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					log.Printf("ERROR: batch flush failed after retries: %v", err)
				}
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					log.Printf("ERROR: timeout flush failed after retries: %v", err)
				}
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry attempts to flush with exponential backoff. The worker
// never drops blocks: it retries until the write succeeds or the
// context is cancelled, and even then attempts one final flush.
func (w *Worker) flushWithRetry(ctx context.Context, batch []BlockOutput) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, blocks=%d)",
				attempt, backoff, len(batch))
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				finalErr := w.flush(context.Background(), batch)
				if finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []BlockOutput) error {
	start := time.Now()

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	var blocks, ops int
	var lastHeight uint64
	for _, out := range batch {
		if err := w.writer.WriteBlockTx(ctx, tx, out.Block); err != nil {
			if w.metrics != nil {
				w.metrics.PersistErrors.WithLabelValues("write_block").Inc()
			}
			return err
		}
		if err := w.writer.WriteTxBatchTx(ctx, tx, out.Txs); err != nil {
			if w.metrics != nil {
				w.metrics.PersistErrors.WithLabelValues("write_txs").Inc()
			}
			return err
		}
		if err := w.writer.WriteOperationBatchTx(ctx, tx, out.Ops); err != nil {
			if w.metrics != nil {
				w.metrics.PersistErrors.WithLabelValues("write_ops").Inc()
			}
			return err
		}
		if err := w.writer.WriteHistoryBatchTx(ctx, tx, out.Hist); err != nil {
			if w.metrics != nil {
				w.metrics.PersistErrors.WithLabelValues("write_history").Inc()
			}
			return err
		}
		blocks++
		ops += len(out.Ops)
		lastHeight = out.Block.Height
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBlocksWritten.Add(float64(blocks))
		w.metrics.PersistOpsWritten.Add(float64(ops))
		w.metrics.PersistLastHeight.Set(float64(lastHeight))
	}
	return nil
}

// GetWriter exposes the underlying writer.
func (w *Worker) GetWriter() *BlockLogWriter {
	return w.writer
}
