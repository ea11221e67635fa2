package core

import (
	"encoding/hex"
	"fmt"
	"time"

	"ChainCore/internal/evaluator"
	"ChainCore/internal/maint"
	"ChainCore/internal/market"
	"ChainCore/internal/observability"
	"ChainCore/internal/protocol"
	"ChainCore/internal/state"

	"github.com/rs/zerolog"
)

// Engine is the single-threaded block processor. It owns the object
// store and is the only writer; everything downstream consumes Output
// records emitted per block.
type Engine struct {
	db      *state.DB
	mkt     *market.Engine
	disp    *evaluator.Dispatcher
	maint   *maint.Engine
	hasher  *StateHasher
	dedup   *TxDedup
	link    *BlockLinkValidator
	checker *state.InvariantChecker
	metrics *observability.Metrics
	log     zerolog.Logger

	persistChan chan<- Output
	notifyChan  chan<- Output

	// virtual operations generated while applying the current block
	virtuals []protocol.Operation
}

// Output carries one applied block plus everything derived from it.
type Output struct {
	Block      protocol.Block
	VirtualOps []protocol.Operation
	PrevHash   string
	StateHash  string
}

func NewEngine(
	db *state.DB,
	dbChecker DBTxChecker,
	persistChan, notifyChan chan<- Output,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Engine {
	e := &Engine{
		db:          db,
		hasher:      NewStateHasher(),
		dedup:       NewTxDedup(1_000_000, dbChecker),
		link:        NewBlockLinkValidator(),
		checker:     state.NewInvariantChecker(db),
		metrics:     metrics,
		log:         log.With().Str("component", "core").Logger(),
		persistChan: persistChan,
		notifyChan:  notifyChan,
	}
	e.mkt = market.New(db, log, e.recordVirtual)
	e.disp = evaluator.New(db, e.mkt, log)
	e.maint = maint.New(db, e.mkt, log)
	return e
}

func (e *Engine) recordVirtual(op protocol.Operation) {
	e.virtuals = append(e.virtuals, op)
	if e.metrics != nil {
		e.metrics.VirtualOps.WithLabelValues(string(op.Type())).Inc()
	}
}

// ApplyBlock runs the full per-block pipeline: linkage checks, every
// transaction under its own undo session, producer pay, expirations,
// maintenance when due, the invariant audit, then the state hash and
// output emit. A failing transaction rejects the whole block and rolls
// every side effect back.
func (e *Engine) ApplyBlock(blk *protocol.Block) error {
	start := time.Now()

	if err := e.link.ValidateLink(blk.Height, blk.Timestamp); err != nil {
		e.rejectBlock(blk, "linkage", err)
		return err
	}
	prev := e.hasher.GetPrevHash()
	prevHex := hex.EncodeToString(prev[:])
	if blk.PrevHash != "" && blk.PrevHash != prevHex {
		err := fmt.Errorf("prev hash mismatch at height %d: block links %s, head is %s",
			blk.Height, blk.PrevHash, prevHex)
		e.rejectBlock(blk, "prev_hash", err)
		return err
	}

	e.virtuals = nil
	session := e.db.StartUndoSession()

	e.db.ModifyDynamicGlobal(func(d *state.DynamicGlobalProperties) {
		d.HeadBlockNumber = blk.Height
		d.Time = blk.Timestamp
	})

	applied := make([]string, 0, len(blk.Transactions))
	for i := range blk.Transactions {
		tx := &blk.Transactions[i]
		switch err := e.applyTransaction(tx, blk.Timestamp); {
		case err == errDuplicateTx:
			continue
		case err != nil:
			session.Undo()
			e.virtuals = nil
			e.rejectBlock(blk, "transaction", err)
			return fmt.Errorf("block %d rejected: tx %s: %w", blk.Height, tx.ID, err)
		default:
			applied = append(applied, tx.ID)
		}
	}

	e.payProducer(blk.Producer)
	e.mkt.ClearExpiredOrders(blk.Timestamp)

	if blk.Timestamp >= e.db.DynamicGlobal().NextMaintenanceTime {
		maintStart := time.Now()
		e.maint.Run()
		if e.metrics != nil {
			e.metrics.MaintenanceRuns.Inc()
			e.metrics.MaintenanceDur.Observe(time.Since(maintStart).Seconds())
		}
	}

	if err := e.checker.CheckAll(); err != nil {
		// Corrupt consensus state cannot be recovered from here.
		panic(fmt.Sprintf("FATAL: invariant violation at height %d: %v", blk.Height, err))
	}

	session.Commit()

	hashStart := time.Now()
	digest := ComputeStateDigest(e.db)
	stateHash := e.hasher.ComputeHash(blk.Height, digest)
	if e.metrics != nil {
		e.metrics.StateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	for _, id := range applied {
		e.dedup.MarkApplied(id)
	}
	e.link.Advance(blk.Height, blk.Timestamp)

	virtualCount := len(e.virtuals)
	e.emit(Output{
		Block:      *blk,
		VirtualOps: e.virtuals,
		PrevHash:   prevHex,
		StateHash:  hex.EncodeToString(stateHash[:]),
	})
	e.virtuals = nil

	if e.metrics != nil {
		e.metrics.BlocksApplied.Inc()
		e.metrics.HeadBlockHeight.Set(float64(blk.Height))
		e.metrics.BlockApplyDur.Observe(time.Since(start).Seconds())
	}
	e.log.Debug().
		Uint64("height", blk.Height).
		Int("txs", len(applied)).
		Int("virtual_ops", virtualCount).
		Msg("block applied")
	return nil
}

var errDuplicateTx = fmt.Errorf("duplicate transaction")

func (e *Engine) applyTransaction(tx *protocol.Transaction, blockTime int64) error {
	if tx.Expiration != 0 && tx.Expiration < blockTime {
		if e.metrics != nil {
			e.metrics.TxRejected.WithLabelValues("expired").Inc()
		}
		return fmt.Errorf("transaction %s expired at %d, block time %d", tx.ID, tx.Expiration, blockTime)
	}
	if e.dedup.IsDuplicate(tx.ID) {
		if e.metrics != nil {
			e.metrics.TxRejected.WithLabelValues("duplicate").Inc()
		}
		return errDuplicateTx
	}
	if err := tx.Validate(); err != nil {
		if e.metrics != nil {
			e.metrics.TxRejected.WithLabelValues("malformed").Inc()
		}
		return err
	}

	txSession := e.db.StartUndoSession()
	for _, op := range tx.Operations {
		if err := e.disp.Apply(op); err != nil {
			txSession.Undo()
			if e.metrics != nil {
				e.metrics.TxRejected.WithLabelValues("evaluation").Inc()
			}
			return err
		}
		if e.metrics != nil {
			e.metrics.OpsApplied.WithLabelValues(string(op.Type())).Inc()
		}
	}
	txSession.Commit()
	if e.metrics != nil {
		e.metrics.TxApplied.Inc()
	}
	return nil
}

// ValidateTransaction dry-runs a transaction against head state and
// rolls everything back. Used for mempool admission.
func (e *Engine) ValidateTransaction(tx *protocol.Transaction) error {
	if e.dedup.IsDuplicate(tx.ID) {
		return errDuplicateTx
	}
	if err := tx.Validate(); err != nil {
		return err
	}
	session := e.db.StartUndoSession()
	defer session.Undo()
	for _, op := range tx.Operations {
		if err := e.disp.Apply(op); err != nil {
			return err
		}
	}
	return nil
}

// payProducer moves the per-block pay out of the accrued budget. An
// unknown producer forfeits the pay for this slot.
func (e *Engine) payProducer(producer protocol.ValidatorID) {
	pay := e.db.GlobalProperties().Parameters.ProducerPayPerBlock
	if budget := e.db.DynamicGlobal().ProducerBudget; pay > budget {
		pay = budget
	}
	if pay <= 0 {
		return
	}
	if e.db.FindValidator(producer) == nil {
		return
	}
	e.db.ModifyDynamicGlobal(func(d *state.DynamicGlobalProperties) {
		d.ProducerBudget -= pay
	})
	e.db.ModifyValidator(producer, func(v *state.Validator) {
		v.PayBalance += pay
	})
}

func (e *Engine) rejectBlock(blk *protocol.Block, reason string, err error) {
	if e.metrics != nil {
		e.metrics.BlocksRejected.WithLabelValues(reason).Inc()
	}
	e.log.Warn().
		Uint64("height", blk.Height).
		Str("reason", reason).
		Err(err).
		Msg("block rejected")
}

func (e *Engine) emit(out Output) {
	if e.persistChan != nil {
		select {
		case e.persistChan <- out:
		default:
			// Persistence is the durability path so the engine waits.
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- out
		}
	}
	if e.notifyChan != nil {
		select {
		case e.notifyChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.NotifyDrops.Inc()
			}
		}
	}
}

// Head returns the current head height and state hash.
func (e *Engine) Head() (uint64, string) {
	prev := e.hasher.GetPrevHash()
	return e.link.NextHeight() - 1, hex.EncodeToString(prev[:])
}

// Restore primes the engine from persisted head state during recovery.
// txIDs warm the duplicate LRU with the most recent transaction ids.
func (e *Engine) Restore(headHeight uint64, headTime int64, headHash [32]byte, txIDs []string) {
	e.link.Restore(headHeight, headTime)
	e.hasher.SetPrevHash(headHash)
	e.dedup.Warm(txIDs)
}

// DB exposes the object store for read-only query serving.
func (e *Engine) DB() *state.DB {
	return e.db
}

// Dedup exposes duplicate-tracking counters.
func (e *Engine) Dedup() *TxDedup {
	return e.dedup
}
