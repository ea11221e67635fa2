package evaluator

import (
	"fmt"

	"github.com/rs/zerolog"

	"ChainCore/internal/market"
	"ChainCore/internal/protocol"
	"ChainCore/internal/state"
)

// Dispatcher runs operations through their two-phase evaluators: a pure
// validation pass against current state, then an apply pass that is not
// expected to fail. The fee is charged between the two, so callers must
// hold an open undo session to roll it back when evaluation rejects a
// later operation of the same transaction.
type Dispatcher struct {
	db  *state.DB
	mkt *market.Engine
	log zerolog.Logger
}

func New(db *state.DB, mkt *market.Engine, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{db: db, mkt: mkt, log: log}
}

// Apply validates, charges the fee for, and applies a single operation.
func (d *Dispatcher) Apply(op protocol.Operation) error {
	if err := op.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op.Type(), err)
	}
	coreFee, err := d.evaluateFee(op)
	if err != nil {
		return fmt.Errorf("%s: %w", op.Type(), err)
	}
	d.payFee(op, coreFee)
	if err := d.evaluate(op); err != nil {
		return fmt.Errorf("%s: %w", op.Type(), err)
	}
	return d.apply(op, coreFee)
}

func (d *Dispatcher) evaluate(op protocol.Operation) error {
	switch o := op.(type) {
	case *protocol.TransferOp:
		return d.evaluateTransfer(o)
	case *protocol.LimitOrderCreateOp:
		return d.evaluateLimitOrderCreate(o)
	case *protocol.LimitOrderCancelOp:
		return d.evaluateLimitOrderCancel(o)
	case *protocol.CallOrderUpdateOp:
		return d.evaluateCallOrderUpdate(o)
	case *protocol.BidCollateralOp:
		return d.evaluateBidCollateral(o)
	case *protocol.AssetCreateOp:
		return d.evaluateAssetCreate(o)
	case *protocol.AssetIssueOp:
		return d.evaluateAssetIssue(o)
	case *protocol.AssetReserveOp:
		return d.evaluateAssetReserve(o)
	case *protocol.AssetFundFeePoolOp:
		return d.evaluateAssetFundFeePool(o)
	case *protocol.AssetUpdateOp:
		return d.evaluateAssetUpdate(o)
	case *protocol.AssetUpdateBackedOp:
		return d.evaluateAssetUpdateBacked(o)
	case *protocol.AssetUpdateFeedProducersOp:
		return d.evaluateAssetUpdateFeedProducers(o)
	case *protocol.AssetPublishFeedOp:
		return d.evaluateAssetPublishFeed(o)
	case *protocol.AssetSettleOp:
		return d.evaluateAssetSettle(o)
	case *protocol.AssetGlobalSettleOp:
		return d.evaluateAssetGlobalSettle(o)
	case *protocol.AssetClaimFeesOp:
		return d.evaluateAssetClaimFees(o)
	case *protocol.AssetClaimPoolOp:
		return d.evaluateAssetClaimPool(o)
	default:
		return fmt.Errorf("no evaluator registered for %s", op.Type())
	}
}

func (d *Dispatcher) apply(op protocol.Operation, coreFee int64) error {
	switch o := op.(type) {
	case *protocol.TransferOp:
		d.applyTransfer(o)
	case *protocol.LimitOrderCreateOp:
		return d.applyLimitOrderCreate(o, coreFee)
	case *protocol.LimitOrderCancelOp:
		d.applyLimitOrderCancel(o)
	case *protocol.CallOrderUpdateOp:
		d.applyCallOrderUpdate(o)
	case *protocol.BidCollateralOp:
		d.applyBidCollateral(o)
	case *protocol.AssetCreateOp:
		d.applyAssetCreate(o)
	case *protocol.AssetIssueOp:
		d.applyAssetIssue(o)
	case *protocol.AssetReserveOp:
		d.applyAssetReserve(o)
	case *protocol.AssetFundFeePoolOp:
		d.applyAssetFundFeePool(o)
	case *protocol.AssetUpdateOp:
		d.applyAssetUpdate(o)
	case *protocol.AssetUpdateBackedOp:
		d.applyAssetUpdateBacked(o)
	case *protocol.AssetUpdateFeedProducersOp:
		d.applyAssetUpdateFeedProducers(o)
	case *protocol.AssetPublishFeedOp:
		d.applyAssetPublishFeed(o)
	case *protocol.AssetSettleOp:
		d.applyAssetSettle(o)
	case *protocol.AssetGlobalSettleOp:
		d.applyAssetGlobalSettle(o)
	case *protocol.AssetClaimFeesOp:
		d.applyAssetClaimFees(o)
	case *protocol.AssetClaimPoolOp:
		d.applyAssetClaimPool(o)
	default:
		panic(fmt.Sprintf("FATAL: no apply handler for %s", op.Type()))
	}
	return nil
}

// evaluateFee checks the declared fee covers the schedule and the payer can
// fund it, and returns its core-asset equivalent. A fee in another asset is
// converted at the asset's core exchange rate and drawn from its fee pool.
func (d *Dispatcher) evaluateFee(op protocol.Operation) (int64, error) {
	fee := op.OpFee()
	payer := op.FeePayer()
	if _, err := d.db.GetAccount(payer); err != nil {
		return 0, err
	}
	required := d.db.GlobalProperties().Parameters.CurrentFees.RequiredFee(op.Type())

	coreFee := fee.Amount
	if fee.AssetID != protocol.CoreAssetID {
		a, err := d.db.GetAsset(fee.AssetID)
		if err != nil {
			return 0, fmt.Errorf("fee asset: %w", err)
		}
		coreFee = fee.MulPrice(a.Options.CoreExchangeRate).Amount
		if pool := d.db.DynamicData(fee.AssetID).FeePool; pool < coreFee {
			return 0, fmt.Errorf("fee pool of asset %d holds %d, need %d", fee.AssetID, pool, coreFee)
		}
	}
	if coreFee < required.Amount {
		return 0, fmt.Errorf("fee %d (core equivalent) below required %d", coreFee, required.Amount)
	}
	if have := d.db.GetBalance(payer, fee.AssetID); have.Amount < fee.Amount {
		return 0, fmt.Errorf("account %d holds %d of asset %d, fee needs %d",
			payer, have.Amount, fee.AssetID, fee.Amount)
	}
	return coreFee, nil
}

// payFee debits the fee and books its core equivalent into the network's
// accumulated fees. Limit order creation skips the network credit because
// its fee is deferred on the order itself until it fills or cancels.
func (d *Dispatcher) payFee(op protocol.Operation, coreFee int64) {
	fee := op.OpFee()
	payer := op.FeePayer()

	d.db.AdjustBalance(payer, fee.Neg())
	if fee.AssetID != protocol.CoreAssetID {
		d.db.ModifyDynamicData(fee.AssetID, func(dd *state.AssetDynamicData) {
			dd.AccumulatedFees += fee.Amount
			dd.FeePool -= coreFee
		})
	}
	d.db.ModifyAccount(payer, func(a *state.Account) {
		a.LifetimeFeesPaid += coreFee
	})
	if op.Type() == protocol.OpLimitOrderCreate {
		return
	}
	d.db.ModifyDynamicGlobal(func(g *state.DynamicGlobalProperties) {
		g.AccumulatedFees += coreFee
	})
}

func (d *Dispatcher) requireBalance(account protocol.AccountID, amount protocol.Asset) error {
	if have := d.db.GetBalance(account, amount.AssetID); have.Amount < amount.Amount {
		return fmt.Errorf("account %d holds %d of asset %d, need %d",
			account, have.Amount, amount.AssetID, amount.Amount)
	}
	return nil
}
