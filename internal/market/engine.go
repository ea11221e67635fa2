package market

import (
	"fmt"

	"github.com/rs/zerolog"

	"ChainCore/internal/protocol"
	"ChainCore/internal/state"
)

// Engine runs all matching over the shared object store. It is called
// synchronously from the evaluators and from block housekeeping; it never
// runs concurrently with itself.
type Engine struct {
	db  *state.DB
	log zerolog.Logger

	// onVirtual receives fill and bid-execution records in the exact order
	// they are produced. Never nil after New.
	onVirtual func(protocol.Operation)
}

func New(db *state.DB, log zerolog.Logger, onVirtual func(protocol.Operation)) *Engine {
	if onVirtual == nil {
		onVirtual = func(protocol.Operation) {}
	}
	return &Engine{db: db, log: log, onVirtual: onVirtual}
}

// marketFee computes the issuer's cut of an amount received in a fill,
// rounded up and capped by the configured maximum.
func (e *Engine) marketFee(recv protocol.Asset) protocol.Asset {
	a := e.db.MustAsset(recv.AssetID)
	if !a.FlagSet(protocol.FlagChargeMarketFee) || a.Options.MarketFeePercent == 0 {
		return protocol.NewAsset(0, recv.AssetID)
	}
	fee := protocol.MulDivCeil(recv.Amount, int64(a.Options.MarketFeePercent), int64(protocol.Percent100))
	if a.Options.MaxMarketFee > 0 && fee > a.Options.MaxMarketFee {
		fee = a.Options.MaxMarketFee
	}
	if fee > recv.Amount {
		fee = recv.Amount
	}
	return protocol.NewAsset(fee, recv.AssetID)
}

// payMarketFee books a collected fee into the asset's accumulated fees.
func (e *Engine) payMarketFee(fee protocol.Asset) {
	if fee.Amount == 0 {
		return
	}
	e.db.ModifyDynamicData(fee.AssetID, func(d *state.AssetDynamicData) {
		d.AccumulatedFees += fee.Amount
	})
}

// FillLimitOrder applies one side of a match to a resting or incoming
// limit order. Reports true when the order was removed from the book.
func (e *Engine) FillLimitOrder(orderID protocol.OrderID, pays, receives protocol.Asset, cullIfSmall bool, fillPrice protocol.Price, isMaker bool) bool {
	order, err := e.db.GetLimitOrder(orderID)
	if err != nil {
		panic("FATAL: " + err.Error())
	}
	if pays.AssetID != order.SellPrice.Base.AssetID || pays.Amount <= 0 || pays.Amount > order.ForSale {
		panic(fmt.Sprintf("FATAL: bad limit fill: order %d pays %s of %d for sale", orderID, pays, order.ForSale))
	}

	fee := e.marketFee(receives)
	e.payMarketFee(fee)
	e.db.AdjustBalance(order.Seller, receives.Sub(fee))

	if pays.AssetID == protocol.CoreAssetID {
		e.db.ModifyAccount(order.Seller, func(a *state.Account) {
			a.TotalCoreInOrders -= pays.Amount
		})
	}

	e.onVirtual(&protocol.FillOrderOp{
		OrderID:   orderID.Object(),
		Account:   order.Seller,
		Pays:      pays,
		Receives:  receives,
		Fee:       fee,
		FillPrice: fillPrice,
		IsMaker:   isMaker,
	})

	if pays.Amount == order.ForSale {
		e.collectDeferredFee(order)
		e.db.RemoveLimitOrder(orderID)
		return true
	}

	e.db.ModifyLimitOrder(orderID, func(o *state.LimitOrder) {
		o.ForSale -= pays.Amount
	})

	if cullIfSmall {
		return e.cullIfSmall(orderID)
	}
	return false
}

// cullIfSmall cancels an order whose remainder can no longer buy a single
// unit at its own price. Reports true when the order was removed.
func (e *Engine) cullIfSmall(orderID protocol.OrderID) bool {
	order := e.db.FindLimitOrder(orderID)
	if order == nil {
		return true
	}
	if order.AmountToReceive().Amount != 0 {
		return false
	}
	e.log.Debug().
		Uint64("order_id", uint64(order.ID)).
		Int64("remainder", order.ForSale).
		Msg("culling dust order")
	e.CancelLimitOrder(orderID, true)
	return true
}

// CancelLimitOrder refunds the unsold remainder (and, when requested, the
// deferred fee) to the seller and deletes the order.
func (e *Engine) CancelLimitOrder(orderID protocol.OrderID, refundDeferredFee bool) {
	order, err := e.db.GetLimitOrder(orderID)
	if err != nil {
		panic("FATAL: " + err.Error())
	}

	refund := order.AmountForSale()
	e.db.AdjustBalance(order.Seller, refund)
	if refund.AssetID == protocol.CoreAssetID {
		e.db.ModifyAccount(order.Seller, func(a *state.Account) {
			a.TotalCoreInOrders -= refund.Amount
		})
	}

	if order.DeferredFee > 0 {
		if refundDeferredFee {
			e.db.AdjustBalance(order.Seller, protocol.CoreAsset(order.DeferredFee))
		} else {
			e.collectDeferredFee(order)
		}
	}
	e.db.RemoveLimitOrder(orderID)
}

// collectDeferredFee hands the order's deferred creation fee to the
// network fee bucket.
func (e *Engine) collectDeferredFee(order *state.LimitOrder) {
	if order.DeferredFee == 0 {
		return
	}
	fee := order.DeferredFee
	e.db.ModifyDynamicGlobal(func(d *state.DynamicGlobalProperties) {
		d.AccumulatedFees += fee
	})
}

// FillCallOrder covers part of a debt position: the position pays
// collateral and retires debt. Reports true when the position closed.
func (e *Engine) FillCallOrder(callID protocol.CallID, pays, receives protocol.Asset, fillPrice protocol.Price, isMaker bool) bool {
	call := e.db.FindCallOrder(callID)
	if call == nil {
		panic(fmt.Sprintf("FATAL: filling missing call order %d", callID))
	}
	if receives.AssetID != call.DebtType || pays.AssetID != call.BackingType {
		panic(fmt.Sprintf("FATAL: call fill assets mismatch: pays %s receives %s", pays, receives))
	}
	if receives.Amount > call.Debt || pays.Amount > call.Collateral {
		panic(fmt.Sprintf("FATAL: call fill exceeds position: pays %s receives %s of debt %d collateral %d",
			pays, receives, call.Debt, call.Collateral))
	}

	// Covered debt leaves circulation.
	e.db.ModifyDynamicData(call.DebtType, func(d *state.AssetDynamicData) {
		d.CurrentSupply -= receives.Amount
	})

	borrower := call.Borrower
	closed := receives.Amount == call.Debt

	if closed {
		remainder := call.Collateral - pays.Amount
		if remainder > 0 {
			e.db.AdjustBalance(borrower, protocol.NewAsset(remainder, call.BackingType))
		}
		e.db.RemoveCallOrder(callID)
	} else {
		mcr := e.currentMCR(call.DebtType)
		e.db.ModifyCallOrder(callID, func(o *state.CallOrder) {
			o.Debt -= receives.Amount
			o.Collateral -= pays.Amount
			o.CallPrice = protocol.CallPrice(o.DebtAsset(), o.CollateralAsset(), mcr)
		})
	}

	e.onVirtual(&protocol.FillOrderOp{
		OrderID:   callID.Object(),
		Account:   borrower,
		Pays:      pays,
		Receives:  receives,
		FillPrice: fillPrice,
		IsMaker:   isMaker,
	})
	return closed
}

// FillSettleOrder redeems part of a pending force settlement: the holder
// gives back debt asset and receives collateral.
func (e *Engine) FillSettleOrder(settleID protocol.SettleID, pays, receives protocol.Asset, fillPrice protocol.Price) bool {
	settle := e.db.FindForceSettlement(settleID)
	if settle == nil {
		panic(fmt.Sprintf("FATAL: filling missing settlement %d", settleID))
	}
	if pays.AssetID != settle.Balance.AssetID || pays.Amount > settle.Balance.Amount {
		panic(fmt.Sprintf("FATAL: settle fill %s exceeds balance %s", pays, settle.Balance))
	}

	fee := e.marketFee(receives)
	e.payMarketFee(fee)
	e.db.AdjustBalance(settle.Owner, receives.Sub(fee))

	e.onVirtual(&protocol.FillOrderOp{
		OrderID:   settleID.Object(),
		Account:   settle.Owner,
		Pays:      pays,
		Receives:  receives,
		Fee:       fee,
		FillPrice: fillPrice,
		IsMaker:   false,
	})

	if pays.Amount == settle.Balance.Amount {
		e.db.RemoveForceSettlement(settleID)
		return true
	}
	e.db.ModifyForceSettlement(settleID, func(s *state.ForceSettlement) {
		s.Balance.Amount -= pays.Amount
	})
	return false
}

// currentMCR returns the live maintenance collateral ratio for a backed
// asset, falling back to the chain default when no feed is current.
func (e *Engine) currentMCR(debtType protocol.AssetID) uint16 {
	bd := e.db.FindBackedData(debtType)
	if bd == nil || bd.CurrentFeed.MaintenanceCollateralRatio == 0 {
		return protocol.DefaultMaintenanceCollateralRatio
	}
	return bd.CurrentFeed.MaintenanceCollateralRatio
}
