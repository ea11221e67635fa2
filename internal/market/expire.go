package market

import (
	"ChainCore/internal/protocol"
	"ChainCore/internal/state"
)

// ClearExpiredOrders runs the per-block housekeeping: cancel limit orders
// past their expiration and execute force settlements that have matured.
func (e *Engine) ClearExpiredOrders(now int64) {
	for _, order := range e.db.ExpiredLimitOrders(now) {
		e.log.Debug().Uint64("order_id", uint64(order.ID)).Msg("order expired")
		e.CancelLimitOrder(order.ID, true)
	}
	e.processSettlements(now)
}

// processSettlements executes matured force settlements against either
// the settlement fund (for globally settled assets) or the least
// collateralized positions, respecting the per-interval volume cap.
func (e *Engine) processSettlements(now int64) {
	for _, bd := range e.db.BackedAssets() {
		assetID := bd.ID
		for {
			queue := e.db.ForceSettlementsByDate(assetID)
			if len(queue) == 0 || queue[0].SettlementDate > now {
				break
			}
			settle := queue[0]
			if !e.executeSettlement(settle) {
				break
			}
		}
	}
}

// executeSettlement fills one matured settlement as far as the current
// rules allow. Reports false when the asset can accept no more settlement
// this interval so the caller stops scanning its queue.
func (e *Engine) executeSettlement(settle *state.ForceSettlement) bool {
	assetID := settle.Balance.AssetID
	bd := e.db.BackedData(assetID)

	if bd.HasSettlement() {
		e.settleAgainstFund(settle.Owner, settle.Balance)
		e.db.RemoveForceSettlement(settle.ID)
		return true
	}

	if !bd.HasCurrentFeed() {
		// No usable price: cancel the request and hand the balance back.
		e.db.AdjustBalance(settle.Owner, settle.Balance)
		e.db.RemoveForceSettlement(settle.ID)
		return true
	}

	dyn := e.db.DynamicData(assetID)
	maxVolume := bd.MaxForceSettleVolume(dyn.CurrentSupply)
	remainingCap := maxVolume - bd.ForceSettledVolume
	if remainingCap <= 0 {
		return false
	}

	calls := e.db.CallOrdersByCollateralization(assetID)
	if len(calls) == 0 {
		// Nothing to settle against; without open positions the supply
		// must be zero, so a pending request here is state corruption.
		panic("FATAL: force settlement pending with no debt positions")
	}

	// Settle at the feed discounted by the configured offset, against the
	// least collateralized position.
	offset := protocol.Ratio{
		Numerator:   int64(protocol.Percent100) - int64(bd.Options.ForceSettlementOffsetPercent),
		Denominator: int64(protocol.Percent100),
	}
	settlePrice := bd.CurrentFeed.SettlementPrice.MulRatio(offset)

	settled := e.matchCallSettle(calls[0], settle, settlePrice, protocol.NewAsset(remainingCap, assetID))
	if settled.Amount > 0 {
		e.db.ModifyBackedData(assetID, func(b *state.BackedAssetData) {
			b.ForceSettledVolume += settled.Amount
		})
	}
	return e.db.FindForceSettlement(settle.ID) == nil || settled.Amount > 0
}

// settleAgainstFund redeems backed-asset holdings directly from the
// settlement fund at the frozen settlement price.
func (e *Engine) settleAgainstFund(owner protocol.AccountID, amount protocol.Asset) {
	assetID := amount.AssetID
	bd := e.db.BackedData(assetID)
	dyn := e.db.DynamicData(assetID)

	toSettle := amount
	if toSettle.Amount > dyn.CurrentSupply {
		panic("FATAL: settling more than the current supply")
	}

	var payout int64
	if toSettle.Amount == dyn.CurrentSupply {
		// The last redeemer takes the whole remaining fund so no dust is
		// stranded by rounding.
		payout = bd.SettlementFund
	} else {
		payout = toSettle.MulPrice(bd.SettlementPrice).Amount
		if payout > bd.SettlementFund {
			payout = bd.SettlementFund
		}
	}

	e.db.ModifyDynamicData(assetID, func(d *state.AssetDynamicData) {
		d.CurrentSupply -= toSettle.Amount
	})
	e.db.ModifyBackedData(assetID, func(b *state.BackedAssetData) {
		b.SettlementFund -= payout
	})
	if payout > 0 {
		e.db.AdjustBalance(owner, protocol.NewAsset(payout, bd.Options.ShortBackingAsset))
	}

	e.onVirtual(&protocol.FillOrderOp{
		OrderID:   amount.AssetID.Object(),
		Account:   owner,
		Pays:      toSettle,
		Receives:  protocol.NewAsset(payout, bd.Options.ShortBackingAsset),
		FillPrice: bd.SettlementPrice,
		IsMaker:   false,
	})
}

// InstantSettle redeems against the settlement fund for an asset already
// under global settlement, called directly from the settle evaluator.
func (e *Engine) InstantSettle(owner protocol.AccountID, amount protocol.Asset) {
	e.settleAgainstFund(owner, amount)
}
