package market

import (
	"ChainCore/internal/protocol"
	"ChainCore/internal/state"
)

// Match outcome bits: which sides were removed from the book.
const (
	matchedNone  = 0
	matchedTaker = 1
	matchedMaker = 2
)

// ApplyOrder matches a freshly created limit order against the book and,
// when the order sells a backed asset, against margin calls. Reports
// whether the order was completely filled.
func (e *Engine) ApplyOrder(orderID protocol.OrderID) bool {
	order := e.db.FindLimitOrder(orderID)
	if order == nil {
		panic("FATAL: applying missing limit order")
	}
	sellAsset := order.SellPrice.Base.AssetID
	receiveAsset := order.SellPrice.Quote.AssetID

	// Match against resting limit orders, best maker first. Each fill can
	// delete maker rows, so the book is re-queried every round instead of
	// advancing an iterator.
	finished := false
	for !finished {
		order = e.db.FindLimitOrder(orderID)
		if order == nil {
			return true
		}
		makers := e.db.LimitOrdersSelling(receiveAsset, sellAsset)
		if len(makers) == 0 {
			break
		}
		maker := makers[0]
		// The maker gives receive-asset per sell-asset; trade only while it
		// offers at least the taker's limit.
		if maker.SellPrice.Cmp(order.SellPrice.Invert()) < 0 {
			break
		}
		res := e.matchLimitLimit(orderID, maker.ID, maker.SellPrice)
		finished = res == matchedNone || res&matchedTaker != 0
	}

	// Margin calls buy the debt asset; a surviving order selling a backed
	// asset is a candidate counterparty.
	if e.db.FindLimitOrder(orderID) != nil {
		if bd := e.db.FindBackedData(sellAsset); bd != nil && !bd.HasSettlement() {
			e.CheckCallOrders(sellAsset, true, true)
		}
	}

	return e.db.FindLimitOrder(orderID) == nil
}

// matchLimitLimit fills a taker order against one maker order at the
// maker's price. The smaller side fills completely; its counterparty pays
// the rounded-up conversion so neither order leaks value.
func (e *Engine) matchLimitLimit(takerID, makerID protocol.OrderID, matchPrice protocol.Price) int {
	taker := e.db.FindLimitOrder(takerID)
	maker := e.db.FindLimitOrder(makerID)

	takerForSale := taker.AmountForSale()
	makerForSale := maker.AmountForSale()

	var takerPays, takerReceives protocol.Asset

	if takerForSale.Amount <= makerForSale.MulPrice(matchPrice).Amount {
		// Taker is the smaller side: it receives the truncated conversion
		// and pays only the rounded-up inverse, any dust stays with it and
		// is culled below.
		takerReceives = takerForSale.MulPrice(matchPrice)
		if takerReceives.Amount == 0 {
			// The whole order is dust at this price.
			e.CancelLimitOrder(takerID, true)
			return matchedTaker
		}
		takerPays = takerReceives.MulPriceCeil(matchPrice)
	} else {
		// Maker is the smaller side and empties completely; the taker pays
		// the rounded-up conversion so the maker is not shorted.
		takerReceives = makerForSale
		takerPays = makerForSale.MulPriceCeil(matchPrice)
	}

	result := matchedNone
	if e.FillLimitOrder(takerID, takerPays, takerReceives, true, matchPrice, false) {
		result |= matchedTaker
	}
	if e.FillLimitOrder(makerID, takerReceives, takerPays, true, matchPrice, true) {
		result |= matchedMaker
	}
	return result
}

// matchCallSettle fills a force settlement against a debt position at the
// given price, capped by maxSettlement. Returns the amount of debt asset
// actually settled.
func (e *Engine) matchCallSettle(call *state.CallOrder, settle *state.ForceSettlement, settlePrice protocol.Price, maxSettlement protocol.Asset) protocol.Asset {
	toSettle := settle.Balance
	if maxSettlement.Amount < toSettle.Amount {
		toSettle = maxSettlement
	}
	if call.Debt < toSettle.Amount {
		toSettle = call.DebtAsset()
	}
	if toSettle.Amount <= 0 {
		return protocol.NewAsset(0, settle.Balance.AssetID)
	}

	// Round the payout down in favor of the position.
	callPays := toSettle.MulPrice(settlePrice)
	if callPays.Amount == 0 {
		// Dust request that buys nothing; drop it rather than loop forever.
		e.db.AdjustBalance(settle.Owner, settle.Balance)
		e.db.RemoveForceSettlement(settle.ID)
		return protocol.NewAsset(0, toSettle.AssetID)
	}

	callID := call.ID
	settleID := settle.ID
	e.FillCallOrder(callID, callPays, toSettle, settlePrice, true)
	e.FillSettleOrder(settleID, toSettle, callPays, settlePrice)
	return toSettle
}
