package market

import (
	"math/big"

	"ChainCore/internal/protocol"
	"ChainCore/internal/state"
)

// CheckCallOrders scans a backed asset's debt positions, least
// collateralized first, and force-matches any position under the
// maintenance threshold against the best resting offers. It reports
// whether any margin call was filled. With allowBlackSwan set, a position
// that cannot be rescued at the short squeeze bound globally settles the
// asset.
func (e *Engine) CheckCallOrders(assetID protocol.AssetID, allowBlackSwan, forNewLimitOrder bool) bool {
	bd := e.db.FindBackedData(assetID)
	if bd == nil || bd.IsPredictionMarket || bd.HasSettlement() || !bd.HasCurrentFeed() {
		return false
	}
	backing := bd.Options.ShortBackingAsset
	maintColl := bd.CurrentFeed.MaintenanceCollateralization() // backing per debt
	mssp := bd.CurrentFeed.MaxShortSqueezePrice()              // debt per backing
	mcr := bd.CurrentFeed.MaintenanceCollateralRatio

	marginCalled := false
	for {
		calls := e.db.CallOrdersByCollateralization(assetID)
		if len(calls) == 0 {
			break
		}
		call := calls[0]
		collateralization := protocol.Price{Base: call.CollateralAsset(), Quote: call.DebtAsset()}
		if collateralization.Cmp(maintColl) >= 0 {
			break
		}

		// A position whose full debt cannot be bought back with its whole
		// collateral at the squeeze bound is beyond saving.
		if call.DebtAsset().MulPrice(mssp).Amount > call.Collateral {
			if allowBlackSwan {
				e.log.Warn().
					Uint64("asset", uint64(assetID)).
					Uint64("call", uint64(call.ID)).
					Msg("insolvent margin position, globally settling")
				e.GloballySettleAsset(assetID, collateralization.Invert())
				return true
			}
			break
		}

		offers := e.db.LimitOrdersSelling(assetID, backing)
		if len(offers) == 0 {
			break
		}
		offer := offers[0]
		if offer.SellPrice.Cmp(mssp) < 0 {
			// Best offer demands more collateral per debt than the squeeze
			// bound permits; the position stays called but unfilled.
			break
		}
		// An eligible offer executes at the squeeze bound, not at its own
		// price; the seller takes the price improvement.
		matchPrice := mssp

		debtToCover := call.DebtAsset()
		if call.TargetCollateralRatio != nil {
			debtToCover.Amount = maxDebtToCover(call, matchPrice, bd.CurrentFeed.SettlementPrice, mcr)
			if debtToCover.Amount == 0 {
				break
			}
		}

		offerForSale := offer.AmountForSale()
		var callPays, callReceives protocol.Asset
		if debtToCover.Amount > offerForSale.Amount {
			// The offer empties; round its proceeds up.
			callReceives = offerForSale
			callPays = offerForSale.MulPriceCeil(matchPrice)
		} else {
			callReceives = debtToCover
			callPays = debtToCover.MulPriceCeil(matchPrice)
		}
		if callPays.Amount > call.Collateral {
			callPays.Amount = call.Collateral
		}

		marginCalled = true
		offerID := offer.ID
		e.FillCallOrder(call.ID, callPays, callReceives, matchPrice, true)
		e.FillLimitOrder(offerID, callReceives, callPays, true, matchPrice, !forNewLimitOrder)
	}
	return marginCalled
}

// maxDebtToCover computes how much debt a margin call may buy back
// without pushing the position past its target collateral ratio. A
// closed-form estimate with 256-bit intermediates is nudged up until the
// remainder of the position actually satisfies the target.
func maxDebtToCover(call *state.CallOrder, matchPrice, feedPrice protocol.Price, mcr uint16) int64 {
	tcr := *call.TargetCollateralRatio
	if tcr < mcr {
		tcr = mcr
	}

	// Work in debt/backing orientation for both prices.
	if feedPrice.Base.AssetID != call.DebtType {
		feedPrice = feedPrice.Invert()
	}
	if matchPrice.Base.AssetID != call.DebtType {
		matchPrice = matchPrice.Invert()
	}

	target := feedPrice.Invert().MulRatio(protocol.Ratio{
		Numerator:   int64(tcr),
		Denominator: int64(protocol.CollateralRatioDenom),
	})
	collateralization := protocol.Price{Base: call.CollateralAsset(), Quote: call.DebtAsset()}
	if collateralization.Cmp(target) >= 0 {
		return 0
	}

	mpDebt := big.NewInt(matchPrice.Base.Amount)
	mpColl := big.NewInt(matchPrice.Quote.Amount)
	fpDebt := big.NewInt(feedPrice.Base.Amount)
	fpColl := big.NewInt(feedPrice.Quote.Amount)
	debt := big.NewInt(call.Debt)
	collateral := big.NewInt(call.Collateral)
	tcrBig := big.NewInt(int64(tcr))
	denomBig := big.NewInt(int64(protocol.CollateralRatioDenom))

	// Solving (C - x*mpColl/mpDebt)/(D - x) >= (fpColl/fpDebt)*(tcr/denom)
	// for the covered debt x gives
	//   numerator   = mpDebt * (fpColl*debt*tcr - fpDebt*collateral*denom)
	//   denominator = fpColl*mpDebt*tcr - fpDebt*mpColl*denom
	lhs := new(big.Int).Mul(fpColl, mpDebt)
	rhs := new(big.Int).Mul(fpDebt, mpColl)

	num := new(big.Int).Mul(fpColl, debt)
	num.Mul(num, tcrBig)
	tmp := new(big.Int).Mul(fpDebt, collateral)
	tmp.Mul(tmp, denomBig)
	num.Sub(num, tmp)
	num.Mul(num, mpDebt)
	if num.Sign() < 0 {
		return 0
	}

	den := new(big.Int).Mul(lhs, tcrBig)
	tmp.Mul(rhs, denomBig)
	den.Sub(den, tmp)
	if den.Sign() <= 0 {
		return call.Debt
	}

	toCover := new(big.Int).Quo(num, den)
	if toCover.Cmp(debt) >= 0 {
		return call.Debt
	}
	cover := toCover.Int64()

	// The truncation can leave the estimate one or two units short of the
	// target; walk it up until the surviving position clears the bar.
	for cover < call.Debt {
		pays := protocol.NewAsset(cover, call.DebtType).MulPriceCeil(matchPrice)
		if pays.Amount >= call.Collateral {
			return call.Debt
		}
		remaining := protocol.Price{
			Base:  protocol.NewAsset(call.Collateral-pays.Amount, call.BackingType),
			Quote: protocol.NewAsset(call.Debt-cover, call.DebtType),
		}
		if remaining.Cmp(target) >= 0 {
			break
		}
		cover++
	}
	return cover
}

// GloballySettleAsset freezes a backed asset: every debt position is
// closed at the settlement price, seized collateral pools into the
// settlement fund, and further borrowing is refused until revival.
func (e *Engine) GloballySettleAsset(assetID protocol.AssetID, settlePrice protocol.Price) {
	bd := e.db.BackedData(assetID)
	if bd.HasSettlement() {
		panic("FATAL: asset already globally settled")
	}
	if settlePrice.Base.AssetID != assetID {
		settlePrice = settlePrice.Invert()
	}

	var gathered int64
	calls := e.db.CallOrdersByCollateralization(assetID)
	for _, call := range calls {
		pays := call.DebtAsset().MulPrice(settlePrice)
		if pays.Amount > call.Collateral {
			pays.Amount = call.Collateral
		}
		gathered += pays.Amount
		remainder := call.Collateral - pays.Amount
		if remainder > 0 {
			e.db.AdjustBalance(call.Borrower, protocol.NewAsset(remainder, call.BackingType))
		}
		e.db.RemoveCallOrder(call.ID)
	}

	e.db.ModifyBackedData(assetID, func(b *state.BackedAssetData) {
		b.SettlementPrice = settlePrice
		b.SettlementFund = gathered
	})

	e.log.Info().
		Uint64("asset", uint64(assetID)).
		Int64("settlement_fund", gathered).
		Msg("asset globally settled")
}

// ReviveBackedAsset ends a global settlement once the asset is solvent
// again. With zero supply the cleanup is unconditional; otherwise the
// entire fund becomes a single issuer-owned position carrying the whole
// supply as debt.
func (e *Engine) ReviveBackedAsset(assetID protocol.AssetID) {
	bd := e.db.BackedData(assetID)
	if !bd.HasSettlement() {
		panic("FATAL: reviving asset that is not settled")
	}
	e.CancelAllBids(assetID)

	dyn := e.db.DynamicData(assetID)
	if dyn.CurrentSupply > 0 {
		asset := e.db.MustAsset(assetID)
		e.db.CreateCallOrder(state.CallOrder{
			Borrower:    asset.Issuer,
			Collateral:  bd.SettlementFund,
			Debt:        dyn.CurrentSupply,
			DebtType:    assetID,
			BackingType: bd.Options.ShortBackingAsset,
			CallPrice: protocol.CallPrice(
				protocol.NewAsset(dyn.CurrentSupply, assetID),
				protocol.NewAsset(bd.SettlementFund, bd.Options.ShortBackingAsset),
				protocol.DefaultMaintenanceCollateralRatio,
			),
		})
	}

	e.db.ModifyBackedData(assetID, func(b *state.BackedAssetData) {
		b.SettlementPrice = protocol.Price{}
		b.SettlementFund = 0
	})

	e.log.Info().Uint64("asset", uint64(assetID)).Msg("backed asset revived")
}

// ProcessBids attempts a collateral-bid revival of a settled asset. Bids
// are consumed from the most generous down; unless the accepted bids cover
// the entire outstanding supply, nothing happens.
func (e *Engine) ProcessBids(assetID protocol.AssetID) {
	bd := e.db.BackedData(assetID)
	if !bd.HasSettlement() || bd.IsPredictionMarket {
		return
	}
	if !bd.HasCurrentFeed() {
		return
	}

	dyn := e.db.DynamicData(assetID)
	if dyn.CurrentSupply == 0 {
		e.ReviveBackedAsset(assetID)
		return
	}

	maintColl := bd.CurrentFeed.MaintenanceCollateralization()

	type accepted struct {
		bid  *state.CollateralBid
		debt int64
	}
	var plan []accepted
	var covered int64

	for _, bid := range e.db.CollateralBidsByPrice(assetID) {
		if covered >= dyn.CurrentSupply {
			break
		}
		debt := bid.DebtCovered.Amount
		if debt > dyn.CurrentSupply {
			debt = dyn.CurrentSupply
		}
		fundShare := protocol.MulDiv(bd.SettlementFund, debt, dyn.CurrentSupply)
		total := protocol.Price{
			Base:  protocol.NewAsset(bid.Collateral.Amount+fundShare, bd.Options.ShortBackingAsset),
			Quote: protocol.NewAsset(debt, bid.DebtCovered.AssetID),
		}
		if total.Cmp(maintColl) < 0 {
			// Even with its fund share the bid would start under water.
			continue
		}
		plan = append(plan, accepted{bid: bid, debt: debt})
		covered += debt
	}

	if covered < dyn.CurrentSupply {
		return
	}

	// The final accepted bid is consumed only up to the remaining supply
	// and absorbs whatever is left of the settlement fund, so both drain
	// to exactly zero.
	toCover := dyn.CurrentSupply
	remainingFund := bd.SettlementFund
	for _, a := range plan {
		debt := a.debt
		fundShare := protocol.MulDiv(bd.SettlementFund, debt, dyn.CurrentSupply)
		if debt >= toCover {
			debt = toCover
			fundShare = remainingFund
		}
		toCover -= debt
		remainingFund -= fundShare
		e.executeBid(a.bid, debt, fundShare, bd.Options.ShortBackingAsset)
	}
	e.CancelAllBids(assetID)
	e.db.ModifyBackedData(assetID, func(b *state.BackedAssetData) {
		b.SettlementPrice = protocol.Price{}
		b.SettlementFund = 0
	})
	e.log.Info().Uint64("asset", uint64(assetID)).Msg("backed asset revived through collateral bids")
}

// executeBid converts one accepted bid into a live debt position. The
// bid's full pledged collateral goes into the position even when only
// part of its offered debt is taken.
func (e *Engine) executeBid(bid *state.CollateralBid, debtCovered, fundShare int64, backing protocol.AssetID) {
	collateral := bid.Collateral.Amount + fundShare
	debt := protocol.NewAsset(debtCovered, bid.DebtCovered.AssetID)
	e.db.CreateCallOrder(state.CallOrder{
		Borrower:    bid.Bidder,
		Collateral:  collateral,
		Debt:        debtCovered,
		DebtType:    bid.DebtCovered.AssetID,
		BackingType: backing,
		CallPrice: protocol.CallPrice(
			debt,
			protocol.NewAsset(collateral, backing),
			e.currentMCR(bid.DebtCovered.AssetID),
		),
	})
	e.onVirtual(&protocol.ExecuteBidOp{
		Bidder:     bid.Bidder,
		Debt:       debt,
		Collateral: protocol.NewAsset(collateral, backing),
	})
	e.db.RemoveCollateralBid(bid.ID)
}

// CancelAllBids refunds every pending bid on the asset.
func (e *Engine) CancelAllBids(assetID protocol.AssetID) {
	for _, bid := range e.db.CollateralBidsByPrice(assetID) {
		e.CancelBid(bid.ID)
	}
}

// CancelBid returns a bid's collateral to the bidder and deletes it.
func (e *Engine) CancelBid(bidID protocol.BidID) {
	bid := e.db.FindCollateralBid(bidID)
	if bid == nil {
		panic("FATAL: cancelling missing collateral bid")
	}
	e.db.AdjustBalance(bid.Bidder, bid.Collateral)
	e.db.RemoveCollateralBid(bidID)
}
