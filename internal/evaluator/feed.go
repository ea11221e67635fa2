package evaluator

import (
	"fmt"

	"ChainCore/internal/protocol"
	"ChainCore/internal/state"
)

func (d *Dispatcher) evaluateAssetPublishFeed(op *protocol.AssetPublishFeedOp) error {
	a, err := d.db.GetAsset(op.AssetID)
	if err != nil {
		return err
	}
	bd := d.db.FindBackedData(op.AssetID)
	if bd == nil {
		return fmt.Errorf("asset %d is not collateral backed", op.AssetID)
	}
	if !op.Feed.IsForAsset(op.AssetID, bd.Options.ShortBackingAsset) {
		return fmt.Errorf("feed prices asset %d against the wrong backing asset", op.AssetID)
	}

	switch {
	case a.FlagSet(protocol.FlagProducerFed):
		for _, id := range d.db.GlobalProperties().ActiveProducers {
			if v := d.db.FindValidator(id); v != nil && v.Account == op.Publisher {
				return nil
			}
		}
		return fmt.Errorf("account %d is not an active block producer", op.Publisher)
	case a.FlagSet(protocol.FlagDelegateFed):
		for _, id := range d.db.GlobalProperties().ActiveDelegates {
			if del := d.db.FindDelegate(id); del != nil && del.Account == op.Publisher {
				return nil
			}
		}
		return fmt.Errorf("account %d is not an active delegate", op.Publisher)
	default:
		if _, ok := bd.Producers[op.Publisher]; !ok {
			return fmt.Errorf("account %d is not an appointed feed producer for asset %d",
				op.Publisher, op.AssetID)
		}
		return nil
	}
}

func (d *Dispatcher) applyAssetPublishFeed(op *protocol.AssetPublishFeedOp) {
	now := d.db.HeadTime()
	old := d.db.BackedData(op.AssetID).CurrentFeed
	d.db.ModifyBackedData(op.AssetID, func(b *state.BackedAssetData) {
		b.Feeds[op.Publisher] = state.FeedEntry{Time: now, Feed: op.Feed}
	})
	d.updateMedianFeed(op.AssetID)
	if old != d.db.BackedData(op.AssetID).CurrentFeed {
		d.afterFeedChange(op.AssetID)
	}
}

// updateMedianFeed recomputes the working feed from the per-field medians
// of all feeds still inside their lifetime.
func (d *Dispatcher) updateMedianFeed(assetID protocol.AssetID) {
	bd := d.db.BackedData(assetID)
	cutoff := d.db.HeadTime() - int64(bd.Options.FeedLifetimeSec)

	var live []protocol.PriceFeed
	for _, entry := range bd.Feeds {
		if entry.Time > cutoff && !entry.Feed.SettlementPrice.IsNil() {
			live = append(live, entry.Feed)
		}
	}

	var median protocol.PriceFeed
	if len(live) >= int(bd.Options.MinimumFeeds) {
		median = protocol.MedianFeed(live)
	}
	d.db.ModifyBackedData(assetID, func(b *state.BackedAssetData) {
		b.CurrentFeed = median
		b.CurrentFeedTime = d.db.HeadTime()
	})
}

// afterFeedChange cascades a moved median: margin calls for live assets,
// a revival attempt for settled ones.
func (d *Dispatcher) afterFeedChange(assetID protocol.AssetID) {
	bd := d.db.BackedData(assetID)
	if !bd.HasCurrentFeed() {
		return
	}
	if bd.HasSettlement() {
		d.maybeRevive(assetID)
		return
	}
	d.mkt.CheckCallOrders(assetID, true, false)
}

// maybeRevive ends a global settlement when the fund itself has become
// collateral enough for the outstanding supply at the fresh feed.
func (d *Dispatcher) maybeRevive(assetID protocol.AssetID) {
	bd := d.db.BackedData(assetID)
	supply := d.db.DynamicData(assetID).CurrentSupply
	if supply == 0 {
		d.mkt.ReviveBackedAsset(assetID)
		return
	}
	fund := protocol.Price{
		Base:  protocol.NewAsset(bd.SettlementFund, bd.Options.ShortBackingAsset),
		Quote: protocol.NewAsset(supply, assetID),
	}
	if fund.Cmp(bd.CurrentFeed.MaintenanceCollateralization()) >= 0 {
		d.mkt.ReviveBackedAsset(assetID)
	}
}

func (d *Dispatcher) evaluateAssetSettle(op *protocol.AssetSettleOp) error {
	a, err := d.db.GetAsset(op.Amount.AssetID)
	if err != nil {
		return err
	}
	bd := d.db.FindBackedData(op.Amount.AssetID)
	if bd == nil {
		return fmt.Errorf("asset %d is not collateral backed", op.Amount.AssetID)
	}
	if !bd.HasSettlement() {
		if bd.IsPredictionMarket {
			return fmt.Errorf("prediction market %d settles only after resolution", a.ID)
		}
		if a.FlagSet(protocol.FlagDisableForceSettle) {
			return fmt.Errorf("asset %d has force settlement disabled", a.ID)
		}
		if !bd.HasCurrentFeed() {
			return fmt.Errorf("asset %d has no usable price feed", a.ID)
		}
	}
	return d.requireBalance(op.Account, op.Amount)
}

func (d *Dispatcher) applyAssetSettle(op *protocol.AssetSettleOp) {
	bd := d.db.BackedData(op.Amount.AssetID)
	d.db.AdjustBalance(op.Account, op.Amount.Neg())
	if bd.HasSettlement() {
		d.mkt.InstantSettle(op.Account, op.Amount)
		return
	}
	d.db.CreateForceSettlement(state.ForceSettlement{
		Owner:          op.Account,
		Balance:        op.Amount,
		SettlementDate: d.db.HeadTime() + int64(bd.Options.ForceSettlementDelaySec),
	})
}

func (d *Dispatcher) evaluateAssetGlobalSettle(op *protocol.AssetGlobalSettleOp) error {
	a, err := d.issuerAsset(op.Issuer, op.AssetToSettle)
	if err != nil {
		return err
	}
	bd := d.db.FindBackedData(op.AssetToSettle)
	if bd == nil {
		return fmt.Errorf("asset %d is not collateral backed", op.AssetToSettle)
	}
	if a.Options.IssuerPermissions&protocol.FlagGlobalSettle == 0 {
		return fmt.Errorf("asset %d was created without the global settle permission", a.ID)
	}
	if bd.HasSettlement() {
		return fmt.Errorf("asset %d is already globally settled", a.ID)
	}
	if supply := d.db.DynamicData(op.AssetToSettle).CurrentSupply; supply == 0 {
		return fmt.Errorf("asset %d has no outstanding supply to settle", a.ID)
	}
	if op.SettlePrice.Quote.AssetID != bd.Options.ShortBackingAsset {
		return fmt.Errorf("settle price must be quoted in backing asset %d", bd.Options.ShortBackingAsset)
	}

	// Every position must be coverable at the stated price, so it is
	// enough to check the least collateralized one.
	calls := d.db.CallOrdersByCollateralization(op.AssetToSettle)
	if len(calls) > 0 {
		worst := calls[0]
		if worst.DebtAsset().MulPrice(op.SettlePrice).Amount > worst.Collateral {
			return fmt.Errorf("settle price leaves position of account %d insolvent", worst.Borrower)
		}
	}
	return nil
}

func (d *Dispatcher) applyAssetGlobalSettle(op *protocol.AssetGlobalSettleOp) {
	d.mkt.GloballySettleAsset(op.AssetToSettle, op.SettlePrice)
}
