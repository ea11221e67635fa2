package evaluator

import (
	"fmt"

	"ChainCore/internal/protocol"
	"ChainCore/internal/state"
)

func (d *Dispatcher) evaluateTransfer(op *protocol.TransferOp) error {
	if _, err := d.db.GetAccount(op.To); err != nil {
		return err
	}
	if _, err := d.db.GetAsset(op.Amount.AssetID); err != nil {
		return err
	}
	return d.requireBalance(op.From, op.Amount)
}

func (d *Dispatcher) applyTransfer(op *protocol.TransferOp) {
	d.db.AdjustBalance(op.From, op.Amount.Neg())
	d.db.AdjustBalance(op.To, op.Amount)
}

func (d *Dispatcher) evaluateLimitOrderCreate(op *protocol.LimitOrderCreateOp) error {
	if _, err := d.db.GetAsset(op.AmountToSell.AssetID); err != nil {
		return err
	}
	if _, err := d.db.GetAsset(op.MinToReceive.AssetID); err != nil {
		return err
	}
	now := d.db.HeadTime()
	if op.Expiration != 0 {
		if op.Expiration <= now {
			return fmt.Errorf("expiration %d is not in the future", op.Expiration)
		}
		maxAhead := int64(d.db.GlobalProperties().Parameters.MaxTimeUntilExpiration)
		if maxAhead > 0 && op.Expiration-now > maxAhead {
			return fmt.Errorf("expiration %d more than %ds ahead", op.Expiration, maxAhead)
		}
	}
	return d.requireBalance(op.Seller, op.AmountToSell)
}

func (d *Dispatcher) applyLimitOrderCreate(op *protocol.LimitOrderCreateOp, coreFee int64) error {
	d.db.AdjustBalance(op.Seller, op.AmountToSell.Neg())
	if op.AmountToSell.AssetID == protocol.CoreAssetID {
		d.db.ModifyAccount(op.Seller, func(a *state.Account) {
			a.TotalCoreInOrders += op.AmountToSell.Amount
		})
	}
	order := d.db.CreateLimitOrder(state.LimitOrder{
		Seller:      op.Seller,
		ForSale:     op.AmountToSell.Amount,
		SellPrice:   op.SellPrice(),
		Expiration:  op.Expiration,
		DeferredFee: coreFee,
	})
	filled := d.mkt.ApplyOrder(order.ID)
	if op.FillOrKill && !filled {
		return fmt.Errorf("fill-or-kill order could not be fully matched")
	}
	return nil
}

func (d *Dispatcher) evaluateLimitOrderCancel(op *protocol.LimitOrderCancelOp) error {
	order, err := d.db.GetLimitOrder(op.Order)
	if err != nil {
		return err
	}
	if order.Seller != op.Payer {
		return fmt.Errorf("order %d belongs to account %d, not %d", op.Order, order.Seller, op.Payer)
	}
	return nil
}

func (d *Dispatcher) applyLimitOrderCancel(op *protocol.LimitOrderCancelOp) {
	d.mkt.CancelLimitOrder(op.Order, true)
}

func (d *Dispatcher) evaluateCallOrderUpdate(op *protocol.CallOrderUpdateOp) error {
	debtType := op.DeltaDebt.AssetID
	asset, err := d.db.GetAsset(debtType)
	if err != nil {
		return err
	}
	bd := d.db.FindBackedData(debtType)
	if bd == nil {
		return fmt.Errorf("asset %d is not collateral backed", debtType)
	}
	if bd.HasSettlement() {
		return fmt.Errorf("asset %d is globally settled, no position changes allowed", debtType)
	}
	if op.DeltaCollateral.AssetID != bd.Options.ShortBackingAsset {
		return fmt.Errorf("collateral must be asset %d, got %d",
			bd.Options.ShortBackingAsset, op.DeltaCollateral.AssetID)
	}

	existing := d.db.FindCallOrderFor(op.FundingAccount, debtType)
	var oldDebt, oldColl int64
	if existing != nil {
		oldDebt, oldColl = existing.Debt, existing.Collateral
	}
	newDebt := oldDebt + op.DeltaDebt.Amount
	newColl := oldColl + op.DeltaCollateral.Amount
	switch {
	case newDebt < 0:
		return fmt.Errorf("repaying %d exceeds debt %d", -op.DeltaDebt.Amount, oldDebt)
	case newColl < 0:
		return fmt.Errorf("withdrawing %d exceeds collateral %d", -op.DeltaCollateral.Amount, oldColl)
	case newDebt == 0 && newColl != 0:
		return fmt.Errorf("closing the position must withdraw all %d collateral", newColl)
	case newDebt != 0 && newColl == 0:
		return fmt.Errorf("position cannot carry debt without collateral")
	}

	if op.DeltaCollateral.Amount > 0 {
		if err := d.requireBalance(op.FundingAccount, op.DeltaCollateral); err != nil {
			return err
		}
	}
	if op.DeltaDebt.Amount < 0 {
		if err := d.requireBalance(op.FundingAccount, op.DeltaDebt.Neg()); err != nil {
			return err
		}
	}
	if op.DeltaDebt.Amount > 0 {
		supply := d.db.DynamicData(debtType).CurrentSupply
		if supply+op.DeltaDebt.Amount > asset.Options.MaxSupply {
			return fmt.Errorf("borrowing %d would push supply past the %d cap",
				op.DeltaDebt.Amount, asset.Options.MaxSupply)
		}
	}
	if newDebt == 0 {
		return nil
	}

	if bd.IsPredictionMarket {
		// Prediction market positions are fully collateralized one to one.
		if op.DeltaDebt.Amount != op.DeltaCollateral.Amount {
			return fmt.Errorf("prediction market positions must change debt and collateral equally")
		}
		return nil
	}
	if !bd.HasCurrentFeed() {
		return fmt.Errorf("asset %d has no usable price feed", debtType)
	}
	ratio := protocol.Price{
		Base:  protocol.NewAsset(newColl, bd.Options.ShortBackingAsset),
		Quote: protocol.NewAsset(newDebt, debtType),
	}
	if ratio.Cmp(bd.CurrentFeed.MaintenanceCollateralization()) < 0 {
		return fmt.Errorf("position %d/%d would be under the maintenance ratio", newDebt, newColl)
	}
	return nil
}

func (d *Dispatcher) applyCallOrderUpdate(op *protocol.CallOrderUpdateOp) {
	debtType := op.DeltaDebt.AssetID
	bd := d.db.BackedData(debtType)

	if op.DeltaDebt.Amount != 0 {
		d.db.ModifyDynamicData(debtType, func(dd *state.AssetDynamicData) {
			dd.CurrentSupply += op.DeltaDebt.Amount
		})
		d.db.AdjustBalance(op.FundingAccount, op.DeltaDebt)
	}
	if op.DeltaCollateral.Amount != 0 {
		d.db.AdjustBalance(op.FundingAccount, op.DeltaCollateral.Neg())
	}

	existing := d.db.FindCallOrderFor(op.FundingAccount, debtType)
	var newDebt, newColl int64
	if existing != nil {
		newDebt = existing.Debt + op.DeltaDebt.Amount
		newColl = existing.Collateral + op.DeltaCollateral.Amount
	} else {
		newDebt = op.DeltaDebt.Amount
		newColl = op.DeltaCollateral.Amount
	}

	if newDebt == 0 {
		d.db.RemoveCallOrder(existing.ID)
		return
	}

	mcr := bd.CurrentFeed.MaintenanceCollateralRatio
	if bd.IsPredictionMarket || mcr == 0 {
		mcr = protocol.CollateralRatioDenom
	}
	callPrice := protocol.CallPrice(
		protocol.NewAsset(newDebt, debtType),
		protocol.NewAsset(newColl, bd.Options.ShortBackingAsset),
		mcr,
	)
	if existing != nil {
		d.db.ModifyCallOrder(existing.ID, func(c *state.CallOrder) {
			c.Debt = newDebt
			c.Collateral = newColl
			c.CallPrice = callPrice
			c.TargetCollateralRatio = op.TargetCollateralRatio
		})
		return
	}
	d.db.CreateCallOrder(state.CallOrder{
		Borrower:              op.FundingAccount,
		Collateral:            newColl,
		Debt:                  newDebt,
		DebtType:              debtType,
		BackingType:           bd.Options.ShortBackingAsset,
		CallPrice:             callPrice,
		TargetCollateralRatio: op.TargetCollateralRatio,
	})
}

func (d *Dispatcher) evaluateBidCollateral(op *protocol.BidCollateralOp) error {
	debtType := op.DebtCovered.AssetID
	bd := d.db.FindBackedData(debtType)
	if bd == nil {
		return fmt.Errorf("asset %d is not collateral backed", debtType)
	}
	if !bd.HasSettlement() {
		return fmt.Errorf("asset %d is not globally settled, nothing to bid on", debtType)
	}
	if bd.IsPredictionMarket {
		return fmt.Errorf("prediction markets are not revived through bids")
	}
	if op.AdditionalCollateral.AssetID != bd.Options.ShortBackingAsset {
		return fmt.Errorf("bid collateral must be asset %d, got %d",
			bd.Options.ShortBackingAsset, op.AdditionalCollateral.AssetID)
	}
	if op.DebtCovered.Amount == 0 {
		if d.db.FindCollateralBidFor(op.Bidder, debtType) == nil {
			return fmt.Errorf("account %d has no bid on asset %d to cancel", op.Bidder, debtType)
		}
		return nil
	}
	return d.requireBalance(op.Bidder, op.AdditionalCollateral)
}

func (d *Dispatcher) applyBidCollateral(op *protocol.BidCollateralOp) {
	debtType := op.DebtCovered.AssetID
	if existing := d.db.FindCollateralBidFor(op.Bidder, debtType); existing != nil {
		d.mkt.CancelBid(existing.ID)
	}
	if op.DebtCovered.Amount == 0 {
		return
	}
	d.db.AdjustBalance(op.Bidder, op.AdditionalCollateral.Neg())
	d.db.CreateCollateralBid(state.CollateralBid{
		Bidder:      op.Bidder,
		Collateral:  op.AdditionalCollateral,
		DebtCovered: op.DebtCovered,
	})
}
