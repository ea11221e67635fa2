package state

import (
	"fmt"

	"ChainCore/internal/protocol"
)

// InvariantChecker audits the full object store. The engine runs it after
// every block in paranoid deployments and after maintenance always; any
// error here means consensus state is corrupt.
type InvariantChecker struct {
	db *DB
}

func NewInvariantChecker(db *DB) *InvariantChecker {
	return &InvariantChecker{db: db}
}

// CheckAll runs every audit.
func (c *InvariantChecker) CheckAll() error {
	if err := c.CheckSupplyConservation(); err != nil {
		return err
	}
	if err := c.CheckDebtMatchesSupply(); err != nil {
		return err
	}
	return c.CheckOrderBalancesNonNegative()
}

// CheckSupplyConservation verifies that for every asset the sum of all
// holdings equals the recorded current supply. Holdings live in account
// balances, open orders, settlement requests, collateral, settlement
// funds, fee pools and accumulated fees.
func (c *InvariantChecker) CheckSupplyConservation() error {
	totals := make(map[protocol.AssetID]int64)

	for k, v := range c.db.balances {
		totals[k.Asset] += v
	}
	for _, o := range c.db.limitOrders {
		totals[o.SellPrice.Base.AssetID] += o.ForSale
		totals[protocol.CoreAssetID] += o.DeferredFee
	}
	for _, o := range c.db.callOrders {
		totals[o.BackingType] += o.Collateral
	}
	for _, s := range c.db.settlements {
		totals[s.Balance.AssetID] += s.Balance.Amount
	}
	for _, b := range c.db.bids {
		totals[b.Collateral.AssetID] += b.Collateral.Amount
	}
	for _, bd := range c.db.backed {
		if bd.HasSettlement() {
			totals[bd.Options.ShortBackingAsset] += bd.SettlementFund
		}
	}
	for id, d := range c.db.assetDyn {
		totals[id] += d.AccumulatedFees
		totals[protocol.CoreAssetID] += d.FeePool
	}
	for _, v := range c.db.validators {
		totals[protocol.CoreAssetID] += v.PayBalance
	}
	for _, w := range c.db.workers {
		totals[protocol.CoreAssetID] += w.Balance
	}
	for _, f := range c.db.feeBuckets {
		totals[protocol.CoreAssetID] += f.Balance
	}
	for _, a := range c.db.accounts {
		totals[protocol.CoreAssetID] += a.CashbackVesting
	}
	totals[protocol.CoreAssetID] += c.db.dynamic.ProducerBudget
	totals[protocol.CoreAssetID] += c.db.dynamic.AccumulatedFees

	for id, d := range c.db.assetDyn {
		if totals[id] != d.CurrentSupply {
			return fmt.Errorf("asset %d supply mismatch: holdings sum to %d, recorded supply %d",
				id, totals[id], d.CurrentSupply)
		}
	}
	return nil
}

// CheckDebtMatchesSupply verifies that for every backed asset the open
// debt equals the circulating supply. Tokens waiting in settlement
// requests are still circulating so they stay on the supply side.
func (c *InvariantChecker) CheckDebtMatchesSupply() error {
	for id, bd := range c.db.backed {
		if bd.HasSettlement() {
			// After global settlement the supply is redeemable against the
			// settlement fund instead of open positions.
			continue
		}
		var debt int64
		for _, o := range c.db.callOrders {
			if o.DebtType == id {
				debt += o.Debt
			}
		}
		supply := c.db.DynamicData(id).CurrentSupply
		if debt != supply {
			return fmt.Errorf("backed asset %d debt mismatch: open debt %d != supply %d",
				id, debt, supply)
		}
	}
	return nil
}

// CheckOrderBalancesNonNegative verifies no order or position carries a
// non-positive remainder.
func (c *InvariantChecker) CheckOrderBalancesNonNegative() error {
	for id, o := range c.db.limitOrders {
		if o.ForSale <= 0 {
			return fmt.Errorf("limit order %d has non-positive remainder %d", id, o.ForSale)
		}
	}
	for id, o := range c.db.callOrders {
		if o.Debt <= 0 || o.Collateral <= 0 {
			return fmt.Errorf("call order %d degenerate: debt %d collateral %d", id, o.Debt, o.Collateral)
		}
	}
	return nil
}
