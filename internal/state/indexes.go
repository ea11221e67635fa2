package state

import (
	"sort"

	"ChainCore/internal/protocol"
)

// Query helpers over the object store. Each returns a freshly sorted
// slice; callers re-query after any mutation instead of holding on to
// stale iteration state.

// LimitOrdersSelling returns resting orders offering sellAsset against
// receiveAsset, best price first (highest receive per unit sold), ties by
// id ascending.
func (db *DB) LimitOrdersSelling(sellAsset, receiveAsset protocol.AssetID) []*LimitOrder {
	var out []*LimitOrder
	for _, o := range db.limitOrders {
		if o.SellPrice.Base.AssetID == sellAsset && o.SellPrice.Quote.AssetID == receiveAsset {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].SellPrice.Cmp(out[j].SellPrice); c != 0 {
			return c > 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// LimitOrdersByAccount returns one account's resting orders, id ascending.
func (db *DB) LimitOrdersByAccount(account protocol.AccountID) []*LimitOrder {
	var out []*LimitOrder
	for _, o := range db.limitOrders {
		if o.Seller == account {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ExpiredLimitOrders returns orders whose expiration has passed, id
// ascending.
func (db *DB) ExpiredLimitOrders(now int64) []*LimitOrder {
	var out []*LimitOrder
	for _, o := range db.limitOrders {
		if o.Expiration != 0 && o.Expiration <= now {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CallOrdersByCollateralization returns every debt position in the asset,
// least collateralized first.
func (db *DB) CallOrdersByCollateralization(debtType protocol.AssetID) []*CallOrder {
	var out []*CallOrder
	for _, o := range db.callOrders {
		if o.DebtType == debtType {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CollateralizationCmp(out[j]) < 0 })
	return out
}

// ForceSettlementsByDate returns pending settlements in the asset ordered
// by settlement date then id.
func (db *DB) ForceSettlementsByDate(debtType protocol.AssetID) []*ForceSettlement {
	var out []*ForceSettlement
	for _, s := range db.settlements {
		if s.Balance.AssetID == debtType {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SettlementDate != out[j].SettlementDate {
			return out[i].SettlementDate < out[j].SettlementDate
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CollateralBidsByPrice returns the bids on a settled asset, most generous
// first.
func (db *DB) CollateralBidsByPrice(debtType protocol.AssetID) []*CollateralBid {
	var out []*CollateralBid
	for _, b := range db.bids {
		if b.DebtCovered.AssetID == debtType {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceCmp(out[j]) < 0 })
	return out
}

// AllValidators returns every registered validator, id ascending.
func (db *DB) AllValidators() []*Validator {
	out := make([]*Validator, 0, len(db.validators))
	for _, v := range db.validators {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllDelegates returns every registered delegate, id ascending.
func (db *DB) AllDelegates() []*Delegate {
	out := make([]*Delegate, 0, len(db.delegates))
	for _, d := range db.delegates {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllWorkers returns every worker, id ascending.
func (db *DB) AllWorkers() []*Worker {
	out := make([]*Worker, 0, len(db.workers))
	for _, w := range db.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllAccounts returns every account, id ascending.
func (db *DB) AllAccounts() []*Account {
	out := make([]*Account, 0, len(db.accounts))
	for _, a := range db.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllAssets returns every asset, id ascending.
func (db *DB) AllAssets() []*Asset {
	out := make([]*Asset, 0, len(db.assets))
	for _, a := range db.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BackedAssets returns every backed asset record, id ascending.
func (db *DB) BackedAssets() []*BackedAssetData {
	out := make([]*BackedAssetData, 0, len(db.backed))
	for _, b := range db.backed {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllFeeBuckets returns every earmarked fee bucket, id ascending.
func (db *DB) AllFeeBuckets() []*FeeBucket {
	out := make([]*FeeBucket, 0, len(db.feeBuckets))
	for _, f := range db.feeBuckets {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HoldersByStake returns the accounts holding the asset, largest balance
// first, ids breaking ties.
func (db *DB) HoldersByStake(asset protocol.AssetID) []BalanceEntry {
	var out []BalanceEntry
	for k, v := range db.balances {
		if k.Asset == asset && v > 0 {
			out = append(out, BalanceEntry{Account: k.Account, Asset: k.Asset, Amount: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].Account < out[j].Account
	})
	return out
}

// Balances returns every non-zero balance, ordered by account then asset.
func (db *DB) Balances() []BalanceEntry {
	out := make([]BalanceEntry, 0, len(db.balances))
	for k, v := range db.balances {
		if v != 0 {
			out = append(out, BalanceEntry{Account: k.Account, Asset: k.Asset, Amount: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}

// BalanceEntry is one row of the balance sheet.
type BalanceEntry struct {
	Account protocol.AccountID
	Asset   protocol.AssetID
	Amount  int64
}
