package protocol

import (
	"fmt"
	"sort"
)

// PriceFeed is one producer's view of a backed asset's market. The
// settlement price is quoted as debt per unit of collateral.
type PriceFeed struct {
	SettlementPrice            Price  `json:"settlement_price"`
	MaintenanceCollateralRatio uint16 `json:"maintenance_collateral_ratio"`
	MaximumShortSqueezeRatio   uint16 `json:"maximum_short_squeeze_ratio"`
	CoreExchangeRate           Price  `json:"core_exchange_rate"`
}

// DefaultPriceFeed returns a null feed carrying only the default ratios.
func DefaultPriceFeed() PriceFeed {
	return PriceFeed{
		MaintenanceCollateralRatio: DefaultMaintenanceCollateralRatio,
		MaximumShortSqueezeRatio:   DefaultMaxShortSqueezeRatio,
	}
}

func (f PriceFeed) Validate() error {
	if f.MaintenanceCollateralRatio < MinCollateralRatio || f.MaintenanceCollateralRatio > MaxCollateralRatio {
		return fmt.Errorf("maintenance collateral ratio %d out of range [%d, %d]",
			f.MaintenanceCollateralRatio, MinCollateralRatio, MaxCollateralRatio)
	}
	if f.MaximumShortSqueezeRatio < MinCollateralRatio || f.MaximumShortSqueezeRatio > MaxCollateralRatio {
		return fmt.Errorf("max short squeeze ratio %d out of range [%d, %d]",
			f.MaximumShortSqueezeRatio, MinCollateralRatio, MaxCollateralRatio)
	}
	if !f.SettlementPrice.IsNil() {
		if err := f.SettlementPrice.Validate(); err != nil {
			return err
		}
	}
	if !f.CoreExchangeRate.IsNil() {
		if err := f.CoreExchangeRate.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// IsForAsset reports whether the feed actually covers market debtAsset
// against backingAsset.
func (f PriceFeed) IsForAsset(debtAsset, backingAsset AssetID) bool {
	if f.SettlementPrice.IsNil() {
		return true
	}
	return f.SettlementPrice.Base.AssetID == debtAsset &&
		f.SettlementPrice.Quote.AssetID == backingAsset
}

// MaxShortSqueezePrice is the worst price a margin call may pay, the
// settlement price discounted by the short squeeze ratio.
func (f PriceFeed) MaxShortSqueezePrice() Price {
	return f.SettlementPrice.MulRatio(Ratio{
		Numerator:   int64(CollateralRatioDenom),
		Denominator: int64(f.MaximumShortSqueezeRatio),
	})
}

// MaintenanceCollateralization is the collateral per debt a position must
// hold to avoid a margin call, quoted collateral/debt.
func (f PriceFeed) MaintenanceCollateralization() Price {
	if f.SettlementPrice.IsNil() {
		return Price{}
	}
	return f.SettlementPrice.Invert().MulRatio(Ratio{
		Numerator:   int64(f.MaintenanceCollateralRatio),
		Denominator: int64(CollateralRatioDenom),
	})
}

// MedianFeed folds a set of published feeds into one by taking the median
// of every field independently. The result is deterministic for any input
// order. Callers pass only feeds that are current and well formed.
func MedianFeed(feeds []PriceFeed) PriceFeed {
	if len(feeds) == 0 {
		return PriceFeed{}
	}
	if len(feeds) == 1 {
		return feeds[0]
	}

	mid := len(feeds) / 2
	var out PriceFeed

	prices := make([]Price, len(feeds))
	for i, f := range feeds {
		prices[i] = f.SettlementPrice
	}
	sort.SliceStable(prices, func(i, j int) bool { return prices[i].Less(prices[j]) })
	out.SettlementPrice = prices[mid]

	// Publishers may omit the core exchange rate; the median is taken
	// over the feeds that carry one.
	cers := make([]Price, 0, len(feeds))
	for _, f := range feeds {
		if !f.CoreExchangeRate.IsNil() {
			cers = append(cers, f.CoreExchangeRate)
		}
	}
	if len(cers) > 0 {
		sort.SliceStable(cers, func(i, j int) bool { return cers[i].Less(cers[j]) })
		out.CoreExchangeRate = cers[len(cers)/2]
	}

	ratios := make([]uint16, len(feeds))
	for i, f := range feeds {
		ratios[i] = f.MaintenanceCollateralRatio
	}
	sort.Slice(ratios, func(i, j int) bool { return ratios[i] < ratios[j] })
	out.MaintenanceCollateralRatio = ratios[mid]

	for i, f := range feeds {
		ratios[i] = f.MaximumShortSqueezeRatio
	}
	sort.Slice(ratios, func(i, j int) bool { return ratios[i] < ratios[j] })
	out.MaximumShortSqueezeRatio = ratios[mid]

	return out
}
