package protocol

import (
	"fmt"
	"math/big"
	"sync"
)

// Asset is a fixed-point amount of a specific asset. Amounts are raw
// integers; the asset's precision decides where the decimal point sits.
type Asset struct {
	Amount  int64   `json:"amount"`
	AssetID AssetID `json:"asset_id"`
}

func NewAsset(amount int64, id AssetID) Asset { return Asset{Amount: amount, AssetID: id} }

// CoreAsset returns an amount of the core asset.
func CoreAsset(amount int64) Asset { return Asset{Amount: amount, AssetID: CoreAssetID} }

func (a Asset) Add(b Asset) Asset {
	if a.AssetID != b.AssetID {
		panic(fmt.Sprintf("FATAL: asset id mismatch in add: %d != %d", a.AssetID, b.AssetID))
	}
	return Asset{Amount: a.Amount + b.Amount, AssetID: a.AssetID}
}

func (a Asset) Sub(b Asset) Asset {
	if a.AssetID != b.AssetID {
		panic(fmt.Sprintf("FATAL: asset id mismatch in sub: %d != %d", a.AssetID, b.AssetID))
	}
	return Asset{Amount: a.Amount - b.Amount, AssetID: a.AssetID}
}

func (a Asset) Neg() Asset { return Asset{Amount: -a.Amount, AssetID: a.AssetID} }

func (a Asset) String() string { return fmt.Sprintf("%d[%d]", a.Amount, a.AssetID) }

// wideInt pool for 128-bit intermediates. All consensus arithmetic goes
// through big.Int so results are identical on every platform.
var wideIntPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getWide() *big.Int { return wideIntPool.Get().(*big.Int) }

func putWide(v *big.Int) {
	v.SetInt64(0)
	wideIntPool.Put(v)
}

// mulDiv128 computes a*b/c with 128-bit intermediates, truncating toward zero.
func mulDiv128(a, b, c int64) int64 {
	num := getWide()
	den := getWide()
	num.Mul(num.SetInt64(a), den.SetInt64(b))
	den.SetInt64(c)
	num.Quo(num, den)
	out := num.Int64()
	putWide(num)
	putWide(den)
	return out
}

// mulDivCeil128 computes ceil(a*b/c) with 128-bit intermediates. a, b, c are
// expected non-negative.
func mulDivCeil128(a, b, c int64) int64 {
	num := getWide()
	den := getWide()
	num.Mul(num.SetInt64(a), den.SetInt64(b))
	den.SetInt64(c - 1)
	num.Add(num, den)
	den.SetInt64(c)
	num.Quo(num, den)
	out := num.Int64()
	putWide(num)
	putWide(den)
	return out
}

// MulDiv computes a*b/c truncating toward zero with 128-bit intermediates.
func MulDiv(a, b, c int64) int64 { return mulDiv128(a, b, c) }

// MulDivCeil is MulDiv rounding away from zero. Inputs must be non-negative.
func MulDivCeil(a, b, c int64) int64 { return mulDivCeil128(a, b, c) }

// MulPrice converts the amount to the opposite side of the price, truncating
// toward zero. Truncation favors whoever keeps the difference; call sites
// that must round the other way use MulPriceCeil.
func (a Asset) MulPrice(p Price) Asset {
	switch a.AssetID {
	case p.Base.AssetID:
		if p.Base.Amount <= 0 {
			panic("FATAL: price base amount must be positive")
		}
		r := mulDiv128(a.Amount, p.Quote.Amount, p.Base.Amount)
		if r > MaxSupply {
			panic(fmt.Sprintf("FATAL: asset*price overflow: %d", r))
		}
		return Asset{Amount: r, AssetID: p.Quote.AssetID}
	case p.Quote.AssetID:
		if p.Quote.Amount <= 0 {
			panic("FATAL: price quote amount must be positive")
		}
		r := mulDiv128(a.Amount, p.Base.Amount, p.Quote.Amount)
		if r > MaxSupply {
			panic(fmt.Sprintf("FATAL: asset*price overflow: %d", r))
		}
		return Asset{Amount: r, AssetID: p.Base.AssetID}
	default:
		panic(fmt.Sprintf("FATAL: asset %d not part of price %s", a.AssetID, p))
	}
}

// MulPriceCeil is MulPrice rounding up instead of truncating.
func (a Asset) MulPriceCeil(p Price) Asset {
	switch a.AssetID {
	case p.Base.AssetID:
		if p.Base.Amount <= 0 {
			panic("FATAL: price base amount must be positive")
		}
		r := mulDivCeil128(a.Amount, p.Quote.Amount, p.Base.Amount)
		if r > MaxSupply {
			panic(fmt.Sprintf("FATAL: asset*price overflow: %d", r))
		}
		return Asset{Amount: r, AssetID: p.Quote.AssetID}
	case p.Quote.AssetID:
		if p.Quote.Amount <= 0 {
			panic("FATAL: price quote amount must be positive")
		}
		r := mulDivCeil128(a.Amount, p.Base.Amount, p.Quote.Amount)
		if r > MaxSupply {
			panic(fmt.Sprintf("FATAL: asset*price overflow: %d", r))
		}
		return Asset{Amount: r, AssetID: p.Base.AssetID}
	default:
		panic(fmt.Sprintf("FATAL: asset %d not part of price %s", a.AssetID, p))
	}
}

var scaledPrecisionLUT = [19]int64{
	1, 10, 100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000, 100_000_000,
	1_000_000_000, 10_000_000_000, 100_000_000_000, 1_000_000_000_000,
	10_000_000_000_000, 100_000_000_000_000, 1_000_000_000_000_000,
	10_000_000_000_000_000, 100_000_000_000_000_000, 1_000_000_000_000_000_000,
}

// ScaledPrecision returns 10^precision.
func ScaledPrecision(precision uint8) int64 {
	if precision > 18 {
		panic(fmt.Sprintf("FATAL: precision out of range: %d", precision))
	}
	return scaledPrecisionLUT[precision]
}
