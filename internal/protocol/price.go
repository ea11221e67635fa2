package protocol

import (
	"fmt"
	"math/big"
)

// Price is an exchange rate expressed as a ratio of two asset amounts.
// base.Amount/quote.Amount is the price of quote in units of base. Prices
// are compared by cross multiplication with 128-bit intermediates so no
// precision is ever lost.
type Price struct {
	Base  Asset `json:"base"`
	Quote Asset `json:"quote"`
}

func NewPrice(base, quote Asset) Price { return Price{Base: base, Quote: quote} }

// Ratio is an exact rational scale factor applied to prices.
type Ratio struct {
	Numerator   int64
	Denominator int64
}

func (p Price) String() string {
	return fmt.Sprintf("%d[%d]/%d[%d]", p.Base.Amount, p.Base.AssetID, p.Quote.Amount, p.Quote.AssetID)
}

// IsNil reports whether the price is the zero value.
func (p Price) IsNil() bool {
	return p.Base.Amount == 0 && p.Quote.Amount == 0
}

// Validate returns an error unless the price is well formed: both amounts
// positive and the two sides in distinct assets.
func (p Price) Validate() error {
	if p.Base.Amount <= 0 {
		return fmt.Errorf("price base amount must be positive, got %d", p.Base.Amount)
	}
	if p.Quote.Amount <= 0 {
		return fmt.Errorf("price quote amount must be positive, got %d", p.Quote.Amount)
	}
	if p.Base.AssetID == p.Quote.AssetID {
		return fmt.Errorf("price base and quote must be distinct assets, got %d", p.Base.AssetID)
	}
	return nil
}

func (p Price) mustMatch(o Price) {
	if p.Base.AssetID != o.Base.AssetID || p.Quote.AssetID != o.Quote.AssetID {
		panic(fmt.Sprintf("FATAL: comparing prices of different markets: %s vs %s", p, o))
	}
}

// Cmp compares two prices over the same market. It returns -1, 0 or 1.
func (p Price) Cmp(o Price) int {
	p.mustMatch(o)
	l := getWide()
	r := getWide()
	tmp := getWide()
	l.Mul(l.SetInt64(p.Base.Amount), tmp.SetInt64(o.Quote.Amount))
	r.Mul(r.SetInt64(o.Base.Amount), tmp.SetInt64(p.Quote.Amount))
	c := l.Cmp(r)
	putWide(l)
	putWide(r)
	putWide(tmp)
	return c
}

func (p Price) Less(o Price) bool    { return p.Cmp(o) < 0 }
func (p Price) Greater(o Price) bool { return p.Cmp(o) > 0 }
func (p Price) Equal(o Price) bool   { return p.Cmp(o) == 0 }

// Invert swaps base and quote.
func (p Price) Invert() Price { return Price{Base: p.Quote, Quote: p.Base} }

// PriceMax is the highest representable price of quote in units of base.
func PriceMax(base, quote AssetID) Price {
	return Price{Base: Asset{Amount: MaxSupply, AssetID: base}, Quote: Asset{Amount: 1, AssetID: quote}}
}

// PriceMin is the lowest representable price of quote in units of base.
func PriceMin(base, quote AssetID) Price {
	return Price{Base: Asset{Amount: 1, AssetID: base}, Quote: Asset{Amount: MaxSupply, AssetID: quote}}
}

// UnitPrice is the identity price of an asset against itself, used as the
// null core exchange rate for the core asset.
func UnitPrice(id AssetID) Price {
	return Price{Base: Asset{Amount: 1, AssetID: id}, Quote: Asset{Amount: 1, AssetID: id}}
}

// MulRatio scales a price by an exact rational factor. The product is
// reduced by its gcd, then halved until both sides fit in the supply range.
// If the rounding from halving would move the price past the original in
// the wrong direction, the original price is returned unchanged.
func (p Price) MulRatio(r Ratio) Price {
	if err := p.Validate(); err != nil {
		panic("FATAL: " + err.Error())
	}
	if r.Numerator <= 0 || r.Denominator <= 0 {
		panic(fmt.Sprintf("FATAL: ratio must be positive: %d/%d", r.Numerator, r.Denominator))
	}

	base := getWide()
	quote := getWide()
	tmp := getWide()
	base.Mul(base.SetInt64(p.Base.Amount), tmp.SetInt64(r.Numerator))
	quote.Mul(quote.SetInt64(p.Quote.Amount), tmp.SetInt64(r.Denominator))

	tmp.GCD(nil, nil, base, quote)
	base.Quo(base, tmp)
	quote.Quo(quote, tmp)

	maxShare := tmp.SetInt64(MaxSupply)
	shrank := false
	for base.Cmp(maxShare) > 0 || quote.Cmp(maxShare) > 0 {
		base.Rsh(base, 1)
		quote.Rsh(quote, 1)
		shrank = true
	}
	if base.Sign() == 0 {
		base.SetInt64(1)
	}
	if quote.Sign() == 0 {
		quote.SetInt64(1)
	}

	np := Price{
		Base:  Asset{Amount: base.Int64(), AssetID: p.Base.AssetID},
		Quote: Asset{Amount: quote.Int64(), AssetID: p.Quote.AssetID},
	}
	putWide(base)
	putWide(quote)
	putWide(tmp)

	if shrank {
		// Accuracy loss must never flip the direction of the adjustment.
		flipped := false
		if r.Numerator > r.Denominator {
			flipped = np.Less(p)
		} else if r.Numerator < r.Denominator {
			flipped = np.Greater(p)
		}
		if flipped {
			return p
		}
	}
	return np
}

// CallPrice computes the margin call trigger price for a debt position:
// debt*ratio/denom units of debt per unit of collateral. The rational is
// kept reduced and halved with a +1 bias until both sides fit.
func CallPrice(debt, collateral Asset, collateralRatio uint16) Price {
	num := getWide()
	den := getWide()
	tmp := getWide()
	num.Mul(num.SetInt64(debt.Amount), tmp.SetInt64(int64(collateralRatio)))
	den.Mul(den.SetInt64(collateral.Amount), tmp.SetInt64(int64(CollateralRatioDenom)))

	tmp.GCD(nil, nil, num, den)
	num.Quo(num, tmp)
	den.Quo(den, tmp)

	one := getWide().SetInt64(1)
	maxShare := tmp.SetInt64(MaxSupply)
	for num.Cmp(maxShare) > 0 || den.Cmp(maxShare) > 0 {
		num.Rsh(num, 1)
		num.Add(num, one)
		den.Rsh(den, 1)
		den.Add(den, one)
		g := new(big.Int).GCD(nil, nil, num, den)
		num.Quo(num, g)
		den.Quo(den, g)
	}

	p := Price{
		Base:  Asset{Amount: num.Int64(), AssetID: debt.AssetID},
		Quote: Asset{Amount: den.Int64(), AssetID: collateral.AssetID},
	}
	putWide(num)
	putWide(den)
	putWide(tmp)
	putWide(one)
	return p
}
