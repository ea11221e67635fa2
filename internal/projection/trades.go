package projection

import (
	"ChainCore/internal/protocol"
)

// Trade is one matched pair of fills collapsed into a single record.
// Amounts are quoted from the maker's side: the maker paid BaseAmount
// of BaseAsset and received QuoteAmount of QuoteAsset.
type Trade struct {
	Height       uint64
	TradeInBlock int
	BlockTime    int64
	Maker        protocol.AccountID
	Taker        protocol.AccountID
	MakerOrder   string
	TakerOrder   string
	BaseAsset    protocol.AssetID
	QuoteAsset   protocol.AssetID
	BaseAmount   int64
	QuoteAmount  int64
	MakerFee     int64
	TakerFee     int64
}

// PairFills folds a block's fill operations into trades. The matching
// engine emits the two sides of every match back to back, so a pair is
// two consecutive fills whose pays and receives mirror each other.
// Fills without a counterpart (settlement-fund redemptions) are skipped.
func PairFills(height uint64, blockTime int64, ops []protocol.Operation) []Trade {
	var fills []*protocol.FillOrderOp
	for _, op := range ops {
		if f, ok := op.(*protocol.FillOrderOp); ok {
			fills = append(fills, f)
		}
	}

	var trades []Trade
	for i := 0; i+1 < len(fills); {
		a, b := fills[i], fills[i+1]
		if !mirrored(a, b) {
			i++
			continue
		}
		maker, taker := a, b
		if !maker.IsMaker {
			maker, taker = b, a
		}
		trades = append(trades, Trade{
			Height:       height,
			TradeInBlock: len(trades),
			BlockTime:    blockTime,
			Maker:        maker.Account,
			Taker:        taker.Account,
			MakerOrder:   maker.OrderID.String(),
			TakerOrder:   taker.OrderID.String(),
			BaseAsset:    maker.Pays.AssetID,
			QuoteAsset:   maker.Receives.AssetID,
			BaseAmount:   maker.Pays.Amount,
			QuoteAmount:  maker.Receives.Amount,
			MakerFee:     maker.Fee.Amount,
			TakerFee:     taker.Fee.Amount,
		})
		i += 2
	}
	return trades
}

func mirrored(a, b *protocol.FillOrderOp) bool {
	return a.Pays.AssetID == b.Receives.AssetID &&
		a.Receives.AssetID == b.Pays.AssetID &&
		a.Pays.Amount == b.Receives.Amount &&
		a.Receives.Amount == b.Pays.Amount &&
		a.IsMaker != b.IsMaker
}
