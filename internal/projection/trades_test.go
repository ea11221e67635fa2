package projection

import (
	"testing"

	"ChainCore/internal/protocol"
)

func fill(account protocol.AccountID, pays, receives protocol.Asset, maker bool) *protocol.FillOrderOp {
	return &protocol.FillOrderOp{
		OrderID:  protocol.OrderID(7).Object(),
		Account:  account,
		Pays:     pays,
		Receives: receives,
		IsMaker:  maker,
	}
}

func TestPairFillsCollapsesMatchedPair(t *testing.T) {
	usd := protocol.AssetID(1)
	ops := []protocol.Operation{
		fill(2, protocol.NewAsset(300, usd), protocol.CoreAsset(100), false), // taker
		fill(1, protocol.CoreAsset(100), protocol.NewAsset(300, usd), true),  // maker
	}
	trades := PairFills(5, 1000, ops)
	if len(trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades))
	}
	tr := trades[0]
	if tr.Maker != 1 || tr.Taker != 2 {
		t.Errorf("maker/taker = %d/%d, want 1/2", tr.Maker, tr.Taker)
	}
	if tr.BaseAsset != protocol.CoreAssetID || tr.QuoteAsset != usd {
		t.Errorf("pair = %d/%d, want core/usd", tr.BaseAsset, tr.QuoteAsset)
	}
	if tr.BaseAmount != 100 || tr.QuoteAmount != 300 {
		t.Errorf("amounts = %d/%d, want 100/300", tr.BaseAmount, tr.QuoteAmount)
	}
	if tr.Height != 5 || tr.BlockTime != 1000 {
		t.Errorf("trade location = %+v", tr)
	}
}

func TestPairFillsSkipsUnpairedFundRedemption(t *testing.T) {
	usd := protocol.AssetID(1)
	ops := []protocol.Operation{
		// Settlement-fund redemption has no mirrored counterpart.
		fill(9, protocol.NewAsset(50, usd), protocol.CoreAsset(25), false),
		fill(2, protocol.NewAsset(300, usd), protocol.CoreAsset(100), false),
		fill(1, protocol.CoreAsset(100), protocol.NewAsset(300, usd), true),
	}
	trades := PairFills(8, 2000, ops)
	if len(trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades))
	}
	if trades[0].Maker != 1 || trades[0].Taker != 2 {
		t.Errorf("paired the wrong fills: %+v", trades[0])
	}
}

func TestPairFillsIgnoresNonFillOps(t *testing.T) {
	ops := []protocol.Operation{
		&protocol.TransferOp{From: 1, To: 2, Amount: protocol.CoreAsset(10)},
	}
	if trades := PairFills(3, 100, ops); len(trades) != 0 {
		t.Fatalf("got %d trades from non-fill ops", len(trades))
	}
}

func TestPairFillsNumbersTradesInOrder(t *testing.T) {
	usd := protocol.AssetID(1)
	ops := []protocol.Operation{
		fill(2, protocol.NewAsset(300, usd), protocol.CoreAsset(100), false),
		fill(1, protocol.CoreAsset(100), protocol.NewAsset(300, usd), true),
		fill(4, protocol.NewAsset(60, usd), protocol.CoreAsset(20), false),
		fill(3, protocol.CoreAsset(20), protocol.NewAsset(60, usd), true),
	}
	trades := PairFills(12, 3000, ops)
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(trades))
	}
	if trades[0].TradeInBlock != 0 || trades[1].TradeInBlock != 1 {
		t.Errorf("trade numbering wrong: %d, %d", trades[0].TradeInBlock, trades[1].TradeInBlock)
	}
}
