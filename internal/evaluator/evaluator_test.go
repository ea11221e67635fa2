package evaluator

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"ChainCore/internal/market"
	"ChainCore/internal/protocol"
	"ChainCore/internal/state"
)

type fixture struct {
	db  *state.DB
	d   *Dispatcher
	mkt *market.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := state.NewDB()
	mkt := market.New(db, zerolog.Nop(), nil)
	f := &fixture{db: db, d: New(db, mkt, zerolog.Nop()), mkt: mkt}

	db.ModifyGlobalProperties(func(g *state.GlobalProperties) {
		g.Parameters = protocol.DefaultChainParameters()
	})
	db.ModifyDynamicGlobal(func(dg *state.DynamicGlobalProperties) {
		dg.Time = 1_000_000
	})
	db.CreateAsset("CORE", 5, 0, protocol.AssetOptions{MaxSupply: protocol.MaxSupply})
	return f
}

func (f *fixture) account(t *testing.T, name string, core int64) protocol.AccountID {
	t.Helper()
	id := f.db.CreateAccount(name, protocol.ProxyToSelf).ID
	if core > 0 {
		f.db.ModifyDynamicData(protocol.CoreAssetID, func(dd *state.AssetDynamicData) {
			dd.CurrentSupply += core
		})
		f.db.AdjustBalance(id, protocol.CoreAsset(core))
	}
	return id
}

// apply runs an operation the way the block engine does, with rollback on
// rejection.
func (f *fixture) apply(t *testing.T, op protocol.Operation) {
	t.Helper()
	s := f.db.StartUndoSession()
	if err := f.d.Apply(op); err != nil {
		s.Undo()
		t.Fatalf("%s rejected: %v", op.Type(), err)
	}
	s.Commit()
}

func (f *fixture) mustReject(t *testing.T, op protocol.Operation, wantSub string) {
	t.Helper()
	s := f.db.StartUndoSession()
	err := f.d.Apply(op)
	s.Undo()
	if err == nil {
		t.Fatalf("%s unexpectedly accepted", op.Type())
	}
	if wantSub != "" && !strings.Contains(err.Error(), wantSub) {
		t.Fatalf("%s rejected with %q, want substring %q", op.Type(), err, wantSub)
	}
}

func (f *fixture) balance(t *testing.T, account protocol.AccountID, asset protocol.AssetID, want int64) {
	t.Helper()
	if got := f.db.GetBalance(account, asset).Amount; got != want {
		t.Fatalf("account %d asset %d balance = %d, want %d", account, asset, got, want)
	}
}

func (f *fixture) check(t *testing.T) {
	t.Helper()
	if err := state.NewInvariantChecker(f.db).CheckAll(); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
}

func coreAsset(amount int64) protocol.Asset { return protocol.CoreAsset(amount) }

func uiaOptions() protocol.AssetOptions {
	return protocol.AssetOptions{
		MaxSupply:        protocol.MaxSupply,
		CoreExchangeRate: protocol.Price{Base: protocol.NewAsset(1, 1), Quote: protocol.NewAsset(1, 0)},
	}
}

func TestTransferChargesFee(t *testing.T) {
	f := newFixture(t)
	alice := f.account(t, "alice", 1000)
	bob := f.account(t, "bob", 0)

	f.apply(t, &protocol.TransferOp{Fee: coreAsset(20), From: alice, To: bob, Amount: coreAsset(500)})

	f.balance(t, alice, protocol.CoreAssetID, 480)
	f.balance(t, bob, protocol.CoreAssetID, 500)
	if got := f.db.DynamicGlobal().AccumulatedFees; got != 20 {
		t.Fatalf("network fees = %d, want 20", got)
	}
	if got := f.db.MustAccount(alice).LifetimeFeesPaid; got != 20 {
		t.Fatalf("lifetime fees = %d, want 20", got)
	}
	f.check(t)
}

func TestUnderpaidFeeRejectedWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	alice := f.account(t, "alice", 1000)
	bob := f.account(t, "bob", 0)

	f.mustReject(t, &protocol.TransferOp{Fee: coreAsset(1), From: alice, To: bob, Amount: coreAsset(500)},
		"below required")
	f.balance(t, alice, protocol.CoreAssetID, 1000)
	f.balance(t, bob, protocol.CoreAssetID, 0)
	f.check(t)
}

func TestOverdraftRejectedAndRolledBack(t *testing.T) {
	f := newFixture(t)
	alice := f.account(t, "alice", 100)
	bob := f.account(t, "bob", 0)

	// Fee passes, the amount itself does not; the fee debit must roll back.
	f.mustReject(t, &protocol.TransferOp{Fee: coreAsset(20), From: alice, To: bob, Amount: coreAsset(500)},
		"need 500")
	f.balance(t, alice, protocol.CoreAssetID, 100)
	if got := f.db.DynamicGlobal().AccumulatedFees; got != 0 {
		t.Fatalf("network fees = %d after rejection, want 0", got)
	}
	f.check(t)
}

func TestAssetCreateSymbolOwnership(t *testing.T) {
	f := newFixture(t)
	alice := f.account(t, "alice", 200000)
	mallory := f.account(t, "mallory", 200000)

	f.apply(t, &protocol.AssetCreateOp{
		Fee: coreAsset(50000), Issuer: alice, Symbol: "GOLD", Precision: 4, Common: uiaOptions(),
	})
	f.mustReject(t, &protocol.AssetCreateOp{
		Fee: coreAsset(50000), Issuer: mallory, Symbol: "GOLD", Precision: 4, Common: uiaOptions(),
	}, "taken")
	f.mustReject(t, &protocol.AssetCreateOp{
		Fee: coreAsset(50000), Issuer: mallory, Symbol: "GOLD.BAR", Precision: 4, Common: uiaOptions(),
	}, "its issuer")
	f.apply(t, &protocol.AssetCreateOp{
		Fee: coreAsset(50000), Issuer: alice, Symbol: "GOLD.BAR", Precision: 4, Common: uiaOptions(),
	})
	f.check(t)
}

func TestIssueReserveAndClaims(t *testing.T) {
	f := newFixture(t)
	alice := f.account(t, "alice", 100000)
	bob := f.account(t, "bob", 1000)

	f.apply(t, &protocol.AssetCreateOp{
		Fee: coreAsset(50000), Issuer: alice, Symbol: "GOLD", Precision: 4, Common: uiaOptions(),
	})
	gold := f.db.FindAssetBySymbol("GOLD").ID

	f.apply(t, &protocol.AssetIssueOp{
		Fee: coreAsset(20), Issuer: alice, AssetToIssue: protocol.NewAsset(5000, gold), IssueTo: bob,
	})
	f.balance(t, bob, gold, 5000)
	if got := f.db.DynamicData(gold).CurrentSupply; got != 5000 {
		t.Fatalf("supply = %d, want 5000", got)
	}

	f.mustReject(t, &protocol.AssetIssueOp{
		Fee: coreAsset(20), Issuer: bob, AssetToIssue: protocol.NewAsset(1, gold), IssueTo: bob,
	}, "controlled by")

	f.apply(t, &protocol.AssetReserveOp{
		Fee: coreAsset(20), Payer: bob, AmountToReserve: protocol.NewAsset(1000, gold),
	})
	f.balance(t, bob, gold, 4000)
	if got := f.db.DynamicData(gold).CurrentSupply; got != 4000 {
		t.Fatalf("supply = %d after reserve, want 4000", got)
	}

	// Fund the fee pool, then pay a transfer fee in GOLD at the 1:1 rate.
	f.apply(t, &protocol.AssetFundFeePoolOp{Fee: coreAsset(20), From: alice, AssetID: gold, Amount: 500})
	if got := f.db.DynamicData(gold).FeePool; got != 500 {
		t.Fatalf("fee pool = %d, want 500", got)
	}
	f.apply(t, &protocol.TransferOp{
		Fee: protocol.NewAsset(30, gold), From: bob, To: alice, Amount: protocol.NewAsset(100, gold),
	})
	dyn := f.db.DynamicData(gold)
	if dyn.FeePool != 470 || dyn.AccumulatedFees != 30 {
		t.Fatalf("pool/fees after asset-denominated fee = %d/%d, want 470/30", dyn.FeePool, dyn.AccumulatedFees)
	}

	f.apply(t, &protocol.AssetClaimFeesOp{
		Fee: coreAsset(20), Issuer: alice, AmountToClaim: protocol.NewAsset(30, gold),
	})
	f.balance(t, alice, gold, 130)
	f.apply(t, &protocol.AssetClaimPoolOp{
		Fee: coreAsset(20), Issuer: alice, AssetID: gold, AmountToClaim: coreAsset(470),
	})
	if got := f.db.DynamicData(gold).FeePool; got != 0 {
		t.Fatalf("fee pool after claim = %d, want 0", got)
	}
	f.check(t)
}

// backedFixture builds a feed-producer-fed backed asset with one feed at
// 1 debt : 10 core.
func backedFixture(t *testing.T, f *fixture) (protocol.AssetID, protocol.AccountID, protocol.AccountID) {
	t.Helper()
	issuer := f.account(t, "issuer", 200000)
	producer := f.account(t, "producer", 1000)

	backedOpts := protocol.DefaultBackedAssetOptions()
	f.apply(t, &protocol.AssetCreateOp{
		Fee: coreAsset(50000), Issuer: issuer, Symbol: "USD", Precision: 4,
		Common: protocol.AssetOptions{
			MaxSupply:         protocol.MaxSupply,
			IssuerPermissions: protocol.FlagGlobalSettle,
			CoreExchangeRate:  protocol.Price{Base: protocol.NewAsset(1, 1), Quote: protocol.NewAsset(1, 0)},
		},
		BackedOpts: &backedOpts,
	})
	usd := f.db.FindAssetBySymbol("USD").ID

	f.apply(t, &protocol.AssetUpdateFeedProducersOp{
		Fee: coreAsset(500), Issuer: issuer, AssetToUpdate: usd, NewProducers: []protocol.AccountID{producer},
	})
	feed := protocol.DefaultPriceFeed()
	feed.SettlementPrice = protocol.Price{
		Base:  protocol.NewAsset(1, usd),
		Quote: protocol.NewAsset(10, protocol.CoreAssetID),
	}
	f.apply(t, &protocol.AssetPublishFeedOp{Fee: coreAsset(1), Publisher: producer, AssetID: usd, Feed: feed})
	return usd, issuer, producer
}

func TestBorrowCoverAndClose(t *testing.T) {
	f := newFixture(t)
	usd, _, _ := backedFixture(t, f)
	borrower := f.account(t, "borrower", 40000)

	f.apply(t, &protocol.CallOrderUpdateOp{
		Fee:             coreAsset(20),
		FundingAccount:  borrower,
		DeltaCollateral: coreAsset(30000),
		DeltaDebt:       protocol.NewAsset(1000, usd),
	})
	f.balance(t, borrower, usd, 1000)
	call := f.db.FindCallOrderFor(borrower, usd)
	if call == nil || call.Debt != 1000 || call.Collateral != 30000 {
		t.Fatalf("position = %+v, want 1000 debt / 30000 collateral", call)
	}
	f.check(t)

	// Undercollateralized borrow is rejected: 1000 more debt needs 17500
	// more core at the 17.5 maintenance collateralization.
	f.mustReject(t, &protocol.CallOrderUpdateOp{
		Fee:             coreAsset(20),
		FundingAccount:  borrower,
		DeltaCollateral: coreAsset(0),
		DeltaDebt:       protocol.NewAsset(1000, usd),
	}, "maintenance")

	f.apply(t, &protocol.CallOrderUpdateOp{
		Fee:             coreAsset(20),
		FundingAccount:  borrower,
		DeltaCollateral: coreAsset(-10000),
		DeltaDebt:       protocol.NewAsset(-500, usd),
	})
	call = f.db.FindCallOrderFor(borrower, usd)
	if call.Debt != 500 || call.Collateral != 20000 {
		t.Fatalf("position = %+v after cover, want 500/20000", call)
	}

	f.apply(t, &protocol.CallOrderUpdateOp{
		Fee:             coreAsset(20),
		FundingAccount:  borrower,
		DeltaCollateral: coreAsset(-20000),
		DeltaDebt:       protocol.NewAsset(-500, usd),
	})
	if f.db.FindCallOrderFor(borrower, usd) != nil {
		t.Fatal("position should be closed")
	}
	if got := f.db.DynamicData(usd).CurrentSupply; got != 0 {
		t.Fatalf("supply = %d after close, want 0", got)
	}
	f.check(t)
}

func TestLimitOrderLifecycleDefersFee(t *testing.T) {
	f := newFixture(t)
	usd, _, _ := backedFixture(t, f)
	borrower := f.account(t, "borrower", 40000)
	f.apply(t, &protocol.CallOrderUpdateOp{
		Fee:             coreAsset(20),
		FundingAccount:  borrower,
		DeltaCollateral: coreAsset(30000),
		DeltaDebt:       protocol.NewAsset(1000, usd),
	})

	f.apply(t, &protocol.LimitOrderCreateOp{
		Fee:          coreAsset(5),
		Seller:       borrower,
		AmountToSell: protocol.NewAsset(100, usd),
		MinToReceive: coreAsset(1200),
	})
	orders := f.db.LimitOrdersByAccount(borrower)
	if len(orders) != 1 || orders[0].DeferredFee != 5 {
		t.Fatalf("orders = %+v, want one with 5 deferred fee", orders)
	}
	feesBefore := f.db.DynamicGlobal().AccumulatedFees

	f.apply(t, &protocol.LimitOrderCancelOp{Fee: coreAsset(1), Payer: borrower, Order: orders[0].ID})
	if got := f.db.DynamicGlobal().AccumulatedFees - feesBefore; got != 1 {
		t.Fatalf("cancel collected %d, want only the 1 cancel fee", got)
	}
	f.balance(t, borrower, usd, 1000)
	f.check(t)

	// A fill-or-kill order against an empty book bounces entirely.
	before := f.db.GetBalance(borrower, protocol.CoreAssetID).Amount
	f.mustReject(t, &protocol.LimitOrderCreateOp{
		Fee:          coreAsset(5),
		Seller:       borrower,
		AmountToSell: protocol.NewAsset(100, usd),
		MinToReceive: coreAsset(1200),
		FillOrKill:   true,
	}, "fill-or-kill")
	f.balance(t, borrower, protocol.CoreAssetID, before)
	if got := f.db.LimitOrdersByAccount(borrower); len(got) != 0 {
		t.Fatalf("orders after rejected fill-or-kill: %d", len(got))
	}
	f.check(t)
}

func TestPublishFeedAuthorizationAndCascade(t *testing.T) {
	f := newFixture(t)
	usd, _, producer := backedFixture(t, f)
	outsider := f.account(t, "outsider", 1000)
	borrower := f.account(t, "borrower", 40000)
	buyer := f.account(t, "buyer", 50000)

	feed := protocol.DefaultPriceFeed()
	feed.SettlementPrice = protocol.Price{
		Base:  protocol.NewAsset(1, usd),
		Quote: protocol.NewAsset(10, protocol.CoreAssetID),
	}
	f.mustReject(t, &protocol.AssetPublishFeedOp{
		Fee: coreAsset(1), Publisher: outsider, AssetID: usd, Feed: feed,
	}, "not an appointed feed producer")

	// Borrow at a healthy ratio, park a bid the margin call can eat, then
	// drop the feed so the position goes under.
	f.apply(t, &protocol.CallOrderUpdateOp{
		Fee:             coreAsset(20),
		FundingAccount:  borrower,
		DeltaCollateral: coreAsset(30000),
		DeltaDebt:       protocol.NewAsset(1000, usd),
	})
	f.apply(t, &protocol.TransferOp{Fee: coreAsset(20), From: borrower, To: buyer, Amount: protocol.NewAsset(1000, usd)})
	f.apply(t, &protocol.LimitOrderCreateOp{
		Fee:          coreAsset(5),
		Seller:       buyer,
		AmountToSell: protocol.NewAsset(1000, usd),
		MinToReceive: coreAsset(15000),
	})

	// 30000/1000 = 30 collateralization; at 1:18 the bar is 18*1.75 = 31.5,
	// squeeze price 18*1.1 = 19.8 core per debt, so the position is called
	// and the resting offer at 15 core per debt is acceptable.
	drop := protocol.DefaultPriceFeed()
	drop.SettlementPrice = protocol.Price{
		Base:  protocol.NewAsset(1, usd),
		Quote: protocol.NewAsset(18, protocol.CoreAssetID),
	}
	f.apply(t, &protocol.AssetPublishFeedOp{Fee: coreAsset(1), Publisher: producer, AssetID: usd, Feed: drop})

	if f.db.FindCallOrderFor(borrower, usd) != nil {
		t.Fatal("position should be fully taken out by the margin call")
	}
	if got := f.db.DynamicData(usd).CurrentSupply; got != 0 {
		t.Fatalf("supply = %d after full cover, want 0", got)
	}
	f.check(t)
}

func TestGlobalSettleThenInstantSettle(t *testing.T) {
	f := newFixture(t)
	usd, issuer, _ := backedFixture(t, f)
	borrower := f.account(t, "borrower", 40000)
	f.apply(t, &protocol.CallOrderUpdateOp{
		Fee:             coreAsset(20),
		FundingAccount:  borrower,
		DeltaCollateral: coreAsset(30000),
		DeltaDebt:       protocol.NewAsset(1000, usd),
	})

	// 1 usd : 20 core would need 20000 of the 30000 collateral.
	f.apply(t, &protocol.AssetGlobalSettleOp{
		Fee: coreAsset(500), Issuer: issuer, AssetToSettle: usd,
		SettlePrice: protocol.Price{
			Base:  protocol.NewAsset(1, usd),
			Quote: protocol.NewAsset(20, protocol.CoreAssetID),
		},
	})
	bd := f.db.BackedData(usd)
	if !bd.HasSettlement() || bd.SettlementFund != 20000 {
		t.Fatalf("settlement fund = %d, want 20000", bd.SettlementFund)
	}
	// The borrower got the 10000 excess collateral back.
	f.balance(t, borrower, protocol.CoreAssetID, 40000-20-30000+10000)

	f.mustReject(t, &protocol.CallOrderUpdateOp{
		Fee:             coreAsset(20),
		FundingAccount:  borrower,
		DeltaCollateral: coreAsset(1000),
		DeltaDebt:       protocol.NewAsset(10, usd),
	}, "globally settled")

	f.apply(t, &protocol.AssetSettleOp{
		Fee: coreAsset(100), Account: borrower, Amount: protocol.NewAsset(1000, usd),
	})
	if got := f.db.DynamicData(usd).CurrentSupply; got != 0 {
		t.Fatalf("supply = %d after redemption, want 0", got)
	}
	if got := f.db.BackedData(usd).SettlementFund; got != 0 {
		t.Fatalf("fund = %d after full redemption, want 0", got)
	}
	f.check(t)
}

func TestDeferredSettlementMatures(t *testing.T) {
	f := newFixture(t)
	usd, _, _ := backedFixture(t, f)
	borrower := f.account(t, "borrower", 40000)
	f.apply(t, &protocol.CallOrderUpdateOp{
		Fee:             coreAsset(20),
		FundingAccount:  borrower,
		DeltaCollateral: coreAsset(30000),
		DeltaDebt:       protocol.NewAsset(1000, usd),
	})

	f.apply(t, &protocol.AssetSettleOp{
		Fee: coreAsset(100), Account: borrower, Amount: protocol.NewAsset(100, usd),
	})
	queue := f.db.ForceSettlementsByDate(usd)
	if len(queue) != 1 {
		t.Fatalf("settlement queue length = %d, want 1", len(queue))
	}
	wantDate := f.db.HeadTime() + protocol.SecondsPerDay
	if queue[0].SettlementDate != wantDate {
		t.Fatalf("settlement date = %d, want %d", queue[0].SettlementDate, wantDate)
	}
	f.balance(t, borrower, usd, 900)
	f.check(t)
}
