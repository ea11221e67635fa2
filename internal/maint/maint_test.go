package maint

import (
	"testing"

	"github.com/rs/zerolog"

	"ChainCore/internal/market"
	"ChainCore/internal/protocol"
	"ChainCore/internal/state"
)

type fixture struct {
	db  *state.DB
	m   *Engine
	mkt *market.Engine
}

// newFixture seeds the core asset, default parameters and a head time
// sitting exactly on a maintenance boundary.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := state.NewDB()
	mkt := market.New(db, zerolog.Nop(), nil)
	f := &fixture{db: db, m: New(db, mkt, zerolog.Nop()), mkt: mkt}

	db.CreateAsset("CORE", 5, 0, protocol.AssetOptions{MaxSupply: protocol.MaxSupply})
	db.ModifyGlobalProperties(func(g *state.GlobalProperties) {
		g.Parameters = protocol.DefaultChainParameters()
	})
	db.ModifyDynamicGlobal(func(dg *state.DynamicGlobalProperties) {
		dg.Time = 1_000_000
		dg.NextMaintenanceTime = 1_000_000
	})
	return f
}

func (f *fixture) account(name string, core int64) protocol.AccountID {
	id := f.db.CreateAccount(name, protocol.ProxyToSelf).ID
	if core > 0 {
		f.db.ModifyDynamicData(protocol.CoreAssetID, func(dd *state.AssetDynamicData) {
			dd.CurrentSupply += core
		})
		f.db.AdjustBalance(id, protocol.CoreAsset(core))
	}
	return id
}

func (f *fixture) vote(account protocol.AccountID, votes ...protocol.VoteID) {
	f.db.ModifyAccount(account, func(a *state.Account) {
		a.Votes = votes
	})
}

func (f *fixture) advance(dt int64) {
	f.db.ModifyDynamicGlobal(func(dg *state.DynamicGlobalProperties) {
		dg.Time += dt
	})
}

func (f *fixture) check(t *testing.T) {
	t.Helper()
	if err := state.NewInvariantChecker(f.db).CheckAll(); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
}

func TestFeeSplitAndBudgetRecord(t *testing.T) {
	f := newFixture(t)
	f.account("alice", 100000)

	// A fee pot of 10000 sits outside any balance but inside the supply.
	f.db.ModifyDynamicData(protocol.CoreAssetID, func(dd *state.AssetDynamicData) {
		dd.CurrentSupply += 10000
	})
	f.db.ModifyDynamicGlobal(func(dg *state.DynamicGlobalProperties) {
		dg.AccumulatedFees = 10000
	})
	supplyBefore := f.db.DynamicData(protocol.CoreAssetID).CurrentSupply

	f.m.Run()

	rec := f.db.LastBudgetRecord()
	if rec == nil {
		t.Fatal("no budget record written")
	}
	if rec.TimeSinceLastBudget != 86400 {
		t.Fatalf("budget interval = %d, want 86400", rec.TimeSinceLastBudget)
	}
	// Network keeps 20% of the pot, the rest returns to the reserve.
	if rec.FromAccumulatedFees != 2000 {
		t.Fatalf("fee income = %d, want 2000", rec.FromAccumulatedFees)
	}
	if rec.TotalBudget != rec.FromInitialReserve+rec.FromAccumulatedFees+rec.FromUnusedProducerPay {
		t.Fatalf("budget record does not add up: %+v", rec)
	}
	// 86400s at one block per 5s, 1000 per block.
	if rec.ProducerBudget != 17_280_000 {
		t.Fatalf("producer budget = %d, want 17280000", rec.ProducerBudget)
	}
	if rec.WorkerBudget != 50_000_000 {
		t.Fatalf("worker budget = %d, want 50000000", rec.WorkerBudget)
	}

	dg := f.db.DynamicGlobal()
	if dg.AccumulatedFees != 0 {
		t.Fatalf("fee pot = %d after maintenance, want 0", dg.AccumulatedFees)
	}
	if dg.ProducerBudget != 17_280_000 {
		t.Fatalf("producer allowance = %d, want 17280000", dg.ProducerBudget)
	}
	// Supply lost the 8000 reserve share and gained the minted producer pay.
	wantSupply := supplyBefore - 8000 + 17_280_000 - 2000
	if got := f.db.DynamicData(protocol.CoreAssetID).CurrentSupply; got != wantSupply {
		t.Fatalf("core supply = %d, want %d", got, wantSupply)
	}
	f.check(t)
}

func TestElectionRanksByVotesWithIdTieBreak(t *testing.T) {
	f := newFixture(t)
	a := f.account("a", 1000)
	b := f.account("b", 600)
	c := f.account("c", 400)
	d := f.account("d", 1000)

	var vals []*state.Validator
	for i := 0; i < 4; i++ {
		acct := f.account("cand", 0)
		vals = append(vals, f.db.CreateValidator(acct, protocol.VoteID(i+1)))
	}
	f.vote(a, 1, 2, 3)
	f.vote(b, 1)
	f.vote(c, 2)
	f.vote(d, 4)

	f.m.Run()

	// v1=1600, v2=1400, v3=1000, v4=1000; the tie goes to the lower id.
	got := f.db.GlobalProperties().ActiveProducers
	want := []protocol.ValidatorID{vals[0].ID, vals[1].ID, vals[2].ID}
	if len(got) != len(want) {
		t.Fatalf("elected %d producers, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("producers = %v, want %v", got, want)
		}
	}
	if f.db.FindValidator(vals[0].ID).TotalVotes != 1600 {
		t.Fatalf("top validator votes = %d, want 1600", f.db.FindValidator(vals[0].ID).TotalVotes)
	}
	f.check(t)
}

func TestDesiredCountHistogram(t *testing.T) {
	// Stake at count 1 holds the majority, so 1 wins, then the floor and
	// odd rules apply downstream.
	got := desiredCount(map[int]uint64{1: 100, 3: 200, 5: 50}, 350, 1, 101)
	if got != 3 {
		t.Fatalf("desired count = %d, want 3", got)
	}
	got = desiredCount(map[int]uint64{2: 1000}, 1000, 1, 101)
	if got != 3 {
		t.Fatalf("even counts round up, got %d, want 3", got)
	}
	got = desiredCount(nil, 0, 11, 1001)
	if got != 11 {
		t.Fatalf("empty histogram falls to the floor, got %d, want 11", got)
	}
}

func TestVoteProxyAddsStakeToProxyChoices(t *testing.T) {
	f := newFixture(t)
	proxy := f.account("proxy", 500)
	follower := f.account("follower", 1000)
	f.db.ModifyAccount(follower, func(a *state.Account) {
		a.VotingAccount = proxy
	})

	cand := f.account("cand", 0)
	v := f.db.CreateValidator(cand, 1)
	f.vote(proxy, 1)

	f.m.Run()

	if got := f.db.FindValidator(v.ID).TotalVotes; got != 1500 {
		t.Fatalf("proxied votes = %d, want 1500", got)
	}
	f.check(t)
}

func TestWorkerPayPrioritizesVotesAndMintsVesting(t *testing.T) {
	f := newFixture(t)
	rich := f.account("rich", 10000)
	poor := f.account("poor", 100)
	owner := f.account("owner", 0)

	now := f.db.HeadTime()
	vesting := f.db.CreateWorker(state.Worker{
		Account: owner, VoteFor: 10, DailyPay: 1_000_000,
		BeginDate: now, EndDate: now + 10*86400, Kind: state.WorkerVesting,
	})
	refund := f.db.CreateWorker(state.Worker{
		Account: owner, VoteFor: 11, DailyPay: 2_000_000,
		BeginDate: now, EndDate: now + 10*86400, Kind: state.WorkerRefund,
	})
	f.vote(rich, 11)
	f.vote(poor, 10)

	// First pass computes the worker budget, second pass spends it.
	f.m.Run()
	f.advance(86400)
	f.m.Run()

	if got := f.db.FindWorker(refund.ID).TotalVotesFor; got != 10000 {
		t.Fatalf("refund worker votes = %d, want 10000", got)
	}
	if got := f.db.FindWorker(refund.ID).Balance; got != 0 {
		t.Fatalf("refund worker accrued %d, want 0", got)
	}
	if got := f.db.FindWorker(vesting.ID).Balance; got != 1_000_000 {
		t.Fatalf("vesting worker accrued %d, want a full day of pay", got)
	}
	f.check(t)
}

func TestMaintenanceTimeAlignsToGrid(t *testing.T) {
	f := newFixture(t)
	f.account("alice", 1000)

	// Three and a half intervals of dead air collapse into one pass that
	// lands on the next grid point.
	f.advance(3*86400 + 43200)
	f.m.Run()

	want := int64(1_000_000 + 4*86400)
	if got := f.db.DynamicGlobal().NextMaintenanceTime; got != want {
		t.Fatalf("next maintenance = %d, want %d", got, want)
	}
	if got := f.db.DynamicGlobal().NextMaintenanceTime; got <= f.db.HeadTime() {
		t.Fatal("next maintenance time must be strictly in the future")
	}
}

func TestPendingParametersSwapInAtBoundary(t *testing.T) {
	f := newFixture(t)
	f.account("alice", 1000)

	pending := protocol.DefaultChainParameters()
	pending.ProducerPayPerBlock = 777
	f.db.ModifyGlobalProperties(func(g *state.GlobalProperties) {
		g.PendingParameters = &pending
	})

	f.m.Run()

	g := f.db.GlobalProperties()
	if g.PendingParameters != nil {
		t.Fatal("pending parameters not consumed")
	}
	if g.Parameters.ProducerPayPerBlock != 777 {
		t.Fatalf("producer pay = %d, want the voted 777", g.Parameters.ProducerPayPerBlock)
	}
}

func TestHousekeepingExpiresStaleFeedsAndResetsVolume(t *testing.T) {
	f := newFixture(t)
	issuer := f.account("issuer", 1000)
	p1 := f.account("p1", 0)
	p2 := f.account("p2", 0)

	a := f.db.CreateAsset("USD", 4, issuer, protocol.AssetOptions{
		MaxSupply:         protocol.MaxSupply,
		IssuerPermissions: protocol.FlagProducerFed,
		Flags:             protocol.FlagProducerFed,
	})
	f.db.CreateBackedAssetData(a.ID, protocol.DefaultBackedAssetOptions(), false)

	now := f.db.HeadTime()
	lifetime := int64(protocol.DefaultBackedAssetOptions().FeedLifetimeSec)
	fresh := protocol.DefaultPriceFeed()
	fresh.SettlementPrice = protocol.Price{
		Base:  protocol.NewAsset(1, a.ID),
		Quote: protocol.NewAsset(10, protocol.CoreAssetID),
	}
	stale := fresh
	stale.SettlementPrice.Quote.Amount = 99

	f.db.ModifyBackedData(a.ID, func(b *state.BackedAssetData) {
		b.Feeds[p1] = state.FeedEntry{Time: now - lifetime - 10, Feed: stale}
		b.Feeds[p2] = state.FeedEntry{Time: now - 100, Feed: fresh}
		b.CurrentFeed = stale
		b.CurrentFeedTime = now - lifetime - 10
		b.ForceSettledVolume = 4242
	})

	f.m.Run()

	bd := f.db.BackedData(a.ID)
	if bd.ForceSettledVolume != 0 {
		t.Fatalf("force settled volume = %d, want 0", bd.ForceSettledVolume)
	}
	if _, ok := bd.Feeds[p1]; ok {
		t.Fatal("stale feed survived maintenance")
	}
	if bd.CurrentFeed.SettlementPrice.Quote.Amount != 10 {
		t.Fatalf("median = %v, want the surviving fresh feed", bd.CurrentFeed.SettlementPrice)
	}

	// With the last feed gone stale too the asset loses its price entirely.
	f.advance(2 * lifetime)
	f.db.ModifyDynamicGlobal(func(dg *state.DynamicGlobalProperties) {
		dg.NextMaintenanceTime = f.db.HeadTime()
	})
	f.m.Run()
	if f.db.BackedData(a.ID).HasCurrentFeed() {
		t.Fatal("feed should have expired with no live publishers")
	}
	f.check(t)
}

func TestFeeBucketSplitsToBuybackAndIssuer(t *testing.T) {
	f := newFixture(t)
	issuer := f.account("issuer", 0)
	buyback := f.account("buyback", 0)

	a := f.db.CreateAsset("GATE", 4, issuer, protocol.AssetOptions{MaxSupply: protocol.MaxSupply})
	f.db.ModifyAsset(a.ID, func(as *state.Asset) {
		id := buyback
		as.BuybackAccount = &id
	})

	// A bucket holding 10000 core sits inside the supply like the fee pot.
	bucket := f.db.CreateFeeBucket(a.ID)
	f.db.ModifyFeeBucket(bucket.ID, func(b *state.FeeBucket) { b.Balance = 10000 })
	f.db.ModifyDynamicData(protocol.CoreAssetID, func(dd *state.AssetDynamicData) {
		dd.CurrentSupply += 10000
	})

	f.m.Run()

	if got := f.db.FindFeeBucket(bucket.ID).Balance; got != 0 {
		t.Fatalf("bucket balance = %d after maintenance, want 0", got)
	}
	if got := f.db.GetBalance(buyback, protocol.CoreAssetID).Amount; got != 6000 {
		t.Fatalf("buyback account got %d, want 6000", got)
	}
	if got := f.db.GetBalance(issuer, protocol.CoreAssetID).Amount; got != 2000 {
		t.Fatalf("issuer got %d, want 2000", got)
	}
	f.check(t)
}

func TestUnconfiguredFeeBucketBurnsWhole(t *testing.T) {
	f := newFixture(t)
	issuer := f.account("issuer", 0)

	// No buyback account on the designated asset.
	a := f.db.CreateAsset("GATE", 4, issuer, protocol.AssetOptions{MaxSupply: protocol.MaxSupply})
	bucket := f.db.CreateFeeBucket(a.ID)
	f.db.ModifyFeeBucket(bucket.ID, func(b *state.FeeBucket) { b.Balance = 5000 })
	f.db.ModifyDynamicData(protocol.CoreAssetID, func(dd *state.AssetDynamicData) {
		dd.CurrentSupply += 5000
	})
	before := f.db.DynamicData(protocol.CoreAssetID).CurrentSupply

	f.m.distributeBucketFees()

	if got := f.db.FindFeeBucket(bucket.ID).Balance; got != 0 {
		t.Fatalf("bucket balance = %d, want 0", got)
	}
	if got := f.db.DynamicData(protocol.CoreAssetID).CurrentSupply; got != before-5000 {
		t.Fatalf("supply = %d, want %d burned to reserve", got, before-5000)
	}
	if got := f.db.GetBalance(issuer, protocol.CoreAssetID).Amount; got != 0 {
		t.Fatalf("issuer got %d from an unconfigured bucket, want 0", got)
	}
	f.check(t)
}

func TestBuybackOrdersSellHoldingsIntoBook(t *testing.T) {
	f := newFixture(t)
	issuer := f.account("issuer", 0)
	maker := f.account("maker", 0)
	buyback := f.account("buyback", 500)

	a := f.db.CreateAsset("BUY", 4, issuer, protocol.AssetOptions{MaxSupply: protocol.MaxSupply})
	f.db.ModifyAsset(a.ID, func(as *state.Asset) {
		id := buyback
		as.BuybackAccount = &id
		as.BuybackMarkets = []protocol.AssetID{protocol.CoreAssetID}
	})

	// Maker offers 100 BUY at 2 core each; the holding is already escrowed
	// in the order so supply stays balanced.
	f.db.ModifyDynamicData(a.ID, func(dd *state.AssetDynamicData) {
		dd.CurrentSupply += 100
	})
	f.db.CreateLimitOrder(state.LimitOrder{
		Seller:  maker,
		ForSale: 100,
		SellPrice: protocol.NewPrice(
			protocol.NewAsset(100, a.ID),
			protocol.CoreAsset(200),
		),
	})

	f.m.createBuybackOrders()

	// The buyback account takes the whole maker order for 200 core and the
	// unmatched 300 core comes straight back.
	if got := f.db.GetBalance(buyback, a.ID).Amount; got != 100 {
		t.Fatalf("buyback account holds %d BUY, want 100", got)
	}
	if got := f.db.GetBalance(buyback, protocol.CoreAssetID).Amount; got != 300 {
		t.Fatalf("buyback account core = %d, want the unmatched 300 back", got)
	}
	if got := f.db.GetBalance(maker, protocol.CoreAssetID).Amount; got != 200 {
		t.Fatalf("maker core = %d, want 200", got)
	}
	if orders := f.db.LimitOrdersByAccount(buyback); len(orders) != 0 {
		t.Fatalf("buyback account left %d resting orders, want none", len(orders))
	}
	f.check(t)
}

func TestTopNAuthoritiesTrackLargestHolders(t *testing.T) {
	f := newFixture(t)
	issuer := f.account("issuer", 0)
	controlled := f.account("controlled", 0)
	h1 := f.account("h1", 0)
	h2 := f.account("h2", 0)
	h3 := f.account("h3", 0)

	a := f.db.CreateAsset("CTRL", 4, issuer, protocol.AssetOptions{MaxSupply: protocol.MaxSupply})
	for acct, amount := range map[protocol.AccountID]int64{h1: 50, h2: 100, h3: 70, controlled: 999} {
		f.db.ModifyDynamicData(a.ID, func(dd *state.AssetDynamicData) {
			dd.CurrentSupply += amount
		})
		f.db.AdjustBalance(acct, protocol.NewAsset(amount, a.ID))
	}
	f.db.ModifyAccount(controlled, func(acct *state.Account) {
		acct.TopNControl = &state.TopNControl{Asset: a.ID, NumHolders: 2}
	})

	f.m.Run()

	got := f.db.MustAccount(controlled).TopNControl.Holders
	want := []protocol.AccountID{h2, h3}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("holders = %v, want %v (own balance excluded)", got, want)
	}

	// Balances move, the next pass follows.
	f.db.AdjustBalance(h1, protocol.NewAsset(200, a.ID))
	f.db.ModifyDynamicData(a.ID, func(dd *state.AssetDynamicData) {
		dd.CurrentSupply += 200
	})
	f.m.updateTopNAuthorities()
	got = f.db.MustAccount(controlled).TopNControl.Holders
	if got[0] != h1 || got[1] != h2 {
		t.Fatalf("holders = %v after rebalance, want [%d %d]", got, h1, h2)
	}
	f.check(t)
}
