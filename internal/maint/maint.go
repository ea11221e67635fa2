// Package maint runs the periodic chain maintenance pass: fee bucket
// and fee pot distribution, buyback orders, stake-weighted vote tallies,
// producer and delegate elections, holder-authority refresh, worker pay,
// parameter rollover, per-asset housekeeping and the budget record.
package maint

import (
	"sort"

	"github.com/rs/zerolog"

	"ChainCore/internal/market"
	"ChainCore/internal/protocol"
	"ChainCore/internal/state"
)

// Engine executes one maintenance pass over the chain state. It mutates
// state through the same DB the block engine uses and must only run
// inside the block apply path, under the block's undo session.
type Engine struct {
	db  *state.DB
	mkt *market.Engine
	log zerolog.Logger
}

func New(db *state.DB, mkt *market.Engine, log zerolog.Logger) *Engine {
	return &Engine{db: db, mkt: mkt, log: log.With().Str("component", "maint").Logger()}
}

// Run performs the full maintenance sequence. Step order matters: worker
// pay consumes the budget computed at the previous pass, the budget record
// needs the freshly advanced next maintenance time, so it runs last.
func (m *Engine) Run() {
	now := m.db.HeadTime()
	params := m.db.GlobalProperties().Parameters

	m.distributeBucketFees()
	m.createBuybackOrders()
	m.distributeFees(params)
	m.liquidateAssetFees(params)

	tally := m.tallyVotes()
	m.electProducers(tally, params)
	m.electDelegates(tally, params)
	m.updateTopNAuthorities()
	m.payWorkers(tally, now)

	m.applyPendingParameters()
	next := m.advanceMaintenanceTime(now, params)
	m.assetHousekeeping(now)
	m.processBudget(now, next, params)

	m.log.Info().
		Int64("head_time", now).
		Int64("next_maintenance", next).
		Msg("maintenance pass complete")
}

// distributeBucketFees empties every earmarked fee bucket: the network
// share is burned into the reserve, the remainder is credited to the
// designated asset's buyback account and issuer. A bucket whose asset
// has no buyback account burns entirely.
func (m *Engine) distributeBucketFees() {
	for _, fb := range m.db.AllFeeBuckets() {
		amount := fb.Balance
		if amount <= 0 {
			continue
		}
		m.db.ModifyFeeBucket(fb.ID, func(b *state.FeeBucket) { b.Balance = 0 })

		asset, err := m.db.GetAsset(fb.DesignatedAsset)
		if err != nil || asset.BuybackAccount == nil {
			m.db.ModifyDynamicData(protocol.CoreAssetID, func(dd *state.AssetDynamicData) {
				dd.CurrentSupply -= amount
			})
			m.log.Info().
				Uint64("bucket", uint64(fb.ID)).
				Int64("amount", amount).
				Msg("unconfigured fee bucket burned to reserve")
			continue
		}

		toBuyback := protocol.MulDiv(amount, int64(protocol.BucketBuybackPercent), int64(protocol.Percent100))
		toIssuer := protocol.MulDiv(amount, int64(protocol.BucketIssuerPercent), int64(protocol.Percent100))
		toNetwork := amount - toBuyback - toIssuer

		if toNetwork > 0 {
			m.db.ModifyDynamicData(protocol.CoreAssetID, func(dd *state.AssetDynamicData) {
				dd.CurrentSupply -= toNetwork
			})
		}
		if toBuyback > 0 {
			m.db.AdjustBalance(*asset.BuybackAccount, protocol.CoreAsset(toBuyback))
		}
		if toIssuer > 0 {
			m.db.AdjustBalance(asset.Issuer, protocol.CoreAsset(toIssuer))
		}
	}
}

// createBuybackOrders dumps each buyback account's approved holdings on
// the book as sell-at-any-price orders for the asset it exists to buy.
// Whatever the book cannot absorb immediately is cancelled, so buyback
// accounts never carry resting orders between passes.
func (m *Engine) createBuybackOrders() {
	for _, a := range m.db.AllAssets() {
		if a.BuybackAccount == nil {
			continue
		}
		seller := *a.BuybackAccount
		for _, sellAsset := range a.BuybackMarkets {
			if sellAsset == a.ID {
				continue
			}
			bal := m.db.GetBalance(seller, sellAsset)
			if bal.Amount <= 0 {
				continue
			}

			m.db.AdjustBalance(seller, bal.Neg())
			if sellAsset == protocol.CoreAssetID {
				m.db.ModifyAccount(seller, func(acct *state.Account) {
					acct.TotalCoreInOrders += bal.Amount
				})
			}
			order := m.db.CreateLimitOrder(state.LimitOrder{
				Seller:    seller,
				ForSale:   bal.Amount,
				SellPrice: protocol.NewPrice(bal, protocol.NewAsset(1, a.ID)),
			})
			id := order.ID
			m.mkt.ApplyOrder(id)
			if m.db.FindLimitOrder(id) != nil {
				m.mkt.CancelLimitOrder(id, false)
			}
			m.log.Debug().
				Uint64("account", uint64(seller)).
				Uint64("sell_asset", uint64(sellAsset)).
				Int64("amount", bal.Amount).
				Uint64("buy_asset", uint64(a.ID)).
				Msg("buyback order processed")
		}
	}
}

// updateTopNAuthorities refreshes every holder-controlled account with
// the current largest holders of its designated asset.
func (m *Engine) updateTopNAuthorities() {
	for _, acct := range m.db.AllAccounts() {
		tc := acct.TopNControl
		if tc == nil || tc.NumHolders == 0 {
			continue
		}
		holders := make([]protocol.AccountID, 0, tc.NumHolders)
		for _, h := range m.db.HoldersByStake(tc.Asset) {
			if h.Account == acct.ID {
				continue
			}
			holders = append(holders, h.Account)
			if len(holders) == int(tc.NumHolders) {
				break
			}
		}
		m.db.ModifyAccount(acct.ID, func(a *state.Account) {
			a.TopNControl.Holders = holders
		})
	}
}

// distributeFees splits the fee pot accumulated since the last pass. The
// network share stays in the pot and becomes budget income; everything
// else is burned back into the reserve.
func (m *Engine) distributeFees(params protocol.ChainParameters) {
	pot := m.db.DynamicGlobal().AccumulatedFees
	if pot <= 0 {
		return
	}
	networkShare := pot * int64(params.NetworkPercentOfFee) / int64(protocol.Percent100)
	toReserve := pot - networkShare
	if toReserve <= 0 {
		return
	}
	m.db.ModifyDynamicGlobal(func(dg *state.DynamicGlobalProperties) {
		dg.AccumulatedFees -= toReserve
	})
	m.db.ModifyDynamicData(protocol.CoreAssetID, func(dd *state.AssetDynamicData) {
		dd.CurrentSupply -= toReserve
	})
}

// liquidateAssetFees sweeps accumulated non-core fees above the
// liquidation threshold into the issuer's balance, the automatic
// counterpart of the manual claim operation.
func (m *Engine) liquidateAssetFees(params protocol.ChainParameters) {
	for _, a := range m.db.AllAssets() {
		if a.ID == protocol.CoreAssetID {
			continue
		}
		dd := m.db.DynamicData(a.ID)
		if dd.AccumulatedFees < params.FeeLiquidationThreshold {
			continue
		}
		amount := dd.AccumulatedFees
		m.db.ModifyDynamicData(a.ID, func(d *state.AssetDynamicData) {
			d.AccumulatedFees = 0
		})
		m.db.AdjustBalance(a.Issuer, protocol.NewAsset(amount, a.ID))
		m.log.Debug().
			Uint64("asset", uint64(a.ID)).
			Int64("amount", amount).
			Msg("liquidated accumulated fees to issuer")
	}
}

// voteTally is the scratch state of one maintenance pass.
type voteTally struct {
	totals map[protocol.VoteID]uint64

	// Stake-weighted histograms of how many producers and delegates each
	// voting account wants, keyed by the desired count.
	producerPrefs map[int]uint64
	delegatePrefs map[int]uint64
	producerStake uint64
	delegateStake uint64
}

// tallyVotes walks every account, resolves one level of vote proxying and
// adds the account's core stake to each ballot slot its voting account
// selected.
func (m *Engine) tallyVotes() *voteTally {
	t := &voteTally{
		totals:        make(map[protocol.VoteID]uint64),
		producerPrefs: make(map[int]uint64),
		delegatePrefs: make(map[int]uint64),
	}

	producerVotes := make(map[protocol.VoteID]bool)
	delegateVotes := make(map[protocol.VoteID]bool)
	for _, v := range m.db.AllValidators() {
		producerVotes[v.VoteID] = true
	}
	for _, d := range m.db.AllDelegates() {
		delegateVotes[d.VoteID] = true
	}

	for _, acct := range m.db.AllAccounts() {
		stake := m.votingStake(acct)
		if stake <= 0 {
			continue
		}
		voter := acct
		if acct.VotingAccount != protocol.ProxyToSelf && acct.VotingAccount != acct.ID {
			if proxy, err := m.db.GetAccount(acct.VotingAccount); err == nil {
				voter = proxy
			}
		}
		var wantProducers, wantDelegates int
		for _, vote := range voter.Votes {
			t.totals[vote] += uint64(stake)
			switch {
			case producerVotes[vote]:
				wantProducers++
			case delegateVotes[vote]:
				wantDelegates++
			}
		}
		if wantProducers > 0 {
			t.producerPrefs[wantProducers] += uint64(stake)
			t.producerStake += uint64(stake)
		}
		if wantDelegates > 0 {
			t.delegatePrefs[wantDelegates] += uint64(stake)
			t.delegateStake += uint64(stake)
		}
	}
	return t
}

// votingStake counts everything the chain considers the account's core
// holdings: spendable balance, amounts locked in open orders and unvested
// fee cashback.
func (m *Engine) votingStake(acct *state.Account) int64 {
	return m.db.GetBalance(acct.ID, protocol.CoreAssetID).Amount +
		acct.TotalCoreInOrders +
		acct.CashbackVesting
}

// desiredCount picks the smallest candidate count whose cumulative
// preference stake crosses half of the non-abstaining stake, forced odd
// and clamped to the configured bounds.
func desiredCount(prefs map[int]uint64, total uint64, min, max uint16) int {
	counts := make([]int, 0, len(prefs))
	for c := range prefs {
		counts = append(counts, c)
	}
	sort.Ints(counts)

	want := int(min)
	var acc uint64
	for _, c := range counts {
		acc += prefs[c]
		if acc*2 > total {
			want = c
			break
		}
	}
	if want < int(min) {
		want = int(min)
	}
	if want > int(max) {
		want = int(max)
	}
	if want%2 == 0 {
		want++
	}
	return want
}

func (m *Engine) electProducers(t *voteTally, params protocol.ChainParameters) {
	validators := m.db.AllValidators()
	for _, v := range validators {
		m.db.ModifyValidator(v.ID, func(val *state.Validator) {
			val.TotalVotes = t.totals[val.VoteID]
		})
	}

	want := desiredCount(t.producerPrefs, t.producerStake,
		protocol.MinProducerCount, params.MaxProducerCount)
	if want > len(validators) {
		want = len(validators)
		if want%2 == 0 && want > 0 {
			want--
		}
	}

	ranked := append([]*state.Validator(nil), validators...)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].TotalVotes != ranked[j].TotalVotes {
			return ranked[i].TotalVotes > ranked[j].TotalVotes
		}
		return ranked[i].ID < ranked[j].ID
	})

	elected := make([]protocol.ValidatorID, 0, want)
	for _, v := range ranked[:want] {
		elected = append(elected, v.ID)
	}
	sort.Slice(elected, func(i, j int) bool { return elected[i] < elected[j] })
	m.db.ModifyGlobalProperties(func(g *state.GlobalProperties) {
		g.ActiveProducers = elected
	})
}

func (m *Engine) electDelegates(t *voteTally, params protocol.ChainParameters) {
	delegates := m.db.AllDelegates()
	for _, d := range delegates {
		m.db.ModifyDelegate(d.ID, func(del *state.Delegate) {
			del.TotalVotes = t.totals[del.VoteID]
		})
	}

	want := desiredCount(t.delegatePrefs, t.delegateStake,
		protocol.MinDelegateCount, params.MaxDelegateCount)
	if want > len(delegates) {
		want = len(delegates)
		if want%2 == 0 && want > 0 {
			want--
		}
	}

	ranked := append([]*state.Delegate(nil), delegates...)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].TotalVotes != ranked[j].TotalVotes {
			return ranked[i].TotalVotes > ranked[j].TotalVotes
		}
		return ranked[i].ID < ranked[j].ID
	})

	elected := make([]protocol.DelegateID, 0, want)
	for _, d := range ranked[:want] {
		elected = append(elected, d.ID)
	}
	sort.Slice(elected, func(i, j int) bool { return elected[i] < elected[j] })
	m.db.ModifyGlobalProperties(func(g *state.GlobalProperties) {
		g.ActiveDelegates = elected
	})
}

// payWorkers updates worker vote totals and spends the worker budget
// computed at the previous pass, best voted first. Pay is minted on the
// spot for vesting workers; refund and burn workers leave it in the
// reserve, which is also where any leftover budget stays.
func (m *Engine) payWorkers(t *voteTally, now int64) {
	workers := m.db.AllWorkers()
	for _, w := range workers {
		m.db.ModifyWorker(w.ID, func(wk *state.Worker) {
			wk.TotalVotesFor = t.totals[wk.VoteFor]
		})
	}

	last := m.db.LastBudgetRecord()
	if last == nil || last.WorkerBudget <= 0 {
		return
	}
	budget := last.WorkerBudget
	elapsed := now - last.Time
	if elapsed <= 0 {
		return
	}

	active := workers[:0:0]
	for _, w := range workers {
		if w.IsActive(now) {
			active = append(active, w)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].TotalVotesFor != active[j].TotalVotesFor {
			return active[i].TotalVotesFor > active[j].TotalVotesFor
		}
		return active[i].ID < active[j].ID
	})

	for _, w := range active {
		if budget <= 0 {
			break
		}
		pay := protocol.MulDiv(w.DailyPay, elapsed, protocol.SecondsPerDay)
		if pay > budget {
			pay = budget
		}
		if pay <= 0 {
			continue
		}
		budget -= pay
		if w.Kind == state.WorkerVesting {
			m.db.ModifyWorker(w.ID, func(wk *state.Worker) {
				wk.Balance += pay
			})
			m.db.ModifyDynamicData(protocol.CoreAssetID, func(dd *state.AssetDynamicData) {
				dd.CurrentSupply += pay
			})
		}
	}
}

// applyPendingParameters swaps in a voted parameter change at the
// maintenance boundary so every node flips at the same block.
func (m *Engine) applyPendingParameters() {
	m.db.ModifyGlobalProperties(func(g *state.GlobalProperties) {
		if g.PendingParameters != nil {
			g.Parameters = *g.PendingParameters
			g.PendingParameters = nil
		}
	})
}

// advanceMaintenanceTime moves next_maintenance_time to the first grid
// point strictly after now. Skipped intervals collapse into one pass.
func (m *Engine) advanceMaintenanceTime(now int64, params protocol.ChainParameters) int64 {
	interval := int64(params.MaintenanceInterval)
	next := m.db.DynamicGlobal().NextMaintenanceTime
	if next == 0 {
		next = now
	}
	if now >= next {
		next += ((now-next)/interval + 1) * interval
	}
	m.db.ModifyDynamicGlobal(func(dg *state.DynamicGlobalProperties) {
		dg.NextMaintenanceTime = next
	})
	return next
}

// assetHousekeeping resets the per-interval force settlement counters,
// expires stale feeds on producer and delegate fed assets and gives
// settled assets a chance to revive through their collateral bids.
func (m *Engine) assetHousekeeping(now int64) {
	for _, bd := range m.db.BackedAssets() {
		id := bd.ID
		m.db.ModifyBackedData(id, func(b *state.BackedAssetData) {
			b.ForceSettledVolume = 0
		})

		a, err := m.db.GetAsset(id)
		if err != nil {
			continue
		}
		if a.FlagSet(protocol.FlagProducerFed) || a.FlagSet(protocol.FlagDelegateFed) {
			m.expireStaleFeeds(id, now)
		}

		bd = m.db.BackedData(id)
		if bd.HasSettlement() && bd.HasCurrentFeed() {
			m.mkt.ProcessBids(id)
		}
	}
}

// expireStaleFeeds drops feeds older than the configured lifetime and
// recomputes the median. A moved median cascades like a fresh publication.
func (m *Engine) expireStaleFeeds(assetID protocol.AssetID, now int64) {
	bd := m.db.BackedData(assetID)
	cutoff := now - int64(bd.Options.FeedLifetimeSec)

	stale := false
	for _, entry := range bd.Feeds {
		if entry.Time <= cutoff {
			stale = true
			break
		}
	}
	if !stale {
		return
	}

	before := bd.CurrentFeed
	var live []protocol.PriceFeed
	m.db.ModifyBackedData(assetID, func(b *state.BackedAssetData) {
		for publisher, entry := range b.Feeds {
			if entry.Time <= cutoff {
				delete(b.Feeds, publisher)
				continue
			}
			if !entry.Feed.SettlementPrice.IsNil() {
				live = append(live, entry.Feed)
			}
		}
		var median protocol.PriceFeed
		if len(live) >= int(b.Options.MinimumFeeds) {
			median = protocol.MedianFeed(live)
		}
		b.CurrentFeed = median
		b.CurrentFeedTime = now
	})

	bd = m.db.BackedData(assetID)
	if bd.CurrentFeed == before || !bd.HasCurrentFeed() || bd.HasSettlement() {
		return
	}
	m.mkt.CheckCallOrders(assetID, true, false)
}

// processBudget leaks a fraction of the unissued reserve into the pay
// budget, folds in the retained fee pot and whatever producer pay went
// unclaimed, then carves out the producer and worker allowances for the
// coming interval. Runs last: the interval length comes from the just
// advanced next maintenance time.
func (m *Engine) processBudget(now, next int64, params protocol.ChainParameters) {
	dg := m.db.DynamicGlobal()
	dt := next - now
	if dt <= 0 {
		dt = int64(params.MaintenanceInterval)
	}

	core := m.db.DynamicData(protocol.CoreAssetID)
	reserve := protocol.MaxSupply - core.CurrentSupply
	if reserve < 0 {
		panic("FATAL: core supply exceeds the maximum")
	}

	fromReserve := leakFromReserve(reserve, dt)
	fromFees := dg.AccumulatedFees
	fromUnusedPay := dg.ProducerBudget
	total := fromReserve + fromFees + fromUnusedPay

	blocks := dt / int64(params.BlockInterval)
	producerBudget := params.ProducerPayPerBlock * blocks
	if producerBudget > total {
		producerBudget = total
	}
	workerBudget := protocol.MulDiv(params.WorkerBudgetPerDay, dt, protocol.SecondsPerDay)
	if workerBudget > total-producerBudget {
		workerBudget = total - producerBudget
	}

	// Only the producer allowance is minted now; worker pay is minted as
	// it is spent next pass, so anything unspent never leaves the reserve.
	supplyDelta := producerBudget - fromFees - fromUnusedPay

	m.db.ModifyDynamicGlobal(func(d *state.DynamicGlobalProperties) {
		d.AccumulatedFees = 0
		d.ProducerBudget = producerBudget
		d.LastBudgetTime = now
	})
	m.db.ModifyDynamicData(protocol.CoreAssetID, func(dd *state.AssetDynamicData) {
		dd.CurrentSupply += supplyDelta
	})

	m.db.AppendBudgetRecord(state.BudgetRecord{
		Time:                  now,
		TimeSinceLastBudget:   dt,
		FromInitialReserve:    fromReserve,
		FromAccumulatedFees:   fromFees,
		FromUnusedProducerPay: fromUnusedPay,
		TotalBudget:           total,
		WorkerBudget:          workerBudget,
		ProducerBudget:        producerBudget,
		SupplyDelta:           supplyDelta,
	})
}

// leakFromReserve computes reserve * dt * CycleRate / 2^CycleRateBits,
// rounded up, without overflowing int64.
func leakFromReserve(reserve, dt int64) int64 {
	if reserve <= 0 || dt <= 0 {
		return 0
	}
	leak := protocol.MulDivCeil(reserve, dt*int64(protocol.CoreAssetCycleRate),
		int64(1)<<protocol.CoreAssetCycleRateBits)
	if leak > reserve {
		leak = reserve
	}
	return leak
}
