package state

import (
	"ChainCore/internal/protocol"
)

// Account is a named balance holder. Voting state lives here: an account
// either proxies its stake to another account or carries its own vote set.
type Account struct {
	ID            protocol.AccountID
	Name          string
	VotingAccount protocol.AccountID
	Votes         []protocol.VoteID

	// Statistics maintained by the engine, counted into voting stake.
	TotalCoreInOrders int64
	CashbackVesting   int64
	LifetimeFeesPaid  int64

	// TopNControl, when set, hands control of the account to the largest
	// holders of one asset. The holder list is refreshed at each
	// maintenance boundary.
	TopNControl *TopNControl
}

// TopNControl designates the asset whose top holders control an account.
type TopNControl struct {
	Asset      protocol.AssetID
	NumHolders uint8
	Holders    []protocol.AccountID // largest stake first, refreshed by maintenance
}

func (a *Account) clone() *Account {
	c := *a
	c.Votes = append([]protocol.VoteID(nil), a.Votes...)
	if a.TopNControl != nil {
		tc := *a.TopNControl
		tc.Holders = append([]protocol.AccountID(nil), a.TopNControl.Holders...)
		c.TopNControl = &tc
	}
	return &c
}

// Asset is the static description of a token. Supply counters live in
// AssetDynamicData so frequent updates stay off this object.
type Asset struct {
	ID         protocol.AssetID
	Symbol     string
	Precision  uint8
	Issuer     protocol.AccountID
	Options    protocol.AssetOptions
	BackedData protocol.AssetID // id of the backed-asset record, self for plain assets
	IsBacked   bool

	// Buyback program: when BuybackAccount is set, maintenance dumps that
	// account's BuybackMarkets holdings on the book for this asset.
	BuybackAccount *protocol.AccountID
	BuybackMarkets []protocol.AssetID
}

func (a *Asset) clone() *Asset {
	c := *a
	if a.BuybackAccount != nil {
		b := *a.BuybackAccount
		c.BuybackAccount = &b
	}
	c.BuybackMarkets = append([]protocol.AssetID(nil), a.BuybackMarkets...)
	return &c
}

// FlagSet reports whether a flag bit is currently enabled.
func (a *Asset) FlagSet(flag uint16) bool { return a.Options.Flags&flag != 0 }

// AssetDynamicData carries the mutable counters of an asset.
type AssetDynamicData struct {
	ID              protocol.AssetID
	CurrentSupply   int64
	AccumulatedFees int64 // market fees collected, denominated in the asset itself
	FeePool         int64 // core asset backing fee payments in this asset
}

func (d *AssetDynamicData) clone() *AssetDynamicData {
	c := *d
	return &c
}

// FeedEntry is one producer's published feed with its publication time.
type FeedEntry struct {
	Time int64
	Feed protocol.PriceFeed
}

// BackedAssetData is the collateral-tracking side of a backed asset.
type BackedAssetData struct {
	ID       protocol.AssetID // same instance as the asset it extends
	Options  protocol.BackedAssetOptions
	Feeds    map[protocol.AccountID]FeedEntry
	Producers map[protocol.AccountID]struct{} // issuer-appointed feed producers

	CurrentFeed     protocol.PriceFeed
	CurrentFeedTime int64

	IsPredictionMarket bool

	// Global settlement state. A non-nil settlement price means every debt
	// position was collapsed into the settlement fund.
	SettlementPrice protocol.Price
	SettlementFund  int64

	// Force settlements filled since the last maintenance, in debt units.
	ForceSettledVolume int64
}

func (b *BackedAssetData) clone() *BackedAssetData {
	c := *b
	c.Feeds = make(map[protocol.AccountID]FeedEntry, len(b.Feeds))
	for k, v := range b.Feeds {
		c.Feeds[k] = v
	}
	c.Producers = make(map[protocol.AccountID]struct{}, len(b.Producers))
	for k := range b.Producers {
		c.Producers[k] = struct{}{}
	}
	return &c
}

// HasSettlement reports whether the asset is globally settled.
func (b *BackedAssetData) HasSettlement() bool { return !b.SettlementPrice.IsNil() }

// HasCurrentFeed reports whether enough fresh feeds produced a usable median.
func (b *BackedAssetData) HasCurrentFeed() bool { return !b.CurrentFeed.SettlementPrice.IsNil() }

// MaxForceSettleVolume returns the per-interval force settlement cap for
// the given supply.
func (b *BackedAssetData) MaxForceSettleVolume(currentSupply int64) int64 {
	if b.Options.MaxForceSettlementVolume == 0 {
		return 0
	}
	if b.Options.MaxForceSettlementVolume >= protocol.Percent100 {
		return currentSupply
	}
	return protocol.MulDiv(currentSupply, int64(b.Options.MaxForceSettlementVolume), int64(protocol.Percent100))
}

// LimitOrder is a resting offer to sell ForSale units of SellPrice.Base
// at SellPrice or better.
type LimitOrder struct {
	ID          protocol.OrderID
	Seller      protocol.AccountID
	ForSale     int64
	SellPrice   protocol.Price
	Expiration  int64
	DeferredFee int64 // core fee refunded pro rata if the order is cancelled
}

func (o *LimitOrder) clone() *LimitOrder {
	c := *o
	return &c
}

// AmountForSale returns the remaining offer.
func (o *LimitOrder) AmountForSale() protocol.Asset {
	return protocol.NewAsset(o.ForSale, o.SellPrice.Base.AssetID)
}

// AmountToReceive returns what the full remaining offer would buy.
func (o *LimitOrder) AmountToReceive() protocol.Asset {
	return o.AmountForSale().MulPrice(o.SellPrice)
}

// CallOrder is a margin position: Collateral units of the backing asset
// lock up Debt units of the backed asset.
type CallOrder struct {
	ID         protocol.CallID
	Borrower   protocol.AccountID
	Collateral int64
	Debt       int64
	DebtType   protocol.AssetID
	BackingType protocol.AssetID

	// CallPrice is the cached margin trigger, refreshed on every position
	// change with the asset's maintenance ratio.
	CallPrice protocol.Price

	TargetCollateralRatio *uint16
}

func (o *CallOrder) clone() *CallOrder {
	c := *o
	if o.TargetCollateralRatio != nil {
		tcr := *o.TargetCollateralRatio
		c.TargetCollateralRatio = &tcr
	}
	return &c
}

func (o *CallOrder) DebtAsset() protocol.Asset {
	return protocol.NewAsset(o.Debt, o.DebtType)
}

func (o *CallOrder) CollateralAsset() protocol.Asset {
	return protocol.NewAsset(o.Collateral, o.BackingType)
}

// CollateralizationCmp orders positions from least to most collateralized:
// it compares collateral/debt ratios by cross multiplication and breaks
// ties by id so iteration order is fully deterministic.
func (o *CallOrder) CollateralizationCmp(other *CallOrder) int {
	l := protocol.Price{Base: o.CollateralAsset(), Quote: o.DebtAsset()}
	r := protocol.Price{Base: other.CollateralAsset(), Quote: other.DebtAsset()}
	if c := l.Cmp(r); c != 0 {
		return c
	}
	switch {
	case o.ID < other.ID:
		return -1
	case o.ID > other.ID:
		return 1
	}
	return 0
}

// ForceSettlement is a pending request to settle backed-asset holdings
// against the least collateralized positions once SettlementDate passes.
type ForceSettlement struct {
	ID             protocol.SettleID
	Owner          protocol.AccountID
	Balance        protocol.Asset
	SettlementDate int64
}

func (s *ForceSettlement) clone() *ForceSettlement {
	c := *s
	return &c
}

// CollateralBid offers to take over DebtCovered of a settled asset's debt
// against the bidder's collateral plus the pro-rata settlement fund.
type CollateralBid struct {
	ID         protocol.BidID
	Bidder     protocol.AccountID
	Collateral protocol.Asset
	DebtCovered protocol.Asset
}

func (b *CollateralBid) clone() *CollateralBid {
	c := *b
	return &c
}

// PriceCmp orders bids from most to least generous collateral per debt,
// ties broken by id ascending.
func (b *CollateralBid) PriceCmp(other *CollateralBid) int {
	l := protocol.Price{Base: b.Collateral, Quote: b.DebtCovered}
	r := protocol.Price{Base: other.Collateral, Quote: other.DebtCovered}
	if c := l.Cmp(r); c != 0 {
		return -c
	}
	switch {
	case b.ID < other.ID:
		return -1
	case b.ID > other.ID:
		return 1
	}
	return 0
}

// Validator is a block producer candidate.
type Validator struct {
	ID          protocol.ValidatorID
	Account     protocol.AccountID
	VoteID      protocol.VoteID
	TotalVotes  uint64
	TotalMissed int64
	PayBalance  int64
}

func (v *Validator) clone() *Validator {
	c := *v
	return &c
}

// Delegate is a council membership candidate.
type Delegate struct {
	ID         protocol.DelegateID
	Account    protocol.AccountID
	VoteID     protocol.VoteID
	TotalVotes uint64
}

func (d *Delegate) clone() *Delegate {
	c := *d
	return &c
}

// WorkerKind decides what a worker does with pay it receives.
type WorkerKind uint8

const (
	// WorkerRefund returns every payout to the reserve immediately.
	WorkerRefund WorkerKind = iota
	// WorkerBurn destroys every payout.
	WorkerBurn
	// WorkerVesting accrues payouts into a balance the owner may withdraw.
	WorkerVesting
)

// Worker is a funded proposal paid from the per-day worker budget while
// active and voted above the refund baseline.
type Worker struct {
	ID        protocol.WorkerID
	Account   protocol.AccountID
	VoteFor   protocol.VoteID
	DailyPay  int64
	BeginDate int64
	EndDate   int64
	Kind      WorkerKind

	TotalVotesFor uint64
	Balance       int64 // accrued pay for vesting workers
}

func (w *Worker) clone() *Worker {
	c := *w
	return &c
}

// IsActive reports whether the worker is inside its funded window.
func (w *Worker) IsActive(now int64) bool {
	return now >= w.BeginDate && now <= w.EndDate
}

// FeeBucket accumulates core-asset fees earmarked for one asset's
// buyback program. Maintenance empties every bucket: the network share
// is burned, the rest goes to the designated asset's buyback account
// and issuer. A bucket whose asset has no buyback account burns whole.
type FeeBucket struct {
	ID              protocol.BucketID
	DesignatedAsset protocol.AssetID
	Balance         int64 // core asset
}

func (f *FeeBucket) clone() *FeeBucket {
	c := *f
	return &c
}

// BudgetRecord is the audit trail of one maintenance budget computation.
type BudgetRecord struct {
	Time                 int64
	TimeSinceLastBudget  int64
	FromInitialReserve   int64
	FromAccumulatedFees  int64
	FromUnusedProducerPay int64
	TotalBudget          int64
	WorkerBudget         int64
	ProducerBudget       int64
	SupplyDelta          int64
}

// GlobalProperties holds the voted-in consensus parameters and the
// currently elected authorities.
type GlobalProperties struct {
	Parameters        protocol.ChainParameters
	PendingParameters *protocol.ChainParameters
	ActiveProducers   []protocol.ValidatorID
	ActiveDelegates   []protocol.DelegateID
}

func (g *GlobalProperties) clone() *GlobalProperties {
	c := *g
	if g.PendingParameters != nil {
		pp := *g.PendingParameters
		pp.CurrentFees.Fees = cloneFees(g.PendingParameters.CurrentFees.Fees)
		c.PendingParameters = &pp
	}
	c.Parameters.CurrentFees.Fees = cloneFees(g.Parameters.CurrentFees.Fees)
	c.ActiveProducers = append([]protocol.ValidatorID(nil), g.ActiveProducers...)
	c.ActiveDelegates = append([]protocol.DelegateID(nil), g.ActiveDelegates...)
	return &c
}

func cloneFees(m map[protocol.OpType]int64) map[protocol.OpType]int64 {
	out := make(map[protocol.OpType]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// DynamicGlobalProperties is the fast-changing head-of-chain state.
type DynamicGlobalProperties struct {
	HeadBlockNumber     uint64
	Time                int64
	NextMaintenanceTime int64
	LastBudgetTime      int64
	ProducerBudget      int64
	AccumulatedFees     int64 // network fee share awaiting the next budget
}

func (d *DynamicGlobalProperties) clone() *DynamicGlobalProperties {
	c := *d
	return &c
}
