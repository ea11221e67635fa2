package protocol

// Chain-wide consensus constants. Every value here is part of consensus state:
// changing one is a hard fork.
const (
	// MaxSupply is the upper bound for any asset amount (10^15).
	MaxSupply int64 = 1_000_000_000_000_000

	// Percentages are fixed-point with denominator Percent100.
	Percent100 uint16 = 10000
	Percent1   uint16 = 100

	// Collateral ratios are fixed-point with denominator CollateralRatioDenom.
	CollateralRatioDenom uint16 = 1000
	MinCollateralRatio   uint16 = 1001 // lower could divide by zero
	MaxCollateralRatio   uint16 = 32000

	DefaultMaintenanceCollateralRatio uint16 = 1750 // 175%
	DefaultMaxShortSqueezeRatio       uint16 = 1100 // 110%

	MaxMarketFeePercent         = Percent100
	ForceSettlementMaxVolumePct = 20 * 100 // 20% of supply per maintenance interval

	MinAssetSymbolLength = 3
	MaxAssetSymbolLength = 16

	DefaultBlockInterval       uint32 = 5     // seconds
	DefaultMaintenanceInterval uint32 = 86400 // seconds
	MaintenanceSkipSlots       uint32 = 3

	DefaultMaxProducerCount uint16 = 1001 // should be odd
	DefaultMaxDelegateCount uint16 = 1001 // should be odd
	MinProducerCount        uint16 = 11
	MinDelegateCount        uint16 = 11

	DefaultMaxFeedPublishers uint16 = 10

	// Core reserve leaks into the budget at CycleRate / 2^CycleRateBits
	// per second.
	CoreAssetCycleRate     uint64 = 17
	CoreAssetCycleRateBits uint32 = 32

	SecondsPerDay int64 = 86400

	// Earmarked fee buckets split at each maintenance pass: the network
	// share is burned, the rest funds the designated asset's buyback
	// account and issuer.
	BucketNetworkPercent uint16 = 20 * Percent1
	BucketBuybackPercent uint16 = 60 * Percent1
	BucketIssuerPercent  uint16 = 20 * Percent1
)

// Well-known account instances fixed at genesis.
const (
	// CouncilAccountID owns blockchain-controlled backed assets and is
	// controlled by the elected delegates.
	CouncilAccountID AccountID = 0
	// ProducersAccountID is controlled by the elected block producers.
	ProducersAccountID AccountID = 1
	// NetworkAccountID collects network fees.
	NetworkAccountID AccountID = 2
)

// ProxyToSelf is the sentinel voting account meaning "no proxy".
const ProxyToSelf AccountID = CouncilAccountID

// CoreAssetID is the core asset, always instance 0.
const CoreAssetID AssetID = 0
