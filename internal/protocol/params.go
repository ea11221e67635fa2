package protocol

import "fmt"

// FeeSchedule prices every operation type in core asset. Scale is applied
// on top so governance can adjust all fees at once without republishing
// the whole table.
type FeeSchedule struct {
	Fees  map[OpType]int64 `json:"fees"`
	Scale uint32           `json:"scale"`
}

func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		Scale: uint32(Percent100),
		Fees: map[OpType]int64{
			OpTransfer:                 20,
			OpLimitOrderCreate:         5,
			OpLimitOrderCancel:         1,
			OpCallOrderUpdate:          20,
			OpAssetCreate:              50000,
			OpAssetIssue:               20,
			OpAssetReserve:             20,
			OpAssetFundFeePool:         20,
			OpAssetUpdate:              200,
			OpAssetUpdateBacked:        200,
			OpAssetUpdateFeedProducers: 500,
			OpAssetPublishFeed:         1,
			OpAssetSettle:              100,
			OpAssetGlobalSettle:        500,
			OpAssetClaimFees:           20,
			OpAssetClaimPool:           20,
			OpBidCollateral:            100,
		},
	}
}

// RequiredFee returns the scaled core-asset fee for an operation type.
// Unlisted types are free.
func (s FeeSchedule) RequiredFee(t OpType) Asset {
	base, ok := s.Fees[t]
	if !ok {
		return CoreAsset(0)
	}
	return CoreAsset(mulDiv128(base, int64(s.Scale), int64(Percent100)))
}

func (s FeeSchedule) Validate() error {
	if s.Scale == 0 {
		return fmt.Errorf("fee scale must be positive")
	}
	for t, f := range s.Fees {
		if f < 0 {
			return fmt.Errorf("fee for %s is negative: %d", t, f)
		}
	}
	return nil
}

// ChainParameters are the governance-tunable consensus knobs. A change
// voted in mid-interval lands in GlobalProperties.PendingParameters and
// takes effect at the next maintenance.
type ChainParameters struct {
	CurrentFees              FeeSchedule `json:"current_fees"`
	BlockInterval            uint8       `json:"block_interval"`
	MaintenanceInterval      uint32      `json:"maintenance_interval"`
	MaintenanceSkipSlots     uint8       `json:"maintenance_skip_slots"`
	MaxProducerCount         uint16      `json:"max_producer_count"`
	MaxDelegateCount         uint16      `json:"max_delegate_count"`
	ProducerPayPerBlock      int64       `json:"producer_pay_per_block"`
	WorkerBudgetPerDay       int64       `json:"worker_budget_per_day"`
	NetworkPercentOfFee      uint16      `json:"network_percent_of_fee"`
	ReservePercentOfFee      uint16      `json:"reserve_percent_of_fee"`
	CashbackVestingPeriodSec uint32      `json:"cashback_vesting_period_sec"`
	MaxTimeUntilExpiration   uint32      `json:"max_time_until_expiration"`
	FeeLiquidationThreshold  int64       `json:"fee_liquidation_threshold"`
}

func DefaultChainParameters() ChainParameters {
	return ChainParameters{
		CurrentFees:              DefaultFeeSchedule(),
		BlockInterval:            uint8(DefaultBlockInterval),
		MaintenanceInterval:      DefaultMaintenanceInterval,
		MaintenanceSkipSlots:     uint8(MaintenanceSkipSlots),
		MaxProducerCount:         DefaultMaxProducerCount,
		MaxDelegateCount:         DefaultMaxDelegateCount,
		ProducerPayPerBlock:      1000,
		WorkerBudgetPerDay:       50_000_000,
		NetworkPercentOfFee:      2000,
		ReservePercentOfFee:      8000,
		CashbackVestingPeriodSec: 365 * 86400,
		MaxTimeUntilExpiration:   86400,
		FeeLiquidationThreshold:  100_00000,
	}
}

func (p ChainParameters) Validate() error {
	if err := p.CurrentFees.Validate(); err != nil {
		return err
	}
	if p.BlockInterval == 0 {
		return fmt.Errorf("block interval must be positive")
	}
	if p.MaintenanceInterval < uint32(p.BlockInterval) {
		return fmt.Errorf("maintenance interval %d below block interval %d",
			p.MaintenanceInterval, p.BlockInterval)
	}
	if p.MaintenanceInterval%uint32(p.BlockInterval) != 0 {
		return fmt.Errorf("maintenance interval %d must be a multiple of the block interval %d",
			p.MaintenanceInterval, p.BlockInterval)
	}
	if p.MaxProducerCount < MinProducerCount {
		return fmt.Errorf("max producer count %d below minimum %d", p.MaxProducerCount, MinProducerCount)
	}
	if p.MaxDelegateCount < MinDelegateCount {
		return fmt.Errorf("max delegate count %d below minimum %d", p.MaxDelegateCount, MinDelegateCount)
	}
	if p.NetworkPercentOfFee > Percent100 || p.ReservePercentOfFee > Percent100 {
		return fmt.Errorf("fee split percents exceed 100%%")
	}
	if int(p.NetworkPercentOfFee)+int(p.ReservePercentOfFee) > int(Percent100) {
		return fmt.Errorf("fee split percents sum above 100%%")
	}
	return nil
}
