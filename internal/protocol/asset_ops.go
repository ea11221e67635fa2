package protocol

import (
	"fmt"
	"strings"
)

// Asset flag bits. IssuerPermissions limits which flags the issuer may ever
// enable; Flags holds the ones currently active.
const (
	FlagChargeMarketFee    uint16 = 0x01
	FlagWhiteList          uint16 = 0x02
	FlagOverrideAuthority  uint16 = 0x04
	FlagTransferRestricted uint16 = 0x08
	FlagDisableForceSettle uint16 = 0x10
	FlagGlobalSettle       uint16 = 0x20
	FlagProducerFed        uint16 = 0x40
	FlagDelegateFed        uint16 = 0x80

	// UIAPermissionMask is every permission a plain asset may carry.
	UIAPermissionMask = FlagChargeMarketFee | FlagWhiteList | FlagOverrideAuthority | FlagTransferRestricted
	// BackedPermissionMask adds the bits only backed assets understand.
	BackedPermissionMask = UIAPermissionMask | FlagDisableForceSettle | FlagGlobalSettle |
		FlagProducerFed | FlagDelegateFed
)

// AssetOptions are the issuer-tunable parameters shared by every asset.
type AssetOptions struct {
	MaxSupply         int64  `json:"max_supply"`
	MarketFeePercent  uint16 `json:"market_fee_percent"`
	MaxMarketFee      int64  `json:"max_market_fee"`
	IssuerPermissions uint16 `json:"issuer_permissions"`
	Flags             uint16 `json:"flags"`
	CoreExchangeRate  Price  `json:"core_exchange_rate"`
	Description       string `json:"description"`
}

func (o AssetOptions) Validate() error {
	if o.MaxSupply <= 0 || o.MaxSupply > MaxSupply {
		return fmt.Errorf("max supply %d out of range (0, %d]", o.MaxSupply, MaxSupply)
	}
	if o.MarketFeePercent > Percent100 {
		return fmt.Errorf("market fee percent %d exceeds 100%%", o.MarketFeePercent)
	}
	if o.MaxMarketFee < 0 || o.MaxMarketFee > MaxSupply {
		return fmt.Errorf("max market fee %d out of range [0, %d]", o.MaxMarketFee, MaxSupply)
	}
	if o.Flags&^o.IssuerPermissions != 0 {
		return fmt.Errorf("flags %#x enable bits outside issuer permissions %#x", o.Flags, o.IssuerPermissions)
	}
	if err := o.CoreExchangeRate.Validate(); err != nil {
		return fmt.Errorf("core exchange rate: %w", err)
	}
	return nil
}

// BackedAssetOptions tune the collateral and settlement behavior of a
// backed asset.
type BackedAssetOptions struct {
	FeedLifetimeSec              uint32  `json:"feed_lifetime_sec"`
	MinimumFeeds                 uint8   `json:"minimum_feeds"`
	ForceSettlementDelaySec      uint32  `json:"force_settlement_delay_sec"`
	ForceSettlementOffsetPercent uint16  `json:"force_settlement_offset_percent"`
	MaxForceSettlementVolume     uint16  `json:"max_force_settlement_volume"`
	ShortBackingAsset            AssetID `json:"short_backing_asset"`
}

func DefaultBackedAssetOptions() BackedAssetOptions {
	return BackedAssetOptions{
		FeedLifetimeSec:          uint32(SecondsPerDay),
		MinimumFeeds:             1,
		ForceSettlementDelaySec:  uint32(SecondsPerDay),
		MaxForceSettlementVolume: ForceSettlementMaxVolumePct,
		ShortBackingAsset:        CoreAssetID,
	}
}

func (o BackedAssetOptions) Validate() error {
	if o.FeedLifetimeSec <= DefaultBlockInterval {
		return fmt.Errorf("feed lifetime %ds must exceed the block interval", o.FeedLifetimeSec)
	}
	if o.MinimumFeeds == 0 {
		return fmt.Errorf("minimum feeds must be positive")
	}
	if o.ForceSettlementOffsetPercent > Percent100 {
		return fmt.Errorf("force settlement offset %d exceeds 100%%", o.ForceSettlementOffsetPercent)
	}
	if o.MaxForceSettlementVolume > Percent100 {
		return fmt.Errorf("max force settlement volume %d exceeds 100%%", o.MaxForceSettlementVolume)
	}
	return nil
}

// ValidateSymbol enforces the ticker grammar: 3 to 16 characters of
// uppercase letters, digits and at most one interior dot, starting with a
// letter and ending with a letter or digit.
func ValidateSymbol(symbol string) error {
	if len(symbol) < MinAssetSymbolLength || len(symbol) > MaxAssetSymbolLength {
		return fmt.Errorf("symbol %q length %d out of range [%d, %d]",
			symbol, len(symbol), MinAssetSymbolLength, MaxAssetSymbolLength)
	}
	if symbol[0] < 'A' || symbol[0] > 'Z' {
		return fmt.Errorf("symbol %q must start with a letter", symbol)
	}
	last := symbol[len(symbol)-1]
	if !(last >= 'A' && last <= 'Z') && !(last >= '0' && last <= '9') {
		return fmt.Errorf("symbol %q must end with a letter or digit", symbol)
	}
	dots := 0
	for i := 0; i < len(symbol); i++ {
		c := symbol[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.':
			dots++
			if dots > 1 {
				return fmt.Errorf("symbol %q has more than one dot", symbol)
			}
		default:
			return fmt.Errorf("symbol %q contains invalid character %q", symbol, c)
		}
	}
	return nil
}

// AssetCreateOp registers a new asset under the issuer's control. If
// BackedOpts is set the asset is collateral-backed and tracks a price feed.
type AssetCreateOp struct {
	Fee                Asset               `json:"fee"`
	Issuer             AccountID           `json:"issuer"`
	Symbol             string              `json:"symbol"`
	Precision          uint8               `json:"precision"`
	Common             AssetOptions        `json:"common_options"`
	BackedOpts         *BackedAssetOptions `json:"backed_options,omitempty"`
	IsPredictionMarket bool                `json:"is_prediction_market"`
}

func (op *AssetCreateOp) Type() OpType        { return OpAssetCreate }
func (op *AssetCreateOp) FeePayer() AccountID { return op.Issuer }
func (op *AssetCreateOp) OpFee() Asset        { return op.Fee }

func (op *AssetCreateOp) Validate() error {
	if err := validateFee(op.Fee); err != nil {
		return err
	}
	if err := ValidateSymbol(op.Symbol); err != nil {
		return err
	}
	if strings.HasPrefix(op.Symbol, "BIT") {
		return fmt.Errorf("symbol %q uses reserved prefix BIT", op.Symbol)
	}
	if op.Precision > 12 {
		return fmt.Errorf("precision %d exceeds maximum 12", op.Precision)
	}
	if err := op.Common.Validate(); err != nil {
		return err
	}
	if op.BackedOpts != nil {
		if err := op.BackedOpts.Validate(); err != nil {
			return err
		}
		if op.Common.IssuerPermissions&^BackedPermissionMask != 0 {
			return fmt.Errorf("issuer permissions %#x invalid for a backed asset", op.Common.IssuerPermissions)
		}
	} else {
		if op.Common.IssuerPermissions&^UIAPermissionMask != 0 {
			return fmt.Errorf("issuer permissions %#x invalid for a plain asset", op.Common.IssuerPermissions)
		}
		if op.IsPredictionMarket {
			return fmt.Errorf("prediction market requires backed options")
		}
	}
	return nil
}

// AssetIssueOp mints new supply of a plain asset into a holder's balance.
type AssetIssueOp struct {
	Fee          Asset     `json:"fee"`
	Issuer       AccountID `json:"issuer"`
	AssetToIssue Asset     `json:"asset_to_issue"`
	IssueTo      AccountID `json:"issue_to_account"`
}

func (op *AssetIssueOp) Type() OpType        { return OpAssetIssue }
func (op *AssetIssueOp) FeePayer() AccountID { return op.Issuer }
func (op *AssetIssueOp) OpFee() Asset        { return op.Fee }

func (op *AssetIssueOp) Validate() error {
	if err := validateFee(op.Fee); err != nil {
		return err
	}
	if op.AssetToIssue.Amount <= 0 {
		return fmt.Errorf("issue amount must be positive, got %d", op.AssetToIssue.Amount)
	}
	if op.AssetToIssue.AssetID == CoreAssetID {
		return fmt.Errorf("core asset cannot be issued")
	}
	return nil
}

// AssetReserveOp burns supply out of the payer's balance back into the
// unissued pool.
type AssetReserveOp struct {
	Fee             Asset     `json:"fee"`
	Payer           AccountID `json:"payer"`
	AmountToReserve Asset     `json:"amount_to_reserve"`
}

func (op *AssetReserveOp) Type() OpType        { return OpAssetReserve }
func (op *AssetReserveOp) FeePayer() AccountID { return op.Payer }
func (op *AssetReserveOp) OpFee() Asset        { return op.Fee }

func (op *AssetReserveOp) Validate() error {
	if err := validateFee(op.Fee); err != nil {
		return err
	}
	if op.AmountToReserve.Amount <= 0 {
		return fmt.Errorf("reserve amount must be positive, got %d", op.AmountToReserve.Amount)
	}
	if op.AmountToReserve.AssetID == CoreAssetID {
		return fmt.Errorf("core asset cannot be reserved")
	}
	return nil
}

// AssetFundFeePoolOp tops up an asset's core fee pool, which pays the
// network when users pay fees in the asset itself.
type AssetFundFeePoolOp struct {
	Fee     Asset     `json:"fee"`
	From    AccountID `json:"from_account"`
	AssetID AssetID   `json:"asset_id"`
	Amount  int64     `json:"amount"`
}

func (op *AssetFundFeePoolOp) Type() OpType        { return OpAssetFundFeePool }
func (op *AssetFundFeePoolOp) FeePayer() AccountID { return op.From }
func (op *AssetFundFeePoolOp) OpFee() Asset        { return op.Fee }

func (op *AssetFundFeePoolOp) Validate() error {
	if err := validateFee(op.Fee); err != nil {
		return err
	}
	if op.Fee.AssetID != CoreAssetID {
		return fmt.Errorf("fee pool funding fee must be paid in core")
	}
	if op.Amount <= 0 {
		return fmt.Errorf("fee pool amount must be positive, got %d", op.Amount)
	}
	return nil
}

// AssetUpdateOp changes the issuer-tunable options of an asset and may
// hand the asset to a new issuer.
type AssetUpdateOp struct {
	Fee           Asset        `json:"fee"`
	Issuer        AccountID    `json:"issuer"`
	AssetToUpdate AssetID      `json:"asset_to_update"`
	NewIssuer     *AccountID   `json:"new_issuer,omitempty"`
	NewOptions    AssetOptions `json:"new_options"`
}

func (op *AssetUpdateOp) Type() OpType        { return OpAssetUpdate }
func (op *AssetUpdateOp) FeePayer() AccountID { return op.Issuer }
func (op *AssetUpdateOp) OpFee() Asset        { return op.Fee }

func (op *AssetUpdateOp) Validate() error {
	if err := validateFee(op.Fee); err != nil {
		return err
	}
	if op.NewIssuer != nil && *op.NewIssuer == op.Issuer {
		return fmt.Errorf("new issuer equals current issuer")
	}
	return op.NewOptions.Validate()
}

// AssetUpdateBackedOp changes the collateral parameters of a backed asset.
type AssetUpdateBackedOp struct {
	Fee           Asset              `json:"fee"`
	Issuer        AccountID          `json:"issuer"`
	AssetToUpdate AssetID            `json:"asset_to_update"`
	NewOptions    BackedAssetOptions `json:"new_options"`
}

func (op *AssetUpdateBackedOp) Type() OpType        { return OpAssetUpdateBacked }
func (op *AssetUpdateBackedOp) FeePayer() AccountID { return op.Issuer }
func (op *AssetUpdateBackedOp) OpFee() Asset        { return op.Fee }

func (op *AssetUpdateBackedOp) Validate() error {
	if err := validateFee(op.Fee); err != nil {
		return err
	}
	return op.NewOptions.Validate()
}

// AssetUpdateFeedProducersOp replaces the whitelist of accounts allowed to
// publish feeds for an issuer-fed backed asset.
type AssetUpdateFeedProducersOp struct {
	Fee           Asset       `json:"fee"`
	Issuer        AccountID   `json:"issuer"`
	AssetToUpdate AssetID     `json:"asset_to_update"`
	NewProducers  []AccountID `json:"new_feed_producers"`
}

func (op *AssetUpdateFeedProducersOp) Type() OpType        { return OpAssetUpdateFeedProducers }
func (op *AssetUpdateFeedProducersOp) FeePayer() AccountID { return op.Issuer }
func (op *AssetUpdateFeedProducersOp) OpFee() Asset        { return op.Fee }

func (op *AssetUpdateFeedProducersOp) Validate() error {
	if err := validateFee(op.Fee); err != nil {
		return err
	}
	if len(op.NewProducers) > int(DefaultMaxFeedPublishers) {
		return fmt.Errorf("%d feed producers exceeds maximum %d", len(op.NewProducers), DefaultMaxFeedPublishers)
	}
	seen := make(map[AccountID]struct{}, len(op.NewProducers))
	for _, p := range op.NewProducers {
		if _, dup := seen[p]; dup {
			return fmt.Errorf("duplicate feed producer %d", p)
		}
		seen[p] = struct{}{}
	}
	return nil
}

// AssetPublishFeedOp records one producer's current price feed.
type AssetPublishFeedOp struct {
	Fee       Asset     `json:"fee"`
	Publisher AccountID `json:"publisher"`
	AssetID   AssetID   `json:"asset_id"`
	Feed      PriceFeed `json:"feed"`
}

func (op *AssetPublishFeedOp) Type() OpType        { return OpAssetPublishFeed }
func (op *AssetPublishFeedOp) FeePayer() AccountID { return op.Publisher }
func (op *AssetPublishFeedOp) OpFee() Asset        { return op.Fee }

func (op *AssetPublishFeedOp) Validate() error {
	if err := validateFee(op.Fee); err != nil {
		return err
	}
	if !op.Feed.SettlementPrice.IsNil() && op.Feed.SettlementPrice.Base.AssetID != op.AssetID {
		return fmt.Errorf("feed settlement price base %d does not match asset %d",
			op.Feed.SettlementPrice.Base.AssetID, op.AssetID)
	}
	return op.Feed.Validate()
}

// AssetSettleOp requests settlement of a backed asset holding against the
// asset's collateral pool at the feed price, after the settlement delay.
type AssetSettleOp struct {
	Fee     Asset     `json:"fee"`
	Account AccountID `json:"account"`
	Amount  Asset     `json:"amount"`
}

func (op *AssetSettleOp) Type() OpType        { return OpAssetSettle }
func (op *AssetSettleOp) FeePayer() AccountID { return op.Account }
func (op *AssetSettleOp) OpFee() Asset        { return op.Fee }

func (op *AssetSettleOp) Validate() error {
	if err := validateFee(op.Fee); err != nil {
		return err
	}
	if op.Amount.Amount < 0 {
		return fmt.Errorf("settle amount must be non-negative, got %d", op.Amount.Amount)
	}
	return nil
}

// AssetGlobalSettleOp lets the issuer of a globally-settleable asset close
// every debt position at a stated price.
type AssetGlobalSettleOp struct {
	Fee           Asset     `json:"fee"`
	Issuer        AccountID `json:"issuer"`
	AssetToSettle AssetID   `json:"asset_to_settle"`
	SettlePrice   Price     `json:"settle_price"`
}

func (op *AssetGlobalSettleOp) Type() OpType        { return OpAssetGlobalSettle }
func (op *AssetGlobalSettleOp) FeePayer() AccountID { return op.Issuer }
func (op *AssetGlobalSettleOp) OpFee() Asset        { return op.Fee }

func (op *AssetGlobalSettleOp) Validate() error {
	if err := validateFee(op.Fee); err != nil {
		return err
	}
	if err := op.SettlePrice.Validate(); err != nil {
		return err
	}
	if op.SettlePrice.Base.AssetID != op.AssetToSettle {
		return fmt.Errorf("settle price base %d does not match asset %d",
			op.SettlePrice.Base.AssetID, op.AssetToSettle)
	}
	return nil
}

// AssetClaimFeesOp withdraws accumulated market fees to the issuer.
type AssetClaimFeesOp struct {
	Fee           Asset     `json:"fee"`
	Issuer        AccountID `json:"issuer"`
	AmountToClaim Asset     `json:"amount_to_claim"`
}

func (op *AssetClaimFeesOp) Type() OpType        { return OpAssetClaimFees }
func (op *AssetClaimFeesOp) FeePayer() AccountID { return op.Issuer }
func (op *AssetClaimFeesOp) OpFee() Asset        { return op.Fee }

func (op *AssetClaimFeesOp) Validate() error {
	if err := validateFee(op.Fee); err != nil {
		return err
	}
	if op.AmountToClaim.Amount <= 0 {
		return fmt.Errorf("claim amount must be positive, got %d", op.AmountToClaim.Amount)
	}
	return nil
}

// AssetClaimPoolOp withdraws core from an asset's fee pool to the issuer.
type AssetClaimPoolOp struct {
	Fee           Asset     `json:"fee"`
	Issuer        AccountID `json:"issuer"`
	AssetID       AssetID   `json:"asset_id"`
	AmountToClaim Asset     `json:"amount_to_claim"`
}

func (op *AssetClaimPoolOp) Type() OpType        { return OpAssetClaimPool }
func (op *AssetClaimPoolOp) FeePayer() AccountID { return op.Issuer }
func (op *AssetClaimPoolOp) OpFee() Asset        { return op.Fee }

func (op *AssetClaimPoolOp) Validate() error {
	if err := validateFee(op.Fee); err != nil {
		return err
	}
	if op.AmountToClaim.Amount <= 0 {
		return fmt.Errorf("claim amount must be positive, got %d", op.AmountToClaim.Amount)
	}
	if op.AmountToClaim.AssetID != CoreAssetID {
		return fmt.Errorf("fee pool claims are paid in core")
	}
	if op.AssetID == CoreAssetID {
		return fmt.Errorf("core asset has no fee pool")
	}
	return nil
}
