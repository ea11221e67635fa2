package protocol

import "fmt"

// LimitOrderCreateOp offers AmountToSell in exchange for at least
// MinToReceive, resting on the book until filled, cancelled or expired.
type LimitOrderCreateOp struct {
	Fee          Asset     `json:"fee"`
	Seller       AccountID `json:"seller"`
	AmountToSell Asset     `json:"amount_to_sell"`
	MinToReceive Asset     `json:"min_to_receive"`
	Expiration   int64     `json:"expiration"`
	FillOrKill   bool      `json:"fill_or_kill"`
}

func (op *LimitOrderCreateOp) Type() OpType        { return OpLimitOrderCreate }
func (op *LimitOrderCreateOp) FeePayer() AccountID { return op.Seller }
func (op *LimitOrderCreateOp) OpFee() Asset        { return op.Fee }

// SellPrice is the limit price implied by the offered amounts.
func (op *LimitOrderCreateOp) SellPrice() Price {
	return Price{Base: op.AmountToSell, Quote: op.MinToReceive}
}

func (op *LimitOrderCreateOp) Validate() error {
	if err := validateFee(op.Fee); err != nil {
		return err
	}
	if op.AmountToSell.AssetID == op.MinToReceive.AssetID {
		return fmt.Errorf("order must trade two distinct assets")
	}
	if op.AmountToSell.Amount <= 0 {
		return fmt.Errorf("amount to sell must be positive, got %d", op.AmountToSell.Amount)
	}
	if op.MinToReceive.Amount <= 0 {
		return fmt.Errorf("min to receive must be positive, got %d", op.MinToReceive.Amount)
	}
	return nil
}

// LimitOrderCancelOp removes a resting order and refunds what is left of it.
type LimitOrderCancelOp struct {
	Fee   Asset     `json:"fee"`
	Payer AccountID `json:"fee_paying_account"`
	Order OrderID   `json:"order"`
}

func (op *LimitOrderCancelOp) Type() OpType        { return OpLimitOrderCancel }
func (op *LimitOrderCancelOp) FeePayer() AccountID { return op.Payer }
func (op *LimitOrderCancelOp) OpFee() Asset        { return op.Fee }

func (op *LimitOrderCancelOp) Validate() error {
	return validateFee(op.Fee)
}

// CallOrderUpdateOp adjusts a debt position. Positive deltas add collateral
// or borrow more debt; negative deltas withdraw collateral or repay.
// Closing the position entirely means driving both debt and collateral to
// zero in one update.
type CallOrderUpdateOp struct {
	Fee                   Asset     `json:"fee"`
	FundingAccount        AccountID `json:"funding_account"`
	DeltaCollateral       Asset     `json:"delta_collateral"`
	DeltaDebt             Asset     `json:"delta_debt"`
	TargetCollateralRatio *uint16   `json:"target_collateral_ratio,omitempty"`
}

func (op *CallOrderUpdateOp) Type() OpType        { return OpCallOrderUpdate }
func (op *CallOrderUpdateOp) FeePayer() AccountID { return op.FundingAccount }
func (op *CallOrderUpdateOp) OpFee() Asset        { return op.Fee }

func (op *CallOrderUpdateOp) Validate() error {
	if err := validateFee(op.Fee); err != nil {
		return err
	}
	if op.DeltaCollateral.Amount == 0 && op.DeltaDebt.Amount == 0 {
		return fmt.Errorf("update changes neither collateral nor debt")
	}
	if op.DeltaCollateral.AssetID == op.DeltaDebt.AssetID {
		return fmt.Errorf("collateral and debt must be distinct assets")
	}
	if op.TargetCollateralRatio != nil && *op.TargetCollateralRatio > MaxCollateralRatio {
		return fmt.Errorf("target collateral ratio %d exceeds maximum %d",
			*op.TargetCollateralRatio, MaxCollateralRatio)
	}
	return nil
}

// BidCollateralOp places or updates a bid to take over part of a globally
// settled asset's debt in exchange for the bid collateral plus a share of
// the settlement fund. A zero AdditionalCollateral cancels the bid.
type BidCollateralOp struct {
	Fee                  Asset     `json:"fee"`
	Bidder               AccountID `json:"bidder"`
	AdditionalCollateral Asset     `json:"additional_collateral"`
	DebtCovered          Asset     `json:"debt_covered"`
}

func (op *BidCollateralOp) Type() OpType        { return OpBidCollateral }
func (op *BidCollateralOp) FeePayer() AccountID { return op.Bidder }
func (op *BidCollateralOp) OpFee() Asset        { return op.Fee }

func (op *BidCollateralOp) Validate() error {
	if err := validateFee(op.Fee); err != nil {
		return err
	}
	if op.AdditionalCollateral.Amount < 0 {
		return fmt.Errorf("bid collateral must be non-negative, got %d", op.AdditionalCollateral.Amount)
	}
	if op.DebtCovered.Amount < 0 {
		return fmt.Errorf("debt covered must be non-negative, got %d", op.DebtCovered.Amount)
	}
	if op.DebtCovered.Amount == 0 && op.AdditionalCollateral.Amount != 0 {
		return fmt.Errorf("bid covering zero debt must carry zero collateral")
	}
	if op.AdditionalCollateral.AssetID == op.DebtCovered.AssetID {
		return fmt.Errorf("collateral and debt must be distinct assets")
	}
	return nil
}
