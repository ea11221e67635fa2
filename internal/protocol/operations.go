package protocol

import (
	"encoding/json"
	"fmt"
)

// OpType tags the concrete operation carried inside an envelope.
type OpType string

const (
	OpTransfer                 OpType = "transfer"
	OpLimitOrderCreate         OpType = "limit_order_create"
	OpLimitOrderCancel         OpType = "limit_order_cancel"
	OpCallOrderUpdate          OpType = "call_order_update"
	OpAssetCreate              OpType = "asset_create"
	OpAssetIssue               OpType = "asset_issue"
	OpAssetReserve             OpType = "asset_reserve"
	OpAssetFundFeePool         OpType = "asset_fund_fee_pool"
	OpAssetUpdate              OpType = "asset_update"
	OpAssetUpdateBacked        OpType = "asset_update_backed"
	OpAssetUpdateFeedProducers OpType = "asset_update_feed_producers"
	OpAssetPublishFeed         OpType = "asset_publish_feed"
	OpAssetSettle              OpType = "asset_settle"
	OpAssetGlobalSettle        OpType = "asset_global_settle"
	OpAssetClaimFees           OpType = "asset_claim_fees"
	OpAssetClaimPool           OpType = "asset_claim_pool"
	OpBidCollateral            OpType = "bid_collateral"

	// Virtual operations are emitted by the engine, never submitted.
	OpFillOrder  OpType = "fill_order"
	OpExecuteBid OpType = "execute_bid"
)

// Operation is one state transition request inside a transaction. Validate
// performs stateless checks only; everything that needs chain state happens
// in the evaluators.
type Operation interface {
	Type() OpType
	Validate() error
	FeePayer() AccountID
	OpFee() Asset
}

// opRegistry maps every submittable operation type to a constructor for
// decoding. Virtual operations are deliberately absent: they cannot arrive
// from outside.
var opRegistry = map[OpType]func() Operation{
	OpTransfer:                 func() Operation { return &TransferOp{} },
	OpLimitOrderCreate:         func() Operation { return &LimitOrderCreateOp{} },
	OpLimitOrderCancel:         func() Operation { return &LimitOrderCancelOp{} },
	OpCallOrderUpdate:          func() Operation { return &CallOrderUpdateOp{} },
	OpAssetCreate:              func() Operation { return &AssetCreateOp{} },
	OpAssetIssue:               func() Operation { return &AssetIssueOp{} },
	OpAssetReserve:             func() Operation { return &AssetReserveOp{} },
	OpAssetFundFeePool:         func() Operation { return &AssetFundFeePoolOp{} },
	OpAssetUpdate:              func() Operation { return &AssetUpdateOp{} },
	OpAssetUpdateBacked:        func() Operation { return &AssetUpdateBackedOp{} },
	OpAssetUpdateFeedProducers: func() Operation { return &AssetUpdateFeedProducersOp{} },
	OpAssetPublishFeed:         func() Operation { return &AssetPublishFeedOp{} },
	OpAssetSettle:              func() Operation { return &AssetSettleOp{} },
	OpAssetGlobalSettle:        func() Operation { return &AssetGlobalSettleOp{} },
	OpAssetClaimFees:           func() Operation { return &AssetClaimFeesOp{} },
	OpAssetClaimPool:           func() Operation { return &AssetClaimPoolOp{} },
	OpBidCollateral:            func() Operation { return &BidCollateralOp{} },
}

type opEnvelope struct {
	Type    OpType          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalOperation wraps an operation in its type envelope.
func MarshalOperation(op Operation) ([]byte, error) {
	payload, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", op.Type(), err)
	}
	return json.Marshal(opEnvelope{Type: op.Type(), Payload: payload})
}

// UnmarshalOperation decodes an envelope into its concrete operation.
func UnmarshalOperation(data []byte) (Operation, error) {
	var env opEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode operation envelope: %w", err)
	}
	make, ok := opRegistry[env.Type]
	if !ok {
		return nil, fmt.Errorf("unknown operation type %q", env.Type)
	}
	op := make()
	if err := json.Unmarshal(env.Payload, op); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return op, nil
}

// virtualRegistry decodes the engine-generated operations found in the
// block log. Kept apart from opRegistry so they can never be submitted.
var virtualRegistry = map[OpType]func() Operation{
	OpFillOrder:  func() Operation { return &FillOrderOp{} },
	OpExecuteBid: func() Operation { return &ExecuteBidOp{} },
}

// UnmarshalStoredOperation decodes any operation read back from the
// block log, virtual ones included.
func UnmarshalStoredOperation(data []byte) (Operation, error) {
	op, err := UnmarshalOperation(data)
	if err == nil {
		return op, nil
	}
	var env opEnvelope
	if jerr := json.Unmarshal(data, &env); jerr != nil {
		return nil, err
	}
	make, ok := virtualRegistry[env.Type]
	if !ok {
		return nil, err
	}
	op = make()
	if jerr := json.Unmarshal(env.Payload, op); jerr != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, jerr)
	}
	return op, nil
}

// Transaction groups operations that apply atomically: either every
// operation succeeds or none of them leaves a trace.
type Transaction struct {
	ID         string      `json:"id"`
	Expiration int64       `json:"expiration"`
	Operations []Operation `json:"-"`
}

type txWire struct {
	ID         string            `json:"id"`
	Expiration int64             `json:"expiration"`
	Operations []json.RawMessage `json:"operations"`
}

func (t Transaction) MarshalJSON() ([]byte, error) {
	w := txWire{ID: t.ID, Expiration: t.Expiration, Operations: make([]json.RawMessage, 0, len(t.Operations))}
	for _, op := range t.Operations {
		raw, err := MarshalOperation(op)
		if err != nil {
			return nil, err
		}
		w.Operations = append(w.Operations, raw)
	}
	return json.Marshal(w)
}

func (t *Transaction) UnmarshalJSON(data []byte) error {
	var w txWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode transaction: %w", err)
	}
	t.ID = w.ID
	t.Expiration = w.Expiration
	t.Operations = make([]Operation, 0, len(w.Operations))
	for _, raw := range w.Operations {
		op, err := UnmarshalOperation(raw)
		if err != nil {
			return err
		}
		t.Operations = append(t.Operations, op)
	}
	return nil
}

// Validate runs the stateless checks of every contained operation.
func (t Transaction) Validate() error {
	if len(t.Operations) == 0 {
		return fmt.Errorf("transaction %s has no operations", t.ID)
	}
	for i, op := range t.Operations {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("operation %d (%s): %w", i, op.Type(), err)
		}
	}
	return nil
}

// Block is the unit of replication: an ordered batch of transactions plus
// the wall clock the producers agreed on.
type Block struct {
	Height       uint64        `json:"height"`
	Timestamp    int64         `json:"timestamp"`
	PrevHash     string        `json:"prev_hash"`
	Producer     ValidatorID   `json:"producer"`
	Transactions []Transaction `json:"transactions"`
}

// TransferOp moves an amount between two accounts.
type TransferOp struct {
	Fee    Asset     `json:"fee"`
	From   AccountID `json:"from"`
	To     AccountID `json:"to"`
	Amount Asset     `json:"amount"`
}

func (op *TransferOp) Type() OpType        { return OpTransfer }
func (op *TransferOp) FeePayer() AccountID { return op.From }
func (op *TransferOp) OpFee() Asset        { return op.Fee }

func (op *TransferOp) Validate() error {
	if err := validateFee(op.Fee); err != nil {
		return err
	}
	if op.From == op.To {
		return fmt.Errorf("transfer from an account to itself")
	}
	if op.Amount.Amount <= 0 {
		return fmt.Errorf("transfer amount must be positive, got %d", op.Amount.Amount)
	}
	return nil
}

// FillOrderOp is the virtual record of one side of a match. OrderID names
// the limit order, call order or settlement that traded.
type FillOrderOp struct {
	OrderID  ObjectID  `json:"order_id"`
	Account  AccountID `json:"account"`
	Pays     Asset     `json:"pays"`
	Receives Asset     `json:"receives"`
	Fee      Asset     `json:"fee"`
	FillPrice Price    `json:"fill_price"`
	IsMaker  bool      `json:"is_maker"`
}

func (op *FillOrderOp) Type() OpType        { return OpFillOrder }
func (op *FillOrderOp) Validate() error     { return nil }
func (op *FillOrderOp) FeePayer() AccountID { return op.Account }
func (op *FillOrderOp) OpFee() Asset        { return op.Fee }

// ExecuteBidOp is the virtual record of a collateral bid taking over a
// share of a revived asset's settled debt.
type ExecuteBidOp struct {
	Bidder     AccountID `json:"bidder"`
	Debt       Asset     `json:"debt"`
	Collateral Asset     `json:"collateral"`
}

func (op *ExecuteBidOp) Type() OpType        { return OpExecuteBid }
func (op *ExecuteBidOp) Validate() error     { return nil }
func (op *ExecuteBidOp) FeePayer() AccountID { return op.Bidder }
func (op *ExecuteBidOp) OpFee() Asset        { return Asset{AssetID: CoreAssetID} }

func validateFee(fee Asset) error {
	if fee.Amount < 0 {
		return fmt.Errorf("fee must be non-negative, got %d", fee.Amount)
	}
	return nil
}
