package protocol

import "fmt"

// ObjectType discriminates record kinds in the object store. The (type,
// instance) pair forms an opaque foreign key; instances are never reused.
type ObjectType uint8

const (
	ObjectTypeUnknown ObjectType = iota
	ObjectTypeAccount
	ObjectTypeAsset
	ObjectTypeAssetDynamic
	ObjectTypeBackedAssetData
	ObjectTypeLimitOrder
	ObjectTypeCallOrder
	ObjectTypeForceSettlement
	ObjectTypeCollateralBid
	ObjectTypeValidator
	ObjectTypeDelegate
	ObjectTypeWorker
	ObjectTypeBudgetRecord
	ObjectTypeFeeBucket
)

func (t ObjectType) String() string {
	switch t {
	case ObjectTypeAccount:
		return "account"
	case ObjectTypeAsset:
		return "asset"
	case ObjectTypeAssetDynamic:
		return "asset_dynamic"
	case ObjectTypeBackedAssetData:
		return "backed_asset_data"
	case ObjectTypeLimitOrder:
		return "limit_order"
	case ObjectTypeCallOrder:
		return "call_order"
	case ObjectTypeForceSettlement:
		return "force_settlement"
	case ObjectTypeCollateralBid:
		return "collateral_bid"
	case ObjectTypeValidator:
		return "validator"
	case ObjectTypeDelegate:
		return "delegate"
	case ObjectTypeWorker:
		return "worker"
	case ObjectTypeBudgetRecord:
		return "budget_record"
	case ObjectTypeFeeBucket:
		return "fee_bucket"
	default:
		return "unknown"
	}
}

// ObjectID identifies any record in the object store.
type ObjectID struct {
	Type     ObjectType
	Instance uint64
}

func (id ObjectID) String() string {
	return fmt.Sprintf("%s:%d", id.Type, id.Instance)
}

func (id ObjectID) IsNil() bool { return id.Type == ObjectTypeUnknown }

// Typed instance ids. These are plain instance numbers; the object type is
// implied by the Go type, which keeps cross-references checkable at compile
// time.
type (
	AccountID   uint64
	AssetID     uint64
	OrderID     uint64 // limit orders
	CallID      uint64 // call (margin) positions
	SettleID    uint64 // force-settlement orders
	BidID       uint64 // collateral bids
	ValidatorID uint64
	DelegateID  uint64
	WorkerID    uint64
	BucketID    uint64 // earmarked fee buckets
)

func (id AccountID) Object() ObjectID { return ObjectID{ObjectTypeAccount, uint64(id)} }
func (id AssetID) Object() ObjectID   { return ObjectID{ObjectTypeAsset, uint64(id)} }
func (id OrderID) Object() ObjectID   { return ObjectID{ObjectTypeLimitOrder, uint64(id)} }
func (id CallID) Object() ObjectID    { return ObjectID{ObjectTypeCallOrder, uint64(id)} }
func (id SettleID) Object() ObjectID  { return ObjectID{ObjectTypeForceSettlement, uint64(id)} }
func (id BidID) Object() ObjectID     { return ObjectID{ObjectTypeCollateralBid, uint64(id)} }

// VoteID is a compact ballot slot. Validators, delegates and workers each
// allocate one from the global counter; stake-weighted tallies index a buffer
// by it during maintenance.
type VoteID uint32
