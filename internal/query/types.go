package query

import (
	"encoding/json"

	"ChainCore/internal/protocol"
)

// HeadResponse summarizes the current chain tip.
type HeadResponse struct {
	Height              uint64 `json:"height"`
	Time                int64  `json:"time"`
	NextMaintenanceTime int64  `json:"next_maintenance_time"`
	AccountCount        int    `json:"account_count"`
	AssetCount          int    `json:"asset_count"`
	LimitOrderCount     int    `json:"limit_order_count"`
	CallOrderCount      int    `json:"call_order_count"`
}

// BalanceRequest asks for one account's holding of one asset.
type BalanceRequest struct {
	Account protocol.AccountID `json:"account"`
	Asset   protocol.AssetID   `json:"asset"`
}

type BalanceResponse struct {
	Account    protocol.AccountID `json:"account"`
	Asset      protocol.AssetID   `json:"asset"`
	Amount     int64              `json:"amount"`
	AsOfHeight uint64             `json:"as_of_height"`
}

// AccountRequest resolves an account by id or, when Name is set, by name.
type AccountRequest struct {
	ID   *protocol.AccountID `json:"id,omitempty"`
	Name string              `json:"name,omitempty"`
}

type BalanceEntry struct {
	Asset  protocol.AssetID `json:"asset"`
	Amount int64            `json:"amount"`
}

type AccountResponse struct {
	ID                protocol.AccountID `json:"id"`
	Name              string             `json:"name"`
	VotingAccount     protocol.AccountID `json:"voting_account"`
	Votes             []protocol.VoteID  `json:"votes,omitempty"`
	TotalCoreInOrders int64              `json:"total_core_in_orders"`
	CashbackVesting   int64              `json:"cashback_vesting"`
	LifetimeFeesPaid  int64              `json:"lifetime_fees_paid"`
	Balances          []BalanceEntry     `json:"balances"`
	AsOfHeight        uint64             `json:"as_of_height"`
}

// AssetRequest resolves an asset by id or, when Symbol is set, by symbol.
type AssetRequest struct {
	ID     *protocol.AssetID `json:"id,omitempty"`
	Symbol string            `json:"symbol,omitempty"`
}

// BackedInfo is present on AssetResponse only for market-backed assets.
type BackedInfo struct {
	CurrentFeed      protocol.PriceFeed `json:"current_feed"`
	FeedCount        int                `json:"feed_count"`
	GloballySettled  bool               `json:"globally_settled"`
	SettlementPrice  protocol.Price     `json:"settlement_price"`
	SettlementFund   int64              `json:"settlement_fund"`
	ForceSettledVol  int64              `json:"force_settled_volume"`
	PredictionMarket bool               `json:"prediction_market"`
}

type AssetResponse struct {
	ID              protocol.AssetID   `json:"id"`
	Symbol          string             `json:"symbol"`
	Precision       uint8              `json:"precision"`
	Issuer          protocol.AccountID `json:"issuer"`
	CurrentSupply   int64              `json:"current_supply"`
	AccumulatedFees int64              `json:"accumulated_fees"`
	FeePool         int64              `json:"fee_pool"`
	IsBacked        bool               `json:"is_backed"`
	Backed          *BackedInfo        `json:"backed,omitempty"`
	AsOfHeight      uint64             `json:"as_of_height"`
}

// OrdersRequest lists an account's open limit orders.
type OrdersRequest struct {
	Account protocol.AccountID `json:"account"`
}

type OrderInfo struct {
	ID        protocol.OrderID   `json:"id"`
	Seller    protocol.AccountID `json:"seller"`
	ForSale   int64              `json:"for_sale"`
	SellPrice protocol.Price     `json:"sell_price"`
	Expires   int64              `json:"expires"`
}

type OrdersResponse struct {
	Orders     []OrderInfo `json:"orders"`
	AsOfHeight uint64      `json:"as_of_height"`
}

// BlockRequest fetches a stored block by height.
type BlockRequest struct {
	Height uint64 `json:"height"`
}

type BlockResponse struct {
	Height uint64          `json:"height"`
	Raw    json.RawMessage `json:"raw"`
}

// HistoryRequest pages backward through an account's operations.
// BeforeHeight of zero starts from the newest operation.
type HistoryRequest struct {
	Account      protocol.AccountID `json:"account"`
	Limit        int                `json:"limit"`
	BeforeHeight uint64             `json:"before_height,omitempty"`
}

// OperationRecord is one applied operation from the block log. Virtual
// operations carry an empty tx id.
type OperationRecord struct {
	Height       uint64          `json:"height"`
	OrderInBlock int             `json:"order_in_block"`
	TxID         string          `json:"tx_id,omitempty"`
	OpType       string          `json:"op_type"`
	Virtual      bool            `json:"virtual"`
	Payload      json.RawMessage `json:"payload"`
}

type HistoryResponse struct {
	Operations []OperationRecord `json:"operations"`
}

type errorResponse struct {
	Error string `json:"error"`
}
