package query

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"ChainCore/internal/observability"
	"ChainCore/internal/protocol"
	"ChainCore/internal/state"
)

// Query subjects answered over NATS request-reply.
const (
	SubjectHead    = "chain.query.head"
	SubjectBalance = "chain.query.balance"
	SubjectAccount = "chain.query.account"
	SubjectAsset   = "chain.query.asset"
	SubjectOrders  = "chain.query.orders"
	SubjectBlock   = "chain.query.block"
	SubjectHistory = "chain.query.history"
)

// stateView is an immutable, indexed copy of the state at one height.
// The engine loop swaps in a fresh view after each applied block, so
// query handlers never touch live state.
type stateView struct {
	snap            *state.Snapshot
	accountsByID    map[protocol.AccountID]*state.Account
	accountsByName  map[string]*state.Account
	assetsByID      map[protocol.AssetID]*state.Asset
	assetIDBySymbol map[string]protocol.AssetID
	dynByID         map[protocol.AssetID]*state.AssetDynamicData
	backedByID      map[protocol.AssetID]*state.BackedAssetData
	balances        map[protocol.AccountID][]BalanceEntry
	ordersByAccount map[protocol.AccountID][]OrderInfo
}

func newStateView(s *state.Snapshot) *stateView {
	v := &stateView{
		snap:            s,
		accountsByID:    make(map[protocol.AccountID]*state.Account, len(s.Accounts)),
		accountsByName:  make(map[string]*state.Account, len(s.Accounts)),
		assetsByID:      make(map[protocol.AssetID]*state.Asset, len(s.Assets)),
		assetIDBySymbol: make(map[string]protocol.AssetID, len(s.Assets)),
		dynByID:         make(map[protocol.AssetID]*state.AssetDynamicData, len(s.AssetDyn)),
		backedByID:      make(map[protocol.AssetID]*state.BackedAssetData, len(s.Backed)),
		balances:        make(map[protocol.AccountID][]BalanceEntry),
		ordersByAccount: make(map[protocol.AccountID][]OrderInfo),
	}
	for i := range s.Accounts {
		a := &s.Accounts[i]
		v.accountsByID[a.ID] = a
		v.accountsByName[a.Name] = a
	}
	for i := range s.Assets {
		a := &s.Assets[i]
		v.assetsByID[a.ID] = a
		v.assetIDBySymbol[a.Symbol] = a.ID
	}
	for i := range s.AssetDyn {
		v.dynByID[s.AssetDyn[i].ID] = &s.AssetDyn[i]
	}
	for i := range s.Backed {
		v.backedByID[s.Backed[i].ID] = &s.Backed[i]
	}
	for _, b := range s.Balances {
		v.balances[b.Account] = append(v.balances[b.Account], BalanceEntry{Asset: b.Asset, Amount: b.Amount})
	}
	for i := range s.LimitOrders {
		o := &s.LimitOrders[i]
		v.ordersByAccount[o.Seller] = append(v.ordersByAccount[o.Seller], OrderInfo{
			ID:        o.ID,
			Seller:    o.Seller,
			ForSale:   o.ForSale,
			SellPrice: o.SellPrice,
			Expires:   o.Expiration,
		})
	}
	return v
}

func (v *stateView) height() uint64 { return v.snap.Dynamic.HeadBlockNumber }

// Service answers read-only queries over NATS request-reply, serving
// state from per-block snapshots and history from the Postgres block log.
type Service struct {
	nc      *nats.Conn
	hist    *HistoryStore
	metrics *observability.Metrics
	log     zerolog.Logger

	view atomic.Pointer[stateView]
	subs []*nats.Subscription
}

// NewService creates a query service. hist may be nil; block and
// history queries then report the store as unavailable.
func NewService(nc *nats.Conn, hist *HistoryStore, metrics *observability.Metrics, log zerolog.Logger) *Service {
	return &Service{
		nc:      nc,
		hist:    hist,
		metrics: metrics,
		log:     log.With().Str("component", "query").Logger(),
	}
}

// UpdateState publishes a new snapshot to the query side. Called by the
// engine loop after each applied block; handlers running concurrently
// keep serving the previous view until the swap.
func (qs *Service) UpdateState(s *state.Snapshot) {
	qs.view.Store(newStateView(s))
}

// Start subscribes all query subjects. Handlers run on the NATS
// delivery goroutine.
func (qs *Service) Start() error {
	endpoints := []struct {
		subject string
		handler func([]byte) (interface{}, error)
	}{
		{SubjectHead, qs.handleHead},
		{SubjectBalance, qs.handleBalance},
		{SubjectAccount, qs.handleAccount},
		{SubjectAsset, qs.handleAsset},
		{SubjectOrders, qs.handleOrders},
		{SubjectBlock, qs.handleBlock},
		{SubjectHistory, qs.handleHistory},
	}
	for _, ep := range endpoints {
		ep := ep
		sub, err := qs.nc.Subscribe(ep.subject, func(msg *nats.Msg) {
			qs.serve(ep.subject, msg, ep.handler)
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", ep.subject, err)
		}
		qs.subs = append(qs.subs, sub)
	}
	qs.log.Info().Int("endpoints", len(endpoints)).Msg("query service started")
	return nil
}

// Stop drains all subscriptions.
func (qs *Service) Stop() {
	for _, sub := range qs.subs {
		_ = sub.Unsubscribe()
	}
	qs.subs = nil
}

func (qs *Service) serve(subject string, msg *nats.Msg, handler func([]byte) (interface{}, error)) {
	start := time.Now()
	resp, err := handler(msg.Data)
	status := "ok"
	if err != nil {
		status = "error"
		resp = errorResponse{Error: err.Error()}
	}
	if qs.metrics != nil {
		qs.metrics.QueryRequests.WithLabelValues(subject, status).Inc()
		qs.metrics.QueryDuration.WithLabelValues(subject).Observe(time.Since(start).Seconds())
		if err != nil {
			qs.metrics.QueryErrors.WithLabelValues(subject, "handler").Inc()
		}
	}
	data, merr := json.Marshal(resp)
	if merr != nil {
		qs.log.Error().Err(merr).Str("subject", subject).Msg("marshal query response")
		return
	}
	if rerr := msg.Respond(data); rerr != nil {
		qs.log.Warn().Err(rerr).Str("subject", subject).Msg("respond failed")
	}
}

func (qs *Service) currentView() (*stateView, error) {
	v := qs.view.Load()
	if v == nil {
		return nil, fmt.Errorf("state not loaded yet")
	}
	return v, nil
}

func (qs *Service) handleHead(_ []byte) (interface{}, error) {
	v, err := qs.currentView()
	if err != nil {
		return nil, err
	}
	return HeadResponse{
		Height:              v.snap.Dynamic.HeadBlockNumber,
		Time:                v.snap.Dynamic.Time,
		NextMaintenanceTime: v.snap.Dynamic.NextMaintenanceTime,
		AccountCount:        len(v.snap.Accounts),
		AssetCount:          len(v.snap.Assets),
		LimitOrderCount:     len(v.snap.LimitOrders),
		CallOrderCount:      len(v.snap.CallOrders),
	}, nil
}

func (qs *Service) handleBalance(data []byte) (interface{}, error) {
	var req BalanceRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("bad request: %w", err)
	}
	v, err := qs.currentView()
	if err != nil {
		return nil, err
	}
	resp := BalanceResponse{Account: req.Account, Asset: req.Asset, AsOfHeight: v.height()}
	for _, e := range v.balances[req.Account] {
		if e.Asset == req.Asset {
			resp.Amount = e.Amount
			break
		}
	}
	return resp, nil
}

func (qs *Service) handleAccount(data []byte) (interface{}, error) {
	var req AccountRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("bad request: %w", err)
	}
	v, err := qs.currentView()
	if err != nil {
		return nil, err
	}
	var acct *state.Account
	switch {
	case req.ID != nil:
		acct = v.accountsByID[*req.ID]
	case req.Name != "":
		acct = v.accountsByName[req.Name]
	default:
		return nil, fmt.Errorf("account request needs id or name")
	}
	if acct == nil {
		return nil, fmt.Errorf("account not found")
	}
	return AccountResponse{
		ID:                acct.ID,
		Name:              acct.Name,
		VotingAccount:     acct.VotingAccount,
		Votes:             acct.Votes,
		TotalCoreInOrders: acct.TotalCoreInOrders,
		CashbackVesting:   acct.CashbackVesting,
		LifetimeFeesPaid:  acct.LifetimeFeesPaid,
		Balances:          v.balances[acct.ID],
		AsOfHeight:        v.height(),
	}, nil
}

func (qs *Service) handleAsset(data []byte) (interface{}, error) {
	var req AssetRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("bad request: %w", err)
	}
	v, err := qs.currentView()
	if err != nil {
		return nil, err
	}
	var asset *state.Asset
	switch {
	case req.ID != nil:
		asset = v.assetsByID[*req.ID]
	case req.Symbol != "":
		if id, ok := v.assetIDBySymbol[req.Symbol]; ok {
			asset = v.assetsByID[id]
		}
	default:
		return nil, fmt.Errorf("asset request needs id or symbol")
	}
	if asset == nil {
		return nil, fmt.Errorf("asset not found")
	}
	resp := AssetResponse{
		ID:         asset.ID,
		Symbol:     asset.Symbol,
		Precision:  asset.Precision,
		Issuer:     asset.Issuer,
		IsBacked:   asset.IsBacked,
		AsOfHeight: v.height(),
	}
	if dyn := v.dynByID[asset.ID]; dyn != nil {
		resp.CurrentSupply = dyn.CurrentSupply
		resp.AccumulatedFees = dyn.AccumulatedFees
		resp.FeePool = dyn.FeePool
	}
	if bd := v.backedByID[asset.ID]; bd != nil {
		resp.Backed = &BackedInfo{
			CurrentFeed:      bd.CurrentFeed,
			FeedCount:        len(bd.Feeds),
			GloballySettled:  bd.HasSettlement(),
			SettlementPrice:  bd.SettlementPrice,
			SettlementFund:   bd.SettlementFund,
			ForceSettledVol:  bd.ForceSettledVolume,
			PredictionMarket: bd.IsPredictionMarket,
		}
	}
	return resp, nil
}

func (qs *Service) handleOrders(data []byte) (interface{}, error) {
	var req OrdersRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("bad request: %w", err)
	}
	v, err := qs.currentView()
	if err != nil {
		return nil, err
	}
	return OrdersResponse{Orders: v.ordersByAccount[req.Account], AsOfHeight: v.height()}, nil
}

func (qs *Service) handleBlock(data []byte) (interface{}, error) {
	if qs.hist == nil {
		return nil, fmt.Errorf("block store not configured")
	}
	var req BlockRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("bad request: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, err := qs.hist.GetBlock(ctx, req.Height)
	if err != nil {
		return nil, err
	}
	return BlockResponse{Height: req.Height, Raw: raw}, nil
}

func (qs *Service) handleHistory(data []byte) (interface{}, error) {
	if qs.hist == nil {
		return nil, fmt.Errorf("block store not configured")
	}
	var req HistoryRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("bad request: %w", err)
	}
	if req.Limit <= 0 || req.Limit > 1000 {
		req.Limit = 100
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ops, err := qs.hist.AccountHistory(ctx, req.Account, req.Limit, req.BeforeHeight)
	if err != nil {
		return nil, err
	}
	return HistoryResponse{Operations: ops}, nil
}
