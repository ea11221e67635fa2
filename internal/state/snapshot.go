package state

import (
	"sort"

	"ChainCore/internal/protocol"
)

// BalanceSnapshot is one exported balance cell. Struct-keyed maps do not
// survive JSON, so balances flatten into a sorted slice.
type BalanceSnapshot struct {
	Account protocol.AccountID `json:"account"`
	Asset   protocol.AssetID   `json:"asset"`
	Amount  int64              `json:"amount"`
}

// Snapshot is the complete serializable chain state. Every slice is
// sorted by id so identical states export byte-identical snapshots.
type Snapshot struct {
	Accounts     []Account                        `json:"accounts"`
	Assets       []Asset                          `json:"assets"`
	AssetDyn     []AssetDynamicData               `json:"asset_dyn"`
	Backed       []BackedAssetData                `json:"backed"`
	LimitOrders  []LimitOrder                     `json:"limit_orders"`
	CallOrders   []CallOrder                      `json:"call_orders"`
	Settlements  []ForceSettlement                `json:"settlements"`
	Bids         []CollateralBid                  `json:"bids"`
	Validators   []Validator                      `json:"validators"`
	Delegates    []Delegate                       `json:"delegates"`
	Workers      []Worker                         `json:"workers"`
	FeeBuckets   []FeeBucket                      `json:"fee_buckets"`
	Budget       []BudgetRecord                   `json:"budget"`
	Balances     []BalanceSnapshot                `json:"balances"`
	Global       GlobalProperties                 `json:"global"`
	Dynamic      DynamicGlobalProperties          `json:"dynamic"`
	NextInstance map[protocol.ObjectType]uint64   `json:"next_instance"`
}

// ExportSnapshot copies the full state into a detached snapshot. Must
// not run inside an open undo session.
func (db *DB) ExportSnapshot() *Snapshot {
	s := &Snapshot{
		Global:       *db.global.clone(),
		Dynamic:      db.dynamic,
		Budget:       append([]BudgetRecord(nil), db.budget...),
		NextInstance: make(map[protocol.ObjectType]uint64, len(db.nextInstance)),
	}
	for k, v := range db.nextInstance {
		s.NextInstance[k] = v
	}

	for _, a := range db.AllAccounts() {
		s.Accounts = append(s.Accounts, *a.clone())
	}
	for _, a := range db.AllAssets() {
		s.Assets = append(s.Assets, *a.clone())
		s.AssetDyn = append(s.AssetDyn, *db.DynamicData(a.ID))
	}
	for _, bd := range db.BackedAssets() {
		s.Backed = append(s.Backed, *bd.clone())
	}
	for _, v := range db.AllValidators() {
		s.Validators = append(s.Validators, *v)
	}
	for _, d := range db.AllDelegates() {
		s.Delegates = append(s.Delegates, *d)
	}
	for _, w := range db.AllWorkers() {
		s.Workers = append(s.Workers, *w)
	}
	for _, f := range db.AllFeeBuckets() {
		s.FeeBuckets = append(s.FeeBuckets, *f)
	}
	for _, e := range db.Balances() {
		s.Balances = append(s.Balances, BalanceSnapshot{Account: e.Account, Asset: e.Asset, Amount: e.Amount})
	}

	for _, o := range db.limitOrders {
		s.LimitOrders = append(s.LimitOrders, *o)
	}
	sort.Slice(s.LimitOrders, func(i, j int) bool { return s.LimitOrders[i].ID < s.LimitOrders[j].ID })
	for _, o := range db.callOrders {
		s.CallOrders = append(s.CallOrders, *o.clone())
	}
	sort.Slice(s.CallOrders, func(i, j int) bool { return s.CallOrders[i].ID < s.CallOrders[j].ID })
	for _, st := range db.settlements {
		s.Settlements = append(s.Settlements, *st)
	}
	sort.Slice(s.Settlements, func(i, j int) bool { return s.Settlements[i].ID < s.Settlements[j].ID })
	for _, b := range db.bids {
		s.Bids = append(s.Bids, *b)
	}
	sort.Slice(s.Bids, func(i, j int) bool { return s.Bids[i].ID < s.Bids[j].ID })

	return s
}

// RestoreSnapshot replaces the entire state with the snapshot contents.
// The undo stack must be empty; a restore is not undoable.
func (db *DB) RestoreSnapshot(s *Snapshot) {
	if db.session != nil {
		panic("FATAL: snapshot restore inside an undo session")
	}

	fresh := NewDB()
	*db = *fresh

	for i := range s.Accounts {
		a := s.Accounts[i]
		db.accounts[a.ID] = a.clone()
	}
	for i := range s.Assets {
		a := s.Assets[i]
		db.assets[a.ID] = a.clone()
	}
	for i := range s.AssetDyn {
		d := s.AssetDyn[i]
		db.assetDyn[d.ID] = &d
	}
	for i := range s.Backed {
		b := s.Backed[i]
		db.backed[b.ID] = b.clone()
	}
	for i := range s.LimitOrders {
		o := s.LimitOrders[i]
		db.limitOrders[o.ID] = &o
	}
	for i := range s.CallOrders {
		o := s.CallOrders[i]
		db.callOrders[o.ID] = o.clone()
	}
	for i := range s.Settlements {
		st := s.Settlements[i]
		db.settlements[st.ID] = &st
	}
	for i := range s.Bids {
		b := s.Bids[i]
		db.bids[b.ID] = &b
	}
	for i := range s.Validators {
		v := s.Validators[i]
		db.validators[v.ID] = &v
	}
	for i := range s.Delegates {
		d := s.Delegates[i]
		db.delegates[d.ID] = &d
	}
	for i := range s.Workers {
		w := s.Workers[i]
		db.workers[w.ID] = &w
	}
	for i := range s.FeeBuckets {
		f := s.FeeBuckets[i]
		db.feeBuckets[f.ID] = &f
	}
	for _, b := range s.Balances {
		db.balances[BalanceKey{Account: b.Account, Asset: b.Asset}] = b.Amount
	}
	db.budget = append([]BudgetRecord(nil), s.Budget...)
	db.global = *s.Global.clone()
	db.dynamic = s.Dynamic
	for k, v := range s.NextInstance {
		db.nextInstance[k] = v
	}
}
