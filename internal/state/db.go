package state

import (
	"fmt"

	"ChainCore/internal/protocol"
)

// BalanceKey addresses one account's holding of one asset.
type BalanceKey struct {
	Account protocol.AccountID
	Asset   protocol.AssetID
}

// DB is the full in-memory chain state. All access is single threaded from
// the engine loop; the only concurrency control is the undo stack, which
// lets a failed transaction or an unlinked block roll back cleanly.
type DB struct {
	accounts    map[protocol.AccountID]*Account
	assets      map[protocol.AssetID]*Asset
	assetDyn    map[protocol.AssetID]*AssetDynamicData
	backed      map[protocol.AssetID]*BackedAssetData
	limitOrders map[protocol.OrderID]*LimitOrder
	callOrders  map[protocol.CallID]*CallOrder
	settlements map[protocol.SettleID]*ForceSettlement
	bids        map[protocol.BidID]*CollateralBid
	validators  map[protocol.ValidatorID]*Validator
	delegates   map[protocol.DelegateID]*Delegate
	workers     map[protocol.WorkerID]*Worker
	feeBuckets  map[protocol.BucketID]*FeeBucket
	budget      []BudgetRecord

	balances map[BalanceKey]int64

	global  GlobalProperties
	dynamic DynamicGlobalProperties

	nextInstance map[protocol.ObjectType]uint64

	session *UndoSession
	hooks   ChangeHooks
}

// ChangeHooks receive synchronous object lifecycle notifications, fired
// after each forward mutation applies. Handlers run inside the apply
// path: they must not mutate state and must not block. Undo replays do
// not fire hooks.
type ChangeHooks struct {
	NewObject     func(protocol.ObjectID)
	ChangedObject func(protocol.ObjectID)
	RemovedObject func(protocol.ObjectID)
}

// SetHooks installs the lifecycle notification handlers.
func (db *DB) SetHooks(h ChangeHooks) { db.hooks = h }

func NewDB() *DB {
	return &DB{
		accounts:     make(map[protocol.AccountID]*Account),
		assets:       make(map[protocol.AssetID]*Asset),
		assetDyn:     make(map[protocol.AssetID]*AssetDynamicData),
		backed:       make(map[protocol.AssetID]*BackedAssetData),
		limitOrders:  make(map[protocol.OrderID]*LimitOrder),
		callOrders:   make(map[protocol.CallID]*CallOrder),
		settlements:  make(map[protocol.SettleID]*ForceSettlement),
		bids:         make(map[protocol.BidID]*CollateralBid),
		validators:   make(map[protocol.ValidatorID]*Validator),
		delegates:    make(map[protocol.DelegateID]*Delegate),
		workers:      make(map[protocol.WorkerID]*Worker),
		feeBuckets:   make(map[protocol.BucketID]*FeeBucket),
		balances:     make(map[BalanceKey]int64),
		nextInstance: make(map[protocol.ObjectType]uint64),
	}
}

// NewGenesisDB builds the day-zero state: default parameters, the
// well-known accounts at their fixed instances, the core asset, and
// the initial supply credited to the council account.
func NewGenesisDB(genesisTime, initialSupply int64) *DB {
	db := NewDB()
	db.ModifyGlobalProperties(func(g *GlobalProperties) {
		g.Parameters = protocol.DefaultChainParameters()
	})

	council := db.CreateAccount("council", protocol.ProxyToSelf)
	db.CreateAccount("producers", protocol.ProxyToSelf)
	db.CreateAccount("network", protocol.ProxyToSelf)
	if council.ID != protocol.CouncilAccountID {
		panic("FATAL: genesis accounts allocated out of order")
	}

	core := db.CreateAsset("CORE", 5, protocol.CouncilAccountID, protocol.AssetOptions{MaxSupply: protocol.MaxSupply})
	if core.ID != protocol.CoreAssetID {
		panic("FATAL: core asset not at instance 0")
	}
	if initialSupply > 0 {
		db.AdjustBalance(council.ID, protocol.CoreAsset(initialSupply))
		db.ModifyDynamicData(core.ID, func(d *AssetDynamicData) {
			d.CurrentSupply = initialSupply
		})
	}

	interval := int64(db.global.Parameters.MaintenanceInterval)
	db.ModifyDynamicGlobal(func(d *DynamicGlobalProperties) {
		d.Time = genesisTime
		d.LastBudgetTime = genesisTime
		d.NextMaintenanceTime = genesisTime + interval
	})
	return db
}

// UndoSession accumulates inverse mutations. Undo rolls the state back to
// where the session started; Commit folds the session into its parent so
// an enclosing session can still undo past it.
type UndoSession struct {
	db     *DB
	parent *UndoSession
	ops    []func()
	closed bool
}

// StartUndoSession opens a nested session. Transactions run in a session
// nested inside the block's session.
func (db *DB) StartUndoSession() *UndoSession {
	s := &UndoSession{db: db, parent: db.session}
	db.session = s
	return s
}

// Commit merges the recorded inverses into the parent session, or drops
// them when this is the outermost session.
func (s *UndoSession) Commit() {
	if s.closed {
		panic("FATAL: undo session closed twice")
	}
	s.closed = true
	if s.parent != nil {
		s.parent.ops = append(s.parent.ops, s.ops...)
	}
	s.db.session = s.parent
}

// Undo replays the recorded inverses in reverse order.
func (s *UndoSession) Undo() {
	if s.closed {
		panic("FATAL: undo session closed twice")
	}
	s.closed = true
	for i := len(s.ops) - 1; i >= 0; i-- {
		s.ops[i]()
	}
	s.db.session = s.parent
}

func (db *DB) record(inverse func()) {
	if db.session != nil {
		db.session.ops = append(db.session.ops, inverse)
	}
}

type cloneable[T any] interface{ clone() T }

func createObject[K ~uint64, T cloneable[T]](db *DB, t protocol.ObjectType, m map[K]T, k K, v T) {
	if _, exists := m[k]; exists {
		panic(fmt.Sprintf("FATAL: object %v already exists", k))
	}
	m[k] = v
	db.record(func() { delete(m, k) })
	if db.hooks.NewObject != nil {
		db.hooks.NewObject(protocol.ObjectID{Type: t, Instance: uint64(k)})
	}
}

func modifyObject[K ~uint64, T cloneable[T]](db *DB, t protocol.ObjectType, m map[K]T, k K, fn func(T)) {
	cur, ok := m[k]
	if !ok {
		panic(fmt.Sprintf("FATAL: modifying missing object %v", k))
	}
	old := cur.clone()
	db.record(func() { m[k] = old })
	fn(cur)
	if db.hooks.ChangedObject != nil {
		db.hooks.ChangedObject(protocol.ObjectID{Type: t, Instance: uint64(k)})
	}
}

func removeObject[K ~uint64, T cloneable[T]](db *DB, t protocol.ObjectType, m map[K]T, k K) {
	cur, ok := m[k]
	if !ok {
		panic(fmt.Sprintf("FATAL: removing missing object %v", k))
	}
	old := cur.clone()
	delete(m, k)
	db.record(func() { m[k] = old })
	if db.hooks.RemovedObject != nil {
		db.hooks.RemovedObject(protocol.ObjectID{Type: t, Instance: uint64(k)})
	}
}

func (db *DB) allocate(t protocol.ObjectType) uint64 {
	n := db.nextInstance[t]
	db.nextInstance[t] = n + 1
	db.record(func() { db.nextInstance[t] = n })
	return n
}

// Accounts.

func (db *DB) CreateAccount(name string, voting protocol.AccountID) *Account {
	id := protocol.AccountID(db.allocate(protocol.ObjectTypeAccount))
	a := &Account{ID: id, Name: name, VotingAccount: voting}
	createObject(db, protocol.ObjectTypeAccount, db.accounts, id, a)
	return a
}

func (db *DB) GetAccount(id protocol.AccountID) (*Account, error) {
	a, ok := db.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d does not exist", id)
	}
	return a, nil
}

func (db *DB) MustAccount(id protocol.AccountID) *Account {
	a, err := db.GetAccount(id)
	if err != nil {
		panic("FATAL: " + err.Error())
	}
	return a
}

func (db *DB) ModifyAccount(id protocol.AccountID, fn func(*Account)) {
	modifyObject(db, protocol.ObjectTypeAccount, db.accounts, id, fn)
}

// Assets.

func (db *DB) CreateAsset(symbol string, precision uint8, issuer protocol.AccountID, opts protocol.AssetOptions) *Asset {
	id := protocol.AssetID(db.allocate(protocol.ObjectTypeAsset))
	a := &Asset{ID: id, Symbol: symbol, Precision: precision, Issuer: issuer, Options: opts, BackedData: id}
	createObject(db, protocol.ObjectTypeAsset, db.assets, id, a)
	createObject(db, protocol.ObjectTypeAssetDynamic, db.assetDyn, id, &AssetDynamicData{ID: id})
	return a
}

// CreateBackedAssetData attaches collateral tracking to an asset, making
// it a backed asset.
func (db *DB) CreateBackedAssetData(id protocol.AssetID, opts protocol.BackedAssetOptions, predictionMarket bool) *BackedAssetData {
	b := &BackedAssetData{
		ID:        id,
		Options:   opts,
		Feeds:     make(map[protocol.AccountID]FeedEntry),
		Producers: make(map[protocol.AccountID]struct{}),

		IsPredictionMarket: predictionMarket,
	}
	createObject(db, protocol.ObjectTypeBackedAssetData, db.backed, id, b)
	modifyObject(db, protocol.ObjectTypeAsset, db.assets, id, func(a *Asset) { a.IsBacked = true })
	return b
}

func (db *DB) GetAsset(id protocol.AssetID) (*Asset, error) {
	a, ok := db.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %d does not exist", id)
	}
	return a, nil
}

func (db *DB) MustAsset(id protocol.AssetID) *Asset {
	a, err := db.GetAsset(id)
	if err != nil {
		panic("FATAL: " + err.Error())
	}
	return a
}

// FindAssetBySymbol returns nil when no asset carries the symbol.
func (db *DB) FindAssetBySymbol(symbol string) *Asset {
	var found *Asset
	for _, a := range db.assets {
		if a.Symbol == symbol {
			found = a
			break
		}
	}
	return found
}

func (db *DB) ModifyAsset(id protocol.AssetID, fn func(*Asset)) {
	modifyObject(db, protocol.ObjectTypeAsset, db.assets, id, fn)
}

func (db *DB) DynamicData(id protocol.AssetID) *AssetDynamicData {
	d, ok := db.assetDyn[id]
	if !ok {
		panic(fmt.Sprintf("FATAL: asset %d has no dynamic data", id))
	}
	return d
}

func (db *DB) ModifyDynamicData(id protocol.AssetID, fn func(*AssetDynamicData)) {
	modifyObject(db, protocol.ObjectTypeAssetDynamic, db.assetDyn, id, fn)
}

// BackedData returns the collateral record of a backed asset.
func (db *DB) BackedData(id protocol.AssetID) *BackedAssetData {
	b, ok := db.backed[id]
	if !ok {
		panic(fmt.Sprintf("FATAL: asset %d is not backed", id))
	}
	return b
}

func (db *DB) FindBackedData(id protocol.AssetID) *BackedAssetData {
	return db.backed[id]
}

func (db *DB) ModifyBackedData(id protocol.AssetID, fn func(*BackedAssetData)) {
	modifyObject(db, protocol.ObjectTypeBackedAssetData, db.backed, id, fn)
}

// Limit orders.

func (db *DB) CreateLimitOrder(o LimitOrder) *LimitOrder {
	o.ID = protocol.OrderID(db.allocate(protocol.ObjectTypeLimitOrder))
	obj := &o
	createObject(db, protocol.ObjectTypeLimitOrder, db.limitOrders, o.ID, obj)
	return obj
}

func (db *DB) GetLimitOrder(id protocol.OrderID) (*LimitOrder, error) {
	o, ok := db.limitOrders[id]
	if !ok {
		return nil, fmt.Errorf("limit order %d does not exist", id)
	}
	return o, nil
}

func (db *DB) FindLimitOrder(id protocol.OrderID) *LimitOrder {
	return db.limitOrders[id]
}

func (db *DB) ModifyLimitOrder(id protocol.OrderID, fn func(*LimitOrder)) {
	modifyObject(db, protocol.ObjectTypeLimitOrder, db.limitOrders, id, fn)
}

func (db *DB) RemoveLimitOrder(id protocol.OrderID) {
	removeObject(db, protocol.ObjectTypeLimitOrder, db.limitOrders, id)
}

// Call orders.

func (db *DB) CreateCallOrder(o CallOrder) *CallOrder {
	o.ID = protocol.CallID(db.allocate(protocol.ObjectTypeCallOrder))
	obj := &o
	createObject(db, protocol.ObjectTypeCallOrder, db.callOrders, o.ID, obj)
	return obj
}

func (db *DB) FindCallOrder(id protocol.CallID) *CallOrder {
	return db.callOrders[id]
}

// FindCallOrderFor returns the borrower's position in the given debt
// asset, or nil.
func (db *DB) FindCallOrderFor(borrower protocol.AccountID, debtType protocol.AssetID) *CallOrder {
	var found *CallOrder
	for _, o := range db.callOrders {
		if o.Borrower == borrower && o.DebtType == debtType {
			found = o
			break
		}
	}
	return found
}

func (db *DB) ModifyCallOrder(id protocol.CallID, fn func(*CallOrder)) {
	modifyObject(db, protocol.ObjectTypeCallOrder, db.callOrders, id, fn)
}

func (db *DB) RemoveCallOrder(id protocol.CallID) {
	removeObject(db, protocol.ObjectTypeCallOrder, db.callOrders, id)
}

// Force settlements.

func (db *DB) CreateForceSettlement(s ForceSettlement) *ForceSettlement {
	s.ID = protocol.SettleID(db.allocate(protocol.ObjectTypeForceSettlement))
	obj := &s
	createObject(db, protocol.ObjectTypeForceSettlement, db.settlements, s.ID, obj)
	return obj
}

func (db *DB) FindForceSettlement(id protocol.SettleID) *ForceSettlement {
	return db.settlements[id]
}

func (db *DB) ModifyForceSettlement(id protocol.SettleID, fn func(*ForceSettlement)) {
	modifyObject(db, protocol.ObjectTypeForceSettlement, db.settlements, id, fn)
}

func (db *DB) RemoveForceSettlement(id protocol.SettleID) {
	removeObject(db, protocol.ObjectTypeForceSettlement, db.settlements, id)
}

// Collateral bids.

func (db *DB) CreateCollateralBid(b CollateralBid) *CollateralBid {
	b.ID = protocol.BidID(db.allocate(protocol.ObjectTypeCollateralBid))
	obj := &b
	createObject(db, protocol.ObjectTypeCollateralBid, db.bids, b.ID, obj)
	return obj
}

func (db *DB) FindCollateralBid(id protocol.BidID) *CollateralBid {
	return db.bids[id]
}

// FindCollateralBidFor returns the bidder's bid on the given debt asset,
// or nil. One bid per bidder per asset.
func (db *DB) FindCollateralBidFor(bidder protocol.AccountID, debtType protocol.AssetID) *CollateralBid {
	var found *CollateralBid
	for _, b := range db.bids {
		if b.Bidder == bidder && b.DebtCovered.AssetID == debtType {
			found = b
			break
		}
	}
	return found
}

func (db *DB) ModifyCollateralBid(id protocol.BidID, fn func(*CollateralBid)) {
	modifyObject(db, protocol.ObjectTypeCollateralBid, db.bids, id, fn)
}

func (db *DB) RemoveCollateralBid(id protocol.BidID) {
	removeObject(db, protocol.ObjectTypeCollateralBid, db.bids, id)
}

// Governance objects.

func (db *DB) CreateValidator(account protocol.AccountID, vote protocol.VoteID) *Validator {
	id := protocol.ValidatorID(db.allocate(protocol.ObjectTypeValidator))
	v := &Validator{ID: id, Account: account, VoteID: vote}
	createObject(db, protocol.ObjectTypeValidator, db.validators, id, v)
	return v
}

func (db *DB) FindValidator(id protocol.ValidatorID) *Validator {
	return db.validators[id]
}

func (db *DB) ModifyValidator(id protocol.ValidatorID, fn func(*Validator)) {
	modifyObject(db, protocol.ObjectTypeValidator, db.validators, id, fn)
}

func (db *DB) CreateDelegate(account protocol.AccountID, vote protocol.VoteID) *Delegate {
	id := protocol.DelegateID(db.allocate(protocol.ObjectTypeDelegate))
	d := &Delegate{ID: id, Account: account, VoteID: vote}
	createObject(db, protocol.ObjectTypeDelegate, db.delegates, id, d)
	return d
}

func (db *DB) FindDelegate(id protocol.DelegateID) *Delegate {
	return db.delegates[id]
}

func (db *DB) ModifyDelegate(id protocol.DelegateID, fn func(*Delegate)) {
	modifyObject(db, protocol.ObjectTypeDelegate, db.delegates, id, fn)
}

func (db *DB) CreateWorker(w Worker) *Worker {
	w.ID = protocol.WorkerID(db.allocate(protocol.ObjectTypeWorker))
	obj := &w
	createObject(db, protocol.ObjectTypeWorker, db.workers, w.ID, obj)
	return obj
}

func (db *DB) FindWorker(id protocol.WorkerID) *Worker {
	return db.workers[id]
}

func (db *DB) ModifyWorker(id protocol.WorkerID, fn func(*Worker)) {
	modifyObject(db, protocol.ObjectTypeWorker, db.workers, id, fn)
}

// CreateFeeBucket opens an earmarked fee bucket for the given asset.
func (db *DB) CreateFeeBucket(designated protocol.AssetID) *FeeBucket {
	id := protocol.BucketID(db.allocate(protocol.ObjectTypeFeeBucket))
	f := &FeeBucket{ID: id, DesignatedAsset: designated}
	createObject(db, protocol.ObjectTypeFeeBucket, db.feeBuckets, id, f)
	return f
}

func (db *DB) FindFeeBucket(id protocol.BucketID) *FeeBucket {
	return db.feeBuckets[id]
}

func (db *DB) ModifyFeeBucket(id protocol.BucketID, fn func(*FeeBucket)) {
	modifyObject(db, protocol.ObjectTypeFeeBucket, db.feeBuckets, id, fn)
}

// AppendBudgetRecord archives one maintenance budget computation.
func (db *DB) AppendBudgetRecord(r BudgetRecord) {
	db.budget = append(db.budget, r)
	db.record(func() { db.budget = db.budget[:len(db.budget)-1] })
}

// LastBudgetRecord returns the most recent record, or nil.
func (db *DB) LastBudgetRecord() *BudgetRecord {
	if len(db.budget) == 0 {
		return nil
	}
	return &db.budget[len(db.budget)-1]
}

// Balances.

func (db *DB) GetBalance(account protocol.AccountID, asset protocol.AssetID) protocol.Asset {
	return protocol.NewAsset(db.balances[BalanceKey{Account: account, Asset: asset}], asset)
}

// AdjustBalance credits (or debits, for negative amounts) an account.
// Driving a balance negative is an invariant violation: callers check
// sufficiency first.
func (db *DB) AdjustBalance(account protocol.AccountID, delta protocol.Asset) {
	if delta.Amount == 0 {
		return
	}
	key := BalanceKey{Account: account, Asset: delta.AssetID}
	next := db.balances[key] + delta.Amount
	if next < 0 {
		panic(fmt.Sprintf("FATAL: balance of account %d in asset %d driven negative: %d",
			account, delta.AssetID, next))
	}
	db.balances[key] = next
	db.record(func() {
		db.balances[key] -= delta.Amount
		if db.balances[key] == 0 {
			delete(db.balances, key)
		}
	})
}

// Global properties.

func (db *DB) GlobalProperties() *GlobalProperties { return &db.global }

func (db *DB) ModifyGlobalProperties(fn func(*GlobalProperties)) {
	old := db.global.clone()
	db.record(func() { db.global = *old })
	fn(&db.global)
}

func (db *DB) DynamicGlobal() *DynamicGlobalProperties { return &db.dynamic }

func (db *DB) ModifyDynamicGlobal(fn func(*DynamicGlobalProperties)) {
	old := db.dynamic.clone()
	db.record(func() { db.dynamic = *old })
	fn(&db.dynamic)
}

// HeadTime is the consensus clock: the timestamp of the block being applied.
func (db *DB) HeadTime() int64 { return db.dynamic.Time }
