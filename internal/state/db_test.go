package state

import (
	"testing"

	"ChainCore/internal/protocol"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db := NewDB()
	db.ModifyGlobalProperties(func(g *GlobalProperties) {
		g.Parameters = protocol.DefaultChainParameters()
	})
	return db
}

func TestUndoSessionRollsBackCreate(t *testing.T) {
	db := newTestDB(t)

	s := db.StartUndoSession()
	a := db.CreateAccount("alice", protocol.ProxyToSelf)
	if _, err := db.GetAccount(a.ID); err != nil {
		t.Fatalf("created account not found: %v", err)
	}
	s.Undo()

	if _, err := db.GetAccount(a.ID); err == nil {
		t.Error("account survived undo")
	}

	// Instance counter rolled back too: the next create reuses the id.
	b := db.CreateAccount("bob", protocol.ProxyToSelf)
	if b.ID != a.ID {
		t.Errorf("instance counter not rolled back: got %d, want %d", b.ID, a.ID)
	}
}

func TestUndoSessionRollsBackModify(t *testing.T) {
	db := newTestDB(t)
	a := db.CreateAccount("alice", protocol.ProxyToSelf)

	s := db.StartUndoSession()
	db.ModifyAccount(a.ID, func(acc *Account) {
		acc.TotalCoreInOrders = 777
		acc.Votes = append(acc.Votes, protocol.VoteID(3))
	})
	s.Undo()

	got := db.MustAccount(a.ID)
	if got.TotalCoreInOrders != 0 || len(got.Votes) != 0 {
		t.Errorf("modify not rolled back: %+v", got)
	}
}

func TestUndoSessionRollsBackRemoveAndBalances(t *testing.T) {
	db := newTestDB(t)
	a := db.CreateAccount("alice", protocol.ProxyToSelf)
	db.AdjustBalance(a.ID, protocol.CoreAsset(1000))

	order := db.CreateLimitOrder(LimitOrder{
		Seller:    a.ID,
		ForSale:   500,
		SellPrice: protocol.NewPrice(protocol.NewAsset(500, 0), protocol.NewAsset(100, 1)),
	})

	s := db.StartUndoSession()
	db.AdjustBalance(a.ID, protocol.CoreAsset(-400))
	db.RemoveLimitOrder(order.ID)
	s.Undo()

	if got := db.GetBalance(a.ID, protocol.CoreAssetID).Amount; got != 1000 {
		t.Errorf("balance after undo = %d, want 1000", got)
	}
	restored := db.FindLimitOrder(order.ID)
	if restored == nil {
		t.Fatal("removed order not restored")
	}
	if restored.ForSale != 500 {
		t.Errorf("restored order remainder = %d, want 500", restored.ForSale)
	}
}

func TestNestedSessionCommitMergesIntoParent(t *testing.T) {
	db := newTestDB(t)
	a := db.CreateAccount("alice", protocol.ProxyToSelf)
	db.AdjustBalance(a.ID, protocol.CoreAsset(100))

	block := db.StartUndoSession()

	tx1 := db.StartUndoSession()
	db.AdjustBalance(a.ID, protocol.CoreAsset(-30))
	tx1.Commit()

	tx2 := db.StartUndoSession()
	db.AdjustBalance(a.ID, protocol.CoreAsset(-70))
	tx2.Undo()

	if got := db.GetBalance(a.ID, protocol.CoreAssetID).Amount; got != 70 {
		t.Fatalf("after tx2 undo balance = %d, want 70", got)
	}

	// Undoing the block unwinds the committed tx1 as well.
	block.Undo()
	if got := db.GetBalance(a.ID, protocol.CoreAssetID).Amount; got != 100 {
		t.Errorf("after block undo balance = %d, want 100", got)
	}
}

func TestAdjustBalanceNegativePanics(t *testing.T) {
	db := newTestDB(t)
	a := db.CreateAccount("alice", protocol.ProxyToSelf)
	db.AdjustBalance(a.ID, protocol.CoreAsset(10))

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on overdraw")
		}
	}()
	db.AdjustBalance(a.ID, protocol.CoreAsset(-11))
}

func TestLimitOrdersSellingOrder(t *testing.T) {
	db := newTestDB(t)
	seller := db.CreateAccount("seller", protocol.ProxyToSelf)

	mk := func(forSale, toReceive int64) protocol.OrderID {
		o := db.CreateLimitOrder(LimitOrder{
			Seller:    seller.ID,
			ForSale:   forSale,
			SellPrice: protocol.NewPrice(protocol.NewAsset(forSale, 1), protocol.NewAsset(toReceive, 0)),
		})
		return o.ID
	}

	cheap := mk(100, 100) // 1.0
	rich := mk(100, 300)  // 3.0, best bid first
	mid := mk(100, 200)   // 2.0
	same := mk(200, 400)  // 2.0 again, created later

	got := db.LimitOrdersSelling(1, 0)
	wantOrder := []protocol.OrderID{rich, mid, same, cheap}
	if len(got) != len(wantOrder) {
		t.Fatalf("got %d orders, want %d", len(got), len(wantOrder))
	}
	for i, o := range got {
		if o.ID != wantOrder[i] {
			t.Errorf("position %d: got order %d, want %d", i, o.ID, wantOrder[i])
		}
	}
}

func TestCallOrdersByCollateralization(t *testing.T) {
	db := newTestDB(t)
	acct := db.CreateAccount("borrower", protocol.ProxyToSelf)

	mk := func(debt, collateral int64) protocol.CallID {
		o := db.CreateCallOrder(CallOrder{
			Borrower:    acct.ID,
			Debt:        debt,
			Collateral:  collateral,
			DebtType:    1,
			BackingType: 0,
		})
		return o.ID
	}

	healthy := mk(100, 2000) // 20x
	risky := mk(100, 500)    // 5x
	mid := mk(100, 1000)     // 10x
	tied := mk(200, 1000)    // 5x, later id

	got := db.CallOrdersByCollateralization(1)
	wantOrder := []protocol.CallID{risky, tied, mid, healthy}
	for i, o := range got {
		if o.ID != wantOrder[i] {
			t.Errorf("position %d: got call %d, want %d", i, o.ID, wantOrder[i])
		}
	}
}

func TestSupplyConservationCheck(t *testing.T) {
	db := newTestDB(t)
	issuer := db.CreateAccount("issuer", protocol.ProxyToSelf)
	holder := db.CreateAccount("holder", protocol.ProxyToSelf)

	// Core asset fixture.
	core := db.CreateAsset("CORE", 5, issuer.ID, protocol.AssetOptions{
		MaxSupply:        protocol.MaxSupply,
		CoreExchangeRate: protocol.UnitPrice(protocol.CoreAssetID),
	})
	if core.ID != protocol.CoreAssetID {
		t.Fatalf("core asset got id %d", core.ID)
	}
	db.ModifyDynamicData(core.ID, func(d *AssetDynamicData) { d.CurrentSupply = 1000 })
	db.AdjustBalance(holder.ID, protocol.CoreAsset(1000))

	checker := NewInvariantChecker(db)
	if err := checker.CheckAll(); err != nil {
		t.Fatalf("balanced state rejected: %v", err)
	}

	db.AdjustBalance(holder.ID, protocol.CoreAsset(5))
	if err := checker.CheckSupplyConservation(); err == nil {
		t.Error("inflated holdings passed the supply audit")
	}
}

func TestChangeHooksFireOnForwardMutations(t *testing.T) {
	db := newTestDB(t)

	var created, changed, removed []protocol.ObjectID
	db.SetHooks(ChangeHooks{
		NewObject:     func(id protocol.ObjectID) { created = append(created, id) },
		ChangedObject: func(id protocol.ObjectID) { changed = append(changed, id) },
		RemovedObject: func(id protocol.ObjectID) { removed = append(removed, id) },
	})

	acct := db.CreateAccount("alice", protocol.ProxyToSelf)
	if len(created) != 1 || created[0] != acct.ID.Object() {
		t.Fatalf("created = %v, want [%v]", created, acct.ID.Object())
	}

	db.ModifyAccount(acct.ID, func(a *Account) { a.CashbackVesting = 5 })
	if len(changed) != 1 || changed[0] != acct.ID.Object() {
		t.Fatalf("changed = %v, want [%v]", changed, acct.ID.Object())
	}

	order := db.CreateLimitOrder(LimitOrder{Seller: acct.ID, ForSale: 10})
	db.RemoveLimitOrder(order.ID)
	if len(removed) != 1 || removed[0] != order.ID.Object() {
		t.Fatalf("removed = %v, want [%v]", removed, order.ID.Object())
	}

	// Undo replays restore state silently.
	createdBefore := len(created)
	s := db.StartUndoSession()
	db.CreateAccount("bob", protocol.ProxyToSelf)
	s.Undo()
	if len(created) != createdBefore+1 {
		t.Fatalf("forward create inside the session should fire exactly once")
	}
	if _, err := db.GetAccount(acct.ID + 1); err == nil {
		t.Fatal("undone account still present")
	}
}
