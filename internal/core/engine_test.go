package core_test

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"ChainCore/internal/core"
	"ChainCore/internal/protocol"
	"ChainCore/internal/state"
)

type engineFixture struct {
	db      *state.DB
	eng     *core.Engine
	persist chan core.Output
	notify  chan core.Output
}

// newEngineFixture seeds the core asset and default parameters with the
// maintenance boundary pushed far out so plain block tests never cross it.
func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	db := state.NewDB()
	persist := make(chan core.Output, 64)
	notify := make(chan core.Output, 64)
	eng := core.NewEngine(db, nil, persist, notify, nil, zerolog.Nop())

	db.CreateAsset("CORE", 5, 0, protocol.AssetOptions{MaxSupply: protocol.MaxSupply})
	db.ModifyGlobalProperties(func(g *state.GlobalProperties) {
		g.Parameters = protocol.DefaultChainParameters()
	})
	db.ModifyDynamicGlobal(func(dg *state.DynamicGlobalProperties) {
		dg.NextMaintenanceTime = 100_000_000
	})
	return &engineFixture{db: db, eng: eng, persist: persist, notify: notify}
}

func (f *engineFixture) account(name string, core int64) protocol.AccountID {
	id := f.db.CreateAccount(name, protocol.ProxyToSelf).ID
	if core > 0 {
		f.db.ModifyDynamicData(protocol.CoreAssetID, func(dd *state.AssetDynamicData) {
			dd.CurrentSupply += core
		})
		f.db.AdjustBalance(id, protocol.CoreAsset(core))
	}
	return id
}

func (f *engineFixture) transferTx(id string, from, to protocol.AccountID, amount int64) protocol.Transaction {
	return protocol.Transaction{
		ID: id,
		Operations: []protocol.Operation{
			&protocol.TransferOp{
				Fee:    protocol.CoreAsset(20),
				From:   from,
				To:     to,
				Amount: protocol.CoreAsset(amount),
			},
		},
	}
}

func (f *engineFixture) block(height uint64, ts int64, txs ...protocol.Transaction) *protocol.Block {
	return &protocol.Block{Height: height, Timestamp: ts, Transactions: txs}
}

func (f *engineFixture) drainOutput(t *testing.T) core.Output {
	t.Helper()
	select {
	case out := <-f.persist:
		<-f.notify
		return out
	default:
		t.Fatal("no output emitted")
		return core.Output{}
	}
}

func TestApplyBlockMovesBalancesAndEmitsOutput(t *testing.T) {
	f := newEngineFixture(t)
	alice := f.account("alice", 100_000)
	bob := f.account("bob", 0)

	blk := f.block(1, 1000, f.transferTx("tx-1", alice, bob, 5000))
	if err := f.eng.ApplyBlock(blk); err != nil {
		t.Fatalf("ApplyBlock: %v", err)
	}

	if got := f.db.GetBalance(alice, protocol.CoreAssetID).Amount; got != 94_980 {
		t.Fatalf("alice balance = %d, want 94980", got)
	}
	if got := f.db.GetBalance(bob, protocol.CoreAssetID).Amount; got != 5000 {
		t.Fatalf("bob balance = %d, want 5000", got)
	}
	if h := f.db.DynamicGlobal().HeadBlockNumber; h != 1 {
		t.Fatalf("head block = %d, want 1", h)
	}
	if ts := f.db.HeadTime(); ts != 1000 {
		t.Fatalf("head time = %d, want 1000", ts)
	}

	out := f.drainOutput(t)
	if out.Block.Height != 1 {
		t.Fatalf("output height = %d, want 1", out.Block.Height)
	}
	if out.StateHash == "" || out.StateHash == out.PrevHash {
		t.Fatalf("state hash did not advance: prev=%s state=%s", out.PrevHash, out.StateHash)
	}
}

func TestFailingTransactionRejectsWholeBlock(t *testing.T) {
	f := newEngineFixture(t)
	alice := f.account("alice", 100_000)
	bob := f.account("bob", 0)

	blk := f.block(1, 1000,
		f.transferTx("tx-good", alice, bob, 5000),
		f.transferTx("tx-overdraft", bob, alice, 1_000_000),
	)
	err := f.eng.ApplyBlock(blk)
	if err == nil {
		t.Fatal("expected block rejection")
	}
	if !strings.Contains(err.Error(), "tx-overdraft") {
		t.Fatalf("error does not name the failing tx: %v", err)
	}

	// The good transfer must be rolled back along with the bad one.
	if got := f.db.GetBalance(alice, protocol.CoreAssetID).Amount; got != 100_000 {
		t.Fatalf("alice balance = %d, want 100000 after rollback", got)
	}
	if h := f.db.DynamicGlobal().HeadBlockNumber; h != 0 {
		t.Fatalf("head block = %d, want 0", h)
	}
	select {
	case <-f.persist:
		t.Fatal("rejected block emitted output")
	default:
	}

	// The chain still accepts the next well-formed block at height 1.
	if err := f.eng.ApplyBlock(f.block(1, 1005, f.transferTx("tx-good", alice, bob, 5000))); err != nil {
		t.Fatalf("retry at height 1: %v", err)
	}
}

func TestDuplicateTransactionAppliedOnce(t *testing.T) {
	f := newEngineFixture(t)
	alice := f.account("alice", 100_000)
	bob := f.account("bob", 0)

	if err := f.eng.ApplyBlock(f.block(1, 1000, f.transferTx("tx-1", alice, bob, 5000))); err != nil {
		t.Fatalf("block 1: %v", err)
	}
	// The same id replayed in a later block is skipped, not re-applied.
	if err := f.eng.ApplyBlock(f.block(2, 1005, f.transferTx("tx-1", alice, bob, 5000))); err != nil {
		t.Fatalf("block 2: %v", err)
	}

	if got := f.db.GetBalance(bob, protocol.CoreAssetID).Amount; got != 5000 {
		t.Fatalf("bob balance = %d, want 5000 after replay", got)
	}
	if lru, _ := f.eng.Dedup().Metrics().Duplicates(); lru != 1 {
		t.Fatalf("lru duplicates = %d, want 1", lru)
	}
}

func TestBlockLinkageEnforced(t *testing.T) {
	f := newEngineFixture(t)
	alice := f.account("alice", 100_000)
	bob := f.account("bob", 0)

	if err := f.eng.ApplyBlock(f.block(1, 1000, f.transferTx("tx-1", alice, bob, 100))); err != nil {
		t.Fatalf("block 1: %v", err)
	}
	f.drainOutput(t)

	if err := f.eng.ApplyBlock(f.block(3, 1010)); err == nil || !strings.Contains(err.Error(), "block gap") {
		t.Fatalf("height gap not rejected: %v", err)
	}
	if err := f.eng.ApplyBlock(f.block(1, 1010)); err == nil || !strings.Contains(err.Error(), "stale") {
		t.Fatalf("stale height not rejected: %v", err)
	}
	if err := f.eng.ApplyBlock(f.block(2, 1000)); err == nil || !strings.Contains(err.Error(), "advance") {
		t.Fatalf("non-advancing timestamp not rejected: %v", err)
	}
	if err := f.eng.ApplyBlock(&protocol.Block{Height: 2, Timestamp: 1010, PrevHash: "feedface"}); err == nil ||
		!strings.Contains(err.Error(), "prev hash mismatch") {
		t.Fatalf("bad prev hash not rejected: %v", err)
	}

	if err := f.eng.ApplyBlock(f.block(2, 1010)); err != nil {
		t.Fatalf("valid successor rejected: %v", err)
	}
}

func TestHashChainLinksOutputsAndIsDeterministic(t *testing.T) {
	run := func() []core.Output {
		f := newEngineFixture(t)
		alice := f.account("alice", 100_000)
		bob := f.account("bob", 0)

		var outs []core.Output
		if err := f.eng.ApplyBlock(f.block(1, 1000, f.transferTx("tx-1", alice, bob, 5000))); err != nil {
			t.Fatalf("block 1: %v", err)
		}
		outs = append(outs, f.drainOutput(t))
		if err := f.eng.ApplyBlock(f.block(2, 1005, f.transferTx("tx-2", bob, alice, 1000))); err != nil {
			t.Fatalf("block 2: %v", err)
		}
		outs = append(outs, f.drainOutput(t))
		return outs
	}

	a := run()
	b := run()

	if a[1].PrevHash != a[0].StateHash {
		t.Fatalf("block 2 prev hash %s does not link block 1 state hash %s", a[1].PrevHash, a[0].StateHash)
	}
	for i := range a {
		if a[i].StateHash != b[i].StateHash {
			t.Fatalf("block %d hash diverges across identical runs: %s vs %s", i+1, a[i].StateHash, b[i].StateHash)
		}
	}
}

func TestProducerPayDrawsFromBudget(t *testing.T) {
	f := newEngineFixture(t)
	prod := f.account("producer", 0)
	v := f.db.CreateValidator(prod, 1)

	// Budget sits inside the recorded supply like any other holding.
	f.db.ModifyDynamicData(protocol.CoreAssetID, func(dd *state.AssetDynamicData) {
		dd.CurrentSupply += 1500
	})
	f.db.ModifyDynamicGlobal(func(dg *state.DynamicGlobalProperties) {
		dg.ProducerBudget = 1500
	})

	blk := f.block(1, 1000)
	blk.Producer = v.ID
	if err := f.eng.ApplyBlock(blk); err != nil {
		t.Fatalf("block 1: %v", err)
	}
	if got := f.db.FindValidator(v.ID).PayBalance; got != 1000 {
		t.Fatalf("pay balance = %d, want 1000", got)
	}
	if got := f.db.DynamicGlobal().ProducerBudget; got != 500 {
		t.Fatalf("producer budget = %d, want 500", got)
	}

	// The next block drains the remainder rather than overdrawing.
	blk2 := f.block(2, 1005)
	blk2.Producer = v.ID
	if err := f.eng.ApplyBlock(blk2); err != nil {
		t.Fatalf("block 2: %v", err)
	}
	if got := f.db.FindValidator(v.ID).PayBalance; got != 1500 {
		t.Fatalf("pay balance = %d, want 1500", got)
	}
	if got := f.db.DynamicGlobal().ProducerBudget; got != 0 {
		t.Fatalf("producer budget = %d, want 0", got)
	}
}

func TestMaintenanceRunsAtBoundary(t *testing.T) {
	f := newEngineFixture(t)
	f.account("alice", 100_000)
	f.db.ModifyDynamicGlobal(func(dg *state.DynamicGlobalProperties) {
		dg.NextMaintenanceTime = 2000
	})

	if err := f.eng.ApplyBlock(f.block(1, 1000)); err != nil {
		t.Fatalf("block 1: %v", err)
	}
	if got := f.db.DynamicGlobal().NextMaintenanceTime; got != 2000 {
		t.Fatalf("maintenance ran early: next = %d", got)
	}

	if err := f.eng.ApplyBlock(f.block(2, 2000)); err != nil {
		t.Fatalf("block 2: %v", err)
	}
	if got := f.db.DynamicGlobal().NextMaintenanceTime; got != 2000+86400 {
		t.Fatalf("next maintenance = %d, want %d", got, 2000+86400)
	}
	if f.db.LastBudgetRecord() == nil {
		t.Fatal("maintenance did not write a budget record")
	}
}

func TestExpiredTransactionRejectsBlock(t *testing.T) {
	f := newEngineFixture(t)
	alice := f.account("alice", 100_000)
	bob := f.account("bob", 0)

	tx := f.transferTx("tx-late", alice, bob, 100)
	tx.Expiration = 500
	err := f.eng.ApplyBlock(f.block(1, 1000, tx))
	if err == nil || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expired tx not rejected: %v", err)
	}
	if got := f.db.GetBalance(alice, protocol.CoreAssetID).Amount; got != 100_000 {
		t.Fatalf("alice balance = %d, want 100000", got)
	}
}

func TestValidateTransactionLeavesNoTrace(t *testing.T) {
	f := newEngineFixture(t)
	alice := f.account("alice", 100_000)
	bob := f.account("bob", 0)

	tx := f.transferTx("tx-dry", alice, bob, 5000)
	if err := f.eng.ValidateTransaction(&tx); err != nil {
		t.Fatalf("ValidateTransaction: %v", err)
	}
	if got := f.db.GetBalance(alice, protocol.CoreAssetID).Amount; got != 100_000 {
		t.Fatalf("dry run moved funds: alice = %d", got)
	}

	bad := f.transferTx("tx-bad", bob, alice, 999)
	if err := f.eng.ValidateTransaction(&bad); err == nil {
		t.Fatal("overdraft passed validation")
	}

	// Dry-run acceptance does not mark the id as applied.
	if err := f.eng.ApplyBlock(f.block(1, 1000, tx)); err != nil {
		t.Fatalf("ApplyBlock after dry run: %v", err)
	}
	if got := f.db.GetBalance(bob, protocol.CoreAssetID).Amount; got != 5000 {
		t.Fatalf("bob balance = %d, want 5000", got)
	}
}

func TestRestorePrimesLinkageAndDedup(t *testing.T) {
	f := newEngineFixture(t)
	alice := f.account("alice", 100_000)
	bob := f.account("bob", 0)

	var head [32]byte
	f.eng.Restore(10, 5000, head, []string{"tx-old"})

	err := f.eng.ApplyBlock(f.block(11, 5005, f.transferTx("tx-old", alice, bob, 5000)))
	if err != nil {
		t.Fatalf("block 11: %v", err)
	}
	if got := f.db.GetBalance(bob, protocol.CoreAssetID).Amount; got != 0 {
		t.Fatalf("warmed duplicate re-applied: bob = %d", got)
	}
	if h, _ := f.eng.Head(); h != 11 {
		t.Fatalf("head = %d, want 11", h)
	}
}
