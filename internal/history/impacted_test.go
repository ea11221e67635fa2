package history

import (
	"reflect"
	"testing"

	"ChainCore/internal/protocol"
)

func TestTransferImpactsBothSides(t *testing.T) {
	op := &protocol.TransferOp{From: 5, To: 2, Amount: protocol.CoreAsset(100)}
	got := ImpactedAccounts(op)
	want := []protocol.AccountID{2, 5}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestIssueImpactsRecipient(t *testing.T) {
	op := &protocol.AssetIssueOp{Issuer: 1, IssueTo: 9, AssetToIssue: protocol.NewAsset(50, 3)}
	got := ImpactedAccounts(op)
	want := []protocol.AccountID{1, 9}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSelfReferencingOpDeduplicates(t *testing.T) {
	op := &protocol.AssetIssueOp{Issuer: 4, IssueTo: 4, AssetToIssue: protocol.NewAsset(50, 3)}
	if got := ImpactedAccounts(op); len(got) != 1 || got[0] != 4 {
		t.Fatalf("got %v, want [4]", got)
	}
}

func TestFeedProducerUpdateImpactsProducers(t *testing.T) {
	op := &protocol.AssetUpdateFeedProducersOp{
		Issuer:       1,
		NewProducers: []protocol.AccountID{7, 3},
	}
	got := ImpactedAccounts(op)
	want := []protocol.AccountID{1, 3, 7}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFillOrderImpactsOwnerOnly(t *testing.T) {
	op := &protocol.FillOrderOp{Account: 6, Pays: protocol.CoreAsset(10), Receives: protocol.NewAsset(30, 1)}
	if got := ImpactedAccounts(op); len(got) != 1 || got[0] != 6 {
		t.Fatalf("got %v, want [6]", got)
	}
}

func TestBlockAccountsSpansTxsAndVirtuals(t *testing.T) {
	blk := &protocol.Block{
		Height:    3,
		Timestamp: 100,
		Transactions: []protocol.Transaction{
			{ID: "t1", Operations: []protocol.Operation{
				&protocol.TransferOp{From: 1, To: 2, Amount: protocol.CoreAsset(10)},
			}},
		},
	}
	virtuals := []protocol.Operation{
		&protocol.FillOrderOp{Account: 8, Pays: protocol.CoreAsset(1), Receives: protocol.NewAsset(2, 1)},
	}
	set := BlockAccounts(blk, virtuals)
	for _, id := range []protocol.AccountID{1, 2, 8} {
		if _, ok := set[id]; !ok {
			t.Errorf("account %d missing from block set %v", id, set)
		}
	}
	if len(set) != 3 {
		t.Errorf("got %d accounts, want 3", len(set))
	}
}
