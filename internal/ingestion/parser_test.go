package ingestion

import (
	"strings"
	"testing"

	"ChainCore/internal/protocol"
)

const transferOpJSON = `{"type":"transfer","payload":{"fee":{"amount":20,"asset_id":0},"from":1,"to":2,"amount":{"amount":500,"asset_id":0}}}`

func blockJSON(txs string) []byte {
	return []byte(`{"height":7,"timestamp":1000,"prev_hash":"","producer":0,"transactions":[` + txs + `]}`)
}

func txJSON(id string) string {
	return `{"id":"` + id + `","expiration":0,"operations":[` + transferOpJSON + `]}`
}

func TestParseBlockDecodesTransactions(t *testing.T) {
	blk, err := ParseBlock(blockJSON(txJSON("tx-1") + "," + txJSON("tx-2")))
	if err != nil {
		t.Fatalf("ParseBlock: %v", err)
	}
	if blk.Height != 7 || len(blk.Transactions) != 2 {
		t.Fatalf("decoded height=%d txs=%d, want 7 and 2", blk.Height, len(blk.Transactions))
	}
	op, ok := blk.Transactions[0].Operations[0].(*protocol.TransferOp)
	if !ok {
		t.Fatalf("operation decoded as %T, want *protocol.TransferOp", blk.Transactions[0].Operations[0])
	}
	if op.From != 1 || op.To != 2 || op.Amount.Amount != 500 {
		t.Fatalf("transfer fields wrong: %+v", op)
	}
}

func TestParseBlockRejectsDuplicateTxIDs(t *testing.T) {
	_, err := ParseBlock(blockJSON(txJSON("tx-1") + "," + txJSON("tx-1")))
	if err == nil || !strings.Contains(err.Error(), "repeats transaction") {
		t.Fatalf("duplicate ids not rejected: %v", err)
	}
}

func TestParseBlockRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		data string
		want string
	}{
		{"zero height", `{"height":0,"timestamp":1000,"transactions":[]}`, "height"},
		{"no timestamp", `{"height":3,"timestamp":0,"transactions":[]}`, "timestamp"},
		{"unknown op", `{"height":3,"timestamp":5,"transactions":[{"id":"t","expiration":0,"operations":[{"type":"warp_drive","payload":{}}]}]}`, "unknown operation"},
		{"empty tx id", `{"height":3,"timestamp":5,"transactions":[{"id":"","expiration":0,"operations":[` + transferOpJSON + `]}]}`, "without id"},
		{"no operations", `{"height":3,"timestamp":5,"transactions":[{"id":"t","expiration":0,"operations":[]}]}`, "no operations"},
	}
	for _, tc := range cases {
		if _, err := ParseBlock([]byte(tc.data)); err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: got %v, want substring %q", tc.name, err, tc.want)
		}
	}
}

func TestParseTransactionValidates(t *testing.T) {
	tx, err := ParseTransaction([]byte(txJSON("tx-loose")))
	if err != nil {
		t.Fatalf("ParseTransaction: %v", err)
	}
	if tx.ID != "tx-loose" || len(tx.Operations) != 1 {
		t.Fatalf("decoded %+v", tx)
	}

	negFee := `{"id":"t","expiration":0,"operations":[{"type":"transfer","payload":{"fee":{"amount":-1,"asset_id":0},"from":1,"to":2,"amount":{"amount":500,"asset_id":0}}}]}`
	if _, err := ParseTransaction([]byte(negFee)); err == nil {
		t.Fatal("negative fee passed validation")
	}
}

func TestParseRawRoutesBySubject(t *testing.T) {
	blk, tx, err := ParseRaw(RawMessage{Subject: "chain.blocks.submit", Data: blockJSON(txJSON("tx-1"))})
	if err != nil || blk == nil || tx != nil {
		t.Fatalf("block subject: blk=%v tx=%v err=%v", blk, tx, err)
	}
	blk, tx, err = ParseRaw(RawMessage{Subject: "chain.txs.submit", Data: []byte(txJSON("tx-1"))})
	if err != nil || blk != nil || tx == nil {
		t.Fatalf("tx subject: blk=%v tx=%v err=%v", blk, tx, err)
	}
	if _, _, err := ParseRaw(RawMessage{Subject: "chain.weather", Data: nil}); err == nil {
		t.Fatal("unknown subject accepted")
	}
}
