// Package history derives per-account views of applied operations.
// The block log stores one row per operation; the account index built
// here is what lets a client page through everything that ever touched
// its balances, orders or positions.
package history

import (
	"sort"

	"ChainCore/internal/protocol"
)

// ImpactedAccounts returns every account touched by an operation,
// deduplicated and sorted. The fee payer is always included; ops that
// move value to or reference other accounts add those too.
func ImpactedAccounts(op protocol.Operation) []protocol.AccountID {
	set := map[protocol.AccountID]struct{}{op.FeePayer(): {}}

	switch o := op.(type) {
	case *protocol.TransferOp:
		set[o.To] = struct{}{}
	case *protocol.AssetIssueOp:
		set[o.IssueTo] = struct{}{}
	case *protocol.AssetUpdateOp:
		if o.NewIssuer != nil {
			set[*o.NewIssuer] = struct{}{}
		}
	case *protocol.AssetUpdateFeedProducersOp:
		for _, p := range o.NewProducers {
			set[p] = struct{}{}
		}
	}

	out := make([]protocol.AccountID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// BlockAccounts collects the impacted accounts of every operation in a
// block, including virtual operations produced while applying it.
func BlockAccounts(blk *protocol.Block, virtuals []protocol.Operation) map[protocol.AccountID]struct{} {
	set := make(map[protocol.AccountID]struct{})
	for _, tx := range blk.Transactions {
		for _, op := range tx.Operations {
			for _, id := range ImpactedAccounts(op) {
				set[id] = struct{}{}
			}
		}
	}
	for _, op := range virtuals {
		for _, id := range ImpactedAccounts(op) {
			set[id] = struct{}{}
		}
	}
	return set
}
