package core

import (
	"crypto/sha256"
	"encoding/binary"

	"ChainCore/internal/state"
)

const GenesisHashSeed = "ChainCore:genesis:v1"

// StateHasher chains per-block state hashes so two nodes can compare their
// ledgers with a single 32-byte value.
type StateHasher struct {
	prevHash [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: sha256.Sum256([]byte(GenesisHashSeed))}
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || height || digest)
// and advances the chain tip.
func (h *StateHasher) ComputeHash(height uint64, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], height)
	hasher.Write(buf[:])
	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// GetPrevHash returns the current chain tip.
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash resets the chain tip, used when restoring from a snapshot.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

// ComputeStateDigest flattens the consensus-relevant state into canonical
// bytes: every balance, every asset's supply counters and the chain-wide
// mutable fields, all in sorted order.
func ComputeStateDigest(db *state.DB) []byte {
	balances := db.Balances()
	digest := make([]byte, 0, len(balances)*24+256)

	for _, b := range balances {
		digest = appendUint64LE(digest, uint64(b.Account))
		digest = appendUint64LE(digest, uint64(b.Asset))
		digest = appendInt64LE(digest, b.Amount)
	}
	for _, a := range db.AllAssets() {
		dd := db.DynamicData(a.ID)
		digest = appendUint64LE(digest, uint64(a.ID))
		digest = appendInt64LE(digest, dd.CurrentSupply)
		digest = appendInt64LE(digest, dd.AccumulatedFees)
		digest = appendInt64LE(digest, dd.FeePool)
	}

	dg := db.DynamicGlobal()
	digest = appendUint64LE(digest, dg.HeadBlockNumber)
	digest = appendInt64LE(digest, dg.Time)
	digest = appendInt64LE(digest, dg.NextMaintenanceTime)
	digest = appendInt64LE(digest, dg.ProducerBudget)
	digest = appendInt64LE(digest, dg.AccumulatedFees)

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return appendUint64LE(buf, uint64(v))
}

func appendUint64LE(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}
