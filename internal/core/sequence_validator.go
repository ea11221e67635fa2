package core

import (
	"errors"
	"fmt"
)

// Sentinel linkage errors. The ingestion loop acks stale blocks (seen
// before, safe to drop) and naks gapped ones (redeliver once the
// missing predecessor arrives).
var (
	ErrStaleBlock = errors.New("stale block")
	ErrBlockGap   = errors.New("block gap")
)

// BlockLinkValidator checks that incoming blocks extend the chain head:
// heights are contiguous and timestamps strictly advance.
// Not thread-safe; only accessed from the single-threaded engine loop.
type BlockLinkValidator struct {
	nextHeight uint64
	lastTime   int64
	metrics    *LinkMetrics
}

func NewBlockLinkValidator() *BlockLinkValidator {
	return &BlockLinkValidator{nextHeight: 1, metrics: NewLinkMetrics()}
}

// ValidateLink checks height continuity and time monotonicity for a
// candidate block. It does not advance the head; callers advance only
// after the block commits.
func (v *BlockLinkValidator) ValidateLink(height uint64, timestamp int64) error {
	if height < v.nextHeight {
		v.metrics.RecordStale()
		return fmt.Errorf("%w: height %d already applied (head %d)", ErrStaleBlock, height, v.nextHeight-1)
	}
	if height > v.nextHeight {
		v.metrics.RecordGap()
		return fmt.Errorf("%w: expected height %d, got %d", ErrBlockGap, v.nextHeight, height)
	}
	if timestamp <= v.lastTime {
		return fmt.Errorf("block time %d does not advance past head time %d", timestamp, v.lastTime)
	}
	return nil
}

// Advance moves the expected head after a block commits.
func (v *BlockLinkValidator) Advance(height uint64, timestamp int64) {
	v.nextHeight = height + 1
	v.lastTime = timestamp
}

// Restore initializes the expected head from persisted state during recovery.
func (v *BlockLinkValidator) Restore(headHeight uint64, headTime int64) {
	v.nextHeight = headHeight + 1
	v.lastTime = headTime
}

// NextHeight returns the height the validator expects next.
func (v *BlockLinkValidator) NextHeight() uint64 {
	return v.nextHeight
}

func (v *BlockLinkValidator) Metrics() *LinkMetrics {
	return v.metrics
}

// LinkMetrics counts linkage failures for observability.
// Not thread-safe; only accessed from the single-threaded engine loop.
type LinkMetrics struct {
	gaps  int64
	stale int64
}

func NewLinkMetrics() *LinkMetrics {
	return &LinkMetrics{}
}

func (m *LinkMetrics) RecordGap() {
	m.gaps++
}

func (m *LinkMetrics) RecordStale() {
	m.stale++
}

func (m *LinkMetrics) Gaps() int64 {
	return m.gaps
}

func (m *LinkMetrics) Stale() int64 {
	return m.stale
}
