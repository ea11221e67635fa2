package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ChainCore/internal/protocol"
	"ChainCore/internal/state"
)

// SnapshotManager stores and loads full-state snapshots so a restarted
// node can skip most of the block replay.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotRecord wraps the exported chain state with the recovery
// anchors a restart needs.
type SnapshotRecord struct {
	Height    uint64          `json:"height"`
	HeadTime  int64           `json:"head_time"`
	StateHash string          `json:"state_hash"`
	State     *state.Snapshot `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot. Snapshots are taken periodically
// and verified by replaying blocks from the snapshot height forward.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, rec *SnapshotRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	formatVersion := int32(1) // v1: JSON-encoded SnapshotRecord

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO chain.snapshots
			(snapshot_id, height, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (height) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, rec.Height, data, rec.StateHash, formatVersion, len(data), rec.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on
// a cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotRecord, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM chain.snapshots
		WHERE verified = TRUE
		ORDER BY height DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var rec SnapshotRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &rec, nil
}

// MarkVerified marks a snapshot as verified after a replay check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, height uint64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE chain.snapshots SET verified = TRUE WHERE height = $1
	`, height)
	return err
}

// LoadBlocksFrom loads stored blocks at and above a height for replay.
func (sm *SnapshotManager) LoadBlocksFrom(ctx context.Context, fromHeight uint64, limit int) ([]protocol.Block, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT raw FROM chain.blocks
		WHERE height >= $1
		ORDER BY height ASC
		LIMIT $2
	`, fromHeight, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []protocol.Block
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var blk protocol.Block
		if err := json.Unmarshal(raw, &blk); err != nil {
			return nil, fmt.Errorf("decode stored block: %w", err)
		}
		blocks = append(blocks, blk)
	}
	return blocks, rows.Err()
}

// LatestHeight returns the highest persisted block height, zero when
// the log is empty.
func (sm *SnapshotManager) LatestHeight(ctx context.Context) (uint64, error) {
	var h sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `SELECT MAX(height) FROM chain.blocks`).Scan(&h)
	if err != nil {
		return 0, err
	}
	if !h.Valid {
		return 0, nil
	}
	return uint64(h.Int64), nil
}
