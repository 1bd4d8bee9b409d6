package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/mafiman/internal/model"
)

// PostgresSnapshotRepo はPostgreSQLを使用したゲームスナップショットリポジトリ。
// スナップショット本体はJSONBで保持し、フェーズと更新時刻のみ列として持つ。
type PostgresSnapshotRepo struct {
	db *sql.DB
}

// NewPostgresSnapshotRepo はPostgresSnapshotRepoを生成する。
func NewPostgresSnapshotRepo(db *sql.DB) *PostgresSnapshotRepo {
	return &PostgresSnapshotRepo{db: db}
}

// Save はスナップショットをUPSERTする。ゲームIDごとに最新1件のみ保持する。
func (r *PostgresSnapshotRepo) Save(ctx context.Context, snap *model.GameSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO game_snapshots (game_id, phase, payload, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (game_id) DO UPDATE
		 SET phase = EXCLUDED.phase,
		     payload = EXCLUDED.payload,
		     updated_at = EXCLUDED.updated_at`,
		snap.GameID, snap.Phase, payload, snap.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// FindByGameID は指定ゲームのスナップショットを取得する。見つからない場合はnilを返す。
func (r *PostgresSnapshotRepo) FindByGameID(ctx context.Context, gameID string) (*model.GameSnapshot, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT payload FROM game_snapshots WHERE game_id = $1`,
		gameID,
	).Scan(&payload)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find snapshot: %w", err)
	}

	snap := &model.GameSnapshot{}
	if err := json.Unmarshal(payload, snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// ListUnfinished は未終了ゲームのスナップショットを返す。起動時復元用。
func (r *PostgresSnapshotRepo) ListUnfinished(ctx context.Context) ([]*model.GameSnapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT payload
		 FROM game_snapshots
		 WHERE phase <> 'game_ended'
		 ORDER BY updated_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*model.GameSnapshot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap := &model.GameSnapshot{}
		if err := json.Unmarshal(payload, snap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}
	return snaps, nil
}

// DeleteEndedBefore は指定時刻より前に更新された終了済みゲームのスナップショットを削除する。
func (r *PostgresSnapshotRepo) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM game_snapshots
		 WHERE phase = 'game_ended' AND updated_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete ended snapshots: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ SnapshotRepository = (*PostgresSnapshotRepo)(nil)
