// Package cleanup は終了済みゲームのスナップショットと期限切れセッションの
// 自動削除ジョブを提供する。保持期間（デフォルト7日）を超過した
// スナップショットを日次バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SnapshotPruner は終了済みゲームスナップショットの削除インターフェース。
type SnapshotPruner interface {
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionPruner は期限切れセッションの削除インターフェース。
type SessionPruner interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob は保持期間を超過したスナップショットと期限切れセッションの
// 自動削除ジョブ。日次実行のバッチジョブとして設計されており、
// 冪等な削除処理を保証する。
type CleanupJob struct {
	snapshots     SnapshotPruner
	sessions      SessionPruner
	logger        *slog.Logger
	RetentionDays int // 終了済みスナップショットの保持日数（デフォルト: 7）
	now           func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は7日。
func NewCleanupJob(snapshots SnapshotPruner, sessions SessionPruner, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		snapshots:     snapshots,
		sessions:      sessions,
		logger:        logger,
		RetentionDays: 7,
		now:           time.Now,
	}
}

// Run は保持期間を超過した終了済みスナップショットと期限切れセッションを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	cutoff := j.now().AddDate(0, 0, -j.RetentionDays)
	snapshotCount, err := j.snapshots.DeleteEndedBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("スナップショットのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("スナップショットのクリーンアップに失敗: %w", err)
	}

	sessionCount, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("期限切れセッションのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("期限切れセッションのクリーンアップに失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("snapshot_deleted_count", snapshotCount),
		slog.Int64("session_deleted_count", sessionCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
