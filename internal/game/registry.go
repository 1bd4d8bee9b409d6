package game

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/mafiman/internal/model"
)

// SnapshotLoader は起動時復元に必要なスナップショット読込インターフェース。
type SnapshotLoader interface {
	ListUnfinished(ctx context.Context) ([]*model.GameSnapshot, error)
}

// RegistryMetrics はレジストリのメトリクス記録インターフェース。
type RegistryMetrics interface {
	RecordGameStarted(playerCount int)
	SetActiveGames(count int)
}

// Registry はゲームIDからセッションハンドルへの対応を所有する。
// セッションの生成・破棄ライフサイクルを明示的に管理し、
// 終了したセッションは再接続猶予期間の経過後に破棄される。
type Registry struct {
	cfg    Config
	deps   Deps
	grace  time.Duration
	logger *slog.Logger
	mets   RegistryMetrics

	// OnCreate はセッション開始前に呼ばれる。ブローカーのストリーム登録用。nil可。
	OnCreate func(gameID string, roster []string)
	// OnRetire はセッション破棄時に呼ばれる。ブローカーのストリーム解放用。nil可。
	OnRetire func(gameID string)

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry はRegistryを生成する。
// graceは終了からセッション破棄までの再接続猶予期間。
func NewRegistry(cfg Config, deps Deps, grace time.Duration, mets RegistryMetrics) *Registry {
	r := &Registry{
		cfg:      cfg,
		deps:     deps,
		grace:    grace,
		logger:   deps.Logger,
		mets:     mets,
		sessions: make(map[string]*Session),
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Create はマッチメイキング結果のロースターから新しいセッションを生成して開始する。
// ロースターが不正な場合はセッションを登録せずエラーを返す。
func (r *Registry) Create(ctx context.Context, roster []string) (string, error) {
	id := uuid.NewString()

	deps := r.deps
	deps.OnEnd = r.scheduleRetire

	s := New(id, r.cfg, deps)

	// 開始前に登録しないと役職配布イベントが配送先を持たず落ちる
	if r.OnCreate != nil {
		r.OnCreate(id, roster)
	}

	if err := s.Start(ctx, roster); err != nil {
		s.Retire()
		// 登録済みのストリームを対で解放しないとブローカー側に残り続ける
		if r.OnRetire != nil {
			r.OnRetire(id)
		}
		return "", err
	}

	r.mu.Lock()
	r.sessions[id] = s
	count := len(r.sessions)
	r.mu.Unlock()

	if r.mets != nil {
		r.mets.RecordGameStarted(len(roster))
		r.mets.SetActiveGames(count)
	}

	r.logger.Info("セッションを登録しました",
		slog.String("game_id", id),
		slog.Int("players", len(roster)),
	)
	return id, nil
}

// Get は指定IDのセッションを返す。存在しない場合はGameNotFoundError。
func (r *Registry) Get(gameID string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[gameID]
	r.mu.RUnlock()
	if !ok {
		return nil, model.NewGameNotFoundError(gameID)
	}
	return s, nil
}

// RestoreAll は未終了ゲームのスナップショットからセッションを復元する。
// プロセス再起動時に1回だけ呼ぶ。
func (r *Registry) RestoreAll(ctx context.Context, loader SnapshotLoader) error {
	snaps, err := loader.ListUnfinished(ctx)
	if err != nil {
		return err
	}

	for _, snap := range snaps {
		if r.OnCreate != nil {
			roster := make([]string, 0, len(snap.Players))
			for _, p := range snap.Players {
				roster = append(roster, p.UserID)
			}
			r.OnCreate(snap.GameID, roster)
		}

		deps := r.deps
		deps.OnEnd = r.scheduleRetire
		s := Restore(snap, r.cfg, deps)

		r.mu.Lock()
		r.sessions[snap.GameID] = s
		r.mu.Unlock()

		r.logger.Info("スナップショットからセッションを復元しました",
			slog.String("game_id", snap.GameID),
			slog.String("phase", string(snap.Phase)),
			slog.Int("day", snap.DayCount),
		)
	}

	if r.mets != nil {
		r.mu.RLock()
		r.mets.SetActiveGames(len(r.sessions))
		r.mu.RUnlock()
	}
	return nil
}

// scheduleRetire は終了したセッションを猶予期間後に破棄する。
// 猶予中は再接続と状態取得のために参照可能のまま残る。
func (r *Registry) scheduleRetire(gameID string) {
	time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		s, ok := r.sessions[gameID]
		if ok {
			delete(r.sessions, gameID)
		}
		count := len(r.sessions)
		r.mu.Unlock()

		if !ok {
			return
		}
		s.Retire()
		if r.OnRetire != nil {
			r.OnRetire(gameID)
		}
		if r.mets != nil {
			r.mets.SetActiveGames(count)
		}
		r.logger.Info("セッションを破棄しました", slog.String("game_id", gameID))
	})
}

// Shutdown は全セッションを即座に停止する。グレースフルシャットダウン用。
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		s.Retire()
		delete(r.sessions, id)
	}
}
