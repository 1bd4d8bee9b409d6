package game

import (
	"context"

	"github.com/hitoshi/mafiman/internal/model"
)

// ChatSanitizer はチャット本文のサニタイズインターフェース。
type ChatSanitizer interface {
	Sanitize(raw string) string
}

// Coordinator はゲームID指定の操作を登録簿上のセッションへ委譲する。
// HTTPハンドラーとWebSocketブローカーの両方から同じ入口を使う。
type Coordinator struct {
	registry  *Registry
	sanitizer ChatSanitizer
}

// NewCoordinator はCoordinatorを生成する。sanitizerはnil可。
func NewCoordinator(registry *Registry, sanitizer ChatSanitizer) *Coordinator {
	return &Coordinator{
		registry:  registry,
		sanitizer: sanitizer,
	}
}

// CreateGame は新しいゲームセッションを生成し、ゲームIDを返す。
func (c *Coordinator) CreateGame(ctx context.Context, roster []string) (string, error) {
	return c.registry.Create(ctx, roster)
}

// SubmitAction は夜フェーズの役職アクションを投入する。
func (c *Coordinator) SubmitAction(ctx context.Context, gameID, userID string, kind model.ActionKind, targetID string) error {
	s, err := c.registry.Get(gameID)
	if err != nil {
		return err
	}
	return s.SubmitAction(ctx, userID, kind, targetID)
}

// SubmitVote は昼フェーズの処刑投票を投入する。
func (c *Coordinator) SubmitVote(ctx context.Context, gameID, userID, targetID string) error {
	s, err := c.registry.Get(gameID)
	if err != nil {
		return err
	}
	return s.SubmitVote(ctx, userID, targetID)
}

// ForceAdvance は現在フェーズの締切を待たずに即時解決する。
func (c *Coordinator) ForceAdvance(ctx context.Context, gameID string) error {
	s, err := c.registry.Get(gameID)
	if err != nil {
		return err
	}
	return s.ForceAdvance(ctx)
}

// EndGame はゲームを強制終了する。forcedWinnerが空の場合は引き分け扱い。
func (c *Coordinator) EndGame(ctx context.Context, gameID string, forcedWinner model.Faction) error {
	s, err := c.registry.Get(gameID)
	if err != nil {
		return err
	}
	return s.End(ctx, forcedWinner)
}

// Chat はチャット本文をサニタイズしてセッションへ渡す。
func (c *Coordinator) Chat(ctx context.Context, gameID, userID, text string) error {
	s, err := c.registry.Get(gameID)
	if err != nil {
		return err
	}
	if c.sanitizer != nil {
		text = c.sanitizer.Sanitize(text)
	}
	return s.Chat(ctx, userID, text)
}

// GetState は閲覧者視点のゲーム状態を返す。
func (c *Coordinator) GetState(ctx context.Context, gameID, viewerID string) (*State, error) {
	s, err := c.registry.Get(gameID)
	if err != nil {
		return nil, err
	}
	return s.GetState(ctx, viewerID)
}

// StateFor はWebSocketの全量状態同期用に現在状態を返す。
func (c *Coordinator) StateFor(ctx context.Context, gameID, userID string) (any, error) {
	return c.GetState(ctx, gameID, userID)
}

// PlayerConnected はプレイヤーの再接続をセッションへ通知する。
func (c *Coordinator) PlayerConnected(gameID, userID string) {
	s, err := c.registry.Get(gameID)
	if err != nil {
		return
	}
	s.PlayerConnected(userID)
}

// PlayerDisconnected はプレイヤーの切断をセッションへ通知する。
func (c *Coordinator) PlayerDisconnected(gameID, userID string) {
	s, err := c.registry.Get(gameID)
	if err != nil {
		return
	}
	s.PlayerDisconnected(userID)
}
