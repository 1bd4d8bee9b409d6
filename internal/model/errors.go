package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, game, ledger, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRoster       = "INVALID_ROSTER"
	ErrCodeInsufficientPlayers = "INSUFFICIENT_PLAYERS"
	ErrCodeIllegalAction       = "ILLEGAL_ACTION"
	ErrCodeIllegalVote         = "ILLEGAL_VOTE"
	ErrCodeGameNotFound        = "GAME_NOT_FOUND"
	ErrCodeGameEnded           = "GAME_ENDED"
	ErrCodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrCodeInvalidAmount       = "INVALID_AMOUNT"
	ErrCodeClaimCooldown       = "CLAIM_COOLDOWN"
	ErrCodeInvalidToken        = "INVALID_TOKEN"
)

// NewInvalidRosterError はロースター人数が設定範囲外の場合のエラーを生成する。
func NewInvalidRosterError(size, min, max int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRoster,
		Message:  fmt.Sprintf("ロースターの人数が不正です: %d人（許容範囲: %d〜%d人）", size, min, max),
		Category: "validation",
		Action:   "マッチメイキングの人数設定を確認してください。",
	}
}

// NewInsufficientPlayersError は役職クォータを満たせない場合のエラーを生成する。
func NewInsufficientPlayersError(size int) *APIError {
	return &APIError{
		Code:     ErrCodeInsufficientPlayers,
		Message:  fmt.Sprintf("役職の割り当てに必要な人数が不足しています: %d人", size),
		Category: "validation",
		Action:   "プレイヤー人数を増やしてから再度開始してください。",
	}
}

// NewIllegalActionError は現在のフェーズまたは役職で許可されない行動のエラーを生成する。
func NewIllegalActionError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeIllegalAction,
		Message:  fmt.Sprintf("この行動は実行できません: %s", reason),
		Category: "game",
		Action:   "現在のフェーズと自分の役職を確認してください。",
	}
}

// NewIllegalVoteError は現在のフェーズまたは投票者の状態で許可されない投票のエラーを生成する。
func NewIllegalVoteError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeIllegalVote,
		Message:  fmt.Sprintf("この投票は受け付けられません: %s", reason),
		Category: "game",
		Action:   "投票フェーズ中に生存プレイヤーへ投票してください。",
	}
}

// NewGameNotFoundError は指定されたゲームが存在しない場合のエラーを生成する。
func NewGameNotFoundError(gameID string) *APIError {
	return &APIError{
		Code:     ErrCodeGameNotFound,
		Message:  fmt.Sprintf("指定されたゲームが見つかりません: %s", gameID),
		Category: "game",
		Action:   "ゲームIDを確認してください。終了済みのゲームは一定時間後に破棄されます。",
	}
}

// NewGameEndedError は終了済みゲームへの操作エラーを生成する。
func NewGameEndedError(gameID string) *APIError {
	return &APIError{
		Code:     ErrCodeGameEnded,
		Message:  fmt.Sprintf("ゲームはすでに終了しています: %s", gameID),
		Category: "game",
		Action:   "新しいマッチに参加してください。",
	}
}

// NewInsufficientBalanceError は残高不足エラーを生成する。
func NewInsufficientBalanceError(balance, amount int64) *APIError {
	return &APIError{
		Code:     ErrCodeInsufficientBalance,
		Message:  fmt.Sprintf("残高が不足しています: 残高%d、必要額%d", balance, amount),
		Category: "ledger",
		Action:   "残高を確認してから再度お試しください。",
	}
}

// NewInvalidAmountError は正の値が必要な金額に0以下が指定された場合のエラーを生成する。
func NewInvalidAmountError(amount int64) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAmount,
		Message:  fmt.Sprintf("金額が不正です: %d", amount),
		Category: "validation",
		Action:   "1以上の金額を指定してください。",
	}
}

// NewClaimCooldownError はデイリー報酬の受取間隔エラーを生成する。
func NewClaimCooldownError() *APIError {
	return &APIError{
		Code:     ErrCodeClaimCooldown,
		Message:  "デイリー報酬は24時間に1回のみ受け取れます。",
		Category: "ledger",
		Action:   "前回の受取から24時間経過後に再度お試しください。",
	}
}

// NewInvalidTokenError は再接続トークンが無効または期限切れの場合のエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "再接続トークンが無効または期限切れです。",
		Category: "auth",
		Action:   "再認証のうえ、現在の状態を取得し直してください。",
	}
}
