package model

import "time"

// Session はユーザーのログインセッションを表す。
// 発行は外部の認証サービスが行い、本サービスは検証のみを行う。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// GameSnapshot はプロセス再起動をまたいでセッションを復元するためのスナップショット。
// フェーズ遷移のたびに保存され、解決済みフェーズを再実行せずに再開できる。
type GameSnapshot struct {
	GameID    string
	Phase     Phase
	DayCount  int
	Deadline  time.Time
	Players   []Player
	Actions   []Action
	Votes     []Vote
	Outcome   *Outcome
	UpdatedAt time.Time
}
