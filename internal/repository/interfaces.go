// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/mafiman/internal/model"
)

// LedgerRepository は残高口座とトランザクションの永続化インターフェース。
//
// Applyが台帳の唯一の残高更新経路であり、冪等キーごとに最大1回だけ適用される。
// 同一キーでの再適用は最初の適用結果をそのまま返す。
type LedgerRepository interface {
	// CreateWallet は口座を作成する。すでに存在する場合は何もしない。
	CreateWallet(ctx context.Context, wallet *model.Wallet) error

	// FindWallet は指定ユーザーの口座を取得する。見つからない場合はnilを返す。
	FindWallet(ctx context.Context, userID string) (*model.Wallet, error)

	// Apply は複数トランザクションを単一DBトランザクションで残高へ適用する。
	// 全件適用か全件不適用のいずれかで、部分適用は起きない。
	// 各レッグの冪等キーが適用済みの場合は保存済みトランザクションを返し、残高は変動しない。
	// 適用により残高が負になるレッグがあればInsufficientBalanceErrorを返す。
	// 理由がdaily_claimのレッグは口座のlast_claim_atも同時に更新する。
	Apply(ctx context.Context, txs ...*model.Transaction) ([]*model.Transaction, error)

	// FindTransactionByKey は冪等キーでトランザクションを検索する。見つからない場合はnilを返す。
	FindTransactionByKey(ctx context.Context, key string) (*model.Transaction, error)

	// ListTransactionsByUserID はユーザーのトランザクション履歴を新しい順に返す。
	ListTransactionsByUserID(ctx context.Context, userID string, limit, offset int) ([]*model.Transaction, error)

	// UpdateTransactionStatus はトランザクションの決済状態と外部ハッシュを更新する。
	// 状態遷移は残高を変動させない。
	UpdateTransactionStatus(ctx context.Context, id string, status model.TxStatus, txHash string) error
}

// WithdrawalRepository は外部出金リクエストの永続化インターフェース。
type WithdrawalRepository interface {
	// Create は出金リクエストを作成する。
	Create(ctx context.Context, w *model.Withdrawal) error

	// FindByID は指定IDの出金リクエストを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Withdrawal, error)

	// FindByTransactionID は控除トランザクションに対応する出金リクエストを取得する。
	// 見つからない場合はnilを返す。冪等キー再生時の重複作成防止に使う。
	FindByTransactionID(ctx context.Context, transactionID string) (*model.Withdrawal, error)

	// ListByUserID はユーザーの出金リクエストを新しい順に返す。
	ListByUserID(ctx context.Context, userID string, limit int) ([]*model.Withdrawal, error)

	// ListDueForSettlement は処理対象の出金リクエストを取得する。
	// next_attempt_at <= now() かつ status IN ('pending', 'submitted') の行を
	// FOR UPDATE SKIP LOCKEDで排他的に取得し、複数ワーカーの二重処理を防ぐ。
	ListDueForSettlement(ctx context.Context, limit int) ([]*model.Withdrawal, error)

	// Update は出金リクエストの処理状態を更新する。
	// status、tx_hash、error_message、retry_count、next_attempt_atを更新する。
	Update(ctx context.Context, w *model.Withdrawal) error
}

// SnapshotRepository はゲームスナップショットの永続化インターフェース。
type SnapshotRepository interface {
	// Save はスナップショットをUPSERTする。ゲームIDごとに最新1件のみ保持する。
	Save(ctx context.Context, snap *model.GameSnapshot) error

	// FindByGameID は指定ゲームのスナップショットを取得する。見つからない場合はnilを返す。
	FindByGameID(ctx context.Context, gameID string) (*model.GameSnapshot, error)

	// ListUnfinished は未終了ゲームのスナップショットを返す。起動時復元用。
	ListUnfinished(ctx context.Context) ([]*model.GameSnapshot, error)

	// DeleteEndedBefore は指定時刻より前に更新された終了済みゲームのスナップショットを削除し、
	// 削除件数を返す。
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionRepository は認証セッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
