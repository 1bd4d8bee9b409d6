package model

import "time"

// Wallet はユーザーの残高口座を表す。
// OffledgerBalanceはLedgerRepositoryのapply操作のみが更新する。
type Wallet struct {
	UserID           string
	OffledgerBalance int64
	LastAppliedSeq   int64
	LastClaimAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TxStatus はトランザクションの決済状態を表す。
type TxStatus string

const (
	// TxStatusPending は残高適用前、または外部決済の確認待ちの状態。
	TxStatusPending TxStatus = "pending"
	// TxStatusApplied は残高に適用済みの状態。
	TxStatusApplied TxStatus = "applied"
	// TxStatusConfirmed は外部決済ネットワークで確認済みの状態。
	// 確認は情報のみで、残高を再度変動させない。
	TxStatusConfirmed TxStatus = "externally_confirmed"
	// TxStatusFailed は外部決済が確認できず失敗した状態。
	// 失敗時は補償トランザクションで残高差分を1回だけ戻す。
	TxStatusFailed TxStatus = "failed"
)

// Transaction は台帳の1トランザクションを表す。
// IdempotencyKeyごとに残高へ適用されるのは最大1回。
// 同一キーでの再適用は元の結果をそのまま返す。
type Transaction struct {
	ID             string
	IdempotencyKey string
	UserID         string
	Amount         int64 // 符号付き差分。入金は正、出金は負。
	Reason         string
	Status         TxStatus
	External       bool
	ExternalTxHash string
	CreatedAt      time.Time
}

// 事前定義の取引理由コード
const (
	ReasonWelcomeBonus = "welcome_bonus"
	ReasonGameReward   = "game_reward"
	ReasonDailyClaim   = "daily_claim"
	ReasonGiftSent     = "gift_sent"
	ReasonGiftReceived = "gift_received"
	ReasonGiftFee      = "gift_fee"
	ReasonPurchase     = "purchase"
	ReasonWithdrawal   = "withdrawal"
	ReasonReversal     = "reversal"
)

// TreasuryAccount はギフト手数料の振込先となる運営口座のID。
const TreasuryAccount = "treasury"

// WithdrawalStatus は外部出金リクエストの処理状態を表す。
type WithdrawalStatus string

const (
	WithdrawalStatusPending   WithdrawalStatus = "pending"
	WithdrawalStatusSubmitted WithdrawalStatus = "submitted"
	WithdrawalStatusConfirmed WithdrawalStatus = "confirmed"
	WithdrawalStatusFailed    WithdrawalStatus = "failed"
)

// Withdrawal は外部決済ネットワークへの出金リクエストを表す。
// 対応する台帳トランザクション（TransactionID）の残高控除は申請時に適用済みで、
// 失敗時のみ補償トランザクションで戻される。
type Withdrawal struct {
	ID            string
	UserID        string
	TransactionID string
	Amount        int64
	Destination   string
	Status        WithdrawalStatus
	TxHash        string
	ErrorMessage  string
	RetryCount    int
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
