// Package ledger はゲーム内通貨の台帳サービスを提供する。
//
// すべての残高変動は冪等キー付きトランザクションとして台帳リポジトリのApplyを
// 経由し、同一キーの再適用は最初の結果を返す。外部決済（出金）は申請時に残高を
// 控除し、外部ネットワークで失敗が確定した場合のみ補償トランザクションで戻す。
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/mafiman/internal/model"
	"github.com/hitoshi/mafiman/internal/repository"
)

// Config は台帳サービスのポリシー設定。
type Config struct {
	WelcomeBonus       int64
	DailyClaim         int64
	DailyClaimInterval time.Duration
	// GiftFeePercent はギフト額に対する手数料率（％）。手数料は最低1コイン。
	GiftFeePercent int
	MinWithdrawal  int64
	MaxWithdrawal  int64
}

// Metrics は台帳適用のメトリクス記録インターフェース。
type Metrics interface {
	RecordLedgerApply(reason string)
	RecordLedgerFailure(reason string)
	RecordLedgerApplyLatency(duration time.Duration)
}

// Service は台帳のサービス層。
type Service struct {
	repo        repository.LedgerRepository
	withdrawals repository.WithdrawalRepository
	cfg         Config
	logger      *slog.Logger
	mets        Metrics
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。metsはnil可。
func NewService(repo repository.LedgerRepository, withdrawals repository.WithdrawalRepository, cfg Config, logger *slog.Logger, mets Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		withdrawals: withdrawals,
		cfg:         cfg,
		logger:      logger,
		mets:        mets,
		now:         time.Now,
	}
}

// apply はリポジトリのApplyを計測付きで呼ぶ。台帳適用はすべてここを通る。
func (s *Service) apply(ctx context.Context, txs ...*model.Transaction) ([]*model.Transaction, error) {
	start := time.Now()
	results, err := s.repo.Apply(ctx, txs...)
	if s.mets != nil {
		s.mets.RecordLedgerApplyLatency(time.Since(start))
		for _, tx := range txs {
			if err != nil {
				s.mets.RecordLedgerFailure(tx.Reason)
			} else {
				s.mets.RecordLedgerApply(tx.Reason)
			}
		}
	}
	return results, err
}

// Apply は単一トランザクションを台帳へ適用する。
// ゲームセッションの報酬送信など、呼び出し側が冪等キーを組み立てる場合に使う。
func (s *Service) Apply(ctx context.Context, tx *model.Transaction) (*model.Transaction, error) {
	results, err := s.apply(ctx, tx)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// EnsureWallet は口座を作成し、初回のみウェルカムボーナスを付与する。
// 冪等のため何度呼んでも残高への影響は1回分だけ。
func (s *Service) EnsureWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	wallet, err := s.repo.FindWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		if err := s.repo.CreateWallet(ctx, &model.Wallet{UserID: userID, CreatedAt: s.now()}); err != nil {
			return nil, err
		}
		if s.cfg.WelcomeBonus > 0 {
			_, err := s.apply(ctx, &model.Transaction{
				IdempotencyKey: fmt.Sprintf("%s:%s", model.ReasonWelcomeBonus, userID),
				UserID:         userID,
				Amount:         s.cfg.WelcomeBonus,
				Reason:         model.ReasonWelcomeBonus,
			})
			if err != nil {
				return nil, err
			}
		}
		wallet, err = s.repo.FindWallet(ctx, userID)
		if err != nil {
			return nil, err
		}
	}
	return wallet, nil
}

// Balance は残高照会の結果。
type Balance struct {
	UserID             string
	Available          int64
	PendingWithdrawals int64
}

// GetBalance は利用可能残高と確認待ち出金額を返す。
// 出金の控除は申請時に適用済みのため、PendingWithdrawalsは情報表示のみ。
func (s *Service) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	wallet, err := s.EnsureWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	var pending int64
	ws, err := s.withdrawals.ListByUserID(ctx, userID, 100)
	if err != nil {
		return nil, err
	}
	for _, w := range ws {
		if w.Status == model.WithdrawalStatusPending || w.Status == model.WithdrawalStatusSubmitted {
			pending += w.Amount
		}
	}

	return &Balance{
		UserID:             userID,
		Available:          wallet.OffledgerBalance,
		PendingWithdrawals: pending,
	}, nil
}

// ListTransactions はユーザーのトランザクション履歴を新しい順に返す。
func (s *Service) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*model.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListTransactionsByUserID(ctx, userID, limit, offset)
}

// DailyClaim はデイリーボーナスを付与する。
// 前回付与から所定の間隔が経過していない場合はClaimCooldownErrorを返す。
// 冪等キーが付与日の日付で決まるため、同日の再請求は同じ結果を返す。
func (s *Service) DailyClaim(ctx context.Context, userID string) (*model.Transaction, error) {
	wallet, err := s.EnsureWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if wallet.LastClaimAt != nil && now.Sub(*wallet.LastClaimAt) < s.cfg.DailyClaimInterval {
		return nil, model.NewClaimCooldownError()
	}

	tx, err := s.apply(ctx, &model.Transaction{
		IdempotencyKey: fmt.Sprintf("%s:%s:%s", model.ReasonDailyClaim, userID, now.UTC().Format("2006-01-02")),
		UserID:         userID,
		Amount:         s.cfg.DailyClaim,
		Reason:         model.ReasonDailyClaim,
	})
	if err != nil {
		return nil, err
	}
	return tx[0], nil
}

// GiftResult はギフト送付の結果。
type GiftResult struct {
	SentTx     *model.Transaction
	ReceivedTx *model.Transaction
	Fee        int64
}

// Gift は送金者から受取人へコインを送る。手数料は運営口座へ入る。
// 3レッグ（送金者控除・受取人入金・手数料）は単一DBトランザクションで適用され、
// 残高不足の場合はどのレッグも適用されない。
func (s *Service) Gift(ctx context.Context, fromID, toID string, amount int64, idempotencyKey string) (*GiftResult, error) {
	if amount <= 0 {
		return nil, model.NewInvalidAmountError(amount)
	}
	if fromID == toID {
		return nil, model.NewInvalidAmountError(amount)
	}

	fee := amount * int64(s.cfg.GiftFeePercent) / 100
	if fee < 1 {
		fee = 1
	}
	net := amount - fee
	if net <= 0 {
		return nil, model.NewInvalidAmountError(amount)
	}

	if _, err := s.EnsureWallet(ctx, fromID); err != nil {
		return nil, err
	}
	if _, err := s.EnsureWallet(ctx, toID); err != nil {
		return nil, err
	}

	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	results, err := s.apply(ctx,
		&model.Transaction{
			IdempotencyKey: fmt.Sprintf("gift:%s:sent", idempotencyKey),
			UserID:         fromID,
			Amount:         -amount,
			Reason:         model.ReasonGiftSent,
		},
		&model.Transaction{
			IdempotencyKey: fmt.Sprintf("gift:%s:received", idempotencyKey),
			UserID:         toID,
			Amount:         net,
			Reason:         model.ReasonGiftReceived,
		},
		&model.Transaction{
			IdempotencyKey: fmt.Sprintf("gift:%s:fee", idempotencyKey),
			UserID:         model.TreasuryAccount,
			Amount:         fee,
			Reason:         model.ReasonGiftFee,
		},
	)
	if err != nil {
		return nil, err
	}

	s.logger.Info("ギフトを送付しました",
		slog.String("from", fromID),
		slog.String("to", toID),
		slog.Int64("amount", amount),
		slog.Int64("fee", fee),
	)
	return &GiftResult{SentTx: results[0], ReceivedTx: results[1], Fee: fee}, nil
}

// Purchase はゲーム内購入の代金を控除する。
func (s *Service) Purchase(ctx context.Context, userID string, amount int64, idempotencyKey string) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, model.NewInvalidAmountError(amount)
	}
	if _, err := s.EnsureWallet(ctx, userID); err != nil {
		return nil, err
	}
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	results, err := s.apply(ctx, &model.Transaction{
		IdempotencyKey: fmt.Sprintf("purchase:%s", idempotencyKey),
		UserID:         userID,
		Amount:         -amount,
		Reason:         model.ReasonPurchase,
	})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// Withdraw は外部決済ネットワークへの出金を申請する。
// 残高は申請時に控除され、出金リクエストがpendingで作成される。
// 実際の送金は決済ワーカーが非同期に行う。
// 同じ冪等キーでの再申請は控除をやり直さず既存の出金リクエストを返す。
func (s *Service) Withdraw(ctx context.Context, userID string, amount int64, destination, idempotencyKey string) (*model.Withdrawal, error) {
	if amount < s.cfg.MinWithdrawal || (s.cfg.MaxWithdrawal > 0 && amount > s.cfg.MaxWithdrawal) {
		return nil, model.NewInvalidAmountError(amount)
	}
	if _, err := s.EnsureWallet(ctx, userID); err != nil {
		return nil, err
	}
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	results, err := s.apply(ctx, &model.Transaction{
		IdempotencyKey: fmt.Sprintf("withdrawal:%s", idempotencyKey),
		UserID:         userID,
		Amount:         -amount,
		Reason:         model.ReasonWithdrawal,
		External:       true,
	})
	if err != nil {
		return nil, err
	}

	// 控除が再生だった場合は対応する出金リクエストが既に存在する
	if existing, err := s.withdrawals.FindByTransactionID(ctx, results[0].ID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	w := &model.Withdrawal{
		ID:            uuid.NewString(),
		UserID:        userID,
		TransactionID: results[0].ID,
		Amount:        amount,
		Destination:   destination,
		Status:        model.WithdrawalStatusPending,
		NextAttemptAt: s.now(),
	}
	if err := s.withdrawals.Create(ctx, w); err != nil {
		return nil, err
	}

	s.logger.Info("出金を申請しました",
		slog.String("user_id", userID),
		slog.String("withdrawal_id", w.ID),
		slog.Int64("amount", amount),
	)
	return w, nil
}

// ListWithdrawals はユーザーの出金リクエストを新しい順に返す。
func (s *Service) ListWithdrawals(ctx context.Context, userID string, limit int) ([]*model.Withdrawal, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.withdrawals.ListByUserID(ctx, userID, limit)
}

// ConfirmWithdrawal は外部決済の確認完了を記録する。残高は変動しない。
func (s *Service) ConfirmWithdrawal(ctx context.Context, w *model.Withdrawal, txHash string) error {
	w.Status = model.WithdrawalStatusConfirmed
	w.TxHash = txHash
	w.ErrorMessage = ""
	if err := s.withdrawals.Update(ctx, w); err != nil {
		return err
	}
	if err := s.repo.UpdateTransactionStatus(ctx, w.TransactionID, model.TxStatusConfirmed, txHash); err != nil {
		return err
	}
	s.logger.Info("出金が確認されました",
		slog.String("withdrawal_id", w.ID),
		slog.String("tx_hash", txHash),
	)
	return nil
}

// FailWithdrawal は外部決済の失敗を確定し、控除額を補償トランザクションで戻す。
// 補償の冪等キーが元のトランザクションIDで決まるため、二重補償は起きない。
func (s *Service) FailWithdrawal(ctx context.Context, w *model.Withdrawal, reason string) error {
	w.Status = model.WithdrawalStatusFailed
	w.ErrorMessage = reason
	if err := s.withdrawals.Update(ctx, w); err != nil {
		return err
	}
	if err := s.repo.UpdateTransactionStatus(ctx, w.TransactionID, model.TxStatusFailed, ""); err != nil {
		return err
	}

	_, err := s.apply(ctx, &model.Transaction{
		IdempotencyKey: fmt.Sprintf("reversal:%s", w.TransactionID),
		UserID:         w.UserID,
		Amount:         w.Amount,
		Reason:         model.ReasonReversal,
	})
	if err != nil {
		return err
	}

	s.logger.Warn("出金が失敗したため残高を戻しました",
		slog.String("withdrawal_id", w.ID),
		slog.String("reason", reason),
	)
	return nil
}
