// Package settle は出金リクエストのバックグラウンド決済処理を提供する。
// スケジューラ、プロセッサ、リトライ/バックオフ戦略を含む。
package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/mafiman/internal/model"
	"github.com/hitoshi/mafiman/internal/repository"
	"github.com/hitoshi/mafiman/internal/settlement"
)

// SettlementClient は決済ゲートウェイの操作インターフェース。
type SettlementClient interface {
	SubmitTransfer(ctx context.Context, w *model.Withdrawal) (*settlement.SubmitResult, error)
	GetTransferStatus(ctx context.Context, withdrawalID string) (*settlement.StatusResult, error)
}

// LedgerService は決済結果の台帳への反映インターフェース。
type LedgerService interface {
	// ConfirmWithdrawal は外部決済の確認完了を記録する。残高は変動しない。
	ConfirmWithdrawal(ctx context.Context, w *model.Withdrawal, txHash string) error
	// FailWithdrawal は失敗を確定し、控除額を補償トランザクションで1回だけ戻す。
	FailWithdrawal(ctx context.Context, w *model.Withdrawal, reason string) error
}

// Metrics は決済処理のメトリクス記録インターフェース。
type Metrics interface {
	RecordSettlementOutcome(outcome string)
}

// Processor は個別の出金リクエストの送信と確認を行う。
//
// pending状態のリクエストはゲートウェイへ送信し、submitted状態のリクエストは
// 確認状態を照会する。一時エラーは指数バックオフで再試行し、再試行上限か
// 恒久エラーで失敗を確定して残高を戻す。
type Processor struct {
	withdrawals repository.WithdrawalRepository
	client      SettlementClient
	ledger      LedgerService
	logger      *slog.Logger
	mets        Metrics

	maxRetries          int
	confirmPollInterval time.Duration
	confirmationTimeout time.Duration
	now                 func() time.Time
}

// NewProcessor はProcessorの新しいインスタンスを生成する。
func NewProcessor(
	withdrawals repository.WithdrawalRepository,
	client SettlementClient,
	ledger LedgerService,
	logger *slog.Logger,
	mets Metrics,
	maxRetries int,
	confirmPollInterval time.Duration,
	confirmationTimeout time.Duration,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		withdrawals:         withdrawals,
		client:              client,
		ledger:              ledger,
		logger:              logger,
		mets:                mets,
		maxRetries:          maxRetries,
		confirmPollInterval: confirmPollInterval,
		confirmationTimeout: confirmationTimeout,
		now:                 time.Now,
	}
}

// Process は出金リクエストを状態に応じて1ステップ進める。
func (p *Processor) Process(ctx context.Context, w *model.Withdrawal) error {
	switch w.Status {
	case model.WithdrawalStatusPending:
		return p.submit(ctx, w)
	case model.WithdrawalStatusSubmitted:
		return p.poll(ctx, w)
	default:
		return nil
	}
}

// submit は送金をゲートウェイへ依頼する。
func (p *Processor) submit(ctx context.Context, w *model.Withdrawal) error {
	result, err := p.client.SubmitTransfer(ctx, w)
	if err != nil {
		var retryable *settlement.RetryableError
		if errors.As(err, &retryable) {
			return p.backoff(ctx, w, err.Error())
		}
		return p.fail(ctx, w, err.Error())
	}

	w.Status = model.WithdrawalStatusSubmitted
	w.TxHash = result.TxHash
	w.ErrorMessage = ""
	w.RetryCount = 0
	w.NextAttemptAt = p.now().Add(p.confirmPollInterval)
	if err := p.withdrawals.Update(ctx, w); err != nil {
		return fmt.Errorf("出金リクエストの更新に失敗しました: %w", err)
	}

	p.recordOutcome("submitted")
	p.logger.Info("送金をゲートウェイへ依頼しました",
		slog.String("withdrawal_id", w.ID),
		slog.Int64("amount", w.Amount),
	)
	return nil
}

// poll は送信済みの送金の確認状態を照会する。
func (p *Processor) poll(ctx context.Context, w *model.Withdrawal) error {
	status, err := p.client.GetTransferStatus(ctx, w.ID)
	if err != nil {
		var retryable *settlement.RetryableError
		if errors.As(err, &retryable) {
			return p.backoff(ctx, w, err.Error())
		}
		return p.fail(ctx, w, err.Error())
	}

	switch status.Status {
	case settlement.StatusConfirmed:
		if err := p.ledger.ConfirmWithdrawal(ctx, w, status.TxHash); err != nil {
			return fmt.Errorf("出金確認の記録に失敗しました: %w", err)
		}
		p.recordOutcome("confirmed")
		return nil

	case settlement.StatusFailed:
		return p.fail(ctx, w, status.Error)

	default:
		// 確認待ちが長すぎる場合は失敗として確定し、残高を戻す。
		if p.now().Sub(w.CreatedAt) > p.confirmationTimeout {
			return p.fail(ctx, w, "外部決済の確認がタイムアウトしました")
		}
		w.NextAttemptAt = p.now().Add(p.confirmPollInterval)
		if err := p.withdrawals.Update(ctx, w); err != nil {
			return fmt.Errorf("出金リクエストの更新に失敗しました: %w", err)
		}
		return nil
	}
}

// backoff は一時エラー後の再試行を予約する。上限到達で失敗を確定する。
func (p *Processor) backoff(ctx context.Context, w *model.Withdrawal, reason string) error {
	w.RetryCount++
	if w.RetryCount > p.maxRetries {
		return p.fail(ctx, w, fmt.Sprintf("再試行上限に達しました: %s", reason))
	}

	w.ErrorMessage = reason
	w.NextAttemptAt = p.now().Add(CalculateBackoff(w.RetryCount - 1))
	if err := p.withdrawals.Update(ctx, w); err != nil {
		return fmt.Errorf("出金リクエストの更新に失敗しました: %w", err)
	}

	p.recordOutcome("retried")
	p.logger.Warn("送金を再試行します",
		slog.String("withdrawal_id", w.ID),
		slog.Int("retry_count", w.RetryCount),
		slog.String("reason", reason),
	)
	return nil
}

// fail は失敗を確定し、台帳経由で控除額を戻す。
func (p *Processor) fail(ctx context.Context, w *model.Withdrawal, reason string) error {
	if err := p.ledger.FailWithdrawal(ctx, w, reason); err != nil {
		return fmt.Errorf("出金失敗の確定に失敗しました: %w", err)
	}
	p.recordOutcome("failed")
	return nil
}

func (p *Processor) recordOutcome(outcome string) {
	if p.mets != nil {
		p.mets.RecordSettlementOutcome(outcome)
	}
}
