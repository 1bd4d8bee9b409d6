package settle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/mafiman/internal/model"
	"github.com/hitoshi/mafiman/internal/repository"
)

// WithdrawalProcessorService は出金処理の実行インターフェース。
type WithdrawalProcessorService interface {
	// Process は出金リクエストを状態に応じて1ステップ進める。
	Process(ctx context.Context, w *model.Withdrawal) error
}

// Scheduler は出金処理のスケジューリングと並列制御を行う。
// ティッカーで処理対象の出金リクエストを取得し、
// semaphoreパターンで最大並列数を制御しながら処理を実行する。
type Scheduler struct {
	withdrawals    repository.WithdrawalRepository
	processor      WithdrawalProcessorService
	logger         *slog.Logger
	maxConcurrency int
	batchSize      int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値5を使用する。
func NewScheduler(
	withdrawals repository.WithdrawalRepository,
	processor WithdrawalProcessorService,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	return &Scheduler{
		withdrawals:    withdrawals,
		processor:      processor,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		batchSize:      100,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("決済スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("決済サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("決済スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("決済サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は処理対象の出金リクエストを1回取得し、並列で処理を実行する。
// semaphoreパターンで最大並列数を制御する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	// 処理対象を取得（FOR UPDATE SKIP LOCKED）
	ws, err := s.withdrawals.ListDueForSettlement(ctx, s.batchSize)
	if err != nil {
		return err
	}

	if len(ws) == 0 {
		return nil
	}

	s.logger.Info("決済サイクルを開始します",
		slog.Int("withdrawal_count", len(ws)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, w := range ws {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(w *model.Withdrawal) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			if err := s.processor.Process(ctx, w); err != nil {
				s.logger.Error("出金処理に失敗しました",
					slog.String("withdrawal_id", w.ID),
					slog.String("error", err.Error()),
				)
			}
		}(w)
	}

	wg.Wait()

	s.logger.Info("決済サイクルが完了しました",
		slog.Int("withdrawal_count", len(ws)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}
