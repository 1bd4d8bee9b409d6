package settle

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/mafiman/internal/model"
	"github.com/hitoshi/mafiman/internal/settlement"
)

// --- モック ---

type mockClient struct {
	submitFn func(ctx context.Context, w *model.Withdrawal) (*settlement.SubmitResult, error)
	statusFn func(ctx context.Context, withdrawalID string) (*settlement.StatusResult, error)
}

func (m *mockClient) SubmitTransfer(ctx context.Context, w *model.Withdrawal) (*settlement.SubmitResult, error) {
	return m.submitFn(ctx, w)
}

func (m *mockClient) GetTransferStatus(ctx context.Context, withdrawalID string) (*settlement.StatusResult, error) {
	return m.statusFn(ctx, withdrawalID)
}

type mockWithdrawalRepo struct {
	updated []*model.Withdrawal
	due     []*model.Withdrawal
}

func (m *mockWithdrawalRepo) Create(ctx context.Context, w *model.Withdrawal) error { return nil }
func (m *mockWithdrawalRepo) FindByID(ctx context.Context, id string) (*model.Withdrawal, error) {
	return nil, nil
}
func (m *mockWithdrawalRepo) FindByTransactionID(ctx context.Context, transactionID string) (*model.Withdrawal, error) {
	return nil, nil
}
func (m *mockWithdrawalRepo) ListByUserID(ctx context.Context, userID string, limit int) ([]*model.Withdrawal, error) {
	return nil, nil
}
func (m *mockWithdrawalRepo) ListDueForSettlement(ctx context.Context, limit int) ([]*model.Withdrawal, error) {
	return m.due, nil
}
func (m *mockWithdrawalRepo) Update(ctx context.Context, w *model.Withdrawal) error {
	cp := *w
	m.updated = append(m.updated, &cp)
	return nil
}

type mockLedgerService struct {
	confirmed []string
	failed    []string
}

func (m *mockLedgerService) ConfirmWithdrawal(ctx context.Context, w *model.Withdrawal, txHash string) error {
	m.confirmed = append(m.confirmed, w.ID+":"+txHash)
	return nil
}

func (m *mockLedgerService) FailWithdrawal(ctx context.Context, w *model.Withdrawal, reason string) error {
	m.failed = append(m.failed, w.ID+":"+reason)
	return nil
}

// --- ヘルパー ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pendingWithdrawal(id string) *model.Withdrawal {
	return &model.Withdrawal{
		ID:          id,
		UserID:      "alice",
		Amount:      150,
		Destination: "EQabc...",
		Status:      model.WithdrawalStatusPending,
		CreatedAt:   time.Now(),
	}
}

func newTestProcessor(client SettlementClient, repo *mockWithdrawalRepo, ledger *mockLedgerService) *Processor {
	return NewProcessor(repo, client, ledger, testLogger(), nil, 3, time.Minute, 15*time.Minute)
}

// --- テスト ---

// TestProcessor_SubmitSuccess は送信成功でsubmitted状態へ遷移することを検証する。
func TestProcessor_SubmitSuccess(t *testing.T) {
	client := &mockClient{
		submitFn: func(ctx context.Context, w *model.Withdrawal) (*settlement.SubmitResult, error) {
			return &settlement.SubmitResult{TxHash: "hash-1"}, nil
		},
	}
	repo := &mockWithdrawalRepo{}
	ledger := &mockLedgerService{}
	p := newTestProcessor(client, repo, ledger)

	w := pendingWithdrawal("w1")
	if err := p.Process(context.Background(), w); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if len(repo.updated) != 1 {
		t.Fatalf("updates = %d, want 1", len(repo.updated))
	}
	got := repo.updated[0]
	if got.Status != model.WithdrawalStatusSubmitted {
		t.Errorf("status = %s, want submitted", got.Status)
	}
	if got.TxHash != "hash-1" {
		t.Errorf("tx_hash = %s, want hash-1", got.TxHash)
	}
	if len(ledger.failed) != 0 {
		t.Errorf("unexpected failure: %v", ledger.failed)
	}
}

// TestProcessor_SubmitRetryableError は一時エラーでバックオフ再試行が
// 予約されることを検証する。
func TestProcessor_SubmitRetryableError(t *testing.T) {
	client := &mockClient{
		submitFn: func(ctx context.Context, w *model.Withdrawal) (*settlement.SubmitResult, error) {
			return nil, &settlement.RetryableError{}
		},
	}
	repo := &mockWithdrawalRepo{}
	ledger := &mockLedgerService{}
	p := newTestProcessor(client, repo, ledger)

	w := pendingWithdrawal("w1")
	if err := p.Process(context.Background(), w); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if len(repo.updated) != 1 {
		t.Fatalf("updates = %d, want 1", len(repo.updated))
	}
	got := repo.updated[0]
	if got.Status != model.WithdrawalStatusPending {
		t.Errorf("status = %s, want pending (still retrying)", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", got.RetryCount)
	}
	if !got.NextAttemptAt.After(time.Now()) {
		t.Error("next_attempt_at should be in the future")
	}
	if len(ledger.failed) != 0 {
		t.Errorf("failure must not be finalized yet: %v", ledger.failed)
	}
}

// TestProcessor_SubmitPermanentError は恒久エラーで即座に失敗確定し
// 残高が戻されることを検証する。
func TestProcessor_SubmitPermanentError(t *testing.T) {
	client := &mockClient{
		submitFn: func(ctx context.Context, w *model.Withdrawal) (*settlement.SubmitResult, error) {
			return nil, &settlement.PermanentError{}
		},
	}
	repo := &mockWithdrawalRepo{}
	ledger := &mockLedgerService{}
	p := newTestProcessor(client, repo, ledger)

	w := pendingWithdrawal("w1")
	if err := p.Process(context.Background(), w); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if len(ledger.failed) != 1 {
		t.Fatalf("failures = %v, want 1 entry", ledger.failed)
	}
}

// TestProcessor_RetryLimitExceeded は再試行上限到達で失敗確定することを検証する。
func TestProcessor_RetryLimitExceeded(t *testing.T) {
	client := &mockClient{
		submitFn: func(ctx context.Context, w *model.Withdrawal) (*settlement.SubmitResult, error) {
			return nil, &settlement.RetryableError{}
		},
	}
	repo := &mockWithdrawalRepo{}
	ledger := &mockLedgerService{}
	p := newTestProcessor(client, repo, ledger)

	w := pendingWithdrawal("w1")
	w.RetryCount = 3 // 上限ちょうど。次の失敗で超過する。
	if err := p.Process(context.Background(), w); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if len(ledger.failed) != 1 {
		t.Fatalf("failures = %v, want 1 entry after retry limit", ledger.failed)
	}
}

// TestProcessor_PollConfirmed は確認完了が台帳へ記録されることを検証する。
func TestProcessor_PollConfirmed(t *testing.T) {
	client := &mockClient{
		statusFn: func(ctx context.Context, withdrawalID string) (*settlement.StatusResult, error) {
			return &settlement.StatusResult{Status: settlement.StatusConfirmed, TxHash: "hash-9"}, nil
		},
	}
	repo := &mockWithdrawalRepo{}
	ledger := &mockLedgerService{}
	p := newTestProcessor(client, repo, ledger)

	w := pendingWithdrawal("w1")
	w.Status = model.WithdrawalStatusSubmitted
	if err := p.Process(context.Background(), w); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if len(ledger.confirmed) != 1 || ledger.confirmed[0] != "w1:hash-9" {
		t.Errorf("confirmed = %v, want [w1:hash-9]", ledger.confirmed)
	}
}

// TestProcessor_PollFailed は外部失敗が台帳の失敗確定へつながることを検証する。
func TestProcessor_PollFailed(t *testing.T) {
	client := &mockClient{
		statusFn: func(ctx context.Context, withdrawalID string) (*settlement.StatusResult, error) {
			return &settlement.StatusResult{Status: settlement.StatusFailed, Error: "insufficient gas"}, nil
		},
	}
	repo := &mockWithdrawalRepo{}
	ledger := &mockLedgerService{}
	p := newTestProcessor(client, repo, ledger)

	w := pendingWithdrawal("w1")
	w.Status = model.WithdrawalStatusSubmitted
	if err := p.Process(context.Background(), w); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if len(ledger.failed) != 1 || ledger.failed[0] != "w1:insufficient gas" {
		t.Errorf("failed = %v, want [w1:insufficient gas]", ledger.failed)
	}
}

// TestProcessor_PollConfirmationTimeout は確認待ちの長期化で失敗確定することを検証する。
func TestProcessor_PollConfirmationTimeout(t *testing.T) {
	client := &mockClient{
		statusFn: func(ctx context.Context, withdrawalID string) (*settlement.StatusResult, error) {
			return &settlement.StatusResult{Status: settlement.StatusPending}, nil
		},
	}
	repo := &mockWithdrawalRepo{}
	ledger := &mockLedgerService{}
	p := newTestProcessor(client, repo, ledger)

	w := pendingWithdrawal("w1")
	w.Status = model.WithdrawalStatusSubmitted
	w.CreatedAt = time.Now().Add(-time.Hour)
	if err := p.Process(context.Background(), w); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if len(ledger.failed) != 1 {
		t.Fatalf("failures = %v, want 1 entry after confirmation timeout", ledger.failed)
	}
}

// TestScheduler_RunOnce はスケジューラが処理対象を全件処理することを検証する。
func TestScheduler_RunOnce(t *testing.T) {
	client := &mockClient{
		submitFn: func(ctx context.Context, w *model.Withdrawal) (*settlement.SubmitResult, error) {
			return &settlement.SubmitResult{TxHash: "h"}, nil
		},
	}
	repo := &mockWithdrawalRepo{
		due: []*model.Withdrawal{
			pendingWithdrawal("w1"),
			pendingWithdrawal("w2"),
			pendingWithdrawal("w3"),
		},
	}
	ledger := &mockLedgerService{}
	p := newTestProcessor(client, repo, ledger)

	s := NewScheduler(repo, p, testLogger(), 2)
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}

	if len(repo.updated) != 3 {
		t.Errorf("processed = %d, want 3", len(repo.updated))
	}
}
