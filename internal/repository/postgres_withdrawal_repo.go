package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/mafiman/internal/model"
)

// PostgresWithdrawalRepo はPostgreSQLを使用した出金リポジトリ。
type PostgresWithdrawalRepo struct {
	db *sql.DB
}

// NewPostgresWithdrawalRepo はPostgresWithdrawalRepoを生成する。
func NewPostgresWithdrawalRepo(db *sql.DB) *PostgresWithdrawalRepo {
	return &PostgresWithdrawalRepo{db: db}
}

// Create は出金リクエストを作成する。
func (r *PostgresWithdrawalRepo) Create(ctx context.Context, w *model.Withdrawal) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO withdrawals
		 (id, user_id, transaction_id, amount, destination, status, retry_count, next_attempt_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())`,
		w.ID, w.UserID, w.TransactionID, w.Amount, w.Destination, w.Status, w.RetryCount, w.NextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal: %w", err)
	}
	return nil
}

// FindByID は指定IDの出金リクエストを取得する。見つからない場合はnilを返す。
func (r *PostgresWithdrawalRepo) FindByID(ctx context.Context, id string) (*model.Withdrawal, error) {
	w := &model.Withdrawal{}
	var txHash, errorMessage sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, transaction_id, amount, destination, status, tx_hash,
		        error_message, retry_count, next_attempt_at, created_at, updated_at
		 FROM withdrawals
		 WHERE id = $1`,
		id,
	).Scan(&w.ID, &w.UserID, &w.TransactionID, &w.Amount, &w.Destination, &w.Status,
		&txHash, &errorMessage, &w.RetryCount, &w.NextAttemptAt, &w.CreatedAt, &w.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find withdrawal: %w", err)
	}
	w.TxHash = nullStringValue(txHash)
	w.ErrorMessage = nullStringValue(errorMessage)
	return w, nil
}

// FindByTransactionID は控除トランザクションに対応する出金リクエストを取得する。
// 見つからない場合はnilを返す。
func (r *PostgresWithdrawalRepo) FindByTransactionID(ctx context.Context, transactionID string) (*model.Withdrawal, error) {
	w := &model.Withdrawal{}
	var txHash, errorMessage sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, transaction_id, amount, destination, status, tx_hash,
		        error_message, retry_count, next_attempt_at, created_at, updated_at
		 FROM withdrawals
		 WHERE transaction_id = $1`,
		transactionID,
	).Scan(&w.ID, &w.UserID, &w.TransactionID, &w.Amount, &w.Destination, &w.Status,
		&txHash, &errorMessage, &w.RetryCount, &w.NextAttemptAt, &w.CreatedAt, &w.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find withdrawal by transaction: %w", err)
	}
	w.TxHash = nullStringValue(txHash)
	w.ErrorMessage = nullStringValue(errorMessage)
	return w, nil
}

// ListByUserID はユーザーの出金リクエストを新しい順に返す。
func (r *PostgresWithdrawalRepo) ListByUserID(ctx context.Context, userID string, limit int) ([]*model.Withdrawal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, transaction_id, amount, destination, status, tx_hash,
		        error_message, retry_count, next_attempt_at, created_at, updated_at
		 FROM withdrawals
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	defer rows.Close()
	return scanWithdrawals(rows)
}

// ListDueForSettlement は処理対象の出金リクエストを取得する。
// FOR UPDATE SKIP LOCKEDで排他的に取得し、複数ワーカーの二重処理を防ぐ。
func (r *PostgresWithdrawalRepo) ListDueForSettlement(ctx context.Context, limit int) ([]*model.Withdrawal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, transaction_id, amount, destination, status, tx_hash,
		        error_message, retry_count, next_attempt_at, created_at, updated_at
		 FROM withdrawals
		 WHERE next_attempt_at <= now()
		   AND status IN ('pending', 'submitted')
		 ORDER BY next_attempt_at ASC
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list due withdrawals: %w", err)
	}
	defer rows.Close()
	return scanWithdrawals(rows)
}

// Update は出金リクエストの処理状態を更新する。
func (r *PostgresWithdrawalRepo) Update(ctx context.Context, w *model.Withdrawal) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE withdrawals
		 SET status = $2,
		     tx_hash = NULLIF($3, ''),
		     error_message = NULLIF($4, ''),
		     retry_count = $5,
		     next_attempt_at = $6,
		     updated_at = now()
		 WHERE id = $1`,
		w.ID, w.Status, w.TxHash, w.ErrorMessage, w.RetryCount, w.NextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update withdrawal: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("withdrawal not found: %s", w.ID)
	}
	return nil
}

func scanWithdrawals(rows *sql.Rows) ([]*model.Withdrawal, error) {
	var ws []*model.Withdrawal
	for rows.Next() {
		w := &model.Withdrawal{}
		var txHash, errorMessage sql.NullString
		if err := rows.Scan(&w.ID, &w.UserID, &w.TransactionID, &w.Amount, &w.Destination,
			&w.Status, &txHash, &errorMessage, &w.RetryCount, &w.NextAttemptAt,
			&w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		w.TxHash = nullStringValue(txHash)
		w.ErrorMessage = nullStringValue(errorMessage)
		ws = append(ws, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate withdrawals: %w", err)
	}
	return ws, nil
}

// compile-time interface check
var _ WithdrawalRepository = (*PostgresWithdrawalRepo)(nil)
