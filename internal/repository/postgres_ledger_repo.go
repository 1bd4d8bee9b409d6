package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/hitoshi/mafiman/internal/model"
)

// PostgresLedgerRepo はPostgreSQLを使用した台帳リポジトリ。
type PostgresLedgerRepo struct {
	db *sql.DB
}

// NewPostgresLedgerRepo はPostgresLedgerRepoを生成する。
func NewPostgresLedgerRepo(db *sql.DB) *PostgresLedgerRepo {
	return &PostgresLedgerRepo{db: db}
}

// CreateWallet は口座を作成する。すでに存在する場合は何もしない。
func (r *PostgresLedgerRepo) CreateWallet(ctx context.Context, wallet *model.Wallet) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO wallets (user_id, offledger_balance, last_applied_seq, created_at, updated_at)
		 VALUES ($1, $2, 0, $3, $3)
		 ON CONFLICT (user_id) DO NOTHING`,
		wallet.UserID, wallet.OffledgerBalance, wallet.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

// FindWallet は指定ユーザーの口座を取得する。見つからない場合はnilを返す。
func (r *PostgresLedgerRepo) FindWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	wallet := &model.Wallet{}
	var lastClaimAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, offledger_balance, last_applied_seq, last_claim_at, created_at, updated_at
		 FROM wallets
		 WHERE user_id = $1`,
		userID,
	).Scan(&wallet.UserID, &wallet.OffledgerBalance, &wallet.LastAppliedSeq,
		&lastClaimAt, &wallet.CreatedAt, &wallet.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find wallet: %w", err)
	}
	if lastClaimAt.Valid {
		t := lastClaimAt.Time
		wallet.LastClaimAt = &t
	}
	return wallet, nil
}

// Apply は複数トランザクションを単一DBトランザクションで残高へ適用する。
//
// 口座行をユーザーID昇順にFOR UPDATEでロックしてから冪等キーを検査するため、
// 同一キーの並行適用は口座ロックで直列化され、2回目以降は保存済みの結果を返す。
// ロック順を固定することで複数レッグ適用同士のデッドロックを避ける。
func (r *PostgresLedgerRepo) Apply(ctx context.Context, txs ...*model.Transaction) ([]*model.Transaction, error) {
	if len(txs) == 0 {
		return nil, nil
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	// ロック順を固定するためユーザーID昇順で処理する。
	ordered := make([]*model.Transaction, len(txs))
	copy(ordered, txs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].UserID < ordered[j].UserID })

	results := make(map[string]*model.Transaction, len(ordered))
	locked := make(map[string]bool, len(ordered))

	for _, leg := range ordered {
		if !locked[leg.UserID] {
			if err := lockWallet(ctx, dbTx, leg.UserID); err != nil {
				return nil, err
			}
			locked[leg.UserID] = true
		}

		stored, err := findTransactionByKeyTx(ctx, dbTx, leg.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			results[leg.IdempotencyKey] = stored
			continue
		}

		applied, err := applyLeg(ctx, dbTx, leg)
		if err != nil {
			return nil, err
		}
		results[leg.IdempotencyKey] = applied
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	out := make([]*model.Transaction, len(txs))
	for i, leg := range txs {
		out[i] = results[leg.IdempotencyKey]
	}
	return out, nil
}

// lockWallet は口座行をFOR UPDATEでロックする。存在しない場合は残高0で作成してからロックする。
func lockWallet(ctx context.Context, dbTx *sql.Tx, userID string) error {
	_, err := dbTx.ExecContext(ctx,
		`INSERT INTO wallets (user_id, offledger_balance, last_applied_seq, created_at, updated_at)
		 VALUES ($1, 0, 0, now(), now())
		 ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure wallet: %w", err)
	}

	var id string
	err = dbTx.QueryRowContext(ctx,
		`SELECT user_id FROM wallets WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to lock wallet: %w", err)
	}
	return nil
}

func findTransactionByKeyTx(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, key string) (*model.Transaction, error) {
	tx := &model.Transaction{}
	var txHash sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT id, idempotency_key, user_id, amount, reason, status, external, external_tx_hash, created_at
		 FROM transactions
		 WHERE idempotency_key = $1`,
		key,
	).Scan(&tx.ID, &tx.IdempotencyKey, &tx.UserID, &tx.Amount, &tx.Reason,
		&tx.Status, &tx.External, &txHash, &tx.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction by key: %w", err)
	}
	tx.ExternalTxHash = nullStringValue(txHash)
	return tx, nil
}

// applyLeg は1レッグを残高へ適用し、トランザクション行を作成する。
// 残高が負になる場合はInsufficientBalanceErrorを返す。
func applyLeg(ctx context.Context, dbTx *sql.Tx, leg *model.Transaction) (*model.Transaction, error) {
	var balance int64
	err := dbTx.QueryRowContext(ctx,
		`SELECT offledger_balance FROM wallets WHERE user_id = $1`,
		leg.UserID,
	).Scan(&balance)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet balance: %w", err)
	}

	if balance+leg.Amount < 0 {
		return nil, model.NewInsufficientBalanceError(balance, -leg.Amount)
	}

	status := model.TxStatusApplied
	if leg.External {
		status = model.TxStatusPending
	}

	applied := &model.Transaction{
		ID:             uuid.NewString(),
		IdempotencyKey: leg.IdempotencyKey,
		UserID:         leg.UserID,
		Amount:         leg.Amount,
		Reason:         leg.Reason,
		Status:         status,
		External:       leg.External,
	}

	err = dbTx.QueryRowContext(ctx,
		`INSERT INTO transactions (id, idempotency_key, user_id, amount, reason, status, external, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 RETURNING created_at`,
		applied.ID, applied.IdempotencyKey, applied.UserID, applied.Amount,
		applied.Reason, applied.Status, applied.External,
	).Scan(&applied.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	if leg.Reason == model.ReasonDailyClaim {
		_, err = dbTx.ExecContext(ctx,
			`UPDATE wallets
			 SET offledger_balance = offledger_balance + $2,
			     last_applied_seq = last_applied_seq + 1,
			     last_claim_at = now(),
			     updated_at = now()
			 WHERE user_id = $1`,
			leg.UserID, leg.Amount,
		)
	} else {
		_, err = dbTx.ExecContext(ctx,
			`UPDATE wallets
			 SET offledger_balance = offledger_balance + $2,
			     last_applied_seq = last_applied_seq + 1,
			     updated_at = now()
			 WHERE user_id = $1`,
			leg.UserID, leg.Amount,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update wallet balance: %w", err)
	}

	return applied, nil
}

// FindTransactionByKey は冪等キーでトランザクションを検索する。見つからない場合はnilを返す。
func (r *PostgresLedgerRepo) FindTransactionByKey(ctx context.Context, key string) (*model.Transaction, error) {
	return findTransactionByKeyTx(ctx, r.db, key)
}

// ListTransactionsByUserID はユーザーのトランザクション履歴を新しい順に返す。
func (r *PostgresLedgerRepo) ListTransactionsByUserID(ctx context.Context, userID string, limit, offset int) ([]*model.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, idempotency_key, user_id, amount, reason, status, external, external_tx_hash, created_at
		 FROM transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*model.Transaction
	for rows.Next() {
		tx := &model.Transaction{}
		var txHash sql.NullString
		if err := rows.Scan(&tx.ID, &tx.IdempotencyKey, &tx.UserID, &tx.Amount,
			&tx.Reason, &tx.Status, &tx.External, &txHash, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.ExternalTxHash = nullStringValue(txHash)
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txs, nil
}

// UpdateTransactionStatus はトランザクションの決済状態と外部ハッシュを更新する。
func (r *PostgresLedgerRepo) UpdateTransactionStatus(ctx context.Context, id string, status model.TxStatus, txHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE transactions
		 SET status = $2, external_tx_hash = NULLIF($3, '')
		 WHERE id = $1`,
		id, status, txHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("transaction not found: %s", id)
	}
	return nil
}

func nullStringValue(s sql.NullString) string {
	if s.Valid {
		return s.String
	}
	return ""
}

// compile-time interface check
var _ LedgerRepository = (*PostgresLedgerRepo)(nil)
