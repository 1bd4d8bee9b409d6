package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/mafiman/internal/ledger"
	"github.com/hitoshi/mafiman/internal/model"
)

// WalletServiceInterface はウォレットハンドラーが必要とするサービスインターフェース。
type WalletServiceInterface interface {
	// EnsureWallet はウォレットを取得し、存在しない場合は初回ボーナス付きで作成する。
	EnsureWallet(ctx context.Context, userID string) (*model.Wallet, error)
	// GetBalance は利用可能残高と確認待ち出金額を返す。
	GetBalance(ctx context.Context, userID string) (*ledger.Balance, error)
	// ListTransactions は取引履歴を新しい順に返す。
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*model.Transaction, error)
	// DailyClaim はデイリーボーナスを受け取る。
	DailyClaim(ctx context.Context, userID string) (*model.Transaction, error)
	// Gift は別のユーザーへコインを送る。
	Gift(ctx context.Context, fromID, toID string, amount int64, idempotencyKey string) (*ledger.GiftResult, error)
	// Purchase は外部決済によるコイン購入を記帳する。
	Purchase(ctx context.Context, userID string, amount int64, idempotencyKey string) (*model.Transaction, error)
	// Withdraw は外部への出金リクエストを作成する。冪等キーが同じ再申請は既存のリクエストを返す。
	Withdraw(ctx context.Context, userID string, amount int64, destination, idempotencyKey string) (*model.Withdrawal, error)
	// ListWithdrawals は出金リクエスト履歴を新しい順に返す。
	ListWithdrawals(ctx context.Context, userID string, limit int) ([]*model.Withdrawal, error)
}

// WalletHandler はウォレット・経済系APIのHTTPハンドラー。
type WalletHandler struct {
	service WalletServiceInterface
}

// NewWalletHandler はWalletHandlerを生成する。
func NewWalletHandler(service WalletServiceInterface) *WalletHandler {
	return &WalletHandler{service: service}
}

// balanceResponse は残高照会のAPIレスポンス。
type balanceResponse struct {
	UserID             string `json:"user_id"`
	Available          int64  `json:"available"`
	PendingWithdrawals int64  `json:"pending_withdrawals"`
}

// transactionResponse は取引のAPIレスポンス。
type transactionResponse struct {
	ID             string    `json:"id"`
	IdempotencyKey string    `json:"idempotency_key"`
	Amount         int64     `json:"amount"`
	Reason         string    `json:"reason"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// giftRequest は送金リクエストのボディ。
type giftRequest struct {
	ToUserID       string `json:"to_user_id"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

// giftResponse は送金のAPIレスポンス。
type giftResponse struct {
	SentTx     transactionResponse  `json:"sent_tx"`
	ReceivedTx *transactionResponse `json:"received_tx,omitempty"`
	Fee        int64                `json:"fee"`
}

// purchaseRequest はコイン購入リクエストのボディ。
type purchaseRequest struct {
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

// withdrawRequest は出金リクエストのボディ。
type withdrawRequest struct {
	Amount         int64  `json:"amount"`
	Destination    string `json:"destination"`
	IdempotencyKey string `json:"idempotency_key"`
}

// withdrawalResponse は出金リクエストのAPIレスポンス。
type withdrawalResponse struct {
	ID          string    `json:"id"`
	Amount      int64     `json:"amount"`
	Destination string    `json:"destination"`
	Status      string    `json:"status"`
	TxHash      string    `json:"tx_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// GetBalance は残高照会を処理する。ウォレットが未作成の場合は
// 初回ボーナス付きで作成してから返す。
// GET /api/wallet/balance
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if _, err := h.service.EnsureWallet(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balanceResponse{
		UserID:             balance.UserID,
		Available:          balance.Available,
		PendingWithdrawals: balance.PendingWithdrawals,
	})
}

// ListTransactions は取引履歴の取得を処理する。
// GET /api/wallet/transactions?limit=50&offset=0
func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	txs, err := h.service.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		resp = append(resp, toTransactionResponse(tx))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// DailyClaim はデイリーボーナスの受け取りを処理する。
// POST /api/wallet/claim
func (h *WalletHandler) DailyClaim(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	tx, err := h.service.DailyClaim(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toTransactionResponse(tx))
}

// Gift は別ユーザーへの送金を処理する。
// POST /api/wallet/gifts
func (h *WalletHandler) Gift(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req giftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}
	if req.ToUserID == "" || req.IdempotencyKey == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "to_user_idとidempotency_keyは必須です。",
			Category: "validation",
			Action:   "必須フィールドを指定してください。",
		})
		return
	}

	result, err := h.service.Gift(r.Context(), userID, req.ToUserID, req.Amount, req.IdempotencyKey)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := giftResponse{
		SentTx: toTransactionResponse(result.SentTx),
		Fee:    result.Fee,
	}
	if result.ReceivedTx != nil {
		recv := toTransactionResponse(result.ReceivedTx)
		resp.ReceivedTx = &recv
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// Purchase は外部決済によるコイン購入の記帳を処理する。
// POST /api/wallet/purchases
func (h *WalletHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}
	if req.IdempotencyKey == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "idempotency_keyは必須です。",
			Category: "validation",
			Action:   "必須フィールドを指定してください。",
		})
		return
	}

	tx, err := h.service.Purchase(r.Context(), userID, req.Amount, req.IdempotencyKey)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toTransactionResponse(tx))
}

// Withdraw は外部への出金リクエスト作成を処理する。
// POST /api/wallet/withdrawals
func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}
	if req.Destination == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "destinationは必須です。",
			Category: "validation",
			Action:   "出金先アドレスを指定してください。",
		})
		return
	}

	wd, err := h.service.Withdraw(r.Context(), userID, req.Amount, req.Destination, req.IdempotencyKey)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toWithdrawalResponse(wd))
}

// ListWithdrawals は出金リクエスト履歴の取得を処理する。
// GET /api/wallet/withdrawals?limit=50
func (h *WalletHandler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", 50)

	wds, err := h.service.ListWithdrawals(r.Context(), userID, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]withdrawalResponse, 0, len(wds))
	for _, wd := range wds {
		resp = append(resp, toWithdrawalResponse(wd))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- ヘルパー関数 ---

func toTransactionResponse(tx *model.Transaction) transactionResponse {
	return transactionResponse{
		ID:             tx.ID,
		IdempotencyKey: tx.IdempotencyKey,
		Amount:         tx.Amount,
		Reason:         tx.Reason,
		Status:         string(tx.Status),
		CreatedAt:      tx.CreatedAt,
	}
}

func toWithdrawalResponse(wd *model.Withdrawal) withdrawalResponse {
	return withdrawalResponse{
		ID:          wd.ID,
		Amount:      wd.Amount,
		Destination: wd.Destination,
		Status:      string(wd.Status),
		TxHash:      wd.TxHash,
		CreatedAt:   wd.CreatedAt,
	}
}

// queryInt はクエリパラメータを整数として読む。不正値はデフォルトを返す。
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
