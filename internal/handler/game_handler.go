// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mafiman/internal/game"
	"github.com/hitoshi/mafiman/internal/middleware"
	"github.com/hitoshi/mafiman/internal/model"
)

// GameServiceInterface はゲームハンドラーが必要とするサービスインターフェース。
type GameServiceInterface interface {
	// CreateGame は新しいゲームセッションを生成し、ゲームIDを返す。
	CreateGame(ctx context.Context, roster []string) (string, error)
	// SubmitAction は夜フェーズの役職アクションを投入する。
	SubmitAction(ctx context.Context, gameID, userID string, kind model.ActionKind, targetID string) error
	// SubmitVote は昼フェーズの処刑投票を投入する。
	SubmitVote(ctx context.Context, gameID, userID, targetID string) error
	// ForceAdvance は現在フェーズの締切を待たずに即時解決する。
	ForceAdvance(ctx context.Context, gameID string) error
	// EndGame はゲームを強制終了する。forcedWinnerが空の場合は引き分け扱い。
	EndGame(ctx context.Context, gameID string, forcedWinner model.Faction) error
	// GetState は閲覧者視点のゲーム状態を返す。
	GetState(ctx context.Context, gameID, viewerID string) (*game.State, error)
}

// GameHandler はゲームセッション管理のHTTPハンドラー。
type GameHandler struct {
	service GameServiceInterface
}

// NewGameHandler はGameHandlerを生成する。
func NewGameHandler(service GameServiceInterface) *GameHandler {
	return &GameHandler{service: service}
}

// createGameRequest はゲーム作成リクエストのボディ。
type createGameRequest struct {
	PlayerIDs []string `json:"player_ids"`
}

// createGameResponse はゲーム作成のAPIレスポンス。
type createGameResponse struct {
	GameID string `json:"game_id"`
}

// submitActionRequest は夜アクション投入リクエストのボディ。
type submitActionRequest struct {
	Action   string `json:"action"`
	TargetID string `json:"target_id"`
}

// submitVoteRequest は投票リクエストのボディ。
type submitVoteRequest struct {
	TargetID string `json:"target_id"`
}

// endGameRequest はゲーム強制終了リクエストのボディ。
type endGameRequest struct {
	Winner string `json:"winner,omitempty"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// CreateGame はゲーム作成を処理する。
// POST /api/games
func (h *GameHandler) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	gameID, err := h.service.CreateGame(r.Context(), req.PlayerIDs)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(createGameResponse{GameID: gameID})
}

// SubmitAction は夜フェーズの役職アクション投入を処理する。
// POST /api/games/:id/actions
func (h *GameHandler) SubmitAction(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	gameID := chi.URLParam(r, "id")

	var req submitActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	err := h.service.SubmitAction(r.Context(), gameID, userID, model.ActionKind(req.Action), req.TargetID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// SubmitVote は昼フェーズの処刑投票を処理する。
// POST /api/games/:id/votes
func (h *GameHandler) SubmitVote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	gameID := chi.URLParam(r, "id")

	var req submitVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if err := h.service.SubmitVote(r.Context(), gameID, userID, req.TargetID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// ForceAdvance は現在フェーズの即時解決を処理する。
// POST /api/games/:id/advance
func (h *GameHandler) ForceAdvance(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "id")

	if err := h.service.ForceAdvance(r.Context(), gameID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// EndGame はゲームの強制終了を処理する。
// DELETE /api/games/:id
func (h *GameHandler) EndGame(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "id")

	// ボディは省略可能。省略時は引き分け扱いで終了する。
	var req endGameRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.service.EndGame(r.Context(), gameID, model.Faction(req.Winner)); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetState は閲覧者視点のゲーム状態取得を処理する。
// GET /api/games/:id/state
func (h *GameHandler) GetState(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	gameID := chi.URLParam(r, "id")

	state, err := h.service.GetState(r.Context(), gameID, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}

// --- ヘルパー関数 ---

// requireUserID はコンテキストから認証済みユーザーIDを取り出す。
// 未認証の場合は401を書き込み、falseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     "UNAUTHORIZED",
			Message:  "認証が必要です。",
			Category: "auth",
			Action:   "ログインしてください。",
		})
		return "", false
	}
	return userID, true
}

// writeInvalidRequestBody はボディ解析失敗の400レスポンスを書き込む。
func writeInvalidRequestBody(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRoster, model.ErrCodeInsufficientPlayers, model.ErrCodeInvalidAmount:
		return http.StatusBadRequest
	case model.ErrCodeGameNotFound:
		return http.StatusNotFound
	case model.ErrCodeIllegalAction, model.ErrCodeIllegalVote, model.ErrCodeGameEnded:
		return http.StatusConflict
	case model.ErrCodeInsufficientBalance:
		return http.StatusConflict
	case model.ErrCodeClaimCooldown:
		return http.StatusTooManyRequests
	case model.ErrCodeInvalidToken:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
