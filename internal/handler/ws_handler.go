package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hitoshi/mafiman/internal/model"
)

// StreamAttacher はWebSocket接続のブローカーへの接続インターフェース。
type StreamAttacher interface {
	// Attach はアップグレード済みの接続をユーザーストリームへ接続する。
	// ゲームが存在しない場合はfalseを返す。
	Attach(ctx context.Context, conn *websocket.Conn, gameID, userID string, lastSeq uint64) bool
}

// WSHandler はWebSocketエンドポイントのHTTPハンドラー。
// HTTP接続をWebSocketへアップグレードし、ブローカーのユーザーストリームへ渡す。
type WSHandler struct {
	attacher StreamAttacher
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler はWSHandlerを生成する。
// checkOriginがnilの場合は同一オリジンのみ許可するデフォルト動作になる。
func NewWSHandler(attacher StreamAttacher, logger *slog.Logger, checkOrigin func(r *http.Request) bool) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		attacher: attacher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

// Connect はWebSocket接続を処理する。
// GET /ws/games/:id?last_seq=N
//
// last_seqはクライアントが最後に受信したシーケンス番号。初回接続は0または省略。
func (h *WSHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	gameID := chi.URLParam(r, "id")

	var lastSeq uint64
	if raw := r.URL.Query().Get("last_seq"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, invalidLastSeqError())
			return
		}
		lastSeq = v
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeが失敗した場合はupgrader自身がエラーレスポンスを書き込み済み。
		h.logger.Warn("WebSocketアップグレードに失敗しました",
			slog.String("game_id", gameID),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}

	if !h.attacher.Attach(r.Context(), conn, gameID, userID, lastSeq) {
		h.logger.Info("存在しないゲームへのWebSocket接続を拒否しました",
			slog.String("game_id", gameID),
			slog.String("user_id", userID),
		)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown game"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

func invalidLastSeqError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "last_seqは0以上の整数で指定してください。",
		Category: "validation",
		Action:   "last_seqパラメータを確認してください。",
	}
}
