package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mafiman/internal/middleware"
)

// HealthChecker はヘルスチェックに必要なDB疎通確認インターフェース。
// *sql.DBがそのまま満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ゲーム
	GameService GameServiceInterface

	// ウォレット
	WalletService WalletServiceInterface

	// WebSocket
	StreamAttacher StreamAttacher
	WSCheckOrigin  func(r *http.Request) bool

	Logger *slog.Logger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → Session → RateLimit(General)
//
// WebSocketルート（/ws/*）はレート制限の外、セッション認証の内側に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// ハンドラーのpanicはプロセスではなくリクエスト単位で封じ込める
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))

	// CORS ミドルウェアを全ルートに適用（プリフライトを含む）
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	gameHandler := NewGameHandler(deps.GameService)
	walletHandler := NewWalletHandler(deps.WalletService)
	wsHandler := NewWSHandler(deps.StreamAttacher, deps.Logger, deps.WSCheckOrigin)

	// --- 認証不要のルート ---

	// ヘルスチェック（Dockerのhealthcheckサブコマンドから叩かれる）
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.PingContext(req.Context()); err != nil {
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	// --- 認証が必要なAPIルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// ゲームセッション管理
		r.Route("/api/games", func(r chi.Router) {
			r.Post("/", gameHandler.CreateGame)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/state", gameHandler.GetState)
				r.Post("/actions", gameHandler.SubmitAction)
				r.Post("/votes", gameHandler.SubmitVote)
				r.Post("/advance", gameHandler.ForceAdvance)
				r.Delete("/", gameHandler.EndGame)
			})
		})

		// ウォレット・経済系
		r.Route("/api/wallet", func(r chi.Router) {
			r.Get("/balance", walletHandler.GetBalance)
			r.Get("/transactions", walletHandler.ListTransactions)
			r.Post("/claim", walletHandler.DailyClaim)

			// 送金系操作には送金専用レート制限を追加で適用する
			r.With(deps.RateLimiter.TransferMiddleware()).Post("/gifts", walletHandler.Gift)
			r.With(deps.RateLimiter.TransferMiddleware()).Post("/withdrawals", walletHandler.Withdraw)

			r.Post("/purchases", walletHandler.Purchase)
			r.Get("/withdrawals", walletHandler.ListWithdrawals)
		})
	})

	// --- WebSocketルート ---
	// 長命接続のためレート制限は適用しない。認証は必要。
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Get("/ws/games/{id}", wsHandler.Connect)
	})

	return r
}
