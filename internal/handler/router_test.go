package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/mafiman/internal/game"
	"github.com/hitoshi/mafiman/internal/middleware"
	"github.com/hitoshi/mafiman/internal/model"
)

// stubSessionFinder はテスト用のSessionFinder実装。
// "valid-token" のみ有効なセッションとして扱う。
type stubSessionFinder struct{}

func (f *stubSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if id != "valid-token" {
		return nil, nil
	}
	return &model.Session{
		ID:        id,
		UserID:    "user-123",
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

func newTestRouter(t *testing.T, gameSvc GameServiceInterface, walletSvc WalletServiceInterface) http.Handler {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	if gameSvc == nil {
		gameSvc = &mockGameService{}
	}
	if walletSvc == nil {
		walletSvc = &mockWalletService{}
	}

	return NewRouter(&RouterDeps{
		SessionFinder:     &stubSessionFinder{},
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		GameService:       gameSvc,
		WalletService:     walletSvc,
		StreamAttacher:    nil,
	})
}

// TestRouter_AuthenticatedRequest は有効トークンでAPIルートに到達できることを検証する。
func TestRouter_AuthenticatedRequest(t *testing.T) {
	gameSvc := &mockGameService{
		getStateFn: func(ctx context.Context, gameID, viewerID string) (*game.State, error) {
			if gameID != "game-1" {
				t.Errorf("game_id = %s, want game-1", gameID)
			}
			if viewerID != "user-123" {
				t.Errorf("viewer_id = %s, want user-123", viewerID)
			}
			return &game.State{GameID: gameID}, nil
		},
	}
	router := newTestRouter(t, gameSvc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/games/game-1/state", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", w.Code, w.Body.String())
	}
}

// TestRouter_UnauthenticatedRequest はトークンなしのAPIリクエストが401になることを検証する。
func TestRouter_UnauthenticatedRequest(t *testing.T) {
	router := newTestRouter(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/wallet/balance", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

// TestRouter_InvalidToken は無効トークンのAPIリクエストが401になることを検証する。
func TestRouter_InvalidToken(t *testing.T) {
	router := newTestRouter(t, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/wallet/claim", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

// TestRouter_CORSHeaders はCORSヘッダーが全ルートに付与されることを検証する。
func TestRouter_CORSHeaders(t *testing.T) {
	router := newTestRouter(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/wallet/balance", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q, want http://localhost:3000", got)
	}
}

// TestRouter_UnknownRouteReturns404 は未定義ルートが404になることを検証する。
func TestRouter_UnknownRouteReturns404(t *testing.T) {
	router := newTestRouter(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/unknown", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
