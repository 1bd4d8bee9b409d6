// Package app はアプリケーションの起動とワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/mafiman/internal/broker"
	"github.com/hitoshi/mafiman/internal/config"
	"github.com/hitoshi/mafiman/internal/database"
	"github.com/hitoshi/mafiman/internal/game"
	"github.com/hitoshi/mafiman/internal/handler"
	"github.com/hitoshi/mafiman/internal/ledger"
	"github.com/hitoshi/mafiman/internal/logger"
	"github.com/hitoshi/mafiman/internal/metrics"
	"github.com/hitoshi/mafiman/internal/middleware"
	"github.com/hitoshi/mafiman/internal/model"
	"github.com/hitoshi/mafiman/internal/repository"
	"github.com/hitoshi/mafiman/internal/security"
	"github.com/hitoshi/mafiman/internal/settlement"
	"github.com/hitoshi/mafiman/internal/worker/cleanup"
	"github.com/hitoshi/mafiman/internal/worker/settle"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// lateBoundSink は構築順序の都合で実体を後から束縛するEventSink。
// セッション登録簿とブローカーは相互参照するため、先に登録簿を組み立てて
// からブローカーを差し込む。サーバー起動前に束縛が完了していること。
type lateBoundSink struct {
	sink game.EventSink
}

func (s *lateBoundSink) Publish(ev *model.Event) {
	if s.sink != nil {
		s.sink.Publish(ev)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	sessionRepo := repository.NewPostgresSessionRepo(db)
	ledgerRepo := repository.NewPostgresLedgerRepo(db)
	withdrawalRepo := repository.NewPostgresWithdrawalRepo(db)
	snapshotRepo := repository.NewPostgresSnapshotRepo(db)

	// 3. メトリクスの初期化
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	// 4. 台帳サービスの初期化
	ledgerService := ledger.NewService(ledgerRepo, withdrawalRepo, ledger.Config{
		WelcomeBonus:       cfg.WelcomeBonus,
		DailyClaim:         cfg.DailyClaim,
		DailyClaimInterval: 24 * time.Hour,
		GiftFeePercent:     int(cfg.GiftFeePercent),
		MinWithdrawal:      cfg.MinWithdrawal,
		MaxWithdrawal:      cfg.MaxWithdrawal,
	}, slog.Default(), collector)

	// 5. ゲームセッション登録簿の初期化
	sink := &lateBoundSink{}
	registry := game.NewRegistry(game.Config{
		MinPlayers:            cfg.MinPlayers,
		MaxPlayers:            cfg.MaxPlayers,
		MaxDays:               cfg.MaxDays,
		NightDuration:         cfg.NightDuration,
		DayDiscussionDuration: cfg.DayDiscussionDuration,
		DayVoteDuration:       cfg.DayVoteDuration,
		ResolutionDuration:    cfg.ResolutionDuration,
		AFKTimeout:            cfg.AFKTimeout,
		MafiaWinsAtParity:     cfg.MafiaWinsAtParity,
		BaseReward:            cfg.GameBaseReward,
		WinBonus:              cfg.WinBonus,
	}, game.Deps{
		Sink:      sink,
		Ledger:    ledgerService,
		Snapshots: snapshotRepo,
		Metrics:   collector,
		Logger:    slog.Default(),
	}, cfg.RetireGracePeriod, collector)

	coordinator := game.NewCoordinator(registry, security.NewChatSanitizer())

	// 6. WebSocketブローカーの初期化とセッション登録簿への結線
	b := broker.New(broker.Config{
		EventBufferSize: cfg.EventBufferSize,
		PingInterval:    cfg.PingInterval,
		PongTimeout:     cfg.PongTimeout,
	}, broker.Deps{
		Commands: coordinator,
		Presence: coordinator,
		States:   coordinator,
		Metrics:  collector,
		Logger:   slog.Default(),
	})
	sink.sink = b
	registry.OnCreate = b.RegisterGame
	registry.OnRetire = b.CloseGame

	// 7. 未終了ゲームのスナップショットからの復元
	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), 30*time.Second)
	if err := registry.RestoreAll(restoreCtx, snapshotRepo); err != nil {
		cancelRestore()
		return fmt.Errorf("failed to restore game sessions: %w", err)
	}
	cancelRestore()

	// 8. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	// configのレートはreq/min単位なのでreq/secに変換する
	if cfg.RateLimitGeneral > 0 {
		rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitTransfer > 0 {
		rateLimiterCfg.TransferRate = rate.Limit(float64(cfg.RateLimitTransfer) / 60.0)
		rateLimiterCfg.TransferBurst = cfg.RateLimitTransfer
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker:     db,
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		GameService:   coordinator,
		WalletService: ledgerService,

		StreamAttacher: b,
		Logger:         slog.Default(),
	})

	// 9. メトリクスサーバーの起動
	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metrics.SetupMetricsRoute(prometheus.DefaultGatherer),
	}
	go func() {
		slog.Info("metrics server starting", slog.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	// 10. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	_ = metricsServer.Shutdown(ctx)

	// 進行中セッションはスナップショット済みのため即時停止してよい
	registry.Shutdown()

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、出金決済スケジューラとクリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	ledgerRepo := repository.NewPostgresLedgerRepo(db)
	withdrawalRepo := repository.NewPostgresWithdrawalRepo(db)
	snapshotRepo := repository.NewPostgresSnapshotRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 3. メトリクスの初期化
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	// 4. 決済プロセッサの初期化
	ledgerService := ledger.NewService(ledgerRepo, withdrawalRepo, ledger.Config{
		WelcomeBonus:       cfg.WelcomeBonus,
		DailyClaim:         cfg.DailyClaim,
		DailyClaimInterval: 24 * time.Hour,
		GiftFeePercent:     int(cfg.GiftFeePercent),
		MinWithdrawal:      cfg.MinWithdrawal,
		MaxWithdrawal:      cfg.MaxWithdrawal,
	}, slog.Default(), collector)

	gateway := settlement.NewClient(cfg.SettlementEndpoint, cfg.SettlementTimeout, slog.Default())
	processor := settle.NewProcessor(
		withdrawalRepo, gateway, ledgerService, slog.Default(), collector,
		cfg.SettlementMaxRetries, cfg.SettlementInterval, cfg.ConfirmationTimeout,
	)

	// 5. スケジューラの初期化
	scheduler := settle.NewScheduler(
		withdrawalRepo, processor, slog.Default(), cfg.SettlementConcurrency,
	)

	// 6. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(snapshotRepo, sessionRepo, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("settlement_interval", cfg.SettlementInterval),
		slog.Int("max_concurrency", cfg.SettlementConcurrency),
	)

	// メトリクスサーバーをバックグラウンドで起動
	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metrics.SetupMetricsRoute(prometheus.DefaultGatherer),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	// クリーンアップジョブを日次でバックグラウンド実行
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// 決済スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.SettlementInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
