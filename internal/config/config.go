package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort  string
	MetricsPort string

	// Game
	MinPlayers            int
	MaxPlayers            int
	MaxDays               int
	NightDuration         time.Duration
	DayDiscussionDuration time.Duration
	DayVoteDuration       time.Duration
	ResolutionDuration    time.Duration
	AFKTimeout            time.Duration
	RetireGracePeriod     time.Duration
	MafiaWinsAtParity     bool

	// Broker
	EventBufferSize int
	PingInterval    time.Duration
	PongTimeout     time.Duration

	// Ledger
	WelcomeBonus   int64
	DailyClaim     int64
	GameBaseReward int64
	WinBonus       int64
	GiftFeePercent int64
	MinWithdrawal  int64
	MaxWithdrawal  int64

	// Settlement
	SettlementEndpoint    string
	SettlementTimeout     time.Duration
	SettlementInterval    time.Duration
	SettlementMaxRetries  int
	ConfirmationTimeout   time.Duration
	SettlementConcurrency int

	// Rate Limit（req/min/user）
	RateLimitGeneral  int
	RateLimitTransfer int

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SettlementEndpoint = os.Getenv("SETTLEMENT_ENDPOINT")
	if cfg.SettlementEndpoint == "" {
		missing = append(missing, "SETTLEMENT_ENDPOINT")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")

	cfg.MinPlayers = getEnvInt("GAME_MIN_PLAYERS", 4)
	cfg.MaxPlayers = getEnvInt("GAME_MAX_PLAYERS", 16)
	cfg.MaxDays = getEnvInt("GAME_MAX_DAYS", 10)
	cfg.NightDuration = getEnvDuration("GAME_NIGHT_DURATION", 60*time.Second)
	cfg.DayDiscussionDuration = getEnvDuration("GAME_DAY_DISCUSSION_DURATION", 180*time.Second)
	cfg.DayVoteDuration = getEnvDuration("GAME_DAY_VOTE_DURATION", 60*time.Second)
	cfg.ResolutionDuration = getEnvDuration("GAME_RESOLUTION_DURATION", 10*time.Second)
	cfg.AFKTimeout = getEnvDuration("GAME_AFK_TIMEOUT", 120*time.Second)
	cfg.RetireGracePeriod = getEnvDuration("GAME_RETIRE_GRACE_PERIOD", 60*time.Second)
	cfg.MafiaWinsAtParity = getEnvBool("GAME_MAFIA_WINS_AT_PARITY", true)

	cfg.EventBufferSize = getEnvInt("WS_EVENT_BUFFER_SIZE", 64)
	cfg.PingInterval = getEnvDuration("WS_PING_INTERVAL", 30*time.Second)
	cfg.PongTimeout = getEnvDuration("WS_PONG_TIMEOUT", 10*time.Second)

	cfg.WelcomeBonus = getEnvInt64("LEDGER_WELCOME_BONUS", 100)
	cfg.DailyClaim = getEnvInt64("LEDGER_DAILY_CLAIM", 10)
	cfg.GameBaseReward = getEnvInt64("LEDGER_GAME_BASE_REWARD", 10)
	cfg.WinBonus = getEnvInt64("LEDGER_WIN_BONUS", 20)
	cfg.GiftFeePercent = getEnvInt64("LEDGER_GIFT_FEE_PERCENT", 10)
	cfg.MinWithdrawal = getEnvInt64("LEDGER_MIN_WITHDRAWAL", 100)
	cfg.MaxWithdrawal = getEnvInt64("LEDGER_MAX_WITHDRAWAL", 100000)

	cfg.SettlementTimeout = getEnvDuration("SETTLEMENT_TIMEOUT", 10*time.Second)
	cfg.SettlementInterval = getEnvDuration("SETTLEMENT_INTERVAL", 30*time.Second)
	cfg.SettlementMaxRetries = getEnvInt("SETTLEMENT_MAX_RETRIES", 3)
	cfg.ConfirmationTimeout = getEnvDuration("SETTLEMENT_CONFIRMATION_TIMEOUT", 15*time.Minute)
	cfg.SettlementConcurrency = getEnvInt("SETTLEMENT_CONCURRENCY", 5)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitTransfer = getEnvInt("RATE_LIMIT_TRANSFER", 10)

	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
