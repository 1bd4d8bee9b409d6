// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// セッションエンジン・ブローカー・ワーカーから利用する。
type MetricsCollector interface {
	RecordGameStarted(playerCount int)
	RecordGameEnded(winner string)
	RecordPhaseTransition(phase string)
	SetActiveGames(count int)
	IncWSConnections()
	DecWSConnections()
	RecordWSReplay(events int)
	RecordLedgerApply(reason string)
	RecordLedgerFailure(reason string)
	RecordLedgerApplyLatency(duration time.Duration)
	RecordSettlementOutcome(outcome string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	gamesStarted     prometheus.Counter
	gamesEnded       *prometheus.CounterVec
	phaseTransitions *prometheus.CounterVec
	activeGames      prometheus.Gauge
	wsConnections    prometheus.Gauge
	wsReplayEvents   prometheus.Counter
	ledgerApplies    *prometheus.CounterVec
	ledgerFailures   *prometheus.CounterVec
	ledgerLatency    prometheus.Histogram
	settlements      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		gamesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mafiman_games_started_total",
			Help: "開始されたゲームの合計数",
		}),
		gamesEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mafiman_games_ended_total",
			Help: "終了したゲームの勝敗別の合計数",
		}, []string{"winner"}),
		phaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mafiman_phase_transitions_total",
			Help: "フェーズ遷移の合計数",
		}, []string{"phase"}),
		activeGames: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mafiman_active_games",
			Help: "進行中のゲームセッション数",
		}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mafiman_ws_connections",
			Help: "現在のWebSocket接続数",
		}),
		wsReplayEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mafiman_ws_replay_events_total",
			Help: "再接続時に再送されたイベントの合計数",
		}),
		ledgerApplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mafiman_ledger_applies_total",
			Help: "台帳へ適用されたトランザクションの理由別合計数",
		}, []string{"reason"}),
		ledgerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mafiman_ledger_failures_total",
			Help: "台帳適用失敗の理由別合計数",
		}, []string{"reason"}),
		ledgerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mafiman_ledger_apply_latency_seconds",
			Help:    "台帳適用のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mafiman_settlements_total",
			Help: "外部決済処理の結果別合計数",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.gamesStarted,
		c.gamesEnded,
		c.phaseTransitions,
		c.activeGames,
		c.wsConnections,
		c.wsReplayEvents,
		c.ledgerApplies,
		c.ledgerFailures,
		c.ledgerLatency,
		c.settlements,
	)

	return c
}

// RecordGameStarted はゲーム開始を記録する。
func (c *Collector) RecordGameStarted(playerCount int) {
	c.gamesStarted.Inc()
}

// RecordGameEnded はゲーム終了を勝敗別に記録する。
func (c *Collector) RecordGameEnded(winner string) {
	c.gamesEnded.WithLabelValues(winner).Inc()
}

// RecordPhaseTransition はフェーズ遷移を記録する。
func (c *Collector) RecordPhaseTransition(phase string) {
	c.phaseTransitions.WithLabelValues(phase).Inc()
}

// SetActiveGames は進行中のゲーム数を設定する。
func (c *Collector) SetActiveGames(count int) {
	c.activeGames.Set(float64(count))
}

// IncWSConnections はWebSocket接続の確立を記録する。
func (c *Collector) IncWSConnections() {
	c.wsConnections.Inc()
}

// DecWSConnections はWebSocket接続の切断を記録する。
func (c *Collector) DecWSConnections() {
	c.wsConnections.Dec()
}

// RecordWSReplay は再接続時に再送されたイベント数を記録する。
func (c *Collector) RecordWSReplay(events int) {
	c.wsReplayEvents.Add(float64(events))
}

// RecordLedgerApply は台帳適用を理由別に記録する。
func (c *Collector) RecordLedgerApply(reason string) {
	c.ledgerApplies.WithLabelValues(reason).Inc()
}

// RecordLedgerFailure は台帳適用失敗を理由別に記録する。
func (c *Collector) RecordLedgerFailure(reason string) {
	c.ledgerFailures.WithLabelValues(reason).Inc()
}

// RecordLedgerApplyLatency は台帳適用のレイテンシを記録する。
func (c *Collector) RecordLedgerApplyLatency(duration time.Duration) {
	c.ledgerLatency.Observe(duration.Seconds())
}

// RecordSettlementOutcome は外部決済処理の結果を記録する。
func (c *Collector) RecordSettlementOutcome(outcome string) {
	c.settlements.WithLabelValues(outcome).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
