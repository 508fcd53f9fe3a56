// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// サインイン結果ラベル
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 監査ロガーやミドルウェアから利用する。
type MetricsCollector interface {
	RecordSignIn(provider, outcome string)
	RecordSignOut()
	RecordTokenTransition(transition string)
	RecordGateDecision(action string)
	RecordHTTPStatus(statusCode int)
	RecordAuthLatency(operation string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signIn           *prometheus.CounterVec
	signOut          prometheus.Counter
	tokenTransitions *prometheus.CounterVec
	gateDecisions    *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
	authLatency      *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authbase_signin_total",
			Help: "プロバイダー・結果別のサインイン試行数",
		}, []string{"provider", "outcome"}),
		signOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authbase_signout_total",
			Help: "サインアウトの合計数",
		}),
		tokenTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authbase_token_transitions_total",
			Help: "トークン状態遷移の種類別の合計数",
		}, []string{"transition"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authbase_gate_decisions_total",
			Help: "ゲートキーパー判定の種類別の合計数",
		}, []string{"action"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authbase_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		authLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authbase_auth_duration_seconds",
			Help:    "認証操作の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(
		c.signIn,
		c.signOut,
		c.tokenTransitions,
		c.gateDecisions,
		c.httpStatus,
		c.authLatency,
	)

	return c
}

// RecordSignIn はサインイン試行を記録する。
func (c *Collector) RecordSignIn(provider, outcome string) {
	c.signIn.WithLabelValues(provider, outcome).Inc()
}

// RecordSignOut はサインアウトを記録する。
func (c *Collector) RecordSignOut() {
	c.signOut.Inc()
}

// RecordTokenTransition はトークンの状態遷移を記録する。
func (c *Collector) RecordTokenTransition(transition string) {
	c.tokenTransitions.WithLabelValues(transition).Inc()
}

// RecordGateDecision はゲートキーパーの判定を記録する。
func (c *Collector) RecordGateDecision(action string) {
	c.gateDecisions.WithLabelValues(action).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordAuthLatency は認証操作の所要時間を記録する。
func (c *Collector) RecordAuthLatency(operation string, duration time.Duration) {
	c.authLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
