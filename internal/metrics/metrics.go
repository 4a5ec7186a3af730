// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアやサービス層から利用する。
type MetricsCollector interface {
	RecordAuthSuccess()
	RecordAuthFailure(reason string)
	RecordWebhookEvent(eventType, outcome string)
	RecordJWKSFetch(success bool)
	RecordHTTPStatus(statusCode int)
	RecordVerifyLatency(duration time.Duration)
	RecordPurgedUsers(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authSuccess   prometheus.Counter
	authFail      *prometheus.CounterVec
	webhookEvents *prometheus.CounterVec
	jwksFetch     *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
	verifyLatency prometheus.Histogram
	purgedUsers   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clerksync_auth_success_total",
			Help: "認証成功の合計数",
		}),
		authFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clerksync_auth_fail_total",
			Help: "認証失敗の理由別合計数",
		}, []string{"reason"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clerksync_webhook_events_total",
			Help: "Webhookイベントの種別・結果別合計数",
		}, []string{"type", "outcome"}),
		jwksFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clerksync_jwks_fetch_total",
			Help: "JWKSフェッチの結果別合計数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clerksync_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		verifyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clerksync_verify_latency_seconds",
			Help:    "トークン検証のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		purgedUsers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clerksync_purged_users_total",
			Help: "保持期間超過で物理削除されたユーザーの合計数",
		}),
	}

	reg.MustRegister(
		c.authSuccess,
		c.authFail,
		c.webhookEvents,
		c.jwksFetch,
		c.httpStatus,
		c.verifyLatency,
		c.purgedUsers,
	)

	return c
}

// RecordAuthSuccess は認証成功を記録する。
func (c *Collector) RecordAuthSuccess() {
	c.authSuccess.Inc()
}

// RecordAuthFailure は認証失敗を理由付きで記録する。
func (c *Collector) RecordAuthFailure(reason string) {
	c.authFail.WithLabelValues(reason).Inc()
}

// RecordWebhookEvent はWebhookイベントの処理結果を記録する。
func (c *Collector) RecordWebhookEvent(eventType, outcome string) {
	c.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// RecordJWKSFetch はJWKSフェッチの結果を記録する。
func (c *Collector) RecordJWKSFetch(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.jwksFetch.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordVerifyLatency はトークン検証のレイテンシを記録する。
func (c *Collector) RecordVerifyLatency(duration time.Duration) {
	c.verifyLatency.Observe(duration.Seconds())
}

// RecordPurgedUsers は物理削除されたユーザー数を記録する。
func (c *Collector) RecordPurgedUsers(count int64) {
	c.purgedUsers.Add(float64(count))
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
