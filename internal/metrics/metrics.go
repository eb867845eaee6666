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
// サービス層およびミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin(result string)
	RecordMFAVerify(context, result string)
	RecordSessionRevoked()
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginTotal      *prometheus.CounterVec
	mfaVerifyTotal  *prometheus.CounterVec
	sessionsRevoked prometheus.Counter
	httpStatus      *prometheus.CounterVec
	requestLatency  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_login_total",
			Help: "パスワードログイン試行の結果別合計数",
		}, []string{"result"}),
		mfaVerifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_mfa_verify_total",
			Help: "MFAコード検証の文脈・結果別合計数",
		}, []string{"context", "result"}),
		sessionsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_sessions_revoked_total",
			Help: "ログアウトにより失効したセッションの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authgate_request_latency_seconds",
			Help:    "HTTPリクエスト処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.loginTotal,
		c.mfaVerifyTotal,
		c.sessionsRevoked,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordLogin はパスワードログインの結果（success, failure, mfa_required）を記録する。
func (c *Collector) RecordLogin(result string) {
	c.loginTotal.WithLabelValues(result).Inc()
}

// RecordMFAVerify はMFAコード検証の結果を記録する。
// contextは検証の文脈（setup, login）、resultはsuccessまたはfailure。
func (c *Collector) RecordMFAVerify(context, result string) {
	c.mfaVerifyTotal.WithLabelValues(context, result).Inc()
}

// RecordSessionRevoked はセッション失効を記録する。
func (c *Collector) RecordSessionRevoked() {
	c.sessionsRevoked.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理のレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// ルーターが/metricsパスに直接マウントする。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
