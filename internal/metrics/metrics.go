// Package metrics はPrometheusメトリクスの収集と公開を提供する。
// ラベルにはプロバイダーIDや結果分類のみを使い、資格情報やユーザー入力は含めない。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomeSkipped = "skipped"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 集計器・コネクター・ハンドラーから利用する。
type MetricsCollector interface {
	RecordProviderFetch(provider, outcome string, duration time.Duration)
	RecordOAuthCallback(connector, outcome string)
	RecordKeyValidation(outcome string)
	RecordNarrativeRelay(outcome string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	providerFetch   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	oauthCallback   *prometheus.CounterVec
	keyValidation   *prometheus.CounterVec
	narrativeRelay  *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		providerFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mbr_provider_fetch_total",
			Help: "プロバイダー別・結果別のデータ取得数",
		}, []string{"provider", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mbr_provider_fetch_latency_seconds",
			Help:    "プロバイダー別のデータ取得レイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		oauthCallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mbr_oauth_callback_total",
			Help: "コネクター別・結果別のOAuthコールバック数",
		}, []string{"connector", "outcome"}),
		keyValidation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mbr_key_validation_total",
			Help: "結果別のAPIキー検証数",
		}, []string{"outcome"}),
		narrativeRelay: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mbr_narrative_relay_total",
			Help: "結果別のナラティブ中継数",
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mbr_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.providerFetch,
		c.providerLatency,
		c.oauthCallback,
		c.keyValidation,
		c.narrativeRelay,
		c.httpStatus,
	)

	return c
}

// RecordProviderFetch はプロバイダーのデータ取得結果とレイテンシを記録する。
func (c *Collector) RecordProviderFetch(provider, outcome string, duration time.Duration) {
	c.providerFetch.WithLabelValues(provider, outcome).Inc()
	c.providerLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordOAuthCallback はOAuthコールバックの結果を記録する。
func (c *Collector) RecordOAuthCallback(connector, outcome string) {
	c.oauthCallback.WithLabelValues(connector, outcome).Inc()
}

// RecordKeyValidation はAPIキー検証の結果を記録する。
func (c *Collector) RecordKeyValidation(outcome string) {
	c.keyValidation.WithLabelValues(outcome).Inc()
}

// RecordNarrativeRelay はナラティブ中継の結果を記録する。
func (c *Collector) RecordNarrativeRelay(outcome string) {
	c.narrativeRelay.WithLabelValues(outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
