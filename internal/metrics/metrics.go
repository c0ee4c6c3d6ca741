// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ストア・リアルタイムハブ・認証クライアント・リンク確認から利用する。
type MetricsCollector interface {
	RecordReload(result string, duration time.Duration)
	RecordMutation(table, op, result string)
	RecordChangeEvent(table, op string)
	SetActiveSubscriptions(n int)
	RecordAuthEvent(event string)
	RecordLinkProbe(statusCode int, duration time.Duration)
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	reloads       *prometheus.CounterVec
	reloadLatency prometheus.Histogram
	mutations     *prometheus.CounterVec
	changeEvents  *prometheus.CounterVec
	subscriptions prometheus.Gauge
	authEvents    *prometheus.CounterVec
	probeStatus   *prometheus.CounterVec
	probeLatency  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetdesk_reload_total",
			Help: "コレクション再読み込みの結果別件数",
		}, []string{"result"}),
		reloadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleetdesk_reload_duration_seconds",
			Help:    "4コレクションの再読み込みにかかった時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetdesk_mutation_total",
			Help: "更新操作のテーブル・操作・結果別件数",
		}, []string{"table", "op", "result"}),
		changeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetdesk_change_events_total",
			Help: "受信した変更通知のテーブル・操作別件数",
		}, []string{"table", "op"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetdesk_active_subscriptions",
			Help: "有効な変更購読の数",
		}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetdesk_auth_events_total",
			Help: "認証状態変更イベントの種類別件数",
		}, []string{"event"}),
		probeStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetdesk_link_probe_status_total",
			Help: "リンク確認のHTTPステータスコード別件数",
		}, []string{"status_code"}),
		probeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleetdesk_link_probe_latency_seconds",
			Help:    "リンク確認のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.reloads,
		c.reloadLatency,
		c.mutations,
		c.changeEvents,
		c.subscriptions,
		c.authEvents,
		c.probeStatus,
		c.probeLatency,
	)

	return c
}

// RecordReload は再読み込みの結果を記録する。staleな結果はレイテンシに含めない。
func (c *Collector) RecordReload(result string, duration time.Duration) {
	c.reloads.WithLabelValues(result).Inc()
	if result != "stale" {
		c.reloadLatency.Observe(duration.Seconds())
	}
}

// RecordMutation は更新操作の結果を記録する。
func (c *Collector) RecordMutation(table, op, result string) {
	c.mutations.WithLabelValues(table, op, result).Inc()
}

// RecordChangeEvent は変更通知の受信を記録する。
func (c *Collector) RecordChangeEvent(table, op string) {
	c.changeEvents.WithLabelValues(table, op).Inc()
}

// SetActiveSubscriptions は有効な購読数を設定する。
func (c *Collector) SetActiveSubscriptions(n int) {
	c.subscriptions.Set(float64(n))
}

// RecordAuthEvent は認証状態変更イベントを記録する。
func (c *Collector) RecordAuthEvent(event string) {
	c.authEvents.WithLabelValues(event).Inc()
}

// RecordLinkProbe はリンク確認のステータスとレイテンシを記録する。
func (c *Collector) RecordLinkProbe(statusCode int, duration time.Duration) {
	c.probeStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	c.probeLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NewRegistry はGoランタイムとプロセスのメトリクスを登録済みのレジストリを返す。
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
