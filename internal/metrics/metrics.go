// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "paddock"

// Collector はPrometheusメトリクスを収集する実装。
// auth.Recorder を実装し、認証フローの結果を記録する。
type Collector struct {
	logins           *prometheus.CounterVec
	signupsStarted   *prometheus.CounterVec
	signupsCompleted prometheus.Counter
	callbackFailures *prometheus.CounterVec
	sessionRenewals  prometheus.Counter
	cleanupDeleted   *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_logins_total",
			Help:      "既存ユーザーのログイン数",
		}, []string{"provider"}),
		signupsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_signups_started_total",
			Help:      "登録待ちの作成数",
		}, []string{"provider"}),
		signupsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_signups_completed_total",
			Help:      "ユーザー登録の完了数",
		}),
		callbackFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_callback_failures_total",
			Help:      "理由別のOAuthコールバック失敗数",
		}, []string{"reason"}),
		sessionRenewals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_renewals_total",
			Help:      "セッションIDの更新数",
		}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_deleted_total",
			Help:      "クリーンアップで削除された期限切れレコード数",
		}, []string{"table"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_responses_total",
			Help:      "ルートとステータスコード別のレスポンス数",
		}, []string{"route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "ルート別のリクエスト処理時間（秒）",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		c.logins,
		c.signupsStarted,
		c.signupsCompleted,
		c.callbackFailures,
		c.sessionRenewals,
		c.cleanupDeleted,
		c.httpStatus,
		c.httpLatency,
	)

	return c
}

// RecordLogin は既存ユーザーのログインを記録する。
func (c *Collector) RecordLogin(provider string) {
	c.logins.WithLabelValues(provider).Inc()
}

// RecordSignupStarted は登録待ちの作成を記録する。
func (c *Collector) RecordSignupStarted(provider string) {
	c.signupsStarted.WithLabelValues(provider).Inc()
}

// RecordSignupCompleted はユーザー登録の完了を記録する。
func (c *Collector) RecordSignupCompleted() {
	c.signupsCompleted.Inc()
}

// RecordCallbackFailure はOAuthコールバックの失敗を理由別に記録する。
func (c *Collector) RecordCallbackFailure(reason string) {
	c.callbackFailures.WithLabelValues(reason).Inc()
}

// RecordSessionRenewed はセッションの更新を記録する。
func (c *Collector) RecordSessionRenewed() {
	c.sessionRenewals.Inc()
}

// RecordCleanup はクリーンアップで削除したレコード数を記録する。
func (c *Collector) RecordCleanup(table string, deleted int64) {
	c.cleanupDeleted.WithLabelValues(table).Add(float64(deleted))
}

// RecordHTTPStatus はルートとHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(route string, statusCode int) {
	c.httpStatus.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
}

// Middleware はルートごとのステータスコードと処理時間を記録するミドルウェアを返す。
// ラベルにはchiのルートパターンを使い、パスパラメータによるラベルの増加を防ぐ。
func (c *Collector) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			c.RecordHTTPStatus(route, sw.status)
			c.httpLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
