package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics はアプリケーションのメトリクスを管理する
type Metrics struct {
	// HTTPリクエストの総数（method, path, status_code）
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPリクエストのレイテンシ（method, path）
	HTTPRequestDuration *prometheus.HistogramVec
	// 仮押さえ要求の総数（result: granted, denied, error）
	SeatHoldsTotal *prometheus.CounterVec
	// 予約の状態遷移の総数（status: pending, confirmed, cancelled, expired）
	BookingsTotal *prometheus.CounterVec
	// 座席ロック操作の時間（operation: acquire/commit/release, result: ok/failed）
	SeatLockDuration *prometheus.HistogramVec
	// タイマーまたはスイープで解放された仮押さえ座席数（source: timer, sweep）
	HoldExpirationsTotal *prometheus.CounterVec
	// 保留中の予約数
	PendingBookings prometheus.Gauge
	// キュー溢れで破棄された通知数
	NotificationsDroppedTotal prometheus.Counter
}

// New は新しいMetricsインスタンスを作成し、デフォルトレジストリに登録する
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry は指定したレジストリにメトリクスを登録する
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		SeatHoldsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seat_holds_total",
				Help: "Total number of seat hold attempts",
			},
			[]string{"result"},
		),
		BookingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookings_total",
				Help: "Total number of booking state transitions",
			},
			[]string{"status"},
		),
		SeatLockDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seat_lock_duration_seconds",
				Help:    "Time spent on seat lock operations",
				Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
			},
			[]string{"operation", "result"},
		),
		HoldExpirationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hold_expirations_total",
				Help: "Total number of held seats released by expiry",
			},
			[]string{"source"},
		),
		PendingBookings: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pending_bookings",
				Help: "Current number of pending bookings",
			},
		),
		NotificationsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "notifications_dropped_total",
				Help: "Total number of notifications dropped because the queue was full",
			},
		),
	}

	// レジストリに登録
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SeatHoldsTotal,
		m.BookingsTotal,
		m.SeatLockDuration,
		m.HoldExpirationsTotal,
		m.PendingBookings,
		m.NotificationsDroppedTotal,
	)

	return m
}

// NewNop はどこにも登録しないメトリクスを返す（テストや未設定時用）
func NewNop() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// デフォルトのメトリクスインスタンス
var defaultMetrics *Metrics

// Init はデフォルトのメトリクスインスタンスを初期化する
func Init() *Metrics {
	defaultMetrics = New()
	return defaultMetrics
}

// Get はデフォルトのメトリクスインスタンスを返す
func Get() *Metrics {
	return defaultMetrics
}
