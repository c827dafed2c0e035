package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики шлюзового слоя
// ============================================================
//
// Использование:
// - Grafana дашборд состояния сессии и темпа запросов
// - Алерты на cooldown и серии неудачных подключений

// ConnectAttempts - попытки подключения по результату
var ConnectAttempts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "portsync",
		Subsystem: "gateway",
		Name:      "connect_attempts_total",
		Help:      "Gateway connection attempts by outcome",
	},
	[]string{"outcome"}, // success, timeout, dial_error, handshake_error, client_id_in_use
)

// ConnectedGauge - есть ли активная сессия (0/1)
var ConnectedGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "portsync",
		Subsystem: "gateway",
		Name:      "connected",
		Help:      "Whether a gateway session is currently established",
	},
)

// FramesReceived - входящие кадры по типу
var FramesReceived = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "portsync",
		Subsystem: "gateway",
		Name:      "frames_received_total",
		Help:      "Incoming gateway frames by type",
	},
	[]string{"type"},
)

// RequestsTotal - request/response обмены по каналу и результату
var RequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "portsync",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Single-shot gateway requests by channel and outcome",
	},
	[]string{"channel", "outcome"}, // ok, timeout, error, send_error
)

// RequestDuration - длительность обмена по каналу
//
// Buckets под медленный справочный канал шлюза: от сотен миллисекунд
// до таймаута запроса.
var RequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "portsync",
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Gateway request round-trip duration in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30},
	},
	[]string{"channel"},
)

// PendingRequests - запросы, ожидающие терминального события
var PendingRequests = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "portsync",
		Subsystem: "gateway",
		Name:      "pending_requests",
		Help:      "Requests awaiting a terminating event",
	},
)

// ActiveSubscriptions - активна ли потоковая подписка на счёт (0/1)
var ActiveSubscriptions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "portsync",
		Subsystem: "gateway",
		Name:      "active_subscriptions",
		Help:      "Whether the account stream subscription is active",
	},
)

// CooldownTriggered - срабатывания глобального cooldown по коду ошибки
var CooldownTriggered = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "portsync",
		Subsystem: "gateway",
		Name:      "cooldown_triggered_total",
		Help:      "Rate limit cooldowns triggered by gateway error code",
	},
	[]string{"code"},
)
