package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	httpDurationHistogram   *prometheus.HistogramVec
	httpInFlightGauge       *prometheus.GaugeVec
	idempotencyCounter      *prometheus.CounterVec
	workerRunCounter        *prometheus.CounterVec
	callbackCounter         *prometheus.CounterVec
	signatureFailureCounter *prometheus.CounterVec
	settlementCounter       *prometheus.CounterVec
	discrepancyCounter      *prometheus.CounterVec
	providerCallCounter     *prometheus.CounterVec
	notificationCounter     *prometheus.CounterVec
	deadLetterCounter       prometheus.Counter
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		httpInFlightGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Requests currently being served, by API surface",
		}, []string{"surface"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		callbackCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_callbacks_total",
			Help: "Inbound provider callbacks by outcome",
		}, []string{"channel", "outcome"})

		signatureFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_callback_signature_failures_total",
			Help: "Provider callbacks whose signature did not verify",
		}, []string{"channel"})

		settlementCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_settlements_total",
			Help: "Orders moved to a terminal status",
		}, []string{"type", "status"})

		discrepancyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payin_amount_discrepancies_total",
			Help: "Payins settled for an amount different from the requested one",
		}, []string{"channel"})

		providerCallCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Outbound provider requests by result",
		}, []string{"channel", "operation", "result"})

		notificationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "merchant_notifications_total",
			Help: "Merchant notification delivery attempts by result",
		}, []string{"result"})

		deadLetterCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "merchant_notifications_dead_total",
			Help: "Notification jobs that exhausted every attempt",
		})

		prometheus.MustRegister(
			httpDurationHistogram,
			httpInFlightGauge,
			idempotencyCounter,
			workerRunCounter,
			callbackCounter,
			signatureFailureCounter,
			settlementCounter,
			discrepancyCounter,
			providerCallCounter,
			notificationCounter,
			deadLetterCounter,
		)
	})
}

// TrackInFlight counts a request against surface until the returned func runs.
func TrackInFlight(surface string) func() {
	if httpInFlightGauge == nil {
		return func() {}
	}
	g := httpInFlightGauge.WithLabelValues(surface)
	g.Inc()
	return g.Dec
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func IncrementCallback(channel, outcome string) {
	if callbackCounter == nil {
		return
	}
	callbackCounter.WithLabelValues(channel, outcome).Inc()
}

func IncrementSignatureFailure(channel string) {
	if signatureFailureCounter == nil {
		return
	}
	signatureFailureCounter.WithLabelValues(channel).Inc()
}

func IncrementSettlement(orderType, status string) {
	if settlementCounter == nil {
		return
	}
	settlementCounter.WithLabelValues(orderType, status).Inc()
}

func IncrementDiscrepancy(channel string) {
	if discrepancyCounter == nil {
		return
	}
	discrepancyCounter.WithLabelValues(channel).Inc()
}

func IncrementProviderCall(channel, operation string, ok bool) {
	if providerCallCounter == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	providerCallCounter.WithLabelValues(channel, operation, result).Inc()
}

func IncrementNotification(result string) {
	if notificationCounter == nil {
		return
	}
	notificationCounter.WithLabelValues(result).Inc()
}

func IncrementDeadLetter() {
	if deadLetterCounter == nil {
		return
	}
	deadLetterCounter.Inc()
}
