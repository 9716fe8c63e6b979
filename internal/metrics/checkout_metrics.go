package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики саги оформления заказа и компенсаций.
// Все методы безопасны для nil-получателя: оркестратор без метрик просто ничего не пишет.
type CheckoutMetrics struct {
	checkoutsStarted   prometheus.Counter
	checkoutsCompleted prometheus.Counter
	checkoutsFailed    *prometheus.CounterVec
	cancellations      prometheus.Counter

	checkoutDuration prometheus.Histogram
	stageDuration    *prometheus.HistogramVec

	// Компенсации остатков и сбои после фиксации заказа.
	stockRestores      *prometheus.CounterVec
	postCommitFailures *prometheus.CounterVec
	orderNumberRetries prometheus.Counter

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	activeCheckouts prometheus.Gauge
}

// NewCheckoutMetrics регистрирует метрики в DefaultRegisterer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer регистрирует метрики в переданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		checkoutsStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_started_total",
			Help: "Total number of checkout sagas started",
		}),
		checkoutsCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_completed_total",
			Help: "Total number of checkout sagas that persisted an order",
		}),
		checkoutsFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_failed_total",
			Help: "Total number of checkout sagas aborted before commit, by stage",
		}, []string{"stage"}),
		cancellations: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_cancellations_total",
			Help: "Total number of orders cancelled",
		}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "checkout_duration_seconds",
			Help:    "Duration of checkout sagas up to the response in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stageDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "checkout_stage_duration_seconds",
			Help:    "Duration of individual checkout stages in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"stage"}),
		stockRestores: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_stock_restores_total",
			Help: "Total number of compensating stock restores, by trigger and result",
		}, []string{"trigger", "result"}),
		postCommitFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_post_commit_failures_total",
			Help: "Total number of best-effort steps that failed after the order was persisted",
		}, []string{"step"}),
		orderNumberRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_order_number_retries_total",
			Help: "Total number of order number regenerations after a uniqueness conflict",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		activeCheckouts: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "checkout_active",
			Help: "Number of checkout sagas currently running",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordCheckoutStarted увеличивает счётчик запущенных саг и число активных.
func (m *CheckoutMetrics) RecordCheckoutStarted() {
	if m == nil {
		return
	}
	m.checkoutsStarted.Inc()
	m.activeCheckouts.Inc()
}

// RecordCheckoutFinished фиксирует длительность саги и уменьшает число активных.
func (m *CheckoutMetrics) RecordCheckoutFinished(duration time.Duration) {
	if m == nil {
		return
	}
	m.activeCheckouts.Dec()
	m.checkoutDuration.Observe(duration.Seconds())
}

func (m *CheckoutMetrics) RecordCheckoutCompleted() {
	if m == nil {
		return
	}
	m.checkoutsCompleted.Inc()
}

// RecordCheckoutFailed считает прерванную сагу по этапу отказа.
func (m *CheckoutMetrics) RecordCheckoutFailed(stage string) {
	if m == nil {
		return
	}
	m.checkoutsFailed.WithLabelValues(stage).Inc()
}

func (m *CheckoutMetrics) RecordCancellation() {
	if m == nil {
		return
	}
	m.cancellations.Inc()
}

// RecordStageDuration записывает время выполнения этапа.
func (m *CheckoutMetrics) RecordStageDuration(stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordStockRestore считает компенсацию остатков; trigger: причина, ok: результат.
func (m *CheckoutMetrics) RecordStockRestore(trigger string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.stockRestores.WithLabelValues(trigger, result).Inc()
}

// RecordPostCommitFailure считает сбой best-effort шага после сохранения заказа.
func (m *CheckoutMetrics) RecordPostCommitFailure(step string) {
	if m == nil {
		return
	}
	m.postCommitFailures.WithLabelValues(step).Inc()
}

func (m *CheckoutMetrics) RecordOrderNumberRetry() {
	if m == nil {
		return
	}
	m.orderNumberRetries.Inc()
}

func (m *CheckoutMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

func (m *CheckoutMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
