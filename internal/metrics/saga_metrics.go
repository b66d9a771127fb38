package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics содержит метрики саги заказа.
type SagaMetrics struct {
	// Счётчики исходов
	ordersCreated    prometheus.Counter
	paymentsApproved prometheus.Counter
	paymentsDeclined prometheus.Counter
	ordersFinished   prometheus.Counter
	ordersDelivered  prometheus.Counter

	// Время от создания заказа до доставки и длительность шагов
	sagaDuration prometheus.Histogram
	stepDuration *prometheus.HistogramVec

	// Заказы, ещё не достигшие терминального статуса
	activeOrders prometheus.Gauge
}

// NewSagaMetrics создаёт метрики саги в глобальном реестре.
func NewSagaMetrics() *SagaMetrics {
	return NewSagaMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSagaMetricsWithRegisterer создаёт метрики саги в указанном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewSagaMetricsWithRegisterer(registerer prometheus.Registerer) *SagaMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SagaMetrics{
		ordersCreated: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mos_orders_created_total",
			Help: "Total number of manufacturing orders created",
		})),
		paymentsApproved: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mos_order_payments_approved_total",
			Help: "Total number of orders whose payment was approved",
		})),
		paymentsDeclined: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mos_order_payments_declined_total",
			Help: "Total number of orders canceled because payment was declined",
		})),
		ordersFinished: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mos_orders_finished_total",
			Help: "Total number of orders with all pieces produced",
		})),
		ordersDelivered: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mos_orders_delivered_total",
			Help: "Total number of delivered orders",
		})),
		sagaDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mos_order_saga_duration_seconds",
			Help:    "Time from order creation to delivery in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		})),
		stepDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mos_order_step_duration_seconds",
			Help:    "Duration of individual order saga handlers in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"})),
		activeOrders: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mos_active_orders",
			Help: "Number of orders that have not reached a terminal status",
		})),
	}
}

// register регистрирует коллектор или возвращает уже зарегистрированный с тем же описанием.
func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик заказов и число активных.
func (m *SagaMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
	m.activeOrders.Inc()
}

// RecordPaymentApproved увеличивает счётчик одобренных оплат.
func (m *SagaMetrics) RecordPaymentApproved() {
	if m == nil {
		return
	}
	m.paymentsApproved.Inc()
}

// RecordPaymentDeclined учитывает отказ в оплате; заказ при этом становится терминальным.
func (m *SagaMetrics) RecordPaymentDeclined() {
	if m == nil {
		return
	}
	m.paymentsDeclined.Inc()
	m.activeOrders.Dec()
}

// RecordOrderFinished увеличивает счётчик заказов с произведёнными деталями.
func (m *SagaMetrics) RecordOrderFinished() {
	if m == nil {
		return
	}
	m.ordersFinished.Inc()
}

// RecordOrderDelivered учитывает доставку и полное время саги.
func (m *SagaMetrics) RecordOrderDelivered(sinceCreated time.Duration) {
	if m == nil {
		return
	}
	m.ordersDelivered.Inc()
	m.activeOrders.Dec()
	m.sagaDuration.Observe(sinceCreated.Seconds())
}

// RecordStepDuration записывает время выполнения обработчика саги.
func (m *SagaMetrics) RecordStepDuration(step string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}
