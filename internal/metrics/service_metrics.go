package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/mos/internal/messaging/broker"
)

// ServiceMetrics содержит общие метрики обработчиков сообщений одного сервиса.
type ServiceMetrics struct {
	service         string
	messages        *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	sinkErrors      *prometheus.CounterVec
}

// NewServiceMetrics создаёт метрики сервиса в глобальном реестре.
func NewServiceMetrics(service string) *ServiceMetrics {
	return NewServiceMetricsWithRegisterer(service, prometheus.DefaultRegisterer)
}

// NewServiceMetricsWithRegisterer создаёт метрики сервиса в указанном реестре.
func NewServiceMetricsWithRegisterer(service string, registerer prometheus.Registerer) *ServiceMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &ServiceMetrics{
		service: service,
		messages: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mos_service_messages_total",
			Help: "Messages handled by a service grouped by queue and result",
		}, []string{"service", "queue", "result"})),
		handlerDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mos_service_handler_duration_seconds",
			Help:    "Duration of message handlers in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"service", "queue"})),
		sinkErrors: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mos_log_sink_errors_total",
			Help: "Log events that could not be persisted",
		}, []string{"service"})),
	}
}

// RecordMessage учитывает обработанное сообщение.
func (m *ServiceMetrics) RecordMessage(queue, result string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(m.service, queue, result).Inc()
}

// ObserveHandler записывает длительность обработчика.
func (m *ServiceMetrics) ObserveHandler(queue string, duration time.Duration) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(m.service, queue).Observe(duration.Seconds())
}

// RecordSinkError учитывает ошибку записи лога.
func (m *ServiceMetrics) RecordSinkError() {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(m.service).Inc()
}

// Instrument оборачивает обработчик очереди: считает результат и длительность.
func (m *ServiceMetrics) Instrument(queue string, handler broker.Handler) broker.Handler {
	return func(ctx context.Context, msg broker.Message) error {
		started := time.Now()
		err := handler(ctx, msg)
		m.ObserveHandler(queue, time.Since(started))
		if err != nil {
			m.RecordMessage(queue, "error")
			return err
		}
		m.RecordMessage(queue, "ok")
		return nil
	}
}
