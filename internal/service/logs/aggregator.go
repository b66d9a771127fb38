package logs

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/domain"
	"github.com/vladislavdragonenkov/mos/internal/messaging/broker"
	"github.com/vladislavdragonenkov/mos/internal/messaging/events"
	"github.com/vladislavdragonenkov/mos/internal/metrics"
)

// QueueName — очередь агрегатора.
const QueueName = "logs"

// Subscription возвращает привязки агрегатора: все логи доменного exchange и все команды.
func Subscription() broker.Subscription {
	return broker.Subscription{
		Queue: QueueName,
		Bindings: []broker.Binding{
			{Exchange: broker.ExchangeEvents, Pattern: events.PatternLogs},
			{Exchange: broker.ExchangeCommands, Pattern: events.PatternAllCommands},
		},
	}
}

// Aggregator сохраняет каждое полученное сообщение как LogEvent.
type Aggregator struct {
	sink    domain.LogSink
	logger  *log.Entry
	metrics *metrics.ServiceMetrics
	now     func() time.Time
}

// NewAggregator создаёт агрегатор поверх sink.
func NewAggregator(sink domain.LogSink, m *metrics.ServiceMetrics, logger *log.Entry) *Aggregator {
	if logger == nil {
		logger = log.WithField("component", "log-aggregator")
	}
	return &Aggregator{sink: sink, logger: logger, metrics: m, now: time.Now}
}

// Handle сохраняет сообщение. Ошибка хранилища только логируется:
// сообщение подтверждается, потерянная запись лога не блокирует систему.
func (a *Aggregator) Handle(ctx context.Context, msg broker.Message) error {
	level, service := domain.ParseLogRoutingKey(msg.RoutingKey)
	if msg.Exchange == broker.ExchangeCommands {
		level, service = "info", "commands"
	}

	event := domain.LogEvent{
		ID:         uuid.NewString(),
		Exchange:   msg.Exchange,
		RoutingKey: msg.RoutingKey,
		Level:      level,
		Service:    service,
		Payload:    append([]byte(nil), msg.Body...),
		Timestamp:  a.now().UTC(),
	}

	if err := a.sink.Append(ctx, event); err != nil {
		a.logger.WithError(err).WithFields(log.Fields{
			"exchange":    msg.Exchange,
			"routing_key": msg.RoutingKey,
		}).Warn("failed to persist log event")
		a.metrics.RecordSinkError()
		return nil
	}
	a.metrics.RecordMessage(QueueName, "stored")
	return nil
}

// Start подписывает агрегатор на брокер.
func (a *Aggregator) Start(ctx context.Context, b broker.Broker) error {
	return b.Subscribe(ctx, Subscription(), a.Handle)
}
