package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/domain"
	"github.com/vladislavdragonenkov/mos/internal/messaging/broker"
	"github.com/vladislavdragonenkov/mos/internal/messaging/events"
	"github.com/vladislavdragonenkov/mos/internal/metrics"
	"github.com/vladislavdragonenkov/mos/internal/service/logs"
	"github.com/vladislavdragonenkov/mos/internal/worker"
)

const (
	// ServiceName используется в ключах логов и метриках.
	ServiceName = "delivery"

	QueueOrderCreated  = "delivery.order-created"
	QueueOrderProduced = "delivery.order-produced"

	// Время между передачей курьеру и доставкой.
	DefaultDispatchDelay = time.Second

	maxSaveAttempts = 5
	baseSaveDelay   = 5 * time.Millisecond
)

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithEmitter задаёт публикатор логов в брокер.
func WithEmitter(emitter *logs.Emitter) Option {
	return func(s *Service) {
		s.emitter = emitter
	}
}

// WithMetrics задаёт метрики обработчиков.
func WithMetrics(m *metrics.ServiceMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithDispatchDelay задаёт задержку между IN_PROCESS и доставкой.
func WithDispatchDelay(delay time.Duration) Option {
	return func(s *Service) {
		s.delay = delay
	}
}

// Service владеет доставками и адресами клиентов.
type Service struct {
	deliveries domain.DeliveryRepository
	addresses  domain.AddressRepository
	pool       *worker.Pool
	emitter    *logs.Emitter
	metrics    *metrics.ServiceMetrics
	logger     *log.Entry
	delay      time.Duration
	now        func() time.Time
	newID      func() string
}

// NewService создаёт сервис доставки. Отложенные переходы выполняются на pool.
func NewService(
	deliveries domain.DeliveryRepository,
	addresses domain.AddressRepository,
	pool *worker.Pool,
	publisher domain.EventPublisher,
	options ...Option,
) *Service {
	s := &Service{
		deliveries: deliveries,
		addresses:  addresses,
		pool:       pool,
		delay:      DefaultDispatchDelay,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "delivery-service")
	}
	if s.emitter == nil {
		s.emitter = logs.NewEmitter(publisher, ServiceName, s.logger)
	}
	return s
}

// Start подписывает сервис на оплаченные и произведённые заказы.
func (s *Service) Start(ctx context.Context, b broker.Broker) error {
	err := b.Subscribe(ctx, broker.Subscription{
		Queue:    QueueOrderCreated,
		Bindings: []broker.Binding{{Exchange: broker.ExchangeEvents, Pattern: events.KeyOrderCreated}},
	}, s.metrics.Instrument(QueueOrderCreated, s.HandleOrderCreated))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", QueueOrderCreated, err)
	}

	err = b.Subscribe(ctx, broker.Subscription{
		Queue:    QueueOrderProduced,
		Bindings: []broker.Binding{{Exchange: broker.ExchangeEvents, Pattern: events.KeyOrderProduced}},
	}, s.metrics.Instrument(QueueOrderProduced, s.HandleOrderProduced))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", QueueOrderProduced, err)
	}
	return nil
}

// mutation изменяет свежую копию доставки. При changed=false сохранять нечего.
type mutation func(d *domain.Delivery) (changed bool, err error)

// outboxFor строит события, которые сохраняются вместе с изменённой доставкой.
type outboxFor func(d domain.Delivery) ([]domain.OutboxMessage, error)

// updateDelivery применяет mutate к свежей копии с повтором при конфликте версий.
// События от emit попадают в outbox той же операцией Save.
func (s *Service) updateDelivery(orderID string, mutate mutation, emit outboxFor) (domain.Delivery, bool, error) {
	var lastErr error
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		current, err := s.deliveries.GetByOrder(orderID)
		if err != nil {
			return domain.Delivery{}, false, err
		}
		changed, err := mutate(&current)
		if err != nil || !changed {
			return current, false, err
		}

		var outbox []domain.OutboxMessage
		if emit != nil {
			if outbox, err = emit(current); err != nil {
				return current, false, err
			}
		}

		err = s.deliveries.Save(current, outbox...)
		if err == nil {
			current.Version++
			return current, true, nil
		}
		if !domain.IsVersionConflict(err) {
			return current, false, err
		}
		lastErr = err
		s.logger.WithFields(log.Fields{"order_id": orderID, "attempt": attempt + 1}).Warn("delivery version conflict, retrying")
		time.Sleep(baseSaveDelay * time.Duration(1<<uint(attempt)))
	}
	return domain.Delivery{}, false, lastErr
}

// statusEvents возвращает событие итогового статуса доставки для outbox.
func statusEvents(d domain.Delivery) ([]domain.OutboxMessage, error) {
	var key string
	switch d.Status {
	case domain.DeliveryStatusDelivered:
		key = events.KeyOrderDelivered
	case domain.DeliveryStatusCompleted:
		key = events.KeyOrderCompleted
	default:
		return nil, nil
	}
	msg, err := events.Outbox(d.OrderID, broker.ExchangeEvents, key, events.OrderRef{OrderID: d.OrderID})
	if err != nil {
		return nil, err
	}
	return []domain.OutboxMessage{msg}, nil
}

// announce пишет в лог агрегатора итоговый статус доставки.
func (s *Service) announce(ctx context.Context, d domain.Delivery) {
	fields := log.Fields{"order_id": d.OrderID, "status": d.Status}
	switch d.Status {
	case domain.DeliveryStatusDelivered:
		s.emitter.Info(ctx, "order delivered", fields)
	case domain.DeliveryStatusCompleted:
		s.emitter.Warn(ctx, "order completed, waiting for address", fields)
	}
}
