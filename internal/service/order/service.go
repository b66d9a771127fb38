package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/domain"
	"github.com/vladislavdragonenkov/mos/internal/messaging/broker"
	"github.com/vladislavdragonenkov/mos/internal/messaging/events"
	"github.com/vladislavdragonenkov/mos/internal/metrics"
	"github.com/vladislavdragonenkov/mos/internal/service/logs"
)

const (
	// ServiceName используется в ключах логов и метриках.
	ServiceName = "order"

	QueueOrderChecked   = "order.order-checked"
	QueuePieceProduced  = "order.piece-produced"
	QueueOrderDelivered = "order.order-delivered"

	defaultListLimit = 50
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

// WithSagaMetrics задаёт метрики саги.
func WithSagaMetrics(m *metrics.SagaMetrics) Option {
	return func(s *Service) {
		s.saga = m
	}
}

// WithServiceMetrics задаёт метрики обработчиков.
func WithServiceMetrics(m *metrics.ServiceMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service — координатор саги заказа. Владеет заказами и деталями,
// продвигает их по таблицам переходов в ответ на события других сервисов.
type Service struct {
	orders  domain.OrderRepository
	pieces  domain.PieceRepository
	emitter *logs.Emitter
	saga    *metrics.SagaMetrics
	metrics *metrics.ServiceMetrics
	logger  *log.Entry
	now     func() time.Time
	newID   func() string
}

// NewService создаёт сервис заказов.
func NewService(orders domain.OrderRepository, pieces domain.PieceRepository, publisher domain.EventPublisher, options ...Option) *Service {
	s := &Service{
		orders: orders,
		pieces: pieces,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "order-service")
	}
	if s.emitter == nil {
		s.emitter = logs.NewEmitter(publisher, ServiceName, s.logger)
	}
	return s
}

// Start подписывает обработчики саги. Каждая очередь обслуживается своим потребителем.
func (s *Service) Start(ctx context.Context, b broker.Broker) error {
	subscriptions := []struct {
		queue   string
		key     string
		handler broker.Handler
	}{
		{QueueOrderChecked, events.KeyOrderChecked, s.HandleOrderChecked},
		{QueuePieceProduced, events.KeyPieceProduced, s.HandlePieceProduced},
		{QueueOrderDelivered, events.KeyOrderDelivered, s.HandleOrderDelivered},
	}
	for _, sub := range subscriptions {
		err := b.Subscribe(ctx, broker.Subscription{
			Queue:    sub.queue,
			Bindings: []broker.Binding{{Exchange: broker.ExchangeEvents, Pattern: sub.key}},
		}, s.metrics.Instrument(sub.queue, s.timed(sub.key, sub.handler)))
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", sub.queue, err)
		}
	}
	return nil
}

func (s *Service) timed(step string, handler broker.Handler) broker.Handler {
	return func(ctx context.Context, msg broker.Message) error {
		started := s.now()
		defer func() { s.saga.RecordStepDuration(step, s.now().Sub(started)) }()
		return handler(ctx, msg)
	}
}

// CreateOrder сохраняет заказ клиента в PAYMENT_PENDING вместе с запросом оплаты в outbox.
// Запрос уходит в брокер воркером outbox, поэтому недоступность брокера не мешает приёму заказа.
func (s *Service) CreateOrder(ctx context.Context, principal domain.Principal, numberOfPieces int, movement int64) (domain.Order, error) {
	now := s.now().UTC()
	order := domain.NewOrder(s.newID(), principal.UserID, numberOfPieces, movement, now)
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}
	if err := order.TransitionTo(domain.OrderStatusPaymentPending, now); err != nil {
		return domain.Order{}, err
	}

	pending, err := events.Outbox(order.ID, broker.ExchangeEvents, events.KeyOrderCreatedPending,
		events.OrderCreatedPending{OrderID: order.ID, ClientID: order.ClientID, Movement: order.Movement})
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.orders.Create(order, pending); err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}
	s.saga.RecordOrderCreated()

	s.emitter.Info(ctx, "order created", log.Fields{
		"order_id":  order.ID,
		"client_id": order.ClientID,
		"pieces":    order.NumberOfPieces,
		"movement":  order.Movement,
	})
	return order, nil
}

// GetOrder возвращает заказ владельцу или администратору.
func (s *Service) GetOrder(principal domain.Principal, orderID string) (domain.Order, error) {
	order, err := s.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !principal.CanAccess(order.ClientID) {
		return domain.Order{}, domain.ErrForbidden
	}
	return order, nil
}

// ListPieces возвращает детали заказа владельцу или администратору.
func (s *Service) ListPieces(principal domain.Principal, orderID string) ([]domain.Piece, error) {
	if _, err := s.GetOrder(principal, orderID); err != nil {
		return nil, err
	}
	return s.pieces.ListByOrder(orderID)
}

// ListOrders возвращает последние заказы клиента.
func (s *Service) ListOrders(principal domain.Principal, clientID string, limit int) ([]domain.Order, error) {
	if clientID == "" {
		clientID = principal.UserID
	}
	if !principal.CanAccess(clientID) {
		return nil, domain.ErrForbidden
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.orders.ListByClient(clientID, limit)
}
