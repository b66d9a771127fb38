package payment

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/domain"
	"github.com/vladislavdragonenkov/mos/internal/messaging/broker"
	"github.com/vladislavdragonenkov/mos/internal/messaging/events"
	"github.com/vladislavdragonenkov/mos/internal/metrics"
	"github.com/vladislavdragonenkov/mos/internal/service/logs"
)

const (
	// ServiceName используется в ключах логов и метриках.
	ServiceName = "payment"
	// Очередь запросов на списание.
	QueueOrderPending = "payment.order-pending"
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

// Service владеет балансами клиентов и отвечает на запросы оплаты заказов.
type Service struct {
	balances  domain.BalanceRepository
	publisher domain.EventPublisher
	emitter   *logs.Emitter
	metrics   *metrics.ServiceMetrics
	logger    *log.Entry
}

// NewService создаёт платёжный сервис.
func NewService(balances domain.BalanceRepository, publisher domain.EventPublisher, options ...Option) *Service {
	s := &Service{
		balances:  balances,
		publisher: publisher,
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "payment-service")
	}
	if s.emitter == nil {
		s.emitter = logs.NewEmitter(publisher, ServiceName, s.logger)
	}
	return s
}

// Start подписывает сервис на запросы оплаты.
func (s *Service) Start(ctx context.Context, b broker.Broker) error {
	return b.Subscribe(ctx, broker.Subscription{
		Queue:    QueueOrderPending,
		Bindings: []broker.Binding{{Exchange: broker.ExchangeEvents, Pattern: events.KeyOrderCreatedPending}},
	}, s.metrics.Instrument(QueueOrderPending, s.HandleOrderPending))
}

// HandleOrderPending списывает movement и публикует events.order.checked.
// Отказ в оплате является нормальным исходом саги, а не ошибка обработки.
// Повторная доставка не списывает второй раз: публикуется сохранённый результат.
func (s *Service) HandleOrderPending(ctx context.Context, msg broker.Message) error {
	var req events.OrderCreatedPending
	if err := events.Decode(msg.Body, &req); err != nil {
		s.emitter.Error(ctx, "rejected malformed payment request", log.Fields{"error": err.Error()})
		return err
	}

	payment, duplicate, err := s.balances.Charge(req.OrderID, req.ClientID, req.Movement)
	if err != nil {
		return fmt.Errorf("charge order %s: %w", req.OrderID, err)
	}

	fields := log.Fields{
		"order_id":  req.OrderID,
		"client_id": req.ClientID,
		"movement":  req.Movement,
		"duplicate": duplicate,
	}
	if payment.Approved() {
		s.emitter.Info(ctx, "payment approved", fields)
	} else {
		fields["reason"] = payment.Reason
		s.emitter.Warn(ctx, "payment declined", fields)
	}

	checked := events.NewOrderChecked(req.OrderID, req.ClientID, payment.Approved())
	if err := s.publisher.Publish(ctx, broker.ExchangeEvents, events.KeyOrderChecked, checked); err != nil {
		return fmt.Errorf("publish order checked %s: %w", req.OrderID, err)
	}
	return nil
}

// GetBalance возвращает баланс userID. Чужой баланс доступен только администратору.
func (s *Service) GetBalance(principal domain.Principal, userID string) (domain.Balance, error) {
	if !principal.CanAccess(userID) {
		return domain.Balance{}, domain.ErrForbidden
	}
	return s.balances.Get(userID)
}

// Deposit пополняет баланс текущего пользователя.
func (s *Service) Deposit(ctx context.Context, principal domain.Principal, amount int64) (domain.Balance, error) {
	if principal.UserID == "" {
		return domain.Balance{}, domain.ErrClientRequired
	}
	balance, err := s.balances.Deposit(principal.UserID, amount)
	if err != nil {
		return domain.Balance{}, err
	}
	s.emitter.Info(ctx, "balance deposited", log.Fields{"client_id": principal.UserID, "amount": amount})
	return balance, nil
}
