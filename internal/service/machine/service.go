package machine

import (
	"context"
	"fmt"
	"sync"
	"time"

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
	ServiceName = "machine"

	QueuePieceCreated = "machine.piece-created"
	QueueCommands     = "machine.commands"

	// Время выпуска одной детали.
	DefaultProductionDelay = 3 * time.Second

	maxPublishAttempts = 3
	canceledOrdersTTL  = time.Hour
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

// WithProductionDelay задаёт время выпуска детали.
func WithProductionDelay(delay time.Duration) Option {
	return func(s *Service) {
		s.delay = delay
	}
}

// Service имитирует станок: на каждую деталь ждёт время производства
// и публикует events.piece.produced. Детали выпускаются параллельно на пуле задач.
type Service struct {
	pool      *worker.Pool
	publisher domain.EventPublisher
	emitter   *logs.Emitter
	metrics   *metrics.ServiceMetrics
	logger    *log.Entry
	delay     time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    domain.MachineState
	canceled map[string]time.Time
}

// NewService создаёт сервис машины поверх запущенного пула задач.
func NewService(pool *worker.Pool, publisher domain.EventPublisher, options ...Option) *Service {
	s := &Service{
		pool:      pool,
		publisher: publisher,
		delay:     DefaultProductionDelay,
		now:       time.Now,
		canceled:  make(map[string]time.Time),
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "machine-service")
	}
	if s.emitter == nil {
		s.emitter = logs.NewEmitter(publisher, ServiceName, s.logger)
	}
	if s.delay < 0 {
		s.delay = 0
	}
	s.state = domain.MachineState{Status: domain.MachineStatusIdle, UpdatedAt: s.now().UTC()}
	return s
}

// Start подписывает сервис на детали и команды.
func (s *Service) Start(ctx context.Context, b broker.Broker) error {
	err := b.Subscribe(ctx, broker.Subscription{
		Queue:    QueuePieceCreated,
		Bindings: []broker.Binding{{Exchange: broker.ExchangeEvents, Pattern: events.KeyPieceCreated}},
	}, s.metrics.Instrument(QueuePieceCreated, s.HandlePieceCreated))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", QueuePieceCreated, err)
	}

	err = b.Subscribe(ctx, broker.Subscription{
		Queue:    QueueCommands,
		Bindings: []broker.Binding{{Exchange: broker.ExchangeCommands, Pattern: events.CommandPieceCancel}},
	}, s.metrics.Instrument(QueueCommands, s.HandlePieceCancel))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", QueueCommands, err)
	}
	return nil
}

// HandlePieceCreated ставит деталь в производство. Сообщение подтверждается после постановки задачи.
func (s *Service) HandlePieceCreated(ctx context.Context, msg broker.Message) error {
	var piece events.PieceCreated
	if err := events.Decode(msg.Body, &piece); err != nil {
		return err
	}
	if s.isCanceled(piece.OrderID) {
		s.emitter.Warn(ctx, "piece of canceled order skipped", log.Fields{"piece_id": piece.PieceID, "order_id": piece.OrderID})
		return nil
	}

	s.startWorking()
	if err := s.pool.Schedule(s.delay, "produce-piece", s.produceTask(piece, 1)); err != nil {
		s.finishWorking(ctx, "")
		return fmt.Errorf("schedule piece %s: %w", piece.PieceID, err)
	}
	s.logger.WithFields(log.Fields{"piece_id": piece.PieceID, "order_id": piece.OrderID}).Debug("piece queued for production")
	return nil
}

func (s *Service) produceTask(piece events.PieceCreated, attempt int) worker.Task {
	return func(ctx context.Context) error {
		if s.isCanceled(piece.OrderID) {
			s.finishWorking(ctx, "")
			s.emitter.Warn(ctx, "production canceled", log.Fields{"piece_id": piece.PieceID, "order_id": piece.OrderID})
			return nil
		}

		produced := events.PieceProduced{PieceID: piece.PieceID, OrderID: piece.OrderID}
		err := s.publisher.Publish(ctx, broker.ExchangeEvents, events.KeyPieceProduced, produced)
		if err == nil {
			s.finishWorking(ctx, piece.PieceID)
			s.emitter.Info(ctx, "piece produced", log.Fields{"piece_id": piece.PieceID, "order_id": piece.OrderID})
			return nil
		}

		if attempt < maxPublishAttempts {
			if schedErr := s.pool.Schedule(s.delay, "produce-piece", s.produceTask(piece, attempt+1)); schedErr == nil {
				return fmt.Errorf("publish piece produced %s (attempt %d): %w", piece.PieceID, attempt, err)
			}
		}
		s.finishWorking(ctx, "")
		s.emitter.Error(ctx, "piece produced event lost", log.Fields{"piece_id": piece.PieceID, "order_id": piece.OrderID, "error": err.Error()})
		return fmt.Errorf("publish piece produced %s: %w", piece.PieceID, err)
	}
}

// HandlePieceCancel запоминает отменённый заказ: его детали не будут выпущены.
func (s *Service) HandlePieceCancel(ctx context.Context, msg broker.Message) error {
	var cancel events.OrderRef
	if err := events.Decode(msg.Body, &cancel); err != nil {
		return err
	}

	now := s.now()
	s.mu.Lock()
	for orderID, at := range s.canceled {
		if now.Sub(at) > canceledOrdersTTL {
			delete(s.canceled, orderID)
		}
	}
	s.canceled[cancel.OrderID] = now
	s.mu.Unlock()

	s.emitter.Info(ctx, "order production canceled", log.Fields{"order_id": cancel.OrderID})
	return nil
}

// State возвращает снимок состояния машины.
func (s *Service) State() domain.MachineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) isCanceled(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.canceled[orderID]
	return ok
}

func (s *Service) startWorking() {
	s.mu.Lock()
	s.state.WorkingPieceCount++
	changed := s.state.Status != domain.MachineStatusProducing
	s.state.Status = domain.MachineStatusProducing
	s.state.UpdatedAt = s.now().UTC()
	s.mu.Unlock()

	if changed {
		s.emitter.Info(context.Background(), "machine status changed", log.Fields{"status": domain.MachineStatusProducing})
	}
}

// finishWorking уменьшает счётчик деталей в работе; producedID пуст, если деталь не выпущена.
func (s *Service) finishWorking(ctx context.Context, producedID string) {
	s.mu.Lock()
	if s.state.WorkingPieceCount > 0 {
		s.state.WorkingPieceCount--
	}
	if producedID != "" {
		s.state.ProducedTotal++
		s.state.LastPieceID = producedID
	}
	changed := s.state.WorkingPieceCount == 0 && s.state.Status != domain.MachineStatusIdle
	if changed {
		s.state.Status = domain.MachineStatusIdle
	}
	s.state.UpdatedAt = s.now().UTC()
	s.mu.Unlock()

	if changed {
		s.emitter.Info(ctx, "machine status changed", log.Fields{"status": domain.MachineStatusIdle})
	}
}
