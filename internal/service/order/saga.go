package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/domain"
	"github.com/vladislavdragonenkov/mos/internal/messaging/broker"
	"github.com/vladislavdragonenkov/mos/internal/messaging/events"
)

// HandleOrderChecked продвигает заказ по результату оплаты.
// Одобрено: PAYMENT_DONE и запуск производства. Отклонено: PAYMENT_CANCELED и piece.cancel.
// События пишутся в outbox вместе с переходом. Решение о продолжении саги принимается
// по сохранённому состоянию: заказ в PAYMENT_DONE с деталями в QUEUED или без деталей
// доводится до производства при любой повторной доставке, в том числе из dead-letter очереди.
func (s *Service) HandleOrderChecked(ctx context.Context, msg broker.Message) error {
	var checked events.OrderChecked
	if err := events.Decode(msg.Body, &checked); err != nil {
		return err
	}

	target := domain.OrderStatusPaymentCanceled
	if checked.Approved() {
		target = domain.OrderStatusPaymentDone
	}

	order, changed, err := s.updateOrder(checked.OrderID, func(o *domain.Order) (bool, error) {
		if o.Status == target {
			return false, nil
		}
		err := o.TransitionTo(target, s.now().UTC())
		return err == nil, err
	}, func(o domain.Order) ([]domain.OutboxMessage, error) {
		if target == domain.OrderStatusPaymentCanceled {
			cancel, err := events.Outbox(o.ID, broker.ExchangeCommands, events.CommandPieceCancel, events.OrderRef{OrderID: o.ID})
			return []domain.OutboxMessage{cancel}, err
		}
		created, err := events.Outbox(o.ID, broker.ExchangeEvents, events.KeyOrderCreated, events.OrderCreated{OrderID: o.ID, UserID: o.ClientID})
		return []domain.OutboxMessage{created}, err
	})
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return broker.Permanent(fmt.Errorf("order checked: %w", err))
	case domain.IsInvalidTransition(err):
		s.logger.WithError(err).WithField("order_id", checked.OrderID).Warn("order checked ignored")
		return nil
	case err != nil:
		return fmt.Errorf("order checked %s: %w", checked.OrderID, err)
	}

	switch {
	case order.Status == domain.OrderStatusPaymentDone:
		if changed {
			s.saga.RecordPaymentApproved()
			s.emitter.Info(ctx, "order payment done", log.Fields{"order_id": order.ID})
		}
		return s.startProduction(order)
	case changed:
		s.saga.RecordPaymentDeclined()
		s.emitter.Warn(ctx, "order payment canceled", log.Fields{"order_id": order.ID})
		return nil
	default:
		s.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"status":   order.Status,
		}).Info("duplicate order checked ignored")
		return nil
	}
}

// startProduction создаёт детали заказа, если их ещё нет, и переводит каждую деталь
// из QUEUED в CREATED вместе с событием piece.created и командой машине.
// Детали уже в CREATED или PRODUCED не трогаются, поэтому повторный вызов безопасен.
func (s *Service) startProduction(order domain.Order) error {
	pieces, err := s.ensurePieces(order)
	if err != nil {
		return err
	}

	for _, piece := range pieces {
		if piece.Status != domain.PieceStatusQueued {
			continue
		}
		created := events.PieceCreated{PieceID: piece.ID, OrderID: order.ID}
		event, err := events.Outbox(order.ID, broker.ExchangeEvents, events.KeyPieceCreated, created)
		if err != nil {
			return err
		}
		command, err := events.Outbox(order.ID, broker.ExchangeCommands, events.CommandPieceCreated, created)
		if err != nil {
			return err
		}
		err = s.pieces.CompareAndSetStatus(piece.ID, domain.PieceStatusQueued, domain.PieceStatusCreated, event, command)
		if err != nil && !errors.Is(err, domain.ErrPieceStatusConflict) {
			return fmt.Errorf("start piece %s: %w", piece.ID, err)
		}
	}
	return nil
}

// ensurePieces возвращает детали заказа, создавая их в QUEUED при первом вызове.
// Идентификаторы деталей выводятся из заказа, поэтому параллельная повторная доставка
// упирается в конфликт вставки, а не создаёт второй комплект.
func (s *Service) ensurePieces(order domain.Order) ([]domain.Piece, error) {
	pieces, err := s.pieces.ListByOrder(order.ID)
	if err != nil {
		return nil, fmt.Errorf("list pieces %s: %w", order.ID, err)
	}
	if len(pieces) > 0 {
		return pieces, nil
	}

	now := s.now().UTC()
	pieces = make([]domain.Piece, 0, order.NumberOfPieces)
	for i := 0; i < order.NumberOfPieces; i++ {
		pieces = append(pieces, domain.Piece{
			ID:        pieceID(order.ID, i),
			OrderID:   order.ID,
			Status:    domain.PieceStatusQueued,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	err = s.pieces.CreateBatch(pieces)
	if errors.Is(err, domain.ErrPieceStatusConflict) {
		if pieces, err = s.pieces.ListByOrder(order.ID); err != nil {
			return nil, fmt.Errorf("list pieces %s: %w", order.ID, err)
		}
		return pieces, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create pieces %s: %w", order.ID, err)
	}
	return pieces, nil
}

func pieceID(orderID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("mos:order/%s/piece/%d", orderID, index))).String()
}

// HandlePieceProduced отмечает деталь произведённой и проверяет завершение заказа.
// Завершение вычисляется по сохранённым статусам всех деталей, а не по счётчику событий.
// order.produced пишется в outbox только вместе с переходом в FINISHED,
// поэтому повторные события деталей после завершения ничего не публикуют.
func (s *Service) HandlePieceProduced(ctx context.Context, msg broker.Message) error {
	var produced events.PieceProduced
	if err := events.Decode(msg.Body, &produced); err != nil {
		return err
	}
	logger := s.logger.WithFields(log.Fields{"order_id": produced.OrderID, "piece_id": produced.PieceID})

	piece, err := s.pieces.Get(produced.PieceID)
	if errors.Is(err, domain.ErrPieceNotFound) {
		return broker.Permanent(fmt.Errorf("piece produced: %w", err))
	}
	if err != nil {
		return fmt.Errorf("get piece %s: %w", produced.PieceID, err)
	}
	if piece.OrderID != produced.OrderID {
		return broker.Permanent(fmt.Errorf("piece %s belongs to order %s, not %s", piece.ID, piece.OrderID, produced.OrderID))
	}

	if err := s.markProduced(piece); err != nil {
		return err
	}

	pieces, err := s.pieces.ListByOrder(produced.OrderID)
	if err != nil {
		return fmt.Errorf("list pieces %s: %w", produced.OrderID, err)
	}
	if !domain.AllProduced(pieces) {
		logger.Debug("order still has pieces in production")
		return nil
	}

	order, changed, err := s.updateOrder(produced.OrderID, func(o *domain.Order) (bool, error) {
		if o.Status != domain.OrderStatusPaymentDone {
			return false, nil
		}
		return true, o.TransitionTo(domain.OrderStatusFinished, s.now().UTC())
	}, func(o domain.Order) ([]domain.OutboxMessage, error) {
		finished, err := events.Outbox(o.ID, broker.ExchangeEvents, events.KeyOrderProduced, events.OrderRef{OrderID: o.ID})
		return []domain.OutboxMessage{finished}, err
	})
	if err != nil {
		return fmt.Errorf("finish order %s: %w", produced.OrderID, err)
	}
	if !changed {
		logger.WithField("status", order.Status).Debug("order completion already recorded")
		return nil
	}

	s.saga.RecordOrderFinished()
	s.emitter.Info(ctx, "order finished", log.Fields{"order_id": order.ID, "pieces": len(pieces)})
	return nil
}

// markProduced переводит деталь в PRODUCED. Повтор для уже произведённой детали не считается ошибкой.
func (s *Service) markProduced(piece domain.Piece) error {
	if piece.Status == domain.PieceStatusProduced {
		return nil
	}

	err := s.pieces.CompareAndSetStatus(piece.ID, domain.PieceStatusCreated, domain.PieceStatusProduced)
	if errors.Is(err, domain.ErrPieceStatusConflict) {
		current, getErr := s.pieces.Get(piece.ID)
		if getErr != nil {
			return fmt.Errorf("reload piece %s: %w", piece.ID, getErr)
		}
		if current.Status == domain.PieceStatusProduced {
			return nil
		}
		return fmt.Errorf("mark piece %s produced: %w", piece.ID, err)
	}
	if err != nil {
		return fmt.Errorf("mark piece %s produced: %w", piece.ID, err)
	}
	return nil
}

// HandleOrderDelivered переводит заказ в терминальный DELIVERED.
func (s *Service) HandleOrderDelivered(ctx context.Context, msg broker.Message) error {
	var delivered events.OrderRef
	if err := events.Decode(msg.Body, &delivered); err != nil {
		return err
	}

	order, changed, err := s.updateOrder(delivered.OrderID, func(o *domain.Order) (bool, error) {
		if o.Status == domain.OrderStatusDelivered {
			return false, nil
		}
		return true, o.TransitionTo(domain.OrderStatusDelivered, s.now().UTC())
	}, nil)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return broker.Permanent(fmt.Errorf("order delivered: %w", err))
	case domain.IsInvalidTransition(err):
		s.logger.WithError(err).WithField("order_id", delivered.OrderID).Warn("order delivered ignored")
		return nil
	case err != nil:
		return fmt.Errorf("deliver order %s: %w", delivered.OrderID, err)
	}
	if !changed {
		return nil
	}

	s.saga.RecordOrderDelivered(s.now().Sub(order.CreatedAt))
	s.emitter.Info(ctx, "order delivered", log.Fields{"order_id": order.ID})
	return nil
}
