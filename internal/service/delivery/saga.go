package delivery

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/domain"
	"github.com/vladislavdragonenkov/mos/internal/messaging/broker"
	"github.com/vladislavdragonenkov/mos/internal/messaging/events"
)

// HandleOrderCreated заводит доставку оплаченного заказа.
// Без адреса доставка сразу CANCELED и delivery.checked со status=false.
// delivery.checked и delivery.created пишутся в outbox вместе с доставкой,
// поэтому повторная доставка события для уже заведённой доставки ничего не делает.
func (s *Service) HandleOrderCreated(ctx context.Context, msg broker.Message) error {
	var created events.OrderCreated
	if err := events.Decode(msg.Body, &created); err != nil {
		return err
	}

	_, err := s.deliveries.GetByOrder(created.OrderID)
	switch {
	case err == nil:
		s.logger.WithField("order_id", created.OrderID).Info("delivery already registered")
		return nil
	case !errors.Is(err, domain.ErrDeliveryNotFound):
		return fmt.Errorf("get delivery %s: %w", created.OrderID, err)
	}

	address, err := s.addresses.Get(created.UserID)
	if err != nil && !errors.Is(err, domain.ErrAddressNotFound) {
		return fmt.Errorf("get address %s: %w", created.UserID, err)
	}

	now := s.now().UTC()
	delivery := domain.Delivery{
		ID:        s.newID(),
		OrderID:   created.OrderID,
		UserID:    created.UserID,
		Status:    domain.DeliveryStatusCreated,
		Address:   address.Address,
		ZipCode:   address.ZipCode,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !delivery.HasAddress() {
		delivery.Status = domain.DeliveryStatusCanceled
	}

	outbox, err := checkedEvents(delivery)
	if err != nil {
		return err
	}
	if err := s.deliveries.Create(delivery, outbox...); err != nil {
		if errors.Is(err, domain.ErrDeliveryExists) {
			return nil
		}
		return fmt.Errorf("create delivery %s: %w", created.OrderID, err)
	}

	fields := log.Fields{"order_id": delivery.OrderID, "user_id": delivery.UserID, "status": delivery.Status}
	if delivery.Status == domain.DeliveryStatusCanceled {
		s.emitter.Warn(ctx, "delivery canceled: no address", fields)
	} else {
		s.emitter.Info(ctx, "delivery created", fields)
	}
	return nil
}

// checkedEvents возвращает delivery.checked и, для доставки с адресом, delivery.created.
func checkedEvents(d domain.Delivery) ([]domain.OutboxMessage, error) {
	ok := d.Status != domain.DeliveryStatusCanceled
	checked, err := events.Outbox(d.OrderID, broker.ExchangeEvents, events.KeyDeliveryChecked, events.DeliveryChecked{OrderID: d.OrderID, Status: ok})
	if err != nil {
		return nil, err
	}
	if !ok {
		return []domain.OutboxMessage{checked}, nil
	}
	created, err := events.Outbox(d.OrderID, broker.ExchangeEvents, events.KeyDeliveryCreated, events.OrderRef{OrderID: d.OrderID})
	if err != nil {
		return nil, err
	}
	return []domain.OutboxMessage{checked, created}, nil
}

// HandleOrderProduced передаёт заказ курьеру (CREATED → IN_PROCESS) и планирует доставку.
// Доставка ещё не заведена, поэтому ошибка с повтором: события идут по разным очередям.
// Доставка в IN_PROCESS планируется при каждой доставке события: отложенная задача
// могла потеряться при остановке процесса, а повторный запуск задачи ничего не меняет.
func (s *Service) HandleOrderProduced(ctx context.Context, msg broker.Message) error {
	var produced events.OrderRef
	if err := events.Decode(msg.Body, &produced); err != nil {
		return err
	}

	delivery, changed, err := s.updateDelivery(produced.OrderID, func(d *domain.Delivery) (bool, error) {
		if d.Status != domain.DeliveryStatusCreated {
			return false, nil
		}
		err := d.TransitionTo(domain.DeliveryStatusInProcess, s.now().UTC())
		return err == nil, err
	}, func(d domain.Delivery) ([]domain.OutboxMessage, error) {
		inProcess, err := events.Outbox(d.OrderID, broker.ExchangeEvents, events.KeyOrderInProcess, events.OrderRef{OrderID: d.OrderID})
		return []domain.OutboxMessage{inProcess}, err
	})
	if err != nil {
		return fmt.Errorf("order produced %s: %w", produced.OrderID, err)
	}

	if delivery.Status != domain.DeliveryStatusInProcess {
		s.logger.WithFields(log.Fields{"order_id": delivery.OrderID, "status": delivery.Status}).Info("order produced ignored")
		return nil
	}
	if changed {
		s.emitter.Info(ctx, "delivery in process", log.Fields{"order_id": delivery.OrderID})
	}
	if err := s.pool.Schedule(s.delay, "dispatch-delivery", s.dispatchTask(delivery.OrderID)); err != nil {
		return fmt.Errorf("schedule dispatch %s: %w", delivery.OrderID, err)
	}
	return nil
}

// dispatchTask завершает доставку по наблюдаемому состоянию:
// при наличии адреса DELIVERED, если адрес снят, то COMPLETED до появления нового.
func (s *Service) dispatchTask(orderID string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		delivery, changed, err := s.updateDelivery(orderID, func(d *domain.Delivery) (bool, error) {
			if d.Status != domain.DeliveryStatusInProcess {
				return false, nil
			}
			next := domain.DeliveryStatusDelivered
			if !d.HasAddress() {
				next = domain.DeliveryStatusCompleted
			}
			err := d.TransitionTo(next, s.now().UTC())
			return err == nil, err
		}, statusEvents)
		if errors.Is(err, domain.ErrDeliveryNotFound) {
			s.logger.WithField("order_id", orderID).Info("delivery removed before dispatch")
			return nil
		}
		if err != nil {
			return fmt.Errorf("dispatch %s: %w", orderID, err)
		}
		if changed {
			s.announce(ctx, delivery)
		}
		return nil
	}
}
