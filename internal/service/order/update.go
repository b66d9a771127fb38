package order

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

const (
	maxSaveAttempts = 5
	baseSaveDelay   = 5 * time.Millisecond
)

// mutation изменяет свежую копию заказа. changed=false означает, что сохранять нечего.
type mutation func(order *domain.Order) (changed bool, err error)

// outboxFor строит события, которые сохраняются вместе с изменённым заказом.
type outboxFor func(order domain.Order) ([]domain.OutboxMessage, error)

// updateOrder перечитывает заказ, применяет mutate и сохраняет с optimistic locking.
// События от emit пишутся в outbox той же операцией Save, поэтому они появляются
// ровно один раз на каждый сохранённый переход. При конфликте версий попытка
// повторяется на свежей копии с экспоненциальной задержкой.
func (s *Service) updateOrder(orderID string, mutate mutation, emit outboxFor) (domain.Order, bool, error) {
	var lastErr error
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		order, err := s.orders.Get(orderID)
		if err != nil {
			return domain.Order{}, false, err
		}

		changed, err := mutate(&order)
		if err != nil {
			return order, false, err
		}
		if !changed {
			return order, false, nil
		}

		var outbox []domain.OutboxMessage
		if emit != nil {
			if outbox, err = emit(order); err != nil {
				return order, false, err
			}
		}

		err = s.orders.Save(order, outbox...)
		if err == nil {
			order.Version++
			return order, true, nil
		}
		if !domain.IsVersionConflict(err) {
			return order, false, err
		}

		lastErr = err
		s.logger.WithFields(log.Fields{
			"order_id": orderID,
			"attempt":  attempt + 1,
			"version":  order.Version,
		}).Warn("version conflict detected, retrying")
		time.Sleep(baseSaveDelay * time.Duration(1<<uint(attempt)))
	}
	return domain.Order{}, false, lastErr
}
