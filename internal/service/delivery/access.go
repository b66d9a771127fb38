package delivery

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

// Update — частичное изменение доставки. nil-поля не меняются.
// Status может менять только администратор.
type Update struct {
	Address *string
	ZipCode *string
	Status  *domain.DeliveryStatus
}

// GetDelivery возвращает доставку владельцу или администратору.
func (s *Service) GetDelivery(principal domain.Principal, orderID string) (domain.Delivery, error) {
	delivery, err := s.deliveries.GetByOrder(orderID)
	if err != nil {
		return domain.Delivery{}, err
	}
	if !principal.CanAccess(delivery.UserID) {
		return domain.Delivery{}, domain.ErrForbidden
	}
	return delivery, nil
}

// ListDeliveries возвращает доставки пользователя.
func (s *Service) ListDeliveries(principal domain.Principal, userID string) ([]domain.Delivery, error) {
	if userID == "" {
		userID = principal.UserID
	}
	if !principal.CanAccess(userID) {
		return nil, domain.ErrForbidden
	}
	return s.deliveries.ListByUser(userID)
}

// CreateDelivery заводит доставку напрямую. Только для администратора.
func (s *Service) CreateDelivery(ctx context.Context, principal domain.Principal, d domain.Delivery) (domain.Delivery, error) {
	if !principal.IsAdmin() {
		return domain.Delivery{}, domain.ErrForbidden
	}
	if strings.TrimSpace(d.OrderID) == "" {
		return domain.Delivery{}, domain.ErrOrderIDRequired
	}
	if strings.TrimSpace(d.UserID) == "" {
		return domain.Delivery{}, domain.ErrClientRequired
	}
	if d.Status == "" {
		d.Status = domain.DeliveryStatusCreated
	}
	if !d.Status.Valid() {
		return domain.Delivery{}, fmt.Errorf("%w: %q", domain.ErrUnknownStatus, d.Status)
	}

	now := s.now().UTC()
	d.ID = s.newID()
	d.Version = 0
	d.CreatedAt = now
	d.UpdatedAt = now
	if err := s.deliveries.Create(d); err != nil {
		return domain.Delivery{}, err
	}
	s.emitter.Info(ctx, "delivery created by admin", log.Fields{"order_id": d.OrderID, "admin": principal.UserID})
	return d, nil
}

// UpdateDelivery меняет адрес доставки (владелец или администратор) или статус (только администратор).
// Статус проходит таблицу переходов.
func (s *Service) UpdateDelivery(ctx context.Context, principal domain.Principal, orderID string, update Update) (domain.Delivery, error) {
	if update.Status != nil && !principal.IsAdmin() {
		return domain.Delivery{}, domain.ErrForbidden
	}

	transitioned := false
	delivery, changed, err := s.updateDelivery(orderID, func(d *domain.Delivery) (bool, error) {
		transitioned = false
		if !principal.CanAccess(d.UserID) {
			return false, domain.ErrForbidden
		}
		changed := false
		if update.Address != nil {
			d.Address = *update.Address
			changed = true
		}
		if update.ZipCode != nil {
			d.ZipCode = *update.ZipCode
			changed = true
		}
		if update.Status != nil && *update.Status != d.Status {
			if err := d.TransitionTo(*update.Status, s.now().UTC()); err != nil {
				return false, err
			}
			changed = true
			transitioned = true
		}
		if changed {
			d.UpdatedAt = s.now().UTC()
		}
		return changed, nil
	}, func(d domain.Delivery) ([]domain.OutboxMessage, error) {
		if !transitioned {
			return nil, nil
		}
		return statusEvents(d)
	})
	if err != nil {
		return domain.Delivery{}, err
	}
	if changed && transitioned {
		s.announce(ctx, delivery)
	}
	return delivery, nil
}

// DeleteDelivery удаляет доставку владельца, администратор может удалить любую.
func (s *Service) DeleteDelivery(ctx context.Context, principal domain.Principal, orderID string) error {
	delivery, err := s.GetDelivery(principal, orderID)
	if err != nil {
		return err
	}
	if err := s.deliveries.Delete(orderID); err != nil {
		return err
	}
	s.emitter.Info(ctx, "delivery deleted", log.Fields{"order_id": orderID, "user_id": delivery.UserID})
	return nil
}

// GetAddress возвращает адрес пользователя.
func (s *Service) GetAddress(principal domain.Principal, userID string) (domain.Address, error) {
	if userID == "" {
		userID = principal.UserID
	}
	if !principal.CanAccess(userID) {
		return domain.Address{}, domain.ErrForbidden
	}
	return s.addresses.Get(userID)
}

// UpdateAddress сохраняет адрес текущего пользователя и переносит его в незавершённые доставки.
// Доставки в COMPLETED, получив адрес, становятся DELIVERED.
func (s *Service) UpdateAddress(ctx context.Context, principal domain.Principal, address, zipCode string) (domain.Address, error) {
	if principal.UserID == "" {
		return domain.Address{}, domain.ErrClientRequired
	}
	addr := domain.Address{UserID: principal.UserID, Address: strings.TrimSpace(address), ZipCode: strings.TrimSpace(zipCode)}
	if err := s.addresses.Upsert(addr); err != nil {
		return domain.Address{}, err
	}

	deliveries, err := s.deliveries.ListByUser(principal.UserID)
	if err != nil {
		return addr, fmt.Errorf("list deliveries %s: %w", principal.UserID, err)
	}
	for _, d := range deliveries {
		switch d.Status {
		case domain.DeliveryStatusCreated, domain.DeliveryStatusInProcess, domain.DeliveryStatusCompleted:
		default:
			continue
		}

		delivered := false
		updated, changed, err := s.updateDelivery(d.OrderID, func(cur *domain.Delivery) (bool, error) {
			delivered = false
			switch cur.Status {
			case domain.DeliveryStatusCreated, domain.DeliveryStatusInProcess, domain.DeliveryStatusCompleted:
			default:
				return false, nil
			}
			cur.Address = addr.Address
			cur.ZipCode = addr.ZipCode
			cur.UpdatedAt = s.now().UTC()
			if cur.Status == domain.DeliveryStatusCompleted && !addr.Empty() {
				if err := cur.TransitionTo(domain.DeliveryStatusDelivered, s.now().UTC()); err != nil {
					return false, err
				}
				delivered = true
			}
			return true, nil
		}, func(cur domain.Delivery) ([]domain.OutboxMessage, error) {
			if !delivered {
				return nil, nil
			}
			return statusEvents(cur)
		})
		if err != nil {
			return addr, fmt.Errorf("update delivery %s: %w", d.OrderID, err)
		}
		if changed && delivered {
			s.announce(ctx, updated)
		}
	}

	s.emitter.Info(ctx, "address updated", log.Fields{"user_id": principal.UserID})
	return addr, nil
}
