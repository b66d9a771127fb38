package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

type deliveryRepositoryInMemory struct {
	mu     sync.RWMutex
	items  map[string]domain.Delivery
	outbox *OutboxRepository
}

// NewDeliveryRepository возвращает in-memory хранилище доставок по order_id.
func NewDeliveryRepository(outbox *OutboxRepository) domain.DeliveryRepository {
	return &deliveryRepositoryInMemory{items: make(map[string]domain.Delivery), outbox: outbox}
}

func (r *deliveryRepositoryInMemory) Create(delivery domain.Delivery, outbox ...domain.OutboxMessage) error {
	if err := outboxWriter(r.outbox, outbox); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[delivery.OrderID]; exists {
		return domain.ErrDeliveryExists
	}
	r.items[delivery.OrderID] = delivery
	r.outbox.enqueue(outbox)
	return nil
}

func (r *deliveryRepositoryInMemory) GetByOrder(orderID string) (domain.Delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivery, ok := r.items[orderID]
	if !ok {
		return domain.Delivery{}, domain.ErrDeliveryNotFound
	}
	return delivery, nil
}

func (r *deliveryRepositoryInMemory) ListByUser(userID string) ([]domain.Delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Delivery, 0)
	for _, d := range r.items {
		if d.UserID == userID {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Save перезаписывает доставку с проверкой версии.
func (r *deliveryRepositoryInMemory) Save(delivery domain.Delivery, outbox ...domain.OutboxMessage) error {
	if err := outboxWriter(r.outbox, outbox); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[delivery.OrderID]
	if !ok {
		return domain.ErrDeliveryNotFound
	}
	if current.Version != delivery.Version {
		return domain.ErrDeliveryVersionConflict
	}
	delivery.Version++
	r.items[delivery.OrderID] = delivery
	r.outbox.enqueue(outbox)
	return nil
}

func (r *deliveryRepositoryInMemory) Delete(orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[orderID]; !ok {
		return domain.ErrDeliveryNotFound
	}
	delete(r.items, orderID)
	return nil
}

var _ domain.DeliveryRepository = (*deliveryRepositoryInMemory)(nil)
