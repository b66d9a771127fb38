package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

// orderRepositoryInMemory держит заказы и индекс клиента, упорядоченный по дате создания.
type orderRepositoryInMemory struct {
	mu       sync.RWMutex
	items    map[string]domain.Order
	byClient map[string][]string
	outbox   *OutboxRepository
}

// NewOrderRepository возвращает in-memory репозиторий заказов.
// События, переданные в Create и Save, попадают в outbox вместе с заказом.
func NewOrderRepository(outbox *OutboxRepository) domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:    make(map[string]domain.Order),
		byClient: make(map[string][]string),
		outbox:   outbox,
	}
}

func (r *orderRepositoryInMemory) Create(order domain.Order, outbox ...domain.OutboxMessage) error {
	if err := outboxWriter(r.outbox, outbox); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderExists
	}
	r.items[order.ID] = order
	r.indexClient(order)
	r.outbox.enqueue(outbox)
	return nil
}

// indexClient вставляет заказ в индекс клиента так, что новые заказы идут первыми.
func (r *orderRepositoryInMemory) indexClient(order domain.Order) {
	ids := r.byClient[order.ClientID]
	pos := sort.Search(len(ids), func(i int) bool {
		other := r.items[ids[i]]
		if other.CreatedAt.Equal(order.CreatedAt) {
			return other.ID < order.ID
		}
		return other.CreatedAt.Before(order.CreatedAt)
	})
	ids = append(ids, "")
	copy(ids[pos+1:], ids[pos:])
	ids[pos] = order.ID
	r.byClient[order.ClientID] = ids
}

func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// ListByClient читает индекс клиента; limit <= 0 снимает ограничение.
func (r *orderRepositoryInMemory) ListByClient(clientID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byClient[clientID]
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	result := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		result = append(result, r.items[id])
	}
	return result, nil
}

// Save заменяет заказ при совпадении версии и ставит события в outbox.
// Клиент и дата создания заказа не меняются, поэтому индекс не перестраивается.
func (r *orderRepositoryInMemory) Save(order domain.Order, outbox ...domain.OutboxMessage) error {
	if err := outboxWriter(r.outbox, outbox); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	order.ClientID = current.ClientID
	order.CreatedAt = current.CreatedAt
	order.Version++
	r.items[order.ID] = order
	r.outbox.enqueue(outbox)
	return nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
