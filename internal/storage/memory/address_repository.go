package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

type addressRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Address
}

// NewAddressRepository возвращает in-memory хранилище адресов.
func NewAddressRepository() domain.AddressRepository {
	return &addressRepositoryInMemory{items: make(map[string]domain.Address)}
}

func (r *addressRepositoryInMemory) Get(userID string) (domain.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	address, ok := r.items[userID]
	if !ok {
		return domain.Address{}, domain.ErrAddressNotFound
	}
	return address, nil
}

func (r *addressRepositoryInMemory) Upsert(address domain.Address) error {
	if address.UserID == "" {
		return domain.ErrClientRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[address.UserID] = address
	return nil
}

var _ domain.AddressRepository = (*addressRepositoryInMemory)(nil)
