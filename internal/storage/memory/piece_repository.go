package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

type pieceRepositoryInMemory struct {
	mu      sync.RWMutex
	items   map[string]domain.Piece
	byOrder map[string][]string
	outbox  *OutboxRepository
	now     func() time.Time
}

// NewPieceRepository возвращает in-memory репозиторий деталей, пишущий события в outbox.
func NewPieceRepository(outbox *OutboxRepository) domain.PieceRepository {
	return &pieceRepositoryInMemory{
		items:   make(map[string]domain.Piece),
		byOrder: make(map[string][]string),
		outbox:  outbox,
		now:     time.Now,
	}
}

// CreateBatch сохраняет все детали или ни одной.
func (r *pieceRepositoryInMemory) CreateBatch(pieces []domain.Piece) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range pieces {
		if _, exists := r.items[p.ID]; exists {
			return domain.ErrPieceStatusConflict
		}
	}
	for _, p := range pieces {
		r.items[p.ID] = p
		r.byOrder[p.OrderID] = append(r.byOrder[p.OrderID], p.ID)
	}
	return nil
}

// Get возвращает деталь или ErrPieceNotFound.
func (r *pieceRepositoryInMemory) Get(id string) (domain.Piece, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	piece, ok := r.items[id]
	if !ok {
		return domain.Piece{}, domain.ErrPieceNotFound
	}
	return piece, nil
}

// ListByOrder возвращает детали заказа в порядке создания.
func (r *pieceRepositoryInMemory) ListByOrder(orderID string) ([]domain.Piece, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byOrder[orderID]
	result := make([]domain.Piece, 0, len(ids))
	for _, id := range ids {
		result = append(result, r.items[id])
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// CompareAndSetStatus меняет статус детали, только если текущий равен from.
func (r *pieceRepositoryInMemory) CompareAndSetStatus(id string, from, to domain.PieceStatus, outbox ...domain.OutboxMessage) error {
	if err := outboxWriter(r.outbox, outbox); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	piece, ok := r.items[id]
	if !ok {
		return domain.ErrPieceNotFound
	}
	if piece.Status != from {
		return domain.ErrPieceStatusConflict
	}
	piece.Status = to
	piece.UpdatedAt = r.now().UTC()
	r.items[id] = piece
	r.outbox.enqueue(outbox)
	return nil
}

var _ domain.PieceRepository = (*pieceRepositoryInMemory)(nil)
