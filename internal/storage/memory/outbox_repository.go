package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

type outboxStatus string

const (
	outboxPending outboxStatus = "pending"
	outboxSent    outboxStatus = "sent"
	outboxFailed  outboxStatus = "failed"
)

type outboxRecord struct {
	msg      domain.OutboxMessage
	status   outboxStatus
	attempts int
}

// OutboxRepository хранит исходящие события сервиса в порядке записи.
// Репозитории сущностей пишут в него под своей блокировкой, поэтому событие
// появляется в outbox только вместе с сохранённым изменением.
type OutboxRepository struct {
	mu      sync.Mutex
	records []*outboxRecord
	byID    map[string]*outboxRecord
	now     func() time.Time
}

// NewOutboxRepository создаёт пустой outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		byID: make(map[string]*outboxRecord),
		now:  time.Now,
	}
}

// enqueue вызывается репозиторием сущности после успешной проверки изменения.
func (r *OutboxRepository) enqueue(msgs []domain.OutboxMessage) {
	if len(msgs) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	for _, msg := range msgs {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		rec := &outboxRecord{msg: msg, status: outboxPending}
		r.records = append(r.records, rec)
		r.byID[msg.ID] = rec
	}
}

// PullPending возвращает до limit неотправленных событий в порядке записи.
func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending(limit), nil
}

func (r *OutboxRepository) pending(limit int) []domain.OutboxMessage {
	result := make([]domain.OutboxMessage, 0)
	for _, rec := range r.records {
		if rec.status != outboxPending {
			continue
		}
		result = append(result, rec.msg)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result
}

// Stats считает неотправленные события и возраст самого старого.
func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats domain.OutboxStats
	for _, rec := range r.records {
		if rec.status != outboxPending {
			continue
		}
		if stats.PendingCount == 0 {
			stats.OldestPendingAt = rec.msg.CreatedAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(id string) error {
	return r.mark(id, outboxSent)
}

func (r *OutboxRepository) MarkFailed(id string) error {
	return r.mark(id, outboxFailed)
}

func (r *OutboxRepository) mark(id string, status outboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return domain.ErrOutboxNotFound
	}
	rec.status = status
	rec.attempts++
	return nil
}

// Pending возвращает копию неотправленных событий.
func (r *OutboxRepository) Pending() []domain.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending(0)
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)

// outboxWriter проверяет, что изменение с событиями есть куда записать.
func outboxWriter(outbox *OutboxRepository, msgs []domain.OutboxMessage) error {
	if len(msgs) > 0 && outbox == nil {
		return domain.ErrOutboxUnavailable
	}
	return nil
}
