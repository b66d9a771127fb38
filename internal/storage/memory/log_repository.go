package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

const defaultLogCapacity = 10000

// LogRepository — кольцевой буфер событий агрегатора логов.
type LogRepository struct {
	mu       sync.RWMutex
	events   []domain.LogEvent
	capacity int
}

// NewLogRepository создаёт буфер на capacity записей (0 означает значение по умолчанию).
func NewLogRepository(capacity int) *LogRepository {
	if capacity <= 0 {
		capacity = defaultLogCapacity
	}
	return &LogRepository{capacity: capacity}
}

// Append добавляет событие, вытесняя самое старое при переполнении.
func (r *LogRepository) Append(_ context.Context, event domain.LogEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.events) >= r.capacity {
		copy(r.events, r.events[1:])
		r.events = r.events[:len(r.events)-1]
	}
	r.events = append(r.events, event)
	return nil
}

// Recent возвращает до limit последних событий, новые первыми.
func (r *LogRepository) Recent(_ context.Context, limit int) ([]domain.LogEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.events)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]domain.LogEvent, 0, n)
	for i := len(r.events) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, r.events[i])
	}
	return result, nil
}

// DeleteBefore удаляет до limit событий с Timestamp раньше before.
func (r *LogRepository) DeleteBefore(_ context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	kept := r.events[:0]
	for _, e := range r.events {
		if e.Timestamp.Before(before) && (limit <= 0 || deleted < limit) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(r.events); i++ {
		r.events[i] = domain.LogEvent{}
	}
	r.events = kept
	return deleted, nil
}

var (
	_ domain.LogSink   = (*LogRepository)(nil)
	_ domain.LogReader = (*LogRepository)(nil)
	_ domain.LogPruner = (*LogRepository)(nil)
)
