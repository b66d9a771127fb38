package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

// LogRepository хранит события агрегатора в таблице log_events.
type LogRepository struct {
	db *sql.DB
}

// NewLogRepository создаёт PostgreSQL-хранилище логов.
func NewLogRepository(store *Store) *LogRepository {
	return &LogRepository{db: store.DB()}
}

// Append добавляет событие. Повторная запись того же ID игнорируется.
func (r *LogRepository) Append(ctx context.Context, event domain.LogEvent) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	payload := event.Payload
	if payload == nil {
		payload = []byte{}
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO log_events (id, exchange, routing_key, level, service, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, event.Exchange, event.RoutingKey, event.Level, event.Service, payload, event.Timestamp); err != nil {
		return fmt.Errorf("insert log event: %w", err)
	}
	return nil
}

// Recent возвращает до limit последних событий, новые первыми.
func (r *LogRepository) Recent(ctx context.Context, limit int) ([]domain.LogEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, exchange, routing_key, level, service, payload, created_at
		FROM log_events
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list log events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.LogEvent, 0, limit)
	for rows.Next() {
		var e domain.LogEvent
		if err := rows.Scan(&e.ID, &e.Exchange, &e.RoutingKey, &e.Level, &e.Service, &e.Payload, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan log event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log events: %w", err)
	}
	return events, nil
}

// DeleteBefore удаляет порцию событий старше before, начиная с самых старых.
func (r *LogRepository) DeleteBefore(ctx context.Context, before time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM log_events
		WHERE id IN (
			SELECT id FROM log_events
			WHERE created_at < $1
			ORDER BY created_at
			LIMIT $2
		)
	`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("delete log events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete log events: %w", err)
	}
	return int(n), nil
}

var (
	_ domain.LogSink   = (*LogRepository)(nil)
	_ domain.LogReader = (*LogRepository)(nil)
	_ domain.LogPruner = (*LogRepository)(nil)
)
