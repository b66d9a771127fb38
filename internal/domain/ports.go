package domain

import (
	"context"
	"time"
)

// EventPublisher публикует сообщение в exchange брокера.
// Публикация fire-and-forget: доставка не чаще, чем at-least-once.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload any) error
}

// LogSink сохраняет события агрегатора логов.
type LogSink interface {
	Append(ctx context.Context, event LogEvent) error
}

// LogReader читает последние записи агрегатора (для статусного эндпоинта).
type LogReader interface {
	Recent(ctx context.Context, limit int) ([]LogEvent, error)
}

// LogPruner удаляет записи агрегатора старше before, не больше limit за вызов.
type LogPruner interface {
	DeleteBefore(ctx context.Context, before time.Time, limit int) (int, error)
}

// Role — роль пользователя, пришедшая от шлюза аутентификации.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Principal — аутентифицированный пользователь запроса.
type Principal struct {
	UserID string
	Role   Role
}

// IsAdmin возвращает true для администратора.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// CanAccess разрешает доступ владельцу ресурса или администратору.
func (p Principal) CanAccess(ownerID string) bool {
	return p.IsAdmin() || (p.UserID != "" && p.UserID == ownerID)
}
