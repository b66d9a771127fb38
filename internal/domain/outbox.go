package domain

import "time"

// OutboxMessage хранит событие, зафиксированное вместе с изменением сущности.
type OutboxMessage struct {
	ID          string
	AggregateID string
	Exchange    string
	RoutingKey  string
	Payload     []byte
	CreatedAt   time.Time
}

// OutboxStats описывает текущее состояние backlog outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
