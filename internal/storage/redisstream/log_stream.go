package redisstream

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

const (
	// Ключ стрима с записями агрегатора.
	DefaultStream = "mos:logs"
	// Приблизительный предел длины стрима (XADD MAXLEN ~).
	DefaultMaxLen = 100000
)

type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XRevRangeN(ctx context.Context, stream, start, stop string, count int64) *redis.XMessageSliceCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// LogStream хранит события агрегатора в Redis Stream.
type LogStream struct {
	client streamClient
	stream string
	maxLen int64
}

// NewLogStream подключается к Redis по адресу addr.
func NewLogStream(addr, stream string, maxLen int64) *LogStream {
	return newLogStream(redis.NewClient(&redis.Options{Addr: addr}), stream, maxLen)
}

func newLogStream(client streamClient, stream string, maxLen int64) *LogStream {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &LogStream{client: client, stream: stream, maxLen: maxLen}
}

// Append добавляет событие в стрим, обрезая его до maxLen приблизительно.
func (s *LogStream) Append(ctx context.Context, event domain.LogEvent) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":          event.ID,
			"exchange":    event.Exchange,
			"routing_key": event.RoutingKey,
			"level":       event.Level,
			"service":     event.Service,
			"payload":     string(event.Payload),
			"ts":          strconv.FormatInt(event.Timestamp.UnixMilli(), 10),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// Recent читает до limit последних записей, новые первыми.
func (s *LogStream) Recent(ctx context.Context, limit int) ([]domain.LogEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	messages, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", s.stream, err)
	}

	events := make([]domain.LogEvent, 0, len(messages))
	for _, msg := range messages {
		events = append(events, decodeEvent(msg))
	}
	return events, nil
}

// Ping проверяет доступность Redis.
func (s *LogStream) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close закрывает клиент.
func (s *LogStream) Close() error {
	return s.client.Close()
}

func decodeEvent(msg redis.XMessage) domain.LogEvent {
	field := func(name string) string {
		v, _ := msg.Values[name].(string)
		return v
	}
	event := domain.LogEvent{
		ID:         field("id"),
		Exchange:   field("exchange"),
		RoutingKey: field("routing_key"),
		Level:      field("level"),
		Service:    field("service"),
		Payload:    []byte(field("payload")),
	}
	if event.ID == "" {
		event.ID = msg.ID
	}
	if ms, err := strconv.ParseInt(field("ts"), 10, 64); err == nil {
		event.Timestamp = time.UnixMilli(ms).UTC()
	}
	return event
}

var (
	_ domain.LogSink   = (*LogStream)(nil)
	_ domain.LogReader = (*LogStream)(nil)
)
