package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Memory реализует in-process брокер с семантикой topic exchange.
// Используется в тестах и при локальном запуске без RabbitMQ.
type Memory struct {
	mu         sync.RWMutex
	queues     []*memoryQueue
	published  []Message
	dead       []Message
	closed     bool
	connected  bool
	maxRetries int
	logger     *log.Entry
	wg         sync.WaitGroup
	pending    atomic.Int64
}

type memoryQueue struct {
	sub     Subscription
	handler Handler

	mu     sync.Mutex
	buf    []Message
	notify chan struct{}
}

// NewMemory создаёт брокер с заданным лимитом повторов (<=0 означает значение по умолчанию).
func NewMemory(maxRetries int) *Memory {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Memory{
		connected:  true,
		maxRetries: maxRetries,
		logger:     log.WithField("component", "memory-broker"),
	}
}

// Publish сериализует payload и раскладывает сообщение по подходящим очередям.
func (b *Memory) Publish(_ context.Context, exchange, routingKey string, payload any) error {
	body, err := Encode(payload)
	if err != nil {
		return err
	}
	return b.publish(Message{Exchange: exchange, RoutingKey: routingKey, Body: body})
}

func (b *Memory) publish(msg Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if !b.connected {
		b.mu.Unlock()
		return ErrNotConnected
	}
	msg.Headers = CopyHeaders(msg.Headers)
	b.published = append(b.published, msg)
	if msg.Exchange == ExchangeDeadLetter {
		b.dead = append(b.dead, msg)
	}
	for _, q := range b.queues {
		if q.matches(msg) {
			b.pending.Add(1)
			q.push(msg)
		}
	}
	b.mu.Unlock()
	return nil
}

// Subscribe регистрирует очередь; сообщения обрабатываются по одному в порядке публикации.
func (b *Memory) Subscribe(ctx context.Context, sub Subscription, handler Handler) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("subscription %s: handler is nil", sub.Queue)
	}

	q := &memoryQueue{sub: sub, handler: handler, notify: make(chan struct{}, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.queues = append(b.queues, q)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consume(ctx, q)
	}()
	return nil
}

func (b *Memory) consume(ctx context.Context, q *memoryQueue) {
	for {
		msg, ok := q.pop()
		if ok {
			b.deliver(ctx, q, msg)
			b.pending.Add(-1)
			continue
		}
		if b.isClosed() {
			b.detach(q)
			return
		}
		select {
		case <-ctx.Done():
			b.detach(q)
			return
		case <-q.notify:
		}
	}
}

func (b *Memory) deliver(ctx context.Context, q *memoryQueue, msg Message) {
	err := q.handler(ctx, msg)
	switch Decide(err, msg.RetryCount(), b.maxRetries) {
	case OutcomeAck:
		return
	case OutcomeRetry:
		b.logger.WithError(err).WithFields(log.Fields{
			"queue":       q.sub.Queue,
			"routing_key": msg.RoutingKey,
			"retry_count": msg.RetryCount(),
		}).Warn("message processing failed, will retry")
		retry := msg
		retry.Headers = RetryHeaders(msg)
		retry.Redelivered = true
		b.pending.Add(1)
		q.push(retry)
	case OutcomeDeadLetter:
		b.logger.WithError(err).WithFields(log.Fields{
			"queue":       q.sub.Queue,
			"routing_key": msg.RoutingKey,
		}).Error("message sent to dead letter exchange")
		dead := Message{
			Exchange:   ExchangeDeadLetter,
			RoutingKey: msg.RoutingKey,
			Body:       msg.Body,
			Headers:    DeadLetterHeaders(msg, err, time.Now()),
		}
		if pubErr := b.publish(dead); pubErr != nil {
			b.logger.WithError(pubErr).Error("failed to publish dead letter")
		}
	}
}

func (b *Memory) detach(q *memoryQueue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.queues {
		if existing == q {
			b.queues = append(b.queues[:i], b.queues[i+1:]...)
			break
		}
	}
	for {
		if _, ok := q.pop(); !ok {
			return
		}
		b.pending.Add(-1)
	}
}

// Connected сообщает, принимает ли брокер публикации.
func (b *Memory) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected && !b.closed
}

// SetConnected имитирует потерю и восстановление соединения.
func (b *Memory) SetConnected(connected bool) {
	b.mu.Lock()
	b.connected = connected
	b.mu.Unlock()
}

// Published возвращает журнал всех опубликованных сообщений.
func (b *Memory) Published() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, len(b.published))
	copy(out, b.published)
	return out
}

// PublishedWithKey возвращает опубликованные сообщения с указанным routing key.
func (b *Memory) PublishedWithKey(exchange, routingKey string) []Message {
	var out []Message
	for _, msg := range b.Published() {
		if msg.Exchange == exchange && msg.RoutingKey == routingKey {
			out = append(out, msg)
		}
	}
	return out
}

// DeadLetters возвращает сообщения, отправленные в dead-letter exchange.
func (b *Memory) DeadLetters() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, len(b.dead))
	copy(out, b.dead)
	return out
}

// WaitIdle ждёт, пока все очереди опустеют, или отмены ctx.
func (b *Memory) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if b.pending.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Memory) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Close останавливает приём публикаций и ждёт завершения потребителей.
func (b *Memory) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	queues := append([]*memoryQueue(nil), b.queues...)
	b.mu.Unlock()

	for _, q := range queues {
		q.wake()
	}
	b.wg.Wait()
	return nil
}

func (q *memoryQueue) matches(msg Message) bool {
	for _, binding := range q.sub.Bindings {
		if binding.Exchange == msg.Exchange && MatchTopic(binding.Pattern, msg.RoutingKey) {
			return true
		}
	}
	return false
}

func (q *memoryQueue) push(msg Message) {
	q.mu.Lock()
	q.buf = append(q.buf, msg)
	q.mu.Unlock()
	q.wake()
}

func (q *memoryQueue) pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return Message{}, false
	}
	msg := q.buf[0]
	q.buf = q.buf[1:]
	return msg, true
}

func (q *memoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

var _ Broker = (*Memory)(nil)
