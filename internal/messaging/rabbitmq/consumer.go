package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/messaging/broker"
)

// Subscribe объявляет очередь с привязками и запускает цикл потребителя.
// Цикл переживает переподключения: очередь и привязки объявляются заново.
// Первичное объявление выполняется синхронно, чтобы ошибки топологии были видны при старте.
func (c *Connection) Subscribe(ctx context.Context, sub broker.Subscription, handler broker.Handler) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("subscription %s: handler is nil", sub.Queue)
	}

	conn, err := c.waitConnection(ctx)
	if err != nil {
		return err
	}
	ch, deliveries, err := c.openConsumer(conn, sub)
	if err != nil {
		return err
	}

	c.wg.Add(1)
	go c.runConsumer(ctx, sub, handler, ch, deliveries)
	return nil
}

func (c *Connection) openConsumer(conn *amqp.Connection, sub broker.Subscription) (*amqp.Channel, <-chan amqp.Delivery, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("open consumer channel: %w", err)
	}
	fail := func(err error) (*amqp.Channel, <-chan amqp.Delivery, error) {
		_ = ch.Close()
		return nil, nil, err
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fail(fmt.Errorf("set qos: %w", err))
	}

	exclusive := !sub.Durable
	if _, err := ch.QueueDeclare(sub.Queue, sub.Durable, false, exclusive, false, nil); err != nil {
		return fail(fmt.Errorf("declare queue %s: %w", sub.Queue, err))
	}
	for _, b := range sub.Bindings {
		if err := ch.ExchangeDeclare(b.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return fail(fmt.Errorf("declare exchange %s: %w", b.Exchange, err))
		}
		if err := ch.QueueBind(sub.Queue, b.Pattern, b.Exchange, false, nil); err != nil {
			return fail(fmt.Errorf("bind %s to %s/%s: %w", sub.Queue, b.Exchange, b.Pattern, err))
		}
	}

	deliveries, err := ch.Consume(sub.Queue, "", false, exclusive, false, false, nil)
	if err != nil {
		return fail(fmt.Errorf("consume %s: %w", sub.Queue, err))
	}
	return ch, deliveries, nil
}

func (c *Connection) runConsumer(
	ctx context.Context,
	sub broker.Subscription,
	handler broker.Handler,
	ch *amqp.Channel,
	deliveries <-chan amqp.Delivery,
) {
	defer c.wg.Done()
	logger := c.logger.WithField("queue", sub.Queue)
	logger.WithField("bindings", sub.Bindings).Info("consumer started")

	backoff := c.cfg.ReconnectMin
	for {
		c.drain(ctx, sub.Queue, handler, deliveries)
		_ = ch.Close()

		if ctx.Err() != nil || c.isClosed() {
			logger.Info("consumer stopped")
			return
		}
		logger.Warn("consumer channel closed, resubscribing")

		for {
			conn, err := c.waitConnection(ctx)
			if err != nil {
				logger.WithError(err).Info("consumer stopped")
				return
			}
			ch, deliveries, err = c.openConsumer(conn, sub)
			if err == nil {
				backoff = c.cfg.ReconnectMin
				logger.Info("consumer resubscribed")
				break
			}
			logger.WithError(err).WithField("retry_in", backoff.String()).Warn("resubscribe failed")
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff, c.cfg.ReconnectMin, c.cfg.ReconnectMax)
		}
	}
}

// drain обрабатывает доставки до закрытия канала или отмены ctx.
// Обработчик, начавший работу, доводится до конца.
func (c *Connection) drain(ctx context.Context, queue string, handler broker.Handler, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.handleDelivery(ctx, queue, d, handler)
		}
	}
}

// handleDelivery вызывает обработчик и подтверждает сообщение только после успеха.
// Ошибка ведёт к повторной публикации в ту же очередь с x-retry-count+1,
// после исчерпания лимита или при broker.Permanent отправляет в dead-letter exchange.
func (c *Connection) handleDelivery(ctx context.Context, queue string, d amqp.Delivery, handler broker.Handler) {
	msg := messageFromDelivery(d)
	logger := c.logger.WithFields(log.Fields{
		"queue":       queue,
		"exchange":    msg.Exchange,
		"routing_key": msg.RoutingKey,
	})

	err := handler(ctx, msg)
	outcome := broker.Decide(err, msg.RetryCount(), c.cfg.MaxRetries)
	brokerMessages.WithLabelValues(queue, outcome.String()).Inc()

	switch outcome {
	case broker.OutcomeAck:
		if ackErr := d.Ack(false); ackErr != nil {
			logger.WithError(ackErr).Warn("ack failed")
		}
		return

	case broker.OutcomeRetry:
		logger.WithError(err).WithFields(log.Fields{
			"retry_count": msg.RetryCount(),
			"max_retries": c.cfg.MaxRetries,
		}).Warn("message processing failed, will retry")

		headers := broker.RetryHeaders(msg)
		headers[broker.HeaderOriginalExchange] = msg.Exchange
		headers[broker.HeaderOriginalRoutingKey] = msg.RoutingKey
		// Пустой exchange с именем очереди доставляет копию только этому потребителю.
		if pubErr := c.republish(ctx, "", queue, msg.Body, headers); pubErr != nil {
			logger.WithError(pubErr).Error("retry publish failed, requeueing")
			_ = d.Nack(false, true)
			return
		}
		_ = d.Ack(false)

	case broker.OutcomeDeadLetter:
		headers := broker.DeadLetterHeaders(msg, err, time.Now())
		if pubErr := c.republish(ctx, broker.ExchangeDeadLetter, msg.RoutingKey, msg.Body, headers); pubErr != nil {
			logger.WithError(pubErr).Error("dead letter publish failed, requeueing")
			_ = d.Nack(false, true)
			return
		}
		logger.WithError(err).WithField("retry_count", msg.RetryCount()).Error("message sent to dead letter exchange")
		_ = d.Ack(false)
	}
}

// messageFromDelivery восстанавливает исходные exchange и routing key у повторных доставок.
func messageFromDelivery(d amqp.Delivery) broker.Message {
	headers := make(map[string]any, len(d.Headers))
	for k, v := range d.Headers {
		headers[k] = v
	}
	msg := broker.Message{
		Exchange:    d.Exchange,
		RoutingKey:  d.RoutingKey,
		Body:        d.Body,
		Headers:     headers,
		Redelivered: d.Redelivered || broker.RetryCountFromHeaders(headers) > 0,
	}
	if d.Exchange == "" {
		if exchange, ok := headers[broker.HeaderOriginalExchange].(string); ok && exchange != "" {
			msg.Exchange = exchange
		}
		if key, ok := headers[broker.HeaderOriginalRoutingKey].(string); ok && key != "" {
			msg.RoutingKey = key
		}
	}
	return msg
}

func (c *Connection) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// ConsumeDeadLetters читает durable-очередь dead letters и передаёт сообщения handler.
// Сообщение подтверждается только после успешного handler.
func (c *Connection) ConsumeDeadLetters(ctx context.Context, limit int, handler broker.Handler) (int, error) {
	conn, err := c.waitConnection(ctx)
	if err != nil {
		return 0, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return 0, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	processed := 0
	for limit <= 0 || processed < limit {
		d, ok, err := ch.Get(broker.QueueDeadLetters, false)
		if err != nil {
			return processed, fmt.Errorf("get dead letter: %w", err)
		}
		if !ok {
			return processed, nil
		}
		msg := broker.Message{
			Exchange:   d.Exchange,
			RoutingKey: d.RoutingKey,
			Body:       d.Body,
			Headers:    map[string]any(d.Headers),
		}
		if err := handler(ctx, msg); err != nil {
			_ = d.Nack(false, true)
			if errors.Is(err, context.Canceled) {
				return processed, err
			}
			return processed, fmt.Errorf("handle dead letter: %w", err)
		}
		if err := d.Ack(false); err != nil {
			return processed, fmt.Errorf("ack dead letter: %w", err)
		}
		processed++
	}
	return processed, nil
}

// InspectDeadLetters показывает до limit dead letters, не забирая их из очереди.
// Полученные сообщения остаются неподтверждёнными до конца обхода и возвращаются в очередь одним Nack.
func (c *Connection) InspectDeadLetters(ctx context.Context, limit int, inspect func(broker.Message)) (int, error) {
	conn, err := c.waitConnection(ctx)
	if err != nil {
		return 0, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return 0, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	var lastTag uint64
	seen := 0
	for limit <= 0 || seen < limit {
		if ctx.Err() != nil {
			break
		}
		d, ok, err := ch.Get(broker.QueueDeadLetters, false)
		if err != nil {
			return seen, fmt.Errorf("get dead letter: %w", err)
		}
		if !ok {
			break
		}
		lastTag = d.DeliveryTag
		seen++
		inspect(broker.Message{
			Exchange:   d.Exchange,
			RoutingKey: d.RoutingKey,
			Body:       d.Body,
			Headers:    map[string]any(d.Headers),
		})
	}
	if lastTag > 0 {
		if err := ch.Nack(lastTag, true, true); err != nil {
			return seen, fmt.Errorf("requeue inspected dead letters: %w", err)
		}
	}
	return seen, ctx.Err()
}

// PublishWithHeaders публикует готовое тело с заголовками (используется при повторе dead letters).
func (c *Connection) PublishWithHeaders(ctx context.Context, exchange, routingKey string, body []byte, headers map[string]any) error {
	return c.publishRaw(ctx, exchange, routingKey, body, headers)
}
