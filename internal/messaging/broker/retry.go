package broker

import (
	"time"
)

// Outcome описывает решение по сообщению после вызова обработчика.
type Outcome int

const (
	// Обработано, подтверждаем.
	OutcomeAck Outcome = iota
	// Повторная публикация с увеличенным x-retry-count.
	OutcomeRetry
	// Отправка в dead-letter exchange.
	OutcomeDeadLetter
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeRetry:
		return "retry"
	case OutcomeDeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// Decide выбирает судьбу сообщения по ошибке обработчика и счётчику повторов.
func Decide(err error, retryCount, maxRetries int) Outcome {
	if err == nil {
		return OutcomeAck
	}
	if IsPermanent(err) {
		return OutcomeDeadLetter
	}
	if retryCount < maxRetries {
		return OutcomeRetry
	}
	return OutcomeDeadLetter
}

// RetryHeaders возвращает заголовки копии сообщения для повторной доставки.
func RetryHeaders(msg Message) map[string]any {
	headers := CopyHeaders(msg.Headers)
	headers[HeaderRetryCount] = int32(msg.RetryCount() + 1)
	return headers
}

// DeadLetterHeaders возвращает заголовки сообщения, уходящего в dead letter.
func DeadLetterHeaders(msg Message, cause error, now time.Time) map[string]any {
	headers := CopyHeaders(msg.Headers)
	headers[HeaderRetryCount] = int32(msg.RetryCount())
	headers[HeaderOriginalExchange] = msg.Exchange
	headers[HeaderOriginalRoutingKey] = msg.RoutingKey
	headers[HeaderFailedAt] = now.UTC().Format(time.RFC3339)
	if cause != nil {
		headers[HeaderErrorMessage] = cause.Error()
	}
	return headers
}

// ReplayTarget возвращает exchange и routing key, куда вернуть dead letter.
func ReplayTarget(msg Message) (exchange, routingKey string) {
	exchange, _ = msg.Headers[HeaderOriginalExchange].(string)
	routingKey, _ = msg.Headers[HeaderOriginalRoutingKey].(string)
	if routingKey == "" {
		routingKey = msg.RoutingKey
	}
	return exchange, routingKey
}

// ReplayHeaders очищает служебные заголовки перед повторной публикацией dead letter.
func ReplayHeaders(msg Message) map[string]any {
	headers := CopyHeaders(msg.Headers)
	for _, k := range []string{
		HeaderRetryCount,
		HeaderOriginalExchange,
		HeaderOriginalRoutingKey,
		HeaderErrorMessage,
		HeaderFailedAt,
	} {
		delete(headers, k)
	}
	return headers
}
