package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

// Exchange и служебные имена топологии.
const (
	ExchangeEvents     = "exchange"
	ExchangeCommands   = "commands"
	ExchangeDeadLetter = "dlx"
	QueueDeadLetters   = "dead-letters"
	DeadLetterPattern  = "#"
	DefaultMaxRetries  = 3
	ContentTypeJSON    = "application/json"
)

// Заголовки для retry и dead-letter логики.
const (
	HeaderRetryCount         = "x-retry-count"
	HeaderOriginalExchange   = "x-original-exchange"
	HeaderOriginalRoutingKey = "x-original-routing-key"
	HeaderErrorMessage       = "x-error-message"
	HeaderFailedAt           = "x-failed-at"
)

var (
	// Публикация или подписка без активного соединения.
	ErrNotConnected = errors.New("broker is not connected")
	// Брокер закрыт вызовом Close.
	ErrClosed = errors.New("broker is closed")
)

// Message — одно доставленное сообщение.
type Message struct {
	Exchange    string
	RoutingKey  string
	Body        []byte
	Headers     map[string]any
	Redelivered bool
}

// RetryCount возвращает счётчик повторов из заголовков сообщения.
func (m Message) RetryCount() int {
	return RetryCountFromHeaders(m.Headers)
}

// Handler обрабатывает сообщение. Ошибка означает повторную доставку.
type Handler func(ctx context.Context, msg Message) error

// Binding привязывает очередь к exchange по шаблону routing key.
type Binding struct {
	Exchange string
	Pattern  string
}

// Subscription описывает очередь потребителя и её привязки.
type Subscription struct {
	Queue    string
	Bindings []Binding
	// Durable очереди переживают соединение; по умолчанию очереди эксклюзивные.
	Durable bool
}

// Validate проверяет описание подписки.
func (s Subscription) Validate() error {
	if s.Queue == "" {
		return errors.New("subscription queue is required")
	}
	if len(s.Bindings) == 0 {
		return fmt.Errorf("subscription %s has no bindings", s.Queue)
	}
	for _, b := range s.Bindings {
		if b.Exchange == "" || b.Pattern == "" {
			return fmt.Errorf("subscription %s has incomplete binding", s.Queue)
		}
	}
	return nil
}

// Broker — соединение с брокером сообщений, общее для процесса.
type Broker interface {
	domain.EventPublisher
	// Subscribe объявляет очередь, привязывает её и запускает потребителя до отмены ctx.
	Subscribe(ctx context.Context, sub Subscription, handler Handler) error
	// Connected сообщает о состоянии соединения для health checks.
	Connected() bool
	Close() error
}

// Encode сериализует payload в JSON; []byte и json.RawMessage передаются как есть.
func Encode(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return nil, errors.New("payload is nil")
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		body, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return body, nil
	}
}

// RetryCountFromHeaders извлекает x-retry-count с учётом разных числовых типов AMQP.
func RetryCountFromHeaders(headers map[string]any) int {
	raw, ok := headers[HeaderRetryCount]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return 0
}

// CopyHeaders возвращает независимую копию заголовков.
func CopyHeaders(headers map[string]any) map[string]any {
	out := make(map[string]any, len(headers)+1)
	for k, v := range headers {
		out[k] = v
	}
	return out
}

// MatchTopic проверяет routing key по шаблону topic exchange:
// '*' совпадает ровно с одним словом, '#' с нулём или более слов.
func MatchTopic(pattern, routingKey string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		head := pattern[0]
		if head == "#" {
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(rest, key[i:]) {
					return true
				}
			}
			return false
		}
		if len(key) == 0 {
			return false
		}
		if head != "*" && head != key[0] {
			return false
		}
		pattern = pattern[1:]
		key = key[1:]
	}
	return len(key) == 0
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent помечает ошибку как неисправимую: сообщение уходит в dead letter без повторов.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent проверяет пометку Permanent в цепочке ошибок.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
