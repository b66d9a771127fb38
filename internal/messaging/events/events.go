package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/mos/internal/domain"
	"github.com/vladislavdragonenkov/mos/internal/messaging/broker"
)

// Routing keys доменных событий (exchange "exchange").
const (
	KeyOrderCreated        = "events.order.created"
	KeyOrderCreatedPending = "events.order.created.pending"
	KeyOrderChecked        = "events.order.checked"
	KeyPieceCreated        = "events.piece.created"
	KeyPieceProduced       = "events.piece.produced"
	KeyOrderProduced       = "events.order.produced"
	KeyOrderInProcess      = "events.order.inprocess"
	KeyOrderCompleted      = "events.order.completed"
	KeyOrderDelivered      = "events.order.delivered"
	KeyDeliveryChecked     = "events.delivery.checked"
	KeyDeliveryCreated     = "events.delivery.created"
)

// Routing keys команд машине (exchange "commands").
const (
	CommandPieceCreated = "piece.created"
	CommandPieceCancel  = "piece.cancel"
)

// Шаблоны подписки агрегатора логов.
const (
	PatternLogs        = "logs.#"
	PatternAllCommands = "#"
)

// ErrInvalidPayload означает, что сообщение не соответствует схеме своего routing key.
var ErrInvalidPayload = errors.New("invalid payload")

// Payload — тело сообщения со схемной проверкой.
type Payload interface {
	Validate() error
}

// Decode разбирает JSON в v и проверяет схему.
// Ошибки помечены broker.Permanent: такое сообщение бесполезно повторять.
func Decode(body []byte, v Payload) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return broker.Permanent(fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}
	if err := v.Validate(); err != nil {
		return broker.Permanent(fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}
	return nil
}

// Outbox проверяет payload и готовит его к записи в outbox вместе с изменением aggregateID.
func Outbox(aggregateID, exchange, routingKey string, payload Payload) (domain.OutboxMessage, error) {
	if err := payload.Validate(); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("%s: %w: %v", routingKey, ErrInvalidPayload, err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal %s: %w", routingKey, err)
	}
	return domain.OutboxMessage{
		AggregateID: aggregateID,
		Exchange:    exchange,
		RoutingKey:  routingKey,
		Payload:     body,
	}, nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

// OrderCreatedPending запрашивает списание (events.order.created.pending).
type OrderCreatedPending struct {
	OrderID  string `json:"id_order"`
	ClientID string `json:"id_client"`
	Movement int64  `json:"movement"`
}

func (p OrderCreatedPending) Validate() error {
	if err := required("id_order", p.OrderID); err != nil {
		return err
	}
	if err := required("id_client", p.ClientID); err != nil {
		return err
	}
	if p.Movement < 0 {
		return errors.New("movement must be non-negative")
	}
	return nil
}

// OrderChecked несёт результат проверки оплаты (events.order.checked).
type OrderChecked struct {
	OrderID  string `json:"id_order"`
	ClientID string `json:"id_client,omitempty"`
	Status   *bool  `json:"status"`
}

func (p OrderChecked) Validate() error {
	if err := required("id_order", p.OrderID); err != nil {
		return err
	}
	if p.Status == nil {
		return errors.New("status is required")
	}
	return nil
}

// Approved возвращает результат оплаты.
func (p OrderChecked) Approved() bool {
	return p.Status != nil && *p.Status
}

// NewOrderChecked создаёт событие результата оплаты.
func NewOrderChecked(orderID, clientID string, approved bool) OrderChecked {
	return OrderChecked{OrderID: orderID, ClientID: clientID, Status: &approved}
}

// OrderCreated — оплаченный заказ (events.order.created), его слушает доставка.
type OrderCreated struct {
	OrderID string `json:"id_order"`
	UserID  string `json:"user_id"`
}

func (p OrderCreated) Validate() error {
	if err := required("id_order", p.OrderID); err != nil {
		return err
	}
	return required("user_id", p.UserID)
}

// PieceCreated — деталь отправлена в производство (events.piece.created и команда piece.created).
type PieceCreated struct {
	PieceID string `json:"piece_id"`
	OrderID string `json:"order_id"`
}

func (p PieceCreated) Validate() error {
	if err := required("piece_id", p.PieceID); err != nil {
		return err
	}
	return required("order_id", p.OrderID)
}

// PieceProduced сообщает, что машина выпустила деталь (events.piece.produced).
type PieceProduced struct {
	PieceID string `json:"id_piece"`
	OrderID string `json:"id_order"`
}

func (p PieceProduced) Validate() error {
	if err := required("id_piece", p.PieceID); err != nil {
		return err
	}
	return required("id_order", p.OrderID)
}

// OrderRef — событие, несущее только идентификатор заказа
// (order.produced, order.inprocess, order.completed, order.delivered, delivery.created, piece.cancel).
type OrderRef struct {
	OrderID string `json:"id_order"`
}

func (p OrderRef) Validate() error {
	return required("id_order", p.OrderID)
}

// DeliveryChecked несёт результат проверки адреса (events.delivery.checked).
type DeliveryChecked struct {
	OrderID string `json:"id_order"`
	Status  bool   `json:"status"`
}

func (p DeliveryChecked) Validate() error {
	return required("id_order", p.OrderID)
}

// LogMessage — тело сообщения logs.<level>.<service>.
type LogMessage struct {
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	Service   string    `json:"service"`
	Timestamp time.Time `json:"ts"`
}

func (p LogMessage) Validate() error {
	return required("message", p.Message)
}

// LogRoutingKey формирует ключ logs.<level>.<service>.
func LogRoutingKey(level, service string) string {
	return "logs." + level + "." + service
}
