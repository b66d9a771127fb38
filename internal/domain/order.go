package domain

import (
	"fmt"
	"time"
)

// OrderStatus описывает жизненный цикл производственного заказа.
type OrderStatus string

const (
	// Заказ сохранён, оплата ещё не запрошена.
	OrderStatusCreated OrderStatus = "CREATED"
	// Запрос на списание отправлен в платёжный сервис.
	OrderStatusPaymentPending OrderStatus = "PAYMENT_PENDING"
	// Оплата подтверждена, детали переданы в производство.
	OrderStatusPaymentDone OrderStatus = "PAYMENT_DONE"
	// Оплата отклонена; производство не запускается.
	OrderStatusPaymentCanceled OrderStatus = "PAYMENT_CANCELED"
	// Все детали заказа произведены.
	OrderStatusFinished OrderStatus = "FINISHED"
	// Заказ доставлен клиенту.
	OrderStatusDelivered OrderStatus = "DELIVERED"
)

// orderTransitions — допустимые переходы статусов заказа.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:         {OrderStatusPaymentPending, OrderStatusPaymentDone, OrderStatusPaymentCanceled},
	OrderStatusPaymentPending:  {OrderStatusPaymentDone, OrderStatusPaymentCanceled},
	OrderStatusPaymentDone:     {OrderStatusFinished},
	OrderStatusFinished:        {OrderStatusDelivered},
	OrderStatusPaymentCanceled: nil,
	OrderStatusDelivered:       nil,
}

// Valid проверяет, что статус входит в закрытый набор значений.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// CanTransitionTo сообщает, разрешён ли переход в next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal возвращает true для статусов без исходящих переходов.
func (s OrderStatus) Terminal() bool {
	return s.Valid() && len(orderTransitions[s]) == 0
}

// Order агрегирует состояние производственного заказа.
type Order struct {
	ID             string
	ClientID       string
	NumberOfPieces int
	// Сумма списания с баланса клиента в минимальных единицах.
	Movement  int64
	Status    OrderStatus
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewOrder создаёт заказ в статусе CREATED.
func NewOrder(id, clientID string, numberOfPieces int, movement int64, now time.Time) Order {
	return Order{
		ID:             id,
		ClientID:       clientID,
		NumberOfPieces: numberOfPieces,
		Movement:       movement,
		Status:         OrderStatusCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.ID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if o.ClientID == "" {
		errs = append(errs, ErrClientRequired)
	}
	if o.NumberOfPieces <= 0 {
		errs = append(errs, ErrPiecesCountInvalid)
	}
	if o.Movement < 0 {
		errs = append(errs, ErrMovementNegative)
	}
	if !o.Status.Valid() {
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownStatus, o.Status))
	}

	return errs
}

// TransitionTo переводит заказ в новый статус, если переход есть в таблице.
func (o *Order) TransitionTo(next OrderStatus, now time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return &TransitionError{Entity: "order", ID: o.ID, From: string(o.Status), To: string(next)}
	}
	o.Status = next
	o.UpdatedAt = now
	return nil
}
