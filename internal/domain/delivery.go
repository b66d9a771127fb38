package domain

import (
	"strings"
	"time"
)

// DeliveryStatus описывает этапы доставки заказа.
type DeliveryStatus string

const (
	// Доставка заведена, адрес известен.
	DeliveryStatusCreated DeliveryStatus = "CREATED"
	// Заказ произведён и передан курьеру.
	DeliveryStatusInProcess DeliveryStatus = "IN_PROCESS"
	// Заказ готов, но адрес был снят до отправки.
	DeliveryStatusCompleted DeliveryStatus = "COMPLETED"
	// Заказ доставлен.
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	// У клиента нет адреса, доставка не заводится.
	DeliveryStatusCanceled DeliveryStatus = "CANCELED"
)

var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryStatusCreated:   {DeliveryStatusInProcess, DeliveryStatusCanceled},
	DeliveryStatusInProcess: {DeliveryStatusCompleted, DeliveryStatusDelivered},
	DeliveryStatusCompleted: {DeliveryStatusDelivered},
	DeliveryStatusDelivered: nil,
	DeliveryStatusCanceled:  nil,
}

// Valid проверяет, что статус доставки известен.
func (s DeliveryStatus) Valid() bool {
	_, ok := deliveryTransitions[s]
	return ok
}

// CanTransitionTo сообщает, разрешён ли переход доставки в next.
func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	for _, allowed := range deliveryTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Address — адрес доставки клиента.
type Address struct {
	UserID  string
	Address string
	ZipCode string
}

// Empty возвращает true, если адрес не заполнен.
func (a Address) Empty() bool {
	return strings.TrimSpace(a.Address) == ""
}

// Delivery описывает доставку заказа. OrderID однозначно её идентифицирует.
type Delivery struct {
	ID        string
	OrderID   string
	UserID    string
	Status    DeliveryStatus
	Address   string
	ZipCode   string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasAddress возвращает true, если у доставки есть адрес.
func (d Delivery) HasAddress() bool {
	return strings.TrimSpace(d.Address) != ""
}

// TransitionTo переводит доставку в новый статус по таблице переходов.
func (d *Delivery) TransitionTo(next DeliveryStatus, now time.Time) error {
	if !d.Status.CanTransitionTo(next) {
		return &TransitionError{Entity: "delivery", ID: d.OrderID, From: string(d.Status), To: string(next)}
	}
	d.Status = next
	d.UpdatedAt = now
	return nil
}
