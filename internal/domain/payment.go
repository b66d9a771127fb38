package domain

import "time"

// Balance хранит остаток средств клиента в минимальных единицах. Не может быть отрицательным.
type Balance struct {
	UserID    string
	Amount    int64
	UpdatedAt time.Time
}

// PaymentStatus описывает исход списания по заказу.
type PaymentStatus string

const (
	// Средства списаны.
	PaymentStatusApproved PaymentStatus = "APPROVED"
	// Списание отклонено (нет клиента или недостаточно средств).
	PaymentStatusDeclined PaymentStatus = "DECLINED"
)

// Valid проверяет, что статус платежа относится к поддерживаемым значениям.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusApproved, PaymentStatusDeclined:
		return true
	default:
		return false
	}
}

// Payment фиксирует результат обработки одного запроса на списание.
// По OrderID платёжный сервис отличает повторную доставку от нового запроса.
type Payment struct {
	OrderID   string
	UserID    string
	Movement  int64
	Status    PaymentStatus
	Reason    string
	CreatedAt time.Time
}

// Approved возвращает true, если средства были списаны.
func (p Payment) Approved() bool {
	return p.Status == PaymentStatusApproved
}

// Validate проверяет базовые инварианты записи платежа.
func (p Payment) Validate() error {
	if p.OrderID == "" {
		return ErrOrderIDRequired
	}
	if p.UserID == "" {
		return ErrClientRequired
	}
	if p.Movement < 0 {
		return ErrMovementNegative
	}
	if !p.Status.Valid() {
		return ErrUnknownStatus
	}
	return nil
}
