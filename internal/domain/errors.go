package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка отсутствующего идентификатора клиента.
	ErrClientRequired = errors.New("client_id is required")
	// Ошибка количества деталей (<= 0).
	ErrPiecesCountInvalid = errors.New("number_of_pieces must be greater than zero")
	// Ошибка отрицательной суммы списания.
	ErrMovementNegative = errors.New("movement must be non-negative")
	// Ошибка некорректной суммы пополнения.
	ErrAmountInvalid = errors.New("amount must be greater than zero")
	// Ошибка неизвестного статуса.
	ErrUnknownStatus = errors.New("unknown status")
	// Переход отсутствует в таблице переходов.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// Заказ с таким ID уже сохранён.
	ErrOrderExists = errors.New("order already exists")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrPieceNotFound возвращается, если деталь не найдена.
	ErrPieceNotFound = errors.New("piece not found")
	// Текущий статус детали отличается от ожидаемого.
	ErrPieceStatusConflict = errors.New("piece status conflict")
	// У клиента нет баланса.
	ErrBalanceNotFound = errors.New("balance not found")
	// Списание сделало бы баланс отрицательным.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrDeliveryNotFound возвращается, если доставка не найдена.
	ErrDeliveryNotFound = errors.New("delivery not found")
	// Доставка для заказа уже заведена.
	ErrDeliveryExists = errors.New("delivery already exists")
	// ErrDeliveryVersionConflict сигнализирует о конфликте версий доставки.
	ErrDeliveryVersionConflict = errors.New("delivery version conflict")
	// У клиента нет сохранённого адреса.
	ErrAddressNotFound = errors.New("address not found")
	// У пользователя нет прав на операцию.
	ErrForbidden = errors.New("forbidden")
	// ErrOutboxNotFound возвращается, если запись outbox не найдена.
	ErrOutboxNotFound = errors.New("outbox message not found")
	// Репозиторий не подключён к outbox, а изменение несёт исходящие события.
	ErrOutboxUnavailable = errors.New("outbox is not configured")
)

// TransitionError описывает отклонённый переход статуса.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: %s -> %s: %v", e.Entity, e.ID, e.From, e.To, ErrInvalidTransition)
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrInvalidTransition).
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict) || errors.Is(err, ErrDeliveryVersionConflict)
}

// IsInvalidTransition проверяет, что ошибка вызвана запрещённым переходом.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
