package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

const (
	reasonClientNotFound    = "client not found"
	reasonInsufficientFunds = "insufficient funds"
)

type balanceRepositoryInMemory struct {
	mu       sync.Mutex
	balances map[string]domain.Balance
	payments map[string]domain.Payment
	now      func() time.Time
}

// NewBalanceRepository возвращает in-memory хранилище балансов.
// Проверка и списание выполняются под одной блокировкой.
func NewBalanceRepository() domain.BalanceRepository {
	return &balanceRepositoryInMemory{
		balances: make(map[string]domain.Balance),
		payments: make(map[string]domain.Payment),
		now:      time.Now,
	}
}

func (r *balanceRepositoryInMemory) Get(userID string) (domain.Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	balance, ok := r.balances[userID]
	if !ok {
		return domain.Balance{}, domain.ErrBalanceNotFound
	}
	return balance, nil
}

func (r *balanceRepositoryInMemory) Deposit(userID string, amount int64) (domain.Balance, error) {
	if userID == "" {
		return domain.Balance{}, domain.ErrClientRequired
	}
	if amount <= 0 {
		return domain.Balance{}, domain.ErrAmountInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	balance := r.balances[userID]
	balance.UserID = userID
	balance.Amount += amount
	balance.UpdatedAt = r.now().UTC()
	r.balances[userID] = balance
	return balance, nil
}

func (r *balanceRepositoryInMemory) Charge(orderID, userID string, movement int64) (domain.Payment, bool, error) {
	if orderID == "" {
		return domain.Payment{}, false, domain.ErrOrderIDRequired
	}
	if movement < 0 {
		return domain.Payment{}, false, domain.ErrMovementNegative
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.payments[orderID]; ok {
		return existing, true, nil
	}

	now := r.now().UTC()
	payment := domain.Payment{
		OrderID:   orderID,
		UserID:    userID,
		Movement:  movement,
		Status:    domain.PaymentStatusApproved,
		CreatedAt: now,
	}

	balance, ok := r.balances[userID]
	switch {
	case !ok:
		payment.Status = domain.PaymentStatusDeclined
		payment.Reason = reasonClientNotFound
	case balance.Amount < movement:
		payment.Status = domain.PaymentStatusDeclined
		payment.Reason = reasonInsufficientFunds
	default:
		balance.Amount -= movement
		balance.UpdatedAt = now
		r.balances[userID] = balance
	}

	r.payments[orderID] = payment
	return payment, false, nil
}

var _ domain.BalanceRepository = (*balanceRepositoryInMemory)(nil)
