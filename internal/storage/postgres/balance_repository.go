package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

const (
	reasonClientNotFound    = "client not found"
	reasonInsufficientFunds = "insufficient funds"
)

type balanceRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewBalanceRepository создаёт PostgreSQL-реализацию BalanceRepository.
func NewBalanceRepository(store *Store) domain.BalanceRepository {
	return &balanceRepository{db: store.DB(), now: time.Now}
}

func (r *balanceRepository) Get(userID string) (domain.Balance, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var balance domain.Balance
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, amount, updated_at
		FROM balances
		WHERE user_id = $1
	`, userID).Scan(&balance.UserID, &balance.Amount, &balance.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Balance{}, domain.ErrBalanceNotFound
		}
		return domain.Balance{}, fmt.Errorf("select balance: %w", err)
	}
	return balance, nil
}

func (r *balanceRepository) Deposit(userID string, amount int64) (domain.Balance, error) {
	if userID == "" {
		return domain.Balance{}, domain.ErrClientRequired
	}
	if amount <= 0 {
		return domain.Balance{}, domain.ErrAmountInvalid
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var balance domain.Balance
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO balances (user_id, amount, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET amount = balances.amount + EXCLUDED.amount,
		    updated_at = EXCLUDED.updated_at
		RETURNING user_id, amount, updated_at
	`, userID, amount, r.now().UTC()).Scan(&balance.UserID, &balance.Amount, &balance.UpdatedAt)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("deposit balance: %w", err)
	}
	return balance, nil
}

// Charge списывает movement в одной транзакции: строка баланса блокируется FOR UPDATE,
// а запись в payments по первичному ключу order_id отсекает повторное списание.
func (r *balanceRepository) Charge(orderID, userID string, movement int64) (domain.Payment, bool, error) {
	if orderID == "" {
		return domain.Payment{}, false, domain.ErrOrderIDRequired
	}
	if movement < 0 {
		return domain.Payment{}, false, domain.ErrMovementNegative
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Payment{}, false, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	existing, found, err := r.findPayment(ctx, tx, orderID)
	if err != nil {
		return domain.Payment{}, false, err
	}
	if found {
		err = tx.Commit()
		return existing, true, err
	}

	now := r.now().UTC()
	payment := domain.Payment{
		OrderID:   orderID,
		UserID:    userID,
		Movement:  movement,
		Status:    domain.PaymentStatusApproved,
		CreatedAt: now,
	}

	var amount int64
	err = tx.QueryRowContext(ctx, `SELECT amount FROM balances WHERE user_id = $1 FOR UPDATE`, userID).Scan(&amount)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = nil
		payment.Status = domain.PaymentStatusDeclined
		payment.Reason = reasonClientNotFound
	case err != nil:
		return domain.Payment{}, false, fmt.Errorf("lock balance: %w", err)
	case amount < movement:
		payment.Status = domain.PaymentStatusDeclined
		payment.Reason = reasonInsufficientFunds
	default:
		if _, err = tx.ExecContext(ctx, `
			UPDATE balances
			SET amount = amount - $1, updated_at = $2
			WHERE user_id = $3 AND amount >= $1
		`, movement, now, userID); err != nil {
			return domain.Payment{}, false, fmt.Errorf("debit balance: %w", err)
		}
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO payments (order_id, user_id, movement, status, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, payment.OrderID, payment.UserID, payment.Movement, string(payment.Status), payment.Reason, payment.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			_ = tx.Rollback()
			stored, _, getErr := r.findPayment(ctx, r.db, orderID)
			if getErr != nil {
				return domain.Payment{}, false, getErr
			}
			return stored, true, nil
		}
		return domain.Payment{}, false, fmt.Errorf("insert payment: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return domain.Payment{}, false, fmt.Errorf("commit charge: %w", err)
	}
	return payment, false, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *balanceRepository) findPayment(ctx context.Context, q queryRower, orderID string) (domain.Payment, bool, error) {
	var (
		payment domain.Payment
		status  string
	)
	err := q.QueryRowContext(ctx, `
		SELECT order_id, user_id, movement, status, reason, created_at
		FROM payments
		WHERE order_id = $1
	`, orderID).Scan(&payment.OrderID, &payment.UserID, &payment.Movement, &status, &payment.Reason, &payment.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Payment{}, false, nil
	}
	if err != nil {
		return domain.Payment{}, false, fmt.Errorf("select payment: %w", err)
	}
	payment.Status = domain.PaymentStatus(status)
	return payment, true, nil
}

var _ domain.BalanceRepository = (*balanceRepository)(nil)
