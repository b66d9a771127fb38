package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

const deliveryColumns = `id, order_id, user_id, status, address, zip_code, version, created_at, updated_at`

type deliveryRepository struct {
	db *sql.DB
}

// NewDeliveryRepository создаёт PostgreSQL-реализацию DeliveryRepository.
func NewDeliveryRepository(store *Store) domain.DeliveryRepository {
	return &deliveryRepository{db: store.DB()}
}

func (r *deliveryRepository) Create(d domain.Delivery, outbox ...domain.OutboxMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deliveries (`+deliveryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		d.ID, d.OrderID, d.UserID, string(d.Status), d.Address, d.ZipCode,
		d.Version, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			err = domain.ErrDeliveryExists
			return err
		}
		return fmt.Errorf("insert delivery: %w", err)
	}
	if err = insertOutbox(ctx, tx, outbox); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create delivery: %w", err)
	}
	return nil
}

func (r *deliveryRepository) GetByOrder(orderID string) (domain.Delivery, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	d, err := scanDelivery(r.db.QueryRowContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE order_id = $1
	`, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Delivery{}, domain.ErrDeliveryNotFound
		}
		return domain.Delivery{}, fmt.Errorf("select delivery: %w", err)
	}
	return d, nil
}

func (r *deliveryRepository) ListByUser(userID string) ([]domain.Delivery, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE user_id = $1
		ORDER BY created_at DESC, order_id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := make([]domain.Delivery, 0)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery row: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery rows: %w", err)
	}
	return deliveries, nil
}

func (r *deliveryRepository) Save(d domain.Delivery, outbox ...domain.OutboxMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE deliveries
		SET status = $1,
		    address = $2,
		    zip_code = $3,
		    version = version + 1,
		    updated_at = $4
		WHERE order_id = $5
		  AND version = $6
	`, string(d.Status), d.Address, d.ZipCode, d.UpdatedAt, d.OrderID, d.Version)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		exists, err = rowExistsTx(ctx, tx, `SELECT EXISTS (SELECT 1 FROM deliveries WHERE order_id = $1)`, d.OrderID)
		if err != nil {
			return err
		}
		if !exists {
			err = domain.ErrDeliveryNotFound
			return err
		}
		err = domain.ErrDeliveryVersionConflict
		return err
	}
	if err = insertOutbox(ctx, tx, outbox); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save delivery: %w", err)
	}
	return nil
}

func (r *deliveryRepository) Delete(orderID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM deliveries WHERE order_id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("delete delivery: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrDeliveryNotFound
	}
	return nil
}

func scanDelivery(row rowScanner) (domain.Delivery, error) {
	var (
		d      domain.Delivery
		status string
	)
	if err := row.Scan(
		&d.ID, &d.OrderID, &d.UserID, &status, &d.Address, &d.ZipCode,
		&d.Version, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return domain.Delivery{}, err
	}
	d.Status = domain.DeliveryStatus(status)
	return d, nil
}

type addressRepository struct {
	db *sql.DB
}

// NewAddressRepository создаёт PostgreSQL-реализацию AddressRepository.
func NewAddressRepository(store *Store) domain.AddressRepository {
	return &addressRepository{db: store.DB()}
}

func (r *addressRepository) Get(userID string) (domain.Address, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var a domain.Address
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, address, zip_code FROM addresses WHERE user_id = $1
	`, userID).Scan(&a.UserID, &a.Address, &a.ZipCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Address{}, domain.ErrAddressNotFound
		}
		return domain.Address{}, fmt.Errorf("select address: %w", err)
	}
	return a, nil
}

func (r *addressRepository) Upsert(a domain.Address) error {
	if a.UserID == "" {
		return domain.ErrClientRequired
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO addresses (user_id, address, zip_code)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET address = EXCLUDED.address, zip_code = EXCLUDED.zip_code
	`, a.UserID, a.Address, a.ZipCode); err != nil {
		return fmt.Errorf("upsert address: %w", err)
	}
	return nil
}

var (
	_ domain.DeliveryRepository = (*deliveryRepository)(nil)
	_ domain.AddressRepository  = (*addressRepository)(nil)
)
