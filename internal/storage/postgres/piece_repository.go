package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

type pieceRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewPieceRepository создаёт PostgreSQL-реализацию PieceRepository.
func NewPieceRepository(store *Store) domain.PieceRepository {
	return &pieceRepository{db: store.DB(), now: time.Now}
}

// CreateBatch вставляет все детали заказа в одной транзакции.
func (r *pieceRepository) CreateBatch(pieces []domain.Piece) error {
	if len(pieces) == 0 {
		return nil
	}
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

	for _, p := range pieces {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO pieces (id, order_id, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5)
		`, p.ID, p.OrderID, string(p.Status), p.CreatedAt, p.UpdatedAt); err != nil {
			if isUniqueViolation(err) {
				err = domain.ErrPieceStatusConflict
				return err
			}
			return fmt.Errorf("insert piece: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit pieces: %w", err)
	}
	return nil
}

func (r *pieceRepository) Get(id string) (domain.Piece, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	piece, err := scanPiece(r.db.QueryRowContext(ctx, `
		SELECT id, order_id, status, created_at, updated_at
		FROM pieces
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Piece{}, domain.ErrPieceNotFound
		}
		return domain.Piece{}, fmt.Errorf("select piece: %w", err)
	}
	return piece, nil
}

func (r *pieceRepository) ListByOrder(orderID string) ([]domain.Piece, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, status, created_at, updated_at
		FROM pieces
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list pieces: %w", err)
	}
	defer rows.Close()

	pieces := make([]domain.Piece, 0)
	for rows.Next() {
		piece, err := scanPiece(rows)
		if err != nil {
			return nil, fmt.Errorf("scan piece row: %w", err)
		}
		pieces = append(pieces, piece)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate piece rows: %w", err)
	}
	return pieces, nil
}

// CompareAndSetStatus обновляет статус условием WHERE status = from.
// События outbox пишутся в той же транзакции только при успешном переходе.
func (r *pieceRepository) CompareAndSetStatus(id string, from, to domain.PieceStatus, outbox ...domain.OutboxMessage) error {
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
		UPDATE pieces
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`, string(to), r.now().UTC(), id, string(from))
	if err != nil {
		return fmt.Errorf("update piece status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		exists, err = rowExistsTx(ctx, tx, `SELECT EXISTS (SELECT 1 FROM pieces WHERE id = $1)`, id)
		if err != nil {
			return err
		}
		if !exists {
			err = domain.ErrPieceNotFound
			return err
		}
		err = domain.ErrPieceStatusConflict
		return err
	}
	if err = insertOutbox(ctx, tx, outbox); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit piece status: %w", err)
	}
	return nil
}

func scanPiece(row rowScanner) (domain.Piece, error) {
	var (
		piece  domain.Piece
		status string
	)
	if err := row.Scan(&piece.ID, &piece.OrderID, &status, &piece.CreatedAt, &piece.UpdatedAt); err != nil {
		return domain.Piece{}, err
	}
	piece.Status = domain.PieceStatus(status)
	return piece, nil
}

var _ domain.PieceRepository = (*pieceRepository)(nil)
