package domain

import "time"

// PieceStatus описывает состояние отдельной детали заказа.
type PieceStatus string

const (
	// Деталь зарегистрирована, команда машине ещё не отправлена.
	PieceStatusQueued PieceStatus = "QUEUED"
	// Команда на производство отправлена.
	PieceStatusCreated PieceStatus = "CREATED"
	// Машина сообщила о выпуске детали.
	PieceStatusProduced PieceStatus = "PRODUCED"
)

var pieceTransitions = map[PieceStatus][]PieceStatus{
	PieceStatusQueued:   {PieceStatusCreated},
	PieceStatusCreated:  {PieceStatusProduced},
	PieceStatusProduced: nil,
}

// Valid проверяет, что статус детали известен.
func (s PieceStatus) Valid() bool {
	_, ok := pieceTransitions[s]
	return ok
}

// CanTransitionTo сообщает, разрешён ли переход детали в next.
func (s PieceStatus) CanTransitionTo(next PieceStatus) bool {
	for _, allowed := range pieceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Piece — одна производимая единица заказа.
type Piece struct {
	ID        string
	OrderID   string
	Status    PieceStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AllProduced возвращает true, если список не пуст и все детали произведены.
func AllProduced(pieces []Piece) bool {
	if len(pieces) == 0 {
		return false
	}
	for _, p := range pieces {
		if p.Status != PieceStatusProduced {
			return false
		}
	}
	return true
}
