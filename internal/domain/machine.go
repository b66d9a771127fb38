package domain

import "time"

// MachineStatus — логическое состояние машины для статусного эндпоинта.
type MachineStatus string

const (
	MachineStatusIdle      MachineStatus = "IDLE"
	MachineStatusProducing MachineStatus = "PRODUCING"
)

// MachineState хранит снимок состояния машины.
type MachineState struct {
	Status            MachineStatus `json:"status"`
	WorkingPieceCount int           `json:"working_piece_count"`
	ProducedTotal     int64         `json:"produced_total"`
	LastPieceID       string        `json:"last_piece_id,omitempty"`
	UpdatedAt         time.Time     `json:"updated_at"`
}
