package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

// MachineState отдаёт текущее состояние станка.
type MachineState interface {
	State() domain.MachineState
}

// MachineRoutes обслуживает /machine/status.
type MachineRoutes struct {
	machine MachineState
}

// NewMachineRoutes создаёт маршруты станка.
func NewMachineRoutes(machine MachineState) *MachineRoutes {
	return &MachineRoutes{machine: machine}
}

// Register реализует Routes.
func (h *MachineRoutes) Register(r chi.Router) {
	r.Get("/machine/status", h.status)
}

func (h *MachineRoutes) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.machine.State())
}
