package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

// LogRoutes отдаёт последние записи агрегатора логов администратору.
type LogRoutes struct {
	reader domain.LogReader
}

// NewLogRoutes создаёт маршруты логов.
func NewLogRoutes(reader domain.LogReader) *LogRoutes {
	return &LogRoutes{reader: reader}
}

// Register реализует Routes.
func (h *LogRoutes) Register(r chi.Router) {
	r.Get("/logs", h.recent)
}

type logEventResponse struct {
	ID         string          `json:"id"`
	Exchange   string          `json:"exchange"`
	RoutingKey string          `json:"routing_key"`
	Level      string          `json:"level"`
	Service    string          `json:"service"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Raw        string          `json:"raw,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

func (h *LogRoutes) recent(w http.ResponseWriter, r *http.Request) {
	if !principalFrom(r.Context()).IsAdmin() {
		writeDomainError(w, domain.ErrForbidden)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	events, err := h.reader.Recent(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]logEventResponse, 0, len(events))
	for _, e := range events {
		item := logEventResponse{
			ID:         e.ID,
			Exchange:   e.Exchange,
			RoutingKey: e.RoutingKey,
			Level:      e.Level,
			Service:    e.Service,
			Timestamp:  e.Timestamp,
		}
		if json.Valid(e.Payload) {
			item.Payload = json.RawMessage(e.Payload)
		} else {
			item.Raw = string(e.Payload)
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}
