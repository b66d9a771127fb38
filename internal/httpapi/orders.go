package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

// OrderService перечисляет операции сервиса заказов, доступные по HTTP.
type OrderService interface {
	CreateOrder(ctx context.Context, principal domain.Principal, numberOfPieces int, movement int64) (domain.Order, error)
	GetOrder(principal domain.Principal, orderID string) (domain.Order, error)
	ListPieces(principal domain.Principal, orderID string) ([]domain.Piece, error)
	ListOrders(principal domain.Principal, clientID string, limit int) ([]domain.Order, error)
}

// OrderRoutes обслуживает /orders.
type OrderRoutes struct {
	svc OrderService
}

// NewOrderRoutes создаёт маршруты заказов.
func NewOrderRoutes(svc OrderService) *OrderRoutes {
	return &OrderRoutes{svc: svc}
}

// Register реализует Routes.
func (h *OrderRoutes) Register(r chi.Router) {
	r.Post("/orders", h.create)
	r.Get("/orders", h.list)
	r.Get("/orders/{id}", h.get)
	r.Get("/orders/{id}/pieces", h.pieces)
}

type createOrderRequest struct {
	NumberOfPieces int   `json:"number_of_pieces"`
	Movement       int64 `json:"movement"`
}

type orderResponse struct {
	ID             string    `json:"id"`
	ClientID       string    `json:"client_id"`
	NumberOfPieces int       `json:"number_of_pieces"`
	Movement       int64     `json:"movement"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type pieceResponse struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toOrderResponse(o domain.Order) orderResponse {
	return orderResponse{
		ID:             o.ID,
		ClientID:       o.ClientID,
		NumberOfPieces: o.NumberOfPieces,
		Movement:       o.Movement,
		Status:         string(o.Status),
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func (h *OrderRoutes) create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := h.svc.CreateOrder(r.Context(), principalFrom(r.Context()), req.NumberOfPieces, req.Movement)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *OrderRoutes) get(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.GetOrder(principalFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *OrderRoutes) list(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	orders, err := h.svc.ListOrders(principalFrom(r.Context()), r.URL.Query().Get("client_id"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrderRoutes) pieces(w http.ResponseWriter, r *http.Request) {
	pieces, err := h.svc.ListPieces(principalFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]pieceResponse, 0, len(pieces))
	for _, p := range pieces {
		out = append(out, pieceResponse{
			ID:        p.ID,
			OrderID:   p.OrderID,
			Status:    string(p.Status),
			CreatedAt: p.CreatedAt,
			UpdatedAt: p.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
