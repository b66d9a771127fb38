package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/mos/internal/domain"
	"github.com/vladislavdragonenkov/mos/internal/service/delivery"
)

// DeliveryService — операции сервиса доставки, доступные по HTTP.
type DeliveryService interface {
	GetDelivery(principal domain.Principal, orderID string) (domain.Delivery, error)
	ListDeliveries(principal domain.Principal, userID string) ([]domain.Delivery, error)
	CreateDelivery(ctx context.Context, principal domain.Principal, d domain.Delivery) (domain.Delivery, error)
	UpdateDelivery(ctx context.Context, principal domain.Principal, orderID string, update delivery.Update) (domain.Delivery, error)
	DeleteDelivery(ctx context.Context, principal domain.Principal, orderID string) error
	GetAddress(principal domain.Principal, userID string) (domain.Address, error)
	UpdateAddress(ctx context.Context, principal domain.Principal, address, zipCode string) (domain.Address, error)
}

// DeliveryRoutes обслуживает /deliveries и /addresses.
type DeliveryRoutes struct {
	svc DeliveryService
}

// NewDeliveryRoutes создаёт маршруты доставки.
func NewDeliveryRoutes(svc DeliveryService) *DeliveryRoutes {
	return &DeliveryRoutes{svc: svc}
}

// Register реализует Routes.
func (h *DeliveryRoutes) Register(r chi.Router) {
	r.Route("/deliveries", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{order_id}", h.get)
		r.Put("/{order_id}", h.update)
		r.Delete("/{order_id}", h.delete)
	})
	r.Get("/addresses", h.getAddress)
	r.Put("/addresses", h.putAddress)
}

type deliveryResponse struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	Address   string    `json:"address"`
	ZipCode   string    `json:"zip_code"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type createDeliveryRequest struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Status  string `json:"status"`
	Address string `json:"address"`
	ZipCode string `json:"zip_code"`
}

type updateDeliveryRequest struct {
	Address *string `json:"address"`
	ZipCode *string `json:"zip_code"`
	Status  *string `json:"status"`
}

type addressRequest struct {
	Address string `json:"address"`
	ZipCode string `json:"zip_code"`
}

type addressResponse struct {
	UserID  string `json:"user_id"`
	Address string `json:"address"`
	ZipCode string `json:"zip_code"`
}

func toDeliveryResponse(d domain.Delivery) deliveryResponse {
	return deliveryResponse{
		ID:        d.ID,
		OrderID:   d.OrderID,
		UserID:    d.UserID,
		Status:    string(d.Status),
		Address:   d.Address,
		ZipCode:   d.ZipCode,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func (h *DeliveryRoutes) list(w http.ResponseWriter, r *http.Request) {
	deliveries, err := h.svc.ListDeliveries(principalFrom(r.Context()), r.URL.Query().Get("user_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]deliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, toDeliveryResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *DeliveryRoutes) get(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.GetDelivery(principalFrom(r.Context()), chi.URLParam(r, "order_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeliveryResponse(d))
}

func (h *DeliveryRoutes) create(w http.ResponseWriter, r *http.Request) {
	var req createDeliveryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := h.svc.CreateDelivery(r.Context(), principalFrom(r.Context()), domain.Delivery{
		OrderID: req.OrderID,
		UserID:  req.UserID,
		Status:  domain.DeliveryStatus(req.Status),
		Address: req.Address,
		ZipCode: req.ZipCode,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeliveryResponse(d))
}

func (h *DeliveryRoutes) update(w http.ResponseWriter, r *http.Request) {
	var req updateDeliveryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	update := delivery.Update{Address: req.Address, ZipCode: req.ZipCode}
	if req.Status != nil {
		status := domain.DeliveryStatus(*req.Status)
		if !status.Valid() {
			writeDomainError(w, fmt.Errorf("%w: %q", domain.ErrUnknownStatus, *req.Status))
			return
		}
		update.Status = &status
	}

	d, err := h.svc.UpdateDelivery(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "order_id"), update)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeliveryResponse(d))
}

func (h *DeliveryRoutes) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteDelivery(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "order_id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DeliveryRoutes) getAddress(w http.ResponseWriter, r *http.Request) {
	addr, err := h.svc.GetAddress(principalFrom(r.Context()), r.URL.Query().Get("user_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addressResponse{UserID: addr.UserID, Address: addr.Address, ZipCode: addr.ZipCode})
}

func (h *DeliveryRoutes) putAddress(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	addr, err := h.svc.UpdateAddress(r.Context(), principalFrom(r.Context()), req.Address, req.ZipCode)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addressResponse{UserID: addr.UserID, Address: addr.Address, ZipCode: addr.ZipCode})
}
