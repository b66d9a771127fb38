package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

// PaymentService — операции платёжного сервиса, доступные по HTTP.
type PaymentService interface {
	GetBalance(principal domain.Principal, userID string) (domain.Balance, error)
	Deposit(ctx context.Context, principal domain.Principal, amount int64) (domain.Balance, error)
}

// PaymentRoutes обслуживает /balance.
type PaymentRoutes struct {
	svc PaymentService
}

// NewPaymentRoutes создаёт маршруты баланса.
func NewPaymentRoutes(svc PaymentService) *PaymentRoutes {
	return &PaymentRoutes{svc: svc}
}

// Register реализует Routes.
func (h *PaymentRoutes) Register(r chi.Router) {
	r.Get("/balance", h.own)
	r.Put("/balance", h.deposit)
	r.Get("/balance/{user_id}", h.byUser)
}

type depositRequest struct {
	Amount int64 `json:"amount"`
}

type balanceResponse struct {
	UserID    string    `json:"user_id"`
	Amount    int64     `json:"amount"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toBalanceResponse(b domain.Balance) balanceResponse {
	return balanceResponse{UserID: b.UserID, Amount: b.Amount, UpdatedAt: b.UpdatedAt}
}

func (h *PaymentRoutes) own(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	h.writeBalance(w, principal, principal.UserID)
}

func (h *PaymentRoutes) byUser(w http.ResponseWriter, r *http.Request) {
	h.writeBalance(w, principalFrom(r.Context()), chi.URLParam(r, "user_id"))
}

func (h *PaymentRoutes) writeBalance(w http.ResponseWriter, principal domain.Principal, userID string) {
	balance, err := h.svc.GetBalance(principal, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceResponse(balance))
}

func (h *PaymentRoutes) deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	balance, err := h.svc.Deposit(r.Context(), principalFrom(r.Context()), req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceResponse(balance))
}
