package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

// helper для создания базового заказа на три детали.
func makeOrder() domain.Order {
	return domain.NewOrder("order-1", "client-1", 3, 30, time.Now().UTC())
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
		want error
	}{
		{
			name: "no client",
			mut:  func(o *domain.Order) { o.ClientID = "" },
			want: domain.ErrClientRequired,
		},
		{
			name: "zero pieces",
			mut:  func(o *domain.Order) { o.NumberOfPieces = 0 },
			want: domain.ErrPiecesCountInvalid,
		},
		{
			name: "negative movement",
			mut:  func(o *domain.Order) { o.Movement = -1 },
			want: domain.ErrMovementNegative,
		},
		{
			name: "unknown status",
			mut:  func(o *domain.Order) { o.Status = "SHIPPED" },
			want: domain.ErrUnknownStatus,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)
			errs := order.ValidateInvariants()
			if len(errs) != 1 {
				t.Fatalf("expected exactly one error, got %v", errs)
			}
			if !errors.Is(errs[0], tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, errs[0])
			}
		})
	}
}

func TestOrderStatus_SagaPath(t *testing.T) {
	order := makeOrder()
	now := time.Now().UTC()

	path := []domain.OrderStatus{
		domain.OrderStatusPaymentPending,
		domain.OrderStatusPaymentDone,
		domain.OrderStatusFinished,
		domain.OrderStatusDelivered,
	}
	for _, next := range path {
		if err := order.TransitionTo(next, now); err != nil {
			t.Fatalf("transition to %s failed: %v", next, err)
		}
	}
	if !order.Status.Terminal() {
		t.Fatal("DELIVERED must be terminal")
	}
}

func TestOrderStatus_RejectsIllegalTransitions(t *testing.T) {
	cases := []struct {
		from domain.OrderStatus
		to   domain.OrderStatus
	}{
		{domain.OrderStatusPaymentCanceled, domain.OrderStatusPaymentDone},
		{domain.OrderStatusPaymentCanceled, domain.OrderStatusFinished},
		{domain.OrderStatusFinished, domain.OrderStatusFinished},
		{domain.OrderStatusPaymentPending, domain.OrderStatusFinished},
		{domain.OrderStatusDelivered, domain.OrderStatusFinished},
		{domain.OrderStatusPaymentDone, domain.OrderStatusPaymentPending},
	}

	for _, tc := range cases {
		order := makeOrder()
		order.Status = tc.from
		err := order.TransitionTo(tc.to, time.Now())
		if !domain.IsInvalidTransition(err) {
			t.Fatalf("%s -> %s: expected invalid transition, got %v", tc.from, tc.to, err)
		}
		if order.Status != tc.from {
			t.Fatalf("%s -> %s: status must stay unchanged, got %s", tc.from, tc.to, order.Status)
		}
	}
}

func TestPieceStatus_Transitions(t *testing.T) {
	if !domain.PieceStatusQueued.CanTransitionTo(domain.PieceStatusCreated) {
		t.Fatal("QUEUED -> CREATED must be allowed")
	}
	if !domain.PieceStatusCreated.CanTransitionTo(domain.PieceStatusProduced) {
		t.Fatal("CREATED -> PRODUCED must be allowed")
	}
	if domain.PieceStatusQueued.CanTransitionTo(domain.PieceStatusProduced) {
		t.Fatal("QUEUED -> PRODUCED must be rejected")
	}
	if domain.PieceStatusProduced.CanTransitionTo(domain.PieceStatusCreated) {
		t.Fatal("PRODUCED is final")
	}
}

func TestAllProduced(t *testing.T) {
	produced := domain.Piece{Status: domain.PieceStatusProduced}
	created := domain.Piece{Status: domain.PieceStatusCreated}

	if domain.AllProduced(nil) {
		t.Fatal("empty list must not count as produced")
	}
	if domain.AllProduced([]domain.Piece{produced, created, produced}) {
		t.Fatal("one unproduced piece must block FINISHED")
	}
	if !domain.AllProduced([]domain.Piece{produced, produced, produced}) {
		t.Fatal("all produced pieces must count as produced")
	}
}

func TestDeliveryStatus_Transitions(t *testing.T) {
	d := domain.Delivery{OrderID: "o-1", Status: domain.DeliveryStatusCreated}
	now := time.Now()

	if err := d.TransitionTo(domain.DeliveryStatusInProcess, now); err != nil {
		t.Fatalf("CREATED -> IN_PROCESS: %v", err)
	}
	if err := d.TransitionTo(domain.DeliveryStatusCanceled, now); !domain.IsInvalidTransition(err) {
		t.Fatalf("IN_PROCESS -> CANCELED must be rejected, got %v", err)
	}
	if err := d.TransitionTo(domain.DeliveryStatusCompleted, now); err != nil {
		t.Fatalf("IN_PROCESS -> COMPLETED: %v", err)
	}
	if err := d.TransitionTo(domain.DeliveryStatusDelivered, now); err != nil {
		t.Fatalf("COMPLETED -> DELIVERED: %v", err)
	}
	if err := d.TransitionTo(domain.DeliveryStatusInProcess, now); !domain.IsInvalidTransition(err) {
		t.Fatalf("DELIVERED is final, got %v", err)
	}
}

func TestParseLogRoutingKey(t *testing.T) {
	cases := []struct {
		key, level, service string
	}{
		{"logs.info.payment", "info", "payment"},
		{"logs.error.machine", "error", "machine"},
		{"logs.warning", "warning", ""},
		{"piece.created", "info", ""},
		{"logs", "info", ""},
	}
	for _, tc := range cases {
		level, service := domain.ParseLogRoutingKey(tc.key)
		if level != tc.level || service != tc.service {
			t.Fatalf("%s: got (%s, %s), want (%s, %s)", tc.key, level, service, tc.level, tc.service)
		}
	}
}

func TestPrincipal_CanAccess(t *testing.T) {
	owner := domain.Principal{UserID: "u-1", Role: domain.RoleUser}
	stranger := domain.Principal{UserID: "u-2", Role: domain.RoleUser}
	admin := domain.Principal{UserID: "root", Role: domain.RoleAdmin}
	anonymous := domain.Principal{}

	if !owner.CanAccess("u-1") || !admin.CanAccess("u-1") {
		t.Fatal("owner and admin must have access")
	}
	if stranger.CanAccess("u-1") || anonymous.CanAccess("") {
		t.Fatal("stranger and anonymous must be denied")
	}
}
