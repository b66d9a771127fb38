package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/mos/internal/domain"
	"github.com/vladislavdragonenkov/mos/internal/storage/memory"
)

func newOrder(id string, createdAt time.Time) domain.Order {
	return domain.NewOrder(id, "client-1", 3, 30, createdAt)
}

func paymentRequest(orderID string) domain.OutboxMessage {
	return domain.OutboxMessage{
		AggregateID: orderID,
		Exchange:    "exchange",
		RoutingKey:  "events.order.created.pending",
		Payload:     []byte(`{"id_order":"` + orderID + `"}`),
	}
}

func TestOrderRepository_CreateWritesOutboxOnce(t *testing.T) {
	outbox := memory.NewOutboxRepository()
	repo := memory.NewOrderRepository(outbox)
	order := newOrder("order-1", time.Now().UTC())

	if err := repo.Create(order, paymentRequest(order.ID)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(order, paymentRequest(order.ID)); !errors.Is(err, domain.ErrOrderExists) {
		t.Fatalf("expected ErrOrderExists, got %v", err)
	}

	pending := outbox.Pending()
	if len(pending) != 1 {
		t.Fatalf("rejected create must not enqueue events, got %d", len(pending))
	}
	if pending[0].ID == "" || pending[0].CreatedAt.IsZero() || pending[0].AggregateID != order.ID {
		t.Fatalf("outbox record must get id and timestamp: %+v", pending[0])
	}

	stored, err := repo.Get(order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ClientID != "client-1" || stored.NumberOfPieces != 3 {
		t.Fatalf("unexpected order: %+v", stored)
	}
	if _, err := repo.Get("missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_EventsRequireOutbox(t *testing.T) {
	repo := memory.NewOrderRepository(nil)
	order := newOrder("order-1", time.Now().UTC())

	if err := repo.Create(order, paymentRequest(order.ID)); !errors.Is(err, domain.ErrOutboxUnavailable) {
		t.Fatalf("expected ErrOutboxUnavailable, got %v", err)
	}
	if _, err := repo.Get(order.ID); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("order must not be stored without its events, got %v", err)
	}
	if err := repo.Create(order); err != nil {
		t.Fatalf("create without events: %v", err)
	}
}

func TestOrderRepository_ListByClientNewestFirst(t *testing.T) {
	repo := memory.NewOrderRepository(memory.NewOutboxRepository())
	base := time.Now().UTC()
	// Вставка не по порядку: индекс клиента должен сам держать сортировку.
	for _, tc := range []struct {
		id     string
		offset time.Duration
	}{{"b", time.Second}, {"a", 0}, {"c", 2 * time.Second}, {"b2", time.Second}} {
		if err := repo.Create(newOrder(tc.id, base.Add(tc.offset))); err != nil {
			t.Fatalf("create %s: %v", tc.id, err)
		}
	}
	if err := repo.Create(domain.NewOrder("d", "client-2", 1, 10, base.Add(time.Hour))); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	all, err := repo.ListByClient("client-1", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	want := []string{"c", "b2", "b", "a"}
	if len(all) != len(want) {
		t.Fatalf("expected %d orders, got %d", len(want), len(all))
	}
	for i, id := range want {
		if all[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, all[i].ID)
		}
	}

	limited, _ := repo.ListByClient("client-1", 2)
	if len(limited) != 2 || limited[0].ID != "c" || limited[1].ID != "b2" {
		t.Fatalf("limit must keep the newest orders: %+v", limited)
	}
	if none, _ := repo.ListByClient("nobody", 5); len(none) != 0 {
		t.Fatalf("unknown client must have no orders, got %d", len(none))
	}
}

func TestOrderRepository_SaveConflictDropsEvents(t *testing.T) {
	outbox := memory.NewOutboxRepository()
	repo := memory.NewOrderRepository(outbox)
	order := newOrder("order-1", time.Now().UTC())
	if err := repo.Create(order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	first, _ := repo.Get(order.ID)
	second, _ := repo.Get(order.ID)

	if err := first.TransitionTo(domain.OrderStatusPaymentDone, time.Now()); err != nil {
		t.Fatalf("transition: %v", err)
	}
	created := domain.OutboxMessage{AggregateID: order.ID, Exchange: "exchange", RoutingKey: "events.order.created", Payload: []byte(`{}`)}
	if err := repo.Save(first, created); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if err := second.TransitionTo(domain.OrderStatusPaymentCanceled, time.Now()); err != nil {
		t.Fatalf("transition: %v", err)
	}
	cancel := domain.OutboxMessage{AggregateID: order.ID, Exchange: "commands", RoutingKey: "piece.cancel", Payload: []byte(`{}`)}
	if err := repo.Save(second, cancel); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	pending := outbox.Pending()
	if len(pending) != 1 || pending[0].RoutingKey != "events.order.created" {
		t.Fatalf("only the committed transition may leave an event: %+v", pending)
	}
	stored, _ := repo.Get(order.ID)
	if stored.Status != domain.OrderStatusPaymentDone || stored.Version != 1 {
		t.Fatalf("unexpected stored order: status=%s version=%d", stored.Status, stored.Version)
	}
	if err := repo.Save(domain.Order{ID: "missing"}); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_SaveKeepsOwnerAndCreationTime(t *testing.T) {
	repo := memory.NewOrderRepository(nil)
	createdAt := time.Now().UTC().Add(-time.Hour)
	if err := repo.Create(newOrder("order-1", createdAt)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, _ := repo.Get("order-1")
	stored.ClientID = "intruder"
	stored.CreatedAt = time.Now()
	if err := repo.Save(stored); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	reloaded, _ := repo.Get("order-1")
	if reloaded.ClientID != "client-1" || !reloaded.CreatedAt.Equal(createdAt) {
		t.Fatalf("owner and creation time must not change: %+v", reloaded)
	}
	if list, _ := repo.ListByClient("client-1", 0); len(list) != 1 {
		t.Fatalf("order must stay in its client index, got %d", len(list))
	}
}
