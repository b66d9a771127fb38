package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/mos/internal/domain"
	"github.com/vladislavdragonenkov/mos/internal/messaging/broker"
	"github.com/vladislavdragonenkov/mos/internal/messaging/events"
	"github.com/vladislavdragonenkov/mos/internal/service/payment"
	"github.com/vladislavdragonenkov/mos/internal/storage/memory"
)

type published struct {
	exchange   string
	routingKey string
	body       []byte
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, exchange, routingKey string, payload any) error {
	if p.err != nil {
		return p.err
	}
	body, err := broker.Encode(payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *recordingPublisher) withKey(key string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.msgs {
		if m.routingKey == key {
			out = append(out, m)
		}
	}
	return out
}

func pendingMessage(t *testing.T, orderID, clientID string, movement int64) broker.Message {
	t.Helper()
	body, err := json.Marshal(events.OrderCreatedPending{OrderID: orderID, ClientID: clientID, Movement: movement})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return broker.Message{Exchange: broker.ExchangeEvents, RoutingKey: events.KeyOrderCreatedPending, Body: body}
}

func checkedStatus(t *testing.T, msg published) events.OrderChecked {
	t.Helper()
	var checked events.OrderChecked
	if err := events.Decode(msg.body, &checked); err != nil {
		t.Fatalf("decode order checked: %v", err)
	}
	return checked
}

func newService(t *testing.T, deposit int64) (*payment.Service, domain.BalanceRepository, *recordingPublisher) {
	t.Helper()
	balances := memory.NewBalanceRepository()
	if deposit > 0 {
		if _, err := balances.Deposit("client-1", deposit); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}
	pub := &recordingPublisher{}
	return payment.NewService(balances, pub), balances, pub
}

func TestHandleOrderPending_Approved(t *testing.T) {
	svc, balances, pub := newService(t, 100)

	if err := svc.HandleOrderPending(context.Background(), pendingMessage(t, "order-1", "client-1", 30)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	checked := pub.withKey(events.KeyOrderChecked)
	if len(checked) != 1 {
		t.Fatalf("expected one order checked event, got %d", len(checked))
	}
	if got := checkedStatus(t, checked[0]); !got.Approved() || got.OrderID != "order-1" {
		t.Fatalf("unexpected order checked payload: %+v", got)
	}
	balance, _ := balances.Get("client-1")
	if balance.Amount != 70 {
		t.Fatalf("expected balance 70, got %d", balance.Amount)
	}
	if len(pub.withKey(events.LogRoutingKey("info", payment.ServiceName))) == 0 {
		t.Fatal("expected payment log event")
	}
}

func TestHandleOrderPending_InsufficientFundsIsNotAnError(t *testing.T) {
	svc, balances, pub := newService(t, 10)

	if err := svc.HandleOrderPending(context.Background(), pendingMessage(t, "order-1", "client-1", 30)); err != nil {
		t.Fatalf("declined payment must be acked, got %v", err)
	}

	checked := pub.withKey(events.KeyOrderChecked)
	if len(checked) != 1 || checkedStatus(t, checked[0]).Approved() {
		t.Fatalf("expected single declined order checked event, got %+v", checked)
	}
	balance, _ := balances.Get("client-1")
	if balance.Amount != 10 {
		t.Fatalf("balance must stay 10, got %d", balance.Amount)
	}
}

func TestHandleOrderPending_UnknownClientDeclined(t *testing.T) {
	svc, _, pub := newService(t, 0)

	if err := svc.HandleOrderPending(context.Background(), pendingMessage(t, "order-1", "ghost", 5)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	checked := pub.withKey(events.KeyOrderChecked)
	if len(checked) != 1 || checkedStatus(t, checked[0]).Approved() {
		t.Fatalf("unknown client must be declined: %+v", checked)
	}
}

func TestHandleOrderPending_RedeliveryDoesNotDebitTwice(t *testing.T) {
	svc, balances, pub := newService(t, 100)
	msg := pendingMessage(t, "order-1", "client-1", 30)

	for i := 0; i < 3; i++ {
		if err := svc.HandleOrderPending(context.Background(), msg); err != nil {
			t.Fatalf("handle #%d: %v", i, err)
		}
	}

	balance, _ := balances.Get("client-1")
	if balance.Amount != 70 {
		t.Fatalf("expected a single debit, balance=%d", balance.Amount)
	}
	for _, m := range pub.withKey(events.KeyOrderChecked) {
		if !checkedStatus(t, m).Approved() {
			t.Fatal("redelivered request must republish the stored approval")
		}
	}
}

func TestHandleOrderPending_MalformedIsPermanent(t *testing.T) {
	svc, _, pub := newService(t, 100)

	err := svc.HandleOrderPending(context.Background(), broker.Message{Body: []byte(`{"id_order":"o1"}`)})
	if !broker.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if len(pub.withKey(events.KeyOrderChecked)) != 0 {
		t.Fatal("malformed request must not produce order checked")
	}
}

func TestHandleOrderPending_PublishFailureIsRetried(t *testing.T) {
	balances := memory.NewBalanceRepository()
	_, _ = balances.Deposit("client-1", 100)
	pub := &recordingPublisher{err: broker.ErrNotConnected}
	svc := payment.NewService(balances, pub)

	err := svc.HandleOrderPending(context.Background(), pendingMessage(t, "order-1", "client-1", 30))
	if !errors.Is(err, broker.ErrNotConnected) || broker.IsPermanent(err) {
		t.Fatalf("expected retryable publish error, got %v", err)
	}
}

func TestService_StartConsumesFromBroker(t *testing.T) {
	b := broker.NewMemory(broker.DefaultMaxRetries)
	defer b.Close()

	balances := memory.NewBalanceRepository()
	_, _ = balances.Deposit("client-1", 100)
	svc := payment.NewService(balances, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx, b); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := b.Publish(ctx, broker.ExchangeEvents, events.KeyOrderCreatedPending,
		events.OrderCreatedPending{OrderID: "order-1", ClientID: "client-1", Movement: 30}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	if err := b.WaitIdle(waitCtx); err != nil {
		t.Fatalf("wait idle: %v", err)
	}
	if got := len(b.PublishedWithKey(broker.ExchangeEvents, events.KeyOrderChecked)); got != 1 {
		t.Fatalf("expected one order checked event, got %d", got)
	}
}

func TestGetBalance_Authorization(t *testing.T) {
	svc, _, _ := newService(t, 50)

	owner := domain.Principal{UserID: "client-1", Role: domain.RoleUser}
	stranger := domain.Principal{UserID: "client-2", Role: domain.RoleUser}
	admin := domain.Principal{UserID: "root", Role: domain.RoleAdmin}

	if balance, err := svc.GetBalance(owner, "client-1"); err != nil || balance.Amount != 50 {
		t.Fatalf("owner read: balance=%+v err=%v", balance, err)
	}
	if _, err := svc.GetBalance(stranger, "client-1"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.GetBalance(admin, "client-1"); err != nil {
		t.Fatalf("admin read: %v", err)
	}
}

func TestDeposit(t *testing.T) {
	svc, _, _ := newService(t, 0)
	principal := domain.Principal{UserID: "client-1", Role: domain.RoleUser}

	balance, err := svc.Deposit(context.Background(), principal, 25)
	if err != nil || balance.Amount != 25 {
		t.Fatalf("deposit: balance=%+v err=%v", balance, err)
	}
	if _, err := svc.Deposit(context.Background(), principal, -1); !errors.Is(err, domain.ErrAmountInvalid) {
		t.Fatalf("expected ErrAmountInvalid, got %v", err)
	}
	if _, err := svc.Deposit(context.Background(), domain.Principal{}, 5); !errors.Is(err, domain.ErrClientRequired) {
		t.Fatalf("expected ErrClientRequired, got %v", err)
	}
}
