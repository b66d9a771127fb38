package logs_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/domain"
	"github.com/vladislavdragonenkov/mos/internal/messaging/broker"
	"github.com/vladislavdragonenkov/mos/internal/messaging/events"
	"github.com/vladislavdragonenkov/mos/internal/metrics"
	"github.com/vladislavdragonenkov/mos/internal/service/logs"
	"github.com/vladislavdragonenkov/mos/internal/storage/memory"
)

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, string, any) error {
	return broker.ErrNotConnected
}

type failingSink struct {
	mu    sync.Mutex
	calls int
}

func (s *failingSink) Append(context.Context, domain.LogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return errors.New("disk full")
}

func TestEmitter_PublishesLogMessage(t *testing.T) {
	bus := broker.NewMemory(0)
	defer bus.Close()
	emitter := logs.NewEmitter(bus, "payment", nil)

	emitter.Info(context.Background(), "payment approved", log.Fields{"order_id": "o1"})
	emitter.Warn(context.Background(), "payment declined", nil)
	emitter.Error(context.Background(), "bad message", nil)

	published := bus.Published()
	if len(published) != 3 {
		t.Fatalf("expected 3 log messages, got %d", len(published))
	}
	wantKeys := []string{"logs.info.payment", "logs.warning.payment", "logs.error.payment"}
	for i, msg := range published {
		if msg.Exchange != broker.ExchangeEvents || msg.RoutingKey != wantKeys[i] {
			t.Fatalf("message %d: got %s/%s, want exchange/%s", i, msg.Exchange, msg.RoutingKey, wantKeys[i])
		}
	}

	var payload events.LogMessage
	if err := json.Unmarshal(published[0].Body, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Message != "payment approved" || payload.Service != "payment" || payload.Level != "info" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Timestamp.IsZero() {
		t.Fatal("timestamp must be set")
	}
}

func TestEmitter_PublishFailureDoesNotPanic(t *testing.T) {
	emitter := logs.NewEmitter(failingPublisher{}, "machine", nil)
	emitter.Info(context.Background(), "machine idle", nil)

	local := logs.NewEmitter(nil, "machine", nil)
	local.Warn(context.Background(), "local only", nil)

	var nilEmitter *logs.Emitter
	nilEmitter.Error(context.Background(), "ignored", nil)
}

func TestEmitter_CanceledContextStillPublishes(t *testing.T) {
	bus := broker.NewMemory(0)
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	logs.NewEmitter(bus, "order", nil).Info(ctx, "order created", nil)

	if got := len(bus.PublishedWithKey(broker.ExchangeEvents, "logs.info.order")); got != 1 {
		t.Fatalf("expected log message despite canceled ctx, got %d", got)
	}
}

func TestAggregator_StoresLogsAndCommands(t *testing.T) {
	sink := memory.NewLogRepository(0)
	m := metrics.NewServiceMetricsWithRegisterer("log-aggregator", prometheus.NewRegistry())
	aggregator := logs.NewAggregator(sink, m, nil)
	ctx := context.Background()

	err := aggregator.Handle(ctx, broker.Message{
		Exchange:   broker.ExchangeEvents,
		RoutingKey: "logs.warning.delivery",
		Body:       []byte(`{"message":"no address"}`),
	})
	if err != nil {
		t.Fatalf("handle log: %v", err)
	}
	err = aggregator.Handle(ctx, broker.Message{
		Exchange:   broker.ExchangeCommands,
		RoutingKey: events.CommandPieceCancel,
		Body:       []byte(`{"id_order":"o1"}`),
	})
	if err != nil {
		t.Fatalf("handle command: %v", err)
	}

	stored, err := sink.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 stored events, got %d", len(stored))
	}
	command, logEvent := stored[0], stored[1]
	if logEvent.Level != "warning" || logEvent.Service != "delivery" || string(logEvent.Payload) != `{"message":"no address"}` {
		t.Fatalf("unexpected log event: %+v", logEvent)
	}
	if command.Level != "info" || command.Service != "commands" || command.RoutingKey != events.CommandPieceCancel {
		t.Fatalf("unexpected command event: %+v", command)
	}
	if command.ID == "" || command.ID == logEvent.ID {
		t.Fatal("events must get distinct ids")
	}
}

func TestAggregator_SinkErrorIsAcked(t *testing.T) {
	sink := &failingSink{}
	aggregator := logs.NewAggregator(sink, nil, nil)

	err := aggregator.Handle(context.Background(), broker.Message{
		Exchange:   broker.ExchangeEvents,
		RoutingKey: "logs.info.order",
		Body:       []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("sink failure must not fail the handler, got %v", err)
	}
	if sink.calls != 1 {
		t.Fatalf("expected one append attempt, got %d", sink.calls)
	}
}

func TestAggregator_StartReceivesEmittedLogs(t *testing.T) {
	bus := broker.NewMemory(0)
	defer bus.Close()
	sink := memory.NewLogRepository(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := logs.NewAggregator(sink, nil, nil).Start(ctx, bus); err != nil {
		t.Fatalf("start: %v", err)
	}
	logs.NewEmitter(bus, "machine", nil).Info(ctx, "machine producing", nil)
	_ = bus.Publish(ctx, broker.ExchangeCommands, events.CommandPieceCreated, events.PieceCreated{PieceID: "p1", OrderID: "o1"})
	_ = bus.Publish(ctx, broker.ExchangeEvents, events.KeyOrderCreated, events.OrderCreated{OrderID: "o1", UserID: "u1"})

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	if err := bus.WaitIdle(waitCtx); err != nil {
		t.Fatalf("wait idle: %v", err)
	}

	stored, _ := sink.Recent(ctx, 0)
	if len(stored) != 2 {
		t.Fatalf("expected log and command stored, domain event skipped; got %d", len(stored))
	}
}
