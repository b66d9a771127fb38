package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

func sampleEvent(payload string) domain.LogEvent {
	return domain.LogEvent{
		ID:         "evt-1",
		Exchange:   "exchange",
		RoutingKey: "logs.info.payment",
		Level:      "info",
		Service:    "payment",
		Payload:    []byte(payload),
		Timestamp:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestProducer_AppendSendsRecordKeyedByService(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer, "")

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicLogs {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "payment" {
			return errors.New("unexpected key " + string(key))
		}
		value, _ := msg.Value.Encode()
		var r record
		if err := json.Unmarshal(value, &r); err != nil {
			return err
		}
		if r.RoutingKey != "logs.info.payment" || string(r.Payload) != `{"message":"approved"}` {
			return errors.New("unexpected record " + string(value))
		}
		return nil
	})

	if err := producer.Append(context.Background(), sampleEvent(`{"message":"approved"}`)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := producer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_AppendError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer, "custom.logs")

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := producer.Append(context.Background(), sampleEvent(`{}`))
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected ErrOutOfBrokers, got %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_AppendCanceledContext(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := producer.Append(ctx, sampleEvent(`{}`)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestEncodeRecord_NonJSONPayload(t *testing.T) {
	data, err := encodeRecord(sampleEvent("plain text"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.Payload != nil || string(r.Raw) != "plain text" {
		t.Fatalf("non-JSON payload must go to raw: %+v", r)
	}
}
