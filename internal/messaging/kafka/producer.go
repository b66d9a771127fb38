package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

// TopicLogs задаёт топик, в который агрегатор складывает записи логов.
const TopicLogs = "mos.logs"

// record задаёт представление LogEvent в топике.
type record struct {
	ID         string          `json:"id"`
	Exchange   string          `json:"exchange"`
	RoutingKey string          `json:"routing_key"`
	Level      string          `json:"level"`
	Service    string          `json:"service"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Raw        []byte          `json:"raw,omitempty"`
	Timestamp  time.Time       `json:"ts"`
}

// Producer пишет события агрегатора логов в Kafka.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *log.Entry
}

// NewProducer создаёт синхронный idempotent producer для топика логов.
func NewProducer(brokers []string, topic string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return newProducer(producer, topic), nil
}

func newProducer(producer sarama.SyncProducer, topic string) *Producer {
	if topic == "" {
		topic = TopicLogs
	}
	return &Producer{
		producer: producer,
		topic:    topic,
		logger:   log.WithField("component", "kafka-log-sink"),
	}
}

// Append публикует событие. Ключом сообщения служит сервис-источник:
// записи одного сервиса попадают в одну партицию и сохраняют порядок.
func (p *Producer) Append(ctx context.Context, event domain.LogEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := encodeRecord(event)
	if err != nil {
		return err
	}

	key := event.Service
	if key == "" {
		key = event.Exchange
	}
	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Timestamp: event.Timestamp,
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic":       p.topic,
			"routing_key": event.RoutingKey,
		}).Error("failed to send log event to kafka")
		return fmt.Errorf("send log event: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     p.topic,
		"partition": partition,
		"offset":    offset,
	}).Debug("log event sent to kafka")
	return nil
}

// encodeRecord кладёт JSON-payload как есть, а не-JSON кодирует в base64-поле raw.
func encodeRecord(event domain.LogEvent) ([]byte, error) {
	r := record{
		ID:         event.ID,
		Exchange:   event.Exchange,
		RoutingKey: event.RoutingKey,
		Level:      event.Level,
		Service:    event.Service,
		Timestamp:  event.Timestamp,
	}
	if json.Valid(event.Payload) {
		r.Payload = json.RawMessage(event.Payload)
	} else {
		r.Raw = event.Payload
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal log event: %w", err)
	}
	return data, nil
}

// Close закрывает producer.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}

var _ domain.LogSink = (*Producer)(nil)
