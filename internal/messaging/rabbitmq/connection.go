package rabbitmq

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/messaging/broker"
)

var (
	brokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mos_broker_connected",
		Help: "1 when the AMQP connection is open.",
	})
	brokerReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mos_broker_reconnects_total",
		Help: "Total number of successful AMQP reconnects.",
	})
	brokerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mos_broker_messages_total",
		Help: "Consumed messages grouped by queue and outcome.",
	}, []string{"queue", "outcome"})
)

// defaultExchanges объявляются при каждом (пере)подключении.
var defaultExchanges = []string{broker.ExchangeEvents, broker.ExchangeCommands, broker.ExchangeDeadLetter}

// Connection держит соединение с RabbitMQ на весь процесс.
// Переподключается при разрыве, заново объявляет топологию и перезапускает потребителей.
type Connection struct {
	cfg    Config
	logger *log.Entry

	mu        sync.RWMutex
	conn      *amqp.Connection
	pubCh     *amqp.Channel
	ready     chan struct{}
	exchanges []string
	closed    bool

	pubMu     sync.Mutex
	connected atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup

	// republish отправляет копию сообщения; подменяется в тестах.
	republish func(ctx context.Context, exchange, routingKey string, body []byte, headers map[string]any) error
}

// Dial подключается к брокеру, повторяя попытки до успеха или отмены ctx.
func Dial(ctx context.Context, cfg Config) (*Connection, error) {
	c := newConnection(cfg)
	if err := c.connectWithRetry(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func newConnection(cfg Config) *Connection {
	c := &Connection{
		cfg:       cfg.withDefaults(),
		logger:    log.WithField("component", "rabbitmq"),
		ready:     make(chan struct{}),
		exchanges: append([]string(nil), defaultExchanges...),
		done:      make(chan struct{}),
	}
	c.republish = c.publishRaw
	return c
}

func (c *Connection) connectWithRetry(ctx context.Context) error {
	backoff := c.cfg.ReconnectMin
	for {
		err := c.connect()
		if err == nil {
			return nil
		}
		if errors.Is(err, broker.ErrClosed) {
			return err
		}
		c.logger.WithError(err).WithField("retry_in", backoff.String()).Warn("amqp connect failed")

		select {
		case <-ctx.Done():
			return fmt.Errorf("connect rabbitmq: %w", ctx.Err())
		case <-c.done:
			return broker.ErrClosed
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, c.cfg.ReconnectMin, c.cfg.ReconnectMax)
	}
}

func (c *Connection) connect() error {
	url, useTLS, err := c.cfg.dialURL()
	if err != nil {
		return err
	}

	amqpCfg := amqp.Config{
		Heartbeat:  defaultHeartbeat,
		Locale:     "en_US",
		Properties: amqp.NewConnectionProperties(),
	}
	if c.cfg.ConnectionName != "" {
		amqpCfg.Properties.SetClientConnectionName(c.cfg.ConnectionName)
	}
	if useTLS {
		var tlsCfg *tls.Config
		if tlsCfg, err = c.cfg.tlsConfig(); err != nil {
			return err
		}
		if c.cfg.TLSInsecure {
			c.logger.Warn("TLS certificate verification is disabled")
		}
		amqpCfg.TLSClientConfig = tlsCfg
	}

	conn, err := amqp.DialConfig(url, amqpCfg)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open publish channel: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return broker.ErrClosed
	}
	exchanges := append([]string(nil), c.exchanges...)
	c.mu.Unlock()

	if err := declareTopology(ch, exchanges); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.pubCh = ch
	close(c.ready)
	c.mu.Unlock()

	c.connected.Store(true)
	brokerConnected.Set(1)

	notify := conn.NotifyClose(make(chan *amqp.Error, 1))
	c.wg.Add(1)
	go c.watch(notify)

	c.logger.WithFields(log.Fields{"tls": useTLS, "exchanges": exchanges}).Info("connected to rabbitmq")
	return nil
}

// declareTopology объявляет exchanges и durable-очередь dead letters.
func declareTopology(ch *amqp.Channel, exchanges []string) error {
	for _, name := range exchanges {
		if err := ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}
	if _, err := ch.QueueDeclare(broker.QueueDeadLetters, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead letter queue: %w", err)
	}
	if err := ch.QueueBind(broker.QueueDeadLetters, broker.DeadLetterPattern, broker.ExchangeDeadLetter, false, nil); err != nil {
		return fmt.Errorf("bind dead letter queue: %w", err)
	}
	return nil
}

// watch ждёт закрытия соединения и запускает переподключение.
func (c *Connection) watch(notify <-chan *amqp.Error) {
	defer c.wg.Done()

	var amqpErr *amqp.Error
	select {
	case amqpErr = <-notify:
	case <-c.done:
		return
	}

	c.mu.Lock()
	c.ready = make(chan struct{})
	c.pubCh = nil
	closed := c.closed
	c.mu.Unlock()
	c.connected.Store(false)
	brokerConnected.Set(0)

	if closed {
		return
	}
	c.logger.WithField("reason", fmt.Sprint(amqpErr)).Warn("rabbitmq connection lost, reconnecting")

	if err := c.connectWithRetry(context.Background()); err != nil {
		c.logger.WithError(err).Info("reconnect loop stopped")
		return
	}
	brokerReconnects.Inc()
}

// DeclareExchange объявляет durable topic exchange. Повторный вызов безопасен;
// exchange запоминается и объявляется заново после переподключения.
func (c *Connection) DeclareExchange(name string) error {
	c.mu.Lock()
	known := false
	for _, existing := range c.exchanges {
		if existing == name {
			known = true
			break
		}
	}
	if !known {
		c.exchanges = append(c.exchanges, name)
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return broker.ErrNotConnected
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	return nil
}

// Publish отправляет JSON-сообщение. Без соединения возвращает broker.ErrNotConnected.
func (c *Connection) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	body, err := broker.Encode(payload)
	if err != nil {
		return err
	}
	return c.publishRaw(ctx, exchange, routingKey, body, nil)
}

func (c *Connection) publishRaw(ctx context.Context, exchange, routingKey string, body []byte, headers map[string]any) error {
	c.mu.RLock()
	ch := c.pubCh
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return broker.ErrClosed
	}
	if ch == nil || !c.connected.Load() {
		return broker.ErrNotConnected
	}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  broker.ContentTypeJSON,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table(headers),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s/%s: %w", exchange, routingKey, err)
	}
	return nil
}

// Connected сообщает, открыто ли соединение.
func (c *Connection) Connected() bool {
	return c.connected.Load()
}

// waitConnection возвращает живое соединение, дожидаясь переподключения.
func (c *Connection) waitConnection(ctx context.Context) (*amqp.Connection, error) {
	for {
		c.mu.RLock()
		conn, ready, closed := c.conn, c.ready, c.closed
		c.mu.RUnlock()

		if closed {
			return nil, broker.ErrClosed
		}
		if conn != nil && !conn.IsClosed() && c.connected.Load() {
			return conn, nil
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			return nil, broker.ErrClosed
		}
	}
}

// Close закрывает соединение и ждёт остановки потребителей.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	close(c.done)
	c.mu.Unlock()

	var err error
	if conn != nil && !conn.IsClosed() {
		err = conn.Close()
	}
	c.wg.Wait()
	c.connected.Store(false)
	brokerConnected.Set(0)
	c.logger.Info("rabbitmq connection closed")
	return err
}

var _ broker.Broker = (*Connection)(nil)
