package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/messaging/broker"
	"github.com/vladislavdragonenkov/mos/internal/messaging/rabbitmq"
)

const (
	defaultReplayLimit    = 100
	defaultConnectTimeout = 10 * time.Second
)

type config struct {
	amqp             rabbitmq.Config
	limit            int
	execute          bool
	fallbackExchange string
	connectTimeout   time.Duration
}

type replayMessage struct {
	exchange   string
	routingKey string
	body       []byte
	headers    map[string]any
}

// deadLetterSource покрывает ту часть rabbitmq.Connection, что нужна для повтора.
type deadLetterSource interface {
	InspectDeadLetters(ctx context.Context, limit int, inspect func(broker.Message)) (int, error)
	ConsumeDeadLetters(ctx context.Context, limit int, handler broker.Handler) (int, error)
	PublishWithHeaders(ctx context.Context, exchange, routingKey string, body []byte, headers map[string]any) error
	Close() error
}

var newReplayConnection = func(ctx context.Context, cfg config) (deadLetterSource, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.connectTimeout)
	defer cancel()

	conn, err := rabbitmq.Dial(dialCtx, cfg.amqp)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	return conn, nil
}

var errUnsupportedDeadLetter = errors.New("dead letter has no routing key")

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig() (config, error) {
	cfg := config{amqp: rabbitmq.DefaultConfig()}
	cfg.amqp.ConnectionName = "mos-dlq-reprocess"

	flag.StringVar(&cfg.amqp.URL, "amqp-url", "", "RabbitMQ URL (fallback: MOS_AMQP_URL)")
	flag.BoolVar(&cfg.amqp.TLS, "tls", false, "connect over amqps (fallback: MOS_AMQP_TLS)")
	flag.StringVar(&cfg.amqp.CAFile, "ca-file", "", "CA bundle for TLS (fallback: MOS_AMQP_CA_FILE)")
	flag.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of dead letters to scan/replay")
	flag.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	flag.StringVar(&cfg.fallbackExchange, "fallback-exchange", broker.ExchangeEvents, "exchange for dead letters without origin header")
	flag.DurationVar(&cfg.connectTimeout, "connect-timeout", defaultConnectTimeout, "broker connect timeout")
	flag.Parse()

	if strings.TrimSpace(cfg.amqp.URL) == "" {
		cfg.amqp.URL = os.Getenv("MOS_AMQP_URL")
	}
	if !cfg.amqp.TLS && strings.EqualFold(strings.TrimSpace(os.Getenv("MOS_AMQP_TLS")), "true") {
		cfg.amqp.TLS = true
	}
	if cfg.amqp.CAFile == "" {
		cfg.amqp.CAFile = os.Getenv("MOS_AMQP_CA_FILE")
	}

	if strings.TrimSpace(cfg.amqp.URL) == "" {
		return config{}, fmt.Errorf("amqp url is required (-amqp-url or MOS_AMQP_URL)")
	}
	if cfg.limit <= 0 {
		return config{}, fmt.Errorf("limit must be > 0")
	}
	if strings.TrimSpace(cfg.fallbackExchange) == "" {
		return config{}, fmt.Errorf("fallback-exchange is required")
	}
	if cfg.fallbackExchange == broker.ExchangeDeadLetter {
		return config{}, fmt.Errorf("fallback-exchange must not be %s", broker.ExchangeDeadLetter)
	}
	if cfg.connectTimeout <= 0 {
		return config{}, fmt.Errorf("connect-timeout must be > 0")
	}

	return cfg, nil
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"queue":   broker.QueueDeadLetters,
		"limit":   cfg.limit,
		"execute": cfg.execute,
	}).Info("starting dlq replay")

	source, err := newReplayConnection(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = source.Close() }()

	_, err = runReplay(ctx, cfg, source)
	return err
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

func runReplay(ctx context.Context, cfg config, source deadLetterSource) (replayStats, error) {
	var stats replayStats
	if source == nil {
		return stats, fmt.Errorf("dead letter source is required")
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
		n, err := source.ConsumeDeadLetters(ctx, cfg.limit, func(ctx context.Context, msg broker.Message) error {
			replay, err := extractReplayMessage(msg, cfg.fallbackExchange)
			if err != nil {
				return err
			}
			return source.PublishWithHeaders(ctx, replay.exchange, replay.routingKey, replay.body, replay.headers)
		})
		stats.processed = n
		stats.replayed = n
		if err != nil {
			return stats, err
		}
	} else {
		n, err := source.InspectDeadLetters(ctx, cfg.limit, func(msg broker.Message) {
			replay, err := extractReplayMessage(msg, cfg.fallbackExchange)
			if err != nil {
				stats.skipped++
				log.WithError(err).Warn("skip unsupported dead letter")
				return
			}
			stats.replayed++
			log.WithFields(log.Fields{
				"exchange":    replay.exchange,
				"routing_key": replay.routingKey,
				"error":       msg.Headers[broker.HeaderErrorMessage],
				"failed_at":   msg.Headers[broker.HeaderFailedAt],
			}).Info("dlq replay candidate")
		})
		stats.processed = n
		if err != nil {
			return stats, fmt.Errorf("inspect dead letters: %w", err)
		}
	}

	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": stats.processed,
		"replayed":  stats.replayed,
		"skipped":   stats.skipped,
	}).Info("dlq replay finished")

	return stats, nil
}

// extractReplayMessage определяет адрес исходной публикации и снимает служебные заголовки.
func extractReplayMessage(msg broker.Message, fallbackExchange string) (replayMessage, error) {
	exchange, routingKey := broker.ReplayTarget(msg)
	if strings.TrimSpace(routingKey) == "" {
		return replayMessage{}, errUnsupportedDeadLetter
	}
	if exchange == "" || exchange == broker.ExchangeDeadLetter {
		exchange = fallbackExchange
	}
	return replayMessage{
		exchange:   exchange,
		routingKey: routingKey,
		body:       msg.Body,
		headers:    broker.ReplayHeaders(msg),
	}, nil
}

func fail(format string, args ...any) {
	log.Errorf(format, args...)
	os.Exit(1)
}
