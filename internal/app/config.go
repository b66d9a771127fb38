package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/health"
	"github.com/vladislavdragonenkov/mos/internal/messaging/rabbitmq"
	"github.com/vladislavdragonenkov/mos/internal/service/delivery"
	"github.com/vladislavdragonenkov/mos/internal/service/logs"
	"github.com/vladislavdragonenkov/mos/internal/service/machine"
)

// Service задаёт процесс, который запускает Run.
type Service string

const (
	ServicePayment  Service = "payment"
	ServiceOrder    Service = "order"
	ServiceMachine  Service = "machine"
	ServiceDelivery Service = "delivery"
	ServiceLogs     Service = "log-aggregator"
)

// Драйверы брокера, хранилища и приёмника логов.
const (
	BrokerRabbitMQ = "rabbitmq"
	BrokerMemory   = "memory"

	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"

	LogSinkMemory   = "memory"
	LogSinkPostgres = "postgres"
	LogSinkRedis    = "redis"
	LogSinkKafka    = "kafka"
)

// Переменные окружения.
const (
	envHTTPAddr          = "MOS_HTTP_ADDR"
	envBroker            = "MOS_BROKER"
	envAMQPURL           = "MOS_AMQP_URL"
	envAMQPTLS           = "MOS_AMQP_TLS"
	envAMQPTLSInsecure   = "MOS_AMQP_TLS_INSECURE"
	envAMQPCAFile        = "MOS_AMQP_CA_FILE"
	envAMQPPrefetch      = "MOS_AMQP_PREFETCH"
	envMaxRetries        = "MOS_MAX_RETRIES"
	envStorage           = "MOS_STORAGE"
	envPostgresDSN       = "MOS_POSTGRES_DSN"
	envPostgresMigrate   = "MOS_POSTGRES_AUTO_MIGRATE"
	envLogSink           = "MOS_LOG_SINK"
	envRedisAddr         = "MOS_REDIS_ADDR"
	envKafkaBrokers      = "MOS_KAFKA_BROKERS"
	envLogRetention      = "MOS_LOG_RETENTION"
	envProductionDelay   = "MOS_PRODUCTION_DELAY"
	envDeliveryDelay     = "MOS_DELIVERY_DELAY"
	envResourceThreshold = "MOS_RESOURCE_THRESHOLD"
	envWorkers           = "MOS_WORKERS"
	envOutboxPoll        = "MOS_OUTBOX_POLL_INTERVAL"
)

// Config описывает запуск одного сервиса.
type Config struct {
	Service  Service
	HTTPAddr string

	Broker string
	AMQP   rabbitmq.Config

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	LogSink      string
	RedisAddr    string
	KafkaBrokers []string
	// LogRetention задаёт окно хранения логов агрегатора; 0 отключает очистку.
	LogRetention time.Duration

	ProductionDelay    time.Duration
	DispatchDelay      time.Duration
	ResourceThreshold  float64
	ResourceInterval   time.Duration
	Workers            int
	// OutboxPollInterval задаёт частоту отправки outbox сервисов заказов и доставки.
	OutboxPollInterval time.Duration
	ShutdownTimeout    time.Duration
}

var defaultHTTPAddrs = map[Service]string{
	ServicePayment:  ":8001",
	ServiceOrder:    ":8002",
	ServiceMachine:  ":8003",
	ServiceDelivery: ":8004",
	ServiceLogs:     ":8005",
}

// DefaultConfig возвращает настройки сервиса для локального запуска с RabbitMQ.
func DefaultConfig(service Service) Config {
	amqp := rabbitmq.DefaultConfig()
	amqp.ConnectionName = "mos-" + string(service)
	return Config{
		Service:             service,
		HTTPAddr:            defaultHTTPAddrs[service],
		Broker:              BrokerRabbitMQ,
		AMQP:                amqp,
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		LogSink:             LogSinkMemory,
		LogRetention:        logs.DefaultRetention,
		ProductionDelay:     machine.DefaultProductionDelay,
		DispatchDelay:       delivery.DefaultDispatchDelay,
		ResourceThreshold:   health.DefaultResourceThreshold,
		ResourceInterval:    10 * time.Second,
		Workers:             4,
		OutboxPollInterval:  250 * time.Millisecond,
		ShutdownTimeout:     5 * time.Second,
	}
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	if _, ok := defaultHTTPAddrs[c.Service]; !ok {
		return fmt.Errorf("unknown service %q", c.Service)
	}
	switch c.Broker {
	case BrokerRabbitMQ, BrokerMemory:
	default:
		return fmt.Errorf("unknown broker %q", c.Broker)
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%s is required for postgres storage", envPostgresDSN)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	switch c.LogSink {
	case LogSinkMemory, LogSinkRedis:
	case LogSinkPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%s is required for postgres log sink", envPostgresDSN)
		}
	case LogSinkKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("%s is required for kafka log sink", envKafkaBrokers)
		}
	default:
		return fmt.Errorf("unknown log sink %q", c.LogSink)
	}
	if c.ResourceThreshold <= 0 || c.ResourceThreshold > 100 {
		return fmt.Errorf("resource threshold must be in (0, 100], got %v", c.ResourceThreshold)
	}
	return nil
}

// LookupFunc совпадает по сигнатуре с os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не прерывают запуск: остаётся значение по умолчанию, а в warnings попадает описание.
func ConfigFromEnv(service Service, lookup LookupFunc) (Config, []string) {
	cfg := DefaultConfig(service)
	env := envReader{lookup: lookup}

	cfg.HTTPAddr = env.String(envHTTPAddr, cfg.HTTPAddr)
	cfg.Broker = strings.ToLower(env.String(envBroker, cfg.Broker))
	cfg.AMQP.URL = env.String(envAMQPURL, cfg.AMQP.URL)
	cfg.AMQP.TLS = env.Bool(envAMQPTLS, cfg.AMQP.TLS)
	cfg.AMQP.TLSInsecure = env.Bool(envAMQPTLSInsecure, cfg.AMQP.TLSInsecure)
	cfg.AMQP.CAFile = env.String(envAMQPCAFile, cfg.AMQP.CAFile)
	cfg.AMQP.Prefetch = env.Int(envAMQPPrefetch, cfg.AMQP.Prefetch)
	cfg.AMQP.MaxRetries = env.Int(envMaxRetries, cfg.AMQP.MaxRetries)

	cfg.StorageDriver = strings.ToLower(env.String(envStorage, cfg.StorageDriver))
	cfg.PostgresDSN = env.String(envPostgresDSN, cfg.PostgresDSN)
	cfg.PostgresAutoMigrate = env.Bool(envPostgresMigrate, cfg.PostgresAutoMigrate)

	cfg.LogSink = strings.ToLower(env.String(envLogSink, cfg.LogSink))
	cfg.RedisAddr = env.String(envRedisAddr, cfg.RedisAddr)
	cfg.KafkaBrokers = env.List(envKafkaBrokers, cfg.KafkaBrokers)
	cfg.LogRetention = env.Duration(envLogRetention, cfg.LogRetention)

	cfg.ProductionDelay = env.Duration(envProductionDelay, cfg.ProductionDelay)
	cfg.DispatchDelay = env.Duration(envDeliveryDelay, cfg.DispatchDelay)
	cfg.ResourceThreshold = env.Float(envResourceThreshold, cfg.ResourceThreshold)
	cfg.Workers = env.Int(envWorkers, cfg.Workers)
	cfg.OutboxPollInterval = env.Duration(envOutboxPoll, cfg.OutboxPollInterval)

	return cfg, env.warnings
}

// ParseLogLevel разбирает MOS_LOG_LEVEL; пустое или неизвестное значение даёт info.
func ParseLogLevel(raw string) log.Level {
	level, err := log.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		return log.InfoLevel
	}
	return level
}

type envReader struct {
	lookup   LookupFunc
	warnings []string
}

func (e *envReader) raw(key string) (string, bool) {
	if e.lookup == nil {
		return "", false
	}
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) warn(key, value string, err error) {
	e.warnings = append(e.warnings, fmt.Sprintf("%s=%q ignored: %v", key, value, err))
}

func (e *envReader) String(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *envReader) Int(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		if err == nil {
			err = fmt.Errorf("must be non-negative")
		}
		e.warn(key, v, err)
		return def
	}
	return n
}

func (e *envReader) Float(key string, def float64) float64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.warn(key, v, err)
		return def
	}
	return f
}

func (e *envReader) Bool(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	e.warn(key, v, fmt.Errorf("not a boolean"))
	return def
}

func (e *envReader) Duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		if err == nil {
			err = fmt.Errorf("must be non-negative")
		}
		e.warn(key, v, err)
		return def
	}
	return d
}

func (e *envReader) List(key string, def []string) []string {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
