package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/domain"
	"github.com/vladislavdragonenkov/mos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/mos/internal/storage/memory"
	"github.com/vladislavdragonenkov/mos/internal/storage/postgres"
	"github.com/vladislavdragonenkov/mos/internal/storage/redisstream"
)

// logSink хранит выбранное хранилище агрегатора логов.
// reader и ping заданы не у всех драйверов: Kafka только принимает запись.
// pruner есть у хранилищ без собственного ограничения размера.
type logSink struct {
	sink   domain.LogSink
	reader domain.LogReader
	pruner domain.LogPruner
	ping   func(ctx context.Context) error
	close  func() error
}

// initLogSink создаёт приёмник логов по cfg.LogSink.
func initLogSink(ctx context.Context, cfg Config, deps *Dependencies, logger *log.Entry) (logSink, error) {
	switch cfg.LogSink {
	case LogSinkMemory:
		repo := memory.NewLogRepository(0)
		return logSink{sink: repo, reader: repo, pruner: repo}, nil

	case LogSinkPostgres:
		if deps == nil || deps.Store == nil {
			return logSink{}, fmt.Errorf("postgres log sink requires an open store")
		}
		repo := postgres.NewLogRepository(deps.Store)
		return logSink{sink: repo, reader: repo, pruner: repo, ping: deps.Store.Ping}, nil

	case LogSinkRedis:
		stream := redisstream.NewLogStream(cfg.RedisAddr, redisstream.DefaultStream, redisstream.DefaultMaxLen)
		if err := stream.Ping(ctx); err != nil {
			// Недоступность Redis видна в health check.
			logger.WithError(err).Warn("redis log stream is not reachable yet")
		}
		return logSink{sink: stream, reader: stream, ping: stream.Ping, close: stream.Close}, nil

	case LogSinkKafka:
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, kafka.TopicLogs)
		if err != nil {
			return logSink{}, err
		}
		logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka log sink initialized")
		return logSink{sink: producer, close: producer.Close}, nil
	}
	return logSink{}, fmt.Errorf("unknown log sink %q", cfg.LogSink)
}

// closeLogSink закрывает приёмник, если у него есть ресурсы.
func closeLogSink(sink logSink, logger *log.Entry) {
	if sink.close == nil {
		return
	}
	if err := sink.close(); err != nil {
		logger.WithError(err).Warn("failed to close log sink")
	} else {
		logger.Info("log sink closed")
	}
}
