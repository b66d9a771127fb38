package logs

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/domain"
	"github.com/vladislavdragonenkov/mos/internal/messaging/broker"
	"github.com/vladislavdragonenkov/mos/internal/messaging/events"
)

const publishTimeout = 2 * time.Second

// Emitter пишет сообщение в локальный лог и публикует его как logs.<level>.<service>.
// Ошибка публикации не прерывает вызывающего: лог вторичен по отношению к саге.
type Emitter struct {
	publisher domain.EventPublisher
	service   string
	exchange  string
	logger    *log.Entry
	now       func() time.Time
}

// NewEmitter создаёт emitter для сервиса. При publisher == nil пишется только локальный лог.
func NewEmitter(publisher domain.EventPublisher, service string, logger *log.Entry) *Emitter {
	if logger == nil {
		logger = log.WithField("component", service)
	}
	return &Emitter{
		publisher: publisher,
		service:   service,
		exchange:  broker.ExchangeEvents,
		logger:    logger,
		now:       time.Now,
	}
}

// Info публикует сообщение уровня info.
func (e *Emitter) Info(ctx context.Context, message string, fields log.Fields) {
	e.emit(ctx, log.InfoLevel, message, fields)
}

// Warn публикует сообщение уровня warning.
func (e *Emitter) Warn(ctx context.Context, message string, fields log.Fields) {
	e.emit(ctx, log.WarnLevel, message, fields)
}

// Error публикует сообщение уровня error.
func (e *Emitter) Error(ctx context.Context, message string, fields log.Fields) {
	e.emit(ctx, log.ErrorLevel, message, fields)
}

func (e *Emitter) emit(ctx context.Context, level log.Level, message string, fields log.Fields) {
	if e == nil {
		return
	}
	e.logger.WithFields(fields).Log(level, message)
	if e.publisher == nil {
		return
	}

	payload := events.LogMessage{
		Message:   message,
		Level:     level.String(),
		Service:   e.service,
		Timestamp: e.now().UTC(),
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := e.publisher.Publish(pubCtx, e.exchange, events.LogRoutingKey(payload.Level, e.service), payload); err != nil {
		e.logger.WithError(err).Debug("log event not published")
	}
}
