package app

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/version"
)

const envLogLevel = "MOS_LOG_LEVEL"

// SetupLogger настраивает формат и уровень логирования процесса.
func SetupLogger(lookup LookupFunc) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	raw, _ := lookup(envLogLevel)
	log.SetLevel(ParseLogLevel(raw))
}

// RunFromEnv читает конфигурацию сервиса из окружения и запускает его до отмены ctx.
// Штатная остановка по ctx не считается ошибкой.
func RunFromEnv(ctx context.Context, service Service, lookup LookupFunc) error {
	SetupLogger(lookup)
	cfg, warnings := ConfigFromEnv(service, lookup)
	logger := log.WithField("service", string(service))
	for _, w := range warnings {
		logger.Warn(w)
	}

	logger.WithFields(log.Fields{
		"http_addr": cfg.HTTPAddr,
		"broker":    cfg.Broker,
		"storage":   cfg.StorageDriver,
		"build":     version.String(),
	}).Info("starting service")

	if err := Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("service stopped")
	return nil
}
