package logs

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

const (
	DefaultRetention         = 72 * time.Hour
	defaultRetentionInterval = 10 * time.Minute
	defaultRetentionBatch    = 500
)

var (
	retentionRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mos_log_retention_runs_total",
		Help: "Total number of log retention runs grouped by result.",
	}, []string{"result"})
	retentionDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mos_log_retention_deleted_total",
		Help: "Total number of log events removed by retention.",
	})
	retentionLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mos_log_retention_last_deleted",
		Help: "Number of log events removed during the last retention run.",
	})
)

// RetentionOption настраивает RetentionWorker.
type RetentionOption func(*RetentionWorker)

func WithRetentionLogger(logger *log.Entry) RetentionOption {
	return func(w *RetentionWorker) {
		w.logger = logger
	}
}

// WithRetentionInterval задаёт паузу между проходами очистки.
func WithRetentionInterval(interval time.Duration) RetentionOption {
	return func(w *RetentionWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

func WithRetentionBatch(batch int) RetentionOption {
	return func(w *RetentionWorker) {
		if batch > 0 {
			w.batch = batch
		}
	}
}

// RetentionWorker периодически удаляет записи агрегатора старше окна хранения.
type RetentionWorker struct {
	pruner    domain.LogPruner
	retention time.Duration
	interval  time.Duration
	batch     int
	logger    *log.Entry
	now       func() time.Time
}

// NewRetentionWorker создаёт воркер; retention <= 0 заменяется на DefaultRetention.
func NewRetentionWorker(pruner domain.LogPruner, retention time.Duration, options ...RetentionOption) *RetentionWorker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	w := &RetentionWorker{
		pruner:    pruner,
		retention: retention,
		interval:  defaultRetentionInterval,
		batch:     defaultRetentionBatch,
		now:       time.Now,
	}
	for _, option := range options {
		option(w)
	}
	if w.logger == nil {
		w.logger = log.WithField("component", "log-retention")
	}
	return w
}

// Run выполняет очистку сразу и затем каждые interval до отмены ctx.
func (w *RetentionWorker) Run(ctx context.Context) {
	if w.pruner == nil {
		w.logger.Warn("log retention is disabled: sink cannot prune")
		return
	}

	w.prune(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.prune(ctx)
		}
	}
}

func (w *RetentionWorker) prune(ctx context.Context) {
	deleted, err := w.Prune(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		retentionRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("log retention run failed")
		return
	}

	retentionRunsTotal.WithLabelValues("ok").Inc()
	retentionLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("log retention completed")
	}
}

// Prune удаляет все записи старше окна хранения порциями по batch.
func (w *RetentionWorker) Prune(ctx context.Context) (int, error) {
	before := w.now().UTC().Add(-w.retention)

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.pruner.DeleteBefore(ctx, before, w.batch)
		if err != nil {
			return total, err
		}

		total += deleted
		if deleted > 0 {
			retentionDeletedTotal.Add(float64(deleted))
		}
		if deleted < w.batch {
			return total, nil
		}
	}
}
