package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
)

// ErrStopped возвращается при постановке задачи в остановленный пул.
var ErrStopped = errors.New("worker pool stopped")

var (
	poolTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mos_worker_tasks_total",
		Help: "Tasks executed by worker pools grouped by result.",
	}, []string{"pool", "result"})
	poolPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mos_worker_pending_tasks",
		Help: "Tasks scheduled, queued or running in a worker pool.",
	}, []string{"pool"})
)

// Task описывает единицу работы пула.
type Task func(ctx context.Context) error

// Options задаёт параметры пула.
type Options struct {
	Name      string
	Workers   int
	QueueSize int
	Logger    *log.Entry
}

// Option настраивает Pool.
type Option func(*Options)

// WithName задаёт имя пула для логов и метрик.
func WithName(name string) Option {
	return func(opts *Options) {
		opts.Name = name
	}
}

// WithWorkers задаёт число горутин-исполнителей.
func WithWorkers(n int) Option {
	return func(opts *Options) {
		opts.Workers = n
	}
}

// WithQueueSize задаёт ёмкость очереди задач.
func WithQueueSize(n int) Option {
	return func(opts *Options) {
		opts.QueueSize = n
	}
}

// WithLogger задаёт logger пула.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

type job struct {
	name string
	task Task
}

// Pool выполняет задачи на фиксированном числе горутин.
// Отложенные задачи ждут на таймерах и отменяются при Stop.
type Pool struct {
	name    string
	workers int
	logger  *log.Entry
	queue   chan job

	mu      sync.RWMutex
	stopped bool
	started bool
	timers  map[uint64]*time.Timer
	nextID  uint64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	pending atomic.Int64
}

// NewPool создаёт пул. Горутины запускаются в Start.
func NewPool(options ...Option) *Pool {
	opts := Options{
		Name:      "default",
		Workers:   defaultWorkers,
		QueueSize: defaultQueueSize,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = defaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "worker-pool")
	}

	return &Pool{
		name:    opts.Name,
		workers: opts.Workers,
		logger:  logger.WithField("pool", opts.Name),
		queue:   make(chan job, opts.QueueSize),
		timers:  make(map[uint64]*time.Timer),
	}
}

// Start запускает исполнителей. Контекст задач отменяется при отмене ctx или в Stop.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.run()
	}
	p.logger.WithField("workers", p.workers).Info("worker pool started")
}

// Submit ставит задачу в очередь, блокируясь при заполненной очереди до отмены ctx.
func (p *Pool) Submit(ctx context.Context, name string, task Task) error {
	if task == nil {
		return fmt.Errorf("submit %s: task is nil", name)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	p.track(1)
	select {
	case p.queue <- job{name: name, task: task}:
		return nil
	case <-ctx.Done():
		p.track(-1)
		return ctx.Err()
	}
}

// Schedule ставит задачу в очередь через delay. Неистёкшие задачи отбрасываются при Stop.
func (p *Pool) Schedule(delay time.Duration, name string, task Task) error {
	if task == nil {
		return fmt.Errorf("schedule %s: task is nil", name)
	}
	if delay <= 0 {
		return p.Submit(context.Background(), name, task)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}

	p.nextID++
	id := p.nextID
	p.track(1)
	p.timers[id] = time.AfterFunc(delay, func() {
		p.mu.Lock()
		_, live := p.timers[id]
		delete(p.timers, id)
		p.mu.Unlock()
		if !live {
			// Stop успел удалить таймер, но не смог его остановить.
			p.track(-1)
			return
		}

		err := p.Submit(context.Background(), name, task)
		p.track(-1)
		if err != nil {
			p.logger.WithError(err).WithField("task", name).Warn("scheduled task dropped")
		}
	})
	return nil
}

// Pending возвращает число отложенных, ожидающих и выполняющихся задач.
func (p *Pool) Pending() int64 {
	return p.pending.Load()
}

// Stop прекращает приём задач, отменяет таймеры и дожидается задач из очереди.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	dropped := 0
	for id, timer := range p.timers {
		if timer.Stop() {
			dropped++
			p.track(-1)
		}
		delete(p.timers, id)
	}
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if started {
		p.wg.Wait()
		p.cancel()
	} else {
		for range p.queue {
			p.track(-1)
		}
	}
	p.logger.WithField("dropped_scheduled", dropped).Info("worker pool stopped")
}

func (p *Pool) run() {
	defer p.wg.Done()
	for j := range p.queue {
		p.execute(j)
	}
}

func (p *Pool) execute(j job) {
	defer p.track(-1)
	logger := p.logger.WithField("task", j.name)

	defer func() {
		if r := recover(); r != nil {
			poolTasks.WithLabelValues(p.name, "panic").Inc()
			logger.WithField("panic", fmt.Sprint(r)).Error("task panicked")
		}
	}()

	if err := j.task(p.ctx); err != nil {
		poolTasks.WithLabelValues(p.name, "error").Inc()
		logger.WithError(err).Warn("task failed")
		return
	}
	poolTasks.WithLabelValues(p.name, "ok").Inc()
}

func (p *Pool) track(delta int64) {
	p.pending.Add(delta)
	poolPending.WithLabelValues(p.name).Add(float64(delta))
}
