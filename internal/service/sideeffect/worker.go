package sideeffect

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/smartbag/commerce/internal/domain"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

var (
	taskAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commerce_sideeffect_attempts_total",
		Help: "Total number of side-effect task executions grouped by result.",
	}, []string{"result"})
	pendingTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "commerce_sideeffect_pending_tasks",
		Help: "Current number of pending side-effect tasks.",
	})
	oldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "commerce_sideeffect_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending side-effect task.",
	})
)

// Handler выполняет одну задачу пост-коммитного эффекта.
type Handler interface {
	Handle(ctx context.Context, task domain.SideEffectTask) error
}

// WorkerOptions задаёт параметры воркера пост-коммитных эффектов.
type WorkerOptions struct {
	Logger         *log.Entry
	DLQPublisher   domain.EventPublisher
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithDLQPublisher задаёт издателя для отправки задач в DLQ после исчерпания retry.
func WithDLQPublisher(publisher domain.EventPublisher) Option {
	return func(opts *WorkerOptions) {
		opts.DLQPublisher = publisher
	}
}

// WithPollInterval задаёт частоту опроса очереди.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча задач.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxAttempts задаёт число попыток выполнения перед failed/DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *WorkerOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.RetryBaseDelay = delay
	}
}

// Worker обрабатывает очередь пост-коммитных эффектов. Провал задачи после
// всех попыток уводит её в DLQ; записанный заказ при этом не трогается.
type Worker struct {
	queue          domain.TaskQueue
	handler        Handler
	dlqPublisher   domain.EventPublisher
	logger         *log.Entry
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// NewWorker создаёт воркер пост-коммитных эффектов.
func NewWorker(queue domain.TaskQueue, handler Handler, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "sideeffect-worker")
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}

	return &Worker{
		queue:          queue,
		handler:        handler,
		dlqPublisher:   opts.DLQPublisher,
		logger:         logger,
		pollInterval:   opts.PollInterval,
		batchSize:      opts.BatchSize,
		maxAttempts:    opts.MaxAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
	}
}

// Run запускает периодический опрос очереди до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.queue == nil || w.handler == nil {
		w.logger.Warn("side-effect worker is disabled: queue or handler is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один цикл опроса.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	w.refreshBacklogMetrics()

	tasks, err := w.queue.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending side-effect tasks")
		return
	}
	if len(tasks) == 0 {
		return
	}

	for _, task := range tasks {
		if ctx.Err() != nil {
			return
		}

		if err := w.handleWithRetry(ctx, task); err != nil {
			w.logger.WithError(err).WithFields(log.Fields{
				"task_id":  task.ID,
				"order_id": task.OrderID,
				"kind":     task.Kind,
			}).Error("side-effect task failed after retries")
			taskAttempts.WithLabelValues("failed").Inc()

			if dlqErr := w.publishToDLQ(task, err); dlqErr != nil {
				w.logger.WithError(dlqErr).WithField("task_id", task.ID).Warn("failed to publish task to DLQ")
				taskAttempts.WithLabelValues("dlq_failed").Inc()
			}
			if markErr := w.queue.MarkFailed(task.ID); markErr != nil {
				w.logger.WithError(markErr).WithField("task_id", task.ID).Warn("failed to mark task as failed")
			}
			continue
		}

		if err := w.queue.MarkDone(task.ID); err != nil {
			w.logger.WithError(err).WithField("task_id", task.ID).Warn("failed to mark task as done")
		}
	}

	w.refreshBacklogMetrics()
}

func (w *Worker) handleWithRetry(ctx context.Context, task domain.SideEffectTask) error {
	var lastErr error

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err := w.handler.Handle(ctx, task)
		if err == nil {
			taskAttempts.WithLabelValues("done").Inc()
			return nil
		}
		lastErr = err
		taskAttempts.WithLabelValues("retry_error").Inc()

		if attempt >= w.maxAttempts {
			break
		}

		delay := w.retryBackoff(attempt)
		if delay <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("task failed after %d attempts: %w", w.maxAttempts, lastErr)
}

// retryBackoff возвращает задержку перед следующей попыткой: base * 2^(attempt-1).
func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// publishToDLQ отправляет исчерпавшую попытки задачу в dead-letter топик.
func (w *Worker) publishToDLQ(task domain.SideEffectTask, cause error) error {
	if w.dlqPublisher == nil {
		return nil
	}

	envelope, err := json.Marshal(map[string]any{
		"task_id":   task.ID,
		"order_id":  task.OrderID,
		"kind":      string(task.Kind),
		"payload":   json.RawMessage(task.Payload),
		"error":     cause.Error(),
		"failed_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal DLQ envelope: %w", err)
	}

	return w.dlqPublisher.Publish(domain.EventMessage{
		ID:          task.ID,
		AggregateID: task.OrderID,
		EventType:   "sideeffect.dead_letter",
		Payload:     envelope,
	})
}

func (w *Worker) refreshBacklogMetrics() {
	stats, err := w.queue.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect task backlog stats")
		return
	}

	pendingTasks.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		oldestPendingAge.Set(0)
		return
	}

	age := time.Since(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	oldestPendingAge.Set(age)
}
