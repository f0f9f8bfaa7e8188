package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smartbag/commerce/internal/domain"
)

// taskRecord хранит задачу и служебные поля для in-memory очереди.
type taskRecord struct {
	task       domain.SideEffectTask
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

// taskQueueInMemory — простая in-memory очередь пост-коммитных эффектов.
type taskQueueInMemory struct {
	mu      sync.RWMutex
	records map[string]*taskRecord
	order   []string
}

// NewTaskQueue создаёт in-memory реализацию очереди задач.
func NewTaskQueue() *taskQueueInMemory {
	return &taskQueueInMemory{records: make(map[string]*taskRecord)}
}

// Enqueue сохраняет задачу со статусом `pending` и возвращает её с идентификатором.
func (q *taskQueueInMemory) Enqueue(task domain.SideEffectTask) (domain.SideEffectTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	q.records[task.ID] = &taskRecord{
		task:      task,
		status:    "pending",
		createdAt: now,
		updatedAt: now,
	}
	q.order = append(q.order, task.ID)
	return task, nil
}

// PullPending возвращает до limit задач со статусом `pending` в порядке постановки.
func (q *taskQueueInMemory) PullPending(limit int) ([]domain.SideEffectTask, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.SideEffectTask, 0, limit)
	for _, id := range q.order {
		rec, ok := q.records[id]
		if !ok || rec.status != "pending" {
			continue
		}
		result = append(result, rec.task)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// MarkDone фиксирует успешную обработку задачи.
func (q *taskQueueInMemory) MarkDone(id string) error {
	return q.setStatus(id, "done")
}

// MarkFailed фиксирует окончательный провал задачи (после исчерпания ретраев воркером).
func (q *taskQueueInMemory) MarkFailed(id string) error {
	return q.setStatus(id, "failed")
}

func (q *taskQueueInMemory) setStatus(id, status string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	record, ok := q.records[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	record.status = status
	record.attemptCnt++
	record.updatedAt = time.Now().UTC()
	return nil
}

// Stats возвращает размер и возраст backlog-а для метрик воркера.
func (q *taskQueueInMemory) Stats() (domain.TaskQueueStats, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var stats domain.TaskQueueStats
	for _, rec := range q.records {
		if rec.status != "pending" {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.createdAt
		}
	}
	return stats, nil
}

var _ domain.TaskQueue = (*taskQueueInMemory)(nil)
