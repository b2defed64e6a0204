package fanout

import (
	"context"
	"sync"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/metrics"
)

const defaultQueueSize = 1024

// Queue — ограниченная FIFO-очередь задач фан-аута. Переполнение вытесняет
// самую старую задачу: путь записи не блокируется, пропущенная инвалидация
// лечится TTL кэша.
type Queue struct {
	capacity int

	mu    sync.Mutex
	tasks []domain.FanoutTask
	wake  chan struct{}
}

// NewQueue создаёт очередь на capacity задач.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultQueueSize
	}
	return &Queue{
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

// Push кладёт задачу в хвост; при полной очереди вытесняет голову.
func (q *Queue) Push(task domain.FanoutTask) {
	q.mu.Lock()
	if len(q.tasks) >= q.capacity {
		q.tasks = q.tasks[1:]
		metrics.FanoutShed.Inc()
	}
	q.tasks = append(q.tasks, task)
	metrics.FanoutQueueDepth.Set(float64(len(q.tasks)))
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pop блокируется до появления задачи или отмены контекста.
func (q *Queue) Pop(ctx context.Context) (domain.FanoutTask, bool) {
	for {
		q.mu.Lock()
		if len(q.tasks) > 0 {
			task := q.tasks[0]
			q.tasks = q.tasks[1:]
			metrics.FanoutQueueDepth.Set(float64(len(q.tasks)))
			q.mu.Unlock()
			return task, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.FanoutTask{}, false
		case <-q.wake:
		}
	}
}

// Len возвращает текущую глубину очереди.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
