// Package queue holds the hub's pending Tasks and the Results recorded for them.
package queue

import (
	"sync"
	"time"

	"github.com/JourdanThomas/CubeSat/internal/models"
)

// TaskQueue is a FIFO of pending Tasks plus a map from task id to Result.
// A single mutex covers every operation so enqueue, dequeue and result
// recording are atomic relative to each other.
type TaskQueue struct {
	mu      sync.Mutex
	nextID  models.TaskID
	pending []models.Task
	results map[models.TaskID]models.Result
	now     func() time.Time
}

// New creates an empty queue whose first id is 1
func New() *TaskQueue {
	return &TaskQueue{
		results: make(map[models.TaskID]models.Result),
		now:     time.Now,
	}
}

// Enqueue appends a new Task and returns its id
func (q *TaskQueue) Enqueue(taskType string, data map[string]any) models.TaskID {
	if data == nil {
		data = map[string]any{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	q.pending = append(q.pending, models.Task{
		ID:        q.nextID,
		Type:      taskType,
		Data:      data,
		CreatedAt: q.now(),
	})
	return q.nextID
}

// Dequeue removes and returns the oldest pending Task
func (q *TaskQueue) Dequeue() (models.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return models.Task{}, false
	}

	task := q.pending[0]
	q.pending[0] = models.Task{}
	q.pending = q.pending[1:]
	return task, true
}

// Requeue puts an undelivered Task back at the head of the queue.
// Tasks that already have a Result are not requeued.
func (q *TaskQueue) Requeue(task models.Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, done := q.results[task.ID]; done {
		return false
	}
	q.pending = append([]models.Task{task}, q.pending...)
	return true
}

// RecordResult stores result under its task id unless one is already
// present. It reports whether the result was stored.
func (q *TaskQueue) RecordResult(result models.Result) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.results[result.TaskID]; exists {
		return false
	}
	q.results[result.TaskID] = result
	return true
}

// Result returns the stored Result for id
func (q *TaskQueue) Result(id models.TaskID) (models.Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, ok := q.results[id]
	return r, ok
}

// Results returns a copy of every recorded Result
func (q *TaskQueue) Results() map[models.TaskID]models.Result {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[models.TaskID]models.Result, len(q.results))
	for id, r := range q.results {
		out[id] = r
	}
	return out
}

// PendingCount returns the number of Tasks waiting for a worker
func (q *TaskQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// CompletedCount returns the number of recorded Results
func (q *TaskQueue) CompletedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.results)
}
