package hub

import (
	"context"
	"sync"
	"time"

	"github.com/JourdanThomas/CubeSat/internal/logger"
	"github.com/JourdanThomas/CubeSat/internal/models"
	"github.com/JourdanThomas/CubeSat/internal/queue"
)

// Waiter lets submitters block until a task's Result is recorded. Polling
// runs only while at least one task is registered.
type Waiter struct {
	queue         *queue.TaskQueue
	active        map[models.TaskID]chan<- models.Result
	mu            sync.Mutex
	pollInterval  time.Duration
	stopPolling   chan struct{}
	pollingActive bool
}

// NewWaiter creates a waiter over q
func NewWaiter(q *queue.TaskQueue, pollInterval time.Duration) *Waiter {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	return &Waiter{
		queue:        q,
		active:       make(map[models.TaskID]chan<- models.Result),
		pollInterval: pollInterval,
		stopPolling:  make(chan struct{}),
	}
}

// Register returns a channel that receives the Result for id, then closes
func (w *Waiter) Register(id models.TaskID) <-chan models.Result {
	resultChan := make(chan models.Result, 1)

	if result, ok := w.queue.Result(id); ok {
		resultChan <- result
		close(resultChan)
		return resultChan
	}

	w.mu.Lock()
	w.active[id] = resultChan
	if !w.pollingActive {
		w.pollingActive = true
		w.stopPolling = make(chan struct{})
		go w.poll(w.stopPolling)
	}
	w.mu.Unlock()

	logger.Debug("Waiting on task %d", id)
	return resultChan
}

// Wait blocks until the Result for id is recorded or ctx ends
func (w *Waiter) Wait(ctx context.Context, id models.TaskID) (models.Result, error) {
	resultChan := w.Register(id)
	select {
	case result := <-resultChan:
		return result, nil
	case <-ctx.Done():
		w.forget(id)
		return models.Result{}, ctx.Err()
	}
}

func (w *Waiter) forget(id models.TaskID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.active, id)
}

func (w *Waiter) poll(stop <-chan struct{}) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !w.check() {
				return
			}
		}
	}
}

// check delivers every recorded result and reports whether polling should continue
func (w *Waiter) check() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, resultChan := range w.active {
		result, ok := w.queue.Result(id)
		if !ok {
			continue
		}
		resultChan <- result
		close(resultChan)
		delete(w.active, id)
		logger.Debug("Task %d finished, no longer waiting", id)
	}

	if len(w.active) == 0 {
		w.pollingActive = false
		return false
	}
	return true
}

// Stop halts polling. Registered channels stay open.
func (w *Waiter) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pollingActive {
		close(w.stopPolling)
		w.pollingActive = false
	}
}
