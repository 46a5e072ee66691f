// Package hub accepts worker connections, hands out queued tasks and
// records their results.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JourdanThomas/CubeSat/internal/config"
	"github.com/JourdanThomas/CubeSat/internal/logger"
	"github.com/JourdanThomas/CubeSat/internal/models"
	"github.com/JourdanThomas/CubeSat/internal/queue"
	"github.com/JourdanThomas/CubeSat/internal/utils"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Observer is notified of session and result events. Calls come from
// handler goroutines and must not block.
type Observer interface {
	SessionChanged(info models.SessionInfo)
	SessionClosed(info models.SessionInfo, reason error)
	ResultRecorded(result models.Result)
	TaskLost(task models.Task, requeued bool)
}

// Option configures a Hub
type Option func(*Hub)

// WithObserver adds an event observer
func WithObserver(o Observer) Option {
	return func(h *Hub) { h.observers = append(h.observers, o) }
}

// WithSessionIDs replaces the session id generator
func WithSessionIDs(next func() string) Option {
	return func(h *Hub) { h.newSessionID = next }
}

// Hub owns the listener and coordinates Connection Handlers around a shared TaskQueue
type Hub struct {
	cfg          *config.HubConfig
	queue        *queue.TaskQueue
	metrics      *Metrics
	registry     *Registry
	observers    []Observer
	newSessionID func() string

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New creates a hub around q
func New(cfg *config.HubConfig, q *queue.TaskQueue, opts ...Option) *Hub {
	h := &Hub{
		cfg:          cfg,
		queue:        q,
		metrics:      NewMetrics(q),
		registry:     NewRegistry(),
		newSessionID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Queue returns the hub's task queue
func (h *Hub) Queue() *queue.TaskQueue {
	return h.queue
}

// Metrics returns the hub's metrics
func (h *Hub) Metrics() *Metrics {
	return h.metrics
}

// ErrInvalidTaskData is returned by Submit when the task data cannot go on the wire
var ErrInvalidTaskData = errors.New("invalid task data")

// Submit enqueues a task for the fleet and returns its id
func (h *Hub) Submit(taskType string, data map[string]any) (models.TaskID, error) {
	if _, err := json.Marshal(data); err != nil {
		return 0, fmt.Errorf("%w for %s task: %w", ErrInvalidTaskData, taskType, err)
	}

	id := h.queue.Enqueue(taskType, data)
	h.metrics.tasksSubmitted.WithLabelValues(taskType).Inc()
	logger.Info("Task %d (%s) submitted", id, taskType)
	return id, nil
}

// Status returns a snapshot for the status endpoint
func (h *Hub) Status() models.HubStatus {
	return models.HubStatus{
		Pending:   h.queue.PendingCount(),
		Completed: h.queue.CompletedCount(),
		Sessions:  h.registry.Snapshot(),
	}
}

// Listen binds the configured port. Failure here is fatal for the hub.
func (h *Hub) Listen() error {
	ln, err := net.Listen("tcp", h.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.cfg.ListenAddr(), err)
	}

	h.mu.Lock()
	h.listener = ln
	h.mu.Unlock()

	logger.Info("Hub listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, nil before Listen
func (h *Hub) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Serve accepts connections until ctx is cancelled, then waits for every
// Connection Handler to return.
func (h *Hub) Serve(ctx context.Context) error {
	h.mu.Lock()
	ln := h.listener
	h.mu.Unlock()
	if ln == nil {
		return errors.New("hub is not listening")
	}

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}

			if backoff == 0 {
				backoff = minAcceptBackoff
			} else if backoff *= 2; backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			logger.Error("Accept error: %v; retrying in %v", err, backoff)
			if utils.Sleep(ctx, backoff) != nil {
				break
			}
			continue
		}
		backoff = 0

		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.handle(ctx, conn)
		}()
	}

	h.wg.Wait()
	logger.Info("Hub stopped accepting connections")
	return nil
}

func (h *Hub) notifySession(info models.SessionInfo) {
	h.registry.Update(info)
	for _, o := range h.observers {
		o.SessionChanged(info)
	}
}

func (h *Hub) notifyClosed(info models.SessionInfo, reason error) {
	h.registry.Remove(info.ID)
	for _, o := range h.observers {
		o.SessionClosed(info, reason)
	}
}

func (h *Hub) notifyResult(result models.Result) {
	for _, o := range h.observers {
		o.ResultRecorded(result)
	}
}

func (h *Hub) notifyLost(task models.Task, requeued bool) {
	for _, o := range h.observers {
		o.TaskLost(task, requeued)
	}
}
