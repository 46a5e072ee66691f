package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/JourdanThomas/CubeSat/internal/logger"
	"github.com/JourdanThomas/CubeSat/internal/models"
	"github.com/JourdanThomas/CubeSat/internal/protocol"
)

type inbound struct {
	msg protocol.Message
	err error
}

// session is the hub-side state of one worker connection. Only its own
// handler goroutine touches it.
type session struct {
	hub      *Hub
	conn     *protocol.Conn
	info     models.SessionInfo
	incoming chan inbound
	done     chan struct{}

	// ids handed out on this connection; only these may be answered here
	dispatched map[models.TaskID]struct{}
}

func (h *Hub) handle(ctx context.Context, raw net.Conn) {
	now := time.Now()
	s := &session{
		hub:  h,
		conn: protocol.NewConn(raw, h.cfg.WriteTimeout),
		info: models.SessionInfo{
			ID:          h.newSessionID(),
			RemoteAddr:  raw.RemoteAddr().String(),
			State:       models.StateConnectedIdle,
			ConnectedAt: now,
			LastSeen:    now,
		},
		incoming:   make(chan inbound, 8),
		done:       make(chan struct{}),
		dispatched: make(map[models.TaskID]struct{}),
	}

	logger.Info("Worker connected from %s (session %s)", s.info.RemoteAddr, s.info.ID)
	h.metrics.sessionsActive.Inc()
	h.notifySession(s.info)

	go s.readLoop()
	err := s.run(ctx)

	close(s.done)
	s.conn.Close()

	s.info.State = models.StateTerminated
	h.metrics.sessionsActive.Dec()
	h.metrics.sessionsClosed.WithLabelValues(closeReason(err)).Inc()
	h.notifyClosed(s.info, err)

	if ctx.Err() != nil {
		logger.Info("Session %s closed on shutdown", s.info.ID)
	} else {
		logger.Warn("Session %s (%s, worker %s) closed: %v", s.info.ID, s.info.RemoteAddr, s.workerLabel(), err)
	}
}

// readLoop decodes frames until the connection fails; the failure is its last delivery
func (s *session) readLoop() {
	for {
		msg, err := s.conn.Receive()
		select {
		case s.incoming <- inbound{msg: msg, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *session) run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		task, ok := s.hub.queue.Dequeue()
		if ok {
			if err := s.dispatch(ctx, task); err != nil {
				return err
			}
			continue
		}

		if err := s.idle(ctx); err != nil {
			return err
		}
	}
}

// dispatch sends task and waits for its Result on this connection
func (s *session) dispatch(ctx context.Context, task models.Task) error {
	s.info.CurrentTask = task.ID
	s.dispatched[task.ID] = struct{}{}
	s.setState(models.StateAwaitingResult)
	s.hub.metrics.tasksDispatched.WithLabelValues(task.Type).Inc()
	logger.Info("Dispatching task %d (%s) to session %s", task.ID, task.Type, s.info.ID)

	start := time.Now()
	if err := s.conn.Send(task); err != nil {
		s.lose(task)
		return err
	}

	timer := time.NewTimer(s.hub.cfg.ResultTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.lose(task)
			return ctx.Err()

		case <-timer.C:
			s.lose(task)
			return fmt.Errorf("no result for task %d within %v", task.ID, s.hub.cfg.ResultTimeout)

		case in := <-s.incoming:
			if in.err != nil {
				s.lose(task)
				return in.err
			}

			switch m := in.msg.(type) {
			case models.HeartbeatAck:
				s.ack(m)

			case models.Result:
				s.touch(m.WorkerID)
				s.record(m)
				if m.TaskID != task.ID {
					logger.Warn("Session %s sent result for task %d while task %d is in flight", s.info.ID, m.TaskID, task.ID)
					continue
				}

				s.hub.metrics.taskRoundTrip.WithLabelValues(task.Type).Observe(time.Since(start).Seconds())
				s.info.CurrentTask = 0
				s.setState(models.StateConnectedIdle)
				return nil

			default:
				s.lose(task)
				return fmt.Errorf("%w: unexpected %T from worker", protocol.ErrMalformed, in.msg)
			}
		}
	}
}

// idle sends a heartbeat and waits one idle interval, draining acks
func (s *session) idle(ctx context.Context) error {
	if err := s.conn.Send(models.NewHeartbeat()); err != nil {
		return err
	}
	s.hub.metrics.heartbeatsSent.Inc()
	s.setState(models.StateConnectedIdle)

	timer := time.NewTimer(s.hub.cfg.IdleInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.C:
			limit := s.hub.cfg.LivenessTimeout
			if limit > 0 && time.Since(s.info.LastSeen) > limit {
				return fmt.Errorf("%w: no heartbeat ack for %v", errLivenessTimeout, limit)
			}
			return nil

		case in := <-s.incoming:
			if in.err != nil {
				return in.err
			}

			switch m := in.msg.(type) {
			case models.HeartbeatAck:
				s.ack(m)
			case models.Result:
				// late reply after a previous dispatch on this connection
				s.touch(m.WorkerID)
				s.record(m)
			default:
				return fmt.Errorf("%w: unexpected %T from worker", protocol.ErrMalformed, in.msg)
			}
		}
	}
}

var errLivenessTimeout = errors.New("worker unresponsive")

func (s *session) ack(m models.HeartbeatAck) {
	s.hub.metrics.heartbeatAcks.Inc()
	s.touch(m.WorkerID)
	logger.Debug("Heartbeat ack from worker %s", m.WorkerID)
}

func (s *session) touch(workerID string) {
	s.info.LastSeen = time.Now()
	if workerID != "" && workerID != s.info.WorkerID {
		if s.info.WorkerID == "" {
			logger.Info("Session %s identified as worker %s", s.info.ID, workerID)
		}
		s.info.WorkerID = workerID
	}
	s.hub.notifySession(s.info)
}

func (s *session) record(result models.Result) {
	if _, ok := s.dispatched[result.TaskID]; !ok {
		s.hub.metrics.resultsRejected.Inc()
		logger.Warn("Ignoring result for task %d never dispatched to session %s", result.TaskID, s.info.ID)
		return
	}
	if !s.hub.queue.RecordResult(result) {
		s.hub.metrics.resultsDuplicate.Inc()
		logger.Debug("Ignoring duplicate result for task %d", result.TaskID)
		return
	}

	s.info.TasksCompleted++
	if result.Failed() {
		s.hub.metrics.resultsRecorded.WithLabelValues("error").Inc()
		logger.Warn("Task %d failed on worker %s: %s", result.TaskID, result.WorkerID, result.Error)
	} else {
		s.hub.metrics.resultsRecorded.WithLabelValues("ok").Inc()
		logger.Info("Task %d completed by worker %s: %s", result.TaskID, result.WorkerID, result.Value)
	}
	s.hub.notifyResult(result)
}

// lose handles a dispatched task whose worker will not answer
func (s *session) lose(task models.Task) {
	s.info.CurrentTask = 0

	if s.hub.cfg.RequeueOnDisconnect && s.hub.queue.Requeue(task) {
		s.hub.metrics.tasksRequeued.Inc()
		logger.Warn("Task %d requeued after losing session %s", task.ID, s.info.ID)
		s.hub.notifyLost(task, true)
		return
	}

	s.hub.metrics.tasksLost.Inc()
	logger.Warn("Task %d lost with session %s", task.ID, s.info.ID)
	s.hub.notifyLost(task, false)
}

func (s *session) setState(state models.SessionState) {
	if s.info.State == state {
		return
	}
	s.info.State = state
	s.hub.notifySession(s.info)
}

func (s *session) workerLabel() string {
	if s.info.WorkerID == "" {
		return "unidentified"
	}
	return s.info.WorkerID
}

func closeReason(err error) string {
	var netErr net.Error
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return "shutdown"
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return "peer_closed"
	case errors.Is(err, protocol.ErrMalformed), errors.Is(err, protocol.ErrFrameTooLarge):
		return "protocol_error"
	case errors.Is(err, errLivenessTimeout):
		return "unresponsive"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	default:
		return "error"
	}
}
