// Package worker runs the worker side of the swarm: it joins the hub's
// network, connects, and answers heartbeats and tasks until shut down.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/JourdanThomas/CubeSat/internal/config"
	"github.com/JourdanThomas/CubeSat/internal/executor"
	"github.com/JourdanThomas/CubeSat/internal/logger"
	"github.com/JourdanThomas/CubeSat/internal/models"
	"github.com/JourdanThomas/CubeSat/internal/protocol"
	"github.com/JourdanThomas/CubeSat/internal/utils"
)

// ErrRetriesExhausted ends a session after too many consecutive failed connection cycles
var ErrRetriesExhausted = errors.New("retry budget exhausted")

// leaveTimeout bounds the network leave step on shutdown
const leaveTimeout = 10 * time.Second

// DialFunc opens a transport connection to the hub
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// SleepFunc waits between retries; it returns early with ctx's error
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a Session
type Option func(*Session)

// WithNetwork sets the network join collaborator (default StaticNetwork)
func WithNetwork(n Network) Option {
	return func(s *Session) { s.network = n }
}

// WithDialer replaces the TCP dialer
func WithDialer(dial DialFunc) Option {
	return func(s *Session) { s.dial = dial }
}

// WithSleep replaces the inter-retry wait
func WithSleep(sleep SleepFunc) Option {
	return func(s *Session) { s.sleep = sleep }
}

// WithWorkerID sets the identifier reported to the hub
func WithWorkerID(id string) Option {
	return func(s *Session) { s.workerID = id }
}

// WithStateHook is called on every state transition
func WithStateHook(fn func(models.SessionState)) Option {
	return func(s *Session) { s.onState = fn }
}

// Session is the worker-side state machine. One connection, one task in
// flight, no internal parallelism.
type Session struct {
	cfg       *config.WorkerConfig
	executors *executor.Registry
	network   Network
	dial      DialFunc
	sleep     SleepFunc
	workerID  string
	onState   func(models.SessionState)

	mu             sync.Mutex
	state          models.SessionState
	retries        int
	tasksProcessed int
}

// NewSession creates a worker session
func NewSession(cfg *config.WorkerConfig, executors *executor.Registry, opts ...Option) *Session {
	s := &Session{
		cfg:       cfg,
		executors: executors,
		network:   StaticNetwork{},
		sleep:     utils.Sleep,
		workerID:  cfg.WorkerID,
		state:     models.StateDisconnected,
	}

	dialer := &net.Dialer{}
	s.dial = dialer.DialContext

	for _, opt := range opts {
		opt(s)
	}

	if s.workerID == "" {
		s.workerID = DefaultIdentity()
	}
	return s
}

// WorkerID returns the identifier this session reports
func (s *Session) WorkerID() string {
	return s.workerID
}

// State returns the current state
func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TasksProcessed returns how many tasks this session has answered
func (s *Session) TasksProcessed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasksProcessed
}

func (s *Session) setState(state models.SessionState) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()

	if changed {
		logger.Debug("Worker session state: %s", state)
		if s.onState != nil {
			s.onState(state)
		}
	}
}

// Run connects to the hub and processes tasks until ctx is cancelled (nil
// is returned) or MaxRetries consecutive connection cycles fail
// (ErrRetriesExhausted is returned).
func (s *Session) Run(ctx context.Context) error {
	defer s.shutdown()

	logger.Info("Worker %s targeting hub %s", s.workerID, s.cfg.HubAddr())

	var lastErr error
	for {
		if ctx.Err() != nil {
			return nil
		}

		if s.retries >= s.cfg.MaxRetries {
			logger.Error("Failed to connect after %d attempts", s.retries)
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, s.retries, lastErr)
		}

		s.setState(models.StateConnecting)
		conn, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			s.retries++
			lastErr = err
			logger.Warn("Connection attempt %d/%d failed: %v", s.retries, s.cfg.MaxRetries, err)
			s.setState(models.StateDisconnected)

			if s.retries < s.cfg.MaxRetries {
				if err := s.sleep(ctx, s.cfg.RetryDelay); err != nil {
					return nil
				}
			}
			continue
		}

		s.retries = 0
		logger.Info("Connected to hub at %s", s.cfg.HubAddr())

		err = s.serve(ctx, conn)
		conn.Close()
		s.setState(models.StateTerminated)

		if ctx.Err() != nil {
			return nil
		}

		logger.Warn("Connection to hub lost: %v", err)
		s.setState(models.StateDisconnected)

		// a lost connection does not consume the retry budget but still waits
		if err := s.sleep(ctx, s.cfg.RetryDelay); err != nil {
			return nil
		}
	}
}

// connect runs one full cycle: interface check, network join, address wait, dial
func (s *Session) connect(ctx context.Context) (net.Conn, error) {
	up, err := s.network.InterfaceUp(ctx)
	if err != nil {
		return nil, err
	}
	if !up {
		return nil, fmt.Errorf("network interface %s is not operational", s.cfg.Interface)
	}

	if err := s.network.Join(ctx); err != nil {
		return nil, err
	}

	assigned, err := utils.WaitUntil(ctx, s.cfg.JoinTimeout, s.cfg.AddressPollInterval, s.network.AddressAssigned)
	if !assigned {
		if err != nil {
			return nil, fmt.Errorf("no address assigned within %v: %w", s.cfg.JoinTimeout, err)
		}
		return nil, fmt.Errorf("no address assigned within %v", s.cfg.JoinTimeout)
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	conn, err := s.dial(dialCtx, "tcp", s.cfg.HubAddr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to hub at %s: %w", s.cfg.HubAddr(), err)
	}
	return conn, nil
}

// serve runs the receive-compute-reply loop on one connection
func (s *Session) serve(ctx context.Context, conn net.Conn) error {
	pc := protocol.NewConn(conn, s.cfg.WriteTimeout)
	s.setState(models.StateConnectedIdle)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msg, err := pc.ReceiveContext(ctx, s.cfg.ReadTimeout)
		if err != nil {
			return fmt.Errorf("receive failed: %w", err)
		}

		switch m := msg.(type) {
		case models.Heartbeat:
			if err := pc.Send(models.NewHeartbeatAck(s.workerID)); err != nil {
				return err
			}

		case models.Task:
			logger.Info("Processing task %d: %s", m.ID, m.Type)
			start := time.Now()
			result := s.executors.Run(m, s.workerID)
			if result.Failed() {
				logger.Warn("Task %d failed: %s", m.ID, result.Error)
			} else {
				logger.Info("Task %d completed in %v", m.ID, time.Since(start))
			}

			if err := pc.Send(result); err != nil {
				return err
			}

			s.mu.Lock()
			s.tasksProcessed++
			s.mu.Unlock()

		default:
			return fmt.Errorf("%w: unexpected %T from hub", protocol.ErrMalformed, msg)
		}
	}
}

func (s *Session) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()

	if err := s.network.Leave(ctx); err != nil {
		logger.Warn("Failed to leave hub network: %v", err)
	}
	s.setState(models.StateDisconnected)
	logger.Info("Worker session stopped after %d tasks", s.TasksProcessed())
}
