package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JourdanThomas/CubeSat/internal/config"
	"github.com/JourdanThomas/CubeSat/internal/executor"
	"github.com/JourdanThomas/CubeSat/internal/models"
	"github.com/JourdanThomas/CubeSat/internal/protocol"
	"github.com/JourdanThomas/CubeSat/internal/queue"
	"github.com/JourdanThomas/CubeSat/internal/worker"
)

type recorder struct {
	mu      sync.Mutex
	closed  []error
	lost    []models.Task
	results []models.Result
}

func (r *recorder) SessionChanged(models.SessionInfo) {}

func (r *recorder) SessionClosed(_ models.SessionInfo, reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, reason)
}

func (r *recorder) ResultRecorded(result models.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *recorder) TaskLost(task models.Task, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lost = append(r.lost, task)
}

func (r *recorder) counts() (closed, lost, results int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.closed), len(r.lost), len(r.results)
}

func (r *recorder) closeReasons() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.closed...)
}

func testHubConfig() *config.HubConfig {
	cfg := config.NewHubConfig()
	cfg.BindHost = "127.0.0.1"
	cfg.Port = 0
	cfg.IdleInterval = 20 * time.Millisecond
	cfg.ResultTimeout = 2 * time.Second
	cfg.WriteTimeout = time.Second
	cfg.LivenessTimeout = 10 * time.Second
	cfg.StatusAddr = ""
	return cfg
}

func startHub(t *testing.T, cfg *config.HubConfig) (*Hub, *recorder) {
	t.Helper()

	rec := &recorder{}
	h := New(cfg, queue.New(), WithObserver(rec))
	if err := h.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("hub did not stop")
		}
	})
	return h, rec
}

func hubPort(t *testing.T, h *Hub) int {
	t.Helper()
	addr, ok := h.Addr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("unexpected listener address %v", h.Addr())
	}
	return addr.Port
}

func startWorker(t *testing.T, h *Hub, id string, opts ...worker.Option) *worker.Session {
	t.Helper()

	cfg := config.NewWorkerConfig()
	cfg.HubHost = "127.0.0.1"
	cfg.HubPort = hubPort(t, h)
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.ConnectTimeout = time.Second
	cfg.ReadTimeout = 5 * time.Second
	cfg.AddressPollInterval = time.Millisecond

	s := worker.NewSession(cfg, executor.Builtins(), append([]worker.Option{worker.WithWorkerID(id)}, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("worker Run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("worker did not stop")
		}
	})
	return s
}

func dialHub(t *testing.T, h *Hub) *protocol.Conn {
	t.Helper()
	raw, err := net.Dial("tcp", h.Addr().String())
	if err != nil {
		t.Fatalf("dial hub: %v", err)
	}
	c := protocol.NewConn(raw, time.Second)
	t.Cleanup(func() { c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitResult(t *testing.T, h *Hub, id models.TaskID) models.Result {
	t.Helper()
	w := NewWaiter(h.Queue(), 5*time.Millisecond)
	defer w.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := w.Wait(ctx, id)
	if err != nil {
		t.Fatalf("waiting for task %d: %v", id, err)
	}
	return result
}

func mustSubmit(t *testing.T, h *Hub, taskType string, data map[string]any) models.TaskID {
	t.Helper()
	id, err := h.Submit(taskType, data)
	if err != nil {
		t.Fatalf("Submit(%s): %v", taskType, err)
	}
	return id
}

func TestFibonacciEndToEnd(t *testing.T) {
	h, _ := startHub(t, testHubConfig())
	id := mustSubmit(t, h, executor.TypeFibonacci, map[string]any{"n": 10})
	startWorker(t, h, "pi-1")

	result := waitResult(t, h, id)
	var got int
	if err := result.Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != 55 {
		t.Fatalf("expected 55, got %d", got)
	}
	if result.WorkerID != "pi-1" {
		t.Fatalf("expected worker pi-1, got %q", result.WorkerID)
	}
}

func TestPrimeChecksEndToEnd(t *testing.T) {
	h, _ := startHub(t, testHubConfig())
	prime := mustSubmit(t, h, executor.TypePrimeCheck, map[string]any{"number": 97})
	composite := mustSubmit(t, h, executor.TypePrimeCheck, map[string]any{"number": 100})
	startWorker(t, h, "pi-1")

	for id, want := range map[models.TaskID]bool{prime: true, composite: false} {
		var got bool
		if err := waitResult(t, h, id).Decode(&got); err != nil {
			t.Fatalf("Decode task %d: %v", id, err)
		}
		if got != want {
			t.Errorf("task %d: expected %v, got %v", id, want, got)
		}
	}
}

func TestAllTasksCompleteWithTwoWorkers(t *testing.T) {
	h, _ := startHub(t, testHubConfig())
	var ids []models.TaskID
	for i := 1; i <= 6; i++ {
		ids = append(ids, mustSubmit(t, h, executor.TypeFibonacci, map[string]any{"n": i}))
	}
	startWorker(t, h, "pi-1")
	startWorker(t, h, "pi-2")

	for _, id := range ids {
		waitResult(t, h, id)
	}
	if h.Queue().CompletedCount() != len(ids) {
		t.Fatalf("expected %d results, got %d", len(ids), h.Queue().CompletedCount())
	}
}

func TestUnknownTaskTypeYieldsErrorResult(t *testing.T) {
	h, _ := startHub(t, testHubConfig())
	id := mustSubmit(t, h, "render_video", nil)
	startWorker(t, h, "pi-1")

	result := waitResult(t, h, id)
	if !result.Failed() {
		t.Fatalf("expected an error result, got %s", result.Value)
	}
	if !strings.Contains(result.Error, "unknown task type: render_video") {
		t.Fatalf("unexpected error %q", result.Error)
	}
}

func TestIdleWorkerGetsHeartbeats(t *testing.T) {
	h, _ := startHub(t, testHubConfig())
	c := dialHub(t, h)

	for i := 0; i < 3; i++ {
		msg, err := c.ReceiveWithin(time.Second)
		if err != nil {
			t.Fatalf("receive heartbeat %d: %v", i, err)
		}
		if _, ok := msg.(models.Heartbeat); !ok {
			t.Fatalf("expected Heartbeat, got %T", msg)
		}
		if err := c.Send(models.NewHeartbeatAck("raw-1")); err != nil {
			t.Fatalf("send ack: %v", err)
		}
	}

	waitFor(t, "worker id in registry", func() bool {
		for _, s := range h.Status().Sessions {
			if s.WorkerID == "raw-1" {
				return true
			}
		}
		return false
	})
	if got := h.Queue().CompletedCount(); got != 0 {
		t.Fatalf("heartbeats must not produce results, got %d", got)
	}
}

func TestDroppedConnectionLosesTask(t *testing.T) {
	h, rec := startHub(t, testHubConfig())
	id := mustSubmit(t, h, executor.TypeFibonacci, map[string]any{"n": 30})

	c := dialHub(t, h)
	msg, err := c.ReceiveWithin(time.Second)
	if err != nil {
		t.Fatalf("receive task: %v", err)
	}
	task, ok := msg.(models.Task)
	if !ok || task.ID != id {
		t.Fatalf("expected task %d, got %#v", id, msg)
	}
	c.Close()

	waitFor(t, "task loss", func() bool {
		_, lost, _ := rec.counts()
		return lost == 1
	})
	if _, ok := h.Queue().Result(id); ok {
		t.Fatal("a lost task must have no result")
	}
	if h.Queue().PendingCount() != 0 {
		t.Fatal("a lost task must not be requeued by default")
	}
}

func TestDroppedConnectionRequeuesWhenEnabled(t *testing.T) {
	cfg := testHubConfig()
	cfg.RequeueOnDisconnect = true
	h, _ := startHub(t, cfg)
	id := mustSubmit(t, h, executor.TypeFibonacci, map[string]any{"n": 12})

	c := dialHub(t, h)
	if _, err := c.ReceiveWithin(time.Second); err != nil {
		t.Fatalf("receive task: %v", err)
	}
	c.Close()

	waitFor(t, "requeue", func() bool { return h.Queue().PendingCount() == 1 })

	startWorker(t, h, "pi-2")
	var got int
	if err := waitResult(t, h, id).Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != 144 {
		t.Fatalf("expected 144, got %d", got)
	}
}

func TestMalformedFrameClosesOnlyThatSession(t *testing.T) {
	h, rec := startHub(t, testHubConfig())

	healthy := dialHub(t, h)
	bad, err := net.Dial("tcp", h.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer bad.Close()
	waitFor(t, "two sessions", func() bool { return len(h.Status().Sessions) == 2 })

	if err := protocol.WriteFrame(bad, []byte("not json")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	waitFor(t, "malformed session closed", func() bool {
		for _, reason := range rec.closeReasons() {
			if errors.Is(reason, protocol.ErrMalformed) {
				return true
			}
		}
		return false
	})
	waitFor(t, "registry cleanup", func() bool { return len(h.Status().Sessions) == 1 })

	for i := 0; i < 2; i++ {
		msg, err := healthy.ReceiveWithin(time.Second)
		if err != nil {
			t.Fatalf("healthy session broken: %v", err)
		}
		if _, ok := msg.(models.Heartbeat); !ok {
			t.Fatalf("expected Heartbeat, got %T", msg)
		}
		if err := healthy.Send(models.NewHeartbeatAck("healthy")); err != nil {
			t.Fatalf("send ack: %v", err)
		}
	}
	if got := len(h.Status().Sessions); got != 1 {
		t.Fatalf("expected the healthy session to remain, got %d", got)
	}
}

func TestUnresponsiveWorkerIsDropped(t *testing.T) {
	cfg := testHubConfig()
	cfg.LivenessTimeout = 60 * time.Millisecond
	h, rec := startHub(t, cfg)
	dialHub(t, h)

	waitFor(t, "liveness close", func() bool {
		for _, reason := range rec.closeReasons() {
			if errors.Is(reason, errLivenessTimeout) {
				return true
			}
		}
		return false
	})
	waitFor(t, "registry cleanup", func() bool { return len(h.Status().Sessions) == 0 })
}

func TestDuplicateResultIgnored(t *testing.T) {
	h, rec := startHub(t, testHubConfig())
	id := mustSubmit(t, h, executor.TypeFibonacci, map[string]any{"n": 5})

	c := dialHub(t, h)
	if _, err := c.ReceiveWithin(time.Second); err != nil {
		t.Fatalf("receive task: %v", err)
	}
	first := models.NewValueResult(id, "raw", json.RawMessage("5"))
	second := models.NewValueResult(id, "raw", json.RawMessage("99"))
	for _, r := range []models.Result{first, second} {
		if err := c.Send(r); err != nil {
			t.Fatalf("send result: %v", err)
		}
	}

	waitFor(t, "first result", func() bool {
		_, _, results := rec.counts()
		return results == 1
	})
	// wait past a heartbeat so the duplicate has been read
	if _, err := c.ReceiveWithin(time.Second); err != nil {
		t.Fatalf("receive heartbeat: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	stored, _ := h.Queue().Result(id)
	if string(stored.Value) != "5" {
		t.Fatalf("first result must win, got %s", stored.Value)
	}
	if _, _, results := rec.counts(); results != 1 {
		t.Fatalf("expected one recorded result, got %d", results)
	}
}

func TestResultsForUndispatchedTasksIgnored(t *testing.T) {
	h, rec := startHub(t, testHubConfig())
	first := mustSubmit(t, h, executor.TypeFibonacci, map[string]any{"n": 5})
	second := mustSubmit(t, h, executor.TypeFibonacci, map[string]any{"n": 6})

	c := dialHub(t, h)
	msg, err := c.ReceiveWithin(time.Second)
	if err != nil {
		t.Fatalf("receive task: %v", err)
	}
	if task, ok := msg.(models.Task); !ok || task.ID != first {
		t.Fatalf("expected task %d, got %#v", first, msg)
	}

	for _, r := range []models.Result{
		models.NewValueResult(999, "raw", json.RawMessage("1")),
		models.NewValueResult(second, "raw", json.RawMessage(`"bogus"`)),
		models.NewValueResult(first, "raw", json.RawMessage("5")),
	} {
		if err := c.Send(r); err != nil {
			t.Fatalf("send result: %v", err)
		}
	}

	// the second task is dispatched only after the first result is handled
	msg, err = c.ReceiveWithin(time.Second)
	if err != nil {
		t.Fatalf("receive second task: %v", err)
	}
	if task, ok := msg.(models.Task); !ok || task.ID != second {
		t.Fatalf("expected task %d, got %#v", second, msg)
	}

	if _, ok := h.Queue().Result(999); ok {
		t.Fatal("a result for a never submitted id must not be stored")
	}
	if _, ok := h.Queue().Result(second); ok {
		t.Fatal("a result for a task not yet dispatched must not be stored")
	}
	if got := h.Queue().CompletedCount(); got != 1 {
		t.Fatalf("expected 1 completed task, got %d", got)
	}
	if _, _, results := rec.counts(); results != 1 {
		t.Fatalf("expected one recorded result, got %d", results)
	}

	if err := c.Send(models.NewValueResult(second, "raw", json.RawMessage("8"))); err != nil {
		t.Fatalf("send result: %v", err)
	}
	var got int
	if err := waitResult(t, h, second).Decode(&got); err != nil || got != 8 {
		t.Fatalf("expected the dispatched answer 8, got %d (%v)", got, err)
	}
}

func TestSubmitRejectsUnencodableData(t *testing.T) {
	h, rec := startHub(t, testHubConfig())

	_, err := h.Submit(executor.TypePrimeCheck, map[string]any{"number": math.NaN()})
	if !errors.Is(err, ErrInvalidTaskData) {
		t.Fatalf("expected ErrInvalidTaskData, got %v", err)
	}
	if h.Queue().PendingCount() != 0 {
		t.Fatal("rejected task must not be queued")
	}

	startWorker(t, h, "pi-1")
	id := mustSubmit(t, h, executor.TypePrimeCheck, map[string]any{"number": 7})
	waitResult(t, h, id)
	if closed, lost, _ := rec.counts(); closed != 0 || lost != 0 {
		t.Fatalf("expected no closed sessions or lost tasks, got closed=%d lost=%d", closed, lost)
	}
}

// flakyDialer hands out a first connection that dies on its first write
type flakyDialer struct {
	mu    sync.Mutex
	calls int
}

func (d *flakyDialer) dial(ctx context.Context, network, address string) (net.Conn, error) {
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.calls++
	first := d.calls == 1
	d.mu.Unlock()

	if first {
		return &dropOnWrite{Conn: conn}, nil
	}
	return conn, nil
}

func (d *flakyDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type dropOnWrite struct {
	net.Conn
}

func (c *dropOnWrite) Write([]byte) (int, error) {
	c.Conn.Close()
	return 0, net.ErrClosed
}

func TestWorkerReconnectsAfterLosingTask(t *testing.T) {
	h, rec := startHub(t, testHubConfig())
	lostID := mustSubmit(t, h, executor.TypeFibonacci, map[string]any{"n": 20})

	d := &flakyDialer{}
	startWorker(t, h, "pi-3", worker.WithDialer(d.dial))

	waitFor(t, "task loss", func() bool {
		_, lost, _ := rec.counts()
		return lost == 1
	})
	waitFor(t, "reconnect", func() bool { return d.count() >= 2 && len(h.Status().Sessions) == 1 })

	if _, ok := h.Queue().Results()[lostID]; ok {
		t.Fatalf("task %d was lost with its connection and must have no result", lostID)
	}

	id := mustSubmit(t, h, executor.TypeFibonacci, map[string]any{"n": 10})
	var got int
	if err := waitResult(t, h, id).Decode(&got); err != nil || got != 55 {
		t.Fatalf("expected 55 after reconnecting, got %d (%v)", got, err)
	}
	if _, ok := h.Queue().Results()[lostID]; ok {
		t.Fatalf("task %d must stay absent from the results", lostID)
	}
}

func TestStatusEndpoint(t *testing.T) {
	h, _ := startHub(t, testHubConfig())
	mustSubmit(t, h, executor.TypePrimeCheck, map[string]any{"number": 7})

	srv := httptest.NewServer(h.StatusHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	var status models.HubStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Pending != 1 || status.Completed != 0 {
		t.Fatalf("unexpected status %+v", status)
	}

	metrics, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer metrics.Body.Close()
	body, _ := io.ReadAll(metrics.Body)
	for _, name := range []string{"swarm_tasks_submitted_total", "swarm_tasks_pending 1"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %q", name)
		}
	}

	post, err := http.Post(srv.URL+"/status", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /status: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", post.StatusCode)
	}
}

func TestServeRequiresListen(t *testing.T) {
	h := New(testHubConfig(), queue.New())
	if err := h.Serve(context.Background()); err == nil {
		t.Fatal("expected an error before Listen")
	}
}

func TestListenFailsOnBusyPort(t *testing.T) {
	first, _ := startHub(t, testHubConfig())

	cfg := testHubConfig()
	cfg.Port = hubPort(t, first)
	if err := New(cfg, queue.New()).Listen(); err == nil {
		t.Fatal("expected bind failure on a port in use")
	}
}

func TestWaiterReturnsRecordedResult(t *testing.T) {
	q := queue.New()
	id := q.Enqueue(executor.TypeFibonacci, nil)
	q.RecordResult(models.NewValueResult(id, "w", json.RawMessage("1")))

	w := NewWaiter(q, time.Millisecond)
	defer w.Stop()

	select {
	case r := <-w.Register(id):
		if r.TaskID != id {
			t.Fatalf("expected task %d, got %d", id, r.TaskID)
		}
	case <-time.After(time.Second):
		t.Fatal("already recorded result not delivered")
	}
}

func TestWaiterDeliversLaterResult(t *testing.T) {
	q := queue.New()
	id := q.Enqueue(executor.TypeFibonacci, nil)

	w := NewWaiter(q, time.Millisecond)
	defer w.Stop()
	ch := w.Register(id)

	q.RecordResult(models.NewErrorResult(id, "w", fmt.Errorf("boom")))
	select {
	case r := <-ch:
		if r.Error != "boom" {
			t.Fatalf("unexpected result %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("result not delivered")
	}
}

func TestWaiterHonoursContext(t *testing.T) {
	w := NewWaiter(queue.New(), time.Millisecond)
	defer w.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := w.Wait(ctx, 42); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRegistrySnapshotOrder(t *testing.T) {
	r := NewRegistry()
	base := time.Now()
	r.Update(models.SessionInfo{ID: "c", ConnectedAt: base.Add(time.Second)})
	r.Update(models.SessionInfo{ID: "b", ConnectedAt: base})
	r.Update(models.SessionInfo{ID: "a", ConnectedAt: base})

	var ids []string
	for _, s := range r.Snapshot() {
		ids = append(ids, s.ID)
	}
	if strings.Join(ids, ",") != "a,b,c" {
		t.Fatalf("unexpected order %v", ids)
	}

	r.Remove("b")
	if r.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", r.Len())
	}
}

func TestCloseReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "shutdown"},
		{context.Canceled, "shutdown"},
		{fmt.Errorf("read: %w", io.EOF), "peer_closed"},
		{fmt.Errorf("%w: junk", protocol.ErrMalformed), "protocol_error"},
		{protocol.ErrFrameTooLarge, "protocol_error"},
		{fmt.Errorf("%w: quiet", errLivenessTimeout), "unresponsive"},
		{errors.New("other"), "error"},
	}

	for _, tt := range tests {
		if got := closeReason(tt.err); got != tt.want {
			t.Errorf("closeReason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
