package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// TaskID identifies a Task for the life of the hub process
type TaskID = int64

// MessageTypeHeartbeat is the type tag carried by heartbeat frames in both directions
const MessageTypeHeartbeat = "heartbeat"

// Task is one unit of dispatched computation
type Task struct {
	ID        TaskID
	Type      string
	Data      map[string]any
	CreatedAt time.Time
}

type taskWire struct {
	ID        TaskID         `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp float64        `json:"timestamp"`
}

func (t Task) MarshalJSON() ([]byte, error) {
	data := t.Data
	if data == nil {
		data = map[string]any{}
	}
	return json.Marshal(taskWire{
		ID:        t.ID,
		Type:      t.Type,
		Data:      data,
		Timestamp: Timestamp(t.CreatedAt),
	})
}

func (t *Task) UnmarshalJSON(b []byte) error {
	var w taskWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*t = Task{ID: w.ID, Type: w.Type, Data: w.Data, CreatedAt: FromTimestamp(w.Timestamp)}
	if t.Data == nil {
		t.Data = map[string]any{}
	}
	return nil
}

// Result is the outcome of executing one Task. Exactly one of Value and Error is set.
type Result struct {
	TaskID      TaskID
	Value       json.RawMessage
	Error       string
	WorkerID    string
	CompletedAt time.Time
}

type resultWire struct {
	TaskID    TaskID          `json:"task_id"`
	Value     json.RawMessage `json:"result,omitempty"`
	Error     *string         `json:"error,omitempty"`
	WorkerID  string          `json:"slave_id"`
	Timestamp float64         `json:"timestamp"`
}

// NewValueResult builds a successful Result with a JSON encoded value
func NewValueResult(taskID TaskID, workerID string, value json.RawMessage) Result {
	return Result{TaskID: taskID, Value: value, WorkerID: workerID, CompletedAt: time.Now()}
}

// NewErrorResult builds a failed Result
func NewErrorResult(taskID TaskID, workerID string, err error) Result {
	msg := "task failed"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return Result{TaskID: taskID, Error: msg, WorkerID: workerID, CompletedAt: time.Now()}
}

// Failed reports whether the Result carries an error instead of a value
func (r Result) Failed() bool {
	return r.Error != ""
}

// Decode unmarshals the computed value into v
func (r Result) Decode(v any) error {
	if r.Failed() {
		return fmt.Errorf("task %d failed: %s", r.TaskID, r.Error)
	}
	return json.Unmarshal(r.Value, v)
}

// Validate checks the exactly-one-of rule for value and error
func (r Result) Validate() error {
	hasValue := len(r.Value) > 0
	hasError := r.Error != ""
	switch {
	case hasValue && hasError:
		return fmt.Errorf("result for task %d carries both a value and an error", r.TaskID)
	case !hasValue && !hasError:
		return fmt.Errorf("result for task %d carries neither a value nor an error", r.TaskID)
	}
	return nil
}

func (r Result) MarshalJSON() ([]byte, error) {
	w := resultWire{
		TaskID:    r.TaskID,
		WorkerID:  r.WorkerID,
		Timestamp: Timestamp(r.CompletedAt),
	}
	if r.Failed() {
		w.Error = &r.Error
	} else {
		w.Value = r.Value
	}
	return json.Marshal(w)
}

func (r *Result) UnmarshalJSON(b []byte) error {
	var w resultWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = Result{
		TaskID:      w.TaskID,
		Value:       w.Value,
		WorkerID:    w.WorkerID,
		CompletedAt: FromTimestamp(w.Timestamp),
	}
	if w.Error != nil {
		r.Error = *w.Error
	}
	return nil
}

// Heartbeat is sent by the hub when no Task is pending
type Heartbeat struct {
	Type string `json:"type"`
}

// NewHeartbeat returns a hub heartbeat message
func NewHeartbeat() Heartbeat {
	return Heartbeat{Type: MessageTypeHeartbeat}
}

// HeartbeatAck is the worker's reply to a Heartbeat
type HeartbeatAck struct {
	Type     string `json:"type"`
	WorkerID string `json:"slave_id"`
}

// NewHeartbeatAck returns a heartbeat acknowledgement for the given worker
func NewHeartbeatAck(workerID string) HeartbeatAck {
	return HeartbeatAck{Type: MessageTypeHeartbeat, WorkerID: workerID}
}

// Timestamp converts t to float seconds since the Unix epoch, zero for the zero time
func Timestamp(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromTimestamp is the inverse of Timestamp
func FromTimestamp(ts float64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
