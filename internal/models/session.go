package models

import "time"

// SessionState is the connection state of a worker, tracked on both ends independently
type SessionState string

const (
	StateDisconnected   SessionState = "disconnected"
	StateConnecting     SessionState = "connecting"
	StateConnectedIdle  SessionState = "connected_idle"
	StateAwaitingResult SessionState = "awaiting_result"
	StateTerminated     SessionState = "terminated"
)

// SessionInfo is a point-in-time view of one hub-side connection
type SessionInfo struct {
	ID             string       `json:"id"`
	RemoteAddr     string       `json:"remote_addr"`
	WorkerID       string       `json:"worker_id,omitempty"`
	State          SessionState `json:"state"`
	CurrentTask    TaskID       `json:"current_task,omitempty"`
	TasksCompleted int          `json:"tasks_completed"`
	ConnectedAt    time.Time    `json:"connected_at"`
	LastSeen       time.Time    `json:"last_seen"`
}

// HubStatus is the payload served on the hub status endpoint
type HubStatus struct {
	Pending   int           `json:"pending"`
	Completed int           `json:"completed"`
	Sessions  []SessionInfo `json:"sessions"`
}
