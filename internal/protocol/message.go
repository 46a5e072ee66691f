package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/JourdanThomas/CubeSat/internal/models"
)

// Message is one decoded protocol message: models.Task, models.Result,
// models.Heartbeat or models.HeartbeatAck.
type Message any

// Encode serializes a message into a frame payload
func Encode(msg Message) ([]byte, error) {
	switch msg.(type) {
	case models.Task, *models.Task, models.Result, *models.Result,
		models.Heartbeat, *models.Heartbeat, models.HeartbeatAck, *models.HeartbeatAck:
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrMalformed, msg)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %T: %w", msg, err)
	}
	return payload, nil
}

// Decode classifies a frame payload by its fields and returns the matching message value
func Decode(payload []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if _, ok := fields["task_id"]; ok {
		var result models.Result
		if err := json.Unmarshal(payload, &result); err != nil {
			return nil, fmt.Errorf("%w: result: %v", ErrMalformed, err)
		}
		if err := result.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return result, nil
	}

	if _, ok := fields["id"]; ok {
		var task models.Task
		if err := json.Unmarshal(payload, &task); err != nil {
			return nil, fmt.Errorf("%w: task: %v", ErrMalformed, err)
		}
		if task.ID <= 0 || task.Type == "" {
			return nil, fmt.Errorf("%w: task needs a positive id and a type", ErrMalformed)
		}
		return task, nil
	}

	var kind string
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &kind); err != nil {
			return nil, fmt.Errorf("%w: type: %v", ErrMalformed, err)
		}
	}
	if kind != models.MessageTypeHeartbeat {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrMalformed, kind)
	}

	if _, ok := fields["slave_id"]; ok {
		var ack models.HeartbeatAck
		if err := json.Unmarshal(payload, &ack); err != nil {
			return nil, fmt.Errorf("%w: heartbeat ack: %v", ErrMalformed, err)
		}
		return ack, nil
	}
	return models.NewHeartbeat(), nil
}
