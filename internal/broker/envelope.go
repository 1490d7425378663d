package broker

import (
	"errors"
	"fmt"

	"taskforge/internal/jsonx"
)

// ErrUnknownMessageType indicates a wire envelope whose type tag is outside
// the closed message set.
var ErrUnknownMessageType = errors.New("unknown message type")

type envelope struct {
	Type    string           `json:"type"`
	Payload jsonx.RawMessage `json:"payload,omitempty"`
}

// Encode wraps msg in a type-discriminated envelope.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("broker: nil message")
	}
	payload, err := jsonx.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("broker: marshal %s payload: %w", msg.MessageType(), err)
	}
	return jsonx.Marshal(envelope{Type: msg.MessageType(), Payload: payload})
}

// Decode parses a wire envelope back into its concrete message. The switch is
// exhaustive over the closed union; any other tag is an error.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := jsonx.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("broker: decode envelope: %w", err)
	}

	var (
		msg Message
		err error
	)
	switch env.Type {
	case TypeExecuteTask:
		var m ExecuteTask
		err = jsonx.Unmarshal(env.Payload, &m)
		msg = m
	case TypeCancelTask:
		var m CancelTask
		err = jsonx.Unmarshal(env.Payload, &m)
		msg = m
	case TypeTaskUpdate:
		var m TaskUpdate
		err = jsonx.Unmarshal(env.Payload, &m)
		msg = m
	case TypeTaskComplete:
		var m TaskComplete
		err = jsonx.Unmarshal(env.Payload, &m)
		msg = m
	case TypeTaskError:
		var m TaskError
		err = jsonx.Unmarshal(env.Payload, &m)
		msg = m
	case TypeTaskProgress:
		var m TaskProgress
		err = jsonx.Unmarshal(env.Payload, &m)
		msg = m
	default:
		return nil, fmt.Errorf("broker: %w: %q", ErrUnknownMessageType, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("broker: decode %s payload: %w", env.Type, err)
	}
	return msg, nil
}
