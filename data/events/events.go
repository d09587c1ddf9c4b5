package events

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Message[D AnyPayload] struct {
	Op        Opcode `json:"op"`
	Timestamp int64  `json:"t"`
	Data      D      `json:"d"`
}

func NewMessage[D AnyPayload](op Opcode, data D) Message[D] {
	return Message[D]{
		Op:        op,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

func (e Message[D]) ToRaw() Message[jsoniter.RawMessage] {
	switch x := any(e.Data).(type) {
	case jsoniter.RawMessage:
		return Message[jsoniter.RawMessage]{
			Op:        e.Op,
			Timestamp: e.Timestamp,
			Data:      x,
		}
	}

	raw, _ := json.Marshal(e.Data)

	return Message[jsoniter.RawMessage]{
		Op:        e.Op,
		Timestamp: e.Timestamp,
		Data:      raw,
	}
}

func ConvertMessage[D AnyPayload](c Message[jsoniter.RawMessage]) (Message[D], error) {
	var d D
	err := json.Unmarshal(c.Data, &d)

	return Message[D]{
		Op:        c.Op,
		Timestamp: c.Timestamp,
		Data:      d,
	}, err
}

type Opcode uint8

const (
	OpcodeDispatch  Opcode = 0 // Server dispatches data to the client
	OpcodeHello     Opcode = 1 // Server greets the client
	OpcodeHeartbeat Opcode = 2 // Keep the connection alive
	OpcodeError     Opcode = 6 // Extra error context
)

func (op Opcode) String() string {
	switch op {
	case OpcodeDispatch:
		return "DISPATCH"
	case OpcodeHello:
		return "HELLO"
	case OpcodeHeartbeat:
		return "HEARTBEAT"
	case OpcodeError:
		return "ERROR"
	default:
		return "UNDOCUMENTED_OPERATION"
	}
}

func (op Opcode) PublishKey() string {
	return fmt.Sprintf("events:op:%s", strings.ToLower(op.String()))
}

func (op Opcode) PublishSubject() string {
	return fmt.Sprintf("events.op.%s", strings.ToLower(op.String()))
}

type EventType string

const (
	EventTypePresenceWrite      EventType = "presence.write"
	EventTypePresenceLifecycle  EventType = "presence.lifecycle"
	EventTypePresenceDisconnect EventType = "presence.disconnect"
)

type AnyPayload interface {
	jsoniter.RawMessage | DispatchPayload | HelloPayload | HeartbeatPayload | ErrorPayload
}

type DispatchPayload struct {
	Type   EventType           `json:"type"`
	UserID string              `json:"user_id"`
	Object jsoniter.RawMessage `json:"object,omitempty"`
}

type HelloPayload struct {
	SessionID string `json:"session_id"`
}

type HeartbeatPayload struct {
	Count uint64 `json:"count"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
