package relay

import "encoding/json"

// Status is the channel state last delivered to the client.
type Status int

const (
	StatusUnknown Status = iota
	StatusOnline
	StatusOffline
)

func (s Status) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Wire values of the "status" field.
const (
	wireError     = "error"
	wireHeartbeat = "heartbeat"
)

// StatusMessage carries an online/offline transition. Data is the Helix
// stream record verbatim, or null when offline.
type StatusMessage struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// ErrorMessage is sent once before the server closes a session it could not start.
type ErrorMessage struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HeartbeatMessage checks the connection while polls are backing off.
type HeartbeatMessage struct {
	Status string `json:"status"`
}

func newStatusMessage(s Status, data json.RawMessage) StatusMessage {
	if s != StatusOnline {
		data = nil
	}
	return StatusMessage{Status: s.String(), Data: data}
}

func newErrorMessage(msg string) ErrorMessage {
	return ErrorMessage{Status: wireError, Message: msg}
}

func newHeartbeat() HeartbeatMessage {
	return HeartbeatMessage{Status: wireHeartbeat}
}
