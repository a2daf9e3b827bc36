package ws

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Frame types.
const (
	// Client to server.
	FrameConnect = "connect"
	FrameEvent   = "event"

	// Server to client. FrameEvent is also used for server emits.
	FrameConnected    = "connected"
	FrameConnectError = "connect_error"
	FrameAck          = "ack"
)

// Frame is one websocket message in either direction.
//
// An event frame with a non-zero ID asks for an acknowledgement; the ack
// frame echoes the ID.
type Frame struct {
	Type  string `json:"type"`
	ID    int64  `json:"id,omitempty"`
	Event string `json:"event,omitempty"`
	Args  []any  `json:"args,omitempty"`
	SID   string `json:"sid,omitempty"`
	Data  any    `json:"data,omitempty"`
}

func encodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

func decodeFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}
