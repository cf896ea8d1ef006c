package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// Command names the purpose of a frame.
type Command string

const (
	// client -> server
	CommandSubscribe   Command = "SUBSCRIBE"
	CommandUnsubscribe Command = "UNSUBSCRIBE"
	CommandSend        Command = "SEND"

	// server -> client
	CommandConnected Command = "CONNECTED"
	CommandMessage   Command = "MESSAGE"
	CommandError     Command = "ERROR"
)

// ErrMalformedFrame is returned for frames that are not valid JSON or carry
// no command.
var ErrMalformedFrame = errors.New("ws: malformed frame")

// Frame is the unit exchanged over the websocket in both directions.
type Frame struct {
	Command      Command         `json:"command"`
	Destination  string          `json:"destination,omitempty"`
	Subscription string          `json:"subscription,omitempty"`
	Message      string          `json:"message,omitempty"`
	Body         json.RawMessage `json:"body,omitempty"`
}

// EncodeFrame serializes f for the wire.
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := sonic.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("ws: encode %s frame: %w", f.Command, err)
	}
	return data, nil
}

// DecodeFrame parses one wire frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := sonic.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Command == "" {
		return Frame{}, fmt.Errorf("%w: missing command", ErrMalformedFrame)
	}
	return f, nil
}
