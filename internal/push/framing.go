package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Engine.IO packet types
const (
	packetOpen    = '0'
	packetClose   = '1'
	packetPing    = '2'
	packetPong    = '3'
	packetMessage = '4'
	packetUpgrade = '5'
	packetNoop    = '6'
)

// Socket.IO packet types, carried inside an Engine.IO message
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioConnectError = '4'
)

// Frames a client sends
const (
	FramePing       = "2"
	FramePong       = "3"
	FrameConnect    = "40"
	FrameDisconnect = "41"
)

var errMalformed = errors.New("malformed packet")

// Handshake is the body of the Engine.IO open packet
type Handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload,omitempty"`
}

// idleTimeout is how long the server may stay silent before the
// connection is considered dead.
func (h Handshake) idleTimeout() time.Duration {
	if h.PingInterval <= 0 || h.PingTimeout <= 0 {
		return 0
	}
	return time.Duration(h.PingInterval+h.PingTimeout) * time.Millisecond
}

// OpenFrame encodes the open packet a server sends first.
func OpenFrame(h Handshake) (string, error) {
	body, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("marshal handshake: %w", err)
	}
	return string(packetOpen) + string(body), nil
}

// ConnectAckFrame encodes the namespace connect acknowledgement.
func ConnectAckFrame(sid string) string {
	body, _ := json.Marshal(map[string]string{"sid": sid})
	return string(packetMessage) + string(sioConnect) + string(body)
}

// EventFrame encodes a Socket.IO event on the default namespace.
func EventFrame(name string, payload any) (string, error) {
	body, err := json.Marshal([]any{name, payload})
	if err != nil {
		return "", fmt.Errorf("marshal event %s: %w", name, err)
	}
	return string(packetMessage) + string(sioEvent) + string(body), nil
}

type frame struct {
	kind      byte
	sioKind   byte   // set when kind is packetMessage
	namespace string // empty for the default namespace
	body      string
}

func parseFrame(raw string) (frame, error) {
	if raw == "" {
		return frame{}, errMalformed
	}
	f := frame{kind: raw[0], body: raw[1:]}
	if f.kind != packetMessage {
		return f, nil
	}
	if f.body == "" {
		return frame{}, fmt.Errorf("%w: empty message", errMalformed)
	}
	f.sioKind = f.body[0]
	f.body = f.body[1:]
	// A namespace is prefixed as "/ns,"; a bare "/" is the default one.
	if strings.HasPrefix(f.body, "/") {
		ns, rest := f.body, ""
		if i := strings.IndexByte(f.body, ','); i >= 0 {
			ns, rest = f.body[:i], f.body[i+1:]
		}
		if ns != "/" {
			f.namespace = ns
		}
		f.body = rest
	}
	return f, nil
}

// decodeEvent splits an event body into its name and first argument.
func decodeEvent(body string) (string, json.RawMessage, error) {
	// Ack ids precede the array as digits.
	body = strings.TrimLeft(body, "0123456789")
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(body), &parts); err != nil {
		return "", nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("%w: empty event", errMalformed)
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("%w: event name: %v", errMalformed, err)
	}
	var arg json.RawMessage
	if len(parts) > 1 {
		arg = parts[1]
	}
	return name, arg, nil
}
