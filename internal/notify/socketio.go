package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Engine.IO v4 packet types, the first byte of every text frame.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
	eioNoop    = '6'
)

// Socket.IO v4 packet types, the byte after an Engine.IO message.
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioConnectError = '4'
)

var errServerClosed = errors.New("server closed the socket.io session")

// handshake is the Engine.IO open packet payload.
type handshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
	MaxPayload   int    `json:"maxPayload"`
}

// readTimeout is how long to wait for the next server ping.
func (h handshake) readTimeout() time.Duration {
	d := time.Duration(h.PingInterval+h.PingTimeout) * time.Millisecond
	if d <= 0 {
		return pongWait
	}
	return d
}

// socketIOURL turns the backend's base URL into its Engine.IO websocket
// endpoint. http(s) schemes become ws(s); an empty path becomes /socket.io/.
func socketIOURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid push url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid push url scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// connectPacket opens the default namespace, passing token as auth.
func connectPacket(token string) ([]byte, error) {
	packet := []byte{eioMessage, sioConnect}
	if token == "" {
		return packet, nil
	}
	auth, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return nil, err
	}
	return append(packet, auth...), nil
}

// eventPacket encodes a Socket.IO event on the default namespace:
// 42["name",arg].
func eventPacket(name string, arg any) ([]byte, error) {
	body, err := json.Marshal([]any{name, arg})
	if err != nil {
		return nil, err
	}
	return append([]byte{eioMessage, sioEvent}, body...), nil
}

// socketPacket is a decoded Socket.IO packet carried in an Engine.IO
// message.
type socketPacket struct {
	Type byte
	Data []byte
}

// parseSocketPacket splits "<type>[/namespace,][ackId]<json>".
func parseSocketPacket(frame []byte) (socketPacket, error) {
	if len(frame) == 0 {
		return socketPacket{}, errors.New("empty socket.io packet")
	}
	p := socketPacket{Type: frame[0]}
	rest := frame[1:]
	if len(rest) > 0 && rest[0] == '/' {
		i := strings.IndexByte(string(rest), ',')
		if i < 0 {
			return p, nil
		}
		rest = rest[i+1:]
	}
	for len(rest) > 0 && rest[0] >= '0' && rest[0] <= '9' {
		rest = rest[1:]
	}
	p.Data = rest
	return p, nil
}

// decodeSocketEvent decodes the JSON array of an event packet into an
// Event. Events the daemon does not handle return ErrUnknownEvent.
func decodeSocketEvent(data []byte) (Event, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(data, &args); err != nil {
		return Event{}, fmt.Errorf("invalid socket.io event: %w", err)
	}
	if len(args) == 0 {
		return Event{}, errors.New("socket.io event without a name")
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return Event{}, fmt.Errorf("invalid socket.io event name: %w", err)
	}
	kind, err := ParseKind(name)
	if err != nil {
		return Event{}, err
	}
	var payload json.RawMessage
	if len(args) > 1 {
		payload = args[1]
	}
	if !present(payload) {
		payload = json.RawMessage("{}")
	}
	return DecodePayload(kind, payload)
}
