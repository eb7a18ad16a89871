package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/config"
)

const (
	writeWait = 10 * time.Second

	// Read deadline until the server announces its ping interval.
	pongWait = 60 * time.Second

	maxMessageSize = 1024 * 1024 // 1MB
)

// WebSocketSource is a Socket.IO v4 client over the Engine.IO websocket
// transport. It joins the restaurant room, answers server pings and
// reconnects with exponential backoff when the connection drops.
type WebSocketSource struct {
	url          string
	restaurantID int
	token        string
	header       http.Header
	dialer       *websocket.Dialer
	minBackoff   time.Duration
	maxBackoff   time.Duration
	logger       *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

func NewWebSocketSource(cfg config.WebSocket, restaurantID int, token string, logger *zap.Logger) *WebSocketSource {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	minBackoff, maxBackoff := cfg.MinBackoff, cfg.MaxBackoff
	if minBackoff <= 0 {
		minBackoff = time.Second
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}
	return &WebSocketSource{
		url:          cfg.URL,
		restaurantID: restaurantID,
		token:        token,
		header:       header,
		dialer:       websocket.DefaultDialer,
		minBackoff:   minBackoff,
		maxBackoff:   maxBackoff,
		logger:       logger.Named("notify.websocket"),
	}
}

func (s *WebSocketSource) Subscribe(ctx context.Context, out chan<- Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("websocket source already subscribed")
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx, out)
	return nil
}

func (s *WebSocketSource) Close() error {
	s.mu.Lock()
	cancel, conn := s.cancel, s.conn
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *WebSocketSource) run(ctx context.Context, out chan<- Event) {
	defer s.wg.Done()

	backoff := s.minBackoff
	for {
		joined, err := s.session(ctx, out)
		if ctx.Err() != nil {
			return
		}
		if joined {
			backoff = s.minBackoff
		}
		s.logger.Warn("push connection lost, reconnecting",
			zap.String("url", s.url), zap.Duration("backoff", backoff), zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, s.maxBackoff)
	}
}

// session runs one Socket.IO connection until it fails. joined reports
// whether the room join was sent.
func (s *WebSocketSource) session(ctx context.Context, out chan<- Event) (joined bool, err error) {
	endpoint, err := socketIOURL(s.url)
	if err != nil {
		return false, err
	}
	conn, _, err := s.dialer.DialContext(ctx, endpoint, s.header)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			conn.Close()
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	open, err := s.open(conn)
	if err != nil {
		return false, err
	}
	timeout := open.readTimeout()

	join, err := eventPacket(JoinRoom, s.restaurantID)
	if err != nil {
		return false, err
	}
	if err := s.write(conn, join); err != nil {
		return false, err
	}
	s.logger.Info("subscribed to push notifications",
		zap.String("url", endpoint), zap.String("sid", open.SID), zap.Int("restaurant", s.restaurantID))

	for {
		conn.SetReadDeadline(time.Now().Add(timeout))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		if len(frame) == 0 {
			continue
		}

		switch frame[0] {
		case eioPing:
			if err := s.write(conn, []byte{eioPong}); err != nil {
				return true, err
			}
			continue
		case eioClose:
			return true, errServerClosed
		case eioMessage:
		default:
			continue
		}

		packet, err := parseSocketPacket(frame[1:])
		if err != nil {
			s.logger.Warn("dropping malformed socket.io packet", zap.Error(err))
			continue
		}
		switch packet.Type {
		case sioDisconnect:
			return true, errServerClosed
		case sioEvent:
		default:
			continue
		}

		evt, err := decodeSocketEvent(packet.Data)
		if errors.Is(err, ErrUnknownEvent) {
			continue
		}
		if err != nil {
			s.logger.Warn("dropping malformed push event", zap.Error(err))
			continue
		}
		evt.Source = "websocket"
		if !deliver(ctx, out, evt) {
			return true, ctx.Err()
		}
	}
}

// open performs the Engine.IO handshake and connects to the default
// Socket.IO namespace.
func (s *WebSocketSource) open(conn *websocket.Conn) (handshake, error) {
	var open handshake

	conn.SetReadDeadline(time.Now().Add(pongWait))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return open, err
	}
	if len(frame) == 0 || frame[0] != eioOpen {
		return open, fmt.Errorf("expected engine.io open packet, got %q", frame)
	}
	if err := json.Unmarshal(frame[1:], &open); err != nil {
		return open, fmt.Errorf("invalid engine.io open packet: %w", err)
	}

	connect, err := connectPacket(s.token)
	if err != nil {
		return open, err
	}
	if err := s.write(conn, connect); err != nil {
		return open, err
	}

	for {
		conn.SetReadDeadline(time.Now().Add(open.readTimeout()))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return open, err
		}
		if len(frame) > 0 && frame[0] == eioPing {
			if err := s.write(conn, []byte{eioPong}); err != nil {
				return open, err
			}
			continue
		}
		if len(frame) < 2 || frame[0] != eioMessage {
			continue
		}
		packet, err := parseSocketPacket(frame[1:])
		if err != nil {
			return open, err
		}
		switch packet.Type {
		case sioConnect:
			return open, nil
		case sioConnectError:
			return open, fmt.Errorf("socket.io connect refused: %s", packet.Data)
		}
	}
}

func (s *WebSocketSource) write(conn *websocket.Conn, frame []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}
