package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/config"
)

func configNotify(source string) config.Notify {
	return config.Notify{Source: source}
}

// socketIOServer speaks the server side of Engine.IO v4 / Socket.IO v4 on
// one connection: open, namespace connect, then session.
func socketIOServer(t *testing.T, session func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/socket.io/" || r.URL.Query().Get("EIO") != "4" || r.URL.Query().Get("transport") != "websocket" {
			http.Error(w, "bad endpoint "+r.URL.String(), http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(`0{"sid":"s1","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`))
		_, connect, err := conn.ReadMessage()
		if err != nil || !strings.HasPrefix(string(connect), "40") {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`40{"sid":"n1"}`))
		session(conn)
	}))
}

func TestWebSocketSourceSocketIOSession(t *testing.T) {
	joined := make(chan string, 1)
	pong := make(chan string, 1)

	srv := socketIOServer(t, func(conn *websocket.Conn) {
		_, join, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case joined <- string(join):
		default:
		}

		conn.WriteMessage(websocket.TextMessage, []byte("2"))
		_, reply, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case pong <- string(reply):
		default:
		}

		conn.WriteMessage(websocket.TextMessage, []byte(`42["order-paid",{"orderId":1}]`))
		conn.WriteMessage(websocket.TextMessage, []byte(`42["new-order",{"orderId":99,"orderData":{"id":99,"tables":[{"number":4}]}}]`))
		conn.WriteMessage(websocket.TextMessage, []byte(`42["order-items-added",{"orderId":"99","addedItems":{"quantity":1,"name":"Chicha"}}]`))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	cfg := config.WebSocket{URL: srv.URL, MinBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}
	src := NewWebSocketSource(cfg, 4, "", zap.NewNop())
	out := make(chan Event, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := src.Subscribe(ctx, out); err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	select {
	case got := <-joined:
		if got != `42["join-restaurant",4]` {
			t.Errorf("join = %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("join not received")
	}
	select {
	case got := <-pong:
		if got != "3" {
			t.Errorf("ping answered with %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ping not answered")
	}

	for _, want := range []Kind{KindNewOrder, KindItemsAdded} {
		select {
		case evt := <-out:
			if evt.Kind != want || evt.OrderID != "99" || evt.Source != "websocket" {
				t.Errorf("unexpected event: %+v", evt)
			}
			if want == KindNewOrder && (evt.Order == nil || len(evt.Order.Tables) != 1) {
				t.Errorf("order data not decoded: %+v", evt.Order)
			}
			if want == KindItemsAdded && len(evt.AddedItems) != 1 {
				t.Errorf("added items = %+v", evt.AddedItems)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s not delivered", want)
		}
	}

	if err := src.Subscribe(ctx, out); err == nil {
		t.Error("second Subscribe should fail")
	}
}

func TestWebSocketSourceSendsAuth(t *testing.T) {
	connect := make(chan string, 1)
	header := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case header <- r.Header.Get("Authorization"):
		default:
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`0{"sid":"s1","pingInterval":25000,"pingTimeout":20000}`))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case connect <- string(msg):
		default:
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`44{"message":"unauthorized"}`))
	}))
	defer srv.Close()

	src := NewWebSocketSource(config.WebSocket{URL: srv.URL, MinBackoff: time.Second}, 1, "secret", zap.NewNop())
	if err := src.Subscribe(context.Background(), make(chan Event)); err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	select {
	case h := <-header:
		if h != "Bearer secret" {
			t.Errorf("Authorization = %q", h)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw a connection")
	}
	select {
	case msg := <-connect:
		if msg != `40{"token":"secret"}` {
			t.Errorf("connect packet = %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connect packet not received")
	}
}

func TestWebSocketSourceReconnects(t *testing.T) {
	connections := make(chan struct{}, 4)
	srv := socketIOServer(t, func(conn *websocket.Conn) {
		select {
		case connections <- struct{}{}:
		default:
		}
		conn.WriteMessage(websocket.TextMessage, []byte("1"))
	})
	defer srv.Close()

	cfg := config.WebSocket{URL: srv.URL, MinBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}
	src := NewWebSocketSource(cfg, 1, "", zap.NewNop())
	if err := src.Subscribe(context.Background(), make(chan Event)); err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	for i := 0; i < 2; i++ {
		select {
		case <-connections:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d connections, expected a reconnect", i)
		}
	}
}

func TestSocketIOURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "http://localhost:4000", want: "ws://localhost:4000/socket.io/?EIO=4&transport=websocket"},
		{in: "https://pos.example.com/", want: "wss://pos.example.com/socket.io/?EIO=4&transport=websocket"},
		{in: "ws://10.0.0.2:4000/custom/", want: "ws://10.0.0.2:4000/custom/?EIO=4&transport=websocket"},
		{in: "ftp://x", wantErr: true},
	}
	for _, tt := range tests {
		got, err := socketIOURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("socketIOURL(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("socketIOURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseSocketPacket(t *testing.T) {
	tests := []struct {
		frame    string
		wantType byte
		wantData string
	}{
		{`2["new-order",{}]`, sioEvent, `["new-order",{}]`},
		{`2/orders,["new-order",{}]`, sioEvent, `["new-order",{}]`},
		{`217["new-order",{}]`, sioEvent, `["new-order",{}]`},
		{`0{"sid":"x"}`, sioConnect, `{"sid":"x"}`},
		{`1`, sioDisconnect, ``},
	}
	for _, tt := range tests {
		p, err := parseSocketPacket([]byte(tt.frame))
		if err != nil {
			t.Errorf("%s: %v", tt.frame, err)
			continue
		}
		if p.Type != tt.wantType || string(p.Data) != tt.wantData {
			t.Errorf("%s: got %c %q", tt.frame, p.Type, p.Data)
		}
	}
}

func TestDecodeSocketEvent(t *testing.T) {
	evt, err := decodeSocketEvent([]byte(`["new-order",{"orderId":7}]`))
	if err != nil || evt.Kind != KindNewOrder || evt.OrderID != "7" {
		t.Errorf("new-order = %+v, %v", evt, err)
	}
	if _, err := decodeSocketEvent([]byte(`["order-paid",{}]`)); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("err = %v, want ErrUnknownEvent", err)
	}
	if _, err := decodeSocketEvent([]byte(`{"type":"new-order"}`)); err == nil {
		t.Error("non-array payload accepted")
	}
}
