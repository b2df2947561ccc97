package signaling

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-pantera/pkg/protocol"
)

var upgrader = websocket.Upgrader{}

// relayServer accepts broadcaster sockets and hands each to onConn.
func relayServer(t *testing.T, onConn func(*websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		onConn(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readMessage(t *testing.T, conn *websocket.Conn) *protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Errorf("read: %v", err)
		return nil
	}
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		t.Errorf("parse: %v", err)
		return nil
	}
	return msg
}

func writeMessage(conn *websocket.Conn, msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

type recorder struct {
	mu   sync.Mutex
	msgs []*protocol.Message
}

func (r *recorder) HandleMessage(_ context.Context, msg *protocol.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) types() []protocol.MessageType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.MessageType, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Type
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRegistersAndDeliversInOrder(t *testing.T) {
	registered := make(chan string, 1)
	url := relayServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		msg := readMessage(t, conn)
		if msg == nil {
			return
		}
		reg, err := msg.GetRegisterData()
		if err != nil {
			t.Errorf("GetRegisterData() error = %v", err)
			return
		}
		registered <- reg.DeviceID

		joined, _ := protocol.NewViewerJoinedMessage("a")
		answer, _ := protocol.NewAnswerMessage("a", "v=0")
		left, _ := protocol.NewViewerDisconnectedMessage("a")
		for _, m := range []*protocol.Message{joined, answer, left} {
			writeMessage(conn, m)
		}
		// Malformed frames are dropped without closing the socket.
		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		conn.ReadMessage()
	})

	rec := &recorder{}
	c := NewClient(Config{URL: url, DeviceID: "dev1", Handler: rec})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	select {
	case id := <-registered:
		if id != "dev1" {
			t.Errorf("registered device = %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no register-broadcaster received")
	}

	waitFor(t, "three messages", func() bool { return len(rec.types()) == 3 })
	want := []protocol.MessageType{protocol.TypeViewerJoined, protocol.TypeAnswer, protocol.TypeViewerDisconnected}
	for i, got := range rec.types() {
		if got != want[i] {
			t.Errorf("message %d = %s, want %s", i, got, want[i])
		}
	}
}

func TestSend(t *testing.T) {
	got := make(chan *protocol.Message, 1)
	url := relayServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		readMessage(t, conn) // register
		got <- readMessage(t, conn)
	})

	c := NewClient(Config{URL: url, DeviceID: "dev1"})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()
	waitFor(t, "connected", c.Connected)

	offer, _ := protocol.NewOfferMessage("viewer-a", "v=0")
	if err := c.Send(offer); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case msg := <-got:
		if msg == nil {
			t.Fatal("no message")
		}
		o, err := msg.GetOffer()
		if err != nil || o.Target != "viewer-a" {
			t.Errorf("offer = %+v, %v", o, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("relay received nothing")
	}
}

func TestPingAnswered(t *testing.T) {
	pong := make(chan *protocol.Message, 1)
	url := relayServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		readMessage(t, conn)
		ping, _ := protocol.NewPingMessage("p1")
		writeMessage(conn, ping)
		pong <- readMessage(t, conn)
	})

	c := NewClient(Config{URL: url, DeviceID: "dev1"})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	select {
	case msg := <-pong:
		if msg == nil || msg.Type != protocol.TypePong {
			t.Fatalf("reply = %+v", msg)
		}
		d, _ := msg.GetPongData()
		if d.ID != "p1" {
			t.Errorf("pong id = %q", d.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no pong")
	}
}

func TestReconnectReregisters(t *testing.T) {
	var registrations atomic.Int32
	url := relayServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		if readMessage(t, conn) == nil {
			return
		}
		if registrations.Add(1) == 1 {
			// Drop the first connection.
			return
		}
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		conn.ReadMessage()
	})

	var connects, disconnects atomic.Int32
	c := NewClient(Config{
		URL:            url,
		DeviceID:       "dev1",
		ReconnectDelay: 10 * time.Millisecond,
		OnConnect:      func() { connects.Add(1) },
		OnDisconnect:   func(error) { disconnects.Add(1) },
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	waitFor(t, "second registration", func() bool { return registrations.Load() == 2 })
	waitFor(t, "reconnected", func() bool { return connects.Load() == 2 })
	if disconnects.Load() < 1 {
		t.Error("OnDisconnect should have fired")
	}
}

func TestReconnectGivesUp(t *testing.T) {
	var accepted atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accepted.Add(1) > 1 {
			http.Error(w, "gone", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	c := NewClient(Config{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		DeviceID:       "dev1",
		ReconnectDelay: 5 * time.Millisecond,
		MaxReconnects:  3,
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("client kept reconnecting")
	}
	if got := accepted.Load(); got != 4 {
		t.Errorf("dial attempts = %d, want 4 (1 + 3 reconnects)", got)
	}
	c.Close()
}

func TestSendStates(t *testing.T) {
	c := NewClient(Config{URL: "ws://127.0.0.1:1", DeviceID: "dev1"})
	msg, _ := protocol.NewRegisterMessage("dev1")

	if err := c.Send(msg); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() before connect = %v, want ErrNotConnected", err)
	}
	c.Close()
	c.Close()
	if err := c.Send(msg); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after close = %v, want ErrClosed", err)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect() after close = %v, want ErrClosed", err)
	}
}

func TestConnectRequiresURL(t *testing.T) {
	if err := NewClient(Config{}).Connect(context.Background()); !errors.Is(err, ErrNoURL) {
		t.Errorf("Connect() = %v, want ErrNoURL", err)
	}
}
