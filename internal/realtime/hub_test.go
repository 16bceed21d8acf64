package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, hub *Hub, topic string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Subscribers(topic) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("topic %q never reached %d subscribers", topic, want)
}

func TestSubscribeAndBroadcast(t *testing.T) {
	hub := NewHub(func(r *http.Request) bool { return true }, nil)
	conn := dialHub(t, hub)

	if err := conn.WriteJSON(ClientMsg{Type: "subscribe", Topic: "events"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitForSubscribers(t, hub, "events", 1)

	hub.BroadcastJSON("events", map[string]string{"kind": "transfer"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["kind"] != "transfer" {
		t.Fatalf("unexpected payload %v", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(func(r *http.Request) bool { return true }, nil)
	conn := dialHub(t, hub)

	if err := conn.WriteJSON(ClientMsg{Type: "subscribe", Topic: "account:alice"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitForSubscribers(t, hub, "account:alice", 1)

	if err := conn.WriteJSON(ClientMsg{Type: "unsubscribe", Topic: "account:alice"}); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	waitForSubscribers(t, hub, "account:alice", 0)
}

func TestPingPong(t *testing.T) {
	hub := NewHub(func(r *http.Request) bool { return true }, nil)
	conn := dialHub(t, hub)

	if err := conn.WriteJSON(ClientMsg{Type: "ping"}); err != nil {
		t.Fatalf("ping: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]string
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if got["type"] != "pong" {
		t.Fatalf("expected pong, got %v", got)
	}
}

func TestDisconnectDropsSubscriptions(t *testing.T) {
	hub := NewHub(func(r *http.Request) bool { return true }, nil)
	conn := dialHub(t, hub)

	if err := conn.WriteJSON(ClientMsg{Type: "subscribe", Topic: "events"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitForSubscribers(t, hub, "events", 1)

	conn.Close()
	waitForSubscribers(t, hub, "events", 0)
}

func TestConcurrentPingAndBroadcast(t *testing.T) {
	hub := NewHub(func(r *http.Request) bool { return true }, nil)
	conn := dialHub(t, hub)

	if err := conn.WriteJSON(ClientMsg{Type: "subscribe", Topic: "events"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitForSubscribers(t, hub, "events", 1)

	const rounds = 10
	errCh := make(chan error, 1)
	go func() {
		for i := 0; i < rounds; i++ {
			if err := conn.WriteJSON(ClientMsg{Type: "ping"}); err != nil {
				errCh <- err
				return
			}
		}
		errCh <- nil
	}()

	for i := 0; i < rounds; i++ {
		hub.BroadcastJSON("events", map[string]string{"kind": "transfer"})
		time.Sleep(time.Millisecond)
	}

	if err := <-errCh; err != nil {
		t.Fatalf("ping writer: %v", err)
	}

	pongs, events := 0, 0
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for pongs+events < 2*rounds {
		var got map[string]string
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("read after %d pongs and %d events: %v", pongs, events, err)
		}
		switch {
		case got["type"] == "pong":
			pongs++
		case got["kind"] == "transfer":
			events++
		default:
			t.Fatalf("unexpected message %v", got)
		}
	}
	if pongs != rounds || events != rounds {
		t.Fatalf("expected %d pongs and %d events, got %d and %d", rounds, rounds, pongs, events)
	}
}

func TestSlowConsumerDoesNotBlockBroadcast(t *testing.T) {
	hub := NewHub(func(r *http.Request) bool { return true }, nil)
	conn := dialHub(t, hub)

	if err := conn.WriteJSON(ClientMsg{Type: "subscribe", Topic: "events"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitForSubscribers(t, hub, "events", 1)

	// Never read from conn; the hub must keep returning promptly.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10*sendBuffer; i++ {
			hub.Broadcast("events", []byte(`{"kind":"flood"}`))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("broadcast blocked on a slow consumer")
	}
}
