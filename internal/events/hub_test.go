package events

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/puertocho/assistant-gateway/domain/entities"
)

type fakeActivator struct {
	calls int64
}

func (a *fakeActivator) Activate(source string) bool {
	atomic.AddInt64(&a.calls, 1)
	return true
}

func TestPublishPreservesOrder(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	for i := 0; i < 5; i++ {
		hub.Publish(entities.NewEvent(entities.EventStateChange, map[string]any{"seq": i}))
	}

	for i := 0; i < 5; i++ {
		select {
		case event := <-sub.C:
			if event.Payload["seq"] != i {
				t.Errorf("Expected event %d in order, got %v", i, event.Payload["seq"])
			}
		case <-time.After(time.Second):
			t.Fatalf("Missing event %d", i)
		}
	}
}

func TestPublishDropsOldestWhenMailboxFull(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	hub.mailboxSize = 2
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	for i := 0; i < 4; i++ {
		hub.Publish(entities.NewEvent(entities.EventStateChange, map[string]any{"seq": i}))
	}

	// Events 0 and 1 were dropped to make room for 2 and 3.
	want := []int{2, 3}
	for _, expected := range want {
		select {
		case event := <-sub.C:
			if event.Payload["seq"] != expected {
				t.Errorf("Expected event %d after drops, got %v", expected, event.Payload["seq"])
			}
		case <-time.After(time.Second):
			t.Fatalf("Missing event %d", expected)
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	hub.mailboxSize = 1
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		// Nobody drains the mailbox; publishing must still return.
		for i := 0; i < 100; i++ {
			hub.Publish(entities.NewEvent(entities.EventError, nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow observer")
	}
}

func TestPublishFansOutToAllObservers(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())

	subs := make([]*Subscription, 3)
	for i := range subs {
		subs[i] = hub.Subscribe()
	}
	if hub.ObserverCount() != 3 {
		t.Fatalf("Expected 3 observers, got %d", hub.ObserverCount())
	}

	hub.Publish(entities.NewEvent(entities.EventAudioReceived, map[string]any{"job_id": "j1"}))

	for i, sub := range subs {
		select {
		case event := <-sub.C:
			if event.Payload["job_id"] != "j1" {
				t.Errorf("Observer %d got wrong payload: %v", i, event.Payload)
			}
		case <-time.After(time.Second):
			t.Fatalf("Observer %d missed the broadcast", i)
		}
	}

	for _, sub := range subs {
		hub.Unsubscribe(sub)
	}
	if hub.ObserverCount() != 0 {
		t.Errorf("Expected 0 observers after unsubscribe, got %d", hub.ObserverCount())
	}
}

func TestUnsubscribeClosesMailbox(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	sub := hub.Subscribe()

	hub.Unsubscribe(sub)
	// A second unsubscribe of the same observer must be harmless.
	hub.Unsubscribe(sub)

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Error("Expected closed mailbox after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("Mailbox not closed after unsubscribe")
	}
}

func TestDisconnectedObserverDoesNotReceive(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	sub := hub.Subscribe()
	hub.Unsubscribe(sub)

	// Delivery to a disconnected observer is dropped, not queued.
	hub.Publish(entities.NewEvent(entities.EventStateChange, nil))

	if _, ok := <-sub.C; ok {
		t.Error("Unsubscribed observer must not receive events")
	}
}

func dialTestHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	e := echo.New()
	e.GET("/ws", hub.ServeWS)
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("WebSocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForObserver(t *testing.T, hub *Hub) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ObserverCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Observer never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServeWSStreamsEnvelopes(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	conn := dialTestHub(t, hub)
	waitForObserver(t, hub)

	hub.Publish(entities.NewEvent(entities.EventProcessingStarted, map[string]any{"job_id": "j42"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read from observer stream: %v", err)
	}

	var event entities.EventEnvelope
	if err := json.Unmarshal(message, &event); err != nil {
		t.Fatalf("Stream payload is not an envelope: %v", err)
	}
	if event.Type != entities.EventProcessingStarted {
		t.Errorf("Expected processing_started, got %s", event.Type)
	}
	if event.Payload["job_id"] != "j42" {
		t.Errorf("Expected job_id j42, got %v", event.Payload["job_id"])
	}
	if event.Timestamp == 0 {
		t.Error("Expected envelope timestamp")
	}
}

func TestObserverActivationCommand(t *testing.T) {
	activator := &fakeActivator{}
	hub := NewHub(activator, zap.NewNop())
	conn := dialTestHub(t, hub)
	waitForObserver(t, hub)

	if err := conn.WriteJSON(map[string]string{"type": "activate"}); err != nil {
		t.Fatalf("Failed to send activation command: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt64(&activator.calls) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Activation command never reached the activator")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func ExampleHub_Subscribe() {
	hub := NewHub(nil, zap.NewNop())
	sub := hub.Subscribe()

	hub.Publish(entities.NewEvent(entities.EventStateChange, map[string]any{"state": "listening"}))

	event := <-sub.C
	fmt.Println(event.Type, event.Payload["state"])
	// Output: state_change listening
}
