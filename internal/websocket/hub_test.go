package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// ============================================================
// Hub Tests
// ============================================================

func TestNewHub(t *testing.T) {
	hub := NewHub()

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.DroppedMessages() != 0 {
		t.Errorf("expected 0 dropped messages, got %d", hub.DroppedMessages())
	}
}

func TestOriginChecker_Check(t *testing.T) {
	checker := &OriginChecker{
		allowedOrigins: map[string]struct{}{
			"http://localhost:3000": {},
			"https://example.com":   {},
		},
		allowAll: false,
	}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},                       // non-browser clients
		{"http://localhost:3000", true},  // allowed
		{"https://example.com", true},    // allowed
		{"http://evil.com", false},       // not allowed
		{"http://localhost:8080", false}, // not in list
	}

	for _, tt := range tests {
		got := checker.Check(tt.origin)
		if got != tt.want {
			t.Errorf("Check(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestOriginChecker_AllowAll(t *testing.T) {
	checker := &OriginChecker{allowAll: true}

	origins := []string{
		"http://localhost:3000",
		"https://anything.example.org",
	}

	for _, origin := range origins {
		if !checker.Check(origin) {
			t.Errorf("allowAll=true but Check(%q) = false", origin)
		}
	}
}

// registerTestClient регистрирует клиента без реального соединения
func registerTestClient(hub *Hub) *Client {
	client := &Client{
		hub:  hub,
		send: make(chan []byte, clientSendBufferSize),
	}
	hub.register <- client
	return client
}

func receiveMessage(t *testing.T, client *Client) []byte {
	t.Helper()
	select {
	case msg, ok := <-client.send:
		if !ok {
			t.Fatal("client send channel closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
		return nil
	}
}

func TestHub_PublishRefreshStarted(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	client := registerTestClient(hub)

	hub.PublishRefreshStarted("U100", true)

	var msg RefreshStartedMessage
	if err := json.Unmarshal(receiveMessage(t, client), &msg); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}

	if msg.Type != MessageTypeRefreshStarted {
		t.Errorf("expected type %q, got %q", MessageTypeRefreshStarted, msg.Type)
	}
	if msg.AccountID != "U100" || !msg.Manual {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestHub_PublishRefreshFinished(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	client := registerTestClient(hub)

	hub.PublishRefreshFinished("U100", 42, nil)

	var msg RefreshFinishedMessage
	if err := json.Unmarshal(receiveMessage(t, client), &msg); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}

	if msg.Type != MessageTypeRefreshFinished {
		t.Errorf("expected type %q, got %q", MessageTypeRefreshFinished, msg.Type)
	}
	if !msg.Success || msg.Positions != 42 || msg.Error != "" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestHub_PublishRefreshFinishedWithError(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	client := registerTestClient(hub)

	hub.PublishRefreshFinished("U100", 0, errors.New("gateway unavailable"))

	var msg RefreshFinishedMessage
	if err := json.Unmarshal(receiveMessage(t, client), &msg); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}

	if msg.Success {
		t.Error("expected success=false")
	}
	if msg.Error != "gateway unavailable" {
		t.Errorf("expected error text, got %q", msg.Error)
	}
}

func TestHub_SlowClientRemoved(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	// Клиент с заполненным буфером: никто не читает send
	client := &Client{
		hub:  hub,
		send: make(chan []byte, 1),
	}
	hub.register <- client
	client.send <- []byte("stale")

	hub.PublishRefreshStarted("U100", false)

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("slow client was not removed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_Stop(t *testing.T) {
	hub := NewHub()

	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	hub.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Hub.Run() did not exit after Stop()")
	}
}

func TestHub_BroadcastAfterStopDoesNotBlock(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	hub.Stop()
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.PublishRefreshStarted("U100", false)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Broadcast blocked after Stop")
	}
}

func TestHub_ConcurrentOperations(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	var wg sync.WaitGroup
	const goroutines = 10
	const operations = 500

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				hub.PublishRefreshFinished("U100", j, nil)
			}
		}(i)
	}

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				_ = hub.ClientCount()
			}
		}()
	}

	wg.Wait()
}
