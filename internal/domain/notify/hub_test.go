package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nanobanana/nanobanana-api/internal/middleware"
	"github.com/nanobanana/nanobanana-api/internal/pkg/jwt"
)

func newWSServer(t *testing.T, hub *Hub, jwtSvc *jwt.Service) *httptest.Server {
	t.Helper()
	handler := NewHandler(hub, nil)
	server := httptest.NewServer(middleware.TokenFromQuery(middleware.Auth(jwtSvc)(http.HandlerFunc(handler.WebSocket))))
	t.Cleanup(server.Close)
	return server
}

func waitForConnections(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connections, got %d", n, hub.ConnectionCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubDeliversEventsToOwnerOnly(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	t.Cleanup(hub.Shutdown)

	jwtSvc := jwt.NewService("secret", time.Minute)
	userID := uuid.New()
	token, err := jwtSvc.GenerateAccessToken(userID, "")
	if err != nil {
		t.Fatalf("token gen failed: %v", err)
	}

	server := newWSServer(t, hub, jwtSvc)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	waitForConnections(t, hub, 1)

	ctx := context.Background()
	_ = hub.Publish(ctx, JobEvent{Type: EventFailed, UserID: uuid.New(), JobID: uuid.New(), TaskID: "someone-else"})

	jobID := uuid.New()
	_ = hub.Publish(ctx, JobEvent{
		Type:   EventSucceeded,
		UserID: userID,
		JobID:  jobID,
		TaskID: "task-1",
		Status: "succeeded",
		URLs:   []string{"https://cdn/a.png"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var got JobEvent
	if err := json.Unmarshal(message, &got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.JobID != jobID || got.TaskID != "task-1" || got.Type != EventSucceeded {
		t.Fatalf("unexpected event: %+v", got)
	}
	if got.OccurredAt.IsZero() {
		t.Fatal("expected occurred_at to be set")
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	t.Cleanup(hub.Shutdown)

	server := newWSServer(t, hub, jwt.NewService("secret", time.Minute))

	resp, err := http.Get(server.URL + "/ws")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestRedisPublisherWithoutClientIsNoop(t *testing.T) {
	if err := NewRedisPublisher(nil).Publish(context.Background(), JobEvent{UserID: uuid.New()}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestDecodeEvent(t *testing.T) {
	userID := uuid.New()
	payload, _ := json.Marshal(JobEvent{Type: EventSubmitted, UserID: userID, TaskID: "t"})

	event, err := DecodeEvent(string(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Type != EventSubmitted || event.UserID != userID {
		t.Fatalf("unexpected event: %+v", event)
	}

	if _, err := DecodeEvent("{not json"); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
