package feed

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"dealwatch/internal/domain"
)

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, h.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func change(entityID string, seq int) *domain.ChangeRecord {
	return &domain.ChangeRecord{
		ID:              entityID + "-" + string(rune('a'+seq)),
		EntityID:        entityID,
		DetectedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		SnapshotVersion: 1,
		Sequence:        seq,
		Kind:            domain.ChangeKindNewDeal,
		Detail:          domain.ChangeDetail{NewDeal: &domain.NewDealDetail{DealID: "d1"}},
	}
}

func TestHub_PublishReachesClient(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	conn := dial(t, server, "")
	defer conn.Close()
	waitForClients(t, hub, 1)

	if err := hub.Publish(context.Background(), []*domain.ChangeRecord{change("acme", 0)}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg.Type != "change" || msg.Change == nil {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.Change.EntityID != "acme" || msg.Change.Kind != domain.ChangeKindNewDeal {
		t.Errorf("unexpected change %+v", msg.Change)
	}
}

func TestHub_EntityFilter(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	conn := dial(t, server, "?entity=beta")
	defer conn.Close()
	waitForClients(t, hub, 1)

	err := hub.Publish(context.Background(), []*domain.ChangeRecord{
		change("acme", 0),
		change("beta", 1),
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg.Change.EntityID != "beta" {
		t.Errorf("expected only beta changes, got %s", msg.Change.EntityID)
	}
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dial(t, server, "")
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)

	// Publishing with no clients is a no-op.
	if err := hub.Publish(context.Background(), []*domain.ChangeRecord{change("acme", 0)}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dial(t, server, "")
	defer conn.Close()
	waitForClients(t, hub, 1)

	hub.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal close, got %v", err)
	}
}
