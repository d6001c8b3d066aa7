package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitwarden/gitwarden/internal/common/logger"
	"github.com/gitwarden/gitwarden/internal/events/bus"
)

func newTestHub(t *testing.T) (*Hub, *bus.MemoryEventBus) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	hub := NewHub(eventBus, log)
	require.NoError(t, hub.SubscribeBus("trust.>", bus.SubjectSupervisorState))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	return hub, eventBus
}

func dialTestServer(t *testing.T, hub *Hub) *gorillaws.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	RegisterRoutes(router, hub, log)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events/ws"
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", want, hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubStreamsBusEvents(t *testing.T) {
	hub, eventBus := newTestHub(t)
	conn := dialTestServer(t, hub)
	waitForClients(t, hub, 1)

	event := bus.NewEvent("verification.requested", "trust-gateway", map[string]interface{}{
		"hostKey": "git.example.com",
	})
	require.NoError(t, eventBus.Publish(context.Background(), bus.SubjectVerificationRequested, event))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got bus.Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "verification.requested", got.Type)
	assert.Equal(t, "git.example.com", got.Data["hostKey"])
}

func TestHubStreamsSupervisorState(t *testing.T) {
	hub, eventBus := newTestHub(t)
	conn := dialTestServer(t, hub)
	waitForClients(t, hub, 1)

	event := bus.NewEvent("supervisor.state", "supervisor", map[string]interface{}{
		"state":    "healthy",
		"previous": "starting",
	})
	require.NoError(t, eventBus.Publish(context.Background(), bus.SubjectSupervisorState, event))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got bus.Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "healthy", got.Data["state"])
}

func TestHubDropsDisconnectedClient(t *testing.T) {
	hub, _ := newTestHub(t)
	conn := dialTestServer(t, hub)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}
