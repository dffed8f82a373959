package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradient-trading/gradient/internal/bus"
)

// testAuth accepts tokens of the form "user:<id>" and "admin:<id>".
func testAuth(token string) (string, bool, error) {
	switch {
	case strings.HasPrefix(token, "user:"):
		return strings.TrimPrefix(token, "user:"), false, nil
	case strings.HasPrefix(token, "admin:"):
		return strings.TrimPrefix(token, "admin:"), true, nil
	default:
		return "", false, fmt.Errorf("invalid token")
	}
}

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(testAuth, nil)
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.ConnectedCount() == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUpgradeRejectsBadToken(t *testing.T) {
	_, srv := newTestHub(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSendToUser_OnlyReachesOwnerAndAdmin(t *testing.T) {
	hub, srv := newTestHub(t)

	alice := dial(t, srv, "user:alice")
	bob := dial(t, srv, "user:bob")
	admin := dial(t, srv, "admin:ops")
	waitForClients(t, hub, 3)

	hub.SendToUser("alice", bus.EventSnipeSuccess, map[string]string{"snipe_id": "s-1"})

	env := readEnvelope(t, alice)
	assert.Equal(t, bus.EventSnipeSuccess, env.Type)

	env = readEnvelope(t, admin)
	assert.Equal(t, bus.EventSnipeSuccess, env.Type)

	// Bob must not receive Alice's event.
	require.NoError(t, bob.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err, "expected read timeout for uninvolved user")
}

func TestBroadcast_ReachesEveryone(t *testing.T) {
	hub, srv := newTestHub(t)

	alice := dial(t, srv, "user:alice")
	bob := dial(t, srv, "user:bob")
	waitForClients(t, hub, 2)

	hub.Broadcast(bus.EventPriceUpdate, map[string]string{"token_mint": "MintAAA"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		env := readEnvelope(t, conn)
		assert.Equal(t, bus.EventPriceUpdate, env.Type)
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, srv := newTestHub(t)

	conn := dial(t, srv, "user:alice")
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)

	// Sending to a departed user must not panic or leak.
	hub.SendToUser("alice", bus.EventPositionClosed, nil)
	assert.Equal(t, 0, hub.ConnectedCount())
}
