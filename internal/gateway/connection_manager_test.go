package gateway

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auctionhouse/engine/internal/auction/events"
)

func newTestServer(t *testing.T) (*ConnectionManager, *httptest.Server) {
	t.Helper()
	return newTestServerWithConfig(t, DefaultConnectionConfig())
}

func newTestServerWithConfig(t *testing.T, config ConnectionConfig) (*ConnectionManager, *httptest.Server) {
	t.Helper()

	cm := NewConnectionManager(config)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go cm.Start(ctx)

	mux := http.NewServeMux()
	NewWebSocketHandler(cm).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return cm, srv
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func viewerHeader() http.Header {
	h := http.Header{}
	h.Set("X-User-Id", "viewer-1")
	h.Set("X-User-Role", "viewer")
	return h
}

func readEvent(t *testing.T, conn *websocket.Conn) *Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)

	if messageType == websocket.BinaryMessage {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		require.NoError(t, err)
		data, err = io.ReadAll(zr)
		require.NoError(t, err)
	}

	var event Event
	require.NoError(t, json.Unmarshal(data, &event))
	return &event
}

func TestConnectReceivesWelcome(t *testing.T) {
	_, srv := newTestServer(t)
	conn := dial(t, srv, viewerHeader())

	event := readEvent(t, conn)
	assert.Equal(t, events.TypeWelcome, event.Type)

	var payload events.WelcomePayload
	require.NoError(t, json.Unmarshal(event.Data, &payload))
	assert.NotEmpty(t, payload.ConnectionID)
}

func TestConnectWithoutIdentityIsRefused(t *testing.T) {
	_, srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestBroadcastReachesAllConnections(t *testing.T) {
	cm, srv := newTestServer(t)

	conn1 := dial(t, srv, viewerHeader())
	conn2 := dial(t, srv, viewerHeader())
	readEvent(t, conn1) // welcome
	readEvent(t, conn2)

	cm.Broadcast(events.TypeTimerUpdate,
		events.TimerUpdatePayload{Seconds: 25}, events.PriorityHigh)

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		event := readEvent(t, conn)
		assert.Equal(t, events.TypeTimerUpdate, event.Type)

		var payload events.TimerUpdatePayload
		require.NoError(t, json.Unmarshal(event.Data, &payload))
		assert.Equal(t, 25, payload.Seconds)
	}
}

func TestLargeBroadcastIsCompressed(t *testing.T) {
	cm, srv := newTestServer(t)

	conn := dial(t, srv, viewerHeader())
	readEvent(t, conn) // welcome

	big := map[string]string{"blob": strings.Repeat("auction ", 500)}
	cm.Broadcast(events.TypeAuctionStatus, big, events.PriorityNormal)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, messageType)

	zr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(plain, &event))
	assert.Equal(t, events.TypeAuctionStatus, event.Type)
	assert.Greater(t, len(plain), len(data), "compressed frame should be smaller")
}

func TestHighPriorityIsNeverCompressed(t *testing.T) {
	cm, srv := newTestServer(t)

	conn := dial(t, srv, viewerHeader())
	readEvent(t, conn) // welcome

	big := map[string]string{"blob": strings.Repeat("auction ", 500)}
	cm.Broadcast(events.TypePlayerSold, big, events.PriorityHigh)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, _, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, messageType)
}

func TestApplicationPingGetsPong(t *testing.T) {
	_, srv := newTestServer(t)

	conn := dial(t, srv, viewerHeader())
	readEvent(t, conn) // welcome

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	event := readEvent(t, conn)
	assert.Equal(t, events.TypePong, event.Type)
}

func TestRoomBroadcastTargetsTeam(t *testing.T) {
	cm, srv := newTestServer(t)

	teamID := uuid.New()
	teamHeader := http.Header{}
	teamHeader.Set("X-User-Id", "owner-1")
	teamHeader.Set("X-User-Role", "team")
	teamHeader.Set("X-Team-Id", teamID.String())

	teamConn := dial(t, srv, teamHeader)
	viewerConn := dial(t, srv, viewerHeader())
	readEvent(t, teamConn) // welcome
	readEvent(t, viewerConn)

	cm.BroadcastToRoom("team:"+teamID.String(), events.TypeTeamUpdate,
		events.TeamUpdatePayload{TeamID: teamID, BudgetRemaining: 4000})

	event := readEvent(t, teamConn)
	assert.Equal(t, events.TypeTeamUpdate, event.Type)

	// The viewer connection sees nothing.
	viewerConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := viewerConn.ReadMessage()
	assert.Error(t, err)
}

func TestEvictionLeavesSendChannelOpen(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())

	conn := &Connection{
		ID:      uuid.NewString(),
		Send:    make(chan frame, 4),
		done:    make(chan struct{}),
		Manager: cm,
	}
	cm.registerConnection(conn)
	cm.unregisterConnection(conn)

	select {
	case <-conn.done:
	default:
		t.Fatal("unregister did not signal the write pump")
	}

	// A broadcast that snapshotted its targets before the eviction may
	// still deliver to this connection. That send must never panic the
	// fan-out goroutine.
	require.NotPanics(t, func() {
		conn.Send <- frame{data: []byte(`{}`)}
	})
}

func TestMissedPongsEvictConnection(t *testing.T) {
	cfg := DefaultConnectionConfig()
	cfg.PingInterval = 50 * time.Millisecond
	cm, srv := newTestServerWithConfig(t, cfg)

	conn := dial(t, srv, viewerHeader())
	// Swallow server pings so no pong ever goes back.
	conn.SetPingHandler(func(string) error { return nil })
	readEvent(t, conn) // welcome

	received := make(chan events.Type, 16)
	readErr := make(chan error, 1)
	go func() {
		for {
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			var event Event
			if json.Unmarshal(data, &event) == nil {
				received <- event.Type
			}
		}
	}()

	// Two missed pongs end the connection on the server side.
	require.Eventually(t, func() bool {
		return cm.Stats()["total_connections"].(int) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cm.Broadcast(events.TypeTimerUpdate,
		events.TimerUpdatePayload{Seconds: 10}, events.PriorityHigh)

	select {
	case err := <-readErr:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not closed")
	}
	select {
	case typ := <-received:
		t.Fatalf("evicted connection received %s", typ)
	default:
	}
}

func TestStatsCountsConnections(t *testing.T) {
	cm, srv := newTestServer(t)

	conn := dial(t, srv, viewerHeader())
	readEvent(t, conn) // welcome

	require.Eventually(t, func() bool {
		return cm.Stats()["total_connections"].(int) == 1
	}, time.Second, 10*time.Millisecond)
}
