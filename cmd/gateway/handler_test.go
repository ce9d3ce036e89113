package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maximvonshaft/executive-game-sub001/pkg/auth"
	"github.com/Maximvonshaft/executive-game-sub001/pkg/config"
	"github.com/Maximvonshaft/executive-game-sub001/pkg/gateway"
	"github.com/Maximvonshaft/executive-game-sub001/pkg/metrics"
)

// stubRooms serves a single room with no events.
type stubRooms struct{}

func (stubRooms) GetRoomSnapshot(_ context.Context, id string) (*gateway.RoomSnapshot, error) {
	if id != "R1" {
		return nil, gateway.NewError(gateway.CodeRoomNotFound, id)
	}
	return &gateway.RoomSnapshot{ID: "R1", Sequence: 4, Members: []string{"alice"}}, nil
}

func (s stubRooms) GetRoom(ctx context.Context, id string) (*gateway.RoomSnapshot, error) {
	return s.GetRoomSnapshot(ctx, id)
}

func (stubRooms) GetEventsSince(context.Context, string, uint64) ([]gateway.RoomEvent, error) {
	return nil, nil
}

func (s stubRooms) JoinAsSpectator(ctx context.Context, req gateway.SpectatorRequest) (*gateway.SpectatorAdmission, error) {
	room, err := s.GetRoomSnapshot(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	return &gateway.SpectatorAdmission{Room: room, DelayMs: 1000}, nil
}

func (stubRooms) LeaveSpectator(context.Context, string, string) error { return nil }

func (stubRooms) SetPlayerReady(context.Context, gateway.ReadyRequest) error { return nil }

func (stubRooms) ApplyPlayerAction(context.Context, gateway.ActionRequest) error { return nil }

func (stubRooms) FindRoomByInvite(context.Context, string) (*gateway.RoomSnapshot, error) {
	return nil, nil
}

func (stubRooms) SubscribeEvents(func(gateway.RoomEventNotification)) (func(), error) {
	return func() {}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink := metrics.NewPrometheusSink("test_gateway")
	cfg := config.Default()

	gw, err := gateway.New(gateway.Config{
		RoomManager:       stubRooms{},
		Authenticator:     auth.NewStaticAuthenticator(map[string]string{"tok-alice": "alice"}),
		Metrics:           sink,
		Logger:            logger,
		ConnectionOptions: connectionOptions(cfg.WebSocket, logger),
		Pool:              poolConfig(cfg.WebSocket),
	})
	require.NoError(t, err)
	require.NoError(t, gw.Start(context.Background()))

	srv := httptest.NewServer(newHandler(handlerDeps{
		gateway:     gw,
		logger:      logger,
		metrics:     sink,
		metricsPath: "/metrics",
	}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gw.Stop(ctx)
		srv.Close()
	})
	return srv
}

func getJSON(t *testing.T, url string) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHandlerRoutes(t *testing.T) {
	srv := newTestServer(t)

	assert.Equal(t, "healthy", getJSON(t, srv.URL+"/health")["status"])
	assert.Equal(t, "ready", getJSON(t, srv.URL+"/ready")["status"])

	// A WebSocket session through the full middleware stack.
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=tok-alice"
	conn, _, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "join_room", "roomId": "R1"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var state map[string]any
	require.NoError(t, conn.ReadJSON(&state))
	assert.Equal(t, "room_state", state["type"])

	stats := getJSON(t, srv.URL+"/stats")
	assert.Equal(t, float64(1), stats["connections"])
	assert.Equal(t, float64(1), stats["rooms"])

	room := getJSON(t, srv.URL+"/stats/rooms/R1")
	assert.Equal(t, "R1", room["roomId"])
	assert.Equal(t, float64(1), room["players"])

	resp2, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()
	assert.Contains(t, string(body), "test_gateway_connections_total")

	resp3, err := http.Post(srv.URL+"/health", "text/plain", nil)
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp3.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	assert.Nil(t, checkOrigin(nil))

	check := checkOrigin([]string{"https://play.example.com/", "http://localhost:3000"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://play.example.com", true},
		{"HTTPS://PLAY.EXAMPLE.COM", true},
		{"http://localhost:3000", true},
		{"http://play.example.com", false},
		{"https://evil.example.com", false},
		{"http://localhost:3001", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, check(r))
		})
	}
}
