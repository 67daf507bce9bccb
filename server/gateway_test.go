package server

import (
	"context"
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
)

type gatewayFixture struct {
	gw       *Gateway
	registry *Registry
	metrics  *Metrics
	geometry Geometry
	url      string
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	g := mustGeometry(t, 100, 200)
	metrics := NewMetrics()
	reg := NewRegistry(metrics)
	rt := NewRouter(
		fakeVerifier{"token-a": "user-a", "token-b": "user-b"},
		&fakeCatalog{spaces: map[string]Geometry{"space-1": g}},
		reg, metrics,
	)
	gw := NewGateway(rt, reg, metrics, GatewayConfig{Conn: DefaultConnConfig()})
	srv := httptest.NewServer(http.HandlerFunc(gw.HandleWS))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = gw.CloseAll(ctx)
		srv.Close()
	})
	return &gatewayFixture{
		gw:       gw,
		registry: reg,
		metrics:  metrics,
		geometry: g,
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (f *gatewayFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = resp.Body.Close()
		_ = ws.Close()
	})
	return ws
}

func writeFrame(t *testing.T, ws *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func readFrame(t *testing.T, ws *websocket.Conn) rawEnvelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	return decodeEnvelope(t, msg)
}

// expectSilence 在 wait 时间内不应收到任何帧
func expectSilence(t *testing.T, ws *websocket.Conn, wait time.Duration) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(wait)))
	_, msg, err := ws.ReadMessage()
	require.Error(t, err, "unexpected frame: %s", msg)
	var netErr interface{ Timeout() bool }
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func (f *gatewayFixture) joinOverWire(t *testing.T, token string) (*websocket.Conn, SpaceJoined) {
	t.Helper()
	ws := f.dial(t)
	writeFrame(t, ws, fmt.Sprintf(`{"type":"join","payload":{"spaceId":"space-1","token":%q}}`, token))
	env := readFrame(t, ws)
	require.Equal(t, TypeSpaceJoined, env.Type, "payload: %s", env.Payload)
	return ws, decodePayload[SpaceJoined](t, env)
}

func TestGatewayJoinAndMoveOverWire(t *testing.T) {
	f := newGatewayFixture(t)
	a, ackA := f.joinOverWire(t, "token-a")
	b, ackB := f.joinOverWire(t, "token-b")

	require.Len(t, ackB.Users, 1)
	assert.Equal(t, UserState{UserID: "user-a", X: ackA.Spawn.X, Y: ackA.Spawn.Y}, ackB.Users[0])

	// 非法移动：只有 a 收到 movement-rejected
	writeFrame(t, a, fmt.Sprintf(`{"type":"movement","payload":{"x":%d,"y":%d}}`, ackA.Spawn.X, ackA.Spawn.Y+3))
	env := readFrame(t, a)
	assert.Equal(t, TypeMovementRejected, env.Type)
	assert.Equal(t, ackA.Spawn, decodePayload[Point](t, env))

	// 合法移动：b 收到 movement，a 无消息
	target := stepRight(f.geometry, ackA.Spawn)
	writeFrame(t, a, fmt.Sprintf(`{"type":"movement","payload":{"x":%d,"y":%d}}`, target.X, target.Y))
	env = readFrame(t, b)
	assert.Equal(t, TypeMovement, env.Type)
	assert.Equal(t, UserState{UserID: "user-a", X: target.X, Y: target.Y}, decodePayload[UserState](t, env))
	expectSilence(t, a, 100*time.Millisecond)
}

func TestGatewayMalformedFrameKeepsConnection(t *testing.T) {
	f := newGatewayFixture(t)
	ws := f.dial(t)

	writeFrame(t, ws, `{"type":`)
	writeFrame(t, ws, `{"type":"join","payload":{"spaceId":"space-1","token":"nope"}}`)
	env := readFrame(t, ws)
	require.Equal(t, TypeError, env.Type)
	assert.Equal(t, CodeUnauthorized, decodePayload[ErrorPayload](t, env).Code)

	writeFrame(t, ws, `{"type":"join","payload":{"spaceId":"space-1","token":"token-a"}}`)
	env = readFrame(t, ws)
	assert.Equal(t, TypeSpaceJoined, env.Type)
	assert.EqualValues(t, 1, f.metrics.MalformedFrames)
}

func TestGatewayAbruptCloseBroadcastsUserLeft(t *testing.T) {
	f := newGatewayFixture(t)
	a, _ := f.joinOverWire(t, "token-a")
	b, _ := f.joinOverWire(t, "token-b")

	// 不发送关闭帧，直接断开底层连接
	require.NoError(t, a.UnderlyingConn().Close())

	env := readFrame(t, b)
	assert.Equal(t, TypeUserLeft, env.Type)
	assert.Equal(t, UserLeft{UserID: "user-a"}, decodePayload[UserLeft](t, env))
	expectSilence(t, b, 100*time.Millisecond)

	require.Eventually(t, func() bool { return f.gw.ActiveConns() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.registry.Len())
}

func TestGatewayLastDisconnectRetiresSpace(t *testing.T) {
	f := newGatewayFixture(t)
	a, _ := f.joinOverWire(t, "token-a")
	require.Equal(t, 1, f.registry.Len())

	require.NoError(t, a.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	require.Eventually(t, func() bool { return f.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return f.gw.ActiveConns() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestGatewayCloseAll(t *testing.T) {
	f := newGatewayFixture(t)
	a, _ := f.joinOverWire(t, "token-a")
	b, _ := f.joinOverWire(t, "token-b")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.gw.CloseAll(ctx))

	assert.Equal(t, 0, f.gw.ActiveConns())
	// 会话在最后一次离开操作结束后才退役
	require.Eventually(t, func() bool { return f.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	for _, ws := range []*websocket.Conn{a, b} {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				break
			}
		}
	}
}

func TestGatewayRefusesConnectionsAfterCloseAll(t *testing.T) {
	f := newGatewayFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.gw.CloseAll(ctx))

	ws := f.dial(t)
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	assert.Equal(t, 0, f.gw.ActiveConns())
	assert.EqualValues(t, 0, f.metrics.ConnsOpened)
}

func TestGatewayCheckOrigin(t *testing.T) {
	gw := NewGateway(nil, nil, nil, GatewayConfig{AllowedOrigins: []string{"https://play.example"}})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)

	assert.True(t, gw.checkOrigin(req))
	req.Header.Set("Origin", "https://play.example")
	assert.True(t, gw.checkOrigin(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, gw.checkOrigin(req))

	open := NewGateway(nil, nil, nil, GatewayConfig{})
	assert.True(t, open.checkOrigin(req))
}

func TestGatewayHandleMetrics(t *testing.T) {
	f := newGatewayFixture(t)
	_, _ = f.joinOverWire(t, "token-a")

	rec := httptest.NewRecorder()
	f.gw.HandleMetrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ActiveSpaces      int              `json:"active_spaces"`
		ActiveConnections int              `json:"active_connections"`
		JoinedConnections int              `json:"joined_connections"`
		Metrics           map[string]int64 `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.ActiveSpaces)
	assert.Equal(t, 1, body.ActiveConnections)
	assert.Equal(t, 1, body.JoinedConnections)
	assert.EqualValues(t, 1, body.Metrics["joins_accepted"])
	assert.EqualValues(t, 1, body.Metrics["sessions_created"])
}

func TestGatewayHandleSpaces(t *testing.T) {
	f := newGatewayFixture(t)
	_, ack := f.joinOverWire(t, "token-a")

	rec := httptest.NewRecorder()
	f.gw.HandleSpaces(rec, httptest.NewRequest(http.MethodGet, "/admin/spaces", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, fmt.Sprintf(
		`{"spaces":[{"spaceId":"space-1","width":100,"height":200,"users":[{"userId":"user-a","x":%d,"y":%d}]}]}`,
		ack.Spawn.X, ack.Spawn.Y), rec.Body.String())
}
