package server

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type rawEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func decodeEnvelope(t *testing.T, b []byte) rawEnvelope {
	t.Helper()
	var env rawEnvelope
	require.NoError(t, json.Unmarshal(b, &env))
	return env
}

func decodePayload[T any](t *testing.T, env rawEnvelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Payload, &v))
	return v
}

// recordingClient 记录所有投递的消息；reject 为 true 时模拟发送队列溢出
type recordingClient struct {
	id uuid.UUID

	mu     sync.Mutex
	msgs   [][]byte
	reject bool
}

func newRecordingClient() *recordingClient {
	return &recordingClient{id: uuid.New()}
}

func (c *recordingClient) ID() uuid.UUID { return c.id }

func (c *recordingClient) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reject {
		return false
	}
	c.msgs = append(c.msgs, msg)
	return true
}

func (c *recordingClient) setReject(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reject = v
}

func (c *recordingClient) envelopes(t *testing.T) []rawEnvelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]rawEnvelope, 0, len(c.msgs))
	for _, m := range c.msgs {
		out = append(out, decodeEnvelope(t, m))
	}
	return out
}

func (c *recordingClient) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = nil
}

func mustGeometry(t *testing.T, w, h int, obstacles ...Point) Geometry {
	t.Helper()
	g, err := NewGeometry(w, h, obstacles)
	require.NoError(t, err)
	return g
}

// stepRight 返回一个合法的单步目标：优先向右，靠右边界时向左
func stepRight(g Geometry, p Point) Point {
	if p.X+1 < g.Width {
		return Point{X: p.X + 1, Y: p.Y}
	}
	return Point{X: p.X - 1, Y: p.Y}
}

// drain 取出连接发送队列里当前所有消息
func drain(t *testing.T, c *Conn) []rawEnvelope {
	t.Helper()
	var out []rawEnvelope
	for {
		select {
		case m := <-c.send:
			out = append(out, decodeEnvelope(t, m))
		case <-time.After(10 * time.Millisecond):
			return out
		}
	}
}
