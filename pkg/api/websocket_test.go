package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anima-runtime/anima/pkg/bus"
)

func dialHub(t *testing.T, f *apiFixture) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(f.srv.Handler())
	t.Cleanup(ts.Close)

	url := strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestWebSocketSubscribeAndReceive(t *testing.T) {
	f := newAPIFixture(t)
	conn := dialHub(t, f)

	msg := readMessage(t, conn)
	assert.Equal(t, "connection.established", msg["type"])

	send(t, conn, ClientMessage{Action: "subscribe", Topic: bus.TopicMilestoneAchieved})
	msg = readMessage(t, conn)
	assert.Equal(t, "subscription.confirmed", msg["type"])

	// Wait for the subscription to register before publishing.
	require.Eventually(t, func() bool {
		return f.srv.deps.Hub.subscriberCount(bus.TopicMilestoneAchieved) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.bus.Publish(context.Background(), bus.TopicMilestoneAchieved, map[string]any{"name": "first_tick"})

	msg = readMessage(t, conn)
	assert.Equal(t, "event", msg["type"])
	assert.Equal(t, bus.TopicMilestoneAchieved, msg["topic"])
	payload := msg["payload"].(map[string]any)
	assert.Equal(t, "first_tick", payload["name"])
}

func TestWebSocketUnknownTopicRejected(t *testing.T) {
	f := newAPIFixture(t)
	conn := dialHub(t, f)
	readMessage(t, conn) // connection.established

	send(t, conn, ClientMessage{Action: "subscribe", Topic: "no.such.topic"})
	msg := readMessage(t, conn)
	assert.Equal(t, "subscription.error", msg["type"])
}

func TestWebSocketPing(t *testing.T) {
	f := newAPIFixture(t)
	conn := dialHub(t, f)
	readMessage(t, conn)

	send(t, conn, ClientMessage{Action: "ping"})
	msg := readMessage(t, conn)
	assert.Equal(t, "pong", msg["type"])
}
