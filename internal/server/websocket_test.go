package server

import (
	"context"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/chatrelay/chatrelay/internal/relay"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type nopNotifier struct{}

func (nopNotifier) EnsureSubscribed(ctx context.Context, channelIds []relay.ChannelID) {}

func (nopNotifier) Release(ctx context.Context, channelIds []relay.ChannelID) {}

type stubIdentity struct{}

func (stubIdentity) Validate(ctx context.Context, token string, userId relay.UserID) (bool, error) {
	return token == "good-token", nil
}

type stubDirectory struct {
	channelIds map[relay.UserID][]relay.ChannelID
}

func (d stubDirectory) Channels(ctx context.Context, userId relay.UserID) ([]relay.ChannelID, error) {
	return d.channelIds[userId], nil
}

func newTestServer(t *testing.T) (*relay.Index, string) {
	t.Helper()

	logger := zap.NewNop()
	index := relay.NewIndex(logger, nopNotifier{})
	directory := stubDirectory{
		channelIds: map[relay.UserID][]relay.ChannelID{
			1: {10, 20},
			2: {10},
		},
	}

	wsServer := NewWebSocketServer(logger, &websocket.Upgrader{}, index, stubIdentity{}, directory)

	router := mux.NewRouter()
	wsServer.Register(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	u, _ := url.Parse(server.URL)
	u.Scheme = "ws"
	u.Path = "/ws"

	return index, u.String()
}

func dial(t *testing.T, wsUrl string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(wsUrl, nil)
	assert.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	assert.NoError(t, err)

	return string(payload)
}

func TestWebSocketServer(t *testing.T) {
	t.Run("join, fan out, leave", func(t *testing.T) {
		index, wsUrl := newTestServer(t)

		conn1 := dial(t, wsUrl)
		conn2 := dial(t, wsUrl)

		err := conn1.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"JoinMessage","data":{"token":"good-token","user_id":1}}`))
		assert.NoError(t, err)

		err = conn2.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"JoinMessage","data":{"token":"good-token","user_id":2}}`))
		assert.NoError(t, err)

		assert.Eventually(t, func() bool {
			return index.IsRegistered(1) && index.IsRegistered(2)
		}, time.Second, 10*time.Millisecond)

		// User 1 is the sender, so only user 2 receives on channel 10.
		index.SendMessage(10, []byte("hi"), 1)
		assert.Equal(t, "hi", readText(t, conn2))

		// User 1's first delivery is the channel 20 message, proving the
		// channel 10 fan-out skipped it.
		index.SendMessage(20, []byte("solo"), relay.NoExclusion)
		assert.Equal(t, "solo", readText(t, conn1))

		err = conn2.WriteMessage(websocket.TextMessage, []byte(`{"type":"LeaveMessage"}`))
		assert.NoError(t, err)

		conn2.SetReadDeadline(time.Now().Add(time.Second))
		_, _, err = conn2.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))

		assert.Eventually(t, func() bool {
			return !index.IsRegistered(2)
		}, time.Second, 10*time.Millisecond)
		assert.True(t, index.IsRegistered(1))
	})

	t.Run("invalid credential gets a close frame", func(t *testing.T) {
		index, wsUrl := newTestServer(t)

		conn := dial(t, wsUrl)

		err := conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"JoinMessage","data":{"token":"stolen","user_id":1}}`))
		assert.NoError(t, err)

		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, _, err = conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))

		assert.False(t, index.IsRegistered(1))
	})

	t.Run("malformed frame gets a notice and the connection survives", func(t *testing.T) {
		index, wsUrl := newTestServer(t)

		conn := dial(t, wsUrl)

		err := conn.WriteMessage(websocket.TextMessage, []byte(`what even is this`))
		assert.NoError(t, err)

		assert.Equal(t, "Invalid message format", readText(t, conn))

		err = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"JoinMessage","data":{"token":"good-token","user_id":1}}`))
		assert.NoError(t, err)

		assert.Eventually(t, func() bool {
			return index.IsRegistered(1)
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("closing a duplicate connection does not evict the registered user", func(t *testing.T) {
		index, wsUrl := newTestServer(t)

		conn1 := dial(t, wsUrl)

		err := conn1.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"JoinMessage","data":{"token":"good-token","user_id":1}}`))
		assert.NoError(t, err)

		assert.Eventually(t, func() bool {
			return index.IsRegistered(1)
		}, time.Second, 10*time.Millisecond)

		// A rival connection claims the same user, loses, and goes away.
		conn2 := dial(t, wsUrl)

		err = conn2.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"JoinMessage","data":{"token":"good-token","user_id":1}}`))
		assert.NoError(t, err)
		conn2.Close()

		assert.Never(t, func() bool {
			return !index.IsRegistered(1)
		}, 300*time.Millisecond, 20*time.Millisecond)

		// The first connection still delivers.
		index.SendMessage(10, []byte("still wired"), relay.NoExclusion)
		assert.Equal(t, "still wired", readText(t, conn1))
	})

	t.Run("serves under a base path", func(t *testing.T) {
		logger := zap.NewNop()
		index := relay.NewIndex(logger, nopNotifier{})
		directory := stubDirectory{
			channelIds: map[relay.UserID][]relay.ChannelID{1: {10}},
		}

		wsServer := NewWebSocketServer(logger, &websocket.Upgrader{}, index, stubIdentity{}, directory)

		router := mux.NewRouter().
			PathPrefix("/relay").
			Subrouter()
		wsServer.Register(router)

		server := httptest.NewServer(router)
		t.Cleanup(server.Close)

		u, _ := url.Parse(server.URL)
		u.Scheme = "ws"
		u.Path = "/relay/ws"

		conn := dial(t, u.String())

		err := conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"JoinMessage","data":{"token":"good-token","user_id":1}}`))
		assert.NoError(t, err)

		assert.Eventually(t, func() bool {
			return index.IsRegistered(1)
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("disconnect deregisters the user", func(t *testing.T) {
		index, wsUrl := newTestServer(t)

		conn := dial(t, wsUrl)

		err := conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"JoinMessage","data":{"token":"good-token","user_id":1}}`))
		assert.NoError(t, err)

		assert.Eventually(t, func() bool {
			return index.IsRegistered(1)
		}, time.Second, 10*time.Millisecond)

		conn.Close()

		assert.Eventually(t, func() bool {
			return !index.IsRegistered(1)
		}, time.Second, 10*time.Millisecond)
	})
}
