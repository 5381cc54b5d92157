package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeveda/tradeveda/internal/store"
)

// dialMessages connects a websocket client to the test server
func dialMessages(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(f.server.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/messages"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) messageView {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	var view messageView
	require.NoError(t, conn.ReadJSON(&view))
	return view
}

func TestMessageStreamBacklog(t *testing.T) {
	f := newFixture(t)
	f.server.wsPoll = 50 * time.Millisecond

	base := time.Now().Add(-time.Minute)
	for i, content := range []string{"first", "second"} {
		require.NoError(t, f.store.InsertMessage(context.Background(), &store.Message{
			UserID:    DefaultUserID,
			Type:      store.MessageTypeInfo,
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	conn := dialMessages(t, f)

	// Backlog replays oldest first.
	assert.Equal(t, "first", readMessage(t, conn, 2*time.Second).Content)
	assert.Equal(t, "second", readMessage(t, conn, 2*time.Second).Content)
}

func TestMessageStreamDeliversNewMessages(t *testing.T) {
	f := newFixture(t)
	f.server.wsPoll = 50 * time.Millisecond

	conn := dialMessages(t, f)

	// Written after connect, picked up by the next poll.
	require.NoError(t, f.store.InsertMessage(context.Background(), &store.Message{
		UserID:  DefaultUserID,
		Type:    store.MessageTypeSignal,
		Content: "BUY RELIANCE signal generated",
	}))

	view := readMessage(t, conn, 3*time.Second)
	assert.Equal(t, "signal", view.Type)
	assert.Contains(t, view.Content, "RELIANCE")
}

func TestMessageStreamScopedToUser(t *testing.T) {
	f := newFixture(t)
	f.server.wsPoll = 50 * time.Millisecond

	conn := dialMessages(t, f)

	require.NoError(t, f.store.InsertMessage(context.Background(), &store.Message{
		UserID:  "someone-else",
		Type:    store.MessageTypeInfo,
		Content: "not yours",
	}))
	require.NoError(t, f.store.InsertMessage(context.Background(), &store.Message{
		UserID:  DefaultUserID,
		Type:    store.MessageTypeInfo,
		Content: "yours",
	}))

	view := readMessage(t, conn, 3*time.Second)
	assert.Equal(t, "yours", view.Content)
}
