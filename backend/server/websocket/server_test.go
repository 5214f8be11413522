package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adwski/chatroom-relay/backend/service"
	"github.com/adwski/chatroom-relay/backend/session"
	"github.com/adwski/chatroom-relay/backend/session/sessiontest"
	store "github.com/adwski/chatroom-relay/backend/storage/memory"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) string {
	t.Helper()
	logger := zerolog.Nop()
	svc, err := service.NewService(service.Config{
		RoomStore: store.NewMemStore(),
		Logger:    &logger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go svc.Run(ctx, wg, make(chan error, 1))

	srv := NewServer(Config{
		Logger:         &logger,
		SessionService: svc,
	})
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(func() {
		ts.Close()
		cancel()
		wg.Wait()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func send(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

func recv(t *testing.T, conn *websocket.Conn) sessiontest.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	var env sessiontest.Envelope
	require.NoError(t, json.Unmarshal(b, &env))
	return env
}

func recvKinds(t *testing.T, conn *websocket.Conn, n int) []sessiontest.Envelope {
	t.Helper()
	envs := make([]sessiontest.Envelope, 0, n)
	for range n {
		envs = append(envs, recv(t, conn))
	}
	return envs
}

func recvClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		return closeErr
	}
}

func TestServer_JoinAndChat(t *testing.T) {
	url := startServer(t)

	a := dial(t, url)
	send(t, a, `{"msg_type":"set_nickname","content":"alice"}`)
	envs := recvKinds(t, a, 2)
	require.Equal(t, "connect", envs[0].Kind)
	require.Equal(t, "join", envs[1].Kind)
	require.True(t, envs[1].From.Opts.Op)

	b := dial(t, url)
	send(t, b, `{"msg_type":"set_nickname","content":"bob"}`)
	envs = recvKinds(t, b, 3)
	require.Equal(t, "connect", envs[0].Kind)
	require.Equal(t, "members", envs[1].Kind)
	require.Equal(t, "join", envs[2].Kind)
	require.Equal(t, "bob", envs[2].From.Name)
	require.Equal(t, "join", recv(t, a).Kind)

	send(t, a, `{"msg_type":"chat","content":"hi all"}`)
	for _, conn := range []*websocket.Conn{a, b} {
		env := recv(t, conn)
		require.Equal(t, "chat", env.Kind)
		require.Equal(t, "hi all", env.Text())
		require.Equal(t, "alice", env.From.Name)
	}
}

func TestServer_Kick(t *testing.T) {
	url := startServer(t)

	a := dial(t, url)
	send(t, a, `{"msg_type":"set_nickname","content":"alice"}`)
	recvKinds(t, a, 2)

	b := dial(t, url)
	send(t, b, `{"msg_type":"set_nickname","content":"bob"}`)
	bobID := recv(t, b).From.ID
	recvKinds(t, b, 2)
	recv(t, a)

	payload, err := json.Marshal(map[string]any{"msg_type": "kick", "target": bobID})
	require.NoError(t, err)
	send(t, a, string(payload))

	notice := recv(t, b)
	require.Equal(t, "system", notice.Kind)
	require.Equal(t, "bob was kicked from the chatroom by Op", notice.Text())
	// the kicked client is no longer relayed, the close may already be on its way
	_ = b.WriteMessage(websocket.TextMessage, []byte(`{"msg_type":"chat","content":"still here"}`))

	closeErr := recvClose(t, b)
	require.Equal(t, session.CloseCodeKicked, closeErr.Code)
	require.Equal(t, session.CloseReasonKicked, closeErr.Text)

	require.Equal(t, "system", recv(t, a).Kind)
	left := recv(t, a)
	require.Equal(t, "disconnect", left.Kind)
	require.Equal(t, bobID, left.From.ID)
}

func TestServer_BadPayloadDropsConnection(t *testing.T) {
	url := startServer(t)

	a := dial(t, url)
	send(t, a, `{oops`)

	closeErr := recvClose(t, a)
	require.Equal(t, session.CloseCodeBadPayload, closeErr.Code)
	require.Equal(t, session.CloseReasonBadPayload, closeErr.Text)
}

func TestServer_OperatorLeaves(t *testing.T) {
	url := startServer(t)

	a := dial(t, url)
	send(t, a, `{"msg_type":"set_nickname","content":"alice"}`)
	recvKinds(t, a, 2)

	b := dial(t, url)
	send(t, b, `{"msg_type":"set_nickname","content":"bob"}`)
	bobID := recv(t, b).From.ID
	recvKinds(t, b, 2)

	require.NoError(t, a.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	envs := recvKinds(t, b, 2)
	require.Equal(t, "disconnect", envs[0].Kind)
	require.Equal(t, "update", envs[1].Kind)
	views := envs[1].Views()
	require.Len(t, views, 1)
	require.Equal(t, bobID, views[0].ID)
	require.True(t, views[0].Opts.Op)
}

func TestConn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newConn(ctx, 1)

	require.NoError(t, c.Write([]byte("one")))
	require.ErrorIs(t, c.Write([]byte("two")), ErrSendBufferFull)
	require.Equal(t, []byte("one"), <-c.tx)

	require.False(t, c.isClosing())
	require.NoError(t, c.Close(session.CloseCodeKicked, session.CloseReasonKicked))
	require.True(t, c.isClosing())
	require.NoError(t, c.Close(session.CloseCodeNormal, ""))
	require.Equal(t, session.CloseCodeKicked, c.code)
	require.Equal(t, session.CloseReasonKicked, c.reason)
	require.ErrorIs(t, c.Write([]byte("three")), ErrConnClosed)

	other := newConn(ctx, 1)
	cancel()
	require.ErrorIs(t, other.Write([]byte("x")), ErrConnClosed)
}
