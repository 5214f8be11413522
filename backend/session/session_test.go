package session

import (
	"testing"

	"github.com/adwski/chatroom-relay/backend/model"
	"github.com/adwski/chatroom-relay/backend/session/sessiontest"
	"github.com/stretchr/testify/require"
)

func TestSession_SetName(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "empty falls back to anon", raw: "", want: "Anon_42"},
		{name: "plain", raw: "alice", want: "alice"},
		{name: "single space", raw: "alice smith", want: "alice_smith"},
		{name: "whitespace run", raw: "alice \t\n smith", want: "alice_smith"},
		{name: "leading and trailing", raw: "  bob  ", want: "_bob_"},
		{name: "unicode space", raw: "carol\u00a0jones", want: "carol_jones"},
		{name: "only whitespace", raw: "   ", want: "_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(42, sessiontest.NewConn())
			require.False(t, s.Named())
			s.SetName(tt.raw)
			require.True(t, s.Named())
			require.Equal(t, tt.want, s.Name())
		})
	}
}

func TestSanitizeName_Idempotent(t *testing.T) {
	for _, raw := range []string{"a b", "  a\t\tb  ", "already_clean", "x y", "", "_ _"} {
		once := SanitizeName(raw)
		require.Equal(t, once, SanitizeName(once), "raw=%q", raw)
	}
}

func TestSession_PublicView(t *testing.T) {
	s := New(3, sessiontest.NewConn())
	s.SetName("dave")
	s.GrantOperator()
	require.True(t, s.ToggleMute())

	require.Equal(t, model.PublicView{
		ID:           3,
		Name:         "dave",
		Capabilities: model.Capabilities{Muted: true, Operator: true},
	}, s.PublicView())

	s.RevokeOperator()
	require.False(t, s.ToggleMute())
	require.Equal(t, model.Capabilities{}, s.PublicView().Capabilities)
}

func TestSession_Send(t *testing.T) {
	conn := sessiontest.NewConn()
	s := New(1, conn)
	s.SetName("eve")

	require.NoError(t, s.Send(model.NewEnvelope(model.KindConnect, s.PublicView(), model.ContentConnected)))

	envs := conn.Envelopes()
	require.Len(t, envs, 1)
	require.Equal(t, "connect", envs[0].Kind)
	require.Equal(t, "CONNECTED", envs[0].Text())
	require.Equal(t, uint64(1), envs[0].From.ID)

	conn.Fail()
	err := s.Send(model.NewEnvelope(model.KindSystem, s.PublicView(), "x"))
	require.ErrorIs(t, err, ErrTransportWrite)
	require.ErrorIs(t, err, sessiontest.ErrWriteFailed)
}

func TestSession_Drop(t *testing.T) {
	conn := sessiontest.NewConn()
	s := New(1, conn)
	require.False(t, s.Dropped())

	require.NoError(t, s.Drop(CloseCodeKicked, CloseReasonKicked))
	require.True(t, s.Dropped())
	require.NoError(t, s.Drop(CloseCodeBadPayload, CloseReasonBadPayload))

	closed, code, reason := conn.Closed()
	require.True(t, closed)
	require.Equal(t, CloseCodeKicked, code)
	require.Equal(t, CloseReasonKicked, reason)
}

func TestSession_Disconnect(t *testing.T) {
	conn := sessiontest.NewConn()
	s := New(1, conn)

	var fired int
	s.OnDisconnect(func() { fired++ })

	s.Disconnect()
	s.Disconnect()
	require.Equal(t, 1, fired)

	closed, _, _ := conn.Closed()
	require.True(t, closed)

	err := s.Send(model.NewEnvelope(model.KindSystem, s.PublicView(), "late"))
	require.ErrorIs(t, err, ErrTransportWrite)
	require.ErrorIs(t, err, ErrReleased)
	require.NoError(t, s.Drop(CloseCodeKicked, CloseReasonKicked))
}

func TestSession_DisconnectAfterUnregister(t *testing.T) {
	s := New(1, sessiontest.NewConn())

	var fired bool
	s.OnDisconnect(func() { fired = true })
	s.OnDisconnect(nil)
	s.Disconnect()

	require.False(t, fired)
}
