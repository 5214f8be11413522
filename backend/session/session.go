package session

import (
	"errors"
	"regexp"
	"strconv"

	"github.com/adwski/chatroom-relay/backend/model"
)

const (
	anonNamePrefix = "Anon_"

	CloseCodeNormal       = 1000
	CloseCodeBadPayload   = 4002
	CloseCodeKicked       = 4099
	CloseReasonBadPayload = "Bad JSON."
	CloseReasonKicked     = "kicked by Op"
)

var (
	ErrTransportWrite = errors.New("transport write failed")
	ErrReleased       = errors.New("connection released")
)

var whitespaceRun = regexp.MustCompile(`[\s\p{Z}]+`)

// Conn is the transport handle a session writes to. Close must be idempotent.
type Conn interface {
	Write(payload []byte) error
	Close(code int, reason string) error
}

// Session is the per-connection state of a chat client.
// It is only touched from the owning room's loop.
type Session struct {
	conn         Conn
	onDisconnect func()
	name         string
	id           model.SessionID
	caps         model.Capabilities
	named        bool
	dropped      bool
	disconnected bool
}

func New(id model.SessionID, conn Conn) *Session {
	return &Session{
		id:   id,
		conn: conn,
	}
}

func (s *Session) ID() model.SessionID { return s.id }
func (s *Session) Name() string        { return s.name }
func (s *Session) Named() bool         { return s.named }
func (s *Session) Muted() bool         { return s.caps.Muted }
func (s *Session) Operator() bool      { return s.caps.Operator }

// Dropped reports whether the connection was force-closed.
func (s *Session) Dropped() bool { return s.dropped }

func (s *Session) PublicView() model.PublicView {
	return model.PublicView{
		ID:           s.id,
		Name:         s.name,
		Capabilities: s.caps,
	}
}

// SetName assigns the display name. Empty input falls back to Anon_<id>.
func (s *Session) SetName(raw string) {
	if raw == "" {
		s.name = anonNamePrefix + strconv.FormatUint(uint64(s.id), 10)
	} else {
		s.name = SanitizeName(raw)
	}
	s.named = true
}

// SanitizeName replaces every whitespace run with a single underscore.
func SanitizeName(raw string) string {
	return whitespaceRun.ReplaceAllString(raw, "_")
}

// ToggleMute flips the muted flag and returns the new value.
func (s *Session) ToggleMute() bool {
	s.caps.Muted = !s.caps.Muted
	return s.caps.Muted
}

// GrantOperator and RevokeOperator are reserved for room operator election.
func (s *Session) GrantOperator()  { s.caps.Operator = true }
func (s *Session) RevokeOperator() { s.caps.Operator = false }

func (s *Session) Send(env model.Envelope) error {
	b, err := model.Encode(env)
	if err != nil {
		return errors.Join(ErrTransportWrite, err)
	}
	return s.Write(b)
}

// Write delivers an already encoded envelope.
func (s *Session) Write(payload []byte) error {
	if s.conn == nil {
		return errors.Join(ErrTransportWrite, ErrReleased)
	}
	if err := s.conn.Write(payload); err != nil {
		return errors.Join(ErrTransportWrite, err)
	}
	return nil
}

// Drop force-closes the underlying connection. The disconnect path runs
// later, when the transport reports the connection as closed.
func (s *Session) Drop(code int, reason string) error {
	s.dropped = true
	if s.conn == nil {
		return nil
	}
	return s.conn.Close(code, reason)
}

// OnDisconnect registers the one-shot disconnect callback, nil unregisters it.
func (s *Session) OnDisconnect(fn func()) {
	s.onDisconnect = fn
}

// Disconnect releases the connection and fires the disconnect callback once.
func (s *Session) Disconnect() {
	if s.disconnected {
		return
	}
	s.disconnected = true

	if s.conn != nil {
		_ = s.conn.Close(CloseCodeNormal, "")
		s.conn = nil
	}
	fn := s.onDisconnect
	s.onDisconnect = nil
	if fn != nil {
		fn()
	}
}
