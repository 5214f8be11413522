package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

var (
	ErrDecode = errors.New("malformed message payload")
)

type (
	RoomID    uint64
	SessionID uint64
)

// Kind is the msg_type discriminator carried by every message.
type Kind string

// Inbound kinds sent by clients.
const (
	KindSetNickname Kind = "set_nickname"
	KindChat        Kind = "chat"
	KindEmote       Kind = "emote"
	KindWhisper     Kind = "whisper"
	KindKick        Kind = "kick"
	KindMute        Kind = "mute"
	KindPromote     Kind = "promote"
)

// Outbound-only kinds produced by the server.
const (
	KindConnect    Kind = "connect"
	KindMembers    Kind = "members"
	KindJoin       Kind = "join"
	KindDisconnect Kind = "disconnect"
	KindUpdate     Kind = "update"
	KindSystem     Kind = "system"
)

const (
	ContentConnected    = "CONNECTED"
	ContentJoined       = "JOINED"
	ContentDisconnected = "DISCONNECTED"
)

type Capabilities struct {
	Muted    bool `json:"mute"`
	Operator bool `json:"op"`
}

// PublicView is the snapshot of a session that goes on the wire.
type PublicView struct {
	ID           SessionID    `json:"id"`
	Name         string       `json:"name"`
	Capabilities Capabilities `json:"opts"`
}

// Message is an inbound client message.
type Message struct {
	Kind    Kind      `json:"msg_type"`
	Content string    `json:"content"`
	Target  SessionID `json:"target"`
}

// Envelope is an outbound server message. Content is either a string or a list of PublicView.
type Envelope struct {
	Kind    Kind       `json:"msg_type"`
	From    PublicView `json:"from"`
	Content any        `json:"content"`
	Target  SessionID  `json:"target,omitempty"`
}

func NewEnvelope(kind Kind, from PublicView, content any) Envelope {
	return Envelope{
		Kind:    kind,
		From:    from,
		Content: content,
	}
}

// Decode parses an inbound payload. Anything that is not a JSON object
// with correctly typed fields yields ErrDecode.
func Decode(payload []byte) (Message, error) {
	var msg Message
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return msg, errors.Join(ErrDecode, errors.New("payload is not an object"))
	}
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return Message{}, errors.Join(ErrDecode, err)
	}
	return msg, nil
}

func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(&env)
}

// UnmarshalJSON accepts a number or a numeric string. Any other value
// leaves the id at zero, which never matches a session.
func (id *SessionID) UnmarshalJSON(b []byte) error {
	*id = 0
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	raw := string(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = s
	} else if len(b) == 0 || !(b[0] == '-' || (b[0] >= '0' && b[0] <= '9')) {
		return nil
	}
	if v, err := strconv.ParseUint(raw, 10, 64); err == nil {
		*id = SessionID(v)
	}
	return nil
}
