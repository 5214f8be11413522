package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Message
		wantErr bool
	}{
		{
			name:    "chat",
			payload: `{"msg_type":"chat","content":"hello"}`,
			want:    Message{Kind: KindChat, Content: "hello"},
		},
		{
			name:    "numeric target",
			payload: `{"msg_type":"kick","target":3}`,
			want:    Message{Kind: KindKick, Target: 3},
		},
		{
			name:    "string target",
			payload: `{"msg_type":"whisper","content":"psst","target":"12"}`,
			want:    Message{Kind: KindWhisper, Content: "psst", Target: 12},
		},
		{
			name:    "non numeric target string",
			payload: `{"msg_type":"mute","target":"bob"}`,
			want:    Message{Kind: KindMute},
		},
		{
			name:    "missing kind",
			payload: `{"content":"x"}`,
			want:    Message{Content: "x"},
		},
		{
			name:    "null content",
			payload: `{"msg_type":"set_nickname","content":null}`,
			want:    Message{Kind: KindSetNickname},
		},
		{
			name:    "broken json",
			payload: `{"msg_type":`,
			wantErr: true,
		},
		{
			name:    "not an object",
			payload: `"chat"`,
			wantErr: true,
		},
		{
			name:    "null payload",
			payload: `null`,
			wantErr: true,
		},
		{
			name:    "empty payload",
			payload: ``,
			wantErr: true,
		},
		{
			name:    "content of wrong type",
			payload: `{"msg_type":"chat","content":42}`,
			wantErr: true,
		},
		{
			name:    "target object",
			payload: `{"msg_type":"kick","target":{"id":1}}`,
			want:    Message{Kind: KindKick},
		},
		{
			name:    "target bool on chat",
			payload: `{"msg_type":"chat","content":"hi","target":true}`,
			want:    Message{Kind: KindChat, Content: "hi"},
		},
		{
			name:    "target array",
			payload: `{"msg_type":"whisper","content":"psst","target":[2]}`,
			want:    Message{Kind: KindWhisper, Content: "psst"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.payload))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrDecode)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, msg)
		})
	}
}

func TestEncode(t *testing.T) {
	from := PublicView{ID: 7, Name: "alice", Capabilities: Capabilities{Operator: true}}

	b, err := Encode(NewEnvelope(KindJoin, from, ContentJoined))
	require.NoError(t, err)
	require.JSONEq(t,
		`{"msg_type":"join","from":{"id":7,"name":"alice","opts":{"mute":false,"op":true}},"content":"JOINED"}`,
		string(b))

	whisper := NewEnvelope(KindWhisper, from, "psst")
	whisper.Target = 9
	b, err = Encode(whisper)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(b, &generic))
	require.EqualValues(t, 9, generic["target"])

	b, err = Encode(NewEnvelope(KindUpdate, from, []PublicView{from}))
	require.NoError(t, err)
	require.JSONEq(t,
		`{"msg_type":"update","from":{"id":7,"name":"alice","opts":{"mute":false,"op":true}},`+
			`"content":[{"id":7,"name":"alice","opts":{"mute":false,"op":true}}]}`,
		string(b))
}
