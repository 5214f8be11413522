// Package sessiontest provides an in-memory session.Conn for tests.
package sessiontest

import (
	"encoding/json"
	"errors"
	"sync"
)

var ErrWriteFailed = errors.New("write failed")

// Envelope mirrors model.Envelope with raw content so tests can inspect either content shape.
type Envelope struct {
	Kind    string          `json:"msg_type"`
	From    View            `json:"from"`
	Content json.RawMessage `json:"content"`
	Target  uint64          `json:"target"`
}

type View struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
	Opts struct {
		Mute bool `json:"mute"`
		Op   bool `json:"op"`
	} `json:"opts"`
}

// Text returns the content as a string, or "" if it is not one.
func (e Envelope) Text() string {
	var s string
	_ = json.Unmarshal(e.Content, &s)
	return s
}

// Views returns the content as a list of public views.
func (e Envelope) Views() []View {
	var v []View
	_ = json.Unmarshal(e.Content, &v)
	return v
}

// Conn records writes and close requests.
type Conn struct {
	mx      sync.Mutex
	written [][]byte
	closes  int
	code    int
	reason  string
	failing bool
}

func NewConn() *Conn {
	return &Conn{}
}

// Fail makes subsequent writes return ErrWriteFailed.
func (c *Conn) Fail() {
	c.mx.Lock()
	c.failing = true
	c.mx.Unlock()
}

func (c *Conn) Write(payload []byte) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.failing {
		return ErrWriteFailed
	}
	c.written = append(c.written, append([]byte(nil), payload...))
	return nil
}

func (c *Conn) Close(code int, reason string) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.closes++
	if c.closes == 1 {
		c.code = code
		c.reason = reason
	}
	return nil
}

// Closed reports whether Close was called, with the first code and reason.
func (c *Conn) Closed() (bool, int, string) {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.closes > 0, c.code, c.reason
}

// Envelopes decodes every recorded write.
func (c *Conn) Envelopes() []Envelope {
	c.mx.Lock()
	defer c.mx.Unlock()
	out := make([]Envelope, 0, len(c.written))
	for _, b := range c.written {
		var env Envelope
		if err := json.Unmarshal(b, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

// Kinds lists the msg_type of every recorded envelope in order.
func (c *Conn) Kinds() []string {
	envs := c.Envelopes()
	kinds := make([]string, 0, len(envs))
	for _, env := range envs {
		kinds = append(kinds, env.Kind)
	}
	return kinds
}

// Reset drops everything recorded so far.
func (c *Conn) Reset() {
	c.mx.Lock()
	c.written = nil
	c.mx.Unlock()
}
