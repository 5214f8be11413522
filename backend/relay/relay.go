package relay

import (
	"context"
	"errors"

	"github.com/adwski/chatroom-relay/backend/dispatch"
	"github.com/adwski/chatroom-relay/backend/model"
	"github.com/adwski/chatroom-relay/backend/room"
	"github.com/adwski/chatroom-relay/backend/session"
	"github.com/rs/zerolog"
)

const (
	defaultInboxSize = 64
)

var (
	ErrStopped = errors.New("relay is stopped")
)

// Snapshot is a point-in-time copy of room state.
type Snapshot struct {
	Operator *model.PublicView  `json:"operator,omitempty"`
	Members  []model.PublicView `json:"members"`
	RoomID   model.RoomID       `json:"room_id"`
}

type event interface{ isEvent() }

type inbound struct {
	s       *session.Session
	payload []byte
}

type closed struct {
	s *session.Session
}

type query struct {
	reply chan Snapshot
}

func (inbound) isEvent() {}
func (closed) isEvent()  {}
func (query) isEvent()   {}

// Relay owns one room and its dispatcher and runs every operation
// on them from a single goroutine.
type Relay struct {
	logger     zerolog.Logger
	room       *room.Room
	dispatcher *dispatch.Dispatcher
	inbox      chan event
	done       chan struct{}
}

type Config struct {
	Logger    *zerolog.Logger
	RoomID    model.RoomID
	InboxSize int
}

func New(cfg Config) *Relay {
	size := cfg.InboxSize
	if size <= 0 {
		size = defaultInboxSize
	}
	r := room.New(cfg.RoomID, cfg.Logger)
	return &Relay{
		logger:     cfg.Logger.With().Str("component", "relay").Uint64("roomID", uint64(cfg.RoomID)).Logger(),
		room:       r,
		dispatcher: dispatch.New(r, cfg.Logger),
		inbox:      make(chan event, size),
		done:       make(chan struct{}),
	}
}

func (rl *Relay) RoomID() model.RoomID { return rl.room.ID() }

// Run processes events until ctx is done. It must be called once.
func (rl *Relay) Run(ctx context.Context) {
	defer func() {
		close(rl.done)
		rl.logger.Debug().Msg("relay stopped")
	}()
	rl.logger.Debug().Msg("relay started")

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev := <-rl.inbox:
			rl.handle(ev)
		}
	}
}

func (rl *Relay) handle(ev event) {
	switch e := ev.(type) {
	case inbound:
		_ = rl.dispatcher.Dispatch(e.s, e.payload)
	case closed:
		rl.logger.Debug().Uint64("sessionID", uint64(e.s.ID())).Msg("session closed")
		e.s.Disconnect()
	case query:
		e.reply <- rl.snapshot()
	}
}

func (rl *Relay) snapshot() Snapshot {
	snap := Snapshot{
		RoomID:  rl.room.ID(),
		Members: rl.room.MemberList(),
	}
	if op := rl.room.Operator(); op != nil {
		view := op.PublicView()
		snap.Operator = &view
	}
	return snap
}

// Deliver queues an inbound payload from s.
func (rl *Relay) Deliver(ctx context.Context, s *session.Session, payload []byte) error {
	return rl.submit(ctx, inbound{s: s, payload: payload})
}

// Close queues the disconnect of s. It ignores caller deadlines and waits
// for inbox space until the relay stops.
func (rl *Relay) Close(s *session.Session) error {
	return rl.submit(context.Background(), closed{s: s})
}

// Snapshot reads room state on the relay loop.
func (rl *Relay) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := rl.submit(ctx, query{reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-rl.done:
		return Snapshot{}, ErrStopped
	}
}

func (rl *Relay) submit(ctx context.Context, ev event) error {
	select {
	case <-rl.done:
		return ErrStopped
	default:
	}
	select {
	case rl.inbox <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-rl.done:
		return ErrStopped
	}
}
