package room

import (
	"errors"
	"slices"

	"github.com/adwski/chatroom-relay/backend/model"
	"github.com/adwski/chatroom-relay/backend/session"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

var (
	ErrNotNamed       = errors.New("session has no display name")
	ErrMemberNotFound = errors.New("member is not found")
)

// Room is the authoritative member registry of one chat room.
// It has no locks: every call must come from the room's relay loop.
type Room struct {
	logger   zerolog.Logger
	members  map[model.SessionID]*session.Session
	operator *session.Session
	id       model.RoomID
}

func New(id model.RoomID, logger *zerolog.Logger) *Room {
	return &Room{
		id:      id,
		logger:  logger.With().Str("component", "room").Uint64("roomID", uint64(id)).Logger(),
		members: make(map[model.SessionID]*session.Session),
	}
}

func (r *Room) ID() model.RoomID { return r.id }
func (r *Room) Len() int         { return len(r.members) }

// Operator returns the current operator or nil.
func (r *Room) Operator() *session.Session { return r.operator }

func (r *Room) Member(id model.SessionID) (*session.Session, bool) {
	s, ok := r.members[id]
	return s, ok
}

func (r *Room) IsMember(s *session.Session) bool {
	m, ok := r.members[s.ID()]
	return ok && m == s
}

// AddMember admits a named session. The first member becomes operator.
func (r *Room) AddMember(s *session.Session) error {
	if !s.Named() {
		return ErrNotNamed
	}
	if r.IsMember(s) {
		return nil
	}
	r.logger.Debug().
		Uint64("sessionID", uint64(s.ID())).
		Str("name", s.Name()).
		Msg("adding member")

	if r.operator == nil {
		r.AssignOperator(s)
	}
	r.members[s.ID()] = s
	s.OnDisconnect(func() { r.RemoveMember(s) })

	r.Broadcast(model.NewEnvelope(model.KindJoin, s.PublicView(), model.ContentJoined))
	return nil
}

// RemoveMember drops the session and re-elects if it was the operator.
func (r *Room) RemoveMember(s *session.Session) {
	if !r.IsMember(s) {
		return
	}
	delete(r.members, s.ID())
	s.OnDisconnect(nil)
	r.logger.Debug().
		Uint64("sessionID", uint64(s.ID())).
		Str("name", s.Name()).
		Msg("member removed")

	r.Broadcast(model.NewEnvelope(model.KindDisconnect, s.PublicView(), model.ContentDisconnected))

	if r.operator == s {
		r.AssignOperator(nil)
	}
}

func (r *Room) unassignOperator() *session.Session {
	old := r.operator
	if old != nil {
		old.RevokeOperator()
		r.operator = nil
		r.logger.Debug().
			Uint64("sessionID", uint64(old.ID())).
			Str("name", old.Name()).
			Msg("operator removed")
	}
	return old
}

// AssignOperator moves operator authority to preferred, or to the member
// with the lowest id when preferred is nil.
func (r *Room) AssignOperator(preferred *session.Session) {
	old := r.unassignOperator()

	if preferred != nil {
		r.operator = preferred
		preferred.GrantOperator()
		r.logger.Info().
			Uint64("sessionID", uint64(preferred.ID())).
			Str("name", preferred.Name()).
			Msg("operator assigned")

		updates := make([]model.PublicView, 0, 2)
		if old != nil && old != preferred {
			updates = append(updates, old.PublicView())
		}
		updates = append(updates, preferred.PublicView())
		r.Broadcast(model.NewEnvelope(model.KindUpdate, preferred.PublicView(), updates))
		return
	}

	ids := r.sortedIDs()
	if len(ids) == 0 {
		r.logger.Info().Msg("room is empty, no operator assigned")
		return
	}
	next := r.members[ids[0]]
	r.operator = next
	next.GrantOperator()
	r.logger.Info().
		Uint64("sessionID", uint64(next.ID())).
		Str("name", next.Name()).
		Msg("operator re-elected")
	r.Broadcast(model.NewEnvelope(model.KindUpdate, next.PublicView(), []model.PublicView{next.PublicView()}))
}

// Broadcast delivers env to every member and returns the number of successful deliveries.
func (r *Room) Broadcast(env model.Envelope) int {
	b, err := model.Encode(env)
	if err != nil {
		r.logger.Error().Err(err).Str("kind", string(env.Kind)).Msg("failed to encode broadcast")
		return 0
	}
	var delivered int
	for _, id := range r.sortedIDs() {
		if err = r.members[id].Write(b); err != nil {
			r.logger.Error().Err(err).
				Uint64("dst", uint64(id)).
				Str("kind", string(env.Kind)).
				Msg("broadcast delivery failed")
			continue
		}
		delivered++
	}
	return delivered
}

// Send delivers env to a single member.
func (r *Room) Send(id model.SessionID, env model.Envelope) error {
	s, ok := r.members[id]
	if !ok {
		return ErrMemberNotFound
	}
	return s.Send(env)
}

// MemberList returns public views of all members ordered by id.
func (r *Room) MemberList() []model.PublicView {
	return lo.Map(r.sortedIDs(), func(id model.SessionID, _ int) model.PublicView {
		return r.members[id].PublicView()
	})
}

func (r *Room) sortedIDs() []model.SessionID {
	ids := lo.Keys(r.members)
	slices.Sort(ids)
	return ids
}
