package dispatch

import (
	"errors"
	"fmt"

	"github.com/adwski/chatroom-relay/backend/model"
	"github.com/adwski/chatroom-relay/backend/room"
	"github.com/adwski/chatroom-relay/backend/session"
	"github.com/rs/zerolog"
)

const (
	noticeInvalidTarget = "Invalid target"
	noticeNoSuchClient  = " - client doesn't exist"
)

var (
	ErrPrivilege      = errors.New("operator status required")
	ErrTargetNotFound = errors.New("target is not a room member")
	ErrMuted          = errors.New("action blocked while muted")
	ErrUnknownKind    = errors.New("unknown message kind")
	ErrNotMember      = errors.New("sender is not a room member")
	ErrAlreadyMember  = errors.New("sender is already a room member")
	ErrDropped        = errors.New("sender connection is closing")
)

// Dispatcher interprets inbound messages against one room.
// Like the room itself it must only be driven from the room's relay loop.
type Dispatcher struct {
	room   *room.Room
	logger zerolog.Logger
}

func New(r *room.Room, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		room:   r,
		logger: logger.With().Str("component", "dispatcher").Uint64("roomID", uint64(r.ID())).Logger(),
	}
}

// Dispatch handles one raw payload from s. A payload that cannot be decoded
// drops the connection. Recoverable errors are reported to the sender and
// returned for logging only.
func (d *Dispatcher) Dispatch(s *session.Session, payload []byte) error {
	logger := d.logger.With().Uint64("sessionID", uint64(s.ID())).Logger()

	msg, err := model.Decode(payload)
	if err != nil {
		logger.Error().Err(err).Msg("bad payload, dropping connection")
		if errC := s.Drop(session.CloseCodeBadPayload, session.CloseReasonBadPayload); errC != nil {
			logger.Error().Err(errC).Msg("failed to close connection")
		}
		return err
	}

	err = d.handle(s, msg)
	switch {
	case err == nil:
		logger.Trace().Str("kind", string(msg.Kind)).Msg("message dispatched")
	case errors.Is(err, ErrUnknownKind),
		errors.Is(err, ErrNotMember),
		errors.Is(err, ErrAlreadyMember):
		logger.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("message ignored")
	default:
		logger.Debug().Err(err).Str("kind", string(msg.Kind)).Msg("message rejected")
	}
	return err
}

func (d *Dispatcher) handle(s *session.Session, msg model.Message) error {
	if s.Dropped() {
		return ErrDropped
	}
	if msg.Kind == model.KindSetNickname {
		return d.setNickname(s, msg)
	}
	if !d.room.IsMember(s) {
		return ErrNotMember
	}

	switch msg.Kind {
	case model.KindChat, model.KindEmote:
		return d.chat(s, msg)
	case model.KindWhisper:
		return d.whisper(s, msg)
	case model.KindKick:
		return d.kick(s, msg)
	case model.KindMute:
		return d.mute(s, msg)
	case model.KindPromote:
		return d.promote(s, msg)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, msg.Kind)
	}
}

func (d *Dispatcher) setNickname(s *session.Session, msg model.Message) error {
	if d.room.IsMember(s) {
		return ErrAlreadyMember
	}
	s.SetName(msg.Content)

	d.notify(s, model.KindConnect, model.ContentConnected)
	if members := d.room.MemberList(); len(members) > 0 {
		d.notify(s, model.KindMembers, members)
	}
	return d.room.AddMember(s)
}

func (d *Dispatcher) chat(s *session.Session, msg model.Message) error {
	if err := d.checkMuted(s, msg.Kind); err != nil {
		return err
	}
	d.room.Broadcast(model.NewEnvelope(msg.Kind, s.PublicView(), msg.Content))
	return nil
}

func (d *Dispatcher) whisper(s *session.Session, msg model.Message) error {
	if err := d.checkMuted(s, msg.Kind); err != nil {
		return err
	}
	target, ok := d.room.Member(msg.Target)
	if !ok {
		d.notify(s, model.KindChat, noticeNoSuchClient)
		return fmt.Errorf("%w: %d", ErrTargetNotFound, msg.Target)
	}

	env := model.NewEnvelope(model.KindWhisper, s.PublicView(), msg.Content)
	env.Target = target.ID()
	d.deliver(s, env)
	if target != s {
		d.deliver(target, env)
	}
	return nil
}

func (d *Dispatcher) kick(s *session.Session, msg model.Message) error {
	target, err := d.authorize(s, msg, "Kick")
	if err != nil {
		return err
	}
	d.room.Broadcast(model.NewEnvelope(model.KindSystem, s.PublicView(),
		target.Name()+" was kicked from the chatroom by Op"))

	if err = target.Drop(session.CloseCodeKicked, session.CloseReasonKicked); err != nil {
		d.logger.Error().Err(err).Uint64("target", uint64(target.ID())).Msg("failed to close kicked connection")
	}
	return nil
}

func (d *Dispatcher) mute(s *session.Session, msg model.Message) error {
	target, err := d.authorize(s, msg, "Mute")
	if err != nil {
		return err
	}
	notice := target.Name() + " was unmuted by Op"
	if target.ToggleMute() {
		notice = target.Name() + " was muted by Op"
	}
	d.room.Broadcast(model.NewEnvelope(model.KindSystem, s.PublicView(), notice))
	d.room.Broadcast(model.NewEnvelope(model.KindUpdate, s.PublicView(), []model.PublicView{target.PublicView()}))
	return nil
}

func (d *Dispatcher) promote(s *session.Session, msg model.Message) error {
	target, err := d.authorize(s, msg, "promote")
	if err != nil {
		return err
	}
	d.room.Broadcast(model.NewEnvelope(model.KindSystem, s.PublicView(),
		s.Name()+" promoted "+target.Name()+" to Op"))
	d.room.AssignOperator(target)
	return nil
}

// authorize checks operator status first, then resolves the target.
func (d *Dispatcher) authorize(s *session.Session, msg model.Message, action string) (*session.Session, error) {
	if !s.Operator() {
		d.notify(s, model.KindSystem, action+" operation requires Op status")
		return nil, fmt.Errorf("%w: %s", ErrPrivilege, msg.Kind)
	}
	target, ok := d.room.Member(msg.Target)
	if !ok {
		d.notify(s, model.KindSystem, noticeInvalidTarget)
		return nil, fmt.Errorf("%w: %d", ErrTargetNotFound, msg.Target)
	}
	return target, nil
}

func (d *Dispatcher) checkMuted(s *session.Session, kind model.Kind) error {
	if !s.Muted() {
		return nil
	}
	d.notify(s, model.KindSystem, "You cannot "+string(kind)+" while muted")
	return fmt.Errorf("%w: %s", ErrMuted, kind)
}

// notify sends a direct envelope from s to s.
func (d *Dispatcher) notify(s *session.Session, kind model.Kind, content any) {
	d.deliver(s, model.NewEnvelope(kind, s.PublicView(), content))
}

func (d *Dispatcher) deliver(dst *session.Session, env model.Envelope) {
	if err := dst.Send(env); err != nil {
		d.logger.Error().Err(err).
			Uint64("dst", uint64(dst.ID())).
			Str("kind", string(env.Kind)).
			Msg("delivery failed")
	}
}
