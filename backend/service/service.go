package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/adwski/chatroom-relay/backend/model"
	"github.com/adwski/chatroom-relay/backend/relay"
	"github.com/adwski/chatroom-relay/backend/session"
	"github.com/rs/zerolog"
)

const (
	DefaultRoomID model.RoomID = 1
)

var (
	ErrCreate  = errors.New("unable to create room")
	ErrGet     = errors.New("unable to get room")
	ErrOpen    = errors.New("unable to open session")
	ErrDeliver = errors.New("unable to deliver message")
	ErrClose   = errors.New("unable to close session")
)

type (
	RoomStore interface {
		CreateRoom(rl *relay.Relay) error
		GetRoom(roomID model.RoomID) (*relay.Relay, error)
		Rooms() []*relay.Relay
	}

	// Service is the server context: it owns the session id counter and
	// routes transport events to room relays.
	Service struct {
		store       RoomStore
		logger      zerolog.Logger
		lastID      atomic.Uint64
		defaultRoom model.RoomID
	}

	Config struct {
		RoomStore     RoomStore
		Logger        *zerolog.Logger
		DefaultRoomID model.RoomID
		InboxSize     int
	}
)

func NewService(cfg Config) (*Service, error) {
	roomID := cfg.DefaultRoomID
	if roomID == 0 {
		roomID = DefaultRoomID
	}
	svc := &Service{
		store:       cfg.RoomStore,
		logger:      cfg.Logger.With().Str("component", "service").Logger(),
		defaultRoom: roomID,
	}
	rl := relay.New(relay.Config{
		Logger:    cfg.Logger,
		RoomID:    roomID,
		InboxSize: cfg.InboxSize,
	})
	if err := svc.store.CreateRoom(rl); err != nil {
		return nil, errors.Join(ErrCreate, err)
	}
	return svc, nil
}

func (svc *Service) DefaultRoom() model.RoomID {
	return svc.defaultRoom
}

// Run drives every room relay until ctx is done. Relays have no failure
// mode, so nothing is reported on the error channel.
func (svc *Service) Run(ctx context.Context, wg *sync.WaitGroup, _ chan<- error) {
	defer func() {
		svc.logger.Debug().Msg("service stopped")
		wg.Done()
	}()

	relays := &sync.WaitGroup{}
	for _, rl := range svc.store.Rooms() {
		relays.Add(1)
		go func() {
			defer relays.Done()
			rl.Run(ctx)
		}()
	}
	svc.logger.Info().Int("rooms", len(svc.store.Rooms())).Msg("service started")
	relays.Wait()
}

// OpenSession creates a session for a new connection. The session joins
// the room only after it names itself.
func (svc *Service) OpenSession(roomID model.RoomID, conn session.Conn) (*session.Session, error) {
	if _, err := svc.store.GetRoom(roomID); err != nil {
		return nil, errors.Join(ErrOpen, ErrGet, err)
	}
	s := session.New(model.SessionID(svc.lastID.Add(1)), conn)
	svc.logger.Debug().
		Uint64("roomID", uint64(roomID)).
		Uint64("sessionID", uint64(s.ID())).
		Msg("session opened")
	return s, nil
}

func (svc *Service) Deliver(ctx context.Context, roomID model.RoomID, s *session.Session, payload []byte) error {
	rl, err := svc.store.GetRoom(roomID)
	if err != nil {
		return errors.Join(ErrDeliver, ErrGet, err)
	}
	if err = rl.Deliver(ctx, s, payload); err != nil {
		return errors.Join(ErrDeliver, err)
	}
	return nil
}

// CloseSession removes s from its room. It blocks until the room accepts the event.
func (svc *Service) CloseSession(roomID model.RoomID, s *session.Session) error {
	rl, err := svc.store.GetRoom(roomID)
	if err != nil {
		return errors.Join(ErrClose, ErrGet, err)
	}
	if err = rl.Close(s); err != nil {
		return errors.Join(ErrClose, err)
	}
	svc.logger.Debug().
		Uint64("roomID", uint64(roomID)).
		Uint64("sessionID", uint64(s.ID())).
		Msg("session closed")
	return nil
}

func (svc *Service) RoomInfo(ctx context.Context, roomID model.RoomID) (relay.Snapshot, error) {
	rl, err := svc.store.GetRoom(roomID)
	if err != nil {
		return relay.Snapshot{}, errors.Join(ErrGet, err)
	}
	snap, err := rl.Snapshot(ctx)
	if err != nil {
		return relay.Snapshot{}, errors.Join(ErrGet, err)
	}
	return snap, nil
}
