package memory

import (
	"errors"
	"slices"
	"sync"

	"github.com/adwski/chatroom-relay/backend/model"
	"github.com/adwski/chatroom-relay/backend/relay"
	"github.com/samber/lo"
)

var (
	ErrRoomExists   = errors.New("room already exists")
	ErrRoomNotFound = errors.New("room is not found")
)

// MemStore keeps room relays by room id.
type MemStore struct {
	mx *sync.Mutex
	db map[model.RoomID]*relay.Relay
}

func NewMemStore() *MemStore {
	return &MemStore{
		mx: &sync.Mutex{},
		db: make(map[model.RoomID]*relay.Relay),
	}
}

func (ms *MemStore) CreateRoom(rl *relay.Relay) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if _, ok := ms.db[rl.RoomID()]; ok {
		return ErrRoomExists
	}
	ms.db[rl.RoomID()] = rl
	return nil
}

func (ms *MemStore) GetRoom(roomID model.RoomID) (*relay.Relay, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	rl, ok := ms.db[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return rl, nil
}

// Rooms returns all relays ordered by room id.
func (ms *MemStore) Rooms() []*relay.Relay {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	ids := lo.Keys(ms.db)
	slices.Sort(ids)
	return lo.Map(ids, func(id model.RoomID, _ int) *relay.Relay {
		return ms.db[id]
	})
}
