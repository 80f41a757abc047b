package room

import (
	"crypto/sha512"
	"time"

	"itemlink.gg/internal/protocol"
)

// State is the persistable part of a room: everything except live
// connections. The persistence layer serializes it; restoring it
// yields a room with no clients but with its queues and delivery
// watermarks intact, so reconnecting players replay correctly after a
// server restart.
type State struct {
	ID              uint64
	Name            string
	Open            bool
	PasswordHash    [sha512.Size]byte
	PasswordSalt    [16]byte
	BaseQueue       []protocol.Item
	PlayerQueues    map[protocol.World][]protocol.Item
	Delivered       map[protocol.World]int
	FileHash        *protocol.HashIcons
	Progressive     map[protocol.World]uint32
	LastSaved       time.Time
	AutoDeleteDelta time.Duration
}

// Snapshot copies the persistable state under the read lock.
func (r *Room) Snapshot() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := State{
		ID:              r.ID,
		Name:            r.Name,
		Open:            r.open,
		PasswordHash:    r.passwordHash,
		PasswordSalt:    r.passwordSalt,
		BaseQueue:       append([]protocol.Item(nil), r.baseQueue...),
		PlayerQueues:    make(map[protocol.World][]protocol.Item, len(r.playerQueues)),
		Delivered:       make(map[protocol.World]int, len(r.delivered)),
		Progressive:     make(map[protocol.World]uint32, len(r.progressive)),
		LastSaved:       r.lastSaved,
		AutoDeleteDelta: r.autoDeleteDelta,
	}
	for w, q := range r.playerQueues {
		s.PlayerQueues[w] = append([]protocol.Item(nil), q...)
	}
	for w, n := range r.delivered {
		s.Delivered[w] = n
	}
	for w, p := range r.progressive {
		s.Progressive[w] = p
	}
	if r.fileHash != nil {
		h := *r.fileHash
		s.FileHash = &h
	}
	return s
}

// FromState rebuilds a room from a snapshot.
func FromState(s State) *Room {
	r := &Room{
		ID:              s.ID,
		Name:            s.Name,
		open:            s.Open,
		passwordHash:    s.PasswordHash,
		passwordSalt:    s.PasswordSalt,
		clients:         make(map[ConnID]*client),
		waiting:         make(map[protocol.World]map[ConnID]struct{}),
		baseQueue:       append([]protocol.Item(nil), s.BaseQueue...),
		playerQueues:    make(map[protocol.World][]protocol.Item, len(s.PlayerQueues)),
		delivered:       make(map[protocol.World]int, len(s.Delivered)),
		progressive:     make(map[protocol.World]uint32, len(s.Progressive)),
		dungeonRewards:  make(map[dungeonRewardKey]uint8),
		lastSaved:       s.LastSaved,
		autoDeleteDelta: s.AutoDeleteDelta,
	}
	for w, q := range s.PlayerQueues {
		r.playerQueues[w] = append([]protocol.Item(nil), q...)
	}
	for w, n := range s.Delivered {
		r.delivered[w] = n
	}
	for w, p := range s.Progressive {
		r.progressive[w] = p
	}
	if s.FileHash != nil {
		h := *s.FileHash
		r.fileHash = &h
	}
	return r
}
