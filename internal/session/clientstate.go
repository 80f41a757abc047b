package session

import (
	"sort"
	"time"

	"itemlink.gg/internal/protocol"
)

// Phase is a client's view of where its connection stands.
type Phase uint8

const (
	PhaseConnecting Phase = iota
	PhaseLobby
	PhaseInRoom
	PhaseClosed
)

// ClientState folds the stream of server messages into the client's
// view of the session: lobby directory, room roster, item queue. A
// client reconnecting after a dropped connection seeds it with its old
// room and password; Apply then hands back the JoinRoom to send as
// soon as the lobby arrives, taking the client straight back into its
// room.
type ClientState struct {
	phase Phase
	admin bool
	rooms map[uint64]protocol.RoomEntry

	rejoin         bool
	rejoinID       uint64
	rejoinPassword *string
	wrongPassword  bool

	players         []protocol.Player
	unassigned      uint8
	itemQueue       []uint16
	autoDeleteDelta time.Duration
}

// NewClientState starts a fresh connection in the connecting phase.
func NewClientState() *ClientState {
	return &ClientState{}
}

// NewRejoiningClientState starts a reconnect that heads back into room
// id with the remembered password.
func NewRejoiningClientState(id uint64, password *string) *ClientState {
	return &ClientState{rejoin: true, rejoinID: id, rejoinPassword: password}
}

// Apply folds one server message into the state. A non-nil result is
// a message the client must send in response; today that is only the
// auto-rejoin JoinRoom.
func (c *ClientState) Apply(msg protocol.ServerMessage) protocol.ClientMessage {
	switch m := msg.(type) {
	case protocol.EnterLobby:
		c.phase = PhaseLobby
		c.rooms = m.Rooms
		c.players = nil
		c.unassigned = 0
		if c.rejoin {
			c.rejoin = false
			if _, ok := m.Rooms[c.rejoinID]; ok {
				return protocol.JoinRoom{ID: c.rejoinID, Password: c.rejoinPassword}
			}
		}
	case protocol.NewRoom:
		if c.rooms != nil {
			c.rooms[m.ID] = protocol.RoomEntry{Name: m.Name, PasswordRequired: m.PasswordRequired}
		}
	case protocol.DeleteRoom:
		delete(c.rooms, m.ID)
	case protocol.EnterRoom:
		c.phase = PhaseInRoom
		c.rejoinID = m.RoomID
		c.wrongPassword = false
		c.players = m.Players
		c.unassigned = m.NumUnassignedClients
		c.itemQueue = nil
		c.autoDeleteDelta = m.AutoDeleteDelta
	case protocol.StructuredError:
		if m.Code == protocol.ErrWrongPassword && c.phase == PhaseLobby {
			c.wrongPassword = true
			c.rejoinPassword = nil
		}
	case protocol.PlayerID:
		if c.findPlayer(m.World) < 0 {
			c.players = append(c.players, protocol.NewPlayer(m.World))
			sort.Slice(c.players, func(i, j int) bool { return c.players[i].World < c.players[j].World })
			c.unassigned--
		}
	case protocol.ResetPlayerID:
		if i := c.findPlayer(m.World); i >= 0 {
			c.players = append(c.players[:i], c.players[i+1:]...)
			c.unassigned++
		}
	case protocol.ClientConnected:
		c.unassigned++
	case protocol.PlayerDisconnected:
		if i := c.findPlayer(m.World); i >= 0 {
			c.players = append(c.players[:i], c.players[i+1:]...)
		}
	case protocol.UnregisteredClientDisconnected:
		c.unassigned--
	case protocol.PlayerName:
		if i := c.findPlayer(m.World); i >= 0 {
			c.players[i].Name = m.Name
		}
	case protocol.PlayerFileHash:
		if i := c.findPlayer(m.World); i >= 0 {
			h := m.Hash
			c.players[i].FileHash = &h
		}
	case protocol.ItemQueue:
		c.itemQueue = append([]uint16(nil), m.Kinds...)
	case protocol.GetItem:
		c.itemQueue = append(c.itemQueue, m.Kind)
	case protocol.AutoDeleteDelta:
		c.autoDeleteDelta = m.Delta
	case protocol.AdminLoginSuccess:
		c.admin = true
	case protocol.Goodbye:
		c.phase = PhaseClosed
	}
	return nil
}

func (c *ClientState) findPlayer(world protocol.World) int {
	for i, p := range c.players {
		if p.World == world {
			return i
		}
	}
	return -1
}

func (c *ClientState) Phase() Phase { return c.phase }

func (c *ClientState) Admin() bool { return c.admin }

// Rooms is the lobby directory as last announced.
func (c *ClientState) Rooms() map[uint64]protocol.RoomEntry { return c.rooms }

// WrongPassword reports whether the last join attempt was rejected for
// its password; EnterRoom clears it.
func (c *ClientState) WrongPassword() bool { return c.wrongPassword }

func (c *ClientState) Players() []protocol.Player { return c.players }

func (c *ClientState) NumUnassignedClients() uint8 { return c.unassigned }

// ItemQueue is the client's item kinds in delivery order.
func (c *ClientState) ItemQueue() []uint16 { return c.itemQueue }

func (c *ClientState) AutoDeleteDelta() time.Duration { return c.autoDeleteDelta }
