// Package protocol defines the canonical message set spoken between the
// relay server and game clients, together with the binary frame
// primitives shared by every deployed wire generation.
//
// Each wire generation (see the v9, v14 and v15 subpackages) translates
// its own frame layout to and from the canonical types in this package.
// Room and session code only ever sees canonical messages.
package protocol

import "time"

// TriforcePiece is the reserved item kind with broadcast semantics:
// queuing it targets every world in the room instead of a single one.
const TriforcePiece uint16 = 0x00ca

// SaveDataSize is the exact size of the opaque save blob clients upload.
// The server never decodes it; it only checks the size.
const SaveDataSize = 0x1450

// Room name/password validation limits, enforced at room creation.
const (
	MaxRoomNameLen = 64
	MaxPasswordLen = 64
)

// MaxClientsPerRoom matches the world id space: world numbers are 1..=255.
const MaxClientsPerRoom = 255

// Keepalive timing. Both sides send Ping at the interval; a connection
// with no traffic for the full timeout is considered lost.
const (
	PingInterval = 30 * time.Second
	ReadTimeout  = 60 * time.Second
)

// World identifies one player slot in a room. Valid worlds are 1..=255;
// zero is never a valid world number.
type World uint8

func (w World) Valid() bool { return w != 0 }

// HashIcons is the file select hash of a seed: five icon indices.
type HashIcons [5]uint8

// Item is one queued item pickup. Key is chosen by the sending client
// and must be unique per (Source, logical target); Kind is an opaque
// item type code.
type Item struct {
	Source World
	Key    uint64
	Kind   uint16
}

// Player is the claimed-world record for one client in a room.
type Player struct {
	World    World
	Name     Filename
	FileHash *HashIcons
}

// NewPlayer returns a Player for a freshly claimed world with the
// default (unset) name.
func NewPlayer(world World) Player {
	return Player{World: world, Name: DefaultFilename}
}

// RoomEntry is one row of the lobby's room directory.
type RoomEntry struct {
	Name             string
	PasswordRequired bool
}

// RoomSummary describes one room in the admin overview.
type RoomSummary struct {
	Name                 string
	Players              []Player
	NumUnassignedClients uint8
}
