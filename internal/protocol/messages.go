package protocol

import (
	"time"
)

// ClientMessage is a canonical client-to-server message. Wire
// generations decode their own frames into these types; room and
// session logic never sees generation-specific layouts.
type ClientMessage interface{ clientMessage() }

// ServerMessage is a canonical server-to-client message. A generation
// that cannot express a given message simply does not send it.
type ServerMessage interface{ serverMessage() }

// Messages that exist in both directions with the same payload
// implement both interfaces; fields noted as server-side only are left
// zero when a client sends the message.

// Ping is the keepalive, sent in both directions.
type Ping struct{}

// JoinRoom asks to join an existing room. Current generations address
// rooms by ID; the legacy socket generation addresses them by Name.
// Exactly one of the two is set.
type JoinRoom struct {
	ID       uint64
	Name     string
	Password *string
}

// CreateRoom asks to create (and immediately join) a new room.
type CreateRoom struct {
	Name     string
	Password string
}

// LoginApiKey signs the session in with an API key. Admin keys unlock
// the admin-only messages (Stop, WaitUntilEmpty).
type LoginApiKey struct {
	APIKey string
}

// LoginDiscord signs in with a Discord OAuth bearer token.
type LoginDiscord struct {
	BearerToken string
}

// LoginRaceTime signs in with a racetime.gg OAuth bearer token.
type LoginRaceTime struct {
	BearerToken string
}

// Stop shuts the server down. Admin only.
type Stop struct{}

// PlayerID claims a world (client to server) or announces that a world
// was claimed (server to client).
type PlayerID struct {
	World World
}

// ResetPlayerID releases the sender's claimed world. Server to client
// it announces which world was released (World is server-side only).
type ResetPlayerID struct {
	World World
}

// PlayerName sets the sender's player name (client) or announces a name
// change (server; World is server-side only).
type PlayerName struct {
	World World
	Name  Filename
}

// SendItem queues an item found in the sender's game for TargetWorld.
type SendItem struct {
	Key         uint64
	Kind        uint16
	TargetWorld World
}

// KickPlayer removes the client holding the given world from the room.
type KickPlayer struct {
	World World
}

// DeleteRoom deletes the sender's current room (client) or announces a
// room deletion to the lobby (server; ID and Name are server-side only).
type DeleteRoom struct {
	ID   uint64
	Name string
}

// LeaveRoom returns the sender to the lobby without deleting the room.
type LeaveRoom struct{}

// SaveData uploads the sender's current save blob. The payload is
// opaque; only its size is validated.
type SaveData struct {
	Data []byte
}

// SaveDataError reports a client-side failure to encode save data.
type SaveDataError struct {
	Debug   string
	Version string
}

// FileHash reports the loaded seed's file select hash icons so the
// server can detect players on mismatched seeds.
type FileHash struct {
	Hash HashIcons
}

// AutoDeleteDelta sets (client) or announces (server) the idle duration
// after which the room is automatically deleted.
type AutoDeleteDelta struct {
	Delta time.Duration
}

// WaitUntilEmpty requests a RoomsEmpty notification once no room has a
// client with a claimed world. Admin only.
type WaitUntilEmpty struct{}

// DungeonRewardInfo shares hint knowledge about a dungeon reward
// location, consumed by a best-effort tracker.
type DungeonRewardInfo struct {
	Reward uint8
	World  World
	Area   uint8
}

// CurrentScene reports where in the game the player currently is.
type CurrentScene struct {
	Scene uint8
}

// --- server to client only ---

// StructuredError reports a recoverable error the client can branch on.
type StructuredError struct {
	Code ServerError
}

// OtherError reports a fatal error as human-readable text; the
// connection is closed after sending it.
type OtherError struct {
	Message string
}

// EnterLobby confirms the session is in the lobby and carries the
// current room directory.
type EnterLobby struct {
	Rooms map[uint64]RoomEntry
}

// NewRoom announces a newly created room to lobby sessions.
type NewRoom struct {
	ID               uint64
	Name             string
	PasswordRequired bool
}

// EnterRoom confirms the session has joined a room.
type EnterRoom struct {
	RoomID               uint64
	Players              []Player
	NumUnassignedClients uint8
	AutoDeleteDelta      time.Duration
}

// ClientConnected announces a new unassigned client in the room.
type ClientConnected struct{}

// PlayerDisconnected announces that the client holding World left.
type PlayerDisconnected struct {
	World World
}

// UnregisteredClientDisconnected announces that a client without a
// world left.
type UnregisteredClientDisconnected struct{}

// ItemQueue replaces the recipient's item queue with the given kinds,
// in original insertion order. Sent on (re)claiming a world with a
// non-empty queue.
type ItemQueue struct {
	Kinds []uint16
}

// GetItem appends one item kind to the recipient's queue.
type GetItem struct {
	Kind uint16
}

// AdminLoginSuccess confirms an admin login and carries the current
// room overview.
type AdminLoginSuccess struct {
	Rooms map[uint64]RoomSummary
}

// Goodbye tells the client it is about to be disconnected cleanly.
type Goodbye struct{}

// PlayerFileHash announces a player's reported file select hash.
type PlayerFileHash struct {
	World World
	Hash  HashIcons
}

// RoomsEmpty answers WaitUntilEmpty once no claimed players remain.
type RoomsEmpty struct{}

// WrongFileHash rejects a hash report or item send from a client whose
// seed differs from the room's.
type WrongFileHash struct {
	Server HashIcons
	Client HashIcons
}

// ProgressiveItems carries a world's progressive item state. As a
// client message, World is ignored and the state is attributed to the
// sender's claimed world.
type ProgressiveItems struct {
	World World
	State uint32
}

// LoginSuccess confirms a (non-admin) login.
type LoginSuccess struct{}

// WorldTaken rejects a PlayerID claim for an already-claimed world.
type WorldTaken struct {
	World World
}

// WorldFreed tells a client waiting on a contested world that it is
// claimable again.
type WorldFreed struct{}

// MaintenanceNotice announces scheduled server downtime.
type MaintenanceNotice struct {
	Start    time.Time
	Duration time.Duration
}

func (Ping) clientMessage()              {}
func (JoinRoom) clientMessage()          {}
func (CreateRoom) clientMessage()        {}
func (LoginApiKey) clientMessage()       {}
func (LoginDiscord) clientMessage()      {}
func (LoginRaceTime) clientMessage()     {}
func (Stop) clientMessage()              {}
func (PlayerID) clientMessage()          {}
func (ResetPlayerID) clientMessage()     {}
func (PlayerName) clientMessage()        {}
func (SendItem) clientMessage()          {}
func (KickPlayer) clientMessage()        {}
func (DeleteRoom) clientMessage()        {}
func (LeaveRoom) clientMessage()         {}
func (SaveData) clientMessage()          {}
func (SaveDataError) clientMessage()     {}
func (FileHash) clientMessage()          {}
func (AutoDeleteDelta) clientMessage()   {}
func (WaitUntilEmpty) clientMessage()    {}
func (DungeonRewardInfo) clientMessage() {}
func (CurrentScene) clientMessage()      {}
func (ProgressiveItems) clientMessage()  {}

func (Ping) serverMessage()                           {}
func (StructuredError) serverMessage()                {}
func (OtherError) serverMessage()                     {}
func (EnterLobby) serverMessage()                     {}
func (NewRoom) serverMessage()                        {}
func (DeleteRoom) serverMessage()                     {}
func (EnterRoom) serverMessage()                      {}
func (PlayerID) serverMessage()                       {}
func (ResetPlayerID) serverMessage()                  {}
func (ClientConnected) serverMessage()                {}
func (PlayerDisconnected) serverMessage()             {}
func (UnregisteredClientDisconnected) serverMessage() {}
func (PlayerName) serverMessage()                     {}
func (ItemQueue) serverMessage()                      {}
func (GetItem) serverMessage()                        {}
func (AdminLoginSuccess) serverMessage()              {}
func (Goodbye) serverMessage()                        {}
func (PlayerFileHash) serverMessage()                 {}
func (AutoDeleteDelta) serverMessage()                {}
func (RoomsEmpty) serverMessage()                     {}
func (WrongFileHash) serverMessage()                  {}
func (ProgressiveItems) serverMessage()               {}
func (LoginSuccess) serverMessage()                   {}
func (WorldTaken) serverMessage()                     {}
func (WorldFreed) serverMessage()                     {}
func (MaintenanceNotice) serverMessage()              {}
