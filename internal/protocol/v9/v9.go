// Package v9 is the frozen raw-TCP wire generation. It predates room
// ids, so rooms are keyed by name on the wire, item keys are 32 bits,
// and login carries a numeric user id plus a fixed 32-byte API key.
// Nothing in this package may change shape; the clients that speak it
// will never be updated.
package v9

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"itemlink.gg/internal/protocol"
)

const Version = 9

// Client message tags.
const (
	tagCliPing uint8 = iota
	tagCliJoinRoom
	tagCliCreateRoom
	tagCliLogin
	tagCliStop
	tagCliPlayerID
	tagCliResetPlayerID
	tagCliPlayerName
	tagCliSendItem
	tagCliKickPlayer
	tagCliDeleteRoom
	tagCliTrack
	tagCliSaveData
	tagCliSendAll
	tagCliSaveDataError
	tagCliFileHash
	tagCliAutoDeleteDelta
	tagCliWaitUntilEmpty
)

// Server message tags.
const (
	tagSrvPing uint8 = iota
	tagSrvStructuredError
	tagSrvOtherError
	tagSrvEnterLobby
	tagSrvNewRoom
	tagSrvDeleteRoom
	tagSrvEnterRoom
	tagSrvPlayerID
	tagSrvResetPlayerID
	tagSrvClientConnected
	tagSrvPlayerDisconnected
	tagSrvUnregisteredClientDisconnected
	tagSrvPlayerName
	tagSrvItemQueue
	tagSrvGetItem
	tagSrvAdminLoginSuccess
	tagSrvGoodbye
	tagSrvPlayerFileHash
	tagSrvAutoDeleteDelta
	tagSrvRoomsEmpty
)

const apiKeyLen = 32

// DecodeClientMessage reads one client frame and translates it to the
// canonical form. JoinRoom arrives name-keyed; the session layer
// resolves the name to a room id. The legacy Login frame is folded
// into LoginApiKey as "<id>:<hex key>".
func DecodeClientMessage(r io.Reader) (protocol.ClientMessage, error) {
	d := protocol.NewDecoder(r)
	tag := d.U8()
	if err := d.Err(); err != nil {
		return nil, err
	}
	var msg protocol.ClientMessage
	switch tag {
	case tagCliPing:
		msg = protocol.Ping{}
	case tagCliJoinRoom:
		msg = protocol.JoinRoom{Name: d.String(), Password: d.OptString()}
	case tagCliCreateRoom:
		msg = protocol.CreateRoom{Name: d.String(), Password: d.String()}
	case tagCliLogin:
		id := d.U64()
		var key [apiKeyLen]byte
		d.Raw(key[:])
		if err := d.Err(); err != nil {
			return nil, err
		}
		msg = protocol.LoginApiKey{APIKey: fmt.Sprintf("%d:%x", id, key)}
	case tagCliStop:
		msg = protocol.Stop{}
	case tagCliPlayerID:
		msg = protocol.PlayerID{World: protocol.World(d.U8())}
	case tagCliResetPlayerID:
		msg = protocol.ResetPlayerID{}
	case tagCliPlayerName:
		var name protocol.Filename
		d.Raw(name[:])
		msg = protocol.PlayerName{Name: name}
	case tagCliSendItem:
		msg = protocol.SendItem{Key: uint64(d.U32()), Kind: d.U16(), TargetWorld: protocol.World(d.U8())}
	case tagCliKickPlayer:
		msg = protocol.KickPlayer{World: protocol.World(d.U8())}
	case tagCliDeleteRoom:
		msg = protocol.DeleteRoom{Name: d.String()}
	case tagCliTrack:
		_ = d.String()
		if err := d.Err(); err != nil {
			return nil, err
		}
		return nil, &protocol.RetiredMessageError{Name: "Track", Tag: tag}
	case tagCliSaveData:
		data := make([]byte, protocol.SaveDataSize)
		d.Raw(data)
		msg = protocol.SaveData{Data: data}
	case tagCliSendAll:
		_ = d.U8()
		_ = d.Bytes(1 << 20)
		if err := d.Err(); err != nil {
			return nil, err
		}
		return nil, &protocol.RetiredMessageError{Name: "SendAll", Tag: tag}
	case tagCliSaveDataError:
		msg = protocol.SaveDataError{Debug: d.String(), Version: d.String()}
	case tagCliFileHash:
		var hash protocol.HashIcons
		d.Raw(hash[:])
		msg = protocol.FileHash{Hash: hash}
	case tagCliAutoDeleteDelta:
		msg = protocol.AutoDeleteDelta{Delta: d.Duration()}
	case tagCliWaitUntilEmpty:
		msg = protocol.WaitUntilEmpty{}
	default:
		return nil, &protocol.UnknownTagError{Direction: "client", Tag: tag}
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return msg, nil
}

// EncodeClientMessage writes a canonical client message in the legacy
// layout. LoginApiKey must carry the "<id>:<hex key>" form produced by
// this generation's decoder; anything else is unexpressible.
func EncodeClientMessage(w io.Writer, msg protocol.ClientMessage) (bool, error) {
	e := protocol.NewEncoder(w)
	switch m := msg.(type) {
	case protocol.Ping:
		e.U8(tagCliPing)
	case protocol.JoinRoom:
		e.U8(tagCliJoinRoom)
		e.String(m.Name)
		e.OptString(m.Password)
	case protocol.CreateRoom:
		e.U8(tagCliCreateRoom)
		e.String(m.Name)
		e.String(m.Password)
	case protocol.LoginApiKey:
		id, key, ok := splitLegacyKey(m.APIKey)
		if !ok {
			return false, nil
		}
		e.U8(tagCliLogin)
		e.U64(id)
		e.Raw(key)
	case protocol.Stop:
		e.U8(tagCliStop)
	case protocol.PlayerID:
		e.U8(tagCliPlayerID)
		e.U8(uint8(m.World))
	case protocol.ResetPlayerID:
		e.U8(tagCliResetPlayerID)
	case protocol.PlayerName:
		e.U8(tagCliPlayerName)
		e.Raw(m.Name[:])
	case protocol.SendItem:
		if m.Key > 0xffffffff {
			return false, nil
		}
		e.U8(tagCliSendItem)
		e.U32(uint32(m.Key))
		e.U16(m.Kind)
		e.U8(uint8(m.TargetWorld))
	case protocol.KickPlayer:
		e.U8(tagCliKickPlayer)
		e.U8(uint8(m.World))
	case protocol.DeleteRoom:
		e.U8(tagCliDeleteRoom)
		e.String(m.Name)
	case protocol.SaveData:
		if len(m.Data) != protocol.SaveDataSize {
			return false, nil
		}
		e.U8(tagCliSaveData)
		e.Raw(m.Data)
	case protocol.SaveDataError:
		e.U8(tagCliSaveDataError)
		e.String(m.Debug)
		e.String(m.Version)
	case protocol.FileHash:
		e.U8(tagCliFileHash)
		e.Raw(m.Hash[:])
	case protocol.AutoDeleteDelta:
		e.U8(tagCliAutoDeleteDelta)
		e.Duration(m.Delta)
	case protocol.WaitUntilEmpty:
		e.U8(tagCliWaitUntilEmpty)
	default:
		return false, nil
	}
	return true, e.Err()
}

// EncodeServerMessage writes a canonical server message. WrongFileHash
// postdates this generation but is important enough to reach old
// clients, so it degrades to OtherError text. Everything else the
// generation predates is silently skipped.
func EncodeServerMessage(w io.Writer, msg protocol.ServerMessage) (bool, error) {
	e := protocol.NewEncoder(w)
	switch m := msg.(type) {
	case protocol.Ping:
		e.U8(tagSrvPing)
	case protocol.StructuredError:
		e.U8(tagSrvStructuredError)
		e.U8(uint8(m.Code))
	case protocol.OtherError:
		e.U8(tagSrvOtherError)
		e.String(m.Message)
	case protocol.EnterLobby:
		e.U8(tagSrvEnterLobby)
		encodeRoomNames(e, m.Rooms)
	case protocol.NewRoom:
		e.U8(tagSrvNewRoom)
		e.String(m.Name)
		e.Bool(m.PasswordRequired)
	case protocol.DeleteRoom:
		e.U8(tagSrvDeleteRoom)
		e.String(m.Name)
	case protocol.EnterRoom:
		e.U8(tagSrvEnterRoom)
		encodePlayers(e, m.Players)
		e.U8(m.NumUnassignedClients)
		e.Duration(m.AutoDeleteDelta)
	case protocol.PlayerID:
		e.U8(tagSrvPlayerID)
		e.U8(uint8(m.World))
	case protocol.ResetPlayerID:
		e.U8(tagSrvResetPlayerID)
		e.U8(uint8(m.World))
	case protocol.ClientConnected:
		e.U8(tagSrvClientConnected)
	case protocol.PlayerDisconnected:
		e.U8(tagSrvPlayerDisconnected)
		e.U8(uint8(m.World))
	case protocol.UnregisteredClientDisconnected:
		e.U8(tagSrvUnregisteredClientDisconnected)
	case protocol.PlayerName:
		e.U8(tagSrvPlayerName)
		e.U8(uint8(m.World))
		e.Raw(m.Name[:])
	case protocol.ItemQueue:
		e.U8(tagSrvItemQueue)
		e.U32(uint32(len(m.Kinds)))
		for _, k := range m.Kinds {
			e.U16(k)
		}
	case protocol.GetItem:
		e.U8(tagSrvGetItem)
		e.U16(m.Kind)
	case protocol.AdminLoginSuccess:
		e.U8(tagSrvAdminLoginSuccess)
		encodeRoomSummaries(e, m.Rooms)
	case protocol.Goodbye:
		e.U8(tagSrvGoodbye)
	case protocol.PlayerFileHash:
		e.U8(tagSrvPlayerFileHash)
		e.U8(uint8(m.World))
		e.Raw(m.Hash[:])
	case protocol.AutoDeleteDelta:
		e.U8(tagSrvAutoDeleteDelta)
		e.Duration(m.Delta)
	case protocol.RoomsEmpty:
		e.U8(tagSrvRoomsEmpty)
	case protocol.WrongFileHash:
		e.U8(tagSrvOtherError)
		e.String(fmt.Sprintf("file hash mismatch: room has %v, you have %v", m.Server, m.Client))
	default:
		return false, nil
	}
	return true, e.Err()
}

// DecodeServerMessage reads one server frame, for client-side use.
// Name-keyed frames come back with zero ids; legacy clients only ever
// address rooms by name.
func DecodeServerMessage(r io.Reader) (protocol.ServerMessage, error) {
	d := protocol.NewDecoder(r)
	tag := d.U8()
	if err := d.Err(); err != nil {
		return nil, err
	}
	var msg protocol.ServerMessage
	switch tag {
	case tagSrvPing:
		msg = protocol.Ping{}
	case tagSrvStructuredError:
		msg = protocol.StructuredError{Code: protocol.ServerError(d.U8())}
	case tagSrvOtherError:
		msg = protocol.OtherError{Message: d.String()}
	case tagSrvEnterLobby:
		msg = protocol.EnterLobby{Rooms: decodeRoomNames(d)}
	case tagSrvNewRoom:
		msg = protocol.NewRoom{Name: d.String(), PasswordRequired: d.Bool()}
	case tagSrvDeleteRoom:
		msg = protocol.DeleteRoom{Name: d.String()}
	case tagSrvEnterRoom:
		msg = protocol.EnterRoom{
			Players:              decodePlayers(d),
			NumUnassignedClients: d.U8(),
			AutoDeleteDelta:      d.Duration(),
		}
	case tagSrvPlayerID:
		msg = protocol.PlayerID{World: protocol.World(d.U8())}
	case tagSrvResetPlayerID:
		msg = protocol.ResetPlayerID{World: protocol.World(d.U8())}
	case tagSrvClientConnected:
		msg = protocol.ClientConnected{}
	case tagSrvPlayerDisconnected:
		msg = protocol.PlayerDisconnected{World: protocol.World(d.U8())}
	case tagSrvUnregisteredClientDisconnected:
		msg = protocol.UnregisteredClientDisconnected{}
	case tagSrvPlayerName:
		m := protocol.PlayerName{World: protocol.World(d.U8())}
		d.Raw(m.Name[:])
		msg = m
	case tagSrvItemQueue:
		n := d.U32()
		kinds := make([]uint16, 0, n)
		for i := uint32(0); i < n && d.Err() == nil; i++ {
			kinds = append(kinds, d.U16())
		}
		msg = protocol.ItemQueue{Kinds: kinds}
	case tagSrvGetItem:
		msg = protocol.GetItem{Kind: d.U16()}
	case tagSrvAdminLoginSuccess:
		msg = protocol.AdminLoginSuccess{Rooms: decodeRoomSummaries(d)}
	case tagSrvGoodbye:
		msg = protocol.Goodbye{}
	case tagSrvPlayerFileHash:
		m := protocol.PlayerFileHash{World: protocol.World(d.U8())}
		d.Raw(m.Hash[:])
		msg = m
	case tagSrvAutoDeleteDelta:
		msg = protocol.AutoDeleteDelta{Delta: d.Duration()}
	case tagSrvRoomsEmpty:
		msg = protocol.RoomsEmpty{}
	default:
		return nil, &protocol.UnknownTagError{Direction: "server", Tag: tag}
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return msg, nil
}

// WriteRoomDirectory writes the handshake payload sent immediately
// after the version byte exchange: the current room directory, sorted
// by name. Legacy clients show it before any frame loop starts.
func WriteRoomDirectory(w io.Writer, rooms map[uint64]protocol.RoomEntry) error {
	e := protocol.NewEncoder(w)
	encodeRoomNames(e, rooms)
	return e.Err()
}

func splitLegacyKey(s string) (uint64, []byte, bool) {
	idPart, keyPart, found := strings.Cut(s, ":")
	if !found {
		return 0, nil, false
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		return 0, nil, false
	}
	key, err := hex.DecodeString(keyPart)
	if err != nil || len(key) != apiKeyLen {
		return 0, nil, false
	}
	return id, key, true
}

func encodeRoomNames(e *protocol.Encoder, rooms map[uint64]protocol.RoomEntry) {
	names := make([]string, 0, len(rooms))
	flags := make(map[string]bool, len(rooms))
	for _, entry := range rooms {
		names = append(names, entry.Name)
		flags[entry.Name] = entry.PasswordRequired
	}
	sort.Strings(names)
	e.U32(uint32(len(names)))
	for _, name := range names {
		e.String(name)
		e.Bool(flags[name])
	}
}

func decodeRoomNames(d *protocol.Decoder) map[uint64]protocol.RoomEntry {
	n := d.U32()
	rooms := make(map[uint64]protocol.RoomEntry, n)
	for i := uint32(0); i < n && d.Err() == nil; i++ {
		// Synthetic ids: the wire has none in this generation.
		rooms[uint64(i)+1] = protocol.RoomEntry{Name: d.String(), PasswordRequired: d.Bool()}
	}
	return rooms
}

func encodePlayers(e *protocol.Encoder, players []protocol.Player) {
	e.U32(uint32(len(players)))
	for _, p := range players {
		e.U8(uint8(p.World))
		e.Raw(p.Name[:])
	}
}

func decodePlayers(d *protocol.Decoder) []protocol.Player {
	n := d.U32()
	players := make([]protocol.Player, 0, n)
	for i := uint32(0); i < n && d.Err() == nil; i++ {
		p := protocol.Player{World: protocol.World(d.U8())}
		d.Raw(p.Name[:])
		players = append(players, p)
	}
	return players
}

func encodeRoomSummaries(e *protocol.Encoder, rooms map[uint64]protocol.RoomSummary) {
	names := make([]string, 0, len(rooms))
	byName := make(map[string]protocol.RoomSummary, len(rooms))
	for _, s := range rooms {
		names = append(names, s.Name)
		byName[s.Name] = s
	}
	sort.Strings(names)
	e.U32(uint32(len(names)))
	for _, name := range names {
		s := byName[name]
		e.String(name)
		encodePlayers(e, s.Players)
		e.U8(s.NumUnassignedClients)
	}
}

func decodeRoomSummaries(d *protocol.Decoder) map[uint64]protocol.RoomSummary {
	n := d.U32()
	rooms := make(map[uint64]protocol.RoomSummary, n)
	for i := uint32(0); i < n && d.Err() == nil; i++ {
		rooms[uint64(i)+1] = protocol.RoomSummary{
			Name:                 d.String(),
			Players:              decodePlayers(d),
			NumUnassignedClients: d.U8(),
		}
	}
	return rooms
}
