// Package v14 is a frozen older WebSocket wire generation, kept so
// clients that have not updated can still connect. Two of its client
// tags, Track and SendAll, were retired server-side; decoding them
// yields a descriptive error rather than a canonical message.
package v14

import (
	"io"
	"sort"

	"itemlink.gg/internal/protocol"
)

const Version = 14

// Client message tags. Track and SendAll still occupy their slots even
// though the server no longer accepts them; the tag space of a frozen
// generation never shifts.
const (
	tagCliPing uint8 = iota
	tagCliJoinRoom
	tagCliCreateRoom
	tagCliLoginApiKey
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
	tagCliLoginDiscord
	tagCliLoginRaceTime
	tagCliLeaveRoom
	tagCliDungeonRewardInfo
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
	tagSrvWrongFileHash
)

// DecodeClientMessage reads one client frame and translates it to the
// canonical form. Retired messages decode to RetiredMessageError after
// their payload has been consumed, so the stream stays framed.
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
		msg = protocol.JoinRoom{ID: d.U64(), Password: d.OptString()}
	case tagCliCreateRoom:
		msg = protocol.CreateRoom{Name: d.String(), Password: d.String()}
	case tagCliLoginApiKey:
		msg = protocol.LoginApiKey{APIKey: d.String()}
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
		msg = protocol.SendItem{Key: d.U64(), Kind: d.U16(), TargetWorld: protocol.World(d.U8())}
	case tagCliKickPlayer:
		msg = protocol.KickPlayer{World: protocol.World(d.U8())}
	case tagCliDeleteRoom:
		msg = protocol.DeleteRoom{}
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
	case tagCliLoginDiscord:
		msg = protocol.LoginDiscord{BearerToken: d.String()}
	case tagCliLoginRaceTime:
		msg = protocol.LoginRaceTime{BearerToken: d.String()}
	case tagCliLeaveRoom:
		msg = protocol.LeaveRoom{}
	case tagCliDungeonRewardInfo:
		msg = protocol.DungeonRewardInfo{Reward: d.U8(), World: protocol.World(d.U8()), Area: d.U8()}
	default:
		return nil, &protocol.UnknownTagError{Direction: "client", Tag: tag}
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return msg, nil
}

// EncodeClientMessage writes a canonical client message in this
// generation's layout, skipping messages the generation predates.
func EncodeClientMessage(w io.Writer, msg protocol.ClientMessage) (bool, error) {
	e := protocol.NewEncoder(w)
	switch m := msg.(type) {
	case protocol.Ping:
		e.U8(tagCliPing)
	case protocol.JoinRoom:
		e.U8(tagCliJoinRoom)
		e.U64(m.ID)
		e.OptString(m.Password)
	case protocol.CreateRoom:
		e.U8(tagCliCreateRoom)
		e.String(m.Name)
		e.String(m.Password)
	case protocol.LoginApiKey:
		e.U8(tagCliLoginApiKey)
		e.String(m.APIKey)
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
		e.U8(tagCliSendItem)
		e.U64(m.Key)
		e.U16(m.Kind)
		e.U8(uint8(m.TargetWorld))
	case protocol.KickPlayer:
		e.U8(tagCliKickPlayer)
		e.U8(uint8(m.World))
	case protocol.DeleteRoom:
		e.U8(tagCliDeleteRoom)
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
	case protocol.LoginDiscord:
		e.U8(tagCliLoginDiscord)
		e.String(m.BearerToken)
	case protocol.LoginRaceTime:
		e.U8(tagCliLoginRaceTime)
		e.String(m.BearerToken)
	case protocol.LeaveRoom:
		e.U8(tagCliLeaveRoom)
	case protocol.DungeonRewardInfo:
		e.U8(tagCliDungeonRewardInfo)
		e.U8(m.Reward)
		e.U8(uint8(m.World))
		e.U8(m.Area)
	default:
		return false, nil
	}
	return true, e.Err()
}

// EncodeServerMessage writes a canonical server message. Messages
// introduced after this generation froze are silently skipped.
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
		encodeRoomDirectory(e, m.Rooms)
	case protocol.NewRoom:
		e.U8(tagSrvNewRoom)
		e.U64(m.ID)
		e.String(m.Name)
		e.Bool(m.PasswordRequired)
	case protocol.DeleteRoom:
		e.U8(tagSrvDeleteRoom)
		e.U64(m.ID)
	case protocol.EnterRoom:
		e.U8(tagSrvEnterRoom)
		e.U64(m.RoomID)
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
		e.U8(tagSrvWrongFileHash)
		e.Raw(m.Server[:])
		e.Raw(m.Client[:])
	default:
		return false, nil
	}
	return true, e.Err()
}

// DecodeServerMessage reads one server frame, for client-side use.
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
		msg = protocol.EnterLobby{Rooms: decodeRoomDirectory(d)}
	case tagSrvNewRoom:
		msg = protocol.NewRoom{ID: d.U64(), Name: d.String(), PasswordRequired: d.Bool()}
	case tagSrvDeleteRoom:
		msg = protocol.DeleteRoom{ID: d.U64()}
	case tagSrvEnterRoom:
		msg = protocol.EnterRoom{
			RoomID:               d.U64(),
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
	case tagSrvWrongFileHash:
		var m protocol.WrongFileHash
		d.Raw(m.Server[:])
		d.Raw(m.Client[:])
		msg = m
	default:
		return nil, &protocol.UnknownTagError{Direction: "server", Tag: tag}
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return msg, nil
}

func encodePlayers(e *protocol.Encoder, players []protocol.Player) {
	e.U32(uint32(len(players)))
	for _, p := range players {
		e.U8(uint8(p.World))
		e.Raw(p.Name[:])
		if p.FileHash != nil {
			e.Bool(true)
			e.Raw(p.FileHash[:])
		} else {
			e.Bool(false)
		}
	}
}

func decodePlayers(d *protocol.Decoder) []protocol.Player {
	n := d.U32()
	players := make([]protocol.Player, 0, n)
	for i := uint32(0); i < n && d.Err() == nil; i++ {
		p := protocol.Player{World: protocol.World(d.U8())}
		d.Raw(p.Name[:])
		if d.Bool() {
			var hash protocol.HashIcons
			d.Raw(hash[:])
			p.FileHash = &hash
		}
		players = append(players, p)
	}
	return players
}

func encodeRoomDirectory(e *protocol.Encoder, rooms map[uint64]protocol.RoomEntry) {
	ids := make([]uint64, 0, len(rooms))
	for id := range rooms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	e.U32(uint32(len(ids)))
	for _, id := range ids {
		entry := rooms[id]
		e.U64(id)
		e.String(entry.Name)
		e.Bool(entry.PasswordRequired)
	}
}

func decodeRoomDirectory(d *protocol.Decoder) map[uint64]protocol.RoomEntry {
	n := d.U32()
	rooms := make(map[uint64]protocol.RoomEntry, n)
	for i := uint32(0); i < n && d.Err() == nil; i++ {
		id := d.U64()
		rooms[id] = protocol.RoomEntry{Name: d.String(), PasswordRequired: d.Bool()}
	}
	return rooms
}

func encodeRoomSummaries(e *protocol.Encoder, rooms map[uint64]protocol.RoomSummary) {
	ids := make([]uint64, 0, len(rooms))
	for id := range rooms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	e.U32(uint32(len(ids)))
	for _, id := range ids {
		s := rooms[id]
		e.U64(id)
		e.String(s.Name)
		encodePlayers(e, s.Players)
		e.U8(s.NumUnassignedClients)
	}
}

func decodeRoomSummaries(d *protocol.Decoder) map[uint64]protocol.RoomSummary {
	n := d.U32()
	rooms := make(map[uint64]protocol.RoomSummary, n)
	for i := uint32(0); i < n && d.Err() == nil; i++ {
		id := d.U64()
		rooms[id] = protocol.RoomSummary{
			Name:                 d.String(),
			Players:              decodePlayers(d),
			NumUnassignedClients: d.U8(),
		}
	}
	return rooms
}
