package v15

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
	"time"

	"itemlink.gg/internal/protocol"
)

func roundTripClient(t *testing.T, msg protocol.ClientMessage) protocol.ClientMessage {
	t.Helper()
	var buf bytes.Buffer
	ok, err := EncodeClientMessage(&buf, msg)
	if err != nil {
		t.Fatalf("encode %T: %v", msg, err)
	}
	if !ok {
		t.Fatalf("encode %T: unexpectedly skipped", msg)
	}
	got, err := DecodeClientMessage(&buf)
	if err != nil {
		t.Fatalf("decode %T: %v", msg, err)
	}
	return got
}

func roundTripServer(t *testing.T, msg protocol.ServerMessage) protocol.ServerMessage {
	t.Helper()
	var buf bytes.Buffer
	ok, err := EncodeServerMessage(&buf, msg)
	if err != nil {
		t.Fatalf("encode %T: %v", msg, err)
	}
	if !ok {
		t.Fatalf("encode %T: unexpectedly skipped", msg)
	}
	got, err := DecodeServerMessage(&buf)
	if err != nil {
		t.Fatalf("decode %T: %v", msg, err)
	}
	return got
}

func TestClientRoundTrip(t *testing.T) {
	password := "hunter2"
	msgs := []protocol.ClientMessage{
		protocol.Ping{},
		protocol.JoinRoom{ID: 42, Password: &password},
		protocol.JoinRoom{ID: 7},
		protocol.CreateRoom{Name: "weekly", Password: "s3cret"},
		protocol.LoginApiKey{APIKey: "abc123"},
		protocol.LoginDiscord{BearerToken: "tok"},
		protocol.LoginRaceTime{BearerToken: "tok2"},
		protocol.Stop{},
		protocol.PlayerID{World: 3},
		protocol.ResetPlayerID{},
		protocol.PlayerName{Name: protocol.Filename{0xba, 0xd0, 0xc5, 0xdd, 0xc9, 0xd6, 0xdf, 0xdf}},
		protocol.SendItem{Key: 0xdead_beef_cafe, Kind: 0x00ca, TargetWorld: 5},
		protocol.KickPlayer{World: 2},
		protocol.DeleteRoom{},
		protocol.LeaveRoom{},
		protocol.SaveData{Data: bytes.Repeat([]byte{0x5a}, protocol.SaveDataSize)},
		protocol.SaveDataError{Debug: "oob read", Version: "17.1"},
		protocol.FileHash{Hash: protocol.HashIcons{1, 2, 3, 4, 5}},
		protocol.AutoDeleteDelta{Delta: 24 * time.Hour},
		protocol.WaitUntilEmpty{},
		protocol.DungeonRewardInfo{Reward: 4, World: 1, Area: 9},
		protocol.CurrentScene{Scene: 0x55},
		protocol.ProgressiveItems{State: 0x00c0ffee},
	}
	for _, msg := range msgs {
		got := roundTripClient(t, msg)
		if !reflect.DeepEqual(got, msg) {
			t.Fatalf("round trip %T: got %#v, want %#v", msg, got, msg)
		}
	}
}

func TestServerRoundTrip(t *testing.T) {
	hash := protocol.HashIcons{9, 8, 7, 6, 5}
	msgs := []protocol.ServerMessage{
		protocol.Ping{},
		protocol.StructuredError{Code: protocol.ErrRoomFull},
		protocol.OtherError{Message: "unexpected message"},
		protocol.EnterLobby{Rooms: map[uint64]protocol.RoomEntry{
			1: {Name: "async", PasswordRequired: true},
			2: {Name: "weekly"},
		}},
		protocol.NewRoom{ID: 3, Name: "tourney", PasswordRequired: true},
		protocol.DeleteRoom{ID: 3},
		protocol.EnterRoom{
			RoomID: 2,
			Players: []protocol.Player{
				protocol.NewPlayer(1),
				{World: 2, Name: protocol.Filename{1, 2, 3, 4, 5, 6, 7, 8}, FileHash: &hash},
			},
			NumUnassignedClients: 1,
			AutoDeleteDelta:      7 * 24 * time.Hour,
		},
		protocol.PlayerID{World: 4},
		protocol.ResetPlayerID{World: 4},
		protocol.ClientConnected{},
		protocol.PlayerDisconnected{World: 4},
		protocol.UnregisteredClientDisconnected{},
		protocol.PlayerName{World: 2, Name: protocol.DefaultFilename},
		protocol.ItemQueue{Kinds: []uint16{0x0001, 0x00ca, 0x00ca}},
		protocol.GetItem{Kind: 0x0056},
		protocol.AdminLoginSuccess{Rooms: map[uint64]protocol.RoomSummary{
			1: {Name: "async", Players: []protocol.Player{protocol.NewPlayer(1)}, NumUnassignedClients: 2},
		}},
		protocol.Goodbye{},
		protocol.PlayerFileHash{World: 1, Hash: hash},
		protocol.AutoDeleteDelta{Delta: time.Hour},
		protocol.RoomsEmpty{},
		protocol.WrongFileHash{Server: hash, Client: protocol.HashIcons{1, 1, 1, 1, 1}},
		protocol.ProgressiveItems{World: 3, State: 0xdeadbeef},
		protocol.LoginSuccess{},
		protocol.WorldTaken{World: 8},
		protocol.WorldFreed{},
		protocol.MaintenanceNotice{Start: time.Unix(1767225600, 0).UTC(), Duration: 30 * time.Minute},
	}
	for _, msg := range msgs {
		got := roundTripServer(t, msg)
		if !reflect.DeepEqual(got, msg) {
			t.Fatalf("round trip %T: got %#v, want %#v", msg, got, msg)
		}
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	_, err := DecodeClientMessage(bytes.NewReader([]byte{0xff}))
	var unknown *protocol.UnknownTagError
	if !errors.As(err, &unknown) {
		t.Fatalf("got %v, want UnknownTagError", err)
	}
	if unknown.Tag != 0xff {
		t.Fatalf("got tag %d, want 255", unknown.Tag)
	}
}

func TestEncodeSaveDataWrongSize(t *testing.T) {
	var buf bytes.Buffer
	ok, err := EncodeClientMessage(&buf, protocol.SaveData{Data: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if ok || buf.Len() != 0 {
		t.Fatalf("short save data must be skipped without output, got ok=%v len=%d", ok, buf.Len())
	}
}

func TestDecodeTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	if _, err := EncodeClientMessage(&buf, protocol.SendItem{Key: 1, Kind: 2, TargetWorld: 3}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeClientMessage(bytes.NewReader(buf.Bytes()[:buf.Len()-1])); err == nil {
		t.Fatal("truncated frame must not decode")
	}
}
