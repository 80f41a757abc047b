package v14

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
	"time"

	"itemlink.gg/internal/protocol"
)

func TestClientRoundTrip(t *testing.T) {
	password := "open sesame"
	msgs := []protocol.ClientMessage{
		protocol.Ping{},
		protocol.JoinRoom{ID: 11, Password: &password},
		protocol.CreateRoom{Name: "casual", Password: ""},
		protocol.LoginApiKey{APIKey: "key"},
		protocol.LoginDiscord{BearerToken: "d"},
		protocol.LoginRaceTime{BearerToken: "r"},
		protocol.PlayerID{World: 1},
		protocol.PlayerName{Name: protocol.DefaultFilename},
		protocol.SendItem{Key: 0x1234_5678_9abc, Kind: 0x0056, TargetWorld: 2},
		protocol.SaveData{Data: make([]byte, protocol.SaveDataSize)},
		protocol.FileHash{Hash: protocol.HashIcons{5, 4, 3, 2, 1}},
		protocol.AutoDeleteDelta{Delta: 48 * time.Hour},
		protocol.LeaveRoom{},
		protocol.DungeonRewardInfo{Reward: 1, World: 2, Area: 3},
	}
	for _, msg := range msgs {
		var buf bytes.Buffer
		ok, err := EncodeClientMessage(&buf, msg)
		if err != nil || !ok {
			t.Fatalf("encode %T: ok=%v err=%v", msg, ok, err)
		}
		got, err := DecodeClientMessage(&buf)
		if err != nil {
			t.Fatalf("decode %T: %v", msg, err)
		}
		if !reflect.DeepEqual(got, msg) {
			t.Fatalf("round trip %T: got %#v, want %#v", msg, got, msg)
		}
	}
}

func TestServerRoundTrip(t *testing.T) {
	msgs := []protocol.ServerMessage{
		protocol.StructuredError{Code: protocol.ErrNoSuchRoom},
		protocol.EnterLobby{Rooms: map[uint64]protocol.RoomEntry{9: {Name: "late"}}},
		protocol.EnterRoom{RoomID: 9, Players: []protocol.Player{protocol.NewPlayer(2)}, AutoDeleteDelta: time.Hour},
		protocol.ItemQueue{Kinds: []uint16{0x00ca}},
		protocol.WrongFileHash{Server: protocol.HashIcons{1, 2, 3, 4, 5}, Client: protocol.HashIcons{5, 4, 3, 2, 1}},
	}
	for _, msg := range msgs {
		var buf bytes.Buffer
		ok, err := EncodeServerMessage(&buf, msg)
		if err != nil || !ok {
			t.Fatalf("encode %T: ok=%v err=%v", msg, ok, err)
		}
		got, err := DecodeServerMessage(&buf)
		if err != nil {
			t.Fatalf("decode %T: %v", msg, err)
		}
		if !reflect.DeepEqual(got, msg) {
			t.Fatalf("round trip %T: got %#v, want %#v", msg, got, msg)
		}
	}
}

// Track frames still parse so the stream stays framed, but they come
// back as a retired-message error instead of a canonical message.
func TestDecodeRetiredTrack(t *testing.T) {
	var buf bytes.Buffer
	e := protocol.NewEncoder(&buf)
	e.U8(tagCliTrack)
	e.String("mw/1/Player1")
	if err := e.Err(); err != nil {
		t.Fatalf("build frame: %v", err)
	}
	msg, err := DecodeClientMessage(&buf)
	if msg != nil {
		t.Fatalf("retired message must not decode, got %#v", msg)
	}
	var retired *protocol.RetiredMessageError
	if !errors.As(err, &retired) {
		t.Fatalf("got %v, want RetiredMessageError", err)
	}
	if retired.Name != "Track" || retired.Tag != tagCliTrack {
		t.Fatalf("got %q tag %d, want Track tag %d", retired.Name, retired.Tag, tagCliTrack)
	}
	if buf.Len() != 0 {
		t.Fatalf("payload not fully consumed, %d bytes left", buf.Len())
	}
}

func TestDecodeRetiredSendAll(t *testing.T) {
	var buf bytes.Buffer
	e := protocol.NewEncoder(&buf)
	e.U8(tagCliSendAll)
	e.U8(3)
	e.Bytes([]byte("spoiler log"))
	if err := e.Err(); err != nil {
		t.Fatalf("build frame: %v", err)
	}
	_, err := DecodeClientMessage(&buf)
	var retired *protocol.RetiredMessageError
	if !errors.As(err, &retired) {
		t.Fatalf("got %v, want RetiredMessageError", err)
	}
	if retired.Name != "SendAll" {
		t.Fatalf("got %q, want SendAll", retired.Name)
	}
}

// Messages that postdate this generation have no wire form here and
// must be skipped without touching the writer.
func TestEncodeSkipsNewerMessages(t *testing.T) {
	var buf bytes.Buffer
	for _, msg := range []protocol.ServerMessage{
		protocol.ProgressiveItems{World: 1, State: 7},
		protocol.LoginSuccess{},
		protocol.WorldTaken{World: 2},
		protocol.MaintenanceNotice{Start: time.Now(), Duration: time.Hour},
	} {
		ok, err := EncodeServerMessage(&buf, msg)
		if err != nil {
			t.Fatalf("encode %T: %v", msg, err)
		}
		if ok || buf.Len() != 0 {
			t.Fatalf("%T must be skipped, got ok=%v len=%d", msg, ok, buf.Len())
		}
	}
	ok, err := EncodeClientMessage(&buf, protocol.CurrentScene{Scene: 1})
	if err != nil {
		t.Fatalf("encode CurrentScene: %v", err)
	}
	if ok || buf.Len() != 0 {
		t.Fatal("CurrentScene must be skipped in this generation")
	}
}
