package v9

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"itemlink.gg/internal/protocol"
)

func TestClientRoundTrip(t *testing.T) {
	password := "pw"
	msgs := []protocol.ClientMessage{
		protocol.Ping{},
		protocol.JoinRoom{Name: "weekly", Password: &password},
		protocol.JoinRoom{Name: "open"},
		protocol.CreateRoom{Name: "new room", Password: "pw"},
		protocol.LoginApiKey{APIKey: "12345:" + strings.Repeat("ab", 32)},
		protocol.PlayerID{World: 255},
		protocol.PlayerName{Name: protocol.FallbackFilename(7)},
		protocol.SendItem{Key: 0xffffffff, Kind: 0x00ca, TargetWorld: 1},
		protocol.DeleteRoom{Name: "weekly"},
		protocol.SaveData{Data: make([]byte, protocol.SaveDataSize)},
		protocol.AutoDeleteDelta{Delta: 72 * time.Hour},
		protocol.WaitUntilEmpty{},
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

// The legacy login frame is a numeric id plus a fixed 32-byte key.
// Canonical form is "<id>:<hex key>"; anything else cannot be put on
// this wire and must be skipped.
func TestLoginKeyMapping(t *testing.T) {
	var buf bytes.Buffer
	e := protocol.NewEncoder(&buf)
	e.U8(tagCliLogin)
	e.U64(987)
	key := bytes.Repeat([]byte{0xcd}, apiKeyLen)
	e.Raw(key)
	if err := e.Err(); err != nil {
		t.Fatalf("build frame: %v", err)
	}
	msg, err := DecodeClientMessage(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	login, ok := msg.(protocol.LoginApiKey)
	if !ok {
		t.Fatalf("got %T, want LoginApiKey", msg)
	}
	want := "987:" + strings.Repeat("cd", apiKeyLen)
	if login.APIKey != want {
		t.Fatalf("got %q, want %q", login.APIKey, want)
	}

	var out bytes.Buffer
	okEnc, err := EncodeClientMessage(&out, login)
	if err != nil || !okEnc {
		t.Fatalf("re-encode: ok=%v err=%v", okEnc, err)
	}
	if out.Bytes()[0] != tagCliLogin {
		t.Fatalf("got tag %d, want %d", out.Bytes()[0], tagCliLogin)
	}

	out.Reset()
	okEnc, err = EncodeClientMessage(&out, protocol.LoginApiKey{APIKey: "not-legacy"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if okEnc || out.Len() != 0 {
		t.Fatal("non-legacy key must be skipped")
	}
}

func TestSendItemKeyTooWide(t *testing.T) {
	var buf bytes.Buffer
	ok, err := EncodeClientMessage(&buf, protocol.SendItem{Key: 1 << 32, Kind: 1, TargetWorld: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if ok || buf.Len() != 0 {
		t.Fatal("keys above 32 bits must be skipped on the legacy wire")
	}
}

func TestServerRoundTripNameKeyed(t *testing.T) {
	var buf bytes.Buffer
	ok, err := EncodeServerMessage(&buf, protocol.EnterLobby{Rooms: map[uint64]protocol.RoomEntry{
		17: {Name: "zulu"},
		3:  {Name: "alpha", PasswordRequired: true},
	}})
	if err != nil || !ok {
		t.Fatalf("encode: ok=%v err=%v", ok, err)
	}
	msg, err := DecodeServerMessage(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	lobby, okType := msg.(protocol.EnterLobby)
	if !okType {
		t.Fatalf("got %T, want EnterLobby", msg)
	}
	// Ids are synthetic, assigned in name order.
	want := map[uint64]protocol.RoomEntry{
		1: {Name: "alpha", PasswordRequired: true},
		2: {Name: "zulu"},
	}
	if !reflect.DeepEqual(lobby.Rooms, want) {
		t.Fatalf("got %#v, want %#v", lobby.Rooms, want)
	}
}

func TestWrongFileHashDegradesToText(t *testing.T) {
	var buf bytes.Buffer
	ok, err := EncodeServerMessage(&buf, protocol.WrongFileHash{
		Server: protocol.HashIcons{1, 2, 3, 4, 5},
		Client: protocol.HashIcons{9, 9, 9, 9, 9},
	})
	if err != nil || !ok {
		t.Fatalf("encode: ok=%v err=%v", ok, err)
	}
	msg, err := DecodeServerMessage(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	other, okType := msg.(protocol.OtherError)
	if !okType {
		t.Fatalf("got %T, want OtherError", msg)
	}
	if !strings.Contains(other.Message, "file hash mismatch") {
		t.Fatalf("got %q", other.Message)
	}
}

func TestDecodeRetiredTags(t *testing.T) {
	for _, tc := range []struct {
		name string
		tag  uint8
	}{
		{"Track", tagCliTrack},
		{"SendAll", tagCliSendAll},
	} {
		var buf bytes.Buffer
		e := protocol.NewEncoder(&buf)
		e.U8(tc.tag)
		if tc.tag == tagCliTrack {
			e.String("room")
		} else {
			e.U8(1)
			e.Bytes(nil)
		}
		if err := e.Err(); err != nil {
			t.Fatalf("build frame: %v", err)
		}
		_, err := DecodeClientMessage(&buf)
		var retired *protocol.RetiredMessageError
		if !errors.As(err, &retired) {
			t.Fatalf("%s: got %v, want RetiredMessageError", tc.name, err)
		}
		if retired.Name != tc.name {
			t.Fatalf("got %q, want %q", retired.Name, tc.name)
		}
	}
}

func TestWriteRoomDirectory(t *testing.T) {
	var buf bytes.Buffer
	err := WriteRoomDirectory(&buf, map[uint64]protocol.RoomEntry{
		5: {Name: "bravo"},
		2: {Name: "alpha", PasswordRequired: true},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	d := protocol.NewDecoder(&buf)
	if n := d.U32(); n != 2 {
		t.Fatalf("got %d rooms, want 2", n)
	}
	if name := d.String(); name != "alpha" {
		t.Fatalf("got %q first, want alpha", name)
	}
	if !d.Bool() {
		t.Fatal("alpha must require a password")
	}
	if name := d.String(); name != "bravo" {
		t.Fatalf("got %q second, want bravo", name)
	}
	if d.Bool() {
		t.Fatal("bravo must not require a password")
	}
	if err := d.Err(); err != nil {
		t.Fatalf("decode: %v", err)
	}
}
