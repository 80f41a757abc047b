package roomdb

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"itemlink.gg/internal/protocol"
	"itemlink.gg/internal/room"
)

func testState(id uint64, name string) room.State {
	hash := protocol.HashIcons{1, 2, 3, 4, 5}
	s := room.State{
		ID:   id,
		Name: name,
		Open: true,
		BaseQueue: []protocol.Item{
			{Source: 1, Key: 100, Kind: protocol.TriforcePiece},
		},
		PlayerQueues: map[protocol.World][]protocol.Item{
			2: {{Source: 1, Key: 100, Kind: protocol.TriforcePiece}, {Source: 1, Key: 7, Kind: 33}},
		},
		Delivered:       map[protocol.World]int{1: 1, 2: 2},
		FileHash:        &hash,
		Progressive:     map[protocol.World]uint32{1: 0x0f},
		LastSaved:       time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
		AutoDeleteDelta: 7 * 24 * time.Hour,
	}
	for i := range s.PasswordHash {
		s.PasswordHash[i] = byte(i)
	}
	for i := range s.PasswordSalt {
		s.PasswordSalt[i] = byte(0xf0 + i)
	}
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := testState(1, "game night")
	if err := db.SaveRoom(want); err != nil {
		t.Fatalf("SaveRoom: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen, as a restart would.
	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	states, err := db.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("got %d rooms, want 1", len(states))
	}
	if !reflect.DeepEqual(states[0], want) {
		t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", states[0], want)
	}
}

func TestUpsertReplacesRow(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "rooms.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	s := testState(1, "foo")
	if err := db.SaveRoom(s); err != nil {
		t.Fatalf("SaveRoom: %v", err)
	}
	s.PlayerQueues[2] = append(s.PlayerQueues[2], protocol.Item{Source: 2, Key: 9, Kind: 1})
	s.LastSaved = s.LastSaved.Add(time.Minute)
	if err := db.SaveRoom(s); err != nil {
		t.Fatalf("SaveRoom update: %v", err)
	}

	states, err := db.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("got %d rooms, want 1", len(states))
	}
	if len(states[0].PlayerQueues[2]) != 3 {
		t.Fatalf("got %d queued items, want 3", len(states[0].PlayerQueues[2]))
	}
	if !states[0].LastSaved.Equal(s.LastSaved) {
		t.Fatalf("last_saved not updated: %v", states[0].LastSaved)
	}
}

func TestDeleteRoom(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "rooms.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.SaveRoom(testState(1, "foo")); err != nil {
		t.Fatalf("SaveRoom: %v", err)
	}
	if err := db.SaveRoom(testState(2, "bar")); err != nil {
		t.Fatalf("SaveRoom: %v", err)
	}
	if err := db.DeleteRoom(1); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	states, err := db.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(states) != 1 || states[0].Name != "bar" {
		t.Fatalf("got %+v, want only bar", states)
	}
}

func TestRestoredRoomReplays(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "rooms.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.SaveRoom(testState(1, "foo")); err != nil {
		t.Fatalf("SaveRoom: %v", err)
	}
	states, err := db.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	r := room.FromState(states[0])
	if got := r.Snapshot(); !reflect.DeepEqual(got, states[0]) {
		t.Fatalf("restored snapshot mismatch:\n got %#v\nwant %#v", got, states[0])
	}
}
