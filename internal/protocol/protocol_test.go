package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestFallbackFilename(t *testing.T) {
	for _, tc := range []struct {
		world World
		want  string
	}{
		{1, "Player 1"},
		{9, "Player 9"},
		{10, "Player10"},
		{99, "Player99"},
		{100, "Playr100"},
		{255, "Playr255"},
	} {
		got := FallbackFilename(tc.world).String()
		if got != tc.want {
			t.Fatalf("world %d: got %q, want %q", tc.world, got, tc.want)
		}
	}
}

func TestDefaultFilenameIsBlank(t *testing.T) {
	for _, b := range DefaultFilename {
		if b != 0xdf {
			t.Fatalf("default filename byte %#x, want 0xdf", b)
		}
	}
	if s := DefaultFilename.String(); strings.TrimSpace(s) != "" {
		t.Fatalf("default filename renders %q, want blank", s)
	}
}

func TestServerErrorText(t *testing.T) {
	if ErrRoomFull.Error() == "" {
		t.Fatal("known codes need text")
	}
	if !ErrRoomFull.Known() {
		t.Fatal("ErrRoomFull must be known")
	}
	future := ServerError(200)
	if future.Known() {
		t.Fatal("code 200 must not be known")
	}
	if !strings.Contains(future.Error(), "200") {
		t.Fatalf("unknown code text %q must carry the number", future.Error())
	}
}

func TestWorldValid(t *testing.T) {
	if World(0).Valid() {
		t.Fatal("world 0 is reserved")
	}
	if !World(1).Valid() || !World(255).Valid() {
		t.Fatal("1 and 255 are valid worlds")
	}
}

func TestFrameStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	e.String("trésor 宝")
	e.OptString(nil)
	s := "x"
	e.OptString(&s)
	e.Duration(90 * time.Second)
	if err := e.Err(); err != nil {
		t.Fatalf("encode: %v", err)
	}
	d := NewDecoder(&buf)
	if got := d.String(); got != "trésor 宝" {
		t.Fatalf("got %q", got)
	}
	if got := d.OptString(); got != nil {
		t.Fatalf("got %v, want nil", got)
	}
	if got := d.OptString(); got == nil || *got != "x" {
		t.Fatalf("got %v, want x", got)
	}
	if got := d.Duration(); got != 90*time.Second {
		t.Fatalf("got %v", got)
	}
	if err := d.Err(); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestFrameRejectsInvalidUTF8(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	e.U32(2)
	e.Raw([]byte{0xff, 0xfe})
	if err := e.Err(); err != nil {
		t.Fatalf("build: %v", err)
	}
	d := NewDecoder(&buf)
	_ = d.String()
	if !errors.Is(d.Err(), ErrInvalidUTF8) {
		t.Fatalf("got %v, want ErrInvalidUTF8", d.Err())
	}
}

func TestFrameRejectsOversizeString(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	e.U32(1 << 30)
	d := NewDecoder(&buf)
	_ = d.String()
	if !errors.Is(d.Err(), ErrStringTooLong) {
		t.Fatalf("got %v, want ErrStringTooLong", d.Err())
	}
}

func TestDecoderErrIsSticky(t *testing.T) {
	d := NewDecoder(bytes.NewReader(nil))
	_ = d.U64()
	first := d.Err()
	if first == nil {
		t.Fatal("reading past the end must fail")
	}
	_ = d.U8()
	if d.Err() != first {
		t.Fatal("later reads must keep the first error")
	}
}
