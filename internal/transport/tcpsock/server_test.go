package tcpsock

import (
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"itemlink.gg/internal/protocol"
	"itemlink.gg/internal/protocol/v9"
	"itemlink.gg/internal/room"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := zap.NewNop().Sugar()
	rooms := room.NewRegistry(log, nil)
	if _, err := rooms.Create("alpha", "", 0); err != nil {
		t.Fatalf("create alpha: %v", err)
	}
	if _, err := rooms.Create("beta", "hunter2", 0); err != nil {
		t.Fatalf("create beta: %v", err)
	}
	return NewServer(nil, rooms, log)
}

func TestHandshakeSendsDirectory(t *testing.T) {
	srv := newTestServer(t)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- srv.handshake(server) }()

	_ = client.SetDeadline(time.Now().Add(2 * time.Second))
	var version [1]byte
	if _, err := client.Read(version[:]); err != nil {
		t.Fatalf("read server version: %v", err)
	}
	if version[0] != v9.Version {
		t.Fatalf("got version %d, want %d", version[0], v9.Version)
	}
	if _, err := client.Write([]byte{v9.Version}); err != nil {
		t.Fatalf("write client version: %v", err)
	}

	d := protocol.NewDecoder(client)
	n := d.U32()
	if n != 2 {
		t.Fatalf("got %d directory entries, want 2", n)
	}
	type entry struct {
		name     string
		password bool
	}
	got := []entry{
		{d.String(), d.Bool()},
		{d.String(), d.Bool()},
	}
	if err := d.Err(); err != nil {
		t.Fatalf("decode directory: %v", err)
	}
	want := []entry{{"alpha", false}, {"beta", true}}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("handshake: %v", err)
	}
}

func TestHandshakeRejectsVersionMismatch(t *testing.T) {
	srv := newTestServer(t)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- srv.handshake(server) }()

	_ = client.SetDeadline(time.Now().Add(2 * time.Second))
	var version [1]byte
	if _, err := client.Read(version[:]); err != nil {
		t.Fatalf("read server version: %v", err)
	}
	if _, err := client.Write([]byte{v9.Version - 1}); err != nil {
		t.Fatalf("write client version: %v", err)
	}
	if err := <-done; !errors.Is(err, errVersionMismatch) {
		t.Fatalf("got %v, want version mismatch", err)
	}
}

// A connection that stops sending frames must be reaped by the read
// deadline rather than lingering until a write fails.
func TestReadDeadlineReapsStalledConnection(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := &tcpConn{conn: server, readTimeout: 50 * time.Millisecond}

	go func() {
		_, _ = v9.EncodeClientMessage(client, protocol.Ping{})
	}()
	msg, err := c.Read()
	if err != nil {
		t.Fatalf("read ping: %v", err)
	}
	if _, ok := msg.(protocol.Ping); !ok {
		t.Fatalf("got %T, want Ping", msg)
	}

	// No further frames: the next read must time out.
	_, err = c.Read()
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("got %v, want timeout", err)
	}
}

func TestWriteSkipsMessagesWithoutWireForm(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := &tcpConn{conn: server, readTimeout: time.Second}

	// Nobody reads the client end; a skipped message must return
	// without touching the pipe at all.
	done := make(chan error, 1)
	go func() { done <- c.Write(protocol.WorldFreed{}) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("write: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("write blocked on a message this generation cannot carry")
	}
}
