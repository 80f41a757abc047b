package session

import (
	"context"
	"io"
	"testing"
	"time"

	"go.uber.org/zap"

	"itemlink.gg/internal/protocol"
	"itemlink.gg/internal/room"
)

// fakeConn is an in-memory Conn: the test plays the client.
type fakeConn struct {
	in     chan protocol.ClientMessage
	out    chan protocol.ServerMessage
	closed chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan protocol.ClientMessage),
		out:    make(chan protocol.ServerMessage, 256),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read() (protocol.ClientMessage, error) {
	msg, ok := <-c.in
	if !ok {
		return nil, io.EOF
	}
	return msg, nil
}

func (c *fakeConn) Write(msg protocol.ServerMessage) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	case c.out <- msg:
		return nil
	}
}

func (c *fakeConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "test" }

// send delivers a client message, failing the test if the session is
// not reading.
func (c *fakeConn) send(t *testing.T, msg protocol.ClientMessage) {
	t.Helper()
	select {
	case c.in <- msg:
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not accept %T", msg)
	}
}

// expect waits for the next server message of type T, skipping others.
func expect[T protocol.ServerMessage](t *testing.T, c *fakeConn) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-c.out:
			if m, ok := msg.(T); ok {
				return m
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := zap.NewNop().Sugar()
	return &Server{
		Log:               log,
		Rooms:             room.NewRegistry(log, nil),
		Auth:              StaticKeys{"adminkey": {Name: "op", Admin: true}, "userkey": {Name: "u"}},
		DefaultAutoDelete: 7 * 24 * time.Hour,
		PingInterval:      time.Hour,
	}
}

func startSession(t *testing.T, srv *Server) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	done := make(chan struct{})
	go func() {
		srv.Handle(context.Background(), conn)
		close(done)
	}()
	t.Cleanup(func() {
		close(conn.in)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("session did not shut down")
		}
	})
	expect[protocol.EnterLobby](t, conn)
	return conn
}

func TestCreateJoinScenario(t *testing.T) {
	srv := newTestServer(t)
	a := startSession(t, srv)
	b := startSession(t, srv)

	a.send(t, protocol.CreateRoom{Name: "foo", Password: "bar"})
	enterA := expect[protocol.EnterRoom](t, a)
	if len(enterA.Players) != 0 || enterA.NumUnassignedClients != 1 {
		t.Fatalf("creator roster %#v", enterA)
	}

	// B (still in the lobby) sees the new room, then joins it.
	nr := expect[protocol.NewRoom](t, b)
	if nr.Name != "foo" || !nr.PasswordRequired {
		t.Fatalf("lobby delta %#v", nr)
	}
	pw := "bar"
	b.send(t, protocol.JoinRoom{ID: nr.ID, Password: &pw})
	expect[protocol.ClientConnected](t, a)
	enterB := expect[protocol.EnterRoom](t, b)
	if enterB.NumUnassignedClients != 2 {
		t.Fatalf("joiner sees %d unassigned, want 2", enterB.NumUnassignedClients)
	}

	// Claims and an item exchange.
	a.send(t, protocol.PlayerID{World: 1})
	expect[protocol.PlayerID](t, b)
	b.send(t, protocol.PlayerID{World: 2})
	// A's queue still holds the broadcast of its own claim; wait for
	// B's claim specifically so the item cannot race it.
	for expect[protocol.PlayerID](t, a).World != 2 {
	}
	a.send(t, protocol.SendItem{Key: 5, Kind: 10, TargetWorld: 2})
	got := expect[protocol.GetItem](t, b)
	if got.Kind != 10 {
		t.Fatalf("got kind %d, want 10", got.Kind)
	}
}

func TestJoinWrongPassword(t *testing.T) {
	srv := newTestServer(t)
	a := startSession(t, srv)
	a.send(t, protocol.CreateRoom{Name: "foo", Password: "bar"})
	enter := expect[protocol.EnterRoom](t, a)

	b := startSession(t, srv)
	wrong := "wrong"
	b.send(t, protocol.JoinRoom{ID: enter.RoomID, Password: &wrong})
	serr := expect[protocol.StructuredError](t, b)
	if serr.Code != protocol.ErrWrongPassword {
		t.Fatalf("got code %v, want WrongPassword", serr.Code)
	}
	r, _ := srv.Rooms.Lookup(enter.RoomID)
	if r.NumClients() != 1 {
		t.Fatalf("failed join must not alter the room, have %d clients", r.NumClients())
	}

	b.send(t, protocol.JoinRoom{ID: 999})
	serr = expect[protocol.StructuredError](t, b)
	if serr.Code != protocol.ErrNoSuchRoom {
		t.Fatalf("got code %v, want NoSuchRoom", serr.Code)
	}
}

func TestUnexpectedMessageClosesWithError(t *testing.T) {
	srv := newTestServer(t)
	c := newFakeConn()
	done := make(chan struct{})
	go func() {
		srv.Handle(context.Background(), c)
		close(done)
	}()
	expect[protocol.EnterLobby](t, c)

	// SendItem is meaningless outside a room.
	c.send(t, protocol.SendItem{Key: 1, Kind: 1, TargetWorld: 1})
	expect[protocol.OtherError](t, c)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session must close after a state-violating message")
	}
	close(c.in)
}

func TestKickReturnsToLobby(t *testing.T) {
	srv := newTestServer(t)
	a := startSession(t, srv)
	b := startSession(t, srv)

	a.send(t, protocol.CreateRoom{Name: "foo", Password: ""})
	enter := expect[protocol.EnterRoom](t, a)
	b.send(t, protocol.JoinRoom{ID: enter.RoomID})
	expect[protocol.EnterRoom](t, b)
	b.send(t, protocol.PlayerID{World: 2})
	expect[protocol.PlayerID](t, a)

	a.send(t, protocol.KickPlayer{World: 2})
	expect[protocol.EnterLobby](t, b)
	r, _ := srv.Rooms.Lookup(enter.RoomID)
	if r.NumClients() != 1 {
		t.Fatalf("room has %d clients after kick, want 1", r.NumClients())
	}

	// The kicked session works normally from the lobby again.
	b.send(t, protocol.JoinRoom{ID: enter.RoomID})
	expect[protocol.EnterRoom](t, b)
}

func TestDeleteRoomEvictsAll(t *testing.T) {
	srv := newTestServer(t)
	a := startSession(t, srv)
	b := startSession(t, srv)

	a.send(t, protocol.CreateRoom{Name: "foo", Password: ""})
	enter := expect[protocol.EnterRoom](t, a)
	b.send(t, protocol.JoinRoom{ID: enter.RoomID})
	expect[protocol.EnterRoom](t, b)

	a.send(t, protocol.DeleteRoom{})
	expect[protocol.EnterLobby](t, a)
	expect[protocol.EnterLobby](t, b)
	if _, ok := srv.Rooms.Lookup(enter.RoomID); ok {
		t.Fatal("room must be gone")
	}
}

func TestAdminStop(t *testing.T) {
	srv := newTestServer(t)
	stopped := make(chan struct{}, 1)
	srv.OnStop = func() { stopped <- struct{}{} }

	// Non-admin stop is refused.
	u := startSession(t, srv)
	u.send(t, protocol.Stop{})
	expect[protocol.OtherError](t, u)

	a := startSession(t, srv)
	a.send(t, protocol.LoginApiKey{APIKey: "adminkey"})
	expect[protocol.AdminLoginSuccess](t, a)
	a.send(t, protocol.Stop{})
	expect[protocol.Goodbye](t, a)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("OnStop must fire")
	}
}

func TestLoginOutcomes(t *testing.T) {
	srv := newTestServer(t)
	c := startSession(t, srv)

	c.send(t, protocol.LoginApiKey{APIKey: "nosuchkey"})
	oerr := expect[protocol.OtherError](t, c)
	if oerr.Message != "invalid API key" {
		t.Fatalf("got %q, want invalid API key", oerr.Message)
	}

	c.send(t, protocol.LoginApiKey{APIKey: "userkey"})
	expect[protocol.LoginSuccess](t, c)

	c.send(t, protocol.LoginDiscord{BearerToken: "x"})
	serr := expect[protocol.StructuredError](t, c)
	if serr.Code != protocol.ErrNoSuchAccountDiscord {
		t.Fatalf("got %v, want NoSuchAccountDiscord", serr.Code)
	}
	c.send(t, protocol.LoginRaceTime{BearerToken: "x"})
	serr = expect[protocol.StructuredError](t, c)
	if serr.Code != protocol.ErrNoSuchAccountRaceTime {
		t.Fatalf("got %v, want NoSuchAccountRaceTime", serr.Code)
	}
}

func TestCreateRoomRateLimit(t *testing.T) {
	srv := newTestServer(t)
	c := startSession(t, srv)
	for _, name := range []string{"r1", "r2", "r3"} {
		c.send(t, protocol.CreateRoom{Name: name})
		expect[protocol.EnterRoom](t, c)
		c.send(t, protocol.LeaveRoom{})
		expect[protocol.EnterLobby](t, c)
	}
	c.send(t, protocol.CreateRoom{Name: "r4"})
	expect[protocol.OtherError](t, c)
}

func TestWaitUntilEmpty(t *testing.T) {
	srv := newTestServer(t)
	waiter := startSession(t, srv)
	waiter.send(t, protocol.LoginApiKey{APIKey: "adminkey"})
	expect[protocol.AdminLoginSuccess](t, waiter)

	player := startSession(t, srv)
	player.send(t, protocol.CreateRoom{Name: "busy"})
	expect[protocol.EnterRoom](t, player)
	player.send(t, protocol.PlayerID{World: 1})
	expect[protocol.PlayerID](t, player)

	waiter.send(t, protocol.WaitUntilEmpty{})
	select {
	case msg := <-waiter.out:
		if _, ok := msg.(protocol.RoomsEmpty); ok {
			t.Fatal("RoomsEmpty must not arrive while a player holds a world")
		}
	case <-time.After(100 * time.Millisecond):
	}

	player.send(t, protocol.LeaveRoom{})
	expect[protocol.EnterLobby](t, player)
	expect[protocol.RoomsEmpty](t, waiter)
}
