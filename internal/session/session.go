// Package session runs the per-connection state machine: lobby phase
// (login, room directory, create/join) and room phase (claims, items,
// saves), one goroutine per connection plus a reader pump.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"itemlink.gg/internal/protocol"
	"itemlink.gg/internal/room"
)

// Conn is one transport connection with its wire generation already
// bound. Read blocks for the next decoded frame; Write is not safe for
// concurrent use, the session serializes it.
type Conn interface {
	Read() (protocol.ClientMessage, error)
	Write(msg protocol.ServerMessage) error
	Close() error
	RemoteAddr() string
}

// Identity is the opaque signed-in identity carried through a session.
type Identity struct {
	Name  string
	Admin bool
}

// Auth errors mapped to structured server errors.
var (
	ErrNoSuchAccountDiscord  = errors.New("no such discord account")
	ErrNoSuchAccountRaceTime = errors.New("no such racetime account")
	ErrSessionExpired        = errors.New("session expired")
)

// Authenticator resolves login credentials. Provider flows are
// external; implementations only validate tokens.
type Authenticator interface {
	APIKey(key string) (Identity, error)
	Discord(bearerToken string) (Identity, error)
	RaceTime(bearerToken string) (Identity, error)
}

// DenyAll rejects every login. The default when no auth backend is
// configured.
type DenyAll struct{}

func (DenyAll) APIKey(string) (Identity, error)   { return Identity{}, ErrSessionExpired }
func (DenyAll) Discord(string) (Identity, error)  { return Identity{}, ErrNoSuchAccountDiscord }
func (DenyAll) RaceTime(string) (Identity, error) { return Identity{}, ErrNoSuchAccountRaceTime }

// StaticKeys authenticates API keys against a fixed table. Used for
// the operator account and in tests.
type StaticKeys map[string]Identity

func (s StaticKeys) APIKey(key string) (Identity, error) {
	id, ok := s[key]
	if !ok {
		return Identity{}, ErrSessionExpired
	}
	return id, nil
}

func (s StaticKeys) Discord(string) (Identity, error)  { return Identity{}, ErrNoSuchAccountDiscord }
func (s StaticKeys) RaceTime(string) (Identity, error) { return Identity{}, ErrNoSuchAccountRaceTime }

// Server holds what every session shares.
type Server struct {
	Log               *zap.SugaredLogger
	Rooms             *room.Registry
	Auth              Authenticator
	DefaultAutoDelete time.Duration
	PingInterval      time.Duration
	// OnStop is invoked when an admin session sends Stop. Optional.
	OnStop func()

	nextConn atomic.Uint64
}

// NextConnID allocates a process-unique connection id, starting at 1.
func (s *Server) NextConnID() room.ConnID {
	return room.ConnID(s.nextConn.Add(1))
}

// lockedWriter serializes all writes to one connection so room
// broadcasts, pings, and direct replies never interleave frames.
type lockedWriter struct {
	mu   sync.Mutex
	conn Conn
}

func (w *lockedWriter) WriteMessage(msg protocol.ServerMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Write(msg)
}

type session struct {
	srv    *Server
	id     room.ConnID
	conn   Conn
	writer *lockedWriter
	log    *zap.SugaredLogger

	identity *Identity
	room     *room.Room
	evict    chan room.Eviction

	// createLimiter throttles CreateRoom per connection.
	createLimiter *rate.Limiter
}

// errClose signals a clean, deliberate connection teardown.
var errClose = errors.New("session closed")

// Handle drives one connection until it disconnects or ctx ends.
func (s *Server) Handle(ctx context.Context, conn Conn) {
	auth := s.Auth
	if auth == nil {
		auth = DenyAll{}
	}
	sess := &session{
		srv:           s,
		id:            s.NextConnID(),
		conn:          conn,
		writer:        &lockedWriter{conn: conn},
		evict:         make(chan room.Eviction, 1),
		createLimiter: rate.NewLimiter(rate.Every(10*time.Second), 3),
	}
	sess.log = s.Log.With("conn", sess.id, "remote", conn.RemoteAddr())
	sess.run(ctx, auth)
}

func (s *session) run(parent context.Context, auth Authenticator) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer s.conn.Close()
	defer s.leaveEverything()

	s.enterLobby()

	msgs := make(chan protocol.ClientMessage)
	readErr := make(chan error, 1)
	go func() {
		for {
			msg, err := s.conn.Read()
			if err != nil {
				readErr <- err
				close(msgs)
				return
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	interval := s.srv.PingInterval
	if interval <= 0 {
		interval = protocol.PingInterval
	}
	ping := time.NewTicker(interval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.writer.WriteMessage(protocol.Goodbye{})
			return
		case <-ping.C:
			if err := s.writer.WriteMessage(protocol.Ping{}); err != nil {
				return
			}
		case ev := <-s.evict:
			// Stale notice if the session already left on its own.
			if s.room == nil {
				continue
			}
			s.room = nil
			if ev.Kicked {
				s.log.Infow("kicked from room")
			}
			s.enterLobby()
		case msg, ok := <-msgs:
			if !ok {
				err := <-readErr
				var retired *protocol.RetiredMessageError
				if errors.As(err, &retired) {
					_ = s.writer.WriteMessage(protocol.OtherError{Message: retired.Error()})
				}
				s.log.Debugw("read loop ended", "err", err)
				return
			}
			if err := s.dispatch(ctx, auth, msg); err != nil {
				if !errors.Is(err, errClose) {
					s.fatal(err)
				}
				return
			}
		}
	}
}

// fatal reports an unexpected condition to the client before the
// connection is closed. Never silently swallowed.
func (s *session) fatal(err error) {
	s.log.Warnw("session error", "err", err)
	_ = s.writer.WriteMessage(protocol.OtherError{Message: err.Error()})
}

func (s *session) leaveEverything() {
	s.srv.Rooms.UnsubscribeLobby(s.id)
	if r := s.room; r != nil {
		s.room = nil
		r.RemoveClient(s.id)
	}
}

func (s *session) enterLobby() {
	s.srv.Rooms.SubscribeLobby(s.id, s.writer)
	_ = s.writer.WriteMessage(protocol.EnterLobby{Rooms: s.srv.Rooms.Directory()})
}

func (s *session) dispatch(ctx context.Context, auth Authenticator, msg protocol.ClientMessage) error {
	if s.room != nil {
		return s.dispatchRoom(msg)
	}
	return s.dispatchLobby(ctx, auth, msg)
}

func (s *session) dispatchLobby(ctx context.Context, auth Authenticator, msg protocol.ClientMessage) error {
	switch m := msg.(type) {
	case protocol.Ping:
		return nil
	case protocol.JoinRoom:
		return s.joinRoom(m)
	case protocol.CreateRoom:
		return s.createRoom(m)
	case protocol.LoginApiKey:
		id, err := auth.APIKey(m.APIKey)
		if err != nil {
			// No structured code covers a bad API key; the provider
			// expiry codes would mislead here.
			return s.other("invalid API key")
		}
		return s.loginSucceeded(id)
	case protocol.LoginDiscord:
		id, err := auth.Discord(m.BearerToken)
		return s.login(id, err, protocol.ErrSessionExpiredDiscord)
	case protocol.LoginRaceTime:
		id, err := auth.RaceTime(m.BearerToken)
		return s.login(id, err, protocol.ErrSessionExpiredRaceTime)
	case protocol.Stop:
		return s.stop()
	case protocol.WaitUntilEmpty:
		if s.identity == nil || !s.identity.Admin {
			return s.other("wait until empty requires an admin login")
		}
		go s.notifyWhenEmpty(ctx)
		return nil
	default:
		return fmt.Errorf("unexpected message in lobby: %T", msg)
	}
}

func (s *session) dispatchRoom(msg protocol.ClientMessage) error {
	r := s.room
	switch m := msg.(type) {
	case protocol.Ping:
		return nil
	case protocol.PlayerID:
		_, err := r.LoadPlayer(s.id, m.World)
		return err
	case protocol.ResetPlayerID:
		r.UnloadPlayer(s.id)
		return nil
	case protocol.PlayerName:
		return r.SetPlayerName(s.id, m.Name)
	case protocol.SendItem:
		return r.QueueItem(s.id, m.Key, m.Kind, m.TargetWorld)
	case protocol.KickPlayer:
		r.Kick(m.World)
		return nil
	case protocol.DeleteRoom:
		s.room = nil
		s.srv.Rooms.Delete(r.ID)
		s.enterLobby()
		return nil
	case protocol.LeaveRoom:
		s.room = nil
		r.RemoveClient(s.id)
		s.enterLobby()
		return nil
	case protocol.SaveData:
		return r.SetSaveData(s.id, m.Data, time.Now())
	case protocol.SaveDataError:
		s.log.Warnw("client save data error", "debug", m.Debug, "client_version", m.Version)
		return nil
	case protocol.FileHash:
		ok, err := r.SetFileHash(s.id, m.Hash)
		if err != nil {
			return err
		}
		if !ok {
			// Wrong seed: back to the lobby.
			s.room = nil
			r.RemoveClient(s.id)
			s.enterLobby()
		}
		return nil
	case protocol.AutoDeleteDelta:
		r.SetAutoDeleteDelta(m.Delta)
		return nil
	case protocol.ProgressiveItems:
		return r.SetProgressiveItems(s.id, m.State)
	case protocol.DungeonRewardInfo:
		return r.SetDungeonReward(s.id, m.Reward, m.World, m.Area)
	case protocol.CurrentScene:
		// Scene reports are informational only.
		return nil
	case protocol.Stop:
		return s.stop()
	default:
		return fmt.Errorf("unexpected message in room: %T", msg)
	}
}

func (s *session) joinRoom(m protocol.JoinRoom) error {
	var (
		r  *room.Room
		ok bool
	)
	if m.ID != 0 {
		r, ok = s.srv.Rooms.Lookup(m.ID)
	} else {
		r, ok = s.srv.Rooms.LookupName(m.Name)
	}
	if !ok {
		return s.structured(protocol.ErrNoSuchRoom)
	}
	if !r.CheckPassword(m.Password) {
		return s.structured(protocol.ErrWrongPassword)
	}
	return s.enterRoom(r)
}

func (s *session) createRoom(m protocol.CreateRoom) error {
	if !s.createLimiter.Allow() {
		return s.other("room creation rate limit exceeded, slow down")
	}
	r, err := s.srv.Rooms.Create(m.Name, m.Password, s.srv.DefaultAutoDelete)
	if err != nil {
		var code protocol.ServerError
		if errors.As(err, &code) {
			return s.structured(code)
		}
		return err
	}
	return s.enterRoom(r)
}

func (s *session) enterRoom(r *room.Room) error {
	s.srv.Rooms.UnsubscribeLobby(s.id)
	if err := r.AddClient(s.id, s.writer, s.evict); err != nil {
		var code protocol.ServerError
		if errors.As(err, &code) {
			s.srv.Rooms.SubscribeLobby(s.id, s.writer)
			return s.structured(code)
		}
		return err
	}
	s.room = r
	return nil
}

func (s *session) login(id Identity, err error, expired protocol.ServerError) error {
	if err != nil {
		switch {
		case errors.Is(err, ErrNoSuchAccountDiscord):
			return s.structured(protocol.ErrNoSuchAccountDiscord)
		case errors.Is(err, ErrNoSuchAccountRaceTime):
			return s.structured(protocol.ErrNoSuchAccountRaceTime)
		default:
			return s.structured(expired)
		}
	}
	return s.loginSucceeded(id)
}

func (s *session) loginSucceeded(id Identity) error {
	s.identity = &id
	s.log = s.log.With("identity", id.Name)
	if id.Admin {
		return s.writer.WriteMessage(protocol.AdminLoginSuccess{Rooms: s.srv.Rooms.Summaries()})
	}
	return s.writer.WriteMessage(protocol.LoginSuccess{})
}

func (s *session) stop() error {
	if s.identity == nil || !s.identity.Admin {
		return s.other("stop requires an admin login")
	}
	s.log.Infow("admin requested stop")
	if s.srv.OnStop != nil {
		s.srv.OnStop()
	}
	_ = s.writer.WriteMessage(protocol.Goodbye{})
	return errClose
}

func (s *session) notifyWhenEmpty(ctx context.Context) {
	if err := s.srv.Rooms.WaitUntilEmpty(ctx); err != nil {
		return
	}
	_ = s.writer.WriteMessage(protocol.RoomsEmpty{})
}

// structured reports a known error condition and keeps the session
// alive.
func (s *session) structured(code protocol.ServerError) error {
	return s.writer.WriteMessage(protocol.StructuredError{Code: code})
}

// other reports a free-text error and keeps the session alive.
func (s *session) other(text string) error {
	return s.writer.WriteMessage(protocol.OtherError{Message: text})
}
