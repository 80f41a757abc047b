package room

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"itemlink.gg/internal/metrics"
	"itemlink.gg/internal/protocol"
)

// Store persists room snapshots. The registry calls it best-effort on
// every state change; failures are logged, never fatal.
type Store interface {
	SaveRoom(s State) error
	DeleteRoom(id uint64) error
}

// Registry is the concurrent room directory. It also tracks lobby
// sessions so they see NewRoom/DeleteRoom deltas, and exposes the
// emptiness and activity signals the restart coordinator drains on.
type Registry struct {
	log   *zap.SugaredLogger
	store Store

	mu      sync.RWMutex
	rooms   map[uint64]*Room
	byName  map[string]uint64
	nextID  uint64
	lobbies map[ConnID]MessageWriter
	// changed is closed and replaced on every state change; waiters
	// grab the current channel, re-check their predicate, and block on
	// it. Wakeups are broadcast, spurious ones are fine.
	changed chan struct{}

	now func() time.Time
}

// NewRegistry builds an empty registry. store may be nil for tests.
func NewRegistry(log *zap.SugaredLogger, store Store) *Registry {
	return &Registry{
		log:     log,
		store:   store,
		rooms:   make(map[uint64]*Room),
		byName:  make(map[string]uint64),
		nextID:  1,
		lobbies: make(map[ConnID]MessageWriter),
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

// Restore loads persisted rooms at startup. Ids continue past the
// highest restored id.
func (g *Registry) Restore(states []State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range states {
		r := FromState(s)
		r.SetOnChange(g.roomChanged)
		g.rooms[r.ID] = r
		g.byName[r.Name] = r.ID
		if r.ID >= g.nextID {
			g.nextID = r.ID + 1
		}
	}
	metrics.RoomsOpen.Set(float64(len(g.rooms)))
}

// Create makes a new room, subscribes nobody, and announces it to
// lobby sessions. Validation errors come back as structured server
// errors.
func (g *Registry) Create(name, password string, autoDeleteDelta time.Duration) (*Room, error) {
	if name == "" {
		return nil, protocol.ErrRoomNameEmpty
	}
	if len(name) > protocol.MaxRoomNameLen {
		return nil, protocol.ErrRoomNameTooLong
	}
	if strings.ContainsRune(name, 0) {
		return nil, protocol.ErrRoomNameInvalid
	}
	if len(password) > protocol.MaxPasswordLen {
		return nil, protocol.ErrPasswordTooLong
	}
	if strings.ContainsRune(password, 0) {
		return nil, protocol.ErrPasswordInvalid
	}
	g.mu.Lock()
	if _, exists := g.byName[name]; exists {
		g.mu.Unlock()
		return nil, protocol.ErrRoomExists
	}
	id := g.nextID
	g.nextID++
	r := New(id, name, password, autoDeleteDelta, g.now())
	r.SetOnChange(g.roomChanged)
	g.rooms[id] = r
	g.byName[name] = id
	announce := protocol.NewRoom{ID: id, Name: name, PasswordRequired: r.PasswordRequired()}
	g.broadcastLobbyLocked(announce)
	metrics.RoomsOpen.Set(float64(len(g.rooms)))
	g.mu.Unlock()
	g.markChanged()
	g.persist(r)
	return r, nil
}

// Lookup finds a room by id.
func (g *Registry) Lookup(id uint64) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[id]
	return r, ok
}

// LookupName finds a room by name, for the legacy transport.
func (g *Registry) LookupName(name string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return g.rooms[id], true
}

// Delete tears the room down, evicts its clients, removes the
// persisted row, and announces the deletion to lobby sessions.
func (g *Registry) Delete(id uint64) bool {
	g.mu.Lock()
	r, ok := g.rooms[id]
	if !ok {
		g.mu.Unlock()
		return false
	}
	delete(g.rooms, id)
	delete(g.byName, r.Name)
	g.broadcastLobbyLocked(protocol.DeleteRoom{ID: id, Name: r.Name})
	metrics.RoomsOpen.Set(float64(len(g.rooms)))
	g.mu.Unlock()

	r.Delete()
	if g.store != nil {
		if err := g.store.DeleteRoom(id); err != nil {
			g.log.Warnw("delete persisted room", "room", r.Name, "err", err)
		}
	}
	g.markChanged()
	return true
}

// Directory builds the lobby room list.
func (g *Registry) Directory() map[uint64]protocol.RoomEntry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[uint64]protocol.RoomEntry, len(g.rooms))
	for id, r := range g.rooms {
		out[id] = protocol.RoomEntry{Name: r.Name, PasswordRequired: r.PasswordRequired()}
	}
	return out
}

// Summaries builds the admin room overview.
func (g *Registry) Summaries() map[uint64]protocol.RoomSummary {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()
	out := make(map[uint64]protocol.RoomSummary, len(rooms))
	for _, r := range rooms {
		out[r.ID] = r.Summary()
	}
	return out
}

// SubscribeLobby registers a session for NewRoom/DeleteRoom deltas.
func (g *Registry) SubscribeLobby(id ConnID, w MessageWriter) {
	g.mu.Lock()
	g.lobbies[id] = w
	g.mu.Unlock()
}

// UnsubscribeLobby drops a lobby session. Safe to call when the
// session already moved into a room or disconnected.
func (g *Registry) UnsubscribeLobby(id ConnID) {
	g.mu.Lock()
	delete(g.lobbies, id)
	g.mu.Unlock()
}

func (g *Registry) broadcastLobbyLocked(msg protocol.ServerMessage) {
	for id, w := range g.lobbies {
		if err := w.WriteMessage(msg); err != nil {
			delete(g.lobbies, id)
		}
	}
}

// BroadcastAll writes msg to every lobby session and every client in
// every room. Used for maintenance notices.
func (g *Registry) BroadcastAll(msg protocol.ServerMessage) {
	g.mu.Lock()
	g.broadcastLobbyLocked(msg)
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.Unlock()
	for _, r := range rooms {
		r.Broadcast(msg)
	}
}

// Empty reports whether no room has a client holding a world. An
// unassigned lurker does not count: the drain waits for claimed
// players, not for every socket to close.
func (g *Registry) Empty() bool {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()
	for _, r := range rooms {
		if r.HasClaimedPlayer() {
			return false
		}
	}
	return true
}

// RoomActivity is one row of the restart coordinator's active-room
// report.
type RoomActivity struct {
	Name      string
	LastSaved time.Time
	Players   int
}

// ActiveRooms lists rooms that count as active: a claimed player and a
// save within maxIdle. The predicate deliberately conflates "recently
// saved" with "has players"; it approximates activity well enough for
// drain decisions.
func (g *Registry) ActiveRooms(maxIdle time.Duration) []RoomActivity {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()
	now := g.now()
	var out []RoomActivity
	for _, r := range rooms {
		lastSaved, _, claimed := r.Activity()
		if claimed && now.Sub(lastSaved) < maxIdle {
			out = append(out, RoomActivity{
				Name:      r.Name,
				LastSaved: lastSaved,
				Players:   len(r.Players()),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Changed returns a channel closed on the next registry or room state
// change. Callers re-check their predicate after each wakeup.
func (g *Registry) Changed() <-chan struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.changed
}

// WaitUntilEmpty blocks until no claimed players remain anywhere or
// ctx ends.
func (g *Registry) WaitUntilEmpty(ctx context.Context) error {
	for {
		ch := g.Changed()
		if g.Empty() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// WaitUntilInactive blocks until no room passes the activity
// predicate, reporting the current active set to report after every
// change. report may be nil.
func (g *Registry) WaitUntilInactive(ctx context.Context, maxIdle time.Duration, report func([]RoomActivity)) error {
	for {
		ch := g.Changed()
		active := g.ActiveRooms(maxIdle)
		if len(active) == 0 {
			return nil
		}
		if report != nil {
			report(active)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		case <-time.After(maxIdle / 60):
			// The predicate also changes by saves aging out, which
			// closes no channel. Re-check periodically.
		}
	}
}

// RunAutoDelete deletes rooms whose idle lifetime expired with no
// claimed players, waking at the earliest pending deadline.
func (g *Registry) RunAutoDelete(ctx context.Context) {
	for {
		next := g.sweep()
		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		case <-g.Changed():
		}
	}
}

// sweep deletes expired rooms and returns the earliest upcoming
// deadline, or a far-future time when nothing is pending.
func (g *Registry) sweep() time.Time {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()

	now := g.now()
	next := now.Add(24 * time.Hour)
	for _, r := range rooms {
		lastSaved, delta, claimed := r.Activity()
		if delta <= 0 {
			continue
		}
		deadline := lastSaved.Add(delta)
		if !deadline.After(now) && !claimed && r.NumClients() == 0 {
			g.log.Infow("autodelete room", "room", r.Name, "last_saved", lastSaved)
			g.Delete(r.ID)
			continue
		}
		if deadline.After(now) && deadline.Before(next) {
			next = deadline
		}
	}
	return next
}

// SaveAll persists every room, used at shutdown.
func (g *Registry) SaveAll() {
	if g.store == nil {
		return
	}
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()
	for _, r := range rooms {
		g.persist(r)
	}
}

func (g *Registry) roomChanged(r *Room) {
	g.markChanged()
	g.persist(r)
}

func (g *Registry) persist(r *Room) {
	if g.store == nil {
		return
	}
	if err := g.store.SaveRoom(r.Snapshot()); err != nil {
		g.log.Warnw("persist room", "room", r.Name, "err", err)
	}
}

func (g *Registry) markChanged() {
	g.mu.Lock()
	close(g.changed)
	g.changed = make(chan struct{})
	g.mu.Unlock()
}
