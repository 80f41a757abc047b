// Package room implements the per-room state machine: world claims,
// the client registry, and the item queue synchronization engine.
package room

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"errors"
	"sort"
	"sync"
	"time"

	"itemlink.gg/internal/metrics"
	"itemlink.gg/internal/protocol"
)

// ConnID identifies one live connection for the lifetime of the
// process. Ids are never reused.
type ConnID uint64

// MessageWriter is the outbound half of one connection. Implementations
// serialize their own writes so a room broadcast can call them while
// another goroutine is pinging the same client.
type MessageWriter interface {
	WriteMessage(msg protocol.ServerMessage) error
}

// Eviction tells a session it was removed from its room and should
// return to the lobby.
type Eviction struct {
	// Kicked is set when an admin or room owner removed the client,
	// rather than the room being deleted.
	Kicked bool
}

var (
	ErrNotInRoom      = errors.New("connection is not in this room")
	ErrNoClaimedWorld = errors.New("connection has not claimed a world")
	ErrRoomDeleted    = errors.New("room has been deleted")
)

type client struct {
	writer   MessageWriter
	evict    chan<- Eviction
	player   *protocol.Player
	saveData []byte
}

// Room owns its client map and item queues. One RWMutex guards the
// whole struct; every mutating operation holds the write lock for its
// full duration, which is what makes claim exclusivity and queue dedup
// atomic.
type Room struct {
	ID   uint64
	Name string

	mu           sync.RWMutex
	passwordHash [sha512.Size]byte
	passwordSalt [16]byte
	open         bool // no password set

	clients map[ConnID]*client

	baseQueue    []protocol.Item
	playerQueues map[protocol.World][]protocol.Item
	// delivered[w] counts how many entries of playerQueues[w] have
	// already reached a live claimant of w, either by GetItem or by an
	// ItemQueue replay. Claiming a world replays everything past the
	// watermark, so a disconnect loses nothing and an immediate
	// re-claim replays nothing.
	delivered map[protocol.World]int

	// waiting tracks connections that were refused a world claim with
	// WorldTaken; each gets WorldFreed when that world frees up. Not
	// persisted: the waiters are live connections.
	waiting map[protocol.World]map[ConnID]struct{}

	fileHash        *protocol.HashIcons
	progressive     map[protocol.World]uint32
	dungeonRewards  map[dungeonRewardKey]uint8
	lastSaved       time.Time
	autoDeleteDelta time.Duration
	deleted         bool

	// onChange is invoked after the lock is released whenever state
	// worth persisting or re-arming timers for has changed.
	onChange func(*Room)
}

type dungeonRewardKey struct {
	world  protocol.World
	reward uint8
}

// New creates an empty room. An empty password leaves the room open.
func New(id uint64, name, password string, autoDeleteDelta time.Duration, now time.Time) *Room {
	r := &Room{
		ID:              id,
		Name:            name,
		clients:         make(map[ConnID]*client),
		waiting:         make(map[protocol.World]map[ConnID]struct{}),
		playerQueues:    make(map[protocol.World][]protocol.Item),
		delivered:       make(map[protocol.World]int),
		progressive:     make(map[protocol.World]uint32),
		dungeonRewards:  make(map[dungeonRewardKey]uint8),
		lastSaved:       now,
		autoDeleteDelta: autoDeleteDelta,
	}
	r.setPassword(password)
	return r
}

func (r *Room) setPassword(password string) {
	if password == "" {
		r.open = true
		return
	}
	if _, err := rand.Read(r.passwordSalt[:]); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(err)
	}
	r.passwordHash = hashPassword(password, r.passwordSalt)
}

func hashPassword(password string, salt [16]byte) [sha512.Size]byte {
	h := sha512.New()
	h.Write(salt[:])
	h.Write([]byte(password))
	var out [sha512.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// CheckPassword reports whether password unlocks the room. Comparison
// is constant time.
func (r *Room) CheckPassword(password *string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.open {
		return true
	}
	if password == nil {
		return false
	}
	got := hashPassword(*password, r.passwordSalt)
	return subtle.ConstantTimeCompare(got[:], r.passwordHash[:]) == 1
}

// PasswordRequired reports whether joining needs a password.
func (r *Room) PasswordRequired() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.open
}

// AddClient registers a connection and sends it the room roster. The
// other clients observe ClientConnected. evict receives at most one
// notice if the room later removes the connection on its own (kick or
// room deletion).
func (r *Room) AddClient(id ConnID, w MessageWriter, evict chan<- Eviction) error {
	r.mu.Lock()
	if r.deleted {
		r.mu.Unlock()
		return ErrRoomDeleted
	}
	if len(r.clients) >= protocol.MaxClientsPerRoom {
		r.mu.Unlock()
		return protocol.ErrRoomFull
	}
	r.writeAllLocked(protocol.ClientConnected{})
	r.clients[id] = &client{writer: w, evict: evict}
	enter := protocol.EnterRoom{
		RoomID:               r.ID,
		Players:              r.playersLocked(),
		NumUnassignedClients: r.numUnassignedLocked(),
		AutoDeleteDelta:      r.autoDeleteDelta,
	}
	r.writeToLocked(id, enter)
	r.mu.Unlock()
	r.changed()
	return nil
}

// RemoveClient drops a connection that went away on its own. The rest
// of the room observes PlayerDisconnected or
// UnregisteredClientDisconnected.
func (r *Room) RemoveClient(id ConnID) {
	r.mu.Lock()
	r.removeClientLocked(id, false)
	r.mu.Unlock()
	r.changed()
}

// removeClientLocked deletes the client and broadcasts its departure.
// The client leaves the map before the broadcast, so a nested write
// failure can never re-enter it.
func (r *Room) removeClientLocked(id ConnID, evict bool) {
	c, ok := r.clients[id]
	if !ok {
		return
	}
	delete(r.clients, id)
	if evict && c.evict != nil {
		select {
		case c.evict <- Eviction{Kicked: true}:
		default:
		}
	}
	for _, waiters := range r.waiting {
		delete(waiters, id)
	}
	if c.player != nil {
		r.writeAllLocked(protocol.PlayerDisconnected{World: c.player.World})
		r.worldFreedLocked(c.player.World)
	} else {
		r.writeAllLocked(protocol.UnregisteredClientDisconnected{})
	}
}

// worldFreedLocked notifies everyone whose claim on world was refused
// that the world is claimable again.
func (r *Room) worldFreedLocked(world protocol.World) {
	waiters := r.waiting[world]
	if len(waiters) == 0 {
		return
	}
	delete(r.waiting, world)
	for id := range waiters {
		r.writeToLocked(id, protocol.WorldFreed{})
	}
}

// writeAllLocked delivers one logical event to every client at most
// once, tracked by a per-pass notified set. A failed write removes
// that client mid-pass, which broadcasts its disconnect as a separate
// event; the map is re-scanned after each write so clients removed by
// nested passes are skipped. Recursion terminates because every
// removal shrinks the map.
func (r *Room) writeAllLocked(msg protocol.ServerMessage) {
	r.writeAllExceptLocked(0, msg)
}

// writeAllExceptLocked is writeAllLocked minus one connection, for
// events the originator should not echo back. ConnID zero is never
// allocated.
func (r *Room) writeAllExceptLocked(except ConnID, msg protocol.ServerMessage) {
	notified := make(map[ConnID]bool)
	if except != 0 {
		notified[except] = true
	}
	for {
		var next ConnID
		found := false
		for id := range r.clients {
			if !notified[id] {
				next, found = id, true
				break
			}
		}
		if !found {
			return
		}
		notified[next] = true
		if err := r.clients[next].writer.WriteMessage(msg); err != nil {
			metrics.BroadcastWriteFailures.Inc()
			r.removeClientLocked(next, false)
		}
	}
}

// writeToLocked writes msg to one client. Write failure means the
// client is gone.
func (r *Room) writeToLocked(id ConnID, msg protocol.ServerMessage) {
	c, ok := r.clients[id]
	if !ok {
		return
	}
	if err := c.writer.WriteMessage(msg); err != nil {
		metrics.BroadcastWriteFailures.Inc()
		r.removeClientLocked(id, false)
	}
}

func (r *Room) playersLocked() []protocol.Player {
	players := make([]protocol.Player, 0, len(r.clients))
	for _, c := range r.clients {
		if c.player != nil {
			players = append(players, *c.player)
		}
	}
	sort.Slice(players, func(i, j int) bool { return players[i].World < players[j].World })
	return players
}

func (r *Room) numUnassignedLocked() uint8 {
	var n uint8
	for _, c := range r.clients {
		if c.player == nil {
			n++
		}
	}
	return n
}

// LoadPlayer claims world for the connection. A claim held by another
// live connection wins: the caller gets WorldTaken and nothing
// changes. On success the claim is broadcast and the caller alone
// receives the undelivered portion of the world's item queue.
func (r *Room) LoadPlayer(id ConnID, world protocol.World) (bool, error) {
	if !world.Valid() {
		return false, ErrNoClaimedWorld
	}
	r.mu.Lock()
	c, ok := r.clients[id]
	if !ok {
		r.mu.Unlock()
		return false, ErrNotInRoom
	}
	if c.player != nil && c.player.World == world {
		r.mu.Unlock()
		return true, nil
	}
	for otherID, other := range r.clients {
		if otherID != id && other.player != nil && other.player.World == world {
			if r.waiting[world] == nil {
				r.waiting[world] = make(map[ConnID]struct{})
			}
			r.waiting[world][id] = struct{}{}
			r.writeToLocked(id, protocol.WorldTaken{World: world})
			r.mu.Unlock()
			return false, nil
		}
	}
	for _, waiters := range r.waiting {
		delete(waiters, id)
	}
	if c.player != nil {
		old := c.player.World
		name := c.player.Name
		c.player = nil
		r.writeAllLocked(protocol.ResetPlayerID{World: old})
		r.worldFreedLocked(old)
		// The rename survives the world switch.
		p := protocol.NewPlayer(world)
		p.Name = name
		c.player = &p
	} else {
		p := protocol.NewPlayer(world)
		c.player = &p
	}
	r.writeAllLocked(protocol.PlayerID{World: world})

	queue := r.queueLocked(world)
	if pending := queue[r.delivered[world]:]; len(pending) > 0 {
		kinds := make([]uint16, len(pending))
		for i, item := range pending {
			kinds[i] = item.Kind
		}
		r.writeToLocked(id, protocol.ItemQueue{Kinds: kinds})
	}
	r.delivered[world] = len(queue)

	// Catch the claimant up on the other worlds' progressive state.
	for w, state := range r.progressive {
		if w != world && state != 0 {
			r.writeToLocked(id, protocol.ProgressiveItems{World: w, State: state})
		}
	}
	r.mu.Unlock()
	r.changed()
	return true, nil
}

// queueLocked returns world's queue, materializing it from baseQueue
// on first touch.
func (r *Room) queueLocked(world protocol.World) []protocol.Item {
	if q, ok := r.playerQueues[world]; ok {
		return q
	}
	q := make([]protocol.Item, len(r.baseQueue))
	copy(q, r.baseQueue)
	r.playerQueues[world] = q
	return q
}

// UnloadPlayer releases the connection's world claim, if any. The
// delivery watermark is kept so a re-claim replays only what arrived
// in between.
func (r *Room) UnloadPlayer(id ConnID) {
	r.mu.Lock()
	c, ok := r.clients[id]
	if !ok || c.player == nil {
		r.mu.Unlock()
		return
	}
	old := c.player.World
	c.player = nil
	r.writeAllLocked(protocol.ResetPlayerID{World: old})
	r.worldFreedLocked(old)
	r.mu.Unlock()
	r.changed()
}

// SetPlayerName records and broadcasts the connection's save file
// name. The connection must hold a world.
func (r *Room) SetPlayerName(id ConnID, name protocol.Filename) error {
	r.mu.Lock()
	c, ok := r.clients[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotInRoom
	}
	if c.player == nil {
		r.mu.Unlock()
		return ErrNoClaimedWorld
	}
	c.player.Name = name
	world := c.player.World
	r.writeAllLocked(protocol.PlayerName{World: world, Name: name})
	r.mu.Unlock()
	r.changed()
	return nil
}

// SetFileHash checks the reported seed hash against the room's. The
// first report fixes the room hash; a conflicting later report is
// rejected with WrongFileHash and reported false so the session can
// put the client back in the lobby.
func (r *Room) SetFileHash(id ConnID, hash protocol.HashIcons) (bool, error) {
	r.mu.Lock()
	c, ok := r.clients[id]
	if !ok {
		r.mu.Unlock()
		return false, ErrNotInRoom
	}
	if r.fileHash != nil && *r.fileHash != hash {
		server := *r.fileHash
		r.writeToLocked(id, protocol.WrongFileHash{Server: server, Client: hash})
		r.mu.Unlock()
		return false, nil
	}
	if r.fileHash == nil {
		h := hash
		r.fileHash = &h
	}
	if c.player != nil {
		c.player.FileHash = &hash
		r.writeAllLocked(protocol.PlayerFileHash{World: c.player.World, Hash: hash})
	}
	r.mu.Unlock()
	r.changed()
	return true, nil
}

// QueueItem runs the item synchronization algorithm. Duplicate
// (source world, key) submissions are dropped. The reserved broadcast
// kind goes into the base queue and every materialized player queue;
// anything else goes to the target world's queue alone, and an item a
// player found in their own world is dropped outright. Clients
// currently holding an affected world (other than the source) get one
// GetItem notification.
func (r *Room) QueueItem(id ConnID, key uint64, kind uint16, target protocol.World) error {
	r.mu.Lock()
	c, ok := r.clients[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotInRoom
	}
	if c.player == nil {
		r.mu.Unlock()
		return ErrNoClaimedWorld
	}
	source := c.player.World
	item := protocol.Item{Source: source, Key: key, Kind: kind}

	if kind == protocol.TriforcePiece {
		if containsItem(r.baseQueue, source, key) {
			metrics.ItemsDeduplicated.Inc()
			r.mu.Unlock()
			return nil
		}
		r.baseQueue = append(r.baseQueue, item)
		for w := range r.playerQueues {
			r.playerQueues[w] = append(r.playerQueues[w], item)
		}
		// The source already owns its own piece; mark it delivered so
		// a later re-claim does not replay it.
		if _, ok := r.playerQueues[source]; ok {
			r.delivered[source] = len(r.playerQueues[source])
		}
		for otherID, other := range r.clients {
			if other.player != nil && other.player.World != source {
				w := other.player.World
				r.writeToLocked(otherID, protocol.GetItem{Kind: kind})
				if _, still := r.clients[otherID]; still {
					r.delivered[w] = len(r.playerQueues[w])
				}
			}
		}
	} else if target == source {
		// The sender already holds its own pickup; queueing it would
		// hand it back a second time.
		r.mu.Unlock()
		return nil
	} else {
		queue := r.queueLocked(target)
		if containsItem(queue, source, key) {
			metrics.ItemsDeduplicated.Inc()
			r.mu.Unlock()
			return nil
		}
		r.playerQueues[target] = append(queue, item)
		for otherID, other := range r.clients {
			if other.player != nil && other.player.World == target {
				r.writeToLocked(otherID, protocol.GetItem{Kind: kind})
				if _, still := r.clients[otherID]; still {
					r.delivered[target] = len(r.playerQueues[target])
				}
				break
			}
		}
	}
	metrics.ItemsQueued.Inc()
	r.mu.Unlock()
	r.changed()
	return nil
}

func containsItem(queue []protocol.Item, source protocol.World, key uint64) bool {
	for _, item := range queue {
		if item.Source == source && item.Key == key {
			return true
		}
	}
	return false
}

// SetSaveData stores the client's save blob and refreshes the room's
// last-saved time, which feeds autodelete and the restart
// coordinator's activity predicate.
func (r *Room) SetSaveData(id ConnID, data []byte, now time.Time) error {
	if len(data) != protocol.SaveDataSize {
		return errors.New("save data has wrong size")
	}
	r.mu.Lock()
	c, ok := r.clients[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotInRoom
	}
	c.saveData = data
	r.lastSaved = now
	r.mu.Unlock()
	metrics.SavesTotal.Inc()
	r.changed()
	return nil
}

// SetProgressiveItems records the sender's progressive item state and
// broadcasts it to the rest of the room.
func (r *Room) SetProgressiveItems(id ConnID, state uint32) error {
	r.mu.Lock()
	c, ok := r.clients[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotInRoom
	}
	if c.player == nil {
		r.mu.Unlock()
		return ErrNoClaimedWorld
	}
	world := c.player.World
	r.progressive[world] = state
	r.writeAllExceptLocked(id, protocol.ProgressiveItems{World: world, State: state})
	r.mu.Unlock()
	r.changed()
	return nil
}

// SetDungeonReward records a reward location report for auto-tracking.
func (r *Room) SetDungeonReward(id ConnID, reward uint8, world protocol.World, area uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return ErrNotInRoom
	}
	r.dungeonRewards[dungeonRewardKey{world: world, reward: reward}] = area
	return nil
}

// SetAutoDeleteDelta changes the idle lifetime and announces it to the
// room.
func (r *Room) SetAutoDeleteDelta(delta time.Duration) {
	r.mu.Lock()
	r.autoDeleteDelta = delta
	r.writeAllLocked(protocol.AutoDeleteDelta{Delta: delta})
	r.mu.Unlock()
	r.changed()
}

// Kick removes the connection holding world and sends it back to the
// lobby. Reports whether any client held the world.
func (r *Room) Kick(world protocol.World) bool {
	r.mu.Lock()
	var target ConnID
	found := false
	for id, c := range r.clients {
		if c.player != nil && c.player.World == world {
			target, found = id, true
			break
		}
	}
	if found {
		r.removeClientLocked(target, true)
	}
	r.mu.Unlock()
	if found {
		r.changed()
	}
	return found
}

// Delete evicts every client and marks the room dead. Further
// AddClient calls fail with ErrRoomDeleted.
func (r *Room) Delete() {
	r.mu.Lock()
	for id, c := range r.clients {
		if c.evict != nil {
			select {
			case c.evict <- Eviction{}:
			default:
			}
		}
		delete(r.clients, id)
	}
	r.deleted = true
	r.mu.Unlock()
	r.changed()
}

// Broadcast writes msg to every client. Used for lobby-independent
// announcements such as maintenance notices.
func (r *Room) Broadcast(msg protocol.ServerMessage) {
	r.mu.Lock()
	r.writeAllLocked(msg)
	r.mu.Unlock()
}

// Players returns the current roster.
func (r *Room) Players() []protocol.Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.playersLocked()
}

// NumClients returns how many connections are in the room.
func (r *Room) NumClients() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Summary builds the admin view of the room.
func (r *Room) Summary() protocol.RoomSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return protocol.RoomSummary{
		Name:                 r.Name,
		Players:              r.playersLocked(),
		NumUnassignedClients: r.numUnassignedLocked(),
	}
}

// Activity reports the signals the autodelete sweep and the restart
// coordinator work from: when the room last saved, its idle lifetime,
// and whether any connection holds a world.
func (r *Room) Activity() (lastSaved time.Time, delta time.Duration, claimed bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		if c.player != nil {
			claimed = true
			break
		}
	}
	return r.lastSaved, r.autoDeleteDelta, claimed
}

// HasClaimedPlayer reports whether any connection holds a world.
func (r *Room) HasClaimedPlayer() bool {
	_, _, claimed := r.Activity()
	return claimed
}

func (r *Room) changed() {
	if r.onChange != nil {
		r.onChange(r)
	}
}

// SetOnChange installs the registry's change hook. Must be called
// before the room is shared.
func (r *Room) SetOnChange(fn func(*Room)) { r.onChange = fn }
