package room

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"emojitrail/game"
	"emojitrail/logging"
	"emojitrail/protocol"
)

const (
	defaultIdleTimeout = 30 * time.Second
	defaultSweepEvery  = 5 * time.Second
)

type member struct {
	conn     Conn
	data     protocol.PlayerData
	lastSeen time.Time
}

// Room relays session messages between the participants of one room code.
// All state is owned by the Run goroutine; other goroutines talk to it
// through Inbox.
type Room struct {
	Inbox       chan any
	members     map[string]*member
	order       []string
	players     atomic.Int32
	idleTimeout time.Duration
	sweepEvery  time.Duration
	log         *zap.Logger
	quit        chan struct{}
	stopOnce    sync.Once
	created     time.Time

	Code    string            // room code (e.g. "ABC234")
	OnEmpty func(code string) // called when last player leaves
}

type Option func(*Room)

func WithIdleTimeout(d time.Duration) Option { return func(r *Room) { r.idleTimeout = d } }
func WithSweepInterval(d time.Duration) Option {
	return func(r *Room) {
		if d > 0 {
			r.sweepEvery = d
		}
	}
}
func WithLogger(l *zap.Logger) Option { return func(r *Room) { r.log = l } }

func New(opts ...Option) *Room {
	r := &Room{
		Inbox:       make(chan any, 256),
		members:     make(map[string]*member),
		idleTimeout: defaultIdleTimeout,
		sweepEvery:  defaultSweepEvery,
		quit:        make(chan struct{}),
		created:     time.Now(),
	}
	for _, o := range opts {
		o(r)
	}
	r.log = logging.OrGlobal(r.log)
	return r
}

func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
}

// Done is closed once the room stops. Commands posted before then may be
// dropped unanswered.
func (r *Room) Done() <-chan struct{} { return r.quit }

// Post hands cmd to the room loop. It reports false once the room stopped.
func (r *Room) Post(cmd any) bool {
	select {
	case <-r.quit:
		return false
	default:
	}
	select {
	case r.Inbox <- cmd:
		return true
	case <-r.quit:
		return false
	}
}

// NumPlayers returns the current number of connected clients.
func (r *Room) NumPlayers() int {
	return int(r.players.Load())
}

func (r *Room) Run() {
	r.log = r.log.With(zap.String("room", r.Code))
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.quit:
			return
		case cmd := <-r.Inbox:
			r.handleCommand(cmd, time.Now())
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

func (r *Room) handleCommand(cmd any, now time.Time) {
	switch c := cmd.(type) {
	case Join:
		c.Reply <- r.handleJoin(c, now)
	case Relay:
		r.handleRelay(c, now)
	case Touch:
		if m, ok := r.current(c.PlayerID, c.Conn); ok {
			m.lastSeen = now
		}
	case Leave:
		if _, ok := r.current(c.PlayerID, c.Conn); !ok {
			return
		}
		r.evict([]string{c.PlayerID}, "disconnected")
	}
}

func (r *Room) handleJoin(c Join, now time.Time) JoinResult {
	if m, ok := r.members[c.PlayerID]; ok {
		if m.conn != c.Conn {
			_ = m.conn.Close()
		}
		m.conn = c.Conn
		m.lastSeen = now
		if c.Name != "" {
			m.data.Name = c.Name
		}
		r.log.Info("player reconnected", zap.String("player", c.PlayerID))
		r.sendTo(c.PlayerID, r.snapshotFor(c.PlayerID))
		return JoinResult{PlayerID: c.PlayerID, Reconnect: true, Players: len(r.members)}
	}

	m := &member{
		conn:     c.Conn,
		data:     protocol.PlayerData{Name: c.Name, Trail: []game.TrailPoint{}},
		lastSeen: now,
	}
	r.members[c.PlayerID] = m
	r.order = append(r.order, c.PlayerID)
	r.players.Store(int32(len(r.members)))
	r.log.Info("player joined", zap.String("player", c.PlayerID), zap.String("name", c.Name), zap.Int("players", len(r.members)))

	r.sendTo(c.PlayerID, r.snapshotFor(c.PlayerID))
	if _, ok := r.members[c.PlayerID]; !ok {
		// evicted by a failed snapshot send; peers already saw playerLeft
		return JoinResult{PlayerID: c.PlayerID, Players: len(r.members)}
	}
	r.broadcast(protocol.PlayerJoined{PlayerID: c.PlayerID, Data: m.data}, c.PlayerID)
	return JoinResult{PlayerID: c.PlayerID, Players: len(r.members)}
}

func (r *Room) handleRelay(c Relay, now time.Time) {
	m, ok := r.current(c.PlayerID, c.Conn)
	if !ok {
		return
	}
	m.lastSeen = now
	switch msg := c.Msg.(type) {
	case protocol.PlayerUpdate:
		if msg.Data.Name == "" {
			msg.Data.Name = m.data.Name
		}
		m.data = msg.Data
		r.broadcast(protocol.Stamp(msg, c.PlayerID), c.PlayerID)
	case protocol.EmojiCollected:
		r.broadcast(protocol.Stamp(msg, c.PlayerID), "")
	default:
		r.log.Debug("ignoring client message", zap.String("player", c.PlayerID), zap.String("type", c.Msg.Type()))
	}
}

// current returns the member for id only while conn is its live connection.
func (r *Room) current(id string, conn Conn) (*member, bool) {
	m, ok := r.members[id]
	if !ok || m.conn != conn {
		return nil, false
	}
	return m, true
}

func (r *Room) snapshotFor(id string) protocol.RoomState {
	rs := protocol.RoomState{Players: make([]protocol.PlayerEntry, 0, len(r.members))}
	for _, pid := range r.order {
		if pid == id {
			continue
		}
		rs.Players = append(rs.Players, protocol.PlayerEntry{ID: pid, Data: r.members[pid].data})
	}
	return rs
}

func (r *Room) sendTo(id string, msg protocol.Message) {
	m, ok := r.members[id]
	if !ok {
		return
	}
	if err := m.conn.Send(msg); err != nil {
		r.evict([]string{id}, "send failed")
	}
}

// broadcast sends msg to every member except skip and evicts recipients
// whose send failed.
func (r *Room) broadcast(msg protocol.Message, skip string) {
	var failed []string
	for _, id := range r.order {
		if id == skip {
			continue
		}
		if err := r.members[id].conn.Send(msg); err != nil {
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		r.evict(failed, "send failed")
	}
}

// evict removes ids and tells the remaining members. Members that fail to
// receive the notice are evicted in turn.
func (r *Room) evict(ids []string, reason string) {
	for len(ids) > 0 {
		id := ids[0]
		ids = ids[1:]
		m, ok := r.members[id]
		if !ok {
			continue
		}
		_ = m.conn.Close()
		delete(r.members, id)
		for i, o := range r.order {
			if o == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		r.players.Store(int32(len(r.members)))
		r.log.Info("player left", zap.String("player", id), zap.String("reason", reason), zap.Int("players", len(r.members)))

		left := protocol.PlayerLeft{PlayerID: id}
		for _, other := range r.order {
			if err := r.members[other].conn.Send(left); err != nil && !slices.Contains(ids, other) {
				ids = append(ids, other)
			}
		}
	}
	if len(r.members) == 0 && r.OnEmpty != nil && r.Code != "" {
		r.OnEmpty(r.Code)
	}
}

func (r *Room) sweep(now time.Time) {
	if r.idleTimeout <= 0 {
		return
	}
	// A room nobody ever joined still closes once it has idled.
	if len(r.members) == 0 {
		if now.Sub(r.created) > r.idleTimeout && r.OnEmpty != nil && r.Code != "" {
			r.OnEmpty(r.Code)
		}
		return
	}
	var idle []string
	for _, id := range r.order {
		if now.Sub(r.members[id].lastSeen) > r.idleTimeout {
			idle = append(idle, id)
		}
	}
	if len(idle) > 0 {
		r.evict(idle, "idle")
	}
}
