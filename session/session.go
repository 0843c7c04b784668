// Package session keeps a client's view of a room in sync with its peers.
//
// A Session owns one goroutine that drains an inbox of commands: calls from
// the game loop, transport events and timer callbacks. All table mutation
// happens there, so no locks guard participant or collectible state.
package session

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"emojitrail/config"
	"emojitrail/game"
	"emojitrail/logging"
	"emojitrail/protocol"
)

var (
	ErrClosed        = errors.New("session: closed")
	ErrAlreadyJoined = errors.New("session: already joined")
)

type Options struct {
	Config config.SessionConfig
	RoomID string
	// Transport overrides the websocket transport Join builds from
	// Config.ServerURL. With neither, the session starts in fallback mode.
	Transport Transport
	Logger    *zap.Logger
	Rand      *rand.Rand

	OnRosterChange           func(count int)
	OnConnectionStatusChange func(connected bool)
}

type Session struct {
	cfg       config.SessionConfig
	roomID    string
	bounds    game.Bounds
	// tmu guards transport against Close; only the loop assigns it.
	tmu       sync.Mutex
	transport Transport
	log       *zap.Logger
	rng       *rand.Rand
	onStatus  func(bool)

	inbox     chan any
	quit      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	table    *Table
	rec      *Reconciler
	presence *Presence
	sim      *Simulator

	joined      bool
	connected   bool
	statusKnown bool
	// frameAt is the time of the latest Advance; collection and pruning
	// both read it.
	frameAt time.Time
}

type joinResult struct {
	id  string
	err error
}

type joinCmd struct {
	name  string
	reply chan joinResult
}

type keyCmd struct {
	key  string
	down bool
}

type advanceCmd struct {
	now  time.Time
	done chan struct{}
}

type broadcastCmd struct{ reply chan bool }

type collectCmd struct {
	index int
	reply chan bool
}

type viewCmd struct{ reply chan View }

type clearBotsCmd struct{ reply chan int }

type transportCmd struct{ ev Event }

type spawnBotCmd struct{}

type nudgeBotCmd struct{ id string }

type releaseBotCmd struct{ id, key string }

type respawnCmd struct{}

// New builds a session for opts.RoomID and starts its loop.
func New(opts Options) *Session {
	cfg := opts.Config
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = game.DefaultWidth, game.DefaultHeight
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	log := logging.OrGlobal(opts.Logger).With(zap.String("room", opts.RoomID))

	ctx, cancel := context.WithCancel(context.Background())
	table := NewTable()
	s := &Session{
		cfg:       cfg,
		roomID:    opts.RoomID,
		bounds:    game.Bounds{Width: cfg.Width, Height: cfg.Height},
		transport: opts.Transport,
		log:       log,
		rng:       rng,
		onStatus:  opts.OnConnectionStatusChange,
		inbox:     make(chan any, 256),
		quit:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		table:     table,
		rec:       NewReconciler(table, rng, log),
		presence:  NewPresence(table, opts.OnRosterChange),
		sim:       NewSimulator(cfg.FallbackDelay, cfg.BotCap, rng),
	}
	go s.run()
	return s
}

func (s *Session) RoomID() string { return s.roomID }

func (s *Session) post(cmd any) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.inbox <- cmd:
		return true
	case <-s.quit:
		return false
	}
}

// after posts cmd to the loop once d has elapsed.
func (s *Session) after(d time.Duration, cmd any) {
	time.AfterFunc(d, func() { s.post(cmd) })
}

// Join creates the local participant and starts connecting to the room.
func (s *Session) Join(ctx context.Context, name string) (string, error) {
	reply := make(chan joinResult, 1)
	if !s.post(joinCmd{name: name, reply: reply}) {
		return "", ErrClosed
	}
	select {
	case res := <-reply:
		return res.id, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.quit:
		return "", ErrClosed
	}
}

// SetKey records a key press or release for the local participant.
func (s *Session) SetKey(key string, down bool) {
	s.post(keyCmd{key: key, down: down})
}

// Advance runs one frame at now and returns once it has been applied.
func (s *Session) Advance(now time.Time) {
	done := make(chan struct{})
	if !s.post(advanceCmd{now: now, done: done}) {
		return
	}
	select {
	case <-done:
	case <-s.quit:
	}
}

// BroadcastLocalState sends the local participant's state to peers. It
// reports false when the update was dropped.
func (s *Session) BroadcastLocalState() bool {
	reply := make(chan bool, 1)
	if !s.post(broadcastCmd{reply: reply}) {
		return false
	}
	return s.await(reply)
}

// NotifyCollected records a local collision with the collectible at index.
func (s *Session) NotifyCollected(index int) bool {
	reply := make(chan bool, 1)
	if !s.post(collectCmd{index: index, reply: reply}) {
		return false
	}
	return s.await(reply)
}

func (s *Session) await(reply chan bool) bool {
	select {
	case ok := <-reply:
		return ok
	case <-s.quit:
		return false
	}
}

// View returns a detached snapshot of the room.
func (s *Session) View() View {
	reply := make(chan View, 1)
	if !s.post(viewCmd{reply: reply}) {
		return View{RoomID: s.roomID}
	}
	select {
	case v := <-reply:
		return v
	case <-s.quit:
		return View{RoomID: s.roomID}
	}
}

func (s *Session) RosterSize() int { return len(s.View().Participants) }

// ClearBots removes every simulated participant and returns how many.
func (s *Session) ClearBots() int {
	reply := make(chan int, 1)
	if !s.post(clearBotsCmd{reply: reply}) {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-s.quit:
		return 0
	}
}

// Close disconnects and stops the loop. Pending timers become no-ops.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.quit)
		s.tmu.Lock()
		t := s.transport
		s.tmu.Unlock()
		if t != nil {
			err = t.Close()
		}
	})
	return err
}

func (s *Session) run() {
	spawnEvery := s.cfg.SpawnInterval
	if spawnEvery <= 0 {
		spawnEvery = game.SpawnInterval
	}
	sweepEvery := s.cfg.SweepInterval
	if sweepEvery <= 0 {
		sweepEvery = time.Second
	}
	spawn := time.NewTicker(spawnEvery)
	sweep := time.NewTicker(sweepEvery)
	defer spawn.Stop()
	defer sweep.Stop()

	for {
		select {
		case <-s.quit:
			return
		case cmd := <-s.inbox:
			s.handleCommand(cmd)
		case <-spawn.C:
			s.spawnCollectible()
		case now := <-sweep.C:
			s.sweep(now)
		}
	}
}

func (s *Session) handleCommand(cmd any) {
	switch c := cmd.(type) {
	case joinCmd:
		id, err := s.join(c.name)
		c.reply <- joinResult{id: id, err: err}
	case keyCmd:
		if e := s.table.local(); e != nil {
			e.input.Set(c.key, c.down)
		}
	case advanceCmd:
		s.advance(c.now)
		close(c.done)
	case broadcastCmd:
		c.reply <- s.broadcast()
	case collectCmd:
		c.reply <- s.collect(c.index, s.clock())
	case viewCmd:
		v := s.table.view()
		v.RoomID = s.roomID
		v.Connected = s.connected
		v.Fallback = s.sim.Active()
		c.reply <- v
	case clearBotsCmd:
		n := s.table.clearBots()
		if n > 0 {
			s.presence.Notify()
		}
		c.reply <- n
	case transportCmd:
		s.handleTransport(c.ev)
	case spawnBotCmd:
		s.spawnBot()
	case nudgeBotCmd:
		s.nudgeBot(c.id)
	case releaseBotCmd:
		s.sim.Release(s.table, c.id, c.key)
	case respawnCmd:
		s.spawnCollectible()
	}
}

func (s *Session) join(name string) (string, error) {
	if s.joined {
		return s.table.localID, ErrAlreadyJoined
	}
	if name == "" {
		name = "Player"
	}
	id := NewParticipantID()
	x, y := s.bounds.Center()
	local := game.NewParticipant(id, name, x, y, game.RandomPlayerEmoji(s.rng), game.RandomColor(s.rng))
	s.table.setLocal(local)
	s.joined = true

	now := time.Now()
	for i := 0; i < s.cfg.InitialCollectibles; i++ {
		s.table.addCollectible(game.NewCollectible(s.rng, s.bounds, now))
	}
	s.presence.Notify()
	s.log.Info("joined room", zap.String("player", id), zap.String("name", name))

	if s.transport == nil && s.cfg.ServerURL != "" {
		t, err := s.dialTransport(name)
		if err != nil {
			s.log.Warn("no transport", zap.Error(err))
		} else {
			s.tmu.Lock()
			s.transport = t
			s.tmu.Unlock()
		}
	}
	if s.transport == nil {
		s.setStatus(false)
		s.enterFallback(ErrTransportUnavailable)
		return id, nil
	}
	s.transport.Connect(s.ctx, s.roomID, id, func(ev Event) {
		s.post(transportCmd{ev: ev})
	})
	return id, nil
}

// dialTransport builds the websocket transport for Config.ServerURL,
// supervised when Config.Reconnect is set.
func (s *Session) dialTransport(name string) (Transport, error) {
	codec, err := protocol.NewRegistry().Lookup(s.cfg.Codec)
	if err != nil {
		return nil, err
	}
	ws := NewWSTransport(s.cfg.ServerURL, codec,
		WithName(name),
		WithLogger(s.log.Named("transport")),
		WithSendQueue(s.cfg.SendQueue),
	)
	if !s.cfg.Reconnect {
		return ws, nil
	}
	return NewSupervisor(ws, Backoff{
		Initial: s.cfg.BackoffInitial,
		Max:     s.cfg.BackoffMax,
		Jitter:  s.cfg.BackoffJitter,
	}, s.log.Named("supervisor")), nil
}

func (s *Session) handleTransport(ev Event) {
	switch ev.Kind {
	case EventOpen:
		s.setStatus(true)
	case EventMessage:
		changed, err := s.rec.Apply(ev.Message, time.Now())
		if err != nil {
			s.log.Debug("inbound message dropped", zap.String("type", ev.Message.Type()), zap.Error(err))
		}
		if changed {
			s.presence.Notify()
		}
	case EventClose:
		s.setStatus(false)
	case EventError:
		s.setStatus(false)
		s.enterFallback(ev.Err)
	}
}

func (s *Session) setStatus(connected bool) {
	if s.statusKnown && s.connected == connected {
		return
	}
	s.statusKnown = true
	s.connected = connected
	if s.onStatus != nil {
		s.onStatus(connected)
	}
}

func (s *Session) enterFallback(cause error) {
	if !s.sim.Activate() {
		return
	}
	s.log.Warn("running in simulation mode", zap.Error(cause), zap.Duration("bot_delay", s.sim.Delay()))
	s.after(s.sim.Delay(), spawnBotCmd{})
}

func (s *Session) spawnBot() {
	if !s.joined {
		return
	}
	bot, ok := s.sim.Spawn(s.table, s.bounds, time.Now())
	if !ok {
		return
	}
	s.log.Info("bot joined", zap.String("bot", bot.ID), zap.String("name", bot.Name))
	s.presence.Notify()
	s.nudgeBot(bot.ID)
}

func (s *Session) nudgeBot(id string) {
	key, pause, ok := s.sim.Nudge(s.table, id)
	if !ok {
		return
	}
	s.after(s.sim.Hold(), releaseBotCmd{id: id, key: key})
	s.after(pause, nudgeBotCmd{id: id})
}

// clock is the session's notion of now: the latest frame time once the
// game loop is running.
func (s *Session) clock() time.Time {
	if s.frameAt.IsZero() {
		return time.Now()
	}
	return s.frameAt
}

func (s *Session) advance(now time.Time) {
	s.frameAt = now
	local := s.table.local()
	if local == nil {
		return
	}
	game.Step(local.p, local.input, s.bounds, now)
	for _, b := range s.table.ofKind(kindBot) {
		game.Step(b.p, b.input, s.bounds, now)
	}
	for i, c := range s.table.collectibles {
		if !c.Collected && c.Touches(local.p.X, local.p.Y) {
			s.collect(i, now)
		}
	}
	grace := s.cfg.CollectGrace
	if grace <= 0 {
		grace = game.CollectGrace
	}
	s.table.pruneCollectibles(now, grace)
}

func (s *Session) collect(index int, now time.Time) bool {
	msg, err := s.rec.CollectLocal(index, now)
	if err != nil {
		s.log.Debug("collect ignored", zap.Int("index", index), zap.Error(err))
		return false
	}
	if s.transport != nil {
		s.transport.Send(msg)
	}
	s.after(s.cfg.RespawnDelay, respawnCmd{})
	return true
}

func (s *Session) broadcast() bool {
	msg, ok := s.rec.LocalUpdate()
	if !ok || s.transport == nil {
		return false
	}
	return s.transport.Send(msg)
}

func (s *Session) spawnCollectible() {
	if !s.joined {
		return
	}
	limit := s.cfg.MaxCollectibles
	if limit <= 0 {
		limit = game.MaxCollectibles
	}
	if len(s.table.collectibles) < limit {
		s.table.addCollectible(game.NewCollectible(s.rng, s.bounds, time.Now()))
	}
}

func (s *Session) sweep(now time.Time) {
	for _, m := range s.rec.Expired(now, s.cfg.HeartbeatTimeout) {
		left := m.(protocol.PlayerLeft)
		s.log.Info("evicting silent participant", zap.String("player", left.PlayerID))
		if changed, _ := s.rec.Apply(m, now); changed {
			s.presence.Notify()
		}
	}
}
