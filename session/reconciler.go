package session

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"emojitrail/game"
	"emojitrail/protocol"
)

// Reasons an inbound message is dropped. None of them are fatal.
var (
	ErrUnknownParticipant = errors.New("session: unknown participant")
	ErrUnknownCollectible = errors.New("session: collectible index out of range")
	ErrDuplicateJoin      = errors.New("session: participant already known")
	ErrSelfReference      = errors.New("session: message about the local participant")
)

// Reconciler applies inbound messages to the table and encodes the local
// participant's changes for broadcast.
type Reconciler struct {
	table *Table
	rng   *rand.Rand
	log   *zap.Logger
}

func NewReconciler(t *Table, rng *rand.Rand, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Reconciler{table: t, rng: rng, log: log}
}

// Apply folds msg into the table. It reports whether the roster changed;
// a non-nil error names why the message (or part of it) was dropped.
func (r *Reconciler) Apply(msg protocol.Message, now time.Time) (bool, error) {
	switch m := msg.(type) {
	case protocol.RoomState:
		return r.applyRoomState(m, now)
	case protocol.PlayerJoined:
		return r.applyJoined(m, now)
	case protocol.PlayerLeft:
		return r.applyLeft(m)
	case protocol.PlayerUpdate:
		return false, r.applyUpdate(m, now)
	case protocol.EmojiCollected:
		return false, r.applyCollected(m, now)
	default:
		return false, fmt.Errorf("%w: %T", protocol.ErrUnknownType, msg)
	}
}

func (r *Reconciler) applyRoomState(m protocol.RoomState, now time.Time) (bool, error) {
	changed := false
	for _, pe := range m.Players {
		if pe.ID == "" || pe.ID == r.table.localID || r.table.Has(pe.ID) {
			continue
		}
		r.materialize(pe.ID, pe.Data, now)
		changed = true
	}
	return changed, nil
}

func (r *Reconciler) applyJoined(m protocol.PlayerJoined, now time.Time) (bool, error) {
	if m.PlayerID == r.table.localID {
		return false, ErrSelfReference
	}
	if r.table.Has(m.PlayerID) {
		if e, ok := r.table.remote(m.PlayerID); ok {
			e.lastSeen = now
		}
		return false, ErrDuplicateJoin
	}
	r.materialize(m.PlayerID, m.Data, now)
	return true, nil
}

func (r *Reconciler) applyLeft(m protocol.PlayerLeft) (bool, error) {
	if m.PlayerID == r.table.localID {
		return false, ErrSelfReference
	}
	if _, ok := r.table.remote(m.PlayerID); !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownParticipant, m.PlayerID)
	}
	r.table.remove(m.PlayerID)
	return true, nil
}

func (r *Reconciler) applyUpdate(m protocol.PlayerUpdate, now time.Time) error {
	if m.PlayerID == r.table.localID {
		return ErrSelfReference
	}
	e, ok := r.table.remote(m.PlayerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, m.PlayerID)
	}
	e.p.X = m.Data.X
	e.p.Y = m.Data.Y
	e.p.Trail = mirrorTrail(m.Data.Trail)
	e.p.Score = max(m.Data.Score, 0)
	e.lastSeen = now
	return nil
}

func (r *Reconciler) applyCollected(m protocol.EmojiCollected, now time.Time) error {
	if m.PlayerID == r.table.localID {
		return ErrSelfReference
	}
	if e, ok := r.table.remote(m.PlayerID); ok {
		e.lastSeen = now
	}
	c, ok := r.table.collectible(m.EmojiIndex)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownCollectible, m.EmojiIndex)
	}
	c.MarkCollected(now)
	return nil
}

func (r *Reconciler) materialize(id string, d protocol.PlayerData, now time.Time) {
	name := d.Name
	if name == "" {
		short := id
		if len(short) > 5 {
			short = short[:5]
		}
		name = "Player " + short
	}
	emoji := d.Emoji
	if emoji == "" {
		emoji = game.RemoteEmoji
	}
	color := d.Color
	if color == "" {
		color = game.RandomColor(r.rng)
	}
	p := game.NewParticipant(id, name, d.X, d.Y, emoji, color)
	p.Trail = mirrorTrail(d.Trail)
	p.Score = max(d.Score, 0)
	r.table.add(&entry{p: p, kind: kindRemote, lastSeen: now})
	r.log.Debug("participant materialized", zap.String("player", id), zap.String("name", name))
}

// mirrorTrail copies a received trail, keeping only the newest points.
func mirrorTrail(src []game.TrailPoint) []game.TrailPoint {
	if over := len(src) - game.TrailLength; over > 0 {
		src = src[over:]
	}
	return game.CloneTrail(src)
}

// LocalUpdate encodes the local participant for broadcast.
func (r *Reconciler) LocalUpdate() (protocol.PlayerUpdate, bool) {
	e := r.table.local()
	if e == nil {
		return protocol.PlayerUpdate{}, false
	}
	return protocol.PlayerUpdate{Data: protocol.DataOf(e.p)}, true
}

// CollectLocal records a local collision with the collectible at index and
// credits the local score. Peers are told, not asked: two clients may both
// credit the same token.
func (r *Reconciler) CollectLocal(index int, now time.Time) (protocol.EmojiCollected, error) {
	e := r.table.local()
	if e == nil {
		return protocol.EmojiCollected{}, fmt.Errorf("%w: no local participant", ErrUnknownParticipant)
	}
	c, ok := r.table.collectible(index)
	if !ok {
		return protocol.EmojiCollected{}, fmt.Errorf("%w: %d", ErrUnknownCollectible, index)
	}
	if !c.MarkCollected(now) {
		return protocol.EmojiCollected{}, fmt.Errorf("collectible %d already collected", index)
	}
	e.p.Score += game.PointsPerCollectible
	return protocol.EmojiCollected{EmojiIndex: index}, nil
}

// Expired returns synthetic leave messages for remotes silent past timeout.
func (r *Reconciler) Expired(now time.Time, timeout time.Duration) []protocol.Message {
	if timeout <= 0 {
		return nil
	}
	var out []protocol.Message
	for _, e := range r.table.ofKind(kindRemote) {
		if now.Sub(e.lastSeen) > timeout {
			out = append(out, protocol.PlayerLeft{PlayerID: e.p.ID})
		}
	}
	return out
}
