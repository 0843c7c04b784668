package session

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"go.uber.org/zap"

	"emojitrail/game"
	"emojitrail/protocol"
)

func newTestReconciler(t *testing.T, collectibles int) (*Table, *Reconciler) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	table := NewTable()
	table.setLocal(game.NewParticipant("me", "Alice", 400, 300, "😀", "#FF6B6B"))
	for i := 0; i < collectibles; i++ {
		table.addCollectible(game.NewCollectible(rng, game.DefaultBounds(), time.Now()))
	}
	return table, NewReconciler(table, rng, zap.NewNop())
}

func data(x, y float64, score int) protocol.PlayerData {
	return protocol.PlayerData{X: x, Y: y, Trail: []game.TrailPoint{{X: x - 1, Y: y, Timestamp: 1}}, Score: score}
}

func TestJoinThenUpdatesLastWriteWins(t *testing.T) {
	table, rec := newTestReconciler(t, 0)
	now := time.Now()

	changed, err := rec.Apply(protocol.PlayerJoined{PlayerID: "p2", Data: data(0, 0, 0)}, now)
	if !changed || err != nil {
		t.Fatalf("join: changed=%v err=%v", changed, err)
	}

	updates := []protocol.PlayerData{data(10, 20, 10), data(30, 40, 20), data(50, 60, 30)}
	for _, d := range updates {
		if _, err := rec.Apply(protocol.PlayerUpdate{PlayerID: "p2", Data: d}, now); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	// Replaying the identical last payload changes nothing.
	last := updates[len(updates)-1]
	if _, err := rec.Apply(protocol.PlayerUpdate{PlayerID: "p2", Data: last}, now); err != nil {
		t.Fatalf("replay: %v", err)
	}

	e, ok := table.remote("p2")
	if !ok {
		t.Fatalf("p2 missing")
	}
	if e.p.X != last.X || e.p.Y != last.Y || e.p.Score != last.Score {
		t.Fatalf("state = (%f,%f,%d), want last update %+v", e.p.X, e.p.Y, e.p.Score, last)
	}
	if len(e.p.Trail) != 1 || e.p.Trail[0] != last.Trail[0] {
		t.Fatalf("trail = %+v, want %+v", e.p.Trail, last.Trail)
	}
}

func TestUpdateForUnknownParticipantDropped(t *testing.T) {
	table, rec := newTestReconciler(t, 0)
	before := table.Size()

	msg := protocol.PlayerUpdate{PlayerID: "p2", Data: protocol.PlayerData{X: 100, Y: 50, Trail: []game.TrailPoint{}, Score: 20}}
	changed, err := rec.Apply(msg, time.Now())
	if changed || !errors.Is(err, ErrUnknownParticipant) {
		t.Fatalf("changed=%v err=%v, want dropped as unknown", changed, err)
	}
	if table.Size() != before || table.Has("p2") {
		t.Fatalf("update materialized a participant")
	}
}

func TestLeaveUnknownIsNoop(t *testing.T) {
	table, rec := newTestReconciler(t, 0)
	before := table.Size()
	changed, err := rec.Apply(protocol.PlayerLeft{PlayerID: "ghost"}, time.Now())
	if changed || !errors.Is(err, ErrUnknownParticipant) {
		t.Fatalf("changed=%v err=%v", changed, err)
	}
	if table.Size() != before {
		t.Fatalf("roster size changed: %d -> %d", before, table.Size())
	}
}

func TestLeaveRemovesRemoteButNeverSelf(t *testing.T) {
	table, rec := newTestReconciler(t, 0)
	now := time.Now()
	rec.Apply(protocol.PlayerJoined{PlayerID: "p2"}, now)

	if changed, _ := rec.Apply(protocol.PlayerLeft{PlayerID: "p2"}, now); !changed {
		t.Fatalf("leave did not change roster")
	}
	if table.Has("p2") {
		t.Fatalf("p2 still present")
	}
	if _, err := rec.Apply(protocol.PlayerLeft{PlayerID: "me"}, now); !errors.Is(err, ErrSelfReference) {
		t.Fatalf("self leave err = %v", err)
	}
	if !table.Has("me") {
		t.Fatalf("local participant removed")
	}
}

func TestDuplicateJoinIsIdempotent(t *testing.T) {
	table, rec := newTestReconciler(t, 0)
	now := time.Now()
	rec.Apply(protocol.PlayerJoined{PlayerID: "p2", Data: data(1, 1, 0)}, now)
	rec.Apply(protocol.PlayerUpdate{PlayerID: "p2", Data: data(5, 5, 10)}, now)

	changed, err := rec.Apply(protocol.PlayerJoined{PlayerID: "p2", Data: data(9, 9, 0)}, now)
	if changed || !errors.Is(err, ErrDuplicateJoin) {
		t.Fatalf("changed=%v err=%v", changed, err)
	}
	e, _ := table.remote("p2")
	if e.p.X != 5 || e.p.Score != 10 {
		t.Fatalf("duplicate join overwrote state: %+v", e.p)
	}
	if table.Size() != 2 {
		t.Fatalf("roster size = %d, want 2", table.Size())
	}
}

func TestRoomStateNeverOverwritesKnown(t *testing.T) {
	table, rec := newTestReconciler(t, 0)
	now := time.Now()
	rec.Apply(protocol.PlayerJoined{PlayerID: "p2", Data: data(1, 2, 30)}, now)

	snapshot := protocol.RoomState{Players: []protocol.PlayerEntry{
		{ID: "me", Data: data(0, 0, 999)},
		{ID: "p2", Data: data(100, 100, 0)},
		{ID: "p3", Data: data(7, 8, 40)},
	}}
	changed, err := rec.Apply(snapshot, now)
	if !changed || err != nil {
		t.Fatalf("changed=%v err=%v", changed, err)
	}

	p2, _ := table.remote("p2")
	if p2.p.X != 1 || p2.p.Y != 2 || p2.p.Score != 30 {
		t.Fatalf("roomState overwrote p2: %+v", p2.p)
	}
	p3, ok := table.remote("p3")
	if !ok || p3.p.X != 7 || p3.p.Score != 40 {
		t.Fatalf("p3 not seeded from snapshot: %+v", p3)
	}
	if local := table.local(); local.p.Score != 0 || local.p.X != 400 {
		t.Fatalf("roomState wrote the local participant: %+v", local.p)
	}
	if p3.p.Name != "Player p3" || p3.p.Emoji != game.RemoteEmoji {
		t.Fatalf("remote defaults = %q %q", p3.p.Name, p3.p.Emoji)
	}

	// A second identical snapshot is a no-op.
	if changed, _ := rec.Apply(snapshot, now); changed {
		t.Fatalf("replayed snapshot changed roster")
	}
}

func TestRemoteIdentityFromData(t *testing.T) {
	table, rec := newTestReconciler(t, 0)
	d := data(0, 0, 0)
	d.Name, d.Emoji, d.Color = "Bob", "🦄", "#45B7D1"
	rec.Apply(protocol.PlayerJoined{PlayerID: "1700000000123", Data: d}, time.Now())
	e, _ := table.remote("1700000000123")
	if e.p.Name != "Bob" || e.p.Emoji != "🦄" || e.p.Color != "#45B7D1" {
		t.Fatalf("identity = %q %q %q", e.p.Name, e.p.Emoji, e.p.Color)
	}
}

func TestEmojiCollectedIdempotent(t *testing.T) {
	table, rec := newTestReconciler(t, 5)
	now := time.Now()
	for i := 0; i < 2; i++ {
		if _, err := rec.Apply(protocol.EmojiCollected{PlayerID: "p2", EmojiIndex: 2}, now.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("apply #%d: %v", i, err)
		}
		c, _ := table.collectible(2)
		if !c.Collected {
			t.Fatalf("collectible reverted after apply #%d", i)
		}
		if !c.CollectedAt.Equal(now) {
			t.Fatalf("second apply moved CollectedAt")
		}
	}
}

func TestEmojiCollectedOutOfRangeDropped(t *testing.T) {
	table, rec := newTestReconciler(t, 3)
	for _, idx := range []int{-1, 3, 100} {
		if _, err := rec.Apply(protocol.EmojiCollected{PlayerID: "p2", EmojiIndex: idx}, time.Now()); !errors.Is(err, ErrUnknownCollectible) {
			t.Fatalf("index %d err = %v", idx, err)
		}
	}
	for i, c := range table.collectibles {
		if c.Collected {
			t.Fatalf("collectible %d marked by out-of-range message", i)
		}
	}
}

func TestLocalCollectionAndSelfEcho(t *testing.T) {
	table, rec := newTestReconciler(t, 5)
	now := time.Now()

	out, err := rec.CollectLocal(3, now)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if out.EmojiIndex != 3 || out.PlayerID != "" {
		t.Fatalf("outbound = %+v", out)
	}
	if got := table.local().p.Score; got != game.PointsPerCollectible {
		t.Fatalf("score = %d, want %d", got, game.PointsPerCollectible)
	}

	if _, err := rec.Apply(protocol.EmojiCollected{PlayerID: "me", EmojiIndex: 3}, now); !errors.Is(err, ErrSelfReference) {
		t.Fatalf("self echo err = %v", err)
	}
	if _, err := rec.CollectLocal(3, now); err == nil {
		t.Fatalf("second local collect should fail")
	}
	if got := table.local().p.Score; got != game.PointsPerCollectible {
		t.Fatalf("score after echo = %d, want %d", got, game.PointsPerCollectible)
	}
}

func TestUpdateNeverWritesLocal(t *testing.T) {
	table, rec := newTestReconciler(t, 0)
	if _, err := rec.Apply(protocol.PlayerUpdate{PlayerID: "me", Data: data(1, 1, 500)}, time.Now()); !errors.Is(err, ErrSelfReference) {
		t.Fatalf("err = %v", err)
	}
	if l := table.local().p; l.X != 400 || l.Score != 0 {
		t.Fatalf("local overwritten: %+v", l)
	}
}

func TestLocalUpdateRoundTrip(t *testing.T) {
	table, rec := newTestReconciler(t, 0)
	local := table.local().p
	local.X, local.Y, local.Score = 123.5, 77.25, 40
	local.Trail = []game.TrailPoint{{X: 120, Y: 77, Timestamp: 10}, {X: 121, Y: 77, Timestamp: 60}}

	upd, ok := rec.LocalUpdate()
	if !ok {
		t.Fatalf("no local update")
	}
	b, err := protocol.Encode(protocol.JSON(), upd)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := protocol.Decode(protocol.JSON(), b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	peerTable := NewTable()
	peerTable.setLocal(game.NewParticipant("other", "Bob", 0, 0, "😎", "#000"))
	peer := NewReconciler(peerTable, rand.New(rand.NewSource(1)), nil)
	peer.Apply(protocol.PlayerJoined{PlayerID: "me"}, time.Now())
	if _, err := peer.Apply(protocol.Stamp(msg, "me"), time.Now()); err != nil {
		t.Fatalf("peer apply: %v", err)
	}
	got, _ := peerTable.remote("me")
	if got.p.X != local.X || got.p.Y != local.Y || got.p.Score != local.Score {
		t.Fatalf("mirror = %+v, want %+v", got.p, local)
	}
	if len(got.p.Trail) != len(local.Trail) {
		t.Fatalf("trail len = %d, want %d", len(got.p.Trail), len(local.Trail))
	}
	for i := range local.Trail {
		if got.p.Trail[i] != local.Trail[i] {
			t.Fatalf("trail[%d] = %+v, want %+v", i, got.p.Trail[i], local.Trail[i])
		}
	}
}

func TestExpiredEmitsSyntheticLeaves(t *testing.T) {
	table, rec := newTestReconciler(t, 0)
	start := time.Now()
	rec.Apply(protocol.PlayerJoined{PlayerID: "quiet"}, start)
	rec.Apply(protocol.PlayerJoined{PlayerID: "chatty"}, start)
	rec.Apply(protocol.PlayerUpdate{PlayerID: "chatty", Data: data(1, 1, 0)}, start.Add(9*time.Second))

	msgs := rec.Expired(start.Add(11*time.Second), 10*time.Second)
	if len(msgs) != 1 || msgs[0].(protocol.PlayerLeft).PlayerID != "quiet" {
		t.Fatalf("expired = %+v", msgs)
	}
	for _, m := range msgs {
		rec.Apply(m, start)
	}
	if table.Has("quiet") || !table.Has("chatty") || !table.Has("me") {
		t.Fatalf("unexpected roster after sweep")
	}
}

func TestReconcilerDefaultsRand(t *testing.T) {
	table := NewTable()
	table.setLocal(game.NewParticipant("me", "Alice", 0, 0, "😀", "#fff"))
	rec := NewReconciler(table, nil, nil)

	if _, err := rec.Apply(protocol.PlayerJoined{PlayerID: "p2"}, time.Now()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	e, ok := table.remote("p2")
	if !ok || e.p.Color == "" {
		t.Fatalf("remote without a color: %+v", e)
	}
}
