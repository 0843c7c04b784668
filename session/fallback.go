package session

import (
	"fmt"
	"math/rand"
	"time"

	"emojitrail/game"
)

var (
	botNames  = []string{"Bot1", "Bot2", "Bot3"}
	botEmojis = []string{"🤖", "👾", "🎮"}
)

const (
	botHold     = 500 * time.Millisecond
	botPauseMin = time.Second
	botPauseMax = 3 * time.Second
)

// Simulator fabricates local-only bots once the transport is unavailable.
// Bots are driven through their own game.Input, the same key-state table the
// input collaborator writes for the local player, and are never broadcast.
type Simulator struct {
	delay  time.Duration
	cap    int
	rng    *rand.Rand
	active bool
}

func NewSimulator(delay time.Duration, cap int, rng *rand.Rand) *Simulator {
	return &Simulator{delay: delay, cap: cap, rng: rng}
}

func (f *Simulator) Active() bool { return f.active }

// Activate switches fallback mode on. It reports false when already active;
// otherwise the caller schedules a spawn after Delay.
func (f *Simulator) Activate() bool {
	if f.active {
		return false
	}
	f.active = true
	return true
}

func (f *Simulator) Delay() time.Duration { return f.delay }

// Spawn adds one bot when the roster is below the cap.
func (f *Simulator) Spawn(t *Table, b game.Bounds, now time.Time) (*game.Participant, bool) {
	if !f.active || t.Size() >= f.cap {
		return nil, false
	}
	i := f.rng.Intn(len(botNames))
	id := fmt.Sprintf("bot_%d", now.UnixMilli())
	for t.Has(id) {
		id += "_"
	}
	p := game.NewParticipant(id, botNames[i], f.rng.Float64()*b.Width, f.rng.Float64()*b.Height, botEmojis[i], game.RandomColor(f.rng))
	t.add(&entry{p: p, kind: kindBot, input: game.Input{}})
	return p, true
}

// Nudge presses a random direction on the bot's input and returns the key
// to release after Hold and the pause before the next nudge.
func (f *Simulator) Nudge(t *Table, id string) (key string, pause time.Duration, ok bool) {
	e, found := t.entries[id]
	if !found || e.kind != kindBot {
		return "", 0, false
	}
	key = game.Directions[f.rng.Intn(len(game.Directions))]
	e.input.Set(key, true)
	pause = botPauseMin + time.Duration(f.rng.Int63n(int64(botPauseMax-botPauseMin)))
	return key, pause, true
}

// Release lifts key on the bot's input.
func (f *Simulator) Release(t *Table, id, key string) {
	if e, ok := t.entries[id]; ok && e.kind == kindBot {
		e.input.Set(key, false)
	}
}

func (f *Simulator) Hold() time.Duration { return botHold }
