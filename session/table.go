package session

import (
	"time"

	"emojitrail/game"
)

type kind uint8

const (
	kindLocal kind = iota
	kindRemote
	kindBot
)

type entry struct {
	p     *game.Participant
	kind  kind
	input game.Input
	// lastSeen is refreshed by every inbound message about a remote.
	lastSeen time.Time
}

// Table is the shared participant and collectible state of one session.
// Only the session goroutine touches it. Remote entries are written by the
// reconciler alone; the local entry only by the input and frame path.
type Table struct {
	localID      string
	entries      map[string]*entry
	order        []string
	collectibles []*game.Collectible
}

func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

func (t *Table) LocalID() string { return t.localID }

// Size is the roster size, local participant and bots included.
func (t *Table) Size() int { return len(t.entries) }

func (t *Table) Has(id string) bool {
	_, ok := t.entries[id]
	return ok
}

func (t *Table) setLocal(p *game.Participant) {
	t.localID = p.ID
	t.add(&entry{p: p, kind: kindLocal, input: game.Input{}})
}

func (t *Table) local() *entry {
	if t.localID == "" {
		return nil
	}
	return t.entries[t.localID]
}

func (t *Table) add(e *entry) {
	if _, ok := t.entries[e.p.ID]; !ok {
		t.order = append(t.order, e.p.ID)
	}
	t.entries[e.p.ID] = e
}

// remote returns the entry for id only when it mirrors a real peer.
func (t *Table) remote(id string) (*entry, bool) {
	e, ok := t.entries[id]
	if !ok || e.kind != kindRemote {
		return nil, false
	}
	return e, true
}

func (t *Table) remove(id string) bool {
	if _, ok := t.entries[id]; !ok {
		return false
	}
	delete(t.entries, id)
	for i, o := range t.order {
		if o == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

func (t *Table) ofKind(k kind) []*entry {
	var out []*entry
	for _, id := range t.order {
		if e := t.entries[id]; e.kind == k {
			out = append(out, e)
		}
	}
	return out
}

func (t *Table) clearBots() int {
	bots := t.ofKind(kindBot)
	for _, b := range bots {
		t.remove(b.p.ID)
	}
	return len(bots)
}

func (t *Table) addCollectible(c *game.Collectible) {
	t.collectibles = append(t.collectibles, c)
}

func (t *Table) collectible(i int) (*game.Collectible, bool) {
	if i < 0 || i >= len(t.collectibles) {
		return nil, false
	}
	return t.collectibles[i], true
}

// pruneCollectibles drops tokens whose post-collection grace has elapsed.
// Ordinal indices of later tokens shift down accordingly.
func (t *Table) pruneCollectibles(now time.Time, grace time.Duration) int {
	kept := t.collectibles[:0]
	for _, c := range t.collectibles {
		if !c.Expired(now, grace) {
			kept = append(kept, c)
		}
	}
	removed := len(t.collectibles) - len(kept)
	for i := len(kept); i < len(t.collectibles); i++ {
		t.collectibles[i] = nil
	}
	t.collectibles = kept
	return removed
}

// ParticipantView is a detached copy of one roster entry.
type ParticipantView struct {
	game.Participant
	Local bool
	Bot   bool
}

// View is a read-only snapshot for the rendering collaborator.
type View struct {
	RoomID       string
	LocalID      string
	Connected    bool
	Fallback     bool
	Participants []ParticipantView
	Collectibles []game.Collectible
}

// Participant returns the view entry for id.
func (v View) Participant(id string) (ParticipantView, bool) {
	for _, p := range v.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return ParticipantView{}, false
}

// Local returns the local participant's view entry.
func (v View) Local() (ParticipantView, bool) {
	return v.Participant(v.LocalID)
}

func (t *Table) view() View {
	v := View{
		LocalID:      t.localID,
		Participants: make([]ParticipantView, 0, len(t.entries)),
		Collectibles: make([]game.Collectible, 0, len(t.collectibles)),
	}
	for _, id := range t.order {
		e := t.entries[id]
		v.Participants = append(v.Participants, ParticipantView{
			Participant: e.p.Clone(),
			Local:       e.kind == kindLocal,
			Bot:         e.kind == kindBot,
		})
	}
	for _, c := range t.collectibles {
		v.Collectibles = append(v.Collectibles, *c)
	}
	return v
}
