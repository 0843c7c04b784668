package protocol

import "emojitrail/game"

// PlayerData is the replicated part of a participant.
type PlayerData struct {
	X     float64           `json:"x"`
	Y     float64           `json:"y"`
	Trail []game.TrailPoint `json:"trail"`
	Score int               `json:"score"`

	Name  string `json:"name,omitempty"`
	Emoji string `json:"emoji,omitempty"`
	Color string `json:"color,omitempty"`
}

// DataOf captures the replicated fields of p.
func DataOf(p *game.Participant) PlayerData {
	return PlayerData{
		X:     p.X,
		Y:     p.Y,
		Trail: game.CloneTrail(p.Trail),
		Score: p.Score,
		Name:  p.Name,
		Emoji: p.Emoji,
		Color: p.Color,
	}
}

type PlayerEntry struct {
	ID   string     `json:"id"`
	Data PlayerData `json:"data"`
}

// Message is the closed set of messages exchanged in a room. Handle it with
// a type switch over the five concrete kinds below.
type Message interface {
	Type() string
	envelope() Envelope
}

// RoomState is the roster snapshot a newly joined participant receives.
type RoomState struct {
	Players []PlayerEntry
}

type PlayerJoined struct {
	PlayerID string
	Data     PlayerData
}

type PlayerLeft struct {
	PlayerID string
}

// PlayerUpdate carries a participant's latest position, trail and score.
// Clients leave PlayerID empty; the relay stamps it.
type PlayerUpdate struct {
	PlayerID string
	Data     PlayerData
}

type EmojiCollected struct {
	PlayerID   string
	EmojiIndex int
}

func (RoomState) Type() string      { return MsgRoomState }
func (PlayerJoined) Type() string   { return MsgPlayerJoined }
func (PlayerLeft) Type() string     { return MsgPlayerLeft }
func (PlayerUpdate) Type() string   { return MsgPlayerUpdate }
func (EmojiCollected) Type() string { return MsgEmojiCollected }

func (m RoomState) envelope() Envelope {
	players := m.Players
	if players == nil {
		players = []PlayerEntry{}
	}
	return Envelope{Type: MsgRoomState, Players: players}
}

func (m PlayerJoined) envelope() Envelope {
	d := m.Data
	return Envelope{Type: MsgPlayerJoined, PlayerID: m.PlayerID, Data: &d}
}

func (m PlayerLeft) envelope() Envelope {
	return Envelope{Type: MsgPlayerLeft, PlayerID: m.PlayerID}
}

func (m PlayerUpdate) envelope() Envelope {
	d := m.Data
	return Envelope{Type: MsgPlayerUpdate, PlayerID: m.PlayerID, Data: &d}
}

func (m EmojiCollected) envelope() Envelope {
	i := m.EmojiIndex
	return Envelope{Type: MsgEmojiCollected, PlayerID: m.PlayerID, EmojiIndex: &i}
}

// Stamp returns m with the sender id set. Kinds without a sender are
// returned unchanged.
func Stamp(m Message, playerID string) Message {
	switch v := m.(type) {
	case PlayerUpdate:
		v.PlayerID = playerID
		return v
	case EmojiCollected:
		v.PlayerID = playerID
		return v
	case PlayerJoined:
		v.PlayerID = playerID
		return v
	case PlayerLeft:
		v.PlayerID = playerID
		return v
	}
	return m
}
