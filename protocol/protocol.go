package protocol

import "encoding/json"

const (
	MsgRoomState      = "roomState"
	MsgPlayerJoined   = "playerJoined"
	MsgPlayerLeft     = "playerLeft"
	MsgPlayerUpdate   = "playerUpdate"
	MsgEmojiCollected = "emojiCollected"
)

const (
	FrameHz     = 60
	BroadcastHz = 10
)

// Envelope is the flat wire shape shared by every message kind.
type Envelope struct {
	Type       string        `json:"type"`
	PlayerID   string        `json:"playerId,omitempty"`
	Data       *PlayerData   `json:"data,omitempty"`
	EmojiIndex *int          `json:"emojiIndex,omitempty"`
	Players    []PlayerEntry `json:"players,omitempty"`
}

// MarshalJSON always writes players for roomState, even when empty; browser
// peers iterate it without a guard.
func (e Envelope) MarshalJSON() ([]byte, error) {
	type plain Envelope
	if e.Type != MsgRoomState {
		return json.Marshal(plain(e))
	}
	players := e.Players
	if players == nil {
		players = []PlayerEntry{}
	}
	return json.Marshal(struct {
		plain
		Players []PlayerEntry `json:"players"`
	}{plain(e), players})
}
