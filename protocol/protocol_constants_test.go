package protocol

import "testing"

func TestMessageConstants(t *testing.T) {
	want := map[string]string{
		MsgRoomState:      "roomState",
		MsgPlayerJoined:   "playerJoined",
		MsgPlayerLeft:     "playerLeft",
		MsgPlayerUpdate:   "playerUpdate",
		MsgEmojiCollected: "emojiCollected",
	}
	for got, w := range want {
		if got != w {
			t.Fatalf("message constant = %q, want %q", got, w)
		}
	}
}

func TestTimingSanity(t *testing.T) {
	if FrameHz <= 0 || BroadcastHz <= 0 {
		t.Fatalf("timing constants must be > 0")
	}
	if BroadcastHz > FrameHz {
		t.Fatalf("BroadcastHz %d exceeds FrameHz %d", BroadcastHz, FrameHz)
	}
}

func TestMessageTypesMatchConstants(t *testing.T) {
	cases := []struct {
		msg  Message
		want string
	}{
		{RoomState{}, MsgRoomState},
		{PlayerJoined{}, MsgPlayerJoined},
		{PlayerLeft{}, MsgPlayerLeft},
		{PlayerUpdate{}, MsgPlayerUpdate},
		{EmojiCollected{}, MsgEmojiCollected},
	}
	for _, c := range cases {
		if c.msg.Type() != c.want {
			t.Fatalf("%T.Type() = %q, want %q", c.msg, c.msg.Type(), c.want)
		}
	}
}
