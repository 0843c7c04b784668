package room

import "emojitrail/protocol"

// Conn is one client connection as seen by a room.
type Conn interface {
	Send(protocol.Message) error
	Close() error
}

// Join: issued once the websocket is upgraded
type Join struct {
	PlayerID string
	Name     string
	Conn     Conn
	Reply    chan<- JoinResult
}

type JoinResult struct {
	PlayerID string
	// Reconnect is set when PlayerID was already present and its previous
	// connection was replaced.
	Reconnect bool
	Players   int
}

// Relay: a decoded message from PlayerID's connection
type Relay struct {
	PlayerID string
	Conn     Conn
	Msg      protocol.Message
}

// Touch: a keepalive from PlayerID's connection
type Touch struct {
	PlayerID string
	Conn     Conn
}

// Leave: issued on disconnect
type Leave struct {
	PlayerID string
	Conn     Conn
}
