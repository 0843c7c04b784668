package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"emojitrail/protocol"
)

// ErrTransportUnavailable means no connection to the relay could be held.
var ErrTransportUnavailable = errors.New("session: transport unavailable")

type EventKind int

const (
	EventOpen EventKind = iota + 1
	EventMessage
	EventClose
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	}
	return "unknown"
}

type Event struct {
	Kind    EventKind
	Message protocol.Message
	Err     error
}

// Handler receives transport lifecycle and message events. It may be
// called from any goroutine.
type Handler func(Event)

// Transport is a duplex message channel to the room rendezvous point.
type Transport interface {
	// Connect starts establishing the channel and returns immediately.
	// The outcome arrives as EventOpen or EventError.
	Connect(ctx context.Context, roomID, participantID string, h Handler)
	// Send is fire-and-forget; it reports false when the message was dropped.
	Send(m protocol.Message) bool
	Connected() bool
	Close() error
}

// WSTransport speaks the envelope protocol over a websocket.
type WSTransport struct {
	serverURL string
	name      string
	codec     protocol.Codec
	dialer    *websocket.Dialer
	queue     int
	log       *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	out       chan []byte
	connected atomic.Bool
	closed    atomic.Bool
}

type WSOption func(*WSTransport)

func WithDialer(d *websocket.Dialer) WSOption { return func(t *WSTransport) { t.dialer = d } }
func WithLogger(l *zap.Logger) WSOption       { return func(t *WSTransport) { t.log = l } }
func WithSendQueue(n int) WSOption {
	return func(t *WSTransport) {
		if n > 0 {
			t.queue = n
		}
	}
}
func WithName(name string) WSOption { return func(t *WSTransport) { t.name = name } }

func NewWSTransport(serverURL string, codec protocol.Codec, opts ...WSOption) *WSTransport {
	t := &WSTransport{
		serverURL: strings.TrimRight(serverURL, "/"),
		codec:     codec,
		dialer:    websocket.DefaultDialer,
		queue:     64,
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(t)
	}
	if t.codec == nil {
		t.codec = protocol.JSON()
	}
	return t
}

// Endpoint is the websocket URL for (roomID, participantID).
func (t *WSTransport) Endpoint(roomID, participantID string) string {
	q := url.Values{}
	q.Set("codec", t.codec.Name())
	if t.name != "" {
		q.Set("name", t.name)
	}
	return fmt.Sprintf("%s/ws/%s/%s?%s", t.serverURL, url.PathEscape(roomID), url.PathEscape(participantID), q.Encode())
}

func (t *WSTransport) Connect(ctx context.Context, roomID, participantID string, h Handler) {
	go t.run(ctx, t.Endpoint(roomID, participantID), h)
}

func (t *WSTransport) run(ctx context.Context, endpoint string, h Handler) {
	conn, _, err := t.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		h(Event{Kind: EventError, Err: fmt.Errorf("%w: %v", ErrTransportUnavailable, err)})
		return
	}

	out := make(chan []byte, t.queue)
	done := make(chan struct{})
	t.mu.Lock()
	if t.closed.Load() {
		t.mu.Unlock()
		_ = conn.Close()
		return
	}
	t.conn = conn
	t.out = out
	t.mu.Unlock()

	t.connected.Store(true)
	t.log.Info("connected to relay", zap.String("url", endpoint))
	h(Event{Kind: EventOpen})

	go t.writeLoop(conn, out, done)
	err = t.readLoop(conn, h)

	t.connected.Store(false)
	close(done)
	_ = conn.Close()
	t.log.Info("disconnected from relay", zap.Error(err))
	h(Event{Kind: EventClose, Err: err})
}

func (t *WSTransport) readLoop(conn *websocket.Conn, h Handler) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := protocol.Decode(t.codec, data)
		if err != nil {
			if !errors.Is(err, protocol.ErrUnknownType) {
				t.log.Debug("dropping malformed frame", zap.Error(err))
			}
			continue
		}
		h(Event{Kind: EventMessage, Message: msg})
	}
}

func (t *WSTransport) writeLoop(conn *websocket.Conn, out <-chan []byte, done <-chan struct{}) {
	frame := websocket.TextMessage
	if t.codec.Binary() {
		frame = websocket.BinaryMessage
	}
	for {
		select {
		case <-done:
			return
		case b := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(frame, b); err != nil {
				t.log.Debug("write failed", zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}
}

func (t *WSTransport) Send(m protocol.Message) bool {
	if !t.connected.Load() {
		return false
	}
	b, err := protocol.Encode(t.codec, m)
	if err != nil {
		t.log.Warn("encode failed", zap.String("type", m.Type()), zap.Error(err))
		return false
	}
	t.mu.Lock()
	out := t.out
	t.mu.Unlock()
	select {
	case out <- b:
		return true
	default:
		return false
	}
}

func (t *WSTransport) Connected() bool { return t.connected.Load() }

// Close tears down the current connection. A closed transport never
// connects again.
func (t *WSTransport) Close() error {
	t.closed.Store(true)
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return conn.Close()
}
