// Package network serves the relay over HTTP: the websocket endpoint that
// joins a client to its room plus a small room API.
package network

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"emojitrail/config"
	"emojitrail/logging"
	"emojitrail/protocol"
	"emojitrail/room"
	"emojitrail/roomid"
)

var (
	errConnClosed   = errors.New("network: connection closed")
	errSlowConsumer = errors.New("network: send queue full")
)

// Server routes websocket clients into rooms held by a room.Manager.
type Server struct {
	cfg      config.ServerConfig
	rooms    *room.Manager
	codecs   *protocol.Registry
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewServer(cfg config.ServerConfig, rooms *room.Manager, log *zap.Logger) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 1 << 20
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 64
	}
	return &Server{
		cfg:    cfg,
		rooms:  rooms,
		codecs: protocol.NewRegistry(),
		log:    logging.OrGlobal(log),
		upgrader: websocket.Upgrader{
			// For dev, allow all origins. Lock this down in prod.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes of the relay.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{room}/{player}", s.handleWS)
	mux.HandleFunc("GET /api/rooms", s.handleListRooms)
	mux.HandleFunc("POST /api/rooms", s.handleCreateRoom)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rooms.ListRooms())
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	code := s.rooms.CreateRoom()
	writeJSON(w, http.StatusCreated, map[string]string{"code": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	code := roomid.Normalize(r.PathValue("room"))
	playerID := r.PathValue("player")
	if code == "" || playerID == "" {
		http.Error(w, "room and player are required", http.StatusBadRequest)
		return
	}
	codec, err := s.codecs.Lookup(r.URL.Query().Get("codec"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	name := r.URL.Query().Get("name")

	// Upgrade HTTP -> WebSocket
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	log := s.log.With(zap.String("room", code), zap.String("player", playerID))
	wc := newWSConn(conn, codec, s.cfg.SendQueue)
	go wc.writePump(s.cfg.PingInterval, s.cfg.WriteTimeout, log)

	rm, ok := s.join(code, playerID, name, wc)
	if !ok {
		log.Warn("join failed")
		_ = wc.Close()
		return
	}
	s.readPump(rm, playerID, wc, log)
	rm.Post(room.Leave{PlayerID: playerID, Conn: wc})
	_ = wc.Close()
}

// join hands the connection to the room for code. A room that closes while
// the join is in flight is recreated once.
func (s *Server) join(code, playerID, name string, wc *wsConn) (*room.Room, bool) {
	for attempt := 0; attempt < 2; attempt++ {
		rm := s.rooms.GetOrCreateRoom(code)
		reply := make(chan room.JoinResult, 1)
		if !rm.Post(room.Join{PlayerID: playerID, Name: name, Conn: wc, Reply: reply}) {
			continue
		}
		select {
		case <-reply:
			return rm, true
		case <-rm.Done():
		}
	}
	return nil, false
}

func (s *Server) readPump(rm *room.Room, playerID string, wc *wsConn, log *zap.Logger) {
	conn := wc.conn
	pongWait := 2 * s.cfg.PingInterval

	// Basic timeouts + pong handling (keeps connections healthy)
	conn.SetReadLimit(s.cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		rm.Post(room.Touch{PlayerID: playerID, Conn: wc})
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		msg, err := protocol.Decode(wc.codec, data)
		if err != nil {
			if !errors.Is(err, protocol.ErrUnknownType) {
				log.Debug("dropping malformed frame", zap.Error(err))
			}
			continue
		}
		if !rm.Post(room.Relay{PlayerID: playerID, Conn: wc, Msg: msg}) {
			return
		}
	}
}

// wsConn adapts a websocket to room.Conn. Sends are queued and written by
// writePump so the room goroutine never blocks on the network.
type wsConn struct {
	conn      *websocket.Conn
	codec     protocol.Codec
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, codec protocol.Codec, queue int) *wsConn {
	return &wsConn{
		conn:  conn,
		codec: codec,
		send:  make(chan []byte, queue),
		done:  make(chan struct{}),
	}
}

func (c *wsConn) Send(m protocol.Message) error {
	b, err := protocol.Encode(c.codec, m)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		return errSlowConsumer
	}
}

// Close stops the write pump, which closes the socket.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *wsConn) writePump(pingEvery, writeTimeout time.Duration, log *zap.Logger) {
	frame := websocket.TextMessage
	if c.codec.Binary() {
		frame = websocket.BinaryMessage
	}
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(frame, b); err != nil {
				log.Debug("write failed", zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
			return
		}
	}
}
