package room

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"emojitrail/logging"
	"emojitrail/roomid"
)

// RoomInfo is returned by the API for the room list.
type RoomInfo struct {
	Code    string `json:"code"`
	Players int    `json:"players"`
}

// Manager holds multiple rooms by code. Rooms are created on first join or via CreateRoom,
// and removed when the last player leaves.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	opts  []Option
	log   *zap.Logger
}

// NewManager applies opts to every room it creates.
func NewManager(log *zap.Logger, opts ...Option) *Manager {
	log = logging.OrGlobal(log)
	return &Manager{
		rooms: make(map[string]*Room),
		opts:  append(opts, WithLogger(log)),
		log:   log,
	}
}

// GetOrCreateRoom returns the room for the given code, creating it if needed.
func (m *Manager) GetOrCreateRoom(code string) *Room {
	code = roomid.Normalize(code)
	if code == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[code]; ok {
		return r
	}
	return m.startRoom(code)
}

// CreateRoom mints a unique code, creates the room, and returns the code.
func (m *Manager) CreateRoom() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		code := roomid.Generate(roomid.Length)
		if _, exists := m.rooms[code]; exists {
			continue
		}
		m.startRoom(code)
		return code
	}
}

// startRoom must be called with m.mu held.
func (m *Manager) startRoom(code string) *Room {
	r := New(m.opts...)
	r.Code = code
	r.OnEmpty = func(c string) {
		m.removeRoom(c, r)
	}
	m.rooms[code] = r
	m.log.Info("room created", zap.String("room", code))
	go r.Run()
	return r
}

func (m *Manager) removeRoom(code string, r *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.rooms[code]; ok && cur == r {
		r.Stop()
		delete(m.rooms, code)
		m.log.Info("room closed", zap.String("room", code))
	}
}

// ListRooms returns all active rooms with code and player count.
func (m *Manager) ListRooms() []RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RoomInfo, 0, len(m.rooms))
	for code, r := range m.rooms {
		out = append(out, RoomInfo{Code: code, Players: r.NumPlayers()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Shutdown stops every room.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for code, r := range m.rooms {
		r.Stop()
		delete(m.rooms, code)
	}
}
