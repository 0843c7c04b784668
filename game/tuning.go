package game

import "time"

const (
	DefaultWidth         = 800.0
	DefaultHeight        = 600.0
	PlayerSize           = 30.0
	PlayerSpeed          = 5.0 // per frame
	EmojiSize            = 20.0
	TrailLength          = 50
	TrailSampleEvery     = 50 * time.Millisecond
	PointsPerCollectible = 10
	InitialCollectibles  = 5
	MaxCollectibles      = 20
	SpawnInterval        = 2 * time.Second
	RespawnDelay         = 500 * time.Millisecond
	CollectGrace         = time.Second
)

// Key names written into an Input by the input collaborator.
const (
	KeyUp    = "ArrowUp"
	KeyDown  = "ArrowDown"
	KeyLeft  = "ArrowLeft"
	KeyRight = "ArrowRight"
)

// Directions lists the arrow keys a simulated player may hold.
var Directions = []string{KeyUp, KeyDown, KeyLeft, KeyRight}

var (
	Palette         = []string{"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7", "#DDA0DD", "#98D8C8"}
	PlayerEmojis    = []string{"😀", "😎", "🤖", "👻", "🦄", "🐉", "🦋", "🐸"}
	CollectibleKind = []string{"⭐", "💎", "🍎", "🍕", "🎯", "🎈", "🌟", "💰", "🏆", "🎁"}
	RemoteEmoji     = "🤖"
)
