package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	cbor "github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrUnknownType  = errors.New("protocol: unknown message type")
	ErrMalformed    = errors.New("protocol: malformed message")
	ErrUnknownCodec = errors.New("protocol: unknown codec")
)

// Codec marshals envelopes for one wire format.
type Codec interface {
	Name() string
	ContentType() string
	// Binary reports whether frames must be sent as binary websocket messages.
	Binary() bool
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps codec names to codecs.
type Registry struct{ byName map[string]Codec }

// NewRegistry returns a registry preloaded with JSON, CBOR and MessagePack.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Codec)}
	r.Register(JSON())
	r.Register(MsgPack())
	if c, err := CBOR(); err == nil {
		r.Register(c)
	}
	return r
}

func (r *Registry) Register(c Codec) { r.byName[c.Name()] = c }

// Lookup returns the named codec. An empty name selects JSON.
func (r *Registry) Lookup(name string) (Codec, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "json"
	}
	c, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return c, nil
}

type jsonCodec struct{}

func JSON() Codec { return jsonCodec{} }

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) ContentType() string                { return "application/json" }
func (jsonCodec) Binary() bool                       { return false }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns a canonical CBOR codec. Struct fields reuse their json tags.
func CBOR() (Codec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	return cborCodec{enc: em, dec: dm}, nil
}

func (cborCodec) Name() string                         { return "cbor" }
func (cborCodec) ContentType() string                  { return "application/cbor" }
func (cborCodec) Binary() bool                         { return true }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

type msgpackCodec struct{}

// MsgPack returns a MessagePack codec keyed by json struct tags.
func MsgPack() Codec { return msgpackCodec{} }

func (msgpackCodec) Name() string        { return "msgpack" }
func (msgpackCodec) ContentType() string { return "application/msgpack" }
func (msgpackCodec) Binary() bool        { return true }

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

// Encode wraps m in its envelope and marshals it with c.
func Encode(c Codec, m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("trying to encode nil message")
	}
	return c.Marshal(m.envelope())
}

// Decode parses one frame. Unknown types yield ErrUnknownType; anything
// undecodable or missing required fields yields ErrMalformed.
func Decode(c Codec, b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	var env Envelope
	if err := c.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return FromEnvelope(env)
}

// FromEnvelope converts a decoded envelope into its message kind.
func FromEnvelope(env Envelope) (Message, error) {
	switch env.Type {
	case MsgRoomState:
		return RoomState{Players: env.Players}, nil
	case MsgPlayerJoined:
		if env.PlayerID == "" {
			return nil, fmt.Errorf("%w: %s without playerId", ErrMalformed, env.Type)
		}
		m := PlayerJoined{PlayerID: env.PlayerID}
		if env.Data != nil {
			m.Data = *env.Data
		}
		return m, nil
	case MsgPlayerLeft:
		if env.PlayerID == "" {
			return nil, fmt.Errorf("%w: %s without playerId", ErrMalformed, env.Type)
		}
		return PlayerLeft{PlayerID: env.PlayerID}, nil
	case MsgPlayerUpdate:
		if env.Data == nil {
			return nil, fmt.Errorf("%w: %s without data", ErrMalformed, env.Type)
		}
		return PlayerUpdate{PlayerID: env.PlayerID, Data: *env.Data}, nil
	case MsgEmojiCollected:
		if env.EmojiIndex == nil {
			return nil, fmt.Errorf("%w: %s without emojiIndex", ErrMalformed, env.Type)
		}
		return EmojiCollected{PlayerID: env.PlayerID, EmojiIndex: *env.EmojiIndex}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}
