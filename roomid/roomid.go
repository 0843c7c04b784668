// Package roomid resolves the room code that partitions clients into
// isolated sessions.
package roomid

import (
	"crypto/rand"
	"math/big"
	"net/url"
	"strings"
)

// Length of minted room codes.
const Length = 6

// QueryParam is the share-link parameter carrying the room code.
const QueryParam = "room"

const codeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Resolve returns the normalized token, or a freshly minted code when the
// token is empty.
func Resolve(token string) string {
	if id := Normalize(token); id != "" {
		return id
	}
	return Generate(Length)
}

// FromURL resolves the room code carried by a shareable link.
func FromURL(u *url.URL) string {
	if u == nil {
		return Resolve("")
	}
	return Resolve(u.Query().Get(QueryParam))
}

// Normalize trims and upper-cases a room token.
func Normalize(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

// ShareURL appends the room code to base as a query parameter.
func ShareURL(base, id string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(QueryParam, id)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Generate mints an n-character code from an alphabet without look-alike
// characters.
func Generate(n int) string {
	b := make([]byte, n)
	max := big.NewInt(int64(len(codeChars)))
	for i := range b {
		idx, _ := rand.Int(rand.Reader, max)
		b[i] = codeChars[idx.Int64()]
	}
	return string(b)
}
