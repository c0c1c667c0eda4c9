// Package idgen generates the opaque identifiers used for sessions and share records.
package idgen

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// DefaultShareIDLength gives 36^10 ≈ 3.6e15 ids.
const DefaultShareIDLength = 10

// SessionID returns a time-ordered UUIDv7.
func SessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NanoID returns a crypto-random base-36 string of length n.
// It never derives from content, so identical payloads get unrelated ids.
func NanoID(n int) string {
	if n <= 0 {
		n = DefaultShareIDLength
	}
	radix := big.NewInt(int64(len(base36)))
	b := make([]byte, n)
	for i := range b {
		v, err := rand.Int(rand.Reader, radix)
		if err != nil {
			// crypto/rand only fails when the OS source is broken.
			panic("idgen: crypto/rand unavailable: " + err.Error())
		}
		b[i] = base36[v.Int64()]
	}
	return string(b)
}

// IsShareID reports whether s is structurally a share id of length n.
func IsShareID(s string, n int) bool {
	if n <= 0 {
		n = DefaultShareIDLength
	}
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'z') {
			return false
		}
	}
	return true
}
