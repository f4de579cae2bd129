package utils

import (
	"crypto/rand"
	"strings"

	"github.com/google/uuid"
)

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// No 0/O or 1/I.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateID returns a random join code of length n.
func GenerateID(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(out)
}

// NewPlayerID issues a stable id for a client that did not bring one.
func NewPlayerID() string {
	return uuid.NewString()
}

// NormalizeCode upper-cases a user-typed join code and strips spaces.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), " ", ""))
}

// ValidPlayerID reports whether id is a usable client-supplied player id.
func ValidPlayerID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		if r < 0x21 || r > 0x7e {
			return false
		}
	}
	return true
}
