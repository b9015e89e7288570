package id

import (
	"crypto/rand"
	"encoding/hex"
)

const length = 32

// New returns 128 random bits as lowercase hex.
func New() string {
	var b [length / 2]byte
	_, _ = rand.Read(b[:]) // never fails since Go 1.24
	return hex.EncodeToString(b[:])
}

// Valid reports whether s has the shape New produces.
func Valid(s string) bool {
	if len(s) != length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
