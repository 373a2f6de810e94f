package common

import (
	"crypto/rand"
	"encoding/hex"
)

// MakeRandHexString returns size random bytes from crypto/rand, hex encoded.
// The result is twice as long as size.
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// WipeByteArray zeroes b in place. It is used for plaintext passwords read
// from a terminal. Nil is accepted.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
