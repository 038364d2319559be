package protocol

import (
	"crypto/rand"
	"encoding/hex"
)

// nonceAlphabet matches the character set the vendor app draws nonces from.
const nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomHex returns 2n lowercase hex characters from n random bytes.
// Message IDs are RandomHex(16): 32 characters.
func RandomHex(n int) string {
	b := make([]byte, n)
	// crypto/rand.Read never fails on supported platforms.
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Nonce returns a 16-character alphanumeric request nonce.
func Nonce() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = nonceAlphabet[int(b[i])%len(nonceAlphabet)]
	}
	return string(b)
}
