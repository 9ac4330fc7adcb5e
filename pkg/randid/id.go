// Package randid provides random ID generation utilities.
package randid

import "math/rand/v2"

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Generate creates a random lowercase alphanumeric ID of the specified length.
func Generate(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}

// RequestID returns an identifier for correlating a client request with server
// logs. It is not a secret.
func RequestID() string {
	return "cs-" + Generate(16)
}
