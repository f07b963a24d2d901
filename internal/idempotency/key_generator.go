package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
)

const messageKeyNamespace = "message:"

// MessageKey is the dedup key for a queue message id: a hex SHA-256 so arbitrary
// broker ids stay within a fixed key length.
func MessageKey(messageID string) string {
	sum := sha256.Sum256([]byte(messageKeyNamespace + messageID))
	return hex.EncodeToString(sum[:])
}
