package service

import (
	"crypto/sha256"
	"encoding/hex"
)

// hashToken keeps emails and other identifiers out of Redis key names.
func hashToken(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:16])
}
