package hashutil

import (
	"crypto/sha1"
	"encoding/hex"
)

// pathFingerprint is deliberately unexported and only reachable through
// the clearly-labeled PathFingerprint wrapper in hash.go, so callers
// cannot reach for SHA-1 where content identity (blake3) is required.
func pathFingerprint(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
