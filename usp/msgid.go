package usp

import (
	"math/rand"
	"strconv"
)

// NewMessageID returns a random positive integer rendered as a decimal
// string, matching the original agent's MessageIdHelper. Uniqueness is
// best-effort per-process, as spec.md 4.5 requires; no ID scheme in the
// third-party ecosystem (uuid, ulid, snowflake) produces this literal
// format, so the standard library's math/rand is the right tool here.
func NewMessageID() string {
	return strconv.Itoa(1 + rand.Intn(10000))
}
