package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a time-ordered 128-bit identifier in canonical UUID form.
// The bytes are a monotonic ULID, so ids sort by creation time in storage.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return uuid.UUID(ulid.MustNew(ulid.Timestamp(time.Now()), entropy)).String()
}

// Valid reports whether s parses as a 128-bit identifier.
func Valid(s string) bool {
	_, err := uuid.Parse(strings.TrimSpace(s))
	return err == nil
}

// Normalize returns the canonical lower-case form of s, or "" when s is not an id.
func Normalize(s string) string {
	u, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return ""
	}
	return u.String()
}
