// Package runlock keeps two runs from crawling the same seed at once.
package runlock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrLocked is returned when another run holds the lock for a key.
var ErrLocked = eris.New("runlock: run already in progress")

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker acquires per-key locks without blocking.
type Locker interface {
	TryLock(ctx context.Context, key string) (Lock, error)
}

// KeyFor derives a stable lock key from a seed URL.
func KeyFor(seed string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(seed))))
	return hex.EncodeToString(sum[:16])
}
