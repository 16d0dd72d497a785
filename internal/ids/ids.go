// Package ids centralizes identifier generation. Sortable entities
// (InboxRow, TriggerEvent — anything the GC or scheduler range-scans by
// creation order) use ULIDs, grounded on the pack's rakunlabs-at store
// layer (ulid.Make().String() across its Postgres repositories). Ephemeral,
// non-sortable identifiers (wake-bus subscriber ids assigned when the
// caller passes none) keep the teacher's google/uuid.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a new lexicographically sortable identifier.
func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewUUID returns a new random, non-sortable identifier.
func NewUUID() string {
	return uuid.New().String()
}
