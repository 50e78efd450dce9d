package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
// Generation is safe for concurrent use; IDs produced by one process are
// strictly increasing.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewEventID returns the identifier assigned to an envelope when it is
// created on the producer side. The ID is assigned exactly once; consumers
// never regenerate it.
func NewEventID() string {
	return "evt_" + CreateULID()
}
