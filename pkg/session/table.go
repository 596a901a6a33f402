package session

import "sync"

// Session ID constants.
const (
	// MinSessionID is the minimum valid session ID. ID 0 is reserved
	// as the "no session" marker.
	MinSessionID uint16 = 1

	// DefaultMaxSessions is the default maximum number of concurrent
	// peers.
	DefaultMaxSessions = 16
)

// Table allocates recyclable session IDs.
//
// IDs are handed out by searching upward from a rolling counter,
// skipping IDs still in use, and wrap around past the maximum. A
// released ID becomes available again immediately, so a reconnecting
// player tends to get a fresh ID rather than their old one.
type Table struct {
	mu     sync.Mutex
	inUse  map[uint16]struct{}
	max    int
	nextID uint16
}

// NewTable creates a session ID table. maxSessions limits concurrent
// allocations (0 uses DefaultMaxSessions).
func NewTable(maxSessions int) *Table {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Table{
		inUse:  make(map[uint16]struct{}),
		max:    maxSessions,
		nextID: MinSessionID,
	}
}

// AllocateID reserves a unique session ID.
func (t *Table) AllocateID() (uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.inUse) >= t.max {
		return 0, ErrTableFull
	}

	startID := t.nextID
	for {
		id := t.nextID

		t.nextID++
		if t.nextID == 0 {
			t.nextID = MinSessionID
		}

		if _, exists := t.inUse[id]; !exists {
			t.inUse[id] = struct{}{}
			return id, nil
		}

		if t.nextID == startID {
			return 0, ErrIDExhausted
		}
	}
}

// Release returns an ID to the pool. Releasing an unallocated ID is a
// no-op.
func (t *Table) Release(id uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inUse, id)
}

// InUse reports whether the ID is currently allocated.
func (t *Table) InUse(id uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, exists := t.inUse[id]
	return exists
}

// Len returns the number of allocated IDs.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inUse)
}
