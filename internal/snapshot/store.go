// Package snapshot provides the in-memory ring buffer that holds frames
// captured at motion onset. Storage is deliberately volatile: entries live
// only for the process lifetime, which keeps the capture path free of disk
// I/O and storage wear.
package snapshot

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a snapshot ID does not exist in the store,
// either because it never did or because the entry was evicted.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is a single captured frame. Entries are immutable once stored;
// Image is shared by reference and must not be modified by readers.
type Snapshot struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Image     []byte    `json:"-"`
}

// Store is a bounded, insertion-ordered collection of snapshots. When the
// configured capacity is exceeded the oldest entry is evicted. A capacity
// of zero means unbounded. All methods are safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	capacity int
	entries  []Snapshot
}

// NewStore creates a store holding at most capacity entries (0 = unbounded).
func NewStore(capacity int) (*Store, error) {
	if capacity < 0 {
		return nil, errors.New("snapshot capacity must be >= 0")
	}
	return &Store{capacity: capacity}, nil
}

// Add appends a snapshot at the newest end, evicting the oldest entries if
// the store is over capacity, and returns the stored entry.
func (s *Store) Add(ts time.Time, image []byte) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := Snapshot{
		ID:        uuid.New().String(),
		Timestamp: ts,
		Image:     image,
	}
	s.entries = append(s.entries, entry)
	if s.capacity > 0 && len(s.entries) > s.capacity {
		// Shift survivors to the front and clear the vacated tail so the
		// backing array stops referencing evicted image bytes.
		n := copy(s.entries, s.entries[len(s.entries)-s.capacity:])
		for i := n; i < len(s.entries); i++ {
			s.entries[i] = Snapshot{}
		}
		s.entries = s.entries[:n]
	}
	return entry
}

// Latest returns the newest snapshot, or false if the store is empty.
func (s *Store) Latest() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return Snapshot{}, false
	}
	return s.entries[len(s.entries)-1], true
}

// All returns the snapshots in insertion order, oldest first. The returned
// slice is a copy; the image bytes are shared.
func (s *Store) All() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Snapshot, len(s.entries))
	copy(out, s.entries)
	return out
}

// Get returns the snapshot with the given ID.
func (s *Store) Get(id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.entries {
		if entry.ID == id {
			return entry, nil
		}
	}
	return Snapshot{}, ErrNotFound
}

// Count returns the number of stored snapshots.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
