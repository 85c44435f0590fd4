package chain

import "sync"

// Journal is a compensating-action log. Every state mutation appends the
// closure that undoes it; reverting to a snapshot replays the undo closures
// newest-first until the log is back at the snapshot length.
type Journal struct {
	mu      sync.Mutex
	entries []func()
}

// NewJournal returns an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Append records the undo action for a mutation that has just been applied.
func (j *Journal) Append(undo func()) {
	j.mu.Lock()
	j.entries = append(j.entries, undo)
	j.mu.Unlock()
}

// Snapshot returns an identifier for the current position in the log.
func (j *Journal) Snapshot() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// RevertToSnapshot undoes every mutation recorded after the snapshot.
func (j *Journal) RevertToSnapshot(id int) {
	j.mu.Lock()
	if id < 0 || id > len(j.entries) {
		j.mu.Unlock()
		return
	}
	undo := make([]func(), len(j.entries)-id)
	copy(undo, j.entries[id:])
	j.entries = j.entries[:id]
	j.mu.Unlock()

	// Undo closures touch the stores that appended them, so they run
	// without the journal lock held.
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

// Length returns the number of recorded mutations.
func (j *Journal) Length() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Reset discards every recorded mutation, making them permanent.
func (j *Journal) Reset() {
	j.mu.Lock()
	j.entries = nil
	j.mu.Unlock()
}
