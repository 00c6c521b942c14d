package service

import "sync"

// SubmissionLocks serializes grade, override and revision mutations per
// submission so concurrent read-modify-write cycles in the same process
// cannot interleave. The optimistic version column on the submission row
// still guards writers in other processes.
type SubmissionLocks struct {
	mu    sync.Mutex
	locks map[uint]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewSubmissionLocks builds an empty lock registry.
func NewSubmissionLocks() *SubmissionLocks {
	return &SubmissionLocks{locks: make(map[uint]*lockEntry)}
}

// Lock acquires the mutex for the given submission and returns its
// release function. Entries are reference counted so the registry does
// not grow with every submission ever graded.
func (l *SubmissionLocks) Lock(submissionID uint) func() {
	l.mu.Lock()
	entry, ok := l.locks[submissionID]
	if !ok {
		entry = &lockEntry{}
		l.locks[submissionID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, submissionID)
		}
		l.mu.Unlock()
	}
}
