package replog

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemLog is an in-memory ILog for a single node. It keeps the entries in order,
// optionally only the most recent ones.
type MemLog struct {
	mu       sync.Mutex
	instance uuid.UUID
	entries  []Entry
	total    int
	retain   int
	failWith error
}

// NewMemLog creates an empty in-memory log that keeps every entry.
func NewMemLog() *MemLog {
	return &MemLog{instance: NewInstanceID()}
}

// NewBoundedMemLog creates an empty in-memory log that keeps only the last retain entries.
func NewBoundedMemLog(retain int) *MemLog {
	return &MemLog{instance: NewInstanceID(), retain: retain}
}

func (l *MemLog) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failWith != nil {
		return l.failWith
	}
	e.Origin = l.instance
	l.entries = append(l.entries, e)
	l.total++
	if l.retain > 0 && len(l.entries) > 2*l.retain {
		// compact in batches so appends stay amortised O(1)
		l.entries = append([]Entry(nil), l.entries[len(l.entries)-l.retain:]...)
	}
	return nil
}

// Entries returns a copy of the retained entries, oldest first.
func (l *MemLog) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.entries
	if l.retain > 0 && len(entries) > l.retain {
		entries = entries[len(entries)-l.retain:]
	}
	return append([]Entry(nil), entries...)
}

// Len returns the number of appended entries, including the ones no longer retained.
func (l *MemLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// FailWith makes every following Append return err (nil restores normal operation).
func (l *MemLog) FailWith(err error) {
	l.mu.Lock()
	l.failWith = err
	l.mu.Unlock()
}
