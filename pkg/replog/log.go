package replog

import (
	"fmt"
	"sync"
	"sync/atomic"

	"replog/pkg/types"

	"github.com/zhangyunhao116/skipmap"
)

// Log is an append-only sequence of entries owned by a single node.
//
// Appends are serialized; readers never take the append lock. An entry
// becomes visible to readers only after both indexes hold it and the
// published tail moves past it, so Snapshot always returns a prefix of
// the log.
type Log struct {
	first types.Sequence

	mu            sync.Mutex
	entries       *skipmap.OrderedMap[uint64, Entry]
	byFingerprint *skipmap.OrderedMap[string, uint64]

	// last published sequence, first-1 for an empty log
	tail atomic.Uint64
}

// New creates an empty log whose first entry must carry sequence first.
func New(first types.Sequence) *Log {
	l := &Log{
		first:         first,
		entries:       skipmap.New[uint64, Entry](),
		byFingerprint: skipmap.New[string, uint64](),
	}
	l.tail.Store(uint64(first) - 1)
	return l
}

// Append stores entry at the tail of the log.
func (l *Log) Append(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.NextSequence()
	if entry.Sequence != next {
		return fmt.Errorf("%w: got sequence %d, expected %d", ErrOutOfOrder, entry.Sequence, next)
	}
	if seq, ok := l.byFingerprint.Load(string(entry.Fingerprint)); ok {
		return fmt.Errorf("%w: fingerprint %s already stored at sequence %d",
			ErrDuplicateContent, entry.Fingerprint.Short(), seq)
	}

	l.entries.Store(uint64(entry.Sequence), entry)
	l.byFingerprint.Store(string(entry.Fingerprint), uint64(entry.Sequence))
	l.tail.Store(uint64(entry.Sequence))
	return nil
}

// Contains reports whether an entry with the fingerprint is stored.
func (l *Log) Contains(fp types.Fingerprint) bool {
	_, ok := l.Lookup(fp)
	return ok
}

// Lookup returns the entry stored with the fingerprint.
func (l *Log) Lookup(fp types.Fingerprint) (Entry, bool) {
	seq, ok := l.byFingerprint.Load(string(fp))
	if !ok || seq > l.tail.Load() {
		return Entry{}, false
	}
	return l.entries.Load(seq)
}

// Get returns the entry at seq.
func (l *Log) Get(seq types.Sequence) (Entry, bool) {
	if uint64(seq) > l.tail.Load() {
		return Entry{}, false
	}
	return l.entries.Load(uint64(seq))
}

// LastSequence returns the highest stored sequence, or first-1 when empty.
func (l *Log) LastSequence() types.Sequence {
	return types.Sequence(l.tail.Load())
}

// NextSequence returns the sequence the next append must carry.
func (l *Log) NextSequence() types.Sequence {
	return types.Sequence(l.tail.Load() + 1)
}

func (l *Log) Len() int {
	return int(l.tail.Load() + 1 - uint64(l.first))
}

// Snapshot returns the stored entries in sequence order.
func (l *Log) Snapshot() []Entry {
	return l.Since(l.first)
}

// Since returns the stored entries with sequence >= from, in order.
func (l *Log) Since(from types.Sequence) []Entry {
	tail := l.tail.Load()
	if uint64(from) > tail {
		return nil
	}
	out := make([]Entry, 0, tail-uint64(from)+1)
	l.entries.Range(func(seq uint64, e Entry) bool {
		if seq > tail {
			return false
		}
		if seq >= uint64(from) {
			out = append(out, e)
		}
		return true
	})
	return out
}
