package secondary

import "fmt"

// Ack is the outcome of applying one replicated entry. Every Ack is a
// positive acknowledgment for write-concern purposes.
type Ack int

const (
	// AckApplied means the entry (and any entries it unblocked) is in the log.
	AckApplied Ack = iota + 1
	// AckBuffered means the entry waits for a sequence gap to close.
	AckBuffered
	// AckDuplicate means the content was already in the log.
	AckDuplicate
	// AckStale means the sequence is behind the log and the content unknown.
	// A single master never produces it; the entry is dropped.
	AckStale
)

var ackNames = map[Ack]string{
	AckApplied:   "applied",
	AckBuffered:  "buffered",
	AckDuplicate: "duplicate",
	AckStale:     "stale",
}

func (a Ack) String() string {
	if s, ok := ackNames[a]; ok {
		return s
	}
	return fmt.Sprintf("ack(%d)", int(a))
}

// Positive reports whether a counts toward the write concern.
func (a Ack) Positive() bool {
	_, ok := ackNames[a]
	return ok
}

func (a Ack) MarshalText() ([]byte, error) {
	if !a.Positive() {
		return nil, fmt.Errorf("unknown ack %d", int(a))
	}
	return []byte(a.String()), nil
}

func (a *Ack) UnmarshalText(text []byte) error {
	for k, v := range ackNames {
		if v == string(text) {
			*a = k
			return nil
		}
	}
	return fmt.Errorf("unknown ack %q", string(text))
}
