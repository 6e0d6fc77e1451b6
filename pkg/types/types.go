package types

// Sequence is the position of an entry in a replicated log.
// Sequences are assigned by the master only and never reused.
type Sequence uint64

// FirstSequence is the sequence of the first entry of every log.
const FirstSequence Sequence = 1

// Fingerprint is a hex-encoded content digest used for deduplication.
type Fingerprint string

// NodeID identifies a node (master or secondary).
type NodeID string

// Short returns an abbreviated fingerprint for log lines.
func (f Fingerprint) Short() string {
	if len(f) <= 8 {
		return string(f)
	}
	return string(f[:8])
}
