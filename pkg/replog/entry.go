package replog

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"replog/pkg/types"
)

// Entry is an immutable unit of the replicated log.
//
// The json names are the wire format shared by master and secondaries.
type Entry struct {
	Sequence    types.Sequence    `json:"sequence"`
	Content     string            `json:"message"`
	Fingerprint types.Fingerprint `json:"hash"`
	AcceptedAt  time.Time         `json:"timestamp"`
}

// NewEntry builds an entry for content accepted at the given time.
func NewEntry(seq types.Sequence, content string, acceptedAt time.Time) Entry {
	return Entry{
		Sequence:    seq,
		Content:     content,
		Fingerprint: Fingerprint(content),
		AcceptedAt:  acceptedAt,
	}
}

// Fingerprint returns the SHA-256 digest of content, hex encoded.
func Fingerprint(content string) types.Fingerprint {
	sum := sha256.Sum256([]byte(content))
	return types.Fingerprint(hex.EncodeToString(sum[:]))
}

// Valid reports whether the entry carries a sequence and a fingerprint
// matching its content.
func (e Entry) Valid() bool {
	return e.Sequence >= types.FirstSequence && e.Fingerprint == Fingerprint(e.Content)
}
