package replication

import (
	"fmt"

	"replog/pkg/replog"

	"github.com/google/uuid"
)

// Outcome is the terminal state of a submission.
type Outcome int

const (
	// OutcomeSuccess means the write concern was met before the deadline.
	OutcomeSuccess Outcome = iota + 1
	// OutcomePartial means the entry is stored on the master and on every
	// replica that acknowledged in time, but fewer than w did.
	OutcomePartial
	// OutcomeAlreadyExists means the content was submitted before.
	OutcomeAlreadyExists
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePartial:
		return "partial"
	case OutcomeAlreadyExists:
		return "exists"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result describes a finished submission.
type Result struct {
	RequestID    uuid.UUID
	Outcome      Outcome
	Entry        replog.Entry
	Acks         int
	WriteConcern int
}
