package replog

import "errors"

var (
	// ErrOutOfOrder is returned when an append does not extend the log by exactly one sequence.
	ErrOutOfOrder = errors.New("replog: out of order append")
	// ErrDuplicateContent is returned when an entry with the same fingerprint is already stored.
	ErrDuplicateContent = errors.New("replog: duplicate content")
)
