package replication

import "errors"

var (
	// ErrInvalidWriteConcern is returned when w is outside [1, 1+secondaries].
	ErrInvalidWriteConcern = errors.New("replication: invalid write concern")
	// ErrClosed is returned by a coordinator after Close.
	ErrClosed = errors.New("replication: coordinator closed")
	// ErrRejected marks a delivery the secondary refused permanently.
	// Replicators wrap it so the coordinator stops retrying.
	ErrRejected = errors.New("replication: entry rejected by secondary")
	// ErrDuplicateSecondary is returned when registering a known endpoint.
	ErrDuplicateSecondary = errors.New("replication: secondary already registered")
)
